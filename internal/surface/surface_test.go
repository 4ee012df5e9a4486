package surface

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"calibflow/internal/curve"
	"calibflow/internal/heston"
	"calibflow/models"
)

type zeroSource struct{}

func (zeroSource) Rand() float64 { return 0 }

func simInputs() heston.Inputs {
	return heston.Inputs{
		Spot:     100,
		Variance: 0.04,
		Params:   models.HestonParams{Mu: 0.05, Kappa: 2.0, Theta: 0.04, Sigma: 0.5, Rho: -0.7},
		Horizon:  1.0,
		Steps:    252,
		Paths:    64,
	}
}

func TestPriceUndiscountedAtZeroRate(t *testing.T) {
	in := simInputs()
	b, err := heston.Simulate(in, heston.NewNormal(5))
	require.NoError(t, err)

	grid := models.SurfaceGrid{
		Strikes:    []float64{90, 100, 110},
		Maturities: []models.Maturity{{Steps: in.Steps, Years: 1.0}},
	}
	prices, err := Price(b, grid, curve.NewFlat(0))
	require.NoError(t, err)
	require.Len(t, prices, 3)

	terminal := b.SpotAt(in.Steps)
	for i, k := range grid.Strikes {
		sum := 0.0
		for _, s := range terminal {
			sum += math.Max(s-k, 0)
		}
		want := sum / float64(len(terminal))
		require.InDelta(t, want, prices[i], 1e-12, "strike %v", k)
	}
}

func TestPriceDiscountsByMaturityYear(t *testing.T) {
	// Zero noise with mu = V0/2 pins every path at the initial spot, so the
	// surface reduces to discounted intrinsic values.
	in := simInputs()
	in.Params.Mu = 0.02
	in.Paths = 8
	b, err := heston.Simulate(in, zeroSource{})
	require.NoError(t, err)

	grid := models.SurfaceGrid{
		Strikes: []float64{90, 100, 110},
		Maturities: []models.Maturity{
			{Steps: 126, Years: 0.5},
			{Steps: 252, Years: 1.0},
		},
	}
	r := 0.03
	prices, err := Price(b, grid, curve.NewFlat(r))
	require.NoError(t, err)
	require.Len(t, prices, 6)

	for i, k := range grid.Strikes {
		for j, m := range grid.Maturities {
			want := math.Exp(-r*m.Years) * math.Max(100-k, 0)
			require.InDelta(t, want, prices[grid.FlatIndex(i, j)], 1e-12, "strike %v maturity %v", k, m.Years)
		}
	}
}

func TestPriceMonotoneInStrike(t *testing.T) {
	in := simInputs()
	b, err := heston.Simulate(in, heston.NewNormal(6))
	require.NoError(t, err)

	grid := models.SurfaceGrid{
		Strikes:    []float64{80, 90, 100, 110, 120},
		Maturities: []models.Maturity{{Steps: 252, Years: 1.0}},
	}
	prices, err := Price(b, grid, curve.NewFlat(0.02))
	require.NoError(t, err)

	for i := 1; i < len(prices); i++ {
		require.LessOrEqual(t, prices[i], prices[i-1], "call prices must not increase with strike")
	}
}

func TestPriceAcceptsNegativeStrikes(t *testing.T) {
	in := simInputs()
	in.Paths = 16
	b, err := heston.Simulate(in, heston.NewNormal(8))
	require.NoError(t, err)

	grid := models.SurfaceGrid{
		Strikes:    []float64{-50, 0, 100},
		Maturities: []models.Maturity{{Steps: 252, Years: 1.0}},
	}
	prices, err := Price(b, grid, curve.NewFlat(0))
	require.NoError(t, err)

	// a negative strike pays S-k > S everywhere, so it dominates the zero strike
	require.Greater(t, prices[0], prices[1])
	require.Greater(t, prices[1], prices[2])
}

func TestPriceRejectsBadLayout(t *testing.T) {
	in := simInputs()
	b, err := heston.Simulate(in, heston.NewNormal(9))
	require.NoError(t, err)

	_, err = Price(b, models.SurfaceGrid{
		Strikes:    []float64{100},
		Maturities: []models.Maturity{{Steps: 400, Years: 1.5}},
	}, curve.NewFlat(0))
	require.ErrorIs(t, err, ErrLayout)

	_, err = Price(nil, models.SurfaceGrid{
		Strikes:    []float64{100},
		Maturities: []models.Maturity{{Steps: 1, Years: 0.1}},
	}, curve.NewFlat(0))
	require.ErrorIs(t, err, ErrLayout)
}
