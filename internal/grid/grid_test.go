package grid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testAxes() (Axis, Axis, Axis, Axis, Axis) {
	mu := Axis{Name: "mu", Min: 0.0, Max: 0.1, Count: 3}
	kappa := Axis{Name: "kappa", Min: 1.0, Max: 3.0, Count: 2}
	theta := Axis{Name: "theta", Min: 0.02, Max: 0.08, Count: 2}
	sigma := Axis{Name: "sigma", Min: 0.1, Max: 0.9, Count: 2}
	rho := Axis{Name: "rho", Min: -0.9, Max: 0.0, Count: 4}
	return mu, kappa, theta, sigma, rho
}

func TestAxisValues(t *testing.T) {
	a := Axis{Name: "mu", Min: 0, Max: 1, Count: 5}
	vals := a.Values()
	require.Equal(t, []float64{0, 0.25, 0.5, 0.75, 1}, vals)

	single := Axis{Name: "rho", Min: -0.5, Max: 0.5, Count: 1}
	require.Equal(t, []float64{-0.5}, single.Values())

	// endpoint is exact even when the step does not divide evenly
	odd := Axis{Name: "sigma", Min: 0.1, Max: 0.7, Count: 7}
	vals = odd.Values()
	require.Equal(t, 0.1, vals[0])
	require.Equal(t, 0.7, vals[6])
}

func TestAxisValidate(t *testing.T) {
	require.NoError(t, Axis{Name: "mu", Min: 0, Max: 1, Count: 2}.Validate())
	require.NoError(t, Axis{Name: "kappa", Min: -1, Max: 1, Count: 3}.Validate())
	require.Error(t, Axis{Name: "mu", Min: 0, Max: 1, Count: 0}.Validate())
	require.Error(t, Axis{Name: "mu", Min: 2, Max: 1, Count: 2}.Validate())
	require.Error(t, Axis{Name: "mu", Min: 1, Max: 1, Count: 2}.Validate())
}

func TestGridSizeAndEnumeration(t *testing.T) {
	g, err := New(testAxes())
	require.NoError(t, err)
	require.Equal(t, 3*2*2*2*4, g.Size())

	// every cell is reachable and unique
	seen := make(map[[5]float64]bool, g.Size())
	for i := 0; i < g.Size(); i++ {
		p, err := g.Cell(i)
		require.NoError(t, err)
		var key [5]float64
		copy(key[:], p.Vector())
		require.False(t, seen[key], "cell %d repeats %+v", i, p)
		seen[key] = true
	}

	_, err = g.Cell(-1)
	require.ErrorIs(t, err, ErrOutOfRange)
	_, err = g.Cell(g.Size())
	require.ErrorIs(t, err, ErrOutOfRange)
}

func TestGridIterationOrder(t *testing.T) {
	mu := Axis{Name: "mu", Min: 0, Max: 1, Count: 2}
	fixed := func(name string, v float64) Axis { return Axis{Name: name, Min: v, Max: v, Count: 1} }
	rho := Axis{Name: "rho", Min: -1, Max: 1, Count: 3}

	g, err := New(mu, fixed("kappa", 2), fixed("theta", 0.04), fixed("sigma", 0.5), rho)
	require.NoError(t, err)
	require.Equal(t, 6, g.Size())

	// rho varies fastest, mu slowest
	wantMu := []float64{0, 0, 0, 1, 1, 1}
	wantRho := []float64{-1, 0, 1, -1, 0, 1}
	for i := 0; i < g.Size(); i++ {
		p, err := g.Cell(i)
		require.NoError(t, err)
		require.Equal(t, wantMu[i], p.Mu, "cell %d", i)
		require.Equal(t, wantRho[i], p.Rho, "cell %d", i)
		require.Equal(t, 2.0, p.Kappa)
	}
}

func TestSeedDeterministicAndDistinct(t *testing.T) {
	const base = 20240915
	a := Seed(base, 0)
	require.Equal(t, a, Seed(base, 0))

	seen := make(map[int64]bool)
	for i := 0; i < 10000; i++ {
		s := Seed(base, i)
		require.False(t, seen[s], "seed collision at cell %d", i)
		seen[s] = true
	}

	require.NotEqual(t, Seed(base, 1), Seed(base+1, 1))
}
