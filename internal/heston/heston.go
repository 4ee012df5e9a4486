// Package heston implements a Monte Carlo path simulator for the Heston
// stochastic volatility model using a full-truncation Euler scheme.
package heston

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"calibflow/models"
)

// ErrInvalidInputs reports simulation inputs outside the supported domain.
var ErrInvalidInputs = errors.New("invalid simulation inputs")

// NormalSource yields standard normal variates. distuv.Normal satisfies it.
type NormalSource interface {
	Rand() float64
}

// NewNormal returns a seeded standard normal source. Two sources built from
// the same seed produce identical draw sequences.
func NewNormal(seed uint64) distuv.Normal {
	return distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(seed)}
}

// Inputs bundles the market state and run shape of one simulation.
type Inputs struct {
	Spot     float64 // initial asset price
	Variance float64 // initial variance, non-negative
	Params   models.HestonParams
	Horizon  float64 // T in years
	Steps    int     // Euler steps across the horizon
	Paths    int
}

// StepSize returns dt in years. Zero when the run is degenerate (Steps == 0).
func (in Inputs) StepSize() float64 {
	if in.Steps == 0 {
		return 0
	}
	return in.Horizon / float64(in.Steps)
}

// Validate rejects inputs that would poison the simulation with NaN or Inf.
// Kappa, theta and sigma are deliberately unconstrained beyond finiteness:
// Feller-violating and even negative drift cells degrade to floored
// zero-variance paths instead of failing. Steps == 0 is tolerated and yields
// an initial-state-only bundle.
func (in Inputs) Validate() error {
	for _, f := range []float64{in.Spot, in.Variance, in.Horizon} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("non-finite input %v: %w", f, ErrInvalidInputs)
		}
	}
	for _, f := range in.Params.Vector() {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("non-finite parameter %v: %w", f, ErrInvalidInputs)
		}
	}
	if in.Horizon <= 0 {
		return fmt.Errorf("horizon %v must be positive: %w", in.Horizon, ErrInvalidInputs)
	}
	if in.Steps < 0 {
		return fmt.Errorf("steps %d must be non-negative: %w", in.Steps, ErrInvalidInputs)
	}
	if in.Paths < 1 {
		return fmt.Errorf("paths %d must be at least 1: %w", in.Paths, ErrInvalidInputs)
	}
	if in.Variance < 0 {
		return fmt.Errorf("initial variance %v must be non-negative: %w", in.Variance, ErrInvalidInputs)
	}
	if r := in.Params.Rho; r < -1 || r > 1 {
		return fmt.Errorf("rho %v must lie in [-1, 1]: %w", r, ErrInvalidInputs)
	}
	return nil
}

// PathBundle holds simulated trajectories, one row per path and one column
// per step. Column 0 is the initial state; variance entries are never
// negative.
type PathBundle struct {
	Asset    *mat.Dense
	Variance *mat.Dense
	StepSize float64
}

// SpotAt extracts the cross-path asset prices at the given step.
func (b *PathBundle) SpotAt(step int) []float64 {
	return mat.Col(nil, step, b.Asset)
}

// Simulate evolves the coupled price/variance system path by path. The
// variance follows an explicit Euler step floored at zero after each update;
// the price follows a log-Euler step that uses the pre-update variance for
// both the drift correction and the diffusion term. All randomness comes from
// src, so identically seeded sources reproduce bundles bit for bit.
func Simulate(in Inputs, src NormalSource) (*PathBundle, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	dt := in.StepSize()
	sqrtDt := math.Sqrt(dt)
	mu, kappa, theta, sigma, rho := in.Params.Mu, in.Params.Kappa, in.Params.Theta, in.Params.Sigma, in.Params.Rho
	rhoBar := math.Sqrt(1 - rho*rho)

	asset := mat.NewDense(in.Paths, in.Steps+1, nil)
	variance := mat.NewDense(in.Paths, in.Steps+1, nil)

	for p := 0; p < in.Paths; p++ {
		s, v := in.Spot, in.Variance
		asset.Set(p, 0, s)
		variance.Set(p, 0, v)
		for t := 1; t <= in.Steps; t++ {
			w1 := src.Rand()
			w2 := rho*w1 + rhoBar*src.Rand()

			s *= math.Exp((mu-0.5*v)*dt + math.Sqrt(v*dt)*w1)
			v = math.Max(0, v+kappa*(theta-v)*dt+sigma*math.Sqrt(v)*sqrtDt*w2)

			asset.Set(p, t, s)
			variance.Set(p, t, v)
		}
	}

	return &PathBundle{Asset: asset, Variance: variance, StepSize: dt}, nil
}
