package models

import (
	"errors"
	"fmt"
	"math"
)

// NumParams is the width of a flattened Heston parameter vector.
const NumParams = 5

// ErrInvalidParameter reports a Heston parameter outside its admissible range.
var ErrInvalidParameter = errors.New("invalid heston parameter")

// HestonParams represents one point in the Heston model parameter space.
// Mu is the drift used for simulation (the risk-free rate under the pricing
// measure), Kappa the mean-reversion speed of the variance, Theta the long-run
// variance level, Sigma the volatility of variance and Rho the correlation
// between the price and variance drivers.
type HestonParams struct {
	Mu    float64 `json:"mu"`
	Kappa float64 `json:"kappa"`
	Theta float64 `json:"theta"`
	Sigma float64 `json:"sigma"`
	Rho   float64 `json:"rho"`
}

// Vector flattens the parameters in canonical order: mu, kappa, theta, sigma,
// rho. Corpus label columns, grid axes and surrogate inputs all follow this
// order.
func (p HestonParams) Vector() []float64 {
	return []float64{p.Mu, p.Kappa, p.Theta, p.Sigma, p.Rho}
}

// ParamsFromVector rebuilds parameters from a canonical-order vector.
func ParamsFromVector(v []float64) (HestonParams, error) {
	if len(v) != NumParams {
		return HestonParams{}, fmt.Errorf("parameter vector has %d entries, want %d: %w", len(v), NumParams, ErrInvalidParameter)
	}
	return HestonParams{Mu: v[0], Kappa: v[1], Theta: v[2], Sigma: v[3], Rho: v[4]}, nil
}

// Validate checks the admissible parameter ranges. The Feller condition is
// deliberately not enforced here: the corpus covers Feller-violating cells and
// the full-truncation scheme handles them.
func (p HestonParams) Validate() error {
	for _, f := range p.Vector() {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("non-finite parameter value %v: %w", f, ErrInvalidParameter)
		}
	}
	if p.Kappa <= 0 {
		return fmt.Errorf("kappa %v must be positive: %w", p.Kappa, ErrInvalidParameter)
	}
	if p.Theta <= 0 {
		return fmt.Errorf("theta %v must be positive: %w", p.Theta, ErrInvalidParameter)
	}
	if p.Sigma <= 0 {
		return fmt.Errorf("sigma %v must be positive: %w", p.Sigma, ErrInvalidParameter)
	}
	if p.Rho < -1 || p.Rho > 1 {
		return fmt.Errorf("rho %v must lie in [-1, 1]: %w", p.Rho, ErrInvalidParameter)
	}
	return nil
}

// FellerSatisfied reports whether 2*kappa*theta >= sigma^2, i.e. whether the
// exact variance process stays strictly positive.
func (p HestonParams) FellerSatisfied() bool {
	return 2*p.Kappa*p.Theta >= p.Sigma*p.Sigma
}
