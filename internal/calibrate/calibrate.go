// Package calibrate inverts a trained surrogate against a target price
// surface, searching for the Heston parameters that reproduce it.
package calibrate

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/optimize"

	"calibflow/logger"
	"calibflow/models"
)

// Predictor maps a parameter set to a flattened price surface. A trained
// surrogate model satisfies this.
type Predictor interface {
	Predict(params models.HestonParams) ([]float64, error)
}

// ErrSurfaceMismatch reports a target surface whose size differs from the
// predictor's output.
var ErrSurfaceMismatch = errors.New("surface size mismatch")

// Result holds the fitted parameters and the search outcome.
type Result struct {
	Params      models.HestonParams
	Objective   float64
	Evaluations int
	Status      string
}

// Fitter runs Nelder-Mead over the unconstrained parameter transform.
type Fitter struct {
	predictor     Predictor
	maxIterations int
	log           *logger.Log
}

// NewFitter wires a fitter around the predictor. maxIterations caps the
// Nelder-Mead major iterations, zero or negative leaves the default
// convergence test in charge.
func NewFitter(predictor Predictor, maxIterations int) *Fitter {
	return &Fitter{
		predictor:     predictor,
		maxIterations: maxIterations,
		log:           logger.GetLogger(),
	}
}

// DefaultGuess is the search start used when no guess is configured, a
// mid-range parameter set well inside the admissible region.
func DefaultGuess() models.HestonParams {
	return models.HestonParams{Mu: 0.02, Kappa: 2.0, Theta: 0.04, Sigma: 0.5, Rho: -0.5}
}

// toUnconstrained maps parameters to R^5: identity for mu, log for the
// positive parameters, atanh for rho.
func toUnconstrained(p models.HestonParams) []float64 {
	return []float64{p.Mu, math.Log(p.Kappa), math.Log(p.Theta), math.Log(p.Sigma), math.Atanh(p.Rho)}
}

// fromUnconstrained inverts toUnconstrained, so every search point maps back
// to admissible parameters.
func fromUnconstrained(v []float64) models.HestonParams {
	return models.HestonParams{
		Mu:    v[0],
		Kappa: math.Exp(v[1]),
		Theta: math.Exp(v[2]),
		Sigma: math.Exp(v[3]),
		Rho:   math.Tanh(v[4]),
	}
}

// Fit minimizes the mean squared error between the predicted and target
// surfaces, starting from guess. The search runs in the unconstrained
// transform space so Nelder-Mead never proposes an inadmissible parameter.
func (f *Fitter) Fit(target []float64, guess models.HestonParams) (Result, error) {
	if len(target) == 0 {
		return Result{}, fmt.Errorf("target surface is empty: %w", ErrSurfaceMismatch)
	}
	for i, v := range target {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Result{}, fmt.Errorf("target surface entry %d is %v", i, v)
		}
	}
	if err := guess.Validate(); err != nil {
		return Result{}, fmt.Errorf("invalid initial guess: %w", err)
	}
	if guess.Rho <= -1 || guess.Rho >= 1 {
		return Result{}, fmt.Errorf("initial guess rho %v must lie strictly inside (-1, 1): %w",
			guess.Rho, models.ErrInvalidParameter)
	}

	probe, err := f.predictor.Predict(guess)
	if err != nil {
		return Result{}, fmt.Errorf("predictor rejected initial guess: %w", err)
	}
	if len(probe) != len(target) {
		return Result{}, fmt.Errorf("predictor yields %d prices, target has %d: %w",
			len(probe), len(target), ErrSurfaceMismatch)
	}

	problem := optimize.Problem{
		Func: func(v []float64) float64 {
			prices, err := f.predictor.Predict(fromUnconstrained(v))
			if err != nil {
				return math.Inf(1)
			}
			loss := 0.0
			for i := range prices {
				r := prices[i] - target[i]
				loss += r * r
			}
			return loss / float64(len(target))
		},
	}

	var settings *optimize.Settings
	if f.maxIterations > 0 {
		settings = &optimize.Settings{MajorIterations: f.maxIterations}
	}

	start := time.Now()
	res, err := optimize.Minimize(problem, toUnconstrained(guess), settings, &optimize.NelderMead{})
	if err != nil {
		return Result{}, fmt.Errorf("nelder-mead failed: %w", err)
	}

	fitted := fromUnconstrained(res.X)
	if err := fitted.Validate(); err != nil {
		return Result{}, fmt.Errorf("search ended on inadmissible parameters: %w", err)
	}
	if math.IsNaN(res.F) || math.IsInf(res.F, 0) {
		return Result{}, fmt.Errorf("search ended on non-finite objective %v", res.F)
	}

	result := Result{
		Params:      fitted,
		Objective:   res.F,
		Evaluations: res.FuncEvaluations,
		Status:      res.Status.String(),
	}
	logger.LogPerformanceEntry(f.log.WithComponent("calibrate"), "calibrate", "fit", time.Since(start), logger.Fields{
		"objective":   result.Objective,
		"evaluations": result.Evaluations,
		"status":      result.Status,
		"mu":          fitted.Mu,
		"kappa":       fitted.Kappa,
		"theta":       fitted.Theta,
		"sigma":       fitted.Sigma,
		"rho":         fitted.Rho,
	})

	return result, nil
}
