// Package surface prices European call surfaces from simulated Heston paths.
package surface

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"calibflow/internal/curve"
	"calibflow/internal/heston"
	"calibflow/models"
)

// ErrLayout reports a surface layout that does not fit the simulated paths.
var ErrLayout = errors.New("invalid surface layout")

// Price computes the discounted Monte Carlo estimate of a European call for
// every (strike, maturity) cell and returns the flattened surface in the
// grid's canonical order. Each maturity is discounted by its own year value.
// Negative and zero strikes price like any other cell; results are never
// clamped.
func Price(b *heston.PathBundle, grid models.SurfaceGrid, crv curve.Provider) ([]float64, error) {
	if b == nil || b.Asset == nil {
		return nil, fmt.Errorf("nil path bundle: %w", ErrLayout)
	}
	rows, cols := b.Asset.Dims()
	if err := grid.Validate(cols - 1); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrLayout)
	}

	prices := make([]float64, grid.Size())
	payoffs := make([]float64, rows)
	for j, m := range grid.Maturities {
		terminal := b.SpotAt(m.Steps)
		df := crv.Discount(m.Years)
		for i, k := range grid.Strikes {
			for p, s := range terminal {
				payoffs[p] = math.Max(s-k, 0)
			}
			prices[grid.FlatIndex(i, j)] = df * stat.Mean(payoffs, nil)
		}
	}
	return prices, nil
}
