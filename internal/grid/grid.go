// Package grid enumerates the Cartesian Heston parameter grid behind a corpus
// run and derives the deterministic random substream seed of every cell.
package grid

import (
	"errors"
	"fmt"
	"math"

	"calibflow/models"
)

// ErrOutOfRange reports a flat cell index outside the grid.
var ErrOutOfRange = errors.New("grid index out of range")

// Axis is one evenly spaced parameter range, both endpoints included.
// Count == 1 pins the axis at Min.
type Axis struct {
	Name  string
	Min   float64
	Max   float64
	Count int
}

// Validate checks the axis bounds. Parameter positivity is deliberately not
// required: the simulator tolerates any finite value, and research grids
// probe Feller-violating corners.
func (a Axis) Validate() error {
	if a.Count < 1 {
		return fmt.Errorf("axis %s has count %d, need at least 1", a.Name, a.Count)
	}
	for _, f := range []float64{a.Min, a.Max} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("axis %s bound %v is not finite", a.Name, f)
		}
	}
	if a.Min > a.Max {
		return fmt.Errorf("axis %s has min %v above max %v", a.Name, a.Min, a.Max)
	}
	if a.Count > 1 && a.Min == a.Max {
		return fmt.Errorf("axis %s has %d points on a degenerate range", a.Name, a.Count)
	}
	return nil
}

// Values materializes the axis points. The last point is exactly Max.
func (a Axis) Values() []float64 {
	vals := make([]float64, a.Count)
	if a.Count == 1 {
		vals[0] = a.Min
		return vals
	}
	step := (a.Max - a.Min) / float64(a.Count-1)
	for i := range vals {
		vals[i] = a.Min + float64(i)*step
	}
	vals[a.Count-1] = a.Max
	return vals
}

// Grid is the compiled five-axis parameter space. Cells enumerate row-major
// with mu outermost and rho innermost; this order fixes corpus record order.
type Grid struct {
	axes   [models.NumParams]Axis
	values [models.NumParams][]float64
	size   int
}

// New compiles a grid from its axes in canonical order.
func New(mu, kappa, theta, sigma, rho Axis) (*Grid, error) {
	g := &Grid{axes: [models.NumParams]Axis{mu, kappa, theta, sigma, rho}, size: 1}
	for i := range g.axes {
		if err := g.axes[i].Validate(); err != nil {
			return nil, err
		}
		g.values[i] = g.axes[i].Values()
		g.size *= g.axes[i].Count
	}
	return g, nil
}

// Size returns the number of grid cells.
func (g *Grid) Size() int {
	return g.size
}

// Axes returns the compiled axes in canonical order.
func (g *Grid) Axes() [models.NumParams]Axis {
	return g.axes
}

// Cell returns the parameter combination at the flat row-major index.
func (g *Grid) Cell(index int) (models.HestonParams, error) {
	if index < 0 || index >= g.size {
		return models.HestonParams{}, fmt.Errorf("cell %d of %d: %w", index, g.size, ErrOutOfRange)
	}
	var vec [models.NumParams]float64
	rem := index
	for i := models.NumParams - 1; i >= 0; i-- {
		n := g.axes[i].Count
		vec[i] = g.values[i][rem%n]
		rem /= n
	}
	return models.HestonParams{Mu: vec[0], Kappa: vec[1], Theta: vec[2], Sigma: vec[3], Rho: vec[4]}, nil
}

// Seed derives the random substream seed of a cell from the run's base seed
// using a splitmix64 mix. Cells receive statistically independent streams
// that do not depend on worker scheduling, so any decomposition of the grid
// walk reproduces the same corpus.
func Seed(base int64, index int) int64 {
	z := uint64(base) + uint64(index)*0x9e3779b97f4a7c15
	z ^= z >> 30
	z *= 0xbf58476d1ce4e5b9
	z ^= z >> 27
	z *= 0x94d049bb133111eb
	z ^= z >> 31
	return int64(z)
}
