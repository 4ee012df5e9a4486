// Package surrogate fits a feed-forward approximation of the parameter to
// price-surface map, so calibration can evaluate candidate parameter sets
// without re-running the Monte Carlo pricer.
package surrogate

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrShapeMismatch reports data whose width differs from the fitted layout.
var ErrShapeMismatch = errors.New("shape mismatch")

// Scaler maps each column into [0, 1] with an affine transform fitted on the
// training matrix. Degenerate columns (min == max) scale to zero and invert
// back to their single value.
type Scaler struct {
	Min []float64 `json:"min"`
	Max []float64 `json:"max"`
}

// FitScaler computes per-column bounds of x.
func FitScaler(x mat.Matrix) *Scaler {
	rows, cols := x.Dims()
	s := &Scaler{Min: make([]float64, cols), Max: make([]float64, cols)}
	for j := 0; j < cols; j++ {
		lo, hi := math.Inf(1), math.Inf(-1)
		for i := 0; i < rows; i++ {
			v := x.At(i, j)
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		s.Min[j], s.Max[j] = lo, hi
	}
	return s
}

// Width returns the fitted column count.
func (s *Scaler) Width() int {
	return len(s.Min)
}

// Validate rejects scalers with inconsistent or non-finite bounds.
func (s *Scaler) Validate() error {
	if len(s.Min) != len(s.Max) {
		return fmt.Errorf("scaler has %d min bounds and %d max bounds: %w", len(s.Min), len(s.Max), ErrShapeMismatch)
	}
	for j := range s.Min {
		if math.IsNaN(s.Min[j]) || math.IsInf(s.Min[j], 0) || math.IsNaN(s.Max[j]) || math.IsInf(s.Max[j], 0) {
			return fmt.Errorf("scaler column %d has non-finite bounds [%v, %v]", j, s.Min[j], s.Max[j])
		}
		if s.Max[j] < s.Min[j] {
			return fmt.Errorf("scaler column %d has inverted bounds [%v, %v]", j, s.Min[j], s.Max[j])
		}
	}
	return nil
}

func (s *Scaler) scale(j int, value float64) float64 {
	if s.Max[j] == s.Min[j] {
		return 0
	}
	return (value - s.Min[j]) / (s.Max[j] - s.Min[j])
}

// ScaleVec maps one row into scaled space.
func (s *Scaler) ScaleVec(v []float64) ([]float64, error) {
	if len(v) != s.Width() {
		return nil, fmt.Errorf("vector has %d entries, want %d: %w", len(v), s.Width(), ErrShapeMismatch)
	}
	out := make([]float64, len(v))
	for j, value := range v {
		out[j] = s.scale(j, value)
	}
	return out, nil
}

// InverseVec maps a scaled row back to original units.
func (s *Scaler) InverseVec(v []float64) ([]float64, error) {
	if len(v) != s.Width() {
		return nil, fmt.Errorf("vector has %d entries, want %d: %w", len(v), s.Width(), ErrShapeMismatch)
	}
	out := make([]float64, len(v))
	for j, value := range v {
		if s.Max[j] == s.Min[j] {
			out[j] = s.Min[j]
			continue
		}
		out[j] = s.Min[j] + value*(s.Max[j]-s.Min[j])
	}
	return out, nil
}

// Scale returns a scaled copy of x.
func (s *Scaler) Scale(x mat.Matrix) (*mat.Dense, error) {
	rows, cols := x.Dims()
	if cols != s.Width() {
		return nil, fmt.Errorf("matrix has %d columns, want %d: %w", cols, s.Width(), ErrShapeMismatch)
	}
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.Set(i, j, s.scale(j, x.At(i, j)))
		}
	}
	return out, nil
}
