package calibrate

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// TargetSurface is the on-disk layout of a surface to calibrate against.
// Strikes and maturities are optional context; when both are present their
// product must match the price count.
type TargetSurface struct {
	Strikes    []float64 `json:"strikes,omitempty"`
	Maturities []float64 `json:"maturities,omitempty"`
	Prices     []float64 `json:"prices"`
}

// LoadTargetSurface reads a target surface JSON file and returns its
// flattened prices.
func LoadTargetSurface(path string) ([]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read target surface: %w", err)
	}
	var ts TargetSurface
	if err := json.Unmarshal(data, &ts); err != nil {
		return nil, fmt.Errorf("failed to decode target surface: %w", err)
	}
	if len(ts.Prices) == 0 {
		return nil, fmt.Errorf("target surface %s holds no prices", path)
	}
	for i, v := range ts.Prices {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("target surface price %d is %v", i, v)
		}
	}
	if len(ts.Strikes) > 0 && len(ts.Maturities) > 0 {
		if want := len(ts.Strikes) * len(ts.Maturities); want != len(ts.Prices) {
			return nil, fmt.Errorf("target surface axes imply %d prices, file holds %d: %w",
				want, len(ts.Prices), ErrSurfaceMismatch)
		}
	}
	return ts.Prices, nil
}
