package models

import (
	"fmt"
	"math"
	"time"
)

// Maturity pins one option expiry to the simulated path. Steps is the path
// column whose spot prices feed the payoff, Years the time value used for
// discounting that expiry.
type Maturity struct {
	Steps int     `json:"steps"`
	Years float64 `json:"years"`
}

// SurfaceGrid is the fixed strike/maturity layout priced for every parameter
// combination. The flattened price vector is row-major with strikes outermost.
type SurfaceGrid struct {
	Strikes    []float64  `json:"strikes"`
	Maturities []Maturity `json:"maturities"`
}

// Size returns the number of cells in the surface.
func (g SurfaceGrid) Size() int {
	return len(g.Strikes) * len(g.Maturities)
}

// FlatIndex maps a (strike, maturity) pair to its position in the flattened
// price vector.
func (g SurfaceGrid) FlatIndex(strike, maturity int) int {
	return strike*len(g.Maturities) + maturity
}

// Validate checks the surface layout against the simulated path length.
// Strikes are unconstrained beyond finiteness: zero and negative strikes are
// legitimate surface cells.
func (g SurfaceGrid) Validate(pathSteps int) error {
	if len(g.Strikes) == 0 {
		return fmt.Errorf("surface has no strikes")
	}
	if len(g.Maturities) == 0 {
		return fmt.Errorf("surface has no maturities")
	}
	for i, k := range g.Strikes {
		if math.IsNaN(k) || math.IsInf(k, 0) {
			return fmt.Errorf("strike %d is not finite: %v", i, k)
		}
	}
	for i, m := range g.Maturities {
		if m.Steps < 0 || m.Steps > pathSteps {
			return fmt.Errorf("maturity %d uses step %d, path has %d steps", i, m.Steps, pathSteps)
		}
		if m.Years < 0 || math.IsNaN(m.Years) || math.IsInf(m.Years, 0) {
			return fmt.Errorf("maturity %d has year value %v, must be finite and non-negative", i, m.Years)
		}
		if i > 0 && m.Steps <= g.Maturities[i-1].Steps {
			return fmt.Errorf("maturity steps must be strictly ascending, got %d after %d", m.Steps, g.Maturities[i-1].Steps)
		}
	}
	return nil
}

// SurfaceRecord represents one labelled corpus row: a parameter vector, the
// market state it was simulated under and the flattened option price surface.
type SurfaceRecord struct {
	RunID       string    `json:"run_id"`
	CellIndex   int64     `json:"cell_index"`
	Seed        int64     `json:"seed"`
	Mu          float64   `json:"mu"`
	Kappa       float64   `json:"kappa"`
	Theta       float64   `json:"theta"`
	Sigma       float64   `json:"sigma"`
	Rho         float64   `json:"rho"`
	Spot        float64   `json:"spot"`
	Variance    float64   `json:"variance"`
	Prices      []float64 `json:"prices"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Params extracts the Heston parameters carried by the record.
func (r SurfaceRecord) Params() HestonParams {
	return HestonParams{Mu: r.Mu, Kappa: r.Kappa, Theta: r.Theta, Sigma: r.Sigma, Rho: r.Rho}
}

// SurfaceBatch represents a batch of surface records in flight between the
// generator and the corpus writer.
type SurfaceBatch struct {
	BatchID     string          `json:"batch_id"`
	Dataset     string          `json:"dataset"`
	RunID       string          `json:"run_id"`
	Records     []SurfaceRecord `json:"records"`
	RecordCount int             `json:"record_count"`
	CreatedAt   time.Time       `json:"created_at"`
}
