// Package curve provides the zero-rate term structures used to discount
// option payoffs. Rates are continuously compounded and quoted against year
// fractions, with flat extrapolation outside the quoted pillars.
package curve

import (
	"fmt"
	"math"
	"sort"
)

// Provider yields discount information for a year fraction t >= 0.
type Provider interface {
	// Rate returns the continuously compounded zero rate at t.
	Rate(t float64) float64
	// Discount returns the discount factor exp(-Rate(t) * t).
	Discount(t float64) float64
}

// Flat is a single-rate curve.
type Flat struct {
	R float64
}

// NewFlat builds a constant curve at rate r.
func NewFlat(r float64) Flat {
	return Flat{R: r}
}

// Rate returns the flat rate regardless of t.
func (f Flat) Rate(t float64) float64 {
	return f.R
}

// Discount returns exp(-r*t).
func (f Flat) Discount(t float64) float64 {
	return math.Exp(-f.R * t)
}

// Knot is one quoted pillar of a piecewise curve.
type Knot struct {
	Year float64
	Rate float64
}

// PiecewiseLinear interpolates zero rates linearly between quoted pillars and
// extrapolates flat beyond the first and last pillar.
type PiecewiseLinear struct {
	knots []Knot
}

// NewPiecewiseLinear builds a curve from quoted pillars. Knots are sorted by
// year; duplicate or non-finite pillars are rejected.
func NewPiecewiseLinear(knots []Knot) (*PiecewiseLinear, error) {
	if len(knots) == 0 {
		return nil, fmt.Errorf("piecewise curve needs at least one knot")
	}
	sorted := make([]Knot, len(knots))
	copy(sorted, knots)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Year < sorted[j].Year })
	for i, k := range sorted {
		if math.IsNaN(k.Year) || math.IsInf(k.Year, 0) || math.IsNaN(k.Rate) || math.IsInf(k.Rate, 0) {
			return nil, fmt.Errorf("knot %d is not finite: %+v", i, k)
		}
		if k.Year < 0 {
			return nil, fmt.Errorf("knot %d has negative year %v", i, k.Year)
		}
		if i > 0 && k.Year == sorted[i-1].Year {
			return nil, fmt.Errorf("duplicate knot year %v", k.Year)
		}
	}
	return &PiecewiseLinear{knots: sorted}, nil
}

// Rate interpolates the zero rate at t.
func (c *PiecewiseLinear) Rate(t float64) float64 {
	ks := c.knots
	if t <= ks[0].Year {
		return ks[0].Rate
	}
	last := ks[len(ks)-1]
	if t >= last.Year {
		return last.Rate
	}
	// first knot strictly beyond t
	hi := sort.Search(len(ks), func(i int) bool { return ks[i].Year > t })
	lo := hi - 1
	w := (t - ks[lo].Year) / (ks[hi].Year - ks[lo].Year)
	return ks[lo].Rate + w*(ks[hi].Rate-ks[lo].Rate)
}

// Discount returns exp(-Rate(t)*t).
func (c *PiecewiseLinear) Discount(t float64) float64 {
	return math.Exp(-c.Rate(t) * t)
}
