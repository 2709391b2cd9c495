package core

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"
)

var (
	// ErrInvalidGrid is returned for unusable radial grid parameters.
	ErrInvalidGrid = errors.New("invalid radial grid")
	// ErrInvalidOrder is returned for an expansion order outside 0..MaxOrder.
	ErrInvalidOrder = errors.New("invalid expansion order")
)

const minGridPoints = 4

// RadialGrid tabulates the expansion coefficients of a pair action and their
// tau derivatives on a logarithmic grid. Each column is interpolated by an
// Akima spline in ln r.
type RadialGrid struct {
	rmin, rmax float64
	r          []float64
	lnr        []float64
	u, utau    [][]float64 // [order][point]

	uSpline, utauSpline []*interp.AkimaSpline
	slope               []float64 // du_k/dr at rmin
}

// Sample is one tabulated grid entry.
type Sample struct {
	R     float64
	Order int
	U     float64
	UTau  float64
}

// NewRadialGrid samples u and utau for orders 0..order at n points spaced
// logarithmically over [rmin, rmax].
func NewRadialGrid(rmin, rmax float64, n, order int, u, utau func(r float64, k int) float64) (*RadialGrid, error) {
	if order < 0 || order > MaxOrder {
		return nil, fmt.Errorf("%w: %d", ErrInvalidOrder, order)
	}
	if !(rmin > 0) || !(rmax > rmin) || math.IsInf(rmax, 0) {
		return nil, fmt.Errorf("%w: range [%v, %v]", ErrInvalidGrid, rmin, rmax)
	}
	if n < minGridPoints {
		return nil, fmt.Errorf("%w: %d points, need at least %d", ErrInvalidGrid, n, minGridPoints)
	}

	g := &RadialGrid{
		rmin: rmin,
		rmax: rmax,
		r:    make([]float64, n),
		lnr:  make([]float64, n),
	}
	floats.LogSpan(g.r, rmin, rmax)
	g.r[0], g.r[n-1] = rmin, rmax
	for i, r := range g.r {
		g.lnr[i] = math.Log(r)
	}

	for k := 0; k <= order; k++ {
		col := make([]float64, n)
		tcol := make([]float64, n)
		for i, r := range g.r {
			col[i] = u(r, k)
			tcol[i] = utau(r, k)
			if math.IsNaN(col[i]) || math.IsInf(col[i], 0) || math.IsNaN(tcol[i]) || math.IsInf(tcol[i], 0) {
				return nil, fmt.Errorf("%w: non-finite order %d entry at r=%v", ErrInvalidGrid, k, r)
			}
		}
		us := &interp.AkimaSpline{}
		if err := us.Fit(g.lnr, col); err != nil {
			return nil, fmt.Errorf("fit order %d action: %w", k, err)
		}
		ts := &interp.AkimaSpline{}
		if err := ts.Fit(g.lnr, tcol); err != nil {
			return nil, fmt.Errorf("fit order %d tau derivative: %w", k, err)
		}
		g.u = append(g.u, col)
		g.utau = append(g.utau, tcol)
		g.uSpline = append(g.uSpline, us)
		g.utauSpline = append(g.utauSpline, ts)
		g.slope = append(g.slope, us.PredictDerivative(g.lnr[0])/rmin)
	}
	return g, nil
}

// Order is the highest tabulated order.
func (g *RadialGrid) Order() int { return len(g.u) - 1 }

// Range returns the tabulated interval.
func (g *RadialGrid) Range() (rmin, rmax float64) { return g.rmin, g.rmax }

// Len returns the number of grid points.
func (g *RadialGrid) Len() int { return len(g.r) }

// Eval returns u_k(r) and du_k/dr. Below rmin the value continues linearly
// with the slope at rmin. ok is false beyond rmax, where the pair does not
// contribute.
func (g *RadialGrid) Eval(k int, r float64) (value, deriv float64, ok bool) {
	if r > g.rmax {
		return 0, 0, false
	}
	if r < g.rmin {
		return g.u[k][0] + g.slope[k]*(r-g.rmin), g.slope[k], true
	}
	x := math.Log(r)
	return g.uSpline[k].Predict(x), g.uSpline[k].PredictDerivative(x) / r, true
}

// EvalTau returns du_k/dtau at r, held constant below rmin.
func (g *RadialGrid) EvalTau(k int, r float64) (float64, bool) {
	if r > g.rmax {
		return 0, false
	}
	if r < g.rmin {
		return g.utau[k][0], true
	}
	return g.utauSpline[k].Predict(math.Log(r)), true
}

// Samples returns every tabulated entry, ordered by order then radius.
func (g *RadialGrid) Samples() []Sample {
	out := make([]Sample, 0, len(g.u)*len(g.r))
	for k := range g.u {
		for i, r := range g.r {
			out = append(out, Sample{R: r, Order: k, U: g.u[k][i], UTau: g.utau[k][i]})
		}
	}
	return out
}
