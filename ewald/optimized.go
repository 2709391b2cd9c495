package ewald

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/integrate/quad"
	"gonum.org/v1/gonum/mat"
)

// ErrFitFailed is returned when the optimized breakup cannot be fitted.
var ErrFitFailed = errors.New("optimized ewald fit failed")

const (
	segmentNodes = 32  // Gauss-Legendre nodes per knot interval
	fitNodes     = 240 // Gauss-Legendre nodes over [kc, kmax]
	fitRcond     = 1e-12
)

// optimizedSplit represents W inside rc as a C2 piecewise quintic Hermite
// spline on equally spaced knots. W, W' and W'' match 1/r at rc and W'(0) = 0.
// The remaining knot values are fitted so that the Fourier transform of W is
// as small as possible between kc and kmax in the k^2-weighted least squares
// sense, which minimises the error from truncating the reciprocal sum at kc.
type optimizedSplit struct {
	rc, h  float64
	nknots int
	// p holds (W, h W', h^2 W'') at every knot, indexed 3*knot+order.
	p       []float64
	tq, wq  []float64
	neutral float64
}

func fitOptimizedSplit(rc, kc, kmax float64, nknots int) (*optimizedSplit, error) {
	o := &optimizedSplit{
		rc:     rc,
		h:      rc / float64(nknots-1),
		nknots: nknots,
		p:      make([]float64, 3*nknots),
		tq:     make([]float64, segmentNodes),
		wq:     make([]float64, segmentNodes),
	}
	quad.Legendre{}.FixedLocations(o.tq, o.wq, 0, 1)

	last := nknots - 1
	o.p[3*last] = 1 / rc
	o.p[3*last+1] = -o.h / (rc * rc)
	o.p[3*last+2] = 2 * o.h * o.h / (rc * rc * rc)

	free := make([]int, 0, 3*nknots-4)
	for g := 0; g < 3*nknots; g++ {
		knot, order := g/3, g%3
		if knot == last || (knot == 0 && order == 1) {
			continue
		}
		free = append(free, g)
	}

	kq := make([]float64, fitNodes)
	kw := make([]float64, fitNodes)
	quad.Legendre{}.FixedLocations(kq, kw, kc, kmax)

	a := mat.NewDense(fitNodes, len(free), nil)
	b := mat.NewDense(fitNodes, 1, nil)
	c := make([]float64, 3*nknots)
	for row, k := range kq {
		o.basisTransforms(k, c)
		scale := k * math.Sqrt(kw[row])
		for col, g := range free {
			a.Set(row, col, scale*c[g])
		}
		fixed := 4 * math.Pi * math.Cos(k*rc) / (k * k)
		for g := 3 * last; g < 3*nknots; g++ {
			fixed += o.p[g] * c[g]
		}
		b.Set(row, 0, -scale*fixed)
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, fmt.Errorf("%w: svd did not converge", ErrFitFailed)
	}
	rank := svd.Rank(fitRcond)
	if rank == 0 {
		return nil, fmt.Errorf("%w: zero rank basis", ErrFitFailed)
	}
	var x mat.Dense
	svd.SolveTo(&x, b, rank)
	for col, g := range free {
		o.p[g] = x.At(col, 0)
	}

	for s := 0; s < last; s++ {
		r0 := float64(s) * o.h
		o.neutral += 4 * math.Pi * quad.Fixed(func(r float64) float64 {
			return r - r*r*o.fr(r)
		}, r0, r0+o.h, segmentNodes/2, nil, 0)
	}
	return o, nil
}

// basisTransforms fills c with the radial Fourier transform
// (4 pi / k) int r sin(kr) B_g(r) dr of every knot basis function.
func (o *optimizedSplit) basisTransforms(k float64, c []float64) {
	for i := range c {
		c[i] = 0
	}
	for s := 0; s < o.nknots-1; s++ {
		var seg [6]float64
		r0 := float64(s) * o.h
		for q, t := range o.tq {
			r := r0 + t*o.h
			f := o.wq[q] * o.h * r * math.Sin(k*r)
			hb := quinticBasis(t)
			for i := range seg {
				seg[i] += f * hb[i]
			}
		}
		for m := 0; m < 3; m++ {
			c[3*s+m] += seg[m]
			c[3*(s+1)+m] += seg[3+m]
		}
	}
	norm := 4 * math.Pi / k
	for i := range c {
		c[i] *= norm
	}
}

func (o *optimizedSplit) fr(r float64) float64 {
	if r >= o.rc {
		return 1 / r
	}
	s := int(r / o.h)
	if s > o.nknots-2 {
		s = o.nknots - 2
	}
	t := r/o.h - float64(s)
	hb := quinticBasis(t)
	w := 0.0
	for m := 0; m < 3; m++ {
		w += o.p[3*s+m]*hb[m] + o.p[3*(s+1)+m]*hb[3+m]
	}
	return w
}

func (o *optimizedSplit) fr0() float64 {
	return o.p[0]
}

func (o *optimizedSplit) vk(k float64) float64 {
	c := make([]float64, len(o.p))
	o.basisTransforms(k, c)
	v := 4 * math.Pi * math.Cos(k*o.rc) / (k * k)
	for g, pg := range o.p {
		v += pg * c[g]
	}
	return v
}

func (o *optimizedSplit) neutralizer() float64 {
	return o.neutral
}

func (o *optimizedSplit) rcut() float64 {
	return o.rc
}

// quinticBasis returns the six quintic Hermite shape functions on [0, 1]:
// value, first and second derivative at the left end, then the same three
// at the right end. Derivative shapes are normalised to unit slope and unit
// curvature in t.
func quinticBasis(t float64) [6]float64 {
	t2 := t * t
	t3 := t2 * t
	t4 := t3 * t
	t5 := t4 * t
	return [6]float64{
		1 - 10*t3 + 15*t4 - 6*t5,
		t - 6*t3 + 8*t4 - 3*t5,
		0.5 * (t2 - 3*t3 + 3*t4 - t5),
		10*t3 - 15*t4 + 6*t5,
		-4*t3 + 7*t4 - 3*t5,
		0.5 * (t3 - 2*t4 + t5),
	}
}
