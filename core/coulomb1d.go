package core

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/mat"
)

// ErrLinkAction reports a failed solve of the one-dimensional link action.
var ErrLinkAction = errors.New("one-dimensional link action")

const (
	// fitTerms is the number of powers of the squared end-point separation
	// fitted per node; the last one absorbs the truncation of the series.
	fitTerms = MaxOrder + 1

	// Node spacing of the discrete variable representation in thermal
	// lengths. Attracting pairs shrink it to resolve the bound states.
	dvrStep        = 1.0 / 16
	attractiveStep = 0.25

	fitWindow     = 16  // largest node offset of an off-diagonal pair
	minFitPoints  = 6   // fewest off-diagonal pairs a node fit accepts
	headNodes     = 8   // nodes used to extrapolate below the first fit
	wallPadding   = 6.0 // thermal lengths between the last pair and the box wall
	blendWidth    = 2.0 // thermal lengths over which the asymptotic form takes over
	densityFloor  = 1e-8
	boltzmannSpan = 700.0

	// Couplings beyond these use the classical action.
	maxAttractiveCoupling = 6.0
	maxRepulsiveCoupling  = 25.0
)

var coulomb1DCache sync.Map // float64 -> *Coulomb1D

// Coulomb1D is the exact link action of the one-dimensional Coulomb problem
//
//	H = -d^2/dx^2 + stau/x,  x > 0, Dirichlet at x = 0,
//
// at unit imaginary time, in thermal lengths x = reff/stau. Every species pair
// maps onto one such problem through stau = q1q2*sqrt(2 mu tau) and
// reff = 2 mu q1q2 r.
//
// The density matrix is obtained by diagonalizing the Hamiltonian on a sinc
// grid. At every node the diagonal gives the zero moment and a least-squares
// fit over symmetric off-diagonal pairs gives the coefficients of the squared
// end-point separation. Far from the origin the semiclassical expansion takes
// over.
type Coulomb1D struct {
	stau      float64
	t         float64
	classical bool
	reach     float64
	u, w      [MaxOrder + 1]momentCurve
}

// momentCurve is one moment as a function of the thermal distance. Below lo
// it continues as v + s(xi-lo) + c(xi^2-lo^2), or as the classical kernel
// when the first node lies in the classically forbidden region.
type momentCurve struct {
	spline    interp.AkimaSpline
	lo        float64
	v, s, c   float64
	forbidden bool
}

func (mc *momentCurve) at(xi, stau float64) float64 {
	if xi >= mc.lo {
		return mc.spline.Predict(xi)
	}
	if mc.forbidden {
		return stau / xi
	}
	return mc.v + mc.s*(xi-mc.lo) + mc.c*(xi*xi-mc.lo*mc.lo)
}

// NewCoulomb1D returns the link action for stau. Results are shared between
// callers with the same coupling.
func NewCoulomb1D(stau float64) (*Coulomb1D, error) {
	if math.IsNaN(stau) || math.IsInf(stau, 0) {
		return nil, fmt.Errorf("%w: stau %v", ErrLinkAction, stau)
	}
	if c, ok := coulomb1DCache.Load(stau); ok {
		return c.(*Coulomb1D), nil
	}
	c, err := solveCoulomb1D(stau)
	if err != nil {
		return nil, err
	}
	actual, _ := coulomb1DCache.LoadOrStore(stau, c)
	return actual.(*Coulomb1D), nil
}

// Stau is the coupling of the problem.
func (c *Coulomb1D) Stau() float64 { return c.stau }

// Classical reports whether the coupling is strong enough for the classical
// action to be used in place of the numerical solution.
func (c *Coulomb1D) Classical() bool { return c.classical }

// ValueAtOrigin is the diagonal action with both end points at the origin.
func (c *Coulomb1D) ValueAtOrigin() float64 {
	if c.stau == 0 {
		return 0
	}
	if c.classical || c.u[0].forbidden {
		return math.Copysign(math.Inf(1), c.stau)
	}
	return c.u[0].at(0, c.stau)
}

// U is the coefficient of Delta^(2k) in the link action at reduced distance
// |reff|, with Delta the reduced end-point separation and T = stau^2.
func (c *Coulomb1D) U(k int, reff float64) float64 {
	if c.stau == 0 {
		return 0
	}
	return c.moment(k, math.Abs(reff)/math.Abs(c.stau), false) / math.Pow(c.t, float64(k))
}

// UTau is the derivative of U with respect to T at fixed reff.
func (c *Coulomb1D) UTau(k int, reff float64) float64 {
	if c.stau == 0 {
		return 0
	}
	return c.moment(k, math.Abs(reff)/math.Abs(c.stau), true) / math.Pow(c.t, float64(k+1))
}

// moment is the k-th thermal moment at distance xi; with tau set it is T
// times its T derivative.
func (c *Coulomb1D) moment(k int, xi float64, tau bool) float64 {
	if c.classical {
		if k == 0 {
			return c.stau / xi
		}
		return 0
	}
	far := c.asymptotic(k, xi, tau)
	if xi >= c.reach {
		return far
	}
	curve := &c.u[k]
	if tau {
		curve = &c.w[k]
	}
	v := curve.at(xi, c.stau)
	if start := c.reach - blendWidth; xi > start {
		s := smoothstep((xi - start) / blendWidth)
		v = (1-s)*v + s*far
	}
	return v
}

// asymptotic is the semiclassical expansion, V + V''/6 - V'^2/12 on the
// diagonal and the straight-line action off it.
func (c *Coulomb1D) asymptotic(k int, xi float64, tau bool) float64 {
	g := c.stau
	if k == 0 {
		x3 := xi * xi * xi
		if tau {
			return g/xi + 2*g/(3*x3) - g*g/(4*x3*xi)
		}
		return g/xi + g/(3*x3) - g*g/(12*x3*xi)
	}
	return g / (float64(2*k+1) * math.Pow(4, float64(k)) * math.Pow(xi, float64(2*k+1)))
}

func smoothstep(x float64) float64 {
	return x * x * (3 - 2*x)
}

// dvrDensity is the density matrix of the discretized problem, shifted by
// the lowest eigenvalue.
type dvrDensity struct {
	h       float64
	emin    float64
	weights []float64
	energy  []float64
	vecs    mat.Dense
	floor   float64
}

func newDVRDensity(stau, h float64, n int) (*dvrDensity, error) {
	ham := mat.NewSymDense(n, nil)
	h2 := h * h
	for i := 1; i <= n; i++ {
		fi := float64(i)
		ham.SetSym(i-1, i-1, (math.Pi*math.Pi/3-0.5/(fi*fi))/h2+stau/(fi*h))
		for j := i + 1; j <= n; j++ {
			d, s := float64(j-i), float64(i+j)
			v := (2/(d*d) - 2/(s*s)) / h2
			if (j-i)%2 == 1 {
				v = -v
			}
			ham.SetSym(i-1, j-1, v)
		}
	}
	var es mat.EigenSym
	if !es.Factorize(ham, true) {
		return nil, fmt.Errorf("%w: stau %g: eigendecomposition failed", ErrLinkAction, stau)
	}
	energy := es.Values(nil)
	d := &dvrDensity{h: h, emin: energy[0], floor: densityFloor / math.Sqrt(4*math.Pi)}
	es.VectorsTo(&d.vecs)
	for _, e := range energy {
		x := e - d.emin
		if x > boltzmannSpan {
			break
		}
		d.weights = append(d.weights, math.Exp(-x))
		d.energy = append(d.energy, e)
	}
	return d, nil
}

// link returns the action and T times its T derivative between nodes a and
// b. ok is false when the density is too small to be resolved.
func (d *dvrDensity) link(a, b int) (u, w float64, ok bool) {
	var rho, rhoH float64
	for n, wt := range d.weights {
		p := wt * d.vecs.At(a-1, n) * d.vecs.At(b-1, n)
		rho += p
		rhoH += d.energy[n] * p
	}
	rho /= d.h
	rhoH /= d.h
	if !(rho > d.floor) {
		return 0, 0, false
	}
	x, xp := float64(a)*d.h, float64(b)*d.h
	delta := x - xp
	prod := x * xp
	lnFree := -0.5*math.Log(4*math.Pi) - delta*delta/4 + math.Log(-math.Expm1(-prod))
	u = -math.Log(rho) + d.emin + lnFree
	w = rhoH/rho - (0.5 - delta*delta/4 + prod/math.Expm1(prod))
	return u, w, true
}

func solveCoulomb1D(stau float64) (*Coulomb1D, error) {
	c := &Coulomb1D{stau: stau, t: stau * stau}
	if stau == 0 {
		return c, nil
	}
	if stau > maxRepulsiveCoupling || -stau > maxAttractiveCoupling {
		c.classical = true
		return c, nil
	}

	h := dvrStep
	if stau < 0 {
		h = math.Min(h, attractiveStep/-stau)
	}
	c.reach = 10 + 3*math.Cbrt(math.Abs(stau))
	nodes := int(math.Ceil(c.reach / h))
	size := nodes + fitWindow + int(math.Ceil(wallPadding/h)) + 1
	dens, err := newDVRDensity(stau, h, size)
	if err != nil {
		return nil, err
	}

	diagXi := make([]float64, 0, nodes)
	diagU := make([]float64, 0, nodes)
	diagW := make([]float64, 0, nodes)
	var fitXi []float64
	var fitU, fitW [MaxOrder][]float64
	firstValid, firstFit := 0, 0
	for i := 1; i <= nodes; i++ {
		xi := float64(i) * h
		u0, w0, ok := dens.link(i, i)
		if !ok {
			u0, w0 = stau/xi, stau/xi
		} else if firstValid == 0 {
			firstValid = i
		}
		diagXi = append(diagXi, xi)
		diagU = append(diagU, u0)
		diagW = append(diagW, w0)
		if !ok {
			continue
		}

		var deltas, du, dw []float64
		for j := 1; j <= fitWindow && j < i; j++ {
			u, w, ok := dens.link(i+j, i-j)
			if !ok {
				break
			}
			deltas = append(deltas, 2*float64(j)*h)
			du = append(du, u-u0)
			dw = append(dw, w-w0)
		}
		if len(deltas) < minFitPoints {
			continue
		}
		mu, err := fitSeparationSeries(deltas, du)
		if err != nil {
			return nil, fmt.Errorf("%w: stau %g node %d: %v", ErrLinkAction, stau, i, err)
		}
		mw, err := fitSeparationSeries(deltas, dw)
		if err != nil {
			return nil, fmt.Errorf("%w: stau %g node %d: %v", ErrLinkAction, stau, i, err)
		}
		if firstFit == 0 {
			firstFit = i
		}
		fitXi = append(fitXi, xi)
		for k := 0; k < MaxOrder; k++ {
			fitU[k] = append(fitU[k], mu[k])
			fitW[k] = append(fitW[k], mw[k])
		}
	}
	if firstValid == 0 || len(fitXi) < headNodes+1 {
		return nil, fmt.Errorf("%w: stau %g: density not resolved", ErrLinkAction, stau)
	}

	c.u[0] = diagonalCurve(diagXi, diagU, -stau, firstValid > 1)
	c.w[0] = diagonalCurve(diagXi, diagW, 0, firstValid > 1)
	// A fit starting at the first admissible node is extrapolated with its
	// local slope and curvature; a later start holds its first value.
	smooth := firstFit == minFitPoints+1
	for k := 1; k <= MaxOrder; k++ {
		c.u[k] = offDiagonalCurve(fitXi, fitU[k-1], smooth)
		c.w[k] = offDiagonalCurve(fitXi, fitW[k-1], smooth)
	}
	return c, nil
}

// fitSeparationSeries fits y(Delta) = sum_k m_k Delta^(2k), k = 1..fitTerms,
// and returns m_1..m_MaxOrder.
func fitSeparationSeries(deltas, y []float64) ([]float64, error) {
	scale := deltas[len(deltas)-1]
	a := mat.NewDense(len(deltas), fitTerms, nil)
	for i, d := range deltas {
		z := (d / scale) * (d / scale)
		p := z
		for k := 0; k < fitTerms; k++ {
			a.Set(i, k, p)
			p *= z
		}
	}
	var x mat.VecDense
	if err := x.SolveVec(a, mat.NewVecDense(len(y), append([]float64(nil), y...))); err != nil {
		return nil, err
	}
	out := make([]float64, MaxOrder)
	s2 := scale * scale
	norm := s2
	for k := range out {
		out[k] = x.AtVec(k) / norm
		norm *= s2
	}
	return out, nil
}

// diagonalCurve splines the diagonal over the nodes. Below the first node the
// curve keeps the given slope at the origin and a curvature fitted to the
// next nodes.
func diagonalCurve(xs, ys []float64, slope float64, forbidden bool) momentCurve {
	mc := momentCurve{lo: xs[0], v: ys[0], s: slope, forbidden: forbidden}
	mc.spline.Fit(xs, ys)
	if forbidden {
		return mc
	}
	var num, den float64
	for i := 1; i <= 3; i++ {
		q := xs[i]*xs[i] - mc.lo*mc.lo
		r := ys[i] - mc.v - slope*(xs[i]-mc.lo)
		num += q * r
		den += q * q
	}
	mc.c = num / den
	return mc
}

// offDiagonalCurve splines one fitted moment. Below the first fitted node it
// either continues with a slope and curvature fitted to the following nodes
// or holds the first value.
func offDiagonalCurve(xs, ys []float64, smooth bool) momentCurve {
	mc := momentCurve{lo: xs[0], v: ys[0]}
	mc.spline.Fit(xs, ys)
	if !smooth {
		return mc
	}
	a := mat.NewDense(headNodes, 2, nil)
	b := mat.NewVecDense(headNodes, nil)
	for i := 1; i <= headNodes; i++ {
		a.Set(i-1, 0, xs[i]-mc.lo)
		a.Set(i-1, 1, xs[i]*xs[i]-mc.lo*mc.lo)
		b.SetVec(i-1, ys[i]-mc.v)
	}
	var x mat.VecDense
	if err := x.SolveVec(a, b); err == nil {
		mc.s, mc.c = x.AtVec(0), x.AtVec(1)
	}
	return mc
}
