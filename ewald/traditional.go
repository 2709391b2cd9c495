package ewald

import "math"

// gaussianSplit is the classic Ewald breakup W(r) = erf(kappa r)/r.
type gaussianSplit struct {
	kappa float64
	rc    float64
}

func newGaussianSplit(kappa, rc float64) *gaussianSplit {
	return &gaussianSplit{kappa: kappa, rc: rc}
}

func (g *gaussianSplit) fr(r float64) float64 {
	return math.Erf(g.kappa*r) / r
}

func (g *gaussianSplit) fr0() float64 {
	return 2 * g.kappa / math.Sqrt(math.Pi)
}

func (g *gaussianSplit) vk(k float64) float64 {
	return 4 * math.Pi * math.Exp(-k*k/(4*g.kappa*g.kappa)) / (k * k)
}

func (g *gaussianSplit) neutralizer() float64 {
	return math.Pi / (g.kappa * g.kappa)
}

func (g *gaussianSplit) rcut() float64 {
	return g.rc
}
