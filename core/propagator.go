package core

import "math"

const (
	// MaxOrder is the highest supported expansion order.
	MaxOrder = 4
	// TauStepRelative is the relative step of the symmetric difference in T
	// used for UTau at orders above zero.
	TauStepRelative = 1e-5
)

// PairPropagator is the two-body action of one species pair, built from the
// one-dimensional Coulomb link action by the s-wave recombination. The
// zero-order value optionally has the long-range Coulomb tail tau*q1q2*W(r)
// removed.
type PairPropagator struct {
	q1q2      float64
	mu        float64
	tau       float64
	displace2 float64
	longRange func(r float64) float64
	link      *Coulomb1D
}

// NewPairPropagator returns the propagator of a pair. longRange may be nil.
func NewPairPropagator(q1q2, mu, tau, displace2 float64, longRange func(float64) float64) (*PairPropagator, error) {
	link, err := NewCoulomb1D(q1q2 * math.Sqrt(2*mu*tau))
	if err != nil {
		return nil, err
	}
	return &PairPropagator{q1q2: q1q2, mu: mu, tau: tau, displace2: displace2, longRange: longRange, link: link}, nil
}

// U returns the order-th expansion coefficient of the link action at
// separation r. Order 4 is the bare one-dimensional moment and is not exact.
func (p *PairPropagator) U(r float64, order int) float64 {
	r = math.Sqrt(r*r + p.displace2)
	y, t := p.reduced(r)
	u := recombine(t, y, order, p.moments(y, 0))
	if order == 0 && p.longRange != nil {
		u -= p.tau * p.q1q2 * p.longRange(r)
	}
	return u
}

// UTau returns dU/dtau. The zero-order channel is differentiated
// analytically; higher orders take a symmetric difference in T with the
// moments moved along their T derivatives.
func (p *PairPropagator) UTau(r float64, order int) float64 {
	r = math.Sqrt(r*r + p.displace2)
	y, t := p.reduced(r)
	if order == 0 {
		du := t / p.tau * p.recombine0T(t, y)
		if p.longRange != nil {
			du -= p.q1q2 * p.longRange(r)
		}
		return du
	}
	h := TauStepRelative * t
	up := recombine(t+h, y, order, p.moments(y, h))
	um := recombine(t-h, y, order, p.moments(y, -h))
	// dT/dtau = T/tau
	return t / p.tau * (up - um) / (2 * h)
}

// reduced returns Y and T of the one-dimensional problem.
func (p *PairPropagator) reduced(r float64) (y, t float64) {
	y = math.Abs(2 * p.mu * p.q1q2 * r)
	t = 2 * p.mu * p.q1q2 * p.q1q2 * p.tau
	return y, t
}

// moments returns u_0..u_MaxOrder at Y, advanced by dt along their T
// derivatives.
func (p *PairPropagator) moments(y, dt float64) [MaxOrder + 1]float64 {
	var u [MaxOrder + 1]float64
	for k := range u {
		u[k] = p.link.U(k, y)
		if dt != 0 {
			u[k] += dt * p.link.UTau(k, y)
		}
	}
	return u
}

// denominator is d = 1 + 4T(1-b)u_1 of the recombination at separation r.
func (p *PairPropagator) denominator(r float64) float64 {
	y, t := p.reduced(math.Sqrt(r*r + p.displace2))
	return 1 + 4*t*oneMinusB(t, y)*p.link.U(1, y)
}

func oneMinusB(t, y float64) float64 {
	return -math.Expm1(-y * y / t)
}

// recombine maps the one-dimensional moments onto the order-th coefficient
// of the three-dimensional pair action. The moments multiply powers of the
// squared reduced end-point separation, so a = 2T.
func recombine(t, y float64, order int, u [MaxOrder + 1]float64) float64 {
	a := 2 * t
	b := math.Exp(-y * y / t)
	omb := oneMinusB(t, y)
	d := 1 + 2*a*omb*u[1]
	c := 1 / d

	switch order {
	case 0:
		return u[0] - math.Log(d)
	case 1:
		return u[1] + c*(b*u[1]-4*a*omb*u[2])
	case 2:
		return u[2] + 0.25*c/a*(c*(b*u[1]*(1+2*a*u[1])+8*a*b*u[2]+32*a*a*a*omb*omb*u[2]*u[2])-24*a*a*omb*u[3])
	case 3:
		return u[3] + c*c*c/(24*a*a)*thirdOrderBracket(a, b, u[1], u[2], u[3], u[4])
	default:
		return u[4]
	}
}

func thirdOrderBracket(a, b, u1, u2, u3, u4 float64) float64 {
	a2 := a * a
	a3 := a2 * a
	a4 := a3 * a
	a5 := a4 * a
	s := 1 + 2*a*u1
	return 128*a5*b*b*b*(4*u2*u2*u2-9*u1*u2*u3+6*u1*u1*u4) +
		64*a3*(a*u2*(-8*a*u2*u2+9*s*u3)-3*s*s*u4) +
		2*a*b*b*(2*a*u1*u1*u1+96*a2*u2*(u2-8*a2*u2*u2+3*a*u3)+
			12*a*u1*(u2-6*a*u3+144*a3*u2*u3-32*a2*u4)+
			u1*u1*(1-1152*a4*u4)) +
		b*(4*a2*u1*u1*u1+
			12*a*(u2-16*a2*u2*u2+128*a4*u2*u2*u2+6*a*u3-96*a3*u2*u3+16*a2*u4)+
			4*u1*u1*(a+576*a5*u4)+
			u1*(1+24*a2*(u2+6*a*u3-144*a3*u2*u3+64*a2*u4)))
}

// recombine0T is the T derivative of the zero-order coefficient at fixed Y.
func (p *PairPropagator) recombine0T(t, y float64) float64 {
	w := y * y / t
	omb := oneMinusB(t, y)
	b := math.Exp(-w)
	u1 := p.link.U(1, y)
	d := 1 + 4*t*omb*u1
	dd := 4*omb*u1 - 4*b*w*u1 + 4*t*omb*p.link.UTau(1, y)
	return p.link.UTau(0, y) - dd/d
}
