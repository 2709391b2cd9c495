// Package ewald splits the periodic Coulomb sum into a short-range real-space
// remainder and a smooth long-range part evaluated in reciprocal space.
//
// Every strategy uses the same decomposition
//
//	1/r = [1/r - W(r)] + W(r)
//
// where W is finite at the origin and equal (or exponentially close) to 1/r
// beyond the real-space cutoff. EvalFR returns W; EvalLongRange sums W over
// all periodic images through its Fourier coefficients.
package ewald

import (
	"errors"
	"fmt"
	"math"

	"github.com/signalsfoundry/coulomb-action/model"
)

var (
	// ErrUnknownStrategy is returned for an unrecognized strategy name.
	ErrUnknownStrategy = errors.New("unknown ewald strategy")
	// ErrInvalidCutoff is returned when a cutoff is out of range for the cell.
	ErrInvalidCutoff = errors.New("invalid ewald cutoff")
	// ErrNoCharges is returned when the charge array is empty.
	ErrNoCharges = errors.New("ewald summation needs at least one charge")
)

// Strategy selects the long-range breakup.
type Strategy string

const (
	// Traditional uses the Gaussian screening W(r) = erf(kappa r)/r.
	Traditional Strategy = "tradEwald"
	// Optimized fits W inside the real-space cutoff so that its Fourier tail
	// beyond the reciprocal cutoff is minimal.
	Optimized Strategy = "optEwald"
)

// ParseStrategy maps a configuration name onto a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	switch Strategy(name) {
	case Traditional, Optimized:
		return Strategy(name), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
}

const (
	// DefaultKMaxFactor sets the upper end of the optimized fit range as a
	// multiple of the reciprocal cutoff.
	DefaultKMaxFactor = 4.0
	// DefaultNKnots is the number of spline knots used by the optimized fit.
	DefaultNKnots = 8
	// defaultShells is the reciprocal cutoff, in units of 2*pi/a_min, used
	// when none is configured.
	defaultShells = 8
)

// Config carries the tunable parameters of a summation.
type Config struct {
	Strategy Strategy

	// RCut is the real-space cutoff. Zero selects half the first cell side.
	RCut float64
	// KCut is the reciprocal-space cutoff. Zero selects a default.
	KCut float64
	// Kappa is the Gaussian screening parameter of the traditional strategy.
	// Zero derives it from ScreenDist, or balances the real and reciprocal
	// truncation errors when ScreenDist is also zero.
	Kappa      float64
	ScreenDist float64

	KMaxFactor float64
	NKnots     int
}

// Params reports the resolved parameters of a summation.
type Params struct {
	Strategy Strategy
	RCut     float64
	KCut     float64
	Kappa    float64 // zero for the optimized strategy
	NKVec    int     // number of reciprocal vectors in the half space
}

// Summation evaluates the long-range part of the periodic Coulomb energy for a
// fixed charge array. Implementations reuse internal scratch space and are not
// safe for concurrent use.
type Summation interface {
	// EvalSelfEnergy computes and stores the configuration-independent
	// constant removed from every long-range evaluation. New calls it once.
	EvalSelfEnergy() float64
	// SelfEnergy returns the stored constant.
	SelfEnergy() float64
	// EvalLongRange returns the reciprocal-space pair energy of the
	// configuration minus the self-energy. A single charge therefore yields
	// exactly -SelfEnergy(), its interaction with its own images.
	EvalLongRange(r []model.Vec3) float64
	// EvalFR returns the long-range real-space function W(r).
	EvalFR(r float64) float64
	// EvalShortRange sums q_i q_j [1/r - W(r)] over minimum-image pairs
	// inside the real-space cutoff.
	EvalShortRange(r []model.Vec3) float64
	Charges() []float64
	Strategy() Strategy
	Params() Params
}

// New resolves defaults, validates the cutoffs and builds the requested
// strategy. The self-energy is evaluated before New returns.
func New(cell *model.SuperCell, charges []float64, cfg Config) (Summation, error) {
	if cell == nil {
		return nil, fmt.Errorf("ewald: %w", model.ErrInvalidCell)
	}
	if len(charges) == 0 {
		return nil, ErrNoCharges
	}
	if _, err := ParseStrategy(string(cfg.Strategy)); err != nil {
		return nil, err
	}
	cfg, err := resolve(cell, cfg)
	if err != nil {
		return nil, err
	}

	q := append([]float64(nil), charges...)
	var sp split
	switch cfg.Strategy {
	case Traditional:
		sp = newGaussianSplit(cfg.Kappa, cfg.RCut)
	case Optimized:
		sp, err = fitOptimizedSplit(cfg.RCut, cfg.KCut, cfg.KMaxFactor*cfg.KCut, cfg.NKnots)
		if err != nil {
			return nil, err
		}
	}

	s := &summation{
		cfg:     cfg,
		cell:    cell,
		charges: q,
		sp:      sp,
		recip:   newReciprocal(cell, cfg.KCut, q, sp.vk),
	}
	s.EvalSelfEnergy()
	return s, nil
}

func resolve(cell *model.SuperCell, cfg Config) (Config, error) {
	amin := math.Min(cell.A.X, math.Min(cell.A.Y, cell.A.Z))
	if cfg.RCut == 0 {
		cfg.RCut = cell.A.X / 2
	}
	if cfg.RCut < 0 || cfg.RCut > amin/2*(1+1e-12) {
		return cfg, fmt.Errorf("%w: rcut %v must lie in (0, %v]", ErrInvalidCutoff, cfg.RCut, amin/2)
	}
	if cfg.KCut == 0 {
		cfg.KCut = 2 * math.Pi * defaultShells / amin
	}
	if cfg.KCut < 0 || cfg.KCut < 2*math.Pi/amin {
		return cfg, fmt.Errorf("%w: kcut %v is below the first reciprocal shell %v",
			ErrInvalidCutoff, cfg.KCut, 2*math.Pi/amin)
	}
	if cfg.Strategy == Traditional && cfg.Kappa == 0 {
		if cfg.ScreenDist > 0 {
			cfg.Kappa = 1 / cfg.ScreenDist
		} else {
			// exp(-kc^2/4k^2) == exp(-k^2 rc^2)
			cfg.Kappa = math.Sqrt(cfg.KCut / (2 * cfg.RCut))
		}
	}
	if cfg.Kappa < 0 {
		return cfg, fmt.Errorf("%w: kappa %v", ErrInvalidCutoff, cfg.Kappa)
	}
	if cfg.KMaxFactor == 0 {
		cfg.KMaxFactor = DefaultKMaxFactor
	}
	if cfg.NKnots == 0 {
		cfg.NKnots = DefaultNKnots
	}
	if cfg.Strategy == Optimized && (cfg.KMaxFactor <= 1 || cfg.NKnots < 3) {
		return cfg, fmt.Errorf("%w: kmax factor %v, knots %d", ErrInvalidCutoff, cfg.KMaxFactor, cfg.NKnots)
	}
	return cfg, nil
}

// TotalEnergy returns the full periodic Coulomb energy of the configuration:
// the long-range part plus the real-space short-range remainder.
func TotalEnergy(s Summation, r []model.Vec3) float64 {
	return s.EvalLongRange(r) + s.EvalShortRange(r)
}

// split is one breakup of 1/r.
type split interface {
	// fr is W(r) for r > 0.
	fr(r float64) float64
	// fr0 is W(0).
	fr0() float64
	// vk is the Fourier transform of W at |k| > 0, without the 1/volume factor.
	vk(k float64) float64
	// neutralizer is the integral of 4 pi r^2 [1/r - W(r)] over all space,
	// used for the uniform background of a charged cell.
	neutralizer() float64
	// rcut is the radius beyond which 1/r - W(r) is treated as zero.
	rcut() float64
}

type summation struct {
	cfg        Config
	cell       *model.SuperCell
	charges    []float64
	sp         split
	recip      *reciprocal
	selfEnergy float64
}

func (s *summation) EvalSelfEnergy() float64 {
	var q2, qsum float64
	for _, q := range s.charges {
		q2 += q * q
		qsum += q
	}
	background := -qsum * qsum * s.sp.neutralizer() / (2 * s.cell.Volume())
	s.selfEnergy = -s.recip.diagonal + 0.5*q2*s.sp.fr0() - background
	return s.selfEnergy
}

func (s *summation) SelfEnergy() float64 { return s.selfEnergy }

func (s *summation) EvalLongRange(r []model.Vec3) float64 {
	return s.recip.structureSum(r) - s.recip.diagonal - s.selfEnergy
}

func (s *summation) EvalFR(r float64) float64 {
	if r == 0 {
		return s.sp.fr0()
	}
	return s.sp.fr(r)
}

func (s *summation) EvalShortRange(r []model.Vec3) float64 {
	rc := s.sp.rcut()
	e := 0.0
	for i := 0; i < len(r); i++ {
		for j := i + 1; j < len(r); j++ {
			d := s.cell.Wrap(r[i].Sub(r[j])).Norm()
			if d == 0 || d >= rc {
				continue
			}
			e += s.charges[i] * s.charges[j] * (1/d - s.sp.fr(d))
		}
	}
	return e
}

func (s *summation) Charges() []float64 { return s.charges }

func (s *summation) Strategy() Strategy { return s.cfg.Strategy }

func (s *summation) Params() Params {
	p := Params{
		Strategy: s.cfg.Strategy,
		RCut:     s.cfg.RCut,
		KCut:     s.cfg.KCut,
		NKVec:    len(s.recip.kvecs),
	}
	if s.cfg.Strategy == Traditional {
		p.Kappa = s.cfg.Kappa
	}
	return p
}
