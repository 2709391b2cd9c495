package core

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/coulomb-action/model"
)

const (
	// ClassicalMassThreshold is the reduced mass above which a pair is treated
	// as a pair of classical ions: the expansion is truncated at order 0 and
	// the regularization radius is computed with unit mass.
	ClassicalMassThreshold = 500.0
	// RegularizationLength sets the default inner grid radius in reduced
	// units, rmin = RegularizationLength / (2 mu |q1q2|).
	RegularizationLength = 0.005
)

// SpeciesPair is the immutable description of one interacting species pair.
type SpeciesPair struct {
	First, Second int // species indices, First <= Second
	Name1, Name2  string

	Q1Q2      float64 // charge product divided by the permittivity
	Mu        float64 // reduced mass
	Displace2 float64 // squared offset between the species displacements
	Order     int

	// ExcludeLevel is the highest multilevel level at which the pair is
	// skipped; -1 never skips.
	ExcludeLevel int
}

// NewSpeciesPair describes species i and j (i <= j). ok is false when the
// pair does not interact: zero charge product, or a single particle paired
// with itself.
func NewSpeciesPair(i, j int, s1, s2 model.Species, epsilon float64, order, exLevel int) (SpeciesPair, bool) {
	q1q2 := s1.Charge * s2.Charge / epsilon
	if q1q2 == 0 || (s1.Name == s2.Name && s1.Count <= 1) {
		return SpeciesPair{}, false
	}
	d := s1.Displace.Sub(s2.Displace)
	sp := SpeciesPair{
		First:        i,
		Second:       j,
		Name1:        s1.Name,
		Name2:        s2.Name,
		Q1Q2:         q1q2,
		Mu:           1 / (1/s1.Mass + 1/s2.Mass),
		Displace2:    d.Norm2(),
		Order:        order,
		ExcludeLevel: -1,
	}
	if sp.Classical() {
		sp.Order = 0
	}
	if i == j {
		sp.ExcludeLevel = exLevel - 1
	}
	return sp, true
}

// Classical reports whether the reduced mass exceeds ClassicalMassThreshold.
func (sp SpeciesPair) Classical() bool {
	return sp.Mu > ClassicalMassThreshold
}

// SameSpecies reports whether both members are the same species.
func (sp SpeciesPair) SameSpecies() bool {
	return sp.First == sp.Second
}

// RegularizationRadius is the default inner grid radius of the pair.
func (sp SpeciesPair) RegularizationRadius() float64 {
	mu := sp.Mu
	if sp.Classical() {
		mu = 1
	}
	return RegularizationLength / (2 * mu * math.Abs(sp.Q1Q2))
}

// Excluded reports whether the pair is skipped at the given multilevel level.
func (sp SpeciesPair) Excluded(level int) bool {
	return level <= sp.ExcludeLevel
}

func (sp SpeciesPair) String() string {
	return fmt.Sprintf("%s-%s", sp.Name1, sp.Name2)
}
