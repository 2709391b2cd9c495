package model

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSpecies indicates a species failed validation.
	ErrInvalidSpecies = errors.New("invalid species")
	// ErrInvalidSimulation indicates SimulationInfo failed validation.
	ErrInvalidSimulation = errors.New("invalid simulation info")
)

// Species describes one particle type. Particles of a species occupy a
// contiguous index range in the path.
type Species struct {
	Name   string
	Count  int
	Mass   float64
	Charge float64

	// Displace is a fixed offset applied to every bead of the species. It is
	// used to keep distinct species from colliding exactly, e.g. electrons and
	// holes confined to separate quantum wells.
	Displace Vec3
}

// Validate checks that the species can take part in a simulation.
func (s Species) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidSpecies)
	}
	if s.Count <= 0 {
		return fmt.Errorf("%w: species %q has count %d", ErrInvalidSpecies, s.Name, s.Count)
	}
	if !(s.Mass > 0) {
		return fmt.Errorf("%w: species %q has mass %v", ErrInvalidSpecies, s.Name, s.Mass)
	}
	return nil
}

// SimulationInfo is the immutable metadata an action is built from.
type SimulationInfo struct {
	Tau     float64 // imaginary time step
	NSlice  int     // number of imaginary time slices
	Species []Species
	Cell    *SuperCell
}

// Validate checks the simulation metadata.
func (s *SimulationInfo) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil", ErrInvalidSimulation)
	}
	if !(s.Tau > 0) {
		return fmt.Errorf("%w: tau = %v", ErrInvalidSimulation, s.Tau)
	}
	if s.NSlice < 2 {
		return fmt.Errorf("%w: nslice = %d", ErrInvalidSimulation, s.NSlice)
	}
	if s.Cell == nil {
		return fmt.Errorf("%w: missing cell", ErrInvalidSimulation)
	}
	if len(s.Species) == 0 {
		return fmt.Errorf("%w: no species", ErrInvalidSimulation)
	}
	for _, sp := range s.Species {
		if err := sp.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// NSpecies returns the number of species.
func (s *SimulationInfo) NSpecies() int {
	return len(s.Species)
}

// NPart returns the total particle count.
func (s *SimulationInfo) NPart() int {
	n := 0
	for _, sp := range s.Species {
		n += sp.Count
	}
	return n
}

// SpeciesRange returns the half-open particle index range [first, end)
// occupied by species i.
func (s *SimulationInfo) SpeciesRange(i int) (first, end int) {
	for j := 0; j < i; j++ {
		first += s.Species[j].Count
	}
	return first, first + s.Species[i].Count
}

// PartSpecies returns the species of particle ipart.
func (s *SimulationInfo) PartSpecies(ipart int) Species {
	for _, sp := range s.Species {
		if ipart < sp.Count {
			return sp
		}
		ipart -= sp.Count
	}
	return Species{}
}

// Charges returns the per-particle charge array in particle order.
func (s *SimulationInfo) Charges() []float64 {
	q := make([]float64, 0, s.NPart())
	for _, sp := range s.Species {
		for i := 0; i < sp.Count; i++ {
			q = append(q, sp.Charge)
		}
	}
	return q
}
