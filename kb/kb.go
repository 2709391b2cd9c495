package kb

import (
	"errors"
	"fmt"
	"sync"

	"github.com/signalsfoundry/coulomb-action/model"
)

var (
	// ErrSpeciesExists is returned when a species name is registered twice.
	ErrSpeciesExists = errors.New("species already exists")
	// ErrSpeciesNotFound is returned for lookups of unknown species.
	ErrSpeciesNotFound = errors.New("species not found")
)

// EventType indicates what kind of change happened in the catalog.
type EventType int

const (
	EventSpeciesAdded EventType = iota
	EventSpeciesUpdated
)

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type    EventType
	Species model.Species
}

// SpeciesCatalog is an in-memory, thread-safe, ordered registry of particle
// species. Registration order fixes the particle index ranges of the
// simulation built from it.
type SpeciesCatalog struct {
	mu sync.RWMutex

	order   []string
	species map[string]*model.Species

	subs []func(Event)
}

// NewSpeciesCatalog constructs an empty catalog.
func NewSpeciesCatalog() *SpeciesCatalog {
	return &SpeciesCatalog{
		species: make(map[string]*model.Species),
	}
}

// AddSpecies validates and appends a species. It returns an error if the
// name is already registered.
func (c *SpeciesCatalog) AddSpecies(s model.Species) error {
	if err := s.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	if _, exists := c.species[s.Name]; exists {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrSpeciesExists, s.Name)
	}
	stored := s
	c.species[s.Name] = &stored
	c.order = append(c.order, s.Name)
	subs := append([]func(Event){}, c.subs...)
	c.mu.Unlock()

	c.notify(subs, Event{Type: EventSpeciesAdded, Species: s})
	return nil
}

// GetSpecies returns a copy of the named species.
func (c *SpeciesCatalog) GetSpecies(name string) (model.Species, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.species[name]
	if !ok {
		return model.Species{}, fmt.Errorf("%w: %q", ErrSpeciesNotFound, name)
	}
	return *s, nil
}

// ListSpecies returns a snapshot of all species in registration order.
func (c *SpeciesCatalog) ListSpecies() []model.Species {
	c.mu.RLock()
	defer c.mu.RUnlock()

	res := make([]model.Species, 0, len(c.order))
	for _, name := range c.order {
		res = append(res, *c.species[name])
	}
	return res
}

// UpdateCount changes the particle count of a species and notifies
// subscribers.
func (c *SpeciesCatalog) UpdateCount(name string, count int) error {
	c.mu.Lock()
	s, ok := c.species[name]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrSpeciesNotFound, name)
	}
	updated := *s
	updated.Count = count
	if err := updated.Validate(); err != nil {
		c.mu.Unlock()
		return err
	}
	*s = updated
	subs := append([]func(Event){}, c.subs...)
	c.mu.Unlock()

	c.notify(subs, Event{Type: EventSpeciesUpdated, Species: updated})
	return nil
}

// SimulationInfo assembles a validated simulation description from the
// registered species.
func (c *SpeciesCatalog) SimulationInfo(tau float64, nslice int, cell *model.SuperCell) (*model.SimulationInfo, error) {
	info := &model.SimulationInfo{
		Tau:     tau,
		NSlice:  nslice,
		Species: c.ListSpecies(),
		Cell:    cell,
	}
	if err := info.Validate(); err != nil {
		return nil, err
	}
	return info, nil
}

// Subscribe registers a callback for catalog events. It returns an
// unsubscribe function.
func (c *SpeciesCatalog) Subscribe(fn func(Event)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, fn)
	idx := len(c.subs) - 1

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if idx < 0 || idx >= len(c.subs) {
			return
		}
		c.subs = append(c.subs[:idx], c.subs[idx+1:]...)
		idx = -1
	}
}

// notify runs outside the lock so callbacks may query the catalog.
func (c *SpeciesCatalog) notify(subs []func(Event), ev Event) {
	for _, sub := range subs {
		sub(ev)
	}
}
