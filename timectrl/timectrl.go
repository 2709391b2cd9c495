package timectrl

import (
	"context"
	"errors"
	"sync"
)

// ErrNoSweep is returned by Start when no sweep function is set.
var ErrNoSweep = errors.New("no sweep function")

// Stage describes which part of a Monte Carlo run a step belongs to.
type Stage int

const (
	// Thermalization steps equilibrate the paths; estimators ignore them.
	Thermalization Stage = iota
	// Production steps are accumulated by estimators.
	Production
)

func (s Stage) String() string {
	if s == Production {
		return "production"
	}
	return "thermalization"
}

// Step identifies one completed sweep.
type Step struct {
	Index int // counted from zero over the whole run
	Stage Stage
}

// Counter is the read side of a StepController, for components that only
// need to know how far the run has progressed.
type Counter interface {
	Current() Step
	Done() int
}

// SweepFunc performs one sweep of moves.
type SweepFunc func(ctx context.Context, step Step) error

// StepController drives a fixed number of thermalization and production
// sweeps and notifies registered listeners after each one.
type StepController struct {
	mu         sync.RWMutex
	Thermalize int
	Steps      int
	Sweep      SweepFunc
	current    Step
	done       int
	listeners  []func(Step)
}

// NewStepController constructs a controller.
func NewStepController(thermalize, steps int, sweep SweepFunc) *StepController {
	return &StepController{
		Thermalize: thermalize,
		Steps:      steps,
		Sweep:      sweep,
	}
}

// Current returns the most recently completed step.
func (sc *StepController) Current() Step {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.current
}

// Done returns the number of completed sweeps.
func (sc *StepController) Done() int {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.done
}

// AddListener registers a callback invoked after every sweep.
func (sc *StepController) AddListener(fn func(Step)) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.listeners = append(sc.listeners, fn)
}

// StageOf returns the stage of the sweep with the given index.
func (sc *StepController) StageOf(index int) Stage {
	if index < sc.Thermalize {
		return Thermalization
	}
	return Production
}

// Start runs all sweeps in a separate goroutine. The returned channel
// receives the first sweep error, or nil once every sweep completed, and is
// then closed. Cancelling ctx stops the run before the next sweep.
func (sc *StepController) Start(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- sc.Run(ctx)
	}()
	return done
}

// Run performs the sweeps on the calling goroutine.
func (sc *StepController) Run(ctx context.Context) error {
	if sc.Sweep == nil {
		return ErrNoSweep
	}
	sc.mu.Lock()
	sc.done = 0
	sc.current = Step{}
	sc.mu.Unlock()

	total := sc.Thermalize + sc.Steps
	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		step := Step{Index: i, Stage: sc.StageOf(i)}
		if err := sc.Sweep(ctx, step); err != nil {
			return err
		}

		sc.mu.Lock()
		sc.current = step
		sc.done = i + 1
		listeners := append([]func(Step){}, sc.listeners...)
		sc.mu.Unlock()

		for _, fn := range listeners {
			fn(step)
		}
	}
	return nil
}
