package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/coulomb-action/ewald"
	"github.com/signalsfoundry/coulomb-action/internal/logging"
	"github.com/signalsfoundry/coulomb-action/model"
)

// ErrNoChargedSpecies is returned when no species carries a charge.
var ErrNoChargedSpecies = errors.New("no charged species")

// DefaultGridPoints is the radial grid size used when none is configured.
const DefaultGridPoints = 500

const tracerName = "github.com/signalsfoundry/coulomb-action/core"

// Config holds the construction parameters of a CoulombAction.
type Config struct {
	Epsilon float64 // relative permittivity; zero means 1
	Order   int

	// RMin and RMax bound the radial grids. Zero RMin selects the per-pair
	// regularization radius, zero RMax the cell diagonal.
	RMin, RMax  float64
	NGridPoints int

	UseEwald bool
	// EwaldNDim is the number of leading dimensions that are periodic for
	// the long-range problem. Zero means all of them.
	EwaldNDim int
	Ewald     ewald.Config
	NImages   int

	ExcludeLevel int
	DumpTables   bool
}

// Phase is the lifecycle stage of a CoulombAction.
type Phase int

const (
	Uninitialized Phase = iota
	Built
	Active
)

func (p Phase) String() string {
	switch p {
	case Built:
		return "built"
	case Active:
		return "active"
	default:
		return "uninitialized"
	}
}

// MetricsRecorder receives build and query statistics.
type MetricsRecorder interface {
	ObserveTableBuild(kind string, d time.Duration)
	SetTableCount(kind string, n int)
	IncQuery(operation string)
	IncLongRange(strategy string)
}

// TableSink receives every built table when table dumps are requested.
type TableSink interface {
	WriteTable(ctx context.Context, t *PairActionTable) error
}

// Option customises CoulombAction construction.
type Option func(*CoulombAction)

// WithLogger sets the construction logger.
func WithLogger(l logging.Logger) Option {
	return func(a *CoulombAction) {
		if l != nil {
			a.log = l
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(a *CoulombAction) { a.metrics = m }
}

// WithTableSink sets the destination of table dumps.
func WithTableSink(s TableSink) Option {
	return func(a *CoulombAction) { a.sink = s }
}

// WithTracer overrides the OpenTelemetry tracer used during construction.
func WithTracer(t trace.Tracer) Option {
	return func(a *CoulombAction) {
		if t != nil {
			a.tracer = t
		}
	}
}

// CoulombAction is the pair action of all charged species in a periodic cell,
// optionally completed by a reciprocal-space long-range sum. It is built once
// and then queried sequentially by a single sampler; queries reuse internal
// position buffers and are not safe for concurrent use.
type CoulombAction struct {
	info   *model.SimulationInfo
	cfg    Config
	tau    float64
	tables []*PairActionTable
	kind   TableKind
	ewald  ewald.Summation
	phase  Phase

	// Explicit snapshots handed to the long-range sum: the current slice and
	// the proposed slice. Both are rebuilt in full before each evaluation.
	current, proposed []model.Vec3

	log     logging.Logger
	metrics MetricsRecorder
	sink    TableSink
	tracer  trace.Tracer
}

// New builds one pair table per interacting species pair and, when the
// long-range sum covers every dimension, the Ewald summation.
func New(ctx context.Context, info *model.SimulationInfo, cfg Config, opts ...Option) (*CoulombAction, error) {
	a := &CoulombAction{
		log:    logging.Noop(),
		tracer: otel.Tracer(tracerName),
	}
	if l := logging.LoggerFromContext(ctx); l != nil {
		a.log = l
	}
	for _, opt := range opts {
		opt(a)
	}
	if err := info.Validate(); err != nil {
		return nil, err
	}
	cfg, err := resolveConfig(info, cfg)
	if err != nil {
		return nil, err
	}
	a.info, a.cfg, a.tau = info, cfg, info.Tau

	ctx, span := a.tracer.Start(ctx, "coulomb.New", trace.WithAttributes(
		attribute.Int("species", info.NSpecies()),
		attribute.Int("particles", info.NPart()),
		attribute.Int("order", cfg.Order),
		attribute.Bool("ewald", cfg.UseEwald),
		attribute.Float64("tau", info.Tau),
		attribute.Int("slices", info.NSlice),
	))
	defer span.End()

	if err := a.build(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	a.phase = Built
	span.SetAttributes(
		attribute.String("kind", a.kind.String()),
		attribute.Int("tables", len(a.tables)),
	)
	a.log.Info(ctx, "coulomb action ready",
		logging.Simulation(info),
		logging.String("kind", a.kind.String()),
		logging.Int("tables", len(a.tables)),
	)
	return a, nil
}

func resolveConfig(info *model.SimulationInfo, cfg Config) (Config, error) {
	if cfg.Order < 0 || cfg.Order > MaxOrder {
		return cfg, fmt.Errorf("%w: %d", ErrInvalidOrder, cfg.Order)
	}
	if cfg.Epsilon == 0 {
		cfg.Epsilon = 1
	}
	if cfg.Epsilon < 0 {
		return cfg, fmt.Errorf("invalid permittivity %v", cfg.Epsilon)
	}
	if cfg.RMin < 0 || cfg.RMax < 0 || (cfg.RMax > 0 && cfg.RMin >= cfg.RMax) {
		return cfg, fmt.Errorf("%w: range [%v, %v]", ErrInvalidGrid, cfg.RMin, cfg.RMax)
	}
	if cfg.NGridPoints == 0 {
		cfg.NGridPoints = DefaultGridPoints
	}
	if cfg.RMax == 0 {
		cfg.RMax = info.Cell.Diagonal()
	}
	if cfg.EwaldNDim == 0 {
		cfg.EwaldNDim = model.NDim
	}
	if cfg.EwaldNDim < 0 || cfg.EwaldNDim > model.NDim {
		return cfg, fmt.Errorf("%w: ewald dimensions %d", ewald.ErrInvalidCutoff, cfg.EwaldNDim)
	}
	if cfg.UseEwald && cfg.Ewald.Strategy == "" {
		cfg.Ewald.Strategy = ewald.Traditional
	}
	charged := false
	for _, sp := range info.Species {
		if sp.Charge != 0 {
			charged = true
		}
	}
	if !charged {
		return cfg, ErrNoChargedSpecies
	}
	return cfg, nil
}

func (a *CoulombAction) build(ctx context.Context) error {
	info, cfg := a.info, a.cfg

	fullEwald := cfg.UseEwald && cfg.EwaldNDim == model.NDim
	if fullEwald {
		es, err := ewald.New(info.Cell, info.Charges(), cfg.Ewald)
		if err != nil {
			return fmt.Errorf("ewald setup: %w", err)
		}
		a.ewald = es
		p := es.Params()
		a.log.Info(ctx, "ewald summation ready",
			logging.String("strategy", string(p.Strategy)),
			logging.Float("rcut", p.RCut),
			logging.Float("kcut", p.KCut),
			logging.Float("kappa", p.Kappa),
			logging.Int("kvectors", p.NKVec),
			logging.Float("self_energy", es.SelfEnergy()),
		)
		a.current = make([]model.Vec3, info.NPart())
		a.proposed = make([]model.Vec3, info.NPart())
	}

	layout := resolveLayout(info.Cell, cfg, cfg.RMax, fullEwald)
	a.kind = layout.kind

	var longRange func(float64) float64
	if a.ewald != nil {
		longRange = a.ewald.EvalFR
	}

	for i := 0; i < info.NSpecies(); i++ {
		for j := i; j < info.NSpecies(); j++ {
			pair, ok := NewSpeciesPair(i, j, info.Species[i], info.Species[j], cfg.Epsilon, cfg.Order, cfg.ExcludeLevel)
			if !ok {
				continue
			}
			t, err := a.buildTable(ctx, pair, layout, longRange)
			if err != nil {
				return err
			}
			a.tables = append(a.tables, t)
		}
	}
	if a.metrics != nil {
		a.metrics.SetTableCount(a.kind.String(), len(a.tables))
	}
	return nil
}

func (a *CoulombAction) buildTable(ctx context.Context, pair SpeciesPair, layout tableLayout, longRange func(float64) float64) (*PairActionTable, error) {
	ctx, span := a.tracer.Start(ctx, "coulomb.buildTable", trace.WithAttributes(
		attribute.String("pair", pair.String()),
		attribute.String("kind", layout.kind.String()),
	))
	defer span.End()
	start := time.Now()

	rmin := a.cfg.RMin
	if rmin == 0 {
		rmin = pair.RegularizationRadius()
	}
	prop, err := NewPairPropagator(pair.Q1Q2, pair.Mu, a.tau, pair.Displace2, longRange)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("pair %s: %w", pair, err)
	}
	span.SetAttributes(
		attribute.Float64("stau", prop.link.Stau()),
		attribute.Bool("classical_link", prop.link.Classical()),
	)
	grid, err := NewRadialGrid(rmin, a.cfg.RMax, a.cfg.NGridPoints, pair.Order, prop.U, prop.UTau)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("pair %s: %w", pair, err)
	}
	t := newPairActionTable(pair, a.info, layout, grid)

	elapsed := time.Since(start)
	if a.metrics != nil {
		a.metrics.ObserveTableBuild(layout.kind.String(), elapsed)
	}
	a.log.Info(ctx, "pair table built",
		logging.Pair(pair.String()),
		logging.String("kind", layout.kind.String()),
		logging.Int("order", pair.Order),
		logging.Float("stau", prop.link.Stau()),
		logging.Float("rmin", rmin),
		logging.Float("rmax", a.cfg.RMax),
		logging.Int("points", a.cfg.NGridPoints),
		logging.Int("images", len(layout.images)),
		logging.Any("duration", elapsed),
	)

	if a.cfg.DumpTables {
		if a.sink == nil {
			a.log.Warn(ctx, "table dump requested without a sink", logging.Pair(pair.String()))
		} else if err := a.sink.WriteTable(ctx, t); err != nil {
			return nil, fmt.Errorf("dump pair %s: %w", pair, err)
		}
	}
	return t, nil
}

// Phase reports the lifecycle stage.
func (a *CoulombAction) Phase() Phase { return a.phase }

// Tables returns the pair tables in build order.
func (a *CoulombAction) Tables() []*PairActionTable { return a.tables }

// Kind returns the table kind chosen at construction.
func (a *CoulombAction) Kind() TableKind { return a.kind }

// Ewald returns the long-range summation, or nil when none is active.
func (a *CoulombAction) Ewald() ewald.Summation { return a.ewald }

func (a *CoulombAction) query(op string) {
	a.phase = Active
	if a.metrics != nil {
		a.metrics.IncQuery(op)
	}
}

func (a *CoulombAction) longRange(r []model.Vec3) float64 {
	if a.metrics != nil {
		a.metrics.IncLongRange(string(a.ewald.Strategy()))
	}
	return a.ewald.EvalLongRange(r)
}

// ActionDifference returns the change in action of a multilevel move. The
// long-range term contributes at level 0 only, over the interior slices of
// the section.
func (a *CoulombAction) ActionDifference(s SectionSampler, level int) float64 {
	a.query("action_difference")
	u := 0.0
	for _, t := range a.tables {
		u += t.ActionDifference(s, level)
	}
	if a.ewald == nil || level != 0 {
		return u
	}
	section := s.SectionBeads()
	moving := s.MovingBeads()
	index := s.MovingIndex()
	scale := a.tau / a.cfg.Epsilon
	for islice := 1; islice < section.NSlice()-1; islice++ {
		for i := range a.current {
			a.current[i] = section.At(i, islice)
		}
		copy(a.proposed, a.current)
		for m, i := range index {
			a.proposed[i] = moving.At(m, islice)
		}
		u += (a.longRange(a.proposed) - a.longRange(a.current)) * scale
	}
	return u
}

// DisplacementActionDifference returns the change in action when each
// particle movingIndex[m] is displaced by disp[m] on slices first..last.
func (a *CoulombAction) DisplacementActionDifference(paths model.Paths, disp []model.Vec3, movingIndex []int, first, last int) float64 {
	a.query("displacement_action_difference")
	u := 0.0
	for _, t := range a.tables {
		u += t.DisplacementActionDifference(paths, disp, movingIndex, first, last)
	}
	if a.ewald == nil {
		return u
	}
	cell := paths.Cell()
	scale := a.tau / a.cfg.Epsilon
	for islice := first; islice <= last; islice++ {
		a.current = paths.Slice(islice, a.current)
		copy(a.proposed, a.current)
		for m, i := range movingIndex {
			a.proposed[i] = cell.PBC(a.proposed[i].Add(disp[m]))
		}
		u += (a.longRange(a.proposed) - a.longRange(a.current)) * scale
	}
	return u
}

// TotalAction is always zero; only differences and bead terms are tracked.
func (a *CoulombAction) TotalAction(paths model.Paths, level int) float64 {
	a.query("total_action")
	return 0
}

// BeadAction sums the pair contributions of one bead. The long-range energy of
// the slice is attributed to particle 0 only.
func (a *CoulombAction) BeadAction(paths model.Paths, ipart, islice int) BeadAction {
	a.query("bead_action")
	out := a.pairBeadAction(paths, ipart, islice)
	if a.ewald != nil && ipart == 0 {
		lr := a.sliceLongRange(paths, islice)
		out.U += lr * a.tau
		out.UTau += lr
	}
	return out
}

// Action returns the action attributed to one slice: every bead's pair share
// plus one long-range term.
func (a *CoulombAction) Action(paths model.Paths, islice int) float64 {
	a.query("action")
	u := 0.0
	for ipart := 0; ipart < paths.NPart(); ipart++ {
		u += a.pairBeadAction(paths, ipart, islice).U
	}
	if a.ewald != nil {
		u += a.sliceLongRange(paths, islice) * a.tau
	}
	return u
}

// EField returns the x component of the forward link force on a bead divided
// by tau.
func (a *CoulombAction) EField(paths model.Paths, ipart, islice int) float64 {
	a.query("efield")
	return a.pairBeadAction(paths, ipart, islice).FPlus.X / a.tau
}

func (a *CoulombAction) pairBeadAction(paths model.Paths, ipart, islice int) BeadAction {
	var out BeadAction
	for _, t := range a.tables {
		out.add(t.BeadAction(paths, ipart, islice))
	}
	return out
}

func (a *CoulombAction) sliceLongRange(paths model.Paths, islice int) float64 {
	a.current = paths.Slice(islice, a.current)
	return a.longRange(a.current) / a.cfg.Epsilon
}
