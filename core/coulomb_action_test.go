package core

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/signalsfoundry/coulomb-action/ewald"
	"github.com/signalsfoundry/coulomb-action/model"
)

type testSampler struct {
	moving  *model.BeadArray
	section *model.BeadArray
	index   []int
	cell    *model.SuperCell
}

func (s *testSampler) MovingBeads() model.Beads  { return s.moving }
func (s *testSampler) SectionBeads() model.Beads { return s.section }
func (s *testSampler) MovingIndex() []int        { return s.index }
func (s *testSampler) Cell() *model.SuperCell    { return s.cell }

// reversed returns the sampler of the inverse move.
func (s *testSampler) reversed() *testSampler {
	out := &testSampler{
		moving:  model.NewBeadArray(len(s.index), s.section.NSlice()),
		section: s.section.Clone(),
		index:   s.index,
		cell:    s.cell,
	}
	for m, i := range s.index {
		for k := 0; k < s.section.NSlice(); k++ {
			out.moving.Set(m, k, s.section.At(i, k))
			out.section.Set(i, k, s.moving.At(m, k))
		}
	}
	return out
}

type recordingMetrics struct {
	builds    int
	tables    map[string]int
	queries   map[string]int
	longRange int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{tables: map[string]int{}, queries: map[string]int{}}
}

func (m *recordingMetrics) ObserveTableBuild(string, time.Duration) { m.builds++ }
func (m *recordingMetrics) SetTableCount(kind string, n int)       { m.tables[kind] = n }
func (m *recordingMetrics) IncQuery(op string)                     { m.queries[op]++ }
func (m *recordingMetrics) IncLongRange(string)                    { m.longRange++ }

type recordingSink struct{ pairs []string }

func (s *recordingSink) WriteTable(_ context.Context, t *PairActionTable) error {
	s.pairs = append(s.pairs, t.Pair().String())
	return nil
}

const testSlices = 8

func electronProtonInfo(t *testing.T, side float64) *model.SimulationInfo {
	t.Helper()
	cell, err := model.NewSuperCell(model.Vec3{X: side, Y: side, Z: side})
	if err != nil {
		t.Fatalf("NewSuperCell error: %v", err)
	}
	return &model.SimulationInfo{
		Tau:    0.1,
		NSlice: testSlices,
		Cell:   cell,
		Species: []model.Species{
			{Name: "e", Count: 2, Mass: 1, Charge: -1},
			{Name: "p", Count: 1, Mass: 1836, Charge: 1},
		},
	}
}

func randomPaths(info *model.SimulationInfo, seed int64) *model.PathArray {
	rng := rand.New(rand.NewSource(seed))
	paths := model.NewPathArray(info.NPart(), info.NSlice, info.Cell)
	for i := 0; i < info.NPart(); i++ {
		center := model.Vec3{
			X: (rng.Float64() - 0.5) * info.Cell.A.X,
			Y: (rng.Float64() - 0.5) * info.Cell.A.Y,
			Z: (rng.Float64() - 0.5) * info.Cell.A.Z,
		}
		for s := 0; s < info.NSlice; s++ {
			jitter := model.Vec3{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()}
			paths.Set(i, s, center.Add(jitter.Scale(0.1)))
		}
	}
	return paths
}

// sectionMove builds a sampler over path slices [start, start+n) that moves
// the listed particles by disp on the interior slices.
func sectionMove(paths *model.PathArray, start, n int, index []int, disp []model.Vec3) *testSampler {
	s := &testSampler{
		moving:  model.NewBeadArray(len(index), n),
		section: model.NewBeadArray(paths.NPart(), n),
		index:   index,
		cell:    paths.Cell(),
	}
	for i := 0; i < paths.NPart(); i++ {
		for k := 0; k < n; k++ {
			s.section.Set(i, k, paths.Position(i, start+k))
		}
	}
	for m, i := range index {
		for k := 0; k < n; k++ {
			r := paths.Position(i, start+k)
			if k > 0 && k < n-1 {
				r = paths.Cell().PBC(r.Add(disp[m]))
			}
			s.moving.Set(m, k, r)
		}
	}
	return s
}

func mustEngine(t *testing.T, info *model.SimulationInfo, cfg Config, opts ...Option) *CoulombAction {
	t.Helper()
	if cfg.NGridPoints == 0 {
		cfg.NGridPoints = 200
	}
	a, err := New(context.Background(), info, cfg, opts...)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return a
}

func ewaldConfig(order int) Config {
	return Config{Order: order, UseEwald: true, Ewald: ewald.Config{Strategy: ewald.Traditional}}
}

func TestNewConfigurationErrors(t *testing.T) {
	info := electronProtonInfo(t, 4)
	neutral := *info
	neutral.Species = []model.Species{{Name: "n", Count: 2, Mass: 1}}

	cases := []struct {
		name string
		info *model.SimulationInfo
		cfg  Config
		want error
	}{
		{"no charges", &neutral, Config{}, ErrNoChargedSpecies},
		{"order", info, Config{Order: 5}, ErrInvalidOrder},
		{"grid", info, Config{RMin: 1, RMax: 0.5}, ErrInvalidGrid},
		{"strategy", info, Config{UseEwald: true, Ewald: ewald.Config{Strategy: "bogus"}}, ewald.ErrUnknownStrategy},
		{"cutoff", info, Config{UseEwald: true, Ewald: ewald.Config{Strategy: ewald.Traditional, RCut: 3}}, ewald.ErrInvalidCutoff},
		{"cell", &model.SimulationInfo{Tau: 0.1, NSlice: 4, Species: info.Species}, Config{}, model.ErrInvalidSimulation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(context.Background(), tc.info, tc.cfg); !errors.Is(err, tc.want) {
				t.Fatalf("New err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestBuildTablesAndPhase(t *testing.T) {
	metrics := newRecordingMetrics()
	sink := &recordingSink{}
	cfg := ewaldConfig(2)
	cfg.DumpTables = true
	a := mustEngine(t, electronProtonInfo(t, 4), cfg, WithMetrics(metrics), WithTableSink(sink))

	if a.Phase() != Built {
		t.Fatalf("phase after New = %s, want built", a.Phase())
	}
	// e-e and e-p interact; the single proton has no partner of its kind.
	if got := len(a.Tables()); got != 2 {
		t.Fatalf("tables = %d, want 2", got)
	}
	if a.Tables()[0].Pair().String() != "e-e" || a.Tables()[1].Pair().String() != "e-p" {
		t.Fatalf("unexpected pairs %s, %s", a.Tables()[0].Pair(), a.Tables()[1].Pair())
	}
	if a.Kind() != PlainTable || a.Ewald() == nil {
		t.Fatalf("kind = %s, ewald = %v", a.Kind(), a.Ewald())
	}
	if metrics.builds != 2 || metrics.tables["plain"] != 2 {
		t.Fatalf("metrics builds=%d tables=%v", metrics.builds, metrics.tables)
	}
	if len(sink.pairs) != 2 {
		t.Fatalf("sink received %v", sink.pairs)
	}

	paths := randomPaths(a.info, 1)
	if got := a.TotalAction(paths, 0); got != 0 {
		t.Fatalf("TotalAction = %v, want 0", got)
	}
	if a.Phase() != Active {
		t.Fatalf("phase after query = %s, want active", a.Phase())
	}
	if metrics.queries["total_action"] != 1 {
		t.Fatalf("queries = %v", metrics.queries)
	}
}

func TestClassicalPairForcedToOrderZero(t *testing.T) {
	info := electronProtonInfo(t, 4)
	info.Species[1].Count = 2
	info.Species[1].Mass = 2000
	a := mustEngine(t, info, Config{Order: 3})
	for _, tab := range a.Tables() {
		want := 3
		if tab.Pair().String() == "p-p" {
			want = 0
		}
		if tab.Pair().Order != want || tab.Grid().Order() != want {
			t.Fatalf("%s order = %d, want %d", tab.Pair(), tab.Pair().Order, want)
		}
	}
}

func TestActionDifferenceAntisymmetric(t *testing.T) {
	for _, cfg := range []Config{{Order: 2}, ewaldConfig(2)} {
		a := mustEngine(t, electronProtonInfo(t, 4), cfg)
		paths := randomPaths(a.info, 2)
		move := sectionMove(paths, 2, 5, []int{0, 2}, []model.Vec3{{X: 0.2, Y: -0.1}, {Z: 0.15}})
		for level := 0; level <= 1; level++ {
			fwd := a.ActionDifference(move, level)
			back := a.ActionDifference(move.reversed(), level)
			if fwd == 0 {
				t.Fatalf("ewald=%v level %d: move produced no action change", cfg.UseEwald, level)
			}
			if math.Abs(fwd+back) > 1e-12*math.Max(1, math.Abs(fwd)) {
				t.Fatalf("ewald=%v level %d: forward %v, reverse %v", cfg.UseEwald, level, fwd, back)
			}
		}
	}
}

func TestZeroMoveGivesZero(t *testing.T) {
	a := mustEngine(t, electronProtonInfo(t, 4), ewaldConfig(3))
	paths := randomPaths(a.info, 3)
	move := sectionMove(paths, 0, 6, []int{1}, []model.Vec3{{}})
	if got := a.ActionDifference(move, 0); got != 0 {
		t.Fatalf("ActionDifference of identical configurations = %v", got)
	}
	if got := a.DisplacementActionDifference(paths, []model.Vec3{{}, {}}, []int{0, 2}, 1, 5); got != 0 {
		t.Fatalf("DisplacementActionDifference of zero displacement = %v", got)
	}
}

func TestDisplacementMatchesSectionMove(t *testing.T) {
	a := mustEngine(t, electronProtonInfo(t, 4), ewaldConfig(2))
	paths := randomPaths(a.info, 4)
	index := []int{0, 2}
	disp := []model.Vec3{{X: 0.05, Y: 0.02}, {Y: -0.04, Z: 0.03}}

	// Slices 2..4 move; the section covers 1..5 with fixed end points.
	viaDisp := a.DisplacementActionDifference(paths, disp, index, 2, 4)
	viaSection := a.ActionDifference(sectionMove(paths, 1, 5, index, disp), 0)
	if math.Abs(viaDisp-viaSection) > 1e-9 {
		t.Fatalf("displacement %v, section move %v", viaDisp, viaSection)
	}
}

func TestDisplacementOfWholePath(t *testing.T) {
	a := mustEngine(t, electronProtonInfo(t, 4), Config{Order: 2})
	paths := randomPaths(a.info, 5)
	disp := []model.Vec3{{X: 0.3}}

	before := 0.0
	for s := 0; s < paths.NSlice(); s++ {
		before += a.Action(paths, s)
	}
	got := a.DisplacementActionDifference(paths, disp, []int{1}, 0, paths.NSlice()-1)

	moved := paths.Clone()
	for s := 0; s < paths.NSlice(); s++ {
		moved.Set(1, s, paths.Position(1, s).Add(disp[0]))
	}
	after := 0.0
	for s := 0; s < moved.NSlice(); s++ {
		after += a.Action(moved, s)
	}
	if math.Abs(got-(after-before)) > 1e-9 {
		t.Fatalf("whole-path displacement %v, action change %v", got, after-before)
	}
}

func TestBeadActionLongRangeOnReferenceParticle(t *testing.T) {
	a := mustEngine(t, electronProtonInfo(t, 4), ewaldConfig(1))
	paths := randomPaths(a.info, 6)
	const islice = 3

	lr := a.Ewald().EvalLongRange(paths.Slice(islice, nil))
	for ipart := 0; ipart < paths.NPart(); ipart++ {
		pair := a.pairBeadAction(paths, ipart, islice)
		got := a.BeadAction(paths, ipart, islice)
		wantU, wantTau := pair.U, pair.UTau
		if ipart == 0 {
			wantU += lr * a.tau
			wantTau += lr
		}
		if math.Abs(got.U-wantU) > 1e-12 || math.Abs(got.UTau-wantTau) > 1e-12 {
			t.Fatalf("particle %d: bead action %+v, want U=%v UTau=%v", ipart, got, wantU, wantTau)
		}
		if got.ULambda != 0 {
			t.Fatalf("ULambda = %v, want 0", got.ULambda)
		}
	}

	sum := 0.0
	for ipart := 0; ipart < paths.NPart(); ipart++ {
		sum += a.BeadAction(paths, ipart, islice).U
	}
	if got := a.Action(paths, islice); math.Abs(got-sum) > 1e-12 {
		t.Fatalf("Action = %v, sum of bead actions = %v", got, sum)
	}
}

func TestBeadForcesMatchActionGradient(t *testing.T) {
	a := mustEngine(t, electronProtonInfo(t, 4), Config{Order: 2, NGridPoints: 600})
	paths := randomPaths(a.info, 7)
	const (
		ipart  = 1
		islice = 3
		h      = 1e-5
	)
	total := func(p *model.PathArray) float64 {
		s := 0.0
		for k := 0; k < p.NSlice(); k++ {
			s += a.Action(p, k)
		}
		return s
	}
	bead := a.BeadAction(paths, ipart, islice)
	force := bead.FMinus.Add(bead.FPlus)
	for dim := 0; dim < model.NDim; dim++ {
		r := paths.Position(ipart, islice)
		plus, minus := paths.Clone(), paths.Clone()
		plus.Set(ipart, islice, r.WithComponent(dim, r.Component(dim)+h))
		minus.Set(ipart, islice, r.WithComponent(dim, r.Component(dim)-h))
		grad := (total(plus) - total(minus)) / (2 * h)
		if math.Abs(force.Component(dim)+grad) > 1e-4*math.Max(1, math.Abs(grad)) {
			t.Fatalf("dim %d: force %v, -gradient %v", dim, force.Component(dim), -grad)
		}
	}
	if got, want := a.EField(paths, ipart, islice), bead.FPlus.X/a.tau; got != want {
		t.Fatalf("EField = %v, want %v", got, want)
	}
}

// The bead action of a static pair reproduces the pair action assembled
// independently from a squared-density solution of the one-dimensional
// problem.
func TestStaticPairBeadEnergyMatchesSquaredDensity(t *testing.T) {
	cell, err := model.NewSuperCell(model.Vec3{X: 10, Y: 10, Z: 10})
	if err != nil {
		t.Fatalf("NewSuperCell error: %v", err)
	}
	const tau = 0.1
	info := &model.SimulationInfo{
		Tau:    tau,
		NSlice: 4,
		Cell:   cell,
		Species: []model.Species{
			{Name: "p", Count: 1, Mass: 1, Charge: 1},
			{Name: "e", Count: 1, Mass: 1, Charge: -1},
		},
	}
	a := mustEngine(t, info, Config{Order: 0, NGridPoints: 500})

	// mu = 1/2 and q1q2 = -1 give stau = -sqrt(tau); r = 2 sqrt(tau) sits on
	// node 50 of the reference grid, xi = 2.
	stau := -math.Sqrt(tau)
	ref := newSquaredDensity(stau)
	const node = 50
	xi := float64(node) * ref.h
	r := xi * math.Sqrt(tau)
	want := ref.action(node, node) - math.Log(1+4*(-math.Expm1(-xi*xi))*ref.firstMoment(node))

	paths := model.NewPathArray(2, 4, cell)
	for s := 0; s < 4; s++ {
		paths.Set(0, s, model.Vec3{})
		paths.Set(1, s, model.Vec3{X: r})
	}
	// Both links of a static bead equal u_0(r); the bead carries half of
	// each, shared with the partner.
	got := 2 * a.BeadAction(paths, 0, 1).U
	if relErr(got, want) > 1e-3 {
		t.Fatalf("bead energy %v, squared density %v", got, want)
	}
	if primitive := -tau / r; relErr(got, primitive) > 0.05 {
		t.Fatalf("bead energy %v far from primitive %v", got, primitive)
	}
	if f := a.BeadAction(paths, 0, 1); math.Abs(f.FMinus.Y) > 1e-12 || f.FMinus.X == 0 {
		t.Fatalf("force on static pair %+v should point along x", f.FMinus)
	}
}

func TestExcludedSameSpeciesPairSkipsLevel0(t *testing.T) {
	info := electronProtonInfo(t, 4)
	a := mustEngine(t, info, Config{Order: 1, ExcludeLevel: 1})
	paths := randomPaths(info, 8)
	ee := a.Tables()[0]
	if ee.Pair().ExcludeLevel != 0 {
		t.Fatalf("e-e exclusion level = %d, want 0", ee.Pair().ExcludeLevel)
	}
	if got := ee.BeadAction(paths, 0, 2); got.U != 0 {
		t.Fatalf("excluded table bead action = %+v", got)
	}
	move := sectionMove(paths, 0, 5, []int{0}, []model.Vec3{{X: 0.1}})
	if got := ee.ActionDifference(move, 0); got != 0 {
		t.Fatalf("excluded level 0 difference = %v", got)
	}
	if got := ee.ActionDifference(move, 1); got == 0 {
		t.Fatalf("level 1 should not be excluded")
	}
}

func TestPeriodicImageEngineHasNoLongRange(t *testing.T) {
	cfg := Config{Order: 1, UseEwald: true, EwaldNDim: 2, RMax: 5}
	a := mustEngine(t, electronProtonInfo(t, 4), cfg)
	if a.Kind() != PeriodicImageTable || a.Ewald() != nil {
		t.Fatalf("kind = %s, ewald = %v", a.Kind(), a.Ewald())
	}
	if got := a.Tables()[0].NImages(); got != 9 {
		t.Fatalf("images = %d, want 9", got)
	}
}
