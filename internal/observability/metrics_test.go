package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/signalsfoundry/coulomb-action/core"
	"github.com/signalsfoundry/coulomb-action/model"
)

var _ core.MetricsRecorder = (*ActionCollector)(nil)

func TestActionCollectorRecordsEngineActivity(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewActionCollector(reg)
	if err != nil {
		t.Fatalf("NewActionCollector: %v", err)
	}

	cell, err := model.NewSuperCell(model.Vec3{X: 4, Y: 4, Z: 4})
	if err != nil {
		t.Fatalf("NewSuperCell: %v", err)
	}
	info := &model.SimulationInfo{
		Tau:    0.1,
		NSlice: 4,
		Cell:   cell,
		Species: []model.Species{
			{Name: "e", Count: 2, Mass: 1, Charge: -1},
			{Name: "p", Count: 2, Mass: 1836, Charge: 1},
		},
	}
	action, err := core.New(context.Background(), info, core.Config{Order: 1, NGridPoints: 100, UseEwald: true}, core.WithMetrics(collector))
	if err != nil {
		t.Fatalf("core.New: %v", err)
	}

	if got := testutil.ToFloat64(collector.PairTables.WithLabelValues("plain")); got != 3 {
		t.Fatalf("coulomb_pair_tables{plain} = %v, want 3", got)
	}
	if count := histogramSampleCount(t, reg, "coulomb_table_build_duration_seconds", map[string]string{"kind": "plain"}); count != 3 {
		t.Fatalf("coulomb_table_build_duration_seconds sample_count = %d, want 3", count)
	}

	paths := model.NewPathArray(info.NPart(), info.NSlice, cell)
	for i := 0; i < info.NPart(); i++ {
		for s := 0; s < info.NSlice; s++ {
			paths.Set(i, s, model.Vec3{X: float64(i) - 1.5, Y: 0.1 * float64(s)})
		}
	}
	_ = action.Action(paths, 0)
	_ = action.Action(paths, 1)
	_ = action.BeadAction(paths, 0, 0)

	if got := testutil.ToFloat64(collector.Queries.WithLabelValues("action")); got != 2 {
		t.Fatalf("coulomb_action_queries_total{action} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.Queries.WithLabelValues("bead_action")); got != 1 {
		t.Fatalf("coulomb_action_queries_total{bead_action} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.LongRangeEvals.WithLabelValues("tradEwald")); got != 3 {
		t.Fatalf("coulomb_long_range_evaluations_total = %v, want 3", got)
	}
}

func TestCollectorReusesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewActionCollector(reg)
	if err != nil {
		t.Fatalf("NewActionCollector: %v", err)
	}
	second, err := NewActionCollector(reg)
	if err != nil {
		t.Fatalf("second NewActionCollector: %v", err)
	}
	first.IncQuery("action")
	second.IncQuery("action")
	if got := testutil.ToFloat64(first.Queries.WithLabelValues("action")); got != 2 {
		t.Fatalf("shared counter = %v, want 2", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *ActionCollector
	c.ObserveTableBuild("plain", time.Millisecond)
	c.SetTableCount("plain", 1)
	c.IncQuery("action")
	c.IncLongRange("optEwald")

	var s *SamplerCollector
	s.ObserveSweep(time.Millisecond, 0.5)
	s.SetAction(1)
	if s.Gatherer() != nil {
		t.Fatalf("nil collector gatherer should be nil")
	}
}

func TestSamplerCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewSamplerCollector(reg)
	if err != nil {
		t.Fatalf("NewSamplerCollector: %v", err)
	}
	c.ObserveSweep(2*time.Millisecond, 0.4)
	c.ObserveSweep(3*time.Millisecond, 1.7)
	c.SetAction(-0.25)

	if got := testutil.ToFloat64(c.SweepsTotal); got != 2 {
		t.Fatalf("sampler_sweeps_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.AcceptRatio); got != 1 {
		t.Fatalf("sampler_acceptance_ratio = %v, want clamped 1", got)
	}
	if got := testutil.ToFloat64(c.ActionEstimate); got != -0.25 {
		t.Fatalf("sampler_coulomb_action = %v, want -0.25", got)
	}
	if count := histogramSampleCount(t, reg, "sampler_sweep_duration_seconds", nil); count != 2 {
		t.Fatalf("sampler_sweep_duration_seconds sample_count = %d, want 2", count)
	}
}

func TestMetricsHandlerExposesEngineMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewActionCollector(reg)
	if err != nil {
		t.Fatalf("NewActionCollector: %v", err)
	}
	collector.SetTableCount("ewald_image", 3)
	collector.ObserveTableBuild("ewald_image", 20*time.Millisecond)
	collector.IncQuery("action_difference")
	collector.IncLongRange("optEwald")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		`coulomb_pair_tables{kind="ewald_image"} 3`,
		"coulomb_table_build_duration_seconds",
		`coulomb_action_queries_total{operation="action_difference"} 1`,
		`coulomb_long_range_evaluations_total{strategy="optEwald"} 1`,
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output:\n%s", metric, body)
		}
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
