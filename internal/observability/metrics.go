package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ActionCollector bundles Prometheus metrics for the Coulomb action engine.
// It satisfies core.MetricsRecorder.
type ActionCollector struct {
	gatherer prometheus.Gatherer

	PairTables         *prometheus.GaugeVec
	TableBuildDuration *prometheus.HistogramVec
	Queries            *prometheus.CounterVec
	LongRangeEvals     *prometheus.CounterVec
}

// NewActionCollector registers engine metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewActionCollector(reg prometheus.Registerer) (*ActionCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	tables := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "coulomb_pair_tables",
		Help: "Number of pair action tables built, labeled by table kind.",
	}, []string{"kind"})
	tables, err := registerGaugeVec(reg, tables, "coulomb_pair_tables")
	if err != nil {
		return nil, err
	}

	builds := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "coulomb_table_build_duration_seconds",
		Help:    "Time spent tabulating one species pair, labeled by table kind.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"kind"})
	builds, err = registerHistogramVec(reg, builds, "coulomb_table_build_duration_seconds")
	if err != nil {
		return nil, err
	}

	queries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coulomb_action_queries_total",
		Help: "Total number of action queries, labeled by operation.",
	}, []string{"operation"})
	queries, err = registerCounterVec(reg, queries, "coulomb_action_queries_total")
	if err != nil {
		return nil, err
	}

	longRange := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coulomb_long_range_evaluations_total",
		Help: "Total number of reciprocal-space energy evaluations, labeled by Ewald strategy.",
	}, []string{"strategy"})
	longRange, err = registerCounterVec(reg, longRange, "coulomb_long_range_evaluations_total")
	if err != nil {
		return nil, err
	}

	return &ActionCollector{
		gatherer:           gatherer,
		PairTables:         tables,
		TableBuildDuration: builds,
		Queries:            queries,
		LongRangeEvals:     longRange,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *ActionCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveTableBuild records the time spent building one pair table.
func (c *ActionCollector) ObserveTableBuild(kind string, d time.Duration) {
	if c == nil || c.TableBuildDuration == nil {
		return
	}
	c.TableBuildDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// SetTableCount sets the number of tables of the given kind.
func (c *ActionCollector) SetTableCount(kind string, n int) {
	if c == nil || c.PairTables == nil {
		return
	}
	c.PairTables.WithLabelValues(kind).Set(float64(n))
}

// IncQuery counts one engine query.
func (c *ActionCollector) IncQuery(operation string) {
	if c == nil || c.Queries == nil {
		return
	}
	c.Queries.WithLabelValues(operation).Inc()
}

// IncLongRange counts one long-range energy evaluation.
func (c *ActionCollector) IncLongRange(strategy string) {
	if c == nil || c.LongRangeEvals == nil {
		return
	}
	c.LongRangeEvals.WithLabelValues(strategy).Inc()
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
