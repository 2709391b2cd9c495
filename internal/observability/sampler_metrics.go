package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SamplerCollector exposes Monte Carlo sampler metrics.
type SamplerCollector struct {
	gatherer prometheus.Gatherer

	SweepDuration  prometheus.Histogram
	SweepsTotal    prometheus.Counter
	AcceptRatio    prometheus.Gauge
	ActionEstimate prometheus.Gauge
}

// NewSamplerCollector registers sampler metrics against the provided registerer.
func NewSamplerCollector(reg prometheus.Registerer) (*SamplerCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	sweepHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sampler_sweep_duration_seconds",
		Help:    "Duration of one Monte Carlo sweep over all beads.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})
	sweepHistogram, err := registerHistogram(reg, sweepHistogram, "sampler_sweep_duration_seconds")
	if err != nil {
		return nil, err
	}

	sweeps := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sampler_sweeps_total",
		Help: "Cumulative number of completed Monte Carlo sweeps.",
	})
	sweeps, err = registerCounter(reg, sweeps, "sampler_sweeps_total")
	if err != nil {
		return nil, err
	}

	accept := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sampler_acceptance_ratio",
		Help: "Fraction of accepted moves in the most recent sweep.",
	})
	accept, err = registerGauge(reg, accept, "sampler_acceptance_ratio")
	if err != nil {
		return nil, err
	}

	action := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sampler_coulomb_action",
		Help: "Coulomb action of the current path configuration.",
	})
	action, err = registerGauge(reg, action, "sampler_coulomb_action")
	if err != nil {
		return nil, err
	}

	return &SamplerCollector{
		gatherer:       gatherer,
		SweepDuration:  sweepHistogram,
		SweepsTotal:    sweeps,
		AcceptRatio:    accept,
		ActionEstimate: action,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SamplerCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveSweep records one completed sweep and its acceptance ratio.
func (c *SamplerCollector) ObserveSweep(d time.Duration, acceptRatio float64) {
	if c == nil {
		return
	}
	if c.SweepDuration != nil {
		c.SweepDuration.Observe(d.Seconds())
	}
	if c.SweepsTotal != nil {
		c.SweepsTotal.Inc()
	}
	if c.AcceptRatio != nil {
		if acceptRatio < 0 {
			acceptRatio = 0
		}
		if acceptRatio > 1 {
			acceptRatio = 1
		}
		c.AcceptRatio.Set(acceptRatio)
	}
}

// SetAction updates the current action gauge.
func (c *SamplerCollector) SetAction(u float64) {
	if c == nil || c.ActionEstimate == nil {
		return
	}
	c.ActionEstimate.Set(u)
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
