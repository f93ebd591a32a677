package lowka

import (
	metrics "github.com/rcrowley/go-metrics"
)

// meteredRegistry is the package's in-process MetricsRegistry backend,
// backed by rcrowley/go-metrics - the same metrics family the wider
// Kafka-on-Go ecosystem this package grew out of already depends on
// transitively. A Producer uses it only when it is passed via
// WithMetricsRegistry; without that option a Producer reports into a no-op
// registry.
type meteredRegistry struct {
	registry metrics.Registry
}

// NewMeteredRegistry returns a MetricsRegistry backed by a fresh
// rcrowley/go-metrics registry. Pass the result to WithMetricsRegistry, or
// call metrics.DefaultRegistry-style reporters (graphite, statsd, log) on
// the returned value's Registry() separately if the host wants periodic
// flushing.
func NewMeteredRegistry() MetricsRegistry {
	return &meteredRegistry{registry: metrics.NewRegistry()}
}

// Registry exposes the underlying rcrowley registry so a host can attach a
// reporter (e.g. metrics.Log, metrics.GraphiteWithConfig) independently of
// the Producer lifecycle.
func (m *meteredRegistry) Registry() metrics.Registry {
	return m.registry
}

func (m *meteredRegistry) Meter(name string) Meter {
	return meteredMeter{metrics.GetOrRegisterMeter(name, m.registry)}
}

func (m *meteredRegistry) Gauge(name string, f func() int64) Gauge {
	g := metrics.NewFunctionalGauge(f)
	if err := m.registry.Register(name, g); err != nil {
		Logger.Printf("lowka: failed to register gauge %s: %s", name, err)
	}
	return meteredGauge{}
}

func (m *meteredRegistry) Unregister(name string) {
	m.registry.Unregister(name)
}

type meteredMeter struct {
	m metrics.Meter
}

func (mm meteredMeter) Mark(n int64) { mm.m.Mark(n) }

// meteredGauge is a no-op Update target: the underlying metrics.Gauge is a
// NewFunctionalGauge, which samples its value lazily from the callback
// passed to Gauge() and panics if Update is called on it directly.
type meteredGauge struct{}

func (meteredGauge) Update(int64) {}
