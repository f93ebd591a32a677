package lowka

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// prometheusRegistry adapts MetricsRegistry onto prometheus/client_golang,
// for hosts that already expose a /metrics endpoint rather than a
// rcrowley-style pull/flush reporter. Counter and GaugeFunc names are
// derived from the dotted meter/gauge names by replacing '.' with '_', per
// Prometheus naming convention.
type prometheusRegistry struct {
	namespace string
	reg       *prometheus.Registry

	mu       sync.Mutex
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.GaugeFunc
}

// NewPrometheusRegistry returns a MetricsRegistry whose state is exposed via
// the returned registry's Gatherer (wire it into promhttp.HandlerFor in the
// host process). namespace is applied as a Prometheus metric namespace.
func NewPrometheusRegistry(namespace string) (MetricsRegistry, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return &prometheusRegistry{
		namespace: namespace,
		reg:       reg,
		counters:  make(map[string]prometheus.Counter),
		gauges:    make(map[string]prometheus.GaugeFunc),
	}, reg
}

func promName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}

func (p *prometheusRegistry) Meter(name string) Meter {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.counters[name]
	if !ok {
		c = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Name:      promName(name),
			Help:      name,
		})
		p.reg.MustRegister(c)
		p.counters[name] = c
	}
	return promMeter{c}
}

func (p *prometheusRegistry) Gauge(name string, f func() int64) Gauge {
	p.mu.Lock()
	defer p.mu.Unlock()

	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: p.namespace,
		Name:      promName(name),
		Help:      name,
	}, func() float64 { return float64(f()) })
	p.reg.MustRegister(g)
	p.gauges[name] = g
	return promGauge{}
}

func (p *prometheusRegistry) Unregister(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.counters[name]; ok {
		p.reg.Unregister(c)
		delete(p.counters, name)
	}
	if g, ok := p.gauges[name]; ok {
		p.reg.Unregister(g)
		delete(p.gauges, name)
	}
}

type promMeter struct {
	c prometheus.Counter
}

func (m promMeter) Mark(n int64) { m.c.Add(float64(n)) }

// promGauge is a no-op Update target: prometheus.GaugeFunc samples via its
// own closure, it cannot be pushed to directly.
type promGauge struct{}

func (promGauge) Update(int64) {}
