package observability

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics implements Metrics on a Prometheus registry. Vectors
// are created on first use; the label set of that first call is fixed for
// the metric and later calls with other label keys are dropped.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheusMetrics creates a registry with Go and process collectors.
func NewPrometheusMetrics() *PrometheusMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &PrometheusMetrics{
		registry:   reg,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// Handler serves the registry in the exposition format.
func (p *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// Registry exposes the underlying registry.
func (p *PrometheusMetrics) Registry() *prometheus.Registry {
	return p.registry
}

func (p *PrometheusMetrics) Counter(name string, value int64, tags ...Tag) {
	keys, labels := splitTags(tags)
	p.mu.Lock()
	vec, ok := p.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: promName(name) + "_total",
			Help: name,
		}, keys)
		if err := p.registry.Register(vec); err != nil {
			p.mu.Unlock()
			return
		}
		p.counters[name] = vec
	}
	p.mu.Unlock()

	if c, err := vec.GetMetricWith(labels); err == nil {
		c.Add(float64(value))
	}
}

func (p *PrometheusMetrics) Gauge(name string, value float64, tags ...Tag) {
	keys, labels := splitTags(tags)
	p.mu.Lock()
	vec, ok := p.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: promName(name), Help: name}, keys)
		if err := p.registry.Register(vec); err != nil {
			p.mu.Unlock()
			return
		}
		p.gauges[name] = vec
	}
	p.mu.Unlock()

	if g, err := vec.GetMetricWith(labels); err == nil {
		g.Set(value)
	}
}

func (p *PrometheusMetrics) Histogram(name string, value float64, tags ...Tag) {
	p.observe(promName(name), name, value, tags)
}

func (p *PrometheusMetrics) Timing(name string, d time.Duration, tags ...Tag) {
	p.observe(promName(name)+"_seconds", name, d.Seconds(), tags)
}

func (p *PrometheusMetrics) observe(promKey, help string, value float64, tags []Tag) {
	keys, labels := splitTags(tags)
	p.mu.Lock()
	vec, ok := p.histograms[promKey]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    promKey,
			Help:    help,
			Buckets: prometheus.DefBuckets,
		}, keys)
		if err := p.registry.Register(vec); err != nil {
			p.mu.Unlock()
			return
		}
		p.histograms[promKey] = vec
	}
	p.mu.Unlock()

	if h, err := vec.GetMetricWith(labels); err == nil {
		h.Observe(value)
	}
}

func splitTags(tags []Tag) ([]string, prometheus.Labels) {
	keys := make([]string, 0, len(tags))
	labels := make(prometheus.Labels, len(tags))
	for _, t := range tags {
		k := promName(t.Key)
		if _, dup := labels[k]; !dup {
			keys = append(keys, k)
		}
		labels[k] = t.Value
	}
	sort.Strings(keys)
	return keys, labels
}

// promName maps dotted metric names onto the Prometheus charset.
func promName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_", " ", "_").Replace(name)
}
