// Package metrics collects the samples produced by virtual users: counters,
// gauges, boolean rates and latency trends. Every metric is mirrored into a
// private Prometheus registry so a running test can be scraped.
package metrics

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Built-in metric names.
const (
	HTTPReqs          = "http_reqs"
	HTTPReqDuration   = "http_req_duration"
	HTTPReqFailed     = "http_req_failed"
	Checks            = "checks"
	Iterations        = "iterations"
	IterationDuration = "iteration_duration"
	DroppedIterations = "dropped_iterations"
	VUs               = "vus"
	VUsMax            = "vus_max"
)

const promNamespace = "loadtest"

// Metric is a named sample stream with optional tagged sub-streams.
type Metric struct {
	Name    string
	Kind    Kind
	TagKeys []string

	total *sink

	mu  sync.Mutex
	sub map[string]*sink

	counter   *prometheus.CounterVec
	gauge     *prometheus.GaugeVec
	histogram *prometheus.HistogramVec
}

func subKey(key, value string) string {
	return key + ":" + value
}

func (m *Metric) add(v float64, tagValues []string) {
	m.total.add(v)

	if len(tagValues) > len(m.TagKeys) {
		tagValues = tagValues[:len(m.TagKeys)]
	}
	for i, value := range tagValues {
		key := subKey(m.TagKeys[i], value)
		m.mu.Lock()
		s, ok := m.sub[key]
		if !ok {
			s = newSink(m.Kind)
			m.sub[key] = s
		}
		m.mu.Unlock()
		s.add(v)
	}

	labels := make([]string, len(m.TagKeys))
	copy(labels, tagValues)
	switch m.Kind {
	case KindCounter:
		m.counter.WithLabelValues(labels...).Add(v)
	case KindRate:
		m.counter.WithLabelValues(append(labels, strconv.FormatBool(v != 0))...).Inc()
	case KindGauge:
		m.gauge.WithLabelValues(labels...).Set(v)
	case KindTrend:
		m.histogram.WithLabelValues(labels...).Observe(v)
	}
}

// sinkFor returns the whole-metric sink, or the sub-metric sink for tag:value.
func (m *Metric) sinkFor(tagKey, tagValue string) *sink {
	if tagKey == "" {
		return m.total
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sub[subKey(tagKey, tagValue)]
}

// Registry owns every metric of a test run. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]*Metric
	prom    *prometheus.Registry
}

func NewRegistry() *Registry {
	prom := prometheus.NewRegistry()
	prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Registry{
		metrics: make(map[string]*Metric),
		prom:    prom,
	}
}

// Gatherer exposes the Prometheus mirror of the registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.prom
}

// Get returns a previously declared metric.
func (r *Registry) Get(name string) (*Metric, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.metrics[name]
	return m, ok
}

func (r *Registry) declare(name string, kind Kind, tagKeys []string) *Metric {
	r.mu.RLock()
	m, ok := r.metrics[name]
	r.mu.RUnlock()
	if ok {
		if m.Kind != kind {
			panic(fmt.Sprintf("metric %q already declared as %s", name, m.Kind))
		}
		return m
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.metrics[name]; ok {
		return m
	}

	m = &Metric{
		Name:    name,
		Kind:    kind,
		TagKeys: tagKeys,
		total:   newSink(kind),
		sub:     make(map[string]*sink),
	}
	help := fmt.Sprintf("load test %s %s", kind, name)
	switch kind {
	case KindCounter:
		m.counter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: promNamespace, Name: name + "_total", Help: help,
		}, tagKeys)
		r.prom.MustRegister(m.counter)
	case KindRate:
		m.counter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: promNamespace, Name: name + "_samples_total", Help: help,
		}, append(append([]string{}, tagKeys...), "result"))
		r.prom.MustRegister(m.counter)
	case KindGauge:
		m.gauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: promNamespace, Name: name, Help: help,
		}, tagKeys)
		r.prom.MustRegister(m.gauge)
	case KindTrend:
		m.histogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: promNamespace,
			Name:      name + "_ms",
			Help:      help,
			Buckets:   prometheus.ExponentialBuckets(1, 2, 16),
		}, tagKeys)
		r.prom.MustRegister(m.histogram)
	}
	r.metrics[name] = m
	return m
}

// Counter declares (or returns) a monotonically increasing metric.
func (r *Registry) Counter(name string, tagKeys ...string) *Counter {
	return &Counter{m: r.declare(name, KindCounter, tagKeys)}
}

// Gauge declares (or returns) a last-value metric.
func (r *Registry) Gauge(name string, tagKeys ...string) *Gauge {
	return &Gauge{m: r.declare(name, KindGauge, tagKeys)}
}

// Rate declares (or returns) a metric tracking the share of true samples.
func (r *Registry) Rate(name string, tagKeys ...string) *Rate {
	return &Rate{m: r.declare(name, KindRate, tagKeys)}
}

// Trend declares (or returns) a metric keeping every sample for percentiles.
func (r *Registry) Trend(name string, tagKeys ...string) *Trend {
	return &Trend{m: r.declare(name, KindTrend, tagKeys)}
}

type Counter struct{ m *Metric }

func (c *Counter) Add(v float64, tagValues ...string) {
	if v < 0 {
		return
	}
	c.m.add(v, tagValues)
}

func (c *Counter) Inc(tagValues ...string) { c.m.add(1, tagValues) }

type Gauge struct{ m *Metric }

func (g *Gauge) Set(v float64, tagValues ...string) { g.m.add(v, tagValues) }

type Rate struct{ m *Metric }

func (r *Rate) Add(ok bool, tagValues ...string) {
	v := 0.0
	if ok {
		v = 1
	}
	r.m.add(v, tagValues)
}

type Trend struct{ m *Metric }

// Add records a sample in milliseconds.
func (t *Trend) Add(ms float64, tagValues ...string) { t.m.add(ms, tagValues) }

func (t *Trend) AddDuration(d time.Duration, tagValues ...string) {
	t.m.add(float64(d)/float64(time.Millisecond), tagValues)
}

// RecordRequest records the built-in HTTP metrics for one request. A request
// failed when it had a transport error or a status outside 200-399.
func (r *Registry) RecordRequest(name string, status int, d time.Duration, err error) {
	r.Counter(HTTPReqs, "name").Inc(name)
	r.Trend(HTTPReqDuration, "name").AddDuration(d, name)
	failed := err != nil || status < 200 || status >= 400
	r.Rate(HTTPReqFailed, "name").Add(failed, name)
}

// Check records the outcome of a named response assertion.
func (r *Registry) Check(name string, ok bool) {
	r.Rate(Checks, "check").Add(ok, name)
}

// MetricSummary is the snapshot of one metric including its sub-metrics.
type MetricSummary struct {
	Name string `json:"name"`
	Summary
	Sub map[string]Summary `json:"sub,omitempty"`
}

// Snapshot returns every metric sorted by name.
func (r *Registry) Snapshot() []MetricSummary {
	r.mu.RLock()
	all := make([]*Metric, 0, len(r.metrics))
	for _, m := range r.metrics {
		all = append(all, m)
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })

	out := make([]MetricSummary, 0, len(all))
	for _, m := range all {
		ms := MetricSummary{Name: m.Name, Summary: m.total.summary()}
		m.mu.Lock()
		if len(m.sub) > 0 {
			ms.Sub = make(map[string]Summary, len(m.sub))
			for key, s := range m.sub {
				ms.Sub[key] = s.summary()
			}
		}
		m.mu.Unlock()
		out = append(out, ms)
	}
	return out
}
