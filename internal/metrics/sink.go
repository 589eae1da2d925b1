package metrics

import (
	"math"
	"sort"
	"sync"
)

// Kind is the aggregation family of a metric.
type Kind int

const (
	KindCounter Kind = iota
	KindGauge
	KindRate
	KindTrend
)

func (k Kind) String() string {
	switch k {
	case KindCounter:
		return "counter"
	case KindGauge:
		return "gauge"
	case KindRate:
		return "rate"
	case KindTrend:
		return "trend"
	default:
		return "unknown"
	}
}

// sink accumulates the samples of one metric, or of one tagged sub-metric.
type sink struct {
	kind Kind

	mu     sync.Mutex
	count  int64
	sum    float64
	min    float64
	max    float64
	last   float64
	passes int64
	values []float64
	sorted bool
}

func newSink(kind Kind) *sink {
	return &sink{kind: kind, min: math.Inf(1), max: math.Inf(-1)}
}

func (s *sink) add(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	s.last = v
	if v < s.min {
		s.min = v
	}
	if v > s.max {
		s.max = v
	}

	switch s.kind {
	case KindCounter, KindGauge:
		s.sum += v
	case KindRate:
		if v != 0 {
			s.passes++
		}
	case KindTrend:
		s.sum += v
		s.values = append(s.values, v)
		s.sorted = false
	}
}

// aggregate returns the named aggregation. ok is false when the sink holds no
// samples or the aggregation does not apply to the sink's kind.
func (s *sink) aggregate(agg string, param float64) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == 0 {
		return 0, false
	}

	switch s.kind {
	case KindCounter:
		if agg == "count" {
			return s.sum, true
		}
	case KindGauge:
		switch agg {
		case "value":
			return s.last, true
		case "min":
			return s.min, true
		case "max":
			return s.max, true
		}
	case KindRate:
		if agg == "rate" {
			return float64(s.passes) / float64(s.count), true
		}
	case KindTrend:
		switch agg {
		case "avg":
			return s.sum / float64(s.count), true
		case "min":
			return s.min, true
		case "max":
			return s.max, true
		case "count":
			return float64(s.count), true
		case "med":
			return s.percentile(50), true
		case "p":
			return s.percentile(param), true
		}
	}
	return 0, false
}

// percentile must be called with s.mu held.
func (s *sink) percentile(p float64) float64 {
	if !s.sorted {
		sort.Float64s(s.values)
		s.sorted = true
	}
	idx := int(float64(len(s.values)) * p / 100)
	if idx >= len(s.values) {
		idx = len(s.values) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return s.values[idx]
}

// Summary is a point-in-time view of a sink.
type Summary struct {
	Kind   string             `json:"type"`
	Count  int64              `json:"count"`
	Values map[string]float64 `json:"values"`
}

func (s *sink) summary() Summary {
	out := Summary{Kind: s.kind.String(), Values: map[string]float64{}}

	s.mu.Lock()
	out.Count = s.count
	empty := s.count == 0
	s.mu.Unlock()
	if empty {
		return out
	}

	put := func(key, agg string, param float64) {
		if v, ok := s.aggregate(agg, param); ok {
			out.Values[key] = v
		}
	}

	switch s.kind {
	case KindCounter:
		put("count", "count", 0)
	case KindGauge:
		put("value", "value", 0)
		put("min", "min", 0)
		put("max", "max", 0)
	case KindRate:
		put("rate", "rate", 0)
		s.mu.Lock()
		out.Values["passes"] = float64(s.passes)
		out.Values["fails"] = float64(s.count - s.passes)
		s.mu.Unlock()
	case KindTrend:
		put("avg", "avg", 0)
		put("min", "min", 0)
		put("med", "med", 0)
		put("max", "max", 0)
		put("p(75)", "p", 75)
		put("p(90)", "p", 90)
		put("p(95)", "p", 95)
		put("p(99)", "p", 99)
	}
	return out
}
