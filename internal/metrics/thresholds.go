package metrics

import (
	"regexp"
	"sort"
	"strconv"

	"github.com/cockroachdb/errors"
)

var (
	selectorRe  = regexp.MustCompile(`^\s*([A-Za-z0-9_]+)\s*(?:\{\s*([^:}\s]+)\s*:\s*([^}]*?)\s*\})?\s*$`)
	conditionRe = regexp.MustCompile(`^\s*(avg|min|max|med|count|rate|value|p\(\s*(\d+(?:\.\d+)?)\s*\))\s*(<=|>=|==|!=|<|>)\s*(-?\d+(?:\.\d+)?)\s*$`)
)

// Threshold is a parsed pass/fail condition such as
// `http_req_duration{name:PurchasePass}` + `p(95)<2500`.
type Threshold struct {
	Selector   string
	Expression string

	metric   string
	tagKey   string
	tagValue string
	agg      string
	param    float64
	op       string
	value    float64
}

func ParseThreshold(selector, expression string) (Threshold, error) {
	sm := selectorRe.FindStringSubmatch(selector)
	if sm == nil {
		return Threshold{}, errors.Newf("invalid threshold selector %q", selector)
	}
	cm := conditionRe.FindStringSubmatch(expression)
	if cm == nil {
		return Threshold{}, errors.Newf("invalid threshold expression %q", expression)
	}

	t := Threshold{
		Selector:   selector,
		Expression: expression,
		metric:     sm[1],
		tagKey:     sm[2],
		tagValue:   sm[3],
		agg:        cm[1],
		op:         cm[3],
	}
	if cm[2] != "" {
		t.agg = "p"
		p, err := strconv.ParseFloat(cm[2], 64)
		if err != nil || p > 100 {
			return Threshold{}, errors.Newf("invalid percentile in %q", expression)
		}
		t.param = p
	}
	v, err := strconv.ParseFloat(cm[4], 64)
	if err != nil {
		return Threshold{}, errors.Wrapf(err, "invalid threshold value in %q", expression)
	}
	t.value = v
	return t, nil
}

func (t Threshold) compare(actual float64) bool {
	switch t.op {
	case "<":
		return actual < t.value
	case "<=":
		return actual <= t.value
	case ">":
		return actual > t.value
	case ">=":
		return actual >= t.value
	case "==":
		return actual == t.value
	case "!=":
		return actual != t.value
	}
	return false
}

// ThresholdResult is the verdict of one threshold at evaluation time.
type ThresholdResult struct {
	Selector   string  `json:"metric"`
	Expression string  `json:"threshold"`
	Actual     float64 `json:"actual"`
	NoData     bool    `json:"no_data,omitempty"`
	Passed     bool    `json:"ok"`
}

// Evaluate checks t against the current state of the registry. A metric
// without samples fails the threshold.
func (r *Registry) Evaluate(t Threshold) (ThresholdResult, error) {
	res := ThresholdResult{Selector: t.Selector, Expression: t.Expression}

	m, ok := r.Get(t.metric)
	if !ok {
		res.NoData = true
		return res, nil
	}
	if !aggregationApplies(m.Kind, t.agg) {
		return res, errors.Newf("aggregation %q does not apply to %s metric %s", t.agg, m.Kind, m.Name)
	}

	s := m.sinkFor(t.tagKey, t.tagValue)
	if s == nil {
		res.NoData = true
		return res, nil
	}
	actual, ok := s.aggregate(t.agg, t.param)
	if !ok {
		res.NoData = true
		return res, nil
	}
	res.Actual = actual
	res.Passed = t.compare(actual)
	return res, nil
}

func aggregationApplies(kind Kind, agg string) bool {
	switch kind {
	case KindCounter:
		return agg == "count"
	case KindGauge:
		return agg == "value" || agg == "min" || agg == "max"
	case KindRate:
		return agg == "rate"
	case KindTrend:
		switch agg {
		case "avg", "min", "max", "med", "p", "count":
			return true
		}
	}
	return false
}

// ParseThresholds parses a selector -> expressions table, sorted by selector.
func ParseThresholds(table map[string][]string) ([]Threshold, error) {
	selectors := make([]string, 0, len(table))
	for selector := range table {
		selectors = append(selectors, selector)
	}
	sort.Strings(selectors)

	var out []Threshold
	for _, selector := range selectors {
		for _, expression := range table[selector] {
			t, err := ParseThreshold(selector, expression)
			if err != nil {
				return nil, err
			}
			out = append(out, t)
		}
	}
	return out, nil
}

// EvaluateAll evaluates every threshold and reports whether all passed.
func (r *Registry) EvaluateAll(thresholds []Threshold) ([]ThresholdResult, bool, error) {
	results := make([]ThresholdResult, 0, len(thresholds))
	passed := true
	for _, t := range thresholds {
		res, err := r.Evaluate(t)
		if err != nil {
			return nil, false, err
		}
		if !res.Passed {
			passed = false
		}
		results = append(results, res)
	}
	return results, passed, nil
}
