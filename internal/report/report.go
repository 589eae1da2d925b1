// Package report renders the end-of-run summary: a console banner, a
// Markdown file per run and an optional JSON export.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/parkhub/sp-loadtesting/internal/metrics"
)

// Report is everything known about a finished run.
type Report struct {
	RunID      string                    `json:"run_id"`
	Scenario   string                    `json:"scenario"`
	Executor   string                    `json:"executor"`
	Host       string                    `json:"host"`
	StartedAt  time.Time                 `json:"started_at"`
	Duration   time.Duration             `json:"duration_ns"`
	Metrics    []metrics.MetricSummary   `json:"metrics"`
	Thresholds []metrics.ThresholdResult `json:"thresholds"`
	Passed     bool                      `json:"passed"`
	System     SystemStats               `json:"system"`
}

type SystemStats struct {
	CPUs         int     `json:"cpus"`
	Goroutines   int     `json:"goroutines"`
	AllocMB      float64 `json:"alloc_mb"`
	TotalAllocMB float64 `json:"total_alloc_mb"`
	SysMB        float64 `json:"sys_mb"`
	NumGC        uint32  `json:"gc_runs"`
}

func CaptureSystem() SystemStats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return SystemStats{
		CPUs:         runtime.NumCPU(),
		Goroutines:   runtime.NumGoroutine(),
		AllocMB:      float64(mem.Alloc) / 1024 / 1024,
		TotalAllocMB: float64(mem.TotalAlloc) / 1024 / 1024,
		SysMB:        float64(mem.Sys) / 1024 / 1024,
		NumGC:        mem.NumGC,
	}
}

func (r Report) metric(name string) (metrics.MetricSummary, bool) {
	for _, m := range r.Metrics {
		if m.Name == name {
			return m, true
		}
	}
	return metrics.MetricSummary{}, false
}

func (r Report) value(name, key string) float64 {
	m, _ := r.metric(name)
	return m.Values[key]
}

// Throughput is completed HTTP requests per second.
func (r Report) Throughput() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return r.value(metrics.HTTPReqs, "count") / r.Duration.Seconds()
}

// checkLines groups check outcomes by check name, sorted.
func (r Report) checkLines() []checkLine {
	m, ok := r.metric(metrics.Checks)
	if !ok {
		return nil
	}
	var out []checkLine
	for key, s := range m.Sub {
		name, found := strings.CutPrefix(key, "check:")
		if !found {
			continue
		}
		out = append(out, checkLine{
			name:   name,
			passes: int64(s.Values["passes"]),
			fails:  int64(s.Values["fails"]),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

type checkLine struct {
	name          string
	passes, fails int64
}

func formatValues(s metrics.Summary) string {
	switch s.Kind {
	case "trend":
		return fmt.Sprintf("avg=%s min=%s med=%s max=%s p(90)=%s p(95)=%s",
			ms(s.Values["avg"]), ms(s.Values["min"]), ms(s.Values["med"]),
			ms(s.Values["max"]), ms(s.Values["p(90)"]), ms(s.Values["p(95)"]))
	case "rate":
		return fmt.Sprintf("%.2f%% ✓ %d ✗ %d",
			s.Values["rate"]*100, int64(s.Values["passes"]), int64(s.Values["fails"]))
	case "counter":
		return fmt.Sprintf("%.0f", s.Values["count"])
	case "gauge":
		return fmt.Sprintf("%.0f min=%.0f max=%.0f", s.Values["value"], s.Values["min"], s.Values["max"])
	}
	return ""
}

func ms(v float64) string {
	return time.Duration(v * float64(time.Millisecond)).Round(10 * time.Microsecond).String()
}

func mark(ok bool) string {
	if ok {
		return "✅"
	}
	return "❌"
}

// PrintSummary writes the console summary of r to w.
func PrintSummary(w io.Writer, r Report) {
	fmt.Fprintln(w, "\n========================================")
	fmt.Fprintln(w, "📊 Load Test Results")
	fmt.Fprintln(w, "========================================")
	fmt.Fprintf(w, "Scenario:    %s\n", r.Scenario)
	fmt.Fprintf(w, "Executor:    %s\n", r.Executor)
	fmt.Fprintf(w, "Host:        %s\n", r.Host)
	fmt.Fprintf(w, "Run ID:      %s\n", r.RunID)

	fmt.Fprintln(w, "\n⏱️  Test Duration:")
	fmt.Fprintf(w, "  Wall time:          %.2fs\n", r.Duration.Seconds())
	fmt.Fprintf(w, "  Iterations:         %.0f\n", r.value(metrics.Iterations, "count"))
	fmt.Fprintf(w, "  Dropped:            %.0f\n", r.value(metrics.DroppedIterations, "count"))
	fmt.Fprintf(w, "  Throughput:         %.2f req/s\n", r.Throughput())

	fmt.Fprintln(w, "\n📈 Metrics:")
	for _, m := range r.Metrics {
		if m.Count == 0 {
			fmt.Fprintf(w, "  %-28s (no samples)\n", m.Name)
			continue
		}
		fmt.Fprintf(w, "  %-28s %s\n", m.Name, formatValues(m.Summary))
	}

	if checks := r.checkLines(); len(checks) > 0 {
		fmt.Fprintln(w, "\n🔎 Checks:")
		for _, c := range checks {
			fmt.Fprintf(w, "  %s %-45s ✓ %d ✗ %d\n", mark(c.fails == 0), c.name, c.passes, c.fails)
		}
	}

	if len(r.Thresholds) > 0 {
		fmt.Fprintln(w, "\n🎯 Thresholds:")
		for _, t := range r.Thresholds {
			actual := fmt.Sprintf("%.4f", t.Actual)
			if t.NoData {
				actual = "no data"
			}
			fmt.Fprintf(w, "  %s %-40s %-14s actual=%s\n", mark(t.Passed), t.Selector, t.Expression, actual)
		}
	}

	fmt.Fprintln(w, "\n💻 System Resources:")
	fmt.Fprintf(w, "  CPU Cores:          %d\n", r.System.CPUs)
	fmt.Fprintf(w, "  Goroutines:         %d\n", r.System.Goroutines)
	fmt.Fprintf(w, "  Memory Allocated:   %.2f MB\n", r.System.AllocMB)
	fmt.Fprintf(w, "  Total Memory:       %.2f MB\n", r.System.TotalAllocMB)
	fmt.Fprintf(w, "  Sys Memory:         %.2f MB\n", r.System.SysMB)
	fmt.Fprintf(w, "  GC Runs:            %d\n", r.System.NumGC)

	fmt.Fprintln(w, "\n========================================")
	if r.Passed {
		fmt.Fprintln(w, "✅ Load test completed, all thresholds passed")
	} else {
		fmt.Fprintln(w, "❌ Load test completed, thresholds crossed")
	}
	fmt.Fprintln(w, "========================================")
}

// Markdown renders r as a Markdown document.
func Markdown(r Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# SmartPass Load Test: %s\n\n", r.Scenario)
	fmt.Fprintf(&b, "**Run at:** %s\n", r.StartedAt.Format("Mon 02 Jan 2006, 15:04"))
	fmt.Fprintf(&b, "**Run ID:** %s\n", r.RunID)
	fmt.Fprintf(&b, "**Environment:** %s (CPUs: %d)\n", r.Host, r.System.CPUs)
	fmt.Fprintf(&b, "**Test Duration:** %.2fs\n\n", r.Duration.Seconds())
	fmt.Fprintf(&b, "*Executor: %s*\n\n", r.Executor)
	fmt.Fprintf(&b, "**Result:** %s\n\n---\n\n", map[bool]string{true: "✅ PASSED", false: "❌ FAILED"}[r.Passed])

	b.WriteString("## Performance Results\n\n| Metric | Value |\n|--------|-------|\n")
	fmt.Fprintf(&b, "| HTTP Requests | %.0f |\n", r.value(metrics.HTTPReqs, "count"))
	fmt.Fprintf(&b, "| Failed Requests | %.2f%% |\n", r.value(metrics.HTTPReqFailed, "rate")*100)
	fmt.Fprintf(&b, "| RPS (Requests/sec) | %.2f |\n", r.Throughput())
	fmt.Fprintf(&b, "| Iterations | %.0f |\n", r.value(metrics.Iterations, "count"))
	fmt.Fprintf(&b, "| Dropped Iterations | %.0f |\n\n---\n\n", r.value(metrics.DroppedIterations, "count"))

	b.WriteString("## Metrics\n\n| Metric | Type | Samples | Values |\n|--------|------|---------|--------|\n")
	for _, m := range r.Metrics {
		fmt.Fprintf(&b, "| %s | %s | %d | %s |\n", m.Name, m.Kind, m.Count, formatValues(m.Summary))
	}
	b.WriteString("\n---\n\n")

	if checks := r.checkLines(); len(checks) > 0 {
		b.WriteString("## Checks\n\n| Check | Passes | Fails |\n|-------|--------|-------|\n")
		for _, c := range checks {
			fmt.Fprintf(&b, "| %s %s | %d | %d |\n", mark(c.fails == 0), c.name, c.passes, c.fails)
		}
		b.WriteString("\n---\n\n")
	}

	if len(r.Thresholds) > 0 {
		b.WriteString("## Thresholds\n\n| Metric | Threshold | Actual | Result |\n|--------|-----------|--------|--------|\n")
		for _, t := range r.Thresholds {
			actual := fmt.Sprintf("%.4f", t.Actual)
			if t.NoData {
				actual = "no data"
			}
			fmt.Fprintf(&b, "| %s | `%s` | %s | %s |\n", t.Selector, t.Expression, actual, mark(t.Passed))
		}
		b.WriteString("\n---\n\n")
	}

	b.WriteString("## System Resources\n\n| Resource | Value |\n|----------|-------|\n")
	fmt.Fprintf(&b, "| CPU Cores | %d |\n", r.System.CPUs)
	fmt.Fprintf(&b, "| Goroutines | %d |\n", r.System.Goroutines)
	fmt.Fprintf(&b, "| Memory Allocated | %.2f MB |\n", r.System.AllocMB)
	fmt.Fprintf(&b, "| GC Runs | %d |\n\n---\n\n", r.System.NumGC)

	b.WriteString("*Report generated by sp-loadtesting*\n")
	return b.String()
}

// WriteMarkdown writes the Markdown report under dir/<scenario>/ and returns
// the file path.
func WriteMarkdown(dir string, r Report) (string, error) {
	reportDir := filepath.Join(dir, r.Scenario)
	if err := os.MkdirAll(reportDir, 0o755); err != nil {
		return "", errors.Wrap(err, "failed to create report directory")
	}

	ts := r.StartedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	filename := filepath.Join(reportDir, fmt.Sprintf("loadtest-report-%s.md", ts.Format("20060102-150405")))
	if err := os.WriteFile(filename, []byte(Markdown(r)), 0o644); err != nil {
		return "", errors.Wrap(err, "failed to write markdown report")
	}
	return filename, nil
}

// ExportJSON writes r as indented JSON to path.
func ExportJSON(path string, r Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode summary")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "failed to create summary directory")
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write summary %s", path)
	}
	return nil
}
