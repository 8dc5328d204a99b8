package output

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wesleyorama2/surge/internal/metrics"
	"github.com/wesleyorama2/surge/internal/threshold"
	"github.com/wesleyorama2/surge/internal/vu"
)

// DefaultTrendStats are the trend columns shown when none are configured.
var DefaultTrendStats = []string{"avg", "min", "med", "max", "p(90)", "p(95)"}

// Summary is the end-of-test report. It is printed to the console and can
// be exported as JSON.
type Summary struct {
	RunID       string             `json:"runId"`
	Name        string             `json:"name,omitempty"`
	StartTime   time.Time          `json:"startTime"`
	EndTime     time.Time          `json:"endTime"`
	Duration    time.Duration      `json:"duration"`
	Passed      bool               `json:"passed"`
	Aborted     bool               `json:"aborted,omitempty"`
	AbortReason string             `json:"abortReason,omitempty"`
	Scenarios   []ScenarioSummary  `json:"scenarios"`
	Checks      []CheckResult      `json:"checks,omitempty"`
	Thresholds  []threshold.Result `json:"thresholds,omitempty"`
	Metrics     *metrics.Snapshot  `json:"metrics"`
	Timeline    []metrics.Point    `json:"timeline,omitempty"`
}

// ScenarioSummary describes how one scenario ran.
type ScenarioSummary struct {
	Name     string `json:"name"`
	Executor string `json:"executor"`
	vu.RunnerStats
}

// CheckResult counts the outcomes of one named check.
type CheckResult struct {
	Name   string `json:"name"`
	Passes int64  `json:"passes"`
	Fails  int64  `json:"fails"`
}

// CheckTally is a metrics.Listener counting checks per name.
type CheckTally struct {
	metric *metrics.Metric

	mu     sync.Mutex
	counts map[string]*CheckResult
	order  []string
}

// NewCheckTally tallies samples of the checks metric.
func NewCheckTally(checks *metrics.Metric) *CheckTally {
	return &CheckTally{metric: checks, counts: make(map[string]*CheckResult)}
}

// Forward implements metrics.Listener.
func (t *CheckTally) Forward(samples []metrics.Sample) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range samples {
		if s.Metric != t.metric {
			continue
		}
		name := s.Tags["check"]
		c, ok := t.counts[name]
		if !ok {
			c = &CheckResult{Name: name}
			t.counts[name] = c
			t.order = append(t.order, name)
		}
		if s.Value != 0 {
			c.Passes++
		} else {
			c.Fails++
		}
	}
}

// Results returns the tallies in the order checks were first seen.
func (t *CheckTally) Results() []CheckResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]CheckResult, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, *t.counts[name])
	}
	return out
}

// ParseTrendStats validates trend column names and returns the percentiles
// they need beyond the ones every trend reports.
func ParseTrendStats(stats []string) ([]float64, error) {
	var pcts []float64
	for _, s := range stats {
		switch s {
		case "avg", "min", "med", "max", "count", "p(90)", "p(95)":
			continue
		}
		if !strings.HasPrefix(s, "p(") || !strings.HasSuffix(s, ")") {
			return nil, fmt.Errorf("invalid trend stat %q", s)
		}
		p, err := strconv.ParseFloat(s[2:len(s)-1], 64)
		if err != nil || p < 0 || p > 100 {
			return nil, fmt.Errorf("invalid trend stat %q", s)
		}
		pcts = append(pcts, p)
	}
	return pcts, nil
}

// SummaryOptions control console rendering.
type SummaryOptions struct {
	TrendStats []string
	Colors     *ColorScheme
}

const summaryNameWidth = 34

// WriteSummary renders s for the console.
func WriteSummary(w io.Writer, s *Summary, opts SummaryOptions) {
	c := opts.Colors
	if c == nil {
		c = NoColorScheme()
	}
	stats := opts.TrendStats
	if len(stats) == 0 {
		stats = DefaultTrendStats
	}

	line := strings.Repeat("━", 56)
	status := c.Success.Sprint("Passed ✓")
	switch {
	case s.Aborted:
		status = c.Error.Sprint("Aborted ✗")
	case !s.Passed:
		status = c.Error.Sprint("Failed ✗")
	}

	name := s.Name
	if name == "" {
		name = "surge"
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, c.Rule.Sprint(line))
	fmt.Fprintf(w, "%s - %s\n", c.Title.Sprint(name), status)
	fmt.Fprintln(w, c.Rule.Sprint(line))
	fmt.Fprintf(w, "Run:       %s\n", c.Dim.Sprint(s.RunID))
	fmt.Fprintf(w, "Duration:  %s\n", c.Value.Sprint(formatDuration(s.Duration)))
	if s.AbortReason != "" {
		fmt.Fprintf(w, "Reason:    %s\n", c.Error.Sprint(s.AbortReason))
	}
	fmt.Fprintln(w)

	if len(s.Scenarios) > 0 {
		fmt.Fprintln(w, c.Title.Sprint("Scenarios:"))
		for _, sc := range s.Scenarios {
			fmt.Fprintf(w, "  %s [%s] completed=%d failed=%d interrupted=%d dropped=%d\n",
				c.Highlight.Sprint(sc.Name), sc.Executor,
				sc.Completed, sc.Failed, sc.Interrupted, sc.Dropped)
		}
		fmt.Fprintln(w)
	}

	if len(s.Checks) > 0 {
		fmt.Fprintln(w, c.Title.Sprint("Checks:"))
		for _, ch := range s.Checks {
			total := ch.Passes + ch.Fails
			pct := 0.0
			if total > 0 {
				pct = float64(ch.Passes) / float64(total) * 100
			}
			fmt.Fprintf(w, "  %s %s %s\n", c.Mark(ch.Fails == 0), ch.Name,
				c.Dim.Sprintf("%.1f%% (%d/%d)", pct, ch.Passes, total))
		}
		fmt.Fprintln(w)
	}

	if s.Metrics != nil {
		fmt.Fprintln(w, c.Title.Sprint("Metrics:"))
		ms := append([]metrics.MetricSnapshot(nil), s.Metrics.Metrics...)
		sort.Slice(ms, func(i, j int) bool { return ms[i].Name < ms[j].Name })
		for _, m := range ms {
			if m.Empty {
				continue
			}
			writeMetric(w, c, m, "  ", stats, s.Metrics.Elapsed)
			for _, sm := range m.Submetrics {
				writeMetric(w, c, sm, "    ", stats, s.Metrics.Elapsed)
			}
		}
		fmt.Fprintln(w)
	}

	if len(s.Thresholds) > 0 {
		fmt.Fprintln(w, c.Title.Sprint("Thresholds:"))
		for _, t := range s.Thresholds {
			fmt.Fprintf(w, "  %s %s %s %s\n", c.Mark(t.Passed), t.Metric, t.Expression,
				c.Dim.Sprintf("(actual: %s)", strconv.FormatFloat(t.Value, 'f', -1, 64)))
		}
		fmt.Fprintln(w)
	}
}

func writeMetric(w io.Writer, c *ColorScheme, m metrics.MetricSnapshot, indent string, stats []string, elapsed time.Duration) {
	label := indent + m.Name
	dots := summaryNameWidth - len(label)
	if dots < 2 {
		dots = 2
	}
	fmt.Fprintf(w, "%s%s: %s\n", c.Metric.Sprint(label), c.Dim.Sprint(strings.Repeat(".", dots)), metricValues(c, m, stats))
}

func metricValues(c *ColorScheme, m metrics.MetricSnapshot, stats []string) string {
	v := m.Values
	switch m.Type {
	case metrics.Counter:
		rate := v["rate"]
		if m.Contains == metrics.Data {
			return fmt.Sprintf("%s %s", c.Value.Sprint(formatBytes(v["count"])), c.Dim.Sprint(formatBytes(rate)+"/s"))
		}
		return fmt.Sprintf("%s %s", c.Value.Sprint(formatValue(v["count"], m.Contains)), c.Dim.Sprintf("%.2f/s", rate))
	case metrics.Gauge:
		return fmt.Sprintf("%s min=%s max=%s",
			c.Value.Sprint(formatValue(v["value"], m.Contains)),
			formatValue(v["min"], m.Contains), formatValue(v["max"], m.Contains))
	case metrics.Rate:
		return fmt.Sprintf("%s %s %s",
			c.Value.Sprintf("%.2f%%", v["rate"]*100),
			c.Success.Sprintf("✓ %s", formatNumber(int64(v["passes"]))),
			c.Error.Sprintf("✗ %s", formatNumber(int64(v["fails"]))))
	case metrics.Trend:
		parts := make([]string, 0, len(stats))
		for _, st := range stats {
			val, ok := v[st]
			if !ok {
				continue
			}
			formatted := formatValue(val, m.Contains)
			if st == "count" {
				formatted = formatNumber(int64(val))
			}
			parts = append(parts, st+"="+c.Value.Sprint(formatted))
		}
		return strings.Join(parts, " ")
	}
	return ""
}
