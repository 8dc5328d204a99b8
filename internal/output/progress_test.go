package output

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{500 * time.Millisecond, "500ms"},
		{1 * time.Second, "1.0s"},
		{1*time.Minute + 30*time.Second, "1m 30s"},
		{1*time.Hour + 2*time.Minute + 3*time.Second, "1h 02m 03s"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := formatDuration(tt.duration); got != tt.expected {
				t.Errorf("formatDuration(%v) = %q, want %q", tt.duration, got, tt.expected)
			}
		})
	}
}

func TestFormatLatency(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{0, "0s"},
		{500 * time.Microsecond, "500.00µs"},
		{50 * time.Millisecond, "50.00ms"},
		{1500 * time.Millisecond, "1.50s"},
		{3 * time.Minute, "3.0m"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := formatLatency(tt.duration); got != tt.expected {
				t.Errorf("formatLatency(%v) = %q, want %q", tt.duration, got, tt.expected)
			}
		})
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		number   int64
		expected string
	}{
		{0, "0"},
		{100, "100"},
		{1000, "1,000"},
		{12345, "12,345"},
		{1234567, "1,234,567"},
		{-4200, "-4,200"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := formatNumber(tt.number); got != tt.expected {
				t.Errorf("formatNumber(%d) = %q, want %q", tt.number, got, tt.expected)
			}
		})
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes    float64
		expected string
	}{
		{999, "999 B"},
		{1500, "1.5 kB"},
		{2500000, "2.5 MB"},
		{3e9, "3.0 GB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.bytes); got != tt.expected {
			t.Errorf("formatBytes(%v) = %q, want %q", tt.bytes, got, tt.expected)
		}
	}
}

func TestStripANSI(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"plain", "plain"},
		{"\033[32mgreen\033[0m", "green"},
		{"\033[1m\033[31mbold red\033[0m!", "bold red!"},
	}
	for _, tt := range tests {
		if got := stripANSI(tt.input); got != tt.expected {
			t.Errorf("stripANSI(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestProgressBar(t *testing.T) {
	if got := progressBar(0.5, 10); got != "[█████░░░░░]" {
		t.Errorf("progressBar(0.5) = %q", got)
	}
	if got := progressBar(2, 4); got != "[████]" {
		t.Errorf("progressBar(2) = %q", got)
	}
	if got := progressBar(-1, 4); got != "[░░░░]" {
		t.Errorf("progressBar(-1) = %q", got)
	}
}

func liveStats() *LiveStats {
	return &LiveStats{
		Elapsed:    90 * time.Second,
		ActiveVUs:  8,
		MaxVUs:     10,
		Iterations: 1200,
		Requests:   2400,
		Failures:   24,
		RPS:        26.7,
		ErrorRate:  0.01,
		P95:        230 * time.Millisecond,
		Scenarios: []ScenarioProgress{
			{Name: "browse", Executor: "ramping-vus", Progress: 0.75, Stage: "steady"},
		},
	}
}

func TestProgress_NonTTYPrintsLines(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(ProgressConfig{Writer: &buf, NoColor: true})
	if p.IsTTY() {
		t.Fatal("a buffer is not a terminal")
	}

	p.Update(liveStats())
	p.Update(liveStats())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	want := "[1m 30s] VUs: 8/10 | Iters: 1200 | Reqs: 2400 | RPS: 26.7 | Errors: 24 (1.0%) | P95: 230.00ms | browse 75%"
	if lines[0] != want {
		t.Errorf("line = %q\nwant   %q", lines[0], want)
	}
}

func TestProgress_TTYRedraws(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(ProgressConfig{Writer: &buf, NoColor: true, ForceTTY: true})

	p.Update(liveStats())
	first := buf.String()
	if strings.Contains(first, "\033[") {
		t.Error("first draw should not move the cursor")
	}
	if !strings.Contains(first, "Requests:    2,400") || !strings.Contains(first, "steady") {
		t.Errorf("unexpected render:\n%s", first)
	}

	p.Update(liveStats())
	if !strings.Contains(buf.String()[len(first):], "\033[") {
		t.Error("second draw should move the cursor up")
	}

	buf.Reset()
	p.Finish()
	if !strings.Contains(buf.String(), clearLine) {
		t.Error("Finish should clear the display")
	}
}

func TestProgress_BoxRowsAligned(t *testing.T) {
	p := NewProgress(ProgressConfig{Writer: &bytes.Buffer{}, NoColor: true, ForceTTY: true})
	var widths []int
	for _, l := range p.render(liveStats()) {
		if strings.HasPrefix(l, boxVertical) || strings.HasPrefix(l, boxTopLeft) || strings.HasPrefix(l, boxBottomLeft) {
			widths = append(widths, visibleLen(l))
		}
	}
	for _, w := range widths {
		if w != widths[0] {
			t.Fatalf("box rows have different widths: %v", widths)
		}
	}
}
