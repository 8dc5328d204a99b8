package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Cursor control for redrawing the live display.
const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"

	boxHorizontal  = "━"
	boxVertical    = "│"
	boxTopLeft     = "┌"
	boxTopRight    = "┐"
	boxBottomLeft  = "└"
	boxBottomRight = "┘"

	progressFilled = "█"
	progressEmpty  = "░"
)

// LiveStats is one refresh of the live display.
type LiveStats struct {
	Elapsed time.Duration

	ActiveVUs int64
	MaxVUs    int64

	Iterations int64
	Requests   int64
	Failures   int64
	RPS        float64
	ErrorRate  float64
	P95        time.Duration

	Scenarios []ScenarioProgress
}

// ScenarioProgress is the state of one scenario.
type ScenarioProgress struct {
	Name     string
	Executor string
	Progress float64
	// Stage is empty for executors without stages.
	Stage string
}

// Progress renders live test progress. On a terminal it redraws a box in
// place; otherwise it prints one line per update.
type Progress struct {
	writer   io.Writer
	isTTY    bool
	colors   *ColorScheme
	testName string

	mu          sync.Mutex
	linesOutput int
}

// ProgressConfig configures a Progress.
type ProgressConfig struct {
	TestName string
	Writer   io.Writer
	NoColor  bool
	// ForceTTY redraws in place even when Writer is not a terminal.
	ForceTTY bool
}

// NewProgress creates a live display.
func NewProgress(cfg ProgressConfig) *Progress {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}
	return &Progress{
		writer:   cfg.Writer,
		isTTY:    cfg.ForceTTY || IsTerminal(cfg.Writer),
		colors:   SchemeFor(cfg.Writer, cfg.NoColor),
		testName: cfg.TestName,
	}
}

// IsTTY returns whether the output redraws in place.
func (p *Progress) IsTTY() bool { return p.isTTY }

// PrintHeader prints the test header.
func (p *Progress) PrintHeader(scenarios []ScenarioProgress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c := p.colors
	line := strings.Repeat(boxHorizontal, 56)
	name := p.testName
	if name == "" {
		name = "surge"
	}
	fmt.Fprintln(p.writer, c.Rule.Sprint(line))
	fmt.Fprintln(p.writer, c.Title.Sprintf("%s - Running", name))
	for _, sc := range scenarios {
		fmt.Fprintf(p.writer, "  %s [%s]\n", c.Highlight.Sprint(sc.Name), sc.Executor)
	}
	fmt.Fprintln(p.writer, c.Rule.Sprint(line))
	fmt.Fprintln(p.writer)
}

// Update redraws the display.
func (p *Progress) Update(stats *LiveStats) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.isTTY {
		fmt.Fprintln(p.writer, p.line(stats))
		return
	}

	p.clear()
	lines := p.render(stats)
	p.linesOutput = len(lines)
	for _, l := range lines {
		fmt.Fprintln(p.writer, l)
	}
}

// Finish removes the live display before the summary is printed.
func (p *Progress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.isTTY {
		p.clear()
	}
}

func (p *Progress) clear() {
	if p.linesOutput == 0 {
		return
	}
	fmt.Fprintf(p.writer, cursorUp, p.linesOutput)
	for i := 0; i < p.linesOutput; i++ {
		fmt.Fprint(p.writer, clearLine+"\n")
	}
	fmt.Fprintf(p.writer, cursorUp, p.linesOutput)
	p.linesOutput = 0
}

// line is the single-line form used when not on a terminal.
func (p *Progress) line(s *LiveStats) string {
	var scen []string
	for _, sc := range s.Scenarios {
		scen = append(scen, fmt.Sprintf("%s %.0f%%", sc.Name, sc.Progress*100))
	}
	return fmt.Sprintf("[%s] VUs: %d/%d | Iters: %d | Reqs: %d | RPS: %.1f | Errors: %d (%.1f%%) | P95: %s | %s",
		formatDuration(s.Elapsed),
		s.ActiveVUs, s.MaxVUs,
		s.Iterations,
		s.Requests,
		s.RPS,
		s.Failures, s.ErrorRate*100,
		formatLatency(s.P95),
		strings.Join(scen, ", "))
}

func (p *Progress) render(s *LiveStats) []string {
	c := p.colors
	var lines []string

	for _, sc := range s.Scenarios {
		stage := ""
		if sc.Stage != "" {
			stage = " " + c.Highlight.Sprint(sc.Stage)
		}
		lines = append(lines, fmt.Sprintf("%-12s %s %s%s",
			sc.Name,
			c.Success.Sprint(progressBar(sc.Progress, 30)),
			c.Title.Sprintf("%3.0f%%", sc.Progress*100),
			stage))
	}
	lines = append(lines, c.Dim.Sprintf("elapsed %s", formatDuration(s.Elapsed)), "")

	const boxWidth = 55
	lines = append(lines, c.Dim.Sprint(boxTopLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxTopRight))
	lines = append(lines, p.boxRow(
		fmt.Sprintf("VUs:     %s / %d", c.Value.Sprint(s.ActiveVUs), s.MaxVUs),
		fmt.Sprintf("Requests:    %s", c.Value.Sprint(formatNumber(s.Requests))),
		boxWidth))

	errColor := c.ForRate(s.ErrorRate)
	lines = append(lines, p.boxRow(
		fmt.Sprintf("RPS:     %s", c.Success.Sprintf("%.1f", s.RPS)),
		fmt.Sprintf("Errors:      %s (%s)", errColor.Sprint(s.Failures), errColor.Sprintf("%.1f%%", s.ErrorRate*100)),
		boxWidth))
	lines = append(lines, p.boxRow(
		fmt.Sprintf("P95:     %s", c.Value.Sprint(formatLatency(s.P95))),
		fmt.Sprintf("Iterations:  %s", c.Value.Sprint(formatNumber(s.Iterations))),
		boxWidth))
	lines = append(lines, c.Dim.Sprint(boxBottomLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxBottomRight))
	return lines
}

// boxRow formats a row inside the stats box with two columns.
func (p *Progress) boxRow(left, right string, boxWidth int) string {
	colWidth := (boxWidth - 4) / 2
	pad := func(s string) string {
		n := colWidth - visibleLen(s)
		if n < 0 {
			n = 0
		}
		return s + strings.Repeat(" ", n)
	}
	v := p.colors.Dim.Sprint(boxVertical)
	return fmt.Sprintf("%s %s%s %s%s", v, pad(left), v, pad(right), v)
}

func progressBar(progress float64, width int) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}
