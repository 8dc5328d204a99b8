package output

import (
	"github.com/fatih/color"
)

// ColorScheme defines the colors used for the summary and progress display.
type ColorScheme struct {
	Title     *color.Color
	Rule      *color.Color
	Metric    *color.Color
	Value     *color.Color
	Dim       *color.Color
	Success   *color.Color
	Warn      *color.Color
	Error     *color.Color
	Highlight *color.Color
}

// DefaultColorScheme returns the default color scheme
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		Title:     color.New(color.Bold),
		Rule:      color.New(color.FgCyan),
		Metric:    color.New(color.FgWhite),
		Value:     color.New(color.FgCyan),
		Dim:       color.New(color.Faint),
		Success:   color.New(color.FgGreen),
		Warn:      color.New(color.FgYellow),
		Error:     color.New(color.FgRed),
		Highlight: color.New(color.FgMagenta, color.Bold),
	}
}

// NoColorScheme returns a color scheme with all colors disabled
func NoColorScheme() *ColorScheme {
	scheme := DefaultColorScheme()
	for _, c := range scheme.all() {
		c.DisableColor()
	}
	return scheme
}

// ForcedColorScheme returns the default scheme with color on even when the
// writer is not a terminal.
func ForcedColorScheme() *ColorScheme {
	scheme := DefaultColorScheme()
	for _, c := range scheme.all() {
		c.EnableColor()
	}
	return scheme
}

func (s *ColorScheme) all() []*color.Color {
	return []*color.Color{s.Title, s.Rule, s.Metric, s.Value, s.Dim, s.Success, s.Warn, s.Error, s.Highlight}
}

// Mark returns ✓ or ✗ for ok.
func (s *ColorScheme) Mark(ok bool) string {
	if ok {
		return s.Success.Sprint("✓")
	}
	return s.Error.Sprint("✗")
}

// ForRate picks a color for an error rate: green up to 1%, yellow up to 5%,
// red above.
func (s *ColorScheme) ForRate(errRate float64) *color.Color {
	switch {
	case errRate > 0.05:
		return s.Error
	case errRate > 0.01:
		return s.Warn
	default:
		return s.Success
	}
}
