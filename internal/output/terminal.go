package output

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// SupportsColors checks the environment for color preferences.
func SupportsColors() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	term := os.Getenv("TERM")
	return term != "" && term != "dumb"
}

// SchemeFor picks a color scheme for w. noColor always wins.
func SchemeFor(w io.Writer, noColor bool) *ColorScheme {
	switch {
	case noColor:
		return NoColorScheme()
	case IsTerminal(w) && SupportsColors():
		return ForcedColorScheme()
	default:
		return NoColorScheme()
	}
}
