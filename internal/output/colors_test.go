package output

import (
	"strings"
	"testing"
)

func TestColorSchemes(t *testing.T) {
	for name, scheme := range map[string]*ColorScheme{
		"default": DefaultColorScheme(),
		"none":    NoColorScheme(),
		"forced":  ForcedColorScheme(),
	} {
		for i, c := range scheme.all() {
			if c == nil {
				t.Errorf("%s scheme: color %d is nil", name, i)
			}
		}
	}
}

func TestNoColorScheme_Plain(t *testing.T) {
	s := NoColorScheme()
	if got := s.Mark(true); got != "✓" {
		t.Errorf("Mark(true) = %q", got)
	}
	if got := s.Mark(false); got != "✗" {
		t.Errorf("Mark(false) = %q", got)
	}
	if got := s.Value.Sprint("12"); got != "12" {
		t.Errorf("Value.Sprint = %q", got)
	}
}

func TestForcedColorScheme_Escapes(t *testing.T) {
	s := ForcedColorScheme()
	got := s.Mark(true)
	if !strings.Contains(got, "\x1b[") || stripANSI(got) != "✓" {
		t.Errorf("Mark(true) = %q, want colored ✓", got)
	}
}

func TestForRate(t *testing.T) {
	s := NoColorScheme()
	if s.ForRate(0) != s.Success || s.ForRate(0.02) != s.Warn || s.ForRate(0.5) != s.Error {
		t.Error("ForRate picked the wrong color")
	}
}
