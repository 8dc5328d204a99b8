package output

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

// summaryJSON keeps threshold expressions such as p(95)<500 readable.
var summaryJSON = jsoniter.Config{EscapeHTML: false, SortMapKeys: true}.Froze()

// NewRunID returns a fresh identifier for a test run.
func NewRunID() string {
	return uuid.New().String()
}

// MarshalSummary encodes s as indented JSON.
func MarshalSummary(s *Summary) ([]byte, error) {
	return summaryJSON.MarshalIndent(s, "", "  ")
}

// ExportSummary writes s as JSON to path.
func ExportSummary(path string, s *Summary) error {
	data, err := MarshalSummary(s)
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}
