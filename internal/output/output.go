// Package output streams metric samples to external sinks and renders the
// end-of-test summary and live progress.
package output

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/logging"
	"github.com/wesleyorama2/surge/internal/metrics"
)

// Output receives batches of samples while a test runs.
//
// AddSamples is only called between Start and Stop, from one goroutine.
type Output interface {
	// Description is a short human-readable name, e.g. "json (results.json)".
	Description() string
	Start() error
	AddSamples(samples []metrics.Sample)
	Stop() error
}

// Params are shared by every output constructor.
type Params struct {
	// Target is the output argument: a file path or a listen address.
	Target   string
	RunID    string
	Registry *metrics.Registry
	Logger   *zap.SugaredLogger
}

// Constructor builds an output.
type Constructor func(p Params) (Output, error)

var constructors = map[string]Constructor{
	"json":       func(p Params) (Output, error) { return NewJSON(p) },
	"csv":        func(p Params) (Output, error) { return NewCSV(p) },
	"prometheus": func(p Params) (Output, error) { return NewPrometheus(p) },
}

// Types returns the registered output types.
func Types() []string {
	return []string{"csv", "json", "prometheus"}
}

// New builds the output of the given type.
func New(typ string, p Params) (Output, error) {
	ctor, ok := constructors[strings.ToLower(typ)]
	if !ok {
		return nil, fmt.Errorf("unknown output type %q (valid: %s)", typ, strings.Join(Types(), ", "))
	}
	p.Logger = logging.OrNop(p.Logger)
	return ctor(p)
}

// ParseSpec splits a command-line output spec "type=target". The target is
// optional.
func ParseSpec(spec string) (typ, target string, err error) {
	typ, target, _ = strings.Cut(spec, "=")
	typ = strings.TrimSpace(typ)
	if typ == "" {
		return "", "", fmt.Errorf("invalid output %q: expected type=target", spec)
	}
	return typ, strings.TrimSpace(target), nil
}
