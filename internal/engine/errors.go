package engine

import (
	"errors"
	"fmt"
)

// ExitCode is the process exit status a run maps to.
type ExitCode int

// Exit codes. They match the k6 codes for the same conditions.
const (
	ExitOK               ExitCode = 0
	ExitGeneric          ExitCode = 1
	ExitThresholdsFailed ExitCode = 99
	ExitSetupFailed      ExitCode = 100
	ExitTeardownFailed   ExitCode = 101
	ExitInvalidConfig    ExitCode = 104
	ExitExternalAbort    ExitCode = 105
	ExitScriptError      ExitCode = 107
	ExitScriptAborted    ExitCode = 108
)

func (c ExitCode) String() string {
	switch c {
	case ExitOK:
		return "ok"
	case ExitThresholdsFailed:
		return "thresholds failed"
	case ExitSetupFailed:
		return "setup failed"
	case ExitTeardownFailed:
		return "teardown failed"
	case ExitInvalidConfig:
		return "invalid config"
	case ExitExternalAbort:
		return "aborted"
	case ExitScriptError:
		return "script error"
	case ExitScriptAborted:
		return "script aborted"
	default:
		return "error"
	}
}

// RunError is an error that ends a run with a specific exit code.
type RunError struct {
	Code ExitCode
	Err  error
}

func (e *RunError) Error() string {
	if e.Err == nil {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

func newRunError(code ExitCode, format string, args ...any) *RunError {
	return &RunError{Code: code, Err: fmt.Errorf(format, args...)}
}

// ExitCodeOf returns the exit code for err: ExitOK for nil, the code of a
// wrapped RunError, and ExitGeneric otherwise.
func ExitCodeOf(err error) ExitCode {
	if err == nil {
		return ExitOK
	}
	var re *RunError
	if errors.As(err, &re) {
		return re.Code
	}
	return ExitGeneric
}
