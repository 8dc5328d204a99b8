// Package logging builds the zap loggers used across surge.
package logging

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls logger construction.
type Config struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string

	// Encoding is console or json. Defaults to console.
	Encoding string

	// NoColor disables colored levels for console encoding.
	NoColor bool

	// OutputPaths defaults to stderr so that progress output on stdout is not interleaved.
	OutputPaths []string
}

// New builds a sugared logger from cfg.
func New(cfg Config) (*zap.SugaredLogger, error) {
	level := strings.ToLower(cfg.Level)
	if level == "" {
		level = "info"
	}
	encoding := strings.ToLower(cfg.Encoding)
	if encoding == "" {
		encoding = "console"
	}
	if encoding != "console" && encoding != "json" {
		return nil, fmt.Errorf("unknown log encoding %q", cfg.Encoding)
	}
	if _, err := zapcore.ParseLevel(level); err != nil {
		return nil, fmt.Errorf("unknown log level %q", cfg.Level)
	}

	rawJSON := []byte(fmt.Sprintf(`{
	  "level": "%s",
	  "encoding": "%s",
	  "outputPaths": ["stderr"],
	  "errorOutputPaths": ["stderr"],
	  "encoderConfig": {
	    "messageKey": "message",
	    "levelKey": "level",
	    "levelEncoder": "uppercase",
	    "timeKey": "time",
	    "timeEncoder": "ISO8601",
	    "nameKey": "logger",
	    "callerKey": "caller",
	    "callerEncoder": "short"
	  }
	}`, level, encoding))

	var zc zap.Config
	if err := jsoniter.Unmarshal(rawJSON, &zc); err != nil {
		return nil, fmt.Errorf("decode logger config: %w", err)
	}
	if len(cfg.OutputPaths) > 0 {
		zc.OutputPaths = cfg.OutputPaths
	}
	if encoding == "console" && !cfg.NoColor {
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.Sugar(), nil
}

// Nop returns a logger that discards everything.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.SugaredLogger) *zap.SugaredLogger {
	if l == nil {
		return Nop()
	}
	return l
}
