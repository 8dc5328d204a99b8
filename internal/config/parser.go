package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/surge/internal/executor"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultTimeout         = 30 * time.Second
	DefaultUserAgent       = "surge/1.0"
	DefaultSetupTimeout    = 60 * time.Second
	DefaultTeardownTimeout = 60 * time.Second
)

// DefaultSummaryTrendStats are the trend columns of the end-of-test summary.
var DefaultSummaryTrendStats = []string{"avg", "min", "med", "max", "p(90)", "p(95)"}

// LoadConfig reads, parses and defaults a test document. The format is
// chosen by extension: .json is JSON, anything else YAML.
func LoadConfig(path string) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := ParseConfig(data, path)
	if err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// ParseConfig decodes data. filename only selects the format.
func ParseConfig(data []byte, filename string) (*TestConfig, error) {
	cfg := &TestConfig{}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}
	return cfg, nil
}

// ParseDurationString parses Go duration syntax ("1m30s") or a bare integer
// number of seconds. The empty string is zero.
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}

// ParseScenarioDuration returns the explicit duration of a scenario or the
// sum of its stages.
func ParseScenarioDuration(sc *ScenarioConfig) (time.Duration, error) {
	if sc.Duration != "" {
		return ParseDurationString(sc.Duration)
	}
	if len(sc.Stages) == 0 {
		return 0, fmt.Errorf("scenario has neither a duration nor stages")
	}
	var total time.Duration
	for i, st := range sc.Stages {
		d, err := ParseDurationString(st.Duration)
		if err != nil {
			return 0, fmt.Errorf("stages[%d]: %w", i, err)
		}
		total += d
	}
	return total, nil
}

var variablePattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.\-]*)\s*\}\}`)

// ResolveVariables replaces {{name}} placeholders from vars. {{baseUrl}}
// falls back to settings.baseUrl. Unknown placeholders are left untouched.
func ResolveVariables(input string, vars map[string]string, settings *GlobalSettings) string {
	if !strings.Contains(input, "{{") {
		return input
	}
	return variablePattern.ReplaceAllStringFunc(input, func(m string) string {
		name := variablePattern.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		if settings != nil && (name == "baseUrl" || name == "baseURL") {
			return settings.BaseURL
		}
		return m
	})
}

// MergeVariables merges maps left to right; later maps win.
func MergeVariables(maps ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

// ApplyDefaults fills in unset settings, options, executors and request
// fields.
func ApplyDefaults(cfg *TestConfig) {
	if cfg.Settings.Timeout == 0 {
		cfg.Settings.Timeout = Duration(DefaultTimeout)
	}
	if cfg.Settings.UserAgent == "" {
		cfg.Settings.UserAgent = DefaultUserAgent
	}

	if cfg.Options == nil {
		cfg.Options = &ExecutionOptions{}
	}
	if cfg.Options.SetupTimeout == 0 {
		cfg.Options.SetupTimeout = Duration(DefaultSetupTimeout)
	}
	if cfg.Options.TeardownTimeout == 0 {
		cfg.Options.TeardownTimeout = Duration(DefaultTeardownTimeout)
	}
	if len(cfg.Options.SummaryTrendStats) == 0 {
		cfg.Options.SummaryTrendStats = append([]string(nil), DefaultSummaryTrendStats...)
	}

	for _, sc := range cfg.Scenarios {
		if sc == nil {
			continue
		}
		if sc.Executor == "" {
			sc.Executor = string(executor.TypeConstantVUs)
		}
		defaultRequests(sc.Requests)
	}
	if cfg.Setup != nil {
		defaultRequests(cfg.Setup.Requests)
	}
	if cfg.Teardown != nil {
		defaultRequests(cfg.Teardown.Requests)
	}
}

func defaultRequests(reqs []RequestConfig) {
	for i := range reqs {
		r := &reqs[i]
		if r.Method == "" {
			r.Method = "GET"
		}
		r.Method = strings.ToUpper(r.Method)
		if r.Name == "" {
			r.Name = fmt.Sprintf("%s %s", r.Method, r.URL)
		}
	}
}

// ScenarioNames returns the scenario names in sorted order.
func (c *TestConfig) ScenarioNames() []string {
	names := make([]string, 0, len(c.Scenarios))
	for name := range c.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ConvertToExecutorConfig converts a scenario into an executor config,
// applying executor defaults.
func ConvertToExecutorConfig(name string, sc *ScenarioConfig) (*executor.Config, error) {
	cfg := &executor.Config{
		Name:            name,
		Type:            executor.Type(sc.Executor),
		VUs:             sc.VUs,
		Iterations:      sc.Iterations,
		StartVUs:        sc.StartVUs,
		Rate:            sc.Rate,
		StartRate:       sc.StartRate,
		PreAllocatedVUs: sc.PreAllocatedVUs,
		MaxVUs:          sc.MaxVUs,
		GracefulStop:    executor.DefaultGracefulStop,
	}

	durations := []struct {
		field string
		value string
		dst   *time.Duration
	}{
		{"duration", sc.Duration, &cfg.Duration},
		{"maxDuration", sc.MaxDuration, &cfg.MaxDuration},
		{"gracefulRampDown", sc.GracefulRampDown, &cfg.GracefulRampDown},
		{"timeUnit", sc.TimeUnit, &cfg.TimeUnit},
		{"startTime", sc.StartTime, &cfg.StartTime},
		{"gracefulStop", sc.GracefulStop, &cfg.GracefulStop},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		v, err := ParseDurationString(d.value)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.field, err)
		}
		*d.dst = v
	}

	if cfg.Type == executor.TypeRampingVUs && sc.GracefulRampDown == "" {
		cfg.GracefulRampDown = executor.DefaultGracefulRampDown
	}
	if cfg.TimeUnit == 0 {
		cfg.TimeUnit = executor.DefaultTimeUnit
	}
	if (cfg.Type == executor.TypePerVUIterations || cfg.Type == executor.TypeSharedIterations) && cfg.MaxDuration == 0 {
		cfg.MaxDuration = executor.DefaultMaxDuration
	}
	if cfg.Type == executor.TypeSharedIterations && cfg.VUs == 0 {
		cfg.VUs = 1
	}
	if cfg.Type == executor.TypePerVUIterations && cfg.VUs == 0 {
		cfg.VUs = 1
	}

	for i, st := range sc.Stages {
		d, err := ParseDurationString(st.Duration)
		if err != nil {
			return nil, fmt.Errorf("invalid stages[%d].duration: %w", i, err)
		}
		cfg.Stages = append(cfg.Stages, executor.Stage{Duration: d, Target: st.Target, Name: st.Name})
	}

	if sc.Pacing != nil {
		p := &executor.PacingConfig{Type: executor.PacingType(sc.Pacing.Type)}
		var err error
		if p.Duration, err = ParseDurationString(sc.Pacing.Duration); err != nil {
			return nil, fmt.Errorf("invalid pacing duration: %w", err)
		}
		if p.Min, err = ParseDurationString(sc.Pacing.Min); err != nil {
			return nil, fmt.Errorf("invalid pacing min: %w", err)
		}
		if p.Max, err = ParseDurationString(sc.Pacing.Max); err != nil {
			return nil, fmt.Errorf("invalid pacing max: %w", err)
		}
		cfg.Pacing = p
	}

	return cfg, nil
}
