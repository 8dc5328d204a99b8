// Package config provides parsing, defaults and validation for load test
// documents.
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// TestConfig is the root configuration for a load test.
//
// Example YAML:
//
//	name: "API Load Test"
//	settings:
//	  baseUrl: "https://api.example.com"
//	  timeout: 30s
//	scenarios:
//	  browse:
//	    executor: constant-vus
//	    vus: 10
//	    duration: 30s
//	    requests:
//	      - name: "Get Users"
//	        method: GET
//	        url: "{{baseUrl}}/api/users"
//	thresholds:
//	  http_req_duration: ["p(95) < 500ms"]
type TestConfig struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Settings contains global settings for all scenarios
	Settings GlobalSettings `json:"settings,omitempty" yaml:"settings,omitempty"`

	// Variables are global variables available to all scenarios
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`

	// Metrics declares custom metrics that requests and Go iterations may emit.
	Metrics []MetricConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`

	// Setup runs once before any scenario; its extracted variables become
	// setup data. Teardown runs once after every scenario has finished.
	Setup    *FlowConfig `json:"setup,omitempty" yaml:"setup,omitempty"`
	Teardown *FlowConfig `json:"teardown,omitempty" yaml:"teardown,omitempty"`

	// Scenarios defines the load profiles to run. Each scenario runs
	// independently with its own executor.
	Scenarios map[string]*ScenarioConfig `json:"scenarios" yaml:"scenarios"`

	// Thresholds maps a metric, optionally with a tag filter such as
	// "http_req_duration{scenario:browse}", to its pass/fail criteria.
	Thresholds map[string][]ThresholdConfig `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	Options *ExecutionOptions `json:"options,omitempty" yaml:"options,omitempty"`

	// Outputs stream samples to external sinks while the test runs.
	Outputs []OutputConfig `json:"outputs,omitempty" yaml:"outputs,omitempty"`
}

// GlobalSettings contains global HTTP and execution settings.
type GlobalSettings struct {
	// BaseURL is the default base URL for all requests
	BaseURL string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`

	// Timeout is the default HTTP request timeout
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	MaxConnectionsPerHost int  `json:"maxConnectionsPerHost,omitempty" yaml:"maxConnectionsPerHost,omitempty"`
	MaxIdleConnsPerHost   int  `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`
	InsecureSkipVerify    bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	UserAgent string            `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`
	Headers   map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// RPS caps the request rate across every VU of the test. Zero means no cap.
	RPS int `json:"rps,omitempty" yaml:"rps,omitempty"`
}

// MetricConfig declares a custom metric.
type MetricConfig struct {
	Name string `json:"name" yaml:"name"`

	// Type is one of counter, gauge, rate, trend.
	Type string `json:"type" yaml:"type"`

	// Contains is default, time or data.
	Contains string `json:"contains,omitempty" yaml:"contains,omitempty"`
}

// FlowConfig is a request list run outside of any scenario.
type FlowConfig struct {
	Requests []RequestConfig `json:"requests" yaml:"requests"`
}

// ScenarioConfig defines a single load testing scenario.
type ScenarioConfig struct {
	// Executor specifies the load generation strategy
	Executor string `json:"executor" yaml:"executor"`

	// Exec names a Go iteration function registered with the engine. When
	// empty the scenario runs its Requests.
	Exec string `json:"exec,omitempty" yaml:"exec,omitempty"`

	VUs        int    `json:"vus,omitempty" yaml:"vus,omitempty"`
	Duration   string `json:"duration,omitempty" yaml:"duration,omitempty"`
	Iterations int64  `json:"iterations,omitempty" yaml:"iterations,omitempty"`

	// MaxDuration bounds the iteration-based executors.
	MaxDuration string `json:"maxDuration,omitempty" yaml:"maxDuration,omitempty"`

	// Ramping VUs
	StartVUs         int    `json:"startVUs,omitempty" yaml:"startVUs,omitempty"`
	GracefulRampDown string `json:"gracefulRampDown,omitempty" yaml:"gracefulRampDown,omitempty"`

	// Arrival-rate executors. Rate and stage targets are iterations per TimeUnit.
	Rate            float64 `json:"rate,omitempty" yaml:"rate,omitempty"`
	StartRate       float64 `json:"startRate,omitempty" yaml:"startRate,omitempty"`
	TimeUnit        string  `json:"timeUnit,omitempty" yaml:"timeUnit,omitempty"`
	PreAllocatedVUs int     `json:"preAllocatedVUs,omitempty" yaml:"preAllocatedVUs,omitempty"`
	MaxVUs          int     `json:"maxVUs,omitempty" yaml:"maxVUs,omitempty"`

	// Stages defines ramping stages (for ramping executors)
	Stages []StageConfig `json:"stages,omitempty" yaml:"stages,omitempty"`

	// Requests defines the HTTP requests of one iteration
	Requests []RequestConfig `json:"requests,omitempty" yaml:"requests,omitempty"`

	// GracefulStop is how long to wait for iterations to finish
	GracefulStop string `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	Pacing *PacingConfig `json:"pacing,omitempty" yaml:"pacing,omitempty"`

	// StartTime delays this scenario relative to the test start
	StartTime string `json:"startTime,omitempty" yaml:"startTime,omitempty"`

	// Tags are added to every sample of this scenario
	Tags map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// Variables override the global variables for this scenario
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`
}

// StageConfig defines a single stage in a ramping executor.
type StageConfig struct {
	Duration string `json:"duration" yaml:"duration"`

	// Target VU count (ramping-vus) or rate per time unit (ramping-arrival-rate)
	Target int `json:"target" yaml:"target"`

	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// RequestConfig defines a single HTTP request.
type RequestConfig struct {
	// Name for this request; used as the "name" tag
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	Method  string            `json:"method" yaml:"method"`
	URL     string            `json:"url" yaml:"url"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body    string            `json:"body,omitempty" yaml:"body,omitempty"`

	// Timeout overrides settings.timeout
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// ThinkTime is the wait after this request
	ThinkTime string `json:"thinkTime,omitempty" yaml:"thinkTime,omitempty"`

	// Tags are added to the samples of this request
	Tags map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`

	Extract    []ExtractConfig   `json:"extract,omitempty" yaml:"extract,omitempty"`
	Assertions []AssertionConfig `json:"assertions,omitempty" yaml:"assertions,omitempty"`
}

// PacingConfig controls pacing between iterations.
type PacingConfig struct {
	// Type is the pacing strategy: "none", "constant", "random"
	Type string `json:"type" yaml:"type"`

	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`
	Min      string `json:"min,omitempty" yaml:"min,omitempty"`
	Max      string `json:"max,omitempty" yaml:"max,omitempty"`
}

// ExtractConfig defines how to extract a variable from a response.
type ExtractConfig struct {
	Name string `json:"name" yaml:"name"`

	// Source is where to extract from: "body", "header", "status"
	Source string `json:"source" yaml:"source"`

	// Path is the header name, or a JSON path for body
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Regex extracts its first capture group (or whole match) from the source
	Regex string `json:"regex,omitempty" yaml:"regex,omitempty"`
}

// AssertionConfig defines a response check. Every assertion feeds the
// checks metric, tagged with its name.
type AssertionConfig struct {
	// Name is the check tag; generated from the assertion when empty
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Type is one of "status", "body", "header", "jsonpath", "schema", "duration"
	Type string `json:"type" yaml:"type"`

	// Condition is the comparison: "eq", "ne", "gt", "lt", "gte", "lte",
	// "contains", "matches", "exists"
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`

	Value string `json:"value,omitempty" yaml:"value,omitempty"`

	// Path is a header name or a JSON path
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Schema is an inline JSON schema for "schema" assertions
	Schema string `json:"schema,omitempty" yaml:"schema,omitempty"`

	// Fail makes a failed assertion fail the iteration
	Fail bool `json:"fail,omitempty" yaml:"fail,omitempty"`
}

// ThresholdConfig is one pass/fail criterion. It decodes from either a bare
// expression string or an object.
type ThresholdConfig struct {
	Threshold      string `json:"threshold" yaml:"threshold"`
	AbortOnFail    bool   `json:"abortOnFail,omitempty" yaml:"abortOnFail,omitempty"`
	DelayAbortEval string `json:"delayAbortEval,omitempty" yaml:"delayAbortEval,omitempty"`
}

type thresholdObject ThresholdConfig

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *ThresholdConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*t = ThresholdConfig{Threshold: node.Value}
		return nil
	}
	var obj thresholdObject
	if err := node.Decode(&obj); err != nil {
		return err
	}
	*t = ThresholdConfig(obj)
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *ThresholdConfig) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = ThresholdConfig{Threshold: s}
		return nil
	}
	var obj thresholdObject
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("threshold must be a string or an object: %w", err)
	}
	*t = ThresholdConfig(obj)
	return nil
}

// ExecutionOptions controls test execution behavior.
type ExecutionOptions struct {
	SetupTimeout    Duration `json:"setupTimeout,omitempty" yaml:"setupTimeout,omitempty"`
	TeardownTimeout Duration `json:"teardownTimeout,omitempty" yaml:"teardownTimeout,omitempty"`

	// SummaryTrendStats selects the trend columns of the end-of-test
	// summary, for example ["avg", "min", "med", "max", "p(90)", "p(95)"].
	SummaryTrendStats []string `json:"summaryTrendStats,omitempty" yaml:"summaryTrendStats,omitempty"`

	// NoConnectionReuse gives every VU its own transport with keep-alives off
	NoConnectionReuse bool `json:"noConnectionReuse,omitempty" yaml:"noConnectionReuse,omitempty"`
}

// OutputConfig selects an output. Type is json, csv or prometheus; Target
// is a file path or, for prometheus, a listen address.
type OutputConfig struct {
	Type   string `json:"type" yaml:"type"`
	Target string `json:"target,omitempty" yaml:"target,omitempty"`
}

// Duration is a time.Duration that decodes from JSON/YAML strings. A bare
// number is read as seconds.
type Duration time.Duration

// GetDuration returns the duration or a default if unset.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "null" {
		s = ""
	}
	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	dur, err := ParseDurationString(node.Value)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}
