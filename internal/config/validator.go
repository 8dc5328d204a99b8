package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/wesleyorama2/surge/internal/executor"
	"github.com/wesleyorama2/surge/internal/metrics"
	"github.com/wesleyorama2/surge/internal/threshold"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e.Errors))
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Fields returns the failing field paths.
func (e *ValidationErrors) Fields() []string {
	out := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		out[i] = err.Field
	}
	return out
}

// ValidateOptions controls what Validate accepts.
type ValidateOptions struct {
	// Execs are the names of Go iteration functions available to scenarios.
	// A scenario without requests must name one of them.
	Execs map[string]bool
	// Metrics are custom metric names registered outside the file.
	Metrics map[string]bool
}

// Validate validates the entire test configuration.
//
// Returns nil if valid, or a *ValidationErrors containing every problem.
func (c *TestConfig) Validate() error {
	return c.ValidateWith(ValidateOptions{})
}

// ValidateWith is Validate with extra knowledge about the run.
func (c *TestConfig) ValidateWith(opts ValidateOptions) error {
	errs := &ValidationErrors{}

	if len(c.Scenarios) == 0 {
		errs.Add("scenarios", "at least one scenario is required")
	}
	for _, name := range c.ScenarioNames() {
		validateScenario(name, c.Scenarios[name], opts, errs)
	}

	custom := validateMetrics(c.Metrics, errs)
	for name := range opts.Metrics {
		custom[name] = true
	}
	validateThresholds(c.Thresholds, custom, errs)
	validateSettings(&c.Settings, errs)
	validateOutputs(c.Outputs, errs)

	if c.Setup != nil {
		validateRequests("setup.requests", c.Setup.Requests, errs)
	}
	if c.Teardown != nil {
		validateRequests("teardown.requests", c.Teardown.Requests, errs)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

var scenarioNamePattern = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

// validateScenario validates a single scenario configuration.
func validateScenario(name string, sc *ScenarioConfig, opts ValidateOptions, errs *ValidationErrors) {
	prefix := fmt.Sprintf("scenarios.%s", name)
	if sc == nil {
		errs.Add(prefix, "scenario is empty")
		return
	}
	if !scenarioNamePattern.MatchString(name) {
		errs.Add(prefix, "scenario names may only contain letters, digits, '_' and '-'")
	}

	if sc.Executor == "" {
		errs.Add(prefix+".executor", "executor type is required")
	} else if !executor.IsValidExecutorType(sc.Executor) {
		errs.Add(prefix+".executor", fmt.Sprintf("unknown executor type: %s", sc.Executor))
	} else {
		validateExecutor(prefix, name, sc, errs)
	}

	switch {
	case sc.Exec != "" && len(sc.Requests) > 0:
		errs.Add(prefix+".exec", "exec and requests are mutually exclusive")
	case sc.Exec != "":
		if opts.Execs != nil && !opts.Execs[sc.Exec] {
			errs.Add(prefix+".exec", fmt.Sprintf("no iteration function registered as %q", sc.Exec))
		}
	case len(sc.Requests) == 0:
		errs.Add(prefix+".requests", "at least one request is required")
	}
	validateRequests(prefix+".requests", sc.Requests, errs)
}

// validateExecutor converts the scenario and lets the executor config
// validate itself, mapping its field name back onto the document path.
func validateExecutor(prefix, name string, sc *ScenarioConfig, errs *ValidationErrors) {
	cfg, err := ConvertToExecutorConfig(name, sc)
	if err != nil {
		errs.Add(prefix, err.Error())
		return
	}
	if err := cfg.Validate(); err != nil {
		var ve *executor.ValidationError
		if errors.As(err, &ve) {
			errs.Add(prefix+"."+ve.Field, ve.Message)
			return
		}
		errs.Add(prefix, err.Error())
	}
}

var validMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

func validateRequests(prefix string, reqs []RequestConfig, errs *ValidationErrors) {
	for i := range reqs {
		validateRequest(fmt.Sprintf("%s[%d]", prefix, i), &reqs[i], errs)
	}
}

// validateRequest validates a single request configuration.
func validateRequest(prefix string, req *RequestConfig, errs *ValidationErrors) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		errs.Add(prefix+".method", "method is required")
	} else if !validMethods[method] {
		errs.Add(prefix+".method", fmt.Sprintf("invalid HTTP method: %s", req.Method))
	}

	if req.URL == "" {
		errs.Add(prefix+".url", "url is required")
	} else {
		// placeholders are resolved at run time
		check := variablePattern.ReplaceAllString(req.URL, "placeholder")
		if strings.HasPrefix(check, "placeholder") {
			check = "http://example.com" + strings.TrimPrefix(check, "placeholder")
		}
		if _, err := url.Parse(check); err != nil {
			errs.Add(prefix+".url", fmt.Sprintf("invalid URL: %v", err))
		}
	}

	if _, err := ParseDurationString(req.Timeout); err != nil {
		errs.Add(prefix+".timeout", err.Error())
	}
	if _, err := ParseDurationString(req.ThinkTime); err != nil {
		errs.Add(prefix+".thinkTime", err.Error())
	}

	for i := range req.Extract {
		validateExtract(fmt.Sprintf("%s.extract[%d]", prefix, i), &req.Extract[i], errs)
	}
	for i := range req.Assertions {
		validateAssertion(fmt.Sprintf("%s.assertions[%d]", prefix, i), &req.Assertions[i], errs)
	}
}

// validateExtract validates an extract configuration.
func validateExtract(prefix string, ex *ExtractConfig, errs *ValidationErrors) {
	if ex.Name == "" {
		errs.Add(prefix+".name", "name is required")
	}

	switch ex.Source {
	case "":
		errs.Add(prefix+".source", "source is required")
	case "body", "status":
	case "header":
		if ex.Path == "" {
			errs.Add(prefix+".path", "header extraction needs a header name")
		}
	default:
		errs.Add(prefix+".source", fmt.Sprintf("invalid source: %s", ex.Source))
	}

	if ex.Regex != "" {
		if _, err := regexp.Compile(ex.Regex); err != nil {
			errs.Add(prefix+".regex", fmt.Sprintf("invalid regex: %v", err))
		}
	}
}

var validConditions = map[string]bool{
	"eq": true, "ne": true, "gt": true, "lt": true, "gte": true, "lte": true,
	"contains": true, "matches": true, "exists": true,
}

// validateAssertion validates an assertion configuration.
func validateAssertion(prefix string, a *AssertionConfig, errs *ValidationErrors) {
	switch a.Type {
	case "":
		errs.Add(prefix+".type", "type is required")
		return
	case "status", "body", "duration":
	case "header", "jsonpath":
		if a.Path == "" {
			errs.Add(prefix+".path", fmt.Sprintf("%s assertions need a path", a.Type))
		}
	case "schema":
		if a.Schema == "" {
			errs.Add(prefix+".schema", "schema assertions need an inline schema")
		}
		return
	default:
		errs.Add(prefix+".type", fmt.Sprintf("invalid assertion type: %s", a.Type))
		return
	}

	// An empty condition is defaulted from the type when the checks compile.
	if a.Condition != "" && !validConditions[a.Condition] {
		errs.Add(prefix+".condition", fmt.Sprintf("invalid condition: %s", a.Condition))
	} else if a.Condition == "matches" {
		if _, err := regexp.Compile(a.Value); err != nil {
			errs.Add(prefix+".value", fmt.Sprintf("invalid regex: %v", err))
		}
	}
	if a.Type == "duration" && a.Value != "" {
		if _, err := ParseDurationString(a.Value); err != nil {
			errs.Add(prefix+".value", err.Error())
		}
	}
}

// validateMetrics checks custom metric declarations and returns their names.
func validateMetrics(defs []MetricConfig, errs *ValidationErrors) map[string]bool {
	names := make(map[string]bool)
	for i, m := range defs {
		prefix := fmt.Sprintf("metrics[%d]", i)
		if err := metrics.ValidateName(m.Name); err != nil {
			errs.Add(prefix+".name", err.Error())
		}
		if names[m.Name] {
			errs.Add(prefix+".name", fmt.Sprintf("metric %q declared twice", m.Name))
		}
		names[m.Name] = true
		if _, err := metrics.ParseMetricType(m.Type); err != nil {
			errs.Add(prefix+".type", err.Error())
		}
		if m.Contains != "" {
			if _, err := metrics.ParseValueType(m.Contains); err != nil {
				errs.Add(prefix+".contains", err.Error())
			}
		}
	}
	return names
}

// validateThresholds checks expression syntax and that the metric is known.
// Whether an aggregation suits the metric type is checked when the
// thresholds are bound to the registry.
func validateThresholds(defs map[string][]ThresholdConfig, custom map[string]bool, errs *ValidationErrors) {
	builtin := metrics.BuiltinNames()
	for key, list := range defs {
		prefix := "thresholds." + key
		name, _, err := metrics.ParseMetricName(key)
		if err != nil {
			errs.Add(prefix, err.Error())
			continue
		}
		if !builtin[name] && !custom[name] {
			errs.Add(prefix, fmt.Sprintf("unknown metric %q", name))
		}
		for i, th := range list {
			field := fmt.Sprintf("%s[%d]", prefix, i)
			if _, err := threshold.ParseExpression(th.Threshold); err != nil {
				errs.Add(field, err.Error())
			}
			if _, err := ParseDurationString(th.DelayAbortEval); err != nil {
				errs.Add(field+".delayAbortEval", err.Error())
			}
		}
	}
}

// validateSettings validates global settings.
func validateSettings(s *GlobalSettings, errs *ValidationErrors) {
	if s.BaseURL != "" {
		if u, err := url.Parse(s.BaseURL); err != nil {
			errs.Add("settings.baseUrl", fmt.Sprintf("invalid URL: %v", err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errs.Add("settings.baseUrl", "baseUrl must use http or https")
		}
	}

	if s.MaxConnectionsPerHost < 0 {
		errs.Add("settings.maxConnectionsPerHost", "cannot be negative")
	}
	if s.MaxIdleConnsPerHost < 0 {
		errs.Add("settings.maxIdleConnsPerHost", "cannot be negative")
	}
	if s.RPS < 0 {
		errs.Add("settings.rps", "cannot be negative")
	}
	if s.Timeout < 0 {
		errs.Add("settings.timeout", "cannot be negative")
	}
}

func validateOutputs(outs []OutputConfig, errs *ValidationErrors) {
	for i, o := range outs {
		prefix := fmt.Sprintf("outputs[%d]", i)
		switch o.Type {
		case "json", "csv":
			if o.Target == "" {
				errs.Add(prefix+".target", o.Type+" output needs a file path")
			}
		case "prometheus":
		case "":
			errs.Add(prefix+".type", "type is required")
		default:
			errs.Add(prefix+".type", fmt.Sprintf("unknown output type: %s", o.Type))
		}
	}
}
