package config

import (
	"errors"
	"strings"
	"testing"
)

func validConfig() *TestConfig {
	return &TestConfig{
		Name: "valid",
		Scenarios: map[string]*ScenarioConfig{
			"browse": {
				Executor: "constant-vus",
				VUs:      2,
				Duration: "10s",
				Requests: []RequestConfig{{Method: "GET", URL: "{{baseUrl}}/products"}},
			},
		},
		Settings: GlobalSettings{BaseURL: "https://shop.example.com"},
		Thresholds: map[string][]ThresholdConfig{
			"http_req_duration":                {{Threshold: "p(95) < 500ms"}},
			"http_req_failed{scenario:browse}": {{Threshold: "rate < 0.01", AbortOnFail: true, DelayAbortEval: "5s"}},
			"cart_size":                        {{Threshold: "avg < 5"}},
		},
		Metrics: []MetricConfig{{Name: "cart_size", Type: "trend"}},
	}
}

func fieldsOf(t *testing.T, err error) []string {
	t.Helper()
	var ve *ValidationErrors
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationErrors, got %T: %v", err, err)
	}
	return ve.Fields()
}

func hasField(fields []string, want string) bool {
	for _, f := range fields {
		if f == want {
			return true
		}
	}
	return false
}

func TestValidate_Valid(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestValidate_NoScenarios(t *testing.T) {
	cfg := &TestConfig{Name: "empty"}
	fields := fieldsOf(t, cfg.Validate())
	if !hasField(fields, "scenarios") {
		t.Errorf("fields = %v, want scenarios", fields)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Scenarios["browse"].VUs = 0
	cfg.Scenarios["browse"].Requests[0].Method = "FETCH"
	cfg.Settings.RPS = -1
	cfg.Outputs = []OutputConfig{{Type: "kafka"}}

	fields := fieldsOf(t, cfg.Validate())
	for _, want := range []string{
		"scenarios.browse.vus",
		"scenarios.browse.requests[0].method",
		"settings.rps",
		"outputs[0].type",
	} {
		if !hasField(fields, want) {
			t.Errorf("missing error for %s in %v", want, fields)
		}
	}
}

func TestValidate_Executors(t *testing.T) {
	tests := []struct {
		name  string
		sc    ScenarioConfig
		field string
	}{
		{
			name:  "unknown executor",
			sc:    ScenarioConfig{Executor: "bursty"},
			field: "scenarios.s.executor",
		},
		{
			name:  "shared iterations fewer than vus",
			sc:    ScenarioConfig{Executor: "shared-iterations", VUs: 10, Iterations: 5},
			field: "scenarios.s.iterations",
		},
		{
			name:  "arrival rate without vus",
			sc:    ScenarioConfig{Executor: "constant-arrival-rate", Rate: 10, Duration: "10s"},
			field: "scenarios.s.preAllocatedVUs",
		},
		{
			name:  "ramping without stages",
			sc:    ScenarioConfig{Executor: "ramping-arrival-rate", PreAllocatedVUs: 1},
			field: "scenarios.s.stages",
		},
		{
			name:  "bad duration",
			sc:    ScenarioConfig{Executor: "constant-vus", VUs: 1, Duration: "forever"},
			field: "scenarios.s",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := tt.sc
			sc.Requests = []RequestConfig{{Method: "GET", URL: "http://localhost/"}}
			cfg := &TestConfig{Scenarios: map[string]*ScenarioConfig{"s": &sc}}
			fields := fieldsOf(t, cfg.Validate())
			if !hasField(fields, tt.field) {
				t.Errorf("fields = %v, want %s", fields, tt.field)
			}
		})
	}
}

func TestValidate_ExecAndRequests(t *testing.T) {
	cfg := validConfig()
	cfg.Scenarios["browse"].Exec = "checkout"
	if !hasField(fieldsOf(t, cfg.Validate()), "scenarios.browse.exec") {
		t.Error("exec with requests should be rejected")
	}

	cfg.Scenarios["browse"].Requests = nil
	if err := cfg.ValidateWith(ValidateOptions{Execs: map[string]bool{"checkout": true}}); err != nil {
		t.Errorf("registered exec rejected: %v", err)
	}
	err := cfg.ValidateWith(ValidateOptions{Execs: map[string]bool{"other": true}})
	if !hasField(fieldsOf(t, err), "scenarios.browse.exec") {
		t.Error("unregistered exec should be rejected")
	}
}

func TestValidate_Thresholds(t *testing.T) {
	cfg := validConfig()
	cfg.Thresholds["nope"] = []ThresholdConfig{{Threshold: "count > 1"}}
	cfg.Thresholds["http_reqs"] = []ThresholdConfig{{Threshold: "p95 <"}}
	cfg.Thresholds["iterations"] = []ThresholdConfig{{Threshold: "count > 1", DelayAbortEval: "later"}}

	fields := fieldsOf(t, cfg.Validate())
	for _, want := range []string{"thresholds.nope", "thresholds.http_reqs[0]", "thresholds.iterations[0].delayAbortEval"} {
		if !hasField(fields, want) {
			t.Errorf("missing error for %s in %v", want, fields)
		}
	}
}

func TestValidate_Metrics(t *testing.T) {
	cfg := validConfig()
	cfg.Metrics = append(cfg.Metrics,
		MetricConfig{Name: "cart_size", Type: "trend"},
		MetricConfig{Name: "1bad", Type: "histogram"},
	)
	fields := fieldsOf(t, cfg.Validate())
	for _, want := range []string{"metrics[1].name", "metrics[2].name", "metrics[2].type"} {
		if !hasField(fields, want) {
			t.Errorf("missing error for %s in %v", want, fields)
		}
	}
}

func TestValidate_Assertions(t *testing.T) {
	cfg := validConfig()
	cfg.Scenarios["browse"].Requests[0].Assertions = []AssertionConfig{
		{Type: "status", Condition: "eq", Value: "200"},
		{Type: "jsonpath", Condition: "eq", Value: "1"},
		{Type: "body", Condition: "matches", Value: "("},
		{Type: "schema"},
		{Type: "xml", Condition: "eq"},
	}
	cfg.Scenarios["browse"].Requests[0].Extract = []ExtractConfig{
		{Name: "token", Source: "body", Path: "token"},
		{Name: "", Source: "cookie"},
	}

	fields := fieldsOf(t, cfg.Validate())
	prefix := "scenarios.browse.requests[0]."
	for _, want := range []string{
		"assertions[1].path",
		"assertions[2].value",
		"assertions[3].schema",
		"assertions[4].type",
		"extract[1].name",
		"extract[1].source",
	} {
		if !hasField(fields, prefix+want) {
			t.Errorf("missing error for %s in %v", want, fields)
		}
	}
	if hasField(fields, prefix+"assertions[0].type") {
		t.Error("valid status assertion rejected")
	}
}

func TestValidate_AssertionWithoutCondition(t *testing.T) {
	cfg := validConfig()
	cfg.Scenarios["browse"].Requests[0].Assertions = []AssertionConfig{
		{Type: "status", Value: "200"},
		{Type: "body", Value: "ok"},
		{Type: "duration", Value: "500ms"},
		{Type: "header", Path: "Content-Type"},
		{Type: "jsonpath", Path: "$.id", Value: "7"},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	cfg.Scenarios["browse"].Requests[0].Assertions = []AssertionConfig{
		{Type: "status", Condition: "roughly", Value: "200"},
	}
	fields := fieldsOf(t, cfg.Validate())
	if !hasField(fields, "scenarios.browse.requests[0].assertions[0].condition") {
		t.Errorf("fields = %v, want the unknown condition rejected", fields)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	errs := &ValidationErrors{}
	errs.Add("a", "first")
	if got := errs.Error(); got != "validation error on field 'a': first" {
		t.Errorf("Error() = %q", got)
	}
	errs.Add("b", "second")
	if got := errs.Error(); !strings.HasPrefix(got, "2 validation errors:") {
		t.Errorf("Error() = %q", got)
	}
}
