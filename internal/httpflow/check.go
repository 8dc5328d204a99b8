package httpflow

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/surge/internal/config"
	"github.com/wesleyorama2/surge/pkg/jsonpath"
	"github.com/wesleyorama2/surge/pkg/jsonschema"
)

// response is what checks and extractors see of a finished request.
type response struct {
	status   int
	header   map[string][]string
	body     []byte
	duration time.Duration
}

func (r *response) headerValue(name string) (string, bool) {
	for k, vs := range r.header {
		if strings.EqualFold(k, name) && len(vs) > 0 {
			return vs[0], true
		}
	}
	return "", false
}

// check is a compiled assertion.
type check struct {
	name      string
	kind      string
	condition string
	value     string
	path      string
	fail      bool

	re     *regexp.Regexp
	schema *jsonschema.Schema
}

var statusClass = regexp.MustCompile(`^[1-5][xX]{2}$`)

func compileCheck(a config.AssertionConfig) (*check, error) {
	c := &check{
		name:      a.Name,
		kind:      a.Type,
		condition: a.Condition,
		value:     a.Value,
		path:      a.Path,
		fail:      a.Fail,
	}
	if c.condition == "" {
		c.condition = defaultCondition(a)
	}

	switch c.kind {
	case "status", "body", "header", "jsonpath", "duration":
	case "schema":
		s, err := jsonschema.Compile(a.Schema)
		if err != nil {
			return nil, err
		}
		c.schema = s
	default:
		return nil, fmt.Errorf("unknown assertion type %q", a.Type)
	}

	if c.condition == "matches" {
		re, err := regexp.Compile(a.Value)
		if err != nil {
			return nil, fmt.Errorf("invalid regex %q: %w", a.Value, err)
		}
		c.re = re
	}
	if c.name == "" {
		c.name = checkName(c)
	}
	return c, nil
}

func defaultCondition(a config.AssertionConfig) string {
	switch a.Type {
	case "body":
		return "contains"
	case "duration":
		return "lt"
	case "header", "jsonpath":
		if a.Value == "" {
			return "exists"
		}
	}
	return "eq"
}

func checkName(c *check) string {
	parts := []string{c.kind}
	if c.path != "" {
		parts = append(parts, c.path)
	}
	if c.kind != "schema" {
		parts = append(parts, c.condition)
		if c.condition != "exists" {
			parts = append(parts, c.value)
		}
	}
	return strings.Join(parts, " ")
}

// eval runs the check against r. expected is the check value with
// variables already resolved.
func (c *check) eval(r *response, expected string) bool {
	switch c.kind {
	case "status":
		if c.condition == "eq" && statusClass.MatchString(expected) {
			return r.status/100 == int(expected[0]-'0')
		}
		return compare(strconv.Itoa(r.status), c.condition, expected, c.re)
	case "body":
		return compare(string(r.body), c.condition, expected, c.re)
	case "header":
		v, ok := r.headerValue(c.path)
		if c.condition == "exists" {
			return ok
		}
		return ok && compare(v, c.condition, expected, c.re)
	case "jsonpath":
		res, ok := jsonpath.Lookup(r.body, c.path)
		if c.condition == "exists" {
			return ok
		}
		return ok && compare(res.String(), c.condition, expected, c.re)
	case "schema":
		return c.schema.Validate(r.body) == nil
	case "duration":
		limit, err := parseMillis(expected)
		if err != nil {
			return false
		}
		ms := float64(r.duration) / float64(time.Millisecond)
		return compare(strconv.FormatFloat(ms, 'f', -1, 64), c.condition, strconv.FormatFloat(limit, 'f', -1, 64), nil)
	}
	return false
}

// parseMillis reads "500ms", "1.5s" or a bare millisecond count.
func parseMillis(s string) (float64, error) {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	return float64(d) / float64(time.Millisecond), nil
}

// compare applies cond to actual and expected. Ordering conditions are
// numeric; eq and ne compare numerically when both sides are numbers.
func compare(actual, cond, expected string, re *regexp.Regexp) bool {
	switch cond {
	case "contains":
		return strings.Contains(actual, expected)
	case "matches":
		return re != nil && re.MatchString(actual)
	case "exists":
		return true
	}

	a, aErr := strconv.ParseFloat(strings.TrimSpace(actual), 64)
	e, eErr := strconv.ParseFloat(strings.TrimSpace(expected), 64)
	numeric := aErr == nil && eErr == nil

	switch cond {
	case "eq":
		if numeric {
			return a == e
		}
		return actual == expected
	case "ne":
		if numeric {
			return a != e
		}
		return actual != expected
	}
	if !numeric {
		return false
	}
	switch cond {
	case "gt":
		return a > e
	case "gte":
		return a >= e
	case "lt":
		return a < e
	case "lte":
		return a <= e
	}
	return false
}
