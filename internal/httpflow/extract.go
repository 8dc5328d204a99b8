package httpflow

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/wesleyorama2/surge/internal/config"
	"github.com/wesleyorama2/surge/pkg/jsonpath"
)

// extractor pulls one variable out of a response.
type extractor struct {
	name   string
	source string
	path   string
	re     *regexp.Regexp
}

func compileExtract(e config.ExtractConfig) (*extractor, error) {
	x := &extractor{name: e.Name, source: e.Source, path: e.Path}
	if x.source == "" {
		x.source = "body"
	}
	switch x.source {
	case "body", "header", "status":
	default:
		return nil, fmt.Errorf("unknown extract source %q", e.Source)
	}
	if e.Regex != "" {
		re, err := regexp.Compile(e.Regex)
		if err != nil {
			return nil, fmt.Errorf("invalid regex %q: %w", e.Regex, err)
		}
		x.re = re
	}
	return x, nil
}

// extract returns the value and whether it was found. A regex is applied
// after the path and yields its first capture group, or the whole match.
func (x *extractor) extract(r *response) (string, bool) {
	var value string
	switch x.source {
	case "status":
		value = strconv.Itoa(r.status)
	case "header":
		v, ok := r.headerValue(x.path)
		if !ok {
			return "", false
		}
		value = v
	case "body":
		if x.path == "" {
			value = string(r.body)
			break
		}
		v, err := jsonpath.Extract(r.body, x.path)
		if err != nil {
			return "", false
		}
		value = v
	}

	if x.re == nil {
		return value, true
	}
	m := x.re.FindStringSubmatch(value)
	switch {
	case m == nil:
		return "", false
	case len(m) > 1:
		return m[1], true
	default:
		return m[0], true
	}
}
