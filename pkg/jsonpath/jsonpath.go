// Package jsonpath looks up values in JSON documents with JSONPath-style
// expressions such as "$.users[0].name", evaluated by gjson.
package jsonpath

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	quotedKey = regexp.MustCompile(`\[\s*['"]([^'"]*)['"]\s*\]`)
	index     = regexp.MustCompile(`\[\s*(\d+|\*|#)\s*\]`)
)

// Normalize converts a JSONPath expression to gjson path syntax. Paths that
// are already in gjson syntax ("users.0.name") are returned unchanged.
func Normalize(path string) string {
	path = strings.TrimSpace(path)
	if path == "$" || path == "" {
		return "@this"
	}
	path = strings.TrimPrefix(path, "$")
	path = quotedKey.ReplaceAllString(path, ".$1")
	path = index.ReplaceAllStringFunc(path, func(m string) string {
		i := strings.Trim(m, "[] ")
		if i == "*" {
			i = "#"
		}
		return "." + i
	})
	return strings.TrimPrefix(path, ".")
}

// Lookup returns the value at path and whether it exists.
func Lookup(body []byte, path string) (gjson.Result, bool) {
	res := gjson.GetBytes(body, Normalize(path))
	return res, res.Exists()
}

// Extract returns the value at path as a string. JSON null is "null".
func Extract(body []byte, path string) (string, error) {
	if len(body) == 0 {
		return "", fmt.Errorf("empty JSON document")
	}
	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("invalid JSON document")
	}
	res, ok := Lookup(body, path)
	if !ok {
		return "", fmt.Errorf("path not found: %s", path)
	}
	if res.Type == gjson.Null {
		return "null", nil
	}
	return res.String(), nil
}
