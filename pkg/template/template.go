// Package template resolves {{path.to.value}} placeholders in action configuration
// against the data available to a run.
package template

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/oliveagle/jsonpath"
)

var ErrUnresolved = errors.New("unresolved placeholder")

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_\-]+(?:(?:\.[A-Za-z0-9_\-]+)|(?:\[\d+\]))*)\s*\}\}`)

// HasPlaceholder reports whether s contains at least one placeholder.
func HasPlaceholder(s string) bool {
	return placeholderPattern.MatchString(s)
}

// Placeholders returns the paths referenced by s, in order of appearance.
func Placeholders(s string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(s, -1)
	paths := make([]string, 0, len(matches))

	for _, match := range matches {
		paths = append(paths, match[1])
	}

	return paths
}

// Walk calls fn for every string found in value, descending into maps and slices.
func Walk(value any, fn func(string)) {
	switch v := value.(type) {
	case string:
		fn(v)
	case map[string]any:
		for _, item := range v {
			Walk(item, fn)
		}
	case []any:
		for _, item := range v {
			Walk(item, fn)
		}
	}
}

// Segments splits "steps.0.items[2].id" into ["steps", "0", "items", "2", "id"].
func Segments(path string) []string {
	parts := parse(path)
	segments := make([]string, len(parts))

	for i, part := range parts {
		segments[i] = part.name
	}

	return segments
}

type segment struct {
	name    string
	bracket bool
}

func parse(path string) []segment {
	var segments []segment

	for _, dotted := range strings.Split(path, ".") {
		name, rest, _ := strings.Cut(dotted, "[")
		segments = append(segments, segment{name: name})

		for rest != "" {
			var index string

			index, rest, _ = strings.Cut(rest, "]")
			segments = append(segments, segment{name: index, bracket: true})
			rest = strings.TrimPrefix(rest, "[")
		}
	}

	return segments
}

// Lookup resolves path against scope. A bracketed segment indexes an array.
// A dotted numeric segment indexes an array when the value reached so far is
// one, and names an object key otherwise, so "steps.0" finds the first step.
func Lookup(scope map[string]any, path string) (any, bool) {
	expr := "$"

	for i, part := range parse(path) {
		if part.bracket || (i > 0 && isIndex(part.name) && isArray(scope, expr)) {
			expr += "[" + part.name + "]"

			continue
		}

		expr += "." + part.name
	}

	value, err := jsonpath.JsonPathLookup(scope, expr)
	if err != nil {
		return nil, false
	}

	return value, true
}

func isIndex(name string) bool {
	index, err := strconv.Atoi(name)

	return err == nil && index >= 0
}

func isArray(scope map[string]any, expr string) bool {
	value, err := jsonpath.JsonPathLookup(scope, expr)
	if err != nil || value == nil {
		return false
	}

	kind := reflect.TypeOf(value).Kind()

	return kind == reflect.Slice || kind == reflect.Array
}

// Resolve replaces placeholders in every string of value. A string made of a
// single placeholder takes the referenced value with its type; placeholders
// embedded in longer strings are rendered as text. Every unresolved path is
// reported in the returned error.
func Resolve(value any, scope map[string]any) (any, error) {
	var missing []string

	resolved := resolve(value, scope, &missing)
	if len(missing) > 0 {
		return resolved, fmt.Errorf("%w: %s", ErrUnresolved, strings.Join(missing, ", "))
	}

	return resolved, nil
}

func resolve(value any, scope map[string]any, missing *[]string) any {
	switch v := value.(type) {
	case string:
		return resolveString(v, scope, missing)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = resolve(item, scope, missing)
		}

		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = resolve(item, scope, missing)
		}

		return out
	default:
		return value
	}
}

func resolveString(s string, scope map[string]any, missing *[]string) any {
	if match := placeholderPattern.FindStringSubmatchIndex(s); match != nil && match[0] == 0 && match[1] == len(s) {
		path := s[match[2]:match[3]]

		value, ok := Lookup(scope, path)
		if !ok {
			*missing = append(*missing, path)

			return s
		}

		return value
	}

	return placeholderPattern.ReplaceAllStringFunc(s, func(token string) string {
		path := placeholderPattern.FindStringSubmatch(token)[1]

		value, ok := Lookup(scope, path)
		if !ok {
			*missing = append(*missing, path)

			return token
		}

		return Stringify(value)
	})
}

// Stringify renders a resolved value inside a larger string.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool, int, int64:
		return fmt.Sprint(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}

		return string(encoded)
	}
}
