package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
)

// TypeOf names the JSON type of a decoded value.
func TypeOf(v any) string {
	switch n := v.(type) {
	case nil:
		return "null"
	case string:
		return string(String)
	case bool:
		return string(Bool)
	case map[string]any:
		return string(Object)
	case []any:
		return string(Array)
	case json.Number:
		if _, ok := Number(n); !ok {
			return "number(out of range)"
		}
		if isIntegerLiteral(n) {
			return string(Integer)
		}
		return string(Float)
	case int, int32, int64, uint, uint32, uint64:
		return string(Integer)
	case float32, float64:
		return string(Float)
	}
	return fmt.Sprintf("%T", v)
}

func isIntegerLiteral(n json.Number) bool {
	return !strings.ContainsAny(string(n), ".eE")
}

// Number converts any decoded numeric value to float64.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// Equal compares two JSON values. Numbers compare by value regardless of their Go
// representation, so a json.Number from a response equals an int from YAML.
func Equal(a, b any) bool {
	if x, ok := Number(a); ok {
		y, ok := Number(b)
		return ok && x == y
	}
	if _, ok := Number(b); ok {
		return false
	}
	return reflect.DeepEqual(a, b)
}

// Within reports whether two numbers differ by at most tolerance.
func Within(a, b any, tolerance float64) bool {
	x, ok := Number(a)
	if !ok {
		return false
	}
	y, ok := Number(b)
	if !ok {
		return false
	}
	return math.Abs(x-y) <= tolerance
}

// Format renders a value for a violation message.
func Format(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", x)
	case json.Number:
		return x.String()
	case map[string]any:
		return fmt.Sprintf("object(%d fields)", len(x))
	case []any:
		return fmt.Sprintf("array(len=%d)", len(x))
	}
	return fmt.Sprint(v)
}

func formatList(vs []any) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = Format(v)
	}
	return "one of " + strings.Join(parts, ", ")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func join(path, name string) string {
	if path == "" || path == "$" {
		return name
	}
	return path + "." + name
}

func index(path string, i int) string {
	if path == "$" {
		path = ""
	}
	return fmt.Sprintf("%s[%d]", path, i)
}
