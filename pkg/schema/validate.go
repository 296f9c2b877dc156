package schema

import (
	"fmt"
	"net/netip"
	"strconv"
	"unicode/utf8"
)

// FormatIPv4 requires a dotted-quad IPv4 address string.
const FormatIPv4 = "ipv4"

// Rule names used in violations.
const (
	RuleRequired  = "required"
	RuleType      = "type"
	RuleEnum      = "enum"
	RuleConst     = "const"
	RuleRedacted  = "redacted"
	RuleMinimum   = "minimum"
	RuleMaximum   = "maximum"
	RuleLength    = "length"
	RuleMinItems  = "minItems"
	RuleMaxItems  = "maxItems"
	RuleMinLength = "minLength"
	RuleMaxLength = "maxLength"
	RuleFormat    = "format"
	RuleUnique    = "unique"
	RuleCount     = "count"
)

// Violation is a single failed constraint. Path is a JSON path relative to the
// document root, e.g. "sensors[3].id".
type Violation struct {
	Path     string `json:"path"`
	Rule     string `json:"rule"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

func (v Violation) String() string {
	path := v.Path
	if path == "" {
		path = "$"
	}
	s := path + ": " + v.Rule
	if v.Expected != "" {
		s += ": expected " + v.Expected
	}
	if v.Actual != "" {
		s += ", got " + v.Actual
	}
	return s
}

type Options struct {
	// Strict enables MinLength, MaxLength and Format.
	Strict bool
}

// Validate checks doc against s and returns all violations in document order.
func Validate(doc any, s *Schema, opts Options) []Violation {
	v := &validator{opts: opts}
	v.value("", doc, s)
	return v.out
}

type validator struct {
	opts Options
	out  []Violation
}

func (v *validator) add(path, rule, expected, actual string) {
	v.out = append(v.out, Violation{Path: path, Rule: rule, Expected: expected, Actual: actual})
}

func (v *validator) value(path string, val any, s *Schema) {
	if s == nil {
		return
	}
	if !v.typeOK(path, val, s.Type) {
		return
	}

	if s.Redacted {
		if str, ok := val.(string); !ok || str != RedactionLiteral {
			actual := TypeOf(val)
			if ok {
				actual = "secret exposed"
			}
			v.add(path, RuleRedacted, strconv.Quote(RedactionLiteral), actual)
		}
	}
	if s.Const != nil && !Equal(val, s.Const) {
		v.add(path, RuleConst, Format(s.Const), Format(val))
	}
	if len(s.Enum) > 0 {
		found := false
		for _, e := range s.Enum {
			if Equal(val, e) {
				found = true
				break
			}
		}
		if !found {
			v.add(path, RuleEnum, formatList(s.Enum), Format(val))
		}
	}
	if n, ok := Number(val); ok {
		if s.Minimum != nil && n < *s.Minimum {
			v.add(path, RuleMinimum, fmt.Sprintf(">= %g", *s.Minimum), Format(val))
		}
		if s.Maximum != nil && n > *s.Maximum {
			v.add(path, RuleMaximum, fmt.Sprintf("<= %g", *s.Maximum), Format(val))
		}
	}
	if str, ok := val.(string); ok && v.opts.Strict {
		v.str(path, str, s)
	}

	switch x := val.(type) {
	case map[string]any:
		v.object(path, x, s)
	case []any:
		v.array(path, x, s)
	}
}

func (v *validator) typeOK(path string, val any, t Type) bool {
	actual := TypeOf(val)
	ok := true
	switch t {
	case "", Any:
	case Float:
		_, ok = Number(val)
	default:
		ok = actual == string(t)
	}
	if !ok {
		v.add(path, RuleType, string(t), actual)
	}
	return ok
}

func (v *validator) str(path, str string, s *Schema) {
	n := utf8.RuneCountInString(str)
	if s.MinLength != nil && n < *s.MinLength {
		v.add(path, RuleMinLength, fmt.Sprintf("at least %d characters", *s.MinLength), strconv.Itoa(n))
	}
	if s.MaxLength != nil && n > *s.MaxLength {
		v.add(path, RuleMaxLength, fmt.Sprintf("at most %d characters", *s.MaxLength), strconv.Itoa(n))
	}
	if s.Format == FormatIPv4 {
		if addr, err := netip.ParseAddr(str); err != nil || !addr.Is4() {
			v.add(path, RuleFormat, "IPv4 address", Format(str))
		}
	}
}

func (v *validator) object(path string, m map[string]any, s *Schema) {
	for _, name := range sortedKeys(s.Fields) {
		field := s.Fields[name]
		child, ok := m[name]
		if !ok {
			if field.Required {
				v.add(join(path, name), RuleRequired, "present", "missing")
			}
			continue
		}
		v.value(join(path, name), child, field)
	}
}

func (v *validator) array(path string, items []any, s *Schema) {
	n := len(items)
	if s.Length != nil && n != *s.Length {
		v.add(path, RuleLength, strconv.Itoa(*s.Length), strconv.Itoa(n))
	}
	if s.MinItems != nil && n < *s.MinItems {
		v.add(path, RuleMinItems, fmt.Sprintf("at least %d", *s.MinItems), strconv.Itoa(n))
	}
	if s.MaxItems != nil && n > *s.MaxItems {
		v.add(path, RuleMaxItems, fmt.Sprintf("at most %d", *s.MaxItems), strconv.Itoa(n))
	}

	for i, item := range items {
		v.value(index(path, i), item, s.Items)
	}

	if s.UniqueBy != "" {
		seen := make(map[string]int, n)
		for i, item := range items {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			key, ok := m[s.UniqueBy]
			if !ok {
				continue
			}
			k := TypeOf(key) + ":" + Format(key)
			if first, dup := seen[k]; dup {
				v.add(join(index(path, i), s.UniqueBy), RuleUnique, "distinct "+s.UniqueBy,
					fmt.Sprintf("%s (also at index %d)", Format(key), first))
				continue
			}
			seen[k] = i
		}
	}

	if c := s.Count; c != nil {
		matched := 0
		for _, item := range items {
			if m, ok := item.(map[string]any); ok && Equal(m[c.Field], c.Equals) {
				matched++
			}
		}
		desc := fmt.Sprintf("%s == %s", c.Field, Format(c.Equals))
		if c.Min != nil && matched < *c.Min {
			v.add(path, RuleCount, fmt.Sprintf("at least %d with %s", *c.Min, desc), strconv.Itoa(matched))
		}
		if c.Max != nil && matched > *c.Max {
			v.add(path, RuleCount, fmt.Sprintf("at most %d with %s", *c.Max, desc), strconv.Itoa(matched))
		}
	}
}
