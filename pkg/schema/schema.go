// Package schema validates decoded JSON documents against a declarative shape.
//
// A Schema is usually loaded from YAML (see package contract) and describes one JSON
// value: its type, whether it must be present in the parent object, and the value
// constraints it has to satisfy. Validate walks a document and returns every
// violation it finds instead of stopping at the first one.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// RedactionLiteral is the placeholder a device returns instead of a stored secret.
const RedactionLiteral = "********"

type Type string

const (
	Any     Type = "any"
	String  Type = "string"
	Integer Type = "integer"
	Float   Type = "float"
	Bool    Type = "bool"
	Object  Type = "object"
	Array   Type = "array"
)

// Count constrains how many elements of an array of objects have Field equal to Equals.
type Count struct {
	Field  string `yaml:"field" json:"field"`
	Equals any    `yaml:"equals" json:"equals"`
	Min    *int   `yaml:"min,omitempty" json:"min,omitempty"`
	Max    *int   `yaml:"max,omitempty" json:"max,omitempty"`
}

// Schema describes a single JSON value.
//
// MinLength, MaxLength and Format mirror hard limits of the device firmware and are
// only enforced in strict mode.
type Schema struct {
	Type     Type  `yaml:"type,omitempty" json:"type,omitempty"`
	Required bool  `yaml:"required,omitempty" json:"required,omitempty"`
	Enum     []any `yaml:"enum,omitempty" json:"enum,omitempty"`
	Const    any   `yaml:"const,omitempty" json:"const,omitempty"`
	Redacted bool  `yaml:"redacted,omitempty" json:"redacted,omitempty"`

	Minimum *float64 `yaml:"minimum,omitempty" json:"minimum,omitempty"`
	Maximum *float64 `yaml:"maximum,omitempty" json:"maximum,omitempty"`

	Length   *int `yaml:"length,omitempty" json:"length,omitempty"`
	MinItems *int `yaml:"minItems,omitempty" json:"minItems,omitempty"`
	MaxItems *int `yaml:"maxItems,omitempty" json:"maxItems,omitempty"`

	MinLength *int   `yaml:"minLength,omitempty" json:"minLength,omitempty"`
	MaxLength *int   `yaml:"maxLength,omitempty" json:"maxLength,omitempty"`
	Format    string `yaml:"format,omitempty" json:"format,omitempty"`

	Fields   map[string]*Schema `yaml:"fields,omitempty" json:"fields,omitempty"`
	Items    *Schema            `yaml:"items,omitempty" json:"items,omitempty"`
	UniqueBy string             `yaml:"uniqueBy,omitempty" json:"uniqueBy,omitempty"`
	Count    *Count             `yaml:"count,omitempty" json:"count,omitempty"`
}

// Check reports structural mistakes in the schema itself, such as an unknown type
// or an array constraint on a non-array node.
func (s *Schema) Check() error {
	return s.check("$")
}

func (s *Schema) check(path string) error {
	if s == nil {
		return fmt.Errorf("%s: empty schema", path)
	}
	switch s.Type {
	case "", Any, String, Integer, Float, Bool, Object, Array:
	default:
		return fmt.Errorf("%s: unknown type %q", path, s.Type)
	}
	if s.Format != "" && s.Format != FormatIPv4 {
		return fmt.Errorf("%s: unknown format %q", path, s.Format)
	}
	if len(s.Fields) > 0 && s.Type != Object {
		return fmt.Errorf("%s: fields require type object", path)
	}
	if (s.Items != nil || s.UniqueBy != "" || s.Count != nil) && s.Type != Array {
		return fmt.Errorf("%s: items, uniqueBy and count require type array", path)
	}
	if s.Count != nil && s.Count.Field == "" {
		return fmt.Errorf("%s: count needs a field", path)
	}
	for _, name := range sortedKeys(s.Fields) {
		if err := s.Fields[name].check(join(path, name)); err != nil {
			return err
		}
	}
	if s.Items != nil {
		return s.Items.check(path + "[]")
	}
	return nil
}

// Decode parses a JSON body keeping numbers as json.Number so integer literals can
// be told apart from fractional ones.
func Decode(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after top-level value")
	}
	return v, nil
}
