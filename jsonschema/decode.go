// Package jsonschema translates JSON Schema documents into grammars that
// accept exactly the conforming JSON texts, rendered in a configurable
// serialization style.
package jsonschema

import (
	"bytes"
	"encoding/json"

	verr "github.com/nihei9/urubu/error"
)

// Schema is a decoded schema node. Property order is preserved because the
// generated grammar fixes the order in which object members appear.
type Schema struct {
	// Name is the property name for nodes appearing under "properties",
	// empty otherwise.
	Name string `json:"-"`

	// Types holds the "type" keyword, which may be a string or a list of
	// strings.
	Types typeUnion `json:"type"`

	Properties           props       `json:"properties"`
	Required             []string    `json:"required"`
	AdditionalProperties *additional `json:"additionalProperties"`

	Items       *boolOrSchema `json:"items"`
	PrefixItems []*Schema     `json:"prefixItems"`
	MinItems    *int          `json:"minItems"`
	MaxItems    *int          `json:"maxItems"`

	MinLength *int   `json:"minLength"`
	MaxLength *int   `json:"maxLength"`
	Pattern   string `json:"pattern"`
	Format    string `json:"format"`

	Minimum *float64 `json:"minimum"`
	Maximum *float64 `json:"maximum"`

	AnyOf []*Schema `json:"anyOf"`
	OneOf []*Schema `json:"oneOf"`
	AllOf []*Schema `json:"allOf"`

	Enum  []json.RawMessage `json:"enum"`
	Const json.RawMessage   `json:"const"`

	Ref         string             `json:"$ref"`
	Defs        map[string]*Schema `json:"$defs"`
	Definitions map[string]*Schema `json:"definitions"`
}

// Decode parses a schema document. The top-level value may also be a bare
// boolean, which stands for the permissive (true) or unsatisfiable (false)
// schema.
func Decode(src []byte) (*Schema, error) {
	trimmed := bytes.TrimSpace(src)
	if len(trimmed) == 0 {
		return nil, verr.New(verr.KindParse, "the schema document is empty")
	}
	switch trimmed[0] {
	case 't':
		if string(trimmed) == "true" {
			return &Schema{}, nil
		}
	case 'f':
		if string(trimmed) == "false" {
			return nil, verr.New(verr.KindValidation, "the schema accepts no document")
		}
	}
	var s Schema
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return nil, verr.New(verr.KindParse, "%v", err)
	}
	return &s, nil
}

type typeUnion []string

func (t *typeUnion) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = typeUnion{s}
		return nil
	}
	var ss []string
	if err := json.Unmarshal(data, &ss); err != nil {
		return err
	}
	*t = typeUnion(ss)
	return nil
}

// props preserves the order in which properties were written.
type props []*Schema

var _ json.Unmarshaler = (*props)(nil)

func (v *props) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	d := json.NewDecoder(bytes.NewReader(data))
	t, err := d.Token()
	if err != nil {
		return err
	}
	if t != json.Delim('{') {
		return verr.New(verr.KindParse, "properties must be an object")
	}
	for d.More() {
		t, err := d.Token()
		if err != nil {
			return err
		}
		s := &Schema{
			Name: t.(string),
		}
		if err := d.Decode(s); err != nil {
			return err
		}
		*v = append(*v, s)
	}
	return nil
}

// boolOrSchema covers keywords that take either a boolean or a schema, like
// "items". true decodes to the permissive empty schema.
type boolOrSchema struct {
	Schema *Schema
	Forbid bool
}

func (v *boolOrSchema) UnmarshalJSON(data []byte) error {
	switch data[0] {
	case 't':
		v.Schema = &Schema{}
	case 'f':
		v.Forbid = true
	case 'n':
	case '{':
		var s Schema
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v.Schema = &s
	default:
		return verr.New(verr.KindParse, "a boolean or a schema is expected")
	}
	return nil
}

type additional = boolOrSchema
