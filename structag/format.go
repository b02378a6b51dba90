// Package structag compiles structural tags, the declarative description of
// tool-call style output, into grammars. A structural tag document is a
// nested discriminated union of formats like "the literal <think>", "a JSON
// document under this schema", or "free text until a trigger fires".
package structag

import (
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"

	verr "github.com/nihei9/urubu/error"
)

// MaxNestingDepth caps how deeply formats may nest.
const MaxNestingDepth = 64

type Format interface {
	formatNode()
}

// Literal matches a fixed byte string.
type Literal struct {
	Text string `mapstructure:"text"`
}

// JSONSchema matches a JSON document conforming to the embedded schema.
type JSONSchema struct {
	Schema json.RawMessage
}

// WildcardText matches arbitrary text. When an enclosing tag supplies an
// end literal, the text must not contain it.
type WildcardText struct{}

// Sequence matches its elements in order.
type Sequence struct {
	Elements []Format
}

// Tag matches begin, then the content format, then end.
type Tag struct {
	Begin   string `mapstructure:"begin"`
	Content Format `mapstructure:"-"`
	End     string `mapstructure:"end"`
}

// TriggeredTags allows free text until one of the trigger strings appears,
// then dispatches to the tag whose begin the trigger prefixes.
type TriggeredTags struct {
	Triggers       []string `mapstructure:"triggers"`
	Tags           []*Tag   `mapstructure:"-"`
	AtLeastOne     bool     `mapstructure:"at_least_one"`
	StopAfterFirst bool     `mapstructure:"stop_after_first"`
}

// TagsWithSeparator matches a list of tags joined by a separator literal.
type TagsWithSeparator struct {
	Tags           []*Tag `mapstructure:"-"`
	Separator      string `mapstructure:"separator"`
	AtLeastOne     bool   `mapstructure:"at_least_one"`
	StopAfterFirst bool   `mapstructure:"stop_after_first"`
}

func (*Literal) formatNode()           {}
func (*JSONSchema) formatNode()        {}
func (*WildcardText) formatNode()      {}
func (*Sequence) formatNode()          {}
func (*Tag) formatNode()               {}
func (*TriggeredTags) formatNode()     {}
func (*TagsWithSeparator) formatNode() {}

// Parse decodes a structural tag document, which must be an object of the
// shape {"type": "structural_tag", "format": ...}.
func Parse(src []byte) (Format, error) {
	var top map[string]interface{}
	if err := json.Unmarshal(src, &top); err != nil {
		return nil, verr.New(verr.KindParse, "%v", err)
	}
	if typ, _ := top["type"].(string); typ != "structural_tag" {
		return nil, verr.New(verr.KindParse, "the top-level type must be %q", "structural_tag")
	}
	f, ok := top["format"]
	if !ok {
		return nil, verr.New(verr.KindParse, "the top-level object lacks %q", "format")
	}
	return decodeFormat(f, "format", 0)
}

func decodeFormat(v interface{}, path string, depth int) (Format, error) {
	if depth > MaxNestingDepth {
		return nil, verr.New(verr.KindValidation, "%v: formats nest deeper than %v levels", path, MaxNestingDepth)
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, verr.New(verr.KindParse, "%v: a format must be an object", path)
	}
	typ, _ := m["type"].(string)
	if typ == "" {
		typ = inferType(m)
	}
	switch typ {
	case "literal":
		var f Literal
		if err := decodeFields(m, &f, path); err != nil {
			return nil, err
		}
		return &f, nil
	case "json_schema":
		schema, ok := m["json_schema"]
		if !ok {
			return nil, verr.New(verr.KindParse, "%v: a json_schema format lacks its schema", path)
		}
		raw, err := json.Marshal(schema)
		if err != nil {
			return nil, verr.New(verr.KindParse, "%v: %v", path, err)
		}
		return &JSONSchema{Schema: raw}, nil
	case "wildcard_text":
		return &WildcardText{}, nil
	case "sequence":
		elems, ok := m["elements"].([]interface{})
		if !ok {
			return nil, verr.New(verr.KindParse, "%v: a sequence format needs an element list", path)
		}
		f := &Sequence{}
		for i, e := range elems {
			child, err := decodeFormat(e, fmt.Sprintf("%v.elements[%v]", path, i), depth+1)
			if err != nil {
				return nil, err
			}
			f.Elements = append(f.Elements, child)
		}
		return f, nil
	case "tag":
		return decodeTag(m, path, depth)
	case "triggered_tags":
		var f TriggeredTags
		if err := decodeFields(m, &f, path); err != nil {
			return nil, err
		}
		tags, err := decodeTagList(m, path, depth)
		if err != nil {
			return nil, err
		}
		f.Tags = tags
		return &f, nil
	case "tags_with_separator":
		var f TagsWithSeparator
		if err := decodeFields(m, &f, path); err != nil {
			return nil, err
		}
		tags, err := decodeTagList(m, path, depth)
		if err != nil {
			return nil, err
		}
		f.Tags = tags
		return &f, nil
	}
	return nil, verr.New(verr.KindParse, "%v: unknown format type %q", path, typ)
}

func decodeTag(m map[string]interface{}, path string, depth int) (*Tag, error) {
	var f Tag
	if err := decodeFields(m, &f, path); err != nil {
		return nil, err
	}
	content, ok := m["content"]
	if !ok {
		return nil, verr.New(verr.KindParse, "%v: a tag format lacks its content", path)
	}
	child, err := decodeFormat(content, path+".content", depth+1)
	if err != nil {
		return nil, err
	}
	f.Content = child
	return &f, nil
}

func decodeTagList(m map[string]interface{}, path string, depth int) ([]*Tag, error) {
	raw, ok := m["tags"].([]interface{})
	if !ok {
		return nil, verr.New(verr.KindParse, "%v: a tag list is required", path)
	}
	var tags []*Tag
	for i, t := range raw {
		tm, ok := t.(map[string]interface{})
		if !ok {
			return nil, verr.New(verr.KindParse, "%v.tags[%v]: a tag must be an object", path, i)
		}
		tag, err := decodeTag(tm, fmt.Sprintf("%v.tags[%v]", path, i), depth+1)
		if err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

// decodeFields maps the scalar fields of a node. Nested formats are decoded
// separately, so unused keys are tolerated here.
func decodeFields(m map[string]interface{}, out interface{}, path string) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result: out,
	})
	if err != nil {
		return verr.New(verr.KindParse, "%v: %v", path, err)
	}
	if err := dec.Decode(m); err != nil {
		return verr.New(verr.KindParse, "%v: %v", path, err)
	}
	return nil
}

// inferType guesses a node's type from its fields when "type" is absent.
// Tag wins over everything else.
func inferType(m map[string]interface{}) string {
	has := func(k string) bool {
		_, ok := m[k]
		return ok
	}
	switch {
	case has("begin") || has("content") || has("end"):
		return "tag"
	case has("triggers"):
		return "triggered_tags"
	case has("separator"):
		return "tags_with_separator"
	case has("elements"):
		return "sequence"
	case has("json_schema"):
		return "json_schema"
	case has("text"):
		return "literal"
	default:
		return "wildcard_text"
	}
}
