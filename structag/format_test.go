package structag

import (
	"testing"

	verr "github.com/nihei9/urubu/error"
)

func TestParse(t *testing.T) {
	src := `{
		"type": "structural_tag",
		"format": {
			"type": "sequence",
			"elements": [
				{"type": "literal", "text": "<think>"},
				{"type": "wildcard_text"},
				{"type": "literal", "text": "</think>"},
				{
					"type": "triggered_tags",
					"triggers": ["<tool>"],
					"at_least_one": true,
					"tags": [
						{"begin": "<tool>", "content": {"type": "json_schema", "json_schema": {"type": "object"}}, "end": "</tool>"}
					]
				}
			]
		}
	}`
	f, err := Parse([]byte(src))
	if err != nil {
		t.Fatal(err)
	}
	seq, ok := f.(*Sequence)
	if !ok {
		t.Fatalf("want: *Sequence, got: %T", f)
	}
	if len(seq.Elements) != 4 {
		t.Fatalf("want: 4 elements, got: %v", len(seq.Elements))
	}
	lit, ok := seq.Elements[0].(*Literal)
	if !ok || lit.Text != "<think>" {
		t.Fatalf("unexpected first element: %#v", seq.Elements[0])
	}
	if _, ok := seq.Elements[1].(*WildcardText); !ok {
		t.Fatalf("want: *WildcardText, got: %T", seq.Elements[1])
	}
	trig, ok := seq.Elements[3].(*TriggeredTags)
	if !ok {
		t.Fatalf("want: *TriggeredTags, got: %T", seq.Elements[3])
	}
	if !trig.AtLeastOne || trig.StopAfterFirst {
		t.Fatalf("unexpected flags: %#v", trig)
	}
	if len(trig.Tags) != 1 || trig.Tags[0].End != "</tool>" {
		t.Fatalf("unexpected tags: %#v", trig.Tags)
	}
	if _, ok := trig.Tags[0].Content.(*JSONSchema); !ok {
		t.Fatalf("want: *JSONSchema content, got: %T", trig.Tags[0].Content)
	}
}

func TestParse_InferredTypes(t *testing.T) {
	tests := []struct {
		caption string
		format  string
		want    string
	}{
		{
			caption: "begin and end imply a tag",
			format:  `{"begin": "<a>", "content": {}, "end": "</a>"}`,
			want:    "*structag.Tag",
		},
		{
			caption: "triggers imply triggered tags",
			format:  `{"triggers": ["<t>"], "tags": [{"begin": "<t>", "content": {}, "end": "</t>"}]}`,
			want:    "*structag.TriggeredTags",
		},
		{
			caption: "a separator implies a separated list",
			format:  `{"separator": ",", "tags": [{"begin": "<t>", "content": {}, "end": "</t>"}]}`,
			want:    "*structag.TagsWithSeparator",
		},
		{
			caption: "elements imply a sequence",
			format:  `{"elements": []}`,
			want:    "*structag.Sequence",
		},
		{
			caption: "a schema implies a json_schema node",
			format:  `{"json_schema": true}`,
			want:    "*structag.JSONSchema",
		},
		{
			caption: "text implies a literal",
			format:  `{"text": "hi"}`,
			want:    "*structag.Literal",
		},
		{
			caption: "an empty object is wildcard text",
			format:  `{}`,
			want:    "*structag.WildcardText",
		},
	}
	for _, tt := range tests {
		t.Run(tt.caption, func(t *testing.T) {
			src := `{"type": "structural_tag", "format": ` + tt.format + `}`
			f, err := Parse([]byte(src))
			if err != nil {
				t.Fatal(err)
			}
			typ := typeName(f)
			if typ != tt.want {
				t.Fatalf("want: %v, got: %v", tt.want, typ)
			}
		})
	}
}

func typeName(f Format) string {
	switch f.(type) {
	case *Literal:
		return "*structag.Literal"
	case *JSONSchema:
		return "*structag.JSONSchema"
	case *WildcardText:
		return "*structag.WildcardText"
	case *Sequence:
		return "*structag.Sequence"
	case *Tag:
		return "*structag.Tag"
	case *TriggeredTags:
		return "*structag.TriggeredTags"
	case *TagsWithSeparator:
		return "*structag.TagsWithSeparator"
	}
	return "unknown"
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		caption string
		src     string
		kind    verr.Kind
	}{
		{
			caption: "not json",
			src:     `{`,
			kind:    verr.KindParse,
		},
		{
			caption: "wrong top-level type",
			src:     `{"type": "grammar", "format": {}}`,
			kind:    verr.KindParse,
		},
		{
			caption: "missing format",
			src:     `{"type": "structural_tag"}`,
			kind:    verr.KindParse,
		},
		{
			caption: "format is not an object",
			src:     `{"type": "structural_tag", "format": 7}`,
			kind:    verr.KindParse,
		},
		{
			caption: "unknown format type",
			src:     `{"type": "structural_tag", "format": {"type": "mystery"}}`,
			kind:    verr.KindParse,
		},
		{
			caption: "tag without content",
			src:     `{"type": "structural_tag", "format": {"type": "tag", "begin": "<a>", "end": "</a>"}}`,
			kind:    verr.KindParse,
		},
		{
			caption: "json_schema without a schema",
			src:     `{"type": "structural_tag", "format": {"type": "json_schema"}}`,
			kind:    verr.KindParse,
		},
		{
			caption: "triggered tags without a tag list",
			src:     `{"type": "structural_tag", "format": {"type": "triggered_tags", "triggers": ["<t>"]}}`,
			kind:    verr.KindParse,
		},
	}
	for _, tt := range tests {
		t.Run(tt.caption, func(t *testing.T) {
			_, err := Parse([]byte(tt.src))
			if err == nil {
				t.Fatal("expect an error")
			}
			if verr.KindOf(err) != tt.kind {
				t.Fatalf("want: %v, got: %v", tt.kind, verr.KindOf(err))
			}
		})
	}
}

func TestParse_DepthCap(t *testing.T) {
	inner := `{"type": "wildcard_text"}`
	for i := 0; i <= MaxNestingDepth; i++ {
		inner = `{"type": "sequence", "elements": [` + inner + `]}`
	}
	src := `{"type": "structural_tag", "format": ` + inner + `}`
	_, err := Parse([]byte(src))
	if err == nil {
		t.Fatal("expect an error")
	}
	if verr.KindOf(err) != verr.KindValidation {
		t.Fatalf("want: %v, got: %v", verr.KindValidation, verr.KindOf(err))
	}
}

func TestExtractTagContents(t *testing.T) {
	tests := []struct {
		caption  string
		input    string
		triggers []string
		outside  string
		tags     []TagContent
	}{
		{
			caption:  "a complete tag with surrounding text",
			input:    "before <tool>{\"a\":1}</tool> after",
			triggers: []string{"<tool>"},
			outside:  "before  after",
			tags: []TagContent{
				{Begin: "<tool>", Body: `{"a":1}`, End: "</tool>"},
			},
		},
		{
			caption:  "an open-ended trigger completed by the next '>'",
			input:    `<f=add>{"x":2}</f>`,
			triggers: []string{"<f="},
			outside:  "",
			tags: []TagContent{
				{Begin: "<f=add>", Body: `{"x":2}`, End: "</f>"},
			},
		},
		{
			caption:  "a function tag with a non-JSON body is plain text",
			input:    "<function=go>oops</function>",
			triggers: []string{"<function="},
			outside:  "oops</function>",
			tags:     nil,
		},
		{
			caption:  "an unterminated tag is plain text",
			input:    "<tool>no end here",
			triggers: []string{"<tool>"},
			outside:  "no end here",
			tags:     nil,
		},
		{
			caption:  "multiple occurrences",
			input:    "<a>1</a>x<a>2</a>",
			triggers: []string{"<a>"},
			outside:  "x",
			tags: []TagContent{
				{Begin: "<a>", Body: "1", End: "</a>"},
				{Begin: "<a>", Body: "2", End: "</a>"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.caption, func(t *testing.T) {
			outside, tags := ExtractTagContents(tt.input, tt.triggers)
			if outside != tt.outside {
				t.Errorf("outside text: want: %q, got: %q", tt.outside, outside)
			}
			if len(tags) != len(tt.tags) {
				t.Fatalf("want: %v tags, got: %v", len(tt.tags), len(tags))
			}
			for i := range tags {
				if tags[i] != tt.tags[i] {
					t.Errorf("tag #%v: want: %#v, got: %#v", i, tt.tags[i], tags[i])
				}
			}
		})
	}
}
