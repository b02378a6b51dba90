package structag_test

import (
	"fmt"
	"testing"

	verr "github.com/nihei9/urubu/error"
	"github.com/nihei9/urubu/grammar"
	"github.com/nihei9/urubu/matcher"
	"github.com/nihei9/urubu/structag"
	"github.com/nihei9/urubu/vocab"
)

const byteStopToken = 256

func byteVocab(t *testing.T) *vocab.Table {
	t.Helper()
	tokens := make([][]byte, 257)
	for i := 0; i < 256; i++ {
		tokens[i] = []byte{byte(i)}
	}
	v, err := vocab.New(tokens, []int32{byteStopToken})
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func matches(t *testing.T, g *grammar.Grammar, text string) bool {
	t.Helper()
	cg, err := matcher.Compile(g, byteVocab(t))
	if err != nil {
		t.Fatal(err)
	}
	m, err := matcher.NewMatcher(cg)
	if err != nil {
		t.Fatal(err)
	}
	ok, err := m.AcceptBytes([]byte(text))
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		return false
	}
	ok, err = m.AcceptToken(byteStopToken)
	if err != nil {
		t.Fatal(err)
	}
	return ok
}

func mustGrammar(t *testing.T, src string) *grammar.Grammar {
	t.Helper()
	f, err := structag.Parse([]byte(src))
	if err != nil {
		t.Fatal(err)
	}
	g, err := structag.ToGrammar(f)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestToGrammar_LiteralSequence(t *testing.T) {
	g := mustGrammar(t, `{
		"type": "structural_tag",
		"format": {
			"type": "sequence",
			"elements": [
				{"type": "literal", "text": "<think>"},
				{"type": "wildcard_text"},
				{"type": "literal", "text": "</think>"}
			]
		}
	}`)
	tests := []struct {
		caption string
		text    string
		want    bool
	}{
		{
			caption: "free text between the markers",
			text:    "<think>let me see</think>",
			want:    true,
		},
		{
			caption: "empty body",
			text:    "<think></think>",
			want:    true,
		},
		{
			caption: "text containing unrelated angle brackets",
			text:    "<think>a < b</x></think>",
			want:    true,
		},
		{
			caption: "missing the closing marker",
			text:    "<think>unfinished",
			want:    false,
		},
		{
			caption: "missing the opening marker",
			text:    "bare text</think>",
			want:    false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.caption, func(t *testing.T) {
			if got := matches(t, g, tt.text); got != tt.want {
				t.Fatalf("want: %v, got: %v", tt.want, got)
			}
		})
	}
}

func TestToGrammar_TagWithSchema(t *testing.T) {
	g := mustGrammar(t, `{
		"type": "structural_tag",
		"format": {
			"begin": "<tool>",
			"content": {
				"type": "json_schema",
				"json_schema": {
					"type": "object",
					"properties": {"x": {"type": "integer"}},
					"required": ["x"]
				}
			},
			"end": "</tool>"
		}
	}`)
	if !matches(t, g, `<tool>{"x": 42}</tool>`) {
		t.Fatal("a conforming document should match")
	}
	if matches(t, g, `<tool>{"y": 42}</tool>`) {
		t.Fatal("a non-conforming document should not match")
	}
	if matches(t, g, `<tool>{"x": 42}`) {
		t.Fatal("an unterminated tag should not match")
	}
}

func TestToGrammar_TagsWithSeparator(t *testing.T) {
	src := `{
		"type": "structural_tag",
		"format": {
			"type": "tags_with_separator",
			"separator": ",",
			"at_least_one": %v,
			"tags": [
				{"begin": "<a>", "content": {"type": "literal", "text": "1"}, "end": "</a>"},
				{"begin": "<b>", "content": {"type": "literal", "text": "2"}, "end": "</b>"}
			]
		}
	}`
	g := mustGrammar(t, fmt.Sprintf(src, "false"))
	tests := []struct {
		caption string
		text    string
		want    bool
	}{
		{caption: "empty list", text: "", want: true},
		{caption: "single tag", text: "<a>1</a>", want: true},
		{caption: "mixed tags", text: "<a>1</a>,<b>2</b>,<a>1</a>", want: true},
		{caption: "missing separator", text: "<a>1</a><b>2</b>", want: false},
		{caption: "trailing separator", text: "<a>1</a>,", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.caption, func(t *testing.T) {
			if got := matches(t, g, tt.text); got != tt.want {
				t.Fatalf("want: %v, got: %v", tt.want, got)
			}
		})
	}

	g = mustGrammar(t, fmt.Sprintf(src, "true"))
	if matches(t, g, "") {
		t.Fatal("an empty list should not match when at_least_one is set")
	}
	if !matches(t, g, "<b>2</b>") {
		t.Fatal("a single tag should match when at_least_one is set")
	}
}

func TestToGrammar_TriggeredTags(t *testing.T) {
	g := mustGrammar(t, `{
		"type": "structural_tag",
		"format": {
			"type": "triggered_tags",
			"triggers": ["<t>"],
			"at_least_one": true,
			"tags": [
				{"begin": "<t>", "content": {"type": "literal", "text": "hi"}, "end": "</t>"}
			]
		}
	}`)
	tests := []struct {
		caption string
		text    string
		want    bool
	}{
		{caption: "free text before the tag", text: "some text <t>hi</t>", want: true},
		{caption: "tag only", text: "<t>hi</t>", want: true},
		{caption: "free text after the tag", text: "<t>hi</t> done", want: true},
		{caption: "no tag fires", text: "just text", want: false},
		{caption: "wrong content", text: "<t>bye</t>", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.caption, func(t *testing.T) {
			if got := matches(t, g, tt.text); got != tt.want {
				t.Fatalf("want: %v, got: %v", tt.want, got)
			}
		})
	}
}

func TestToGrammar_FunctionCall(t *testing.T) {
	g := mustGrammar(t, `{
		"type": "structural_tag",
		"format": {
			"type": "triggered_tags",
			"triggers": ["<function="],
			"at_least_one": true,
			"tags": [
				{
					"begin": "<function=get_weather>",
					"content": {
						"type": "json_schema",
						"json_schema": {
							"type": "object",
							"properties": {"location": {"type": "string"}},
							"required": ["location"]
						}
					},
					"end": "</function>"
				}
			]
		}
	}`)
	if !matches(t, g, `I will call <function=get_weather>{"location": "SF"}</function>`) {
		t.Fatal("a well-formed call should match")
	}

	// A truncated end tag fails on the first byte that diverges from it.
	cg, err := matcher.Compile(g, byteVocab(t))
	if err != nil {
		t.Fatal(err)
	}
	m, err := matcher.NewMatcher(cg)
	if err != nil {
		t.Fatal(err)
	}
	ok, err := m.AcceptBytes([]byte(`I will call <function=get_weather>{"location": "SF"}</func`))
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("the prefix should be acceptable")
	}
	ok, err = m.AcceptBytes([]byte(">"))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("closing the tag early should be rejected")
	}
}

func TestToGrammar_TriggerValidation(t *testing.T) {
	tests := []struct {
		caption string
		src     string
	}{
		{
			caption: "empty trigger",
			src: `{"type": "structural_tag", "format": {
				"type": "triggered_tags", "triggers": [""],
				"tags": [{"begin": "<t>", "content": {}, "end": "</t>"}]
			}}`,
		},
		{
			caption: "a trigger prefixing another",
			src: `{"type": "structural_tag", "format": {
				"type": "triggered_tags", "triggers": ["<t", "<tx"],
				"tags": [{"begin": "<tq>", "content": {}, "end": "</t>"}]
			}}`,
		},
		{
			caption: "a tag matching no trigger",
			src: `{"type": "structural_tag", "format": {
				"type": "triggered_tags", "triggers": ["<t>"],
				"tags": [{"begin": "<u>", "content": {}, "end": "</u>"}]
			}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.caption, func(t *testing.T) {
			f, err := structag.Parse([]byte(tt.src))
			if err != nil {
				t.Fatal(err)
			}
			_, err = structag.ToGrammar(f)
			if err == nil {
				t.Fatal("expect an error")
			}
			if verr.KindOf(err) != verr.KindValidation {
				t.Fatalf("want: %v, got: %v", verr.KindValidation, verr.KindOf(err))
			}
		})
	}
}
