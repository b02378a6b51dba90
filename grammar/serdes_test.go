package grammar

import (
	"testing"

	verr "github.com/nihei9/urubu/error"
)

func TestSerdesRoundTrip(t *testing.T) {
	g := buildNestedGrammar(t)
	b, err := Serialize(g)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Deserialize(b)
	if err != nil {
		t.Fatal(err)
	}
	if Print(got) != Print(g) {
		t.Fatalf("round trip changed the grammar:\nwant:\n%v\ngot:\n%v", Print(g), Print(got))
	}
	if got.RootRule().Name != g.RootRule().Name {
		t.Fatalf("root rule changed: %v", got.RootRule().Name)
	}
}

func TestDeserialize_Invalid(t *testing.T) {
	tests := []struct {
		caption string
		src     string
	}{
		{
			caption: "not json",
			src:     `{`,
		},
		{
			caption: "unknown field",
			src:     `{"rules":[{"name":"root","body_expr_id":0,"lookahead_assertion_id":-1}],"grammar_expr_data":{"data":[3],"indptr":[0,1]},"root_rule_id":0,"extra":1}`,
		},
		{
			caption: "no rules",
			src:     `{"rules":[],"grammar_expr_data":{"data":[],"indptr":[0]},"root_rule_id":0}`,
		},
		{
			caption: "offset table not monotonic",
			src:     `{"rules":[{"name":"root","body_expr_id":0,"lookahead_assertion_id":-1}],"grammar_expr_data":{"data":[3],"indptr":[0,2,1]},"root_rule_id":0}`,
		},
		{
			caption: "rule body out of range",
			src:     `{"rules":[{"name":"root","body_expr_id":9,"lookahead_assertion_id":-1}],"grammar_expr_data":{"data":[3],"indptr":[0,1]},"root_rule_id":0}`,
		},
		{
			caption: "root rule out of range",
			src:     `{"rules":[{"name":"root","body_expr_id":0,"lookahead_assertion_id":-1}],"grammar_expr_data":{"data":[3],"indptr":[0,1]},"root_rule_id":5}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.caption, func(t *testing.T) {
			_, err := Deserialize([]byte(tt.src))
			if err == nil {
				t.Fatal("expect an error")
			}
			if verr.KindOf(err) != verr.KindSerialization {
				t.Fatalf("unexpected error kind: %v", verr.KindOf(err))
			}
		})
	}
}
