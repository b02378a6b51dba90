package parser

import (
	"strings"
	"testing"

	verr "github.com/nihei9/urubu/error"
	"github.com/nihei9/urubu/grammar"
)

func TestParse(t *testing.T) {
	src := `
# A toy grammar.
root ::= greeting " " name
greeting ::= "hello" | "hi"
name ::= [a-zA-Z] [a-zA-Z0-9]*
`
	g, err := Parse(src, "root")
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"root", "greeting", "name"} {
		if g.RuleIDByName(name) == grammar.RuleIDNil {
			t.Errorf("rule %v was not registered", name)
		}
	}
	if g.RootRule().Name != "root" {
		t.Fatalf("unexpected root rule: %v", g.RootRule().Name)
	}
}

func TestParse_ForwardReference(t *testing.T) {
	src := `
root ::= item
item ::= "x"
`
	if _, err := Parse(src, "root"); err != nil {
		t.Fatal(err)
	}
}

func TestParse_QuantifiersDesugar(t *testing.T) {
	src := `root ::= "a"? "b"+ "c"{2,4} [x-z]*`
	g, err := Parse(src, "root")
	if err != nil {
		t.Fatal(err)
	}
	// Quantifiers are rewritten into fresh rules at parse time, so the
	// grammar must contain no quantifier expressions at all.
	for i := 0; i < g.NumExprs(); i++ {
		typ := g.Expr(grammar.ExprID(i)).Type
		if typ == grammar.ExprTypeQuantifier || typ == grammar.ExprTypeQuantifierRange {
			t.Fatalf("expression %v is a surviving quantifier", i)
		}
	}
	if g.NumRules() < 4 {
		t.Fatalf("expected fresh rules for the quantifiers, got %v rules", g.NumRules())
	}
	// A character class star compiles in place instead of a fresh rule.
	found := false
	for i := 0; i < g.NumExprs(); i++ {
		if g.Expr(grammar.ExprID(i)).Type == grammar.ExprTypeCharacterClassStar {
			found = true
			break
		}
	}
	if !found {
		t.Fatal("the class star was not compiled to a class-star expression")
	}
}

func TestParse_Lookahead(t *testing.T) {
	src := `root ::= "a" (= "b")`
	g, err := Parse(src, "root")
	if err != nil {
		t.Fatal(err)
	}
	if g.RootRule().LookaheadAssertionID == grammar.ExprIDNil {
		t.Fatal("the lookahead assertion was dropped")
	}
}

func TestParse_TagDispatch(t *testing.T) {
	src := `
root ::= TagDispatch(("<a>", tag_a), ("<b>", tag_b))
tag_a ::= "x" "</a>"
tag_b ::= "y" "</b>"
`
	g, err := Parse(src, "root")
	if err != nil {
		t.Fatal(err)
	}
	body := g.Expr(g.RootRule().BodyExprID)
	if body.Type != grammar.ExprTypeTagDispatch {
		t.Fatalf("unexpected body type: %v", body.Type)
	}
	if body.TagDispatchNumPairs() != 2 {
		t.Fatalf("unexpected pair count: %v", body.TagDispatchNumPairs())
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		caption string
		src     string
		row     int
	}{
		{
			caption: "undefined rule",
			src:     `root ::= nothing`,
			row:     1,
		},
		{
			caption: "duplicate rule",
			src: `root ::= "a"
root ::= "b"`,
			row: 2,
		},
		{
			caption: "missing root",
			src:     `a ::= "x"`,
		},
		{
			caption: "unterminated string",
			src:     `root ::= "a`,
			row:     1,
		},
		{
			caption: "unterminated character class",
			src:     `root ::= [a-z`,
			row:     1,
		},
		{
			caption: "empty character class",
			src:     `root ::= []`,
			row:     1,
		},
		{
			caption: "class range out of order",
			src:     `root ::= [z-a]`,
			row:     1,
		},
		{
			caption: "invalid escape",
			src:     `root ::= "\q"`,
			row:     1,
		},
		{
			caption: "repetition bounds out of order",
			src:     `root ::= "a"{3,2}`,
			row:     1,
		},
		{
			caption: "tag dispatch outside the root rule",
			src: `root ::= sub
sub ::= TagDispatch(("<t>", root))`,
			row: 2,
		},
		{
			caption: "empty tag",
			src:     `root ::= TagDispatch(("", root))`,
			row:     1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.caption, func(t *testing.T) {
			_, err := Parse(tt.src, "root")
			if err == nil {
				t.Fatal("expect an error")
			}
			gerr, ok := err.(*verr.GrammarError)
			if !ok {
				t.Fatalf("unexpected error type: %T", err)
			}
			if tt.row != 0 && gerr.Row != tt.row {
				t.Errorf("unexpected row: want: %v, got: %v (%v)", tt.row, gerr.Row, gerr)
			}
		})
	}
}

func TestParse_Comments(t *testing.T) {
	src := strings.Join([]string{
		`# leading comment`,
		`root ::= "a" # trailing comment`,
		`  | "b"`,
	}, "\n")
	g, err := Parse(src, "root")
	if err != nil {
		t.Fatal(err)
	}
	body := g.Expr(g.RootRule().BodyExprID)
	if body.Type != grammar.ExprTypeChoices || body.Len() != 2 {
		t.Fatalf("comments broke the rule body: %v", body.Type)
	}
}
