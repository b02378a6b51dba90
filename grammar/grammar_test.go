package grammar

import (
	"strings"
	"testing"

	verr "github.com/nihei9/urubu/error"
)

func TestBuilder(t *testing.T) {
	b := NewBuilder()
	sub, err := b.AddRule("sub", b.AddChoices([]ExprID{
		b.AddSequence([]ExprID{b.AddByteStringFromString("x")}),
	}))
	if err != nil {
		t.Fatal(err)
	}
	_, err = b.AddRule("root", b.AddChoices([]ExprID{
		b.AddSequence([]ExprID{
			b.AddByteStringFromString("a"),
			b.AddRuleRef(sub),
		}),
		b.AddEmptyStr(),
	}))
	if err != nil {
		t.Fatal(err)
	}

	g, err := b.Build("root")
	if err != nil {
		t.Fatal(err)
	}
	if g.NumRules() != 2 {
		t.Fatalf("unexpected rule count: %v", g.NumRules())
	}
	if g.RootRule().Name != "root" {
		t.Fatalf("unexpected root rule: %v", g.RootRule().Name)
	}
	if g.RuleIDByName("sub") != sub {
		t.Fatalf("rule lookup failed: %v", g.RuleIDByName("sub"))
	}
	if g.RuleIDByName("nope") != RuleIDNil {
		t.Fatal("lookup of an unknown rule should return RuleIDNil")
	}
}

func TestBuilder_DuplicateRule(t *testing.T) {
	b := NewBuilder()
	if _, err := b.AddRule("a", b.AddEmptyStr()); err != nil {
		t.Fatal(err)
	}
	_, err := b.AddRule("a", b.AddEmptyStr())
	if err == nil {
		t.Fatal("expect an error for a duplicate rule name")
	}
	if verr.KindOf(err) != verr.KindValidation {
		t.Fatalf("unexpected error kind: %v", verr.KindOf(err))
	}
}

func TestBuilder_MissingBody(t *testing.T) {
	b := NewBuilder()
	if _, err := b.AddEmptyRule("root"); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Build("root"); err == nil {
		t.Fatal("expect an error for a rule without a body")
	}
}

func TestBuilder_UnknownRoot(t *testing.T) {
	b := NewBuilder()
	if _, err := b.AddRule("a", b.AddEmptyStr()); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Build("root"); err == nil {
		t.Fatal("expect an error for an unknown root rule")
	}
}

func TestBuilder_EmptyByteString(t *testing.T) {
	b := NewBuilder()
	id := b.AddByteString(nil)
	if b.Expr(id).Type != ExprTypeEmptyStr {
		t.Fatalf("empty byte string should collapse to the empty string: %v", b.Expr(id).Type)
	}
}

func TestNewRuleName(t *testing.T) {
	b := NewBuilder()
	if _, err := b.AddRule("a", b.AddEmptyStr()); err != nil {
		t.Fatal(err)
	}
	if name := b.NewRuleName("b"); name != "b" {
		t.Fatalf("unexpected name: %v", name)
	}
	name := b.NewRuleName("a")
	if name == "a" {
		t.Fatal("NewRuleName returned a colliding name")
	}
	if !strings.HasPrefix(name, "a") {
		t.Fatalf("generated name should keep the hint as prefix: %v", name)
	}
}

func TestTagDispatchAccessors(t *testing.T) {
	b := NewBuilder()
	r1, err := b.AddRule("t1", b.AddChoices([]ExprID{
		b.AddSequence([]ExprID{b.AddByteStringFromString("x")}),
	}))
	if err != nil {
		t.Fatal(err)
	}
	tag := b.AddByteStringFromString("<f>")
	id := b.AddTagDispatch([]TagDispatchPair{{TagExprID: tag, RuleID: r1}}, true, false)
	if _, err := b.AddRule("root", id); err != nil {
		t.Fatal(err)
	}
	g, err := b.Build("root")
	if err != nil {
		t.Fatal(err)
	}

	e := g.Expr(g.RootRule().BodyExprID)
	if e.Type != ExprTypeTagDispatch {
		t.Fatalf("unexpected expression type: %v", e.Type)
	}
	if !e.TagDispatchAtLeastOne() || e.TagDispatchStopAfterFirst() {
		t.Fatal("dispatch flags did not round-trip")
	}
	if e.TagDispatchNumPairs() != 1 {
		t.Fatalf("unexpected pair count: %v", e.TagDispatchNumPairs())
	}
	tagID, ruleID := e.TagDispatchPair(0)
	if g.Expr(tagID).Type != ExprTypeByteString || ruleID != r1 {
		t.Fatalf("unexpected pair: %v, %v", tagID, ruleID)
	}
}
