package grammar

import (
	"testing"

	verr "github.com/nihei9/urubu/error"
)

// checkNormalized asserts the shape every normalized grammar must have:
// each rule body is either a tag dispatch or a list of choices whose
// alternatives are flat sequences of matchable elements, with an empty
// string allowed only as the first alternative.
func checkNormalized(t *testing.T, g *Grammar) {
	t.Helper()
	for i := 0; i < g.NumRules(); i++ {
		r := g.Rule(RuleID(i))
		body := g.Expr(r.BodyExprID)
		if body.Type == ExprTypeTagDispatch {
			continue
		}
		if body.Type != ExprTypeChoices {
			t.Fatalf("rule %v: body is %v, not choices", r.Name, body.Type)
		}
		for j, alt := range body.Data {
			altExpr := g.Expr(ExprID(alt))
			if altExpr.Type == ExprTypeEmptyStr {
				if j != 0 {
					t.Errorf("rule %v: empty string at alternative #%v", r.Name, j)
				}
				continue
			}
			if altExpr.Type != ExprTypeSequence {
				t.Fatalf("rule %v: alternative #%v is %v, not a sequence", r.Name, j, altExpr.Type)
			}
			for _, sub := range altExpr.Data {
				switch g.Expr(ExprID(sub)).Type {
				case ExprTypeByteString, ExprTypeCharacterClass, ExprTypeCharacterClassStar, ExprTypeRuleRef:
				default:
					t.Errorf("rule %v: alternative #%v contains a %v element",
						r.Name, j, g.Expr(ExprID(sub)).Type)
				}
			}
		}
	}
}

func buildNestedGrammar(t *testing.T) *Grammar {
	t.Helper()
	b := NewBuilder()
	sub, err := b.AddRule("sub", b.AddChoices([]ExprID{
		b.AddEmptyStr(),
		b.AddSequence([]ExprID{b.AddByteStringFromString("y")}),
	}))
	if err != nil {
		t.Fatal(err)
	}
	// root ::= ("a" | ("b" | "")) sub "c"
	inner := b.AddChoices([]ExprID{
		b.AddByteStringFromString("a"),
		b.AddChoices([]ExprID{
			b.AddByteStringFromString("b"),
			b.AddEmptyStr(),
		}),
	})
	_, err = b.AddRule("root", b.AddSequence([]ExprID{
		inner,
		b.AddRuleRef(sub),
		b.AddByteStringFromString("c"),
	}))
	if err != nil {
		t.Fatal(err)
	}
	g, err := b.Build("root")
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestNormalize(t *testing.T) {
	g := buildNestedGrammar(t)
	ng, err := Normalize(g)
	if err != nil {
		t.Fatal(err)
	}
	checkNormalized(t, ng)

	if ng.RootRule().Name != "root" {
		t.Fatalf("normalization changed the root rule: %v", ng.RootRule().Name)
	}
	// The nested choices force a fresh rule; the original two survive.
	if ng.NumRules() < 3 {
		t.Fatalf("expected a fresh rule for the nested choices, got %v rules", ng.NumRules())
	}
}

func TestNormalize_Nullability(t *testing.T) {
	b := NewBuilder()
	sub, err := b.AddRule("sub", b.AddChoices([]ExprID{
		b.AddSequence([]ExprID{b.AddByteStringFromString("x")}),
		b.AddEmptyStr(),
	}))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.AddRule("root", b.AddRuleRef(sub)); err != nil {
		t.Fatal(err)
	}
	g, err := b.Build("root")
	if err != nil {
		t.Fatal(err)
	}
	ng, err := Normalize(g)
	if err != nil {
		t.Fatal(err)
	}
	checkNormalized(t, ng)
	if !ng.IsNullable(ng.RuleIDByName("sub")) {
		t.Fatal("sub should be nullable after normalization")
	}
	// Nullability must be observable as an empty first alternative.
	body := ng.Expr(ng.Rule(ng.RuleIDByName("sub")).BodyExprID)
	if ng.Expr(ExprID(body.Data[0])).Type != ExprTypeEmptyStr {
		t.Fatal("the empty alternative should be hoisted to the front")
	}
}

func TestNormalize_Quantifiers(t *testing.T) {
	b := NewBuilder()
	// root ::= "a"* "b"+ "c"? [0-9]* "d"{2,4} "e"{2,}
	_, err := b.AddRule("root", b.AddSequence([]ExprID{
		b.AddQuantifier(b.AddByteStringFromString("a"), QuantOpStar),
		b.AddQuantifier(b.AddByteStringFromString("b"), QuantOpPlus),
		b.AddQuantifier(b.AddByteStringFromString("c"), QuantOpQuestion),
		b.AddQuantifier(b.AddCharacterClass([]CharClassRange{{Lower: '0', Upper: '9'}}, false), QuantOpStar),
		b.AddQuantifierRange(b.AddByteStringFromString("d"), 2, 4),
		b.AddQuantifierRange(b.AddByteStringFromString("e"), 2, -1),
	}))
	if err != nil {
		t.Fatal(err)
	}
	g, err := b.Build("root")
	if err != nil {
		t.Fatal(err)
	}

	// A deserialized grammar may still carry quantifiers; normalization must
	// take it as-is.
	blob, err := Serialize(g)
	if err != nil {
		t.Fatal(err)
	}
	g, err = Deserialize(blob)
	if err != nil {
		t.Fatal(err)
	}

	ng, err := Normalize(g)
	if err != nil {
		t.Fatal(err)
	}
	checkNormalized(t, ng)
	for id := 0; id < ng.NumExprs(); id++ {
		typ := ng.Expr(ExprID(id)).Type
		if typ == ExprTypeQuantifier || typ == ExprTypeQuantifierRange {
			t.Fatalf("expression #%v: quantifier survived normalization", id)
		}
	}
	// A class star compiles to a class-star expression, not a fresh rule.
	found := false
	for id := 0; id < ng.NumExprs(); id++ {
		if ng.Expr(ExprID(id)).Type == ExprTypeCharacterClassStar {
			found = true
		}
	}
	if !found {
		t.Fatal("the quantified character class should become a class-star expression")
	}
}

func TestNormalize_QuantifierErrors(t *testing.T) {
	build := func(t *testing.T, body func(b *Builder) ExprID) *Grammar {
		t.Helper()
		b := NewBuilder()
		if _, err := b.AddRule("root", body(b)); err != nil {
			t.Fatal(err)
		}
		g, err := b.Build("root")
		if err != nil {
			t.Fatal(err)
		}
		return g
	}

	g := build(t, func(b *Builder) ExprID {
		return b.AddQuantifierRange(b.AddByteStringFromString("a"), 3, 2)
	})
	if _, err := Normalize(g); verr.KindOf(err) != verr.KindValidation {
		t.Fatalf("an inverted repetition range should fail with a validation error, got: %v", err)
	}

	g = build(t, func(b *Builder) ExprID {
		return b.AddQuantifier(b.AddByteStringFromString("a"), 99)
	})
	if _, err := Normalize(g); verr.KindOf(err) != verr.KindValidation {
		t.Fatalf("an unknown quantifier operator should fail with a validation error, got: %v", err)
	}
}

func TestNormalize_TagDispatch(t *testing.T) {
	b := NewBuilder()
	r1, err := b.AddRule("tag1", b.AddSequence([]ExprID{b.AddByteStringFromString("x")}))
	if err != nil {
		t.Fatal(err)
	}
	dispatch := b.AddTagDispatch([]TagDispatchPair{
		{TagExprID: b.AddByteStringFromString("<f>"), RuleID: r1},
	}, false, true)
	if _, err := b.AddRule("root", dispatch); err != nil {
		t.Fatal(err)
	}
	g, err := b.Build("root")
	if err != nil {
		t.Fatal(err)
	}
	ng, err := Normalize(g)
	if err != nil {
		t.Fatal(err)
	}
	checkNormalized(t, ng)

	body := ng.Expr(ng.RootRule().BodyExprID)
	if body.Type != ExprTypeTagDispatch {
		t.Fatalf("dispatch body did not survive normalization: %v", body.Type)
	}
	if body.TagDispatchAtLeastOne() || !body.TagDispatchStopAfterFirst() {
		t.Fatal("dispatch flags did not survive normalization")
	}
	tagID, _ := body.TagDispatchPair(0)
	if ng.Expr(tagID).Type != ExprTypeByteString {
		t.Fatal("the trigger byte string was not carried over")
	}
}
