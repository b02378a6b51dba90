package grammar

import (
	verr "github.com/nihei9/urubu/error"
)

// Normalize canonicalizes a grammar in two passes:
//
//  1. Single-element elimination: a sequence or choices of one element
//     becomes that element, and a character class containing one
//     single-point range becomes a byte string. Quantifiers, which appear
//     in grammars assembled through the builder or deserialized, are
//     desugared into the rule shapes the parser emits.
//  2. Nested-rule unwrapping: every rule body becomes
//     `choices(sequence(element...)...)`. Nested choices inside a sequence
//     are extracted into a fresh rule named `<rule>_choice`, and when a rule
//     is nullable the first alternative is the empty string.
//
// Lookahead assertions stay attached to their rules as single sequences.
// Rule IDs are preserved; fresh rules are appended after the originals.
func Normalize(g *Grammar) (*Grammar, error) {
	g, err := eliminateSingleElementExprs(g)
	if err != nil {
		return nil, err
	}
	return unwrapNestedRules(g)
}

type singleElementEliminator struct {
	g           *Grammar
	b           *Builder
	curRuleName string
	err         error
}

func eliminateSingleElementExprs(g *Grammar) (*Grammar, error) {
	e := &singleElementEliminator{
		g: g,
		b: NewBuilder(),
	}
	for i := 0; i < g.NumRules(); i++ {
		if _, err := e.b.AddEmptyRule(g.Rule(RuleID(i)).Name); err != nil {
			return nil, err
		}
	}
	for i := 0; i < g.NumRules(); i++ {
		r := g.Rule(RuleID(i))
		e.curRuleName = r.Name
		e.b.UpdateRuleBody(RuleID(i), e.visit(r.BodyExprID))
		if r.LookaheadAssertionID != ExprIDNil {
			e.b.SetLookaheadAssertion(RuleID(i), e.visitLookahead(r.LookaheadAssertionID))
		}
	}
	if e.err != nil {
		return nil, e.err
	}
	return e.b.Build(g.RootRule().Name)
}

func (e *singleElementEliminator) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

// visitLookahead keeps the assertion a sequence even when it has a single
// element.
func (e *singleElementEliminator) visitLookahead(id ExprID) ExprID {
	expr := e.g.Expr(id)
	if expr.Type != ExprTypeSequence {
		return e.b.AddSequence([]ExprID{e.visit(id)})
	}
	elems := make([]ExprID, 0, expr.Len())
	for _, sub := range expr.Data {
		elems = append(elems, e.visit(ExprID(sub)))
	}
	return e.b.AddSequence(elems)
}

func (e *singleElementEliminator) visit(id ExprID) ExprID {
	expr := e.g.Expr(id)
	switch expr.Type {
	case ExprTypeSequence:
		elems := make([]ExprID, 0, expr.Len())
		for _, sub := range expr.Data {
			elems = append(elems, e.visit(ExprID(sub)))
		}
		if len(elems) == 1 {
			return elems[0]
		}
		return e.b.AddSequence(elems)
	case ExprTypeChoices:
		choices := make([]ExprID, 0, expr.Len())
		for _, sub := range expr.Data {
			choices = append(choices, e.visit(ExprID(sub)))
		}
		if len(choices) == 1 {
			return choices[0]
		}
		return e.b.AddChoices(choices)
	case ExprTypeCharacterClass:
		if expr.Len() == 3 && expr.Data[0] == 0 && expr.Data[1] == expr.Data[2] {
			return e.b.AddByteStringFromString(string(rune(expr.Data[1])))
		}
		return e.b.AddExpr(expr)
	case ExprTypeQuantifier, ExprTypeQuantifierRange:
		return e.desugarQuantifier(expr)
	default:
		return e.b.AddExpr(expr)
	}
}

// desugarQuantifier rewrites quantifier expressions, which reach the
// normalizer when a grammar was assembled through the builder or read back
// from its serialized form, into the same rule shapes the parser emits.
// The unwrapping pass never sees a quantifier.
func (e *singleElementEliminator) desugarQuantifier(expr Expr) ExprID {
	inner := e.visit(ExprID(expr.Data[0]))
	if expr.Type == ExprTypeQuantifierRange {
		return e.desugarRepetition(inner, expr.Data[1], expr.Data[2])
	}
	switch expr.Data[1] {
	case QuantOpStar:
		return e.desugarStar(inner)
	case QuantOpPlus:
		ruleID := e.freshRule()
		refID := e.b.AddRuleRef(ruleID)
		e.b.UpdateRuleBody(ruleID, e.b.AddChoices([]ExprID{
			e.b.AddSequence([]ExprID{inner, refID}),
			inner,
		}))
		return e.b.AddRuleRef(ruleID)
	case QuantOpQuestion:
		ruleID := e.freshRule()
		e.b.UpdateRuleBody(ruleID, e.b.AddChoices([]ExprID{
			e.b.AddEmptyStr(),
			inner,
		}))
		return e.b.AddRuleRef(ruleID)
	}
	e.fail(verr.New(verr.KindValidation, "unknown quantifier operator %v", expr.Data[1]))
	return inner
}

// desugarStar rewrites inner* into `r ::= "" | inner r`, or into a class-star
// expression when inner is a character class.
func (e *singleElementEliminator) desugarStar(inner ExprID) ExprID {
	in := e.b.Expr(inner)
	if in.Type == ExprTypeCharacterClass {
		// Copy the payload first: appending to the builder may grow the
		// underlying buffer that in.Data aliases.
		data := make([]int32, len(in.Data))
		copy(data, in.Data)
		negated := data[0] != 0
		ranges := make([]CharClassRange, 0, (len(data)-1)/2)
		for i := 1; i+1 < len(data); i += 2 {
			ranges = append(ranges, CharClassRange{Lower: data[i], Upper: data[i+1]})
		}
		return e.b.AddCharacterClassStar(ranges, negated)
	}
	ruleID := e.freshRule()
	refID := e.b.AddRuleRef(ruleID)
	e.b.UpdateRuleBody(ruleID, e.b.AddChoices([]ExprID{
		e.b.AddEmptyStr(),
		e.b.AddSequence([]ExprID{inner, refID}),
	}))
	return e.b.AddRuleRef(ruleID)
}

// desugarRepetition rewrites inner{lower,upper}. The mandatory copies form a
// sequence; the optional tail is a star (upper == -1) or a chain of optional
// rules, one per remaining copy.
func (e *singleElementEliminator) desugarRepetition(inner ExprID, lower, upper int32) ExprID {
	if lower < 0 || (upper >= 0 && upper < lower) {
		e.fail(verr.New(verr.KindValidation, "inverted repetition range {%v,%v}", lower, upper))
		return inner
	}
	elems := make([]ExprID, 0, lower+1)
	for i := int32(0); i < lower; i++ {
		elems = append(elems, inner)
	}
	switch {
	case upper == lower:
		if len(elems) == 0 {
			return e.b.AddEmptyStr()
		}
	case upper < 0:
		elems = append(elems, e.desugarStar(inner))
	default:
		restRuleIDs := make([]RuleID, 0, upper-lower)
		for i := int32(0); i < upper-lower; i++ {
			restRuleIDs = append(restRuleIDs, e.freshRule())
		}
		for i := 0; i < len(restRuleIDs)-1; i++ {
			refID := e.b.AddRuleRef(restRuleIDs[i+1])
			e.b.UpdateRuleBody(restRuleIDs[i], e.b.AddChoices([]ExprID{
				e.b.AddEmptyStr(),
				e.b.AddSequence([]ExprID{inner, refID}),
			}))
		}
		e.b.UpdateRuleBody(restRuleIDs[len(restRuleIDs)-1], e.b.AddChoices([]ExprID{
			e.b.AddEmptyStr(),
			inner,
		}))
		elems = append(elems, e.b.AddRuleRef(restRuleIDs[0]))
	}
	if len(elems) == 1 {
		return elems[0]
	}
	return e.b.AddSequence(elems)
}

func (e *singleElementEliminator) freshRule() RuleID {
	name := e.b.NewRuleName(e.curRuleName)
	id, err := e.b.AddEmptyRule(name)
	if err != nil {
		panic(err)
	}
	return id
}

type nestedRuleUnwrapper struct {
	g           *Grammar
	b           *Builder
	curRuleName string
}

func unwrapNestedRules(g *Grammar) (*Grammar, error) {
	u := &nestedRuleUnwrapper{
		g: g,
		b: NewBuilder(),
	}
	for i := 0; i < g.NumRules(); i++ {
		if _, err := u.b.AddEmptyRule(g.Rule(RuleID(i)).Name); err != nil {
			return nil, err
		}
	}
	for i := 0; i < g.NumRules(); i++ {
		r := g.Rule(RuleID(i))
		u.curRuleName = r.Name
		u.b.UpdateRuleBody(RuleID(i), u.visitRuleBody(r.BodyExprID))
		if r.LookaheadAssertionID != ExprIDNil {
			u.b.SetLookaheadAssertion(RuleID(i), u.visitLookahead(r.LookaheadAssertionID))
		}
	}
	return u.b.Build(g.RootRule().Name)
}

func (u *nestedRuleUnwrapper) visitLookahead(id ExprID) ExprID {
	return u.b.AddSequence(u.visitSequence(u.g.Expr(id)))
}

func (u *nestedRuleUnwrapper) visitRuleBody(id ExprID) ExprID {
	expr := u.g.Expr(id)
	switch expr.Type {
	case ExprTypeSequence:
		return u.b.AddChoices([]ExprID{u.b.AddSequence(u.visitSequence(expr))})
	case ExprTypeChoices:
		return u.b.AddChoices(u.visitChoices(expr))
	case ExprTypeEmptyStr:
		return u.b.AddChoices([]ExprID{u.b.AddEmptyStr()})
	case ExprTypeTagDispatch:
		data := make([]int32, len(expr.Data))
		copy(data, expr.Data)
		for i := 0; i < (len(data)-2)/2; i++ {
			tagID := ExprID(data[2+i*2])
			data[2+i*2] = int32(u.b.AddExpr(u.g.Expr(tagID)))
		}
		return u.b.addRow(ExprTypeTagDispatch, data)
	case ExprTypeByteString, ExprTypeCharacterClass, ExprTypeCharacterClassStar, ExprTypeRuleRef:
		elem := u.b.AddExpr(expr)
		return u.b.AddChoices([]ExprID{u.b.AddSequence([]ExprID{elem})})
	default:
		panic("unexpected expression type in rule body: " + expr.Type.String())
	}
}

// visitChoices flattens one level of choices. The returned list never
// contains an empty string except at the first position.
func (u *nestedRuleUnwrapper) visitChoices(expr Expr) []ExprID {
	var newChoiceIDs []ExprID
	foundEmpty := false
	for _, sub := range expr.Data {
		choice := u.g.Expr(ExprID(sub))
		switch choice.Type {
		case ExprTypeSequence:
			ids := u.visitSequence(choice)
			if len(ids) == 0 {
				foundEmpty = true
			} else {
				newChoiceIDs = append(newChoiceIDs, u.b.AddSequence(ids))
			}
		case ExprTypeChoices:
			subIDs := u.visitChoices(choice)
			if len(subIDs) > 0 && u.b.Expr(subIDs[0]).Type == ExprTypeEmptyStr {
				foundEmpty = true
				newChoiceIDs = append(newChoiceIDs, subIDs[1:]...)
			} else {
				newChoiceIDs = append(newChoiceIDs, subIDs...)
			}
		case ExprTypeEmptyStr:
			foundEmpty = true
		case ExprTypeByteString, ExprTypeCharacterClass, ExprTypeCharacterClassStar, ExprTypeRuleRef:
			elem := u.b.AddExpr(choice)
			newChoiceIDs = append(newChoiceIDs, u.b.AddSequence([]ExprID{elem}))
		default:
			panic("unexpected choice type: " + choice.Type.String())
		}
	}
	if foundEmpty {
		newChoiceIDs = append([]ExprID{u.b.AddEmptyStr()}, newChoiceIDs...)
	}
	return newChoiceIDs
}

// visitSequence flattens one level of sequence and drops empty strings.
func (u *nestedRuleUnwrapper) visitSequence(expr Expr) []ExprID {
	var newSeqIDs []ExprID
	for _, sub := range expr.Data {
		elem := u.g.Expr(ExprID(sub))
		switch elem.Type {
		case ExprTypeSequence:
			newSeqIDs = append(newSeqIDs, u.visitSequence(elem)...)
		case ExprTypeChoices:
			subChoiceIDs := u.visitChoices(elem)
			if len(subChoiceIDs) == 1 {
				choiceExpr := u.b.Expr(subChoiceIDs[0])
				if choiceExpr.Type != ExprTypeEmptyStr {
					for _, e := range choiceExpr.Data {
						newSeqIDs = append(newSeqIDs, ExprID(e))
					}
				}
			} else {
				newChoiceID := u.b.AddChoices(subChoiceIDs)
				name := u.b.NewRuleName(u.curRuleName + "_choice")
				newRuleID, err := u.b.AddRule(name, newChoiceID)
				if err != nil {
					panic(err)
				}
				newSeqIDs = append(newSeqIDs, u.b.AddRuleRef(newRuleID))
			}
		case ExprTypeEmptyStr:
			// dropped
		case ExprTypeByteString, ExprTypeCharacterClass, ExprTypeCharacterClassStar, ExprTypeRuleRef:
			newSeqIDs = append(newSeqIDs, u.b.AddExpr(elem))
		default:
			panic("unexpected sequence element type: " + elem.Type.String())
		}
	}
	return newSeqIDs
}

// IsNullable reports whether the rule can derive the empty string. Only
// meaningful on a normalized grammar, where nullability is observable as an
// empty-string first alternative.
func (g *Grammar) IsNullable(id RuleID) bool {
	body := g.Expr(g.Rule(id).BodyExprID)
	if body.Type != ExprTypeChoices {
		return body.Type == ExprTypeEmptyStr
	}
	if body.Len() == 0 {
		return false
	}
	return g.Expr(ExprID(body.Data[0])).Type == ExprTypeEmptyStr
}
