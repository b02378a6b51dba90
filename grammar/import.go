package grammar

import "fmt"

// ImportGrammar copies every rule of src into the builder, renaming each
// rule to prefix + "_" + its original name (uniquified on collision), and
// returns the new ID of src's root rule. Rule references are remapped; all
// other expressions are copied structurally.
func (b *Builder) ImportGrammar(src *Grammar, prefix string) (RuleID, error) {
	ruleMap := make([]RuleID, src.NumRules())
	for i := 0; i < src.NumRules(); i++ {
		name := b.NewRuleName(fmt.Sprintf("%v_%v", prefix, src.Rule(RuleID(i)).Name))
		id, err := b.AddEmptyRule(name)
		if err != nil {
			return RuleIDNil, err
		}
		ruleMap[i] = id
	}
	for i := 0; i < src.NumRules(); i++ {
		rule := src.Rule(RuleID(i))
		body := b.importExpr(src, rule.BodyExprID, ruleMap)
		b.UpdateRuleBody(ruleMap[i], body)
		if rule.LookaheadAssertionID != ExprIDNil {
			b.SetLookaheadAssertion(ruleMap[i], b.importExpr(src, rule.LookaheadAssertionID, ruleMap))
		}
	}
	return ruleMap[src.RootRuleID()], nil
}

func (b *Builder) importExpr(src *Grammar, id ExprID, ruleMap []RuleID) ExprID {
	e := src.Expr(id)
	switch e.Type {
	case ExprTypeRuleRef:
		return b.AddRuleRef(ruleMap[e.Data[0]])
	case ExprTypeSequence, ExprTypeChoices:
		children := make([]ExprID, len(e.Data))
		for i, child := range e.Data {
			children[i] = b.importExpr(src, ExprID(child), ruleMap)
		}
		if e.Type == ExprTypeSequence {
			return b.AddSequence(children)
		}
		return b.AddChoices(children)
	case ExprTypeQuantifier:
		return b.AddQuantifier(b.importExpr(src, ExprID(e.Data[0]), ruleMap), e.Data[1])
	case ExprTypeQuantifierRange:
		return b.AddQuantifierRange(b.importExpr(src, ExprID(e.Data[0]), ruleMap), e.Data[1], e.Data[2])
	case ExprTypeTagDispatch:
		pairs := make([]TagDispatchPair, e.TagDispatchNumPairs())
		for i := range pairs {
			tag, rule := e.TagDispatchPair(i)
			pairs[i] = TagDispatchPair{
				TagExprID: b.importExpr(src, tag, ruleMap),
				RuleID:    ruleMap[rule],
			}
		}
		return b.AddTagDispatch(pairs, e.TagDispatchAtLeastOne(), e.TagDispatchStopAfterFirst())
	default:
		// Leaf expressions carry no cross-references.
		return b.AddExpr(e)
	}
}
