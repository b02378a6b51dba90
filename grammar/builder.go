package grammar

import (
	"fmt"

	verr "github.com/nihei9/urubu/error"
)

// Builder accumulates rules and expressions and produces an immutable
// Grammar. Expression IDs handed out by the Add* methods stay valid in the
// built grammar.
type Builder struct {
	rules        []Rule
	ruleIDByName map[string]RuleID
	exprData     []int32
	exprIndptr   []int32
}

func NewBuilder() *Builder {
	return &Builder{
		ruleIDByName: map[string]RuleID{},
		exprIndptr:   []int32{0},
	}
}

func (b *Builder) addRow(t ExprType, data []int32) ExprID {
	id := ExprID(len(b.exprIndptr) - 1)
	b.exprData = append(b.exprData, int32(t))
	b.exprData = append(b.exprData, data...)
	b.exprIndptr = append(b.exprIndptr, int32(len(b.exprData)))
	return id
}

func (b *Builder) NumExprs() int {
	return len(b.exprIndptr) - 1
}

func (b *Builder) Expr(id ExprID) Expr {
	row := b.exprData[b.exprIndptr[id]:b.exprIndptr[id+1]]
	return Expr{
		Type: ExprType(row[0]),
		Data: row[1:],
	}
}

func (b *Builder) AddByteString(bytes []int32) ExprID {
	if len(bytes) == 0 {
		return b.AddEmptyStr()
	}
	return b.addRow(ExprTypeByteString, bytes)
}

// AddByteStringFromString registers the UTF-8 bytes of s as a byte string.
func (b *Builder) AddByteStringFromString(s string) ExprID {
	bytes := make([]int32, len(s))
	for i := 0; i < len(s); i++ {
		bytes[i] = int32(s[i])
	}
	return b.AddByteString(bytes)
}

// CharClassRange is one inclusive code point range of a character class.
type CharClassRange struct {
	Lower int32
	Upper int32
}

func (b *Builder) AddCharacterClass(ranges []CharClassRange, negated bool) ExprID {
	return b.addRow(ExprTypeCharacterClass, charClassData(ranges, negated))
}

func (b *Builder) AddCharacterClassStar(ranges []CharClassRange, negated bool) ExprID {
	return b.addRow(ExprTypeCharacterClassStar, charClassData(ranges, negated))
}

func charClassData(ranges []CharClassRange, negated bool) []int32 {
	data := make([]int32, 0, len(ranges)*2+1)
	if negated {
		data = append(data, 1)
	} else {
		data = append(data, 0)
	}
	for _, r := range ranges {
		data = append(data, r.Lower, r.Upper)
	}
	return data
}

func (b *Builder) AddEmptyStr() ExprID {
	return b.addRow(ExprTypeEmptyStr, nil)
}

func (b *Builder) AddRuleRef(id RuleID) ExprID {
	return b.addRow(ExprTypeRuleRef, []int32{int32(id)})
}

func (b *Builder) AddSequence(elems []ExprID) ExprID {
	return b.addRow(ExprTypeSequence, exprIDsToData(elems))
}

func (b *Builder) AddChoices(choices []ExprID) ExprID {
	return b.addRow(ExprTypeChoices, exprIDsToData(choices))
}

func (b *Builder) AddQuantifier(inner ExprID, op int32) ExprID {
	return b.addRow(ExprTypeQuantifier, []int32{int32(inner), op})
}

func (b *Builder) AddQuantifierRange(inner ExprID, lower, upper int32) ExprID {
	return b.addRow(ExprTypeQuantifierRange, []int32{int32(inner), lower, upper})
}

// TagDispatchPair associates a trigger byte string with the rule that takes
// over once the trigger has appeared in the output.
type TagDispatchPair struct {
	TagExprID ExprID
	RuleID    RuleID
}

func (b *Builder) AddTagDispatch(pairs []TagDispatchPair, atLeastOne, stopAfterFirst bool) ExprID {
	data := make([]int32, 0, len(pairs)*2+2)
	data = append(data, boolToInt32(atLeastOne), boolToInt32(stopAfterFirst))
	for _, p := range pairs {
		data = append(data, int32(p.TagExprID), int32(p.RuleID))
	}
	return b.addRow(ExprTypeTagDispatch, data)
}

// AddExpr copies an expression (usually from another grammar) into the
// builder.
func (b *Builder) AddExpr(e Expr) ExprID {
	return b.addRow(e.Type, e.Data)
}

func exprIDsToData(ids []ExprID) []int32 {
	data := make([]int32, len(ids))
	for i, id := range ids {
		data[i] = int32(id)
	}
	return data
}

func boolToInt32(v bool) int32 {
	if v {
		return 1
	}
	return 0
}

// AddRule registers a named rule with the given body. Registering the same
// name twice is an error.
func (b *Builder) AddRule(name string, body ExprID) (RuleID, error) {
	if _, defined := b.ruleIDByName[name]; defined {
		return RuleIDNil, verr.New(verr.KindValidation, "rule %v is defined multiple times", name)
	}
	id := RuleID(len(b.rules))
	b.rules = append(b.rules, Rule{
		Name:                 name,
		BodyExprID:           body,
		LookaheadAssertionID: ExprIDNil,
	})
	b.ruleIDByName[name] = id
	return id, nil
}

// AddEmptyRule registers a named rule whose body will be filled in later via
// UpdateRuleBody. Needed to let rule bodies reference rules defined further
// down in the source.
func (b *Builder) AddEmptyRule(name string) (RuleID, error) {
	return b.AddRule(name, ExprIDNil)
}

func (b *Builder) UpdateRuleBody(id RuleID, body ExprID) {
	b.rules[id].BodyExprID = body
}

func (b *Builder) SetLookaheadAssertion(id RuleID, assertion ExprID) {
	b.rules[id].LookaheadAssertionID = assertion
}

func (b *Builder) RuleIDByName(name string) RuleID {
	if id, ok := b.ruleIDByName[name]; ok {
		return id
	}
	return RuleIDNil
}

func (b *Builder) RuleName(id RuleID) string {
	return b.rules[id].Name
}

func (b *Builder) NumRules() int {
	return len(b.rules)
}

// NewRuleName generates a rule name starting with hint that does not collide
// with any registered rule.
func (b *Builder) NewRuleName(hint string) string {
	if _, defined := b.ruleIDByName[hint]; !defined {
		return hint
	}
	for i := 1; ; i++ {
		name := fmt.Sprintf("%v_%v", hint, i)
		if _, defined := b.ruleIDByName[name]; !defined {
			return name
		}
	}
}

// Build finalizes the grammar with the named rule as the root. Every rule
// must have a body by this point.
func (b *Builder) Build(rootRuleName string) (*Grammar, error) {
	rootID, ok := b.ruleIDByName[rootRuleName]
	if !ok {
		return nil, verr.New(verr.KindValidation, "the root rule with name %v is not found", rootRuleName)
	}
	for _, r := range b.rules {
		if r.BodyExprID == ExprIDNil {
			return nil, verr.New(verr.KindValidation, "rule %v has no body", r.Name)
		}
	}
	g := &Grammar{
		rules:      b.rules,
		exprData:   b.exprData,
		exprIndptr: b.exprIndptr,
		rootRuleID: rootID,
	}
	if err := g.validate(); err != nil {
		return nil, err
	}
	return g, nil
}
