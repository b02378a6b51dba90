package grammar

import (
	"fmt"

	verr "github.com/nihei9/urubu/error"
)

// RuleID represents an ID of a rule. All valid rule IDs are sequential
// numbers starting from 0.
type RuleID int32

const RuleIDNil = RuleID(-1)

func (id RuleID) Int() int {
	return int(id)
}

// ExprID represents an ID of an expression stored in a grammar.
type ExprID int32

const ExprIDNil = ExprID(-1)

func (id ExprID) Int() int {
	return int(id)
}

// ExprType represents the type of an expression.
type ExprType int32

const (
	// data format: [byte0, byte1, ...]
	ExprTypeByteString ExprType = iota
	// data format: [negated, lower0, upper0, lower1, upper1, ...]
	ExprTypeCharacterClass
	// data format: same as ExprTypeCharacterClass
	ExprTypeCharacterClassStar
	// data format: []
	ExprTypeEmptyStr
	// data format: [rule_id]
	ExprTypeRuleRef
	// data format: [expr_id0, expr_id1, ...]
	ExprTypeSequence
	// data format: [expr_id0, expr_id1, ...]
	ExprTypeChoices
	// data format: [expr_id, op]
	ExprTypeQuantifier
	// data format: [expr_id, lower, upper] (upper -1 means unbounded)
	ExprTypeQuantifierRange
	// data format: [at_least_one, stop_after_first, tag_expr_id0, rule_id0, ...]
	ExprTypeTagDispatch
)

func (t ExprType) String() string {
	switch t {
	case ExprTypeByteString:
		return "byte string"
	case ExprTypeCharacterClass:
		return "character class"
	case ExprTypeCharacterClassStar:
		return "character class star"
	case ExprTypeEmptyStr:
		return "empty string"
	case ExprTypeRuleRef:
		return "rule reference"
	case ExprTypeSequence:
		return "sequence"
	case ExprTypeChoices:
		return "choices"
	case ExprTypeQuantifier:
		return "quantifier"
	case ExprTypeQuantifierRange:
		return "quantifier range"
	case ExprTypeTagDispatch:
		return "tag dispatch"
	}
	return "unknown"
}

// Quantifier operators stored in the second data slot of ExprTypeQuantifier.
const (
	QuantOpStar     = int32(0)
	QuantOpPlus     = int32(1)
	QuantOpQuestion = int32(2)
)

// Expr is a view of one expression. Data aliases the grammar's internal
// buffer and must not be mutated.
type Expr struct {
	Type ExprType
	Data []int32
}

func (e Expr) Len() int {
	return len(e.Data)
}

// TagDispatch accessors. The payload layout is
// [atLeastOne, stopAfterFirst, tagExprID0, ruleID0, tagExprID1, ruleID1, ...].

func (e Expr) TagDispatchAtLeastOne() bool {
	return e.Data[0] != 0
}

func (e Expr) TagDispatchStopAfterFirst() bool {
	return e.Data[1] != 0
}

func (e Expr) TagDispatchNumPairs() int {
	return (len(e.Data) - 2) / 2
}

func (e Expr) TagDispatchPair(i int) (ExprID, RuleID) {
	return ExprID(e.Data[2+i*2]), RuleID(e.Data[3+i*2])
}

// Rule is a production with a name. LookaheadAssertionID is the ID of a
// sequence expression that must additionally match the input following the
// rule, or ExprIDNil.
type Rule struct {
	Name                 string
	BodyExprID           ExprID
	LookaheadAssertionID ExprID
}

// Grammar is an immutable grammar AST. The expressions are stored in
// compressed sparse row style: one dense data buffer and an offset table.
type Grammar struct {
	rules      []Rule
	exprData   []int32
	exprIndptr []int32
	rootRuleID RuleID
}

func (g *Grammar) NumRules() int {
	return len(g.rules)
}

func (g *Grammar) Rule(id RuleID) Rule {
	if id < 0 || int(id) >= len(g.rules) {
		panic(fmt.Sprintf("rule id %v is out of bound", id))
	}
	return g.rules[id]
}

func (g *Grammar) RootRuleID() RuleID {
	return g.rootRuleID
}

func (g *Grammar) RootRule() Rule {
	return g.Rule(g.rootRuleID)
}

func (g *Grammar) NumExprs() int {
	return len(g.exprIndptr) - 1
}

func (g *Grammar) Expr(id ExprID) Expr {
	if id < 0 || int(id) >= g.NumExprs() {
		panic(fmt.Sprintf("expression id %v is out of bound", id))
	}
	row := g.exprData[g.exprIndptr[id]:g.exprIndptr[id+1]]
	return Expr{
		Type: ExprType(row[0]),
		Data: row[1:],
	}
}

// RuleIDByName looks up a rule by name. It returns RuleIDNil when the rule
// is not defined.
func (g *Grammar) RuleIDByName(name string) RuleID {
	for i, r := range g.rules {
		if r.Name == name {
			return RuleID(i)
		}
	}
	return RuleIDNil
}

// validate checks the structural invariants: every expression ID is
// in-range, and every rule reference targets a defined rule.
func (g *Grammar) validate() error {
	numExprs := int32(g.NumExprs())
	numRules := int32(len(g.rules))
	if g.rootRuleID < 0 || int32(g.rootRuleID) >= numRules {
		return verr.New(verr.KindValidation, "root rule id %v is out of range", g.rootRuleID)
	}
	checkExprID := func(id int32, where string) error {
		if id < 0 || id >= numExprs {
			return verr.New(verr.KindValidation, "%v: expression id %v is out of range", where, id)
		}
		return nil
	}
	for _, r := range g.rules {
		if err := checkExprID(int32(r.BodyExprID), fmt.Sprintf("rule %v", r.Name)); err != nil {
			return err
		}
		if r.LookaheadAssertionID != ExprIDNil {
			if err := checkExprID(int32(r.LookaheadAssertionID), fmt.Sprintf("rule %v lookahead", r.Name)); err != nil {
				return err
			}
		}
	}
	for id := 0; id < int(numExprs); id++ {
		e := g.Expr(ExprID(id))
		switch e.Type {
		case ExprTypeRuleRef:
			if e.Data[0] < 0 || e.Data[0] >= numRules {
				return verr.New(verr.KindValidation, "expression %v: rule reference %v is undefined", id, e.Data[0])
			}
		case ExprTypeSequence, ExprTypeChoices:
			for _, sub := range e.Data {
				if err := checkExprID(sub, fmt.Sprintf("expression %v", id)); err != nil {
					return err
				}
			}
		case ExprTypeQuantifier, ExprTypeQuantifierRange:
			if err := checkExprID(e.Data[0], fmt.Sprintf("expression %v", id)); err != nil {
				return err
			}
		case ExprTypeTagDispatch:
			if len(e.Data) < 2 || (len(e.Data)-2)%2 != 0 {
				return verr.New(verr.KindValidation, "expression %v: malformed tag dispatch payload", id)
			}
			for i := 0; i < e.TagDispatchNumPairs(); i++ {
				tagID, ruleID := e.TagDispatchPair(i)
				if err := checkExprID(int32(tagID), fmt.Sprintf("expression %v", id)); err != nil {
					return err
				}
				if ruleID < 0 || int32(ruleID) >= numRules {
					return verr.New(verr.KindValidation, "expression %v: tag dispatch rule %v is undefined", id, ruleID)
				}
			}
		}
	}
	return nil
}
