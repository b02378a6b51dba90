package grammar

import (
	"bytes"
	"encoding/json"

	verr "github.com/nihei9/urubu/error"
)

type ruleJSON struct {
	Name                 string `json:"name"`
	BodyExprID           int32  `json:"body_expr_id"`
	LookaheadAssertionID int32  `json:"lookahead_assertion_id"`
}

type csrJSON struct {
	Data   []int32 `json:"data"`
	Indptr []int32 `json:"indptr"`
}

type grammarJSON struct {
	Rules           []ruleJSON `json:"rules"`
	GrammarExprData csrJSON    `json:"grammar_expr_data"`
	RootRuleID      int32      `json:"root_rule_id"`
}

// Serialize encodes the grammar as JSON. The lookahead assertion ID is
// always present, -1 when the rule has none.
func Serialize(g *Grammar) ([]byte, error) {
	j := grammarJSON{
		Rules: make([]ruleJSON, len(g.rules)),
		GrammarExprData: csrJSON{
			Data:   g.exprData,
			Indptr: g.exprIndptr,
		},
		RootRuleID: int32(g.rootRuleID),
	}
	for i, r := range g.rules {
		j.Rules[i] = ruleJSON{
			Name:                 r.Name,
			BodyExprID:           int32(r.BodyExprID),
			LookaheadAssertionID: int32(r.LookaheadAssertionID),
		}
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, verr.New(verr.KindSerialization, "failed to serialize grammar: %v", err)
	}
	return b, nil
}

// Deserialize is the strict inverse of Serialize. Unknown fields and
// structurally invalid grammars are rejected.
func Deserialize(src []byte) (*Grammar, error) {
	dec := json.NewDecoder(bytes.NewReader(src))
	dec.DisallowUnknownFields()
	var j grammarJSON
	if err := dec.Decode(&j); err != nil {
		return nil, verr.New(verr.KindSerialization, "failed to deserialize grammar: %v", err)
	}
	if len(j.Rules) == 0 {
		return nil, verr.New(verr.KindSerialization, "rules array is empty")
	}
	if len(j.GrammarExprData.Indptr) < 1 || j.GrammarExprData.Indptr[0] != 0 {
		return nil, verr.New(verr.KindSerialization, "malformed expression offset table")
	}
	for i := 1; i < len(j.GrammarExprData.Indptr); i++ {
		prev, cur := j.GrammarExprData.Indptr[i-1], j.GrammarExprData.Indptr[i]
		if cur < prev || int(cur) > len(j.GrammarExprData.Data) {
			return nil, verr.New(verr.KindSerialization, "malformed expression offset table")
		}
		if cur == prev {
			return nil, verr.New(verr.KindSerialization, "expression %v has no type tag", i-1)
		}
	}
	last := j.GrammarExprData.Indptr[len(j.GrammarExprData.Indptr)-1]
	if int(last) != len(j.GrammarExprData.Data) {
		return nil, verr.New(verr.KindSerialization, "expression data has trailing bytes")
	}
	g := &Grammar{
		rules:      make([]Rule, len(j.Rules)),
		exprData:   j.GrammarExprData.Data,
		exprIndptr: j.GrammarExprData.Indptr,
		rootRuleID: RuleID(j.RootRuleID),
	}
	for i, r := range j.Rules {
		g.rules[i] = Rule{
			Name:                 r.Name,
			BodyExprID:           ExprID(r.BodyExprID),
			LookaheadAssertionID: ExprID(r.LookaheadAssertionID),
		}
	}
	if err := g.validate(); err != nil {
		return nil, verr.New(verr.KindSerialization, "invalid serialized grammar: %v", err)
	}
	return g, nil
}
