package regex

import (
	"fmt"

	"github.com/nihei9/urubu/fsm"
	"github.com/nihei9/urubu/grammar"
)

// GrammarFromFSM lowers an automaton into right-linear rules added to the
// builder and returns the entry rule's ID. The automaton is determinized and
// minimized first, so every state becomes one rule and every transition one
// alternative.
//
// Character classes in a grammar match code points, and bytes above 0x7f get
// UTF-8 treatment there. The automaton's edges are plain byte ranges, so
// ranges reaching above 0x7f are emitted as byte-string alternatives
// instead.
func GrammarFromFSM(b *grammar.Builder, se *fsm.StartEnd, hint string) (grammar.RuleID, error) {
	dfa, err := se.ToDFA(0)
	if err != nil {
		return grammar.RuleIDNil, err
	}
	dfa = dfa.MinimizeDFA()
	compact := dfa.FSM().Compact()

	ruleOf := make([]grammar.RuleID, compact.NumStates())
	for s := 0; s < compact.NumStates(); s++ {
		name := hint
		if int32(s) != dfa.Start() {
			name = fmt.Sprintf("%v_s%v", hint, s)
		}
		id, err := b.AddEmptyRule(b.NewRuleName(name))
		if err != nil {
			return grammar.RuleIDNil, err
		}
		ruleOf[s] = id
	}

	for s := 0; s < compact.NumStates(); s++ {
		var alts []grammar.ExprID
		for _, e := range compact.Edges(int32(s)) {
			ref := b.AddRuleRef(ruleOf[e.Target])
			for _, elem := range byteRangeExprs(b, e.Min, e.Max) {
				alts = append(alts, b.AddSequence([]grammar.ExprID{elem, ref}))
			}
		}
		if dfa.IsEnd(int32(s)) {
			alts = append(alts, b.AddEmptyStr())
		}
		if len(alts) == 0 {
			// A dead state accepts nothing; an empty choice set is not
			// representable, so give it an unsatisfiable body.
			alts = append(alts, b.AddSequence([]grammar.ExprID{
				b.AddCharacterClass([]grammar.CharClassRange{{Lower: 0, Upper: 0x10ffff}}, true),
			}))
		}
		b.UpdateRuleBody(ruleOf[s], b.AddChoices(alts))
	}
	return ruleOf[dfa.Start()], nil
}

// ToGrammar lowers the compiled pattern into a grammar rooted at rootName.
// The lookahead automaton, if any, does not constrain the match itself and
// is not lowered.
func (re *Regex) ToGrammar(rootName string) (*grammar.Grammar, error) {
	b := grammar.NewBuilder()
	entry, err := GrammarFromFSM(b, re.Body, rootName)
	if err != nil {
		return nil, err
	}
	return b.Build(b.RuleName(entry))
}

// byteRangeExprs renders an inclusive byte range as grammar expressions.
// The ASCII part becomes a character class; higher bytes are enumerated as
// one-byte strings to keep matching byte-exact.
func byteRangeExprs(b *grammar.Builder, min, max int16) []grammar.ExprID {
	var exprs []grammar.ExprID
	if min <= 0x7f {
		hi := max
		if hi > 0x7f {
			hi = 0x7f
		}
		exprs = append(exprs, b.AddCharacterClass([]grammar.CharClassRange{
			{Lower: int32(min), Upper: int32(hi)},
		}, false))
		min = 0x80
	}
	for v := min; v <= max; v++ {
		exprs = append(exprs, b.AddByteString([]int32{int32(v)}))
	}
	return exprs
}
