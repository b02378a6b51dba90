package structag

import (
	"strings"

	verr "github.com/nihei9/urubu/error"
	"github.com/nihei9/urubu/fsm"
	"github.com/nihei9/urubu/grammar"
	"github.com/nihei9/urubu/grammar/parser"
	"github.com/nihei9/urubu/jsonschema"
	"github.com/nihei9/urubu/regex"
)

// ToGrammar compiles a structural tag into a grammar rooted at "root".
func ToGrammar(f Format) (*grammar.Grammar, error) {
	b := grammar.NewBuilder()
	c := &compiler{b: b}
	body, err := c.compile(f, "", "root")
	if err != nil {
		return nil, err
	}
	if _, err := b.AddRule("root", body); err != nil {
		return nil, err
	}
	return b.Build("root")
}

type compiler struct {
	b *grammar.Builder
}

// compile turns a format into an expression. detectedEnd is the literal
// that terminates the enclosing context, used to bound wildcard text.
func (c *compiler) compile(f Format, detectedEnd, hint string) (grammar.ExprID, error) {
	switch f := f.(type) {
	case *Literal:
		return c.b.AddByteStringFromString(f.Text), nil

	case *JSONSchema:
		src, _, err := jsonschema.ToEBNF(f.Schema, jsonschema.Options{
			StrictMode:    true,
			AnyWhitespace: true,
		})
		if err != nil {
			return grammar.ExprIDNil, err
		}
		g, err := parser.Parse(src, "root")
		if err != nil {
			return grammar.ExprIDNil, err
		}
		root, err := c.b.ImportGrammar(g, hint)
		if err != nil {
			return grammar.ExprIDNil, err
		}
		return c.b.AddRuleRef(root), nil

	case *WildcardText:
		if detectedEnd == "" {
			return c.b.AddCharacterClassStar(nil, true), nil
		}
		rule, err := regex.GrammarFromFSM(c.b, notContaining(detectedEnd), hint+"_text")
		if err != nil {
			return grammar.ExprIDNil, err
		}
		return c.b.AddRuleRef(rule), nil

	case *Sequence:
		var elems []grammar.ExprID
		for i, child := range f.Elements {
			end := detectedEnd
			if i+1 < len(f.Elements) {
				end = leadingLiteral(f.Elements[i+1])
			}
			e, err := c.compile(child, end, c.childHint(hint, i))
			if err != nil {
				return grammar.ExprIDNil, err
			}
			elems = append(elems, e)
		}
		return c.b.AddSequence(elems), nil

	case *Tag:
		return c.compileTag(f, 0, detectedEnd, hint)

	case *TriggeredTags:
		return c.compileTriggered(f, hint)

	case *TagsWithSeparator:
		return c.compileSeparated(f, detectedEnd, hint)
	}
	return grammar.ExprIDNil, verr.New(verr.KindValidation, "unsupported format node")
}

// compileTag emits begin (minus the consumed prefix), content, end. The
// content's wildcard bound is the end literal when present.
func (c *compiler) compileTag(t *Tag, consumed int, detectedEnd, hint string) (grammar.ExprID, error) {
	contentEnd := t.End
	if contentEnd == "" {
		contentEnd = detectedEnd
	}
	content, err := c.compile(t.Content, contentEnd, hint)
	if err != nil {
		return grammar.ExprIDNil, err
	}
	var elems []grammar.ExprID
	if rest := t.Begin[consumed:]; rest != "" {
		elems = append(elems, c.b.AddByteStringFromString(rest))
	}
	elems = append(elems, content)
	if t.End != "" {
		elems = append(elems, c.b.AddByteStringFromString(t.End))
	}
	return c.b.AddSequence(elems), nil
}

func (c *compiler) compileTriggered(f *TriggeredTags, hint string) (grammar.ExprID, error) {
	if len(f.Triggers) == 0 {
		return grammar.ExprIDNil, verr.New(verr.KindValidation, "triggered tags need at least one trigger")
	}
	for i, t := range f.Triggers {
		if t == "" {
			return grammar.ExprIDNil, verr.New(verr.KindValidation, "trigger #%v is empty", i)
		}
		for j, u := range f.Triggers {
			if i != j && strings.HasPrefix(u, t) {
				return grammar.ExprIDNil, verr.New(verr.KindValidation, "trigger %q is a prefix of trigger %q", t, u)
			}
		}
	}

	// Group each tag under the trigger that prefixes its begin literal.
	groups := make([][]*Tag, len(f.Triggers))
	for _, tag := range f.Tags {
		found := false
		for i, trigger := range f.Triggers {
			if strings.HasPrefix(tag.Begin, trigger) {
				groups[i] = append(groups[i], tag)
				found = true
				break
			}
		}
		if !found {
			return grammar.ExprIDNil, verr.New(verr.KindValidation, "tag %q matches no trigger", tag.Begin)
		}
	}

	var pairs []grammar.TagDispatchPair
	for i, trigger := range f.Triggers {
		if len(groups[i]) == 0 {
			continue
		}
		var alts []grammar.ExprID
		for j, tag := range groups[i] {
			body, err := c.compileTag(tag, len(trigger), "", c.childHint(hint, j))
			if err != nil {
				return grammar.ExprIDNil, err
			}
			alts = append(alts, body)
		}
		rule, err := c.b.AddRule(c.b.NewRuleName(hint+"_group"), c.b.AddChoices(alts))
		if err != nil {
			return grammar.ExprIDNil, err
		}
		pairs = append(pairs, grammar.TagDispatchPair{
			TagExprID: c.b.AddByteStringFromString(trigger),
			RuleID:    rule,
		})
	}
	if len(pairs) == 0 {
		return grammar.ExprIDNil, verr.New(verr.KindValidation, "no trigger has a tag attached")
	}
	dispatch := c.b.AddTagDispatch(pairs, f.AtLeastOne, f.StopAfterFirst)
	rule, err := c.b.AddRule(c.b.NewRuleName(hint+"_dispatch"), dispatch)
	if err != nil {
		return grammar.ExprIDNil, err
	}
	return c.b.AddRuleRef(rule), nil
}

func (c *compiler) compileSeparated(f *TagsWithSeparator, detectedEnd, hint string) (grammar.ExprID, error) {
	if len(f.Tags) == 0 {
		return grammar.ExprIDNil, verr.New(verr.KindValidation, "a separated tag list needs at least one tag")
	}
	var alts []grammar.ExprID
	for i, tag := range f.Tags {
		body, err := c.compileTag(tag, 0, detectedEnd, c.childHint(hint, i))
		if err != nil {
			return grammar.ExprIDNil, err
		}
		alts = append(alts, body)
	}
	one := c.b.AddChoices(alts)

	var main grammar.ExprID
	if f.StopAfterFirst {
		main = one
	} else {
		// rest ::= "" | separator tag rest
		rest, err := c.b.AddEmptyRule(c.b.NewRuleName(hint + "_rest"))
		if err != nil {
			return grammar.ExprIDNil, err
		}
		c.b.UpdateRuleBody(rest, c.b.AddChoices([]grammar.ExprID{
			c.b.AddEmptyStr(),
			c.b.AddSequence([]grammar.ExprID{
				c.b.AddByteStringFromString(f.Separator),
				one,
				c.b.AddRuleRef(rest),
			}),
		}))
		main = c.b.AddSequence([]grammar.ExprID{one, c.b.AddRuleRef(rest)})
	}
	if !f.AtLeastOne {
		return c.b.AddChoices([]grammar.ExprID{c.b.AddEmptyStr(), main}), nil
	}
	return main, nil
}

func (c *compiler) childHint(hint string, i int) string {
	return hint + "_" + string(rune('a'+i%26))
}

// leadingLiteral returns the text that must immediately follow the current
// element, used to bound a preceding wildcard.
func leadingLiteral(f Format) string {
	switch f := f.(type) {
	case *Literal:
		return f.Text
	case *Tag:
		return f.Begin
	case *Sequence:
		if len(f.Elements) > 0 {
			return leadingLiteral(f.Elements[0])
		}
	}
	return ""
}

// notContaining builds the automaton accepting every byte string that does
// not contain s as a substring.
func notContaining(s string) *fsm.StartEnd {
	n := len(s)
	f := fsm.NewFSM(n)
	se := fsm.NewStartEnd(f, 0)
	for i := 0; i < n; i++ {
		se.AddEnd(int32(i))
		b := 0
		for b < 256 {
			next := matchedPrefixAfter(s, i, byte(b))
			lo := b
			for b < 256 && matchedPrefixAfter(s, i, byte(b)) == next {
				b++
			}
			if next == n {
				// Reading these bytes would complete the forbidden string.
				continue
			}
			f.AddEdge(int32(i), int32(next), int16(lo), int16(b-1))
		}
	}
	return se
}

// matchedPrefixAfter returns the length of the longest prefix of s that is
// a suffix of s[:matched] + b.
func matchedPrefixAfter(s string, matched int, b byte) int {
	t := s[:matched] + string(b)
	max := len(t)
	if max > len(s) {
		max = len(s)
	}
	for k := max; k > 0; k-- {
		if strings.HasSuffix(t, s[:k]) {
			return k
		}
	}
	return 0
}
