// Package parser parses EBNF grammar text into a grammar AST.
//
// The surface syntax uses `::=` for production, `|` for choice,
// juxtaposition for sequence, double-quoted byte strings, bracketed
// character classes, the quantifiers `?`, `*`, `+`, and `{lo,hi}`,
// parenthesized grouping, `#` line comments, and an optional trailing
// `(= ...)` lookahead assertion per rule. A rule body may also be a
// `TagDispatch(("tag", rule), ...)` form in the root rule.
package parser

import (
	"unicode/utf8"

	verr "github.com/nihei9/urubu/error"
	"github.com/nihei9/urubu/grammar"
)

// Parsing runs in two passes: the first pass registers every `name ::=`
// occurrence so that forward references resolve, and the second pass parses
// the rule bodies.
func Parse(src string, rootRuleName string) (g *grammar.Grammar, retErr error) {
	p := &parser{
		src:          src,
		row:          1,
		col:          1,
		b:            grammar.NewBuilder(),
		rootRuleName: rootRuleName,
	}
	defer func() {
		err := recover()
		if err != nil {
			retErr = err.(error)
		}
	}()

	p.registerRuleNames()

	p.reset()
	p.consumeSpace(true)
	for p.peek(0) != 0 {
		if p.peek(0) == '(' && p.peek(1) == '=' {
			p.raiseParseError("unexpected lookahead assertion")
		}
		name, bodyID, lookaheadID := p.parseRule()
		id := p.b.RuleIDByName(name)
		p.b.UpdateRuleBody(id, bodyID)
		if lookaheadID != grammar.ExprIDNil {
			p.b.SetLookaheadAssertion(id, lookaheadID)
		}
		p.consumeSpace(true)
	}

	if p.b.RuleIDByName(rootRuleName) == grammar.RuleIDNil {
		p.raiseParseError("the root rule with name %v is not found", rootRuleName)
	}

	return p.b.Build(rootRuleName)
}

const maxIntegerInGrammar = int64(1e10)

type parser struct {
	src          string
	pos          int
	row          int
	col          int
	b            *grammar.Builder
	curRuleName  string
	inParens     bool
	rootRuleName string
}

func (p *parser) reset() {
	p.pos = 0
	p.row = 1
	p.col = 1
	p.curRuleName = ""
	p.inParens = false
}

func (p *parser) raiseParseError(format string, args ...interface{}) {
	panic(verr.NewAt(verr.KindParse, p.row, p.col, format, args...))
}

func (p *parser) peek(delta int) byte {
	if p.pos+delta >= len(p.src) {
		return 0
	}
	return p.src[p.pos+delta]
}

// consume advances cnt bytes and maintains the row and column counters.
// \n, \r, and \r\n all count as one newline.
func (p *parser) consume(cnt int) {
	for i := 0; i < cnt; i++ {
		c := p.peek(0)
		if c == '\n' || (c == '\r' && p.peek(1) != '\n') {
			p.row++
			p.col = 1
		} else {
			p.col++
		}
		p.pos++
	}
}

// consumeSpace skips whitespace and # comments. When allowNewline is false,
// a newline terminates skipping so that it stays visible to the caller as a
// sequence terminator. A comment that does not start the line reserves its
// trailing newline for the same reason.
func (p *parser) consumeSpace(allowNewline bool) {
	for {
		c := p.peek(0)
		if c == 0 {
			return
		}
		if !(c == ' ' || c == '\t' || c == '#' || (allowNewline && (c == '\n' || c == '\r'))) {
			return
		}
		p.consume(1)
		if c == '#' {
			start := p.col - 1
			for p.peek(0) != 0 && p.peek(0) != '\n' && p.peek(0) != '\r' {
				p.consume(1)
			}
			if p.peek(0) == 0 || start != 1 {
				return
			}
			p.consume(1)
			if p.src[p.pos-1] == '\r' && p.peek(0) == '\n' {
				p.consume(1)
			}
		}
	}
}

func isNameChar(c byte, first bool) bool {
	return c == '_' || c == '-' || c == '.' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
		(!first && c >= '0' && c <= '9')
}

func (p *parser) parseIdentifier(allowEmpty bool) string {
	start := p.pos
	first := true
	for p.peek(0) != 0 && isNameChar(p.peek(0), first) {
		p.consume(1)
		first = false
	}
	if start == p.pos && !allowEmpty {
		p.raiseParseError("expect identifier")
	}
	return p.src[start:p.pos]
}

// registerRuleNames scans the source for `name ::=` occurrences only.
func (p *parser) registerRuleNames() {
	p.consumeSpace(true)
	for p.peek(0) != 0 {
		name := p.parseIdentifier(true)
		p.consumeSpace(false)
		if p.peek(0) == ':' && p.peek(1) == ':' && p.peek(2) == '=' {
			if name == "" {
				p.raiseParseError("expect rule name")
			}
			p.consume(3)
			if p.b.RuleIDByName(name) != grammar.RuleIDNil {
				p.raiseParseError("rule %v is defined multiple times", name)
			}
			_, err := p.b.AddEmptyRule(name)
			if err != nil {
				panic(err)
			}
		}
		for p.peek(0) != 0 && p.peek(0) != '\n' && p.peek(0) != '\r' {
			p.consume(1)
		}
		p.consumeSpace(true)
	}
}

func (p *parser) parseRule() (string, grammar.ExprID, grammar.ExprID) {
	name := p.parseIdentifier(false)
	p.curRuleName = name
	p.consumeSpace(true)
	if !(p.peek(0) == ':' && p.peek(1) == ':' && p.peek(2) == '=') {
		p.raiseParseError("expect ::=")
	}
	p.consume(3)
	p.consumeSpace(true)
	bodyID := p.parseTagDispatchOrChoices()
	p.consumeSpace(false)
	lookaheadID := p.parseLookaheadAssertion()
	return name, bodyID, lookaheadID
}

func (p *parser) parseLookaheadAssertion() grammar.ExprID {
	if !(p.peek(0) == '(' && p.peek(1) == '=') {
		return grammar.ExprIDNil
	}
	p.consume(2)
	prevInParens := p.inParens
	p.inParens = true
	p.consumeSpace(true)
	seqID := p.parseSequence()
	p.consumeSpace(true)
	if p.peek(0) != ')' {
		p.raiseParseError("expect )")
	}
	p.consume(1)
	p.inParens = prevInParens
	return seqID
}

func (p *parser) parseChoices() grammar.ExprID {
	var choices []grammar.ExprID
	choices = append(choices, p.parseSequence())
	p.consumeSpace(true)
	for p.peek(0) == '|' {
		p.consume(1)
		p.consumeSpace(true)
		choices = append(choices, p.parseSequence())
		p.consumeSpace(true)
	}
	return p.b.AddChoices(choices)
}

// parseSequence parses elements until one of the sequence terminators: `|`,
// `)`, end of input, a newline outside parentheses, or a `(=` lookahead
// start.
func (p *parser) parseSequence() grammar.ExprID {
	var elems []grammar.ExprID
	for {
		elems = append(elems, p.parseElementWithQuantifier())
		p.consumeSpace(p.inParens)
		c := p.peek(0)
		if c == 0 || c == '|' || c == ')' || c == '\n' || c == '\r' {
			break
		}
		if c == '(' && p.peek(1) == '=' {
			break
		}
	}
	return p.b.AddSequence(elems)
}

func (p *parser) parseElementWithQuantifier() grammar.ExprID {
	exprID := p.parseElement()
	p.consumeSpace(p.inParens)
	switch p.peek(0) {
	case '{':
		lower, upper := p.parseRepetitionRange()
		return p.desugarRepetitionRange(exprID, lower, upper)
	case '*':
		p.consume(1)
		return p.desugarStar(exprID)
	case '+':
		p.consume(1)
		return p.desugarPlus(exprID)
	case '?':
		p.consume(1)
		return p.desugarQuestion(exprID)
	}
	return exprID
}

func (p *parser) parseElement() grammar.ExprID {
	switch p.peek(0) {
	case '(':
		p.consume(1)
		p.consumeSpace(true)
		if p.peek(0) == ')' {
			p.consume(1)
			return p.b.AddEmptyStr()
		}
		prevInParens := p.inParens
		p.inParens = true
		exprID := p.parseChoices()
		p.consumeSpace(true)
		if p.peek(0) != ')' {
			p.raiseParseError("expect )")
		}
		p.consume(1)
		p.inParens = prevInParens
		return exprID
	case '[':
		p.consume(1)
		exprID := p.parseCharacterClass()
		if p.peek(0) != ']' {
			p.raiseParseError("expect ]")
		}
		p.consume(1)
		return exprID
	case '"':
		return p.parseString()
	default:
		if isNameChar(p.peek(0), true) {
			return p.parseRuleRef()
		}
		p.raiseParseError("expect element, but got character: %q", string(rune(p.peek(0))))
	}
	return grammar.ExprIDNil
}

func (p *parser) parseRuleRef() grammar.ExprID {
	name := p.parseIdentifier(false)
	id := p.b.RuleIDByName(name)
	if id == grammar.RuleIDNil {
		p.raiseParseError("rule %v is not defined", name)
	}
	return p.b.AddRuleRef(id)
}

// parseString parses a double-quoted string with C/Unicode escapes and
// registers it as a byte string (or an empty string).
func (p *parser) parseString() grammar.ExprID {
	if p.peek(0) != '"' {
		p.raiseParseError("expect \" in string literal")
	}
	p.consume(1)
	var codepoints []rune
	for p.peek(0) != 0 && p.peek(0) != '"' && p.peek(0) != '\n' && p.peek(0) != '\r' {
		cp := p.parseCodepointOrEscape(nil)
		codepoints = append(codepoints, cp)
	}
	if p.peek(0) != '"' {
		p.raiseParseError("expect \" in string literal")
	}
	p.consume(1)

	if len(codepoints) == 0 {
		return p.b.AddEmptyStr()
	}
	return p.b.AddByteStringFromString(string(codepoints))
}

const unknownUpper = int32(-4)

// parseCharacterClass parses the contents of `[...]` up to, but not
// including, the closing bracket. `-` is literal at the first or last
// position; `\-` and `\]` are the class-local escapes.
func (p *parser) parseCharacterClass() grammar.ExprID {
	classEscapes := map[byte]rune{'-': '-', ']': ']'}

	negated := false
	if p.peek(0) == '^' {
		negated = true
		p.consume(1)
	}

	var ranges []grammar.CharClassRange
	pastIsHyphen := false
	pastIsSingleChar := false
	for p.peek(0) != 0 && p.peek(0) != ']' {
		if p.peek(0) == '\n' || p.peek(0) == '\r' {
			p.raiseParseError("character class should not contain newline")
		}
		if p.peek(0) == '-' && p.peek(1) != ']' && !pastIsHyphen && pastIsSingleChar {
			p.consume(1)
			pastIsHyphen = true
			pastIsSingleChar = false
			continue
		}
		cp := p.parseCodepointOrEscape(classEscapes)
		if pastIsHyphen {
			last := &ranges[len(ranges)-1]
			if last.Lower > int32(cp) {
				p.raiseParseError("invalid character class: lower bound is larger than upper bound")
			}
			last.Upper = int32(cp)
			pastIsHyphen = false
		} else {
			ranges = append(ranges, grammar.CharClassRange{Lower: int32(cp), Upper: unknownUpper})
			pastIsSingleChar = true
		}
	}
	if p.peek(0) == 0 {
		p.raiseParseError("unterminated character class")
	}
	for i := range ranges {
		if ranges[i].Upper == unknownUpper {
			ranges[i].Upper = ranges[i].Lower
		}
	}
	if len(ranges) == 0 {
		p.raiseParseError("character class must not be empty")
	}
	return p.b.AddCharacterClass(ranges, negated)
}

// parseCodepointOrEscape decodes one UTF-8 code point or escape sequence at
// the cursor. customEscapes extends the standard escape set.
func (p *parser) parseCodepointOrEscape(customEscapes map[byte]rune) rune {
	if p.peek(0) != '\\' {
		r, size := utf8.DecodeRuneInString(p.src[p.pos:])
		if r == utf8.RuneError && size <= 1 {
			p.raiseParseError("invalid UTF-8 sequence")
		}
		p.consume(size)
		return r
	}
	e := p.peek(1)
	if cp, ok := customEscapes[e]; ok {
		p.consume(2)
		return cp
	}
	switch e {
	case 'n':
		p.consume(2)
		return '\n'
	case 'r':
		p.consume(2)
		return '\r'
	case 't':
		p.consume(2)
		return '\t'
	case 'b':
		p.consume(2)
		return '\b'
	case 'f':
		p.consume(2)
		return '\f'
	case 'a':
		p.consume(2)
		return '\a'
	case 'v':
		p.consume(2)
		return '\v'
	case '0':
		p.consume(2)
		return 0
	case '\\':
		p.consume(2)
		return '\\'
	case '"':
		p.consume(2)
		return '"'
	case '\'':
		p.consume(2)
		return '\''
	case '?':
		p.consume(2)
		return '?'
	case 'e':
		p.consume(2)
		return 0x1b
	case 'x':
		return p.parseHexEscape(2)
	case 'u':
		return p.parseHexEscape(4)
	case 'U':
		return p.parseHexEscape(8)
	}
	p.raiseParseError("invalid escape sequence")
	return 0
}

func (p *parser) parseHexEscape(digits int) rune {
	p.consume(2)
	var v int64
	for i := 0; i < digits; i++ {
		c := p.peek(0)
		var d int64
		switch {
		case c >= '0' && c <= '9':
			d = int64(c - '0')
		case c >= 'a' && c <= 'f':
			d = int64(c-'a') + 10
		case c >= 'A' && c <= 'F':
			d = int64(c-'A') + 10
		default:
			p.raiseParseError("invalid escape sequence")
		}
		v = v<<4 | d
		p.consume(1)
	}
	if v > 0x10ffff {
		p.raiseParseError("escape sequence is out of the Unicode range")
	}
	return rune(v)
}

func (p *parser) parseInteger() int64 {
	c := p.peek(0)
	if c < '0' || c > '9' {
		p.raiseParseError("expect integer")
	}
	var num int64
	for {
		c := p.peek(0)
		if c < '0' || c > '9' {
			break
		}
		num = num*10 + int64(c-'0')
		p.consume(1)
		if num > maxIntegerInGrammar {
			p.raiseParseError("integer is too large: parsed %v, max allowed is %v", num, maxIntegerInGrammar)
		}
	}
	return num
}

// parseRepetitionRange parses `{x}`, `{x,}`, or `{x,y}` and returns
// (lower, upper) with upper -1 meaning unbounded.
func (p *parser) parseRepetitionRange() (int64, int64) {
	p.consume(1)
	p.consumeSpace(true)
	lower := p.parseInteger()
	p.consumeSpace(true)
	switch p.peek(0) {
	case ',':
		p.consume(1)
		p.consumeSpace(true)
		if p.peek(0) == '}' {
			p.consume(1)
			return lower, -1
		}
		upper := p.parseInteger()
		if upper < lower {
			p.raiseParseError("lower bound is larger than upper bound: %v > %v", lower, upper)
		}
		p.consumeSpace(true)
		if p.peek(0) != '}' {
			p.raiseParseError("expect ',' or '}' in repetition range")
		}
		p.consume(1)
		return lower, upper
	case '}':
		p.consume(1)
		return lower, lower
	}
	p.raiseParseError("expect ',' or '}' in repetition range")
	return 0, 0
}

// desugarStar rewrites e* into a fresh rule. A character class compiles
// straight to a class-star expression so that matching need not recurse into
// a rule per repetition; everything else becomes `r ::= "" | e r`.
func (p *parser) desugarStar(exprID grammar.ExprID) grammar.ExprID {
	e := p.b.Expr(exprID)
	if e.Type == grammar.ExprTypeCharacterClass {
		// Copy the payload first: appending to the builder may grow the
		// underlying buffer that e.Data aliases.
		data := make([]int32, len(e.Data))
		copy(data, e.Data)
		negated := data[0] != 0
		ranges := make([]grammar.CharClassRange, 0, (len(data)-1)/2)
		for i := 1; i+1 < len(data); i += 2 {
			ranges = append(ranges, grammar.CharClassRange{Lower: data[i], Upper: data[i+1]})
		}
		return p.b.AddCharacterClassStar(ranges, negated)
	}
	newRuleID := p.addFreshRule()
	refID := p.b.AddRuleRef(newRuleID)
	bodyID := p.b.AddChoices([]grammar.ExprID{
		p.b.AddEmptyStr(),
		p.b.AddSequence([]grammar.ExprID{exprID, refID}),
	})
	p.b.UpdateRuleBody(newRuleID, bodyID)
	return p.b.AddRuleRef(newRuleID)
}

// desugarPlus rewrites e+ into `r ::= e r | e`.
func (p *parser) desugarPlus(exprID grammar.ExprID) grammar.ExprID {
	newRuleID := p.addFreshRule()
	refID := p.b.AddRuleRef(newRuleID)
	bodyID := p.b.AddChoices([]grammar.ExprID{
		p.b.AddSequence([]grammar.ExprID{exprID, refID}),
		exprID,
	})
	p.b.UpdateRuleBody(newRuleID, bodyID)
	return p.b.AddRuleRef(newRuleID)
}

// desugarQuestion rewrites e? into `r ::= "" | e`.
func (p *parser) desugarQuestion(exprID grammar.ExprID) grammar.ExprID {
	newRuleID := p.addFreshRule()
	bodyID := p.b.AddChoices([]grammar.ExprID{
		p.b.AddEmptyStr(),
		exprID,
	})
	p.b.UpdateRuleBody(newRuleID, bodyID)
	return p.b.AddRuleRef(newRuleID)
}

// desugarRepetitionRange rewrites e{lo,hi}. The mandatory lo copies are laid
// out as a sequence; the optional tail becomes either an unbounded star-like
// rule (hi == -1) or a chain of optional rules, one per remaining copy.
func (p *parser) desugarRepetitionRange(exprID grammar.ExprID, lower, upper int64) grammar.ExprID {
	var elems []grammar.ExprID
	for i := int64(0); i < lower; i++ {
		elems = append(elems, exprID)
	}

	if upper == lower {
		return p.b.AddSequence(elems)
	}

	if upper == -1 {
		newRuleID := p.addFreshRule()
		refID := p.b.AddRuleRef(newRuleID)
		bodyID := p.b.AddChoices([]grammar.ExprID{
			p.b.AddEmptyStr(),
			p.b.AddSequence([]grammar.ExprID{exprID, refID}),
		})
		p.b.UpdateRuleBody(newRuleID, bodyID)
		elems = append(elems, p.b.AddRuleRef(newRuleID))
		return p.b.AddSequence(elems)
	}

	restRuleIDs := make([]grammar.RuleID, 0, upper-lower)
	for i := int64(0); i < upper-lower; i++ {
		restRuleIDs = append(restRuleIDs, p.addFreshRule())
	}
	for i := int64(0); i < upper-lower-1; i++ {
		refID := p.b.AddRuleRef(restRuleIDs[i+1])
		bodyID := p.b.AddChoices([]grammar.ExprID{
			p.b.AddEmptyStr(),
			p.b.AddSequence([]grammar.ExprID{exprID, refID}),
		})
		p.b.UpdateRuleBody(restRuleIDs[i], bodyID)
	}
	lastBodyID := p.b.AddChoices([]grammar.ExprID{
		p.b.AddEmptyStr(),
		exprID,
	})
	p.b.UpdateRuleBody(restRuleIDs[len(restRuleIDs)-1], lastBodyID)

	elems = append(elems, p.b.AddRuleRef(restRuleIDs[0]))
	return p.b.AddSequence(elems)
}

func (p *parser) addFreshRule() grammar.RuleID {
	name := p.b.NewRuleName(p.curRuleName)
	id, err := p.b.AddEmptyRule(name)
	if err != nil {
		panic(err)
	}
	return id
}

// parseTagDispatchOrChoices tries the `TagDispatch(...)` form first and
// falls back to ordinary choices.
func (p *parser) parseTagDispatchOrChoices() grammar.ExprID {
	savedPos, savedRow, savedCol, savedInParens := p.pos, p.row, p.col, p.inParens
	firstIdent := p.parseIdentifier(true)
	if firstIdent != "TagDispatch" {
		p.pos, p.row, p.col, p.inParens = savedPos, savedRow, savedCol, savedInParens
		return p.parseChoices()
	}

	if p.curRuleName != p.rootRuleName {
		p.raiseParseError("TagDispatch should only be used in the root rule")
	}

	p.consumeSpace(true)
	if p.peek(0) != '(' {
		p.raiseParseError("expect ( after TagDispatch")
	}
	p.consume(1)
	p.consumeSpace(true)
	var pairs []grammar.TagDispatchPair
	for {
		pairs = append(pairs, p.parseTagDispatchElement())
		p.consumeSpace(true)
		if p.peek(0) == ',' {
			p.consume(1)
			p.consumeSpace(true)
		} else if p.peek(0) == ')' {
			p.consume(1)
			break
		} else {
			p.raiseParseError("expect , or ) in TagDispatch")
		}
	}
	return p.b.AddTagDispatch(pairs, false, false)
}

func (p *parser) parseTagDispatchElement() grammar.TagDispatchPair {
	if p.peek(0) != '(' {
		p.raiseParseError("expect ( in tag dispatch element")
	}
	p.consume(1)
	p.consumeSpace(true)

	tagID := p.parseString()
	if p.b.Expr(tagID).Type == grammar.ExprTypeEmptyStr {
		p.raiseParseError("tag cannot be empty")
	}

	p.consumeSpace(true)
	if p.peek(0) != ',' {
		p.raiseParseError("expect , in tag dispatch element")
	}
	p.consume(1)
	p.consumeSpace(true)

	ruleName := p.parseIdentifier(false)
	if ruleName == p.rootRuleName {
		p.raiseParseError("the root rule %v cannot be used as a tag", ruleName)
	}
	ruleID := p.b.RuleIDByName(ruleName)
	if ruleID == grammar.RuleIDNil {
		p.raiseParseError("rule %v is not defined", ruleName)
	}

	p.consumeSpace(true)
	if p.peek(0) != ')' {
		p.raiseParseError("expect ) in tag dispatch element")
	}
	p.consume(1)

	return grammar.TagDispatchPair{
		TagExprID: tagID,
		RuleID:    ruleID,
	}
}
