package grammar

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Print renders the grammar in its EBNF surface form, one rule per line.
func Print(g *Grammar) string {
	var b strings.Builder
	for i := 0; i < g.NumRules(); i++ {
		fmt.Fprintln(&b, printRule(g, RuleID(i)))
	}
	return b.String()
}

func printRule(g *Grammar, id RuleID) string {
	r := g.Rule(id)
	s := r.Name + " ::= " + printExpr(g, r.BodyExprID)
	if r.LookaheadAssertionID != ExprIDNil {
		s += " (=" + printExpr(g, r.LookaheadAssertionID) + ")"
	}
	return s
}

func printExpr(g *Grammar, id ExprID) string {
	e := g.Expr(id)
	switch e.Type {
	case ExprTypeByteString:
		return printByteString(e)
	case ExprTypeCharacterClass:
		return printCharacterClass(e)
	case ExprTypeCharacterClassStar:
		return printCharacterClass(e) + "*"
	case ExprTypeEmptyStr:
		return `""`
	case ExprTypeRuleRef:
		return g.Rule(RuleID(e.Data[0])).Name
	case ExprTypeSequence:
		elems := make([]string, e.Len())
		for i, sub := range e.Data {
			elems[i] = printExpr(g, ExprID(sub))
		}
		return "(" + strings.Join(elems, " ") + ")"
	case ExprTypeChoices:
		choices := make([]string, e.Len())
		for i, sub := range e.Data {
			choices[i] = printExpr(g, ExprID(sub))
		}
		return "(" + strings.Join(choices, " | ") + ")"
	case ExprTypeQuantifier:
		var op string
		switch e.Data[1] {
		case QuantOpStar:
			op = "*"
		case QuantOpPlus:
			op = "+"
		case QuantOpQuestion:
			op = "?"
		}
		return printExpr(g, ExprID(e.Data[0])) + op
	case ExprTypeQuantifierRange:
		upper := ""
		if e.Data[2] != -1 {
			upper = fmt.Sprintf("%v", e.Data[2])
		}
		return fmt.Sprintf("%v{%v,%v}", printExpr(g, ExprID(e.Data[0])), e.Data[1], upper)
	case ExprTypeTagDispatch:
		var b strings.Builder
		b.WriteString("TagDispatch(")
		for i := 0; i < e.TagDispatchNumPairs(); i++ {
			tagID, ruleID := e.TagDispatchPair(i)
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "(%v, %v)", printExpr(g, tagID), g.Rule(ruleID).Name)
		}
		b.WriteString(")")
		return b.String()
	}
	panic(fmt.Sprintf("unexpected expression type: %v", e.Type))
}

func printByteString(e Expr) string {
	raw := make([]byte, e.Len())
	for i, b := range e.Data {
		raw[i] = byte(b)
	}
	var b strings.Builder
	b.WriteByte('"')
	for len(raw) > 0 {
		r, size := utf8.DecodeRune(raw)
		if r == utf8.RuneError && size <= 1 {
			fmt.Fprintf(&b, `\x%02x`, raw[0])
			raw = raw[1:]
			continue
		}
		b.WriteString(escapeRune(r, nil))
		raw = raw[size:]
	}
	b.WriteByte('"')
	return b.String()
}

func printCharacterClass(e Expr) string {
	classEscapes := map[rune]string{'-': `\-`, ']': `\]`}
	var b strings.Builder
	b.WriteByte('[')
	if e.Data[0] != 0 {
		b.WriteByte('^')
	}
	for i := 1; i+1 < e.Len(); i += 2 {
		b.WriteString(escapeRune(rune(e.Data[i]), classEscapes))
		if e.Data[i] != e.Data[i+1] {
			b.WriteByte('-')
			b.WriteString(escapeRune(rune(e.Data[i+1]), classEscapes))
		}
	}
	b.WriteByte(']')
	return b.String()
}

func escapeRune(r rune, custom map[rune]string) string {
	if custom != nil {
		if s, ok := custom[r]; ok {
			return s
		}
	}
	switch r {
	case '\n':
		return `\n`
	case '\r':
		return `\r`
	case '\t':
		return `\t`
	case '\\':
		return `\\`
	case '"':
		return `\"`
	case 0:
		return `\0`
	}
	if r < 0x20 || r == 0x7f {
		return fmt.Sprintf(`\x%02x`, r)
	}
	if r < 0x80 {
		return string(r)
	}
	if r <= 0xffff {
		return fmt.Sprintf(`\u%04X`, r)
	}
	return fmt.Sprintf(`\U%08X`, r)
}
