// Package regex compiles regular expressions into byte-level automata.
// Patterns always match the entire input. Multi-byte characters are expanded
// into UTF-8 byte sequences, so the resulting automaton needs no decoder.
package regex

import (
	"strings"
	uni "unicode/utf8"

	verr "github.com/nihei9/urubu/error"
	"github.com/nihei9/urubu/fsm"
	"github.com/nihei9/urubu/utf8"
)

// Regex is a compiled pattern. Lookahead is non-nil when the pattern ends
// with a (?=...) group; it constrains what may follow a match but is not
// part of the match itself.
type Regex struct {
	Body      *fsm.StartEnd
	Lookahead *fsm.StartEnd
}

func Parse(pattern string) (*Regex, error) {
	p := &parser{src: pattern}
	return p.parse()
}

type parser struct {
	src string
	pos int
}

type parseError struct {
	err error
}

func (p *parser) raise(format string, args ...interface{}) {
	panic(parseError{
		err: verr.NewAt(verr.KindParse, 1, p.pos+1, format, args...),
	})
}

func (p *parser) parse() (re *Regex, retErr error) {
	defer func() {
		v := recover()
		if v == nil {
			return
		}
		if pe, ok := v.(parseError); ok {
			re = nil
			retErr = pe.err
			return
		}
		panic(v)
	}()

	if p.peek() == '^' {
		p.pos++
	}
	re = &Regex{}
	re.Body = p.parseAlternation(re)
	if p.pos < len(p.src) {
		p.raise("unexpected character %q", p.src[p.pos])
	}
	return re, nil
}

func (p *parser) peek() byte {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) parseAlternation(re *Regex) *fsm.StartEnd {
	alts := []*fsm.StartEnd{p.parseConcat(re)}
	for p.peek() == '|' {
		p.pos++
		alts = append(alts, p.parseConcat(re))
	}
	if len(alts) == 1 {
		return alts[0]
	}
	return fsm.Union(alts)
}

func (p *parser) parseConcat(re *Regex) *fsm.StartEnd {
	var seq []*fsm.StartEnd
	for p.pos < len(p.src) {
		c := p.peek()
		if c == '|' || c == ')' {
			break
		}
		if c == '$' && p.pos == len(p.src)-1 {
			p.pos++
			break
		}
		seq = append(seq, p.parseRepeat(re))
	}
	return fsm.Concat(seq)
}

func (p *parser) parseRepeat(re *Regex) *fsm.StartEnd {
	atom := p.parseAtom(re)
	for p.pos < len(p.src) {
		switch p.peek() {
		case '*':
			p.pos++
			atom.Star()
		case '+':
			p.pos++
			atom.Plus()
		case '?':
			p.pos++
			atom.Optional()
		case '{':
			atom = p.parseBoundedRepeat(atom)
		default:
			return atom
		}
	}
	return atom
}

func (p *parser) parseBoundedRepeat(atom *fsm.StartEnd) *fsm.StartEnd {
	p.pos++ // '{'
	lo := p.parseInt()
	hi := lo
	if p.peek() == ',' {
		p.pos++
		if p.peek() == '}' {
			hi = -1
		} else {
			hi = p.parseInt()
		}
	}
	if p.peek() != '}' {
		p.raise("'}' is missing")
	}
	p.pos++
	if hi != -1 && hi < lo {
		p.raise("repetition bounds are inverted: {%v,%v}", lo, hi)
	}

	var seq []*fsm.StartEnd
	for i := 0; i < lo; i++ {
		seq = append(seq, atom)
	}
	if hi == -1 {
		// Concat copies its operands, so reusing atom is safe.
		star := fsm.Concat([]*fsm.StartEnd{atom})
		star.Star()
		seq = append(seq, star)
	} else {
		for i := lo; i < hi; i++ {
			opt := fsm.Concat([]*fsm.StartEnd{atom})
			opt.Optional()
			seq = append(seq, opt)
		}
	}
	return fsm.Concat(seq)
}

func (p *parser) parseInt() int {
	start := p.pos
	for p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
		p.pos++
	}
	if p.pos == start {
		p.raise("a number is expected")
	}
	if p.pos-start > 9 {
		p.raise("repetition count is too large")
	}
	n := 0
	for _, c := range p.src[start:p.pos] {
		n = n*10 + int(c-'0')
	}
	return n
}

func (p *parser) parseAtom(re *Regex) *fsm.StartEnd {
	switch p.peek() {
	case '(':
		return p.parseGroup(re)
	case '[':
		return p.parseCharClass()
	case '.':
		p.pos++
		// Any character other than a newline.
		return p.rangesToFSM([]charRange{{0, '\n' - 1}, {'\n' + 1, 0x10ffff}})
	case '*', '+', '?':
		p.raise("a quantifier needs a preceding expression")
	case '^', '$':
		p.raise("anchors are supported only at the pattern boundaries")
	case 0:
		p.raise("an expression is expected")
	}
	if p.peek() == '\\' {
		if ranges, ok := p.tryParseClassEscape(); ok {
			return p.rangesToFSM(ranges)
		}
	}
	r := p.parseCodepointOrEscape(false)
	return p.literalFSM(r)
}

func (p *parser) parseGroup(re *Regex) *fsm.StartEnd {
	p.pos++ // '('
	lookahead := false
	if strings.HasPrefix(p.src[p.pos:], "?:") {
		p.pos += 2
	} else if strings.HasPrefix(p.src[p.pos:], "?=") {
		p.pos += 2
		lookahead = true
	} else if p.peek() == '?' {
		p.raise("unsupported group modifier")
	}
	body := p.parseAlternation(re)
	if p.peek() != ')' {
		p.raise("')' is missing")
	}
	p.pos++
	if lookahead {
		if p.pos < len(p.src) {
			p.raise("a lookahead group may appear only at the end of the pattern")
		}
		if re.Lookahead != nil {
			p.raise("only one lookahead group is allowed")
		}
		re.Lookahead = body
		return fsm.Concat(nil)
	}
	return body
}

type charRange struct {
	lo, hi rune
}

func (p *parser) parseCharClass() *fsm.StartEnd {
	p.pos++ // '['
	negated := false
	if p.peek() == '^' {
		negated = true
		p.pos++
	}
	var ranges []charRange
	first := true
	for {
		if p.pos >= len(p.src) {
			p.raise("']' is missing")
		}
		if p.peek() == ']' && !first {
			p.pos++
			break
		}
		first = false
		if rs, ok := p.tryParseClassEscape(); ok {
			ranges = append(ranges, rs...)
			continue
		}
		lo := p.parseCodepointOrEscape(true)
		hi := lo
		if p.peek() == '-' && p.pos+1 < len(p.src) && p.src[p.pos+1] != ']' {
			p.pos++
			hi = p.parseCodepointOrEscape(true)
		}
		if hi < lo {
			p.raise("a range lower bound is greater than its upper bound")
		}
		ranges = append(ranges, charRange{lo, hi})
	}
	if len(ranges) == 0 {
		p.raise("a character class must not be empty")
	}
	if negated {
		ranges = complementRanges(ranges)
		if len(ranges) == 0 {
			p.raise("a negated character class matches nothing")
		}
	}
	return p.rangesToFSM(ranges)
}

// tryParseClassEscape handles the multi-character escapes \d \D \w \W \s \S.
func (p *parser) tryParseClassEscape() ([]charRange, bool) {
	if p.peek() != '\\' || p.pos+1 >= len(p.src) {
		return nil, false
	}
	var ranges []charRange
	switch p.src[p.pos+1] {
	case 'd':
		ranges = []charRange{{'0', '9'}}
	case 'w':
		ranges = []charRange{{'0', '9'}, {'A', 'Z'}, {'_', '_'}, {'a', 'z'}}
	case 's':
		ranges = []charRange{{'\t', '\r'}, {' ', ' '}}
	case 'D':
		ranges = complementRanges([]charRange{{'0', '9'}})
	case 'W':
		ranges = complementRanges([]charRange{{'0', '9'}, {'A', 'Z'}, {'_', '_'}, {'a', 'z'}})
	case 'S':
		ranges = complementRanges([]charRange{{'\t', '\r'}, {' ', ' '}})
	default:
		return nil, false
	}
	p.pos += 2
	return ranges, true
}

// parseCodepointOrEscape consumes one literal character or escape sequence.
func (p *parser) parseCodepointOrEscape(inClass bool) rune {
	if p.peek() != '\\' {
		r, size := uni.DecodeRuneInString(p.src[p.pos:])
		if r == uni.RuneError && size < 2 {
			p.raise("the pattern is not valid UTF-8")
		}
		p.pos += size
		return r
	}
	p.pos++
	if p.pos >= len(p.src) {
		p.raise("an escape sequence is incomplete")
	}
	c := p.src[p.pos]
	p.pos++
	switch c {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case 'b':
		return '\b'
	case 'f':
		return '\f'
	case 'a':
		return '\a'
	case 'v':
		return '\v'
	case '0':
		return 0
	case 'e':
		return 0x1b
	case 'x':
		return p.parseHexEscape(2)
	case 'u':
		return p.parseHexEscape(4)
	case 'U':
		return p.parseHexEscape(8)
	}
	// Any other escaped character stands for itself. This covers the
	// metacharacters and the class-only specials like '-' and ']'.
	return rune(c)
}

func (p *parser) parseHexEscape(digits int) rune {
	if p.pos+digits > len(p.src) {
		p.raise("a hex escape sequence is incomplete")
	}
	var v rune
	for i := 0; i < digits; i++ {
		c := p.src[p.pos+i]
		switch {
		case c >= '0' && c <= '9':
			v = v<<4 | rune(c-'0')
		case c >= 'a' && c <= 'f':
			v = v<<4 | rune(c-'a'+10)
		case c >= 'A' && c <= 'F':
			v = v<<4 | rune(c-'A'+10)
		default:
			p.raise("a hex escape sequence contains an invalid digit %q", c)
		}
	}
	if v > 0x10ffff {
		p.raise("a code point must be in the range U+0000 to U+10FFFF")
	}
	p.pos += digits
	return v
}

// complementRanges returns the complement of the given ranges within the
// code point space.
func complementRanges(ranges []charRange) []charRange {
	merged := mergeRanges(ranges)
	var out []charRange
	next := rune(0)
	for _, r := range merged {
		if r.lo > next {
			out = append(out, charRange{next, r.lo - 1})
		}
		if r.hi+1 > next {
			next = r.hi + 1
		}
	}
	if next <= 0x10ffff {
		out = append(out, charRange{next, 0x10ffff})
	}
	return out
}

func mergeRanges(ranges []charRange) []charRange {
	sorted := make([]charRange, len(ranges))
	copy(sorted, ranges)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].lo < sorted[j-1].lo; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	var out []charRange
	for _, r := range sorted {
		if len(out) > 0 && r.lo <= out[len(out)-1].hi+1 {
			if r.hi > out[len(out)-1].hi {
				out[len(out)-1].hi = r.hi
			}
			continue
		}
		out = append(out, r)
	}
	return out
}

// literalFSM builds the automaton matching exactly one character.
func (p *parser) literalFSM(r rune) *fsm.StartEnd {
	var buf [4]byte
	n := uni.EncodeRune(buf[:], r)
	f := fsm.NewFSM(n + 1)
	se := fsm.NewStartEnd(f, 0)
	for i := 0; i < n; i++ {
		f.AddEdge(int32(i), int32(i+1), int16(buf[i]), int16(buf[i]))
	}
	se.AddEnd(int32(n))
	return se
}

// rangesToFSM builds the automaton matching exactly one character from the
// given ranges, expanded into UTF-8 byte sequences.
func (p *parser) rangesToFSM(ranges []charRange) *fsm.StartEnd {
	f := fsm.NewFSM(2)
	se := fsm.NewStartEnd(f, 0)
	se.AddEnd(1)
	for _, r := range mergeRanges(ranges) {
		blocks, err := utf8.GenCharBlocks(r.lo, r.hi)
		if err != nil {
			p.raise("%v", err)
		}
		for _, blk := range blocks {
			state := int32(0)
			for i := 0; i < len(blk.From); i++ {
				next := int32(1)
				if i < len(blk.From)-1 {
					next = f.AddState()
				}
				f.AddEdge(state, next, int16(blk.From[i]), int16(blk.To[i]))
				state = next
			}
		}
	}
	return se
}
