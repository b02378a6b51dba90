package matcher

import (
	verr "github.com/nihei9/urubu/error"
	"github.com/nihei9/urubu/fsm"
	"github.com/nihei9/urubu/grammar"
	"github.com/npillmayer/schuko/tracing"
)

func tracer() tracing.Trace {
	return tracing.Select("urubu.matcher")
}

// dispatchInfo carries the runtime form of one tag dispatch expression: the
// trigger automaton and the tag group rule fired by each trigger.
type dispatchInfo struct {
	aut            *fsm.TagDispatch
	ruleOf         []grammar.RuleID
	atLeastOne     bool
	stopAfterFirst bool
}

// maxWaveWork caps the number of frames one epsilon expansion may visit.
// Left recursion is rejected at compile time, so hitting the cap indicates a
// pathologically ambiguous grammar rather than a loop.
const maxWaveWork = 1 << 17

// machine evaluates a normalized grammar over a persistent stack. It has no
// notion of tokens; it advances sets of stack tops one byte at a time.
type machine struct {
	g        *grammar.Grammar
	dispatch map[grammar.ExprID]*dispatchInfo
	arena    *stackArena
}

func newMachine(g *grammar.Grammar, dispatch map[grammar.ExprID]*dispatchInfo) *machine {
	return &machine{
		g:        g,
		dispatch: dispatch,
		arena:    newStackArena(),
	}
}

// wave collects the stack tops produced by one expansion pass. rootCompleted
// records that some path popped the bottom of the stack, that is, the whole
// input consumed so far forms a complete match.
type wave struct {
	tops          []int32
	seen          map[stackKey]struct{}
	rootCompleted bool
	work          int
	err           error
}

func newWave() *wave {
	return &wave{seen: map[stackKey]struct{}{}}
}

func (m *machine) emit(ei int32, w *wave) {
	m.arena.addRef(ei)
	w.tops = append(w.tops, ei)
}

// pushExpand stores e in the arena and expands it to the stack tops reachable
// without consuming input. Duplicate frames within one wave are dropped.
func (m *machine) pushExpand(e stackElement, w *wave) {
	if w.err != nil {
		return
	}
	k := e.key()
	if _, ok := w.seen[k]; ok {
		return
	}
	w.seen[k] = struct{}{}
	w.work++
	if w.work > maxWaveWork {
		w.err = verr.New(verr.KindBudget, "expansion budget exceeded: %v frames", maxWaveWork)
		return
	}
	ei := m.arena.alloc(e)
	m.expandAt(ei, w)
	m.arena.release(ei)
}

// expandAt turns the frame at ei into zero or more stack tops. A frame
// sitting on a byte string or character class is a top itself. Rule
// references expand into child frames, skippable elements expand past
// themselves, and a frame at the end of its sequence returns to its parent.
func (m *machine) expandAt(ei int32, w *wave) {
	e := m.arena.at(ei)
	if di, ok := m.dispatch[e.seqID]; ok {
		m.emit(ei, w)
		if !di.atLeastOne || e.elemInString > 0 {
			m.advanceParent(e.parent, w)
		}
		return
	}
	seq := m.g.Expr(e.seqID)
	if int(e.elemIdx) >= seq.Len() {
		m.advanceParent(e.parent, w)
		return
	}
	elem := m.g.Expr(grammar.ExprID(seq.Data[e.elemIdx]))
	switch elem.Type {
	case grammar.ExprTypeByteString:
		if elem.Len() == 0 {
			succ := e
			succ.elemIdx++
			succ.elemInString = 0
			m.pushExpand(succ, w)
			return
		}
		m.emit(ei, w)
	case grammar.ExprTypeCharacterClass:
		m.emit(ei, w)
	case grammar.ExprTypeCharacterClassStar:
		m.emit(ei, w)
		if e.leftUTF8 == 0 {
			succ := e
			succ.elemIdx++
			m.pushExpand(succ, w)
		}
	case grammar.ExprTypeRuleRef:
		m.expandRuleRef(grammar.RuleID(elem.Data[0]), ei, w)
	default:
		w.err = verr.New(verr.KindMatcher, "unexpected element type %v in normalized grammar", elem.Type)
	}
}

// expandRuleRef expands the body of target into child frames whose parent is
// the frame at parentIdx. An empty-string alternative means the rule can
// match nothing, so the parent advances instead.
func (m *machine) expandRuleRef(target grammar.RuleID, parentIdx int32, w *wave) {
	body := m.g.Expr(m.g.Rule(target).BodyExprID)
	if body.Type == grammar.ExprTypeTagDispatch {
		m.pushExpand(stackElement{
			ruleID: target,
			seqID:  m.g.Rule(target).BodyExprID,
			parent: parentIdx,
		}, w)
		return
	}
	for _, alt := range body.Data {
		altExpr := m.g.Expr(grammar.ExprID(alt))
		if altExpr.Type == grammar.ExprTypeEmptyStr {
			m.advanceParent(parentIdx, w)
			continue
		}
		m.pushExpand(stackElement{
			ruleID: target,
			seqID:  grammar.ExprID(alt),
			parent: parentIdx,
		}, w)
	}
}

// advanceParent resumes the frame at pi after one of its children matched
// completely. At the bottom of the stack the whole match is complete.
func (m *machine) advanceParent(pi int32, w *wave) {
	if pi == nilIndex {
		w.rootCompleted = true
		return
	}
	p := m.arena.at(pi)
	if _, ok := m.dispatch[p.seqID]; ok {
		// The stored frame already encodes the resumed dispatch state.
		m.pushExpand(p, w)
		return
	}
	succ := p
	succ.elemIdx++
	succ.elemInString = 0
	m.pushExpand(succ, w)
}

// initialWave expands the root rule into the initial stack tops.
func (m *machine) initialWave(root grammar.RuleID) *wave {
	w := newWave()
	m.expandRuleRef(root, nilIndex, w)
	return w
}

// step advances every top over one input byte and returns the new tops. The
// input tops are borrowed, not consumed. Empty output with rootCompleted
// false means the byte is not derivable from any top.
func (m *machine) step(tops []int32, b byte) ([]int32, bool, error) {
	w := newWave()
	for _, ti := range tops {
		m.advanceTop(ti, b, w)
		if w.err != nil {
			break
		}
	}
	if w.err != nil {
		m.arena.releaseAll(w.tops)
		return nil, false, w.err
	}
	return w.tops, w.rootCompleted, nil
}

func (m *machine) advanceTop(ti int32, b byte, w *wave) {
	e := m.arena.at(ti)
	if di, ok := m.dispatch[e.seqID]; ok {
		m.advanceDispatch(e, di, b, w)
		return
	}
	seq := m.g.Expr(e.seqID)
	elem := m.g.Expr(grammar.ExprID(seq.Data[e.elemIdx]))
	switch elem.Type {
	case grammar.ExprTypeByteString:
		if byte(elem.Data[e.elemInString]) != b {
			return
		}
		succ := e
		if int(e.elemInString)+1 < elem.Len() {
			succ.elemInString++
		} else {
			succ.elemIdx++
			succ.elemInString = 0
		}
		m.pushExpand(succ, w)
	case grammar.ExprTypeCharacterClass, grammar.ExprTypeCharacterClassStar:
		star := elem.Type == grammar.ExprTypeCharacterClassStar
		negated := elem.Data[0] != 0
		if e.leftUTF8 > 0 {
			if b&0xc0 != 0x80 {
				return
			}
			succ := e
			succ.leftUTF8--
			succ.elemInString = e.elemInString<<6 | int32(b&0x3f)
			if succ.leftUTF8 > 0 {
				m.pushExpand(succ, w)
				return
			}
			// The character is complete; only now can it be tested against
			// the ranges.
			if inClassRanges(elem.Data[1:], succ.elemInString) == negated {
				return
			}
			succ.elemInString = 0
			if !star {
				succ.elemIdx++
			}
			m.pushExpand(succ, w)
			return
		}
		if b < 0x80 {
			if inClassRanges(elem.Data[1:], int32(b)) == negated {
				return
			}
			succ := e
			if !star {
				succ.elemIdx++
			}
			m.pushExpand(succ, w)
			return
		}
		n := continuationBytes(b)
		if n < 0 {
			return
		}
		succ := e
		succ.leftUTF8 = n
		succ.elemInString = int32(b) & int32(0x3f>>n)
		m.pushExpand(succ, w)
	}
}

// advanceDispatch consumes one byte inside a tag dispatch. Any byte is
// acceptable; when the trigger automaton completes a trigger, matching
// commits to the fired tag group.
func (m *machine) advanceDispatch(e stackElement, di *dispatchInfo, b byte, w *wave) {
	next := di.aut.Next(e.elemIdx, b)
	trig := di.aut.TriggerAt(next)
	if trig < 0 {
		succ := e
		succ.elemIdx = next
		m.pushExpand(succ, w)
		return
	}
	if di.stopAfterFirst {
		m.expandRuleRef(di.ruleOf[trig], e.parent, w)
		return
	}
	resumed := e
	resumed.elemIdx = di.aut.Start()
	resumed.elemInString++
	pr := m.arena.alloc(resumed)
	m.expandRuleRef(di.ruleOf[trig], pr, w)
	m.arena.release(pr)
}

// simulate runs the bytes of one token over borrowed tops without keeping the
// result. It reports whether the token is acceptable and whether any prefix
// of it completed the whole match.
func (m *machine) simulate(tops []int32, tok []byte) (accepted, sawComplete bool, err error) {
	cur := tops
	borrowed := true
	accepted = true
	for i := 0; i < len(tok); i++ {
		next, rc, serr := m.step(cur, tok[i])
		if !borrowed {
			m.arena.releaseAll(cur)
		}
		if serr != nil {
			return false, false, serr
		}
		cur = next
		borrowed = false
		if rc {
			sawComplete = true
		}
		if len(next) == 0 {
			accepted = rc && i == len(tok)-1
			break
		}
	}
	if !borrowed {
		m.arena.releaseAll(cur)
	}
	return accepted, sawComplete, nil
}

func inClassRanges(ranges []int32, c int32) bool {
	for i := 0; i+1 < len(ranges); i += 2 {
		if c >= ranges[i] && c <= ranges[i+1] {
			return true
		}
	}
	return false
}

// continuationBytes returns how many continuation bytes follow the UTF-8 lead
// byte b, or -1 when b cannot start a character.
func continuationBytes(b byte) int32 {
	switch {
	case b >= 0xc2 && b <= 0xdf:
		return 1
	case b >= 0xe0 && b <= 0xef:
		return 2
	case b >= 0xf0 && b <= 0xf4:
		return 3
	}
	return -1
}
