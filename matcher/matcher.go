// Package matcher drives grammar-constrained token generation. A Matcher
// tracks all viable derivations of the bytes accepted so far on a persistent
// stack and can report, for every vocabulary token, whether appending it
// keeps the text derivable.
package matcher

import (
	verr "github.com/nihei9/urubu/error"
	"github.com/nihei9/urubu/grammar"
)

const defaultMaxRollbackSteps = 32

// maxJumpForwardLen bounds FindJumpForwardString so a grammar that forces an
// unbounded byte sequence cannot spin forever.
const maxJumpForwardLen = 1024

type snapshot struct {
	tops          []int32
	rootCompleted bool
	terminated    bool
}

type config struct {
	maxRollbackSteps int
}

type Option func(*config)

// WithMaxRollbackSteps sets how many accepted tokens can be undone through
// Rollback. Older snapshots beyond the window are discarded.
func WithMaxRollbackSteps(n int) Option {
	return func(c *config) {
		c.maxRollbackSteps = n
	}
}

// Matcher is the stateful matching engine for one generation. It is not safe
// for concurrent use; share the CompiledGrammar instead and give each
// generation its own Matcher.
type Matcher struct {
	cg      *CompiledGrammar
	m       *machine
	history []snapshot
	maxRB   int
	scratch []uint32
}

func NewMatcher(cg *CompiledGrammar, opts ...Option) (*Matcher, error) {
	cfg := config{maxRollbackSteps: defaultMaxRollbackSteps}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.maxRollbackSteps < 0 {
		return nil, verr.New(verr.KindMatcher, "max rollback steps must not be negative: %v", cfg.maxRollbackSteps)
	}
	m := &Matcher{
		cg:      cg,
		m:       newMachine(cg.g, cg.dispatch),
		maxRB:   cfg.maxRollbackSteps,
		scratch: make([]uint32, cg.words),
	}
	if err := m.pushInitial(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Matcher) pushInitial() error {
	w := m.m.initialWave(m.cg.g.RootRuleID())
	if w.err != nil {
		m.m.arena.releaseAll(w.tops)
		return w.err
	}
	m.history = append(m.history, snapshot{
		tops:          w.tops,
		rootCompleted: w.rootCompleted,
	})
	return nil
}

func (m *Matcher) cur() *snapshot {
	return &m.history[len(m.history)-1]
}

func (m *Matcher) IsTerminated() bool {
	return m.cur().terminated
}

// canTerminate reports whether a stop token is acceptable now, that is, the
// bytes accepted so far form a complete match of the root rule.
func (m *Matcher) canTerminate() bool {
	return m.cur().rootCompleted && !m.cg.lookaheadBlocksStop
}

func (m *Matcher) commit(s snapshot) {
	m.history = append(m.history, s)
	if len(m.history) > m.maxRB+1 {
		m.m.arena.releaseAll(m.history[0].tops)
		copy(m.history, m.history[1:])
		m.history = m.history[:len(m.history)-1]
	}
}

// AcceptToken feeds one vocabulary token to the matcher. It returns false,
// leaving the state untouched, when the token is not derivable. Accepting a
// stop token terminates the matcher.
func (m *Matcher) AcceptToken(id int32) (bool, error) {
	if id < 0 || int(id) >= m.cg.vocab.Size() {
		return false, verr.New(verr.KindMatcher, "token id %v is out of range", id)
	}
	if m.IsTerminated() {
		return false, verr.New(verr.KindMatcher, "matcher is already terminated")
	}
	if m.cg.vocab.IsStop(id) {
		if !m.canTerminate() {
			return false, nil
		}
		cur := m.cur()
		m.m.arena.addRefAll(cur.tops)
		tops := make([]int32, len(cur.tops))
		copy(tops, cur.tops)
		m.commit(snapshot{tops: tops, rootCompleted: cur.rootCompleted, terminated: true})
		return true, nil
	}
	return m.acceptBytes(m.cg.vocab.Token(id))
}

// AcceptBytes feeds raw bytes as a single undoable step.
func (m *Matcher) AcceptBytes(b []byte) (bool, error) {
	if m.IsTerminated() {
		return false, verr.New(verr.KindMatcher, "matcher is already terminated")
	}
	return m.acceptBytes(b)
}

func (m *Matcher) acceptBytes(b []byte) (bool, error) {
	cur := m.cur()
	tops := cur.tops
	borrowed := true
	rc := cur.rootCompleted
	for i := 0; i < len(b); i++ {
		next, nrc, err := m.m.step(tops, b[i])
		if !borrowed {
			m.m.arena.releaseAll(tops)
		}
		if err != nil {
			return false, err
		}
		tops = next
		borrowed = false
		rc = nrc
		if len(next) == 0 {
			if nrc && i == len(b)-1 {
				break
			}
			m.m.arena.releaseAll(next)
			return false, nil
		}
	}
	if borrowed {
		m.m.arena.addRefAll(tops)
		cp := make([]int32, len(tops))
		copy(cp, tops)
		tops = cp
	}
	m.commit(snapshot{tops: tops, rootCompleted: rc})
	return true, nil
}

// Rollback undoes the last numTokens accepted steps, including a terminating
// stop token. The rollback window is bounded; see WithMaxRollbackSteps.
func (m *Matcher) Rollback(numTokens int) error {
	if numTokens < 0 {
		return verr.New(verr.KindMatcher, "rollback count must not be negative: %v", numTokens)
	}
	if numTokens > len(m.history)-1 {
		return verr.New(verr.KindMatcher, "cannot roll back %v steps: only %v retained", numTokens, len(m.history)-1)
	}
	for ; numTokens > 0; numTokens-- {
		last := len(m.history) - 1
		m.m.arena.releaseAll(m.history[last].tops)
		m.history = m.history[:last]
	}
	return nil
}

// Reset discards all accepted input and returns the matcher to its initial
// state.
func (m *Matcher) Reset() error {
	for _, s := range m.history {
		m.m.arena.releaseAll(s.tops)
	}
	m.history = m.history[:0]
	return m.pushInitial()
}

// FillNextTokenBitmask writes the set of currently acceptable tokens into
// mask, one bit per token id. It returns true when every vocabulary token is
// acceptable, in which case the caller may skip applying the mask.
func (m *Matcher) FillNextTokenBitmask(mask []uint32) (bool, error) {
	if len(mask) < m.cg.words {
		return false, verr.New(verr.KindMatcher, "bitmask needs %v words, got %v", m.cg.words, len(mask))
	}
	for i := 0; i < m.cg.words; i++ {
		mask[i] = 0
	}
	canTerm := m.canTerminate()
	if m.IsTerminated() {
		// Only the stop token remains representable after termination.
		for i := 0; i < m.cg.words; i++ {
			mask[i] = m.cg.stopMask[i]
		}
		return false, nil
	}

	cur := m.cur()
	type uncertainSet struct {
		top    int32
		tokens []int32
	}
	var pending []uncertainSet
	dispatchAll := false
	for _, ti := range cur.tops {
		e := m.m.arena.at(ti)
		if _, ok := m.cg.dispatch[e.seqID]; ok {
			for i := 0; i < m.cg.words; i++ {
				mask[i] |= m.cg.fullMask[i]
			}
			dispatchAll = true
			continue
		}
		pos := position{seqID: e.seqID, elemIdx: e.elemIdx, elemInString: e.elemInString}
		num, ok := m.cg.rowOf[pos]
		if e.leftUTF8 > 0 || !ok {
			// Mid-character tops have no precomputed row; check every
			// token against this top individually.
			pending = append(pending, uncertainSet{top: ti, tokens: nil})
			continue
		}
		row := &m.cg.rows[num]
		if row.storeRejected {
			copy(m.scratch, m.cg.fullMask)
			for _, id := range row.tokens {
				clearBit(m.scratch, id)
			}
			for _, id := range row.uncertain {
				clearBit(m.scratch, id)
			}
			for i := 0; i < m.cg.words; i++ {
				mask[i] |= m.scratch[i]
			}
		} else {
			for _, id := range row.tokens {
				setBit(mask, id)
			}
		}
		if len(row.uncertain) > 0 {
			pending = append(pending, uncertainSet{top: ti, tokens: row.uncertain})
		}
	}
	if !dispatchAll {
		for _, p := range pending {
			if p.tokens == nil {
				for id := int32(0); id < int32(m.cg.vocab.Size()); id++ {
					if m.cg.vocab.IsStop(id) || testBit(mask, id) {
						continue
					}
					ok, _, err := m.m.simulate([]int32{p.top}, m.cg.vocab.Token(id))
					if err != nil {
						return false, err
					}
					if ok {
						setBit(mask, id)
					}
				}
				continue
			}
			for _, id := range p.tokens {
				if testBit(mask, id) {
					continue
				}
				ok, _, err := m.m.simulate([]int32{p.top}, m.cg.vocab.Token(id))
				if err != nil {
					return false, err
				}
				if ok {
					setBit(mask, id)
				}
			}
		}
	}
	if canTerm {
		for i := 0; i < m.cg.words; i++ {
			mask[i] |= m.cg.stopMask[i]
		}
	}
	allAccept := true
	for i := 0; i < m.cg.words; i++ {
		want := m.cg.fullMask[i]
		if canTerm {
			want |= m.cg.stopMask[i]
		}
		if mask[i]&want != want || !canTerm && m.cg.stopMask[i] != 0 {
			allAccept = false
			break
		}
	}
	return allAccept, nil
}

// FindJumpForwardString returns the longest byte sequence the grammar forces
// next. Decoding can append it verbatim without sampling. The result is
// empty whenever more than one byte is currently acceptable.
func (m *Matcher) FindJumpForwardString() (string, error) {
	if m.IsTerminated() {
		return "", nil
	}
	cur := m.cur()
	tops := cur.tops
	rc := cur.rootCompleted
	borrowed := true
	var buf []byte
	defer func() {
		if !borrowed {
			m.m.arena.releaseAll(tops)
		}
	}()
	for len(buf) < maxJumpForwardLen {
		if rc || len(tops) == 0 {
			break
		}
		forced := int32(-1)
		for _, ti := range tops {
			e := m.m.arena.at(ti)
			b, ok := m.forcedByte(e)
			if !ok || (forced >= 0 && forced != int32(b)) {
				forced = -1
				break
			}
			forced = int32(b)
		}
		if forced < 0 {
			break
		}
		next, nrc, err := m.m.step(tops, byte(forced))
		if err != nil {
			return "", err
		}
		if !borrowed {
			m.m.arena.releaseAll(tops)
		}
		tops = next
		rc = nrc
		borrowed = false
		buf = append(buf, byte(forced))
	}
	return string(buf), nil
}

// forcedByte returns the single byte the top can accept, if there is exactly
// one.
func (m *Matcher) forcedByte(e stackElement) (byte, bool) {
	if _, ok := m.cg.dispatch[e.seqID]; ok {
		return 0, false
	}
	if e.leftUTF8 > 0 {
		return 0, false
	}
	seq := m.cg.g.Expr(e.seqID)
	elem := m.cg.g.Expr(grammar.ExprID(seq.Data[e.elemIdx]))
	switch elem.Type {
	case grammar.ExprTypeByteString:
		return byte(elem.Data[e.elemInString]), true
	case grammar.ExprTypeCharacterClass, grammar.ExprTypeCharacterClassStar:
		if elem.Data[0] != 0 {
			return 0, false
		}
		forced := int32(-1)
		for i := 1; i+1 < len(elem.Data); i += 2 {
			lo, hi := elem.Data[i], elem.Data[i+1]
			if hi > 0x7f {
				// Multibyte characters open more than one next byte.
				return 0, false
			}
			if lo != hi || (forced >= 0 && forced != lo) {
				return 0, false
			}
			forced = lo
		}
		if forced < 0 {
			return 0, false
		}
		return byte(forced), true
	}
	return 0, false
}
