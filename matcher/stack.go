package matcher

import (
	"fmt"

	"github.com/nihei9/urubu/grammar"
)

// stackElement is one frame of the persistent matching stack. A frame pins a
// position inside one alternative of a rule body: seqID names the sequence
// expression, elemIdx the current element, and elemInString the byte offset
// when the element is a byte string. leftUTF8 counts continuation bytes still
// owed after a character class accepted a multibyte lead; while it is nonzero
// elemInString accumulates the partially decoded code point so that the
// completed character can be tested against the class ranges.
//
// Frames for tag dispatch rules reuse the fields: seqID is the tag dispatch
// expression, elemIdx the state of the trigger automaton, and elemInString
// the number of tags fired so far.
//
// parent is the arena index of the frame holding the rule reference this
// frame was expanded from, or nilIndex at the root. Frames are shared between
// stack tops and between snapshots, so they are reference counted.
type stackElement struct {
	ruleID       grammar.RuleID
	seqID        grammar.ExprID
	elemIdx      int32
	elemInString int32
	leftUTF8     int32
	parent       int32
	refCount     int32
}

const nilIndex = int32(-1)

// stackKey identifies a frame by content. Two tops with equal keys are the
// same matching state and must not both survive a step.
type stackKey struct {
	ruleID       grammar.RuleID
	seqID        grammar.ExprID
	elemIdx      int32
	elemInString int32
	leftUTF8     int32
	parent       int32
}

func (e stackElement) key() stackKey {
	return stackKey{
		ruleID:       e.ruleID,
		seqID:        e.seqID,
		elemIdx:      e.elemIdx,
		elemInString: e.elemInString,
		leftUTF8:     e.leftUTF8,
		parent:       e.parent,
	}
}

// stackArena owns all stack frames. Freed slots are recycled through a free
// list so long generations reuse memory instead of growing without bound.
type stackArena struct {
	elems []stackElement
	free  []int32
}

func newStackArena() *stackArena {
	return &stackArena{}
}

// alloc stores e with a reference count of one, held by the caller, and takes
// a reference to e's parent.
func (a *stackArena) alloc(e stackElement) int32 {
	e.refCount = 1
	a.addRef(e.parent)
	if n := len(a.free); n > 0 {
		i := a.free[n-1]
		a.free = a.free[:n-1]
		a.elems[i] = e
		return i
	}
	a.elems = append(a.elems, e)
	return int32(len(a.elems) - 1)
}

func (a *stackArena) at(i int32) stackElement {
	return a.elems[i]
}

func (a *stackArena) addRef(i int32) {
	if i == nilIndex {
		return
	}
	a.elems[i].refCount++
}

// release drops one reference. When the count reaches zero the slot is
// recycled and the reference to the parent is dropped as well, which can
// cascade up the chain.
func (a *stackArena) release(i int32) {
	for i != nilIndex {
		e := &a.elems[i]
		e.refCount--
		if e.refCount > 0 {
			return
		}
		if e.refCount < 0 {
			panic(fmt.Sprintf("stack frame %v released below zero", i))
		}
		parent := e.parent
		a.free = append(a.free, i)
		i = parent
	}
}

func (a *stackArena) releaseAll(tops []int32) {
	for _, i := range tops {
		a.release(i)
	}
}

func (a *stackArena) addRefAll(tops []int32) {
	for _, i := range tops {
		a.addRef(i)
	}
}

// liveFrames reports the number of frames currently allocated. Testing hook.
func (a *stackArena) liveFrames() int {
	return len(a.elems) - len(a.free)
}
