package fsm

import (
	"strings"

	verr "github.com/nihei9/urubu/error"
)

// BuildTrie builds a trie accepting exactly the given patterns and returns
// it along with the accepting state of each pattern. Empty patterns are
// rejected. When allowOverlap is false, a pattern that is a prefix of
// another (or a duplicate) is also rejected.
func BuildTrie(patterns []string, allowOverlap bool) (*StartEnd, []int32, error) {
	f := NewFSM(1)
	se := NewStartEnd(f, 0)
	children := []map[byte]int32{{}}
	endOf := make([]int32, len(patterns))
	for i, pat := range patterns {
		if pat == "" {
			return nil, nil, verr.New(verr.KindValidation, "pattern #%v is empty", i)
		}
		state := int32(0)
		for j := 0; j < len(pat); j++ {
			b := pat[j]
			next, ok := children[state][b]
			if !ok {
				next = f.AddState()
				children = append(children, map[byte]int32{})
				children[state][b] = next
				f.AddEdge(state, next, int16(b), int16(b))
			}
			state = next
		}
		if !allowOverlap && se.IsEnd(state) {
			return nil, nil, verr.New(verr.KindValidation, "pattern %q occurs more than once", pat)
		}
		se.AddEnd(state)
		endOf[i] = state
	}
	if !allowOverlap {
		for i, pat := range patterns {
			if len(children[endOf[i]]) > 0 {
				return nil, nil, verr.New(verr.KindValidation, "pattern %q is a prefix of another pattern", pat)
			}
		}
	}
	return se, endOf, nil
}

// TagDispatch is an Aho-Corasick automaton over a set of trigger strings.
// Its transition function is total, so scanning never gets stuck; reaching a
// state with a trigger attached means that trigger just ended at the current
// byte.
type TagDispatch struct {
	fsm      *CompactFSM
	triggers []int32
}

// BuildTagDispatch builds the dispatch automaton. Triggers must be
// non-empty and no trigger may be a prefix of another.
func BuildTagDispatch(triggers []string) (*TagDispatch, error) {
	if len(triggers) == 0 {
		return nil, verr.New(verr.KindValidation, "at least one trigger is required")
	}
	for i, t := range triggers {
		if t == "" {
			return nil, verr.New(verr.KindValidation, "trigger #%v is empty", i)
		}
		for j, u := range triggers {
			if i != j && strings.HasPrefix(u, t) {
				return nil, verr.New(verr.KindValidation, "trigger %q is a prefix of trigger %q", t, u)
			}
		}
	}

	// Trie pass.
	children := []map[byte]int32{{}}
	triggerAt := []int32{-1}
	for i, t := range triggers {
		state := int32(0)
		for j := 0; j < len(t); j++ {
			b := t[j]
			next, ok := children[state][b]
			if !ok {
				next = int32(len(children))
				children[state][b] = next
				children = append(children, map[byte]int32{})
				triggerAt = append(triggerAt, -1)
			}
			state = next
		}
		triggerAt[state] = int32(i)
	}

	// Failure links by BFS, inheriting trigger outputs along the links.
	fail := make([]int32, len(children))
	var queue []int32
	for _, child := range children[0] {
		queue = append(queue, child)
	}
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		for b, child := range children[s] {
			f := fail[s]
			for {
				if next, ok := children[f][b]; ok {
					fail[child] = next
					break
				}
				if f == 0 {
					break
				}
				f = fail[f]
			}
			queue = append(queue, child)
		}
	}
	for _, s := range bfsOrder(children) {
		if triggerAt[s] == -1 {
			triggerAt[s] = triggerAt[fail[s]]
		}
	}

	// Totalize: the transition for a byte without a trie edge follows the
	// failure chain, bottoming out at the root.
	next := func(s int32, b byte) int32 {
		for {
			if child, ok := children[s][b]; ok {
				return child
			}
			if s == 0 {
				return 0
			}
			s = fail[s]
		}
	}
	f := NewFSM(len(children))
	for s := int32(0); int(s) < len(children); s++ {
		b := 0
		for b < 256 {
			t := next(s, byte(b))
			lo := b
			for b < 256 && next(s, byte(b)) == t {
				b++
			}
			f.AddEdge(s, t, int16(lo), int16(b-1))
		}
	}
	return &TagDispatch{
		fsm:      f.Compact(),
		triggers: triggerAt,
	}, nil
}

func bfsOrder(children []map[byte]int32) []int32 {
	order := []int32{0}
	for i := 0; i < len(order); i++ {
		for _, child := range children[order[i]] {
			order = append(order, child)
		}
	}
	return order
}

func (d *TagDispatch) Start() int32 {
	return 0
}

func (d *TagDispatch) NumStates() int {
	return d.fsm.NumStates()
}

// Next returns the state reached by reading ch. The transition function is
// total.
func (d *TagDispatch) Next(state int32, ch uint8) int32 {
	t := d.fsm.Transition(state, ch)
	if t == -1 {
		return 0
	}
	return t
}

// TriggerAt returns the index of the trigger ending at state, or -1.
func (d *TagDispatch) TriggerAt(state int32) int32 {
	return d.triggers[state]
}
