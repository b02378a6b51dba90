// Package fsm implements finite-state machines over bytes. Edges carry
// inclusive byte ranges; two reserved label shapes encode epsilon edges and
// references to grammar rules. The mutable FSM is used during construction,
// while CompactFSM is the read-optimized form the runtime walks.
package fsm

import (
	"sort"

	"github.com/npillmayer/schuko/tracing"

	"github.com/nihei9/urubu/fsm/graph"
)

// tracer traces with key 'urubu.fsm'.
func tracer() tracing.Trace {
	return tracing.Select("urubu.fsm")
}

// Edge is a transition. Min == Max == -1 marks an epsilon edge. Min == -1
// with Max >= 0 marks a reference to the grammar rule whose ID is Max.
// Otherwise 0 <= Min <= Max <= 255 and the edge matches that byte range.
type Edge struct {
	Min    int16
	Max    int16
	Target int32
}

func (e Edge) IsEpsilon() bool   { return e.Min == -1 && e.Max == -1 }
func (e Edge) IsRuleRef() bool   { return e.Min == -1 && e.Max >= 0 }
func (e Edge) IsCharRange() bool { return e.Min >= 0 }

// RuleID is meaningful only when IsRuleRef reports true.
func (e Edge) RuleID() int32 { return int32(e.Max) }

func packLabel(min, max int16) int32 {
	return int32(uint32(uint16(min))<<16 | uint32(uint16(max)))
}

func unpackLabel(label int32) (min, max int16) {
	return int16(uint16(label >> 16)), int16(uint16(label))
}

// FSM is a mutable automaton backed by an intrusive graph. Because edges are
// prepended, out-edge iteration visits the most recently added edge first.
type FSM struct {
	g *graph.Graph

	closureMemo map[int32][]int32
}

func NewFSM(numStates int) *FSM {
	f := &FSM{
		g: graph.New(),
	}
	for i := 0; i < numStates; i++ {
		f.g.AddNode()
	}
	return f
}

func (f *FSM) NumStates() int {
	return f.g.NumNodes()
}

func (f *FSM) NumEdges() int {
	return f.g.NumEdges()
}

func (f *FSM) AddState() int32 {
	f.closureMemo = nil
	return f.g.AddNode()
}

func (f *FSM) AddEdge(from, to int32, min, max int16) {
	if min < 0 || max > 255 || min > max {
		panic("byte range out of bounds")
	}
	f.closureMemo = nil
	f.g.AddEdge(from, to, packLabel(min, max))
}

func (f *FSM) AddEpsilonEdge(from, to int32) {
	f.closureMemo = nil
	f.g.AddEdge(from, to, packLabel(-1, -1))
}

func (f *FSM) AddRuleEdge(from, to int32, ruleID int16) {
	if ruleID < 0 {
		panic("rule ID out of bounds")
	}
	f.closureMemo = nil
	f.g.AddEdge(from, to, packLabel(-1, ruleID))
}

// VisitOutEdges calls visit for each out-edge of state, most recently added
// first, until visit returns false.
func (f *FSM) VisitOutEdges(state int32, visit func(e Edge) bool) {
	for e := f.g.FirstOutEdge(state); e != graph.Nil; e = f.g.NextOutEdge(e) {
		edge := f.g.Edge(e)
		min, max := unpackLabel(edge.Label)
		if !visit(Edge{Min: min, Max: max, Target: edge.Dst}) {
			return
		}
	}
}

func (f *FSM) OutEdges(state int32) []Edge {
	var es []Edge
	f.VisitOutEdges(state, func(e Edge) bool {
		es = append(es, e)
		return true
	})
	return es
}

// HasRuleEdge reports whether any state references a grammar rule.
func (f *FSM) HasRuleEdge() bool {
	for s := int32(0); int(s) < f.NumStates(); s++ {
		found := false
		f.VisitOutEdges(s, func(e Edge) bool {
			if e.IsRuleRef() {
				found = true
				return false
			}
			return true
		})
		if found {
			return true
		}
	}
	return false
}

// closureOfState returns the epsilon closure of a single state, memoized
// until the next mutation.
func (f *FSM) closureOfState(state int32) []int32 {
	if c, ok := f.closureMemo[state]; ok {
		return c
	}
	visited := map[int32]struct{}{state: {}}
	stack := []int32{state}
	closure := []int32{state}
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		f.VisitOutEdges(s, func(e Edge) bool {
			if e.IsEpsilon() {
				if _, ok := visited[e.Target]; !ok {
					visited[e.Target] = struct{}{}
					closure = append(closure, e.Target)
					stack = append(stack, e.Target)
				}
			}
			return true
		})
	}
	sort.Slice(closure, func(i, j int) bool { return closure[i] < closure[j] })
	if f.closureMemo == nil {
		f.closureMemo = map[int32][]int32{}
	}
	f.closureMemo[state] = closure
	return closure
}

// EpsilonClosure returns the sorted, deduplicated epsilon closure of the
// given states.
func (f *FSM) EpsilonClosure(states []int32) []int32 {
	set := map[int32]struct{}{}
	for _, s := range states {
		for _, c := range f.closureOfState(s) {
			set[c] = struct{}{}
		}
	}
	return sortedStates(set)
}

// Advance returns the epsilon closure of the states reachable from the given
// (already closed) states by reading ch.
func (f *FSM) Advance(states []int32, ch uint8) []int32 {
	set := map[int32]struct{}{}
	for _, s := range states {
		f.VisitOutEdges(s, func(e Edge) bool {
			if e.IsCharRange() && int16(ch) >= e.Min && int16(ch) <= e.Max {
				set[e.Target] = struct{}{}
			}
			return true
		})
	}
	return f.EpsilonClosure(sortedStates(set))
}

// AdvanceRule is Advance for rule-reference edges.
func (f *FSM) AdvanceRule(states []int32, ruleID int32) []int32 {
	set := map[int32]struct{}{}
	for _, s := range states {
		f.VisitOutEdges(s, func(e Edge) bool {
			if e.IsRuleRef() && e.RuleID() == ruleID {
				set[e.Target] = struct{}{}
			}
			return true
		})
	}
	return f.EpsilonClosure(sortedStates(set))
}

func sortedStates(set map[int32]struct{}) []int32 {
	states := make([]int32, 0, len(set))
	for s := range set {
		states = append(states, s)
	}
	sort.Slice(states, func(i, j int) bool { return states[i] < states[j] })
	return states
}

// StartEnd couples an FSM with its start state and accepting states.
type StartEnd struct {
	fsm   *FSM
	start int32
	ends  map[int32]struct{}
}

func NewStartEnd(f *FSM, start int32) *StartEnd {
	return &StartEnd{
		fsm:   f,
		start: start,
		ends:  map[int32]struct{}{},
	}
}

func (se *StartEnd) FSM() *FSM    { return se.fsm }
func (se *StartEnd) Start() int32 { return se.start }

func (se *StartEnd) AddEnd(state int32) {
	se.ends[state] = struct{}{}
}

func (se *StartEnd) IsEnd(state int32) bool {
	_, ok := se.ends[state]
	return ok
}

func (se *StartEnd) NumEnds() int {
	return len(se.ends)
}

// Ends returns the accepting states in ascending order.
func (se *StartEnd) Ends() []int32 {
	return sortedStates(se.ends)
}

// AcceptsString simulates the automaton over the bytes of s. Rule-reference
// edges never match.
func (se *StartEnd) AcceptsString(s string) bool {
	states := se.fsm.EpsilonClosure([]int32{se.start})
	for i := 0; i < len(s); i++ {
		states = se.fsm.Advance(states, s[i])
		if len(states) == 0 {
			return false
		}
	}
	for _, st := range states {
		if se.IsEnd(st) {
			return true
		}
	}
	return false
}
