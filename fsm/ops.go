package fsm

import (
	"fmt"
	"sort"

	"github.com/nihei9/urubu/fsm/graph"
)

// copyInto copies all states and edges of src into dst and returns the state
// offset. Edge insertion order is preserved per state.
func copyInto(dst *FSM, src *FSM) int32 {
	offset := int32(dst.NumStates())
	for i := 0; i < src.NumStates(); i++ {
		dst.AddState()
	}
	for s := int32(0); int(s) < src.NumStates(); s++ {
		es := src.OutEdges(s)
		for i := len(es) - 1; i >= 0; i-- {
			e := es[i]
			dst.g.AddEdge(s+offset, e.Target+offset, packLabel(e.Min, e.Max))
		}
	}
	dst.closureMemo = nil
	return offset
}

// Union builds the automaton accepting the union of the given languages. A
// fresh start state is connected by epsilon edges to every operand's start.
func Union(fsms []*StartEnd) *StartEnd {
	f := NewFSM(1)
	se := NewStartEnd(f, 0)
	for _, sub := range fsms {
		offset := copyInto(f, sub.fsm)
		f.AddEpsilonEdge(0, sub.start+offset)
		for _, end := range sub.Ends() {
			se.AddEnd(end + offset)
		}
	}
	return se
}

// Concat builds the automaton accepting the concatenation of the given
// languages, in order. Each operand's ends are wired to the next operand's
// start by epsilon edges.
func Concat(fsms []*StartEnd) *StartEnd {
	if len(fsms) == 0 {
		f := NewFSM(1)
		se := NewStartEnd(f, 0)
		se.AddEnd(0)
		return se
	}
	f := NewFSM(0)
	se := NewStartEnd(f, 0)
	var prevEnds []int32
	for i, sub := range fsms {
		offset := copyInto(f, sub.fsm)
		if i == 0 {
			se.start = sub.start + offset
		} else {
			for _, end := range prevEnds {
				f.AddEpsilonEdge(end, sub.start+offset)
			}
		}
		prevEnds = prevEnds[:0]
		for _, end := range sub.Ends() {
			prevEnds = append(prevEnds, end+offset)
		}
	}
	for _, end := range prevEnds {
		se.AddEnd(end)
	}
	return se
}

// Star rewrites the automaton in place to accept the Kleene closure of its
// language.
func (se *StartEnd) Star() {
	newStart := se.fsm.AddState()
	se.fsm.AddEpsilonEdge(newStart, se.start)
	for end := range se.ends {
		se.fsm.AddEpsilonEdge(end, newStart)
	}
	se.start = newStart
	se.ends = map[int32]struct{}{newStart: {}}
}

// Plus rewrites the automaton in place to accept one or more repetitions.
func (se *StartEnd) Plus() {
	for end := range se.ends {
		se.fsm.AddEpsilonEdge(end, se.start)
	}
}

// Optional rewrites the automaton in place to also accept the empty string.
func (se *StartEnd) Optional() {
	if se.IsEnd(se.start) {
		return
	}
	newStart := se.fsm.AddState()
	se.fsm.AddEpsilonEdge(newStart, se.start)
	se.start = newStart
	se.AddEnd(newStart)
}

// SimplifyEpsilon removes epsilon edges that can be eliminated by merging
// their endpoints, then drops unreachable states. Only merges that preserve
// the accepted language are performed, so some epsilon edges may remain.
func (se *StartEnd) SimplifyEpsilon() {
	for {
		if !se.simplifyEpsilonOnce() {
			break
		}
	}
	se.dropUnreachable()
}

func (se *StartEnd) simplifyEpsilonOnce() bool {
	f := se.fsm
	for u := int32(0); int(u) < f.NumStates(); u++ {
		if f.g.OutDegree(u) != 1 {
			continue
		}
		es := f.OutEdges(u)
		e := es[0]
		if !e.IsEpsilon() || e.Target == u {
			continue
		}
		// The epsilon edge is u's only way forward, so any walk through u
		// continues at the target. Merging is safe unless u accepts.
		if se.IsEnd(u) {
			continue
		}
		v := e.Target
		f.g.Coalesce(v, u)
		f.closureMemo = nil
		if se.start == u {
			se.start = v
		}
		return true
	}
	for v := int32(0); int(v) < f.NumStates(); v++ {
		if f.g.InDegree(v) != 1 || v == se.start {
			continue
		}
		e := f.g.Edge(f.g.FirstInEdge(v))
		min, max := unpackLabel(e.Label)
		if !(Edge{Min: min, Max: max}).IsEpsilon() || e.Src == v {
			continue
		}
		// v is reachable only through the epsilon edge, so its behavior can
		// be folded into the source state.
		u := e.Src
		f.g.Coalesce(u, v)
		f.closureMemo = nil
		if se.IsEnd(v) {
			delete(se.ends, v)
			se.AddEnd(u)
		}
		return true
	}
	return false
}

// SimplifyEquivalentStates merges states that have identical out-edge sets
// and the same acceptance, then drops unreachable states.
func (se *StartEnd) SimplifyEquivalentStates() {
	for {
		if !se.mergeEquivalentOnce() {
			break
		}
	}
	se.dropUnreachable()
}

func (se *StartEnd) mergeEquivalentOnce() bool {
	f := se.fsm
	bySig := map[string]int32{}
	for s := int32(0); int(s) < f.NumStates(); s++ {
		es := f.OutEdges(s)
		sort.Slice(es, func(i, j int) bool {
			if es[i].Min != es[j].Min {
				return es[i].Min < es[j].Min
			}
			if es[i].Max != es[j].Max {
				return es[i].Max < es[j].Max
			}
			return es[i].Target < es[j].Target
		})
		sig := fmt.Sprintf("%v:%v", se.IsEnd(s), es)
		rep, ok := bySig[sig]
		if !ok {
			bySig[sig] = s
			continue
		}
		if s == se.start || rep == s {
			continue
		}
		// Drop s's out-edges first. rep already carries an identical set, so
		// coalescing must only redirect s's in-edges.
		for e := f.g.FirstOutEdge(s); e != graph.Nil; e = f.g.FirstOutEdge(s) {
			f.g.RemoveEdge(e)
		}
		f.g.Coalesce(rep, s)
		f.closureMemo = nil
		if se.IsEnd(s) {
			delete(se.ends, s)
		}
		return true
	}
	return false
}

// dropUnreachable rebuilds the underlying graph keeping only states
// reachable from the start.
func (se *StartEnd) dropUnreachable() {
	ng, _ := se.fsm.g.Simplify([]graph.NodeID{se.start})
	// Simplify only maps the nodes passed as starts, so recover the full
	// mapping by replaying the BFS numbering it uses.
	idMap := reachabilityMap(se.fsm.g, se.start)
	se.fsm.g = ng
	se.fsm.closureMemo = nil
	se.start = idMap[se.start]
	newEnds := map[int32]struct{}{}
	for end := range se.ends {
		if idMap[end] != graph.Nil {
			newEnds[idMap[end]] = struct{}{}
		}
	}
	se.ends = newEnds
}

func reachabilityMap(g *graph.Graph, start graph.NodeID) []graph.NodeID {
	idMap := make([]graph.NodeID, g.NumNodes())
	for i := range idMap {
		idMap[i] = graph.Nil
	}
	idMap[start] = 0
	next := graph.NodeID(1)
	queue := []graph.NodeID{start}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for e := g.FirstOutEdge(n); e != graph.Nil; e = g.NextOutEdge(e) {
			dst := g.Edge(e).Dst
			if idMap[dst] == graph.Nil {
				idMap[dst] = next
				next++
				queue = append(queue, dst)
			}
		}
	}
	return idMap
}
