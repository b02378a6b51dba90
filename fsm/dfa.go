package fsm

import (
	"sort"
	"strings"

	"github.com/emirpasic/gods/sets/treeset"
	godsutils "github.com/emirpasic/gods/utils"

	verr "github.com/nihei9/urubu/error"
)

// DefaultStateBudget bounds the number of states subset construction and
// product construction may create.
const DefaultStateBudget = 1000000

// ToDFA determinizes the automaton with subset construction. The result has
// no epsilon edges and at most one transition per state and byte. An
// automaton with rule-reference edges cannot be determinized.
func (se *StartEnd) ToDFA(budget int) (*StartEnd, error) {
	if budget <= 0 {
		budget = DefaultStateBudget
	}
	if se.fsm.HasRuleEdge() {
		return nil, verr.New(verr.KindValidation, "an automaton containing rule references cannot be determinized")
	}

	dfa := NewFSM(0)
	result := NewStartEnd(dfa, 0)

	idOf := map[string]int32{}
	var sets [][]int32

	intern := func(states []int32) (int32, bool, error) {
		key := stateSetKey(states)
		if id, ok := idOf[key]; ok {
			return id, false, nil
		}
		if len(sets) >= budget {
			return 0, false, verr.New(verr.KindBudget, "state budget exceeded: %v states", budget)
		}
		id := dfa.AddState()
		idOf[key] = id
		sets = append(sets, states)
		return id, true, nil
	}

	startSet := se.fsm.EpsilonClosure([]int32{se.start})
	startID, _, err := intern(startSet)
	if err != nil {
		return nil, err
	}
	result.start = startID

	queue := []int32{startID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		members := sets[id]

		for _, m := range members {
			if se.IsEnd(m) {
				result.AddEnd(id)
				break
			}
		}

		var edges []Edge
		for _, m := range members {
			se.fsm.VisitOutEdges(m, func(e Edge) bool {
				if e.IsCharRange() {
					edges = append(edges, e)
				}
				return true
			})
		}
		if len(edges) == 0 {
			continue
		}

		// Split the byte axis at every range boundary so that each interval
		// is covered by a fixed set of edges.
		points := map[int]struct{}{}
		for _, e := range edges {
			points[int(e.Min)] = struct{}{}
			points[int(e.Max)+1] = struct{}{}
		}
		sorted := make([]int, 0, len(points))
		for p := range points {
			sorted = append(sorted, p)
		}
		sort.Ints(sorted)

		for i := 0; i+1 < len(sorted); i++ {
			lo := sorted[i]
			hi := sorted[i+1] - 1
			targets := treeset.NewWith(godsutils.Int32Comparator)
			for _, e := range edges {
				if int(e.Min) <= lo && int(e.Max) >= lo {
					targets.Add(e.Target)
				}
			}
			if targets.Empty() {
				continue
			}
			raw := make([]int32, 0, targets.Size())
			for _, v := range targets.Values() {
				raw = append(raw, v.(int32))
			}
			next := se.fsm.EpsilonClosure(raw)
			nextID, fresh, err := intern(next)
			if err != nil {
				return nil, err
			}
			if fresh {
				queue = append(queue, nextID)
			}
			dfa.AddEdge(id, nextID, int16(lo), int16(hi))
		}
	}

	tracer().Debugf("determinized %v states into %v", se.fsm.NumStates(), dfa.NumStates())
	return result, nil
}

func stateSetKey(states []int32) string {
	var b strings.Builder
	for _, s := range states {
		b.WriteByte(byte(s))
		b.WriteByte(byte(s >> 8))
		b.WriteByte(byte(s >> 16))
		b.WriteByte(byte(s >> 24))
	}
	return b.String()
}

// transitionTable maps every (state, byte) pair of a DFA to a target state,
// or -1 when the transition is undefined.
func (se *StartEnd) transitionTable() [][256]int32 {
	table := make([][256]int32, se.fsm.NumStates())
	for s := range table {
		for b := 0; b < 256; b++ {
			table[s][b] = -1
		}
		se.fsm.VisitOutEdges(int32(s), func(e Edge) bool {
			if e.IsCharRange() {
				for b := e.Min; b <= e.Max; b++ {
					table[s][b] = e.Target
				}
			}
			return true
		})
	}
	return table
}

// MinimizeDFA merges indistinguishable states of a deterministic automaton
// by iterative partition refinement.
func (se *StartEnd) MinimizeDFA() *StartEnd {
	numStates := se.fsm.NumStates()
	if numStates == 0 {
		return se
	}
	table := se.transitionTable()

	class := make([]int32, numStates)
	for s := range class {
		if se.IsEnd(int32(s)) {
			class[s] = 1
		}
	}
	numClasses := 2
	if se.NumEnds() == 0 || se.NumEnds() == numStates {
		numClasses = 1
		for s := range class {
			class[s] = 0
		}
	}

	sig := make([]int32, 257)
	for {
		next := map[string]int32{}
		newClass := make([]int32, numStates)
		for s := 0; s < numStates; s++ {
			sig[0] = class[s]
			for b := 0; b < 256; b++ {
				t := table[s][b]
				if t == -1 {
					sig[b+1] = -1
				} else {
					sig[b+1] = class[t]
				}
			}
			key := stateSetKey(sig)
			id, ok := next[key]
			if !ok {
				id = int32(len(next))
				next[key] = id
			}
			newClass[s] = id
		}
		if len(next) == numClasses {
			break
		}
		numClasses = len(next)
		class = newClass
	}

	min := NewFSM(numClasses)
	result := NewStartEnd(min, class[se.start])
	seen := make([]bool, numClasses)
	for s := 0; s < numStates; s++ {
		c := class[s]
		if seen[c] {
			continue
		}
		seen[c] = true
		if se.IsEnd(int32(s)) {
			result.AddEnd(c)
		}
		// Re-emit the representative's transitions with adjacent bytes going
		// to the same class merged back into ranges.
		b := 0
		for b < 256 {
			t := table[s][b]
			if t == -1 {
				b++
				continue
			}
			lo := b
			for b < 256 && table[s][b] != -1 && class[table[s][b]] == class[t] {
				b++
			}
			min.AddEdge(c, class[t], int16(lo), int16(b-1))
		}
	}
	tracer().Debugf("minimized %v states into %v", numStates, numClasses)
	return result
}

// Not builds the automaton accepting the complement of the language over
// arbitrary byte strings.
func (se *StartEnd) Not(budget int) (*StartEnd, error) {
	dfa, err := se.ToDFA(budget)
	if err != nil {
		return nil, err
	}
	table := dfa.transitionTable()
	sink := dfa.fsm.AddState()
	dfa.fsm.AddEdge(sink, sink, 0, 255)
	for s, row := range table {
		b := 0
		for b < 256 {
			if row[b] != -1 {
				b++
				continue
			}
			lo := b
			for b < 256 && row[b] == -1 {
				b++
			}
			dfa.fsm.AddEdge(int32(s), sink, int16(lo), int16(b-1))
		}
	}
	flipped := NewStartEnd(dfa.fsm, dfa.start)
	for s := int32(0); int(s) < dfa.fsm.NumStates(); s++ {
		if !dfa.IsEnd(s) {
			flipped.AddEnd(s)
		}
	}
	return flipped, nil
}

// Intersect builds the automaton accepting the intersection of the two
// languages via product construction.
func Intersect(lhs, rhs *StartEnd, budget int) (*StartEnd, error) {
	if budget <= 0 {
		budget = DefaultStateBudget
	}
	ldfa, err := lhs.ToDFA(budget)
	if err != nil {
		return nil, err
	}
	rdfa, err := rhs.ToDFA(budget)
	if err != nil {
		return nil, err
	}
	ltab := ldfa.transitionTable()
	rtab := rdfa.transitionTable()

	prod := NewFSM(0)
	result := NewStartEnd(prod, 0)
	type pair struct{ l, r int32 }
	idOf := map[pair]int32{}
	var pairs []pair
	intern := func(p pair) (int32, bool, error) {
		if id, ok := idOf[p]; ok {
			return id, false, nil
		}
		if len(pairs) >= budget {
			return 0, false, verr.New(verr.KindBudget, "state budget exceeded: %v states", budget)
		}
		id := prod.AddState()
		idOf[p] = id
		pairs = append(pairs, p)
		return id, true, nil
	}

	startID, _, err := intern(pair{ldfa.start, rdfa.start})
	if err != nil {
		return nil, err
	}
	result.start = startID
	queue := []int32{startID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		p := pairs[id]
		if ldfa.IsEnd(p.l) && rdfa.IsEnd(p.r) {
			result.AddEnd(id)
		}
		b := 0
		for b < 256 {
			lt := ltab[p.l][b]
			rt := rtab[p.r][b]
			if lt == -1 || rt == -1 {
				b++
				continue
			}
			lo := b
			for b < 256 && ltab[p.l][b] == lt && rtab[p.r][b] == rt {
				b++
			}
			nextID, fresh, err := intern(pair{lt, rt})
			if err != nil {
				return nil, err
			}
			if fresh {
				queue = append(queue, nextID)
			}
			prod.AddEdge(id, nextID, int16(lo), int16(b-1))
		}
	}
	return result, nil
}
