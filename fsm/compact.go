package fsm

import (
	"encoding/json"
	"sort"

	verr "github.com/nihei9/urubu/error"
)

// linearScanLimit is the edge count up to which Transition scans linearly
// instead of binary searching.
const linearScanLimit = 16

// CompactFSM stores edges in compressed sparse rows. Within a state the
// edges are sorted by Min, which places rule-reference edges (Min == -1)
// before all byte ranges.
type CompactFSM struct {
	edges  []Edge
	indptr []int32
}

// Compact freezes the automaton into its read-optimized form.
func (f *FSM) Compact() *CompactFSM {
	c := &CompactFSM{
		indptr: make([]int32, 1, f.NumStates()+1),
	}
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
		c.edges = append(c.edges, es...)
		c.indptr = append(c.indptr, int32(len(c.edges)))
	}
	return c
}

func (c *CompactFSM) NumStates() int {
	return len(c.indptr) - 1
}

// Edges returns the edges of a state. The returned slice aliases the
// internal buffer and must not be modified.
func (c *CompactFSM) Edges(state int32) []Edge {
	return c.edges[c.indptr[state]:c.indptr[state+1]]
}

// Transition returns the target reached from state by reading ch, or -1.
// When the automaton is not deterministic, the target of the lowest matching
// range is returned.
func (c *CompactFSM) Transition(state int32, ch uint8) int32 {
	es := c.Edges(state)
	b := int16(ch)
	if len(es) <= linearScanLimit {
		for _, e := range es {
			if e.Min > b {
				break
			}
			if e.Min >= 0 && e.Max >= b {
				return e.Target
			}
		}
		return -1
	}
	// The ranges of a deterministic state are disjoint, so only the last
	// edge whose Min is <= b can contain b.
	lo, hi := 0, len(es)
	for lo < hi {
		mid := (lo + hi) / 2
		if es[mid].Min <= b {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo > 0 && es[lo-1].Min >= 0 && es[lo-1].Max >= b {
		return es[lo-1].Target
	}
	return -1
}

// RuleEdges returns the rule-reference edges of a state.
func (c *CompactFSM) RuleEdges(state int32) []Edge {
	es := c.Edges(state)
	n := 0
	for n < len(es) && es[n].IsRuleRef() {
		n++
	}
	return es[:n]
}

type compactFSMJSON struct {
	Edges  [][3]int32 `json:"edges"`
	Indptr []int32    `json:"indptr"`
}

func (c *CompactFSM) MarshalJSON() ([]byte, error) {
	j := compactFSMJSON{
		Edges:  make([][3]int32, len(c.edges)),
		Indptr: c.indptr,
	}
	for i, e := range c.edges {
		j.Edges[i] = [3]int32{int32(e.Min), int32(e.Max), e.Target}
	}
	return json.Marshal(j)
}

func (c *CompactFSM) UnmarshalJSON(src []byte) error {
	var j compactFSMJSON
	if err := json.Unmarshal(src, &j); err != nil {
		return verr.New(verr.KindSerialization, "%v", err)
	}
	if len(j.Indptr) == 0 || j.Indptr[0] != 0 || j.Indptr[len(j.Indptr)-1] != int32(len(j.Edges)) {
		return verr.New(verr.KindSerialization, "row pointers do not cover the edge list")
	}
	for i := 1; i < len(j.Indptr); i++ {
		if j.Indptr[i] < j.Indptr[i-1] {
			return verr.New(verr.KindSerialization, "row pointers must not decrease")
		}
	}
	numStates := int32(len(j.Indptr) - 1)
	c.edges = make([]Edge, len(j.Edges))
	for i, e := range j.Edges {
		if e[2] < 0 || e[2] >= numStates {
			return verr.New(verr.KindSerialization, "edge target %v is out of range", e[2])
		}
		c.edges[i] = Edge{Min: int16(e[0]), Max: int16(e[1]), Target: e[2]}
	}
	c.indptr = j.Indptr
	return nil
}

// StartEnd serializes together with its underlying graph so that the
// intrusive adjacency structure round-trips exactly.
type startEndJSON struct {
	FSM   json.RawMessage `json:"fsm"`
	Start int32           `json:"start"`
	Ends  []int32         `json:"ends"`
}

func (se *StartEnd) MarshalJSON() ([]byte, error) {
	fsmJSON, err := json.Marshal(se.fsm.g)
	if err != nil {
		return nil, err
	}
	return json.Marshal(startEndJSON{
		FSM:   fsmJSON,
		Start: se.start,
		Ends:  se.Ends(),
	})
}

func (se *StartEnd) UnmarshalJSON(src []byte) error {
	var j startEndJSON
	if err := json.Unmarshal(src, &j); err != nil {
		return verr.New(verr.KindSerialization, "%v", err)
	}
	f := NewFSM(0)
	if err := json.Unmarshal(j.FSM, f.g); err != nil {
		return verr.New(verr.KindSerialization, "%v", err)
	}
	if j.Start < 0 || int(j.Start) >= f.NumStates() {
		return verr.New(verr.KindSerialization, "start state %v is out of range", j.Start)
	}
	se.fsm = f
	se.start = j.Start
	se.ends = map[int32]struct{}{}
	for _, end := range j.Ends {
		if end < 0 || int(end) >= f.NumStates() {
			return verr.New(verr.KindSerialization, "end state %v is out of range", end)
		}
		se.ends[end] = struct{}{}
	}
	return nil
}
