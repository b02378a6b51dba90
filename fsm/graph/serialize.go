package graph

import (
	"encoding/json"
	"fmt"
)

type graphJSON struct {
	Edges        [][5]int32 `json:"edges"`
	AdjHeads     [][2]int32 `json:"adj_heads"`
	OutInDegrees [][2]int32 `json:"out_in_degrees"`
}

func (g *Graph) MarshalJSON() ([]byte, error) {
	j := graphJSON{
		Edges:        make([][5]int32, len(g.edges)),
		AdjHeads:     g.adjHeads,
		OutInDegrees: g.degrees,
	}
	for i, e := range g.edges {
		j.Edges[i] = [5]int32{e.Label, e.Src, e.Dst, e.NextOutEdge, e.NextInEdge}
	}
	return json.Marshal(j)
}

func (g *Graph) UnmarshalJSON(src []byte) error {
	var j graphJSON
	if err := json.Unmarshal(src, &j); err != nil {
		return err
	}
	if len(j.AdjHeads) != len(j.OutInDegrees) {
		return fmt.Errorf("adjacency heads and degree counts disagree on the number of nodes")
	}
	g.edges = make([]Edge, len(j.Edges))
	for i, e := range j.Edges {
		g.edges[i] = Edge{
			Label:       e[0],
			Src:         e[1],
			Dst:         e[2],
			NextOutEdge: e[3],
			NextInEdge:  e[4],
		}
	}
	g.adjHeads = j.AdjHeads
	g.degrees = j.OutInDegrees
	numNodes := int32(len(g.adjHeads))
	numEdges := int32(len(g.edges))
	validNode := func(n NodeID) bool { return n >= 0 && n < numNodes }
	validEdge := func(e EdgeID) bool { return e == Nil || (e >= 0 && e < numEdges) }
	for _, e := range g.edges {
		if !validNode(e.Src) || !validNode(e.Dst) || !validEdge(e.NextOutEdge) || !validEdge(e.NextInEdge) {
			return fmt.Errorf("edge references are out of range")
		}
	}
	for _, h := range g.adjHeads {
		if !validEdge(h[0]) || !validEdge(h[1]) {
			return fmt.Errorf("adjacency heads are out of range")
		}
	}
	if !g.WellFormed() {
		return fmt.Errorf("graph is not well-formed")
	}
	return nil
}
