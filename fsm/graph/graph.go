// Package graph implements a labeled directed multigraph with intrusive
// adjacency lists. Each node keeps the head of a chain of out-edges and a
// chain of in-edges; edges are prepended, so iteration visits them in
// last-in-first-out order.
package graph

import (
	"fmt"
	"strings"
)

type NodeID = int32

type EdgeID = int32

const Nil = int32(-1)

type Edge struct {
	Label      int32
	Src        NodeID
	Dst        NodeID
	NextOutEdge EdgeID
	NextInEdge  EdgeID
}

type Graph struct {
	edges    []Edge
	adjHeads [][2]EdgeID
	degrees  [][2]int32
}

func New() *Graph {
	return &Graph{}
}

func (g *Graph) NumNodes() int {
	return len(g.adjHeads)
}

func (g *Graph) NumEdges() int {
	return len(g.edges)
}

func (g *Graph) AddNode() NodeID {
	g.adjHeads = append(g.adjHeads, [2]EdgeID{Nil, Nil})
	g.degrees = append(g.degrees, [2]int32{0, 0})
	return NodeID(len(g.adjHeads) - 1)
}

func (g *Graph) AddEdge(src, dst NodeID, label int32) EdgeID {
	id := EdgeID(len(g.edges))
	g.edges = append(g.edges, Edge{
		Label:       label,
		Src:         src,
		Dst:         dst,
		NextOutEdge: g.adjHeads[src][0],
		NextInEdge:  g.adjHeads[dst][1],
	})
	g.adjHeads[src][0] = id
	g.adjHeads[dst][1] = id
	g.degrees[src][0]++
	g.degrees[dst][1]++
	return id
}

func (g *Graph) FirstOutEdge(n NodeID) EdgeID { return g.adjHeads[n][0] }
func (g *Graph) NextOutEdge(e EdgeID) EdgeID  { return g.edges[e].NextOutEdge }
func (g *Graph) FirstInEdge(n NodeID) EdgeID  { return g.adjHeads[n][1] }
func (g *Graph) NextInEdge(e EdgeID) EdgeID   { return g.edges[e].NextInEdge }

func (g *Graph) OutDegree(n NodeID) int32 { return g.degrees[n][0] }
func (g *Graph) InDegree(n NodeID) int32  { return g.degrees[n][1] }

func (g *Graph) Edge(id EdgeID) Edge {
	return g.edges[id]
}

// RemoveEdge unlinks the edge from both chains. The edge record itself stays
// allocated; its ID must not be used afterwards. O(in-degree + out-degree).
func (g *Graph) RemoveEdge(id EdgeID) {
	g.removeOutEdge(g.edges[id].Src, id)
	g.removeInEdge(g.edges[id].Dst, id)
}

func (g *Graph) removeOutEdge(src NodeID, id EdgeID) {
	prev := Nil
	for e := g.FirstOutEdge(src); e != Nil; e = g.NextOutEdge(e) {
		if e == id {
			if prev == Nil {
				g.adjHeads[src][0] = g.NextOutEdge(e)
			} else {
				g.edges[prev].NextOutEdge = g.NextOutEdge(e)
			}
			break
		}
		prev = e
	}
	g.degrees[src][0]--
}

func (g *Graph) removeInEdge(dst NodeID, id EdgeID) {
	prev := Nil
	for e := g.FirstInEdge(dst); e != Nil; e = g.NextInEdge(e) {
		if e == id {
			if prev == Nil {
				g.adjHeads[dst][1] = g.NextInEdge(e)
			} else {
				g.edges[prev].NextInEdge = g.NextInEdge(e)
			}
			break
		}
		prev = e
	}
	g.degrees[dst][1]--
}

// Coalesce merges node rhs into node lhs: every edge incident to rhs is
// re-attached to lhs, except edges between the two nodes, which would become
// self-loops and are dropped.
func (g *Graph) Coalesce(lhs, rhs NodeID) {
	if lhs == rhs {
		panic("cannot coalesce a node with itself")
	}
	for e := g.FirstOutEdge(rhs); e != Nil; {
		next := g.NextOutEdge(e)
		if g.edges[e].Dst == rhs {
			g.RemoveEdge(e)
		}
		e = next
	}
	for e := g.FirstInEdge(rhs); e != Nil; e = g.edges[e].NextInEdge {
		edge := g.edges[e]
		g.removeOutEdge(edge.Src, e)
		if edge.Src != lhs {
			g.AddEdge(edge.Src, lhs, edge.Label)
		}
	}
	for e := g.FirstOutEdge(rhs); e != Nil; e = g.edges[e].NextOutEdge {
		edge := g.edges[e]
		g.removeInEdge(edge.Dst, e)
		if edge.Dst != lhs {
			g.AddEdge(lhs, edge.Dst, edge.Label)
		}
	}
	g.adjHeads[rhs] = [2]EdgeID{Nil, Nil}
	g.degrees[rhs] = [2]int32{0, 0}
}

// Simplify rebuilds the graph keeping only nodes reachable from starts and
// returns the new IDs of the start nodes. Out-edge iteration order is
// preserved.
func (g *Graph) Simplify(starts []NodeID) (*Graph, []NodeID) {
	idMap := make([]NodeID, g.NumNodes())
	for i := range idMap {
		idMap[i] = Nil
	}
	var order []NodeID
	var queue []NodeID
	for _, s := range starts {
		if idMap[s] == Nil {
			idMap[s] = NodeID(len(order))
			order = append(order, s)
			queue = append(queue, s)
		}
	}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for e := g.FirstOutEdge(n); e != Nil; e = g.NextOutEdge(e) {
			dst := g.edges[e].Dst
			if idMap[dst] == Nil {
				idMap[dst] = NodeID(len(order))
				order = append(order, dst)
				queue = append(queue, dst)
			}
		}
	}

	ng := New()
	for range order {
		ng.AddNode()
	}
	// Insertion order within a node must be reversed so that the rebuilt
	// intrusive chains iterate in the same LIFO order as the source.
	var buf []Edge
	for _, old := range order {
		buf = buf[:0]
		for e := g.FirstOutEdge(old); e != Nil; e = g.NextOutEdge(e) {
			buf = append(buf, g.edges[e])
		}
		for i := len(buf) - 1; i >= 0; i-- {
			if idMap[buf[i].Dst] == Nil {
				continue
			}
			ng.AddEdge(idMap[old], idMap[buf[i].Dst], buf[i].Label)
		}
	}

	newStarts := make([]NodeID, len(starts))
	for i, s := range starts {
		newStarts[i] = idMap[s]
	}
	return ng, newStarts
}

// WellFormed audits the symmetric references between the out and in chains
// and the cached degree counts.
func (g *Graph) WellFormed() bool {
	for n := NodeID(0); int(n) < g.NumNodes(); n++ {
		var outDegree int32
		for e := g.FirstOutEdge(n); e != Nil; e = g.NextOutEdge(e) {
			if g.edges[e].Src != n {
				return false
			}
			outDegree++
			found := false
			for e2 := g.FirstInEdge(g.edges[e].Dst); e2 != Nil; e2 = g.NextInEdge(e2) {
				if e2 == e {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		if outDegree != g.OutDegree(n) {
			return false
		}

		var inDegree int32
		for e := g.FirstInEdge(n); e != Nil; e = g.NextInEdge(e) {
			if g.edges[e].Dst != n {
				return false
			}
			inDegree++
			found := false
			for e2 := g.FirstOutEdge(g.edges[e].Src); e2 != Nil; e2 = g.NextOutEdge(e2) {
				if e2 == e {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		if inDegree != g.InDegree(n) {
			return false
		}
	}
	return true
}

func (g *Graph) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Graph(num_nodes=%v, edges={", g.NumNodes())
	for n := NodeID(0); int(n) < g.NumNodes(); n++ {
		if n != 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%v: [", n)
		cnt := 0
		for e := g.FirstOutEdge(n); e != Nil; e = g.NextOutEdge(e) {
			if cnt != 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "(%v, %v)", g.edges[e].Dst, g.edges[e].Label)
			cnt++
		}
		b.WriteString("]")
	}
	b.WriteString("})")
	return b.String()
}
