package graph

import (
	"encoding/json"
	"testing"
)

func outEdges(g *Graph, n NodeID) []Edge {
	var es []Edge
	for e := g.FirstOutEdge(n); e != Nil; e = g.NextOutEdge(e) {
		es = append(es, g.Edge(e))
	}
	return es
}

func TestGraph_AddEdge(t *testing.T) {
	g := New()
	n0 := g.AddNode()
	n1 := g.AddNode()
	n2 := g.AddNode()
	g.AddEdge(n0, n1, 10)
	g.AddEdge(n0, n2, 20)
	g.AddEdge(n1, n2, 30)

	if !g.WellFormed() {
		t.Fatal("graph is not well-formed")
	}
	if g.OutDegree(n0) != 2 || g.InDegree(n2) != 2 {
		t.Fatalf("unexpected degrees: out(n0)=%v, in(n2)=%v", g.OutDegree(n0), g.InDegree(n2))
	}

	// Edges are prepended, so iteration is newest first.
	es := outEdges(g, n0)
	if len(es) != 2 || es[0].Label != 20 || es[1].Label != 10 {
		t.Fatalf("unexpected out-edge order: %v", es)
	}
}

func TestGraph_RemoveEdge(t *testing.T) {
	g := New()
	n0 := g.AddNode()
	n1 := g.AddNode()
	e0 := g.AddEdge(n0, n1, 1)
	g.AddEdge(n0, n1, 2)

	g.RemoveEdge(e0)
	if !g.WellFormed() {
		t.Fatal("graph is not well-formed after removal")
	}
	es := outEdges(g, n0)
	if len(es) != 1 || es[0].Label != 2 {
		t.Fatalf("unexpected out-edges after removal: %v", es)
	}
	if g.OutDegree(n0) != 1 || g.InDegree(n1) != 1 {
		t.Fatalf("degrees not updated: out=%v, in=%v", g.OutDegree(n0), g.InDegree(n1))
	}
}

func TestGraph_Coalesce(t *testing.T) {
	g := New()
	n0 := g.AddNode()
	n1 := g.AddNode()
	n2 := g.AddNode()
	n3 := g.AddNode()
	g.AddEdge(n0, n1, 1)  // becomes n0 -> n1 (kept)
	g.AddEdge(n1, n2, 2)  // n1 -> n2, dropped: would become a self-loop
	g.AddEdge(n2, n2, 3)  // self-loop on the absorbed node, dropped
	g.AddEdge(n2, n3, 4)  // re-attached as n1 -> n3
	g.AddEdge(n3, n2, 5)  // re-attached as n3 -> n1

	g.Coalesce(n1, n2)
	if !g.WellFormed() {
		t.Fatal("graph is not well-formed after coalescing")
	}
	if g.OutDegree(n2) != 0 || g.InDegree(n2) != 0 {
		t.Fatalf("absorbed node still has edges: out=%v, in=%v", g.OutDegree(n2), g.InDegree(n2))
	}

	var labels []int32
	for e := g.FirstOutEdge(n1); e != Nil; e = g.NextOutEdge(e) {
		if g.Edge(e).Dst != n3 {
			t.Fatalf("unexpected destination: %v", g.Edge(e).Dst)
		}
		labels = append(labels, g.Edge(e).Label)
	}
	if len(labels) != 1 || labels[0] != 4 {
		t.Fatalf("unexpected out-edges of the merged node: %v", labels)
	}
	if es := outEdges(g, n3); len(es) != 1 || es[0].Dst != n1 || es[0].Label != 5 {
		t.Fatalf("in-edge was not re-attached: %v", es)
	}
}

func TestGraph_Simplify(t *testing.T) {
	g := New()
	n0 := g.AddNode()
	n1 := g.AddNode()
	g.AddNode() // unreachable
	n3 := g.AddNode()
	g.AddEdge(n0, n1, 1)
	g.AddEdge(n0, n3, 2)
	g.AddEdge(n1, n3, 3)
	g.AddEdge(n3, n0, 4)

	ng, starts := g.Simplify([]NodeID{n0})
	if len(starts) != 1 {
		t.Fatalf("unexpected starts: %v", starts)
	}
	if ng.NumNodes() != 3 {
		t.Fatalf("unexpected node count: want: 3, got: %v", ng.NumNodes())
	}
	if !ng.WellFormed() {
		t.Fatal("simplified graph is not well-formed")
	}

	// LIFO iteration order must survive the rebuild.
	old := outEdges(g, n0)
	now := outEdges(ng, starts[0])
	if len(old) != len(now) {
		t.Fatalf("edge count changed: %v vs %v", len(old), len(now))
	}
	for i := range old {
		if old[i].Label != now[i].Label {
			t.Fatalf("edge order changed at #%v: %v vs %v", i, old[i].Label, now[i].Label)
		}
	}
}

func TestGraph_SerializeRoundTrip(t *testing.T) {
	g := New()
	n0 := g.AddNode()
	n1 := g.AddNode()
	g.AddEdge(n0, n1, 7)
	g.AddEdge(n1, n0, 8)
	g.AddEdge(n1, n1, 9)

	b, err := json.Marshal(g)
	if err != nil {
		t.Fatal(err)
	}
	var got Graph
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	if !got.WellFormed() {
		t.Fatal("deserialized graph is not well-formed")
	}
	if got.NumNodes() != g.NumNodes() || got.NumEdges() != g.NumEdges() {
		t.Fatalf("shape changed: %v nodes, %v edges", got.NumNodes(), got.NumEdges())
	}
	if got.String() != g.String() {
		t.Fatalf("round trip changed the graph:\nwant: %v\ngot:  %v", g, &got)
	}
}

func TestGraph_UnmarshalRejectsCorruptInput(t *testing.T) {
	srcs := []string{
		`{"edges":[[0,0,5,-1,-1]],"adj_heads":[[0,0]],"out_in_degrees":[[1,1]]}`,
		`{"edges":[[0,9,0,-1,-1]],"adj_heads":[[0,-1],[-1,0]],"out_in_degrees":[[1,0],[0,1]]}`,
	}
	for _, src := range srcs {
		var g Graph
		if err := json.Unmarshal([]byte(src), &g); err == nil {
			t.Errorf("expect an error for corrupt input: %v", src)
		}
	}
}
