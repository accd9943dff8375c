package cluster

import (
	"math"
	"reflect"
	"testing"

	"github.com/davonroy/oddsmesh/internal/simgraph"
)

func nodeOnly() simgraph.Node {
	return simgraph.Node{Kind: simgraph.NodeListing}
}

func TestCommunities_WeakCrossEdgeStaysSplit(t *testing.T) {
	g := simgraph.NewGraph()
	for i := 0; i < 4; i++ {
		g.AddNode(nodeOnly())
	}
	g.AddEdge(0, 1, 0.9)
	g.AddEdge(2, 3, 0.9)
	g.AddEdge(1, 2, 0.35)

	got := communities(g)
	want := [][]int{{0, 1}, {2, 3}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("communities() = %v, want %v", got, want)
	}
}

func TestCommunities_TriangleMerges(t *testing.T) {
	g := simgraph.NewGraph()
	for i := 0; i < 3; i++ {
		g.AddNode(nodeOnly())
	}
	g.AddEdge(0, 1, 0.8)
	g.AddEdge(1, 2, 0.8)
	g.AddEdge(0, 2, 0.8)

	got := communities(g)
	want := [][]int{{0, 1, 2}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("communities() = %v, want %v", got, want)
	}
}

func TestCommunities_NoEdgesAllSingletons(t *testing.T) {
	g := simgraph.NewGraph()
	for i := 0; i < 3; i++ {
		g.AddNode(nodeOnly())
	}
	got := communities(g)
	want := [][]int{{0}, {1}, {2}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("communities() = %v, want %v", got, want)
	}
}

func TestCommunities_IsolatedNodeStaysOut(t *testing.T) {
	g := simgraph.NewGraph()
	for i := 0; i < 3; i++ {
		g.AddNode(nodeOnly())
	}
	g.AddEdge(0, 1, 0.9)

	got := communities(g)
	want := [][]int{{0, 1}, {2}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("communities() = %v, want %v", got, want)
	}
}

func TestBetweenness_Path(t *testing.T) {
	g := simgraph.NewGraph()
	for i := 0; i < 3; i++ {
		g.AddNode(nodeOnly())
	}
	g.AddEdge(0, 1, 1)
	g.AddEdge(1, 2, 1)

	bc := betweenness(g)
	want := []float64{0, 1, 0}
	for i := range want {
		if math.Abs(bc[i]-want[i]) > 1e-9 {
			t.Errorf("bc[%d] = %v, want %v", i, bc[i], want[i])
		}
	}
}

func TestBetweenness_Star(t *testing.T) {
	g := simgraph.NewGraph()
	for i := 0; i < 4; i++ {
		g.AddNode(nodeOnly())
	}
	g.AddEdge(0, 1, 1)
	g.AddEdge(0, 2, 1)
	g.AddEdge(0, 3, 1)

	bc := betweenness(g)
	if math.Abs(bc[0]-1) > 1e-9 {
		t.Errorf("center bc = %v, want 1", bc[0])
	}
	for i := 1; i < 4; i++ {
		if bc[i] != 0 {
			t.Errorf("leaf bc[%d] = %v, want 0", i, bc[i])
		}
	}
}

func TestBetweenness_TinyGraphZero(t *testing.T) {
	g := simgraph.NewGraph()
	g.AddNode(nodeOnly())
	g.AddNode(nodeOnly())
	g.AddEdge(0, 1, 1)

	for i, v := range betweenness(g) {
		if v != 0 {
			t.Errorf("bc[%d] = %v, want 0 below three nodes", i, v)
		}
	}
}
