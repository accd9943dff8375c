// Package simgraph builds the per-epoch similarity graph over normalized
// listings. Nodes live in an arena addressed by integer index with a separate
// adjacency table; downstream clustering reads the graph without mutating it,
// so every epoch's graph is independently testable and discardable.
package simgraph

import (
	"sort"

	"github.com/davonroy/oddsmesh/internal/domain"
)

// NodeKind distinguishes real listings from synthesized alias ghosts.
type NodeKind int

const (
	NodeListing NodeKind = iota
	NodeGhost
)

// Node is one vertex in the arena. Listing nodes carry the normalized
// listing; ghost nodes carry only the canonical entity they stand for, and
// exist so alias chains can bridge listings with no literal token overlap.
type Node struct {
	Idx      int
	Kind     NodeKind
	Key      string // listing key, or "ghost:" + entity id
	Listing  domain.Listing
	Entities []string // resolved canonical entity ids, sorted
	Tokens   map[string]bool
	Category string
	EventDay string // UTC day "2006-01-02", empty when unknown
}

// Edge is one undirected weighted relation between two nodes, A < B.
type Edge struct {
	A, B   int
	Weight float64
}

// Graph is the similarity graph arena.
type Graph struct {
	Nodes []Node
	adj   []map[int]float64
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{}
}

// AddNode appends a node to the arena and returns its index.
func (g *Graph) AddNode(n Node) int {
	n.Idx = len(g.Nodes)
	g.Nodes = append(g.Nodes, n)
	g.adj = append(g.adj, nil)
	return n.Idx
}

// AddEdge records an undirected edge. Self-edges are ignored; a repeated
// pair keeps the maximum weight seen.
func (g *Graph) AddEdge(a, b int, weight float64) {
	if a == b || a < 0 || b < 0 || a >= len(g.Nodes) || b >= len(g.Nodes) {
		return
	}
	if g.adj[a] == nil {
		g.adj[a] = make(map[int]float64)
	}
	if g.adj[b] == nil {
		g.adj[b] = make(map[int]float64)
	}
	if w, ok := g.adj[a][b]; ok && w >= weight {
		return
	}
	g.adj[a][b] = weight
	g.adj[b][a] = weight
}

// RemoveEdge deletes the undirected edge between a and b if present.
func (g *Graph) RemoveEdge(a, b int) {
	if a < 0 || b < 0 || a >= len(g.Nodes) || b >= len(g.Nodes) {
		return
	}
	delete(g.adj[a], b)
	delete(g.adj[b], a)
}

// Weight returns the edge weight between a and b.
func (g *Graph) Weight(a, b int) (float64, bool) {
	if a < 0 || a >= len(g.Nodes) || g.adj[a] == nil {
		return 0, false
	}
	w, ok := g.adj[a][b]
	return w, ok
}

// Neighbors returns the neighbor indices of node i in ascending order.
func (g *Graph) Neighbors(i int) []int {
	if i < 0 || i >= len(g.Nodes) || len(g.adj[i]) == 0 {
		return nil
	}
	out := make([]int, 0, len(g.adj[i]))
	for j := range g.adj[i] {
		out = append(out, j)
	}
	sort.Ints(out)
	return out
}

// Degree returns the number of edges incident to node i.
func (g *Graph) Degree(i int) int {
	if i < 0 || i >= len(g.Nodes) {
		return 0
	}
	return len(g.adj[i])
}

// Edges returns every edge exactly once, sorted by (A, B) for determinism.
func (g *Graph) Edges() []Edge {
	var out []Edge
	for a, nbrs := range g.adj {
		for b, w := range nbrs {
			if a < b {
				out = append(out, Edge{A: a, B: b, Weight: w})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	return out
}

// EdgeCount returns the number of undirected edges.
func (g *Graph) EdgeCount() int {
	total := 0
	for _, nbrs := range g.adj {
		total += len(nbrs)
	}
	return total / 2
}

// TotalWeight returns the sum of all edge weights.
func (g *Graph) TotalWeight() float64 {
	var total float64
	for a, nbrs := range g.adj {
		for b, w := range nbrs {
			if a < b {
				total += w
			}
		}
	}
	return total
}

// WeightedDegree returns the sum of edge weights incident to node i.
func (g *Graph) WeightedDegree(i int) float64 {
	if i < 0 || i >= len(g.Nodes) {
		return 0
	}
	var total float64
	for _, w := range g.adj[i] {
		total += w
	}
	return total
}
