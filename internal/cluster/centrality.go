package cluster

import (
	"github.com/davonroy/oddsmesh/internal/simgraph"
)

// betweenness returns normalized betweenness centrality per node, treating
// edges as unweighted. Brandes accumulation counts each pair from both
// endpoints, so the undirected normalization divides by (n-1)(n-2).
func betweenness(g *simgraph.Graph) []float64 {
	n := len(g.Nodes)
	bc := make([]float64, n)
	if n < 3 {
		return bc
	}

	dist := make([]int, n)
	sigma := make([]float64, n)
	delta := make([]float64, n)
	preds := make([][]int, n)
	queue := make([]int, 0, n)
	stack := make([]int, 0, n)

	for s := 0; s < n; s++ {
		stack = stack[:0]
		queue = queue[:0]
		for i := 0; i < n; i++ {
			dist[i] = -1
			sigma[i] = 0
			delta[i] = 0
			preds[i] = preds[i][:0]
		}
		dist[s] = 0
		sigma[s] = 1
		queue = append(queue, s)

		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			stack = append(stack, v)
			for _, w := range g.Neighbors(v) {
				if dist[w] < 0 {
					dist[w] = dist[v] + 1
					queue = append(queue, w)
				}
				if dist[w] == dist[v]+1 {
					sigma[w] += sigma[v]
					preds[w] = append(preds[w], v)
				}
			}
		}

		for i := len(stack) - 1; i >= 0; i-- {
			w := stack[i]
			for _, v := range preds[w] {
				delta[v] += sigma[v] / sigma[w] * (1 + delta[w])
			}
			if w != s {
				bc[w] += delta[w]
			}
		}
	}

	norm := float64((n - 1) * (n - 2))
	for i := range bc {
		bc[i] /= norm
	}
	return bc
}
