package cluster

import (
	"sort"

	"github.com/davonroy/oddsmesh/internal/simgraph"
)

type commState struct {
	members []int
	min     int
	tot     float64 // sum of weighted degrees of members
}

type commLink struct {
	weight float64
	count  int
}

// communities partitions the graph by greedy modularity agglomeration over
// edge weights. Each node starts alone; the connected community pair with
// the highest positive modularity gain merges until no gain remains. Equal
// gains break toward the higher average cross-edge weight, then the lower
// combined smallest node index, so a given graph always yields the same
// partition. Isolated nodes come out as singletons.
func communities(g *simgraph.Graph) [][]int {
	n := len(g.Nodes)
	if n == 0 {
		return nil
	}
	m := g.TotalWeight()

	comms := make(map[int]*commState, n)
	for i := 0; i < n; i++ {
		comms[i] = &commState{members: []int{i}, min: i, tot: g.WeightedDegree(i)}
	}

	links := make(map[[2]int]*commLink)
	for _, e := range g.Edges() {
		links[[2]int{e.A, e.B}] = &commLink{weight: e.Weight, count: 1}
	}

	keys := make([][2]int, 0, len(links))
	for len(links) > 0 {
		keys = keys[:0]
		for k := range links {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			if keys[i][0] != keys[j][0] {
				return keys[i][0] < keys[j][0]
			}
			return keys[i][1] < keys[j][1]
		})

		var (
			found             bool
			bestKey           [2]int
			bestGain, bestAvg float64
			bestCombined      int
		)
		for _, k := range keys {
			l := links[k]
			a, b := comms[k[0]], comms[k[1]]
			gain := l.weight/m - a.tot*b.tot/(2*m*m)
			if gain <= 0 {
				continue
			}
			avg := l.weight / float64(l.count)
			combined := a.min + b.min
			better := !found || gain > bestGain ||
				(gain == bestGain && avg > bestAvg) ||
				(gain == bestGain && avg == bestAvg && combined < bestCombined)
			if better {
				found = true
				bestKey, bestGain, bestAvg, bestCombined = k, gain, avg, combined
			}
		}
		if !found {
			break
		}
		merge(comms, links, bestKey[0], bestKey[1])
	}

	ids := make([]int, 0, len(comms))
	for id := range comms {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([][]int, 0, len(ids))
	for _, id := range ids {
		c := comms[id]
		sort.Ints(c.members)
		out = append(out, c.members)
	}
	return out
}

// merge folds community src into dst and repoints src's links.
func merge(comms map[int]*commState, links map[[2]int]*commLink, dst, src int) {
	if dst > src {
		dst, src = src, dst
	}
	d, s := comms[dst], comms[src]
	d.members = append(d.members, s.members...)
	if s.min < d.min {
		d.min = s.min
	}
	d.tot += s.tot
	delete(comms, src)
	delete(links, [2]int{dst, src})

	for k, l := range links {
		var other int
		switch {
		case k[0] == src:
			other = k[1]
		case k[1] == src:
			other = k[0]
		default:
			continue
		}
		delete(links, k)
		nk := [2]int{dst, other}
		if nk[0] > nk[1] {
			nk[0], nk[1] = nk[1], nk[0]
		}
		if ex, ok := links[nk]; ok {
			ex.weight += l.weight
			ex.count += l.count
		} else {
			links[nk] = &commLink{weight: l.weight, count: l.count}
		}
	}
}
