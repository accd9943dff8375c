package escalate

import (
	"sort"

	"github.com/davonroy/oddsmesh/internal/normalize"
)

// Shortlist keeps each listing's top-k candidate pairs by Jaccard similarity
// of the title token sets, bounding the prompt budget before any oracle call.
// A pair survives when it ranks inside the top k for either of its listings.
// Output order is deterministic: descending Jaccard, then keys.
func Shortlist(pairs []Pair, k int) []Pair {
	if k <= 0 || len(pairs) == 0 {
		return nil
	}

	type ranked struct {
		Pair
		jaccard float64
	}
	rs := make([]ranked, len(pairs))
	for i, p := range pairs {
		rs[i] = ranked{Pair: p, jaccard: Jaccard(p.TitleA, p.TitleB)}
	}
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].jaccard != rs[j].jaccard {
			return rs[i].jaccard > rs[j].jaccard
		}
		if rs[i].KeyA != rs[j].KeyA {
			return rs[i].KeyA < rs[j].KeyA
		}
		return rs[i].KeyB < rs[j].KeyB
	})

	rank := make(map[string]int, len(rs)*2)
	out := make([]Pair, 0, len(rs))
	for _, r := range rs {
		if rank[r.KeyA] < k || rank[r.KeyB] < k {
			out = append(out, r.Pair)
		}
		rank[r.KeyA]++
		rank[r.KeyB]++
	}
	return out
}

// Jaccard returns the Jaccard similarity of two titles' token sets.
func Jaccard(titleA, titleB string) float64 {
	a := normalize.TokenSet(titleA, nil)
	b := normalize.TokenSet(titleB, nil)
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	for tok := range small {
		if large[tok] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
