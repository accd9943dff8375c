// Package constraint compiles a resolved cluster's outcome structure into a
// linear system over outcome probabilities: one sum-to-one partition per
// venue listing, equality links between matching outcome labels across
// venues, entailment inequalities for strengthened labels, and pairwise
// exclusions. A system whose bounds cannot all hold at once is reported as
// infeasible so the cluster is excluded from detection instead of producing
// garbage signals.
package constraint

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"strings"

	"github.com/davonroy/oddsmesh/internal/domain"
	"github.com/davonroy/oddsmesh/internal/normalize"
	"github.com/shopspring/decimal"
)

// labelSynonyms folds venue label spellings onto one canonical form before
// cross-venue matching.
var labelSynonyms = map[string]string{
	"y":     "yes",
	"true":  "yes",
	"win":   "yes",
	"n":     "no",
	"false": "no",
	"lose":  "no",
	"tie":   "draw",
	"x":     "draw",
	"o":     "over",
	"u":     "under",
}

// strengtheners are label suffixes that strictly strengthen a base outcome:
// "alcaraz to win in straight sets" entails "alcaraz to win", so the longer
// label's probability can never exceed the shorter one's.
var strengtheners = []string{
	"to nil",
	"in straight sets",
	"by knockout",
	"by ko",
	"by tko",
	"by decision",
	"by submission",
	"2-0",
	"3-0",
	"4-0",
	"by 10 or more",
	"by 20 or more",
}

// Builder compiles clusters into constraint sets.
type Builder struct {
	logger *slog.Logger
}

// NewBuilder returns a Builder logging under the "constraint" component.
func NewBuilder(logger *slog.Logger) *Builder {
	return &Builder{
		logger: logger.With(slog.String("component", "constraint")),
	}
}

// labelIdx pairs a canonical outcome label with its vector index. A listing's
// labels are kept sorted so derived constraints come out in a stable order.
type labelIdx struct {
	canon string
	idx   int
}

// Build compiles the cluster's members into a ConstraintSet. Every listing's
// outcome set is treated as exhaustive for its market, so each member
// contributes one sum-to-one partition; a single-outcome listing therefore
// asserts certainty, and two venues asserting conflicting certainties is
// exactly the infeasible case. Returns ErrInfeasibleConstraints when bounds
// propagation proves the system empty.
func (b *Builder) Build(cluster domain.Cluster, listings map[string]domain.Listing) (domain.ConstraintSet, error) {
	cs := domain.ConstraintSet{ClusterID: cluster.ID}

	byMember := make([][]labelIdx, 0, len(cluster.Members))
	for _, key := range cluster.Members {
		l, ok := listings[key]
		if !ok {
			return domain.ConstraintSet{}, fmt.Errorf("constraint: cluster %s: listing %s not in snapshot: %w", cluster.ID, key, domain.ErrNotFound)
		}
		part := domain.Partition{Label: key}
		labels := make([]labelIdx, 0, len(l.Outcomes))
		for _, o := range l.Outcomes {
			idx := len(cs.Outcomes)
			cs.Outcomes = append(cs.Outcomes, domain.OutcomeRef{ListingKey: key, Label: o.Label})
			part.Indexes = append(part.Indexes, idx)
			labels = append(labels, labelIdx{canon: canonLabel(o.Label), idx: idx})
		}
		cs.Partitions = append(cs.Partitions, part)
		sort.Slice(labels, func(i, j int) bool { return labels[i].canon < labels[j].canon })
		byMember = append(byMember, dropAmbiguous(labels))
	}

	b.linkMembers(&cs, byMember)
	cs.Version = version(cluster.ID, cs.Outcomes)

	if detail, ok := feasible(cs); !ok {
		return domain.ConstraintSet{}, fmt.Errorf("constraint: cluster %s: %s: %w", cluster.ID, detail, domain.ErrInfeasibleConstraints)
	}

	b.logger.Debug("constraint set compiled",
		slog.String("cluster", cluster.ID),
		slog.Int("outcomes", len(cs.Outcomes)),
		slog.Int("partitions", len(cs.Partitions)),
		slog.Int("implications", len(cs.Implications)),
		slog.Int("exclusions", len(cs.Exclusions)),
	)
	return cs, nil
}

// linkMembers derives the cross-venue constraints for every listing pair:
// equal canonical labels become a mutual implication (probability equality),
// a strengthened label implies its base, and an outcome equal to one member
// of another listing's partition excludes the remaining members.
func (b *Builder) linkMembers(cs *domain.ConstraintSet, byMember [][]labelIdx) {
	exclSeen := make(map[domain.Exclusion]bool)
	for ai := 0; ai < len(byMember); ai++ {
		for bi := ai + 1; bi < len(byMember); bi++ {
			for _, la := range byMember[ai] {
				for _, lb := range byMember[bi] {
					switch {
					case la.canon == lb.canon:
						cs.Implications = append(cs.Implications,
							domain.Implication{Premise: la.idx, Conclusion: lb.idx},
							domain.Implication{Premise: lb.idx, Conclusion: la.idx},
						)
						excludeMates(cs, exclSeen, la.idx, byMember[bi], lb.idx)
						excludeMates(cs, exclSeen, lb.idx, byMember[ai], la.idx)
					case strengthens(la.canon, lb.canon):
						cs.Implications = append(cs.Implications, domain.Implication{Premise: la.idx, Conclusion: lb.idx})
					case strengthens(lb.canon, la.canon):
						cs.Implications = append(cs.Implications, domain.Implication{Premise: lb.idx, Conclusion: la.idx})
					}
				}
			}
		}
	}
	sort.Slice(cs.Implications, func(i, j int) bool {
		if cs.Implications[i].Premise != cs.Implications[j].Premise {
			return cs.Implications[i].Premise < cs.Implications[j].Premise
		}
		return cs.Implications[i].Conclusion < cs.Implications[j].Conclusion
	})
	sort.Slice(cs.Exclusions, func(i, j int) bool {
		if cs.Exclusions[i].A != cs.Exclusions[j].A {
			return cs.Exclusions[i].A < cs.Exclusions[j].A
		}
		return cs.Exclusions[i].B < cs.Exclusions[j].B
	})
}

// excludeMates records that idx cannot co-occur with any partition mate of
// its equal counterpart. Sound because idx equals the counterpart and the
// counterpart's partition sums to one.
func excludeMates(cs *domain.ConstraintSet, seen map[domain.Exclusion]bool, idx int, partition []labelIdx, counterpart int) {
	for _, mate := range partition {
		if mate.idx == counterpart {
			continue
		}
		ex := domain.Exclusion{A: idx, B: mate.idx}
		if ex.B < ex.A {
			ex.A, ex.B = ex.B, ex.A
		}
		if seen[ex] {
			continue
		}
		seen[ex] = true
		cs.Exclusions = append(cs.Exclusions, ex)
	}
}

// dropAmbiguous removes labels that appear more than once within a listing;
// a duplicated label cannot be matched across venues without guessing.
func dropAmbiguous(labels []labelIdx) []labelIdx {
	counts := make(map[string]int, len(labels))
	for _, l := range labels {
		counts[l.canon]++
	}
	out := labels[:0]
	for _, l := range labels {
		if counts[l.canon] == 1 {
			out = append(out, l)
		}
	}
	return out
}

func canonLabel(label string) string {
	c := normalize.CleanTitle(label)
	if s, ok := labelSynonyms[c]; ok {
		return s
	}
	return c
}

// strengthens reports whether canonical label a entails canonical label b
// because a is b plus a strengthening suffix.
func strengthens(a, b string) bool {
	if !strings.HasPrefix(a, b+" ") {
		return false
	}
	rest := a[len(b)+1:]
	for _, s := range strengtheners {
		if rest == s {
			return true
		}
	}
	return false
}

// feasible runs interval propagation over the system: partition sums, then
// implications, then exclusions tighten each probability's [lo, hi] bounds
// until a fixpoint. A crossed bound proves the polytope empty. Propagation
// is sound, so a feasible system is never flagged.
func feasible(cs domain.ConstraintSet) (string, bool) {
	const tol = 1e-9
	n := cs.Dim()
	lo := make([]float64, n)
	hi := make([]float64, n)
	for i := range hi {
		hi[i] = 1
	}

	changed := true
	for sweep := 0; changed && sweep < 4*n+8; sweep++ {
		changed = false
		tighten := func(i int, newLo, newHi float64) {
			if newLo > lo[i]+tol {
				lo[i] = newLo
				changed = true
			}
			if newHi < hi[i]-tol {
				hi[i] = newHi
				changed = true
			}
		}
		for _, p := range cs.Partitions {
			var loSum, hiSum float64
			for _, i := range p.Indexes {
				loSum += lo[i]
				hiSum += hi[i]
			}
			for _, i := range p.Indexes {
				tighten(i, 1-(hiSum-hi[i]), 1-(loSum-lo[i]))
			}
		}
		for _, im := range cs.Implications {
			tighten(im.Premise, 0, hi[im.Conclusion])
			tighten(im.Conclusion, lo[im.Premise], 1)
		}
		for _, ex := range cs.Exclusions {
			tighten(ex.A, 0, 1-lo[ex.B])
			tighten(ex.B, 0, 1-lo[ex.A])
		}
		for i := 0; i < n; i++ {
			if lo[i] > hi[i]+tol {
				ref := cs.Outcomes[i]
				return fmt.Sprintf("outcome %s/%s bounds cross (lower %.4f, upper %.4f)", ref.ListingKey, ref.Label, lo[i], hi[i]), false
			}
		}
	}
	return "", true
}

func version(clusterID string, outcomes []domain.OutcomeRef) int64 {
	h := fnv.New64a()
	h.Write([]byte(clusterID))
	for _, o := range outcomes {
		h.Write([]byte{0x1f})
		h.Write([]byte(o.ListingKey))
		h.Write([]byte{0x1e})
		h.Write([]byte(o.Label))
	}
	return int64(h.Sum64() & (1<<63 - 1))
}

// Vector assembles the observed probability vector for a constraint set in
// outcome order, as both float64 for projection and decimal for signal
// accounting.
func Vector(cs domain.ConstraintSet, listings map[string]domain.Listing) ([]float64, []decimal.Decimal, error) {
	observed := make([]float64, len(cs.Outcomes))
	prices := make([]decimal.Decimal, len(cs.Outcomes))
	for i, ref := range cs.Outcomes {
		l, ok := listings[ref.ListingKey]
		if !ok {
			return nil, nil, fmt.Errorf("constraint: vector: listing %s not in snapshot: %w", ref.ListingKey, domain.ErrNotFound)
		}
		found := false
		for _, o := range l.Outcomes {
			if o.Label == ref.Label {
				observed[i] = o.Probability.InexactFloat64()
				prices[i] = o.Probability
				found = true
				break
			}
		}
		if !found {
			return nil, nil, fmt.Errorf("constraint: vector: outcome %s/%s missing: %w", ref.ListingKey, ref.Label, domain.ErrCacheInconsistency)
		}
	}
	return observed, prices, nil
}
