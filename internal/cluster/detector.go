// Package cluster partitions the similarity graph into event clusters.
// Hub pruning cuts generic-term bridges off high-centrality nodes, a
// structural qualifier gate keeps titles like "Illinois" and "Illinois
// State" apart no matter how well they score, a band gate holds back
// score-ambiguous edges for escalation, and greedy modularity agglomeration
// finds communities in what remains. Precision decisions leave Rejection
// records.
package cluster

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/davonroy/oddsmesh/internal/config"
	"github.com/davonroy/oddsmesh/internal/domain"
	"github.com/davonroy/oddsmesh/internal/normalize"
	"github.com/davonroy/oddsmesh/internal/simgraph"
)

// Detector turns a similarity graph into a disjoint cluster cover.
type Detector struct {
	cfg     config.ResolveConfig
	logger  *slog.Logger
	generic map[string]bool
	quals   map[string]bool
}

// NewDetector builds a detector with the built-in generic-term and qualifier
// sets extended by configuration.
func NewDetector(cfg config.ResolveConfig, logger *slog.Logger) *Detector {
	generic := make(map[string]bool, len(genericTerms)+len(cfg.ExtraGenericTerms))
	for t := range genericTerms {
		generic[t] = true
	}
	for _, t := range cfg.ExtraGenericTerms {
		generic[normalize.CleanTitle(t)] = true
	}
	quals := make(map[string]bool, len(qualifierDenylist)+len(cfg.ExtraQualifiers))
	for t := range qualifierDenylist {
		quals[t] = true
	}
	for _, t := range cfg.ExtraQualifiers {
		quals[normalize.CleanTitle(t)] = true
	}
	return &Detector{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "cluster")),
		generic: generic,
		quals:   quals,
	}
}

// Ambiguous is an edge inside the accept/reject band: too strong to
// discard, too weak to merge on. These are the escalation candidates.
type Ambiguous struct {
	KeyA, KeyB       string
	TitleA, TitleB   string
	EntityA, EntityB string
	Score            float64
}

// Result is one epoch's partition with its forensic trail.
type Result struct {
	Clusters   []domain.Cluster
	Ambiguous  []Ambiguous
	Rejections []domain.Rejection
}

// Partition prunes the graph and groups its listings into clusters. Every
// listing lands in exactly one cluster, unmatched ones in clusters of size
// one. The graph is consumed: pruning and gating remove edges in place.
func (d *Detector) Partition(epochID string, g *simgraph.Graph) Result {
	var res Result
	res.Rejections = append(res.Rejections, d.pruneHubs(epochID, g)...)
	res.Rejections = append(res.Rejections, d.gateEdges(epochID, g)...)
	res.Ambiguous = d.gateBand(g)

	comms := communities(g)

	now := time.Now().UTC()
	for _, comm := range comms {
		groups := d.splitGroups(g, comm)
		if len(groups) == 0 {
			continue
		}
		sigs := make([]string, 0, len(groups))
		for sig := range groups {
			sigs = append(sigs, sig)
		}
		sort.Strings(sigs)

		for _, sig := range sigs {
			c := domain.NewCluster(epochID, groups[sig])
			c.CreatedAt = now
			res.Clusters = append(res.Clusters, c)
		}
		for i := 1; i < len(sigs); i++ {
			res.Rejections = append(res.Rejections, domain.Rejection{
				EpochID:   epochID,
				Stage:     domain.StageGate,
				Rule:      "community_split",
				Subject:   groups[sigs[0]][0] + "|" + groups[sigs[i]][0],
				Reason:    fmt.Sprintf("community split on signature %q vs %q", sigs[0], sigs[i]),
				CreatedAt: now,
			})
		}
	}

	sort.Slice(res.Clusters, func(i, j int) bool {
		return res.Clusters[i].Members[0] < res.Clusters[j].Members[0]
	})

	d.logger.Debug("graph partitioned",
		slog.Int("communities", len(comms)),
		slog.Int("clusters", len(res.Clusters)),
		slog.Int("ambiguous", len(res.Ambiguous)),
		slog.Int("rejections", len(res.Rejections)),
	)
	return res
}

// gateBand strips edges below the confident-merge threshold before
// community detection, so clusters only ever form on scores the lexical
// rules vouch for. Edges inside the band come back as escalation
// candidates; edges below it served as pruning evidence and are dropped.
// Ghost edges carry alias resolutions rather than lexical scores and pass
// regardless of weight.
func (d *Detector) gateBand(g *simgraph.Graph) []Ambiguous {
	var out []Ambiguous
	for _, e := range g.Edges() {
		a, b := &g.Nodes[e.A], &g.Nodes[e.B]
		if a.Kind != simgraph.NodeListing || b.Kind != simgraph.NodeListing {
			continue
		}
		if e.Weight >= d.cfg.AcceptAbove {
			continue
		}
		g.RemoveEdge(e.A, e.B)
		if e.Weight < d.cfg.RejectBelow {
			continue
		}
		out = append(out, Ambiguous{
			KeyA:    a.Key,
			KeyB:    b.Key,
			TitleA:  a.Listing.Title,
			TitleB:  b.Listing.Title,
			EntityA: firstEntity(a),
			EntityB: firstEntity(b),
			Score:   e.Weight,
		})
	}
	return out
}

func firstEntity(n *simgraph.Node) string {
	if len(n.Entities) > 0 {
		return n.Entities[0]
	}
	return ""
}

// pruneHubs removes generic-dominated edges incident to high-centrality
// nodes. This is the primary false-positive defense: a shared "united" on a
// bridge node would otherwise pull unrelated clubs into one community.
func (d *Detector) pruneHubs(epochID string, g *simgraph.Graph) []domain.Rejection {
	bc := betweenness(g)
	now := time.Now().UTC()
	var out []domain.Rejection
	for i := range g.Nodes {
		if bc[i] <= d.cfg.CentralityCut {
			continue
		}
		for _, j := range g.Neighbors(i) {
			shared := d.genericOnlyOverlap(&g.Nodes[i], &g.Nodes[j])
			if shared == "" {
				continue
			}
			g.RemoveEdge(i, j)
			out = append(out, domain.Rejection{
				EpochID:   epochID,
				Stage:     domain.StagePrune,
				Rule:      "hub_generic_edge",
				Subject:   g.Nodes[i].Key + "|" + g.Nodes[j].Key,
				Reason:    fmt.Sprintf("hub centrality %.3f, overlap limited to generic terms %s", bc[i], shared),
				CreatedAt: now,
			})
		}
	}
	return out
}

// genericOnlyOverlap returns the sorted shared tokens when every one of them
// is generic, empty otherwise. Edges with no token overlap (ghost edges) are
// never candidates.
func (d *Detector) genericOnlyOverlap(a, b *simgraph.Node) string {
	var shared []string
	for tok := range a.Tokens {
		if !b.Tokens[tok] {
			continue
		}
		if !d.generic[tok] {
			return ""
		}
		shared = append(shared, tok)
	}
	if len(shared) == 0 {
		return ""
	}
	sort.Strings(shared)
	return strings.Join(shared, ",")
}

// gateEdges removes edges between listings whose qualifier signatures
// disagree. This is a hard gate, not a score adjustment: "Virginia Tech"
// never clusters with "Virginia" through any weight of token overlap.
func (d *Detector) gateEdges(epochID string, g *simgraph.Graph) []domain.Rejection {
	now := time.Now().UTC()
	var out []domain.Rejection
	for _, e := range g.Edges() {
		a, b := &g.Nodes[e.A], &g.Nodes[e.B]
		if a.Kind != simgraph.NodeListing || b.Kind != simgraph.NodeListing {
			continue
		}
		sa, sb := d.qualifierSig(a.Listing.Title), d.qualifierSig(b.Listing.Title)
		if sa == sb {
			continue
		}
		g.RemoveEdge(e.A, e.B)
		out = append(out, domain.Rejection{
			EpochID:   epochID,
			Stage:     domain.StageGate,
			Rule:      "qualifier_denylist",
			Subject:   a.Key + "|" + b.Key,
			Reason:    fmt.Sprintf("qualifier signature %q vs %q", sa, sb),
			CreatedAt: now,
		})
	}
	return out
}

// splitGroups materializes a community's listing members grouped by their
// structural signature. Ghost-bridged paths can join listings the pairwise
// gates never compared, so the signatures are re-checked here; a community
// with mixed signatures becomes several clusters.
func (d *Detector) splitGroups(g *simgraph.Graph, comm []int) map[string][]string {
	groups := make(map[string][]string)
	for _, idx := range comm {
		n := &g.Nodes[idx]
		if n.Kind != simgraph.NodeListing {
			continue
		}
		sig := fingerprintSig(n.Listing.Fingerprint) + "#" + d.qualifierSig(n.Listing.Title)
		groups[sig] = append(groups[sig], n.Key)
	}
	return groups
}
