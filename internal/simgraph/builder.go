package simgraph

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/davonroy/oddsmesh/internal/alias"
	"github.com/davonroy/oddsmesh/internal/config"
	"github.com/davonroy/oddsmesh/internal/domain"
	"github.com/davonroy/oddsmesh/internal/normalize"
)

// ghostEdgeWeight is the weight of a listing-to-ghost edge. Strong enough to
// pull alias-linked listings into one community, below 1 so literal evidence
// still dominates.
const ghostEdgeWeight = 0.9

// minBlockTokenLen keeps very short tokens out of the blocking index; they
// are too generic to propose candidate pairs.
const minBlockTokenLen = 4

// Builder constructs the similarity graph for one epoch.
type Builder struct {
	cfg     config.ResolveConfig
	aliases *alias.Memory
	pipe    *Pipeline
	logger  *slog.Logger
}

// NewBuilder returns a Builder using the given rule pipeline. Pass the
// result of NewPipeline(DefaultRules(cfg)...) unless a caller composes its
// own rules.
func NewBuilder(cfg config.ResolveConfig, aliases *alias.Memory, pipe *Pipeline, logger *slog.Logger) *Builder {
	return &Builder{
		cfg:     cfg,
		aliases: aliases,
		pipe:    pipe,
		logger:  logger.With(slog.String("component", "simgraph")),
	}
}

// candidatePair is one blocked pair awaiting scoring.
type candidatePair struct {
	a, b int
}

// Build constructs the graph over the given listings: listing nodes in
// sorted key order, ghost nodes for shared entities, and scored edges for
// every blocked candidate pair that clears the admission floor. Node indices
// and edges are deterministic for a given input snapshot.
func (b *Builder) Build(ctx context.Context, listings []domain.Listing) (*Graph, error) {
	sorted := make([]domain.Listing, len(listings))
	copy(sorted, listings)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key() < sorted[j].Key() })

	g := NewGraph()
	for _, l := range sorted {
		g.AddNode(b.listingNode(l))
	}

	b.addGhosts(g)

	pairs := b.blockCandidates(g)
	scores := make([]float64, len(pairs))

	workers := b.cfg.BlockWorkers
	if workers < 1 {
		workers = 1
	}
	eg, _ := errgroup.WithContext(ctx)
	chunk := (len(pairs) + workers - 1) / workers
	for w := 0; w < workers && w*chunk < len(pairs); w++ {
		lo := w * chunk
		hi := lo + chunk
		if hi > len(pairs) {
			hi = len(pairs)
		}
		eg.Go(func() error {
			for i := lo; i < hi; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				score, _ := b.pipe.Score(&g.Nodes[pairs[i].a], &g.Nodes[pairs[i].b])
				scores[i] = score
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("simgraph: score pairs: %w", err)
	}

	admitted := 0
	for i, p := range pairs {
		if scores[i] >= b.cfg.AdmissionFloor {
			g.AddEdge(p.a, p.b, scores[i])
			admitted++
		}
	}

	b.logger.Debug("graph built",
		slog.Int("listings", len(sorted)),
		slog.Int("nodes", len(g.Nodes)),
		slog.Int("candidate_pairs", len(pairs)),
		slog.Int("admitted_edges", admitted),
	)
	return g, nil
}

// listingNode builds the arena node for one listing: token set, resolved
// entities, event day. Resolved mentions contribute their canonical name's
// tokens so known aliases score as literal overlap.
func (b *Builder) listingNode(l domain.Listing) Node {
	tokens := normalize.TokenSet(l.Title, nil)

	var entities []string
	seen := make(map[string]bool)
	for _, m := range l.Mentions {
		ent, ok := b.aliases.Resolve(m.Surface)
		if !ok {
			continue
		}
		if !seen[ent.ID] {
			seen[ent.ID] = true
			entities = append(entities, ent.ID)
		}
		for _, tok := range normalize.Tokens(normalize.CleanTitle(ent.Name), nil) {
			tokens[tok] = true
		}
	}
	sort.Strings(entities)

	return Node{
		Kind:     NodeListing,
		Key:      l.Key(),
		Listing:  l,
		Entities: entities,
		Tokens:   tokens,
		Category: l.Category,
		EventDay: eventDayOf(l.EventTime),
	}
}

// addGhosts synthesizes one ghost node per entity referenced by at least two
// listings and connects each referencing listing to it.
func (b *Builder) addGhosts(g *Graph) {
	refs := make(map[string][]int)
	for i := range g.Nodes {
		for _, ent := range g.Nodes[i].Entities {
			refs[ent] = append(refs[ent], i)
		}
	}

	ids := make([]string, 0, len(refs))
	for ent, nodes := range refs {
		if len(nodes) >= 2 {
			ids = append(ids, ent)
		}
	}
	sort.Strings(ids)

	for _, ent := range ids {
		tokens := normalize.TokenSet(ent, nil)
		for _, ghost := range alias.Ghosts(ent) {
			for _, tok := range normalize.Tokens(normalize.CleanTitle(ghost), nil) {
				tokens[tok] = true
			}
		}
		idx := g.AddNode(Node{
			Kind:     NodeGhost,
			Key:      "ghost:" + ent,
			Entities: []string{ent},
			Tokens:   tokens,
		})
		for _, ref := range refs[ent] {
			g.AddEdge(ref, idx, ghostEdgeWeight)
		}
	}
}

// blockCandidates proposes pairs worth scoring: listings sharing a blocking
// token, in the same category, within the temporal window. This is the step
// that keeps pair scoring far below quadratic over the full corpus.
func (b *Builder) blockCandidates(g *Graph) []candidatePair {
	buckets := make(map[string][]int)
	for i := range g.Nodes {
		if g.Nodes[i].Kind != NodeListing {
			continue
		}
		for tok := range g.Nodes[i].Tokens {
			if len(tok) >= minBlockTokenLen {
				buckets[tok] = append(buckets[tok], i)
			}
		}
	}

	toks := make([]string, 0, len(buckets))
	for tok := range buckets {
		toks = append(toks, tok)
	}
	sort.Strings(toks)

	seen := make(map[[2]int]bool)
	perNode := make(map[int]int)
	var pairs []candidatePair

	for _, tok := range toks {
		bucket := buckets[tok]
		sort.Ints(bucket)
		for x := 0; x < len(bucket); x++ {
			for y := x + 1; y < len(bucket); y++ {
				a, c := bucket[x], bucket[y]
				key := [2]int{a, c}
				if seen[key] {
					continue
				}
				if !b.blockable(&g.Nodes[a], &g.Nodes[c]) {
					seen[key] = true
					continue
				}
				if perNode[a] >= b.cfg.MaxPairsPerNode || perNode[c] >= b.cfg.MaxPairsPerNode {
					continue
				}
				seen[key] = true
				perNode[a]++
				perNode[c]++
				pairs = append(pairs, candidatePair{a: a, b: c})
			}
		}
	}
	return pairs
}

// blockable applies the blocking filters that need no scoring: category
// agreement and the temporal window. An empty category or a missing event
// time never disqualifies on its own.
func (b *Builder) blockable(a, c *Node) bool {
	if a.Category != "" && c.Category != "" && a.Category != c.Category {
		return false
	}
	at, ct := a.Listing.EventTime, c.Listing.EventTime
	if !at.IsZero() && !ct.IsZero() {
		gap := at.Sub(ct)
		if gap < 0 {
			gap = -gap
		}
		if gap > b.cfg.BlockWindow.Duration {
			return false
		}
	}
	return true
}

func eventDayOf(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}
