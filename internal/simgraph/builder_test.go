package simgraph

import (
	"context"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/davonroy/oddsmesh/internal/alias"
	"github.com/davonroy/oddsmesh/internal/config"
	"github.com/davonroy/oddsmesh/internal/domain"
)

// stubAliasStore serves curated rows and accepts writes it never replays.
type stubAliasStore struct {
	curated []domain.AliasRecord
}

func (s *stubAliasStore) LoadCurated(ctx context.Context) ([]domain.AliasRecord, error) {
	return s.curated, nil
}

func (s *stubAliasStore) LoadLearned(ctx context.Context) ([]domain.AliasRecord, error) {
	return nil, nil
}

func (s *stubAliasStore) LoadMerges(ctx context.Context) ([]domain.MergeRecord, error) {
	return nil, nil
}

func (s *stubAliasStore) AppendLearned(ctx context.Context, records []domain.AliasRecord) error {
	return nil
}

func (s *stubAliasStore) RecordMerge(ctx context.Context, m domain.MergeRecord) error {
	return nil
}

var _ domain.AliasStore = (*stubAliasStore)(nil)

func testBuilder(t *testing.T, store *stubAliasStore, mutate func(*config.ResolveConfig)) *Builder {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := alias.NewMemory(store, logger)
	if err := mem.Load(context.Background()); err != nil {
		t.Fatalf("Load() = %v", err)
	}
	cfg := config.Defaults().Resolve
	cfg.BlockWorkers = 2
	if mutate != nil {
		mutate(&cfg)
	}
	return NewBuilder(cfg, mem, NewPipeline(DefaultRules(cfg)...), logger)
}

func moneylineListing(venue, id, title, category string, eventTime time.Time) domain.Listing {
	return domain.Listing{
		VenueID:     venue,
		ListingID:   id,
		Title:       title,
		Category:    category,
		Fingerprint: domain.Fingerprint{Scope: domain.ScopeFull, Type: domain.TypeMoneyline},
		EventTime:   eventTime,
	}
}

func TestBuild_AdmitsSameEventPair(t *testing.T) {
	day := time.Date(2026, 7, 12, 14, 0, 0, 0, time.UTC)
	listings := []domain.Listing{
		moneylineListing("venueA", "m1", "Alcaraz vs Sinner", "tennis", day),
		moneylineListing("venueB", "m2", "Sinner v Alcaraz winner", "tennis", day.Add(30*time.Minute)),
	}

	b := testBuilder(t, &stubAliasStore{}, nil)
	g, err := b.Build(context.Background(), listings)
	if err != nil {
		t.Fatalf("Build() = %v", err)
	}

	if len(g.Nodes) != 2 {
		t.Fatalf("len(Nodes) = %d, want 2", len(g.Nodes))
	}
	w, ok := g.Weight(0, 1)
	if !ok {
		t.Fatal("no edge between same-event listings")
	}
	if w < b.cfg.AdmissionFloor {
		t.Errorf("edge weight %v below admission floor %v", w, b.cfg.AdmissionFloor)
	}
}

func TestBuild_FingerprintGateBlocksEdge(t *testing.T) {
	day := time.Date(2026, 7, 12, 14, 0, 0, 0, time.UTC)
	full := moneylineListing("venueA", "m1", "Alcaraz vs Sinner", "tennis", day)
	half := moneylineListing("venueB", "m2", "Alcaraz vs Sinner first half", "tennis", day)
	half.Fingerprint.Scope = domain.ScopeHalf1

	b := testBuilder(t, &stubAliasStore{}, nil)
	g, err := b.Build(context.Background(), []domain.Listing{full, half})
	if err != nil {
		t.Fatalf("Build() = %v", err)
	}
	if got := g.EdgeCount(); got != 0 {
		t.Errorf("EdgeCount() = %d, want 0 for incompatible fingerprints", got)
	}
}

func TestBuild_CategoryDisagreementBlocksPair(t *testing.T) {
	day := time.Date(2026, 7, 12, 14, 0, 0, 0, time.UTC)
	listings := []domain.Listing{
		moneylineListing("venueA", "m1", "Chicago Bulls vs Boston Celtics", "basketball", day),
		moneylineListing("venueB", "m2", "Chicago Bulls vs Boston Celtics", "esports", day),
	}

	b := testBuilder(t, &stubAliasStore{}, nil)
	g, err := b.Build(context.Background(), listings)
	if err != nil {
		t.Fatalf("Build() = %v", err)
	}
	if got := g.EdgeCount(); got != 0 {
		t.Errorf("EdgeCount() = %d, want 0 across categories", got)
	}
}

func TestBuild_GhostBridgesAliasedListings(t *testing.T) {
	store := &stubAliasStore{curated: []domain.AliasRecord{
		{Surface: "jannik sinner", EntityID: "jannik sinner", Source: domain.AliasCurated},
		{Surface: "j. sinner", EntityID: "jannik sinner", Source: domain.AliasCurated},
	}}

	a := moneylineListing("venueA", "m1", "Jannik Sinner advances", "tennis", time.Time{})
	a.Mentions = []domain.EntityMention{{Surface: "jannik sinner"}}
	b := moneylineListing("venueB", "m2", "Italian no. 1 through to the final", "tennis", time.Time{})
	b.Mentions = []domain.EntityMention{{Surface: "j. sinner"}}
	solo := moneylineListing("venueC", "m3", "Djokovic retires", "tennis", time.Time{})
	solo.Mentions = []domain.EntityMention{{Surface: "djokovic"}}

	builder := testBuilder(t, store, nil)

	g, err := builder.Build(context.Background(), []domain.Listing{a, b})
	if err != nil {
		t.Fatalf("Build() = %v", err)
	}

	ghost := -1
	for i := range g.Nodes {
		if g.Nodes[i].Kind == NodeGhost {
			if ghost >= 0 {
				t.Fatal("more than one ghost node")
			}
			ghost = i
		}
	}
	if ghost < 0 {
		t.Fatal("no ghost node for shared entity")
	}
	if g.Nodes[ghost].Key != "ghost:jannik sinner" {
		t.Errorf("ghost key = %q", g.Nodes[ghost].Key)
	}
	for i := 0; i < 2; i++ {
		if w, ok := g.Weight(i, ghost); !ok || w != ghostEdgeWeight {
			t.Errorf("Weight(%d, ghost) = %v, %v, want %v", i, w, ok, ghostEdgeWeight)
		}
	}

	// An entity mentioned by a single listing earns no ghost.
	g2, err := builder.Build(context.Background(), []domain.Listing{a, solo})
	if err != nil {
		t.Fatalf("Build() = %v", err)
	}
	for i := range g2.Nodes {
		if g2.Nodes[i].Kind == NodeGhost {
			t.Errorf("unexpected ghost node %q", g2.Nodes[i].Key)
		}
	}
}

func TestBuild_CanonicalTokensResolveAliases(t *testing.T) {
	store := &stubAliasStore{curated: []domain.AliasRecord{
		{Surface: "man utd", EntityID: "manchester united", Source: domain.AliasCurated},
	}}
	l := moneylineListing("venueA", "m1", "Man Utd to lift the cup", "soccer", time.Time{})
	l.Mentions = []domain.EntityMention{{Surface: "man utd"}}

	b := testBuilder(t, store, nil)
	g, err := b.Build(context.Background(), []domain.Listing{l})
	if err != nil {
		t.Fatalf("Build() = %v", err)
	}
	node := g.Nodes[0]
	if !node.Tokens["manchester"] || !node.Tokens["united"] {
		t.Errorf("canonical tokens missing from node set: %v", node.Tokens)
	}
	if len(node.Entities) != 1 || node.Entities[0] != "manchester united" {
		t.Errorf("Entities = %v, want [manchester united]", node.Entities)
	}
}

func TestBuild_MaxPairsPerNodeCaps(t *testing.T) {
	day := time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)
	listings := []domain.Listing{
		moneylineListing("venueA", "m1", "Lakers vs Celtics", "basketball", day),
		moneylineListing("venueB", "m2", "Lakers vs Celtics", "basketball", day),
		moneylineListing("venueC", "m3", "Lakers vs Celtics", "basketball", day),
	}

	b := testBuilder(t, &stubAliasStore{}, func(cfg *config.ResolveConfig) {
		cfg.MaxPairsPerNode = 1
	})
	g, err := b.Build(context.Background(), listings)
	if err != nil {
		t.Fatalf("Build() = %v", err)
	}
	if got := g.EdgeCount(); got != 1 {
		t.Errorf("EdgeCount() = %d, want 1 under cap", got)
	}
	if _, ok := g.Weight(0, 1); !ok {
		t.Error("capped build should keep the first sorted pair")
	}
}

func TestBuild_Deterministic(t *testing.T) {
	day := time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)
	forward := []domain.Listing{
		moneylineListing("venueA", "m1", "Lakers vs Celtics", "basketball", day),
		moneylineListing("venueB", "m2", "Celtics v Lakers", "basketball", day),
		moneylineListing("venueC", "m3", "Warriors vs Suns", "basketball", day),
	}
	reversed := []domain.Listing{forward[2], forward[0], forward[1]}

	b := testBuilder(t, &stubAliasStore{}, nil)
	g1, err := b.Build(context.Background(), forward)
	if err != nil {
		t.Fatalf("Build() = %v", err)
	}
	g2, err := b.Build(context.Background(), reversed)
	if err != nil {
		t.Fatalf("Build() = %v", err)
	}

	keys1 := make([]string, len(g1.Nodes))
	keys2 := make([]string, len(g2.Nodes))
	for i := range g1.Nodes {
		keys1[i] = g1.Nodes[i].Key
	}
	for i := range g2.Nodes {
		keys2[i] = g2.Nodes[i].Key
	}
	if !reflect.DeepEqual(keys1, keys2) {
		t.Errorf("node order differs: %v vs %v", keys1, keys2)
	}
	if !reflect.DeepEqual(g1.Edges(), g2.Edges()) {
		t.Errorf("edges differ: %+v vs %+v", g1.Edges(), g2.Edges())
	}
}

func TestBuild_CancelledContext(t *testing.T) {
	day := time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)
	listings := []domain.Listing{
		moneylineListing("venueA", "m1", "Lakers vs Celtics", "basketball", day),
		moneylineListing("venueB", "m2", "Lakers vs Celtics", "basketball", day),
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := testBuilder(t, &stubAliasStore{}, nil)
	if _, err := b.Build(ctx, listings); err == nil {
		t.Fatal("Build() with cancelled context should fail")
	}
}
