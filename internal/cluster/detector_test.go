package cluster

import (
	"io"
	"log/slog"
	"reflect"
	"sort"
	"testing"

	"github.com/davonroy/oddsmesh/internal/config"
	"github.com/davonroy/oddsmesh/internal/domain"
	"github.com/davonroy/oddsmesh/internal/normalize"
	"github.com/davonroy/oddsmesh/internal/simgraph"
)

func testDetector(mutate func(*config.ResolveConfig)) *Detector {
	cfg := config.Defaults().Resolve
	if mutate != nil {
		mutate(&cfg)
	}
	return NewDetector(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func listingNode(key, title string, fp domain.Fingerprint) simgraph.Node {
	return simgraph.Node{
		Kind:    simgraph.NodeListing,
		Key:     key,
		Listing: domain.Listing{Title: title, Fingerprint: fp},
		Tokens:  normalize.TokenSet(title, nil),
	}
}

func moneyline() domain.Fingerprint {
	return domain.Fingerprint{Scope: domain.ScopeFull, Type: domain.TypeMoneyline}
}

func memberSets(clusters []domain.Cluster) [][]string {
	out := make([][]string, len(clusters))
	for i, c := range clusters {
		out[i] = c.Members
	}
	return out
}

func TestPartition_QualifierGateSplitsStateVariants(t *testing.T) {
	g := simgraph.NewGraph()
	a := g.AddNode(listingNode("va:1", "Illinois Fighting Illini", moneyline()))
	b := g.AddNode(listingNode("vb:1", "Illinois State Redbirds", moneyline()))
	g.AddEdge(a, b, 0.55)

	res := testDetector(nil).Partition("epoch1", g)

	want := [][]string{{"va:1"}, {"vb:1"}}
	if !reflect.DeepEqual(memberSets(res.Clusters), want) {
		t.Fatalf("clusters = %v, want %v", memberSets(res.Clusters), want)
	}
	found := false
	for _, r := range res.Rejections {
		if r.Rule == "qualifier_denylist" && r.Stage == domain.StageGate {
			found = true
		}
	}
	if !found {
		t.Errorf("no qualifier_denylist rejection recorded: %+v", res.Rejections)
	}
}

func TestPartition_QualifierGateAllowsMatchingQualifiers(t *testing.T) {
	g := simgraph.NewGraph()
	a := g.AddNode(listingNode("va:1", "Michigan State vs Ohio State", moneyline()))
	b := g.AddNode(listingNode("vb:1", "Ohio St. @ Michigan St.", moneyline()))
	g.AddEdge(a, b, 0.9)

	res := testDetector(nil).Partition("epoch1", g)

	if len(res.Clusters) != 1 || res.Clusters[0].Size() != 2 {
		t.Fatalf("clusters = %v, want one cluster of two", memberSets(res.Clusters))
	}
}

func TestPartition_HubPruneCutsGenericBridge(t *testing.T) {
	g := simgraph.NewGraph()
	a := g.AddNode(listingNode("va:1", "Manchester United win", moneyline()))
	h := g.AddNode(listingNode("vh:1", "United reserves", moneyline()))
	b := g.AddNode(listingNode("vb:1", "Newcastle United win", moneyline()))
	g.AddEdge(a, h, 0.5)
	g.AddEdge(h, b, 0.5)

	res := testDetector(func(cfg *config.ResolveConfig) {
		cfg.CentralityCut = 0.05
	}).Partition("epoch1", g)

	for _, c := range res.Clusters {
		if c.Size() != 1 {
			t.Fatalf("generic bridge survived: %v", memberSets(res.Clusters))
		}
	}
	pruned := 0
	for _, r := range res.Rejections {
		if r.Stage == domain.StagePrune && r.Rule == "hub_generic_edge" {
			pruned++
		}
	}
	if pruned != 2 {
		t.Errorf("pruned rejections = %d, want 2", pruned)
	}
}

func TestPartition_SpecificOverlapSurvivesHub(t *testing.T) {
	// The hub sits between the two Manchester listings, but their overlap
	// carries a specific token, so pruning must leave them alone.
	g := simgraph.NewGraph()
	a := g.AddNode(listingNode("va:1", "Manchester derby result", moneyline()))
	h := g.AddNode(listingNode("vh:1", "Manchester derby", moneyline()))
	b := g.AddNode(listingNode("vb:1", "Manchester derby winner", moneyline()))
	g.AddEdge(a, h, 0.9)
	g.AddEdge(h, b, 0.9)

	res := testDetector(func(cfg *config.ResolveConfig) {
		cfg.CentralityCut = 0.05
	}).Partition("epoch1", g)

	if len(res.Clusters) != 1 || res.Clusters[0].Size() != 3 {
		t.Fatalf("clusters = %v, want one cluster of three", memberSets(res.Clusters))
	}
}

func TestPartition_DisjointCover(t *testing.T) {
	g := simgraph.NewGraph()
	keys := []string{"va:1", "va:2", "vb:1", "vb:2", "vc:1"}
	g.AddNode(listingNode("va:1", "Lakers vs Celtics", moneyline()))
	g.AddNode(listingNode("va:2", "Warriors vs Suns", moneyline()))
	g.AddNode(listingNode("vb:1", "Celtics v Lakers", moneyline()))
	g.AddNode(listingNode("vb:2", "Suns at Warriors", moneyline()))
	g.AddNode(listingNode("vc:1", "Knicks vs Nets", moneyline())) // isolated
	g.AddEdge(0, 2, 0.9)
	g.AddEdge(1, 3, 0.9)

	res := testDetector(nil).Partition("epoch1", g)

	var covered []string
	for _, c := range res.Clusters {
		covered = append(covered, c.Members...)
	}
	sort.Strings(covered)
	want := append([]string(nil), keys...)
	sort.Strings(want)
	if !reflect.DeepEqual(covered, want) {
		t.Fatalf("cover = %v, want %v exactly once each", covered, want)
	}
}

func TestPartition_GhostBridgedScopesSplit(t *testing.T) {
	full := listingNode("va:1", "Sinner match winner", moneyline())
	h1 := listingNode("vb:1", "Sinner first half leader", domain.Fingerprint{Scope: domain.ScopeHalf1, Type: domain.TypeMoneyline})

	g := simgraph.NewGraph()
	a := g.AddNode(full)
	b := g.AddNode(h1)
	ghost := g.AddNode(simgraph.Node{Kind: simgraph.NodeGhost, Key: "ghost:jannik sinner", Tokens: map[string]bool{"jannik": true, "sinner": true}})
	g.AddEdge(a, ghost, 0.9)
	g.AddEdge(b, ghost, 0.9)

	res := testDetector(nil).Partition("epoch1", g)

	want := [][]string{{"va:1"}, {"vb:1"}}
	if !reflect.DeepEqual(memberSets(res.Clusters), want) {
		t.Fatalf("clusters = %v, want ghost-bridged scopes split", memberSets(res.Clusters))
	}
	found := false
	for _, r := range res.Rejections {
		if r.Rule == "community_split" {
			found = true
		}
	}
	if !found {
		t.Error("no community_split rejection recorded")
	}
}

func TestPartition_GhostsNeverMaterialize(t *testing.T) {
	g := simgraph.NewGraph()
	a := g.AddNode(listingNode("va:1", "Sinner advances", moneyline()))
	b := g.AddNode(listingNode("vb:1", "Sinner through", moneyline()))
	ghost := g.AddNode(simgraph.Node{Kind: simgraph.NodeGhost, Key: "ghost:jannik sinner", Tokens: map[string]bool{"sinner": true}})
	g.AddEdge(a, ghost, 0.9)
	g.AddEdge(b, ghost, 0.9)

	res := testDetector(nil).Partition("epoch1", g)

	if len(res.Clusters) != 1 {
		t.Fatalf("clusters = %v, want one", memberSets(res.Clusters))
	}
	if got := res.Clusters[0].Members; len(got) != 2 || got[0] != "va:1" || got[1] != "vb:1" {
		t.Errorf("members = %v, want the two listings only", got)
	}
}

func TestPartition_Deterministic(t *testing.T) {
	build := func() *simgraph.Graph {
		g := simgraph.NewGraph()
		g.AddNode(listingNode("va:1", "Lakers vs Celtics", moneyline()))
		g.AddNode(listingNode("vb:1", "Celtics v Lakers", moneyline()))
		g.AddNode(listingNode("vc:1", "Lakers Celtics game", moneyline()))
		g.AddEdge(0, 1, 0.9)
		g.AddEdge(1, 2, 0.9)
		g.AddEdge(0, 2, 0.9)
		return g
	}

	d := testDetector(nil)
	r1 := d.Partition("epoch1", build())
	r2 := d.Partition("epoch1", build())

	if !reflect.DeepEqual(memberSets(r1.Clusters), memberSets(r2.Clusters)) {
		t.Fatalf("partitions differ: %v vs %v", memberSets(r1.Clusters), memberSets(r2.Clusters))
	}
	for i := range r1.Clusters {
		if r1.Clusters[i].ID != r2.Clusters[i].ID {
			t.Errorf("cluster id differs: %s vs %s", r1.Clusters[i].ID, r2.Clusters[i].ID)
		}
	}
}

func TestPartition_BandEdgesEscalateNotMerge(t *testing.T) {
	g := simgraph.NewGraph()
	a := g.AddNode(listingNode("va:1", "Alcaraz vs Sinner", moneyline()))
	b := g.AddNode(listingNode("vb:1", "Sinner v Alcaraz", moneyline()))
	c := g.AddNode(listingNode("vc:1", "Alcaraz Sinner final", moneyline()))
	g.AddEdge(a, b, 0.7)  // in band: escalation candidate
	g.AddEdge(a, c, 0.4)  // below band: evidence only
	g.AddEdge(b, c, 0.92) // confident merge

	res := testDetector(nil).Partition("epoch1", g)

	want := [][]string{{"va:1"}, {"vb:1", "vc:1"}}
	if !reflect.DeepEqual(memberSets(res.Clusters), want) {
		t.Fatalf("clusters = %v, want %v", memberSets(res.Clusters), want)
	}
	if len(res.Ambiguous) != 1 {
		t.Fatalf("ambiguous = %+v, want exactly the in-band pair", res.Ambiguous)
	}
	amb := res.Ambiguous[0]
	if amb.KeyA != "va:1" || amb.KeyB != "vb:1" || amb.Score != 0.7 {
		t.Errorf("ambiguous pair = %+v", amb)
	}
	if amb.TitleA != "Alcaraz vs Sinner" || amb.TitleB != "Sinner v Alcaraz" {
		t.Errorf("ambiguous titles = %q, %q", amb.TitleA, amb.TitleB)
	}
}

func TestPartition_QualifierConflictNeverEscalates(t *testing.T) {
	// A qualifier-conflicted pair in the score band is rejected by the hard
	// gate; it must not surface as an escalation candidate.
	g := simgraph.NewGraph()
	a := g.AddNode(listingNode("va:1", "Illinois Fighting Illini", moneyline()))
	b := g.AddNode(listingNode("vb:1", "Illinois State Redbirds", moneyline()))
	g.AddEdge(a, b, 0.7)

	res := testDetector(nil).Partition("epoch1", g)

	if len(res.Ambiguous) != 0 {
		t.Fatalf("ambiguous = %+v, want none", res.Ambiguous)
	}
}

func TestPartition_GhostEdgesExemptFromBand(t *testing.T) {
	g := simgraph.NewGraph()
	a := g.AddNode(listingNode("va:1", "Sinner advances", moneyline()))
	b := g.AddNode(listingNode("vb:1", "Sinner through", moneyline()))
	ghost := g.AddNode(simgraph.Node{Kind: simgraph.NodeGhost, Key: "ghost:jannik sinner", Tokens: map[string]bool{"sinner": true}})
	g.AddEdge(a, ghost, 0.6)
	g.AddEdge(b, ghost, 0.6)

	res := testDetector(nil).Partition("epoch1", g)

	if len(res.Clusters) != 1 || res.Clusters[0].Size() != 2 {
		t.Fatalf("clusters = %v, want ghost path intact", memberSets(res.Clusters))
	}
	if len(res.Ambiguous) != 0 {
		t.Errorf("ghost edges surfaced as ambiguous: %+v", res.Ambiguous)
	}
}

func TestQualifierSig(t *testing.T) {
	d := testDetector(nil)
	tests := []struct {
		title string
		want  string
	}{
		{"Illinois Fighting Illini", ""},
		{"Illinois State Redbirds", "state"},
		{"Illinois St.", "state"},
		{"Virginia Tech Hokies", "tech"},
		{"Man City v Man Utd", "city+united"},
		{"Manchester City vs Manchester United", "city+united"},
		{"England U21 friendly", "u21"},
		{"Real Madrid vs Barcelona", ""},
	}
	for _, tt := range tests {
		if got := d.qualifierSig(tt.title); got != tt.want {
			t.Errorf("qualifierSig(%q) = %q, want %q", tt.title, got, tt.want)
		}
	}
}

func TestQualifierSig_ExtraQualifiers(t *testing.T) {
	d := testDetector(func(cfg *config.ResolveConfig) {
		cfg.ExtraQualifiers = []string{"Femenil"}
	})
	if got := d.qualifierSig("Club America Femenil"); got != "femenil" {
		t.Errorf("qualifierSig = %q, want femenil", got)
	}
}
