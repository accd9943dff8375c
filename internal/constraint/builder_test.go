package constraint

import (
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"

	"github.com/davonroy/oddsmesh/internal/domain"
	"github.com/shopspring/decimal"
)

func testBuilder() *Builder {
	return NewBuilder(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func priced(venue, id string, labels []string, probs []float64) domain.Listing {
	l := domain.Listing{
		VenueID:     venue,
		ListingID:   id,
		Fingerprint: domain.Fingerprint{Scope: domain.ScopeFull, Type: domain.TypeMoneyline},
	}
	for i, label := range labels {
		l.Outcomes = append(l.Outcomes, domain.Outcome{
			Label:       label,
			Probability: decimal.NewFromFloat(probs[i]),
		})
	}
	return l
}

func snapshot(listings ...domain.Listing) (domain.Cluster, map[string]domain.Listing) {
	byKey := make(map[string]domain.Listing, len(listings))
	keys := make([]string, 0, len(listings))
	for _, l := range listings {
		byKey[l.Key()] = l
		keys = append(keys, l.Key())
	}
	return domain.NewCluster("epoch-1", keys), byKey
}

func TestBuild_BinaryPairAcrossVenues(t *testing.T) {
	cluster, listings := snapshot(
		priced("va", "1", []string{"Yes", "No"}, []float64{0.55, 0.40}),
		priced("vb", "1", []string{"Yes", "No"}, []float64{0.52, 0.50}),
	)

	cs, err := testBuilder().Build(cluster, listings)
	if err != nil {
		t.Fatalf("Build() = %v", err)
	}
	if cs.Dim() != 4 {
		t.Fatalf("Dim() = %d, want 4", cs.Dim())
	}
	if len(cs.Partitions) != 2 {
		t.Fatalf("partitions = %d, want 2", len(cs.Partitions))
	}
	// Yes≡Yes and No≡No, each as a mutual implication pair.
	if len(cs.Implications) != 4 {
		t.Errorf("implications = %d, want 4", len(cs.Implications))
	}
	// va Yes excludes vb No and va No excludes vb Yes.
	want := []domain.Exclusion{{A: 0, B: 3}, {A: 1, B: 2}}
	if !reflect.DeepEqual(cs.Exclusions, want) {
		t.Errorf("exclusions = %v, want %v", cs.Exclusions, want)
	}
}

func TestBuild_StrengthenedLabelImplies(t *testing.T) {
	cluster, listings := snapshot(
		priced("va", "1", []string{"Canelo to win", "GGG to win"}, []float64{0.60, 0.40}),
		priced("vb", "1", []string{"Canelo to win by KO", "Any other result"}, []float64{0.25, 0.75}),
	)

	cs, err := testBuilder().Build(cluster, listings)
	if err != nil {
		t.Fatalf("Build() = %v", err)
	}

	strong, weak := -1, -1
	for i, ref := range cs.Outcomes {
		switch ref.Label {
		case "Canelo to win by KO":
			strong = i
		case "Canelo to win":
			weak = i
		}
	}
	found := false
	for _, im := range cs.Implications {
		if im.Premise == strong && im.Conclusion == weak {
			found = true
		}
		if im.Premise == weak && im.Conclusion == strong {
			t.Error("base outcome must not imply its strengthened form")
		}
	}
	if !found {
		t.Error("strengthened label does not imply its base")
	}
}

func TestBuild_ContradictoryCertainties(t *testing.T) {
	// Venue A is certain Alvarez wins, venue C is certain Golovkin wins,
	// and venue B says the two outcomes partition the fight.
	cluster, listings := snapshot(
		priced("va", "1", []string{"Alvarez wins"}, []float64{0.99}),
		priced("vb", "1", []string{"Alvarez wins", "Golovkin wins"}, []float64{0.60, 0.40}),
		priced("vc", "1", []string{"Golovkin wins"}, []float64{0.98}),
	)

	_, err := testBuilder().Build(cluster, listings)
	if !errors.Is(err, domain.ErrInfeasibleConstraints) {
		t.Fatalf("Build() = %v, want ErrInfeasibleConstraints", err)
	}
}

func TestBuild_MissingListing(t *testing.T) {
	cluster, listings := snapshot(priced("va", "1", []string{"Yes", "No"}, []float64{0.5, 0.5}))
	delete(listings, "va:1")

	_, err := testBuilder().Build(cluster, listings)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Build() = %v, want ErrNotFound", err)
	}
}

func TestBuild_DuplicateLabelsNotLinked(t *testing.T) {
	cluster, listings := snapshot(
		priced("va", "1", []string{"Yes", "Yes"}, []float64{0.5, 0.5}),
		priced("vb", "1", []string{"Yes", "No"}, []float64{0.5, 0.5}),
	)

	cs, err := testBuilder().Build(cluster, listings)
	if err != nil {
		t.Fatalf("Build() = %v", err)
	}
	if len(cs.Implications) != 0 {
		t.Errorf("implications = %v, want none for ambiguous labels", cs.Implications)
	}
	if len(cs.Partitions[0].Indexes) != 2 {
		t.Errorf("duplicate labels must still span their partition")
	}
}

func TestBuild_Deterministic(t *testing.T) {
	cluster, listings := snapshot(
		priced("va", "1", []string{"Yes", "No"}, []float64{0.55, 0.40}),
		priced("vb", "1", []string{"Yes", "No"}, []float64{0.52, 0.50}),
		priced("vc", "1", []string{"Yes", "No"}, []float64{0.49, 0.49}),
	)

	first, err := testBuilder().Build(cluster, listings)
	if err != nil {
		t.Fatalf("Build() = %v", err)
	}
	second, err := testBuilder().Build(cluster, listings)
	if err != nil {
		t.Fatalf("Build() = %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("identical input compiled to different constraint sets")
	}
	if first.ShapeHash() != second.ShapeHash() {
		t.Error("shape hash unstable across identical builds")
	}
}

func TestBuild_VersionTracksStructure(t *testing.T) {
	cluster, listings := snapshot(
		priced("va", "1", []string{"Yes", "No"}, []float64{0.55, 0.40}),
		priced("vb", "1", []string{"Yes", "No"}, []float64{0.52, 0.50}),
	)
	base, err := testBuilder().Build(cluster, listings)
	if err != nil {
		t.Fatalf("Build() = %v", err)
	}

	// Prices move, structure does not: same version.
	repriced := listings["vb:1"]
	repriced.Outcomes[0].Probability = decimal.NewFromFloat(0.48)
	listings["vb:1"] = repriced
	moved, err := testBuilder().Build(cluster, listings)
	if err != nil {
		t.Fatalf("Build() = %v", err)
	}
	if moved.Version != base.Version {
		t.Error("price move changed the version")
	}

	// Membership changes: new version.
	grown, grownListings := snapshot(
		priced("va", "1", []string{"Yes", "No"}, []float64{0.55, 0.40}),
		priced("vb", "1", []string{"Yes", "No"}, []float64{0.52, 0.50}),
		priced("vc", "1", []string{"Yes", "No"}, []float64{0.50, 0.50}),
	)
	next, err := testBuilder().Build(grown, grownListings)
	if err != nil {
		t.Fatalf("Build() = %v", err)
	}
	if next.Version == base.Version {
		t.Error("membership change kept the version")
	}
}

func TestVector_OutcomeOrder(t *testing.T) {
	cluster, listings := snapshot(
		priced("va", "1", []string{"Yes", "No"}, []float64{0.55, 0.40}),
		priced("vb", "1", []string{"Yes", "No"}, []float64{0.52, 0.50}),
	)
	cs, err := testBuilder().Build(cluster, listings)
	if err != nil {
		t.Fatalf("Build() = %v", err)
	}

	observed, prices, err := Vector(cs, listings)
	if err != nil {
		t.Fatalf("Vector() = %v", err)
	}
	want := []float64{0.55, 0.40, 0.52, 0.50}
	if !reflect.DeepEqual(observed, want) {
		t.Errorf("observed = %v, want %v", observed, want)
	}
	if !prices[3].Equal(decimal.NewFromFloat(0.50)) {
		t.Errorf("prices[3] = %s, want 0.5", prices[3])
	}

	cs.Outcomes[0].Label = "Maybe"
	if _, _, err := Vector(cs, listings); !errors.Is(err, domain.ErrCacheInconsistency) {
		t.Errorf("Vector() with drifted label = %v, want ErrCacheInconsistency", err)
	}
}
