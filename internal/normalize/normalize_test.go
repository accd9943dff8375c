package normalize

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/davonroy/oddsmesh/internal/config"
	"github.com/davonroy/oddsmesh/internal/domain"
)

func testNormalizer() *Normalizer {
	cfg := config.Defaults().Normalize
	return New(cfg)
}

func rawFixture(now time.Time) domain.RawListing {
	return domain.RawListing{
		VenueID:   "polaris",
		ListingID: "evt-1",
		Title:     "Arsenal vs Chelsea — Match Winner",
		Category:  "soccer",
		Outcomes: []domain.RawOutcome{
			{Label: "Arsenal", Probability: 0.55, Liquidity: 1200},
			{Label: "Chelsea", Probability: 0.45, Liquidity: 900},
		},
		EventTime: now.Add(6 * time.Hour).Format(time.RFC3339),
		Timestamp: now.Add(-time.Minute),
	}
}

func TestNormalize_OK(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	n := testNormalizer()

	got, err := n.Normalize(rawFixture(now), now)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if got.Key() != "polaris:evt-1" {
		t.Errorf("Key() = %q, want %q", got.Key(), "polaris:evt-1")
	}
	if got.Title != "arsenal vs chelsea match winner" {
		t.Errorf("Title = %q", got.Title)
	}
	if len(got.Outcomes) != 2 {
		t.Fatalf("len(Outcomes) = %d, want 2", len(got.Outcomes))
	}
	if got.Outcomes[0].Probability.String() != "0.55" {
		t.Errorf("Probability = %s, want 0.55", got.Outcomes[0].Probability)
	}
	if got.Fingerprint.Scope != domain.ScopeFull || got.Fingerprint.Type != domain.TypeMoneyline {
		t.Errorf("Fingerprint = %+v, want full moneyline", got.Fingerprint)
	}
	if got.EventTime.IsZero() {
		t.Error("EventTime is zero, want parsed")
	}
}

func TestNormalize_Rejections(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	n := testNormalizer()

	tests := []struct {
		name    string
		mutate  func(*domain.RawListing)
		wantErr error
	}{
		{
			name:    "empty venue",
			mutate:  func(r *domain.RawListing) { r.VenueID = "" },
			wantErr: domain.ErrMalformed,
		},
		{
			name:    "empty title",
			mutate:  func(r *domain.RawListing) { r.Title = "   " },
			wantErr: domain.ErrMalformed,
		},
		{
			name:    "missing timestamp",
			mutate:  func(r *domain.RawListing) { r.Timestamp = time.Time{} },
			wantErr: domain.ErrMalformed,
		},
		{
			name:    "stale",
			mutate:  func(r *domain.RawListing) { r.Timestamp = now.Add(-time.Hour) },
			wantErr: domain.ErrStale,
		},
		{
			name:    "no outcomes",
			mutate:  func(r *domain.RawListing) { r.Outcomes = nil },
			wantErr: domain.ErrMalformed,
		},
		{
			name:    "missing probability",
			mutate:  func(r *domain.RawListing) { r.Outcomes[0].Probability = nil },
			wantErr: domain.ErrMalformed,
		},
		{
			name:    "negative probability",
			mutate:  func(r *domain.RawListing) { r.Outcomes[0].Probability = -0.2 },
			wantErr: domain.ErrMalformed,
		},
		{
			name:    "probability above one",
			mutate:  func(r *domain.RawListing) { r.Outcomes[0].Probability = 1.2 },
			wantErr: domain.ErrMalformed,
		},
		{
			name:    "unconvertible probability",
			mutate:  func(r *domain.RawListing) { r.Outcomes[0].Probability = true },
			wantErr: domain.ErrMalformed,
		},
		{
			name:    "garbage string probability",
			mutate:  func(r *domain.RawListing) { r.Outcomes[0].Probability = "likely" },
			wantErr: domain.ErrMalformed,
		},
		{
			name:    "bad event time",
			mutate:  func(r *domain.RawListing) { r.EventTime = "tomorrow-ish" },
			wantErr: domain.ErrMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := rawFixture(now)
			tt.mutate(&raw)
			_, err := n.Normalize(raw, now)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Normalize() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNormalize_StringProbability(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	n := testNormalizer()

	raw := rawFixture(now)
	raw.Outcomes[0].Probability = "0.6100"
	raw.Outcomes[1].Probability = " 0.39 "

	got, err := n.Normalize(raw, now)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if want := decimal.NewFromFloat(0.61); !got.Outcomes[0].Probability.Equal(want) {
		t.Errorf("Probability = %s, want %s", got.Outcomes[0].Probability, want)
	}
	if want := decimal.NewFromFloat(0.39); !got.Outcomes[1].Probability.Equal(want) {
		t.Errorf("Probability = %s, want %s", got.Outcomes[1].Probability, want)
	}
}

func TestNormalize_Mentions(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	n := testNormalizer()

	raw := rawFixture(now)
	raw.Title = "São Paulo FC vs The Boca Juniors"

	got, err := n.Normalize(raw, now)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	want := map[string]bool{"sao paulo": true, "boca juniors": true}
	found := 0
	for _, m := range got.Mentions {
		if want[m.Surface] {
			found++
		}
		if m.Surface == "fc" || m.Surface == "the" || m.Surface == "vs" {
			t.Errorf("noise token %q leaked into mentions", m.Surface)
		}
	}
	if found != 2 {
		t.Errorf("side mentions found = %d, want 2 (got %+v)", found, got.Mentions)
	}
}

func TestCleanTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Arsenal  vs   Chelsea", "arsenal vs chelsea"},
		{"Bayern München — Sieg", "bayern munchen sieg"},
		{"REAL MADRID (UCL)", "real madrid ucl"},
		{"Over/Under 2.5 Goals", "over under 2.5 goals"},
	}
	for _, tt := range tests {
		if got := CleanTitle(tt.in); got != tt.want {
			t.Errorf("CleanTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSplitSides(t *testing.T) {
	tests := []struct {
		in        string
		wantLeft  string
		wantRight string
		wantOK    bool
	}{
		{"arsenal vs chelsea", "arsenal", "chelsea", true},
		{"arsenal v chelsea", "arsenal", "chelsea", true},
		{"lakers @ celtics", "lakers", "celtics", true},
		{"who will win", "", "", false},
	}
	for _, tt := range tests {
		left, right, ok := SplitSides(tt.in)
		if ok != tt.wantOK || left != tt.wantLeft || right != tt.wantRight {
			t.Errorf("SplitSides(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.in, left, right, ok, tt.wantLeft, tt.wantRight, tt.wantOK)
		}
	}
}
