// Package normalize canonicalizes raw venue listings into the uniform Listing
// shape: accent-folded titles, fixed-precision decimal prices, derived market
// fingerprints and extracted entity mentions. Normalization is pure; rejected
// listings are reported as errors, never silently repaired.
package normalize

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/davonroy/oddsmesh/internal/config"
	"github.com/davonroy/oddsmesh/internal/domain"
)

var one = decimal.NewFromInt(1)

// Normalizer canonicalizes raw listings.
type Normalizer struct {
	stalenessBound time.Duration
	minMentionLen  int
	extraNoise     map[string]bool
}

// New returns a Normalizer configured from cfg.
func New(cfg config.NormalizeConfig) *Normalizer {
	extra := make(map[string]bool, len(cfg.ExtraNoiseTokens))
	for _, tok := range cfg.ExtraNoiseTokens {
		extra[strings.ToLower(strings.TrimSpace(tok))] = true
	}
	return &Normalizer{
		stalenessBound: cfg.StalenessBound.Duration,
		minMentionLen:  cfg.MinMentionLen,
		extraNoise:     extra,
	}
}

// Normalize canonicalizes one raw listing. It returns ErrMalformed for
// unparseable payloads and ErrStale when the listing timestamp is older than
// the staleness bound relative to now.
func (n *Normalizer) Normalize(raw domain.RawListing, now time.Time) (domain.Listing, error) {
	if raw.VenueID == "" || raw.ListingID == "" {
		return domain.Listing{}, fmt.Errorf("normalize: empty venue or listing id: %w", domain.ErrMalformed)
	}
	if strings.TrimSpace(raw.Title) == "" {
		return domain.Listing{}, fmt.Errorf("normalize: %s:%s: empty title: %w", raw.VenueID, raw.ListingID, domain.ErrMalformed)
	}
	if raw.Timestamp.IsZero() {
		return domain.Listing{}, fmt.Errorf("normalize: %s:%s: missing timestamp: %w", raw.VenueID, raw.ListingID, domain.ErrMalformed)
	}
	if now.Sub(raw.Timestamp) > n.stalenessBound {
		return domain.Listing{}, fmt.Errorf("normalize: %s:%s: listing is %s old: %w",
			raw.VenueID, raw.ListingID, now.Sub(raw.Timestamp).Truncate(time.Second), domain.ErrStale)
	}
	if len(raw.Outcomes) == 0 {
		return domain.Listing{}, fmt.Errorf("normalize: %s:%s: no outcomes: %w", raw.VenueID, raw.ListingID, domain.ErrMalformed)
	}

	outcomes := make([]domain.Outcome, 0, len(raw.Outcomes))
	for i, ro := range raw.Outcomes {
		if strings.TrimSpace(ro.Label) == "" {
			return domain.Listing{}, fmt.Errorf("normalize: %s:%s: outcome %d: empty label: %w", raw.VenueID, raw.ListingID, i, domain.ErrMalformed)
		}
		prob, err := coerceProbability(ro.Probability)
		if err != nil {
			return domain.Listing{}, fmt.Errorf("normalize: %s:%s: outcome %q: %v: %w", raw.VenueID, raw.ListingID, ro.Label, err, domain.ErrMalformed)
		}
		if prob.IsNegative() {
			return domain.Listing{}, fmt.Errorf("normalize: %s:%s: outcome %q: negative probability %s: %w", raw.VenueID, raw.ListingID, ro.Label, prob, domain.ErrMalformed)
		}
		if prob.GreaterThan(one) {
			return domain.Listing{}, fmt.Errorf("normalize: %s:%s: outcome %q: probability %s above one: %w", raw.VenueID, raw.ListingID, ro.Label, prob, domain.ErrMalformed)
		}
		outcomes = append(outcomes, domain.Outcome{
			Label:       strings.ToLower(strings.TrimSpace(ro.Label)),
			Probability: prob,
			Liquidity:   decimal.NewFromFloat(ro.Liquidity),
		})
	}

	var eventTime time.Time
	if raw.EventTime != "" {
		t, err := time.Parse(time.RFC3339, raw.EventTime)
		if err != nil {
			return domain.Listing{}, fmt.Errorf("normalize: %s:%s: bad event time %q: %w", raw.VenueID, raw.ListingID, raw.EventTime, domain.ErrMalformed)
		}
		eventTime = t.UTC()
	}

	cleaned := CleanTitle(raw.Title)

	return domain.Listing{
		VenueID:     raw.VenueID,
		ListingID:   raw.ListingID,
		Title:       cleaned,
		Category:    strings.ToLower(strings.TrimSpace(raw.Category)),
		Outcomes:    outcomes,
		Fingerprint: Fingerprint(cleaned),
		Mentions:    n.mentions(cleaned),
		EventTime:   eventTime,
		IngestedAt:  raw.Timestamp.UTC(),
	}, nil
}

// mentions extracts candidate entity references from a cleaned title: each
// competing side as a whole phrase, plus every sufficiently long token.
func (n *Normalizer) mentions(cleaned string) []domain.EntityMention {
	var out []domain.EntityMention
	seen := make(map[string]bool)

	add := func(surface string) {
		surface = strings.TrimSpace(surface)
		if surface == "" || seen[surface] {
			return
		}
		seen[surface] = true
		out = append(out, domain.EntityMention{Surface: surface})
	}

	if left, right, ok := SplitSides(cleaned); ok {
		add(strings.Join(Tokens(left, n.extraNoise), " "))
		add(strings.Join(Tokens(right, n.extraNoise), " "))
	}
	for _, tok := range Tokens(cleaned, n.extraNoise) {
		if len(tok) >= n.minMentionLen {
			add(tok)
		}
	}
	return out
}

// coerceProbability converts the untyped wire probability into a decimal.
// Venues send numbers, quoted strings or json.Number depending on their
// serializer; anything else is not convertible.
func coerceProbability(v any) (decimal.Decimal, error) {
	switch p := v.(type) {
	case nil:
		return decimal.Decimal{}, fmt.Errorf("missing probability")
	case float64:
		return decimal.NewFromFloat(p), nil
	case int:
		return decimal.NewFromInt(int64(p)), nil
	case int64:
		return decimal.NewFromInt(p), nil
	case json.Number:
		d, err := decimal.NewFromString(p.String())
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("unparseable probability %q", p.String())
		}
		return d, nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(p))
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("unparseable probability %q", p)
		}
		return d, nil
	default:
		return decimal.Decimal{}, fmt.Errorf("probability has unsupported type %T", v)
	}
}
