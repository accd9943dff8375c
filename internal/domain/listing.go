package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketScope identifies the portion of an event a market settles on.
type MarketScope string

const (
	ScopeFull     MarketScope = "full"
	ScopeHalf1    MarketScope = "h1"
	ScopeHalf2    MarketScope = "h2"
	ScopeQuarter1 MarketScope = "q1"
	ScopeSet1     MarketScope = "set1"
)

// MarketType identifies the payout structure of a market.
type MarketType string

const (
	TypeMoneyline  MarketType = "moneyline"
	TypeSpread     MarketType = "spread"
	TypeTotal      MarketType = "total"
	TypePlayerProp MarketType = "player_prop"
)

// Fingerprint captures the structural identity of a market: which slice of
// the event it covers, how it pays out, and the line when one exists.
// Listings with incompatible fingerprints must never cluster together,
// whatever their textual similarity.
type Fingerprint struct {
	Scope MarketScope
	Type  MarketType
	Line  *decimal.Decimal // set for totals and spreads
}

// Compatible reports whether two fingerprints may describe the same market.
// Scope and type must match; totals and spreads additionally require the
// exact same line.
func (f Fingerprint) Compatible(other Fingerprint) bool {
	if f.Scope != other.Scope || f.Type != other.Type {
		return false
	}
	if f.Line == nil && other.Line == nil {
		return true
	}
	if f.Line == nil || other.Line == nil {
		return false
	}
	return f.Line.Equal(*other.Line)
}

// RawOutcome is one outcome as received at the ingestion boundary.
// Probability is untyped because venues disagree on representation
// (number, quoted string); the normalizer coerces or rejects it.
type RawOutcome struct {
	Label       string  `json:"label"`
	Probability any     `json:"probability"`
	Liquidity   float64 `json:"liquidity"`
}

// RawListing is the venue-agnostic shape accepted at the ingestion boundary.
type RawListing struct {
	VenueID   string       `json:"venueId"`
	ListingID string       `json:"listingId"`
	Title     string       `json:"title"`
	Category  string       `json:"category"`
	Outcomes  []RawOutcome `json:"outcomes"`
	EventTime string       `json:"eventTime,omitempty"` // RFC 3339; empty when unknown
	Timestamp time.Time    `json:"timestamp"`
}

// Outcome is one normalized tradable outcome of a Listing.
type Outcome struct {
	Label       string
	Probability decimal.Decimal
	Liquidity   decimal.Decimal
}

// EntityMention is a token or phrase extracted from a Listing title that is
// believed to reference a real-world entity. EntityID is empty until the
// alias store resolves it.
type EntityMention struct {
	Surface  string
	EntityID string
}

// Listing is one normalized tradable contract from one venue. Immutable once
// normalized; a refresh supersedes it with a newer Listing under the same
// venue and listing id.
type Listing struct {
	VenueID     string
	ListingID   string
	Title       string
	Category    string
	Outcomes    []Outcome
	Fingerprint Fingerprint
	Mentions    []EntityMention
	EventTime   time.Time // zero when the venue did not provide one
	IngestedAt  time.Time
}

// Key returns the stable identity of the listing across refreshes.
func (l Listing) Key() string {
	return l.VenueID + ":" + l.ListingID
}
