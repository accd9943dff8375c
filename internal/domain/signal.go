package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ViolationKind classifies how a cluster's observed prices break probability
// consistency.
type ViolationKind string

const (
	ViolationSumAboveOne ViolationKind = "sum_above_one"
	ViolationSumBelowOne ViolationKind = "sum_below_one"
	ViolationImplication ViolationKind = "implication"
	ViolationExclusivity ViolationKind = "exclusivity"
)

// SignalSide says which way a leg trades.
type SignalSide string

const (
	SideBuy  SignalSide = "buy"
	SideSell SignalSide = "sell"
)

// SignalLeg is one actionable outcome inside a signal: the venue outcome to
// trade, the observed price and the fair (projected) price.
type SignalLeg struct {
	ListingKey string
	Label      string
	Side       SignalSide
	Observed   decimal.Decimal
	Fair       decimal.Decimal
}

// ArbitrageSignal is a reported, cost-adjusted, economically significant
// constraint violation. Immutable once emitted; re-derivable from its
// cluster and constraint set for auditing.
type ArbitrageSignal struct {
	ID         string
	EpochID    string
	ClusterID  string
	Kind       ViolationKind
	Detail     string // which partition or pair fired, human readable
	Observed   []float64
	Projected  []float64
	Legs       []SignalLeg
	GrossEV    decimal.Decimal
	NetEV      decimal.Decimal // gross minus transaction-cost estimate
	Confidence float64
	DetectedAt time.Time
}
