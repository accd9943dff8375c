package domain

import "context"

// Decision is the outcome of an ambiguity escalation. The zero value is
// Defer: when nothing affirmative is known, the pair stays split.
type Decision int

const (
	DecisionDefer Decision = iota
	DecisionAccept
	DecisionReject
)

// String returns the wire name of the decision.
func (d Decision) String() string {
	switch d {
	case DecisionAccept:
		return "accept"
	case DecisionReject:
		return "reject"
	default:
		return "defer"
	}
}

// OracleVerdict is the semantic oracle's answer for one candidate pair.
type OracleVerdict struct {
	SameEvent  bool
	Confidence float64
	Reasoning  string
}

// SemanticOracle compares two candidate event descriptions. Implementations
// must honor the context deadline; the caller treats any error as grounds to
// defer, never to crash.
type SemanticOracle interface {
	Compare(ctx context.Context, a, b string) (OracleVerdict, error)
}
