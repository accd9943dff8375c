package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// OutcomeRef locates one outcome inside a cluster's flattened price vector.
type OutcomeRef struct {
	ListingKey string
	Label      string
}

// Partition is a mutually exclusive and exhaustive outcome group: its
// probabilities must sum to one within the configured epsilon.
type Partition struct {
	Label   string // listing key the group came from
	Indexes []int  // positions in the outcome vector
}

// Implication encodes that the Premise outcome logically entails the
// Conclusion outcome, so p[Premise] <= p[Conclusion] must hold.
type Implication struct {
	Premise    int
	Conclusion int
}

// Exclusion encodes that two outcomes cannot both occur, so
// p[A] + p[B] <= 1 must hold.
type Exclusion struct {
	A int
	B int
}

// ConstraintSet is the linear system over a cluster's outcome probabilities.
// It is derived deterministically from cluster structure and carries a
// version that increments whenever membership changes, so cache keys built
// from it can never serve stale projections.
type ConstraintSet struct {
	ClusterID    string
	Version      int64
	Outcomes     []OutcomeRef
	Partitions   []Partition
	Implications []Implication
	Exclusions   []Exclusion
}

// Dim returns the length of the probability vector the set constrains.
func (cs ConstraintSet) Dim() int {
	return len(cs.Outcomes)
}

// ShapeHash digests the structure of the system: vector layout, partition
// index sets, implication and exclusion pairs. Two sets with the same hash
// accept the same feasible region.
func (cs ConstraintSet) ShapeHash() string {
	var b strings.Builder
	fmt.Fprintf(&b, "d%d", len(cs.Outcomes))
	for _, p := range cs.Partitions {
		b.WriteString("|p")
		for _, i := range p.Indexes {
			fmt.Fprintf(&b, ",%d", i)
		}
	}
	for _, im := range cs.Implications {
		fmt.Fprintf(&b, "|i%d>%d", im.Premise, im.Conclusion)
	}
	for _, ex := range cs.Exclusions {
		fmt.Fprintf(&b, "|x%d+%d", ex.A, ex.B)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])[:16]
}
