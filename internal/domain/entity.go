package domain

import "time"

// CanonicalEntity is a deduplicated real-world referent of one or more
// surface strings. Entities are never deleted, only merged; a merged-from id
// becomes a permanent redirect so it cannot be resurrected.
type CanonicalEntity struct {
	ID        string
	Name      string
	Aliases   []string
	CreatedAt time.Time
}

// AliasSource records which table an alias row belongs to.
type AliasSource string

const (
	AliasCurated AliasSource = "curated"
	AliasLearned AliasSource = "learned"
)

// AliasRecord is one surface-string to entity mapping row.
type AliasRecord struct {
	Surface   string
	EntityID  string
	Evidence  string
	Source    AliasSource
	LearnedAt time.Time
}

// MergeRecord is one entity merge: FromID permanently redirects to ToID.
type MergeRecord struct {
	FromID   string
	ToID     string
	MergedAt time.Time
}
