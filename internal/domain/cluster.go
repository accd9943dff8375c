package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// Cluster is a partition cell over Listings: the members are judged to
// describe the same real-world event and share resolution criteria. Every
// Listing belongs to exactly one Cluster per epoch, including size-1
// clusters for unmatched Listings.
type Cluster struct {
	ID        string
	EpochID   string
	Members   []string // listing keys, sorted
	CreatedAt time.Time
}

// NewCluster builds a cluster over the given listing keys. The id is a
// digest of the sorted member set, so the same membership always yields the
// same id regardless of discovery order.
func NewCluster(epochID string, members []string) Cluster {
	sorted := make([]string, len(members))
	copy(sorted, members)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\n")))
	return Cluster{
		ID:      hex.EncodeToString(sum[:])[:16],
		EpochID: epochID,
		Members: sorted,
	}
}

// Size returns the number of member listings.
func (c Cluster) Size() int {
	return len(c.Members)
}
