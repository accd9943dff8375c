package domain

import "time"

// EpochReport summarizes one resolution epoch.
type EpochReport struct {
	EpochID     string
	StartedAt   time.Time
	FinishedAt  time.Time
	Listings    int
	Dropped     int // normalizer rejections
	Clusters    int
	MultiVenue  int // clusters spanning more than one venue
	Accepted    int // escalations accepted
	RejectedAmb int // escalations rejected
	Deferred    int // escalations deferred
	Signals     int
	Rejections  int
	SnapshotRef string // blob path of the archived input snapshot
}

// Duration returns the wall time the epoch took.
func (r EpochReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
