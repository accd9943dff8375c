package domain

import "time"

// RejectionStage names the pipeline stage that suppressed or rejected an item.
type RejectionStage string

const (
	StageNormalize RejectionStage = "normalize"
	StagePrune     RejectionStage = "prune"
	StageGate      RejectionStage = "gate"
	StageEscalate  RejectionStage = "escalate"
	StageConstrain RejectionStage = "constrain"
	StageDetect    RejectionStage = "detect"
)

// Rejection records one suppressed or rejected item with enough detail for
// forensic review: which rule fired, against what, and why. False matches
// cost more than missed matches, so every precision decision leaves a trace.
type Rejection struct {
	ID        int64
	EpochID   string
	Stage     RejectionStage
	Rule      string
	Subject   string // listing key, "a|b" pair, or cluster id
	Reason    string
	CreatedAt time.Time
}
