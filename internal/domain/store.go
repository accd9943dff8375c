package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AliasStore is the durable backing of the alias memory: a read-only curated
// table, an append-only learned table, and a merge log. AppendLearned must
// commit the whole batch atomically.
type AliasStore interface {
	LoadCurated(ctx context.Context) ([]AliasRecord, error)
	LoadLearned(ctx context.Context) ([]AliasRecord, error)
	LoadMerges(ctx context.Context) ([]MergeRecord, error)
	AppendLearned(ctx context.Context, records []AliasRecord) error
	RecordMerge(ctx context.Context, m MergeRecord) error
}

// SignalStore persists emitted arbitrage signals for audit and replay.
type SignalStore interface {
	InsertBatch(ctx context.Context, signals []ArbitrageSignal) error
	ListByEpoch(ctx context.Context, epochID string) ([]ArbitrageSignal, error)
	ListRecent(ctx context.Context, limit int) ([]ArbitrageSignal, error)
}

// ClusterStore persists the clusters an epoch settled on.
type ClusterStore interface {
	InsertBatch(ctx context.Context, clusters []Cluster) error
	ListByEpoch(ctx context.Context, epochID string) ([]Cluster, error)
}

// RejectionStore persists the forensic record of suppressed items.
type RejectionStore interface {
	InsertBatch(ctx context.Context, rejections []Rejection) error
	ListByEpoch(ctx context.Context, epochID string) ([]Rejection, error)
	ListByStage(ctx context.Context, stage RejectionStage, opts ListOpts) ([]Rejection, error)
}

// EpochStore persists per-epoch summary reports.
type EpochStore interface {
	Insert(ctx context.Context, report EpochReport) error
	Get(ctx context.Context, epochID string) (EpochReport, error)
	GetLatest(ctx context.Context) (EpochReport, error)
	List(ctx context.Context, limit int) ([]EpochReport, error)
}
