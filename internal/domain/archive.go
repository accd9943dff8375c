package domain

import (
	"context"
	"io"
	"time"
)

// ObjectInfo describes one stored archive object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ObjectWriter uploads archive payloads to object storage. Implementations
// clamp partSize up to the backend's multipart minimum. Delete is idempotent.
type ObjectWriter interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
	PutMultipart(ctx context.Context, key string, body io.Reader, partSize int64) error
	Delete(ctx context.Context, key string) error
}

// ObjectReader retrieves archive payloads. Get returns ErrNotFound for a key
// that was never written.
type ObjectReader interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// Archiver copies epoch inputs and outputs to cold storage so any emitted
// signal can be re-derived later from the exact snapshot that produced it.
// Prune enforces the retention window; HasSnapshot lets an auditor tell a
// pruned epoch from a read failure before attempting a replay.
type Archiver interface {
	ArchiveSnapshot(ctx context.Context, epochID string, raw []RawListing) (string, error)
	ArchiveSignals(ctx context.Context, epochID string, signals []ArbitrageSignal) (string, error)
	ReadSnapshot(ctx context.Context, epochID string) ([]RawListing, error)
	HasSnapshot(ctx context.Context, epochID string) (bool, error)
	Prune(ctx context.Context, olderThan time.Time) (int, error)
}
