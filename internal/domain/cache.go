package domain

import (
	"context"
	"time"
)

// ProjectionCache stores computed projections keyed by constraint-set shape,
// version and quantized observed vector. A corrupt or mismatched entry is
// reported as ErrCacheInconsistency and must be treated as a miss.
type ProjectionCache interface {
	Get(ctx context.Context, key string) (Projection, bool, error)
	Put(ctx context.Context, key string, p Projection) error
	Invalidate(ctx context.Context, clusterID string) error
}

// DecisionCache remembers oracle verdicts for normalized candidate pairs so
// the same ambiguity is never escalated twice within the TTL.
type DecisionCache interface {
	Get(ctx context.Context, pairKey string) (Decision, bool, error)
	Put(ctx context.Context, pairKey string, d Decision, ttl time.Duration) error
}

// LockManager serializes epoch runs across engine instances. Acquire fails
// with ErrLockHeld while another instance holds the named lock.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is one entry read back from the durable signal stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus publishes emitted signals to execution collaborators, both as
// fire-and-forget pub/sub and as a durable replayable stream.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
