package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davonroy/oddsmesh/internal/domain"
)

// SignalStore implements domain.SignalStore using PostgreSQL.
type SignalStore struct {
	pool *pgxpool.Pool
}

// NewSignalStore creates a new SignalStore backed by the given connection pool.
func NewSignalStore(pool *pgxpool.Pool) *SignalStore {
	return &SignalStore{pool: pool}
}

const signalSelectCols = `id, epoch_id, cluster_id, kind, detail,
	observed, projected, legs, gross_ev, net_ev, confidence, detected_at`

func scanSignalRows(rows pgx.Rows) ([]domain.ArbitrageSignal, error) {
	var signals []domain.ArbitrageSignal
	for rows.Next() {
		var (
			sig       domain.ArbitrageSignal
			kind      string
			observed  []byte
			projected []byte
			legs      []byte
		)
		if err := rows.Scan(
			&sig.ID, &sig.EpochID, &sig.ClusterID, &kind, &sig.Detail,
			&observed, &projected, &legs,
			&sig.GrossEV, &sig.NetEV, &sig.Confidence, &sig.DetectedAt,
		); err != nil {
			return nil, err
		}
		sig.Kind = domain.ViolationKind(kind)
		if err := json.Unmarshal(observed, &sig.Observed); err != nil {
			return nil, fmt.Errorf("decode observed for %s: %w", sig.ID, err)
		}
		if err := json.Unmarshal(projected, &sig.Projected); err != nil {
			return nil, fmt.Errorf("decode projected for %s: %w", sig.ID, err)
		}
		if err := json.Unmarshal(legs, &sig.Legs); err != nil {
			return nil, fmt.Errorf("decode legs for %s: %w", sig.ID, err)
		}
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

// InsertBatch inserts multiple signals efficiently using pgx Batch. A signal
// re-published under the same id (an epoch retried after a partial flush) is
// silently skipped via ON CONFLICT DO NOTHING.
func (s *SignalStore) InsertBatch(ctx context.Context, signals []domain.ArbitrageSignal) error {
	if len(signals) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO signals (
			id, epoch_id, cluster_id, kind, detail,
			observed, projected, legs,
			gross_ev, net_ev, confidence, detected_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10, $11, $12
		) ON CONFLICT (id) DO NOTHING`

	for _, sig := range signals {
		observed, err := json.Marshal(sig.Observed)
		if err != nil {
			return fmt.Errorf("postgres: marshal observed for %s: %w", sig.ID, err)
		}
		projected, err := json.Marshal(sig.Projected)
		if err != nil {
			return fmt.Errorf("postgres: marshal projected for %s: %w", sig.ID, err)
		}
		legs, err := json.Marshal(sig.Legs)
		if err != nil {
			return fmt.Errorf("postgres: marshal legs for %s: %w", sig.ID, err)
		}
		batch.Queue(query,
			sig.ID, sig.EpochID, sig.ClusterID, string(sig.Kind), sig.Detail,
			observed, projected, legs,
			sig.GrossEV, sig.NetEV, sig.Confidence, sig.DetectedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range signals {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert signal batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListByEpoch returns the signals an epoch emitted, in detection order.
func (s *SignalStore) ListByEpoch(ctx context.Context, epochID string) ([]domain.ArbitrageSignal, error) {
	query := `SELECT ` + signalSelectCols + ` FROM signals WHERE epoch_id = $1 ORDER BY detected_at ASC`
	rows, err := s.pool.Query(ctx, query, epochID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list signals by epoch: %w", err)
	}
	defer rows.Close()

	signals, err := scanSignalRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan signals by epoch: %w", err)
	}
	return signals, nil
}

// ListRecent returns the most recently detected signals across all epochs.
func (s *SignalStore) ListRecent(ctx context.Context, limit int) ([]domain.ArbitrageSignal, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + signalSelectCols + ` FROM signals ORDER BY detected_at DESC LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent signals: %w", err)
	}
	defer rows.Close()

	signals, err := scanSignalRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent signals: %w", err)
	}
	return signals, nil
}
