package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davonroy/oddsmesh/internal/domain"
)

// EpochStore implements domain.EpochStore using PostgreSQL.
type EpochStore struct {
	pool *pgxpool.Pool
}

// NewEpochStore creates a new EpochStore backed by the given connection pool.
func NewEpochStore(pool *pgxpool.Pool) *EpochStore {
	return &EpochStore{pool: pool}
}

const epochSelectCols = `epoch_id, started_at, finished_at, listings, dropped,
	clusters, multi_venue, accepted, rejected_amb, deferred, signals, rejections,
	snapshot_ref`

func scanEpochRow(row pgx.Row) (domain.EpochReport, error) {
	var r domain.EpochReport
	err := row.Scan(
		&r.EpochID, &r.StartedAt, &r.FinishedAt, &r.Listings, &r.Dropped,
		&r.Clusters, &r.MultiVenue, &r.Accepted, &r.RejectedAmb, &r.Deferred,
		&r.Signals, &r.Rejections, &r.SnapshotRef,
	)
	return r, err
}

// Insert records an epoch's summary report. Re-inserting the same epoch id
// is a no-op.
func (s *EpochStore) Insert(ctx context.Context, report domain.EpochReport) error {
	const query = `
		INSERT INTO epochs (
			epoch_id, started_at, finished_at, listings, dropped,
			clusters, multi_venue, accepted, rejected_amb, deferred,
			signals, rejections, snapshot_ref
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13
		) ON CONFLICT (epoch_id) DO NOTHING`
	_, err := s.pool.Exec(ctx, query,
		report.EpochID, report.StartedAt, report.FinishedAt, report.Listings, report.Dropped,
		report.Clusters, report.MultiVenue, report.Accepted, report.RejectedAmb, report.Deferred,
		report.Signals, report.Rejections, report.SnapshotRef,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert epoch %s: %w", report.EpochID, err)
	}
	return nil
}

// Get returns one epoch's report by id.
func (s *EpochStore) Get(ctx context.Context, epochID string) (domain.EpochReport, error) {
	query := `SELECT ` + epochSelectCols + ` FROM epochs WHERE epoch_id = $1`
	report, err := scanEpochRow(s.pool.QueryRow(ctx, query, epochID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.EpochReport{}, domain.ErrNotFound
		}
		return domain.EpochReport{}, fmt.Errorf("postgres: get epoch %s: %w", epochID, err)
	}
	return report, nil
}

// GetLatest returns the most recently started epoch's report.
func (s *EpochStore) GetLatest(ctx context.Context) (domain.EpochReport, error) {
	query := `SELECT ` + epochSelectCols + ` FROM epochs ORDER BY started_at DESC LIMIT 1`
	report, err := scanEpochRow(s.pool.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.EpochReport{}, domain.ErrNotFound
		}
		return domain.EpochReport{}, fmt.Errorf("postgres: get latest epoch: %w", err)
	}
	return report, nil
}

// List returns recent epoch reports, newest first.
func (s *EpochStore) List(ctx context.Context, limit int) ([]domain.EpochReport, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + epochSelectCols + ` FROM epochs ORDER BY started_at DESC LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list epochs: %w", err)
	}
	defer rows.Close()

	var reports []domain.EpochReport
	for rows.Next() {
		report, err := scanEpochRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan epoch: %w", err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: scan epochs: %w", err)
	}
	return reports, nil
}
