package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davonroy/oddsmesh/internal/domain"
)

// RejectionStore implements domain.RejectionStore using PostgreSQL.
type RejectionStore struct {
	pool *pgxpool.Pool
}

// NewRejectionStore creates a new RejectionStore backed by the given connection pool.
func NewRejectionStore(pool *pgxpool.Pool) *RejectionStore {
	return &RejectionStore{pool: pool}
}

const rejectionSelectCols = `id, epoch_id, stage, rule, subject, reason, created_at`

func scanRejectionRows(rows pgx.Rows) ([]domain.Rejection, error) {
	var rejections []domain.Rejection
	for rows.Next() {
		var (
			r     domain.Rejection
			stage string
		)
		if err := rows.Scan(&r.ID, &r.EpochID, &stage, &r.Rule, &r.Subject, &r.Reason, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Stage = domain.RejectionStage(stage)
		rejections = append(rejections, r)
	}
	return rejections, rows.Err()
}

// InsertBatch inserts multiple rejection records efficiently using pgx Batch.
func (s *RejectionStore) InsertBatch(ctx context.Context, rejections []domain.Rejection) error {
	if len(rejections) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO rejections (epoch_id, stage, rule, subject, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	for _, r := range rejections {
		batch.Queue(query, r.EpochID, string(r.Stage), r.Rule, r.Subject, r.Reason, r.CreatedAt)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range rejections {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert rejection batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListByEpoch returns an epoch's rejections in insertion order.
func (s *RejectionStore) ListByEpoch(ctx context.Context, epochID string) ([]domain.Rejection, error) {
	query := `SELECT ` + rejectionSelectCols + ` FROM rejections WHERE epoch_id = $1 ORDER BY id`
	rows, err := s.pool.Query(ctx, query, epochID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list rejections by epoch: %w", err)
	}
	defer rows.Close()

	rejections, err := scanRejectionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan rejections by epoch: %w", err)
	}
	return rejections, nil
}

// ListByStage returns rejections from one pipeline stage with pagination and
// optional time filtering.
func (s *RejectionStore) ListByStage(ctx context.Context, stage domain.RejectionStage, opts domain.ListOpts) ([]domain.Rejection, error) {
	query := `SELECT ` + rejectionSelectCols + ` FROM rejections WHERE stage = $1`
	args := []any{string(stage)}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list rejections by stage: %w", err)
	}
	defer rows.Close()

	rejections, err := scanRejectionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan rejections by stage: %w", err)
	}
	return rejections, nil
}
