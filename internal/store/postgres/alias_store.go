package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davonroy/oddsmesh/internal/domain"
)

// AliasStore implements domain.AliasStore using PostgreSQL. Curated rows are
// operator-maintained and read-only from the engine's point of view; learned
// rows are an append-only log written by oracle acceptances.
type AliasStore struct {
	pool *pgxpool.Pool
}

// NewAliasStore creates a new AliasStore backed by the given connection pool.
func NewAliasStore(pool *pgxpool.Pool) *AliasStore {
	return &AliasStore{pool: pool}
}

func scanAliasRows(rows pgx.Rows, source domain.AliasSource) ([]domain.AliasRecord, error) {
	var records []domain.AliasRecord
	for rows.Next() {
		r := domain.AliasRecord{Source: source}
		if err := rows.Scan(&r.Surface, &r.EntityID, &r.Evidence, &r.LearnedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// LoadCurated returns every operator-curated alias row.
func (s *AliasStore) LoadCurated(ctx context.Context) ([]domain.AliasRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT surface, entity_id, evidence, created_at FROM aliases_curated ORDER BY surface`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load curated aliases: %w", err)
	}
	defer rows.Close()

	records, err := scanAliasRows(rows, domain.AliasCurated)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan curated aliases: %w", err)
	}
	return records, nil
}

// LoadLearned returns learned alias rows in append order, so replaying them
// over the curated table reconstructs the in-memory state.
func (s *AliasStore) LoadLearned(ctx context.Context) ([]domain.AliasRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT surface, entity_id, evidence, learned_at FROM aliases_learned ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load learned aliases: %w", err)
	}
	defer rows.Close()

	records, err := scanAliasRows(rows, domain.AliasLearned)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan learned aliases: %w", err)
	}
	return records, nil
}

// LoadMerges returns entity merges in the order they were recorded.
func (s *AliasStore) LoadMerges(ctx context.Context) ([]domain.MergeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT from_id, to_id, merged_at FROM entity_merges ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load merges: %w", err)
	}
	defer rows.Close()

	var merges []domain.MergeRecord
	for rows.Next() {
		var m domain.MergeRecord
		if err := rows.Scan(&m.FromID, &m.ToID, &m.MergedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan merge: %w", err)
		}
		merges = append(merges, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: scan merges: %w", err)
	}
	return merges, nil
}

// AppendLearned appends the batch inside a single transaction: either every
// record lands in the log or none do.
func (s *AliasStore) AppendLearned(ctx context.Context, records []domain.AliasRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO aliases_learned (surface, entity_id, evidence, learned_at)
		VALUES ($1, $2, $3, $4)`
	for _, r := range records {
		batch.Queue(query, r.Surface, r.EntityID, r.Evidence, r.LearnedAt)
	}

	br := tx.SendBatch(ctx, batch)
	for i := range records {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("postgres: append learned alias item %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("postgres: close learned alias batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit learned aliases: %w", err)
	}
	return nil
}

// RecordMerge appends one entity merge to the log.
func (s *AliasStore) RecordMerge(ctx context.Context, m domain.MergeRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO entity_merges (from_id, to_id, merged_at) VALUES ($1, $2, $3)`,
		m.FromID, m.ToID, m.MergedAt)
	if err != nil {
		return fmt.Errorf("postgres: record merge %s -> %s: %w", m.FromID, m.ToID, err)
	}
	return nil
}
