package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davonroy/oddsmesh/internal/domain"
)

// ClusterStore implements domain.ClusterStore using PostgreSQL.
type ClusterStore struct {
	pool *pgxpool.Pool
}

// NewClusterStore creates a new ClusterStore backed by the given connection pool.
func NewClusterStore(pool *pgxpool.Pool) *ClusterStore {
	return &ClusterStore{pool: pool}
}

// InsertBatch inserts the clusters an epoch settled on. The cluster id is a
// digest of the member set, so a re-published epoch hits the same primary
// key and is skipped via ON CONFLICT DO NOTHING.
func (s *ClusterStore) InsertBatch(ctx context.Context, clusters []domain.Cluster) error {
	if len(clusters) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO clusters (id, epoch_id, members, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (epoch_id, id) DO NOTHING`

	for _, c := range clusters {
		members, err := json.Marshal(c.Members)
		if err != nil {
			return fmt.Errorf("postgres: marshal members for %s: %w", c.ID, err)
		}
		batch.Queue(query, c.ID, c.EpochID, members, c.CreatedAt)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range clusters {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert cluster batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListByEpoch returns the clusters recorded for an epoch, ordered by id.
func (s *ClusterStore) ListByEpoch(ctx context.Context, epochID string) ([]domain.Cluster, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, epoch_id, members, created_at FROM clusters WHERE epoch_id = $1 ORDER BY id`,
		epochID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list clusters by epoch: %w", err)
	}
	defer rows.Close()

	var clusters []domain.Cluster
	for rows.Next() {
		var (
			c       domain.Cluster
			members []byte
		)
		if err := rows.Scan(&c.ID, &c.EpochID, &members, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan cluster: %w", err)
		}
		if err := json.Unmarshal(members, &c.Members); err != nil {
			return nil, fmt.Errorf("postgres: decode members for %s: %w", c.ID, err)
		}
		clusters = append(clusters, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: scan clusters: %w", err)
	}
	return clusters, nil
}
