// Package alias maintains the persistent alias memory: a curated read-only
// table loaded at startup, an append-only learned table, and a merge log.
// The in-memory view serves concurrent readers; mutations are serialized and
// flushed to the durable store at checkpoints.
package alias

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/davonroy/oddsmesh/internal/domain"
	"github.com/davonroy/oddsmesh/internal/normalize"
)

// entityRec is the in-memory state of one canonical entity.
type entityRec struct {
	name      string
	aliases   map[string]bool
	createdAt time.Time
}

// Memory is the live alias store. Entity ids are canonical names, which keeps
// the learned table human-auditable and makes resolution deterministic.
type Memory struct {
	store  domain.AliasStore
	logger *slog.Logger

	mu        sync.RWMutex
	bySurface map[string]string // normalized surface -> entity id (may be merged)
	entities  map[string]*entityRec
	redirects map[string]string // merged-from id -> merged-to id

	pendingLearn []domain.AliasRecord
	pendingMerge []domain.MergeRecord
	dirty        bool
}

// NewMemory returns an empty alias memory backed by store. Call Load before
// first use.
func NewMemory(store domain.AliasStore, logger *slog.Logger) *Memory {
	return &Memory{
		store:     store,
		logger:    logger.With(slog.String("component", "alias")),
		bySurface: make(map[string]string),
		entities:  make(map[string]*entityRec),
		redirects: make(map[string]string),
	}
}

// Load reads the curated table, the learned table and the merge log into
// memory. Curated rows are applied first so learned rows can extend them.
func (m *Memory) Load(ctx context.Context) error {
	curated, err := m.store.LoadCurated(ctx)
	if err != nil {
		return fmt.Errorf("alias: load curated: %w", err)
	}
	learned, err := m.store.LoadLearned(ctx)
	if err != nil {
		return fmt.Errorf("alias: load learned: %w", err)
	}
	merges, err := m.store.LoadMerges(ctx)
	if err != nil {
		return fmt.Errorf("alias: load merges: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range curated {
		m.applyLocked(rec)
	}
	for _, rec := range learned {
		m.applyLocked(rec)
	}
	for _, mg := range merges {
		m.applyMergeLocked(mg.FromID, mg.ToID)
	}

	m.logger.Info("alias memory loaded",
		slog.Int("curated", len(curated)),
		slog.Int("learned", len(learned)),
		slog.Int("merges", len(merges)),
		slog.Int("entities", len(m.entities)),
	)
	return nil
}

// Resolve maps a surface string to its live canonical entity. The bool is
// false when the surface is unknown.
func (m *Memory) Resolve(surface string) (domain.CanonicalEntity, bool) {
	key := normalize.CleanTitle(surface)
	if key == "" {
		return domain.CanonicalEntity{}, false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.bySurface[key]
	if !ok {
		return domain.CanonicalEntity{}, false
	}
	id = m.liveLocked(id)
	rec, ok := m.entities[id]
	if !ok {
		return domain.CanonicalEntity{}, false
	}
	return entityOf(id, rec), true
}

// Learn records that surface refers to the entity. Learning the same pair
// twice has no additional effect; a surface already mapped to a different
// live entity is remapped and the old mapping survives only in the audit
// trail of the learned table.
func (m *Memory) Learn(surface, entityID, evidence string) {
	key := normalize.CleanTitle(surface)
	id := normalize.CleanTitle(entityID)
	if key == "" || id == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id = m.liveLocked(id)
	if cur, ok := m.bySurface[key]; ok && m.liveLocked(cur) == id {
		return // idempotent
	}

	rec := m.ensureEntityLocked(id)
	rec.aliases[key] = true
	m.bySurface[key] = id
	m.pendingLearn = append(m.pendingLearn, domain.AliasRecord{
		Surface:   key,
		EntityID:  id,
		Evidence:  evidence,
		Source:    domain.AliasLearned,
		LearnedAt: time.Now().UTC(),
	})
	m.dirty = true
}

// Merge folds fromID into toID: the target absorbs all aliases and the
// merged-from id becomes a permanent redirect. Resolution through any chain
// of merges always lands on the final live id; merging an id into itself,
// directly or through a chain, is a no-op.
func (m *Memory) Merge(fromID, toID string) {
	from := normalize.CleanTitle(fromID)
	to := normalize.CleanTitle(toID)
	if from == "" || to == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	liveFrom := m.liveLocked(from)
	liveTo := m.liveLocked(to)
	if liveFrom == liveTo {
		return
	}
	m.applyMergeLocked(liveFrom, liveTo)
	m.pendingMerge = append(m.pendingMerge, domain.MergeRecord{
		FromID:   liveFrom,
		ToID:     liveTo,
		MergedAt: time.Now().UTC(),
	})
	m.dirty = true
}

// Entities returns a snapshot of all live canonical entities, sorted by id.
func (m *Memory) Entities() []domain.CanonicalEntity {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.CanonicalEntity, 0, len(m.entities))
	for id, rec := range m.entities {
		out = append(out, entityOf(id, rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Dirty reports whether unflushed learning exists.
func (m *Memory) Dirty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dirty
}

// Checkpoint flushes pending learned rows and merges to the durable store.
// On failure the pending state is kept so the next checkpoint retries; the
// caller keeps running on the in-memory view either way.
func (m *Memory) Checkpoint(ctx context.Context) error {
	m.mu.Lock()
	learn := m.pendingLearn
	merge := m.pendingMerge
	m.pendingLearn = nil
	m.pendingMerge = nil
	m.mu.Unlock()

	if len(learn) == 0 && len(merge) == 0 {
		m.mu.Lock()
		m.dirty = false
		m.mu.Unlock()
		return nil
	}

	restore := func() {
		m.mu.Lock()
		m.pendingLearn = append(learn, m.pendingLearn...)
		m.pendingMerge = append(merge, m.pendingMerge...)
		m.dirty = true
		m.mu.Unlock()
	}

	if len(learn) > 0 {
		if err := m.store.AppendLearned(ctx, learn); err != nil {
			restore()
			m.logger.Error("alias checkpoint failed, keeping in-memory state",
				slog.Int("pending_learn", len(learn)),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("alias: checkpoint: %v: %w", err, domain.ErrPersistence)
		}
	}
	for i, mg := range merge {
		if err := m.store.RecordMerge(ctx, mg); err != nil {
			merge = merge[i:]
			learn = nil
			restore()
			m.logger.Error("alias merge checkpoint failed, keeping in-memory state",
				slog.Int("pending_merge", len(merge)),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("alias: checkpoint merge: %v: %w", err, domain.ErrPersistence)
		}
	}

	m.mu.Lock()
	m.dirty = len(m.pendingLearn) > 0 || len(m.pendingMerge) > 0
	m.mu.Unlock()

	m.logger.Debug("alias checkpoint flushed",
		slog.Int("learned", len(learn)),
		slog.Int("merges", len(merge)),
	)
	return nil
}

// Scoped runs fn and checkpoints on every exit path, including panics and fn
// errors. The fn error wins over the checkpoint error.
func (m *Memory) Scoped(ctx context.Context, fn func() error) (err error) {
	defer func() {
		if cerr := m.Checkpoint(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn()
}

// ---------------------------------------------------------------------------
// Internal helpers. All *Locked functions require m.mu to be held.
// ---------------------------------------------------------------------------

// liveLocked follows merge redirects to the final live id.
func (m *Memory) liveLocked(id string) string {
	for {
		next, ok := m.redirects[id]
		if !ok {
			return id
		}
		id = next
	}
}

func (m *Memory) ensureEntityLocked(id string) *entityRec {
	rec, ok := m.entities[id]
	if !ok {
		rec = &entityRec{
			name:      id,
			aliases:   map[string]bool{id: true},
			createdAt: time.Now().UTC(),
		}
		m.entities[id] = rec
		m.bySurface[id] = id
	}
	return rec
}

func (m *Memory) applyLocked(rec domain.AliasRecord) {
	id := normalize.CleanTitle(rec.EntityID)
	key := normalize.CleanTitle(rec.Surface)
	if id == "" || key == "" {
		return
	}
	ent := m.ensureEntityLocked(id)
	ent.aliases[key] = true
	m.bySurface[key] = id
}

// applyMergeLocked performs the merge and reports whether anything changed.
func (m *Memory) applyMergeLocked(fromID, toID string) bool {
	from := m.liveLocked(fromID)
	to := m.liveLocked(toID)
	if from == to {
		return false
	}

	target := m.ensureEntityLocked(to)
	if src, ok := m.entities[from]; ok {
		for a := range src.aliases {
			target.aliases[a] = true
			m.bySurface[a] = to
		}
		delete(m.entities, from)
	}
	m.redirects[from] = to
	return true
}

func entityOf(id string, rec *entityRec) domain.CanonicalEntity {
	aliases := make([]string, 0, len(rec.aliases))
	for a := range rec.aliases {
		aliases = append(aliases, a)
	}
	sort.Strings(aliases)
	return domain.CanonicalEntity{
		ID:        id,
		Name:      rec.name,
		Aliases:   aliases,
		CreatedAt: rec.createdAt,
	}
}
