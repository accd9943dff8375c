// Package escalate resolves indeterminate candidate pairs through the
// semantic oracle. Escalation is bounded three ways: a per-epoch call
// budget, a concurrency semaphore, and a per-call timeout. Any failure on
// the oracle path yields Defer, which keeps the pair split; the pipeline
// fails toward precision, never toward a forced match.
package escalate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/davonroy/oddsmesh/internal/alias"
	"github.com/davonroy/oddsmesh/internal/config"
	"github.com/davonroy/oddsmesh/internal/domain"
	"github.com/davonroy/oddsmesh/internal/normalize"
)

// Pair is one ambiguous candidate: two listings whose composite similarity
// landed inside the indeterminate band. Entity ids are set when a side's
// mentions resolved through the alias store.
type Pair struct {
	KeyA, KeyB       string
	TitleA, TitleB   string
	EntityA, EntityB string
	Score            float64
}

// Outcome reports one escalation: the decision, the oracle's confidence
// when it was consulted, and whether the answer came from cache or the
// epoch's negative-match memory.
type Outcome struct {
	Decision   domain.Decision
	Confidence float64
	FromCache  bool
}

// Escalator serves one epoch: the call budget and the negative-match memory
// reset with the next epoch's instance. Safe for concurrent use.
type Escalator struct {
	oracle  domain.SemanticOracle
	cache   domain.DecisionCache
	aliases *alias.Memory
	cfg     config.OracleConfig
	band    [2]float64
	logger  *slog.Logger
	sem     *semaphore.Weighted

	mu        sync.Mutex
	spent     int
	negatives map[string]bool
}

// New builds an epoch escalator. The band comes from the resolve config:
// scores in [rejectBelow, acceptAbove) are indeterminate.
func New(oracle domain.SemanticOracle, cache domain.DecisionCache, aliases *alias.Memory, oc config.OracleConfig, rc config.ResolveConfig, logger *slog.Logger) *Escalator {
	concurrent := oc.MaxConcurrent
	if concurrent < 1 {
		concurrent = 1
	}
	return &Escalator{
		oracle:    oracle,
		cache:     cache,
		aliases:   aliases,
		cfg:       oc,
		band:      [2]float64{rc.RejectBelow, rc.AcceptAbove},
		logger:    logger.With(slog.String("component", "escalate")),
		sem:       semaphore.NewWeighted(int64(concurrent)),
		negatives: make(map[string]bool),
	}
}

// InBand reports whether a composite score is indeterminate: neither
// confidently rejected below the band nor confidently accepted above it.
func (e *Escalator) InBand(score float64) bool {
	return score >= e.band[0] && score < e.band[1]
}

// Spent returns the number of oracle calls consumed this epoch.
func (e *Escalator) Spent() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.spent
}

// PairKey returns the cache key for a candidate pair: an order-independent
// digest of the normalized titles.
func PairKey(titleA, titleB string) string {
	a, b := normalize.CleanTitle(titleA), normalize.CleanTitle(titleB)
	if b < a {
		a, b = b, a
	}
	sum := sha256.Sum256([]byte(a + "\x1f" + b))
	return hex.EncodeToString(sum[:])[:32]
}

// Escalate resolves one ambiguous pair. Order of authority: the epoch's
// negative memory, then the decision cache, then the oracle under budget,
// semaphore and timeout. An accepted verdict is written back through the
// alias store so the pair resolves without escalation on future epochs.
func (e *Escalator) Escalate(ctx context.Context, p Pair) Outcome {
	if e.oracle == nil {
		return Outcome{Decision: domain.DecisionDefer}
	}
	key := PairKey(p.TitleA, p.TitleB)

	e.mu.Lock()
	rejected := e.negatives[key]
	e.mu.Unlock()
	if rejected {
		return Outcome{Decision: domain.DecisionReject, FromCache: true}
	}

	if d, ok, err := e.cache.Get(ctx, key); err != nil {
		e.logger.Warn("decision cache read failed", slog.String("pair", key), slog.Any("error", err))
	} else if ok {
		switch d {
		case domain.DecisionAccept:
			e.learn(p, "replayed oracle accept")
		case domain.DecisionReject:
			e.remember(key)
		}
		return Outcome{Decision: d, FromCache: true}
	}

	e.mu.Lock()
	if e.spent >= e.cfg.CallBudget {
		e.mu.Unlock()
		e.logger.Debug("oracle call budget exhausted",
			slog.String("pair_a", p.KeyA), slog.String("pair_b", p.KeyB))
		return Outcome{Decision: domain.DecisionDefer}
	}
	e.spent++
	e.mu.Unlock()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return Outcome{Decision: domain.DecisionDefer}
	}
	defer e.sem.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout.Duration)
	defer cancel()

	verdict, err := e.oracle.Compare(callCtx, p.TitleA, p.TitleB)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = domain.ErrAmbiguityTimeout
		}
		e.logger.Warn("escalation deferred",
			slog.String("pair_a", p.KeyA),
			slog.String("pair_b", p.KeyB),
			slog.Any("error", err))
		return Outcome{Decision: domain.DecisionDefer}
	}

	switch {
	case verdict.SameEvent && verdict.Confidence >= e.cfg.MinConfidence:
		e.learn(p, verdict.Reasoning)
		e.putCache(ctx, key, domain.DecisionAccept)
		e.logger.Info("escalation accepted",
			slog.String("pair_a", p.KeyA),
			slog.String("pair_b", p.KeyB),
			slog.Float64("confidence", verdict.Confidence))
		return Outcome{Decision: domain.DecisionAccept, Confidence: verdict.Confidence}
	case !verdict.SameEvent:
		e.remember(key)
		e.putCache(ctx, key, domain.DecisionReject)
		return Outcome{Decision: domain.DecisionReject, Confidence: verdict.Confidence}
	default:
		// Same event per the oracle, but under the confidence bar: not safe
		// to join, not proven distinct.
		return Outcome{Decision: domain.DecisionDefer, Confidence: verdict.Confidence}
	}
}

// learn writes an accepted pair back through the alias store. The canonical
// id prefers an already-resolved entity; otherwise the cleaned title of the
// lower listing key becomes the canonical name.
func (e *Escalator) learn(p Pair, evidence string) {
	canonical := p.EntityA
	if canonical == "" {
		canonical = p.EntityB
	}
	if canonical == "" {
		if p.KeyB < p.KeyA {
			canonical = normalize.CleanTitle(p.TitleB)
		} else {
			canonical = normalize.CleanTitle(p.TitleA)
		}
	}
	if len(evidence) > 200 {
		evidence = evidence[:200]
	}
	e.aliases.Learn(normalize.CleanTitle(p.TitleA), canonical, evidence)
	e.aliases.Learn(normalize.CleanTitle(p.TitleB), canonical, evidence)
}

func (e *Escalator) remember(key string) {
	e.mu.Lock()
	e.negatives[key] = true
	e.mu.Unlock()
}

func (e *Escalator) putCache(ctx context.Context, key string, d domain.Decision) {
	if err := e.cache.Put(ctx, key, d, e.cfg.CacheTTL.Duration); err != nil {
		e.logger.Warn("decision cache write failed", slog.String("pair", key), slog.Any("error", err))
	}
}
