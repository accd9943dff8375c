// Package epoch drives the scan loop. Each epoch takes one listing snapshot
// through normalization, entity resolution, clustering, oracle escalation,
// constraint building, polytope projection and violation detection, then
// publishes its signals, forensic records and summary only after every
// cluster finishes, so consumers never see a half-scanned epoch. A
// distributed lock serializes epochs across instances; between epochs only
// the alias memory and the projection cache carry state forward.
package epoch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/davonroy/oddsmesh/internal/alias"
	"github.com/davonroy/oddsmesh/internal/cluster"
	"github.com/davonroy/oddsmesh/internal/config"
	"github.com/davonroy/oddsmesh/internal/constraint"
	"github.com/davonroy/oddsmesh/internal/detect"
	"github.com/davonroy/oddsmesh/internal/domain"
	"github.com/davonroy/oddsmesh/internal/escalate"
	"github.com/davonroy/oddsmesh/internal/normalize"
	"github.com/davonroy/oddsmesh/internal/polytope"
	"github.com/davonroy/oddsmesh/internal/simgraph"
)

// scanLockKey is the distributed lock every scanning instance contends on.
const scanLockKey = "epoch:scan"

// pruneEvery floors how often retention pruning lists the archive.
const pruneEvery = time.Hour

// Deps bundles the shared-state collaborators of an Orchestrator. Oracle and
// Archiver are optional: a nil Oracle defers every escalation, a nil
// Archiver disables cold storage.
type Deps struct {
	Source      domain.ListingSource
	Aliases     *alias.Memory
	Oracle      domain.SemanticOracle
	Decisions   domain.DecisionCache
	Projections domain.ProjectionCache
	Locks       domain.LockManager
	Bus         domain.SignalBus
	Signals     domain.SignalStore
	Clusters    domain.ClusterStore
	Rejections  domain.RejectionStore
	Epochs      domain.EpochStore
	Archiver    domain.Archiver
}

// Orchestrator runs full resolution epochs. One instance serves one Run
// loop; the scan lock keeps concurrent instances from scanning the same
// interval twice.
type Orchestrator struct {
	cfg  config.Config
	deps Deps

	normalizer  *normalize.Normalizer
	graphs      *simgraph.Builder
	clusterer   *cluster.Detector
	constraints *constraint.Builder
	projector   *polytope.Projector
	detector    *detect.Detector

	logger    *slog.Logger
	now       func() time.Time
	lastPrune time.Time
}

// New assembles the pipeline stages around the given dependencies.
func New(cfg config.Config, deps Deps, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		deps:        deps,
		normalizer:  normalize.New(cfg.Normalize),
		graphs:      simgraph.NewBuilder(cfg.Resolve, deps.Aliases, simgraph.NewPipeline(simgraph.DefaultRules(cfg.Resolve)...), logger),
		clusterer:   cluster.NewDetector(cfg.Resolve, logger),
		constraints: constraint.NewBuilder(logger),
		projector:   polytope.NewProjector(cfg.Project, deps.Projections, logger),
		detector:    detect.NewDetector(cfg.Detect, logger),
		logger:      logger.With(slog.String("component", "epoch")),
		now:         time.Now,
	}
}

// Run executes epochs on the configured interval until ctx is cancelled. The
// first epoch starts immediately. A failed epoch is logged and the next tick
// starts fresh; a held lock means another instance is scanning and the tick
// is skipped.
func (o *Orchestrator) Run(ctx context.Context) error {
	interval := o.cfg.Epoch.Interval.Duration
	if interval <= 0 {
		interval = time.Minute
	}
	o.logger.Info("epoch runner starting", slog.Duration("interval", interval))

	o.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("epoch runner stopped")
			return ctx.Err()
		case <-ticker.C:
			o.runOnce(ctx)
		}
	}
}

func (o *Orchestrator) runOnce(ctx context.Context) {
	if _, err := o.RunEpoch(ctx); err != nil {
		switch {
		case errors.Is(err, domain.ErrLockHeld):
			o.logger.Debug("scan lock held elsewhere, skipping epoch")
		case ctx.Err() != nil:
			// Shutting down; Run's select reports it.
		default:
			o.logger.Error("epoch failed", slog.String("error", err.Error()))
		}
	}
}

// RunEpoch executes one resolution epoch end to end and returns its report.
// An error means the epoch aborted and published nothing; the next epoch
// starts from a fresh snapshot either way.
func (o *Orchestrator) RunEpoch(ctx context.Context) (domain.EpochReport, error) {
	started := o.now()
	epochID := newEpochID(started)
	logger := o.logger.With(slog.String("epoch_id", epochID))

	unlock, err := o.deps.Locks.Acquire(ctx, scanLockKey, o.cfg.Epoch.LockTTL.Duration)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return domain.EpochReport{}, domain.ErrLockHeld
		}
		return domain.EpochReport{}, fmt.Errorf("epoch: acquire scan lock: %w", err)
	}
	defer unlock()

	raw, err := o.deps.Source.Snapshot(ctx)
	if err != nil {
		return domain.EpochReport{}, fmt.Errorf("epoch: snapshot: %w", err)
	}
	if len(raw) == 0 {
		return domain.EpochReport{}, fmt.Errorf("epoch: %w", domain.ErrNoListings)
	}
	logger.Info("epoch started", slog.Int("listings", len(raw)))

	snapshotRef := o.archiveSnapshot(ctx, epochID, raw, logger)

	res, err := o.resolveSnapshot(ctx, epochID, raw, started, logger)
	if err != nil {
		return domain.EpochReport{}, err
	}
	listings := res.listings
	rejections := res.rejections

	esc := o.escalateAmbiguous(ctx, epochID, res.part, logger)
	rejections = append(rejections, esc.rejections...)

	clusters, stale := mergeClusters(epochID, res.part.Clusters, esc.joins, o.now().UTC())
	o.invalidateStale(ctx, stale, logger)

	outs := make([]clusterOutcome, len(clusters))
	eg, gctx := errgroup.WithContext(ctx)
	workers := o.cfg.Epoch.ClusterWorkers
	if workers < 1 {
		workers = 1
	}
	eg.SetLimit(workers)
	for i, c := range clusters {
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := o.analyzeCluster(gctx, epochID, c, listings)
			if err != nil {
				return err
			}
			outs[i] = out
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return domain.EpochReport{}, fmt.Errorf("epoch: cluster analysis: %w", err)
	}

	var signals []domain.ArbitrageSignal
	multi := 0
	for _, out := range outs {
		signals = append(signals, out.signals...)
		rejections = append(rejections, out.rejections...)
		if out.multiVenue {
			multi++
		}
	}
	sortSignals(signals)

	report := domain.EpochReport{
		EpochID:     epochID,
		StartedAt:   started,
		FinishedAt:  o.now(),
		Listings:    len(raw),
		Dropped:     res.dropped,
		Clusters:    len(clusters),
		MultiVenue:  multi,
		Accepted:    esc.accepted,
		RejectedAmb: esc.rejected,
		Deferred:    esc.deferred,
		Signals:     len(signals),
		Rejections:  len(rejections),
		SnapshotRef: snapshotRef,
	}

	o.flush(ctx, logger, report, signals, clusters, rejections)
	o.pruneArchive(ctx, logger)

	logger.Info("epoch finished",
		slog.Duration("took", report.Duration()),
		slog.Int("listings", report.Listings),
		slog.Int("dropped", report.Dropped),
		slog.Int("clusters", report.Clusters),
		slog.Int("multi_venue", report.MultiVenue),
		slog.Int("accepted", report.Accepted),
		slog.Int("signals", report.Signals),
		slog.Int("rejections", report.Rejections),
	)
	return report, nil
}

// Resolution summarizes a resolution-only pass: how a snapshot settled
// into clusters, with no detection run and nothing published.
type Resolution struct {
	EpochID     string             `json:"epoch_id"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  time.Time          `json:"finished_at"`
	Listings    int                `json:"listings"`
	Dropped     int                `json:"dropped"`
	MultiVenue  int                `json:"multi_venue"`
	Accepted    int                `json:"accepted"`
	RejectedAmb int                `json:"rejected_ambiguous"`
	Deferred    int                `json:"deferred"`
	Clusters    []domain.Cluster   `json:"clusters"`
	Rejections  []domain.Rejection `json:"rejections,omitempty"`
}

// ResolveEpoch runs the resolution half of one epoch under the scan lock:
// normalization, graph clustering, escalation and merging, with detection
// skipped entirely. Learned aliases are the only state it changes; nothing
// is published or persisted.
func (o *Orchestrator) ResolveEpoch(ctx context.Context) (Resolution, error) {
	started := o.now()
	epochID := newEpochID(started)
	logger := o.logger.With(slog.String("epoch_id", epochID))

	unlock, err := o.deps.Locks.Acquire(ctx, scanLockKey, o.cfg.Epoch.LockTTL.Duration)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return Resolution{}, domain.ErrLockHeld
		}
		return Resolution{}, fmt.Errorf("epoch: acquire scan lock: %w", err)
	}
	defer unlock()

	raw, err := o.deps.Source.Snapshot(ctx)
	if err != nil {
		return Resolution{}, fmt.Errorf("epoch: snapshot: %w", err)
	}
	if len(raw) == 0 {
		return Resolution{}, fmt.Errorf("epoch: %w", domain.ErrNoListings)
	}
	logger.Info("resolution pass started", slog.Int("listings", len(raw)))

	res, err := o.resolveSnapshot(ctx, epochID, raw, started, logger)
	if err != nil {
		return Resolution{}, err
	}

	esc := o.escalateAmbiguous(ctx, epochID, res.part, logger)
	clusters, stale := mergeClusters(epochID, res.part.Clusters, esc.joins, o.now().UTC())
	o.invalidateStale(ctx, stale, logger)

	multi := 0
	for _, c := range clusters {
		if multiVenue(c, res.listings) {
			multi++
		}
	}

	out := Resolution{
		EpochID:     epochID,
		StartedAt:   started,
		FinishedAt:  o.now(),
		Listings:    len(raw),
		Dropped:     res.dropped,
		MultiVenue:  multi,
		Accepted:    esc.accepted,
		RejectedAmb: esc.rejected,
		Deferred:    esc.deferred,
		Clusters:    clusters,
		Rejections:  append(res.rejections, esc.rejections...),
	}
	logger.Info("resolution pass finished",
		slog.Int("clusters", len(clusters)),
		slog.Int("multi_venue", multi),
		slog.Int("accepted", esc.accepted),
		slog.Int("rejected", esc.rejected),
		slog.Int("deferred", esc.deferred),
	)
	return out, nil
}

// Replay re-derives an epoch's signals from its archived snapshot. The pass
// is read-only: no lock, no oracle escalation, nothing published or
// persisted, so the result can be diffed against the stored signal set
// without disturbing live state. Listing staleness is judged as of the
// original scan start. Clusters the oracle merged at scan time come back
// split unless learned aliases have since closed the lexical gap.
func (o *Orchestrator) Replay(ctx context.Context, report domain.EpochReport) ([]domain.ArbitrageSignal, error) {
	if o.deps.Archiver == nil {
		return nil, fmt.Errorf("epoch: replay %s: no archive configured", report.EpochID)
	}
	raw, err := o.deps.Archiver.ReadSnapshot(ctx, report.EpochID)
	if err != nil {
		return nil, fmt.Errorf("epoch: replay %s: %w", report.EpochID, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("epoch: replay %s: %w", report.EpochID, domain.ErrNoListings)
	}
	logger := o.logger.With(slog.String("epoch_id", report.EpochID), slog.Bool("replay", true))

	res, err := o.resolveSnapshot(ctx, report.EpochID, raw, report.StartedAt, logger)
	if err != nil {
		return nil, err
	}

	var signals []domain.ArbitrageSignal
	for _, c := range res.part.Clusters {
		out, err := o.analyzeCluster(ctx, report.EpochID, c, res.listings)
		if err != nil {
			return nil, fmt.Errorf("epoch: replay %s: %w", report.EpochID, err)
		}
		signals = append(signals, out.signals...)
	}
	sortSignals(signals)

	logger.Info("replay finished",
		slog.Int("listings", len(raw)),
		slog.Int("clusters", len(res.part.Clusters)),
		slog.Int("signals", len(signals)),
	)
	return signals, nil
}

// resolved carries the products of the resolution front half shared by full
// epochs, resolve-only passes and replays.
type resolved struct {
	listings   map[string]domain.Listing
	part       cluster.Result
	rejections []domain.Rejection
	dropped    int
}

// resolveSnapshot takes a raw snapshot through normalization, the similarity
// graph and community detection. Failing every listing at normalization is
// fatal; individual drops are forensic records.
func (o *Orchestrator) resolveSnapshot(ctx context.Context, epochID string, raw []domain.RawListing, asOf time.Time, logger *slog.Logger) (resolved, error) {
	listings, normRejs := o.normalizeSnapshot(epochID, raw, asOf)
	if len(listings) == 0 {
		logger.Error("every listing failed normalization", slog.Int("listings", len(raw)))
		return resolved{}, fmt.Errorf("epoch: all %d listings dropped: %w", len(raw), domain.ErrNoListings)
	}

	ordered := make([]domain.Listing, 0, len(listings))
	for _, l := range listings {
		ordered = append(ordered, l)
	}
	g, err := o.graphs.Build(ctx, ordered)
	if err != nil {
		return resolved{}, fmt.Errorf("epoch: similarity graph: %w", err)
	}

	part := o.clusterer.Partition(epochID, g)
	return resolved{
		listings:   listings,
		part:       part,
		rejections: append(normRejs, part.Rejections...),
		dropped:    len(normRejs),
	}, nil
}

// normalizeSnapshot canonicalizes the raw snapshot. Listings that fail
// normalization are dropped with a forensic record; a later duplicate of the
// same venue listing supersedes the earlier one.
func (o *Orchestrator) normalizeSnapshot(epochID string, raw []domain.RawListing, now time.Time) (map[string]domain.Listing, []domain.Rejection) {
	byKey := make(map[string]domain.Listing, len(raw))
	var rejs []domain.Rejection
	for _, r := range raw {
		l, err := o.normalizer.Normalize(r, now)
		if err != nil {
			rule := "malformed"
			if errors.Is(err, domain.ErrStale) {
				rule = "stale"
			}
			rejs = append(rejs, o.rejection(epochID, domain.StageNormalize, rule, r.VenueID+":"+r.ListingID, err.Error()))
			continue
		}
		byKey[l.Key()] = l
	}
	return byKey, rejs
}

// escalation aggregates the oracle phase: which cluster pairs to join, the
// tallies for the report, and the forensic trail of everything that stayed
// split.
type escalation struct {
	joins      [][2]int
	accepted   int
	rejected   int
	deferred   int
	rejections []domain.Rejection
}

// escalateAmbiguous resolves in-band pairs through the oracle. Pairs the
// shortlist cuts, pairs raised while the oracle is disabled, and pairs
// without a decisive verdict all stay split and leave rejection records;
// only an accepted verdict ever joins clusters.
func (o *Orchestrator) escalateAmbiguous(ctx context.Context, epochID string, part cluster.Result, logger *slog.Logger) escalation {
	var out escalation
	if len(part.Ambiguous) == 0 {
		return out
	}

	memberOf := make(map[string]int, len(part.Clusters)*2)
	for i, c := range part.Clusters {
		for _, key := range c.Members {
			memberOf[key] = i
		}
	}

	pairs := make([]escalate.Pair, 0, len(part.Ambiguous))
	for _, amb := range part.Ambiguous {
		if memberOf[amb.KeyA] == memberOf[amb.KeyB] {
			continue // already joined through a confident path
		}
		pairs = append(pairs, escalate.Pair{
			KeyA:    amb.KeyA,
			KeyB:    amb.KeyB,
			TitleA:  amb.TitleA,
			TitleB:  amb.TitleB,
			EntityA: amb.EntityA,
			EntityB: amb.EntityB,
			Score:   amb.Score,
		})
	}
	if len(pairs) == 0 {
		return out
	}

	if o.deps.Oracle == nil {
		for _, p := range pairs {
			out.deferred++
			out.rejections = append(out.rejections, o.rejection(epochID, domain.StageEscalate, "oracle_disabled",
				p.KeyA+"|"+p.KeyB, fmt.Sprintf("indeterminate score %.3f with no oracle configured", p.Score)))
		}
		return out
	}

	shortlisted := escalate.Shortlist(pairs, o.cfg.Oracle.TopK)
	kept := make(map[string]bool, len(shortlisted))
	for _, p := range shortlisted {
		kept[p.KeyA+"|"+p.KeyB] = true
	}
	for _, p := range pairs {
		if !kept[p.KeyA+"|"+p.KeyB] {
			out.deferred++
			out.rejections = append(out.rejections, o.rejection(epochID, domain.StageEscalate, "shortlist_cut",
				p.KeyA+"|"+p.KeyB, "outside the per-listing escalation shortlist"))
		}
	}

	esc := escalate.New(o.deps.Oracle, o.deps.Decisions, o.deps.Aliases, o.cfg.Oracle, o.cfg.Resolve, o.logger)
	outcomes := make([]escalate.Outcome, len(shortlisted))
	var wg sync.WaitGroup
	for i, p := range shortlisted {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = esc.Escalate(ctx, p)
		}()
	}
	wg.Wait()

	for i, res := range outcomes {
		p := shortlisted[i]
		subject := p.KeyA + "|" + p.KeyB
		switch res.Decision {
		case domain.DecisionAccept:
			out.accepted++
			out.joins = append(out.joins, [2]int{memberOf[p.KeyA], memberOf[p.KeyB]})
		case domain.DecisionReject:
			out.rejected++
			out.rejections = append(out.rejections, o.rejection(epochID, domain.StageEscalate, "oracle_distinct",
				subject, fmt.Sprintf("judged distinct at confidence %.2f", res.Confidence)))
		default:
			out.deferred++
			out.rejections = append(out.rejections, o.rejection(epochID, domain.StageEscalate, "oracle_deferred",
				subject, "no decisive verdict, pair stays split"))
		}
	}

	logger.Info("escalation round finished",
		slog.Int("candidates", len(part.Ambiguous)),
		slog.Int("escalated", len(shortlisted)),
		slog.Int("accepted", out.accepted),
		slog.Int("rejected", out.rejected),
		slog.Int("deferred", out.deferred),
		slog.Int("oracle_calls", esc.Spent()),
	)
	return out
}

// mergeClusters folds accepted joins into the partition. Joined clusters are
// rebuilt over the union of their members, which derives a fresh membership
// digest; the absorbed ids come back so their cached projections can be
// dropped.
func mergeClusters(epochID string, clusters []domain.Cluster, joins [][2]int, now time.Time) ([]domain.Cluster, []string) {
	if len(joins) == 0 {
		return clusters, nil
	}

	parent := make([]int, len(clusters))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	for _, j := range joins {
		ra, rb := find(j[0]), find(j[1])
		if ra != rb {
			parent[rb] = ra
		}
	}

	groups := make(map[int][]int, len(clusters))
	for i := range clusters {
		root := find(i)
		groups[root] = append(groups[root], i)
	}

	merged := make([]domain.Cluster, 0, len(groups))
	var stale []string
	for _, idxs := range groups {
		if len(idxs) == 1 {
			merged = append(merged, clusters[idxs[0]])
			continue
		}
		var members []string
		for _, idx := range idxs {
			members = append(members, clusters[idx].Members...)
			stale = append(stale, clusters[idx].ID)
		}
		c := domain.NewCluster(epochID, members)
		c.CreatedAt = now
		merged = append(merged, c)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Members[0] < merged[j].Members[0] })
	sort.Strings(stale)
	return merged, stale
}

// clusterOutcome carries one cluster's analysis products.
type clusterOutcome struct {
	signals    []domain.ArbitrageSignal
	rejections []domain.Rejection
	multiVenue bool
}

// multiVenue reports whether a cluster spans more than one venue.
func multiVenue(c domain.Cluster, listings map[string]domain.Listing) bool {
	venues := make(map[string]bool, 2)
	for _, key := range c.Members {
		if l, ok := listings[key]; ok {
			venues[l.VenueID] = true
		}
	}
	return len(venues) > 1
}

// analyzeCluster runs the constraint, projection and detection stages for
// one cluster. Everything short of context cancellation resolves to a
// rejection record: a broken cluster is excluded and flagged, never fatal.
func (o *Orchestrator) analyzeCluster(ctx context.Context, epochID string, c domain.Cluster, listings map[string]domain.Listing) (clusterOutcome, error) {
	out := clusterOutcome{multiVenue: multiVenue(c, listings)}

	cs, err := o.constraints.Build(c, listings)
	if err != nil {
		rule := "constraint_build"
		if errors.Is(err, domain.ErrInfeasibleConstraints) {
			rule = "infeasible_set"
		}
		out.rejections = append(out.rejections, o.rejection(epochID, domain.StageConstrain, rule, c.ID, err.Error()))
		return out, nil
	}

	observed, prices, err := constraint.Vector(cs, listings)
	if err != nil {
		out.rejections = append(out.rejections, o.rejection(epochID, domain.StageConstrain, "observed_vector", c.ID, err.Error()))
		return out, nil
	}

	proj, err := o.projector.Project(ctx, observed, cs)
	if err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		out.rejections = append(out.rejections, o.rejection(epochID, domain.StageConstrain, "projection", c.ID, err.Error()))
		return out, nil
	}

	res := o.detector.Detect(epochID, cs, observed, proj, prices)
	out.signals = res.Signals
	out.rejections = append(out.rejections, res.Rejections...)
	return out, nil
}

// flush publishes the epoch's products: bus first for live consumers, then
// the durable stores, then the report whose presence marks the epoch as
// flushed. Persistence failures degrade to warnings; the scan keeps running
// on its in-memory state.
func (o *Orchestrator) flush(ctx context.Context, logger *slog.Logger, report domain.EpochReport, signals []domain.ArbitrageSignal, clusters []domain.Cluster, rejections []domain.Rejection) {
	flushCtx := ctx
	if t := o.cfg.Epoch.FlushTimeout.Duration; t > 0 {
		var cancel context.CancelFunc
		flushCtx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	for _, sig := range signals {
		payload, err := json.Marshal(sig)
		if err != nil {
			logger.Warn("signal marshal failed", slog.String("signal_id", sig.ID), slog.String("error", err.Error()))
			continue
		}
		if err := o.deps.Bus.Publish(flushCtx, o.cfg.Epoch.SignalChannel, payload); err != nil {
			logger.Warn("signal publish failed", slog.String("signal_id", sig.ID), slog.String("error", err.Error()))
		}
		if err := o.deps.Bus.StreamAppend(flushCtx, o.cfg.Epoch.SignalStream, payload); err != nil {
			logger.Warn("signal stream append failed", slog.String("signal_id", sig.ID), slog.String("error", err.Error()))
		}
	}

	if len(signals) > 0 {
		if err := o.deps.Signals.InsertBatch(flushCtx, signals); err != nil {
			logger.Warn("signal persistence failed, keeping in-memory results", slog.String("error", err.Error()))
		}
	}
	if o.cfg.Epoch.PersistClusters && len(clusters) > 0 {
		if err := o.deps.Clusters.InsertBatch(flushCtx, clusters); err != nil {
			logger.Warn("cluster persistence failed", slog.String("error", err.Error()))
		}
	}
	if len(rejections) > 0 {
		if err := o.deps.Rejections.InsertBatch(flushCtx, rejections); err != nil {
			logger.Warn("rejection persistence failed", slog.String("error", err.Error()))
		}
	}

	if o.deps.Aliases.Dirty() {
		if err := o.deps.Aliases.Checkpoint(flushCtx); err != nil {
			logger.Warn("alias checkpoint failed, learned aliases stay pending", slog.String("error", err.Error()))
		}
	}

	if o.cfg.Epoch.ArchiveUploads && o.deps.Archiver != nil {
		if _, err := o.deps.Archiver.ArchiveSignals(flushCtx, report.EpochID, signals); err != nil {
			logger.Warn("signal archive failed", slog.String("error", err.Error()))
		}
	}

	if err := o.deps.Epochs.Insert(flushCtx, report); err != nil {
		logger.Warn("epoch report persistence failed", slog.String("error", err.Error()))
	}
}

// pruneArchive enforces the archive retention window, at most once per
// pruneEvery. A failed prune waits for the next window.
func (o *Orchestrator) pruneArchive(ctx context.Context, logger *slog.Logger) {
	retention := o.cfg.Epoch.ArchiveRetention.Duration
	if retention <= 0 || o.deps.Archiver == nil || !o.cfg.Epoch.ArchiveUploads {
		return
	}
	if o.now().Sub(o.lastPrune) < pruneEvery {
		return
	}
	o.lastPrune = o.now()

	pruned, err := o.deps.Archiver.Prune(ctx, o.now().Add(-retention))
	if err != nil {
		logger.Warn("archive prune failed", slog.String("error", err.Error()))
		return
	}
	if pruned > 0 {
		logger.Info("archive pruned",
			slog.Int("objects", pruned),
			slog.Duration("retention", retention))
	}
}

// archiveSnapshot uploads the raw input before analysis starts, so every
// emitted signal stays re-derivable even if the process dies mid-epoch.
// Returns the blob path, or empty when archiving is off or failed.
func (o *Orchestrator) archiveSnapshot(ctx context.Context, epochID string, raw []domain.RawListing, logger *slog.Logger) string {
	if !o.cfg.Epoch.ArchiveUploads || o.deps.Archiver == nil {
		return ""
	}
	ref, err := o.deps.Archiver.ArchiveSnapshot(ctx, epochID, raw)
	if err != nil {
		logger.Warn("snapshot archive failed", slog.String("error", err.Error()))
		return ""
	}
	return ref
}

func (o *Orchestrator) invalidateStale(ctx context.Context, stale []string, logger *slog.Logger) {
	if o.deps.Projections == nil {
		return
	}
	for _, id := range stale {
		if err := o.deps.Projections.Invalidate(ctx, id); err != nil {
			logger.Warn("projection invalidation failed", slog.String("cluster_id", id), slog.String("error", err.Error()))
		}
	}
}

// sortSignals orders signals by detection time then id, so equal epochs
// publish and persist in a stable order.
func sortSignals(signals []domain.ArbitrageSignal) {
	sort.Slice(signals, func(i, j int) bool {
		if !signals[i].DetectedAt.Equal(signals[j].DetectedAt) {
			return signals[i].DetectedAt.Before(signals[j].DetectedAt)
		}
		return signals[i].ID < signals[j].ID
	})
}

func (o *Orchestrator) rejection(epochID string, stage domain.RejectionStage, rule, subject, reason string) domain.Rejection {
	return domain.Rejection{
		EpochID:   epochID,
		Stage:     stage,
		Rule:      rule,
		Subject:   subject,
		Reason:    reason,
		CreatedAt: o.now(),
	}
}

// newEpochID derives the epoch id from its start instant. Time-ordered ids
// keep reports and archive paths listable in scan order.
func newEpochID(t time.Time) string {
	return "ep-" + t.UTC().Format("20060102T150405Z")
}
