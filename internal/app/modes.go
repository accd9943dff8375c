package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/davonroy/oddsmesh/internal/alias"
	"github.com/davonroy/oddsmesh/internal/domain"
	"github.com/davonroy/oddsmesh/internal/epoch"
	"github.com/davonroy/oddsmesh/internal/feed"
	"github.com/davonroy/oddsmesh/internal/platform/semantic"
)

// relayReadyTimeout bounds how long one-shot modes wait for a websocket
// relay to deliver its first frame.
const relayReadyTimeout = 30 * time.Second

// listingFeed pairs a listing source with its lifecycle: run is nil for
// pull-only sources, ready is closed once the source can serve a snapshot.
type listingFeed struct {
	source domain.ListingSource
	run    func(ctx context.Context) error
	ready  <-chan struct{}
}

// engine bundles the epoch orchestrator with the shared state its mode
// manages around it.
type engine struct {
	orc     *epoch.Orchestrator
	aliases *alias.Memory
	feed    listingFeed
}

var readyNow = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// buildFeed constructs the configured listing source.
func (a *App) buildFeed() listingFeed {
	if strings.ToLower(a.cfg.Feed.Source) == "ws" {
		relay := feed.NewRelaySource(a.cfg.Feed, a.logger)
		return listingFeed{
			source: relay,
			run: func(ctx context.Context) error {
				defer relay.Close()
				return relay.Run(ctx)
			},
			ready: relay.Ready(),
		}
	}
	return listingFeed{
		source: feed.NewFileSource(a.cfg.Feed, a.logger),
		ready:  readyNow,
	}
}

// buildEngine loads the alias memory and assembles the epoch orchestrator
// around the wired dependencies.
func (a *App) buildEngine(ctx context.Context, deps *Dependencies) (*engine, error) {
	mem := alias.NewMemory(deps.AliasStore, a.logger)
	if err := mem.Load(ctx); err != nil {
		return nil, fmt.Errorf("load alias memory: %w", err)
	}

	var oracle domain.SemanticOracle
	if a.cfg.Oracle.Enabled {
		oracle = semantic.New(a.cfg.Oracle, a.logger)
	}

	lf := a.buildFeed()
	orc := epoch.New(a.cfg, epoch.Deps{
		Source:      lf.source,
		Aliases:     mem,
		Oracle:      oracle,
		Decisions:   deps.DecisionCache,
		Projections: deps.ProjectionCache,
		Locks:       deps.LockManager,
		Bus:         deps.SignalBus,
		Signals:     deps.SignalStore,
		Clusters:    deps.ClusterStore,
		Rejections:  deps.RejectionStore,
		Epochs:      deps.EpochStore,
		Archiver:    deps.Archiver,
	}, a.logger)

	return &engine{orc: orc, aliases: mem, feed: lf}, nil
}

// ScanMode runs the epoch loop until the context is cancelled. With a
// websocket source the first epoch waits for the relay's initial frame so a
// cold start does not log a spurious empty-snapshot failure.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scan mode",
		slog.Duration("interval", a.cfg.Epoch.Interval.Duration))

	eng, err := a.buildEngine(ctx, deps)
	if err != nil {
		return fmt.Errorf("scan mode: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if eng.feed.run != nil {
		g.Go(func() error { return eng.feed.run(gctx) })
		select {
		case <-eng.feed.ready:
		case <-gctx.Done():
		}
	}
	g.Go(func() error { return eng.orc.Run(gctx) })

	err = g.Wait()
	a.flushAliases(eng.aliases)
	return err
}

// ResolveMode runs the resolution half of exactly one epoch and prints the
// clusters it settled on as JSON on stdout. Detection is skipped and nothing
// is published; learned aliases are checkpointed on the way out. Useful for
// inspecting how a snapshot clusters before letting scan mode emit signals.
func (a *App) ResolveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting resolve mode")

	eng, err := a.buildEngine(ctx, deps)
	if err != nil {
		return fmt.Errorf("resolve mode: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	if eng.feed.run != nil {
		g.Go(func() error { return eng.feed.run(gctx) })
		select {
		case <-eng.feed.ready:
		case <-gctx.Done():
			return g.Wait()
		case <-time.After(relayReadyTimeout):
			cancel()
			_ = g.Wait()
			return fmt.Errorf("resolve mode: relay sent nothing within %s", relayReadyTimeout)
		}
	}

	var resolution epoch.Resolution
	passErr := eng.aliases.Scoped(gctx, func() error {
		var err error
		resolution, err = eng.orc.ResolveEpoch(gctx)
		return err
	})

	cancel()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Warn("feed stopped with error", slog.String("error", err.Error()))
	}
	if passErr != nil {
		return fmt.Errorf("resolve mode: %w", passErr)
	}
	return printJSON(resolution)
}

// auditBundle is the JSON document AuditMode emits: one epoch's report with
// everything the scan recorded about it, plus the replay diff when the raw
// snapshot was archived.
type auditBundle struct {
	Report      domain.EpochReport       `json:"report"`
	Clusters    []domain.Cluster         `json:"clusters"`
	Signals     []domain.ArbitrageSignal `json:"signals"`
	Rejections  []domain.Rejection       `json:"rejections"`
	Replay      *replayDiff              `json:"replay,omitempty"`
	ReplayError string                   `json:"replay_error,omitempty"`
}

// replayDiff compares an epoch's stored signals against the set re-derived
// from its archived snapshot. Keys are cluster id, violation kind and gross
// EV, which survive replay; signal ids and timestamps do not.
type replayDiff struct {
	Rederived int      `json:"rederived"`
	Matched   int      `json:"matched"`
	Missing   []string `json:"missing,omitempty"`
	Extra     []string `json:"extra,omitempty"`
}

func diffSignals(stored, replayed []domain.ArbitrageSignal) replayDiff {
	key := func(s domain.ArbitrageSignal) string {
		return s.ClusterID + "|" + string(s.Kind) + "|" + s.GrossEV.StringFixed(6)
	}
	counts := make(map[string]int, len(replayed))
	for _, s := range replayed {
		counts[key(s)]++
	}
	diff := replayDiff{Rederived: len(replayed)}
	for _, s := range stored {
		k := key(s)
		if counts[k] > 0 {
			counts[k]--
			diff.Matched++
			continue
		}
		diff.Missing = append(diff.Missing, k)
	}
	for k, n := range counts {
		for ; n > 0; n-- {
			diff.Extra = append(diff.Extra, k)
		}
	}
	sort.Strings(diff.Missing)
	sort.Strings(diff.Extra)
	return diff
}

// AuditMode prints the latest epoch's durable record as JSON on stdout: the
// report, the clusters it settled on, the signals it emitted and the
// forensic trail of everything it suppressed. When the epoch's raw snapshot
// was archived, the signals are re-derived from it and diffed against the
// stored set; a replay failure degrades to auditing the stored record alone.
func (a *App) AuditMode(ctx context.Context, deps *Dependencies) error {
	report, err := deps.EpochStore.GetLatest(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return errors.New("audit mode: no epochs recorded yet")
		}
		return fmt.Errorf("audit mode: latest epoch: %w", err)
	}

	clusters, err := deps.ClusterStore.ListByEpoch(ctx, report.EpochID)
	if err != nil {
		return fmt.Errorf("audit mode: clusters for %s: %w", report.EpochID, err)
	}
	signals, err := deps.SignalStore.ListByEpoch(ctx, report.EpochID)
	if err != nil {
		return fmt.Errorf("audit mode: signals for %s: %w", report.EpochID, err)
	}
	rejections, err := deps.RejectionStore.ListByEpoch(ctx, report.EpochID)
	if err != nil {
		return fmt.Errorf("audit mode: rejections for %s: %w", report.EpochID, err)
	}

	bundle := auditBundle{
		Report:     report,
		Clusters:   clusters,
		Signals:    signals,
		Rejections: rejections,
	}

	if report.SnapshotRef != "" && deps.Archiver != nil {
		bundle.Replay, bundle.ReplayError = a.auditReplay(ctx, deps, report, signals)
	}

	return printJSON(bundle)
}

// auditReplay re-derives the epoch's signals from its archived snapshot and
// diffs them against the stored set. Retention may have pruned the snapshot
// since the scan; that and every other failure degrade to a recorded reason
// with the stored record audited alone.
func (a *App) auditReplay(ctx context.Context, deps *Dependencies, report domain.EpochReport, stored []domain.ArbitrageSignal) (*replayDiff, string) {
	ok, err := deps.Archiver.HasSnapshot(ctx, report.EpochID)
	if err != nil {
		a.logger.Warn("archive check failed, auditing stored record only", slog.String("error", err.Error()))
		return nil, err.Error()
	}
	if !ok {
		return nil, fmt.Sprintf("snapshot for %s no longer archived", report.EpochID)
	}

	eng, err := a.buildEngine(ctx, deps)
	if err != nil {
		a.logger.Warn("replay setup failed, auditing stored record only", slog.String("error", err.Error()))
		return nil, err.Error()
	}
	replayed, err := eng.orc.Replay(ctx, report)
	if err != nil {
		a.logger.Warn("replay failed, auditing stored record only", slog.String("error", err.Error()))
		return nil, err.Error()
	}
	diff := diffSignals(stored, replayed)
	return &diff, ""
}

// flushAliases makes a final checkpoint attempt on shutdown so learned
// aliases from an interrupted epoch are not lost with the process.
func (a *App) flushAliases(mem *alias.Memory) {
	if !mem.Dirty() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := mem.Checkpoint(ctx); err != nil {
		a.logger.Warn("final alias checkpoint failed", slog.String("error", err.Error()))
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
