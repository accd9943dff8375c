// Package polytope projects observed price vectors onto the feasible region
// of a constraint set. Projection runs cyclic correction sweeps over the
// constraint families until the worst violation falls within tolerance; on
// budget exhaustion the best iterate is returned flagged low-confidence
// rather than failing the cluster. Results are cached under a structural key
// so a stale entry can never be served for a changed cluster.
package polytope

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/davonroy/oddsmesh/internal/config"
	"github.com/davonroy/oddsmesh/internal/domain"
)

// Projector computes and caches feasible projections.
type Projector struct {
	cfg    config.ProjectConfig
	cache  domain.ProjectionCache
	logger *slog.Logger
}

// NewProjector returns a projector. cache may be nil, in which case every
// projection is computed fresh.
func NewProjector(cfg config.ProjectConfig, cache domain.ProjectionCache, logger *slog.Logger) *Projector {
	return &Projector{
		cfg:    cfg,
		cache:  cache,
		logger: logger.With(slog.String("component", "polytope")),
	}
}

// CacheKey builds the structural cache key for a projection: cluster id,
// constraint shape, constraint version and the quantized observed vector.
// Membership or label changes rotate the version, so entries for a stale
// cluster shape are unreachable rather than merely expired.
func CacheKey(cs domain.ConstraintSet, observed []float64, decimals int) string {
	var b strings.Builder
	b.WriteString(cs.ClusterID)
	b.WriteByte(':')
	b.WriteString(cs.ShapeHash())
	b.WriteByte(':')
	b.WriteString(strconv.FormatInt(cs.Version, 10))
	b.WriteByte(':')
	scale := math.Pow10(decimals)
	for i, v := range observed {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(math.Round(v*scale)/scale, 'f', decimals, 64))
	}
	return b.String()
}

// Project returns the closest feasible vector to observed under the
// constraint set, consulting the cache first. A cache entry that fails
// validation is treated as a miss and overwritten.
func (p *Projector) Project(ctx context.Context, observed []float64, cs domain.ConstraintSet) (domain.Projection, error) {
	if len(observed) != cs.Dim() {
		return domain.Projection{}, fmt.Errorf("polytope: vector length %d does not match constraint dimension %d", len(observed), cs.Dim())
	}

	key := CacheKey(cs, observed, p.cfg.QuantizeDecimals)
	if p.cache != nil {
		cached, ok, err := p.cache.Get(ctx, key)
		switch {
		case err != nil:
			if !errors.Is(err, domain.ErrCacheInconsistency) {
				p.logger.Warn("projection cache read failed", slog.String("error", err.Error()))
			} else {
				p.logger.Warn("projection cache entry rejected", slog.String("key", key), slog.String("error", err.Error()))
			}
		case ok && len(cached.Feasible) != cs.Dim():
			p.logger.Warn("projection cache entry has wrong dimension, recomputing",
				slog.String("key", key),
				slog.Int("got", len(cached.Feasible)),
				slog.Int("want", cs.Dim()),
			)
		case ok:
			return cached, nil
		}
	}

	proj := project(observed, cs, p.cfg.MaxIterations, p.cfg.Tolerance)

	if p.cache != nil {
		if err := p.cache.Put(ctx, key, proj); err != nil {
			p.logger.Warn("projection cache write failed", slog.String("error", err.Error()))
		}
	}
	p.logger.Debug("projected",
		slog.String("cluster", cs.ClusterID),
		slog.Int("iterations", proj.Iterations),
		slog.Bool("converged", proj.Converged),
		slog.Float64("distance", proj.Distance),
	)
	return proj, nil
}

func project(observed []float64, cs domain.ConstraintSet, maxIter int, tol float64) domain.Projection {
	x := clamp(append([]float64(nil), observed...))
	best := append([]float64(nil), x...)
	bestViol := maxViolation(x, cs)

	for t := 0; t < maxIter; t++ {
		viol := maxViolation(x, cs)
		if viol < bestViol {
			bestViol = viol
			copy(best, x)
		}
		if viol <= tol {
			return domain.Projection{
				Feasible:   x,
				Distance:   l2(observed, x),
				Iterations: t,
				Converged:  true,
			}
		}
		x = sweep(x, cs)
	}

	if v := maxViolation(x, cs); v < bestViol {
		best = x
	}
	return domain.Projection{
		Feasible:      best,
		Distance:      l2(observed, best),
		Iterations:    maxIter,
		Converged:     false,
		LowConfidence: true,
	}
}

// sweep applies one Gauss-Seidel correction pass: each partition's deficit is
// spread equally over its members, a violated implication averages its two
// sides, a violated exclusion splits the excess, and the result is clipped to
// the unit box.
func sweep(x []float64, cs domain.ConstraintSet) []float64 {
	next := append([]float64(nil), x...)
	for _, p := range cs.Partitions {
		var sum float64
		for _, i := range p.Indexes {
			sum += next[i]
		}
		if adj := (1 - sum) / float64(len(p.Indexes)); adj != 0 {
			for _, i := range p.Indexes {
				next[i] += adj
			}
		}
	}
	for _, im := range cs.Implications {
		if next[im.Premise] > next[im.Conclusion] {
			avg := (next[im.Premise] + next[im.Conclusion]) / 2
			next[im.Premise], next[im.Conclusion] = avg, avg
		}
	}
	for _, ex := range cs.Exclusions {
		if over := next[ex.A] + next[ex.B] - 1; over > 0 {
			next[ex.A] -= over / 2
			next[ex.B] -= over / 2
		}
	}
	return clamp(next)
}

// maxViolation returns the worst constraint breach of x: partition sum
// deviation, implication overshoot, exclusion excess or box escape.
func maxViolation(x []float64, cs domain.ConstraintSet) float64 {
	var worst float64
	for _, p := range cs.Partitions {
		var sum float64
		for _, i := range p.Indexes {
			sum += x[i]
		}
		worst = math.Max(worst, math.Abs(sum-1))
	}
	for _, im := range cs.Implications {
		worst = math.Max(worst, x[im.Premise]-x[im.Conclusion])
	}
	for _, ex := range cs.Exclusions {
		worst = math.Max(worst, x[ex.A]+x[ex.B]-1)
	}
	for _, v := range x {
		worst = math.Max(worst, -v)
		worst = math.Max(worst, v-1)
	}
	return worst
}

func clamp(x []float64) []float64 {
	for i, v := range x {
		x[i] = math.Min(1, math.Max(0, v))
	}
	return x
}

func l2(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
