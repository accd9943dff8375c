// Package detect classifies the gap between observed and projected price
// vectors into tradable violations: a partition summing away from one, an
// implied outcome priced under its implicant, or an exclusive pair jointly
// overpriced. Magnitudes are kept in decimals end to end; a violation whose
// net edge after transaction costs falls under the floor is suppressed and
// recorded, not emitted.
package detect

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/davonroy/oddsmesh/internal/config"
	"github.com/davonroy/oddsmesh/internal/domain"
)

// Detector scores constraint violations against configured thresholds.
type Detector struct {
	cfg     config.DetectConfig
	epsilon decimal.Decimal
	cost    decimal.Decimal
	minNet  decimal.Decimal
	logger  *slog.Logger
}

// NewDetector returns a detector logging under the "detect" component.
func NewDetector(cfg config.DetectConfig, logger *slog.Logger) *Detector {
	return &Detector{
		cfg:     cfg,
		epsilon: decimal.NewFromFloat(cfg.SumEpsilon),
		cost:    decimal.NewFromFloat(cfg.TransactionCost),
		minNet:  decimal.NewFromFloat(cfg.MinNetEV),
		logger:  logger.With(slog.String("component", "detect")),
	}
}

// Result carries the emitted signals and the suppressed violations of one
// cluster.
type Result struct {
	Signals    []domain.ArbitrageSignal
	Rejections []domain.Rejection
}

// Detect compares observed prices against the projected feasible vector and
// the constraint structure. Signals come out in detection order with
// strictly increasing timestamps.
func (d *Detector) Detect(epochID string, cs domain.ConstraintSet, observed []float64, proj domain.Projection, prices []decimal.Decimal) Result {
	var res Result
	base := time.Now().UTC()

	emit := func(kind domain.ViolationKind, detail string, gross decimal.Decimal, legs []domain.SignalLeg) {
		net := gross.Sub(d.cost)
		if net.LessThan(d.minNet) {
			res.Rejections = append(res.Rejections, domain.Rejection{
				EpochID:   epochID,
				Stage:     domain.StageDetect,
				Rule:      "min_net_ev",
				Subject:   cs.ClusterID + "/" + string(kind),
				Reason:    fmt.Sprintf("%s: net EV %s below %s", detail, net, d.minNet),
				CreatedAt: base,
			})
			return
		}
		grossF, _ := gross.Float64()
		confidence := grossF / d.cfg.ReferenceEV
		if confidence > 1 {
			confidence = 1
		}
		res.Signals = append(res.Signals, domain.ArbitrageSignal{
			ID:         uuid.NewString(),
			EpochID:    epochID,
			ClusterID:  cs.ClusterID,
			Kind:       kind,
			Detail:     detail,
			Observed:   observed,
			Projected:  proj.Feasible,
			Legs:       legs,
			GrossEV:    gross,
			NetEV:      net,
			Confidence: confidence,
			DetectedAt: base.Add(time.Duration(len(res.Signals)) * time.Nanosecond),
		})
	}

	for _, p := range cs.Partitions {
		sum := decimal.Zero
		for _, i := range p.Indexes {
			sum = sum.Add(prices[i])
		}
		dev := sum.Sub(decimal.NewFromInt(1))
		switch {
		case dev.GreaterThan(d.epsilon):
			emit(domain.ViolationSumAboveOne,
				fmt.Sprintf("partition %s sums to %s", p.Label, sum),
				dev, d.partitionLegs(cs, p, proj, prices, domain.SideSell))
		case dev.Neg().GreaterThan(d.epsilon):
			emit(domain.ViolationSumBelowOne,
				fmt.Sprintf("partition %s sums to %s", p.Label, sum),
				dev.Neg(), d.partitionLegs(cs, p, proj, prices, domain.SideBuy))
		}
	}

	for _, im := range cs.Implications {
		gap := prices[im.Premise].Sub(prices[im.Conclusion])
		if !gap.GreaterThan(d.epsilon) {
			continue
		}
		pr, co := cs.Outcomes[im.Premise], cs.Outcomes[im.Conclusion]
		emit(domain.ViolationImplication,
			fmt.Sprintf("%s/%s priced above %s/%s", pr.ListingKey, pr.Label, co.ListingKey, co.Label),
			gap, []domain.SignalLeg{
				leg(co, domain.SideBuy, prices[im.Conclusion], proj.Feasible[im.Conclusion]),
				leg(pr, domain.SideSell, prices[im.Premise], proj.Feasible[im.Premise]),
			})
	}

	for _, ex := range cs.Exclusions {
		over := prices[ex.A].Add(prices[ex.B]).Sub(decimal.NewFromInt(1))
		if !over.GreaterThan(d.epsilon) {
			continue
		}
		a, b := cs.Outcomes[ex.A], cs.Outcomes[ex.B]
		emit(domain.ViolationExclusivity,
			fmt.Sprintf("%s/%s and %s/%s jointly priced %s", a.ListingKey, a.Label, b.ListingKey, b.Label, prices[ex.A].Add(prices[ex.B])),
			over, []domain.SignalLeg{
				leg(a, domain.SideSell, prices[ex.A], proj.Feasible[ex.A]),
				leg(b, domain.SideSell, prices[ex.B], proj.Feasible[ex.B]),
			})
	}

	if len(res.Signals) > 0 || len(res.Rejections) > 0 {
		d.logger.Debug("cluster scored",
			slog.String("cluster", cs.ClusterID),
			slog.Int("signals", len(res.Signals)),
			slog.Int("suppressed", len(res.Rejections)),
		)
	}
	return res
}

func (d *Detector) partitionLegs(cs domain.ConstraintSet, p domain.Partition, proj domain.Projection, prices []decimal.Decimal, side domain.SignalSide) []domain.SignalLeg {
	legs := make([]domain.SignalLeg, 0, len(p.Indexes))
	for _, i := range p.Indexes {
		legs = append(legs, leg(cs.Outcomes[i], side, prices[i], proj.Feasible[i]))
	}
	return legs
}

func leg(ref domain.OutcomeRef, side domain.SignalSide, observed decimal.Decimal, fair float64) domain.SignalLeg {
	return domain.SignalLeg{
		ListingKey: ref.ListingKey,
		Label:      ref.Label,
		Side:       side,
		Observed:   observed,
		Fair:       decimal.NewFromFloat(fair),
	}
}
