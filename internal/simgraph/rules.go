package simgraph

import (
	"github.com/davonroy/oddsmesh/internal/config"
)

// Verdict is one rule's contribution to a pair score.
type Verdict struct {
	Score float64
	// Final short-circuits the pipeline: gates return Final zero, exact
	// structural matches may return Final one.
	Final bool
}

// Rule scores one aspect of a candidate pair. Eval returns false to abstain,
// in which case the rule's weight is excluded from the blend. Rules are pure:
// adding a sport or domain means adding a rule, not branching inside one.
type Rule struct {
	Name   string
	Weight float64
	Eval   func(a, b *Node) (Verdict, bool)
}

// Pipeline is an explicitly ordered rule composition.
type Pipeline struct {
	rules []Rule
}

// NewPipeline returns a pipeline over the given rules, evaluated in order.
func NewPipeline(rules ...Rule) *Pipeline {
	return &Pipeline{rules: rules}
}

// Names returns the rule names in evaluation order.
func (p *Pipeline) Names() []string {
	out := make([]string, len(p.rules))
	for i, r := range p.rules {
		out[i] = r.Name
	}
	return out
}

// Score blends the rule verdicts for a pair into a composite in [0,1].
// A Final verdict wins immediately; otherwise the participating rules'
// scores are combined by normalized weight.
func (p *Pipeline) Score(a, b *Node) (float64, string) {
	var sum, wsum float64
	for _, r := range p.rules {
		v, ok := r.Eval(a, b)
		if !ok {
			continue
		}
		if v.Final {
			return v.Score, r.Name
		}
		sum += r.Weight * v.Score
		wsum += r.Weight
	}
	if wsum == 0 {
		return 0, ""
	}
	return sum / wsum, ""
}

// DefaultRules returns the standard scoring pipeline: the fingerprint gate,
// token-set overlap and event-date alignment.
func DefaultRules(cfg config.ResolveConfig) []Rule {
	return []Rule{
		FingerprintGate(),
		TokenOverlap(cfg.TokenWeight),
		DateAlignment(cfg.DateWeight),
	}
}

// FingerprintGate kills any pair whose market structure disagrees: a
// first-half market never clusters with a full-game market, totals with
// different lines never cluster, whatever the titles say.
func FingerprintGate() Rule {
	return Rule{
		Name:   "fingerprint_gate",
		Weight: 0,
		Eval: func(a, b *Node) (Verdict, bool) {
			if a.Kind == NodeGhost || b.Kind == NodeGhost {
				return Verdict{}, false
			}
			if !a.Listing.Fingerprint.Compatible(b.Listing.Fingerprint) {
				return Verdict{Score: 0, Final: true}, true
			}
			return Verdict{}, false
		},
	}
}

// TokenOverlap scores the Sorensen-Dice coefficient of the two token sets.
// Resolved entity mentions were canonicalized into the sets at node build
// time, so known aliases score as literal overlap.
func TokenOverlap(weight float64) Rule {
	return Rule{
		Name:   "token_overlap",
		Weight: weight,
		Eval: func(a, b *Node) (Verdict, bool) {
			if len(a.Tokens) == 0 || len(b.Tokens) == 0 {
				return Verdict{}, false
			}
			inter := 0
			small, large := a.Tokens, b.Tokens
			if len(small) > len(large) {
				small, large = large, small
			}
			for tok := range small {
				if large[tok] {
					inter++
				}
			}
			score := 2 * float64(inter) / float64(len(a.Tokens)+len(b.Tokens))
			return Verdict{Score: score}, true
		},
	}
}

// DateAlignment scores full credit for the same UTC event day, zero for a
// mismatch, and half credit when either side has no date.
func DateAlignment(weight float64) Rule {
	return Rule{
		Name:   "date_alignment",
		Weight: weight,
		Eval: func(a, b *Node) (Verdict, bool) {
			if a.EventDay == "" || b.EventDay == "" {
				return Verdict{Score: 0.5}, true
			}
			if a.EventDay == b.EventDay {
				return Verdict{Score: 1}, true
			}
			return Verdict{Score: 0}, true
		},
	}
}
