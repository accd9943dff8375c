package normalize

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/davonroy/oddsmesh/internal/domain"
)

// scopeMarkers map title phrases to the event slice a market settles on.
// Checked in order so longer phrases win over their substrings.
var scopeMarkers = []struct {
	phrase string
	scope  domain.MarketScope
}{
	{"first half", domain.ScopeHalf1},
	{"1st half", domain.ScopeHalf1},
	{"second half", domain.ScopeHalf2},
	{"2nd half", domain.ScopeHalf2},
	{"first quarter", domain.ScopeQuarter1},
	{"1st quarter", domain.ScopeQuarter1},
	{"first set", domain.ScopeSet1},
	{"1st set", domain.ScopeSet1},
	{"halftime", domain.ScopeHalf1},
	{"1h", domain.ScopeHalf1},
	{"2h", domain.ScopeHalf2},
	{"q1", domain.ScopeQuarter1},
	{"set 1", domain.ScopeSet1},
}

var (
	totalLineRe  = regexp.MustCompile(`(?:over|under|o|u|total|totals)\s*([0-9]+(?:\.[0-9]+)?)`)
	spreadLineRe = regexp.MustCompile(`([+-][0-9]+(?:\.[0-9]+)?)`)
	// bareLineRe only matches half-point lines so stray signed integers
	// (years, seeds) do not turn a moneyline into a spread.
	bareLineRe = regexp.MustCompile(`([+-][0-9]+\.5)\b`)
)

// Fingerprint derives the structural identity of a market from its cleaned
// title: scope, payout type and the line when one is present. Listings whose
// fingerprints disagree must never be clustered, so misclassifying here
// toward the generic case (full-game moneyline) is the safe direction.
func Fingerprint(cleaned string) domain.Fingerprint {
	fp := domain.Fingerprint{Scope: domain.ScopeFull, Type: domain.TypeMoneyline}

	padded := " " + cleaned + " "
	for _, m := range scopeMarkers {
		if strings.Contains(padded, " "+m.phrase+" ") {
			fp.Scope = m.scope
			break
		}
	}

	switch {
	case strings.Contains(padded, " total ") || strings.Contains(padded, " totals ") ||
		strings.Contains(padded, " over ") || strings.Contains(padded, " under "):
		fp.Type = domain.TypeTotal
		if m := totalLineRe.FindStringSubmatch(cleaned); m != nil {
			if line, err := decimal.NewFromString(m[1]); err == nil {
				fp.Line = &line
			}
		}
	case strings.Contains(padded, " spread ") || strings.Contains(padded, " handicap "):
		fp.Type = domain.TypeSpread
		if m := spreadLineRe.FindStringSubmatch(cleaned); m != nil {
			if line, err := decimal.NewFromString(m[1]); err == nil {
				fp.Line = &line
			}
		}
	case strings.Contains(padded, " to score ") || strings.Contains(padded, " points ") ||
		strings.Contains(padded, " assists ") || strings.Contains(padded, " rebounds "):
		fp.Type = domain.TypePlayerProp
	default:
		if m := bareLineRe.FindStringSubmatch(cleaned); m != nil {
			fp.Type = domain.TypeSpread
			if line, err := decimal.NewFromString(m[1]); err == nil {
				fp.Line = &line
			}
		}
	}

	return fp
}
