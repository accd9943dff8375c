package cluster

import (
	"sort"
	"strings"

	"github.com/davonroy/oddsmesh/internal/domain"
	"github.com/davonroy/oddsmesh/internal/normalize"
)

// genericTerms are tokens too common to evidence a match on their own. A
// shared "united" or "rangers" on a high-centrality node bridges unrelated
// clubs, which is exactly the edge hub pruning exists to cut.
var genericTerms = map[string]bool{
	"rangers": true, "united": true, "city": true, "real": true,
	"cruz": true, "junior": true, "athletic": true, "central": true,
	"union": true, "san": true, "sport": true, "club": true,
	"team": true, "racing": true, "sporting": true, "national": true,
	"youth": true, "women": true, "u21": true, "u19": true,
	"fc": true, "cf": true, "sc": true, "atletico": true,
	"cd": true, "afc": true,
}

// qualifierDenylist holds structural qualifiers that change which side a
// title names. One side carrying "state" where the other does not means
// Illinois and Illinois State, not the same team twice.
var qualifierDenylist = map[string]bool{
	"state": true, "saint": true, "tech": true, "university": true,
	"college": true, "city": true, "united": true, "u21": true,
	"u23": true, "u19": true, "youth": true, "women": true,
	"womens": true, "jr": true, "sr": true,
}

// qualifierCanon folds abbreviations onto the qualifier they stand for.
// "st" reads as "state" in US college names, which is where the gate earns
// its keep.
var qualifierCanon = map[string]string{
	"st":  "state",
	"utd": "united",
	"uni": "university",
}

// qualifierSig reduces a title to its sorted qualifier signature. Titles may
// only co-cluster when their signatures are equal: both sides of a matchup
// title contribute, so "Man City v Man Utd" and "Manchester City vs
// Manchester United" both sign "city+united".
func (d *Detector) qualifierSig(title string) string {
	var quals []string
	seen := make(map[string]bool)
	for _, tok := range normalize.RawTokens(title) {
		if canon, ok := qualifierCanon[tok]; ok {
			tok = canon
		}
		if d.quals[tok] && !seen[tok] {
			seen[tok] = true
			quals = append(quals, tok)
		}
	}
	if len(quals) == 0 {
		return ""
	}
	sort.Strings(quals)
	return strings.Join(quals, "+")
}

// fingerprintSig keys a listing's structural identity for community splits.
func fingerprintSig(fp domain.Fingerprint) string {
	line := "-"
	if fp.Line != nil {
		line = fp.Line.String()
	}
	return string(fp.Scope) + "|" + string(fp.Type) + "|" + line
}
