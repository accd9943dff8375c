package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// noiseTokens are connective or club-form words that carry no identity: two
// titles differing only in these should score identically.
var noiseTokens = map[string]bool{
	"fc": true, "cf": true, "sc": true, "club": true, "de": true,
	"the": true, "v": true, "vs": true, "u21": true, "utd": true,
	"at": true, "a": true, "an": true, "of": true, "and": true,
	"win": true, "wins": true, "winner": true, "to": true, "will": true,
}

var accentFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// FoldAccents strips combining diacritical marks: "São Paulo" -> "Sao Paulo".
// Input that fails to transform is returned unchanged.
func FoldAccents(s string) string {
	out, _, err := transform.String(accentFolder, s)
	if err != nil {
		return s
	}
	return out
}

// CleanTitle folds accents, lowercases and collapses whitespace and
// punctuation into single spaces.
func CleanTitle(s string) string {
	s = strings.ToLower(FoldAccents(s))
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '+' || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Tokens splits a cleaned title into its non-noise tokens, preserving order
// and dropping duplicates.
func Tokens(cleaned string, extraNoise map[string]bool) []string {
	fields := strings.Fields(cleaned)
	out := make([]string, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".-+")
		if f == "" || noiseTokens[f] || extraNoise[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// TokenSet returns the token set of a raw title, cleaned and noise-stripped.
func TokenSet(title string, extraNoise map[string]bool) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range Tokens(CleanTitle(title), extraNoise) {
		set[tok] = true
	}
	return set
}

// RawTokens splits a raw title into cleaned tokens without noise stripping.
// Qualifier detection needs the full stream: "u21" is noise for similarity
// scoring but decisive for telling a youth side from the first team.
func RawTokens(title string) []string {
	fields := strings.Fields(CleanTitle(title))
	out := make([]string, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".-+")
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// sideSeparators split a title into the competing sides.
var sideSeparators = []string{" vs ", " v ", " @ ", " - "}

// SplitSides divides a cleaned title into its two competing sides. The second
// return is false when no separator is present.
func SplitSides(cleaned string) (string, string, bool) {
	for _, sep := range sideSeparators {
		if i := strings.Index(cleaned, sep); i > 0 {
			left := strings.TrimSpace(cleaned[:i])
			right := strings.TrimSpace(cleaned[i+len(sep):])
			if left != "" && right != "" {
				return left, right, true
			}
		}
	}
	return "", "", false
}
