// ABOUTME: Pluggable text similarity scoring for tool discovery
// ABOUTME: Default scorer is normalized keyword overlap between query and candidate

package index

import (
	"strings"
	"unicode"
)

// Scorer rates how well a candidate text satisfies a query, in [0, 1].
// The two-stage discovery algorithm is independent of the scoring
// strategy; keyword overlap, TF-IDF, or embedding similarity all fit
// behind this interface.
type Scorer interface {
	Score(query, candidate string) float64
}

// KeywordScorer scores by the fraction of query tokens present in the
// candidate text. Deterministic and dependency-free, which keeps
// discovery results stable across repeated calls.
type KeywordScorer struct{}

// Score returns |query tokens ∩ candidate tokens| / |query tokens|.
func (KeywordScorer) Score(query, candidate string) float64 {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return 0
	}

	candidateSet := make(map[string]struct{})
	for _, tok := range tokenize(candidate) {
		candidateSet[tok] = struct{}{}
	}

	seen := make(map[string]struct{})
	matched := 0
	total := 0
	for _, tok := range queryTokens {
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		total++
		if _, ok := candidateSet[tok]; ok {
			matched++
		}
	}
	return float64(matched) / float64(total)
}

// tokenize lowercases and splits on any non-alphanumeric rune.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// tagOverlap returns the fraction of requested tags present in the
// candidate tag set. Zero when no tags are requested.
func tagOverlap(requested, present []string) float64 {
	if len(requested) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(present))
	for _, tag := range present {
		set[strings.ToLower(tag)] = struct{}{}
	}
	matched := 0
	for _, tag := range requested {
		if _, ok := set[strings.ToLower(tag)]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(requested))
}
