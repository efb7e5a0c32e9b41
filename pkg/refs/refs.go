// Package refs extracts lightweight entity references from text for the
// conflict detector's tier-divergence signal. It is a pattern-matching
// heuristic, deliberately not a parser or tokenizer: it picks out reference
// labels (D1, THR-4), inline code spans, and capitalized domain tokens.
// Keeping it isolated here lets the heuristic be swapped out without
// touching registry or detector logic.
package refs

import (
	"regexp"
	"sort"
	"strings"
)

var (
	// Reference labels: D1, T12, DEC-4, THR-12.
	labelPattern = regexp.MustCompile(`\b[A-Z]{1,4}-?\d{1,4}\b`)

	// Inline code spans: `sharded-store`.
	codePattern = regexp.MustCompile("`([^`]+)`")

	// Domain tokens: CamelCase compounds (PostgresCluster), capitalized
	// words of 3+ letters (Postgres), and all-caps acronyms (SQL).
	tokenPattern = regexp.MustCompile(`\b[A-Z][a-zA-Z]{2,}\b|\b[A-Z]{2,}\b`)
)

// Extract returns the set of references found in text, lowercased and
// sorted. The empty string yields an empty set.
func Extract(text string) []string {
	seen := make(map[string]struct{})

	for _, m := range labelPattern.FindAllString(text, -1) {
		seen[strings.ToLower(m)] = struct{}{}
	}
	for _, m := range codePattern.FindAllStringSubmatch(text, -1) {
		span := strings.ToLower(strings.TrimSpace(m[1]))
		if span != "" {
			seen[span] = struct{}{}
		}
	}
	for _, m := range tokenPattern.FindAllString(text, -1) {
		seen[strings.ToLower(m)] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for r := range seen {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Shared reports whether the two reference sets have at least one element
// in common.
func Shared(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, r := range a {
		set[r] = struct{}{}
	}
	for _, r := range b {
		if _, ok := set[r]; ok {
			return true
		}
	}
	return false
}
