package relevance

import (
	"strings"
	"unicode"
)

// Keywords shorter than this match by substring containment only. Fuzzy
// matching strings this short produces too many false positives under any
// useful edit-distance threshold.
const fuzzyMinLen = 4

// parseKeywords splits a comma-separated keyword list into trimmed,
// lowercased entries. Empty entries are dropped.
func parseKeywords(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(strings.ToLower(raw), ",")
	keywords := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			keywords = append(keywords, p)
		}
	}
	return keywords
}

// tokenize splits lowered text into whitespace-delimited tokens with
// punctuation trimmed from both ends.
func tokenize(lower string) []string {
	fields := strings.Fields(lower)
	tokens := fields[:0]
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// matchKeywords reports whether any keyword matches the message. An empty
// keyword list matches everything. Short keywords use substring containment;
// longer keywords additionally tolerate misspellings via token-level edit
// distance.
func matchKeywords(lower string, tokens, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
		if len([]rune(kw)) < fuzzyMinLen {
			continue
		}
		for _, tok := range tokens {
			if fuzzyEqual(tok, kw) {
				return true
			}
		}
	}
	return false
}

// matchLocality reports whether the message mentions the target locality
// under any of its accepted spellings. An empty spelling list (no locality
// criterion) matches everything.
func matchLocality(lower string, tokens, spellings []string) bool {
	if len(spellings) == 0 {
		return true
	}
	for _, sp := range spellings {
		if strings.Contains(lower, sp) {
			return true
		}
		if len([]rune(sp)) < fuzzyMinLen {
			continue
		}
		for _, tok := range tokens {
			if fuzzyEqual(tok, sp) {
				return true
			}
		}
	}
	return false
}

// fuzzyEqual reports whether two words are within the edit-distance budget
// for the pattern's length: one edit for short words, two for longer ones.
func fuzzyEqual(word, pattern string) bool {
	pr := []rune(pattern)
	budget := 1
	if len(pr) > 6 {
		budget = 2
	}
	// Cheap length gate before paying for the distance computation.
	wr := []rune(word)
	diff := len(wr) - len(pr)
	if diff < -budget || diff > budget {
		return false
	}
	return levenshtein(wr, pr) <= budget
}

// levenshtein computes the edit distance between two rune slices: the
// minimum number of single-rune insertions, deletions, or substitutions
// required to change one into the other.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	// Single-row variant: O(min(m,n)) space instead of O(m*n).
	if len(a) > len(b) {
		a, b = b, a
	}

	previous := make([]int, len(a)+1)
	for i := range previous {
		previous[i] = i
	}

	for j := 1; j <= len(b); j++ {
		current := make([]int, len(a)+1)
		current[0] = j

		for i := 1; i <= len(a); i++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}

			deletion := previous[i] + 1
			insertion := current[i-1] + 1
			substitution := previous[i-1] + cost

			current[i] = min(deletion, min(insertion, substitution))
		}

		previous = current
	}

	return previous[len(a)]
}
