// Package similarity holds the token-set measures shared by the evidence
// gates and the candidate deduplicator.
package similarity

import (
	"strings"
	"unicode"
)

// TokenSet splits s into lowercased words. Runs of letters, digits and the
// '$' and '%' signs form a word, so "$9" and "40%" survive as tokens.
func TokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, word := range strings.FieldsFunc(strings.ToLower(s), isSeparator) {
		set[word] = struct{}{}
	}
	return set
}

// Jaccard returns |a ∩ b| / |a ∪ b|. Two empty sets are not similar.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for token := range small {
		if _, ok := large[token]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}

// JaccardText tokenizes both strings and returns their Jaccard similarity.
func JaccardText(a, b string) float64 {
	return Jaccard(TokenSet(a), TokenSet(b))
}

func isSeparator(r rune) bool {
	return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '$' || r == '%')
}
