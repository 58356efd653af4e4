package retrieval

import (
	"strings"
	"unicode"
)

// Stop words ignored when comparing queries, turns and page text
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "be": true, "is": true, "are": true,
	"was": true, "to": true, "of": true, "and": true, "in": true, "that": true,
	"have": true, "it": true, "for": true, "not": true, "on": true, "with": true,
	"as": true, "you": true, "do": true, "at": true, "this": true, "but": true,
	"by": true, "from": true, "or": true, "been": true, "has": true, "had": true,
	"does": true, "did": true, "will": true, "would": true, "could": true, "should": true,
	"can": true, "these": true, "those": true, "i": true, "we": true, "they": true,
	"them": true, "what": true, "which": true, "who": true, "when": true, "where": true,
	"why": true, "how": true, "me": true, "tell": true, "about": true, "explain": true,
	"describe": true, "please": true, "any": true, "some": true, "more": true, "there": true,
	"between": true, "both": true, "two": true, "its": true, "their": true,
}

// tokenize splits text into lowercase words and drops stop words
func tokenize(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	filtered := make([]string, 0, len(words))
	for _, word := range words {
		word = strings.Trim(word, "-")
		if word != "" && !stopWords[word] {
			filtered = append(filtered, word)
		}
	}
	return filtered
}

// termOverlap is the fraction of distinct query terms present in text.
func termOverlap(queryTerms []string, text string) float32 {
	if len(queryTerms) == 0 {
		return 0
	}
	docTerms := make(map[string]bool)
	for _, term := range tokenize(text) {
		docTerms[term] = true
	}
	distinct := make(map[string]bool, len(queryTerms))
	matched := 0
	for _, term := range queryTerms {
		if distinct[term] {
			continue
		}
		distinct[term] = true
		if docTerms[term] {
			matched++
		}
	}
	return float32(matched) / float32(len(distinct))
}
