package embedding

import "strings"

// TextScorer rates the relevance of a document against a query, in [0, 1].
type TextScorer interface {
	Score(query, document string) float64
}

// TermOverlapScorer is the built-in scorer: the fraction of distinct query
// terms appearing in the document. Deployments with a ranking service inject
// their own TextScorer instead.
type TermOverlapScorer struct{}

var _ TextScorer = (*TermOverlapScorer)(nil)

func (TermOverlapScorer) Score(query, document string) float64 {
	queryTerms := terms(query)
	if len(queryTerms) == 0 {
		return 0
	}

	docTerms := make(map[string]bool)
	for _, t := range terms(document) {
		docTerms[t] = true
	}

	matched := 0
	seen := make(map[string]bool)
	for _, t := range queryTerms {
		if seen[t] {
			continue
		}
		seen[t] = true
		if docTerms[t] {
			matched++
		}
	}

	return float64(matched) / float64(len(seen))
}

func terms(s string) []string {
	return strings.Fields(strings.ToLower(s))
}
