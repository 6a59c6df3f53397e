package dedup

import (
	"sort"

	"github.com/trendboard/opportunity-planner/internal/pipeline"
	"github.com/trendboard/opportunity-planner/pkg/similarity"
)

// Deduplicator drops candidates whose title is a near-duplicate of a
// higher-ranked one.
type Deduplicator struct {
	threshold float64
}

func NewDeduplicator(threshold float64) *Deduplicator {
	return &Deduplicator{threshold: threshold}
}

// Result holds the kept candidates ranked by score and, for every dropped
// candidate, the id of the kept candidate it duplicates.
type Result struct {
	Kept    []pipeline.Candidate
	Dropped map[string]string
}

// Dedup ranks by score descending, ties by id ascending, and keeps the first
// candidate of each similarity cluster. The input slice is not modified.
func (d *Deduplicator) Dedup(candidates []pipeline.Candidate) Result {
	ranked := make([]pipeline.Candidate, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].ID < ranked[j].ID
	})

	result := Result{Dropped: make(map[string]string)}
	keptTokens := make([]map[string]struct{}, 0, len(ranked))
	for _, c := range ranked {
		tokens := similarity.TokenSet(c.Title)
		duplicateOf := -1
		for k, kt := range keptTokens {
			if similarity.Jaccard(tokens, kt) >= d.threshold {
				duplicateOf = k
				break
			}
		}
		if duplicateOf >= 0 {
			result.Dropped[c.ID] = result.Kept[duplicateOf].ID
			continue
		}
		result.Kept = append(result.Kept, c)
		keptTokens = append(keptTokens, tokens)
	}
	return result
}
