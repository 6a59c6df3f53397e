package evidence

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/thoas/go-funk"
	"github.com/trendboard/opportunity-planner/internal/config"
	"github.com/trendboard/opportunity-planner/internal/store/model"
	"github.com/trendboard/opportunity-planner/pkg/similarity"
)

const (
	CodeMinLongItems       = "min_long_items"
	CodeMinDistinctAuthors = "min_distinct_authors"
	CodeMinDistinctURLs    = "min_distinct_urls"
	CodeNearDuplicateRatio = "near_duplicate_ratio"
	CodeContentRatio       = "content_ratio"
)

type UsabilityStats struct {
	Total              int     `json:"total"`
	LongItems          int     `json:"long_items"`
	DistinctAuthors    int     `json:"distinct_authors"`
	DistinctURLs       int     `json:"distinct_urls"`
	URLDuplicates      int     `json:"url_duplicates"`
	TextDuplicates     int     `json:"text_duplicates"`
	NearDuplicateRatio float64 `json:"near_duplicate_ratio"`
	ContentItems       int     `json:"content_items"`
	ContentRatio       float64 `json:"content_ratio"`
}

type UsabilityReport = Report[UsabilityStats]

// UsabilityGate checks that a bundle which passed the quality gate is
// diverse and original enough to synthesize from.
type UsabilityGate struct {
	cfg *config.GatesConfig
}

func NewUsabilityGate(cfg *config.GatesConfig) *UsabilityGate {
	return &UsabilityGate{cfg: cfg}
}

func (g *UsabilityGate) Check(items model.EvidenceList) UsabilityReport {
	stats := UsabilityStats{Total: len(items)}

	authors := make([]string, 0, len(items))
	urls := make([]string, 0, len(items))
	for _, item := range items {
		if len([]rune(item.TextPrimary)) >= g.cfg.MinLongTextChars {
			stats.LongItems++
		}
		if item.AuthorRef != "" {
			authors = append(authors, item.AuthorRef)
		}
		if item.CanonicalURL != "" {
			urls = append(urls, item.CanonicalURL)
		}
		if hasContent(item) {
			stats.ContentItems++
		}
	}
	stats.DistinctAuthors = len(funk.UniqString(authors))
	stats.DistinctURLs = len(funk.UniqString(urls))
	stats.URLDuplicates, stats.TextDuplicates = g.nearDuplicates(items)

	if stats.Total > 0 {
		stats.NearDuplicateRatio = float64(stats.URLDuplicates+stats.TextDuplicates) / float64(stats.Total)
		stats.ContentRatio = float64(stats.ContentItems) / float64(stats.Total)
	}

	var violations []model.Shortfall
	if stats.LongItems < g.cfg.MinLongItems {
		violations = append(violations, model.Shortfall{
			Code:     CodeMinLongItems,
			Found:    float64(stats.LongItems),
			Required: float64(g.cfg.MinLongItems),
			Message:  fmt.Sprintf("found %d items with at least %d characters, %d required", stats.LongItems, g.cfg.MinLongTextChars, g.cfg.MinLongItems),
		})
	}
	if stats.DistinctAuthors < g.cfg.MinDistinctAuthors {
		violations = append(violations, model.Shortfall{
			Code:     CodeMinDistinctAuthors,
			Found:    float64(stats.DistinctAuthors),
			Required: float64(g.cfg.MinDistinctAuthors),
			Message:  fmt.Sprintf("evidence comes from %d distinct authors, %d required", stats.DistinctAuthors, g.cfg.MinDistinctAuthors),
		})
	}
	if stats.DistinctURLs < g.cfg.MinDistinctURLs {
		violations = append(violations, model.Shortfall{
			Code:     CodeMinDistinctURLs,
			Found:    float64(stats.DistinctURLs),
			Required: float64(g.cfg.MinDistinctURLs),
			Message:  fmt.Sprintf("evidence has %d distinct urls, %d required", stats.DistinctURLs, g.cfg.MinDistinctURLs),
		})
	}
	if stats.NearDuplicateRatio >= g.cfg.MaxNearDuplicateRatio {
		violations = append(violations, model.Shortfall{
			Code:     CodeNearDuplicateRatio,
			Found:    stats.NearDuplicateRatio,
			Required: g.cfg.MaxNearDuplicateRatio,
			Message:  fmt.Sprintf("%.0f%% of items are near-duplicates, must stay below %.0f%%", stats.NearDuplicateRatio*100, g.cfg.MaxNearDuplicateRatio*100),
		})
	}
	if stats.ContentRatio < g.cfg.MinContentRatio {
		violations = append(violations, model.Shortfall{
			Code:     CodeContentRatio,
			Found:    stats.ContentRatio,
			Required: g.cfg.MinContentRatio,
			Message:  fmt.Sprintf("%.0f%% of items carry any text, %.0f%% required", stats.ContentRatio*100, g.cfg.MinContentRatio*100),
		})
	}

	return UsabilityReport{
		Gate:       GateUsability,
		Passed:     len(violations) == 0,
		Stats:      stats,
		Violations: violations,
		found:      stats.Total,
		required:   g.cfg.MinItems,
	}
}

// nearDuplicates counts items repeating an earlier canonical url, then items
// whose text is near-identical to an earlier item of the same author. Each
// item is counted at most once.
func (g *UsabilityGate) nearDuplicates(items model.EvidenceList) (byURL int, byText int) {
	seenURL := make(map[[32]byte]struct{})
	duplicate := make([]bool, len(items))
	for i, item := range items {
		if item.CanonicalURL == "" {
			continue
		}
		sum := sha256.Sum256([]byte(strings.TrimSpace(item.CanonicalURL)))
		if _, ok := seenURL[sum]; ok {
			duplicate[i] = true
			byURL++
			continue
		}
		seenURL[sum] = struct{}{}
	}

	byAuthor := make(map[string][]int)
	for i, item := range items {
		if item.AuthorRef == "" || duplicate[i] {
			continue
		}
		byAuthor[item.AuthorRef] = append(byAuthor[item.AuthorRef], i)
	}
	for _, group := range byAuthor {
		tokens := make([]map[string]struct{}, len(group))
		for k, idx := range group {
			tokens[k] = similarity.TokenSet(items[idx].TextPrimary)
		}
		for k := 1; k < len(group); k++ {
			for prev := 0; prev < k; prev++ {
				if duplicate[group[prev]] {
					continue
				}
				if similarity.Jaccard(tokens[prev], tokens[k]) >= g.cfg.NearDuplicateJaccard {
					duplicate[group[k]] = true
					byText++
					break
				}
			}
		}
	}
	return byURL, byText
}

func hasContent(item model.EvidenceItem) bool {
	if strings.TrimSpace(item.TextPrimary) != "" {
		return true
	}
	return item.TextSecondary != nil && strings.TrimSpace(*item.TextSecondary) != ""
}
