package evidence

import (
	"fmt"
	"time"

	"github.com/trendboard/opportunity-planner/internal/config"
	"github.com/trendboard/opportunity-planner/internal/store/model"
)

const (
	GateQuality   = "quality"
	GateUsability = "usability"

	CodeMinItems          = "min_items"
	CodeMinTextItems      = "min_text_items"
	CodeRequiredPlatform  = "required_platform_missing"
	CodeNoFreshItems      = "no_fresh_items"
	CodeSecondaryCoverage = "secondary_coverage"
)

type QualityStats struct {
	Total             int            `json:"total"`
	TextItems         int            `json:"text_items"`
	Platforms         map[string]int `json:"platforms"`
	FreshItems        int            `json:"fresh_items"`
	SecondaryItems    int            `json:"secondary_items"`
	SecondaryCoverage float64        `json:"secondary_coverage"`
}

// Report is the outcome of one gate. Violations lists every violated
// threshold, not only the first.
type Report[S any] struct {
	Gate       string
	Passed     bool
	Stats      S
	Violations []model.Shortfall
	found      int
	required   int
}

// Shortfall returns the structured explanation persisted on an
// insufficient_evidence board, or nil when the gate passed.
func (r Report[S]) Shortfall() *model.EvidenceShortfall {
	if r.Passed {
		return nil
	}
	return &model.EvidenceShortfall{
		Gate:          r.Gate,
		FoundItems:    r.found,
		RequiredItems: r.required,
		Violations:    r.Violations,
	}
}

type QualityReport = Report[QualityStats]

// QualityGate checks volume, text density, platform coverage, recency and
// secondary text coverage of a bundle.
type QualityGate struct {
	cfg *config.GatesConfig
}

func NewQualityGate(cfg *config.GatesConfig) *QualityGate {
	return &QualityGate{cfg: cfg}
}

func (g *QualityGate) Check(items model.EvidenceList, now time.Time) QualityReport {
	stats := QualityStats{
		Total:     len(items),
		Platforms: make(map[string]int),
	}
	freshSince := now.Add(-g.cfg.FreshnessWindow)
	for _, item := range items {
		if len([]rune(item.TextPrimary)) >= g.cfg.MinTextChars {
			stats.TextItems++
		}
		stats.Platforms[item.Platform]++
		if item.PublishedAt != nil && !item.PublishedAt.Before(freshSince) {
			stats.FreshItems++
		}
		if item.TextSecondary != nil && *item.TextSecondary != "" {
			stats.SecondaryItems++
		}
	}
	if stats.Total > 0 {
		stats.SecondaryCoverage = float64(stats.SecondaryItems) / float64(stats.Total)
	}

	var violations []model.Shortfall
	if stats.Total < g.cfg.MinItems {
		violations = append(violations, model.Shortfall{
			Code:     CodeMinItems,
			Found:    float64(stats.Total),
			Required: float64(g.cfg.MinItems),
			Message:  fmt.Sprintf("found %d evidence items, at least %d are required", stats.Total, g.cfg.MinItems),
		})
	}
	if stats.TextItems < g.cfg.MinTextItems {
		violations = append(violations, model.Shortfall{
			Code:     CodeMinTextItems,
			Found:    float64(stats.TextItems),
			Required: float64(g.cfg.MinTextItems),
			Message:  fmt.Sprintf("found %d items with at least %d characters of text, %d required", stats.TextItems, g.cfg.MinTextChars, g.cfg.MinTextItems),
		})
	}
	for _, platform := range g.cfg.RequiredPlatforms {
		if stats.Platforms[platform] == 0 {
			violations = append(violations, model.Shortfall{
				Code:     CodeRequiredPlatform,
				Found:    0,
				Required: 1,
				Message:  fmt.Sprintf("no evidence from required platform %q", platform),
			})
		}
	}
	if stats.FreshItems == 0 {
		violations = append(violations, model.Shortfall{
			Code:     CodeNoFreshItems,
			Found:    0,
			Required: 1,
			Message:  fmt.Sprintf("no evidence published within the last %s", g.cfg.FreshnessWindow),
		})
	}
	if stats.SecondaryCoverage < g.cfg.MinSecondaryCoverage {
		violations = append(violations, model.Shortfall{
			Code:     CodeSecondaryCoverage,
			Found:    stats.SecondaryCoverage,
			Required: g.cfg.MinSecondaryCoverage,
			Message:  fmt.Sprintf("%.0f%% of items carry secondary text, %.0f%% required", stats.SecondaryCoverage*100, g.cfg.MinSecondaryCoverage*100),
		})
	}

	return QualityReport{
		Gate:       GateQuality,
		Passed:     len(violations) == 0,
		Stats:      stats,
		Violations: violations,
		found:      stats.Total,
		required:   g.cfg.MinItems,
	}
}
