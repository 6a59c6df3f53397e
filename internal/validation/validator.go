package validation

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/trendboard/opportunity-planner/internal/config"
	"github.com/trendboard/opportunity-planner/internal/pipeline"
	"github.com/trendboard/opportunity-planner/internal/store/model"
)

const (
	ReasonEvidenceMissing     = "evidence_missing"
	ReasonEvidenceUnknown     = "evidence_unknown"
	ReasonTitleTooShort       = "title_too_short"
	ReasonAngleTooShort       = "angle_too_short"
	ReasonRationaleTooShort   = "rationale_too_short"
	ReasonForbiddenPhrase     = "forbidden_phrase"
	ReasonMissingTimingAnchor = "missing_timing_anchor"

	CodeTooFewValidCandidates = "too_few_valid_candidates"
)

// DefaultForbiddenPatterns are used when no pattern is configured. They
// match generic filler that carries no evidence.
var DefaultForbiddenPatterns = []string{
	`\bgame[- ]?changer\b`,
	`\bunlock (your|the|their) (full )?potential\b`,
	`\bin today'?s (fast[- ]paced|digital) (world|landscape)\b`,
	`\btake (it|things|your \w+) to the next level\b`,
	`\bstand out from the crowd\b`,
	`\belevate your brand\b`,
	`\bsynerg(y|ies|istic)\b`,
}

var timingAnchors = []*regexp.Regexp{
	regexp.MustCompile(`\d`),
	regexp.MustCompile(`(?i)\b(jan(uary)?|feb(ruary)?|mar(ch)?|apr(il)?|june?|july?|aug(ust)?|sept?(ember)?|oct(ober)?|nov(ember)?|dec(ember)?)\b`),
	regexp.MustCompile(`(?i)\b(monday|tuesday|wednesday|thursday|friday|saturday|sunday|weekend)\b`),
	regexp.MustCompile(`(?i)\b(today|yesterday|tonight|overnight)\b`),
	regexp.MustCompile(`(?i)\b(this|last|past|next) (\w+ )?(hours?|days?|weeks?|months?|quarters?|years?|season)\b`),
	regexp.MustCompile(`(?i)\b(hours?|days?|weeks?|months?) ago\b`),
	regexp.MustCompile(`(?i)\b(since|after|before) (the )?(launch|release|holidays?|announcement|update)\b`),
	regexp.MustCompile(`(?i)\b(doubled|tripled|surg(e|ed|ing)|spik(e|ed|ing)|accelerat(e|ed|ing)|(week|month|year)[- ]over[- ](week|month|year)|yoy|velocity)\b`),
}

// Validator rejects candidates that cite evidence outside the run bundle,
// are too thin, use filler phrasing or give no concrete timing anchor.
type Validator struct {
	cfg       *config.ValidationConfig
	forbidden []*regexp.Regexp
}

func NewValidator(cfg *config.ValidationConfig) (*Validator, error) {
	patterns := cfg.ForbiddenPatterns
	if len(patterns) == 0 {
		patterns = DefaultForbiddenPatterns
	}

	forbidden := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("invalid forbidden pattern %q: %w", p, err)
		}
		forbidden = append(forbidden, re)
	}

	return &Validator{cfg: cfg, forbidden: forbidden}, nil
}

// Validate returns the rejection reasons of one candidate, empty when valid.
func (v *Validator) Validate(c pipeline.Candidate, bundle map[string]struct{}) []string {
	reasons := []string{}

	if len(c.EvidenceIDs) == 0 {
		reasons = append(reasons, ReasonEvidenceMissing)
	}
	for _, id := range c.EvidenceIDs {
		if _, ok := bundle[id]; !ok {
			reasons = append(reasons, ReasonEvidenceUnknown)
			break
		}
	}

	if tooShort(c.Title, v.cfg.MinTitleChars) {
		reasons = append(reasons, ReasonTitleTooShort)
	}
	if tooShort(c.Angle, v.cfg.MinAngleChars) {
		reasons = append(reasons, ReasonAngleTooShort)
	}
	if tooShort(c.Rationale, v.cfg.MinRationaleChars) {
		reasons = append(reasons, ReasonRationaleTooShort)
	}

	if v.matchesForbidden(c.Title, c.Angle, c.Rationale) {
		reasons = append(reasons, ReasonForbiddenPhrase)
	}

	if !hasTimingAnchor(c.Rationale) {
		reasons = append(reasons, ReasonMissingTimingAnchor)
	}

	return reasons
}

// Report summarizes one batch. Accepted keeps the input order.
type Report struct {
	Accepted          []pipeline.Candidate
	Rejected          []pipeline.Candidate
	ReasonCounts      map[string]int
	RejectionRate     float64
	HighRejectionRate bool
	// Insufficient is set when fewer than MinSurvivors candidates remain.
	Insufficient bool
}

// Shortfall explains an insufficient batch on the persisted board.
func (r Report) Shortfall(evidenceCount, minSurvivors int) *model.EvidenceShortfall {
	reasons := make([]string, 0, len(r.ReasonCounts))
	for reason := range r.ReasonCounts {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)

	return &model.EvidenceShortfall{
		Gate:          "validation",
		FoundItems:    evidenceCount,
		RequiredItems: evidenceCount,
		Violations: []model.Shortfall{{
			Code:     CodeTooFewValidCandidates,
			Found:    float64(len(r.Accepted)),
			Required: float64(minSurvivors),
			Message: fmt.Sprintf("%d of %d generated candidates passed validation, %d required (rejections: %s)",
				len(r.Accepted), len(r.Accepted)+len(r.Rejected), minSurvivors, strings.Join(reasons, ", ")),
		}},
	}
}

func (v *Validator) ValidateBatch(candidates []pipeline.Candidate, items model.EvidenceList) Report {
	bundle := make(map[string]struct{}, len(items))
	for _, item := range items {
		bundle[item.ID] = struct{}{}
	}

	report := Report{ReasonCounts: make(map[string]int)}
	for _, c := range candidates {
		reasons := v.Validate(c, bundle)
		if len(reasons) == 0 {
			c.RejectionReasons = nil
			report.Accepted = append(report.Accepted, c)
			continue
		}
		c.RejectionReasons = reasons
		report.Rejected = append(report.Rejected, c)
		for _, reason := range reasons {
			report.ReasonCounts[reason]++
		}
	}

	if total := len(candidates); total > 0 {
		report.RejectionRate = float64(len(report.Rejected)) / float64(total)
	}
	report.HighRejectionRate = report.RejectionRate > v.cfg.MaxRejectionRate
	report.Insufficient = len(report.Accepted) < v.cfg.MinSurvivors
	return report
}

func (v *Validator) matchesForbidden(texts ...string) bool {
	for _, text := range texts {
		for _, re := range v.forbidden {
			if re.MatchString(text) {
				return true
			}
		}
	}
	return false
}

func tooShort(s string, min int) bool {
	s = strings.TrimSpace(s)
	return s == "" || utf8.RuneCountInString(s) < min
}

func hasTimingAnchor(rationale string) bool {
	for _, re := range timingAnchors {
		if re.MatchString(rationale) {
			return true
		}
	}
	return false
}
