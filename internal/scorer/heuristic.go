package scorer

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/thoas/go-funk"
	"github.com/trendboard/opportunity-planner/internal/opa"
	"github.com/trendboard/opportunity-planner/internal/pipeline"
	"github.com/trendboard/opportunity-planner/internal/store/model"
	"go.uber.org/zap"
)

const (
	maxEvidencePoints  = 40
	maxFreshnessPoints = 25
	maxAnchorPoints    = 20
	maxChannelPoints   = 15
)

var (
	numberPattern   = regexp.MustCompile(`\d+(\.\d+)?%?`)
	velocityPattern = regexp.MustCompile(`(?i)\b(doubled|tripled|surg\w*|spik\w*|accelerat\w*|(week|month|year)[- ]over[- ](week|month|year)|this week|past \w+ (days|weeks)|overnight)\b`)
)

// HeuristicScorer is deterministic: the same request always yields the same
// scores. A safety policy violation forces score 0 and the invalid band.
type HeuristicScorer struct {
	policy          *opa.Validator
	strongThreshold int
}

func NewHeuristicScorer(policy *opa.Validator, strongThreshold int) *HeuristicScorer {
	return &HeuristicScorer{policy: policy, strongThreshold: strongThreshold}
}

func (h *HeuristicScorer) Score(ctx context.Context, req Request) ([]Score, error) {
	now := req.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	published := make(map[string]*time.Time, len(req.Evidence))
	for _, item := range req.Evidence {
		published[item.ID] = item.PublishedAt
	}

	violations, err := h.violations(ctx, req)
	if err != nil {
		return nil, err
	}

	scores := make([]Score, 0, len(req.Candidates))
	for i, c := range req.Candidates {
		if len(violations[i]) > 0 {
			scores = append(scores, Score{
				CandidateID:      c.ID,
				Score:            0,
				Band:             model.ScoreBandInvalid,
				Explanation:      "policy: " + strings.Join(violations[i], "; "),
				PolicyViolations: violations[i],
			})
			continue
		}

		evidence := evidencePoints(c, published)
		freshness := freshnessPoints(c, published, now)
		anchors := anchorPoints(c.Rationale)
		channel := channelPoints(c, req.Subject)

		total := evidence + freshness + anchors + channel
		scores = append(scores, Score{
			CandidateID: c.ID,
			Score:       total,
			Band:        Band(total, h.strongThreshold),
			Explanation: fmt.Sprintf("evidence %d/%d, freshness %d/%d, anchors %d/%d, channel %d/%d",
				evidence, maxEvidencePoints, freshness, maxFreshnessPoints, anchors, maxAnchorPoints, channel, maxChannelPoints),
		})
	}
	return scores, nil
}

func (h *HeuristicScorer) violations(ctx context.Context, req Request) ([][]string, error) {
	out := make([][]string, len(req.Candidates))
	if h.policy == nil {
		return out, nil
	}

	subject := map[string]any{"subject_id": req.Subject.SubjectID}
	if len(req.Subject.Channels) > 0 {
		subject["channels"] = req.Subject.Channels
	}
	if len(req.Subject.BlockedChannels) > 0 {
		subject["blocked_channels"] = req.Subject.BlockedChannels
	}

	inputs := make([]opa.Input, 0, len(req.Candidates))
	for _, c := range req.Candidates {
		inputs = append(inputs, opa.Input{
			Candidate: map[string]any{
				"id":           c.ID,
				"title":        c.Title,
				"angle":        c.Angle,
				"rationale":    c.Rationale,
				"type":         c.Type,
				"channel":      c.Channel,
				"evidence_ids": c.EvidenceIDs,
			},
			Subject: subject,
		})
	}

	results, err := h.policy.ViolationsAll(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("evaluating safety policy: %w", err)
	}
	for i, violations := range results {
		for _, v := range violations {
			out[i] = append(out[i], v.Message)
		}
		if len(out[i]) > 0 {
			zap.S().Named("scorer").Infow("candidate violates safety policy", "candidate_id", req.Candidates[i].ID, "violations", out[i])
		}
	}
	return out, nil
}

// evidencePoints rewards up to four distinct cited items of the bundle.
func evidencePoints(c pipeline.Candidate, published map[string]*time.Time) int {
	cited := 0
	for _, id := range funk.UniqString(c.EvidenceIDs) {
		if _, ok := published[id]; ok {
			cited++
		}
	}
	if cited > 4 {
		cited = 4
	}
	return cited * maxEvidencePoints / 4
}

func freshnessPoints(c pipeline.Candidate, published map[string]*time.Time, now time.Time) int {
	var newest *time.Time
	for _, id := range c.EvidenceIDs {
		if p := published[id]; p != nil && (newest == nil || p.After(*newest)) {
			newest = p
		}
	}
	if newest == nil {
		return 3
	}
	switch age := now.Sub(*newest); {
	case age <= 48*time.Hour:
		return maxFreshnessPoints
	case age <= 7*24*time.Hour:
		return 18
	case age <= 14*24*time.Hour:
		return 10
	default:
		return 3
	}
}

func anchorPoints(rationale string) int {
	points := 0
	numbers := numberPattern.FindAllString(rationale, -1)
	if len(numbers) > 0 {
		points += 10
	}
	if len(numbers) > 1 {
		points += 5
	}
	if velocityPattern.MatchString(rationale) {
		points += 5
	}
	return points
}

func channelPoints(c pipeline.Candidate, subject pipeline.SubjectContext) int {
	if len(subject.Channels) == 0 {
		return 8
	}
	for _, ch := range subject.Channels {
		if strings.EqualFold(ch, c.Channel) {
			return maxChannelPoints
		}
	}
	return 0
}
