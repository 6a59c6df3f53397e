package synthesizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/trendboard/opportunity-planner/internal/pipeline"
	"go.uber.org/zap"
)

var (
	codeFenceRegex     = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")
	trailingCommaRegex = regexp.MustCompile(`,(\s*[}\]])`)

	ErrNoCandidates = errors.New("response contains no candidate list")
)

type rawCandidate struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Angle       string   `json:"angle"`
	Rationale   string   `json:"rationale"`
	Type        string   `json:"type"`
	Channel     string   `json:"channel"`
	EvidenceIDs []string `json:"evidence_ids"`
}

// ParseCandidates extracts candidates from a model response. It accepts a
// bare array or an object with a "candidates" array, wrapped in code fences
// or surrounded by prose, and tolerates trailing commas. An item that does
// not decode is skipped and counted; only an unreadable list is an error.
func ParseCandidates(text string) ([]pipeline.Candidate, int, error) {
	items, err := candidateList(text)
	if err != nil {
		return nil, 0, err
	}

	candidates := make([]pipeline.Candidate, 0, len(items))
	skipped := 0
	for i, item := range items {
		var raw rawCandidate
		if err := json.Unmarshal(item, &raw); err != nil {
			skipped++
			zap.S().Named("synthesizer").Warnw("skipping malformed candidate", "index", i, "error", err)
			continue
		}
		id := strings.TrimSpace(raw.ID)
		if id == "" {
			id = fmt.Sprintf("c%02d", i+1)
		}
		candidates = append(candidates, pipeline.Candidate{
			ID:          id,
			Title:       strings.TrimSpace(raw.Title),
			Angle:       strings.TrimSpace(raw.Angle),
			Rationale:   strings.TrimSpace(raw.Rationale),
			Type:        strings.TrimSpace(raw.Type),
			Channel:     strings.TrimSpace(raw.Channel),
			EvidenceIDs: raw.EvidenceIDs,
		})
	}

	return dedupIDs(candidates), skipped, nil
}

func candidateList(text string) ([]json.RawMessage, error) {
	body := strings.TrimSpace(text)
	if m := codeFenceRegex.FindStringSubmatch(body); m != nil {
		body = strings.TrimSpace(m[1])
	}
	body = trailingCommaRegex.ReplaceAllString(body, "$1")

	for _, candidate := range []string{body, extract(body, '[', ']'), extract(body, '{', '}')} {
		if candidate == "" {
			continue
		}
		var list []json.RawMessage
		if err := json.Unmarshal([]byte(candidate), &list); err == nil {
			return list, nil
		}
		var wrapper struct {
			Candidates []json.RawMessage `json:"candidates"`
		}
		if err := json.Unmarshal([]byte(candidate), &wrapper); err == nil && wrapper.Candidates != nil {
			return wrapper.Candidates, nil
		}
	}
	return nil, ErrNoCandidates
}

func extract(s string, open, close byte) string {
	start := strings.IndexByte(s, open)
	end := strings.LastIndexByte(s, close)
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// dedupIDs keeps candidate ids unique within a run.
func dedupIDs(candidates []pipeline.Candidate) []pipeline.Candidate {
	seen := make(map[string]int, len(candidates))
	for i := range candidates {
		id := candidates[i].ID
		if n, ok := seen[id]; ok {
			seen[id] = n + 1
			candidates[i].ID = fmt.Sprintf("%s-%d", id, n+1)
			continue
		}
		seen[id] = 1
	}
	return candidates
}
