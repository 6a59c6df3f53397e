package synthesizer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/trendboard/opportunity-planner/internal/config"
	"github.com/trendboard/opportunity-planner/internal/pipeline"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const systemPrompt = `You propose short-form content opportunities for a creator.
Ground every opportunity in the evidence items you are given and cite their ids.
Never cite an id that is not in the evidence list.
Every rationale must name a concrete timing signal: a number, a date, a relative time or a growth term.
Answer with a JSON array only. Each element has the keys id, title, angle, rationale, type, channel, evidence_ids.`

const maxExcerptChars = 400

// AnthropicSynthesizer asks a Claude model for candidates.
type AnthropicSynthesizer struct {
	client  anthropic.Client
	model   string
	limiter *rate.Limiter
}

func NewAnthropicSynthesizer(cfg *config.SynthesizerConfig, opts ...option.RequestOption) (*AnthropicSynthesizer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is required for the anthropic synthesizer")
	}

	rpm := cfg.RequestsPerMin
	if rpm <= 0 {
		rpm = 30
	}

	opts = append([]option.RequestOption{option.WithAPIKey(cfg.APIKey)}, opts...)
	return &AnthropicSynthesizer{
		client:  anthropic.NewClient(opts...),
		model:   cfg.Model,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
	}, nil
}

func (a *AnthropicSynthesizer) Synthesize(ctx context.Context, req Request) (Result, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return Result{}, pipeline.NewTransientIOError("synthesis", err)
	}

	prompt, err := buildPrompt(req)
	if err != nil {
		return Result{}, err
	}

	maxTokens := req.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	start := time.Now()
	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(req.Temperature),
		System:      []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return Result{}, pipeline.NewTransientIOError("synthesis", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := sb.String()

	zap.S().Named("synthesizer").Infow("model response received",
		"subject_id", req.Subject.SubjectID,
		"model", a.model,
		"bytes", len(text),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"duration", time.Since(start))

	if req.MaxOutputBytes > 0 && len(text) > req.MaxOutputBytes {
		return Result{}, pipeline.NewSizeBudgetExceededError("synthesis", req.MaxOutputBytes)
	}

	candidates, skipped, err := ParseCandidates(text)
	if err != nil {
		return Result{}, pipeline.NewTransientIOError("synthesis", err)
	}
	return Result{Candidates: candidates, SkippedMalformed: skipped}, nil
}

type promptEvidence struct {
	ID          string `json:"id"`
	Platform    string `json:"platform"`
	Author      string `json:"author,omitempty"`
	PublishedAt string `json:"published_at,omitempty"`
	Text        string `json:"text"`
	Transcript  string `json:"transcript,omitempty"`
}

func buildPrompt(req Request) (string, error) {
	items := make([]promptEvidence, 0, len(req.Evidence))
	for _, item := range req.Evidence {
		p := promptEvidence{
			ID:       item.ID,
			Platform: item.Platform,
			Author:   item.AuthorRef,
			Text:     excerpt(item.TextPrimary),
		}
		if item.PublishedAt != nil {
			p.PublishedAt = item.PublishedAt.UTC().Format(time.RFC3339)
		}
		if item.TextSecondary != nil {
			p.Transcript = excerpt(*item.TextSecondary)
		}
		items = append(items, p)
	}

	evidence, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("encoding evidence: %w", err)
	}
	subject, err := json.Marshal(req.Subject)
	if err != nil {
		return "", fmt.Errorf("encoding subject context: %w", err)
	}

	return fmt.Sprintf("Subject:\n%s\n\nEvidence:\n%s\n\nPropose %d opportunities.", subject, evidence, req.Count), nil
}

func excerpt(s string) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= maxExcerptChars {
		return string(r)
	}
	return string(r[:maxExcerptChars]) + "…"
}
