package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/trendboard/opportunity-planner/internal/config"
	"github.com/trendboard/opportunity-planner/internal/store"
	"github.com/trendboard/opportunity-planner/internal/store/model"
	"github.com/trendboard/opportunity-planner/pkg/migrations"
	"go.uber.org/zap"
	"sigs.k8s.io/yaml"
)

var evidenceFile string

// evidenceDocument is the on-disk format read by import-evidence. YAML and
// JSON are both accepted.
type evidenceDocument struct {
	Items []evidenceRecord `json:"items"`
}

type evidenceRecord struct {
	ID            string         `json:"id"`
	SubjectID     string         `json:"subject_id"`
	Platform      string         `json:"platform"`
	ContentType   string         `json:"content_type"`
	AuthorRef     string         `json:"author_ref"`
	CanonicalURL  string         `json:"canonical_url"`
	TextPrimary   string         `json:"text_primary"`
	TextSecondary *string        `json:"text_secondary,omitempty"`
	PublishedAt   *time.Time     `json:"published_at,omitempty"`
	Metrics       map[string]any `json:"metrics,omitempty"`
}

var importEvidenceCmd = &cobra.Command{
	Use:   "import-evidence",
	Short: "Load evidence items from a YAML or JSON file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return err
		}

		teardown := setupLogging(cfg)
		defer teardown()

		items, err := readEvidence(evidenceFile)
		if err != nil {
			return err
		}

		db, err := store.InitDB(cfg)
		if err != nil {
			return err
		}
		if err := migrations.MigrateStore(db); err != nil {
			return err
		}

		s := store.NewStore(db)
		defer func() { _ = s.Close() }()

		inserted, err := s.Evidence().Import(context.Background(), items)
		if err != nil {
			return err
		}

		zap.S().Infow("evidence imported", "file", evidenceFile, "read", len(items), "inserted", inserted)
		return nil
	},
}

func init() {
	importEvidenceCmd.Flags().StringVarP(&evidenceFile, "file", "f", "", "Path to the evidence file")
	_ = importEvidenceCmd.MarkFlagRequired("file")
}

func readEvidence(path string) (model.EvidenceList, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var doc evidenceDocument
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	now := time.Now().UTC()
	items := make(model.EvidenceList, 0, len(doc.Items))
	for i, r := range doc.Items {
		if r.ID == "" || r.SubjectID == "" || r.Platform == "" {
			return nil, fmt.Errorf("item %d: id, subject_id and platform are required", i)
		}
		items = append(items, model.EvidenceItem{
			ID:            r.ID,
			SubjectID:     r.SubjectID,
			Platform:      r.Platform,
			ContentType:   r.ContentType,
			AuthorRef:     r.AuthorRef,
			CanonicalURL:  r.CanonicalURL,
			TextPrimary:   r.TextPrimary,
			TextSecondary: r.TextSecondary,
			PublishedAt:   r.PublishedAt,
			Metrics:       r.Metrics,
			CreatedAt:     now,
		})
	}

	return items, nil
}
