package store

import (
	"context"
	"fmt"

	"github.com/trendboard/opportunity-planner/internal/store/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Evidence reads items written by the external evidence store. Import only
// exists for operator tooling.
type Evidence interface {
	List(ctx context.Context, filter *EvidenceQueryFilter, opts *QueryOptions) (model.EvidenceList, error)
	Count(ctx context.Context, filter *EvidenceQueryFilter) (int64, error)
	Import(ctx context.Context, items model.EvidenceList) (int64, error)
}

type EvidenceStore struct {
	db *gorm.DB
}

// Make sure we conform to Evidence interface
var _ Evidence = (*EvidenceStore)(nil)

func NewEvidenceStore(db *gorm.DB) Evidence {
	return &EvidenceStore{db: db}
}

func (s *EvidenceStore) List(ctx context.Context, filter *EvidenceQueryFilter, opts *QueryOptions) (model.EvidenceList, error) {
	var items model.EvidenceList
	tx := getDB(ctx, s.db).Model(&items)
	if filter != nil {
		tx = apply(tx, filter.QueryFn)
	}
	if opts != nil {
		tx = apply(tx, opts.QueryFn)
	}
	if err := tx.Find(&items).Error; err != nil {
		return nil, fmt.Errorf("listing evidence: %w", err)
	}
	return items, nil
}

func (s *EvidenceStore) Count(ctx context.Context, filter *EvidenceQueryFilter) (int64, error) {
	var count int64
	tx := getDB(ctx, s.db).Model(&model.EvidenceItem{})
	if filter != nil {
		tx = apply(tx, filter.QueryFn)
	}
	if err := tx.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting evidence: %w", err)
	}
	return count, nil
}

// Import inserts items, skipping ids that already exist. Stored items are immutable.
func (s *EvidenceStore) Import(ctx context.Context, items model.EvidenceList) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}
	result := getDB(ctx, s.db).Clauses(clause.OnConflict{DoNothing: true}).Create(&items)
	if result.Error != nil {
		return 0, fmt.Errorf("importing evidence: %w", result.Error)
	}
	return result.RowsAffected, nil
}
