package store

import (
	"time"

	"github.com/trendboard/opportunity-planner/internal/store/model"
	"gorm.io/gorm"
)

type BaseQuerier struct {
	QueryFn []func(tx *gorm.DB) *gorm.DB
}

type EvidenceQueryFilter BaseQuerier

func NewEvidenceQueryFilter() *EvidenceQueryFilter {
	return &EvidenceQueryFilter{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (f *EvidenceQueryFilter) BySubjectID(subjectID string) *EvidenceQueryFilter {
	f.QueryFn = append(f.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("subject_id = ?", subjectID)
	})
	return f
}

func (f *EvidenceQueryFilter) ByIDs(ids []string) *EvidenceQueryFilter {
	f.QueryFn = append(f.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("id IN ?", ids)
	})
	return f
}

func (f *EvidenceQueryFilter) ByPlatforms(platforms []string) *EvidenceQueryFilter {
	if len(platforms) == 0 {
		return f
	}
	f.QueryFn = append(f.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("platform IN ?", platforms)
	})
	return f
}

// PublishedSince keeps undated items: the provider cannot prove they are stale.
func (f *EvidenceQueryFilter) PublishedSince(since time.Time) *EvidenceQueryFilter {
	f.QueryFn = append(f.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("published_at IS NULL OR published_at >= ?", since)
	})
	return f
}

type JobQueryFilter BaseQuerier

func NewJobQueryFilter() *JobQueryFilter {
	return &JobQueryFilter{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (f *JobQueryFilter) BySubjectID(subjectID string) *JobQueryFilter {
	f.QueryFn = append(f.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("subject_id = ?", subjectID)
	})
	return f
}

func (f *JobQueryFilter) ByStatus(statuses ...model.JobStatus) *JobQueryFilter {
	f.QueryFn = append(f.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("status IN ?", statuses)
	})
	return f
}

func (f *JobQueryFilter) LockedBefore(t time.Time) *JobQueryFilter {
	f.QueryFn = append(f.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("locked_at < ?", t)
	})
	return f
}

type BoardQueryFilter BaseQuerier

func NewBoardQueryFilter() *BoardQueryFilter {
	return &BoardQueryFilter{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (f *BoardQueryFilter) BySubjectID(subjectID string) *BoardQueryFilter {
	f.QueryFn = append(f.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("subject_id = ?", subjectID)
	})
	return f
}

func (f *BoardQueryFilter) ByState(states ...model.BoardState) *BoardQueryFilter {
	f.QueryFn = append(f.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("state IN ?", states)
	})
	return f
}

type QueryOptions BaseQuerier

func NewQueryOptions() *QueryOptions {
	return &QueryOptions{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

// Limit results
func (o *QueryOptions) WithLimit(limit int) *QueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Limit(limit)
	})
	return o
}

// Order by specific field
func (o *QueryOptions) WithOrder(order string) *QueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Order(order)
	})
	return o
}

func apply(tx *gorm.DB, fns ...[]func(*gorm.DB) *gorm.DB) *gorm.DB {
	for _, list := range fns {
		for _, fn := range list {
			tx = fn(tx)
		}
	}
	return tx
}
