package evidence

import (
	"context"
	"time"

	"github.com/trendboard/opportunity-planner/internal/store"
	"github.com/trendboard/opportunity-planner/internal/store/model"
)

type FetchOptions struct {
	Limit     int
	MaxAge    time.Duration
	Platforms []string
}

// Provider is the read-only view of the external evidence store.
type Provider interface {
	Fetch(ctx context.Context, subjectID string, opts FetchOptions) (model.EvidenceList, error)
	Count(ctx context.Context, subjectID string) (int64, error)
}

type StoreProvider struct {
	store store.Store
	now   func() time.Time
}

func NewStoreProvider(s store.Store) *StoreProvider {
	return &StoreProvider{
		store: s,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Fetch returns the newest items of the subject, undated items last, with id
// as a stable tie breaker.
func (p *StoreProvider) Fetch(ctx context.Context, subjectID string, opts FetchOptions) (model.EvidenceList, error) {
	filter := store.NewEvidenceQueryFilter().BySubjectID(subjectID).ByPlatforms(opts.Platforms)
	if opts.MaxAge > 0 {
		filter = filter.PublishedSince(p.now().Add(-opts.MaxAge))
	}

	queryOpts := store.NewQueryOptions().
		WithOrder("CASE WHEN published_at IS NULL THEN 1 ELSE 0 END").
		WithOrder("published_at DESC").
		WithOrder("id ASC")
	if opts.Limit > 0 {
		queryOpts = queryOpts.WithLimit(opts.Limit)
	}

	return p.store.Evidence().List(ctx, filter, queryOpts)
}

func (p *StoreProvider) Count(ctx context.Context, subjectID string) (int64, error) {
	return p.store.Evidence().Count(ctx, store.NewEvidenceQueryFilter().BySubjectID(subjectID))
}
