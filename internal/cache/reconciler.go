package cache

import (
	"context"

	"github.com/ternarybob/arbor"

	"github.com/skillforge/joblens/internal/jobsapi"
	"github.com/skillforge/joblens/internal/models"
)

// JobsFetcher is the slice of the backend client the reconciler needs.
type JobsFetcher interface {
	ListJobs(ctx context.Context, q jobsapi.ListQuery) (models.ResultPage, error)
}

// Reconciler applies live update events to the first-page partition of the
// active filter set without disturbing pagination state.
type Reconciler struct {
	store  *Store
	client JobsFetcher
	logger arbor.ILogger
}

// NewReconciler creates a reconciler over a store and backend client.
func NewReconciler(store *Store, client JobsFetcher, logger arbor.ILogger) *Reconciler {
	return &Reconciler{
		store:  store,
		client: client,
		logger: logger,
	}
}

// Outcome describes one reconciliation cycle.
type Outcome struct {
	// Added is the number of genuinely new records merged in.
	Added int

	// AddedIDs are their ids, newest first.
	AddedIDs []string

	// AddedRecords are the merged records themselves, newest first.
	AddedRecords []models.JobRecord

	// NewestCreatedAt is the newest created_at among the incoming records.
	NewestCreatedAt string

	// Invalidated is set when no cutoff was known and the cached first page
	// was dropped instead of merged (full refetch required).
	Invalidated bool
}

// Reconcile fetches records newer than the filter set's live cutoff for its
// first page (offset 0, whatever page the user is on), deduplicates them
// against the cached set, prepends the remainder and advances the cutoff.
// With no cutoff known yet there is no lower bound for "what's new", so the
// cached page is invalidated instead; silently merging an unbounded backlog
// would miss records.
func (r *Reconciler) Reconcile(ctx context.Context, filters models.FilterSet, limit int) (Outcome, error) {
	filterKey := filters.Key()
	pageKey := filters.PageKey(limit, 0)

	cutoff, ok := r.store.Cutoff(filterKey)
	if !ok {
		r.store.Invalidate(pageKey)
		return Outcome{Invalidated: true}, nil
	}

	page, err := r.client.ListJobs(ctx, jobsapi.ListQuery{
		Filters:      filters,
		Limit:        limit,
		Offset:       0,
		CreatedAfter: cutoff,
	})
	if err != nil {
		return Outcome{}, err
	}

	if len(page.Items) == 0 {
		return Outcome{}, nil
	}

	// Strictly ordered within one cycle: dedupe-and-merge first, then
	// advance the cutoff. Duplicate or out-of-order event delivery is
	// harmless because merge is idempotent over ids.
	ids := r.store.Merge(pageKey, page.Items)

	added := make(map[string]bool, len(ids))
	for _, id := range ids {
		added[id] = true
	}
	records := make([]models.JobRecord, 0, len(ids))
	for _, item := range page.Items {
		if added[item.ID] {
			records = append(records, item)
		}
	}

	newest := page.Items[0].CreatedAt
	if newest != "" {
		r.store.AdvanceCutoff(filterKey, newest)
	}

	r.logger.Debug().
		Int("incoming", len(page.Items)).
		Int("added", len(ids)).
		Msg("Reconciled live update")

	return Outcome{
		Added:           len(ids),
		AddedIDs:        ids,
		AddedRecords:    records,
		NewestCreatedAt: newest,
	}, nil
}
