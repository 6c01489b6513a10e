package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/skillforge/joblens/internal/jobsapi"
	"github.com/skillforge/joblens/internal/models"
)

type fakeFetcher struct {
	page    models.ResultPage
	err     error
	queries []jobsapi.ListQuery
}

func (f *fakeFetcher) ListJobs(_ context.Context, q jobsapi.ListQuery) (models.ResultPage, error) {
	f.queries = append(f.queries, q)
	return f.page, f.err
}

func seedFirstPage(t *testing.T, store *Store, filters models.FilterSet, limit int, page models.ResultPage) {
	t.Helper()
	key := filters.PageKey(limit, 0)
	gen := store.BeginFetch(key)
	require.True(t, store.CompleteFetch(key, gen, page))
}

func TestReconcileWithoutCutoffInvalidates(t *testing.T) {
	store := NewStore(arbor.NewLogger())
	fetcher := &fakeFetcher{}
	rec := NewReconciler(store, fetcher, arbor.NewLogger())

	filters := models.FilterSet{Title: "golang"}
	seedFirstPage(t, store, filters, 20, pageOf(5, job("a", "")))

	outcome, err := rec.Reconcile(context.Background(), filters, 20)
	require.NoError(t, err)
	assert.True(t, outcome.Invalidated)
	assert.Zero(t, outcome.Added)
	assert.Empty(t, fetcher.queries, "no bounded fetch is possible without a cutoff")

	_, ok := store.Peek(filters.PageKey(20, 0))
	assert.False(t, ok, "cached first page must be dropped")
}

func TestReconcileMergesNewRecordsAndAdvancesCutoff(t *testing.T) {
	store := NewStore(arbor.NewLogger())
	fetcher := &fakeFetcher{
		page: models.ResultPage{Items: []models.JobRecord{
			job("new-1", "2026-08-21T09:00:00Z"),
			job("new-2", "2026-08-21T08:00:00Z"),
			job("cached", "2026-08-20T12:00:00Z"),
		}},
	}
	rec := NewReconciler(store, fetcher, arbor.NewLogger())

	filters := models.FilterSet{Title: "golang"}
	seedFirstPage(t, store, filters, 20, pageOf(30, job("cached", "2026-08-20T12:00:00Z")))
	store.AdvanceCutoff(filters.Key(), "2026-08-20T12:00:00Z")

	outcome, err := rec.Reconcile(context.Background(), filters, 20)
	require.NoError(t, err)

	assert.Equal(t, 2, outcome.Added)
	assert.Equal(t, []string{"new-1", "new-2"}, outcome.AddedIDs)
	require.Len(t, outcome.AddedRecords, 2)
	assert.Equal(t, "new-1", outcome.AddedRecords[0].ID)
	assert.Equal(t, "2026-08-21T09:00:00Z", outcome.NewestCreatedAt)
	assert.False(t, outcome.Invalidated)

	// The incremental fetch was bounded by the prior cutoff at offset 0
	require.Len(t, fetcher.queries, 1)
	assert.Equal(t, "2026-08-20T12:00:00Z", fetcher.queries[0].CreatedAfter)
	assert.Equal(t, 0, fetcher.queries[0].Offset)

	page, ok := store.Peek(filters.PageKey(20, 0))
	require.True(t, ok)
	assert.Equal(t, "new-1", page.Items[0].ID)
	assert.Equal(t, 32, *page.Total)

	cutoff, _ := store.Cutoff(filters.Key())
	assert.Equal(t, "2026-08-21T09:00:00Z", cutoff)
}

func TestReconcileEmptyFetchLeavesStateAlone(t *testing.T) {
	store := NewStore(arbor.NewLogger())
	fetcher := &fakeFetcher{page: models.ResultPage{}}
	rec := NewReconciler(store, fetcher, arbor.NewLogger())

	filters := models.FilterSet{Title: "golang"}
	seedFirstPage(t, store, filters, 20, pageOf(5, job("a", "")))
	store.AdvanceCutoff(filters.Key(), "2026-08-20T12:00:00Z")

	outcome, err := rec.Reconcile(context.Background(), filters, 20)
	require.NoError(t, err)
	assert.Zero(t, outcome.Added)

	cutoff, _ := store.Cutoff(filters.Key())
	assert.Equal(t, "2026-08-20T12:00:00Z", cutoff)
}

func TestReconcileSurfacesFetchErrors(t *testing.T) {
	store := NewStore(arbor.NewLogger())
	fetcher := &fakeFetcher{err: errors.New("backend down")}
	rec := NewReconciler(store, fetcher, arbor.NewLogger())

	filters := models.FilterSet{Title: "golang"}
	seedFirstPage(t, store, filters, 20, pageOf(5, job("a", "")))
	store.AdvanceCutoff(filters.Key(), "2026-08-20T12:00:00Z")

	_, err := rec.Reconcile(context.Background(), filters, 20)
	require.Error(t, err)

	// Cached page survives a failed reconcile
	_, ok := store.Peek(filters.PageKey(20, 0))
	assert.True(t, ok)
}

func TestReconcileDuplicateEventDeliveryIsHarmless(t *testing.T) {
	store := NewStore(arbor.NewLogger())
	fetcher := &fakeFetcher{
		page: models.ResultPage{Items: []models.JobRecord{job("new-1", "2026-08-21T09:00:00Z")}},
	}
	rec := NewReconciler(store, fetcher, arbor.NewLogger())

	filters := models.FilterSet{Title: "golang"}
	seedFirstPage(t, store, filters, 20, pageOf(10, job("cached", "")))
	store.AdvanceCutoff(filters.Key(), "2026-08-20T12:00:00Z")

	first, err := rec.Reconcile(context.Background(), filters, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Added)

	// Same event replayed: the record is already merged
	second, err := rec.Reconcile(context.Background(), filters, 20)
	require.NoError(t, err)
	assert.Zero(t, second.Added)

	page, _ := store.Peek(filters.PageKey(20, 0))
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 11, *page.Total)
}
