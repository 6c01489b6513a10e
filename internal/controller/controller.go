package controller

import (
	"context"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/ternarybob/arbor"

	"github.com/skillforge/joblens/internal/cache"
	"github.com/skillforge/joblens/internal/common"
	"github.com/skillforge/joblens/internal/jobsapi"
	"github.com/skillforge/joblens/internal/livefeed"
	"github.com/skillforge/joblens/internal/models"
	"github.com/skillforge/joblens/internal/signals"
)

// JobsAPI is the slice of the backend client the controller drives.
type JobsAPI interface {
	ListJobs(ctx context.Context, q jobsapi.ListQuery) (models.ResultPage, error)
	ListSources(ctx context.Context) ([]models.SourceOption, error)
}

// HistorySink receives every record the controller sees for durable history.
// A nil sink disables history.
type HistorySink interface {
	SaveJobs(ctx context.Context, jobs []models.JobRecord) error
}

// Deps wires a controller to its collaborators.
type Deps struct {
	Client  JobsAPI
	Store   *cache.Store
	Feed    *livefeed.Feed
	Signals *signals.Tracker
	History HistorySink
	Logger  arbor.ILogger
}

// Controller owns the filter set, pagination window and result view, and
// feeds live update events back into the cached first page.
type Controller struct {
	client  JobsAPI
	store   *cache.Store
	rec     *cache.Reconciler
	feed    *livefeed.Feed
	sig     *signals.Tracker
	history HistorySink
	logger  arbor.ILogger

	mu         sync.Mutex
	draft      models.FilterSet
	filters    models.FilterSet
	limit      int
	offset     int
	applyCount int
	lastErr    error

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a controller with the given page size. The limit is clamped to
// the backend's accepted range.
func New(deps Deps, limit int) *Controller {
	return &Controller{
		client:  deps.Client,
		store:   deps.Store,
		rec:     cache.NewReconciler(deps.Store, deps.Client, deps.Logger),
		feed:    deps.Feed,
		sig:     deps.Signals,
		history: deps.History,
		logger:  deps.Logger,
		limit:   jobsapi.ClampLimit(limit),
		done:    make(chan struct{}),
	}
}

// Start launches the live event loop. It returns immediately; the loop runs
// until the context is cancelled or Close is called.
func (c *Controller) Start(ctx context.Context) {
	common.SafeGo(c.logger, "controller.events", func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.done:
				return
			case evt := <-c.feed.Events():
				c.handleLiveEvent(ctx, evt)
			}
		}
	})
}

// Close stops the event loop and tears down the live feed and signal timers.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.feed.Close()
		c.sig.Close()
	})
}

// EditDraft mutates the staged filter set without touching the committed one.
// Nothing is fetched until Apply.
func (c *Controller) EditDraft(edit func(*models.FilterSet)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	edit(&c.draft)
}

// Draft returns the staged, uncommitted filter set.
func (c *Controller) Draft() models.FilterSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// Filters returns the committed filter set.
func (c *Controller) Filters() models.FilterSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filters
}

// Apply commits the draft filter set, rewinds to the first page, clears
// transient signals and resets the live cutoff for the new filters, then
// fetches the page. The live subscription is rebound with a fresh connect
// key so an identical keyword still forces a reconnect.
func (c *Controller) Apply(ctx context.Context) error {
	c.mu.Lock()
	c.filters = c.draft.Normalized()
	c.draft = c.filters
	c.offset = 0
	c.applyCount++
	key := c.applyCount
	filters := c.filters
	c.mu.Unlock()

	c.store.ResetCutoff(filters.Key())
	c.sig.Reset()

	keyword := strings.TrimSpace(filters.Title)
	if utf8.RuneCountInString(keyword) >= livefeed.MinKeywordLen {
		c.sig.SetSearching()
	}
	c.feed.Set(keyword, key)

	return c.fetchPage(ctx)
}

// Reset clears both the committed and staged filter sets, drops the live
// subscription and returns the view to an unfiltered first page.
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	c.draft = models.FilterSet{}
	c.filters = models.FilterSet{}
	c.offset = 0
	c.applyCount++
	key := c.applyCount
	c.mu.Unlock()

	c.sig.Reset()
	c.feed.Set("", key)

	return c.fetchPage(ctx)
}

// Refresh drops the cached current page and refetches it. Filters and
// pagination are untouched.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	pageKey := c.filters.PageKey(c.limit, c.offset)
	c.mu.Unlock()

	c.store.Invalidate(pageKey)
	return c.fetchPage(ctx)
}

// NextPage advances the window by one page when a further page can exist.
func (c *Controller) NextPage(ctx context.Context) error {
	c.mu.Lock()
	if !c.canNextLocked() {
		c.mu.Unlock()
		return nil
	}
	c.offset += c.limit
	c.mu.Unlock()
	return c.fetchPage(ctx)
}

// PrevPage rewinds the window by one page, clamping at the first.
func (c *Controller) PrevPage(ctx context.Context) error {
	c.mu.Lock()
	if c.offset == 0 {
		c.mu.Unlock()
		return nil
	}
	c.offset = jobsapi.ClampOffset(c.offset - c.limit)
	c.mu.Unlock()
	return c.fetchPage(ctx)
}

// View is a point-in-time snapshot of everything a presentation layer needs.
type View struct {
	Filters     models.FilterSet
	Draft       models.FilterSet
	Limit       int
	Offset      int
	CurrentPage int
	CanNext     bool
	CanPrev     bool
	Page        models.ResultPage
	Err         error
	Search      signals.SearchStatus
	Banner      int
	Live        livefeed.Snapshot
}

// View snapshots the controller state. The page comes from the cache
// regardless of freshness so a stale page stays visible during refetches.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	page, _ := c.store.Peek(c.filters.PageKey(c.limit, c.offset))
	return View{
		Filters:     c.filters,
		Draft:       c.draft,
		Limit:       c.limit,
		Offset:      c.offset,
		CurrentPage: c.offset/c.limit + 1,
		CanNext:     c.canNextLocked(),
		CanPrev:     c.offset > 0,
		Page:        page,
		Err:         c.lastErr,
		Search:      c.sig.Status(),
		Banner:      c.sig.Banner(),
		Live:        c.feed.Snapshot(),
	}
}

// IsRecent reports whether a record id should carry the new-arrival highlight.
func (c *Controller) IsRecent(id string) bool {
	return c.sig.IsRecent(id)
}

// canNextLocked uses the reported total when the backend provides one and
// falls back to the full-page heuristic when it does not.
func (c *Controller) canNextLocked() bool {
	page, ok := c.store.Peek(c.filters.PageKey(c.limit, c.offset))
	if !ok {
		return false
	}
	if page.Total != nil {
		return c.offset+c.limit < *page.Total
	}
	return len(page.Items) == c.limit
}

// fetchPage loads the current page, serving a fresh cached copy when one
// exists. Completion goes through the store's per-key fetch generation so a
// response that arrives after the filters moved on is discarded rather than
// shown against the wrong view.
func (c *Controller) fetchPage(ctx context.Context) error {
	c.mu.Lock()
	filters := c.filters
	limit := c.limit
	offset := c.offset
	c.mu.Unlock()

	pageKey := filters.PageKey(limit, offset)
	if _, ok := c.store.Get(pageKey); ok {
		c.setErr(pageKey, nil)
		return nil
	}

	gen := c.store.BeginFetch(pageKey)

	page, err := c.client.ListJobs(ctx, jobsapi.ListQuery{
		Filters: filters,
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		c.logger.Warn().Err(err).
			Str("filter", filters.Key()).
			Int("offset", offset).
			Msg("Job page fetch failed")
		c.setErr(pageKey, err)
		return err
	}

	if !c.store.CompleteFetch(pageKey, gen, page) {
		return nil
	}
	c.setErr(pageKey, nil)

	if offset == 0 && len(page.Items) > 0 && page.Items[0].CreatedAt != "" {
		c.store.AdvanceCutoff(filters.Key(), page.Items[0].CreatedAt)
	}
	c.saveHistory(ctx, page.Items)
	return nil
}

// handleLiveEvent folds one push notification into the view. Events for a
// keyword other than the active subscription are dropped; away from the
// first page only the banner is raised so the visible window never shifts
// under the user.
func (c *Controller) handleLiveEvent(ctx context.Context, evt models.JobsUpdatedEvent) {
	keyword := c.feed.Keyword()
	if keyword == "" || strings.TrimSpace(evt.Keyword) != keyword {
		return
	}

	c.sig.SetUpdated()

	c.mu.Lock()
	filters := c.filters
	limit := c.limit
	offset := c.offset
	c.mu.Unlock()

	if offset != 0 {
		if evt.NewJobs > 0 {
			c.sig.ShowBanner(evt.NewJobs)
		}
		return
	}

	outcome, err := c.rec.Reconcile(ctx, filters, limit)
	if err != nil {
		c.logger.Warn().Err(err).
			Str("keyword", keyword).
			Msg("Live reconcile failed")
		return
	}

	if outcome.Invalidated {
		if err := c.fetchPage(ctx); err == nil {
			if evt.NewJobs > 0 {
				c.sig.ShowBanner(evt.NewJobs)
			}
		}
		return
	}

	if outcome.Added > 0 {
		c.sig.ShowBanner(outcome.Added)
		c.sig.MarkRecent(outcome.AddedIDs)
		c.saveHistory(ctx, outcome.AddedRecords)
	}
}

func (c *Controller) setErr(pageKey string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// A late failure for a page the view has left should not surface.
	if c.filters.PageKey(c.limit, c.offset) != pageKey {
		return
	}
	c.lastErr = err
}

func (c *Controller) saveHistory(ctx context.Context, jobs []models.JobRecord) {
	if c.history == nil || len(jobs) == 0 {
		return
	}
	if err := c.history.SaveJobs(ctx, jobs); err != nil {
		c.logger.Warn().Err(err).Int("count", len(jobs)).Msg("History save failed")
	}
}
