// Package cache owns the in-memory result set per filter/pagination key and
// the incremental reconciliation of live updates into it.
package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/skillforge/joblens/internal/models"
)

const (
	// DefaultFreshness is how long a cached page is served without refetch.
	DefaultFreshness = 30 * time.Second

	// MaxCachedItems bounds a merged item list after reconciliation.
	MaxCachedItems = 100
)

type pageEntry struct {
	page      models.ResultPage
	fetchedAt time.Time
}

// Store is a keyed page store with per-key request generation counters
// (stale-response discard) and per-filter live cutoffs. All methods are safe
// for concurrent use.
type Store struct {
	logger    arbor.ILogger
	freshness time.Duration
	now       func() time.Time

	mu      sync.Mutex
	pages   map[string]*pageEntry
	gens    map[string]uint64
	cutoffs map[string]string // FilterSet.Key() -> newest created_at seen
}

// StoreOption configures the Store.
type StoreOption func(*Store)

// WithFreshness overrides the staleness threshold.
func WithFreshness(d time.Duration) StoreOption {
	return func(s *Store) {
		s.freshness = d
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates an empty store.
func NewStore(logger arbor.ILogger, opts ...StoreOption) *Store {
	s := &Store{
		logger:    logger,
		freshness: DefaultFreshness,
		now:       time.Now,
		pages:     make(map[string]*pageEntry),
		gens:      make(map[string]uint64),
		cutoffs:   make(map[string]string),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Get returns the cached page for a key if it is still fresh.
func (s *Store) Get(key string) (models.ResultPage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.pages[key]
	if !ok {
		return models.ResultPage{}, false
	}
	if s.now().Sub(entry.fetchedAt) > s.freshness {
		return models.ResultPage{}, false
	}
	return entry.page, true
}

// Peek returns the cached page regardless of freshness. Reconciliation merges
// into whatever is currently displayed, fresh or not.
func (s *Store) Peek(key string) (models.ResultPage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.pages[key]
	if !ok {
		return models.ResultPage{}, false
	}
	return entry.page, true
}

// BeginFetch marks a request in flight for a key and returns its generation.
// A later CompleteFetch with a superseded generation is discarded.
func (s *Store) BeginFetch(key string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gens[key]++
	return s.gens[key]
}

// CompleteFetch stores a fetched page, unless a newer fetch for the same key
// has been started since. Returns whether the page was accepted.
func (s *Store) CompleteFetch(key string, gen uint64, page models.ResultPage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gens[key] != gen {
		if s.logger != nil {
			s.logger.Debug().Str("key", key).Msg("Discarded stale page fetch")
		}
		return false
	}

	s.pages[key] = &pageEntry{page: page, fetchedAt: s.now()}
	return true
}

// Invalidate drops the cached page for a key, forcing the next read to
// refetch.
func (s *Store) Invalidate(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pages, key)
}

// Merge prepends deduplicated incoming records to the cached page for a key,
// truncates to MaxCachedItems and adjusts the tracked total by the number of
// genuinely new records. Returns the new records' ids in prepend order.
// A miss (no cached page for the key) merges nothing.
func (s *Store) Merge(key string, incoming []models.JobRecord) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.pages[key]
	if !ok {
		return nil
	}

	existing := make(map[string]struct{}, len(entry.page.Items))
	for _, item := range entry.page.Items {
		existing[item.ID] = struct{}{}
	}

	var fresh []models.JobRecord
	var ids []string
	for _, item := range incoming {
		if !item.Valid() {
			continue
		}
		if _, dup := existing[item.ID]; dup {
			continue
		}
		existing[item.ID] = struct{}{}
		fresh = append(fresh, item)
		ids = append(ids, item.ID)
	}

	if len(fresh) == 0 {
		return nil
	}

	merged := append(fresh, entry.page.Items...)
	if len(merged) > MaxCachedItems {
		merged = merged[:MaxCachedItems]
	}
	entry.page.Items = merged

	if entry.page.Total != nil {
		total := *entry.page.Total + len(fresh)
		entry.page.Total = &total
	}

	return ids
}

// Cutoff returns the live cutoff (newest created_at observed) for a filter
// key.
func (s *Store) Cutoff(filterKey string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff, ok := s.cutoffs[filterKey]
	return cutoff, ok && cutoff != ""
}

// AdvanceCutoff moves the live cutoff forward for a filter key. The cutoff is
// monotonically non-decreasing: an older timestamp never replaces a newer one.
func (s *Store) AdvanceCutoff(filterKey, createdAt string) {
	trimmed := timestampTrim(createdAt)
	if trimmed == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.cutoffs[filterKey]
	if current == "" || timestampAfter(trimmed, current) {
		s.cutoffs[filterKey] = trimmed
	}
}

// ResetCutoff clears the live cutoff for a filter key. Called whenever the
// FilterSet or the active keyword subscription changes.
func (s *Store) ResetCutoff(filterKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cutoffs, filterKey)
}

func timestampTrim(value string) string {
	return strings.TrimSpace(value)
}

// timestampAfter reports whether a is strictly newer than b. Both are
// expected to be ISO 8601; unparseable values fall back to lexicographic
// comparison, which matches chronological order for same-layout timestamps.
func timestampAfter(a, b string) bool {
	ta, errA := time.Parse(time.RFC3339, a)
	tb, errB := time.Parse(time.RFC3339, b)
	if errA == nil && errB == nil {
		return ta.After(tb)
	}
	return a > b
}
