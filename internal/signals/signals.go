// Package signals derives short-lived, non-authoritative indicators from the
// sync engine: search status, the "N new jobs" banner and recently-added row
// highlighting. Nothing here is a source of truth and nothing is persisted.
package signals

import (
	"sync"
	"time"

	"github.com/ternarybob/arbor"
)

const (
	// DefaultBannerWindow is how long the new-jobs banner stays up.
	DefaultBannerWindow = 4 * time.Second

	// DefaultHighlightWindow is how long recently-added records stay
	// highlighted.
	DefaultHighlightWindow = 4500 * time.Millisecond
)

// SearchStatus is the transient search indicator state.
type SearchStatus int

const (
	StatusIdle SearchStatus = iota
	StatusSearching
	StatusUpdated
)

func (s SearchStatus) String() string {
	switch s {
	case StatusSearching:
		return "searching"
	case StatusUpdated:
		return "updated"
	default:
		return "idle"
	}
}

// Tracker holds the transient indicators. Safe for concurrent use.
type Tracker struct {
	logger          arbor.ILogger
	bannerWindow    time.Duration
	highlightWindow time.Duration

	mu          sync.Mutex
	status      SearchStatus
	banner      int
	bannerTimer *time.Timer
	recent      map[string]struct{}
	recentTimer *time.Timer
	lastUpdated time.Time
	closed      bool
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithBannerWindow overrides the banner auto-dismiss window. Used by tests.
func WithBannerWindow(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		t.bannerWindow = d
	}
}

// WithHighlightWindow overrides the highlight auto-clear window. Used by
// tests.
func WithHighlightWindow(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		t.highlightWindow = d
	}
}

// NewTracker creates an idle tracker.
func NewTracker(logger arbor.ILogger, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		logger:          logger,
		bannerWindow:    DefaultBannerWindow,
		highlightWindow: DefaultHighlightWindow,
		recent:          make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Status returns the current search status.
func (t *Tracker) Status() SearchStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// SetSearching marks a search in flight.
func (t *Tracker) SetSearching() {
	t.setStatus(StatusSearching)
}

// SetUpdated marks a live update landing; records the update time.
func (t *Tracker) SetUpdated() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = StatusUpdated
	t.lastUpdated = time.Now()
}

// SetIdle returns the indicator to idle and clears the last-updated stamp.
func (t *Tracker) SetIdle() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = StatusIdle
	t.lastUpdated = time.Time{}
}

// LastUpdated returns when the last live update landed; zero when none has.
func (t *Tracker) LastUpdated() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastUpdated
}

// ShowBanner raises the "N new jobs" banner, restarting the auto-dismiss
// window. Non-positive counts are ignored.
func (t *Tracker) ShowBanner(count int) {
	if count <= 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	t.banner = count
	if t.bannerTimer != nil {
		t.bannerTimer.Stop()
	}
	t.bannerTimer = time.AfterFunc(t.bannerWindow, t.dismissBanner)
	t.logger.Debug().Int("count", count).Msg("New jobs banner raised")
}

// Banner returns the current banner count, zero when dismissed.
func (t *Tracker) Banner() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.banner
}

// ClearBanner dismisses the banner immediately.
func (t *Tracker) ClearBanner() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearBannerLocked()
}

func (t *Tracker) dismissBanner() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearBannerLocked()
}

func (t *Tracker) clearBannerLocked() {
	t.banner = 0
	if t.bannerTimer != nil {
		t.bannerTimer.Stop()
		t.bannerTimer = nil
	}
}

// MarkRecent adds record ids to the recently-added highlight set, restarting
// the auto-clear window. The set only drives visual emphasis; it never
// affects ordering or de-duplication.
func (t *Tracker) MarkRecent(ids []string) {
	if len(ids) == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	for _, id := range ids {
		if id != "" {
			t.recent[id] = struct{}{}
		}
	}

	if t.recentTimer != nil {
		t.recentTimer.Stop()
	}
	t.recentTimer = time.AfterFunc(t.highlightWindow, t.clearRecent)
}

// IsRecent reports whether a record id is currently highlighted.
func (t *Tracker) IsRecent(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.recent[id]
	return ok
}

// RecentCount returns the number of highlighted records.
func (t *Tracker) RecentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.recent)
}

func (t *Tracker) clearRecent() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recent = make(map[string]struct{})
	if t.recentTimer != nil {
		t.recentTimer.Stop()
		t.recentTimer = nil
	}
}

// Reset clears every indicator, as on filter apply or reset.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = StatusIdle
	t.lastUpdated = time.Time{}
	t.clearBannerLocked()
	t.recent = make(map[string]struct{})
	if t.recentTimer != nil {
		t.recentTimer.Stop()
		t.recentTimer = nil
	}
}

// Close stops all timers.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.clearBannerLocked()
	if t.recentTimer != nil {
		t.recentTimer.Stop()
		t.recentTimer = nil
	}
}

func (t *Tracker) setStatus(next SearchStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = next
}
