// Package livefeed translates a free-text search keyword into a bounded live
// job update feed on top of the shared connection manager.
package livefeed

import (
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ternarybob/arbor"

	"github.com/skillforge/joblens/internal/models"
	"github.com/skillforge/joblens/internal/wsclient"
)

const (
	// MinKeywordLen is the activation threshold: keywords shorter than this
	// (after trimming) never create a subscription.
	MinKeywordLen = 2

	// DefaultRefreshWindow is how long the refreshing flag stays up after an
	// event lands. Purely a debounce signal, not authoritative.
	DefaultRefreshWindow = 800 * time.Millisecond
)

// Snapshot is the externally visible state of one keyword feed.
type Snapshot struct {
	Status       wsclient.State
	IsRefreshing bool
	HasError     bool
	LastEvent    *models.JobsUpdatedEvent
}

// Feed subscribes to the jobs:updated channel derived from a search keyword
// and emits normalized events. One feed serves one consumer; the underlying
// connection is shared through the manager.
type Feed struct {
	manager       *wsclient.Manager
	logger        arbor.ILogger
	refreshWindow time.Duration

	mu           sync.Mutex
	keyword      string
	connectKey   int
	active       bool
	started      bool
	sub          wsclient.Subscription
	hasError     bool
	lastEvent    *models.JobsUpdatedEvent
	refreshUntil time.Time
	closed       bool

	events chan models.JobsUpdatedEvent
}

// Option configures a Feed.
type Option func(*Feed)

// WithRefreshWindow overrides the refreshing-flag window. Used by tests.
func WithRefreshWindow(d time.Duration) Option {
	return func(f *Feed) {
		f.refreshWindow = d
	}
}

// NewFeed creates an inactive feed. Call Set to activate it for a keyword.
func NewFeed(manager *wsclient.Manager, logger arbor.ILogger, opts ...Option) *Feed {
	f := &Feed{
		manager:       manager,
		logger:        logger,
		refreshWindow: DefaultRefreshWindow,
		events:        make(chan models.JobsUpdatedEvent, 16),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Events returns the stream of normalized jobs_updated events. The channel is
// never closed; consumers should select against their own done signal.
func (f *Feed) Events() <-chan models.JobsUpdatedEvent {
	return f.events
}

// Set retargets the feed to a keyword. The connectKey nonce forces
// resubscription even when the keyword is unchanged (an explicit re-apply of
// the same search). Keywords shorter than MinKeywordLen tear the subscription
// down; an unconfigured push endpoint leaves the feed silently disconnected.
func (f *Feed) Set(keyword string, connectKey int) {
	normalized := strings.TrimSpace(keyword)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	if f.started && normalized == f.keyword && connectKey == f.connectKey {
		return
	}

	f.teardownLocked()
	f.started = true
	f.keyword = normalized
	f.connectKey = connectKey
	f.hasError = false

	if utf8.RuneCountInString(normalized) < MinKeywordLen {
		return
	}

	if !f.manager.Enabled() {
		// Feature disabled, not broken.
		return
	}

	endpoint, err := url.Parse(f.manager.BaseURL())
	if err != nil {
		f.logger.Warn().Err(err).Msg("Invalid push endpoint URL")
		f.hasError = true
		return
	}
	query := endpoint.Query()
	query.Set("keyword", normalized)
	endpoint.RawQuery = query.Encode()

	channel := models.JobsUpdatedChannel(normalized)

	f.manager.ConnectTo(endpoint.String())
	f.sub = f.manager.Subscribe(channel, f.handleMessage)
	f.active = f.sub.Active()
}

// Keyword returns the currently active normalized keyword, empty when the
// feed is below the activation threshold.
func (f *Feed) Keyword() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active {
		return ""
	}
	return f.keyword
}

// Snapshot reports the feed status, gated by whether this keyword is active
// and error-free.
func (f *Feed) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	snap := Snapshot{
		HasError:     f.hasError,
		IsRefreshing: time.Now().Before(f.refreshUntil),
		LastEvent:    f.lastEvent,
	}

	if !f.active || f.hasError {
		snap.Status = wsclient.StateDisconnected
		return snap
	}

	snap.Status, _ = f.manager.ConnState()
	return snap
}

// Close tears down the subscription. Safe to call more than once.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.teardownLocked()
}

func (f *Feed) teardownLocked() {
	if f.sub.Active() {
		f.manager.Unsubscribe(f.sub)
		f.sub = wsclient.Subscription{}
	}
	f.active = false
}

func (f *Feed) handleMessage(payload map[string]interface{}) {
	evt, ok := models.ParseJobsUpdatedEvent(payload)
	if !ok {
		return
	}

	f.mu.Lock()
	if f.closed || !f.active {
		f.mu.Unlock()
		return
	}
	f.lastEvent = &evt
	f.refreshUntil = time.Now().Add(f.refreshWindow)
	f.mu.Unlock()

	select {
	case f.events <- evt:
	default:
		// A slow consumer misses this event; the next one recovers.
		f.logger.Debug().Str("keyword", evt.Keyword).Msg("Dropped live update event")
	}
}
