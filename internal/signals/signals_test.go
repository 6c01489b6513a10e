package signals

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func TestStatusTransitions(t *testing.T) {
	tracker := NewTracker(arbor.NewLogger())
	defer tracker.Close()

	assert.Equal(t, StatusIdle, tracker.Status())

	tracker.SetSearching()
	assert.Equal(t, StatusSearching, tracker.Status())
	assert.True(t, tracker.LastUpdated().IsZero())

	tracker.SetUpdated()
	assert.Equal(t, StatusUpdated, tracker.Status())
	assert.False(t, tracker.LastUpdated().IsZero())

	tracker.SetIdle()
	assert.Equal(t, StatusIdle, tracker.Status())
	assert.True(t, tracker.LastUpdated().IsZero())
}

func TestBannerAutoDismisses(t *testing.T) {
	tracker := NewTracker(arbor.NewLogger(), WithBannerWindow(50*time.Millisecond))
	defer tracker.Close()

	tracker.ShowBanner(3)
	assert.Equal(t, 3, tracker.Banner())

	require.Eventually(t, func() bool {
		return tracker.Banner() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBannerRestartRestartsWindow(t *testing.T) {
	tracker := NewTracker(arbor.NewLogger(), WithBannerWindow(120*time.Millisecond))
	defer tracker.Close()

	tracker.ShowBanner(2)
	time.Sleep(70 * time.Millisecond)
	tracker.ShowBanner(5)
	time.Sleep(70 * time.Millisecond)

	// The first window has elapsed, but the second raise restarted it
	assert.Equal(t, 5, tracker.Banner())
}

func TestBannerIgnoresNonPositiveCounts(t *testing.T) {
	tracker := NewTracker(arbor.NewLogger())
	defer tracker.Close()

	tracker.ShowBanner(0)
	tracker.ShowBanner(-2)
	assert.Equal(t, 0, tracker.Banner())
}

func TestClearBanner(t *testing.T) {
	tracker := NewTracker(arbor.NewLogger())
	defer tracker.Close()

	tracker.ShowBanner(4)
	tracker.ClearBanner()
	assert.Equal(t, 0, tracker.Banner())
}

func TestRecentHighlightsAutoClear(t *testing.T) {
	tracker := NewTracker(arbor.NewLogger(), WithHighlightWindow(50*time.Millisecond))
	defer tracker.Close()

	tracker.MarkRecent([]string{"a", "b", ""})
	assert.True(t, tracker.IsRecent("a"))
	assert.True(t, tracker.IsRecent("b"))
	assert.False(t, tracker.IsRecent(""))
	assert.Equal(t, 2, tracker.RecentCount())

	require.Eventually(t, func() bool {
		return tracker.RecentCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, tracker.IsRecent("a"))
}

func TestResetClearsEverything(t *testing.T) {
	tracker := NewTracker(arbor.NewLogger())
	defer tracker.Close()

	tracker.SetUpdated()
	tracker.ShowBanner(7)
	tracker.MarkRecent([]string{"a"})

	tracker.Reset()

	assert.Equal(t, StatusIdle, tracker.Status())
	assert.Equal(t, 0, tracker.Banner())
	assert.Equal(t, 0, tracker.RecentCount())
	assert.True(t, tracker.LastUpdated().IsZero())
}

func TestClosedTrackerIgnoresSignals(t *testing.T) {
	tracker := NewTracker(arbor.NewLogger())
	tracker.Close()

	tracker.ShowBanner(3)
	tracker.MarkRecent([]string{"a"})

	assert.Equal(t, 0, tracker.Banner())
	assert.Equal(t, 0, tracker.RecentCount())
}

func TestSearchStatusStringer(t *testing.T) {
	assert.Equal(t, "idle", StatusIdle.String())
	assert.Equal(t, "searching", StatusSearching.String())
	assert.Equal(t, "updated", StatusUpdated.String())
}
