package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

type countingRefresher struct {
	calls int32
}

func (r *countingRefresher) Refresh(context.Context) error {
	atomic.AddInt32(&r.calls, 1)
	return nil
}

func (r *countingRefresher) Calls() int {
	return int(atomic.LoadInt32(&r.calls))
}

func TestSchedulerRunsPeriodicRefresh(t *testing.T) {
	refresher := &countingRefresher{}
	svc := NewService(refresher, arbor.NewLogger())

	require.NoError(t, svc.Start("@every 100ms"))
	defer svc.Stop()

	require.Eventually(t, func() bool {
		return refresher.Calls() >= 2
	}, 3*time.Second, 20*time.Millisecond)
}

func TestSchedulerRejectsDoubleStart(t *testing.T) {
	svc := NewService(&countingRefresher{}, arbor.NewLogger())

	require.NoError(t, svc.Start("@every 1h"))
	defer svc.Stop()

	assert.Error(t, svc.Start("@every 1h"))
}

func TestSchedulerRejectsBadExpression(t *testing.T) {
	svc := NewService(&countingRefresher{}, arbor.NewLogger())
	assert.Error(t, svc.Start("not a schedule"))
}

func TestSchedulerStopIsIdempotent(t *testing.T) {
	refresher := &countingRefresher{}
	svc := NewService(refresher, arbor.NewLogger())

	require.NoError(t, svc.Start("@every 1h"))
	svc.Stop()
	svc.Stop()
}
