package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRefresher records refreshes and tracks per-site concurrency.
type fakeRefresher struct {
	mu        sync.Mutex
	calls     map[string]int
	active    map[string]int
	overlap   bool
	delay     time.Duration
	failSites map[string]bool
	total     atomic.Int64
}

func newFakeRefresher() *fakeRefresher {
	return &fakeRefresher{
		calls:     make(map[string]int),
		active:    make(map[string]int),
		failSites: make(map[string]bool),
	}
}

func (f *fakeRefresher) RefreshSite(ctx context.Context, siteID string) error {
	f.mu.Lock()
	f.calls[siteID]++
	f.active[siteID]++
	if f.active[siteID] > 1 {
		f.overlap = true
	}
	fail := f.failSites[siteID]
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
		}
	}

	f.mu.Lock()
	f.active[siteID]--
	f.mu.Unlock()
	f.total.Add(1)

	if fail {
		return errors.New("refresh failed")
	}
	return nil
}

func (f *fakeRefresher) count(siteID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[siteID]
}

func staticSites(ids ...string) SiteLister {
	return func() []string { return ids }
}

func fastConfig() *Config {
	return &Config{
		Interval:     0,
		TickInterval: 5 * time.Millisecond,
		Workers:      2,
		Timeout:      time.Second,
	}
}

func TestPriorityString(t *testing.T) {
	tests := []struct {
		priority Priority
		expected string
	}{
		{PriorityLow, "low"},
		{PriorityNormal, "normal"},
		{PriorityHigh, "high"},
		{Priority(9), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.priority.String())
		})
	}
}

func TestRefreshQueuePriorityOrder(t *testing.T) {
	queue := NewRefreshQueue(zerolog.New(zerolog.NewTestWriter(t)))
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, queue.Enqueue(&RefreshRequest{SiteID: "low", Priority: PriorityLow, RequestedAt: base}))
	assert.True(t, queue.Enqueue(&RefreshRequest{SiteID: "normal-late", Priority: PriorityNormal, RequestedAt: base.Add(time.Second)}))
	assert.True(t, queue.Enqueue(&RefreshRequest{SiteID: "normal-early", Priority: PriorityNormal, RequestedAt: base}))
	assert.True(t, queue.Enqueue(&RefreshRequest{SiteID: "high", Priority: PriorityHigh, RequestedAt: base.Add(time.Minute)}))

	assert.Equal(t, 4, queue.Len())
	assert.Equal(t, map[Priority]int{PriorityLow: 1, PriorityNormal: 2, PriorityHigh: 1}, queue.LenByPriority())

	var order []string
	for req := queue.Dequeue(nil); req != nil; req = queue.Dequeue(nil) {
		order = append(order, req.SiteID)
	}
	assert.Equal(t, []string{"high", "normal-early", "normal-late", "low"}, order)
	assert.Equal(t, 0, queue.Len())
}

func TestRefreshQueueDeduplicates(t *testing.T) {
	queue := NewRefreshQueue(zerolog.Nop())

	assert.True(t, queue.Enqueue(&RefreshRequest{SiteID: "a", Priority: PriorityLow, Reason: "periodic"}))
	assert.False(t, queue.Enqueue(&RefreshRequest{SiteID: "a", Priority: PriorityHigh, Reason: "trigger"}))
	assert.False(t, queue.Enqueue(&RefreshRequest{SiteID: "a", Priority: PriorityNormal, Reason: "periodic"}))
	assert.Equal(t, 1, queue.Len())

	req := queue.Dequeue(nil)
	require.NotNil(t, req)
	assert.Equal(t, PriorityHigh, req.Priority)
	assert.Equal(t, "trigger", req.Reason)
	assert.False(t, req.RequestedAt.IsZero())
}

func TestRefreshQueueSkipsBusySites(t *testing.T) {
	queue := NewRefreshQueue(zerolog.Nop())
	queue.Enqueue(&RefreshRequest{SiteID: "a", Priority: PriorityHigh})
	queue.Enqueue(&RefreshRequest{SiteID: "b", Priority: PriorityLow})

	busy := func(siteID string) bool { return siteID == "a" }

	req := queue.Dequeue(busy)
	require.NotNil(t, req)
	assert.Equal(t, "b", req.SiteID)
	assert.Nil(t, queue.Dequeue(busy))
	assert.Equal(t, 1, queue.Len())

	assert.True(t, queue.Remove("a"))
	assert.False(t, queue.Remove("a"))
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, 5*time.Minute, config.Interval)
	assert.Equal(t, 250*time.Millisecond, config.TickInterval)
	assert.Equal(t, 4, config.Workers)
	assert.Equal(t, 30*time.Second, config.Timeout)
}

func TestSchedulerStartStop(t *testing.T) {
	refresher := newFakeRefresher()
	s := New(refresher, staticSites("a", "b", "c"), fastConfig(), zerolog.New(zerolog.NewTestWriter(t)))

	metrics := s.GetMetrics()
	assert.False(t, metrics["is_running"].(bool))
	assert.Equal(t, int64(0), metrics["refreshes_completed"].(int64))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Start(ctx))
	assert.True(t, s.IsRunning())
	assert.Error(t, s.Start(ctx))

	require.Eventually(t, func() bool {
		return refresher.total.Load() == 3
	}, 2*time.Second, 5*time.Millisecond)

	for _, id := range []string{"a", "b", "c"} {
		assert.Equal(t, 1, refresher.count(id))
	}

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.Error(t, s.Stop())

	metrics = s.GetMetrics()
	assert.Equal(t, int64(3), metrics["refreshes_completed"].(int64))
	assert.Equal(t, int64(0), metrics["active_workers"].(int64))
}

func TestSchedulerTriggerAndFailures(t *testing.T) {
	refresher := newFakeRefresher()
	refresher.failSites["broken"] = true
	s := New(refresher, staticSites(), fastConfig(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	defer func() { _ = s.Stop() }()

	assert.True(t, s.Trigger("ok"))
	assert.True(t, s.Trigger("broken"))

	require.Eventually(t, func() bool {
		return refresher.total.Load() == 2
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		m := s.GetMetrics()
		return m["refreshes_completed"].(int64) == 1 && m["refreshes_failed"].(int64) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSchedulerNeverOverlapsSameSite(t *testing.T) {
	refresher := newFakeRefresher()
	refresher.delay = 30 * time.Millisecond
	config := fastConfig()
	config.Workers = 4
	s := New(refresher, staticSites(), config, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))

	s.Trigger("a")
	require.Eventually(t, func() bool {
		return s.GetMetrics()["active_workers"].(int64) == 1
	}, time.Second, time.Millisecond)

	// Queued while the first refresh is still running.
	s.Trigger("a")

	require.Eventually(t, func() bool {
		return refresher.total.Load() == 2
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())

	assert.False(t, refresher.overlap)
	assert.Equal(t, 2, refresher.count("a"))
}

func TestSchedulerPeriodicRefresh(t *testing.T) {
	refresher := newFakeRefresher()
	config := fastConfig()
	config.Interval = 20 * time.Millisecond
	s := New(refresher, staticSites("a"), config, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))

	require.Eventually(t, func() bool {
		return refresher.count("a") >= 3
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
}

func TestSchedulerForget(t *testing.T) {
	s := New(newFakeRefresher(), staticSites("a", "b"), fastConfig(), zerolog.Nop())

	assert.Equal(t, 2, s.ScheduleAll(PriorityNormal, "test"))
	assert.Equal(t, 0, s.ScheduleAll(PriorityNormal, "test"))

	s.Forget("a")
	assert.Equal(t, 1, s.GetMetrics()["queue_length"].(int))
}
