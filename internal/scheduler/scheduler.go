// Package scheduler provides refresh scheduling and request coordination for site analytics.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Priority defines the priority level for refresh requests.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// String returns the string representation of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Refresher recomputes and distributes every view of a site.
type Refresher interface {
	RefreshSite(ctx context.Context, siteID string) error
}

// SiteLister returns the sites covered by periodic refreshes.
type SiteLister func() []string

// RefreshRequest is a pending refresh for one site.
type RefreshRequest struct {
	SiteID      string
	Priority    Priority
	Reason      string
	RequestedAt time.Time
}

// RefreshQueue holds at most one pending request per site. Re-enqueueing a site upgrades
// its priority and keeps the original request time.
type RefreshQueue struct {
	pending map[string]*RefreshRequest
	mutex   sync.RWMutex
	logger  zerolog.Logger
}

// NewRefreshQueue creates a new refresh queue.
func NewRefreshQueue(logger zerolog.Logger) *RefreshQueue {
	return &RefreshQueue{
		pending: make(map[string]*RefreshRequest),
		logger:  logger.With().Str("component", "refresh_queue").Logger(),
	}
}

// Enqueue adds a request. It returns false when the site was already pending.
func (q *RefreshQueue) Enqueue(req *RefreshRequest) bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if existing, ok := q.pending[req.SiteID]; ok {
		if req.Priority > existing.Priority {
			existing.Priority = req.Priority
			existing.Reason = req.Reason
		}
		return false
	}

	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now()
	}
	q.pending[req.SiteID] = req
	q.logger.Debug().
		Str("site_id", req.SiteID).
		Str("priority", req.Priority.String()).
		Str("reason", req.Reason).
		Msg("Refresh enqueued")
	return true
}

// Dequeue removes and returns the highest priority, oldest request whose site is not busy.
func (q *RefreshQueue) Dequeue(busy func(siteID string) bool) *RefreshRequest {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	var best *RefreshRequest
	for _, req := range q.pending {
		if busy != nil && busy(req.SiteID) {
			continue
		}
		if best == nil ||
			req.Priority > best.Priority ||
			(req.Priority == best.Priority && req.RequestedAt.Before(best.RequestedAt)) ||
			(req.Priority == best.Priority && req.RequestedAt.Equal(best.RequestedAt) && req.SiteID < best.SiteID) {
			best = req
		}
	}

	if best != nil {
		delete(q.pending, best.SiteID)
	}
	return best
}

// Remove drops a pending request for the site.
func (q *RefreshQueue) Remove(siteID string) bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if _, ok := q.pending[siteID]; !ok {
		return false
	}
	delete(q.pending, siteID)
	return true
}

// Len returns the number of pending requests.
func (q *RefreshQueue) Len() int {
	q.mutex.RLock()
	defer q.mutex.RUnlock()
	return len(q.pending)
}

// LenByPriority returns the number of pending requests for each priority.
func (q *RefreshQueue) LenByPriority() map[Priority]int {
	q.mutex.RLock()
	defer q.mutex.RUnlock()

	result := make(map[Priority]int)
	for _, req := range q.pending {
		result[req.Priority]++
	}
	return result
}

// Config holds configuration for the refresh scheduler.
type Config struct {
	Interval     time.Duration
	TickInterval time.Duration
	Workers      int
	Timeout      time.Duration
}

// DefaultConfig returns a default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		Interval:     5 * time.Minute,
		TickInterval: 250 * time.Millisecond,
		Workers:      4,
		Timeout:      30 * time.Second,
	}
}

// Scheduler periodically refreshes every registered site and runs on-demand refreshes
// with a bounded number of workers. A site is never refreshed by two workers at once.
type Scheduler struct {
	queue     *RefreshQueue
	refresher Refresher
	sites     SiteLister
	logger    zerolog.Logger
	stopChan  chan struct{}
	wg        sync.WaitGroup
	workerWG  sync.WaitGroup
	isRunning bool
	mutex     sync.RWMutex

	interval     time.Duration
	tickInterval time.Duration
	timeout      time.Duration
	slots        chan struct{}

	running   map[string]struct{}
	runningMu sync.Mutex

	// Metrics
	refreshesCompleted int64
	refreshesFailed    int64
	activeWorkers      int64
}

// New creates a new refresh scheduler.
func New(refresher Refresher, sites SiteLister, config *Config, logger zerolog.Logger) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.TickInterval <= 0 {
		config.TickInterval = defaults.TickInterval
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}

	return &Scheduler{
		queue:        NewRefreshQueue(logger),
		refresher:    refresher,
		sites:        sites,
		logger:       logger.With().Str("component", "refresh_scheduler").Logger(),
		interval:     config.Interval,
		tickInterval: config.TickInterval,
		timeout:      config.Timeout,
		slots:        make(chan struct{}, config.Workers),
		running:      make(map[string]struct{}),
	}
}

// Start begins the scheduler and enqueues an initial refresh of every site.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}

	s.stopChan = make(chan struct{})
	s.isRunning = true

	s.ScheduleAll(PriorityNormal, "startup")

	s.wg.Add(1)
	go s.executionLoop(ctx)
	if s.interval > 0 {
		s.wg.Add(1)
		go s.periodicLoop(ctx)
	}

	s.logger.Info().
		Dur("interval", s.interval).
		Int("workers", cap(s.slots)).
		Msg("Refresh scheduler started")

	return nil
}

// Stop shuts down the scheduler and waits for running refreshes to finish.
func (s *Scheduler) Stop() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isRunning {
		return fmt.Errorf("scheduler is not running")
	}

	close(s.stopChan)
	s.wg.Wait()
	s.workerWG.Wait()
	s.isRunning = false

	s.logger.Info().Msg("Refresh scheduler stopped")
	return nil
}

// IsRunning reports whether the scheduler has been started.
func (s *Scheduler) IsRunning() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.isRunning
}

// Schedule enqueues a refresh for one site.
func (s *Scheduler) Schedule(siteID string, priority Priority, reason string) bool {
	return s.queue.Enqueue(&RefreshRequest{
		SiteID:   siteID,
		Priority: priority,
		Reason:   reason,
	})
}

// Trigger enqueues a high priority refresh for one site.
func (s *Scheduler) Trigger(siteID string) bool {
	return s.Schedule(siteID, PriorityHigh, "trigger")
}

// ScheduleAll enqueues a refresh for every listed site.
func (s *Scheduler) ScheduleAll(priority Priority, reason string) int {
	if s.sites == nil {
		return 0
	}

	queued := 0
	for _, siteID := range s.sites() {
		if s.Schedule(siteID, priority, reason) {
			queued++
		}
	}
	return queued
}

// Forget drops a pending refresh for a removed site.
func (s *Scheduler) Forget(siteID string) {
	s.queue.Remove(siteID)
}

// GetMetrics returns current scheduler metrics.
func (s *Scheduler) GetMetrics() map[string]interface{} {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return map[string]interface{}{
		"is_running":          s.isRunning,
		"queue_length":        s.queue.Len(),
		"queue_by_priority":   s.queue.LenByPriority(),
		"refreshes_completed": atomic.LoadInt64(&s.refreshesCompleted),
		"refreshes_failed":    atomic.LoadInt64(&s.refreshesFailed),
		"active_workers":      atomic.LoadInt64(&s.activeWorkers),
	}
}

// executionLoop dispatches queued refreshes to free workers.
func (s *Scheduler) executionLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.processRequests(ctx)
		}
	}
}

// periodicLoop enqueues a refresh of every site each interval.
func (s *Scheduler) periodicLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			if n := s.ScheduleAll(PriorityNormal, "periodic"); n > 0 {
				s.logger.Debug().Int("sites", n).Msg("Periodic refresh scheduled")
			}
		}
	}
}

// processRequests starts as many refreshes as there are free workers.
func (s *Scheduler) processRequests(ctx context.Context) {
	for {
		select {
		case s.slots <- struct{}{}:
		default:
			return
		}

		req := s.queue.Dequeue(s.isBusy)
		if req == nil {
			<-s.slots
			return
		}

		s.markRunning(req.SiteID, true)
		s.workerWG.Add(1)
		go s.executeRefresh(ctx, req)
	}
}

// executeRefresh runs a single refresh.
func (s *Scheduler) executeRefresh(ctx context.Context, req *RefreshRequest) {
	atomic.AddInt64(&s.activeWorkers, 1)
	defer func() {
		atomic.AddInt64(&s.activeWorkers, -1)
		s.markRunning(req.SiteID, false)
		<-s.slots
		s.workerWG.Done()
	}()

	refreshCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := time.Now()
	if err := s.refresher.RefreshSite(refreshCtx, req.SiteID); err != nil {
		atomic.AddInt64(&s.refreshesFailed, 1)
		s.logger.Error().
			Err(err).
			Str("site_id", req.SiteID).
			Str("reason", req.Reason).
			Msg("Site refresh failed")
		return
	}

	atomic.AddInt64(&s.refreshesCompleted, 1)
	s.logger.Debug().
		Str("site_id", req.SiteID).
		Str("reason", req.Reason).
		Dur("duration", time.Since(started)).
		Msg("Site refreshed")
}

func (s *Scheduler) isBusy(siteID string) bool {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	_, ok := s.running[siteID]
	return ok
}

func (s *Scheduler) markRunning(siteID string, running bool) {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	if running {
		s.running[siteID] = struct{}{}
	} else {
		delete(s.running, siteID)
	}
}
