// Package notify forwards issues that need immediate dispatch to an operator webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/resident-x/go-solarsight/internal/config"
	"github.com/resident-x/go-solarsight/internal/domain"
)

// Notification outcomes reported to the result hook.
const (
	ResultSent      = "sent"
	ResultFailed    = "failed"
	ResultThrottled = "throttled"
)

// NoopNotifier is a no-operation implementation of the Notifier interface.
type NoopNotifier struct{}

// NewNoopNotifier creates a new no-operation notifier.
func NewNoopNotifier() *NoopNotifier {
	return &NoopNotifier{}
}

// Notify is a no-op for the NoopNotifier.
func (n *NoopNotifier) Notify(_ context.Context, _ string, _ domain.SolarIssue) error {
	return nil
}

// Close is a no-op for the NoopNotifier.
func (n *NoopNotifier) Close() error {
	return nil
}

// Payload is the JSON body posted to the webhook.
type Payload struct {
	SiteID string            `json:"site_id"`
	Issue  domain.SolarIssue `json:"issue"`
	SentAt time.Time         `json:"sent_at"`
}

// WebhookNotifier posts immediate-dispatch issues to a webhook. Each site is notified at most
// once per minimum interval, all sites share a rate limit, and repeated failures open a circuit breaker.
type WebhookNotifier struct {
	config     *config.Config
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	logger     zerolog.Logger
	now        func() time.Time
	onResult   func(result string)

	lastSentMap map[string]time.Time
	mutex       sync.Mutex
}

// NewWebhookNotifier creates a new webhook notifier.
func NewWebhookNotifier(cfg *config.Config) *WebhookNotifier {
	n := &WebhookNotifier{
		config:      cfg,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		limiter:     newLimiter(cfg.Notify.RatePerMinute),
		logger:      log.With().Str("component", "notify").Logger(),
		now:         time.Now,
		lastSentMap: make(map[string]time.Time),
	}

	n.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "webhook",
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			n.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Webhook circuit breaker state changed")
		},
	})

	return n
}

func newLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
}

// SetResultHook registers a callback receiving every notification outcome.
func (n *WebhookNotifier) SetResultHook(hook func(result string)) {
	n.onResult = hook
}

// Notify posts the issue when it requires immediate dispatch. Throttled notifications are dropped
// without error.
func (n *WebhookNotifier) Notify(ctx context.Context, siteID string, issue domain.SolarIssue) error {
	if !n.config.Notify.Enabled {
		return nil
	}

	if n.config.Notify.WebhookURL == "" {
		return fmt.Errorf("notify webhook_url not configured")
	}

	if issue.DispatchPriority != domain.DispatchImmediate {
		return nil
	}

	if !n.canNotify(siteID) || !n.limiter.Allow() {
		n.report(ResultThrottled)
		n.logger.Debug().
			Str("site_id", siteID).
			Str("issue_id", issue.ID).
			Msg("Notification throttled")
		return nil
	}

	body, err := json.Marshal(Payload{SiteID: siteID, Issue: issue, SentAt: n.now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	if _, err := n.breaker.Execute(func() (interface{}, error) {
		return nil, n.makeRequest(ctx, body)
	}); err != nil {
		n.report(ResultFailed)
		return fmt.Errorf("webhook notification failed: %w", err)
	}

	n.updateTimestamp(siteID)
	n.report(ResultSent)
	n.logger.Info().
		Str("site_id", siteID).
		Str("issue_id", issue.ID).
		Str("type", string(issue.Type)).
		Msg("Issue notification sent")
	return nil
}

// makeRequest posts the JSON body to the webhook.
func (n *WebhookNotifier) makeRequest(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.config.Notify.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close() //nolint:errcheck // Closing response body in defer, error not critical
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status code %d", resp.StatusCode)
	}
	return nil
}

// canNotify checks the per-site minimum interval.
func (n *WebhookNotifier) canNotify(siteID string) bool {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	lastSent, exists := n.lastSentMap[siteID]
	if !exists {
		return true
	}

	interval := time.Duration(n.config.Notify.MinIntervalMinutes) * time.Minute
	return n.now().Sub(lastSent) >= interval
}

func (n *WebhookNotifier) updateTimestamp(siteID string) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.lastSentMap[siteID] = n.now()
}

func (n *WebhookNotifier) report(result string) {
	if n.onResult != nil {
		n.onResult(result)
	}
}

// BreakerState returns the circuit breaker state name.
func (n *WebhookNotifier) BreakerState() string {
	return n.breaker.State().String()
}

// Close releases idle connections.
func (n *WebhookNotifier) Close() error {
	n.httpClient.CloseIdleConnections()
	return nil
}
