// Package health tracks consecutive cycle failures and raises operator
// alerts, rate-limited to one per calendar day.
package health

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// DefaultThreshold is how many consecutive failed cycles trigger an alert.
const DefaultThreshold = 5

// DefaultMaxAge is how long the scraper may go without a successful cycle
// before the staleness check raises an alert.
const DefaultMaxAge = 2 * time.Hour

// CounterStore persists the consecutive-failure counter.
type CounterStore interface {
	ErrorCount(ctx context.Context) int
	SetErrorCount(ctx context.Context, n int) error
}

// AlertStore persists the last-alert watermark used for daily suppression.
type AlertStore interface {
	LastAlert(ctx context.Context) time.Time
	SetLastAlert(ctx context.Context, t time.Time) error
}

// SuccessStore reads the last successful cycle timestamp.
type SuccessStore interface {
	LastSuccess(ctx context.Context) time.Time
}

// Dispatcher delivers an operator alert. Implementations report delivery
// with a boolean rather than an error: alert failure is never fatal.
type Dispatcher interface {
	Dispatch(ctx context.Context, status, message string) bool
}

// Alerter posts status alerts to the operator endpoint, suppressing
// everything after the first successful alert of a calendar day.
type Alerter struct {
	healthURL string
	service   string
	client    *http.Client
	store     AlertStore
	logger    *slog.Logger

	now func() time.Time
}

// NewAlerter creates an alerter. service names this scraper in the alert
// payload.
func NewAlerter(healthURL, service string, store AlertStore, logger *slog.Logger) *Alerter {
	return &Alerter{
		healthURL: healthURL,
		service:   service,
		client:    &http.Client{Timeout: 10 * time.Second},
		store:     store,
		logger:    logger,
		now:       time.Now,
	}
}

type alertPayload struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Service   string `json:"service"`
}

// Dispatch sends one alert and reports whether it was delivered. At most
// one alert goes out per calendar day: if one was already delivered today,
// the call is a no-op. A failed delivery does not advance the suppression
// watermark, so the next threshold check will try again.
//
// Delivery is deliberately not retried here; the external schedule is the
// retry loop.
func (a *Alerter) Dispatch(ctx context.Context, status, message string) bool {
	if a.healthURL == "" {
		a.logger.Warn("Missing health alert URL, cannot send alert")
		return false
	}

	now := a.now()
	if last := a.store.LastAlert(ctx); !last.IsZero() && sameDay(last, now) {
		a.logger.Info("Alert already sent today, skipping",
			"last_alert", last.Format(time.RFC3339),
			"status", status)
		return false
	}

	payload, err := json.Marshal(alertPayload{
		Status:    status,
		Message:   message,
		Timestamp: now.Format(time.RFC3339),
		Service:   a.service,
	})
	if err != nil {
		a.logger.Error("Failed to marshal alert payload", "error", err)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.healthURL, bytes.NewReader(payload))
	if err != nil {
		a.logger.Error("Failed to create alert request", "error", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		a.logger.Error("Failed to send health alert", "error", err)
		return false
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			a.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		a.logger.Error("Failed to send health alert", "status_code", resp.StatusCode)
		return false
	}

	a.logger.Info("Health alert sent", "status", status, "message", message)

	if err := a.store.SetLastAlert(ctx, now); err != nil {
		a.logger.Warn("Failed to record alert watermark", "error", err)
	}
	return true
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Tracker maintains the consecutive-failure counter across cycles.
type Tracker struct {
	store     CounterStore
	alerts    Dispatcher
	threshold int
	logger    *slog.Logger
}

// NewTracker creates a tracker. A threshold of zero or less falls back to
// DefaultThreshold.
func NewTracker(store CounterStore, alerts Dispatcher, threshold int, logger *slog.Logger) *Tracker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Tracker{
		store:     store,
		alerts:    alerts,
		threshold: threshold,
		logger:    logger,
	}
}

// RecordOutcome updates the counter for one finished cycle: success resets
// it, failure increments it. Once the counter reaches the threshold an
// operator alert is dispatched. Returns the new counter value.
func (t *Tracker) RecordOutcome(ctx context.Context, success bool) int {
	count := 0
	if !success {
		count = t.store.ErrorCount(ctx) + 1
	}

	if err := t.store.SetErrorCount(ctx, count); err != nil {
		t.logger.Warn("Failed to persist error count", "count", count, "error", err)
	}

	if count >= t.threshold {
		t.logger.Warn("Error threshold reached", "count", count, "threshold", t.threshold)
		t.alerts.Dispatch(ctx, "error", fmt.Sprintf(
			"Scraper failed %d consecutive times. The target site may be blocking requests or have changed its structure.", count))
	}

	return count
}
