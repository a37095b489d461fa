package health

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Prober tests target-site reachability without paginating.
type Prober interface {
	Probe(ctx context.Context) bool
}

// Staleness checks how long ago the last successful cycle ran and alerts
// the operator when the scraper has gone quiet. It runs on its own
// schedule, independent of fetch cycles.
type Staleness struct {
	store  SuccessStore
	prober Prober
	alerts Dispatcher
	maxAge time.Duration
	logger *slog.Logger

	now func() time.Time
}

// NewStaleness creates a staleness checker. A maxAge of zero or less falls
// back to DefaultMaxAge.
func NewStaleness(store SuccessStore, prober Prober, alerts Dispatcher, maxAge time.Duration, logger *slog.Logger) *Staleness {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Staleness{
		store:  store,
		prober: prober,
		alerts: alerts,
		maxAge: maxAge,
		logger: logger,
		now:    time.Now,
	}
}

// Check compares the current time against the last successful cycle. When
// the gap exceeds the maximum, a reachability probe decides who to blame:
// a reachable site means a scraper-side problem (warning), an unreachable
// one a site-side problem (error). No success record at all is a warning.
func (s *Staleness) Check(ctx context.Context) {
	last := s.store.LastSuccess(ctx)
	if last.IsZero() {
		s.logger.Warn("No last success record found")
		s.alerts.Dispatch(ctx, "warning",
			"No scraping success record found. Scraper may not have run successfully yet.")
		return
	}

	elapsed := s.now().Sub(last)
	s.logger.Info("Last successful scrape",
		"at", last.Format(time.RFC3339),
		"elapsed", elapsed.String())

	if elapsed <= s.maxAge {
		s.logger.Info("Scraper health check passed")
		return
	}

	if s.prober.Probe(ctx) {
		s.alerts.Dispatch(ctx, "warning", fmt.Sprintf(
			"Scraper has not succeeded in %s. Target site is accessible, but scraper may be experiencing issues.",
			elapsed.Round(time.Minute)))
		return
	}
	s.alerts.Dispatch(ctx, "error", fmt.Sprintf(
		"Scraper has not succeeded in %s. Target site is NOT accessible. Possible site changes or blocking.",
		elapsed.Round(time.Minute)))
}
