// Package cycle drives one fetch-merge-persist-notify cycle: paginate
// through the account's statuses until nothing new turns up, merge the new
// posts into the archive, and hand off to the notification dispatcher.
//
// One call to Run is one cycle. There is no internal loop or retry beyond
// it; the external scheduler re-invokes the process on its own cadence and
// must not overlap runs.
package cycle

import (
	"context"
	"log/slog"
	"time"

	"postwatch/normalize"
	"postwatch/pkg/archive"
)

// DefaultMaxPages bounds pagination per cycle.
const DefaultMaxPages = 3

// Fetcher retrieves one page of raw statuses older than maxID.
type Fetcher interface {
	FetchPage(ctx context.Context, maxID string) ([]normalize.RawPost, error)
}

// Store persists the archive and the last-success watermark.
type Store interface {
	LoadArchive(ctx context.Context) []archive.Post
	SaveArchive(ctx context.Context, posts []archive.Post) error
	SetLastSuccess(ctx context.Context, t time.Time) error
}

// Notifier announces newly archived posts.
type Notifier interface {
	Run(ctx context.Context) error
}

// Pagination states. A cycle starts fetching and ends either exhausted
// (no more new posts, or the page budget ran out) or failed (the fetch
// transport errored).
type state int

const (
	stateFetching state = iota
	stateExhausted
	stateFailed
)

// Orchestrator runs fetch cycles.
type Orchestrator struct {
	fetcher  Fetcher
	store    Store
	notifier Notifier
	maxPages int
	logger   *slog.Logger

	now func() time.Time
}

// New creates an orchestrator. A maxPages of zero or less falls back to
// DefaultMaxPages.
func New(fetcher Fetcher, store Store, notifier Notifier, maxPages int, logger *slog.Logger) *Orchestrator {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	return &Orchestrator{
		fetcher:  fetcher,
		store:    store,
		notifier: notifier,
		maxPages: maxPages,
		logger:   logger,
		now:      time.Now,
	}
}

// Run executes one cycle and reports whether it succeeded. A transport
// failure mid-pagination makes the cycle a failure, but posts accumulated
// before the failure are still merged and persisted: partial progress is
// kept, only the outcome flag propagates.
func (o *Orchestrator) Run(ctx context.Context) bool {
	o.logger.Info("Starting fetch cycle", "max_pages", o.maxPages)

	existing := o.store.LoadArchive(ctx)
	index := archive.Index(existing)

	var (
		newPosts []archive.Post
		maxID    string
		st       = stateFetching
	)

	for pages := 0; pages < o.maxPages && st == stateFetching; {
		o.logger.Info("Fetching page", "page", pages+1, "max_pages", o.maxPages, "max_id", maxID)

		raw, err := o.fetcher.FetchPage(ctx, maxID)
		if err != nil {
			o.logger.Error("Error fetching posts", "error", err)
			st = stateFailed
			break
		}

		fresh := extractNew(raw, index)
		if len(fresh) == 0 {
			o.logger.Info("No new posts found, exiting pagination")
			st = stateExhausted
			break
		}

		newPosts = append(newPosts, fresh...)
		maxID = fresh[len(fresh)-1].ID // oldest post on the page
		pages++
	}
	if st == stateFetching {
		// Page budget exhausted; that still counts as a clean stop.
		o.logger.Info("Reached page limit", "pages", o.maxPages)
		st = stateExhausted
	}

	success := st != stateFailed

	if len(newPosts) > 0 {
		o.logger.Info("Found new posts", "count", len(newPosts))

		merged := archive.Merge(index, newPosts)
		if err := o.store.SaveArchive(ctx, merged); err != nil {
			o.logger.Error("Failed to persist archive", "error", err)
			return false
		}

		if err := o.store.SetLastSuccess(ctx, o.now()); err != nil {
			o.logger.Warn("Failed to record last success timestamp", "error", err)
		} else {
			o.logger.Info("Updated last success timestamp")
		}

		o.logger.Info("Sending notifications for new posts")
		if err := o.notifier.Run(ctx); err != nil {
			o.logger.Error("Notification dispatch failed", "error", err)
		}
	} else {
		o.logger.Info("Cycle complete, no new posts found")
	}

	o.logger.Info("Fetch cycle finished", "success", success, "new_posts", len(newPosts))
	return success
}

// extractNew normalizes a raw page and drops anything already archived.
// Raw records without an id are rejected at this boundary.
func extractNew(raw []normalize.RawPost, index map[string]archive.Post) []archive.Post {
	var fresh []archive.Post
	for _, r := range raw {
		if r.ID == "" {
			continue
		}
		if _, ok := index[r.ID]; ok {
			continue
		}
		fresh = append(fresh, normalize.Post(r))
	}
	return fresh
}
