// Package notify announces newly archived posts to a chat channel.
//
// The dispatcher decides which posts are new relative to the persisted
// watermark and in what order to announce them; actual delivery goes
// through a pluggable Provider.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"postwatch/pkg/archive"
)

// maxPerRun caps how many posts are announced in a single invocation.
// Without it, a first run against a populated archive (or a run after a
// long outage) would flood the channel.
const maxPerRun = 5

// dispatchDelay spaces out consecutive webhook calls to respect the chat
// endpoint's rate limits.
const dispatchDelay = time.Second

// Provider delivers one formatted post announcement.
type Provider interface {
	Send(ctx context.Context, post archive.Post) error
}

// Store persists the notification watermark.
type Store interface {
	LoadArchive(ctx context.Context) []archive.Post
	LastNotifiedID(ctx context.Context) string
	SetLastNotifiedID(ctx context.Context, id string) error
}

// Dispatcher selects and announces posts that were archived after the
// last notified one.
type Dispatcher struct {
	provider Provider
	store    Store
	logger   *slog.Logger

	sleep func(time.Duration) // swapped out in tests
}

// New creates a dispatcher.
func New(provider Provider, store Store, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		provider: provider,
		store:    store,
		logger:   logger,
		sleep:    time.Sleep,
	}
}

// Run loads the archive and the watermark, announces up to maxPerRun new
// posts newest-first, and advances the watermark.
//
// The watermark moves immediately after the first (newest) announcement
// succeeds, not after the whole batch: a failure on an older post must not
// cause already-announced posts to be re-sent next run. If the newest
// announcement fails the watermark stays put, so the same batch head is
// retried on the next invocation. Failures on later posts are logged and
// otherwise ignored.
func (d *Dispatcher) Run(ctx context.Context) error {
	posts := d.store.LoadArchive(ctx)
	if len(posts) == 0 {
		d.logger.Warn("Empty archive, no posts to notify about")
		return nil
	}

	watermark := d.store.LastNotifiedID(ctx)
	if watermark == "" {
		d.logger.Info("No previous notification record found")
	} else {
		d.logger.Info("Loaded notification watermark", "last_notified_id", watermark)
	}

	candidates := selectCandidates(posts, watermark)
	if len(candidates) == 0 {
		d.logger.Info("No new posts to notify about")
		return nil
	}

	d.logger.Info("Found new posts to notify about", "count", len(candidates))
	if len(candidates) > maxPerRun {
		d.logger.Warn("Too many new posts, limiting batch",
			"total_new", len(candidates),
			"sending", maxPerRun)
		candidates = candidates[:maxPerRun]
	}

	for i, post := range candidates {
		err := d.provider.Send(ctx, post)
		if err != nil {
			d.logger.Error("Failed to send notification", "post_id", post.ID, "error", err)
		} else {
			d.logger.Info("Notification sent", "post_id", post.ID)
		}

		// Only the newest post's outcome moves the watermark.
		if i == 0 && err == nil {
			if saveErr := d.store.SetLastNotifiedID(ctx, post.ID); saveErr != nil {
				return fmt.Errorf("save notification watermark: %w", saveErr)
			}
			d.logger.Info("Updated notification watermark", "last_notified_id", post.ID)
		}

		if i < len(candidates)-1 {
			d.sleep(dispatchDelay)
		}
	}

	return nil
}

// selectCandidates returns the posts whose id is strictly greater than the
// watermark (all posts when there is no watermark), ordered by created_at
// descending. Posts sharing a timestamp keep their archive order.
func selectCandidates(posts []archive.Post, watermark string) []archive.Post {
	var candidates []archive.Post
	for _, p := range posts {
		if watermark == "" || p.ID > watermark {
			candidates = append(candidates, p)
		}
	}
	archive.SortKeepingOrder(candidates)
	return candidates
}
