package cycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"postwatch/normalize"
	"postwatch/pkg/archive"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeFetcher serves scripted pages in order; a nil page yields an error.
type fakeFetcher struct {
	pages   [][]normalize.RawPost
	errAt   int // 1-based page index that fails, 0 for never
	calls   int
	maxIDs  []string
	pageErr error
}

func (f *fakeFetcher) FetchPage(_ context.Context, maxID string) ([]normalize.RawPost, error) {
	f.calls++
	f.maxIDs = append(f.maxIDs, maxID)
	if f.errAt != 0 && f.calls == f.errAt {
		if f.pageErr == nil {
			f.pageErr = errors.New("proxy unreachable")
		}
		return nil, f.pageErr
	}
	if f.calls > len(f.pages) {
		return nil, nil
	}
	return f.pages[f.calls-1], nil
}

type fakeStore struct {
	archive     []archive.Post
	saved       []archive.Post
	saveErr     error
	saveCalls   int
	lastSuccess time.Time
}

func (s *fakeStore) LoadArchive(context.Context) []archive.Post { return s.archive }

func (s *fakeStore) SaveArchive(_ context.Context, posts []archive.Post) error {
	s.saveCalls++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = posts
	return nil
}

func (s *fakeStore) SetLastSuccess(_ context.Context, t time.Time) error {
	s.lastSuccess = t
	return nil
}

type fakeNotifier struct {
	runs int
}

func (n *fakeNotifier) Run(context.Context) error {
	n.runs++
	return nil
}

func raw(id, createdAt string) normalize.RawPost {
	return normalize.RawPost{ID: id, CreatedAt: createdAt}
}

// TestRunEndToEnd walks the whole happy path: empty archive, one page of
// posts, one empty page, then merge, persist and notify.
func TestRunEndToEnd(t *testing.T) {
	fetcher := &fakeFetcher{
		pages: [][]normalize.RawPost{
			{raw("100", "2024-01-02T00:00:00Z"), raw("99", "2024-01-01T00:00:00Z")},
			{},
		},
	}
	store := &fakeStore{}
	notifier := &fakeNotifier{}

	o := New(fetcher, store, notifier, 3, testLogger())
	if !o.Run(context.Background()) {
		t.Fatal("Run() = false, want success")
	}

	wantIDs := []string{"100", "99"}
	if len(store.saved) != len(wantIDs) {
		t.Fatalf("persisted %d posts, want %d", len(store.saved), len(wantIDs))
	}
	for i, want := range wantIDs {
		if store.saved[i].ID != want {
			t.Errorf("saved[%d].ID = %q, want %q", i, store.saved[i].ID, want)
		}
	}

	if notifier.runs != 1 {
		t.Errorf("notifier ran %d times, want 1", notifier.runs)
	}
	if store.lastSuccess.IsZero() {
		t.Error("last success timestamp was not recorded")
	}

	// Second page was requested with the oldest id of the first page.
	wantCursors := []string{"", "99"}
	if diff := cmp.Diff(wantCursors, fetcher.maxIDs); diff != "" {
		t.Errorf("pagination cursors mismatch (-want +got):\n%s", diff)
	}
}

func TestRunFiltersArchivedPosts(t *testing.T) {
	fetcher := &fakeFetcher{
		pages: [][]normalize.RawPost{
			{raw("100", "2024-01-02T00:00:00Z"), raw("99", "2024-01-01T00:00:00Z")},
		},
	}
	store := &fakeStore{
		archive: []archive.Post{
			{ID: "100", CreatedAt: "2024-01-02T00:00:00Z"},
			{ID: "99", CreatedAt: "2024-01-01T00:00:00Z"},
		},
	}
	notifier := &fakeNotifier{}

	o := New(fetcher, store, notifier, 3, testLogger())
	if !o.Run(context.Background()) {
		t.Fatal("Run() = false, want success")
	}

	if store.saveCalls != 0 {
		t.Errorf("archive persisted %d times with no new posts, want 0", store.saveCalls)
	}
	if notifier.runs != 0 {
		t.Errorf("notifier ran %d times with no new posts, want 0", notifier.runs)
	}
	if fetcher.calls != 1 {
		t.Errorf("fetcher called %d times, want 1 (exhausted on first page)", fetcher.calls)
	}
}

// TestRunKeepsPartialProgressOnFailure: a transport failure on page two
// fails the cycle but the first page's posts are still merged, persisted
// and announced.
func TestRunKeepsPartialProgressOnFailure(t *testing.T) {
	fetcher := &fakeFetcher{
		pages: [][]normalize.RawPost{
			{raw("100", "2024-01-02T00:00:00Z")},
		},
		errAt: 2,
	}
	store := &fakeStore{}
	notifier := &fakeNotifier{}

	o := New(fetcher, store, notifier, 3, testLogger())
	if o.Run(context.Background()) {
		t.Fatal("Run() = true, want failure after transport error")
	}

	if len(store.saved) != 1 || store.saved[0].ID != "100" {
		t.Errorf("partial progress not persisted: saved = %+v", store.saved)
	}
	if notifier.runs != 1 {
		t.Errorf("notifier ran %d times, want 1", notifier.runs)
	}
}

func TestRunFailsOnFirstPageError(t *testing.T) {
	fetcher := &fakeFetcher{errAt: 1}
	store := &fakeStore{}
	notifier := &fakeNotifier{}

	o := New(fetcher, store, notifier, 3, testLogger())
	if o.Run(context.Background()) {
		t.Fatal("Run() = true, want failure")
	}
	if store.saveCalls != 0 {
		t.Errorf("archive persisted %d times, want 0", store.saveCalls)
	}
	if notifier.runs != 0 {
		t.Errorf("notifier ran %d times, want 0", notifier.runs)
	}
}

func TestRunStopsAtPageLimit(t *testing.T) {
	fetcher := &fakeFetcher{
		pages: [][]normalize.RawPost{
			{raw("100", "2024-01-03T00:00:00Z")},
			{raw("99", "2024-01-02T00:00:00Z")},
			{raw("98", "2024-01-01T00:00:00Z")},
		},
	}
	store := &fakeStore{}
	notifier := &fakeNotifier{}

	o := New(fetcher, store, notifier, 2, testLogger())
	if !o.Run(context.Background()) {
		t.Fatal("Run() = false, want success at page limit")
	}

	if fetcher.calls != 2 {
		t.Errorf("fetcher called %d times, want 2 (page limit)", fetcher.calls)
	}
	if len(store.saved) != 2 {
		t.Errorf("persisted %d posts, want 2", len(store.saved))
	}
}

func TestRunPersistFailureFailsCycle(t *testing.T) {
	fetcher := &fakeFetcher{
		pages: [][]normalize.RawPost{
			{raw("100", "2024-01-02T00:00:00Z")},
			{},
		},
	}
	store := &fakeStore{saveErr: errors.New("disk full")}
	notifier := &fakeNotifier{}

	o := New(fetcher, store, notifier, 3, testLogger())
	if o.Run(context.Background()) {
		t.Fatal("Run() = true, want failure when persistence fails")
	}
	if notifier.runs != 0 {
		t.Errorf("notifier ran %d times after failed persist, want 0", notifier.runs)
	}
	if !store.lastSuccess.IsZero() {
		t.Error("last success recorded despite failed persist")
	}
}

func TestRunRejectsRecordsWithoutID(t *testing.T) {
	fetcher := &fakeFetcher{
		pages: [][]normalize.RawPost{
			{raw("", "2024-01-02T00:00:00Z"), raw("100", "2024-01-01T00:00:00Z")},
			{},
		},
	}
	store := &fakeStore{}

	o := New(fetcher, store, &fakeNotifier{}, 3, testLogger())
	if !o.Run(context.Background()) {
		t.Fatal("Run() = false, want success")
	}
	if len(store.saved) != 1 || store.saved[0].ID != "100" {
		t.Errorf("saved = %+v, want only post 100", store.saved)
	}
}
