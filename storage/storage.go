// Package storage persists the post archive and the small pieces of
// cycle state (failure counter, alert and success watermarks, last
// notified id). It writes either to a local data directory or to a Cloud
// Storage bucket; everything above it is unaware of which.
package storage

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/iterator"

	"postwatch/pkg/archive"
)

// Object keys. The same names are used as file names in local mode.
const (
	ArchiveJSONKey    = "archive.json"
	ArchiveCSVKey     = "archive.csv"
	ErrorCountKey     = "error_count.txt"
	LastAlertKey      = "last_alert.txt"
	LastSuccessKey    = "last_success.txt"
	LastNotifiedIDKey = "last_notified_id.txt"
)

// ErrNotExist reports a missing object regardless of backend.
var ErrNotExist = errors.New("storage: object doesn't exist")

// Store handles archive and state persistence.
type Store struct {
	client      *gcs.Client
	httpClient  *http.Client
	logger      *slog.Logger
	localPath   string
	bucket      string
	snapshotURL string // remote archive snapshot to bootstrap from, optional
}

// New creates a storage handler. When localPath is non-empty the store
// works against the local filesystem and client may be nil; otherwise all
// objects live in the given bucket. snapshotURL, when set, points at a
// published copy of the archive used to seed LoadArchive instead of the
// store's own object.
func New(client *gcs.Client, bucket, localPath, snapshotURL string, logger *slog.Logger) *Store {
	return &Store{
		client:      client,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		logger:      logger,
		localPath:   localPath,
		bucket:      bucket,
		snapshotURL: snapshotURL,
	}
}

// LoadArchive retrieves the prior archive snapshot in its persisted
// order, newest post first. Retrieval failure of any kind is recoverable:
// the archive can be rebuilt from this point forward, so a warning is
// logged and an empty list is returned instead of an error.
func (s *Store) LoadArchive(ctx context.Context) []archive.Post {
	var (
		data []byte
		err  error
	)
	if s.snapshotURL != "" {
		data, err = s.fetchSnapshot(ctx)
	} else {
		data, err = s.read(ctx, ArchiveJSONKey)
	}
	if err != nil {
		s.logger.Warn("Could not load existing archive, starting fresh", "error", err)
		return nil
	}

	var posts []archive.Post
	if err := json.Unmarshal(data, &posts); err != nil {
		s.logger.Warn("Could not parse existing archive, starting fresh", "error", err)
		return nil
	}

	s.logger.Info("Loaded existing archive", "count", len(posts))
	return posts
}

// SaveArchive writes both archive representations: the full-fidelity JSON
// array and the flattened CSV. A failure of either write is returned to
// the caller, which treats a partial write as a cycle-level error.
func (s *Store) SaveArchive(ctx context.Context, posts []archive.Post) error {
	data, err := json.MarshalIndent(posts, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal archive: %w", err)
	}
	if err := s.write(ctx, ArchiveJSONKey, data); err != nil {
		return fmt.Errorf("write JSON archive: %w", err)
	}
	s.logger.Info("Archive saved", "key", ArchiveJSONKey, "count", len(posts))

	csvData, err := marshalCSV(posts)
	if err != nil {
		return fmt.Errorf("marshal CSV archive: %w", err)
	}
	if err := s.write(ctx, ArchiveCSVKey, csvData); err != nil {
		return fmt.Errorf("write CSV archive: %w", err)
	}
	s.logger.Info("Archive saved", "key", ArchiveCSVKey, "count", len(posts))

	return nil
}

func marshalCSV(posts []archive.Post) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(archive.CSVHeader); err != nil {
		return nil, err
	}
	for _, p := range posts {
		row := []string{
			p.ID,
			p.CreatedAt,
			p.Content,
			p.URL,
			strings.Join(p.Media, "; "),
			strconv.Itoa(p.RepliesCount),
			strconv.Itoa(p.ReblogsCount),
			strconv.Itoa(p.FavouritesCount),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ErrorCount returns the persisted consecutive-failure counter. A missing
// or corrupt file reads as zero; corruption is logged as a warning since
// it means prior state was lost.
func (s *Store) ErrorCount(ctx context.Context) int {
	data, err := s.read(ctx, ErrorCountKey)
	if err != nil {
		if !errors.Is(err, ErrNotExist) {
			s.logger.Warn("Could not read error count, assuming zero", "error", err)
		}
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || n < 0 {
		s.logger.Warn("Corrupt error count file, assuming zero", "content", string(data))
		return 0
	}
	return n
}

// SetErrorCount persists the consecutive-failure counter.
func (s *Store) SetErrorCount(ctx context.Context, n int) error {
	return s.write(ctx, ErrorCountKey, []byte(strconv.Itoa(n)))
}

// LastAlert returns the timestamp of the last successfully delivered
// alert, or the zero time if none was recorded.
func (s *Store) LastAlert(ctx context.Context) time.Time {
	return s.readEpoch(ctx, LastAlertKey)
}

// SetLastAlert records the time an alert was successfully delivered.
func (s *Store) SetLastAlert(ctx context.Context, t time.Time) error {
	return s.writeEpoch(ctx, LastAlertKey, t)
}

// LastSuccess returns the timestamp of the last successful cycle, or the
// zero time if no cycle has succeeded yet.
func (s *Store) LastSuccess(ctx context.Context) time.Time {
	return s.readEpoch(ctx, LastSuccessKey)
}

// SetLastSuccess records a successful cycle completion time.
func (s *Store) SetLastSuccess(ctx context.Context, t time.Time) error {
	return s.writeEpoch(ctx, LastSuccessKey, t)
}

// LastNotifiedID returns the notification watermark: the id of the most
// recently announced post, or "" when nothing was ever announced.
func (s *Store) LastNotifiedID(ctx context.Context) string {
	data, err := s.read(ctx, LastNotifiedIDKey)
	if err != nil {
		if !errors.Is(err, ErrNotExist) {
			s.logger.Warn("Could not read notification watermark", "error", err)
		}
		return ""
	}
	return strings.TrimSpace(string(data))
}

// SetLastNotifiedID advances the notification watermark.
func (s *Store) SetLastNotifiedID(ctx context.Context, id string) error {
	return s.write(ctx, LastNotifiedIDKey, []byte(id))
}

func (s *Store) readEpoch(ctx context.Context, key string) time.Time {
	data, err := s.read(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotExist) {
			s.logger.Warn("Could not read timestamp file", "key", key, "error", err)
		}
		return time.Time{}
	}
	secs, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		s.logger.Warn("Corrupt timestamp file", "key", key, "content", string(data))
		return time.Time{}
	}
	return time.Unix(secs, 0)
}

func (s *Store) writeEpoch(ctx context.Context, key string, t time.Time) error {
	return s.write(ctx, key, []byte(strconv.FormatInt(t.Unix(), 10)))
}

// Keys lists the names of all persisted objects, for diagnostics.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	if s.localPath != "" {
		entries, err := os.ReadDir(s.localPath)
		if err != nil {
			return nil, fmt.Errorf("read local storage directory: %w", err)
		}
		var keys []string
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			keys = append(keys, entry.Name())
		}
		return keys, nil
	}

	var keys []string
	it := s.client.Bucket(s.bucket).Objects(ctx, &gcs.Query{})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate storage: %w", err)
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}

func (s *Store) fetchSnapshot(ctx context.Context) ([]byte, error) {
	s.logger.Info("Loading archive snapshot", "url", s.snapshotURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.snapshotURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			s.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch snapshot: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read snapshot body: %w", err)
	}
	return data, nil
}

// read loads one object from the active backend.
func (s *Store) read(ctx context.Context, key string) ([]byte, error) {
	if s.localPath != "" {
		data, err := os.ReadFile(filepath.Join(s.localPath, key))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, ErrNotExist
			}
			return nil, fmt.Errorf("read from local storage: %w", err)
		}
		return data, nil
	}

	var data []byte
	err := retry.Do(
		func() error {
			r, openErr := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
			if openErr != nil {
				if errors.Is(openErr, gcs.ErrObjectNotExist) {
					return retry.Unrecoverable(ErrNotExist)
				}
				return fmt.Errorf("open storage reader: %w", openErr)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					s.logger.Warn("Failed to close storage reader", "error", closeErr)
				}
			}()

			var readErr error
			data, readErr = io.ReadAll(r)
			if readErr != nil {
				return fmt.Errorf("read from storage: %w", readErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying load operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		if errors.Is(err, ErrNotExist) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("load after retries: %w", err)
	}
	return data, nil
}

// write stores one object in the active backend.
func (s *Store) write(ctx context.Context, key string, data []byte) error {
	if s.localPath != "" {
		filePath := filepath.Join(s.localPath, key)
		if err := os.WriteFile(filePath, data, 0o600); err != nil {
			return fmt.Errorf("write to local storage: %w", err)
		}
		s.logger.Debug("Object saved to local storage", "path", filePath, "bytes", len(data))
		return nil
	}

	err := retry.Do(
		func() error {
			w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying save operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}
	s.logger.Debug("Object saved", "key", key, "bytes", len(data))
	return nil
}
