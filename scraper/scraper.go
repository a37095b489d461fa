// Package scraper fetches pages of account statuses through a scraping
// proxy. It only speaks HTTP and JSON; deciding what is new and what to do
// with it belongs to the cycle package.
package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"postwatch/normalize"
)

// ErrNoAPIKey means the proxy credential is missing from configuration.
// The operation that needed it fails; nothing else does.
var ErrNoAPIKey = errors.New("scraper: missing proxy API key")

// StatusError indicates a non-OK response from the proxy.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d fetching %s", e.Code, e.URL)
}

// IsStatusError reports whether err wraps a StatusError.
func IsStatusError(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}

// Scraper issues requests to the target site through a scraping proxy.
type Scraper struct {
	client     *http.Client
	logger     *slog.Logger
	proxyURL   string // proxy endpoint
	apiKey     string
	statusURL  string // statuses API of the watched account
	accountURL string // public account page, used for reachability probes
	pageSize   int
}

// New creates a scraper. pageSize bounds the number of statuses requested
// per page.
func New(client *http.Client, logger *slog.Logger, proxyURL, apiKey, statusURL, accountURL string, pageSize int) *Scraper {
	return &Scraper{
		client:     client,
		logger:     logger,
		proxyURL:   proxyURL,
		apiKey:     apiKey,
		statusURL:  statusURL,
		accountURL: accountURL,
		pageSize:   pageSize,
	}
}

// FetchPage fetches one page of statuses older than maxID. An empty maxID
// fetches the newest page. Replies are excluded; the page comes back in
// the upstream's order, newest first.
func (s *Scraper) FetchPage(ctx context.Context, maxID string) ([]normalize.RawPost, error) {
	params := url.Values{}
	params.Set("exclude_replies", "true")
	params.Set("only_replies", "false")
	params.Set("with_muted", "true")
	params.Set("limit", strconv.Itoa(s.pageSize))
	if maxID != "" {
		params.Set("max_id", maxID)
	}
	target := s.statusURL + "?" + params.Encode()

	body, err := s.get(ctx, target)
	if err != nil {
		return nil, err
	}

	var posts []normalize.RawPost
	if err := json.Unmarshal(body, &posts); err != nil {
		return nil, fmt.Errorf("decode statuses: %w", err)
	}

	s.logger.Info("Fetched status page", "max_id", maxID, "count", len(posts))
	return posts, nil
}

// Probe checks whether the target site is reachable through the proxy.
// It fetches the public account page with no pagination and only looks at
// the response status.
func (s *Scraper) Probe(ctx context.Context) bool {
	if _, err := s.get(ctx, s.accountURL); err != nil {
		s.logger.Warn("Target site probe failed", "url", s.accountURL, "error", err)
		return false
	}
	s.logger.Info("Target site is reachable", "url", s.accountURL)
	return true
}

// get routes a GET for target through the proxy and returns the body.
func (s *Scraper) get(ctx context.Context, target string) ([]byte, error) {
	if s.apiKey == "" {
		return nil, ErrNoAPIKey
	}

	proxyParams := url.Values{}
	proxyParams.Set("api_key", s.apiKey)
	proxyParams.Set("url", target)
	proxyParams.Set("bypass", "cloudflare_level_1")
	requestURL := s.proxyURL + "?" + proxyParams.Encode()

	var body []byte
	err := retry.Do(
		func() error {
			s.logger.Info("HTTP request starting",
				"method", "GET",
				"url", target,
				"purpose", "proxy_fetch")

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, http.NoBody)
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}
			req.Header.Set("Accept", "application/json, text/plain, */*")
			req.Header.Set("Referer", s.accountURL)

			startTime := time.Now()
			resp, err := s.client.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				s.logger.Warn("HTTP request failed, will retry",
					"url", target,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					s.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			s.logger.Info("HTTP request completed",
				"url", target,
				"status_code", resp.StatusCode,
				"duration_ms", duration.Milliseconds(),
				"content_length", resp.ContentLength)

			if resp.StatusCode != http.StatusOK {
				return &StatusError{URL: target, Code: resp.StatusCode}
			}

			body, err = io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("read response body: %w", err)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Info("Retrying fetch after error", "attempt", n, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("after retries: %w", err)
	}

	return body, nil
}
