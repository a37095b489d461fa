package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"postwatch/pkg/archive"
)

// ErrNoWebhookURL means no chat webhook is configured. Sending fails;
// nothing else does.
var ErrNoWebhookURL = errors.New("notify: missing webhook URL")

// WebhookProvider delivers announcements as interactive card messages to a
// chat webhook endpoint.
type WebhookProvider struct {
	webhookURL string
	client     *http.Client
	logger     *slog.Logger
}

// NewWebhookProvider creates a webhook-backed provider.
func NewWebhookProvider(webhookURL string, logger *slog.Logger) *WebhookProvider {
	return &WebhookProvider{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// Card message payload types, matching the chat platform's interactive
// card schema.
type cardMessage struct {
	MsgType string `json:"msg_type"`
	Card    card   `json:"card"`
}

type card struct {
	Config   cardConfig    `json:"config"`
	Header   cardHeader    `json:"header"`
	Elements []cardElement `json:"elements"`
}

type cardConfig struct {
	WideScreenMode bool `json:"wide_screen_mode"`
}

type cardHeader struct {
	Title    cardText `json:"title"`
	Template string   `json:"template"`
}

type cardText struct {
	Tag     string `json:"tag"`
	Content string `json:"content"`
}

type cardElement struct {
	Tag     string       `json:"tag"`
	Text    *cardText    `json:"text,omitempty"`
	Fields  []cardField  `json:"fields,omitempty"`
	Actions []cardAction `json:"actions,omitempty"`
}

type cardField struct {
	IsShort bool     `json:"is_short"`
	Text    cardText `json:"text"`
}

type cardAction struct {
	Tag  string   `json:"tag"`
	Text cardText `json:"text"`
	URL  string   `json:"url"`
	Type string   `json:"type"`
}

// Send posts one announcement card. Success is an HTTP 200 response.
func (p *WebhookProvider) Send(ctx context.Context, post archive.Post) error {
	if p.webhookURL == "" {
		return ErrNoWebhookURL
	}

	payload, err := json.Marshal(buildCard(post))
	if err != nil {
		return fmt.Errorf("marshal card: %w", err)
	}

	err = retry.Do(
		func() error {
			p.logger.Info("Webhook request starting",
				"method", "POST",
				"post_id", post.ID,
				"purpose", "chat_notification")

			req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.webhookURL, bytes.NewReader(payload))
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}
			req.Header.Set("Content-Type", "application/json")

			startTime := time.Now()
			resp, err := p.client.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				p.logger.Warn("Webhook request failed, will retry",
					"post_id", post.ID,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					p.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			if resp.StatusCode != http.StatusOK {
				p.logger.Warn("Webhook returned non-OK status, will retry",
					"status_code", resp.StatusCode,
					"post_id", post.ID)
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			p.logger.Info("Webhook request completed",
				"post_id", post.ID,
				"duration_ms", duration.Milliseconds(),
				"status", "success")
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			p.logger.Info("Retrying notification send after error", "attempt", n, "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("after retries: %w", err)
	}
	return nil
}

// buildCard formats one post as an interactive card: publication time and
// content up top, the first media URL if any, the three engagement counts
// as short fields, and a link button to the original post.
func buildCard(post archive.Post) cardMessage {
	body := fmt.Sprintf("**Posted**: %s\n\n%s", formatTime(post.CreatedAt), post.Content)
	if len(post.Media) > 0 {
		body += "\n\n**Media**: " + post.Media[0]
	}

	return cardMessage{
		MsgType: "interactive",
		Card: card{
			Config: cardConfig{WideScreenMode: true},
			Header: cardHeader{
				Title:    cardText{Tag: "plain_text", Content: "New post published"},
				Template: "blue",
			},
			Elements: []cardElement{
				{
					Tag:  "div",
					Text: &cardText{Tag: "lark_md", Content: body},
				},
				{Tag: "hr"},
				{
					Tag: "div",
					Fields: []cardField{
						{IsShort: true, Text: cardText{Tag: "lark_md", Content: fmt.Sprintf("**Replies**: %d", post.RepliesCount)}},
						{IsShort: true, Text: cardText{Tag: "lark_md", Content: fmt.Sprintf("**Reblogs**: %d", post.ReblogsCount)}},
						{IsShort: true, Text: cardText{Tag: "lark_md", Content: fmt.Sprintf("**Likes**: %d", post.FavouritesCount)}},
					},
				},
				{
					Tag: "action",
					Actions: []cardAction{
						{
							Tag:  "button",
							Text: cardText{Tag: "plain_text", Content: "View original"},
							URL:  post.URL,
							Type: "default",
						},
					},
				},
			},
		},
	}
}

// formatTime renders an ISO-8601 timestamp for display, falling back to
// the raw string when it does not parse.
func formatTime(createdAt string) string {
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return createdAt
	}
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}
