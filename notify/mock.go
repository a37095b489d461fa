package notify

import (
	"context"
	"log/slog"

	"postwatch/pkg/archive"
)

// MockProvider logs announcements instead of delivering them, for local
// development without a webhook.
type MockProvider struct {
	logger *slog.Logger
}

// NewMockProvider creates a mock provider.
func NewMockProvider(logger *slog.Logger) *MockProvider {
	return &MockProvider{logger: logger}
}

// Send logs the announcement.
func (m *MockProvider) Send(_ context.Context, post archive.Post) error {
	m.logger.Info("MOCK NOTIFICATION",
		"post_id", post.ID,
		"created_at", post.CreatedAt,
		"content_length", len(post.Content))
	return nil
}
