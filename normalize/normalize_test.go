package normalize

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"postwatch/pkg/archive"
)

func TestCleanHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text untouched", "just words", "just words"},
		{"tags stripped", "<p>Hello world</p>", "Hello world"},
		{"nested markup", `<p>See <a href="https://example.com">this</a> now</p>`, "See this now"},
		{"entity resolved", "<p>Hello &mdash; world</p>", "Hello — world"},
		{"line breaks", "<p>one</p><p>two</p>", "onetwo"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanHTML(tt.in); got != tt.want {
				t.Errorf("CleanHTML(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFixUnicode(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no escapes untouched", "plain text", "plain text"},
		{"ellipsis", `wait\u2026`, "wait\u2026"},
		{"em dash", `a\u2014b`, "a\u2014b"},
		{"multiple escapes", `\u201cquoted\u201d`, "\u201cquoted\u201d"},
		{"invalid escape preserved", `bad\uZZZZ end`, `bad\uZZZZ end`},
		{"truncated escape preserved", `tail\u20`, `tail\u20`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FixUnicode(tt.in); got != tt.want {
				t.Errorf("FixUnicode(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// TestPostSanitizesContent covers the full sanitation pipeline: markup
// stripped first, escaped-Unicode sequences resolved second.
func TestPostSanitizesContent(t *testing.T) {
	raw := RawPost{
		ID:        "100",
		CreatedAt: "2024-01-02T00:00:00Z",
		Content:   `<p>Hello &mdash; world\u2026</p>`,
		URL:       "https://example.com/@acct/100",
	}

	got := Post(raw)
	want := "Hello — world…"
	if got.Content != want {
		t.Errorf("Post().Content = %q, want %q", got.Content, want)
	}
}

func TestPostDefaults(t *testing.T) {
	got := Post(RawPost{ID: "1", CreatedAt: "2024-01-01T00:00:00Z"})

	want := archive.Post{
		ID:        "1",
		CreatedAt: "2024-01-01T00:00:00Z",
		Media:     []string{},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Post() mismatch (-want +got):\n%s", diff)
	}
}

func TestPostExtractsMediaURLs(t *testing.T) {
	raw := RawPost{
		ID:        "2",
		CreatedAt: "2024-01-01T00:00:00Z",
		MediaAttachments: []MediaAttachment{
			{URL: "https://cdn.example.com/a.jpg"},
			{URL: "https://cdn.example.com/b.mp4"},
		},
		RepliesCount:    1,
		ReblogsCount:    2,
		FavouritesCount: 3,
	}

	got := Post(raw)
	wantMedia := []string{"https://cdn.example.com/a.jpg", "https://cdn.example.com/b.mp4"}
	if diff := cmp.Diff(wantMedia, got.Media); diff != "" {
		t.Errorf("Post().Media mismatch (-want +got):\n%s", diff)
	}
	if got.RepliesCount != 1 || got.ReblogsCount != 2 || got.FavouritesCount != 3 {
		t.Errorf("engagement counts = %d/%d/%d, want 1/2/3",
			got.RepliesCount, got.ReblogsCount, got.FavouritesCount)
	}
}
