// Package normalize converts raw upstream post JSON into canonical archive
// records. It is the validation boundary between the loosely shaped
// upstream API and the rest of the system: missing fields are defaulted
// here and free-text content is sanitized here, nowhere else.
package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"postwatch/pkg/archive"
)

// RawPost mirrors the upstream status object. Only the fields the archive
// needs are decoded; everything else in the payload is ignored.
type RawPost struct {
	ID               string            `json:"id"`
	CreatedAt        string            `json:"created_at"`
	Content          string            `json:"content"`
	URL              string            `json:"url"`
	MediaAttachments []MediaAttachment `json:"media_attachments"`
	RepliesCount     int               `json:"replies_count"`
	ReblogsCount     int               `json:"reblogs_count"`
	FavouritesCount  int               `json:"favourites_count"`
}

// MediaAttachment is one attached media object on an upstream post.
type MediaAttachment struct {
	URL string `json:"url"`
}

var tagPattern = regexp.MustCompile(`<.*?>`)

// Post builds the canonical archive record for a raw upstream post.
// Content is stripped of markup and has escaped Unicode sequences decoded;
// missing counts decode as zero and missing media as an empty list.
func Post(raw RawPost) archive.Post {
	media := make([]string, 0, len(raw.MediaAttachments))
	for _, m := range raw.MediaAttachments {
		media = append(media, m.URL)
	}

	return archive.Post{
		ID:              raw.ID,
		CreatedAt:       raw.CreatedAt,
		Content:         strings.TrimSpace(FixUnicode(CleanHTML(raw.Content))),
		URL:             raw.URL,
		Media:           media,
		RepliesCount:    raw.RepliesCount,
		ReblogsCount:    raw.ReblogsCount,
		FavouritesCount: raw.FavouritesCount,
	}
}

// CleanHTML strips markup from a fragment of post content, returning its
// text. Entities like &mdash; are resolved along the way. If the fragment
// cannot be parsed, a greedy tag-stripping pattern is applied instead so
// the caller always gets something usable back.
func CleanHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return tagPattern.ReplaceAllString(s, "")
	}
	return doc.Text()
}

// FixUnicode decodes residual escaped-Unicode sequences such as \u2026 and
// \u2014 into literal characters. Decoding never fails: any sequence that
// does not parse is copied through unchanged.
func FixUnicode(s string) string {
	if !strings.Contains(s, `\u`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if s[i] == '\\' && i+5 < len(s) && s[i+1] == 'u' {
			n, err := strconv.ParseUint(s[i+2:i+6], 16, 32)
			if err == nil {
				b.WriteRune(rune(n))
				i += 6
				continue
			}
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}
