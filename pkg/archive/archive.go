// Package archive contains the core domain types for the post archive:
// the canonical post record and the pure merge/ordering operations over it.
package archive

import "sort"

// Post is the canonical, persisted representation of one source post.
//
// ID is an opaque numeric-string identifier that is unique per post and
// lexicographically comparable in creation order. Engagement counts are a
// snapshot taken when the post was first seen; they are never refreshed
// for posts already in the archive.
type Post struct {
	ID              string   `json:"id"`
	CreatedAt       string   `json:"created_at"` // ISO-8601
	Content         string   `json:"content"`    // sanitized plain text
	URL             string   `json:"url"`
	Media           []string `json:"media"`
	RepliesCount    int      `json:"replies_count"`
	ReblogsCount    int      `json:"reblogs_count"`
	FavouritesCount int      `json:"favourites_count"`
}

// CSVHeader is the header row of the flattened tabular archive
// representation. Media URLs are joined with "; " into a single column.
var CSVHeader = []string{
	"id", "created_at", "content", "url", "media",
	"replies_count", "reblogs_count", "favourites_count",
}

// Merge combines freshly fetched posts into an existing archive. Posts
// whose ID is already present are discarded: the first-seen snapshot wins.
// The result is the union of both inputs, sorted by CreatedAt descending.
func Merge(existing map[string]Post, fresh []Post) []Post {
	merged := make([]Post, 0, len(existing)+len(fresh))
	for _, p := range existing {
		merged = append(merged, p)
	}
	for _, p := range fresh {
		if _, ok := existing[p.ID]; ok {
			continue
		}
		merged = append(merged, p)
	}
	Sort(merged)
	return merged
}

// Sort orders posts by CreatedAt descending. The sort is stable so that
// posts sharing a timestamp keep their relative order; map iteration above
// is not ordered, so ties among pre-existing posts additionally fall back
// to ID descending for a deterministic archive.
func Sort(posts []Post) {
	sort.SliceStable(posts, func(i, j int) bool {
		if posts[i].CreatedAt != posts[j].CreatedAt {
			return posts[i].CreatedAt > posts[j].CreatedAt
		}
		return posts[i].ID > posts[j].ID
	})
}

// SortKeepingOrder orders posts by CreatedAt descending, leaving posts
// that share a timestamp in their existing relative order.
func SortKeepingOrder(posts []Post) {
	sort.SliceStable(posts, func(i, j int) bool {
		return posts[i].CreatedAt > posts[j].CreatedAt
	})
}

// Index builds an ID-keyed map from an ordered post list.
func Index(posts []Post) map[string]Post {
	m := make(map[string]Post, len(posts))
	for _, p := range posts {
		m[p.ID] = p
	}
	return m
}
