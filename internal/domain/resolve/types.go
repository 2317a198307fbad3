package resolve

import (
	"context"
	"errors"
)

// Common errors
var (
	// ErrNoMatch indicates the search provider returned no usable result.
	ErrNoMatch = errors.New("no match found")
)

// SearchResult is a single hit from the search provider.
type SearchResult struct {
	MediaID      string `json:"mediaId"`
	Title        string `json:"title"`
	AuthorLabel  string `json:"authorLabel"`
	ThumbnailURL string `json:"thumbnailUrl"`
}

// Searcher is the search-provider boundary consumed by the Resolver.
//
// ResolveTrack is the playback-binding path: it requests a single best match
// in the music category and returns only its media ID. Search is the browse
// path: free text, up to maxResults rich results, never cached — an
// approximate match is fine for browsing, but a wrong match on the resolve
// path silently breaks playback.
type Searcher interface {
	ResolveTrack(ctx context.Context, query string) (mediaID string, err error)
	Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error)
}
