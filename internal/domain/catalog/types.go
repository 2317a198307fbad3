// Package catalog defines the track model shared across the playback engine.
//
// Tracks originate from the metadata provider (catalog browsing, playlists)
// and are treated as opaque values here: the catalog ID identifies the track
// in the provider's namespace and is distinct from the media ID used for
// playback, which is only known after resolution.
package catalog

// Track is an immutable track record from the metadata provider.
type Track struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Artist       string `json:"artist"`
	Album        string `json:"album,omitempty"`
	CoverURL     string `json:"coverUrl,omitempty"`
	DurationHint int    `json:"durationHintSeconds,omitempty"` // Provider-reported duration, advisory only
}

// Valid reports whether the track carries enough metadata to be resolved.
func (t Track) Valid() bool {
	return t.ID != "" && t.Title != "" && t.Artist != ""
}
