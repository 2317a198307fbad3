package resolve_test

import (
	"testing"

	"github.com/auralisfm/auralis-playback-backend/internal/domain/resolve"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name   string
		title  string
		artist string
		want   string
	}{
		{"plain", "Song", "Artist", "song artist official audio"},
		{"whitespace trimmed", " Song ", "  Artist  ", "song artist official audio"},
		{"case folded", "SONG", "aRtIsT", "song artist official audio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolve.Normalize(tt.title, tt.artist)
			if got != tt.want {
				t.Errorf("Normalize(%q, %q) = %q, want %q", tt.title, tt.artist, got, tt.want)
			}
		})
	}
}

func TestNormalizeDeterministic(t *testing.T) {
	a := resolve.Normalize("Song", "Artist")
	b := resolve.Normalize(" song ", " ARTIST ")
	if a != b {
		t.Errorf("expected identical keys, got %q and %q", a, b)
	}
}

func TestMemoryCacheLookupStore(t *testing.T) {
	cache := resolve.NewMemoryCache()

	if _, ok := cache.Lookup("missing"); ok {
		t.Error("expected miss on empty cache")
	}

	cache.Store("query", "media-1")
	id, ok := cache.Lookup("query")
	if !ok || id != "media-1" {
		t.Errorf("expected media-1, got %q (ok=%v)", id, ok)
	}

	// Last write wins
	cache.Store("query", "media-2")
	id, _ = cache.Lookup("query")
	if id != "media-2" {
		t.Errorf("expected overwrite to media-2, got %q", id)
	}

	if cache.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", cache.Len())
	}
}

func TestLayeredCachePromotesBackingHits(t *testing.T) {
	front := resolve.NewMemoryCache()
	back := resolve.NewMemoryCache()
	layered := resolve.NewLayeredCache(front, back)

	back.Store("query", "media-1")

	id, ok := layered.Lookup("query")
	if !ok || id != "media-1" {
		t.Fatalf("expected backing hit, got %q (ok=%v)", id, ok)
	}

	// The hit must now be served from the front layer.
	if id, ok := front.Lookup("query"); !ok || id != "media-1" {
		t.Errorf("expected promotion to front, got %q (ok=%v)", id, ok)
	}
}

func TestLayeredCacheStoreWritesBothLayers(t *testing.T) {
	front := resolve.NewMemoryCache()
	back := resolve.NewMemoryCache()
	layered := resolve.NewLayeredCache(front, back)

	layered.Store("query", "media-1")

	if _, ok := front.Lookup("query"); !ok {
		t.Error("expected entry in front layer")
	}
	if _, ok := back.Lookup("query"); !ok {
		t.Error("expected entry in backing layer")
	}
}
