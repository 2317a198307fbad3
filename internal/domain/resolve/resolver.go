package resolve

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	// DefaultRequestTimeout bounds a single resolution request.
	DefaultRequestTimeout = 10 * time.Second

	// DefaultGroupSize is the number of concurrent lookups per batch group.
	DefaultGroupSize = 3

	// DefaultGroupInterval is the minimum spacing between batch group starts.
	DefaultGroupInterval = 200 * time.Millisecond
)

// Resolver turns unresolved tracks into media IDs via the search provider.
//
// Failures are absorbed here: a lookup that errors or comes back empty yields
// no cache entry and no media ID, so a later attempt can retry. Negative
// results are never cached.
type Resolver struct {
	cache    Cache
	searcher Searcher

	timeout       time.Duration
	groupSize     int
	groupInterval time.Duration
	limiter       *rate.Limiter

	mu       sync.Mutex
	inflight map[string]*inflightLookup
}

// inflightLookup coalesces concurrent lookups for the same query.
type inflightLookup struct {
	done    chan struct{}
	mediaID string
	ok      bool
}

// Option is a functional option for configuring the resolver.
type Option func(*Resolver)

// WithRequestTimeout sets the per-lookup timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		r.timeout = d
	}
}

// WithGroupSize sets the number of concurrent lookups per batch group.
func WithGroupSize(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.groupSize = n
		}
	}
}

// WithGroupInterval sets the minimum spacing between batch group starts.
func WithGroupInterval(d time.Duration) Option {
	return func(r *Resolver) {
		r.groupInterval = d
	}
}

// NewResolver creates a resolver backed by the given cache and search provider.
func NewResolver(cache Cache, searcher Searcher, opts ...Option) *Resolver {
	r := &Resolver{
		cache:         cache,
		searcher:      searcher,
		timeout:       DefaultRequestTimeout,
		groupSize:     DefaultGroupSize,
		groupInterval: DefaultGroupInterval,
		inflight:      make(map[string]*inflightLookup),
	}

	for _, opt := range opts {
		opt(r)
	}

	// Burst 1 so group n+1 never starts sooner than groupInterval after group n.
	r.limiter = rate.NewLimiter(rate.Every(r.groupInterval), 1)

	return r
}

// Resolve resolves a title/artist pair to a media ID, normalizing first.
// Returns ok=false on any failure; nothing is cached in that case.
func (r *Resolver) Resolve(ctx context.Context, title, artist string) (string, bool) {
	return r.ResolveQuery(ctx, Normalize(title, artist))
}

// ResolveQuery resolves an already-normalized query to a media ID.
// Returns ok=false on any failure; nothing is cached in that case.
func (r *Resolver) ResolveQuery(ctx context.Context, query string) (string, bool) {
	if id, ok := r.cache.Lookup(query); ok {
		return id, true
	}

	// Coalesce concurrent lookups for the same query into one request.
	r.mu.Lock()
	if fl, ok := r.inflight[query]; ok {
		r.mu.Unlock()
		select {
		case <-fl.done:
			return fl.mediaID, fl.ok
		case <-ctx.Done():
			return "", false
		}
	}
	fl := &inflightLookup{done: make(chan struct{})}
	r.inflight[query] = fl
	r.mu.Unlock()

	fl.mediaID, fl.ok = r.lookup(ctx, query)
	close(fl.done)

	r.mu.Lock()
	delete(r.inflight, query)
	r.mu.Unlock()

	return fl.mediaID, fl.ok
}

// lookup issues exactly one search request and caches a successful result.
func (r *Resolver) lookup(ctx context.Context, query string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	mediaID, err := r.searcher.ResolveTrack(ctx, query)
	if err != nil {
		log.Warn().Err(err).Str("query", query).Msg("Resolution failed")
		return "", false
	}
	if mediaID == "" {
		log.Warn().Str("query", query).Msg("Resolution returned empty media ID")
		return "", false
	}

	r.cache.Store(query, mediaID)
	log.Debug().Str("query", query).Str("mediaId", mediaID).Msg("Resolved")
	return mediaID, true
}

// TrackQuery names the title/artist pair a batch entry resolves.
type TrackQuery struct {
	Title  string
	Artist string
}

// ResolveBatch populates the cache for the given tracks.
//
// Already-cached queries are skipped. The remainder drains in groups of
// groupSize: lookups within a group run concurrently, groups run strictly
// sequentially with at least groupInterval between group starts. Individual
// failures are swallowed so one unplayable track never aborts the batch.
func (r *Resolver) ResolveBatch(ctx context.Context, tracks []TrackQuery) {
	var pending []string
	seen := make(map[string]bool)
	for _, t := range tracks {
		q := Normalize(t.Title, t.Artist)
		if seen[q] {
			continue
		}
		seen[q] = true
		if _, ok := r.cache.Lookup(q); !ok {
			pending = append(pending, q)
		}
	}
	if len(pending) == 0 {
		return
	}

	log.Debug().Int("pending", len(pending)).Msg("Batch resolution started")

	for start := 0; start < len(pending); start += r.groupSize {
		if err := r.limiter.Wait(ctx); err != nil {
			log.Debug().Err(err).Msg("Batch resolution cancelled")
			return
		}

		end := start + r.groupSize
		if end > len(pending) {
			end = len(pending)
		}

		var wg sync.WaitGroup
		for _, query := range pending[start:end] {
			wg.Add(1)
			go func(q string) {
				defer wg.Done()
				r.ResolveQuery(ctx, q)
			}(query)
		}
		wg.Wait()
	}
}
