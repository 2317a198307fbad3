package resolve

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Warmer pre-resolves upcoming queue tracks in the background so that
// advancing to the next track usually hits the cache instead of the
// search provider.
//
// Submissions replace each other: only the most recent queue snapshot is
// warmed, since an older queue is no longer worth resolving.
type Warmer struct {
	resolver *Resolver

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	wakeCh   chan struct{}
	pending  []TrackQuery
	lastWarm string
}

// NewWarmer creates a warmer around the resolver.
func NewWarmer(resolver *Resolver) *Warmer {
	return &Warmer{
		resolver: resolver,
		stopCh:   make(chan struct{}),
		wakeCh:   make(chan struct{}, 1),
	}
}

// Submit schedules the given tracks for background resolution, replacing
// any previously submitted snapshot. Identical resubmissions are ignored.
func (w *Warmer) Submit(tracks []TrackQuery) {
	w.mu.Lock()
	defer w.mu.Unlock()

	sig := querySignature(tracks)
	if sig == w.lastWarm {
		return
	}
	w.lastWarm = sig
	w.pending = tracks

	select {
	case w.wakeCh <- struct{}{}:
	default:
	}
}

// Start begins warming in the background. It blocks until the context is
// cancelled or Stop is called.
func (w *Warmer) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.mu.Unlock()

	log.Info().Msg("Resolution warmer started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Resolution warmer stopping (context cancelled)")
			w.setRunning(false)
			return
		case <-w.stopCh:
			log.Info().Msg("Resolution warmer stopping (stop requested)")
			w.setRunning(false)
			return
		case <-w.wakeCh:
			w.mu.Lock()
			batch := w.pending
			w.pending = nil
			w.mu.Unlock()

			if len(batch) == 0 {
				continue
			}

			log.Debug().Int("count", len(batch)).Msg("Warming queue resolutions")
			w.resolver.ResolveBatch(ctx, batch)
		}
	}
}

// Stop stops the warmer.
func (w *Warmer) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		close(w.stopCh)
	}
}

// IsRunning returns whether the warmer is currently running.
func (w *Warmer) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Warmer) setRunning(v bool) {
	w.mu.Lock()
	w.running = v
	w.mu.Unlock()
}

func querySignature(tracks []TrackQuery) string {
	var b strings.Builder
	for _, t := range tracks {
		b.WriteString(Normalize(t.Title, t.Artist))
		b.WriteByte('\n')
	}
	return b.String()
}
