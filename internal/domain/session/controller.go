package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/auralisfm/auralis-playback-backend/internal/domain/catalog"
)

// DefaultAutoSkipLimit is the number of consecutive resolution failures
// tolerated before the controller stops auto-advancing and halts.
const DefaultAutoSkipLimit = 1

// Transport is the narrow command interface the controller drives.
// The transport engine implements it.
type Transport interface {
	Bind(mediaID string) error
	Play() error
	Pause() error
	Seek(seconds float64) error
}

// TrackResolver maps a title/artist pair to a media ID.
// A false return means no media ID was produced; the cause (network error,
// no match, timeout) is absorbed below this boundary.
type TrackResolver interface {
	Resolve(ctx context.Context, title, artist string) (mediaID string, ok bool)
}

// ChangeFunc is notified with a session snapshot after every state change.
type ChangeFunc func(Session)

// Controller is the queue/session state machine.
//
// It reacts to transport notifications (ready, ended, state change) and
// drives the resolver when advancing to a track with no cached media ID.
// All session mutation happens here.
type Controller struct {
	transport Transport
	resolver  TrackResolver

	autoSkipLimit int
	onChange      ChangeFunc

	mu              sync.Mutex
	current         *catalog.Track
	queue           []catalog.Track
	index           int
	isPlaying       bool
	isLoading       bool
	elapsed         float64
	duration        float64
	activeMediaID   string
	lastError       string
	resolveFailures int // consecutive, reset on success
}

// ControllerOption is a functional option for configuring the controller.
type ControllerOption func(*Controller)

// WithAutoSkipLimit sets how many consecutive resolution failures are skipped
// over before the controller halts.
func WithAutoSkipLimit(n int) ControllerOption {
	return func(c *Controller) {
		if n >= 0 {
			c.autoSkipLimit = n
		}
	}
}

// WithOnChange registers the snapshot callback invoked after state changes.
func WithOnChange(fn ChangeFunc) ControllerOption {
	return func(c *Controller) {
		c.onChange = fn
	}
}

// SetOnChange registers the snapshot callback after construction. It lets the
// socket transport subscribe even though the controller is created first.
func (c *Controller) SetOnChange(fn ChangeFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

// NewController creates the session controller.
func NewController(transport Transport, resolver TrackResolver, opts ...ControllerOption) *Controller {
	c := &Controller{
		transport:     transport,
		resolver:      resolver,
		autoSkipLimit: DefaultAutoSkipLimit,
		index:         -1,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Snapshot returns a copy of the current session state.
func (c *Controller) Snapshot() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Session {
	queue := make([]catalog.Track, len(c.queue))
	copy(queue, c.queue)

	var current *catalog.Track
	if c.current != nil {
		t := *c.current
		current = &t
	}

	return Session{
		CurrentTrack:    current,
		Queue:           queue,
		QueueIndex:      c.index,
		IsPlaying:       c.isPlaying,
		IsLoadingMedia:  c.isLoading,
		ElapsedSeconds:  c.elapsed,
		DurationSeconds: c.duration,
		ActiveMediaID:   c.activeMediaID,
		LastError:       c.lastError,
	}
}

// notify publishes a snapshot to the registered change callback.
// Must be called without holding c.mu.
func (c *Controller) notify() {
	c.mu.Lock()
	fn := c.onChange
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if fn != nil {
		fn(snap)
	}
}

// PlayTrack starts playback of track, replacing the queue with contextQueue
// positioned at the track (or a single-track queue when absent).
func (c *Controller) PlayTrack(ctx context.Context, track catalog.Track, contextQueue []catalog.Track) {
	c.mu.Lock()

	idx := -1
	for i, t := range contextQueue {
		if t.ID == track.ID {
			idx = i
			break
		}
	}
	if idx == -1 {
		contextQueue = []catalog.Track{track}
		idx = 0
	}

	c.queue = append([]catalog.Track(nil), contextQueue...)
	c.index = idx
	c.current = &c.queue[idx]
	c.isLoading = true
	c.lastError = ""
	c.resolveFailures = 0
	c.mu.Unlock()

	log.Info().Str("trackId", track.ID).Str("title", track.Title).Msg("PlayTrack")
	c.notify()
	c.startCurrent(ctx)
}

// TogglePlayPause flips the play/pause intent for the current track.
// No-op when nothing is current.
func (c *Controller) TogglePlayPause() {
	c.mu.Lock()
	if c.current == nil {
		c.mu.Unlock()
		return
	}
	playing := c.isPlaying
	c.mu.Unlock()

	var err error
	if playing {
		err = c.transport.Pause()
	} else {
		err = c.transport.Play()
	}
	if err != nil {
		log.Warn().Err(err).Msg("Toggle play/pause failed")
	}
}

// SkipNext advances the queue by one position.
func (c *Controller) SkipNext(ctx context.Context) {
	c.advance(ctx)
}

// AddToQueue appends a track without disturbing the current playback position
// or any in-flight resolution.
func (c *Controller) AddToQueue(track catalog.Track) {
	c.mu.Lock()
	c.queue = append(c.queue, track)
	c.mu.Unlock()

	log.Debug().Str("trackId", track.ID).Msg("AddToQueue")
	c.notify()
}

// SeekTo clamps the target to [0, duration] and forwards it to the transport.
// The published position moves only once the transport accepts the seek; a
// failed seek leaves elapsed at the last known position.
func (c *Controller) SeekTo(seconds float64) {
	c.mu.Lock()
	if c.current == nil {
		c.mu.Unlock()
		return
	}
	if seconds < 0 {
		seconds = 0
	}
	if c.duration > 0 && seconds > c.duration {
		seconds = c.duration
	}
	c.mu.Unlock()

	if err := c.transport.Seek(seconds); err != nil {
		log.Warn().Err(err).Float64("seconds", seconds).Msg("Seek failed")
		return
	}

	c.mu.Lock()
	c.elapsed = seconds
	c.mu.Unlock()
	c.notify()
}

// startCurrent resolves the current track and binds its media ID.
// On failure it auto-skips, bounded by autoSkipLimit consecutive failures.
func (c *Controller) startCurrent(ctx context.Context) {
	c.mu.Lock()
	if c.current == nil {
		c.mu.Unlock()
		return
	}
	track := *c.current
	c.mu.Unlock()

	mediaID, ok := c.resolver.Resolve(ctx, track.Title, track.Artist)
	if !ok {
		c.handleResolveFailure(ctx, track)
		return
	}

	c.mu.Lock()
	// The session may have moved on while resolution was in flight.
	if c.current == nil || c.current.ID != track.ID {
		c.mu.Unlock()
		log.Debug().Str("trackId", track.ID).Msg("Discarding resolution for superseded track")
		return
	}
	c.activeMediaID = mediaID
	c.resolveFailures = 0
	c.lastError = ""
	c.mu.Unlock()

	if err := c.transport.Bind(mediaID); err != nil {
		log.Error().Err(err).Str("mediaId", mediaID).Msg("Bind failed")
		c.mu.Lock()
		c.isLoading = false
		c.isPlaying = false
		c.lastError = "could not play " + track.Title
		c.mu.Unlock()
	}
	c.notify()
}

// handleResolveFailure records a failed resolution and either auto-skips to
// the next queued track or halts when the failure budget is exhausted.
func (c *Controller) handleResolveFailure(ctx context.Context, track catalog.Track) {
	c.mu.Lock()
	c.resolveFailures++
	failures := c.resolveFailures
	c.isLoading = false
	c.lastError = "could not play " + track.Title
	c.mu.Unlock()

	log.Warn().
		Str("trackId", track.ID).
		Str("title", track.Title).
		Int("consecutiveFailures", failures).
		Msg("Track resolution failed")

	if failures > c.autoSkipLimit {
		c.mu.Lock()
		c.isPlaying = false
		c.mu.Unlock()
		log.Warn().Msg("Resolution failure budget exhausted, halting")
		c.notify()
		return
	}

	c.notify()
	c.advance(ctx)
}

// advance moves to the next queued track, or halts at the queue end with the
// current track retained. There is no loop-around.
func (c *Controller) advance(ctx context.Context) {
	c.mu.Lock()
	if c.index+1 >= len(c.queue) {
		wasPlaying := c.isPlaying
		c.isPlaying = false
		c.mu.Unlock()

		// Halting must reach the surface too, or audio keeps playing
		// behind a stopped session.
		if wasPlaying {
			if err := c.transport.Pause(); err != nil {
				log.Warn().Err(err).Msg("Pause at queue end failed")
			}
		}

		log.Debug().Msg("Queue exhausted")
		c.notify()
		return
	}

	c.index++
	c.current = &c.queue[c.index]
	c.isLoading = true
	c.mu.Unlock()

	c.notify()
	c.startCurrent(ctx)
}

// OnReady implements playback.Listener. Marks loading complete and records
// the duration; a zero duration keeps the previous value so the UI never
// flashes 0:00 during track transitions.
func (c *Controller) OnReady(duration float64) {
	c.mu.Lock()
	c.isLoading = false
	if duration > 0 {
		c.duration = duration
	}
	c.mu.Unlock()
	c.notify()
}

// OnStateChange implements playback.Listener.
func (c *Controller) OnStateChange(playing bool) {
	c.mu.Lock()
	c.isPlaying = playing
	c.mu.Unlock()
	c.notify()
}

// OnProgress implements playback.Listener.
func (c *Controller) OnProgress(elapsed float64) {
	c.mu.Lock()
	c.elapsed = elapsed
	c.mu.Unlock()
	c.notify()
}

// OnTrackEnd implements playback.Listener. Advances in its own goroutine so
// the engine's event loop is never blocked on resolution.
func (c *Controller) OnTrackEnd() {
	log.Debug().Msg("Track finished")
	go c.advance(context.Background())
}
