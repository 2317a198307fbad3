package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// State is the engine's transport state for the currently bound media.
type State string

const (
	// StateIdle means no media ID is bound.
	StateIdle State = "idle"
	// StateLoading means a media ID is bound but the surface is not ready yet.
	StateLoading State = "loading"
	// StatePaused means the surface is ready and paused.
	StatePaused State = "paused"
	// StatePlaying means the surface is ready and playing.
	StatePlaying State = "playing"
	// StateEnded means the bound media finished; terminal per track.
	StateEnded State = "ended"
)

// DefaultPollInterval is the progress sampling cadence while playing.
const DefaultPollInterval = time.Second

// Listener receives normalized engine notifications.
// The queue/session controller is the sole consumer; the engine never mutates
// session state itself.
type Listener interface {
	// OnReady fires once per bind when the surface has loaded the media.
	// duration is 0 when the surface cannot report one; the consumer keeps
	// its previous value in that case.
	OnReady(duration float64)

	// OnStateChange fires when the surface switches between playing and paused.
	OnStateChange(playing bool)

	// OnProgress publishes the sampled playback position in seconds.
	OnProgress(elapsed float64)

	// OnTrackEnd fires when the bound media plays to its natural end.
	// This is the sole track-completion signal.
	OnTrackEnd()
}

// Engine wraps a single media surface and exposes a normalized
// bind/play/pause/seek/progress contract.
//
// Each bind is tagged with a monotonically increasing generation; results and
// events belonging to a superseded generation are silently discarded, so a
// slow-to-load previous track can never clobber a fast-loading next one.
type Engine struct {
	surface  Surface
	listener Listener
	interval time.Duration

	mu       sync.Mutex
	gen      uint64
	state    State
	mediaID  string
	pollStop chan struct{}
}

// EngineOption is a functional option for configuring the engine.
type EngineOption func(*Engine)

// WithPollInterval overrides the progress sampling cadence.
func WithPollInterval(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// NewEngine creates a transport engine over the given surface.
// Attach the listener with SetListener before calling Run.
func NewEngine(surface Surface, opts ...EngineOption) *Engine {
	e := &Engine{
		surface:  surface,
		interval: DefaultPollInterval,
		state:    StateIdle,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// SetListener attaches the notification consumer. Call it before Run; the
// controller and engine reference each other, so the listener cannot be a
// constructor argument on both sides. The field is mutex-guarded, so a late
// attach is safe and notifications before it are dropped.
func (e *Engine) SetListener(l Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listener = l
}

// listenerRef reads the attached listener. May return nil.
func (e *Engine) listenerRef() Listener {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.listener
}

// Run consumes surface notifications until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	events := e.surface.Events()
	for {
		select {
		case <-ctx.Done():
			e.mu.Lock()
			e.stopPollLocked()
			e.mu.Unlock()
			return
		case ev, ok := <-events:
			if !ok {
				log.Warn().Msg("Surface event stream closed")
				return
			}
			e.handleEvent(ev)
		}
	}
}

// State returns the current transport state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// MediaID returns the currently bound media ID ("" when idle).
func (e *Engine) MediaID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mediaID
}

// Bind binds a new media ID, superseding any previous bind: the progress poll
// stops, elapsed resets to 0, and in-flight results for the old ID are
// discarded via the generation counter.
func (e *Engine) Bind(mediaID string) error {
	e.mu.Lock()
	e.gen++
	e.stopPollLocked()
	e.state = StateLoading
	e.mediaID = mediaID
	e.mu.Unlock()

	e.notifyProgress(0)

	log.Debug().Str("mediaId", mediaID).Msg("Binding media")
	if err := e.surface.Load(mediaID); err != nil {
		return fmt.Errorf("load media %s: %w", mediaID, err)
	}
	return nil
}

// Play resumes playback of the bound media.
func (e *Engine) Play() error {
	if e.State() == StateIdle {
		return nil
	}
	return e.surface.Play()
}

// Pause pauses playback of the bound media.
func (e *Engine) Pause() error {
	if e.State() == StateIdle {
		return nil
	}
	return e.surface.Pause()
}

// Seek moves playback to the given offset in seconds and republishes it as
// the current progress so the position snaps immediately.
func (e *Engine) Seek(seconds float64) error {
	if e.State() == StateIdle {
		return nil
	}
	if err := e.surface.Seek(seconds); err != nil {
		return err
	}
	e.notifyProgress(seconds)
	return nil
}

// handleEvent reconciles one asynchronous surface notification.
func (e *Engine) handleEvent(ev Event) {
	e.mu.Lock()

	if ev.MediaID != "" && ev.MediaID != e.mediaID {
		e.mu.Unlock()
		log.Debug().
			Str("eventMediaId", ev.MediaID).
			Str("type", string(ev.Type)).
			Msg("Discarding stale surface event")
		return
	}
	gen := e.gen

	switch ev.Type {
	case EventReady:
		e.mu.Unlock()
		e.publishDuration(gen)

	case EventPlaying:
		e.state = StatePlaying
		e.startPollLocked(gen)
		e.mu.Unlock()
		e.notifyStateChange(true)

	case EventPaused:
		e.stopPollLocked()
		e.state = StatePaused
		e.mu.Unlock()
		e.notifyStateChange(false)

	case EventEnded:
		e.stopPollLocked()
		e.state = StateEnded
		e.mu.Unlock()
		if l := e.listenerRef(); l != nil {
			l.OnTrackEnd()
		}

	default:
		e.mu.Unlock()
	}
}

// publishDuration queries the surface duration once per ready notification.
// The result is dropped if the bind generation moved on while the query was
// in flight.
func (e *Engine) publishDuration(gen uint64) {
	duration, err := e.surface.Duration()
	if err != nil {
		log.Debug().Err(err).Msg("Duration query failed")
		duration = 0
	}

	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		log.Debug().Msg("Discarding stale duration result")
		return
	}
	if e.state == StateLoading {
		e.state = StatePaused
	}
	e.mu.Unlock()

	if l := e.listenerRef(); l != nil {
		l.OnReady(duration)
	}
}

// startPollLocked starts the 1-second progress poll for the given generation.
// Callers must hold e.mu.
func (e *Engine) startPollLocked(gen uint64) {
	if e.pollStop != nil {
		return
	}
	stop := make(chan struct{})
	e.pollStop = stop
	go e.poll(gen, stop)
}

// stopPollLocked stops the progress poll if one is running.
// Callers must hold e.mu.
func (e *Engine) stopPollLocked() {
	if e.pollStop != nil {
		close(e.pollStop)
		e.pollStop = nil
	}
}

// poll samples the surface position on a fixed cadence while playing.
// A failed sample is skipped for that tick only; the loop exits as soon as
// its generation is superseded or the engine leaves the playing state.
func (e *Engine) poll(gen uint64, stop chan struct{}) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			elapsed, err := e.surface.CurrentTime()
			if err != nil {
				log.Debug().Err(err).Msg("Progress sample failed")
				continue
			}

			e.mu.Lock()
			stale := gen != e.gen || e.state != StatePlaying
			e.mu.Unlock()
			if stale {
				return
			}

			e.notifyProgress(elapsed)
		}
	}
}

func (e *Engine) notifyProgress(elapsed float64) {
	if l := e.listenerRef(); l != nil {
		l.OnProgress(elapsed)
	}
}

func (e *Engine) notifyStateChange(playing bool) {
	if l := e.listenerRef(); l != nil {
		l.OnStateChange(playing)
	}
}
