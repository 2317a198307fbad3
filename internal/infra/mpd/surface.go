// Package mpd implements the playback.Surface port on top of an MPD daemon
// via gompd, with reconnection logic.
//
// MPD is the embedded media surface: it accepts a stream URL derived from the
// resolved media ID, exposes pull-only elapsed/duration accessors, and its
// idle watcher provides the asynchronous state-change notifications the
// transport engine reconciles. Every accessor can fail mid-teardown; callers
// treat failures as transient.
package mpd

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/fhs/gompd/v2/mpd"
	"github.com/rs/zerolog/log"

	"github.com/auralisfm/auralis-playback-backend/internal/domain/playback"
)

// DefaultStreamURLTemplate expands a media ID into a playable stream URL.
const DefaultStreamURLTemplate = "https://stream.auralis.fm/media/%s"

// Surface wraps an MPD connection as a playback surface.
type Surface struct {
	mu          sync.RWMutex
	client      *mpd.Client
	watcher     *mpd.Watcher
	host        string
	port        int
	password    string
	urlTemplate string

	events    chan playback.Event
	boundID   string
	lastState string
	announced bool // ready emitted for the current bind
	loading   bool // suppress the stop caused by our own clear during rebind
}

// SurfaceOption is a functional option for configuring the surface.
type SurfaceOption func(*Surface)

// WithStreamURLTemplate sets the media ID to stream URL expansion template.
// The template must contain a single %s verb.
func WithStreamURLTemplate(tmpl string) SurfaceOption {
	return func(s *Surface) {
		if tmpl != "" {
			s.urlTemplate = tmpl
		}
	}
}

// NewSurface creates a new MPD-backed surface.
func NewSurface(host string, port int, password string, opts ...SurfaceOption) *Surface {
	s := &Surface{
		host:        host,
		port:        port,
		password:    password,
		urlTemplate: DefaultStreamURLTemplate,
		events:      make(chan playback.Event, 16),
		lastState:   "stop",
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Connect establishes the MPD connection.
func (s *Surface) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.connectLocked()
}

// connectLocked establishes the connection (must hold lock).
func (s *Surface) connectLocked() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	log.Info().Str("addr", addr).Msg("Connecting to MPD")

	client, err := mpd.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to MPD: %w", err)
	}

	if s.password != "" {
		if err := client.Command("password %s", s.password).OK(); err != nil {
			client.Close()
			return fmt.Errorf("MPD authentication failed: %w", err)
		}
	}

	s.client = client
	log.Info().Msg("Connected to MPD")
	return nil
}

// ensureConnected checks the connection and reconnects if needed.
func (s *Surface) ensureConnected() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return s.connectLocked()
	}

	if err := s.client.Ping(); err != nil {
		log.Warn().Err(err).Msg("MPD connection lost, reconnecting...")
		s.client.Close()
		s.client = nil
		return s.connectLocked()
	}

	return nil
}

// Close closes the MPD connection and the watcher.
func (s *Surface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.watcher != nil {
		s.watcher.Close()
		s.watcher = nil
	}

	if s.client != nil {
		err := s.client.Close()
		s.client = nil
		return err
	}
	return nil
}

// Ping checks that the connection is alive.
func (s *Surface) Ping() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.client == nil {
		return fmt.Errorf("not connected")
	}
	return s.client.Ping()
}

// StreamURL expands a media ID into the playable stream URL.
func (s *Surface) StreamURL(mediaID string) string {
	return fmt.Sprintf(s.urlTemplate, mediaID)
}

// Load binds a media ID: the play queue is replaced with its stream URL and
// playback starts. Implements playback.Surface.
func (s *Surface) Load(mediaID string) error {
	if err := s.ensureConnected(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.boundID = mediaID
	s.announced = false
	s.loading = true

	if err := s.client.Clear(); err != nil {
		return fmt.Errorf("clear queue: %w", err)
	}
	if err := s.client.Add(s.StreamURL(mediaID)); err != nil {
		return fmt.Errorf("add stream: %w", err)
	}
	if err := s.client.Play(0); err != nil {
		return fmt.Errorf("start playback: %w", err)
	}
	return nil
}

// Play resumes playback of the bound media.
func (s *Surface) Play() error {
	if err := s.ensureConnected(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	status, err := s.client.Status()
	if err != nil {
		return err
	}
	if status["state"] == "pause" {
		return s.client.Pause(false)
	}
	return s.client.Play(-1)
}

// Pause pauses playback without unbinding.
func (s *Surface) Pause() error {
	if err := s.ensureConnected(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.client.Pause(true)
}

// Seek moves playback to the given offset in seconds.
func (s *Surface) Seek(seconds float64) error {
	if err := s.ensureConnected(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	status, err := s.client.Status()
	if err != nil {
		return err
	}

	songPos, err := strconv.Atoi(status["song"])
	if err != nil {
		return fmt.Errorf("no song playing")
	}

	return s.client.Seek(songPos, int(seconds))
}

// CurrentTime returns the current playback position in seconds.
func (s *Surface) CurrentTime() (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.client == nil {
		return 0, fmt.Errorf("not connected")
	}

	status, err := s.client.Status()
	if err != nil {
		return 0, err
	}

	elapsed, err := strconv.ParseFloat(status["elapsed"], 64)
	if err != nil {
		return 0, fmt.Errorf("no elapsed time reported")
	}
	return elapsed, nil
}

// Duration returns the bound media's duration in seconds, 0 when unknown.
func (s *Surface) Duration() (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.client == nil {
		return 0, fmt.Errorf("not connected")
	}

	status, err := s.client.Status()
	if err != nil {
		return 0, err
	}

	if duration, err := strconv.ParseFloat(status["duration"], 64); err == nil {
		return duration, nil
	}

	// Streams often report duration only on the song, not the status.
	song, err := s.client.CurrentSong()
	if err != nil {
		return 0, nil
	}
	if duration, err := strconv.ParseFloat(song["Time"], 64); err == nil {
		return duration, nil
	}
	return 0, nil
}

// Events returns the surface notification stream.
func (s *Surface) Events() <-chan playback.Event {
	return s.events
}

// Watch starts the MPD idle watcher and synthesizes surface events from
// player subsystem changes until ctx is cancelled.
func (s *Surface) Watch(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	watcher, err := mpd.NewWatcher("tcp", addr, s.password, "player")
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	s.mu.Lock()
	s.watcher = watcher
	s.mu.Unlock()

	go func() {
		log.Info().Msg("MPD watcher started")
		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("MPD watcher stopped")
				return
			case _, ok := <-watcher.Event:
				if !ok {
					return
				}
				s.evaluate()
			case err := <-watcher.Error:
				log.Error().Err(err).Msg("MPD watcher error")
				time.Sleep(time.Second)
			}
		}
	}()

	return nil
}

// evaluate polls the MPD status and diffs it against the last observed state,
// emitting ready / playing / paused / ended notifications.
func (s *Surface) evaluate() {
	if err := s.ensureConnected(); err != nil {
		log.Debug().Err(err).Msg("Status evaluation skipped")
		return
	}

	s.mu.Lock()

	status, err := s.client.Status()
	if err != nil {
		s.mu.Unlock()
		log.Debug().Err(err).Msg("Status query failed")
		return
	}

	state := status["state"]
	last := s.lastState
	s.lastState = state
	boundID := s.boundID

	var events []playback.Event

	// First play/pause observation after a load means the surface has the
	// media and can report a duration.
	if !s.announced && boundID != "" && (state == "play" || state == "pause") {
		s.announced = true
		s.loading = false
		events = append(events, playback.Event{Type: playback.EventReady, MediaID: boundID})
	}

	switch {
	case state == "play" && last != "play":
		events = append(events, playback.Event{Type: playback.EventPlaying, MediaID: boundID})
	case state == "pause" && last != "pause":
		events = append(events, playback.Event{Type: playback.EventPaused, MediaID: boundID})
	case state == "stop" && last == "play":
		// A stop we did not cause by rebinding is the natural end of the track.
		if s.loading {
			log.Debug().Msg("Ignoring stop caused by rebind")
		} else if boundID != "" {
			events = append(events, playback.Event{Type: playback.EventEnded, MediaID: boundID})
		}
	}
	s.mu.Unlock()

	for _, ev := range events {
		s.emit(ev)
	}
}

// emit delivers an event without ever blocking the watcher goroutine.
func (s *Surface) emit(ev playback.Event) {
	select {
	case s.events <- ev:
	default:
		log.Warn().Str("type", string(ev.Type)).Msg("Surface event dropped, consumer too slow")
	}
}

var _ playback.Surface = (*Surface)(nil)
