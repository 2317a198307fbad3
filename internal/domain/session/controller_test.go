package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/auralisfm/auralis-playback-backend/internal/domain/catalog"
	"github.com/auralisfm/auralis-playback-backend/internal/domain/playback"
	"github.com/auralisfm/auralis-playback-backend/internal/domain/session"
)

var (
	trackOne = catalog.Track{ID: "t1", Title: "First Song", Artist: "Artist"}
	trackTwo = catalog.Track{ID: "t2", Title: "Second Song", Artist: "Artist"}
)

// fakeTransport records transport commands.
type fakeTransport struct {
	mu      sync.Mutex
	binds   []string
	plays   int
	pauses  int
	seeks   []float64
	bindErr error
	seekErr error
}

func (f *fakeTransport) Bind(mediaID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.binds = append(f.binds, mediaID)
	return f.bindErr
}

func (f *fakeTransport) Play() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plays++
	return nil
}

func (f *fakeTransport) Pause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauses++
	return nil
}

func (f *fakeTransport) Seek(seconds float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeks = append(f.seeks, seconds)
	return f.seekErr
}

func (f *fakeTransport) pauseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pauses
}

func (f *fakeTransport) lastBind() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.binds) == 0 {
		return ""
	}
	return f.binds[len(f.binds)-1]
}

// fakeResolver serves scripted resolutions keyed by track title.
type fakeResolver struct {
	mu      sync.Mutex
	results map[string]string // title -> mediaID
	calls   int
}

func (f *fakeResolver) Resolve(ctx context.Context, title, artist string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	id, ok := f.results[title]
	return id, ok
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestPlayTrackBindsResolvedMedia(t *testing.T) {
	transport := &fakeTransport{}
	resolver := &fakeResolver{results: map[string]string{"First Song": "media-1"}}
	c := session.NewController(transport, resolver)

	c.PlayTrack(context.Background(), trackOne, []catalog.Track{trackOne, trackTwo})

	snap := c.Snapshot()
	if snap.CurrentTrack == nil || snap.CurrentTrack.ID != "t1" {
		t.Fatalf("expected current track t1, got %+v", snap.CurrentTrack)
	}
	if len(snap.Queue) != 2 || snap.QueueIndex != 0 {
		t.Errorf("expected 2-track queue at index 0, got %d tracks at %d", len(snap.Queue), snap.QueueIndex)
	}
	if snap.ActiveMediaID != "media-1" {
		t.Errorf("expected active media-1, got %q", snap.ActiveMediaID)
	}
	if transport.lastBind() != "media-1" {
		t.Errorf("expected transport bound to media-1, got %q", transport.lastBind())
	}
}

func TestPlayTrackWithoutContextQueue(t *testing.T) {
	transport := &fakeTransport{}
	resolver := &fakeResolver{results: map[string]string{"First Song": "media-1"}}
	c := session.NewController(transport, resolver)

	c.PlayTrack(context.Background(), trackOne, nil)

	snap := c.Snapshot()
	if len(snap.Queue) != 1 || snap.Queue[0].ID != "t1" {
		t.Errorf("expected single-track queue, got %+v", snap.Queue)
	}
}

func TestResolutionFailureAutoSkips(t *testing.T) {
	transport := &fakeTransport{}
	// First track unresolvable, second resolvable.
	resolver := &fakeResolver{results: map[string]string{"Second Song": "media-2"}}
	c := session.NewController(transport, resolver)

	c.PlayTrack(context.Background(), trackOne, []catalog.Track{trackOne, trackTwo})

	snap := c.Snapshot()
	if snap.CurrentTrack == nil || snap.CurrentTrack.ID != "t2" {
		t.Fatalf("expected auto-skip to t2, got %+v", snap.CurrentTrack)
	}
	if transport.lastBind() != "media-2" {
		t.Errorf("expected transport bound to media-2, got %q", transport.lastBind())
	}
}

func TestResolutionFailureBudgetHalts(t *testing.T) {
	transport := &fakeTransport{}
	resolver := &fakeResolver{results: map[string]string{}} // nothing resolves
	c := session.NewController(transport, resolver)

	c.PlayTrack(context.Background(), trackOne, []catalog.Track{trackOne, trackTwo})

	snap := c.Snapshot()
	if snap.IsPlaying {
		t.Error("expected halt after exhausting the failure budget")
	}
	if snap.LastError == "" {
		t.Error("expected a could-not-play condition to be surfaced")
	}
	if len(transport.binds) != 0 {
		t.Errorf("expected no binds, got %v", transport.binds)
	}
	// Default budget of 1 means: one skip (t1 -> t2), then halt on t2's failure.
	if snap.CurrentTrack == nil || snap.CurrentTrack.ID != "t2" {
		t.Errorf("expected halt on t2, got %+v", snap.CurrentTrack)
	}
}

func TestQueueExhaustionHalts(t *testing.T) {
	transport := &fakeTransport{}
	resolver := &fakeResolver{results: map[string]string{"First Song": "media-1"}}
	c := session.NewController(transport, resolver)

	c.PlayTrack(context.Background(), trackOne, []catalog.Track{trackOne})
	c.OnStateChange(true)

	c.SkipNext(context.Background())

	snap := c.Snapshot()
	if snap.IsPlaying {
		t.Error("expected isPlaying false after queue exhaustion")
	}
	if snap.CurrentTrack == nil || snap.CurrentTrack.ID != "t1" {
		t.Errorf("expected current track retained, got %+v", snap.CurrentTrack)
	}
	if got := transport.pauseCount(); got != 1 {
		t.Errorf("expected the transport paused once at queue end, got %d pauses", got)
	}
}

func TestQueueExhaustionWhilePausedDoesNotPause(t *testing.T) {
	transport := &fakeTransport{}
	resolver := &fakeResolver{results: map[string]string{"First Song": "media-1"}}
	c := session.NewController(transport, resolver)

	c.PlayTrack(context.Background(), trackOne, []catalog.Track{trackOne})

	c.SkipNext(context.Background())

	if got := transport.pauseCount(); got != 0 {
		t.Errorf("expected no pause when the session was not playing, got %d", got)
	}
}

func TestTrackEndAdvancesQueue(t *testing.T) {
	transport := &fakeTransport{}
	resolver := &fakeResolver{results: map[string]string{
		"First Song":  "media-1",
		"Second Song": "media-2",
	}}
	c := session.NewController(transport, resolver)

	c.PlayTrack(context.Background(), trackOne, []catalog.Track{trackOne, trackTwo})
	c.OnTrackEnd()

	waitFor(t, func() bool {
		snap := c.Snapshot()
		return snap.CurrentTrack != nil && snap.CurrentTrack.ID == "t2"
	}, "track end never advanced the queue")

	waitFor(t, func() bool { return transport.lastBind() == "media-2" },
		"next track never bound")
}

func TestTogglePlayPause(t *testing.T) {
	transport := &fakeTransport{}
	resolver := &fakeResolver{results: map[string]string{"First Song": "media-1"}}
	c := session.NewController(transport, resolver)

	// No current track: no-op.
	c.TogglePlayPause()
	if transport.plays != 0 || transport.pauses != 0 {
		t.Fatal("toggle with no track must be a no-op")
	}

	c.PlayTrack(context.Background(), trackOne, nil)

	// Not playing -> play.
	c.TogglePlayPause()
	if transport.plays != 1 {
		t.Errorf("expected 1 play command, got %d", transport.plays)
	}

	// Playing -> pause.
	c.OnStateChange(true)
	c.TogglePlayPause()
	if transport.pauses != 1 {
		t.Errorf("expected 1 pause command, got %d", transport.pauses)
	}
}

func TestAddToQueueKeepsPosition(t *testing.T) {
	transport := &fakeTransport{}
	resolver := &fakeResolver{results: map[string]string{"First Song": "media-1"}}
	c := session.NewController(transport, resolver)

	c.PlayTrack(context.Background(), trackOne, nil)
	c.AddToQueue(trackTwo)

	snap := c.Snapshot()
	if len(snap.Queue) != 2 {
		t.Fatalf("expected 2 queued tracks, got %d", len(snap.Queue))
	}
	if snap.QueueIndex != 0 {
		t.Errorf("append must not move the queue position, got index %d", snap.QueueIndex)
	}
	if snap.CurrentTrack.ID != "t1" {
		t.Errorf("append must not change the current track, got %s", snap.CurrentTrack.ID)
	}
}

func TestSeekToClamps(t *testing.T) {
	tests := []struct {
		name   string
		target float64
		want   float64
	}{
		{"negative clamps to zero", -5, 0},
		{"past end clamps to duration", 500, 200},
		{"in range passes through", 42, 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := &fakeTransport{}
			resolver := &fakeResolver{results: map[string]string{"First Song": "media-1"}}
			c := session.NewController(transport, resolver)

			c.PlayTrack(context.Background(), trackOne, nil)
			c.OnReady(200)

			c.SeekTo(tt.target)

			snap := c.Snapshot()
			if snap.ElapsedSeconds != tt.want {
				t.Errorf("expected elapsed %v, got %v", tt.want, snap.ElapsedSeconds)
			}
			if len(transport.seeks) != 1 || transport.seeks[0] != tt.want {
				t.Errorf("expected transport seek to %v, got %v", tt.want, transport.seeks)
			}
		})
	}
}

func TestSeekFailureKeepsElapsed(t *testing.T) {
	transport := &fakeTransport{seekErr: errors.New("seek rejected")}
	resolver := &fakeResolver{results: map[string]string{"First Song": "media-1"}}
	c := session.NewController(transport, resolver)

	c.PlayTrack(context.Background(), trackOne, nil)
	c.OnReady(200)
	c.OnProgress(42)

	c.SeekTo(100)

	snap := c.Snapshot()
	if snap.ElapsedSeconds != 42 {
		t.Errorf("expected elapsed to stay at 42 after a failed seek, got %v", snap.ElapsedSeconds)
	}
	if len(transport.seeks) != 1 || transport.seeks[0] != 100 {
		t.Errorf("expected one seek attempt to 100, got %v", transport.seeks)
	}
}

func TestOnReadyKeepsPreviousDurationWhenUnknown(t *testing.T) {
	transport := &fakeTransport{}
	resolver := &fakeResolver{results: map[string]string{"First Song": "media-1"}}
	c := session.NewController(transport, resolver)

	c.PlayTrack(context.Background(), trackOne, nil)
	c.OnReady(180)
	c.OnReady(0) // surface could not report a duration

	if got := c.Snapshot().DurationSeconds; got != 180 {
		t.Errorf("expected previous duration retained, got %v", got)
	}
}

func TestChangeCallbackObservesMutations(t *testing.T) {
	transport := &fakeTransport{}
	resolver := &fakeResolver{results: map[string]string{"First Song": "media-1"}}

	var mu sync.Mutex
	var snapshots []session.Session
	c := session.NewController(transport, resolver,
		session.WithOnChange(func(s session.Session) {
			mu.Lock()
			snapshots = append(snapshots, s)
			mu.Unlock()
		}),
	)

	c.PlayTrack(context.Background(), trackOne, nil)
	c.OnProgress(12)

	mu.Lock()
	defer mu.Unlock()
	if len(snapshots) == 0 {
		t.Fatal("expected change notifications")
	}
	last := snapshots[len(snapshots)-1]
	if last.ElapsedSeconds != 12 {
		t.Errorf("expected last snapshot elapsed 12, got %v", last.ElapsedSeconds)
	}
}

// surfaceStub drives the real transport engine in the end-to-end scenario.
type surfaceStub struct {
	mu     sync.Mutex
	events chan playback.Event
	loaded string
}

func newSurfaceStub() *surfaceStub {
	return &surfaceStub{events: make(chan playback.Event, 16)}
}

func (s *surfaceStub) Load(mediaID string) error {
	s.mu.Lock()
	s.loaded = mediaID
	s.mu.Unlock()

	// The surface loads asynchronously, then reports ready and playing.
	s.events <- playback.Event{Type: playback.EventReady, MediaID: mediaID}
	s.events <- playback.Event{Type: playback.EventPlaying, MediaID: mediaID}
	return nil
}

func (s *surfaceStub) Play() error                  { return nil }
func (s *surfaceStub) Pause() error                 { return nil }
func (s *surfaceStub) Seek(seconds float64) error   { return nil }
func (s *surfaceStub) CurrentTime() (float64, error) { return 1, nil }
func (s *surfaceStub) Duration() (float64, error)   { return 200, nil }
func (s *surfaceStub) Events() <-chan playback.Event { return s.events }

func (s *surfaceStub) endCurrent() {
	s.mu.Lock()
	id := s.loaded
	s.mu.Unlock()
	s.events <- playback.Event{Type: playback.EventEnded, MediaID: id}
}

func TestEndToEndQueueAdvance(t *testing.T) {
	surface := newSurfaceStub()
	resolver := &fakeResolver{results: map[string]string{
		"First Song":  "media-1",
		"Second Song": "media-2",
	}}

	engine := playback.NewEngine(surface)
	c := session.NewController(engine, resolver)
	engine.SetListener(c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.Run(ctx)

	c.PlayTrack(ctx, trackOne, []catalog.Track{trackOne, trackTwo})

	waitFor(t, func() bool {
		snap := c.Snapshot()
		return snap.IsPlaying && snap.ActiveMediaID == "media-1"
	}, "first track never reached playing")

	// Natural end of the first track.
	surface.endCurrent()

	waitFor(t, func() bool {
		snap := c.Snapshot()
		return snap.CurrentTrack != nil && snap.CurrentTrack.ID == "t2" &&
			snap.ActiveMediaID == "media-2" && snap.IsPlaying
	}, "session never advanced to the second track")
}

var _ playback.Surface = (*surfaceStub)(nil)
var _ session.Transport = (*playback.Engine)(nil)

// Guard against accidental bind errors being silently retried forever.
func TestBindFailureSurfacesError(t *testing.T) {
	transport := &fakeTransport{bindErr: errors.New("surface down")}
	resolver := &fakeResolver{results: map[string]string{"First Song": "media-1"}}
	c := session.NewController(transport, resolver)

	c.PlayTrack(context.Background(), trackOne, nil)

	snap := c.Snapshot()
	if snap.IsPlaying {
		t.Error("expected not playing after bind failure")
	}
	if snap.LastError == "" {
		t.Error("expected could-not-play condition after bind failure")
	}
}
