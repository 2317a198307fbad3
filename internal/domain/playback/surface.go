// Package playback provides the transport engine that keeps playback state
// synchronized with an external, poll-only media surface.
package playback

// EventType classifies a surface notification.
type EventType string

const (
	// EventReady means the surface has loaded the bound media and can
	// report a duration.
	EventReady EventType = "ready"
	// EventPlaying means the surface transitioned into active playback.
	EventPlaying EventType = "playing"
	// EventPaused means the surface paused without finishing the media.
	EventPaused EventType = "paused"
	// EventEnded means the bound media played to its natural end.
	EventEnded EventType = "ended"
)

// Event is an asynchronous notification from the media surface.
// MediaID identifies which bound media the event belongs to so late
// notifications from a superseded load can be discarded.
type Event struct {
	Type    EventType
	MediaID string
}

// Surface is the embedded media surface boundary.
//
// The surface accepts a media ID and play/pause/seek intent, emits ready and
// state-change notifications on its own schedule, and exposes pull-only time
// accessors. Every call may fail at any moment (the surface can be
// mid-teardown); callers must treat failures as transient.
type Surface interface {
	// Load binds a media ID and starts loading it for playback.
	Load(mediaID string) error

	// Play resumes playback of the bound media.
	Play() error

	// Pause pauses playback without unbinding.
	Pause() error

	// Seek moves the playback position to the given offset in seconds.
	Seek(seconds float64) error

	// CurrentTime returns the current playback position in seconds.
	CurrentTime() (float64, error)

	// Duration returns the duration of the bound media in seconds.
	// A zero duration means the surface cannot report one yet.
	Duration() (float64, error)

	// Events returns the surface notification stream.
	Events() <-chan Event
}
