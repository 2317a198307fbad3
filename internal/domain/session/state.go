// Package session owns the playback session: current track, upcoming queue,
// and the play/pause intent synchronized with the transport engine.
package session

import "github.com/auralisfm/auralis-playback-backend/internal/domain/catalog"

// Session is a read-only snapshot of the playback session.
//
// The controller is the only writer of the underlying state; rendering layers
// and the socket transport receive copies and never mutate them.
type Session struct {
	CurrentTrack    *catalog.Track  `json:"currentTrack"`
	Queue           []catalog.Track `json:"queue"`
	QueueIndex      int             `json:"queueIndex"`
	IsPlaying       bool            `json:"isPlaying"`
	IsLoadingMedia  bool            `json:"isLoadingMedia"`
	ElapsedSeconds  float64         `json:"elapsedSeconds"`
	DurationSeconds float64         `json:"durationSeconds"`
	ActiveMediaID   string          `json:"activeMediaId"`
	LastError       string          `json:"lastError,omitempty"`
}
