package mpd_test

import (
	"testing"

	"github.com/auralisfm/auralis-playback-backend/internal/infra/mpd"
)

func TestNewSurface(t *testing.T) {
	surface := mpd.NewSurface("localhost", 6600, "")

	if surface == nil {
		t.Fatal("NewSurface should return a non-nil surface")
	}
	if surface.Events() == nil {
		t.Error("expected a usable event stream")
	}
}

func TestSurfaceConnectFailure(t *testing.T) {
	// Connection to a non-existent server must fail.
	surface := mpd.NewSurface("localhost", 16600, "") // Wrong port

	if err := surface.Connect(); err == nil {
		t.Error("Connect should fail for non-existent server")
		surface.Close()
	}
}

func TestSurfacePingWithoutConnect(t *testing.T) {
	surface := mpd.NewSurface("localhost", 6600, "")

	if err := surface.Ping(); err == nil {
		t.Error("Ping should fail when not connected")
	}
}

func TestSurfaceCurrentTimeWithoutConnect(t *testing.T) {
	surface := mpd.NewSurface("localhost", 6600, "")

	if _, err := surface.CurrentTime(); err == nil {
		t.Error("CurrentTime should fail when not connected")
	}
}

func TestSurfaceDurationWithoutConnect(t *testing.T) {
	surface := mpd.NewSurface("localhost", 6600, "")

	if _, err := surface.Duration(); err == nil {
		t.Error("Duration should fail when not connected")
	}
}

func TestStreamURL(t *testing.T) {
	tests := []struct {
		name     string
		template string
		mediaID  string
		want     string
	}{
		{
			name:     "default template",
			template: "",
			mediaID:  "dQw4w9WgXcQ",
			want:     "https://stream.auralis.fm/media/dQw4w9WgXcQ",
		},
		{
			name:     "custom template",
			template: "http://localhost:9090/watch?v=%s",
			mediaID:  "abc123",
			want:     "http://localhost:9090/watch?v=abc123",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []mpd.SurfaceOption
			if tt.template != "" {
				opts = append(opts, mpd.WithStreamURLTemplate(tt.template))
			}
			surface := mpd.NewSurface("localhost", 6600, "", opts...)

			if got := surface.StreamURL(tt.mediaID); got != tt.want {
				t.Errorf("StreamURL(%q) = %q, want %q", tt.mediaID, got, tt.want)
			}
		})
	}
}
