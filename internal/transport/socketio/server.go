// Package socketio provides the Socket.io server for client communication.
package socketio

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zishang520/socket.io/servers/socket/v3"
	"github.com/zishang520/socket.io/v3/pkg/types"

	"github.com/auralisfm/auralis-playback-backend/internal/domain/catalog"
	"github.com/auralisfm/auralis-playback-backend/internal/domain/resolve"
	"github.com/auralisfm/auralis-playback-backend/internal/domain/session"
)

const (
	// DefaultMaxExternalClients bounds concurrent non-localhost connections.
	DefaultMaxExternalClients = 4

	// DefaultBroadcastWindow is the debounce window for session broadcasts.
	DefaultBroadcastWindow = 50 * time.Millisecond

	// defaultSearchTimeout bounds browse searches issued on behalf of clients.
	defaultSearchTimeout = 10 * time.Second
)

// Server handles Socket.io connections and events.
type Server struct {
	io         *socket.Server
	controller *session.Controller
	searcher   resolve.Searcher
	limiter    *ConnectionLimiter
	debouncer  *BroadcastDebouncer

	mu        sync.RWMutex
	clients   map[string]*socket.Socket
	lastQueue []catalog.Track
}

// NewServer creates a new Socket.io server bound to the session controller.
// The searcher serves browse requests; it may be nil to disable search events.
func NewServer(controller *session.Controller, searcher resolve.Searcher) (*Server, error) {
	// Configure Socket.io server options
	opts := socket.DefaultServerOptions()
	opts.SetPingTimeout(20 * time.Second)
	opts.SetPingInterval(25 * time.Second)
	opts.SetCors(&types.Cors{
		Origin:      "*",
		Credentials: true,
	})

	server := socket.NewServer(nil, opts)

	s := &Server{
		io:         server,
		controller: controller,
		searcher:   searcher,
		limiter:    NewConnectionLimiter(DefaultMaxExternalClients),
		clients:    make(map[string]*socket.Socket),
	}
	s.debouncer = NewBroadcastDebouncer(DefaultBroadcastWindow, s.BroadcastState, s.BroadcastQueue)

	s.setupHandlers()

	return s, nil
}

// NotifySessionChange is the controller's change callback. Broadcasts are
// debounced so bursts of session mutations collapse into one push per kind.
func (s *Server) NotifySessionChange(sess session.Session) {
	s.mu.Lock()
	queueChanged := !sameQueue(s.lastQueue, sess.Queue)
	if queueChanged {
		s.lastQueue = sess.Queue
	}
	s.mu.Unlock()

	s.debouncer.TriggerState()
	if queueChanged {
		s.debouncer.TriggerQueue()
	}
}

func sameQueue(a, b []catalog.Track) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return false
		}
	}
	return true
}

// setupHandlers registers all Socket.io event handlers.
func (s *Server) setupHandlers() {
	s.io.On("connection", func(clients ...any) {
		client := clients[0].(*socket.Socket)
		clientID := string(client.Id())
		remoteIP := handshakeIP(client)

		_, evictedID := s.limiter.TryAdd(clientID, remoteIP)
		if evictedID != "" {
			s.mu.RLock()
			evicted := s.clients[evictedID]
			s.mu.RUnlock()
			if evicted != nil {
				log.Info().Str("id", evictedID).Msg("Evicting oldest external client")
				evicted.Disconnect(true)
			}
		}

		log.Info().Str("id", clientID).Str("ip", remoteIP).Msg("Client connected")

		s.mu.Lock()
		s.clients[clientID] = client
		s.mu.Unlock()

		// Send initial state after small delay
		go func() {
			time.Sleep(100 * time.Millisecond)
			s.pushState(client)
			s.pushQueue(client)
		}()

		// Handle disconnect
		client.On("disconnect", func(args ...any) {
			reason := ""
			if len(args) > 0 {
				if r, ok := args[0].(string); ok {
					reason = r
				}
			}
			log.Info().Str("id", clientID).Str("reason", reason).Msg("Client disconnected")

			s.limiter.Remove(clientID)

			s.mu.Lock()
			delete(s.clients, clientID)
			s.mu.Unlock()
		})

		// Session state events
		client.On("getState", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("getState")
			s.pushState(client)
		})

		client.On("getQueue", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("getQueue")
			s.pushQueue(client)
		})

		// Playback control events
		client.On("play", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("play")
			if !s.controller.Snapshot().IsPlaying {
				s.controller.TogglePlayPause()
			}
		})

		client.On("pause", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("pause")
			if s.controller.Snapshot().IsPlaying {
				s.controller.TogglePlayPause()
			}
		})

		client.On("toggle", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("toggle")
			s.controller.TogglePlayPause()
		})

		client.On("next", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("next")
			go s.controller.SkipNext(context.Background())
		})

		client.On("seek", func(args ...any) {
			if len(args) > 0 {
				if pos, ok := args[0].(float64); ok {
					log.Debug().Str("id", clientID).Float64("pos", pos).Msg("seek")
					s.controller.SeekTo(pos)
				}
			}
		})

		// Queue events
		client.On("playTrack", func(args ...any) {
			log.Debug().Str("id", clientID).Interface("data", args).Msg("playTrack")
			if len(args) == 0 {
				return
			}
			m, ok := args[0].(map[string]interface{})
			if !ok {
				return
			}

			track, ok := parseTrack(m["track"])
			if !ok {
				log.Warn().Str("id", clientID).Msg("playTrack without a valid track")
				return
			}

			var queue []catalog.Track
			if raw, ok := m["queue"].([]interface{}); ok {
				for _, entry := range raw {
					if t, ok := parseTrack(entry); ok {
						queue = append(queue, t)
					}
				}
			}

			go s.controller.PlayTrack(context.Background(), track, queue)
		})

		client.On("addToQueue", func(args ...any) {
			log.Debug().Str("id", clientID).Interface("data", args).Msg("addToQueue")
			if len(args) == 0 {
				return
			}
			if track, ok := parseTrack(args[0]); ok {
				s.controller.AddToQueue(track)
			}
		})

		// Browse events
		client.On("search", func(args ...any) {
			if s.searcher == nil || len(args) == 0 {
				return
			}
			m, ok := args[0].(map[string]interface{})
			if !ok {
				return
			}
			query, _ := m["query"].(string)
			if query == "" {
				return
			}
			maxResults := 0
			if v, ok := m["maxResults"].(float64); ok {
				maxResults = int(v)
			}

			log.Debug().Str("id", clientID).Str("query", query).Msg("search")

			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), defaultSearchTimeout)
				defer cancel()

				results, err := s.searcher.Search(ctx, query, maxResults)
				if err != nil {
					log.Error().Err(err).Str("query", query).Msg("Search failed")
					client.Emit("pushSearchResults", map[string]interface{}{
						"query": query,
						"items": []resolve.SearchResult{},
						"error": err.Error(),
					})
					return
				}
				client.Emit("pushSearchResults", map[string]interface{}{
					"query": query,
					"items": results,
				})
			}()
		})
	})
}

// parseTrack converts a client payload into a catalog track.
func parseTrack(v any) (catalog.Track, bool) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return catalog.Track{}, false
	}

	var t catalog.Track
	t.ID, _ = m["id"].(string)
	t.Title, _ = m["title"].(string)
	t.Artist, _ = m["artist"].(string)
	t.Album, _ = m["album"].(string)
	t.CoverURL, _ = m["coverUrl"].(string)
	if d, ok := m["durationHintSeconds"].(float64); ok {
		t.DurationHint = int(d)
	}

	if !t.Valid() {
		return catalog.Track{}, false
	}
	return t, true
}

// handshakeIP extracts the remote host from the Socket.io handshake address.
func handshakeIP(client *socket.Socket) string {
	handshake := client.Handshake()
	if handshake == nil {
		return ""
	}
	if host, _, err := net.SplitHostPort(handshake.Address); err == nil {
		return host
	}
	return handshake.Address
}

// pushState sends the current session snapshot to a client.
func (s *Server) pushState(client *socket.Socket) {
	client.Emit("pushState", s.controller.Snapshot())
}

// pushQueue sends the current queue to a client.
func (s *Server) pushQueue(client *socket.Socket) {
	client.Emit("pushQueue", s.controller.Snapshot().Queue)
}

// BroadcastState sends the session snapshot to all connected clients.
func (s *Server) BroadcastState() {
	state := s.controller.Snapshot()

	s.io.Emit("pushState", state)

	if log.Debug().Enabled() {
		data, _ := json.Marshal(state)
		s.mu.RLock()
		clientCount := len(s.clients)
		s.mu.RUnlock()
		log.Debug().RawJSON("state", data).Int("clients", clientCount).Msg("Broadcast state")
	}
}

// BroadcastQueue sends the queue to all connected clients.
func (s *Server) BroadcastQueue() {
	s.io.Emit("pushQueue", s.controller.Snapshot().Queue)
}

// ServeHTTP implements http.Handler for the Socket.io server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.io.ServeHandler(nil).ServeHTTP(w, r)
}

// Close closes the Socket.io server.
func (s *Server) Close() error {
	s.debouncer.Stop()
	s.io.Close(nil)
	return nil
}
