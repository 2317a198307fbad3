// Package main is the entry point for the Auralis playback backend.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/auralisfm/auralis-playback-backend/internal/domain/playback"
	"github.com/auralisfm/auralis-playback-backend/internal/domain/resolve"
	"github.com/auralisfm/auralis-playback-backend/internal/domain/session"
	"github.com/auralisfm/auralis-playback-backend/internal/infra/cache"
	"github.com/auralisfm/auralis-playback-backend/internal/infra/mpd"
	"github.com/auralisfm/auralis-playback-backend/internal/infra/search"
	"github.com/auralisfm/auralis-playback-backend/internal/transport/socketio"
	"github.com/auralisfm/auralis-playback-backend/internal/version"
)

func main() {
	// Command line flags
	port := flag.String("port", "3001", "HTTP server port")
	mpdHost := flag.String("mpd-host", "localhost", "MPD host")
	mpdPort := flag.Int("mpd-port", 6600, "MPD port")
	mpdPassword := flag.String("mpd-password", "", "MPD password")
	searchBaseURL := flag.String("search-base-url", search.DefaultBaseURL, "Search API base URL")
	streamTemplate := flag.String("stream-url-template", mpd.DefaultStreamURLTemplate, "Stream URL template, %s is replaced with the media ID")
	cacheDB := flag.String("cache-db", cache.DefaultDBPath, "Resolution cache database path (empty disables the durable cache)")
	autoSkip := flag.Int("auto-skip", session.DefaultAutoSkipLimit, "Consecutive resolution failures to skip over before halting")
	staticDir := flag.String("static", "", "Directory to serve static files from (optional)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Print startup banner
	versionInfo := version.GetInfo()
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().Msgf("  %s", versionInfo.String())
	log.Info().Msg("  Streaming Playback Backend")
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().
		Str("port", *port).
		Str("mpd_host", *mpdHost).
		Int("mpd_port", *mpdPort).
		Str("search_base_url", *searchBaseURL).
		Str("cache_db", *cacheDB).
		Int("auto_skip", *autoSkip).
		Bool("password_set", *mpdPassword != "").
		Msg("Configuration")

	// Create the MPD playback surface
	surface := mpd.NewSurface(*mpdHost, *mpdPort, *mpdPassword,
		mpd.WithStreamURLTemplate(*streamTemplate))
	if err := surface.Connect(); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to MPD")
	}
	defer surface.Close()

	// Verify MPD connection
	if err := surface.Ping(); err != nil {
		log.Fatal().Err(err).Msg("MPD ping failed")
	}
	log.Info().Msg("MPD connection verified")

	// Create the search client
	searchClient := search.NewClient(search.WithBaseURL(*searchBaseURL))

	// Resolution cache: in-memory front, optional SQLite back
	var resolutionCache resolve.Cache = resolve.NewMemoryCache()
	if *cacheDB != "" {
		db := cache.NewDB(*cacheDB)
		if err := db.Open(); err != nil {
			log.Warn().Err(err).Msg("Durable resolution cache unavailable, continuing in-memory only")
		} else {
			defer db.Close()
			resolutionCache = resolve.NewLayeredCache(resolutionCache, db)
		}
	}

	resolver := resolve.NewResolver(resolutionCache, searchClient)
	warmer := resolve.NewWarmer(resolver)

	// Wire the transport engine and the session controller
	engine := playback.NewEngine(surface)
	controller := session.NewController(engine, resolver,
		session.WithAutoSkipLimit(*autoSkip))
	engine.SetListener(controller)

	// Create Socket.io server
	socketServer, err := socketio.NewServer(controller, searchClient)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Socket.io server")
	}
	defer socketServer.Close()
	controller.SetOnChange(func(s session.Session) {
		socketServer.NotifySessionChange(s)
		warmer.Submit(upcomingQueries(s))
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go warmer.Start(ctx)

	// Start the MPD watcher and the engine event loop
	if err := surface.Watch(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start MPD watcher")
	}
	go engine.Run(ctx)

	// Setup HTTP server
	mux := http.NewServeMux()

	// Socket.io endpoint
	mux.Handle("/socket.io/", socketServer)

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := surface.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"error","mpd":"disconnected"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","mpd":"connected"}`))
	})

	// REST fallback endpoints share the CORS middleware
	api := http.NewServeMux()

	api.HandleFunc("/api/v1/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(version.GetInfo())
	})

	api.HandleFunc("/api/v1/getState", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(controller.Snapshot())
	})

	api.HandleFunc("/api/v1/getQueue", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(controller.Snapshot().Queue)
	})

	mux.Handle("/api/v1/", corsMiddleware(api))

	// Serve static files if directory specified (SPA mode)
	if *staticDir != "" {
		log.Info().Str("dir", *staticDir).Msg("Serving static files")
		fs := http.FileServer(http.Dir(*staticDir))
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			// Check if the file exists
			path := *staticDir + r.URL.Path
			if r.URL.Path == "/" {
				path = *staticDir + "/index.html"
			}
			if _, err := os.Stat(path); os.IsNotExist(err) {
				// For SPA routing, serve index.html for non-existing paths
				http.ServeFile(w, r, *staticDir+"/index.html")
				return
			}
			fs.ServeHTTP(w, r)
		})
	}

	// Start HTTP server
	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Info().Msg("Shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	log.Info().Str("addr", ":"+*port).Msg("HTTP server listening")
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("HTTP server error")
	}

	log.Info().Msg("Server stopped")
}

// upcomingQueries builds warm-up queries for the tracks after the current
// queue position.
func upcomingQueries(s session.Session) []resolve.TrackQuery {
	if s.QueueIndex < 0 || s.QueueIndex+1 >= len(s.Queue) {
		return nil
	}

	rest := s.Queue[s.QueueIndex+1:]
	queries := make([]resolve.TrackQuery, 0, len(rest))
	for _, t := range rest {
		queries = append(queries, resolve.TrackQuery{Title: t.Title, Artist: t.Artist})
	}
	return queries
}
