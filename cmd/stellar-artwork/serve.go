package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/edumarques81/stellar-artwork/internal/config"
	"github.com/edumarques81/stellar-artwork/internal/domain/artwork"
	"github.com/edumarques81/stellar-artwork/internal/domain/nowplaying"
	"github.com/edumarques81/stellar-artwork/internal/transport/httpapi"
	"github.com/edumarques81/stellar-artwork/internal/transport/socketio"
	"github.com/edumarques81/stellar-artwork/internal/version"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		port        int
		mpdHost     string
		mpdPort     int
		mpdPassword string
		musicDir    string
		cacheDir    string
		staticDir   string
		offline     bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the artwork daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			flags := cmd.Flags()
			if flags.Changed("port") {
				cfg.Server.Port = port
			}
			if flags.Changed("mpd-host") {
				cfg.MPD.Host = mpdHost
			}
			if flags.Changed("mpd-port") {
				cfg.MPD.Port = mpdPort
			}
			if flags.Changed("mpd-password") {
				cfg.MPD.Password = mpdPassword
			}
			if flags.Changed("music-dir") {
				cfg.MPD.MusicDir = musicDir
			}
			if flags.Changed("cache-dir") {
				cfg.Cache.Dir = cacheDir
			}
			if flags.Changed("static") {
				cfg.Server.StaticDir = staticDir
			}
			if offline {
				cfg.Network.ForceOffline = true
			}
			return runServe(cfg)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "HTTP server port")
	cmd.Flags().StringVar(&mpdHost, "mpd-host", "", "MPD host")
	cmd.Flags().IntVar(&mpdPort, "mpd-port", 0, "MPD port")
	cmd.Flags().StringVar(&mpdPassword, "mpd-password", "", "MPD password")
	cmd.Flags().StringVar(&musicDir, "music-dir", "", "music library directory")
	cmd.Flags().StringVar(&cacheDir, "cache-dir", "", "artwork cache directory")
	cmd.Flags().StringVar(&staticDir, "static", "", "directory to serve static files from (optional)")
	cmd.Flags().BoolVar(&offline, "offline", false, "never fetch artwork from the network")
	return cmd
}

func runServe(cfg *config.Config) error {
	// Print startup banner
	versionInfo := version.GetInfo()
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().Msgf("  %s", versionInfo.String())
	log.Info().Msg("  Album Artwork Cache")
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().
		Int("port", cfg.Server.Port).
		Str("mpd_host", cfg.MPD.Host).
		Int("mpd_port", cfg.MPD.Port).
		Bool("password_set", cfg.MPD.Password != "").
		Str("cache_dir", cfg.Cache.Dir).
		Int("memory_mb", cfg.Cache.MemoryMB).
		Int("disk_mb", cfg.Cache.DiskMB).
		Str("network", cfg.NetworkMode()).
		Msg("Configuration")

	a, err := newApp(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to start artwork pipeline")
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.net.Start(ctx)

	var serverOpts []socketio.Option
	serverOpts = append(serverOpts, socketio.WithMaxExternalClients(cfg.Server.MaxExternalClients))
	if a.mpd != nil {
		np := nowplaying.NewService(a.mpd, a.binder)
		if err := np.Start(ctx); err != nil {
			log.Warn().Err(err).Msg("Now-playing watcher unavailable")
		} else {
			serverOpts = append(serverOpts, socketio.WithNowPlaying(np))
		}

		if cfg.Warm.Enabled {
			warmer := artwork.NewWarmer(a.manager, artwork.NewMPDAlbumLister(a.mpd, ""),
				artwork.WithBatchSize(cfg.Warm.BatchSize),
				artwork.WithBatchPause(cfg.Warm.BatchPause.Std()),
				artwork.WithWarmInterval(cfg.Warm.Interval.Std()),
			)
			go warmer.Start(ctx)
			defer warmer.Stop()
		}
	}

	socketServer, err := socketio.NewServer(a.binder, a.manager, serverOpts...)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create Socket.io server")
		return err
	}
	defer socketServer.Close()

	// Setup HTTP server
	mux := http.NewServeMux()
	mux.Handle("/socket.io/", socketServer)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		mpdState := "disabled"
		if a.mpd != nil {
			mpdState = "connected"
			if err := a.mpd.Ping(); err != nil {
				mpdState = "disconnected"
			}
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"mpd":    mpdState,
			"online": a.net.Online(),
		})
	})

	mux.HandleFunc("/api/v1/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(version.GetInfo())
	})

	mux.HandleFunc("/api/v1/network", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(a.net.Status())
	})

	httpapi.NewHandler(a.manager).Register(mux)

	// Serve static files if directory specified (SPA mode)
	if dir := cfg.Server.StaticDir; dir != "" {
		log.Info().Str("dir", dir).Msg("Serving static files")
		mux.Handle("/", spaHandler(dir))
	}

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      corsMiddleware(cfg.Server.AllowedOrigins)(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	// SIGUSR1 is the low-memory signal: drop the memory tier.
	go func() {
		memCh := make(chan os.Signal, 1)
		signal.Notify(memCh, syscall.SIGUSR1)
		defer signal.Stop(memCh)
		for {
			select {
			case <-ctx.Done():
				return
			case <-memCh:
				log.Info().Msg("Low-memory signal received")
				a.manager.EvictMemory()
			}
		}
	}()

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

	log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Error().Err(err).Msg("HTTP server error")
		return err
	}

	log.Info().Msg("Server stopped")
	return nil
}

// spaHandler serves files from dir, falling back to index.html for
// client-side routes.
func spaHandler(dir string) http.Handler {
	fs := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := filepath.Join(dir, filepath.Clean("/"+r.URL.Path))
		if r.URL.Path == "/" {
			path = filepath.Join(dir, "index.html")
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			http.ServeFile(w, r, filepath.Join(dir, "index.html"))
			return
		}
		fs.ServeHTTP(w, r)
	})
}
