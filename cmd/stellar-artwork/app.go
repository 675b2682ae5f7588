package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-artwork/internal/config"
	"github.com/edumarques81/stellar-artwork/internal/domain/artwork"
	"github.com/edumarques81/stellar-artwork/internal/infra/cache"
	"github.com/edumarques81/stellar-artwork/internal/infra/enrichment"
	"github.com/edumarques81/stellar-artwork/internal/infra/mediastore"
	"github.com/edumarques81/stellar-artwork/internal/infra/mpd"
	"github.com/edumarques81/stellar-artwork/internal/infra/netstatus"
	"github.com/edumarques81/stellar-artwork/internal/version"
)

// app is the wired artwork pipeline shared by every command.
type app struct {
	cfg     *config.Config
	db      *cache.DB
	store   *cache.Store
	mpd     *mpd.Client // nil when MPD is disabled or unreachable
	net     *netstatus.Monitor
	chain   *enrichment.Chain
	manager *artwork.Manager
	binder  *artwork.Binder
}

func openDiskStore(cfg *config.Config) (*cache.DB, *cache.Store, error) {
	db := cache.NewDB(filepath.Join(cfg.Cache.Dir, "artwork.db"))
	if err := db.Open(); err != nil {
		return nil, nil, fmt.Errorf("open cache database: %w", err)
	}
	store := cache.NewStore(db, filepath.Join(cfg.Cache.Dir, "blobs"),
		cache.WithMaxBytes(cfg.DiskBytes()))
	return db, store, nil
}

func newApp(cfg *config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	db, store, err := openDiskStore(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, db: db, store: store}

	var mediaOpts []mediastore.Option
	if cfg.MPD.Enabled {
		// The client redials on demand, so an MPD that starts later is
		// picked up without a restart.
		client := mpd.NewClient(cfg.MPD.Host, cfg.MPD.Port, cfg.MPD.Password)
		if err := client.Connect(); err != nil {
			log.Warn().Err(err).Str("host", cfg.MPD.Host).Msg("MPD unavailable, will retry on demand")
		}
		a.mpd = client
		mediaOpts = append(mediaOpts, mediastore.WithMPD(client))
	}
	if dir := cfg.MPD.MusicDir; dir != "" {
		if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
			mediaOpts = append(mediaOpts, mediastore.WithMusicFS(osfs.New(dir)))
		} else {
			log.Debug().Str("dir", dir).Msg("Music directory not readable, folder artwork disabled")
		}
	}

	a.net = netstatus.NewMonitor(netstatus.WithMode(netstatus.Mode(cfg.NetworkMode())))

	ua := cfg.Network.UserAgent
	if ua == "" {
		ua = version.GetInfo().UserAgent()
	}
	httpClient := enrichment.NewHTTPClient(enrichment.HTTPConfig{
		Timeout:      cfg.Network.Timeout.Std(),
		RetryMax:     cfg.Network.RetryMax,
		RetryWaitMin: cfg.Network.RetryWaitMin.Std(),
		RetryWaitMax: cfg.Network.RetryWaitMax.Std(),
	})

	mb := enrichment.NewMusicBrainzClient(enrichment.WithMBHTTPClient(httpClient), enrichment.WithMBUserAgent(ua))
	caa := enrichment.NewCAAClient(enrichment.WithHTTPClient(httpClient), enrichment.WithUserAgent(ua))
	a.chain = enrichment.NewChain(
		enrichment.NewCoverArtProvider(mb, caa),
		enrichment.NewLastFMClient(cfg.Network.LastFMAPIKey,
			enrichment.WithLastFMHTTPClient(httpClient), enrichment.WithLastFMUserAgent(ua)),
		enrichment.NewDeezerClient(enrichment.WithDeezerHTTPClient(httpClient), enrichment.WithDeezerUserAgent(ua)),
	)
	downloader := enrichment.NewDownloader(
		enrichment.WithDownloaderHTTPClient(httpClient),
		enrichment.WithDownloaderUserAgent(ua),
	)

	resolver := artwork.NewResolver(
		artwork.WithMediaStore(artwork.NewMediaStoreAdapter(mediastore.NewStore(mediaOpts...))),
		artwork.WithURLFetcher(artwork.NewURLAdapter(downloader)),
		artwork.WithRemoteLookup(artwork.NewRemoteAdapter(a.chain)),
		artwork.WithOnlineChecker(a.net),
	)

	a.manager = artwork.NewManager(artwork.NewCacheStoreAdapter(store), resolver,
		artwork.WithMemoryCache(artwork.NewMemoryCache(cfg.MemoryBytes())),
		artwork.WithNetworkWorkers(cfg.Network.Workers),
		artwork.WithPreferences(artwork.Preferences{
			PreferDownload:    cfg.Preferences.PreferDownload,
			DownloadMissing:   cfg.Preferences.DownloadMissing,
			LowResolutionOnly: cfg.Preferences.LowResolutionOnly,
		}),
	)
	a.binder = artwork.NewBinder(a.manager)

	log.Debug().
		Strs("providers", a.chain.Providers()).
		Bool("mpd", a.mpd != nil).
		Bool("online", a.net.Online()).
		Msg("Artwork pipeline ready")
	return a, nil
}

func (a *app) Close() {
	a.manager.Close()
	if a.mpd != nil {
		a.mpd.Close()
	}
	if err := a.db.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close cache database")
	}
}
