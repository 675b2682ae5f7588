package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/edumarques81/stellar-artwork/internal/config"
	"github.com/edumarques81/stellar-artwork/internal/version"
)

// rootOptions holds the persistent flags and the loaded config.
type rootOptions struct {
	configPath string
	debug      bool
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "stellar-artwork",
		Short: "Album artwork cache and fetch service",
		Long: `stellar-artwork resolves album artwork for an MPD library through a
memory tier, a disk tier and a chain of local and remote sources.

Examples:
  stellar-artwork serve --mpd-host localhost
  stellar-artwork fetch --artist "Nina Simone" --album "Pastel Blues" -o cover.jpg
  stellar-artwork warm
  stellar-artwork clear-cache --disk
  stellar-artwork cat 6f1ed002ab5595859014ebf0951522d9 > cover.jpg`,
		Version:       version.GetInfo().String(),
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultPath(), "config file")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	cmd.AddCommand(
		newServeCmd(opts),
		newFetchCmd(opts),
		newWarmCmd(opts),
		newClearCacheCmd(opts),
		newCatCmd(opts),
	)
	return cmd
}

func (o *rootOptions) load() error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	o.cfg = cfg
	setupLogging(cfg.Log.Level, o.debug)
	return nil
}

func setupLogging(level string, debug bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
