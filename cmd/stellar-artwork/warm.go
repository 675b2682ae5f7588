package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/edumarques81/stellar-artwork/internal/domain/artwork"
)

func newWarmCmd(opts *rootOptions) *cobra.Command {
	var (
		basePath string
		full     bool
	)

	cmd := &cobra.Command{
		Use:   "warm",
		Short: "Fill the disk cache for every album in the MPD library",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.mpd == nil {
				return errors.New("warm needs MPD enabled in the config")
			}

			types := []artwork.Type{artwork.TypeThumbnail}
			if full {
				types = append(types, artwork.TypeFull)
			}
			warmer := artwork.NewWarmer(a.manager, artwork.NewMPDAlbumLister(a.mpd, basePath),
				artwork.WithBatchSize(opts.cfg.Warm.BatchSize),
				artwork.WithBatchPause(opts.cfg.Warm.BatchPause.Std()),
				artwork.WithWarmTypes(types...),
			)

			stats, err := warmer.Run(cmd.Context())
			if stats != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "albums: %d  fetched: %d  cached: %d  deferred: %d  failed: %d\n",
					stats.Albums, stats.Fetched, stats.Cached, stats.Deferred, stats.Failed)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&basePath, "path", "", "only warm albums under this library path")
	cmd.Flags().BoolVar(&full, "full", false, "also warm full-resolution renditions")
	return cmd
}
