package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/edumarques81/stellar-artwork/internal/domain/artwork"
)

func newFetchCmd(opts *rootOptions) *cobra.Command {
	var (
		info    artwork.ArtInfo
		typName string
		out     string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Resolve one artwork through the cache and sources",
		Example: `  stellar-artwork fetch --artist "Nina Simone" --album "Pastel Blues" -o cover.jpg
  stellar-artwork fetch --uri "Jazz/Pastel Blues/01.flac" --type thumbnail`,
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, err := artwork.ParseType(typName)
			if err != nil {
				return err
			}
			if err := info.Validate(); err != nil {
				return fmt.Errorf("need --artist/--album or --uri: %w", err)
			}

			a, err := newApp(opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			art, err := a.manager.Fetch(ctx, info, typ)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "key:     %s\n", art.Key)
			fmt.Fprintf(w, "source:  %s\n", art.Source)
			fmt.Fprintf(w, "size:    %dx%d (%d bytes, %s)\n", art.Width, art.Height, len(art.Data), art.MimeType)
			if dom, ok := art.Palette.Dominant(); ok {
				fmt.Fprintf(w, "color:   %s\n", dom.Hex)
			}
			if out != "" {
				if err := os.WriteFile(out, art.Data, 0644); err != nil {
					return err
				}
				fmt.Fprintf(w, "written: %s\n", out)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&info.Artist, "artist", "", "album artist")
	cmd.Flags().StringVar(&info.Album, "album", "", "album title")
	cmd.Flags().StringVar(&info.URI, "uri", "", "track URI (library path or http URL)")
	cmd.Flags().StringVar(&typName, "type", "full", "rendition: full or thumbnail")
	cmd.Flags().StringVarP(&out, "output", "o", "", "write the image to this file")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "give up after this long")
	return cmd
}
