package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/edumarques81/stellar-artwork/internal/config"
	"github.com/edumarques81/stellar-artwork/internal/domain/artwork"
	"github.com/edumarques81/stellar-artwork/internal/infra/cache"
)

var errNoCache = errors.New("no artwork cache yet, start the daemon first")

func newCatCmd(opts *rootOptions) *cobra.Command {
	var (
		info      artwork.ArtInfo
		thumbnail bool
		out       string
	)

	cmd := &cobra.Command{
		Use:   "cat [id]",
		Short: "Write cached artwork to stdout or a file without fetching",
		Long: `cat reads the disk cache read-only, so it works next to a running daemon.
The artwork is named by its stable id or by --artist/--album/--uri.`,
		Example: `  stellar-artwork cat 6f1ed002ab5595859014ebf0951522d9 > cover.jpg
  stellar-artwork cat --artist "Nina Simone" --album "Pastel Blues" --thumbnail -o thumb.jpg`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ := artwork.TypeFull
			if thumbnail {
				typ = artwork.TypeThumbnail
			}

			var key artwork.Key
			switch {
			case len(args) == 1:
				if !artwork.IsValidID(args[0]) {
					return fmt.Errorf("invalid artwork id %q", args[0])
				}
				key = artwork.Key{ID: args[0], Type: typ}
			default:
				k, err := artwork.KeyFor(info, typ)
				if err != nil {
					return fmt.Errorf("need an id or --artist/--album or --uri: %w", err)
				}
				key = k
			}

			w := cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			_, err := catArtwork(opts.cfg, key, w)
			return err
		},
	}

	cmd.Flags().StringVar(&info.Artist, "artist", "", "album artist")
	cmd.Flags().StringVar(&info.Album, "album", "", "album title")
	cmd.Flags().StringVar(&info.URI, "uri", "", "track URI (library path or http URL)")
	cmd.Flags().BoolVar(&thumbnail, "thumbnail", false, "read the thumbnail rendition")
	cmd.Flags().StringVarP(&out, "output", "o", "", "write to this file instead of stdout")
	return cmd
}

// catArtwork streams the cached rendition for key to w through a
// read-only handle on the daemon's cache.
func catArtwork(cfg *config.Config, key artwork.Key, w io.Writer) (*cache.Entry, error) {
	db := cache.NewDB(filepath.Join(cfg.Cache.Dir, "artwork.db"), cache.WithReadOnly())
	if err := db.Open(); err != nil {
		if cache.IsMissing(err) {
			return nil, errNoCache
		}
		return nil, err
	}
	defer db.Close()

	store := cache.NewStore(db, filepath.Join(cfg.Cache.Dir, "blobs"))
	entry, r, err := store.Open(key.String())
	if errors.Is(err, cache.ErrNotFound) {
		return nil, notCached(store, key)
	}
	if err != nil {
		return nil, err
	}
	defer r.Close()

	if _, err := io.Copy(w, r); err != nil {
		return nil, fmt.Errorf("copy %s: %w", key, err)
	}
	return entry, nil
}

// notCached names the renditions cached under key's id, if any.
func notCached(store *cache.Store, key artwork.Key) error {
	others, err := store.Lookup(key.ID)
	if err != nil || len(others) == 0 {
		return fmt.Errorf("%s is not cached", key)
	}
	types := make([]string, len(others))
	for i, e := range others {
		types[i] = e.Type
	}
	return fmt.Errorf("%s is not cached, have: %s", key, strings.Join(types, ", "))
}
