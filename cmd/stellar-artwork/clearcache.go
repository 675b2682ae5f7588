package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// errDaemonDown is returned when no daemon answers at the given address.
var errDaemonDown = errors.New("artwork daemon not reachable")

func newClearCacheCmd(opts *rootOptions) *cobra.Command {
	var (
		memory bool
		disk   bool
		addr   string
	)

	cmd := &cobra.Command{
		Use:   "clear-cache",
		Short: "Empty the memory and/or disk artwork cache",
		Long: `clear-cache asks a running daemon to empty its cache tiers. When no
daemon is running the disk tier is purged directly; the memory tier only
exists inside a running daemon.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !memory && !disk {
				memory = true
			}
			if addr == "" {
				addr = "http://localhost:" + strconv.Itoa(opts.cfg.Server.Port)
			}
			w := cmd.OutOrStdout()

			client := newDaemonClient()
			for _, tier := range []struct {
				name string
				on   bool
			}{{"memory", memory}, {"disk", disk}} {
				if !tier.on {
					continue
				}
				err := postClear(client, addr, tier.name)
				switch {
				case err == nil:
					fmt.Fprintf(w, "%s cache cleared\n", tier.name)
				case errors.Is(err, errDaemonDown) && tier.name == "disk":
					if err := purgeDiskOffline(opts); err != nil {
						return err
					}
					fmt.Fprintln(w, "disk cache cleared (daemon not running)")
				case errors.Is(err, errDaemonDown):
					fmt.Fprintln(w, "memory cache: daemon not running, nothing to clear")
				default:
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&memory, "memory", false, "clear the memory tier")
	cmd.Flags().BoolVar(&disk, "disk", false, "clear the disk tier")
	cmd.Flags().StringVar(&addr, "addr", "", "daemon base URL (default http://localhost:<port>)")
	return cmd
}

func newDaemonClient() *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 1
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = 500 * time.Millisecond
	client.HTTPClient.Timeout = 5 * time.Second
	client.Logger = nil
	// Hand the last response back so a refusal is not mistaken for a dead daemon.
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return client
}

func postClear(client *retryablehttp.Client, addr, tier string) error {
	resp, err := client.Post(addr+"/api/v1/cache/"+tier+"/clear", "application/json", nil)
	if err != nil {
		log.Debug().Err(err).Str("addr", addr).Msg("Daemon request failed")
		return fmt.Errorf("%w at %s", errDaemonDown, addr)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon refused %s clear: %s", tier, resp.Status)
	}
	return nil
}

func purgeDiskOffline(opts *rootOptions) error {
	db, store, err := openDiskStore(opts.cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	return store.Clear()
}
