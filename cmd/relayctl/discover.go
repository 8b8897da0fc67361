package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"relayctl/internal/config"
	"relayctl/internal/discovery"
)

func newDiscoverCmd(opts *rootOptions) *cobra.Command {
	var coordinatorAddr string
	var clash bool
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List live relays (or print the clash file) from the coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			if cfg.Discovery == nil {
				cfg.Discovery = &config.DiscoveryConfig{}
				config.ApplyDefaults(&cfg)
			}
			d := cfg.Discovery
			if coordinatorAddr != "" {
				d.Coordinator = coordinatorAddr
			}
			if err := config.Validate(config.Config{Discovery: d}); err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			client := discovery.New(*d, discovery.WithLogger(logger))
			if err := client.Authenticate(ctx); err != nil {
				return err
			}

			if clash {
				content, err := client.FetchClashFile(ctx)
				if err != nil {
					return err
				}
				_, err = io.WriteString(cmd.OutOrStdout(), content)
				return err
			}

			list, err := client.FetchRegistry(ctx)
			if err != nil {
				if errors.Is(err, discovery.ErrNotAuthenticated) {
					logger.Warn("authenticate before fetching the registry")
				}
				return err
			}
			return writeOutput(cmd.OutOrStdout(), opts.format, list, func(w io.Writer) {
				if len(list) == 0 {
					fmt.Fprintln(w, "no live relays")
					return
				}
				ids := make([]string, 0, len(list))
				for id := range list {
					ids = append(ids, id)
				}
				sort.Strings(ids)
				fmt.Fprintf(w, "%-20s  %-39s  %-6s  %-20s\n", "NODE_ID", "IP", "PORT", "LAST_SEEN")
				for _, id := range ids {
					r := list[id]
					fmt.Fprintf(w, "%-20s  %-39s  %-6d  %-20s\n", id, r.IP, r.Port, r.LastSeen.UTC().Format(time.RFC3339))
				}
			})
		},
	}
	cmd.Flags().StringVar(&coordinatorAddr, "coordinator", "", "coordinator address override")
	cmd.Flags().BoolVar(&clash, "clash", false, "print the clash file instead of the relay list")
	return cmd
}
