package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"relayctl/internal/config"
	"relayctl/internal/coordinator"
	"relayctl/internal/registry"
	"relayctl/internal/store"
)

func newCoordinatorCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coordinator",
		Short: "Run or inspect the coordinator",
	}
	cmd.AddCommand(newCoordinatorServeCmd(opts), newCoordinatorStatusCmd(opts))
	return cmd
}

func newCoordinatorServeCmd(opts *rootOptions) *cobra.Command {
	var listen, redisAddr, snapshotPath, clashFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the coordinator HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			if cfg.Coordinator == nil {
				cfg.Coordinator = &config.CoordinatorConfig{}
				config.ApplyDefaults(&cfg)
			}
			c := cfg.Coordinator
			if listen != "" {
				c.Listen = listen
			}
			if redisAddr != "" {
				c.RedisAddr = redisAddr
			}
			if snapshotPath != "" {
				c.SnapshotPath = snapshotPath
			}
			if clashFile != "" {
				c.ClashFilePath = clashFile
			}
			if err := config.Validate(config.Config{Coordinator: c}); err != nil {
				logger.Error("invalid coordinator config", zap.Error(err))
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			reg, rdb, err := openRegistry(ctx, c, logger)
			if err != nil {
				logger.Error("open registry", zap.Error(err))
				return err
			}
			if rdb != nil {
				defer rdb.Close()
			}

			srv, err := coordinator.NewServer(*c, coordinator.WithRegistry(reg), coordinator.WithLogger(logger))
			if err != nil {
				logger.Error("build coordinator", zap.Error(err))
				return err
			}

			// Any peer failing cancels the others; Run then shuts down and
			// writes the final snapshot.
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Run(gctx) })
			g.Go(func() error {
				return srv.RunSnapshots(gctx, time.Duration(c.SnapshotIntervalSec)*time.Second)
			})
			if rdb != nil {
				g.Go(func() error {
					return watchRedis(gctx, rdb, logger, redisCheckInterval, redisMaxFailures)
				})
			}
			if err := g.Wait(); err != nil {
				logger.Error("coordinator stopped", zap.Error(err))
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address override")
	cmd.Flags().StringVar(&redisAddr, "redis-addr", "", "use the Redis registry at this address")
	cmd.Flags().StringVar(&snapshotPath, "snapshot", "", "registry snapshot path override")
	cmd.Flags().StringVar(&clashFile, "clash-file", "", "clash file path override")
	return cmd
}

const (
	redisCheckInterval = 10 * time.Second
	redisMaxFailures   = 3
)

// openRegistry returns the Redis registry and its client when redis_addr is
// set, otherwise the in-memory registry and a nil client.
func openRegistry(ctx context.Context, c *config.CoordinatorConfig, logger *zap.Logger) (registry.Registry, *redis.Client, error) {
	if c.RedisAddr == "" {
		logger.Info("using in-memory registry")
		return registry.NewMemory(), nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("redis %s: %w", c.RedisAddr, err)
	}
	logger.Info("using redis registry", zap.String("addr", c.RedisAddr), zap.String("prefix", c.RedisPrefix))
	return registry.NewRedis(rdb, c.RedisPrefix), rdb, nil
}

// watchRedis pings rdb every interval and fails after maxFailures
// consecutive errors. It returns nil when ctx ends.
func watchRedis(ctx context.Context, rdb redis.UniversalClient, logger *zap.Logger, every time.Duration, maxFailures int) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		pingCtx, cancel := context.WithTimeout(ctx, every)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			if failures > 0 {
				logger.Info("redis reachable again")
			}
			failures = 0
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		failures++
		logger.Warn("redis ping failed", zap.Int("failures", failures), zap.Error(err))
		if failures >= maxFailures {
			return fmt.Errorf("redis unreachable after %d checks: %w", failures, err)
		}
	}
}

func newCoordinatorStatusCmd(opts *rootOptions) *cobra.Command {
	var snapshotPath string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the registry snapshot written by the coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			path := snapshotPath
			if path == "" && cfg.Coordinator != nil {
				path = cfg.Coordinator.SnapshotPath
			}
			if path == "" {
				return errors.New("coordinator.snapshot_path is required")
			}

			snap, err := store.LoadSnapshot(path)
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), opts.format, snap, func(w io.Writer) {
				if len(snap.Nodes) == 0 {
					fmt.Fprintln(w, "no registered nodes")
					return
				}
				fmt.Fprintf(w, "%-20s  %-39s  %-6s  %-20s\n", "NODE_ID", "IP", "PORT", "LAST_SEEN")
				for _, n := range snap.Nodes {
					fmt.Fprintf(w, "%-20s  %-39s  %-6d  %-20s\n", n.ID, n.IP, n.Port, n.LastSeen.UTC().Format(time.RFC3339))
				}
			})
		},
	}
	cmd.Flags().StringVar(&snapshotPath, "snapshot", "", "snapshot path override")
	return cmd
}
