package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"relayctl/internal/agent"
	"relayctl/internal/config"
	"relayctl/internal/metrics"
)

func newAgentCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run the relay heartbeat agent or inspect its cycle log",
	}
	cmd.AddCommand(newAgentRunCmd(opts), newAgentStatsCmd(opts))
	return cmd
}

func newAgentRunCmd(opts *rootOptions) *cobra.Command {
	var nodeID, coordinatorAddr string
	var port, interval int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Authenticate and send heartbeats until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			if cfg.Agent == nil {
				cfg.Agent = &config.AgentConfig{}
				config.ApplyDefaults(&cfg)
			}
			a := cfg.Agent
			if nodeID != "" {
				a.NodeID = nodeID
			}
			if coordinatorAddr != "" {
				a.Coordinator = coordinatorAddr
			}
			if port != 0 {
				a.Port = port
			}
			if interval != 0 {
				a.IntervalSec = interval
			}
			if err := config.Validate(config.Config{Agent: a}); err != nil {
				logger.Error("invalid agent config", zap.Error(err))
				return err
			}

			ag, err := agent.New(*a, agent.WithLogger(logger))
			if err != nil {
				logger.Error("build agent", zap.Error(err))
				return err
			}

			ctx, stop := signalContext()
			defer stop()
			if err := ag.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("agent stopped", zap.Error(err))
				return err
			}
			logger.Info("agent stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&nodeID, "node-id", "", "node id override")
	cmd.Flags().StringVar(&coordinatorAddr, "coordinator", "", "coordinator address override")
	cmd.Flags().IntVar(&port, "port", 0, "advertised relay port override")
	cmd.Flags().IntVar(&interval, "interval", 0, "heartbeat interval in seconds override")
	return cmd
}

func newAgentStatsCmd(opts *rootOptions) *cobra.Command {
	var window time.Duration
	var path string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize the agent cycle log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			if path == "" && cfg.Agent != nil {
				path = cfg.Agent.MetricsPath
			}
			if path == "" {
				return errors.New("agent.metrics_path is required")
			}

			items, err := metrics.ReadCSV(path)
			if err != nil {
				return err
			}
			summary := metrics.Summarize(items, time.Now().UTC().Add(-window))
			return writeOutput(cmd.OutOrStdout(), opts.format, summary, func(w io.Writer) {
				if summary.Count == 0 {
					fmt.Fprintln(w, "no cycles in window")
					return
				}
				fmt.Fprintf(w, "cycles=%d from=%s to=%s\n", summary.Count, summary.From.Format(time.RFC3339), summary.To.Format(time.RFC3339))
				fmt.Fprintf(w, "ok=%d skipped=%d rejected=%d failed=%d reauths=%d success=%.1f%%\n",
					summary.OK, summary.Skipped, summary.Rejected, summary.Failed, summary.Reauths, summary.SuccessRatio*100)
				fmt.Fprintf(w, "duration avg=%.2fms p95=%.2fms distinct_ips=%d last=%s\n",
					summary.AvgDurationMs, summary.P95DurationMs, summary.DistinctIPs, summary.LastOutcome)
			})
		},
	}
	cmd.Flags().DurationVar(&window, "window", 24*time.Hour, "time window")
	cmd.Flags().StringVar(&path, "path", "", "cycle log CSV path override")
	return cmd
}
