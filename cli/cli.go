package cli

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conveyorhq/conveyor/pkg/client"
	"github.com/conveyorhq/conveyor/pkg/worker"
)

// New builds the conveyor command tree around the given client.
func New(c *client.Client) *cobra.Command {
	root := &cobra.Command{
		Use:   "conveyor",
		Short: "Durable database-backed background jobs",
		// Errors are logged by Execute callers; keep cobra quiet.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.AddCommand(
		runCmd(c),
		clearCompletedCmd(c),
		statsCmd(c),
		purgeProcessingCmd(c),
		runJobCmd(c),
	)
	return root
}

func runCmd(c *client.Client) *cobra.Command {
	var (
		queues               []string
		maxProcesses         int
		maxJobsPerProcess    int
		maxPendingPerProcess int
		statsEvery           time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the worker until SIGINT or SIGTERM",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadConfig()
			if err != nil {
				return err
			}
			// Environment supplies defaults; explicit flags win.
			if !cmd.Flags().Changed("queue") {
				queues = cfg.Queues
			}
			if !cmd.Flags().Changed("max-processes") {
				maxProcesses = cfg.MaxProcesses
			}
			if !cmd.Flags().Changed("max-jobs-per-process") {
				maxJobsPerProcess = cfg.MaxJobsPerProcess
			}
			if !cmd.Flags().Changed("max-pending-per-process") {
				maxPendingPerProcess = cfg.MaxPendingPerProcess
			}
			if !cmd.Flags().Changed("stats-every") {
				statsEvery = cfg.StatsEvery
			}

			opts := []worker.Option{
				worker.OnQueues(queues...),
				worker.MaxProcesses(maxProcesses),
				worker.MaxPendingPerProcess(maxPendingPerProcess),
				worker.StatsEvery(statsEvery),
				worker.LostTimeout(cfg.LostTimeout),
			}
			if maxJobsPerProcess > 0 {
				opts = append(opts, worker.MaxJobsPerProcess(maxJobsPerProcess))
			}
			if cfg.ResultRetention > 0 {
				opts = append(opts, worker.ResultRetention(cfg.ResultRetention))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			w := worker.NewWorker(c, opts...)
			return w.Start(ctx)
		},
	}

	cmd.Flags().StringSliceVar(&queues, "queue", []string{"default"}, "queue to serve (repeatable)")
	cmd.Flags().IntVar(&maxProcesses, "max-processes", 10, "executor pool size")
	cmd.Flags().IntVar(&maxJobsPerProcess, "max-jobs-per-process", 0, "recycle an executor after this many jobs (0 = never)")
	cmd.Flags().IntVar(&maxPendingPerProcess, "max-pending-per-process", 1, "backpressure factor per executor")
	cmd.Flags().DurationVar(&statsEvery, "stats-every", time.Minute, "interval between queue stats log lines")
	return cmd
}

func clearCompletedCmd(c *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-completed",
		Short: "Delete all SUCCESSFUL results",
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := c.Store().ClearCompleted(cmd.Context())
			if err != nil {
				return err
			}
			slog.Info("cleared completed results", "count", n)
			return nil
		},
	}
}

func purgeProcessingCmd(c *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "purge-processing",
		Short: "Delete all process records (recover from a crashed worker fleet)",
		Long: "Deletes every in-flight process record. Only safe when no " +
			"worker is running; jobs whose processes are purged are gone, " +
			"not retried.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := c.Store().PurgeProcessing(cmd.Context())
			if err != nil {
				return err
			}
			slog.Info("purged process records", "count", n)
			return nil
		},
	}
}

func statsCmd(c *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print per-queue record counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			stats, err := c.Store().QueueStats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-20s %10s %10s %10s %10s %10s %10s %10s\n",
				"QUEUE", "QUEUED", "RUNNING", "OK", "ERRORED", "CANCELLED", "DEFERRED", "LOST")
			for _, qs := range stats {
				fmt.Fprintf(out, "%-20s %10d %10d %10d %10d %10d %10d %10d\n",
					qs.Queue, qs.Requests, qs.Processes,
					qs.Successful, qs.Errored, qs.Cancelled, qs.Deferred, qs.Lost)
			}
			return nil
		},
	}
}
