package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/alimasry/docupdater/document"
)

// NewFlushProjectCommand creates the flush-project command.
func NewFlushProjectCommand(opts *RootOptions) *cobra.Command {
	var (
		evict             bool
		ignoreFlushErrors bool
	)
	cmd := &cobra.Command{
		Use:   "flush-project <project-id>",
		Short: "Flush every loaded doc of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(a *app) error {
				if evict {
					return a.projects.FlushAndDeleteProject(cmd.Context(), args[0],
						document.FlushAndDeleteOptions{IgnoreFlushErrors: ignoreFlushErrors})
				}
				return a.projects.FlushProject(cmd.Context(), args[0])
			})
		},
	}
	cmd.Flags().BoolVar(&evict, "evict", false, "also remove the docs from the cache")
	cmd.Flags().BoolVar(&ignoreFlushErrors, "ignore-flush-errors", false, "with --evict, evict docs whose flush failed")
	return cmd
}

// NewQueueDeleteCommand creates the queue-delete command.
func NewQueueDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "queue-delete <project-id>",
		Short: "Schedule a project for background flush and eviction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(a *app) error {
				if err := a.cache.QueueFlushAndDeleteProject(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queued project %s\n", args[0])
				return nil
			})
		},
	}
}

// NewWorkerCommand creates the worker command.
func NewWorkerCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Apply editor updates and evict queued projects until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return opts.withApp(ctx, func(a *app) error {
				return runWorker(ctx, a)
			})
		},
	}
}

func runWorker(ctx context.Context, a *app) error {
	queue := document.NewDeleteQueue(a.projects, a.cache, document.DeleteQueueConfig{
		PollInterval: a.cfg.DeleteQueue.PollInterval,
		MinDelay:     a.cfg.DeleteQueue.MinDelay,
		Logger:       a.logger,
	})
	defer queue.Close()

	a.logger.Info("worker started", "dispatchers", a.cfg.Dispatcher.Workers)
	g, gctx := errgroup.WithContext(ctx)
	for range a.cfg.Dispatcher.Workers {
		d := document.NewDispatcher(a.manager, a.realtime, a.cfg.Dispatcher.Wait, a.logger)
		g.Go(func() error { return d.Run(gctx) })
	}
	err := g.Wait()
	a.logger.Info("worker stopping")
	return err
}
