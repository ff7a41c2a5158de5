package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// sweepCmd runs a single waitlist sweep, for deployments that schedule it
// externally instead of running the in-process ticker.
func sweepCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire stale waitlist entries and retry matching once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := buildApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.close()

			runCtx, stop := context.WithCancel(ctx)
			g := new(errgroup.Group)
			g.Go(func() error { return a.dispatcher.Run(runCtx) })

			sweepCtx, cancel := context.WithTimeout(ctx, cfg.WaitlistMatchTimeout)
			report, sweepErr := a.waitlist.Sweep(sweepCtx)
			cancel()

			// stopping the dispatcher drains queued notifications
			stop()
			if err := g.Wait(); err != nil {
				log.Warn("notification dispatcher stopped with error", slog.Any("err", err))
			}
			if sweepErr != nil {
				return sweepErr
			}

			fmt.Fprintf(cmd.OutOrStdout(), "expired=%d matched=%d unmatched=%d failed=%d\n",
				report.Expired, report.Matched, report.Unmatched, report.Failed)
			return nil
		},
	}
}
