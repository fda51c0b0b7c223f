package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"counseling/internal/config"
	"counseling/internal/worker"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// reapCmd fails stale tasks from outside the API process, for example from a cron job
// after the API crashed. It cannot see in-process attempts, so StaleAfter must exceed
// the call timeout. Attempts it fails anyway have their later writes rejected by the store.
func reapCmd() *cobra.Command {
	var (
		watch      bool
		interval   time.Duration
		staleAfter time.Duration
	)

	var command = &cobra.Command{
		Use:   "reap",
		Short: "Fail tasks that stopped making progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			setupLogger(cfg.Log)
			if err := applyReapFlags(cfg, staleAfter); err != nil {
				return err
			}
			if interval <= 0 {
				interval = cfg.Pipeline.ReapInterval
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx = log.Logger.WithContext(ctx)

			c := &container{cfg: cfg, checks: make(map[string]func(ctx context.Context) error)}
			defer c.close()
			if err := c.openStore(ctx); err != nil {
				return err
			}
			if err := c.openEvents(ctx); err != nil {
				return err
			}
			reaper := c.reaper(nil)

			if !watch {
				n, err := reaper.Sweep(ctx)
				if err != nil {
					return err
				}
				log.Info().Int("reaped", n).Msg("sweep finished")
				return nil
			}

			err := worker.NewTicker("reaper", interval, func(ctx context.Context) error {
				_, err := reaper.Sweep(ctx)
				return err
			}).Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}

	command.Flags().BoolVar(&watch, "watch", false, "Keep sweeping every interval until interrupted")
	command.Flags().DurationVar(&interval, "interval", 0, "Sweep interval with --watch, defaults to PIPELINE_REAP_INTERVAL")
	command.Flags().DurationVar(&staleAfter, "stale-after", 0, "Override PIPELINE_STALE_AFTER")
	return command
}

// applyReapFlags checks that an out-of-process sweep can see the tasks and
// cannot cut a capability call short.
func applyReapFlags(cfg *config.Config, staleAfter time.Duration) error {
	if cfg.Store.Backend != "postgres" {
		return fmt.Errorf("reap needs a shared store, STORE_BACKEND is %q", cfg.Store.Backend)
	}
	if staleAfter > 0 {
		cfg.Pipeline.StaleAfter = staleAfter
	}
	return cfg.Pipeline.CheckStaleAfter()
}
