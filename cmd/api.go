package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"counseling/internal/api"
	"counseling/internal/config"
	"counseling/internal/worker"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func apiCmd() *cobra.Command {
	var port int
	var command = &cobra.Command{
		Use:   "api",
		Short: "Start API server with the in-process pipeline workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			setupLogger(cfg.Log)
			if cmd.Flags().Changed("port") {
				cfg.HTTP.Port = port
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx = log.Logger.WithContext(ctx)

			c, err := wire(ctx, cfg)
			if err != nil {
				return err
			}
			defer c.close()

			pool := worker.NewPool(cfg.Pipeline.Workers, cfg.Pipeline.QueueSize)
			pool.Start(ctx)
			log.Info().
				Str("store", cfg.Store.Backend).
				Int("workers", cfg.Pipeline.Workers).
				Bool("mock_ai", cfg.OpenAI.UseMockAI()).
				Msg("pipeline workers started")

			// attempts running here are skipped by the sweep
			reaper := c.reaper(pool)
			go func() {
				_ = worker.NewTicker("reaper", cfg.Pipeline.ReapInterval, func(ctx context.Context) error {
					_, err := reaper.Sweep(ctx)
					return err
				}).Run(ctx)
			}()

			err = api.NewServer(cfg.HTTP, c.app(pool)).Run(ctx)

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
			defer cancel()
			if perr := pool.Shutdown(shutdownCtx); perr != nil {
				log.Warn().Err(perr).Msg("pipeline workers did not drain, running attempts were cancelled")
			}
			return err
		},
	}

	command.Flags().IntVarP(&port, "port", "p", 8080, "Port to run the server on, overrides HTTP_PORT")
	return command
}
