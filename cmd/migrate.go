package cmd

import (
	"context"
	"errors"

	"counseling/internal/config"
	"counseling/internal/infra/postgres"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	var steps int
	var command = &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or roll back the Postgres schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			setupLogger(cfg.Log)
			if cfg.Postgres.DSN == "" {
				return errors.New("POSTGRES_DSN is required")
			}

			ctx := log.Logger.WithContext(context.Background())
			st, err := postgres.Open(ctx, cfg.Postgres)
			if err != nil {
				return err
			}
			defer st.Close()

			if args[0] == "down" {
				return st.MigrateDown(ctx, steps)
			}
			return st.Migrate(ctx)
		},
	}

	command.Flags().IntVar(&steps, "steps", 1, "Number of migrations to roll back")
	return command
}
