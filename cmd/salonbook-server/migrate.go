package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun"

	"salonbook/backend/internal/store/postgres"
)

func migrateCmd(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the postgres schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd.Context(), load, func(ctx context.Context, log *slog.Logger, db *bun.DB) error {
				applied, err := postgres.MigrateUp(ctx, db)
				if err != nil {
					return fmt.Errorf("migrate up: %w", err)
				}
				log.Info("migrations applied", slog.Int("count", len(applied)), slog.Any("names", applied))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the last migration group",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd.Context(), load, func(ctx context.Context, log *slog.Logger, db *bun.DB) error {
				rolled, err := postgres.MigrateDown(ctx, db)
				if err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
				log.Info("migrations rolled back", slog.Int("count", len(rolled)), slog.Any("names", rolled))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd.Context(), load, func(ctx context.Context, log *slog.Logger, db *bun.DB) error {
				statuses, err := postgres.MigrationsStatus(ctx, db)
				if err != nil {
					return fmt.Errorf("migrate status: %w", err)
				}
				out := cmd.OutOrStdout()
				for _, s := range statuses {
					state := "pending"
					if s.Applied {
						state = "applied"
					}
					fmt.Fprintf(out, "%-40s %s\n", s.Name, state)
				}
				return nil
			})
		},
	})

	return cmd
}

func withDatabase(ctx context.Context, load loader, fn func(context.Context, *slog.Logger, *bun.DB) error) error {
	cfg, log, err := load()
	if err != nil {
		return err
	}
	if cfg.StoreDriver != "postgres" {
		return errors.New("migrations require store.driver=postgres")
	}

	db, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.PoolConfig{MaxOpenConns: 2, MaxIdleConns: 1})
	if err != nil {
		args := append([]any{slog.Any("err", err)}, databaseLogArgs(cfg.DatabaseURL)...)
		log.Error("database connection failed", args...)
		return err
	}
	defer func() {
		if err := postgres.Close(db); err != nil {
			log.Warn("database close failed", slog.Any("err", err))
		}
	}()

	return fn(ctx, log, db)
}
