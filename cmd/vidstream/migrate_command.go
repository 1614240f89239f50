package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vidstream/vidstream/internal/database"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd.Context(), ctx, func(db *database.DB, url string) error {
				if err := db.Migrate(url); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied")
				return nil
			})
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps <= 0 {
				return fmt.Errorf("--steps must be positive, got %d", steps)
			}
			return withDatabase(cmd.Context(), ctx, func(db *database.DB, url string) error {
				if err := db.MigrateDown(url, steps); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Rolled back %d migration(s)\n", steps)
				return nil
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "Number of migrations to roll back")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd.Context(), ctx, func(db *database.DB, url string) error {
				v, dirty, err := db.MigrationVersion(url)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if dirty {
					fmt.Fprintf(out, "%d (dirty)\n", v)
					return nil
				}
				fmt.Fprintln(out, v)
				return nil
			})
		},
	})

	return cmd
}

func withDatabase(parent context.Context, ctx *commandContext, fn func(*database.DB, string) error) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if parent == nil {
		parent = context.Background()
	}
	connectCtx, cancel := context.WithTimeout(parent, 10*time.Second)
	defer cancel()

	db, err := database.Connect(connectCtx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()
	return fn(db, cfg.Database.URL)
}
