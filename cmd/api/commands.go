package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/circulation-service/cmd/api/config"
	"github.com/circulation-service/cmd/api/database"
	"github.com/circulation-service/cmd/api/library"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"
)

const dateLayout = "2006-01-02"

func newMigrateCmd(cfg *config.AppConfig) *cobra.Command {
	var down bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply (or with --down revert) the postgres migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeDB, err := openPostgres(cmd.Context(), *cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			migration := database.MigrationUp
			if down {
				migration = database.MigrationDown
			}
			err = migration(store, cfg.MigrationsPath)
			if errors.Is(err, migrate.ErrNoChange) {
				slog.Info("schema already current", "path", cfg.MigrationsPath)
				return nil
			}
			if err != nil {
				return err
			}
			slog.Info("migrations applied", "path", cfg.MigrationsPath, "down", down)
			return nil
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "revert every migration")
	return cmd
}

func newFeeCmd() *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "fee <due-date>",
		Short: "Print the late fee owed on a loan due on the given date (YYYY-MM-DD)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			due, err := time.Parse(dateLayout, args[0])
			if err != nil {
				return fmt.Errorf("parsing due date: %w", err)
			}

			now := time.Now().UTC()
			if at != "" {
				now, err = time.Parse(dateLayout, at)
				if err != nil {
					return fmt.Errorf("parsing --at: %w", err)
				}
			}

			fee := library.CalculateFee(due, now)
			fmt.Fprintf(cmd.OutOrStdout(), "%s: $%s (%d days overdue)\n", fee.Status, fee.FeeAmount.StringFixed(2), fee.DaysOverdue)
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "evaluate the fee on this date instead of today (YYYY-MM-DD)")
	return cmd
}
