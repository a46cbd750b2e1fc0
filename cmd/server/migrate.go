package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/and161185/fileshare/internal/migrate"
)

func newMigrateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.init(false)
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				ver, err := migrate.Up(cmd.Context(), a.cfg.DB.DSN, a.log)
				if err != nil {
					return err
				}
				a.log.Info("schema up to date", zap.Int64("version", ver))
				return nil
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := migrate.Down(cmd.Context(), a.cfg.DB.DSN, a.log); err != nil {
					return err
				}
				a.log.Info("rolled back one migration")
				return nil
			},
		},
	)
	return cmd
}
