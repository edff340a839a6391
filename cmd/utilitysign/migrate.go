package main

import (
	"errors"

	"utilitysign/internal/db"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return errors.New("database.url (DATABASE_URL) is required")
			}
			logger, err := newLogger(cfg.Log.Level, true)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if err := db.Migrate(cmd.Context(), cfg.Database.URL); err != nil {
				return err
			}
			version, err := db.MigrationVersion(cmd.Context(), cfg.Database.URL)
			if err != nil {
				return err
			}
			logger.Info("Migrations applied", zap.Int64("version", version))
			return nil
		},
	}
}
