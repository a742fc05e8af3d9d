package main

import (
	"github.com/spf13/cobra"

	"triple-impacto/internal/config"
	"triple-impacto/internal/database"
	"triple-impacto/internal/logging"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig()
			logger := logging.New(cfg.LogLevel, cfg.LogFormat)

			db, err := database.ConnectPostgres(cfg, logger)
			if err != nil {
				return err
			}
			if err := database.Migrate(db); err != nil {
				return err
			}

			logger.Info("Database migrated")
			return nil
		},
	}
}
