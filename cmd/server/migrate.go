package main

import (
	"github.com/spf13/cobra"

	"algoedge/internal/repository"
	"algoedge/pkg/utils"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := bootstrap()
		if err != nil {
			return err
		}
		defer logger.Sync()

		db, err := initDatabase(cmd.Context(), cfg)
		if err != nil {
			logger.Error("database connection failed", utils.Err(err))
			return err
		}
		defer db.Close()

		if err := repository.Migrate(cmd.Context(), db); err != nil {
			logger.Error("migration failed", utils.Err(err))
			return err
		}

		logger.Info("schema applied")
		return nil
	},
}
