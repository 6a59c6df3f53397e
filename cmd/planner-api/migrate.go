package main

import (
	"github.com/spf13/cobra"
	"github.com/trendboard/opportunity-planner/internal/config"
	"github.com/trendboard/opportunity-planner/internal/store"
	"github.com/trendboard/opportunity-planner/pkg/migrations"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate the db",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return err
		}

		teardown := setupLogging(cfg)
		defer teardown()

		zap.S().Info("Initializing data store")
		db, err := store.InitDB(cfg)
		if err != nil {
			return err
		}

		s := store.NewStore(db)
		defer func() { _ = s.Close() }()

		if err := migrations.MigrateStore(db); err != nil {
			return err
		}

		zap.S().Info("Db migrated")
		return nil
	},
}
