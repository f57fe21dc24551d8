package cmd

import (
	"fmt"
	"time"

	"newsradar/internal/config"
	"newsradar/internal/logger"
	"newsradar/internal/persistence"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		// Opening the connection runs migrations.
		db, err := persistence.NewPostgresDB(cfg.Database.DSN, persistence.Options{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: config.Duration(cfg.Database.ConnMaxLifetime, 5*time.Minute),
		})
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		defer db.Close()

		logger.Info("database schema is up to date")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
