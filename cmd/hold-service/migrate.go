package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/andreasstove999/ecommerce-system/services/hold-service-go/internal/db"
	"github.com/andreasstove999/ecommerce-system/services/hold-service-go/internal/logging"
)

func newMigrateCommand(v *viper.Viper) *cobra.Command {
	var down int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(v)
			if err != nil {
				return err
			}
			if err := requirePostgres(cfg, "migrate"); err != nil {
				return err
			}
			logger = logging.Component(logger, "migrate")
			if down > 0 {
				return db.RollbackMigrations(cfg.DatabaseDSN, down, logger)
			}
			return db.RunMigrations(cfg.DatabaseDSN, logger)
		},
	}
	cmd.Flags().IntVar(&down, "down", 0, "roll back this many migrations instead of applying")
	return cmd
}
