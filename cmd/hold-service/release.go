package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/andreasstove999/ecommerce-system/services/hold-service-go/internal/logging"
	"github.com/andreasstove999/ecommerce-system/services/hold-service-go/internal/sweeper"
)

func newReleaseExpiredCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "release-expired",
		Short: "Return the stock of every expired hold once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(v)
			if err != nil {
				return err
			}
			if err := requirePostgres(cfg, "release-expired"); err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger, appOptions{messaging: true})
			if err != nil {
				return err
			}
			defer a.Close()

			n := sweeper.New(a.svc, cfg.SweepInterval, cfg.SweepBatch, logging.Component(logger, "sweeper")).Sweep(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "released %d expired holds\n", n)
			return cmd.Context().Err()
		},
	}
}
