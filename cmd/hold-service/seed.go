package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/andreasstove999/ecommerce-system/services/hold-service-go/internal/seed"
)

func newSeedCommand(v *viper.Viper) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create products from a YAML file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return errors.New("--file is required")
			}
			cfg, logger, err := loadConfig(v)
			if err != nil {
				return err
			}
			if err := requirePostgres(cfg, "seed"); err != nil {
				return err
			}

			f, err := seed.Load(file)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			created, err := seed.Apply(cmd.Context(), a.svc, f)
			for _, p := range created {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%d\n", p.ID, p.Name, p.TotalStock)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "YAML file listing products")
	return cmd
}
