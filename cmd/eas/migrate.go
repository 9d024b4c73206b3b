package main

import (
	"github.com/spf13/cobra"

	"github.com/lowmax205/eas/pkg/logger"
)

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the schema of the configured store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := commonRun(ctx)
			if err != nil {
				return err
			}
			defer syncLogger()

			store, err := openStore(ctx, cfg)
			if err != nil {
				logger.Get().Error(ctx, "migration failed", logger.String("driver", cfg.StoreDriver), logger.Error(err))
				return err
			}
			logger.Get().Info(ctx, "schema is up to date", logger.String("driver", cfg.StoreDriver))
			return store.Close()
		},
	}
}
