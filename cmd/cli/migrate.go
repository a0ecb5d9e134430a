package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/souqnear/ranking-service/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL not set")
		}
		ctx := context.Background()
		pool, err := database.NewPool(ctx, database.PoolConfig{URL: cfg.Database.URL, MaxConns: 2})
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := database.Migrate(ctx, pool); err != nil {
			return err
		}
		logger.Info().Msg("Schema is up to date")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
