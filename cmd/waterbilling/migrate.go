package main

import (
	"github.com/spf13/cobra"

	"github.com/mtowater/waterbilling/internal/config"
	"github.com/mtowater/waterbilling/internal/migrate"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromEnv()
		return migrate.Up(cmd.Context(), cfg.StorageDriver, cfg.StorageDSN)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromEnv()
		return migrate.Down(cmd.Context(), cfg.StorageDriver, cfg.StorageDSN)
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromEnv()
		return migrate.Status(cmd.Context(), cfg.StorageDriver, cfg.StorageDSN)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)
}
