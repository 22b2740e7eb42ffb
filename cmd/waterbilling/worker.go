package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mtowater/waterbilling/internal/config"
	"github.com/mtowater/waterbilling/internal/cron"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the overdue-notice background worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg := config.FromEnv()
		if err := cron.Run(ctx, cfg.StorageDriver, cfg.StorageDSN); err != nil && err != context.Canceled {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
