package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mtowater/waterbilling/internal/config"
	"github.com/mtowater/waterbilling/internal/storage"
	"github.com/mtowater/waterbilling/internal/tariff"
)

var tariffImportCmd = &cobra.Command{
	Use:   "tariff-import [pdf-file]",
	Short: "Import customer-type rates from a tariff schedule PDF",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromEnv()
		path := cfg.TariffPDFPath
		if len(args) == 1 {
			path = args[0]
		}

		st, err := storage.Open(cmd.Context(), storage.Config{Driver: cfg.StorageDriver, DSN: cfg.StorageDSN})
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer st.Close()

		schedule, err := tariff.Import(cmd.Context(), st, path)
		if err != nil {
			return err
		}
		fmt.Printf("Imported %d customer types from %s\n", len(schedule.Types), path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tariffImportCmd)
}
