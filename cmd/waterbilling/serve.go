package main

import (
	"log"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/mtowater/waterbilling/internal/api"
	"github.com/mtowater/waterbilling/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromEnv()
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.ListenAddr = addr
		}

		mux, err := api.NewMux(cfg)
		if err != nil {
			return err
		}

		log.Printf("waterbilling listening on %s", cfg.ListenAddr)
		return http.ListenAndServe(cfg.ListenAddr, mux)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (overrides LISTEN_ADDR)")
}
