package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mtowater/waterbilling/internal/auth"
	"github.com/mtowater/waterbilling/internal/config"
	"github.com/mtowater/waterbilling/internal/storage"
)

var userCreateCmd = &cobra.Command{
	Use:   "user-create [username]",
	Short: "Create an operator account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, _ := cmd.Flags().GetString("password")
		role, _ := cmd.Flags().GetString("role")
		firstName, _ := cmd.Flags().GetString("first-name")
		lastName, _ := cmd.Flags().GetString("last-name")
		email, _ := cmd.Flags().GetString("email")
		if password == "" {
			return fmt.Errorf("--password is required")
		}

		cfg := config.FromEnv()
		st, err := storage.Open(cmd.Context(), storage.Config{Driver: cfg.StorageDriver, DSN: cfg.StorageDSN})
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer st.Close()

		authSvc, err := auth.NewService(st)
		if err != nil {
			return err
		}
		user, err := authSvc.Register(cmd.Context(), args[0], password, role, firstName, lastName, email)
		if err != nil {
			return err
		}
		fmt.Printf("Created user %s (role=%s id=%s)\n", user.Username, user.Role, user.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(userCreateCmd)
	userCreateCmd.Flags().String("password", "", "Password for the new account")
	userCreateCmd.Flags().String("role", "reader", "Role: admin, cashier, or reader")
	userCreateCmd.Flags().String("first-name", "", "First name")
	userCreateCmd.Flags().String("last-name", "", "Last name")
	userCreateCmd.Flags().String("email", "", "Email address")
}
