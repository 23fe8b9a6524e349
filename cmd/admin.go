package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/leadlens/leadlens/internal/config"
)

func adminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage operator accounts",
	}
	cmd.AddCommand(adminInitCmd())
	cmd.AddCommand(adminCreateCmd())
	return cmd
}

func adminInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the admin account with a generated password",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}

			accounts, err := openAccountStore(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer accounts.Close()

			password, created, err := accounts.EnsureAdmin(context.Background())
			if err != nil {
				return err
			}
			if !created {
				fmt.Println("admin account already exists")
				return nil
			}

			fmt.Println("admin account created")
			fmt.Printf("  login:    admin\n")
			fmt.Printf("  password: %s\n", password)
			fmt.Println("Store this password now; it is not recoverable.")
			return nil
		},
	}
}

func adminCreateCmd() *cobra.Command {
	var login, password string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an operator account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if login == "" || password == "" {
				return fmt.Errorf("--login and --password are required")
			}

			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}

			accounts, err := openAccountStore(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer accounts.Close()

			acc, err := accounts.Create(context.Background(), login, password)
			if err != nil {
				fmt.Fprintf(os.Stderr, "create account: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("account %s created (id %s)\n", acc.Login, acc.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&login, "login", "", "account login")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	return cmd
}
