package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawguard/internal/vault"
)

func vaultCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Manage the encrypted secret vault",
	}
	cmd.AddCommand(vaultInitCmd())
	cmd.AddCommand(vaultSetCmd())
	cmd.AddCommand(vaultGetCmd())
	cmd.AddCommand(vaultDeleteCmd())
	cmd.AddCommand(vaultKeysCmd())
	cmd.AddCommand(vaultChangePasswordCmd())
	return cmd
}

func vaultInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a new vault",
		Run: func(cmd *cobra.Command, args []string) {
			s := loadService()
			defer s.Close()

			password, err := promptNewPassword("New vault password (empty allowed): ")
			if err != nil {
				fatal(err)
			}
			if err := s.Vault.Create(password, force); err != nil {
				if errors.Is(err, vault.ErrAlreadyExists) {
					fatal(fmt.Errorf("vault already exists at %s (use --force to overwrite)", s.Vault.Path()))
				}
				fatal(err)
			}
			fmt.Printf("Vault created: %s\n", s.Vault.Path())
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing vault")
	return cmd
}

func vaultSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Store a secret",
		Args:  cobra.RangeArgs(1, 2),
		Run: func(cmd *cobra.Command, args []string) {
			s := unlockedService()
			defer s.Close()

			value := ""
			if len(args) == 2 {
				value = args[1]
			} else {
				v, err := promptPassword(fmt.Sprintf("Value for %s: ", args[0]))
				if err != nil {
					fatal(err)
				}
				value = v
			}
			if err := s.SetSecret(args[0], value); err != nil {
				fatal(err)
			}
			fmt.Printf("Stored: %s\n", args[0])
		},
	}
}

func vaultGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [key]",
		Short: "Print a secret (vault first, then environment)",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			s := unlockedService()
			defer s.Close()

			value := s.GetSecret(args[0], nil)
			if value == nil {
				fmt.Fprintf(os.Stderr, "Not found: %s\n", args[0])
				os.Exit(1)
			}
			fmt.Println(value)
		},
	}
}

func vaultDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [key]",
		Short: "Remove a secret",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			s := unlockedService()
			defer s.Close()

			if err := s.DeleteSecret(args[0]); err != nil {
				fatal(err)
			}
			fmt.Printf("Deleted: %s\n", args[0])
		},
	}
}

func vaultKeysCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "List stored secret keys",
		Run: func(cmd *cobra.Command, args []string) {
			s := unlockedService()
			defer s.Close()

			keys := s.SecretKeys()
			if jsonOutput {
				data, _ := json.MarshalIndent(keys, "", "  ")
				fmt.Println(string(data))
				return
			}
			if len(keys) == 0 {
				fmt.Println("Vault is empty.")
				return
			}
			for _, k := range keys {
				fmt.Println(k)
			}
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func vaultChangePasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "change-password",
		Short: "Re-encrypt the vault under a new password",
		Run: func(cmd *cobra.Command, args []string) {
			s := loadService()
			defer s.Close()

			old, err := promptPassword("Current password: ")
			if err != nil {
				fatal(err)
			}
			if !s.Vault.Unlock(old) {
				fatal(fmt.Errorf("current password rejected"))
			}
			next, err := promptNewPassword("New password: ")
			if err != nil {
				fatal(err)
			}
			ok, err := s.Vault.ChangePassword(old, next)
			if err != nil {
				fatal(err)
			}
			if !ok {
				fatal(fmt.Errorf("current password rejected"))
			}
			fmt.Println("Password changed.")
		},
	}
}
