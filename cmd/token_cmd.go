package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue, verify, revoke, and rotate session tokens",
	}
	cmd.AddCommand(tokenIssueCmd())
	cmd.AddCommand(tokenVerifyCmd())
	cmd.AddCommand(tokenRevokeCmd())
	cmd.AddCommand(tokenRotateCmd())
	return cmd
}

func tokenIssueCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "issue [identity]",
		Short: "Issue a signed session token",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			s := loadService()
			defer s.Close()

			tok, err := s.CreateToken(args[0], role)
			if err != nil {
				fatal(err)
			}
			fmt.Println(tok)
		},
	}
	cmd.Flags().StringVar(&role, "role", "user", "role claim (admin, user, readonly, anonymous)")
	return cmd
}

func tokenVerifyCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "verify [token]",
		Short: "Verify a token and print its claims",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			s := loadService()
			defer s.Close()

			claims := s.VerifyToken(args[0])
			if claims == nil {
				fmt.Fprintln(os.Stderr, "Invalid token.")
				os.Exit(1)
			}
			if jsonOutput {
				data, _ := json.MarshalIndent(claims, "", "  ")
				fmt.Println(string(data))
				return
			}
			fmt.Printf("Valid. identity=%v role=%v kid=%v jti=%v\n",
				claims["identity"], claims["role"], claims["kid"], claims["jti"])
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output claims as JSON")
	return cmd
}

func tokenRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke [token]",
		Short: "Durably revoke a token before it expires",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			s := loadService()
			defer s.Close()

			if !s.RevokeToken(args[0]) {
				fmt.Fprintln(os.Stderr, "Revoke failed: token signature did not verify.")
				os.Exit(1)
			}
			fmt.Println("Revoked.")
		},
	}
}

func tokenRotateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate",
		Short: "Add a fresh signing key (old tokens stay valid until expiry)",
		Run: func(cmd *cobra.Command, args []string) {
			s := loadService()
			defer s.Close()

			kid, err := s.RotateKey()
			if err != nil {
				fatal(err)
			}
			fmt.Printf("Active signing key: %s\n", kid)
		},
	}
}
