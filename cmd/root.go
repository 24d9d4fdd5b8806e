// Package cmd is the clawguard command-line surface.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawguard/internal/config"
	"github.com/nextlevelbuilder/clawguard/internal/guard"
)

var (
	configPath string
	verbose    bool
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clawguard",
		Short: "Local secret vault, session tokens, and request admission",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.clawguard/config.yaml)")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(vaultCmd())
	cmd.AddCommand(tokenCmd())
	cmd.AddCommand(banCmd())
	cmd.AddCommand(quotaCmd())
	cmd.AddCommand(statusCmd())
	return cmd
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPath()
}

func loadConfig() *config.Config {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fatal(err)
	}
	return cfg
}

// loadService builds the full guard stack. Callers must Close it.
func loadService() *guard.Service {
	s, err := guard.New(loadConfig())
	if err != nil {
		fatal(err)
	}
	return s
}

// unlockedService is loadService plus a vault unlock, trying the OS
// keychain first and prompting only when that fails.
func unlockedService() *guard.Service {
	s := loadService()
	if !s.Vault.Exists() {
		s.Close()
		fatal(fmt.Errorf("no vault at %s (run: clawguard vault init)", s.Vault.Path()))
	}
	if s.AutoUnlock() {
		return s
	}
	password, err := promptPassword("Vault password: ")
	if err != nil {
		s.Close()
		fatal(err)
	}
	if !s.Vault.Unlock(password) {
		s.Close()
		fatal(fmt.Errorf("unlock failed"))
	}
	return s
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	os.Exit(1)
}
