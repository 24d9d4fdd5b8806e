package cmd

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Summarize vault, key ring, and admission state",
		Run: func(cmd *cobra.Command, args []string) {
			runStatus()
		},
	}
}

func runStatus() {
	fmt.Println("clawguard status")
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	s := loadService()
	defer s.Close()

	fmt.Printf("  Vault:    %s", s.Vault.Path())
	switch {
	case !s.Vault.Exists():
		fmt.Println(" (NOT CREATED)")
	case s.AutoUnlock():
		fmt.Printf(" (unlocked via keychain, %d secrets)\n", len(s.SecretKeys()))
	default:
		fmt.Println(" (locked)")
	}

	kids := s.Tokens.Kids()
	fmt.Printf("  Keys:     %d signing key(s), active %s\n", len(kids), s.Tokens.ActiveKid())

	banned := s.BannedIPs()
	fmt.Printf("  Bans:     %d active\n", len(banned))
	for _, b := range banned {
		fmt.Printf("            %s until %s\n", b.IP, b.BannedUntil.Format("15:04:05"))
	}

	usage := s.UsageToday()
	fmt.Printf("  Quota:    %d identit(ies) with usage today\n", len(usage))
	for _, u := range usage {
		fmt.Printf("            %s: %d\n", u.Identity, u.Used)
	}
}
