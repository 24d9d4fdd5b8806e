package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func banCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ban",
		Short: "Inspect and lift IP bans",
	}
	cmd.AddCommand(banListCmd())
	cmd.AddCommand(banUnbanCmd())
	return cmd
}

func banListCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List currently banned IPs",
		Run: func(cmd *cobra.Command, args []string) {
			s := loadService()
			defer s.Close()

			banned := s.BannedIPs()
			if jsonOutput {
				data, _ := json.MarshalIndent(banned, "", "  ")
				fmt.Println(string(data))
				return
			}
			if len(banned) == 0 {
				fmt.Println("No banned IPs.")
				return
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "IP\tVIOLATIONS\tLAST\tUNTIL\n")
			for _, b := range banned {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n",
					b.IP, b.Count,
					b.LastAt.Format(time.DateTime),
					b.BannedUntil.Format(time.DateTime),
				)
			}
			tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func banUnbanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unban [ip]",
		Short: "Lift a ban and clear the violation record",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			s := loadService()
			defer s.Close()

			if !s.Unban(args[0]) {
				fmt.Fprintf(os.Stderr, "No record for %s\n", args[0])
				os.Exit(1)
			}
			fmt.Printf("Unbanned: %s\n", args[0])
		},
	}
}
