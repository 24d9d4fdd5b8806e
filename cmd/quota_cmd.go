package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func quotaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Inspect daily usage quotas",
	}
	cmd.AddCommand(quotaShowCmd())
	return cmd
}

func quotaShowCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "show [identity]",
		Short: "Show today's usage, all identities or one",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			s := loadService()
			defer s.Close()

			if len(args) == 1 {
				fmt.Println(s.GetUsage(args[0]))
				return
			}

			usage := s.UsageToday()
			if jsonOutput {
				data, _ := json.MarshalIndent(usage, "", "  ")
				fmt.Println(string(data))
				return
			}
			if len(usage) == 0 {
				fmt.Println("No usage recorded today.")
				return
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "IDENTITY\tUSED\n")
			for _, u := range usage {
				fmt.Fprintf(tw, "%s\t%d\n", u.Identity, u.Used)
			}
			tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}
