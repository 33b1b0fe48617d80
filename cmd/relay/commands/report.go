package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func reportCmd() *cobra.Command {
	var format string
	var raw bool
	cmd := &cobra.Command{
		Use:   "report <thread-id>",
		Short: "Generate a thread report with token savings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := apiClient()
			rep, err := c.Report(cmd.Context(), args[0], format)
			if err != nil {
				return err
			}
			if raw {
				content, err := c.ArtifactContent(cmd.Context(), args[0], rep.ArtifactRef)
				if err != nil {
					return err
				}
				fmt.Print(string(content))
				return nil
			}
			green.Printf("  report    %s (%d bytes)\n", rep.ArtifactRef, rep.Size)
			fmt.Printf("  naive     %d tokens\n", rep.Savings.NaiveTokens)
			fmt.Printf("  actual    %d tokens\n", rep.Savings.ActualTokens)
			cyan.Printf("  avoided   %d tokens\n", rep.Savings.AvoidedTokens)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "md", "report format: md or json")
	cmd.Flags().BoolVar(&raw, "raw", false, "print the rendered report instead of the summary")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("relay", Version)
			return nil
		},
	}
}
