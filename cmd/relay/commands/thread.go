package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func threadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "thread",
		Short: "Manage threads",
	}
	cmd.AddCommand(threadNewCmd(), threadListCmd(), threadShowCmd())
	return cmd
}

func threadNewCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create a new thread",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := apiClient().CreateThread(cmd.Context(), name)
			if err != nil {
				return fmt.Errorf("create thread: %w", err)
			}
			green.Printf("  thread  %s\n", t.ID)
			if t.Name != "" {
				fmt.Printf("  name    %s\n", t.Name)
			}
			faint.Printf("  state   %s (v%d)\n", t.StateRef, t.Version)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "optional thread name")
	return cmd
}

func threadListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List threads, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			threads, err := apiClient().ListThreads(cmd.Context())
			if err != nil {
				return err
			}
			if len(threads) == 0 {
				faint.Println("no threads")
				return nil
			}
			for _, t := range threads {
				cyan.Printf("%s", t.ID)
				fmt.Printf("  v%d  artifacts=%d  events=%d  hops=%d", t.Version, t.ArtifactCount, t.EventCount, t.HopCount)
				if t.Name != "" {
					faint.Printf("  (%s)", t.Name)
				}
				fmt.Println()
			}
			return nil
		},
	}
}

func threadShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <thread-id>",
		Short: "Show thread metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := apiClient().GetThread(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(t)
		},
	}
}
