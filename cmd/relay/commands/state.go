package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/relaymesh/relay/pkg/client"
)

func stateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect and patch thread state",
	}
	cmd.AddCommand(stateGetCmd(), stateHeaderCmd(), statePatchCmd(), stateCompactCmd())
	return cmd
}

func stateGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <thread-id>",
		Short: "Print the full state document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := apiClient().GetState(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(doc)
		},
	}
}

func stateHeaderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "header <thread-id>",
		Short: "Print the bounded header projection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := apiClient().GetHeader(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(h)
		},
	}
}

func statePatchCmd() *cobra.Command {
	var expectedVersion int
	var opsFile string
	cmd := &cobra.Command{
		Use:   "patch <thread-id> [ops-json]",
		Short: "Apply patch operations to the state document",
		Long: `Apply a JSON array of patch operations, either inline or from a
file (--file). Each op is {"op": "add|remove|replace|test", "path": ..., "value": ...}.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw []byte
			switch {
			case opsFile != "":
				data, err := os.ReadFile(opsFile)
				if err != nil {
					return err
				}
				raw = data
			case len(args) == 2:
				raw = []byte(args[1])
			default:
				return fmt.Errorf("provide ops inline or via --file")
			}

			var ops []client.PatchOp
			if err := json.Unmarshal(raw, &ops); err != nil {
				return fmt.Errorf("parse ops: %w", err)
			}

			res, err := apiClient().PatchState(cmd.Context(), args[0], ops, expectedVersion)
			if err != nil {
				if client.IsConflict(err) {
					yellow.Fprintln(os.Stderr, "version conflict; re-fetch and retry")
				}
				return err
			}
			green.Printf("  version  %d\n", res.Version)
			faint.Printf("  ref      %s\n", res.StateRef)
			return nil
		},
	}
	cmd.Flags().IntVar(&expectedVersion, "expected-version", -1, "fail unless state is at this version")
	cmd.Flags().StringVar(&opsFile, "file", "", "read ops from a JSON file")
	return cmd
}

func stateCompactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact <thread-id>",
		Short: "Prune old actions and unreferenced artifact entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := apiClient().CompactState(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			green.Printf("  compacted to version %d\n", res.Version)
			return nil
		},
	}
}
