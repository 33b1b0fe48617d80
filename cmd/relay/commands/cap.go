package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relaymesh/relay/pkg/client"
)

func capCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cap",
		Short: "List and invoke capabilities",
	}
	cmd.AddCommand(capListCmd(), capInvokeCmd())
	return cmd
}

func capListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered capabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			caps, err := apiClient().Capabilities(cmd.Context())
			if err != nil {
				return err
			}
			for _, c := range caps {
				cyan.Printf("%s", c.Name)
				fmt.Printf("  %s", c.Version)
				if c.Cacheable {
					green.Printf("  cacheable")
				}
				if c.Description != "" {
					faint.Printf("  %s", c.Description)
				}
				fmt.Println()
			}
			return nil
		},
	}
}

func capInvokeCmd() *cobra.Command {
	var argsJSON, idempotencyKey, scope string
	cmd := &cobra.Command{
		Use:   "invoke <thread-id> <capability>",
		Short: "Invoke a capability in a thread",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := client.InvokeRequest{
				ThreadID:       args[0],
				Capability:     args[1],
				IdempotencyKey: idempotencyKey,
				Scope:          scope,
			}
			if argsJSON != "" {
				if !json.Valid([]byte(argsJSON)) {
					return fmt.Errorf("--args is not valid JSON")
				}
				req.Args = json.RawMessage(argsJSON)
			}
			res, err := apiClient().Invoke(cmd.Context(), req)
			if err != nil {
				return err
			}
			if res.CacheHit {
				green.Println("  cache hit")
			} else {
				fmt.Printf("  executed in %dms\n", res.DurationMs)
			}
			fmt.Printf("  artifact  %s\n", res.ArtifactRef)
			faint.Printf("  fp        %s\n", res.Fingerprint)
			if res.Preview.Text != "" {
				fmt.Printf("\n%s\n", res.Preview.Text)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&argsJSON, "args", "", "capability arguments as JSON")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "dedup by key instead of argument hash")
	cmd.Flags().StringVar(&scope, "scope", "", "cache scope (default: the thread)")
	return cmd
}
