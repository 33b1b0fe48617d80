package commands

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/relaymesh/relay/pkg/client"
)

func artifactCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "artifact",
		Short: "Store and inspect artifacts",
	}
	cmd.AddCommand(artifactPutCmd(), artifactListCmd(), artifactGetCmd())
	return cmd
}

func artifactPutCmd() *cobra.Command {
	var typ, mime, name string
	cmd := &cobra.Command{
		Use:   "put <thread-id> <file>",
		Short: "Store a file as an artifact",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			if name == "" {
				name = filepath.Base(args[1])
			}
			req := client.PutArtifactRequest{
				Name:      name,
				Type:      typ,
				Mime:      mime,
				CreatedBy: "cli",
			}
			if utf8.Valid(data) {
				req.Content = string(data)
			} else {
				req.ContentBase64 = base64.StdEncoding.EncodeToString(data)
				if req.Type == "" {
					req.Type = "binary"
				}
			}
			meta, err := apiClient().PutArtifact(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}
			green.Printf("  ref   %s\n", meta.Ref)
			fmt.Printf("  size  %d bytes\n", meta.Size)
			if meta.Preview.Text != "" {
				faint.Printf("  %s\n", meta.Preview.Text)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&typ, "type", "text", "artifact type (text, json, markdown, html, binary, tool_output)")
	cmd.Flags().StringVar(&mime, "mime", "", "MIME type override")
	cmd.Flags().StringVar(&name, "name", "", "artifact name (defaults to the file name)")
	return cmd
}

func artifactListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <thread-id>",
		Short: "List a thread's artifacts in creation order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			arts, err := apiClient().ListArtifacts(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(arts) == 0 {
				faint.Println("no artifacts")
				return nil
			}
			for _, a := range arts {
				cyan.Printf("%s", a.Ref)
				fmt.Printf("  %-12s %8d bytes", a.Type, a.Size)
				if a.Name != "" {
					faint.Printf("  %s", a.Name)
				}
				fmt.Println()
			}
			return nil
		},
	}
}

func artifactGetCmd() *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "get <thread-id> <ref>",
		Short: "Show artifact metadata, or dump content with --raw",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := apiClient()
			if raw {
				content, err := c.ArtifactContent(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				os.Stdout.Write(content)
				return nil
			}
			meta, err := c.GetArtifact(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(meta)
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "write raw content to stdout")
	return cmd
}
