// Package commands implements the relay CLI.
package commands

import (
	"github.com/spf13/cobra"
)

// Version is stamped at build time via -ldflags.
var Version = "1.0.0"

func Root() *cobra.Command {
	root := &cobra.Command{
		Use:   "relay",
		Short: "relay — agent memory daemon with bounded state and cached capabilities",
		Long: `relay keeps agent memory behind references instead of prose: a
versioned state document per thread, content-addressed artifacts, and a
capability cache that never runs the same call twice.

Quick start:
  relay serve              Start the daemon
  relay thread new         Create a thread
  relay cap invoke ...     Invoke a capability`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		serveCmd(),
		threadCmd(),
		stateCmd(),
		artifactCmd(),
		capCmd(),
		eventsCmd(),
		reportCmd(),
		versionCmd(),
	)
	return root
}
