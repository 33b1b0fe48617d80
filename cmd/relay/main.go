package main

import (
	"fmt"
	"os"

	"github.com/relaymesh/relay/cmd/relay/commands"
)

func main() {
	if err := commands.Root().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
