package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/relaymesh/relay/pkg/client"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

// apiClient builds an SDK client from the environment. RELAY_ADDR
// overrides the default daemon address; RELAY_API_TOKEN is sent as the
// bearer token when set.
func apiClient() *client.Client {
	addr := os.Getenv("RELAY_ADDR")
	if addr == "" {
		addr = "http://127.0.0.1:8787"
	}
	var opts []client.Option
	if token := os.Getenv("RELAY_API_TOKEN"); token != "" {
		opts = append(opts, client.WithToken(token))
	}
	return client.New(addr, opts...)
}

// printJSON pretty-prints any value as indented JSON.
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
