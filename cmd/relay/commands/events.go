package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func eventsCmd() *cobra.Command {
	var after uint64
	var follow bool
	cmd := &cobra.Command{
		Use:   "events <thread-id>",
		Short: "Tail a thread's event log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := apiClient()
			cursor := after
			for {
				evs, err := c.Events(cmd.Context(), args[0], cursor)
				if err != nil {
					return err
				}
				for _, ev := range evs {
					faint.Printf("%6d  %s  ", ev.ID, ev.Timestamp.Format("15:04:05"))
					cyan.Printf("%-20s", ev.Type)
					fmt.Printf("  %s\n", string(ev.Payload))
					cursor = ev.ID
				}
				if !follow {
					return nil
				}
				select {
				case <-cmd.Context().Done():
					return nil
				case <-time.After(time.Second):
				}
			}
		},
	}
	cmd.Flags().Uint64Var(&after, "after", 0, "start after this event ID")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "poll for new events")
	return cmd
}
