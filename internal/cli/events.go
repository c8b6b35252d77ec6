package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// NewEventsCmd создаёт группу команд для журнала событий.
func NewEventsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect fleet events",
	}

	cmd.AddCommand(newEventsListCmd(clientFn, outputFn))

	return cmd
}

func newEventsListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListEventsOpts
	var since time.Duration

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if since > 0 {
				opts.Since = time.Now().Add(-since)
			}

			evs, err := client.ListEvents(opts)
			if err != nil {
				return err
			}

			headers := []string{"TIME", "NODE", "COMPONENT", "KIND", "DETAIL"}
			rows := make([][]string, len(evs))
			for i, ev := range evs {
				rows[i] = []string{ev.Timestamp, orDash(ev.NodeID), ev.Component, ev.Kind, describeEvent(ev)}
			}

			out.Print(headers, rows, evs)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.NodeID, "node", "", "Filter by node ID")
	cmd.Flags().StringVar(&opts.Component, "component", "", "Filter by component (lifecycle, orchestrator, guard, health)")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "Filter by event kind (transition, drift_detected, ...)")
	cmd.Flags().DurationVar(&since, "since", 0, "Only events newer than this (e.g. 1h)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "Maximum number of results")

	return cmd
}

// describeEvent форматирует переход и детали события в одну строку.
func describeEvent(ev EventResponse) string {
	var parts []string
	if ev.FromState != "" || ev.ToState != "" {
		parts = append(parts, ev.FromState+" -> "+ev.ToState)
	}
	if ev.Attempt > 0 {
		parts = append(parts, "attempt="+strconv.Itoa(ev.Attempt))
	}

	keys := make([]string, 0, len(ev.Detail))
	for k := range ev.Detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, ev.Detail[k]))
	}
	return strings.Join(parts, " ")
}
