package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewFleetCmd создаёт группу команд для флота целиком.
func NewFleetCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fleet",
		Short: "Inspect and deploy the fleet",
	}

	cmd.AddCommand(
		newFleetStatusCmd(clientFn, outputFn),
		newFleetHealthCmd(clientFn, outputFn),
		newFleetDeployCmd(clientFn, outputFn),
		newFleetHistoryCmd(clientFn, outputFn),
	)

	return cmd
}

func newFleetStatusCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show lifecycle state of every node",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			fleet, err := client.ListNodes()
			if err != nil {
				return err
			}

			headers := []string{"NODE", "ROLE", "STATE", "ADDRESS", "INSTANCE", "ERROR"}
			rows := make([][]string, len(fleet.Nodes))
			for i, n := range fleet.Nodes {
				state := n.State
				if n.Blocked {
					state += " (blocked)"
				}
				rows[i] = []string{n.NodeID, n.Role, state, n.Address, n.InstanceID, n.Error}
			}

			out.Print(headers, rows, fleet)
			out.Success(fmt.Sprintf("Topology %s: %s", fleet.Topology, summarize(fleet.Summary)))
			return nil
		},
	}
}

func newFleetHealthCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Run an on-demand health report of the fleet",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			health, err := client.FleetHealth()
			if err != nil {
				return err
			}

			headers := []string{"NODE", "ROLE", "REACHABLE", "SERVICE", "ALERTING", "ADDRESS", "ERROR"}
			rows := make([][]string, len(health.Nodes))
			for i, n := range health.Nodes {
				rows[i] = []string{
					n.NodeID, n.Role,
					yesNo(n.Reachable), yesNo(n.ServiceActive), yesNo(n.Alerting),
					n.Address, n.Error,
				}
			}

			out.Print(headers, rows, health)
			if !health.Healthy {
				return fmt.Errorf("fleet is unhealthy: %d/%d nodes healthy", health.HealthyNodes, health.Total)
			}
			out.Success(fmt.Sprintf("Fleet is healthy: %d/%d nodes", health.HealthyNodes, health.Total))
			return nil
		},
	}
}

func newFleetDeployCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy the loaded topology (healthy nodes are left untouched)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			dep, queued, err := client.Deploy(wait)
			if err != nil {
				return err
			}
			if queued != nil {
				out.Success(fmt.Sprintf("Deploy queued (requested by %s)", orDash(queued.RequestedBy)))
				return nil
			}

			printDeployment(out, dep)
			if !dep.Succeeded {
				return fmt.Errorf("deployment %s finished with failed nodes: %s", dep.ID, strings.Join(dep.Failed, ", "))
			}
			out.Success(fmt.Sprintf("Deployment %s succeeded in %s", dep.ID, formatMillis(dep.DurationMS)))
			return nil
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "Run the deployment in the request even if a command queue is configured")

	return cmd
}

func newFleetHistoryCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past deployments",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			deps, err := client.ListDeployments(limit)
			if err != nil {
				return err
			}

			headers := []string{"ID", "TOPOLOGY", "STARTED", "DURATION", "FAILED"}
			rows := make([][]string, len(deps))
			for i, d := range deps {
				rows[i] = []string{d.ID, d.Topology, d.StartedAt, formatMillis(d.DurationMS), orDash(strings.Join(d.Failed, ","))}
			}

			out.Print(headers, rows, deps)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

// printDeployment выводит отчёт деплоя в порядке запуска узлов.
func printDeployment(out *Output, dep *DeploymentResponse) {
	headers := []string{"NODE", "STATE", "INSTANCE", "ERROR"}
	rows := make([][]string, 0, len(dep.PerNode))

	seen := make(map[string]bool, len(dep.Order))
	for _, id := range dep.Order {
		seen[id] = true
		r := dep.PerNode[id]
		rows = append(rows, []string{id, r.State, r.InstanceID, r.Error})
	}

	// Заблокированные узлы не запускались и отсутствуют в Order.
	rest := make([]string, 0)
	for id := range dep.PerNode {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	for _, id := range rest {
		r := dep.PerNode[id]
		rows = append(rows, []string{id, r.State, r.InstanceID, r.Error})
	}

	out.Print(headers, rows, dep)
}

// summarize форматирует сводку состояний: "HEALTHY=3 FAILED=1".
func summarize(summary map[string]int) string {
	states := make([]string, 0, len(summary))
	for st := range summary {
		states = append(states, st)
	}
	sort.Strings(states)

	parts := make([]string, len(states))
	for i, st := range states {
		parts[i] = st + "=" + strconv.Itoa(summary[st])
	}
	if len(parts) == 0 {
		return "no nodes"
	}
	return strings.Join(parts, " ")
}
