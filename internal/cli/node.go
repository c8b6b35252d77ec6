package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewNodeCmd создаёт группу команд для отдельных узлов.
func NewNodeCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Manage individual fleet nodes",
	}

	cmd.AddCommand(
		newNodeShowCmd(clientFn, outputFn),
		newNodeRetryCmd(clientFn, outputFn),
		newNodeStopCmd(clientFn, outputFn),
		newNodeGuardCmd(clientFn, outputFn),
	)

	return cmd
}

func newNodeShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show NODE_ID",
		Short: "Show node state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			n, err := client.GetNode(args[0])
			if err != nil {
				return err
			}

			printNode(out, n)
			return nil
		},
	}
}

func newNodeRetryCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "retry NODE_ID",
		Short: "Re-provision a FAILED or stopped node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			res, queued, err := client.RetryNode(args[0], wait)
			if err != nil {
				return err
			}
			if queued != nil {
				out.Success(fmt.Sprintf("Retry of %s queued", queued.NodeID))
				return nil
			}

			out.Print(
				[]string{"NODE", "STATE", "INSTANCE", "ERROR"},
				[][]string{{res.NodeID, res.Result.State, res.Result.InstanceID, res.Result.Error}},
				res,
			)
			if res.Result.State != "HEALTHY" {
				return fmt.Errorf("node %s ended in %s", res.NodeID, res.Result.State)
			}
			out.Success(fmt.Sprintf("Node %s is healthy", res.NodeID))
			return nil
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "Retry in the request even if a command queue is configured")

	return cmd
}

func newNodeStopCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "stop NODE_ID",
		Short: "Stop a node and remove its container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			n, queued, err := client.StopNode(args[0], wait)
			if err != nil {
				return err
			}
			if queued != nil {
				out.Success(fmt.Sprintf("Stop of %s queued", queued.NodeID))
				return nil
			}

			printNode(out, n)
			out.Success(fmt.Sprintf("Node %s stopped", n.NodeID))
			return nil
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "Stop in the request even if a command queue is configured")

	return cmd
}

func newNodeGuardCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "guard NODE_ID",
		Short: "Show the resolver guard reconciliation record of a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			rec, err := client.Reconciliation(args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"NODE", "STATE", "CHECKED", "DRIFT", "CORRECTED", "FAILURES", "TICKS", "ALERTING", "LAST_ERROR"},
				[][]string{{
					rec.NodeID, rec.State, rec.LastCheckedAt,
					yesNo(rec.DriftDetected), yesNo(rec.CorrectiveActionApplied),
					strconv.Itoa(rec.ConsecutiveFailures), strconv.Itoa(rec.Ticks),
					yesNo(rec.Alerting), rec.LastError,
				}},
				rec,
			)
			return nil
		},
	}
}

func printNode(out *Output, n *NodeResponse) {
	out.Print(
		[]string{"NODE", "ROLE", "STATE", "ADDRESS", "INSTANCE", "ERROR"},
		[][]string{{n.NodeID, n.Role, n.State, n.Address, n.InstanceID, n.Error}},
		n,
	)
}
