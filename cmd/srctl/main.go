// Command srctl is the Stone Ridge operator CLI (§3.17): it dials a
// worker's gRPC status service and prints its current run. Grounded on the
// shape of original_source/linux/user's srterm.py/srwrapper.py operator
// helpers.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/stoneridge/internal/grpcstatus"
)

func main() {
	var timeout time.Duration

	root := &cobra.Command{
		Use:   "srctl",
		Short: "Stone Ridge operator CLI",
	}

	statusCmd := &cobra.Command{
		Use:   "status <host:port>",
		Short: "Report a worker's current run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := status(args[0], timeout)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	statusCmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "RPC timeout")
	root.AddCommand(statusCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func status(target string, timeout time.Duration) (string, error) {
	client, err := grpcstatus.Dial(target)
	if err != nil {
		return "", err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	snap, err := client.Status(ctx)
	if err != nil {
		return "", fmt.Errorf("srctl: %w", err)
	}
	return formatSnapshot(snap), nil
}

func formatSnapshot(s grpcstatus.Snapshot) string {
	if s.Idle {
		return fmt.Sprintf("idle (netconfig=%s os=%s, queue backlog %d)", s.Netconfig, s.OS, s.QueueBacklog)
	}
	return fmt.Sprintf("srid=%s netconfig=%s os=%s stage=%s since=%s queue backlog=%d",
		s.Srid, s.Netconfig, s.OS, s.Stage, s.Since.Format(time.RFC3339), s.QueueBacklog)
}
