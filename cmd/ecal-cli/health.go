package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check monitor health",
		Long:  "Check the health status of the node behind the monitor API",
		RunE:  runHealth,
	}
}

func runHealth(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	health, err := client.GetHealth(ctx)
	if err != nil {
		return fmt.Errorf("failed to check health: %w", err)
	}

	out := cmd.OutOrStdout()
	if health.Healthy {
		fmt.Fprintf(out, "Node %s is healthy\n", health.HostName)
	} else {
		fmt.Fprintf(out, "Node %s is not healthy\n", health.HostName)
	}
	fmt.Fprintf(out, "Network: %s\n", health.Network)
	fmt.Fprintf(out, "Uptime: %s\n", (time.Duration(health.UptimeSeconds) * time.Second).String())
	fmt.Fprintf(out, "Local publishers/subscribers: %d/%d\n", health.LocalPublishers, health.LocalSubscribers)
	fmt.Fprintf(out, "Known publishers/subscribers: %d/%d\n", health.KnownPublishers, health.KnownSubscribers)
	if health.Message != "" {
		fmt.Fprintf(out, "Message: %s\n", health.Message)
	}

	if !health.Healthy {
		return fmt.Errorf("node is not healthy")
	}
	return nil
}
