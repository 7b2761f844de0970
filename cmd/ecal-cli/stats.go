package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show node statistics (requires an admin token)",
		Args:  cobra.NoArgs,
		RunE:  runStats,
	}
}

func runStats(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	stats, err := client.AdminGetStats(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Host:        %s\n", stats.HostName)
	fmt.Fprintf(out, "Uptime:      %s\n", time.Duration(stats.UptimeSeconds)*time.Second)
	fmt.Fprintf(out, "Local:       %d publishers, %d subscribers\n", stats.LocalPublishers, stats.LocalSubscribers)
	fmt.Fprintf(out, "Known:       %d publishers, %d subscribers\n", stats.KnownPublishers, stats.KnownSubscribers)
	fmt.Fprintf(out, "Topics:      %d\n", stats.Topics)
	fmt.Fprintf(out, "Processes:   %d\n", stats.Processes)
	fmt.Fprintf(out, "Hosts:       %s\n", strings.Join(stats.Hosts, ", "))
	return nil
}
