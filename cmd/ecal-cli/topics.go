package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/ecal-go/pkg/httpclient"
)

func newTopicsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topics",
		Short: "Inspect the topics known to the monitor",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every topic with its publisher and subscriber counts",
		Args:  cobra.NoArgs,
		RunE:  runTopicsList,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "info <topic>",
		Short: "Show the publishers and subscribers of one topic",
		Args:  cobra.ExactArgs(1),
		RunE:  runTopicsInfo,
	})

	return cmd
}

func runTopicsList(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	resp, err := client.ListTopics(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(resp.Topics) == 0 {
		fmt.Fprintln(out, "No topics")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TOPIC\tTYPE\tPUBLISHERS\tSUBSCRIBERS")
	for _, t := range resp.Topics {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", t.Name, typeName(t.DataType), t.Publishers, t.Subscribers)
	}
	return tw.Flush()
}

func runTopicsInfo(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	topic, err := client.GetTopic(ctx, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Topic: %s\n", topic.Name)
	fmt.Fprintf(out, "Type:  %s\n\n", typeName(topic.DataType))

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROLE\tHOST\tPID\tPROCESS\tLAYERS\tCLOCK\tFREQ(Hz)")
	for _, e := range topic.Publishers {
		writeEntity(tw, "pub", e)
	}
	for _, e := range topic.Subscribers {
		writeEntity(tw, "sub", e)
	}
	return tw.Flush()
}

func writeEntity(tw *tabwriter.Writer, role string, e httpclient.EntityInfo) {
	fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%d\t%.2f\n",
		role, e.HostName, e.ProcessID, e.ProcessName, layerList(e.Layers), e.DataClock, e.FrequencyHz)
}

// layerList renders the layers an entity uses, marking active ones with '*'
func layerList(layers []httpclient.LayerInfo) string {
	names := make([]string, 0, len(layers))
	for _, l := range layers {
		name := l.Layer
		if l.Active {
			name += "*"
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ",")
}

func typeName(d httpclient.DataType) string {
	switch {
	case d.Name == "":
		return "-"
	case d.Encoding == "":
		return d.Name
	default:
		return d.Encoding + ":" + d.Name
	}
}
