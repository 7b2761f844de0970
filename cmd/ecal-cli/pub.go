package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	registrationpkg "github.com/rmacdonaldsmith/ecal-go/pkg/registration"
)

type pubOptions struct {
	topic    string
	typeName string
	encoding string
	message  string
	count    int
	interval time.Duration
	wait     time.Duration
}

func newPubCommand() *cobra.Command {
	var opts pubOptions

	cmd := &cobra.Command{
		Use:   "pub",
		Short: "Publish messages on a topic",
		Long: `Publish a message on a topic. The message is sent --count times,
--interval apart. With --wait the command first waits for a subscriber.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPub(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.topic, "topic", "", "Topic to publish on (required)")
	cmd.Flags().StringVar(&opts.typeName, "type", "", "Data type name")
	cmd.Flags().StringVar(&opts.encoding, "encoding", "raw", "Data type encoding")
	cmd.Flags().StringVar(&opts.message, "message", "", "Message payload")
	cmd.Flags().IntVar(&opts.count, "count", 1, "Number of messages to send")
	cmd.Flags().DurationVar(&opts.interval, "interval", 100*time.Millisecond, "Delay between messages")
	cmd.Flags().DurationVar(&opts.wait, "wait", 0, "How long to wait for a subscriber before sending")
	if err := cmd.MarkFlagRequired("topic"); err != nil {
		panic(fmt.Sprintf("Failed to mark topic as required: %v", err))
	}

	return cmd
}

func runPub(cmd *cobra.Command, opts pubOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	n, err := openNode(ctx)
	if err != nil {
		return err
	}
	defer n.Close()

	pub, err := n.NewPublisher(opts.topic, registrationpkg.DataTypeInformation{
		Name:     opts.typeName,
		Encoding: opts.encoding,
	})
	if err != nil {
		return err
	}
	defer pub.Close()

	if opts.wait > 0 {
		deadline := time.Now().Add(opts.wait)
		for !pub.IsSubscribed() && time.Now().Before(deadline) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(10 * time.Millisecond):
			}
		}
		if !pub.IsSubscribed() {
			fmt.Fprintf(out, "No subscriber on %q after %s\n", opts.topic, opts.wait)
		}
	}

	sent, delivered := 0, 0
	for i := 0; i < opts.count; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(opts.interval):
			}
		}
		if pub.WriteBytes([]byte(opts.message), time.Now(), 0) {
			delivered++
		}
		sent++
	}

	fmt.Fprintf(out, "Published %d message(s) on %q, %d delivered to %d subscriber(s)\n",
		sent, opts.topic, delivered, pub.GetSubscriberCount())
	return nil
}
