package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	registrationpkg "github.com/rmacdonaldsmith/ecal-go/pkg/registration"
	subscriberpkg "github.com/rmacdonaldsmith/ecal-go/pkg/subscriber"
)

type subOptions struct {
	topic    string
	typeName string
	encoding string
	count    int
	duration time.Duration
}

func newSubCommand() *cobra.Command {
	var opts subOptions

	cmd := &cobra.Command{
		Use:   "sub",
		Short: "Print messages received on a topic",
		Long: `Subscribe to a topic and print every message received. The command
stops after --count messages, after --duration, or on Ctrl+C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSub(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.topic, "topic", "", "Topic to subscribe to (required)")
	cmd.Flags().StringVar(&opts.typeName, "type", "", "Data type name")
	cmd.Flags().StringVar(&opts.encoding, "encoding", "raw", "Data type encoding")
	cmd.Flags().IntVar(&opts.count, "count", 0, "Stop after this many messages (0 = unlimited)")
	cmd.Flags().DurationVar(&opts.duration, "duration", 0, "Stop after this long (0 = until interrupted)")
	if err := cmd.MarkFlagRequired("topic"); err != nil {
		panic(fmt.Sprintf("Failed to mark topic as required: %v", err))
	}

	return cmd
}

func runSub(cmd *cobra.Command, opts subOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	n, err := openNode(ctx)
	if err != nil {
		return err
	}
	defer n.Close()

	sub, err := n.NewSubscriber(opts.topic, registrationpkg.DataTypeInformation{
		Name:     opts.typeName,
		Encoding: opts.encoding,
	})
	if err != nil {
		return err
	}
	defer sub.Close()

	received := make(chan subscriberpkg.ReceivedData, 64)
	sub.SetReceiveCallback(func(_ registrationpkg.TopicID, data subscriberpkg.ReceivedData) {
		data.Payload = append([]byte(nil), data.Payload...)
		select {
		case received <- data:
		default:
		}
	})
	events := make(chan subscriberpkg.Event, 16)
	sub.SetEventCallback(func(ev subscriberpkg.Event) {
		select {
		case events <- ev:
		default:
		}
	})

	var stop <-chan time.Time
	if opts.duration > 0 {
		stop = time.After(opts.duration)
	}

	fmt.Fprintf(out, "Listening on %q\n", opts.topic)
	count := 0
	for opts.count == 0 || count < opts.count {
		select {
		case <-ctx.Done():
			fmt.Fprintf(out, "Received %d message(s)\n", count)
			return nil
		case <-stop:
			fmt.Fprintf(out, "Received %d message(s)\n", count)
			return nil
		case ev := <-events:
			fmt.Fprintf(out, "%s publisher %s\n", ev.Type, ev.Publisher)
		case data := <-received:
			count++
			fmt.Fprintf(out, "[%s] clock=%d from %s: %s\n", data.Layer, data.Clock, data.Publisher, data.Payload)
		}
	}
	fmt.Fprintf(out, "Received %d message(s)\n", count)
	return nil
}
