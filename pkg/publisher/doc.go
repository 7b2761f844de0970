// Package publisher provides the application facing contract of a topic publisher.
//
// A Publisher owns the connection view of one topic: it learns about
// subscribers through registration samples, picks one transport layer per
// subscriber, starts the layer writers it needs and fans every payload out
// over all of them.
//
// Connection semantics:
//   - A subscriber counts as connected only after its second registration
//     sample (activation handshake). The Connected event fires exactly once,
//     on that second sample.
//   - Unregistration always fires a Disconnected event, even for a
//     subscriber that was never activated.
//   - A started layer stays started for the lifetime of the publisher.
//
// Example usage:
//
//	pub, err := node.NewPublisher("person", dataType)
//	if err != nil {
//		return err
//	}
//	defer pub.Close()
//
//	pub.SetEventCallback(func(ev publisher.Event) {
//		log.Printf("%s %s", ev.Type, ev.Subscriber)
//	})
//
//	if !pub.WriteBytes(payload, time.Now(), 0) {
//		// nobody listening, or every layer failed
//	}
//
// WriteWithResult tells the two "false" outcomes apart.
package publisher
