// Package transport defines the contracts between a publisher and the
// transport layers that move its payloads.
//
// This package defines the core abstractions for the transport component:
//   - Layer: one of shared memory (SHM), UDP multicast or TCP
//   - LayerSet / LayerStates: capability and progress flags per layer
//   - Writer: a per-topic sender for one layer
//   - Reader: a per-publisher receiver for one layer
//   - PayloadWriter: a payload source that can write itself into a buffer,
//     which is what makes zero-copy writes into shared memory possible
//
// A publisher owns at most one Writer per layer. Writers are created lazily
// through a WriterFactory the first time a subscriber needs that layer and
// are never restarted afterwards.
//
// Example usage:
//
//	w, err := factory.NewWriter(transport.LayerUDP, topic)
//	if err != nil {
//		return err
//	}
//	defer w.Close()
//
//	attrs := transport.WriterAttributes{Len: len(buf), Clock: 1, Time: time.Now()}
//	if w.PrepareWrite(attrs) {
//		// layer parameters changed, announce them before sending
//	}
//	sent := w.Write(buf, attrs)
//
// Layer priority is decided by the selector, not by the writers: a writer
// only knows how to send on its own layer.
package transport
