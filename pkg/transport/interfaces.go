package transport

import (
	"io"
	"time"
)

// SubscriptionInfo identifies one remote subscriber instance
type SubscriptionInfo struct {
	HostName  string
	ProcessID int32
	EntityID  uint64
}

// TopicInfo identifies the publisher a writer sends for
type TopicInfo struct {
	TopicName string
	HostName  string
	ProcessID int32
	EntityID  uint64
}

// ConnectionParameter is the layer specific descriptor a writer announces
// in registration samples so readers can find it
type ConnectionParameter struct {
	Layer Layer

	// MemoryFiles lists the shared memory file names (SHM)
	MemoryFiles []string

	// Group is the multicast group address (UDP)
	Group string

	// Host is the address readers dial (TCP). Empty means the
	// publisher's host name.
	Host string

	// Port is the multicast port (UDP) or the listening port (TCP)
	Port int
}

// IsZero reports whether no parameter has been set
func (p ConnectionParameter) IsZero() bool {
	return p.Layer == LayerNone && len(p.MemoryFiles) == 0 && p.Group == "" && p.Host == "" && p.Port == 0
}

// ReaderParameters are the reader side parameters a subscriber announces
type ReaderParameters struct {
	Layers [LayerCount]ConnectionParameter
}

// WriterAttributes describe one payload about to be written
type WriterAttributes struct {
	// Len is the payload size in bytes
	Len int

	// ID is the caller supplied filter / correlation id
	ID int64

	// Clock is the publisher send clock for this payload
	Clock int64

	// Hash is the deduplication hash of (entity id, clock, id)
	Hash uint64

	// Time is the send timestamp
	Time time.Time

	// ZeroCopy requests writing directly into the transport buffer
	ZeroCopy bool
}

// PayloadWriter produces a payload directly into a destination buffer.
// WriteFull writes the whole payload; WriteModified may update a buffer that
// already holds the previous payload of the same size.
type PayloadWriter interface {
	WriteFull(buf []byte) bool
	WriteModified(buf []byte) bool
	Size() int
}

// BytesPayload is a PayloadWriter over an existing byte slice
type BytesPayload []byte

// WriteFull copies the payload into buf
func (p BytesPayload) WriteFull(buf []byte) bool {
	if len(buf) < len(p) {
		return false
	}
	copy(buf, p)
	return true
}

// WriteModified copies the payload into buf
func (p BytesPayload) WriteModified(buf []byte) bool {
	return p.WriteFull(buf)
}

// Size returns the payload length
func (p BytesPayload) Size() int {
	return len(p)
}

// Writer sends the payloads of one topic on one layer
type Writer interface {
	io.Closer

	// Layer returns the layer this writer sends on
	Layer() Layer

	// PrepareWrite readies the writer for a payload described by attrs.
	// It returns true when the writer's connection parameters changed
	// (first frame, resized memory file) and the publisher should
	// re-register before sending.
	PrepareWrite(attrs WriterAttributes) bool

	// Write sends a buffered payload
	Write(buf []byte, attrs WriterAttributes) bool

	// WritePayload lets the payload write itself into the transport buffer.
	// Layers without a transport owned buffer copy it first.
	WritePayload(payload PayloadWriter, attrs WriterAttributes) bool

	// ApplySubscription adds or refreshes a subscriber of this topic
	ApplySubscription(sub SubscriptionInfo, params ReaderParameters)

	// RemoveSubscription removes a subscriber of this topic
	RemoveSubscription(sub SubscriptionInfo)

	// ConnectionParameter returns the descriptor announced in registration samples
	ConnectionParameter() ConnectionParameter
}

// WriterFactory creates writers for a publisher
type WriterFactory interface {
	NewWriter(layer Layer, topic TopicInfo) (Writer, error)
}

// Frame is one payload received by a reader
type Frame struct {
	// Topic is the topic name the frame was published on
	Topic string

	// PublisherID is the entity id of the sending publisher
	PublisherID uint64

	// Payload is the received data, owned by the receiver
	Payload []byte

	// Clock is the publisher send clock
	Clock int64

	// ID is the publisher's filter id
	ID int64

	// Hash is the deduplication hash
	Hash uint64

	// Time is the send timestamp
	Time time.Time

	// Layer is the layer the frame arrived on
	Layer Layer
}

// FrameHandler receives frames from a reader
type FrameHandler func(Frame)

// Reader receives the frames of one publisher on one layer
type Reader interface {
	io.Closer

	// Layer returns the layer this reader receives on
	Layer() Layer
}

// ReaderTarget describes the publisher a reader connects to
type ReaderTarget struct {
	TopicName string
	HostName  string
	EntityID  uint64
	Parameter ConnectionParameter
}

// ReaderFactory creates readers for a subscriber
type ReaderFactory interface {
	NewReader(layer Layer, target ReaderTarget, handler FrameHandler) (Reader, error)
}
