package publisher

import (
	"io"
	"time"

	"github.com/rmacdonaldsmith/ecal-go/pkg/registration"
	"github.com/rmacdonaldsmith/ecal-go/pkg/transport"
)

// EventType is the kind of a publisher event
type EventType int

const (
	EventNone EventType = iota
	EventConnected
	EventDisconnected
)

func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "Connected"
	case EventDisconnected:
		return "Disconnected"
	default:
		return "None"
	}
}

// Event is delivered to event callbacks on connect and disconnect
type Event struct {
	Type EventType

	// Publisher is the topic id of the publisher raising the event
	Publisher registration.TopicID

	// Subscriber is the peer the event is about
	Subscriber registration.EntityID

	// DataType is the data type the subscriber announced
	DataType registration.DataTypeInformation

	Time time.Time
}

// EventCallback receives publisher events. It is never called while the
// publisher holds an internal lock, so it may call back into the publisher.
type EventCallback func(Event)

// WriteResult is the detailed outcome of a write
type WriteResult int

const (
	// WriteSent means at least one layer sent the payload
	WriteSent WriteResult = iota

	// WriteNoSubscribers means nobody was connected; only the clock advanced
	WriteNoSubscribers

	// WriteAllLayersFailed means every started layer failed to send
	WriteAllLayersFailed

	// WriteNotCreated means the publisher was closed or never created
	WriteNotCreated
)

func (r WriteResult) String() string {
	switch r {
	case WriteSent:
		return "sent"
	case WriteNoSubscribers:
		return "no-subscribers"
	case WriteAllLayersFailed:
		return "all-layers-failed"
	case WriteNotCreated:
		return "not-created"
	default:
		return "unknown"
	}
}

// Sent reports whether the payload left the process
func (r WriteResult) Sent() bool {
	return r == WriteSent
}

// Publisher is the application handle of one topic publisher
type Publisher interface {
	io.Closer

	// Write sends a payload produced by a PayloadWriter
	Write(payload transport.PayloadWriter, timestamp time.Time, filterID int64) bool

	// WriteBytes sends a byte slice
	WriteBytes(data []byte, timestamp time.Time, filterID int64) bool

	// WriteWithResult sends a payload and reports the detailed outcome
	WriteWithResult(payload transport.PayloadWriter, timestamp time.Time, filterID int64) WriteResult

	// IsSubscribed reports whether at least one subscriber is connected
	IsSubscribed() bool

	// GetSubscriberCount returns the number of connected subscribers
	GetSubscriberCount() int

	GetTopicName() string
	GetTopicID() registration.TopicID
	GetDataTypeInformation() registration.DataTypeInformation

	// SetEventCallback installs the single event callback
	SetEventCallback(cb EventCallback)

	// RemoveEventCallback clears the single event callback
	RemoveEventCallback()

	// AddEventCallback installs a per-type callback (legacy interface)
	AddEventCallback(eventType EventType, cb EventCallback)

	// RemoveEventCallbackType clears a per-type callback (legacy interface)
	RemoveEventCallbackType(eventType EventType)
}
