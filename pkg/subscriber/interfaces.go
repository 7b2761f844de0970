// Package subscriber provides the application facing contract of a topic
// subscriber. A subscriber learns about publishers through registration
// samples, opens a reader on every layer it shares with each of them and
// delivers every payload once, whichever layer brought it first.
package subscriber

import (
	"io"
	"time"

	"github.com/rmacdonaldsmith/ecal-go/pkg/registration"
	"github.com/rmacdonaldsmith/ecal-go/pkg/transport"
)

// EventType is the kind of a subscriber event
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

// Event is delivered when a publisher connects or disconnects
type Event struct {
	Type       EventType
	Subscriber registration.TopicID
	Publisher  registration.EntityID
	DataType   registration.DataTypeInformation
	Time       time.Time
}

// EventCallback receives subscriber events
type EventCallback func(Event)

// ReceivedData is one delivered payload
type ReceivedData struct {
	Publisher registration.EntityID
	Payload   []byte
	Clock     int64
	ID        int64
	Time      time.Time
	Layer     transport.Layer
}

// ReceiveCallback receives payloads. It runs on a reader goroutine and
// must not block for long.
type ReceiveCallback func(topic registration.TopicID, data ReceivedData)

// Subscriber is the application handle of one topic subscriber
type Subscriber interface {
	io.Closer

	SetReceiveCallback(cb ReceiveCallback)
	RemoveReceiveCallback()

	SetEventCallback(cb EventCallback)
	RemoveEventCallback()

	// IsPublished reports whether at least one publisher is connected
	IsPublished() bool

	// GetPublisherCount returns the number of connected publishers
	GetPublisherCount() int

	GetTopicName() string
	GetTopicID() registration.TopicID
	GetDataTypeInformation() registration.DataTypeInformation
}
