package registration

import (
	"bytes"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rmacdonaldsmith/ecal-go/pkg/transport"
)

// EntityID identifies one publisher or subscriber instance
type EntityID struct {
	ID        uint64
	HostName  string
	ProcessID int32
}

func (e EntityID) String() string {
	return fmt.Sprintf("%s:%d:%d", e.HostName, e.ProcessID, e.ID)
}

// IsZero reports whether the id is unset
func (e EntityID) IsZero() bool {
	return e.ID == 0 && e.HostName == "" && e.ProcessID == 0
}

// SubscriptionInfo converts the id into the key writers use
func (e EntityID) SubscriptionInfo() transport.SubscriptionInfo {
	return transport.SubscriptionInfo{
		HostName:  e.HostName,
		ProcessID: e.ProcessID,
		EntityID:  e.ID,
	}
}

var lastEntityID atomic.Uint64

// NewEntityID returns an id for a new entity of this process. Ids come from
// the nanosecond clock and are strictly increasing within the process.
func NewEntityID(hostName string, processID int32) EntityID {
	for {
		last := lastEntityID.Load()
		next := uint64(time.Now().UnixNano())
		if next <= last {
			next = last + 1
		}
		if lastEntityID.CompareAndSwap(last, next) {
			return EntityID{ID: next, HostName: hostName, ProcessID: processID}
		}
	}
}

// TopicID identifies a topic endpoint: the entity plus its topic name.
// Topic names are not unique, entities are.
type TopicID struct {
	Entity    EntityID
	TopicName string
}

// DataTypeInformation describes the payload type of a topic
type DataTypeInformation struct {
	Name       string
	Encoding   string
	Descriptor []byte
}

// Equal reports whether both descriptions are identical
func (d DataTypeInformation) Equal(other DataTypeInformation) bool {
	return d.Name == other.Name && d.Encoding == other.Encoding && bytes.Equal(d.Descriptor, other.Descriptor)
}

// SampleType tells what a sample announces
type SampleType int

const (
	SampleNone SampleType = iota
	SampleRegisterPublisher
	SampleUnregisterPublisher
	SampleRegisterSubscriber
	SampleUnregisterSubscriber
)

func (t SampleType) String() string {
	switch t {
	case SampleRegisterPublisher:
		return "register-publisher"
	case SampleUnregisterPublisher:
		return "unregister-publisher"
	case SampleRegisterSubscriber:
		return "register-subscriber"
	case SampleUnregisterSubscriber:
		return "unregister-subscriber"
	default:
		return "none"
	}
}

// LayerSample is the per-layer part of a sample
type LayerSample struct {
	Layer     transport.Layer
	Version   int32
	State     transport.LayerState
	Parameter transport.ConnectionParameter
}

// Sample is one registration descriptor
type Sample struct {
	Type        SampleType
	Topic       TopicID
	ProcessName string
	DataType    DataTypeInformation
	Layers      []LayerSample

	// ConnectionsLocal / ConnectionsExternal count peers on the same / other hosts
	ConnectionsLocal    int32
	ConnectionsExternal int32

	// DataClock is the publisher send clock, or the subscriber receive count
	DataClock int64

	// DataFrequency is the measured rate in mHz
	DataFrequency int32

	// TopicSize is the size of the last payload
	TopicSize int32
}

// IsPublisher reports whether the sample describes a publisher
func (s Sample) IsPublisher() bool {
	return s.Type == SampleRegisterPublisher || s.Type == SampleUnregisterPublisher
}

// IsSubscriber reports whether the sample describes a subscriber
func (s Sample) IsSubscriber() bool {
	return s.Type == SampleRegisterSubscriber || s.Type == SampleUnregisterSubscriber
}

// IsRegistration reports whether the sample announces (rather than withdraws) an entity
func (s Sample) IsRegistration() bool {
	return s.Type == SampleRegisterPublisher || s.Type == SampleRegisterSubscriber
}

// LayerStates collects the per-layer states of the sample
func (s Sample) LayerStates() transport.LayerStates {
	var states transport.LayerStates
	for _, l := range s.Layers {
		if l.Layer.Valid() {
			states[l.Layer] = l.State
		}
	}
	return states
}

// ReaderParameters collects the per-layer connection parameters of the sample
func (s Sample) ReaderParameters() transport.ReaderParameters {
	var params transport.ReaderParameters
	for _, l := range s.Layers {
		if l.Layer.Valid() {
			params.Layers[l.Layer] = l.Parameter
		}
	}
	return params
}

// Layer returns the sample entry for l, if present
func (s Sample) Layer(l transport.Layer) (LayerSample, bool) {
	for _, ls := range s.Layers {
		if ls.Layer == l {
			return ls, true
		}
	}
	return LayerSample{}, false
}
