package subscriber

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/ecal-go/pkg/registration"
	subscriberpkg "github.com/rmacdonaldsmith/ecal-go/pkg/subscriber"
	"github.com/rmacdonaldsmith/ecal-go/pkg/transport"
)

const localHost = "here"

var allLayers = transport.NewLayerSet(transport.LayerSHM, transport.LayerUDP, transport.LayerTCP)

func newTestSubscriber(t *testing.T, layers transport.LayerSet) (*Subscriber, *fakeReaderFactory, *fakeProvider) {
	t.Helper()
	readers := &fakeReaderFactory{}
	provider := &fakeProvider{}
	s, err := New(Config{HostName: localHost, ProcessName: "listener", ProcessID: 10, Layers: layers},
		"person", registration.DataTypeInformation{Name: "Person"},
		Dependencies{Readers: readers, Provider: provider})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, readers, provider
}

// publisherAnnouncement describes a publisher writing on the given layers
func publisherAnnouncement(shmFile string, layers ...transport.Layer) (transport.LayerStates, transport.ReaderParameters) {
	var states transport.LayerStates
	var params transport.ReaderParameters
	for _, l := range layers {
		states[l].WriteEnabled = true
		switch l {
		case transport.LayerSHM:
			params.Layers[l] = transport.ConnectionParameter{Layer: l, MemoryFiles: []string{shmFile}}
		case transport.LayerUDP:
			params.Layers[l] = transport.ConnectionParameter{Layer: l, Group: "239.0.0.9", Port: 14002}
		case transport.LayerTCP:
			params.Layers[l] = transport.ConnectionParameter{Layer: l, Port: 40000}
		}
	}
	return states, params
}

func TestNew_Errors(t *testing.T) {
	_, err := New(Config{HostName: localHost}, "", registration.DataTypeInformation{}, Dependencies{Readers: &fakeReaderFactory{}})
	assert.ErrorIs(t, err, ErrEmptyTopicName)

	_, err = New(Config{HostName: localHost}, "person", registration.DataTypeInformation{}, Dependencies{})
	assert.ErrorIs(t, err, ErrNoReaderFactory)

	_, err = New(Config{}, "person", registration.DataTypeInformation{}, Dependencies{Readers: &fakeReaderFactory{}})
	assert.ErrorIs(t, err, ErrEmptyHostName)
}

func TestSubscriber_RegistersOnCreate(t *testing.T) {
	s, _, provider := newTestSubscriber(t, transport.NewLayerSet(transport.LayerUDP, transport.LayerTCP))

	registered, _ := provider.counts()
	assert.Equal(t, 1, registered)

	sample := s.GetRegistrationSample()
	assert.Equal(t, registration.SampleRegisterSubscriber, sample.Type)
	assert.Equal(t, transport.NewLayerSet(transport.LayerUDP, transport.LayerTCP), sample.LayerStates().ReadSet())
	for _, l := range sample.Layers {
		assert.Equal(t, int32(1), l.Version)
		assert.False(t, l.State.WriteEnabled)
	}
}

func TestSubscriber_OpensSharedLayers(t *testing.T) {
	s, readers, _ := newTestSubscriber(t, transport.NewLayerSet(transport.LayerUDP, transport.LayerTCP))
	pub := registration.EntityID{ID: 5, HostName: "there", ProcessID: 1}

	states, params := publisherAnnouncement("", transport.LayerUDP, transport.LayerTCP)
	s.ApplyPublisherRegistration(pub, registration.DataTypeInformation{Name: "Person"}, states, params)

	require.Len(t, readers.open(transport.LayerUDP), 1)
	require.Len(t, readers.open(transport.LayerTCP), 1)
	tcp := readers.open(transport.LayerTCP)[0]
	assert.Equal(t, "there", tcp.target.HostName)
	assert.Equal(t, uint64(5), tcp.target.EntityID)
	assert.Equal(t, 40000, tcp.target.Parameter.Port)

	// a refresh with the same parameters keeps the readers
	s.ApplyPublisherRegistration(pub, registration.DataTypeInformation{Name: "Person"}, states, params)
	assert.Len(t, readers.all(), 2)
}

func TestSubscriber_ShmOnlySameHost(t *testing.T) {
	s, readers, _ := newTestSubscriber(t, allLayers)
	states, params := publisherAnnouncement("ecal_person_1", transport.LayerSHM)

	s.ApplyPublisherRegistration(registration.EntityID{ID: 1, HostName: "there"}, registration.DataTypeInformation{}, states, params)
	assert.Empty(t, readers.open(transport.LayerSHM))

	s.ApplyPublisherRegistration(registration.EntityID{ID: 2, HostName: localHost}, registration.DataTypeInformation{}, states, params)
	assert.Len(t, readers.open(transport.LayerSHM), 1)
}

func TestSubscriber_WaitsForConnectionParameters(t *testing.T) {
	s, readers, _ := newTestSubscriber(t, allLayers)
	pub := registration.EntityID{ID: 1, HostName: localHost}

	// shm writer started but no memory file yet
	var states transport.LayerStates
	states[transport.LayerSHM].WriteEnabled = true
	s.ApplyPublisherRegistration(pub, registration.DataTypeInformation{}, states, transport.ReaderParameters{})
	assert.Empty(t, readers.all())

	states, params := publisherAnnouncement("ecal_person_1", transport.LayerSHM)
	s.ApplyPublisherRegistration(pub, registration.DataTypeInformation{}, states, params)
	assert.Len(t, readers.open(transport.LayerSHM), 1)
}

func TestSubscriber_ReopensOnNewMemoryFile(t *testing.T) {
	s, readers, _ := newTestSubscriber(t, allLayers)
	pub := registration.EntityID{ID: 1, HostName: localHost}

	states, params := publisherAnnouncement("ecal_person_1", transport.LayerSHM)
	s.ApplyPublisherRegistration(pub, registration.DataTypeInformation{}, states, params)
	first := readers.open(transport.LayerSHM)
	require.Len(t, first, 1)

	states, params = publisherAnnouncement("ecal_person_2", transport.LayerSHM)
	s.ApplyPublisherRegistration(pub, registration.DataTypeInformation{}, states, params)

	assert.True(t, first[0].isClosed())
	open := readers.open(transport.LayerSHM)
	require.Len(t, open, 1)
	assert.Equal(t, []string{"ecal_person_2"}, open[0].target.Parameter.MemoryFiles)
}

func TestSubscriber_ClosesLayerThePublisherStopped(t *testing.T) {
	s, readers, _ := newTestSubscriber(t, allLayers)
	pub := registration.EntityID{ID: 1, HostName: "there"}

	states, params := publisherAnnouncement("", transport.LayerUDP, transport.LayerTCP)
	s.ApplyPublisherRegistration(pub, registration.DataTypeInformation{}, states, params)
	require.Len(t, readers.open(transport.LayerTCP), 1)

	states, params = publisherAnnouncement("", transport.LayerUDP)
	s.ApplyPublisherRegistration(pub, registration.DataTypeInformation{}, states, params)
	assert.Empty(t, readers.open(transport.LayerTCP))
	assert.Len(t, readers.open(transport.LayerUDP), 1)
}

func TestSubscriber_ReaderFailureIsTolerated(t *testing.T) {
	s, readers, _ := newTestSubscriber(t, allLayers)
	readers.fail = transport.NewLayerSet(transport.LayerUDP)

	states, params := publisherAnnouncement("", transport.LayerUDP, transport.LayerTCP)
	s.ApplyPublisherRegistration(registration.EntityID{ID: 1, HostName: "there"}, registration.DataTypeInformation{}, states, params)

	assert.Empty(t, readers.open(transport.LayerUDP))
	assert.Len(t, readers.open(transport.LayerTCP), 1)
	require.Len(t, s.Connections(), 1)
	assert.Equal(t, []transport.Layer{transport.LayerTCP}, s.Connections()[0].Layers)
}

func TestSubscriber_ActivationAndEvents(t *testing.T) {
	s, readers, _ := newTestSubscriber(t, allLayers)
	pub := registration.EntityID{ID: 1, HostName: "there"}
	dt := registration.DataTypeInformation{Name: "Person"}

	var mu sync.Mutex
	var events []subscriberpkg.Event
	s.SetEventCallback(func(ev subscriberpkg.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})

	states, params := publisherAnnouncement("", transport.LayerUDP)
	s.ApplyPublisherRegistration(pub, dt, states, params)
	assert.False(t, s.IsPublished())

	s.ApplyPublisherRegistration(pub, dt, states, params)
	s.ApplyPublisherRegistration(pub, dt, states, params)
	assert.True(t, s.IsPublished())
	assert.Equal(t, 1, s.GetPublisherCount())

	s.ApplyPublisherUnregistration(pub, dt)
	assert.False(t, s.IsPublished())
	assert.Empty(t, readers.open(transport.LayerUDP))

	// unknown publishers are ignored
	s.ApplyPublisherUnregistration(registration.EntityID{ID: 99}, dt)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)
	assert.Equal(t, subscriberpkg.EventConnected, events[0].Type)
	assert.Equal(t, pub, events[0].Publisher)
	assert.Equal(t, s.GetTopicID(), events[0].Subscriber)
	assert.Equal(t, subscriberpkg.EventDisconnected, events[1].Type)
}

func TestSubscriber_DeliversOncePerFrame(t *testing.T) {
	s, readers, _ := newTestSubscriber(t, allLayers)
	pub := registration.EntityID{ID: 7, HostName: "there", ProcessID: 3}

	states, params := publisherAnnouncement("", transport.LayerUDP, transport.LayerTCP)
	s.ApplyPublisherRegistration(pub, registration.DataTypeInformation{}, states, params)

	var mu sync.Mutex
	var got []subscriberpkg.ReceivedData
	s.SetReceiveCallback(func(topic registration.TopicID, data subscriberpkg.ReceivedData) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "person", topic.TopicName)
		got = append(got, data)
	})

	f := transport.Frame{Topic: "person", PublisherID: 7, Payload: []byte("hi"), Clock: 1, Hash: 111, Time: time.Unix(5, 0)}
	udp := readers.open(transport.LayerUDP)[0]
	tcp := readers.open(transport.LayerTCP)[0]

	f.Layer = transport.LayerTCP
	tcp.handler(f)
	f.Layer = transport.LayerUDP
	udp.handler(f)

	f.Clock, f.Hash = 2, 222
	udp.handler(f)

	mu.Lock()
	require.Len(t, got, 2)
	assert.Equal(t, transport.LayerTCP, got[0].Layer)
	assert.Equal(t, pub, got[0].Publisher)
	assert.Equal(t, []byte("hi"), got[0].Payload)
	assert.Equal(t, int64(2), got[1].Clock)
	mu.Unlock()

	sample := s.GetRegistrationSample()
	assert.Equal(t, int64(2), sample.DataClock)
	assert.Equal(t, int32(2), sample.TopicSize)
	states = sample.LayerStates()
	assert.True(t, states[transport.LayerUDP].Active)
	assert.True(t, states[transport.LayerTCP].Active)
	assert.False(t, states[transport.LayerSHM].Active)
}

func TestSubscriber_RegistrationSampleCountsConnections(t *testing.T) {
	s, _, _ := newTestSubscriber(t, allLayers)
	states, params := publisherAnnouncement("", transport.LayerUDP)

	for _, pub := range []registration.EntityID{{ID: 1, HostName: localHost}, {ID: 2, HostName: "there"}, {ID: 3, HostName: "there"}} {
		s.ApplyPublisherRegistration(pub, registration.DataTypeInformation{}, states, params)
		s.ApplyPublisherRegistration(pub, registration.DataTypeInformation{}, states, params)
	}

	sample := s.GetRegistrationSample()
	assert.Equal(t, int32(1), sample.ConnectionsLocal)
	assert.Equal(t, int32(2), sample.ConnectionsExternal)
}

func TestSubscriber_Close(t *testing.T) {
	s, readers, provider := newTestSubscriber(t, allLayers)
	states, params := publisherAnnouncement("", transport.LayerUDP, transport.LayerTCP)
	s.ApplyPublisherRegistration(registration.EntityID{ID: 1, HostName: "there"}, registration.DataTypeInformation{}, states, params)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	for _, r := range readers.all() {
		assert.True(t, r.isClosed())
	}
	_, unregistered := provider.counts()
	assert.Equal(t, 1, unregistered)
	assert.Nil(t, s.RegistrationSamples())
	assert.False(t, s.IsPublished())

	s.ApplyPublisherRegistration(registration.EntityID{ID: 2, HostName: "there"}, registration.DataTypeInformation{}, states, params)
	assert.Len(t, readers.all(), 2, "closed subscribers open no readers")
}
