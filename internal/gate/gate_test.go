package gate

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/ecal-go/pkg/registration"
	"github.com/rmacdonaldsmith/ecal-go/pkg/transport"
)

type call struct {
	register bool
	key      registration.EntityID
	layers   transport.LayerStates
	params   transport.ReaderParameters
}

type fakeEntity struct {
	topic string

	mu    sync.Mutex
	calls []call
}

func (f *fakeEntity) GetTopicName() string { return f.topic }

func (f *fakeEntity) RegistrationSamples() []registration.Sample {
	return []registration.Sample{{Topic: registration.TopicID{TopicName: f.topic}}}
}

func (f *fakeEntity) record(c call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeEntity) recorded() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

type fakePublisher struct{ fakeEntity }

func (p *fakePublisher) ApplySubscriberRegistration(key registration.EntityID, _ registration.DataTypeInformation, layers transport.LayerStates, params transport.ReaderParameters) {
	p.record(call{register: true, key: key, layers: layers, params: params})
}

func (p *fakePublisher) ApplySubscriberUnregistration(key registration.EntityID, _ registration.DataTypeInformation) {
	p.record(call{key: key})
}

type fakeSubscriber struct{ fakeEntity }

func (s *fakeSubscriber) ApplyPublisherRegistration(key registration.EntityID, _ registration.DataTypeInformation, layers transport.LayerStates, params transport.ReaderParameters) {
	s.record(call{register: true, key: key, layers: layers, params: params})
}

func (s *fakeSubscriber) ApplyPublisherUnregistration(key registration.EntityID, _ registration.DataTypeInformation) {
	s.record(call{key: key})
}

func sample(t registration.SampleType, topic string, id uint64) registration.Sample {
	return registration.Sample{
		Type: t,
		Topic: registration.TopicID{
			Entity:    registration.EntityID{ID: id, HostName: "h"},
			TopicName: topic,
		},
		Layers: []registration.LayerSample{{
			Layer:     transport.LayerUDP,
			State:     transport.LayerState{ReadEnabled: true, WriteEnabled: true},
			Parameter: transport.ConnectionParameter{Layer: transport.LayerUDP, Port: 14002},
		}},
	}
}

func TestGate_RoutesByTopicAndKind(t *testing.T) {
	g := New()
	pub := &fakePublisher{fakeEntity{topic: "person"}}
	other := &fakePublisher{fakeEntity{topic: "alarm"}}
	sub := &fakeSubscriber{fakeEntity{topic: "person"}}
	g.AddPublisher(pub)
	g.AddPublisher(other)
	g.AddSubscriber(sub)

	g.ApplySample(sample(registration.SampleRegisterSubscriber, "person", 1))
	g.ApplySample(sample(registration.SampleRegisterPublisher, "person", 2))
	g.ApplySample(sample(registration.SampleUnregisterSubscriber, "person", 1))
	g.ApplySample(sample(registration.SampleUnregisterPublisher, "person", 2))

	pc := pub.recorded()
	require.Len(t, pc, 2)
	assert.True(t, pc[0].register)
	assert.Equal(t, uint64(1), pc[0].key.ID)
	assert.True(t, pc[0].layers[transport.LayerUDP].ReadEnabled)
	assert.Equal(t, 14002, pc[0].params.Layers[transport.LayerUDP].Port)
	assert.False(t, pc[1].register)

	sc := sub.recorded()
	require.Len(t, sc, 2)
	assert.True(t, sc[0].register)
	assert.Equal(t, uint64(2), sc[0].key.ID)
	assert.False(t, sc[1].register)

	assert.Empty(t, other.recorded())
}

func TestGate_Remove(t *testing.T) {
	g := New()
	pub := &fakePublisher{fakeEntity{topic: "person"}}
	g.AddPublisher(pub)
	g.RemovePublisher(pub)
	g.RemovePublisher(pub)

	g.ApplySample(sample(registration.SampleRegisterSubscriber, "person", 1))
	assert.Empty(t, pub.recorded())

	p, s := g.Counts()
	assert.Equal(t, 0, p)
	assert.Equal(t, 0, s)
}

func TestGate_RegistrationSamples(t *testing.T) {
	g := New()
	g.AddPublisher(&fakePublisher{fakeEntity{topic: "a"}})
	g.AddPublisher(&fakePublisher{fakeEntity{topic: "a"}})
	g.AddSubscriber(&fakeSubscriber{fakeEntity{topic: "b"}})

	assert.Len(t, g.RegistrationSamples(), 3)
	p, s := g.Counts()
	assert.Equal(t, 2, p)
	assert.Equal(t, 1, s)
}

// an entity may add or remove entities from inside a callback
type reentrantPublisher struct {
	fakePublisher
	gate *Gate
}

func (p *reentrantPublisher) ApplySubscriberRegistration(key registration.EntityID, dt registration.DataTypeInformation, layers transport.LayerStates, params transport.ReaderParameters) {
	p.gate.RemovePublisher(p)
	p.fakePublisher.ApplySubscriberRegistration(key, dt, layers, params)
}

func TestGate_ReentrantEntity(t *testing.T) {
	g := New()
	p := &reentrantPublisher{fakePublisher: fakePublisher{fakeEntity{topic: "person"}}, gate: g}
	g.AddPublisher(p)

	g.ApplySample(sample(registration.SampleRegisterSubscriber, "person", 1))
	g.ApplySample(sample(registration.SampleRegisterSubscriber, "person", 1))
	assert.Len(t, p.recorded(), 1)
}
