// Package gate routes received registration samples to the local entities
// of the matching topic.
package gate

import (
	"sync"

	"github.com/rmacdonaldsmith/ecal-go/pkg/registration"
	"github.com/rmacdonaldsmith/ecal-go/pkg/transport"
)

// PublisherEntity is a local publisher as seen by the gate
type PublisherEntity interface {
	registration.SampleSource
	GetTopicName() string
	ApplySubscriberRegistration(key registration.EntityID, dataType registration.DataTypeInformation, layers transport.LayerStates, params transport.ReaderParameters)
	ApplySubscriberUnregistration(key registration.EntityID, dataType registration.DataTypeInformation)
}

// SubscriberEntity is a local subscriber as seen by the gate
type SubscriberEntity interface {
	registration.SampleSource
	GetTopicName() string
	ApplyPublisherRegistration(key registration.EntityID, dataType registration.DataTypeInformation, layers transport.LayerStates, params transport.ReaderParameters)
	ApplyPublisherUnregistration(key registration.EntityID, dataType registration.DataTypeInformation)
}

// Gate holds the local entities by topic name
type Gate struct {
	mu          sync.RWMutex
	publishers  map[string]map[PublisherEntity]struct{}
	subscribers map[string]map[SubscriberEntity]struct{}
}

var _ registration.SampleSource = (*Gate)(nil)

// New creates an empty gate
func New() *Gate {
	return &Gate{
		publishers:  make(map[string]map[PublisherEntity]struct{}),
		subscribers: make(map[string]map[SubscriberEntity]struct{}),
	}
}

// AddPublisher makes p receive the subscriber samples of its topic
func (g *Gate) AddPublisher(p PublisherEntity) {
	g.mu.Lock()
	defer g.mu.Unlock()
	add(g.publishers, p.GetTopicName(), p)
}

// RemovePublisher stops routing to p
func (g *Gate) RemovePublisher(p PublisherEntity) {
	g.mu.Lock()
	defer g.mu.Unlock()
	remove(g.publishers, p.GetTopicName(), p)
}

// AddSubscriber makes s receive the publisher samples of its topic
func (g *Gate) AddSubscriber(s SubscriberEntity) {
	g.mu.Lock()
	defer g.mu.Unlock()
	add(g.subscribers, s.GetTopicName(), s)
}

// RemoveSubscriber stops routing to s
func (g *Gate) RemoveSubscriber(s SubscriberEntity) {
	g.mu.Lock()
	defer g.mu.Unlock()
	remove(g.subscribers, s.GetTopicName(), s)
}

// ApplySample routes s. Entities are called without the gate lock held.
func (g *Gate) ApplySample(s registration.Sample) {
	topic := s.Topic.TopicName
	key := s.Topic.Entity

	switch s.Type {
	case registration.SampleRegisterSubscriber:
		layers, params := s.LayerStates(), s.ReaderParameters()
		for _, p := range g.publishersOf(topic) {
			p.ApplySubscriberRegistration(key, s.DataType, layers, params)
		}
	case registration.SampleUnregisterSubscriber:
		for _, p := range g.publishersOf(topic) {
			p.ApplySubscriberUnregistration(key, s.DataType)
		}
	case registration.SampleRegisterPublisher:
		layers, params := s.LayerStates(), s.ReaderParameters()
		for _, sub := range g.subscribersOf(topic) {
			sub.ApplyPublisherRegistration(key, s.DataType, layers, params)
		}
	case registration.SampleUnregisterPublisher:
		for _, sub := range g.subscribersOf(topic) {
			sub.ApplyPublisherUnregistration(key, s.DataType)
		}
	}
}

// RegistrationSamples collects the samples of every local entity
func (g *Gate) RegistrationSamples() []registration.Sample {
	g.mu.RLock()
	var sources []registration.SampleSource
	for _, set := range g.publishers {
		for p := range set {
			sources = append(sources, p)
		}
	}
	for _, set := range g.subscribers {
		for s := range set {
			sources = append(sources, s)
		}
	}
	g.mu.RUnlock()

	var out []registration.Sample
	for _, src := range sources {
		out = append(out, src.RegistrationSamples()...)
	}
	return out
}

// Counts returns the number of local publishers and subscribers
func (g *Gate) Counts() (publishers, subscribers int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, set := range g.publishers {
		publishers += len(set)
	}
	for _, set := range g.subscribers {
		subscribers += len(set)
	}
	return publishers, subscribers
}

func (g *Gate) publishersOf(topic string) []PublisherEntity {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return members(g.publishers[topic])
}

func (g *Gate) subscribersOf(topic string) []SubscriberEntity {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return members(g.subscribers[topic])
}

func add[E comparable](m map[string]map[E]struct{}, topic string, e E) {
	set, ok := m[topic]
	if !ok {
		set = make(map[E]struct{})
		m[topic] = set
	}
	set[e] = struct{}{}
}

func remove[E comparable](m map[string]map[E]struct{}, topic string, e E) {
	set, ok := m[topic]
	if !ok {
		return
	}
	delete(set, e)
	if len(set) == 0 {
		delete(m, topic)
	}
}

func members[E comparable](set map[E]struct{}) []E {
	out := make([]E, 0, len(set))
	for e := range set {
		out = append(out, e)
	}
	return out
}
