// Package subscriber implements the subscriber side of a topic: it opens
// one reader per publisher and shared layer, drops frames that already
// arrived on another layer and hands the rest to the receive callback.
package subscriber

import (
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rmacdonaldsmith/ecal-go/internal/frequency"
	"github.com/rmacdonaldsmith/ecal-go/internal/metrics"
	"github.com/rmacdonaldsmith/ecal-go/pkg/registration"
	subscriberpkg "github.com/rmacdonaldsmith/ecal-go/pkg/subscriber"
	"github.com/rmacdonaldsmith/ecal-go/pkg/transport"
)

// Dependencies are the collaborators of a Subscriber
type Dependencies struct {
	// Readers creates layer readers (required)
	Readers transport.ReaderFactory

	// Provider receives registration samples; nil disables registration
	Provider registration.Provider

	Metrics *metrics.Metrics
	Logger  *logrus.Entry
	Now     func() time.Time
}

type readerSlot struct {
	reader transport.Reader
	param  transport.ConnectionParameter
}

// Connection is the subscriber's view of one publisher
type Connection struct {
	Publisher registration.EntityID
	DataType  registration.DataTypeInformation
	Layers    []transport.Layer
	Active    bool
}

type connection struct {
	publisher registration.EntityID
	dataType  registration.DataTypeInformation
	readers   [transport.LayerCount]*readerSlot
	samples   int
}

func (c *connection) active() bool {
	return c.samples >= 2
}

// Subscriber receives the payloads of one topic
type Subscriber struct {
	cfg      Config
	id       registration.TopicID
	dataType registration.DataTypeInformation

	readers  transport.ReaderFactory
	provider registration.Provider
	metrics  *metrics.Metrics
	log      *logrus.Entry
	now      func() time.Time

	mu     sync.Mutex
	conns  map[registration.EntityID]*connection
	active atomic.Int64

	dedup     *dedupWindow
	layerUsed [transport.LayerCount]atomic.Bool
	received  atomic.Int64
	lastSize  atomic.Int64
	freq      *frequency.Calculator
	closed    atomic.Bool

	cbMu    sync.RWMutex
	receive subscriberpkg.ReceiveCallback
	event   subscriberpkg.EventCallback
}

var (
	_ subscriberpkg.Subscriber  = (*Subscriber)(nil)
	_ registration.SampleSource = (*Subscriber)(nil)
)

type noopProvider struct{}

func (noopProvider) RegisterSample(registration.Sample)   {}
func (noopProvider) UnregisterSample(registration.Sample) {}

// New creates a subscriber on topicName and registers it
func New(cfg Config, topicName string, dataType registration.DataTypeInformation, deps Dependencies) (*Subscriber, error) {
	if topicName == "" {
		return nil, ErrEmptyTopicName
	}
	if deps.Readers == nil {
		return nil, ErrNoReaderFactory
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Provider == nil {
		deps.Provider = noopProvider{}
	}
	if deps.Logger == nil {
		deps.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	s := &Subscriber{
		cfg: cfg,
		id: registration.TopicID{
			Entity:    registration.NewEntityID(cfg.HostName, cfg.ProcessID),
			TopicName: topicName,
		},
		dataType: dataType,
		readers:  deps.Readers,
		provider: deps.Provider,
		metrics:  deps.Metrics,
		now:      deps.Now,
		conns:    make(map[registration.EntityID]*connection),
		dedup:    newDedupWindow(cfg.DedupWindow),
		freq:     frequency.New(frequency.WithClock(deps.Now)),
	}
	s.log = deps.Logger.WithFields(logrus.Fields{
		"component": "subscriber",
		"topic":     topicName,
		"entity":    s.id.Entity.ID,
	})

	s.provider.RegisterSample(s.GetRegistrationSample())
	s.log.Debug("Subscriber created")
	return s, nil
}

// ApplyPublisherRegistration connects a publisher. A reader is kept open on
// every layer the publisher writes and this subscriber reads; readers are
// reopened when the publisher announces new connection parameters. The
// second registration of a publisher raises a Connected event.
func (s *Subscriber) ApplyPublisherRegistration(key registration.EntityID, dataType registration.DataTypeInformation, layers transport.LayerStates, params transport.ReaderParameters) {
	if s.closed.Load() {
		return
	}
	sameHost := key.HostName == s.cfg.HostName

	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		return
	}
	c, ok := s.conns[key]
	if !ok {
		c = &connection{publisher: key}
		s.conns[key] = c
	}
	c.dataType = dataType
	c.samples++
	connected := c.samples == 2
	if connected {
		s.active.Add(1)
	}

	var stale []transport.Reader
	for _, l := range transport.WriteOrder {
		p := params.Layers[l]
		want := s.cfg.Layers.Has(l) && layers[l].WriteEnabled && connectable(l, p) &&
			(l != transport.LayerSHM || sameHost)

		cur := c.readers[l]
		if cur != nil && (!want || !sameParameter(cur.param, p)) {
			stale = append(stale, cur.reader)
			c.readers[l] = nil
			cur = nil
		}
		if want && cur == nil {
			if slot := s.openReader(l, key, p); slot != nil {
				c.readers[l] = slot
			}
		}
	}
	s.mu.Unlock()

	closeReaders(s.log, stale)

	if connected {
		s.log.WithField("publisher", key.String()).Info("Publisher connected")
		s.fire(subscriberpkg.Event{
			Type:       subscriberpkg.EventConnected,
			Subscriber: s.id,
			Publisher:  key,
			DataType:   dataType,
			Time:       s.now(),
		})
	}
}

// ApplyPublisherUnregistration disconnects a publisher and closes its readers
func (s *Subscriber) ApplyPublisherUnregistration(key registration.EntityID, dataType registration.DataTypeInformation) {
	if s.closed.Load() {
		return
	}

	s.mu.Lock()
	c, ok := s.conns[key]
	if ok {
		delete(s.conns, key)
		if c.active() {
			s.active.Add(-1)
		}
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	closeReaders(s.log, c.readerList())
	s.log.WithField("publisher", key.String()).Info("Publisher disconnected")
	s.fire(subscriberpkg.Event{
		Type:       subscriberpkg.EventDisconnected,
		Subscriber: s.id,
		Publisher:  key,
		DataType:   dataType,
		Time:       s.now(),
	})
}

// openReader must be called with s.mu held
func (s *Subscriber) openReader(l transport.Layer, key registration.EntityID, p transport.ConnectionParameter) *readerSlot {
	r, err := s.readers.NewReader(l, transport.ReaderTarget{
		TopicName: s.id.TopicName,
		HostName:  key.HostName,
		EntityID:  key.ID,
		Parameter: p,
	}, s.onFrame)
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"layer":     l.String(),
			"publisher": key.String(),
		}).Warn("Failed to open layer reader")
		return nil
	}
	s.log.WithFields(logrus.Fields{"layer": l.String(), "publisher": key.String()}).Debug("Layer reader opened")
	return &readerSlot{reader: r, param: p}
}

func (s *Subscriber) onFrame(f transport.Frame) {
	if s.closed.Load() {
		return
	}
	if s.dedup.seen(f.Hash) {
		s.metrics.SubscriberDuplicate(s.id.TopicName)
		return
	}

	s.received.Add(1)
	s.lastSize.Store(int64(len(f.Payload)))
	s.freq.TickAt(s.now())
	if f.Layer.Valid() {
		s.layerUsed[f.Layer].Store(true)
	}
	s.metrics.SubscriberFrame(s.id.TopicName, f.Layer.String())

	s.cbMu.RLock()
	cb := s.receive
	s.cbMu.RUnlock()
	if cb == nil {
		return
	}
	cb(s.id, subscriberpkg.ReceivedData{
		Publisher: s.publisherOf(f),
		Payload:   f.Payload,
		Clock:     f.Clock,
		ID:        f.ID,
		Time:      f.Time,
		Layer:     f.Layer,
	})
}

// publisherOf rebuilds the publisher id from the frame's entity id
func (s *Subscriber) publisherOf(f transport.Frame) registration.EntityID {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.conns {
		if key.ID == f.PublisherID {
			return key
		}
	}
	return registration.EntityID{ID: f.PublisherID}
}

// connectable reports whether p carries enough to open a reader on l
func connectable(l transport.Layer, p transport.ConnectionParameter) bool {
	switch l {
	case transport.LayerSHM:
		return len(p.MemoryFiles) > 0
	case transport.LayerUDP:
		return true
	case transport.LayerTCP:
		return p.Port != 0
	default:
		return false
	}
}

func sameParameter(a, b transport.ConnectionParameter) bool {
	return a.Layer == b.Layer && a.Group == b.Group && a.Host == b.Host && a.Port == b.Port &&
		slices.Equal(a.MemoryFiles, b.MemoryFiles)
}

func (c *connection) readerList() []transport.Reader {
	var out []transport.Reader
	for _, slot := range c.readers {
		if slot != nil {
			out = append(out, slot.reader)
		}
	}
	return out
}

func closeReaders(log *logrus.Entry, readers []transport.Reader) {
	for _, r := range readers {
		if err := r.Close(); err != nil {
			log.WithError(err).WithField("layer", r.Layer().String()).Warn("Failed to close layer reader")
		}
	}
}

// IsPublished reports whether at least one publisher is connected
func (s *Subscriber) IsPublished() bool {
	return s.active.Load() > 0
}

// GetPublisherCount returns the number of connected publishers
func (s *Subscriber) GetPublisherCount() int {
	return int(s.active.Load())
}

// GetTopicName returns the topic name
func (s *Subscriber) GetTopicName() string {
	return s.id.TopicName
}

// GetTopicID returns the topic id
func (s *Subscriber) GetTopicID() registration.TopicID {
	return s.id
}

// GetDataTypeInformation returns the data type
func (s *Subscriber) GetDataTypeInformation() registration.DataTypeInformation {
	return s.dataType
}

// Connections returns every known publisher ordered by entity id
func (s *Subscriber) Connections() []Connection {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Connection, 0, len(s.conns))
	for key, c := range s.conns {
		conn := Connection{Publisher: key, DataType: c.dataType, Active: c.active()}
		for _, l := range transport.WriteOrder {
			if c.readers[l] != nil {
				conn.Layers = append(conn.Layers, l)
			}
		}
		out = append(out, conn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Publisher.ID < out[j].Publisher.ID })
	return out
}

// SetReceiveCallback installs the receive callback
func (s *Subscriber) SetReceiveCallback(cb subscriberpkg.ReceiveCallback) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.receive = cb
}

// RemoveReceiveCallback clears the receive callback
func (s *Subscriber) RemoveReceiveCallback() {
	s.SetReceiveCallback(nil)
}

// SetEventCallback installs the event callback
func (s *Subscriber) SetEventCallback(cb subscriberpkg.EventCallback) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.event = cb
}

// RemoveEventCallback clears the event callback
func (s *Subscriber) RemoveEventCallback() {
	s.SetEventCallback(nil)
}

func (s *Subscriber) fire(ev subscriberpkg.Event) {
	s.cbMu.RLock()
	cb := s.event
	s.cbMu.RUnlock()
	if cb != nil {
		cb(ev)
	}
}

// GetRegistrationSample advertises the read-enabled layers
func (s *Subscriber) GetRegistrationSample() registration.Sample {
	local, external := 0, 0
	s.mu.Lock()
	for key, c := range s.conns {
		if !c.active() {
			continue
		}
		if key.HostName == s.cfg.HostName {
			local++
		} else {
			external++
		}
	}
	s.mu.Unlock()

	sample := registration.Sample{
		Type:                registration.SampleRegisterSubscriber,
		Topic:               s.id,
		ProcessName:         s.cfg.ProcessName,
		DataType:            s.dataType,
		ConnectionsLocal:    int32(local),
		ConnectionsExternal: int32(external),
		DataClock:           s.received.Load(),
		DataFrequency:       int32(s.freq.FrequencyAt(s.now()) * 1000),
		TopicSize:           int32(s.lastSize.Load()),
	}
	for _, l := range s.cfg.Layers.Layers() {
		sample.Layers = append(sample.Layers, registration.LayerSample{
			Layer:   l,
			Version: 1,
			State: transport.LayerState{
				ReadEnabled: true,
				Active:      s.layerUsed[l].Load(),
			},
		})
	}
	return sample
}

// GetUnregistrationSample withdraws the subscriber
func (s *Subscriber) GetUnregistrationSample() registration.Sample {
	return registration.Sample{
		Type:        registration.SampleUnregisterSubscriber,
		Topic:       s.id,
		ProcessName: s.cfg.ProcessName,
		DataType:    s.dataType,
	}
}

// RegistrationSamples implements registration.SampleSource
func (s *Subscriber) RegistrationSamples() []registration.Sample {
	if s.closed.Load() {
		return nil
	}
	return []registration.Sample{s.GetRegistrationSample()}
}

// Close closes every reader, forgets every publisher without raising
// events and withdraws the subscriber
func (s *Subscriber) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	var readers []transport.Reader
	for _, c := range s.conns {
		readers = append(readers, c.readerList()...)
	}
	s.conns = make(map[registration.EntityID]*connection)
	s.active.Store(0)
	s.mu.Unlock()

	closeReaders(s.log, readers)
	s.provider.UnregisterSample(s.GetUnregistrationSample())
	s.log.Debug("Subscriber closed")
	return nil
}
