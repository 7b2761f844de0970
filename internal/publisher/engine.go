// Package publisher implements the publisher connection engine: it picks a
// transport layer per subscriber, starts layer writers on demand, keeps the
// connection table and fans payloads out over every started layer.
package publisher

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"

	"github.com/rmacdonaldsmith/ecal-go/internal/frequency"
	"github.com/rmacdonaldsmith/ecal-go/internal/metrics"
	"github.com/rmacdonaldsmith/ecal-go/internal/selector"
	publisherpkg "github.com/rmacdonaldsmith/ecal-go/pkg/publisher"
	"github.com/rmacdonaldsmith/ecal-go/pkg/registration"
	"github.com/rmacdonaldsmith/ecal-go/pkg/transport"
)

// Dependencies are the collaborators of an Engine
type Dependencies struct {
	// Writers creates layer writers (required)
	Writers transport.WriterFactory

	// Provider receives registration samples; nil disables registration
	Provider registration.Provider

	Metrics *metrics.Metrics
	Logger  *logrus.Entry

	// Now replaces time.Now
	Now func() time.Time
}

type layerSlot struct {
	layer  transport.Layer
	writer transport.Writer
	active atomic.Bool
}

// Engine is the connection engine of one publisher
type Engine struct {
	cfg      Config
	sel      *selector.Selector
	id       registration.TopicID
	dataType registration.DataTypeInformation

	writers  transport.WriterFactory
	provider registration.Provider
	metrics  *metrics.Metrics
	log      *logrus.Entry
	now      func() time.Time

	// slots are written only under startMu and read lock-free
	slots   [transport.LayerCount]atomic.Pointer[layerSlot]
	startMu sync.Mutex

	conns *connectionTable
	freq  *frequency.Calculator

	clock    atomic.Int64
	lastSize atomic.Int64
	closed   atomic.Bool

	cbMu     sync.RWMutex
	callback publisherpkg.EventCallback

	legacyMu sync.RWMutex
	legacy   map[publisherpkg.EventType]publisherpkg.EventCallback
}

var (
	_ publisherpkg.Publisher    = (*Engine)(nil)
	_ registration.SampleSource = (*Engine)(nil)
)

type noopProvider struct{}

func (noopProvider) RegisterSample(registration.Sample) {}
func (noopProvider) UnregisterSample(registration.Sample) {}

// New creates the engine of a publisher on topicName and registers it
func New(cfg Config, topicName string, dataType registration.DataTypeInformation, deps Dependencies) (*Engine, error) {
	if topicName == "" {
		return nil, ErrEmptyTopicName
	}
	if deps.Writers == nil {
		return nil, ErrNoWriterFactory
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sel, err := selector.New(cfg.LocalPriority, cfg.RemotePriority)
	if err != nil {
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

	e := &Engine{
		cfg: cfg,
		sel: sel,
		id: registration.TopicID{
			Entity:    registration.NewEntityID(cfg.HostName, cfg.ProcessID),
			TopicName: topicName,
		},
		dataType: dataType,
		writers:  deps.Writers,
		provider: deps.Provider,
		metrics:  deps.Metrics,
		now:      deps.Now,
		conns:    newConnectionTable(),
		freq:     frequency.New(frequency.WithClock(deps.Now)),
		legacy:   make(map[publisherpkg.EventType]publisherpkg.EventCallback),
	}
	e.log = deps.Logger.WithFields(logrus.Fields{
		"component": "publisher",
		"topic":     topicName,
		"entity":    e.id.Entity.ID,
	})

	e.provider.RegisterSample(e.GetRegistrationSample())
	e.log.Debug("Publisher created")
	return e, nil
}

// Write sends payload on every started layer
func (e *Engine) Write(payload transport.PayloadWriter, timestamp time.Time, filterID int64) bool {
	return e.WriteWithResult(payload, timestamp, filterID).Sent()
}

// WriteBytes sends data on every started layer
func (e *Engine) WriteBytes(data []byte, timestamp time.Time, filterID int64) bool {
	return e.WriteWithResult(transport.BytesPayload(data), timestamp, filterID).Sent()
}

// WriteWithResult sends payload and reports the detailed outcome.
// Without active subscribers only the send clock and the frequency advance.
func (e *Engine) WriteWithResult(payload transport.PayloadWriter, timestamp time.Time, filterID int64) publisherpkg.WriteResult {
	if e.closed.Load() {
		return publisherpkg.WriteNotCreated
	}

	clock := e.clock.Add(1)
	e.freq.Tick()
	size := payload.Size()
	e.lastSize.Store(int64(size))

	if e.conns.Count() == 0 {
		return e.recordWrite(publisherpkg.WriteNoSubscribers)
	}

	started := e.startedSlots()
	if len(started) == 0 {
		return e.recordWrite(publisherpkg.WriteAllLayersFailed)
	}

	attrs := transport.WriterAttributes{
		Len:   size,
		ID:    filterID,
		Clock: clock,
		Hash:  frameHash(e.id.Entity.ID, clock, filterID),
		Time:  timestamp,
	}
	if attrs.Time.IsZero() {
		attrs.Time = e.now()
	}

	attrs.ZeroCopy = e.cfg.ZeroCopy && len(started) == 1 && started[0].layer == transport.LayerSHM
	var buf []byte
	if !attrs.ZeroCopy {
		buf = make([]byte, size)
		if !payload.WriteFull(buf) {
			e.log.Warn("Payload writer failed to fill buffer")
			return e.recordWrite(publisherpkg.WriteAllLayersFailed)
		}
	}

	sent := false
	for _, s := range started {
		if s.writer.PrepareWrite(attrs) {
			e.reregister()
		}
		var ok bool
		if attrs.ZeroCopy {
			ok = s.writer.WritePayload(payload, attrs)
		} else {
			ok = s.writer.Write(buf, attrs)
		}
		if ok {
			s.active.Store(true)
		}
		e.metrics.LayerSend(e.id.TopicName, s.layer.String(), ok)
		sent = sent || ok
	}

	if !sent {
		return e.recordWrite(publisherpkg.WriteAllLayersFailed)
	}
	return e.recordWrite(publisherpkg.WriteSent)
}

func (e *Engine) recordWrite(r publisherpkg.WriteResult) publisherpkg.WriteResult {
	e.metrics.PublisherWrite(e.id.TopicName, r.String())
	return r
}

// reregister announces changed connection parameters right away and gives
// subscribers a moment to pick them up
func (e *Engine) reregister() {
	e.provider.RegisterSample(e.GetRegistrationSample())
	if e.cfg.ReregisterDelay > 0 {
		time.Sleep(e.cfg.ReregisterDelay)
	}
}

// ApplySubscriberRegistration connects a subscriber. The selected layer is
// started if needed, the subscription is forwarded to every started writer
// the subscriber can read, and the second registration of the subscriber
// raises a Connected event.
func (e *Engine) ApplySubscriberRegistration(key registration.EntityID, dataType registration.DataTypeInformation, layers transport.LayerStates, params transport.ReaderParameters) {
	if e.closed.Load() || e.filtered(key) {
		return
	}

	sameHost := key.HostName == e.cfg.HostName
	readable := layers.ReadSet()
	if l, ok := e.sel.Select(e.cfg.Layers, readable, sameHost); ok {
		e.startLayer(l)
	} else {
		e.log.WithField("subscriber", key.String()).Debug("No common transport layer")
	}

	sub := key.SubscriptionInfo()
	for _, s := range e.startedSlots() {
		if !readable.Has(s.layer) {
			continue
		}
		if s.layer == transport.LayerSHM && !sameHost {
			continue
		}
		s.writer.ApplySubscription(sub, params)
	}

	if e.conns.Upsert(key, dataType, layers) {
		e.metrics.SetSubscribers(e.id.TopicName, e.conns.Count())
		e.log.WithField("subscriber", key.String()).Info("Subscriber connected")
		e.fire(publisherpkg.Event{
			Type:       publisherpkg.EventConnected,
			Publisher:  e.id,
			Subscriber: key,
			DataType:   dataType,
			Time:       e.now(),
		})
	}
}

// ApplySubscriberUnregistration disconnects a subscriber. The Disconnected
// event fires whether or not the subscriber had become active.
func (e *Engine) ApplySubscriberUnregistration(key registration.EntityID, dataType registration.DataTypeInformation) {
	if e.closed.Load() || e.filtered(key) {
		return
	}

	sub := key.SubscriptionInfo()
	for _, s := range e.startedSlots() {
		s.writer.RemoveSubscription(sub)
	}
	e.conns.Remove(key)
	e.metrics.SetSubscribers(e.id.TopicName, e.conns.Count())

	e.log.WithField("subscriber", key.String()).Info("Subscriber disconnected")
	e.fire(publisherpkg.Event{
		Type:       publisherpkg.EventDisconnected,
		Publisher:  e.id,
		Subscriber: key,
		DataType:   dataType,
		Time:       e.now(),
	})
}

// filtered drops subscribers of this process unless loopback is on
func (e *Engine) filtered(key registration.EntityID) bool {
	return !e.cfg.Loopback && key.HostName == e.cfg.HostName && key.ProcessID == e.cfg.ProcessID
}

// startLayer creates the writer of l once. Started writers stay until Close.
func (e *Engine) startLayer(l transport.Layer) {
	if e.slots[l].Load() != nil {
		return
	}

	e.startMu.Lock()
	defer e.startMu.Unlock()

	if e.closed.Load() || e.slots[l].Load() != nil {
		return
	}
	w, err := e.writers.NewWriter(l, transport.TopicInfo{
		TopicName: e.id.TopicName,
		HostName:  e.id.Entity.HostName,
		ProcessID: e.id.Entity.ProcessID,
		EntityID:  e.id.Entity.ID,
	})
	if err != nil {
		e.log.WithError(err).WithField("layer", l.String()).Warn("Failed to start layer writer")
		return
	}
	e.slots[l].Store(&layerSlot{layer: l, writer: w})
	e.metrics.LayerStarted(l.String())
	e.log.WithField("layer", l.String()).Info("Layer writer started")
}

// startedSlots returns the started writers in write order
func (e *Engine) startedSlots() []*layerSlot {
	out := make([]*layerSlot, 0, len(transport.WriteOrder))
	for _, l := range transport.WriteOrder {
		if s := e.slots[l].Load(); s != nil {
			out = append(out, s)
		}
	}
	return out
}

func frameHash(entityID uint64, clock, filterID int64) uint64 {
	var b [24]byte
	binary.LittleEndian.PutUint64(b[0:], entityID)
	binary.LittleEndian.PutUint64(b[8:], uint64(clock))
	binary.LittleEndian.PutUint64(b[16:], uint64(filterID))
	return xxhash.Sum64(b[:])
}

// IsSubscribed reports whether at least one subscriber is connected
func (e *Engine) IsSubscribed() bool {
	return e.conns.Count() > 0
}

// GetSubscriberCount returns the number of connected subscribers
func (e *Engine) GetSubscriberCount() int {
	return e.conns.Count()
}

// GetTopicName returns the topic name
func (e *Engine) GetTopicName() string {
	return e.id.TopicName
}

// GetTopicID returns the topic id
func (e *Engine) GetTopicID() registration.TopicID {
	return e.id
}

// GetDataTypeInformation returns the data type
func (e *Engine) GetDataTypeInformation() registration.DataTypeInformation {
	return e.dataType
}

// Connections returns every known subscriber, active or not
func (e *Engine) Connections() []Connection {
	return e.conns.List()
}

// LayerStates returns the publisher's per-layer state
func (e *Engine) LayerStates() transport.LayerStates {
	var states transport.LayerStates
	for _, l := range transport.WriteOrder {
		if s := e.slots[l].Load(); s != nil {
			states[l].WriteEnabled = true
			states[l].Active = s.active.Load()
		}
	}
	return states
}

// SetEventCallback installs the event callback
func (e *Engine) SetEventCallback(cb publisherpkg.EventCallback) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.callback = cb
}

// RemoveEventCallback clears the event callback
func (e *Engine) RemoveEventCallback() {
	e.SetEventCallback(nil)
}

// AddEventCallback installs a callback for one event type.
//
// Deprecated: use SetEventCallback. Both fire when both are set.
func (e *Engine) AddEventCallback(eventType publisherpkg.EventType, cb publisherpkg.EventCallback) {
	e.legacyMu.Lock()
	defer e.legacyMu.Unlock()
	if cb == nil {
		delete(e.legacy, eventType)
		return
	}
	e.legacy[eventType] = cb
}

// RemoveEventCallbackType clears the callback of one event type.
//
// Deprecated: use RemoveEventCallback.
func (e *Engine) RemoveEventCallbackType(eventType publisherpkg.EventType) {
	e.AddEventCallback(eventType, nil)
}

// fire runs the callbacks without holding any engine lock
func (e *Engine) fire(ev publisherpkg.Event) {
	e.legacyMu.RLock()
	legacy := e.legacy[ev.Type]
	e.legacyMu.RUnlock()

	e.cbMu.RLock()
	cb := e.callback
	e.cbMu.RUnlock()

	if legacy != nil {
		legacy(ev)
	}
	if cb != nil {
		cb(ev)
	}
}

// GetRegistrationSample describes the publisher for the registration
// protocol. It may be called at any time, including during Write.
func (e *Engine) GetRegistrationSample() registration.Sample {
	local, external := e.conns.Snapshot(e.cfg.HostName)
	s := registration.Sample{
		Type:                registration.SampleRegisterPublisher,
		Topic:               e.id,
		ProcessName:         e.cfg.ProcessName,
		DataType:            e.dataType,
		ConnectionsLocal:    int32(local),
		ConnectionsExternal: int32(external),
		DataClock:           e.clock.Load(),
		DataFrequency:       int32(e.freq.Frequency() * 1000),
		TopicSize:           int32(e.lastSize.Load()),
	}
	for _, l := range transport.WriteOrder {
		if !e.cfg.Layers.Has(l) {
			continue
		}
		ls := registration.LayerSample{Layer: l, Version: 1}
		if slot := e.slots[l].Load(); slot != nil {
			ls.State.WriteEnabled = true
			ls.State.Active = slot.active.Load()
			ls.Parameter = slot.writer.ConnectionParameter()
		}
		s.Layers = append(s.Layers, ls)
	}
	return s
}

// GetUnregistrationSample withdraws the publisher
func (e *Engine) GetUnregistrationSample() registration.Sample {
	return registration.Sample{
		Type:        registration.SampleUnregisterPublisher,
		Topic:       e.id,
		ProcessName: e.cfg.ProcessName,
		DataType:    e.dataType,
	}
}

// RegistrationSamples implements registration.SampleSource
func (e *Engine) RegistrationSamples() []registration.Sample {
	if e.closed.Load() {
		return nil
	}
	return []registration.Sample{e.GetRegistrationSample()}
}

// Close stops every writer, forgets every subscriber without raising
// events and withdraws the publisher
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	e.startMu.Lock()
	for l := range e.slots {
		if s := e.slots[l].Swap(nil); s != nil {
			if err := s.writer.Close(); err != nil {
				e.log.WithError(err).WithField("layer", s.layer.String()).Warn("Failed to close layer writer")
			}
		}
	}
	e.startMu.Unlock()

	e.conns.Clear()
	e.metrics.DeleteTopic(e.id.TopicName)
	e.provider.UnregisterSample(e.GetUnregistrationSample())
	e.log.Debug("Publisher closed")
	return nil
}
