// Package node wires one process into the ecal network. It owns the
// registration provider and receiver, the catalog of remote entities, the
// gate that routes samples to local entities and the transport factory,
// and creates publishers and subscribers on top of them.
package node

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/rmacdonaldsmith/ecal-go/internal/config"
	"github.com/rmacdonaldsmith/ecal-go/internal/descgate"
	"github.com/rmacdonaldsmith/ecal-go/internal/errs"
	"github.com/rmacdonaldsmith/ecal-go/internal/gate"
	"github.com/rmacdonaldsmith/ecal-go/internal/layer"
	"github.com/rmacdonaldsmith/ecal-go/internal/metrics"
	"github.com/rmacdonaldsmith/ecal-go/internal/publisher"
	"github.com/rmacdonaldsmith/ecal-go/internal/registration"
	"github.com/rmacdonaldsmith/ecal-go/internal/subscriber"
	registrationpkg "github.com/rmacdonaldsmith/ecal-go/pkg/registration"
	"github.com/rmacdonaldsmith/ecal-go/pkg/transport"
)

// ErrNodeClosed is returned by operations on a closed node
var ErrNodeClosed = fmt.Errorf("node: %w", errs.ErrClosed)

// Options are the optional collaborators of a Node
type Options struct {
	// Bus carries registration for the "local" network
	Bus *registration.LocalBus

	// Registerer receives the metrics; nil disables them
	Registerer prometheus.Registerer

	Logger *logrus.Entry

	// Writers and Readers replace the transport factory built from the config
	Writers transport.WriterFactory
	Readers transport.ReaderFactory

	// Now is the catalog clock; nil uses time.Now
	Now func() time.Time
}

// Node is one participant of the network
type Node struct {
	mu  sync.RWMutex
	cfg *config.Config
	log *logrus.Entry

	metrics  *metrics.Metrics
	writers  transport.WriterFactory
	readers  transport.ReaderFactory
	provider *registration.Provider
	receiver *registration.Receiver
	catalog  *descgate.Gate
	gate     *gate.Gate

	publishers  map[*Publisher]struct{}
	subscribers map[*Subscriber]struct{}

	started   bool
	closed    bool
	startedAt time.Time
	cancel    context.CancelFunc
	group     *errgroup.Group
}

// New creates a node for cfg. Call Start to begin exchanging samples.
func New(cfg *config.Config, opts Options) (*Node, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config cannot be nil", errs.ErrInvalidConfig)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("host", cfg.HostName)

	m, err := metrics.New(opts.Registerer)
	if err != nil {
		return nil, err
	}

	factory := layer.NewFactory(cfg.Transport, log)
	writers, readers := opts.Writers, opts.Readers
	if writers == nil {
		writers = factory
	}
	if readers == nil {
		readers = factory
	}

	sender, listener, err := registration.Open(cfg.Registration, opts.Bus)
	if err != nil {
		return nil, err
	}
	ropts := registration.Options{Metrics: m, Logger: log}
	provider, err := registration.NewProvider(sender, cfg.Registration.RefreshInterval, ropts)
	if err != nil {
		sender.Close()
		listener.Close()
		return nil, err
	}
	receiver, err := registration.NewReceiver(listener, registration.ReceiverConfig{
		HostName:  cfg.HostName,
		ProcessID: int32(os.Getpid()),
		Loopback:  cfg.Registration.Loopback,
	}, ropts)
	if err != nil {
		provider.Close()
		listener.Close()
		return nil, err
	}

	n := &Node{
		cfg:         cfg,
		log:         log.WithField("component", "node"),
		metrics:     m,
		writers:     writers,
		readers:     readers,
		provider:    provider,
		receiver:    receiver,
		catalog:     descgate.New(cfg.Registration.Timeout, opts.Now),
		gate:        gate.New(),
		publishers:  make(map[*Publisher]struct{}),
		subscribers: make(map[*Subscriber]struct{}),
	}
	receiver.AddHandler(n.catalog.ApplySample)
	receiver.AddHandler(n.gate.ApplySample)
	provider.AddSource(n.gate)
	return n, nil
}

// Start runs the registration loops until ctx is done or Close is called.
// Starting a started node is a no-op.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrNodeClosed
	}
	if n.started {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.receiver.Run(gctx) })
	g.Go(func() error { return n.provider.Run(gctx) })
	g.Go(func() error {
		return n.catalog.Run(gctx, n.cfg.Registration.RefreshInterval, n.receiver.DispatchBatch)
	})

	n.cancel = cancel
	n.group = g
	n.started = true
	n.startedAt = time.Now()
	n.log.WithField("network", n.cfg.Registration.Network).Info("Node started")
	return nil
}

// NewPublisher creates a publisher on topic
func (n *Node) NewPublisher(topic string, dataType registrationpkg.DataTypeInformation) (*Publisher, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil, ErrNodeClosed
	}
	engine, err := publisher.New(publisher.NewConfig(n.cfg), topic, dataType, publisher.Dependencies{
		Writers:  n.writers,
		Provider: n.provider,
		Metrics:  n.metrics,
		Logger:   n.log,
	})
	if err != nil {
		return nil, err
	}
	p := &Publisher{Engine: engine, node: n}
	n.publishers[p] = struct{}{}
	n.gate.AddPublisher(engine)
	return p, nil
}

// NewSubscriber creates a subscriber on topic
func (n *Node) NewSubscriber(topic string, dataType registrationpkg.DataTypeInformation) (*Subscriber, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil, ErrNodeClosed
	}
	sub, err := subscriber.New(subscriber.NewConfig(n.cfg), topic, dataType, subscriber.Dependencies{
		Readers:  n.readers,
		Provider: n.provider,
		Metrics:  n.metrics,
		Logger:   n.log,
	})
	if err != nil {
		return nil, err
	}
	s := &Subscriber{Subscriber: sub, node: n}
	n.subscribers[s] = struct{}{}
	n.gate.AddSubscriber(sub)
	return s, nil
}

func (n *Node) forgetPublisher(p *Publisher) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.publishers, p)
	n.gate.RemovePublisher(p.Engine)
}

func (n *Node) forgetSubscriber(s *Subscriber) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.subscribers, s)
	n.gate.RemoveSubscriber(s.Subscriber)
}

// Catalog returns the catalog of every entity seen on the network
func (n *Node) Catalog() *descgate.Gate {
	return n.catalog
}

// Config returns the effective configuration
func (n *Node) Config() *config.Config {
	return n.cfg
}

// Close withdraws every local entity and stops the node
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	pubs := make([]*Publisher, 0, len(n.publishers))
	for p := range n.publishers {
		pubs = append(pubs, p)
	}
	subs := make([]*Subscriber, 0, len(n.subscribers))
	for s := range n.subscribers {
		subs = append(subs, s)
	}
	cancel, group := n.cancel, n.group
	n.mu.Unlock()

	var errList []error
	for _, p := range pubs {
		n.gate.RemovePublisher(p.Engine)
		if err := p.Engine.Close(); err != nil {
			errList = append(errList, err)
		}
	}
	for _, s := range subs {
		n.gate.RemoveSubscriber(s.Subscriber)
		if err := s.Subscriber.Close(); err != nil {
			errList = append(errList, err)
		}
	}

	if cancel != nil {
		cancel()
		if err := group.Wait(); err != nil {
			errList = append(errList, err)
		}
	}
	if err := n.provider.Close(); err != nil {
		errList = append(errList, fmt.Errorf("failed to close registration provider: %w", err))
	}
	if err := n.receiver.Close(); err != nil {
		errList = append(errList, fmt.Errorf("failed to close registration receiver: %w", err))
	}

	n.mu.Lock()
	n.started = false
	n.mu.Unlock()
	n.log.Info("Node closed")
	return errors.Join(errList...)
}
