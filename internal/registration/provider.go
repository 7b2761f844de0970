// Package registration implements the registration protocol: entities
// broadcast samples describing themselves, every participant receives the
// samples of all others and routes them to the matching local entities.
package registration

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rmacdonaldsmith/ecal-go/internal/errs"
	"github.com/rmacdonaldsmith/ecal-go/internal/metrics"
	registrationpkg "github.com/rmacdonaldsmith/ecal-go/pkg/registration"
)

// Options are the optional collaborators of providers and receivers
type Options struct {
	Metrics *metrics.Metrics
	Logger  *logrus.Entry
}

func (o Options) logger(component string) *logrus.Entry {
	log := o.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return log.WithField("component", component)
}

// Provider sends registration samples. Samples passed to RegisterSample and
// UnregisterSample go out right away; the samples of every source are
// re-sent on each refresh so late joiners and expiring catalogs catch up.
type Provider struct {
	sender   Sender
	interval time.Duration
	metrics  *metrics.Metrics
	log      *logrus.Entry

	mu      sync.Mutex
	sources map[registrationpkg.SampleSource]struct{}
	closed  bool
}

var _ registrationpkg.Provider = (*Provider)(nil)

// NewProvider creates a provider that owns sender
func NewProvider(sender Sender, refresh time.Duration, opts Options) (*Provider, error) {
	if sender == nil {
		return nil, errs.WrapInvalid(errs.ErrInvalidConfig, "Provider", "NewProvider", "sender cannot be nil")
	}
	if refresh <= 0 {
		refresh = time.Second
	}
	return &Provider{
		sender:   sender,
		interval: refresh,
		metrics:  opts.Metrics,
		log:      opts.logger("registration-provider"),
		sources:  make(map[registrationpkg.SampleSource]struct{}),
	}, nil
}

// RegisterSample sends a registration sample now
func (p *Provider) RegisterSample(s registrationpkg.Sample) {
	p.send(s)
}

// UnregisterSample sends an unregistration sample now
func (p *Provider) UnregisterSample(s registrationpkg.Sample) {
	p.send(s)
}

// AddSource adds src to the refresh cycle
func (p *Provider) AddSource(src registrationpkg.SampleSource) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sources[src] = struct{}{}
}

// RemoveSource drops src from the refresh cycle
func (p *Provider) RemoveSource(src registrationpkg.SampleSource) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sources, src)
}

// Refresh sends the current samples of every source once
func (p *Provider) Refresh() {
	p.mu.Lock()
	sources := make([]registrationpkg.SampleSource, 0, len(p.sources))
	for src := range p.sources {
		sources = append(sources, src)
	}
	p.mu.Unlock()

	for _, src := range sources {
		for _, s := range src.RegistrationSamples() {
			p.send(s)
		}
	}
}

// Run refreshes every interval until ctx is done
func (p *Provider) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Refresh()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Refresh()
		}
	}
}

func (p *Provider) send(s registrationpkg.Sample) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}

	data, err := Encode(s)
	if err != nil {
		p.log.WithError(err).Warn("Dropping unencodable registration sample")
		return
	}
	if err := p.sender.Send(data); err != nil {
		p.log.WithError(err).WithFields(logrus.Fields{
			"topic": s.Topic.TopicName,
			"type":  s.Type.String(),
		}).Warn("Failed to send registration sample")
		return
	}
	p.metrics.SampleSent(s.Type.String())
}

// Close stops sending and closes the sender
func (p *Provider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.sources = make(map[registrationpkg.SampleSource]struct{})
	p.mu.Unlock()
	return p.sender.Close()
}
