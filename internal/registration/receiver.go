package registration

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/rmacdonaldsmith/ecal-go/internal/errs"
	"github.com/rmacdonaldsmith/ecal-go/internal/metrics"
	registrationpkg "github.com/rmacdonaldsmith/ecal-go/pkg/registration"
)

// ReceiverConfig identifies the local process for loopback filtering
type ReceiverConfig struct {
	HostName  string
	ProcessID int32

	// Loopback keeps samples sent by this process
	Loopback bool
}

// Receiver decodes incoming samples and hands them to its handlers.
// Handlers run one sample at a time, whether the sample came from the
// listener, from Dispatch or from DispatchBatch.
type Receiver struct {
	listener Listener
	cfg      ReceiverConfig
	metrics  *metrics.Metrics
	log      *logrus.Entry

	mu       sync.RWMutex
	handlers []registrationpkg.SampleHandler

	// dispatchMu serializes handler runs
	dispatchMu sync.Mutex
}

// NewReceiver creates a receiver that owns listener
func NewReceiver(listener Listener, cfg ReceiverConfig, opts Options) (*Receiver, error) {
	if listener == nil {
		return nil, errs.WrapInvalid(errs.ErrInvalidConfig, "Receiver", "NewReceiver", "listener cannot be nil")
	}
	return &Receiver{
		listener: listener,
		cfg:      cfg,
		metrics:  opts.Metrics,
		log:      opts.logger("registration-receiver"),
	}, nil
}

// AddHandler registers h for every accepted sample
func (r *Receiver) AddHandler(h registrationpkg.SampleHandler) {
	if h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, h)
}

// Run receives until ctx is done or the listener is closed
func (r *Receiver) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		r.listener.Close()
	})
	defer stop()

	for {
		data, err := r.listener.Receive()
		if err != nil {
			if errors.Is(err, errs.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			r.log.WithError(err).Debug("Receive failed")
			continue
		}

		s, err := Decode(data)
		if err != nil {
			r.metrics.DecodeError()
			r.log.WithError(err).Debug("Dropping undecodable sample")
			continue
		}
		r.Dispatch(s)
	}
}

// Dispatch runs the handlers for s unless it is filtered out
func (r *Receiver) Dispatch(s registrationpkg.Sample) {
	if r.filtered(s) {
		return
	}
	r.metrics.SampleReceived(s.Type.String())

	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()
	r.deliver(s)
}

// DispatchBatch calls produce and runs the handlers for every sample it
// returns. No other sample is handled between produce and the last of
// those deliveries, so a decision produce makes from handler state still
// holds when its samples arrive.
func (r *Receiver) DispatchBatch(produce func() []registrationpkg.Sample) {
	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()

	for _, s := range produce() {
		if !r.filtered(s) {
			r.deliver(s)
		}
	}
}

func (r *Receiver) filtered(s registrationpkg.Sample) bool {
	return !r.cfg.Loopback && s.Topic.Entity.HostName == r.cfg.HostName && s.Topic.Entity.ProcessID == r.cfg.ProcessID
}

// deliver runs the handlers; dispatchMu must be held
func (r *Receiver) deliver(s registrationpkg.Sample) {
	r.mu.RLock()
	handlers := r.handlers
	r.mu.RUnlock()

	for _, h := range handlers {
		h(s)
	}
}

// Close closes the listener, which ends Run
func (r *Receiver) Close() error {
	return r.listener.Close()
}
