package registration

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/net/ipv4"

	"github.com/rmacdonaldsmith/ecal-go/internal/config"
	"github.com/rmacdonaldsmith/ecal-go/internal/errs"
	"github.com/rmacdonaldsmith/ecal-go/internal/layer/udp"
)

// maxSampleSize bounds one encoded sample on the wire
const maxSampleSize = 64 * 1024

// Sender broadcasts encoded samples to every participant
type Sender interface {
	io.Closer
	Send(data []byte) error
}

// Listener receives encoded samples. Receive blocks until data arrives; it
// returns errs.ErrClosed once the listener is closed.
type Listener interface {
	io.Closer
	Receive() ([]byte, error)
}

// LocalBus connects senders and listeners of one process without sockets
type LocalBus struct {
	mu        sync.RWMutex
	listeners map[*busListener]struct{}
	dropped   atomic.Int64
}

// NewLocalBus creates an empty bus
func NewLocalBus() *LocalBus {
	return &LocalBus{listeners: make(map[*busListener]struct{})}
}

// Sender returns a sender that broadcasts on the bus
func (b *LocalBus) Sender() Sender {
	return busSender{bus: b}
}

// Listen attaches a listener with room for queue pending samples
func (b *LocalBus) Listen(queue int) Listener {
	if queue <= 0 {
		queue = 1024
	}
	l := &busListener{
		bus:  b,
		ch:   make(chan []byte, queue),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()
	return l
}

// Dropped returns how many deliveries were dropped on full listeners
func (b *LocalBus) Dropped() int64 {
	return b.dropped.Load()
}

func (b *LocalBus) broadcast(data []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for l := range b.listeners {
		cp := append([]byte(nil), data...)
		select {
		case l.ch <- cp:
		default:
			b.dropped.Add(1)
		}
	}
}

type busSender struct {
	bus *LocalBus
}

func (s busSender) Send(data []byte) error {
	s.bus.broadcast(data)
	return nil
}

func (s busSender) Close() error {
	return nil
}

type busListener struct {
	bus  *LocalBus
	ch   chan []byte
	done chan struct{}
	once sync.Once
}

func (l *busListener) Receive() ([]byte, error) {
	select {
	case <-l.done:
		return nil, errs.ErrClosed
	default:
	}
	select {
	case data := <-l.ch:
		return data, nil
	case <-l.done:
		return nil, errs.ErrClosed
	}
}

func (l *busListener) Close() error {
	l.once.Do(func() {
		l.bus.mu.Lock()
		delete(l.bus.listeners, l)
		l.bus.mu.Unlock()
		close(l.done)
	})
	return nil
}

// UDPSender sends samples to the registration multicast group
type UDPSender struct {
	pc  *ipv4.PacketConn
	dst *net.UDPAddr
}

// NewUDPSender opens the sending socket described by cfg
func NewUDPSender(cfg config.RegistrationConfig) (*UDPSender, error) {
	group := net.ParseIP(cfg.Group).To4()
	if group == nil {
		return nil, fmt.Errorf("%w: registration group %q", errs.ErrInvalidConfig, cfg.Group)
	}
	pc, err := udp.OpenMulticastSender(cfg.TTL, cfg.Loopback, cfg.Interface)
	if err != nil {
		return nil, err
	}
	return &UDPSender{pc: pc, dst: &net.UDPAddr{IP: group, Port: cfg.Port}}, nil
}

// Send writes one datagram
func (s *UDPSender) Send(data []byte) error {
	if len(data) > maxSampleSize {
		return fmt.Errorf("%w: sample of %d bytes", errs.ErrTooLarge, len(data))
	}
	if _, err := s.pc.WriteTo(data, nil, s.dst); err != nil {
		return errs.WrapTransient(err, "UDPSender", "Send", "write datagram")
	}
	return nil
}

// Close closes the socket
func (s *UDPSender) Close() error {
	return s.pc.Close()
}

// UDPListener receives samples from the registration multicast group
type UDPListener struct {
	pc   *ipv4.PacketConn
	buf  []byte
	once sync.Once
}

// NewUDPListener joins the registration group described by cfg
func NewUDPListener(cfg config.RegistrationConfig) (*UDPListener, error) {
	group := net.ParseIP(cfg.Group).To4()
	if group == nil {
		return nil, fmt.Errorf("%w: registration group %q", errs.ErrInvalidConfig, cfg.Group)
	}
	pc, err := udp.ListenMulticast(group, cfg.Port, cfg.Interface)
	if err != nil {
		return nil, err
	}
	return &UDPListener{pc: pc, buf: make([]byte, maxSampleSize)}, nil
}

// Receive returns the next datagram. It must not be called concurrently.
func (l *UDPListener) Receive() ([]byte, error) {
	n, _, _, err := l.pc.ReadFrom(l.buf)
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, errs.ErrClosed
		}
		return nil, errs.WrapTransient(err, "UDPListener", "Receive", "read datagram")
	}
	return append([]byte(nil), l.buf[:n]...), nil
}

// Close leaves the group. Closing twice is a no-op.
func (l *UDPListener) Close() error {
	var err error
	l.once.Do(func() { err = l.pc.Close() })
	return err
}

// Open returns the sender and listener for cfg.Network. The local network
// uses bus, which must not be nil then.
func Open(cfg config.RegistrationConfig, bus *LocalBus) (Sender, Listener, error) {
	switch cfg.Network {
	case config.NetworkLocal:
		if bus == nil {
			return nil, nil, fmt.Errorf("%w: local registration network needs a bus", errs.ErrInvalidConfig)
		}
		return bus.Sender(), bus.Listen(0), nil
	case config.NetworkUDP, "":
		sender, err := NewUDPSender(cfg)
		if err != nil {
			return nil, nil, err
		}
		listener, err := NewUDPListener(cfg)
		if err != nil {
			sender.Close()
			return nil, nil, err
		}
		return sender, listener, nil
	default:
		return nil, nil, fmt.Errorf("%w: registration network %q", errs.ErrInvalidConfig, cfg.Network)
	}
}
