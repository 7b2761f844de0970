package udp

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"

	"github.com/rmacdonaldsmith/ecal-go/internal/config"
	"github.com/rmacdonaldsmith/ecal-go/internal/errs"
	"github.com/rmacdonaldsmith/ecal-go/internal/layer/frame"
	"github.com/rmacdonaldsmith/ecal-go/pkg/transport"
)

const pendingPayloads = 8

// Reader joins a topic's multicast group and delivers its frames
type Reader struct {
	pc      *ipv4.PacketConn
	target  transport.ReaderTarget
	handler transport.FrameHandler
	asm     *assembler
	log     *logrus.Entry

	done      chan struct{}
	closeOnce sync.Once
}

var _ transport.Reader = (*Reader)(nil)

// NewReader joins the group announced by target, falling back to the
// group derived from the topic name
func NewReader(cfg config.UDPConfig, target transport.ReaderTarget, handler transport.FrameHandler, log *logrus.Entry) (*Reader, error) {
	if handler == nil {
		return nil, fmt.Errorf("%w: frame handler cannot be nil", errs.ErrInvalidConfig)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	group := net.ParseIP(target.Parameter.Group).To4()
	if group == nil {
		var err error
		if group, err = GroupFor(target.TopicName, cfg.GroupBase, cfg.GroupMask); err != nil {
			return nil, err
		}
	}
	port := target.Parameter.Port
	if port == 0 {
		port = cfg.Port
	}

	pc, err := ListenMulticast(group, port, cfg.Interface)
	if err != nil {
		return nil, err
	}

	r := &Reader{
		pc:      pc,
		target:  target,
		handler: handler,
		asm:     newAssembler(pendingPayloads),
		log:     log.WithFields(logrus.Fields{"layer": "udp", "topic": target.TopicName, "group": group.String()}),
		done:    make(chan struct{}),
	}
	go r.run()
	return r, nil
}

// Layer returns transport.LayerUDP
func (r *Reader) Layer() transport.Layer {
	return transport.LayerUDP
}

// Close leaves the group and stops the receive loop
func (r *Reader) Close() error {
	var err error
	r.closeOnce.Do(func() {
		err = r.pc.Close()
		<-r.done
	})
	return err
}

func (r *Reader) run() {
	defer close(r.done)

	buf := make([]byte, 64*1024)
	for {
		n, _, _, err := r.pc.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			r.log.WithError(err).Debug("Receive failed")
			continue
		}
		h, chunk, err := frame.Decode(buf[:n])
		if err != nil {
			continue
		}
		if h.Topic != r.target.TopicName {
			continue
		}
		if r.target.EntityID != 0 && h.PublisherID != r.target.EntityID {
			continue
		}
		if payload, ok := r.asm.add(h, chunk); ok {
			r.handler(h.Frame(payload, transport.LayerUDP))
		}
	}
}
