package udp

import (
	"net"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"

	"github.com/rmacdonaldsmith/ecal-go/internal/config"
	"github.com/rmacdonaldsmith/ecal-go/internal/layer/frame"
	"github.com/rmacdonaldsmith/ecal-go/pkg/transport"
)

// Writer sends the frames of one topic to its multicast group
type Writer struct {
	cfg   config.UDPConfig
	topic transport.TopicInfo
	log   *logrus.Entry
	dst   *net.UDPAddr
	pc    *ipv4.PacketConn

	mu      sync.Mutex
	scratch []byte
	subs    map[transport.SubscriptionInfo]struct{}
	closed  bool
}

var _ transport.Writer = (*Writer)(nil)

// NewWriter opens the sending socket for topic
func NewWriter(cfg config.UDPConfig, topic transport.TopicInfo, log *logrus.Entry) (*Writer, error) {
	group, err := GroupFor(topic.TopicName, cfg.GroupBase, cfg.GroupMask)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	pc, err := OpenMulticastSender(cfg.TTL, cfg.Loopback, cfg.Interface)
	if err != nil {
		return nil, err
	}

	return &Writer{
		cfg:   cfg,
		topic: topic,
		log:   log.WithFields(logrus.Fields{"layer": "udp", "topic": topic.TopicName, "group": group.String()}),
		dst:   &net.UDPAddr{IP: group, Port: cfg.Port},
		pc:    pc,
		subs:  make(map[transport.SubscriptionInfo]struct{}),
	}, nil
}

// Layer returns transport.LayerUDP
func (w *Writer) Layer() transport.Layer {
	return transport.LayerUDP
}

// PrepareWrite never changes the group, so it always returns false
func (w *Writer) PrepareWrite(transport.WriterAttributes) bool {
	return false
}

// Write sends buf, fragmented if needed
func (w *Writer) Write(buf []byte, attrs transport.WriterAttributes) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return false
	}
	attrs.Len = len(buf)
	h := frame.NewHeader(w.topic, attrs)

	var err error
	w.scratch, err = encodeFragments(h, buf, w.cfg.MaxDatagram, w.scratch, func(d []byte) error {
		_, werr := w.pc.WriteTo(d, nil, w.dst)
		return werr
	})
	if err != nil {
		w.log.WithError(err).Debug("Send failed")
		return false
	}
	return true
}

// WritePayload copies payload into a buffer and sends it
func (w *Writer) WritePayload(payload transport.PayloadWriter, attrs transport.WriterAttributes) bool {
	buf := make([]byte, payload.Size())
	if !payload.WriteFull(buf) {
		return false
	}
	return w.Write(buf, attrs)
}

// ApplySubscription records a subscriber
func (w *Writer) ApplySubscription(sub transport.SubscriptionInfo, _ transport.ReaderParameters) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subs[sub] = struct{}{}
}

// RemoveSubscription forgets a subscriber
func (w *Writer) RemoveSubscription(sub transport.SubscriptionInfo) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.subs, sub)
}

// ConnectionParameter announces the group and port
func (w *Writer) ConnectionParameter() transport.ConnectionParameter {
	return transport.ConnectionParameter{
		Layer: transport.LayerUDP,
		Group: w.dst.IP.String(),
		Port:  w.dst.Port,
	}
}

// Close closes the socket
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	return w.pc.Close()
}
