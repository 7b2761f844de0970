package shm

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rmacdonaldsmith/ecal-go/internal/config"
	"github.com/rmacdonaldsmith/ecal-go/internal/errs"
	"github.com/rmacdonaldsmith/ecal-go/internal/layer/frame"
	"github.com/rmacdonaldsmith/ecal-go/pkg/transport"
)

// Writer publishes frames of one topic into a memory file
type Writer struct {
	cfg   config.SHMConfig
	topic transport.TopicInfo
	log   *logrus.Entry

	mu      sync.Mutex
	file    *memFile
	lastLen int
	subs    map[transport.SubscriptionInfo]struct{}
	closed  bool
}

var _ transport.Writer = (*Writer)(nil)

// NewWriter creates a writer. The memory file is created by the first
// PrepareWrite, once the payload size is known.
func NewWriter(cfg config.SHMConfig, topic transport.TopicInfo, log *logrus.Entry) (*Writer, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("%w: shm directory cannot be empty", errs.ErrInvalidConfig)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Writer{
		cfg:     cfg,
		topic:   topic,
		log:     log.WithFields(logrus.Fields{"layer": "shm", "topic": topic.TopicName}),
		lastLen: -1,
		subs:    make(map[transport.SubscriptionInfo]struct{}),
	}, nil
}

// Layer returns transport.LayerSHM
func (w *Writer) Layer() transport.Layer {
	return transport.LayerSHM
}

// PrepareWrite makes sure the memory file can hold the payload. It returns
// true when a new file was created.
func (w *Writer) PrepareWrite(attrs transport.WriterAttributes) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return false
	}
	need := w.frameSize(attrs.Len)
	if w.file != nil && need <= w.file.capacity() {
		return false
	}

	size := need + need*w.cfg.ReservePct/100
	if size < w.cfg.MinSize {
		size = w.cfg.MinSize
	}
	nf, err := createFile(w.cfg.Dir, w.newFileName(), size)
	if err != nil {
		w.log.WithError(err).Error("Failed to create memory file")
		return false
	}

	if old := w.file; old != nil {
		atomic.StoreUint64(old.word(offFlags), flagSuperseded)
		atomic.AddUint64(old.word(offSeq), 2)
		if err := old.close(true); err != nil {
			w.log.WithError(err).Warn("Failed to release old memory file")
		}
	}
	w.file = nf
	w.lastLen = -1
	w.log.WithFields(logrus.Fields{"file": nf.name, "size": size}).Debug("Memory file created")
	return true
}

// Write copies buf into the memory file
func (w *Writer) Write(buf []byte, attrs transport.WriterAttributes) bool {
	attrs.Len = len(buf)
	return w.commit(attrs, func(dst []byte) bool {
		copy(dst, buf)
		return true
	})
}

// WritePayload lets payload fill the memory file directly. When the
// previous payload had the same size, WriteModified may update it in place.
func (w *Writer) WritePayload(payload transport.PayloadWriter, attrs transport.WriterAttributes) bool {
	attrs.Len = payload.Size()
	return w.commit(attrs, func(dst []byte) bool {
		if attrs.ZeroCopy && w.lastLen == len(dst) {
			return payload.WriteModified(dst)
		}
		return payload.WriteFull(dst)
	})
}

func (w *Writer) commit(attrs transport.WriterAttributes, fill func(dst []byte) bool) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	m := w.file
	if w.closed || m == nil {
		return false
	}
	h := frame.NewHeader(w.topic, attrs)
	if h.Size()+attrs.Len > m.capacity() {
		return false
	}

	seq := m.word(offSeq)
	atomic.AddUint64(seq, 1)
	data := m.data[dataOffset:]
	n := h.Put(data)
	ok := fill(data[n : n+attrs.Len])
	if ok {
		atomic.StoreUint64(m.word(offLen), uint64(n+attrs.Len))
		w.lastLen = attrs.Len
	} else {
		atomic.StoreUint64(m.word(offLen), 0)
		w.lastLen = -1
	}
	atomic.AddUint64(seq, 1)
	return ok
}

// ApplySubscription records a local subscriber
func (w *Writer) ApplySubscription(sub transport.SubscriptionInfo, _ transport.ReaderParameters) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subs[sub] = struct{}{}
}

// RemoveSubscription forgets a local subscriber
func (w *Writer) RemoveSubscription(sub transport.SubscriptionInfo) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.subs, sub)
}

// Subscribers returns the number of subscribers applied to this writer
func (w *Writer) Subscribers() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.subs)
}

// ConnectionParameter announces the current memory file
func (w *Writer) ConnectionParameter() transport.ConnectionParameter {
	w.mu.Lock()
	defer w.mu.Unlock()

	p := transport.ConnectionParameter{Layer: transport.LayerSHM}
	if w.file != nil {
		p.MemoryFiles = []string{w.file.name}
	}
	return p
}

// Close unmaps and removes the memory file
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	if w.file == nil {
		return nil
	}
	atomic.StoreUint64(w.file.word(offFlags), flagSuperseded)
	atomic.AddUint64(w.file.word(offSeq), 2)
	err := w.file.close(true)
	w.file = nil
	return err
}

func (w *Writer) frameSize(payloadLen int) int {
	return frame.FixedSize + len(w.topic.TopicName) + payloadLen
}

func (w *Writer) newFileName() string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, w.topic.TopicName)
	if len(clean) > 64 {
		clean = clean[:64]
	}
	return "ecal_" + clean + "_" + uuid.NewString()
}
