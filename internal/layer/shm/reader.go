package shm

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rmacdonaldsmith/ecal-go/internal/config"
	"github.com/rmacdonaldsmith/ecal-go/internal/errs"
	"github.com/rmacdonaldsmith/ecal-go/internal/layer/frame"
	"github.com/rmacdonaldsmith/ecal-go/pkg/transport"
)

const readRetries = 8

// Reader polls one publisher's memory file
type Reader struct {
	file     *memFile
	target   transport.ReaderTarget
	handler  transport.FrameHandler
	interval time.Duration
	log      *logrus.Entry

	last uint64

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

var _ transport.Reader = (*Reader)(nil)

// NewReader maps the first memory file of target and starts polling it
func NewReader(cfg config.SHMConfig, target transport.ReaderTarget, handler transport.FrameHandler, log *logrus.Entry) (*Reader, error) {
	if len(target.Parameter.MemoryFiles) == 0 {
		return nil, fmt.Errorf("%w: no memory file announced for %s", errs.ErrNoLayer, target.TopicName)
	}
	if handler == nil {
		return nil, fmt.Errorf("%w: frame handler cannot be nil", errs.ErrInvalidConfig)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	m, err := openFile(cfg.Dir, target.Parameter.MemoryFiles[0])
	if err != nil {
		return nil, errs.WrapTransient(err, "ShmReader", "NewReader", "open memory file")
	}

	interval := cfg.PollInterval
	if interval <= 0 {
		interval = time.Millisecond
	}
	r := &Reader{
		file:     m,
		target:   target,
		handler:  handler,
		interval: interval,
		log:      log.WithFields(logrus.Fields{"layer": "shm", "topic": target.TopicName, "file": m.name}),
		last:     atomic.LoadUint64(m.word(offSeq)) &^ 1,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go r.run()
	return r, nil
}

// Layer returns transport.LayerSHM
func (r *Reader) Layer() transport.Layer {
	return transport.LayerSHM
}

// Close stops polling and unmaps the file
func (r *Reader) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.stop)
		<-r.done
		err = r.file.close(false)
	})
	return err
}

func (r *Reader) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			if !r.poll() {
				r.log.Debug("Memory file superseded, reader stopped")
				<-r.stop
				return
			}
		}
	}
}

// poll delivers the current frame if it is new. It returns false once the
// writer abandoned the file.
func (r *Reader) poll() bool {
	m := r.file
	if m.superseded() {
		return false
	}

	for i := 0; i < readRetries; i++ {
		s1 := atomic.LoadUint64(m.word(offSeq))
		if s1&1 == 1 {
			runtime.Gosched()
			continue
		}
		if s1 == r.last {
			return true
		}

		n := int(atomic.LoadUint64(m.word(offLen)))
		if n == 0 || n > m.capacity() {
			r.last = s1
			return true
		}
		buf := make([]byte, n)
		copy(buf, m.data[dataOffset:dataOffset+n])
		if atomic.LoadUint64(m.word(offSeq)) != s1 {
			continue
		}
		r.last = s1

		h, payload, err := frame.Decode(buf)
		if err != nil {
			r.log.WithError(err).Debug("Dropping undecodable frame")
			return true
		}
		if h.Topic != r.target.TopicName {
			return true
		}
		r.handler(h.Frame(payload, transport.LayerSHM))
		return true
	}
	return true
}
