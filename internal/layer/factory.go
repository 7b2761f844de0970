// Package layer builds the shm, udp and tcp writers and readers from the
// transport configuration.
package layer

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/rmacdonaldsmith/ecal-go/internal/config"
	"github.com/rmacdonaldsmith/ecal-go/internal/errs"
	"github.com/rmacdonaldsmith/ecal-go/internal/layer/shm"
	"github.com/rmacdonaldsmith/ecal-go/internal/layer/tcp"
	"github.com/rmacdonaldsmith/ecal-go/internal/layer/udp"
	"github.com/rmacdonaldsmith/ecal-go/pkg/transport"
)

// Factory creates transport writers and readers
type Factory struct {
	cfg config.TransportConfig
	log *logrus.Entry
}

var (
	_ transport.WriterFactory = (*Factory)(nil)
	_ transport.ReaderFactory = (*Factory)(nil)
)

// NewFactory creates a factory for cfg
func NewFactory(cfg config.TransportConfig, log *logrus.Entry) *Factory {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Factory{cfg: cfg, log: log}
}

// NewWriter creates the writer of topic on layer l
func (f *Factory) NewWriter(l transport.Layer, topic transport.TopicInfo) (transport.Writer, error) {
	var (
		w   transport.Writer
		err error
	)
	switch l {
	case transport.LayerSHM:
		w, err = shm.NewWriter(f.cfg.SHM, topic, f.log)
	case transport.LayerUDP:
		w, err = udp.NewWriter(f.cfg.UDP, topic, f.log)
	case transport.LayerTCP:
		w, err = tcp.NewWriter(f.cfg.TCP, topic, f.log)
	default:
		return nil, fmt.Errorf("%w: %s", errs.ErrNoLayer, l)
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

// NewReader creates a reader on layer l for the publisher described by target
func (f *Factory) NewReader(l transport.Layer, target transport.ReaderTarget, handler transport.FrameHandler) (transport.Reader, error) {
	var (
		r   transport.Reader
		err error
	)
	switch l {
	case transport.LayerSHM:
		r, err = shm.NewReader(f.cfg.SHM, target, handler, f.log)
	case transport.LayerUDP:
		r, err = udp.NewReader(f.cfg.UDP, target, handler, f.log)
	case transport.LayerTCP:
		r, err = tcp.NewReader(f.cfg.TCP, target, handler, f.log)
	default:
		return nil, fmt.Errorf("%w: %s", errs.ErrNoLayer, l)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}
