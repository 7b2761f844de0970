package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/rmacdonaldsmith/ecal-go/internal/config"
	"github.com/rmacdonaldsmith/ecal-go/internal/errs"
	"github.com/rmacdonaldsmith/ecal-go/internal/layer/frame"
	"github.com/rmacdonaldsmith/ecal-go/pkg/transport"
)

const (
	minBackoff = 50 * time.Millisecond
	maxBackoff = 2 * time.Second
)

// Reader holds one Subscribe stream to a publisher and reconnects when it
// breaks
type Reader struct {
	conn    *grpc.ClientConn
	target  transport.ReaderTarget
	handler transport.FrameHandler
	log     *logrus.Entry

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

var _ transport.Reader = (*Reader)(nil)

// NewReader dials the publisher announced in target
func NewReader(cfg config.TCPConfig, target transport.ReaderTarget, handler transport.FrameHandler, log *logrus.Entry) (*Reader, error) {
	if handler == nil {
		return nil, fmt.Errorf("%w: frame handler cannot be nil", errs.ErrInvalidConfig)
	}
	if target.Parameter.Port == 0 {
		return nil, fmt.Errorf("%w: no tcp port announced for %s", errs.ErrNoLayer, target.TopicName)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	host := target.Parameter.Host
	if host == "" {
		host = target.HostName
	}
	addr := net.JoinHostPort(host, strconv.Itoa(target.Parameter.Port))

	opts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if cfg.MaxMessageSize > 0 {
		opts = append(opts, grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize)))
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, errs.WrapInvalid(err, "TcpReader", "NewReader", "create client for "+addr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Reader{
		conn:    conn,
		target:  target,
		handler: handler,
		log:     log.WithFields(logrus.Fields{"layer": "tcp", "topic": target.TopicName, "addr": addr}),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go r.run(ctx)
	return r, nil
}

// Layer returns transport.LayerTCP
func (r *Reader) Layer() transport.Layer {
	return transport.LayerTCP
}

// Close cancels the stream and closes the connection
func (r *Reader) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.cancel()
		<-r.done
		err = r.conn.Close()
	})
	return err
}

func (r *Reader) run(ctx context.Context) {
	defer close(r.done)

	backoff := minBackoff
	for {
		received, err := r.stream(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			r.log.WithError(err).Debug("Stream broken, reconnecting")
		}
		if received {
			backoff = minBackoff
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// stream runs one Subscribe call and reports whether any frame arrived
func (r *Reader) stream(ctx context.Context) (bool, error) {
	s, err := r.conn.NewStream(ctx, &topicStreamDesc.Streams[0], subscribeMethod)
	if err != nil {
		return false, err
	}
	if err := s.SendMsg(&wrapperspb.StringValue{Value: r.target.TopicName}); err != nil {
		return false, err
	}
	if err := s.CloseSend(); err != nil {
		return false, err
	}

	received := false
	for {
		msg := new(wrapperspb.BytesValue)
		if err := s.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return received, nil
			}
			return received, err
		}
		received = true

		h, payload, err := frame.Decode(msg.GetValue())
		if err != nil {
			r.log.WithError(err).Debug("Dropping undecodable frame")
			continue
		}
		if h.Topic != r.target.TopicName {
			continue
		}
		r.handler(h.Frame(payload, transport.LayerTCP))
	}
}
