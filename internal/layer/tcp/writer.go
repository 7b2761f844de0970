package tcp

import (
	"net"
	"sync"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/rmacdonaldsmith/ecal-go/internal/config"
	"github.com/rmacdonaldsmith/ecal-go/internal/errs"
	"github.com/rmacdonaldsmith/ecal-go/internal/layer/frame"
	"github.com/rmacdonaldsmith/ecal-go/pkg/transport"
)

type session struct {
	frames chan []byte
}

// Writer serves the frames of one topic to connected readers
type Writer struct {
	cfg   config.TCPConfig
	topic transport.TopicInfo
	log   *logrus.Entry
	lis   net.Listener
	srv   *grpc.Server
	host  string
	port  int

	mu       sync.Mutex
	sessions map[*session]struct{}
	subs     map[transport.SubscriptionInfo]struct{}
	closed   bool
	served   sync.WaitGroup
}

var _ transport.Writer = (*Writer)(nil)

// NewWriter starts listening on an ephemeral port
func NewWriter(cfg config.TCPConfig, topic transport.TopicInfo, log *logrus.Entry) (*Writer, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	lis, err := net.Listen("tcp", net.JoinHostPort(cfg.ListenHost, "0"))
	if err != nil {
		return nil, errs.WrapTransient(err, "TcpWriter", "NewWriter", "listen")
	}

	host := cfg.ListenHost
	if host == "" || net.ParseIP(host).IsUnspecified() {
		host = topic.HostName
	}
	w := &Writer{
		cfg:      cfg,
		topic:    topic,
		lis:      lis,
		host:     host,
		port:     lis.Addr().(*net.TCPAddr).Port,
		sessions: make(map[*session]struct{}),
		subs:     make(map[transport.SubscriptionInfo]struct{}),
	}
	w.log = log.WithFields(logrus.Fields{"layer": "tcp", "topic": topic.TopicName, "port": w.port})

	opts := []grpc.ServerOption{}
	if cfg.MaxMessageSize > 0 {
		opts = append(opts, grpc.MaxSendMsgSize(cfg.MaxMessageSize))
	}
	w.srv = grpc.NewServer(opts...)
	w.srv.RegisterService(&topicStreamDesc, streamServer{w: w})

	w.served.Add(1)
	go func() {
		defer w.served.Done()
		if err := w.srv.Serve(lis); err != nil {
			w.log.WithError(err).Debug("Server stopped")
		}
	}()
	return w, nil
}

type streamServer struct {
	w *Writer
}

// Subscribe streams frames until the reader goes away or the writer closes
func (s streamServer) Subscribe(req *wrapperspb.StringValue, stream grpc.ServerStream) error {
	w := s.w
	if req.GetValue() != w.topic.TopicName {
		return status.Errorf(codes.NotFound, "topic %q is not served here", req.GetValue())
	}

	sess := &session{frames: make(chan []byte, w.cfg.SendQueueSize)}
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return status.Error(codes.Unavailable, "writer closed")
	}
	w.sessions[sess] = struct{}{}
	w.mu.Unlock()
	w.log.Debug("Reader connected")

	defer func() {
		w.mu.Lock()
		delete(w.sessions, sess)
		w.mu.Unlock()
		w.log.Debug("Reader disconnected")
	}()

	for {
		select {
		case <-stream.Context().Done():
			return nil
		case b, ok := <-sess.frames:
			if !ok {
				return nil
			}
			if err := stream.SendMsg(&wrapperspb.BytesValue{Value: b}); err != nil {
				return err
			}
		}
	}
}

// Layer returns transport.LayerTCP
func (w *Writer) Layer() transport.Layer {
	return transport.LayerTCP
}

// PrepareWrite always returns false; the port is fixed for the writer's lifetime
func (w *Writer) PrepareWrite(transport.WriterAttributes) bool {
	return false
}

// Write queues buf for every connected reader. It returns true when at
// least one reader accepted the frame.
func (w *Writer) Write(buf []byte, attrs transport.WriterAttributes) bool {
	attrs.Len = len(buf)
	encoded := frame.Append(nil, frame.NewHeader(w.topic, attrs), buf)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return false
	}
	sent := 0
	for s := range w.sessions {
		select {
		case s.frames <- encoded:
			sent++
		default:
			w.log.Debug("Send queue full, frame dropped")
		}
	}
	return sent > 0
}

// WritePayload copies payload into a buffer and queues it
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

// Sessions returns the number of connected reader streams
func (w *Writer) Sessions() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.sessions)
}

// ConnectionParameter announces the host and port readers dial
func (w *Writer) ConnectionParameter() transport.ConnectionParameter {
	return transport.ConnectionParameter{
		Layer: transport.LayerTCP,
		Host:  w.host,
		Port:  w.port,
	}
}

// Close ends every stream and stops the server
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for s := range w.sessions {
		close(s.frames)
		delete(w.sessions, s)
	}
	w.mu.Unlock()

	w.srv.Stop()
	w.served.Wait()
	return nil
}
