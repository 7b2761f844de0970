package publisher

import (
	"errors"
	"sync"

	"github.com/rmacdonaldsmith/ecal-go/pkg/registration"
	"github.com/rmacdonaldsmith/ecal-go/pkg/transport"
)

type fakeWriter struct {
	layer transport.Layer

	mu            sync.Mutex
	result        bool
	reregister    bool
	writes        int
	payloadWrites int
	prepares      int
	last          []byte
	lastAttrs     transport.WriterAttributes
	subs          map[transport.SubscriptionInfo]transport.ReaderParameters
	closed        bool
}

func newFakeWriter(l transport.Layer) *fakeWriter {
	return &fakeWriter{layer: l, result: true, subs: make(map[transport.SubscriptionInfo]transport.ReaderParameters)}
}

func (w *fakeWriter) Layer() transport.Layer { return w.layer }

func (w *fakeWriter) PrepareWrite(transport.WriterAttributes) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prepares++
	r := w.reregister
	w.reregister = false
	return r
}

func (w *fakeWriter) Write(buf []byte, attrs transport.WriterAttributes) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes++
	w.last = buf
	w.lastAttrs = attrs
	return w.result
}

func (w *fakeWriter) WritePayload(p transport.PayloadWriter, attrs transport.WriterAttributes) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.payloadWrites++
	buf := make([]byte, p.Size())
	p.WriteFull(buf)
	w.last = buf
	w.lastAttrs = attrs
	return w.result
}

func (w *fakeWriter) ApplySubscription(sub transport.SubscriptionInfo, params transport.ReaderParameters) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subs[sub] = params
}

func (w *fakeWriter) RemoveSubscription(sub transport.SubscriptionInfo) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.subs, sub)
}

func (w *fakeWriter) ConnectionParameter() transport.ConnectionParameter {
	return transport.ConnectionParameter{Layer: w.layer, Port: 1000 + int(w.layer)}
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) setResult(ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.result = ok
}

func (w *fakeWriter) counts() (writes, payloadWrites int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writes, w.payloadWrites
}

func (w *fakeWriter) hasSub(sub transport.SubscriptionInfo) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.subs[sub]
	return ok
}

type fakeFactory struct {
	mu      sync.Mutex
	writers map[transport.Layer]*fakeWriter
	created map[transport.Layer]int
	fail    transport.LayerSet
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		writers: make(map[transport.Layer]*fakeWriter),
		created: make(map[transport.Layer]int),
	}
}

func (f *fakeFactory) NewWriter(l transport.Layer, _ transport.TopicInfo) (transport.Writer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail.Has(l) {
		return nil, errors.New("no resources")
	}
	w := newFakeWriter(l)
	f.writers[l] = w
	f.created[l]++
	return w, nil
}

func (f *fakeFactory) writer(l transport.Layer) *fakeWriter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writers[l]
}

func (f *fakeFactory) createdCount(l transport.Layer) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[l]
}

type fakeProvider struct {
	mu           sync.Mutex
	registered   []registration.Sample
	unregistered []registration.Sample
}

func (p *fakeProvider) RegisterSample(s registration.Sample) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registered = append(p.registered, s)
}

func (p *fakeProvider) UnregisterSample(s registration.Sample) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unregistered = append(p.unregistered, s)
}

func (p *fakeProvider) counts() (registered, unregistered int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.registered), len(p.unregistered)
}
