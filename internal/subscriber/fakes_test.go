package subscriber

import (
	"errors"
	"sync"

	"github.com/rmacdonaldsmith/ecal-go/pkg/registration"
	"github.com/rmacdonaldsmith/ecal-go/pkg/transport"
)

type fakeReader struct {
	layer   transport.Layer
	target  transport.ReaderTarget
	handler transport.FrameHandler

	mu     sync.Mutex
	closed bool
}

func (r *fakeReader) Layer() transport.Layer { return r.layer }

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

type fakeReaderFactory struct {
	mu      sync.Mutex
	readers []*fakeReader
	fail    transport.LayerSet
}

func (f *fakeReaderFactory) NewReader(l transport.Layer, target transport.ReaderTarget, handler transport.FrameHandler) (transport.Reader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail.Has(l) {
		return nil, errors.New("cannot open")
	}
	r := &fakeReader{layer: l, target: target, handler: handler}
	f.readers = append(f.readers, r)
	return r, nil
}

// open returns the readers on l that are still open
func (f *fakeReaderFactory) open(l transport.Layer) []*fakeReader {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakeReader
	for _, r := range f.readers {
		if r.layer == l && !r.isClosed() {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeReaderFactory) all() []*fakeReader {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeReader(nil), f.readers...)
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
