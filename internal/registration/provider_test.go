package registration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/ecal-go/internal/metrics"
	registrationpkg "github.com/rmacdonaldsmith/ecal-go/pkg/registration"
)

type recordingSender struct {
	mu     sync.Mutex
	sent   [][]byte
	fail   bool
	closed bool
}

func (s *recordingSender) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("network down")
	}
	s.sent = append(s.sent, data)
	return nil
}

func (s *recordingSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSender) samples(t *testing.T) []registrationpkg.Sample {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]registrationpkg.Sample, 0, len(s.sent))
	for _, b := range s.sent {
		sample, err := Decode(b)
		require.NoError(t, err)
		out = append(out, sample)
	}
	return out
}

type staticSource struct {
	samples []registrationpkg.Sample
}

func (s *staticSource) RegistrationSamples() []registrationpkg.Sample {
	return s.samples
}

func TestProvider_SendsImmediately(t *testing.T) {
	sender := &recordingSender{}
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	p, err := NewProvider(sender, time.Hour, Options{Metrics: m})
	require.NoError(t, err)

	reg1 := publisherSample()
	unreg := reg1
	unreg.Type = registrationpkg.SampleUnregisterPublisher

	p.RegisterSample(reg1)
	p.UnregisterSample(unreg)

	got := sender.samples(t)
	require.Len(t, got, 2)
	assert.Equal(t, registrationpkg.SampleRegisterPublisher, got[0].Type)
	assert.Equal(t, registrationpkg.SampleUnregisterPublisher, got[1].Type)
	assert.Equal(t, 2, testutil.CollectAndCount(reg, "ecal_registration_samples_sent_total"))
}

func TestProvider_RefreshSendsSources(t *testing.T) {
	sender := &recordingSender{}
	p, err := NewProvider(sender, time.Hour, Options{})
	require.NoError(t, err)

	a := &staticSource{samples: []registrationpkg.Sample{publisherSample()}}
	b := &staticSource{samples: []registrationpkg.Sample{publisherSample(), publisherSample()}}
	p.AddSource(a)
	p.AddSource(b)
	p.Refresh()
	assert.Len(t, sender.samples(t), 3)

	p.RemoveSource(b)
	p.Refresh()
	assert.Len(t, sender.samples(t), 4)
}

func TestProvider_RunRefreshesPeriodically(t *testing.T) {
	sender := &recordingSender{}
	p, err := NewProvider(sender, 10*time.Millisecond, Options{})
	require.NoError(t, err)
	p.AddSource(&staticSource{samples: []registrationpkg.Sample{publisherSample()}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(sender.samples(t)) >= 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestProvider_SendFailureIsSwallowed(t *testing.T) {
	sender := &recordingSender{fail: true}
	p, err := NewProvider(sender, time.Hour, Options{})
	require.NoError(t, err)

	assert.NotPanics(t, func() { p.RegisterSample(publisherSample()) })
	assert.Empty(t, sender.samples(t))
}

func TestProvider_Close(t *testing.T) {
	sender := &recordingSender{}
	p, err := NewProvider(sender, time.Hour, Options{})
	require.NoError(t, err)
	p.AddSource(&staticSource{samples: []registrationpkg.Sample{publisherSample()}})

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.True(t, sender.closed)

	p.RegisterSample(publisherSample())
	p.Refresh()
	assert.Empty(t, sender.samples(t))
}

func TestNewProvider_NilSender(t *testing.T) {
	_, err := NewProvider(nil, time.Second, Options{})
	assert.Error(t, err)
}
