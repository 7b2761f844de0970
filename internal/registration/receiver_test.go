package registration

import (
	"context"
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

type sampleLog struct {
	mu      sync.Mutex
	samples []registrationpkg.Sample
}

func (l *sampleLog) handle(s registrationpkg.Sample) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.samples = append(l.samples, s)
}

func (l *sampleLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.samples)
}

func startReceiver(t *testing.T, bus *LocalBus, cfg ReceiverConfig, opts Options) (*Receiver, *sampleLog) {
	t.Helper()
	r, err := NewReceiver(bus.Listen(0), cfg, opts)
	require.NoError(t, err)

	log := &sampleLog{}
	r.AddHandler(log.handle)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, r.Run(ctx))
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return r, log
}

func TestReceiver_DeliversRemoteSamples(t *testing.T) {
	bus := NewLocalBus()
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	_, log := startReceiver(t, bus, ReceiverConfig{HostName: "other", ProcessID: 1}, Options{Metrics: m})

	p, err := NewProvider(bus.Sender(), time.Hour, Options{})
	require.NoError(t, err)
	p.RegisterSample(publisherSample())

	require.Eventually(t, func() bool { return log.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(reg, "ecal_registration_samples_received_total"))
}

func TestReceiver_LoopbackFilter(t *testing.T) {
	own := publisherSample()
	host, pid := own.Topic.Entity.HostName, own.Topic.Entity.ProcessID

	t.Run("dropped without loopback", func(t *testing.T) {
		r, err := NewReceiver(NewLocalBus().Listen(0), ReceiverConfig{HostName: host, ProcessID: pid}, Options{})
		require.NoError(t, err)
		log := &sampleLog{}
		r.AddHandler(log.handle)

		r.Dispatch(own)
		assert.Equal(t, 0, log.len())

		other := own
		other.Topic.Entity.ProcessID = pid + 1
		r.Dispatch(other)
		assert.Equal(t, 1, log.len())
	})

	t.Run("kept with loopback", func(t *testing.T) {
		r, err := NewReceiver(NewLocalBus().Listen(0), ReceiverConfig{HostName: host, ProcessID: pid, Loopback: true}, Options{})
		require.NoError(t, err)
		log := &sampleLog{}
		r.AddHandler(log.handle)

		r.Dispatch(own)
		assert.Equal(t, 1, log.len())
	})
}

func TestReceiver_CountsDecodeErrors(t *testing.T) {
	bus := NewLocalBus()
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	_, log := startReceiver(t, bus, ReceiverConfig{}, Options{Metrics: m})

	require.NoError(t, bus.Sender().Send([]byte{0xff, 0xff}))
	require.NoError(t, bus.Sender().Send(mustEncode(t, publisherSample())))

	require.Eventually(t, func() bool { return log.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1.0, counterValue(t, reg, "ecal_registration_decode_errors_total"))
}

func TestReceiver_HandlersRunSerially(t *testing.T) {
	bus := NewLocalBus()
	r, err := NewReceiver(bus.Listen(0), ReceiverConfig{}, Options{})
	require.NoError(t, err)

	var inFlight, maxInFlight, seen int
	var mu sync.Mutex
	r.AddHandler(func(registrationpkg.Sample) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		time.Sleep(time.Millisecond)
		mu.Lock()
		inFlight--
		seen++
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	sender := bus.Sender()
	for i := 0; i < 20; i++ {
		require.NoError(t, sender.Send(mustEncode(t, publisherSample())))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen == 20
	}, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, 1, maxInFlight)
	mu.Unlock()
}

func TestReceiver_DispatchBatchHoldsOffOtherSamples(t *testing.T) {
	r, err := NewReceiver(NewLocalBus().Listen(0), ReceiverConfig{}, Options{})
	require.NoError(t, err)
	log := &sampleLog{}
	r.AddHandler(log.handle)

	unregister := publisherSample()
	unregister.Type = registrationpkg.SampleUnregisterPublisher

	refreshed := make(chan struct{})
	r.DispatchBatch(func() []registrationpkg.Sample {
		go func() {
			defer close(refreshed)
			r.Dispatch(publisherSample())
		}()
		// leave the concurrent dispatch time to overtake the batch
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, 0, log.len())
		return []registrationpkg.Sample{unregister}
	})
	<-refreshed

	log.mu.Lock()
	defer log.mu.Unlock()
	require.Len(t, log.samples, 2)
	assert.Equal(t, registrationpkg.SampleUnregisterPublisher, log.samples[0].Type)
	assert.Equal(t, registrationpkg.SampleRegisterPublisher, log.samples[1].Type)
}

func TestReceiver_DispatchBatchAppliesLoopbackFilter(t *testing.T) {
	own := publisherSample()
	own.Type = registrationpkg.SampleUnregisterPublisher
	r, err := NewReceiver(NewLocalBus().Listen(0), ReceiverConfig{
		HostName:  own.Topic.Entity.HostName,
		ProcessID: own.Topic.Entity.ProcessID,
	}, Options{})
	require.NoError(t, err)
	log := &sampleLog{}
	r.AddHandler(log.handle)

	r.DispatchBatch(func() []registrationpkg.Sample { return []registrationpkg.Sample{own} })
	assert.Equal(t, 0, log.len())
}

func TestReceiver_CloseEndsRun(t *testing.T) {
	r, err := NewReceiver(NewLocalBus().Listen(0), ReceiverConfig{}, Options{})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	require.NoError(t, r.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name && len(mf.GetMetric()) > 0 {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}
