package node

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/ecal-go/internal/config"
	"github.com/rmacdonaldsmith/ecal-go/internal/registration"
	registrationpkg "github.com/rmacdonaldsmith/ecal-go/pkg/registration"
	subscriberpkg "github.com/rmacdonaldsmith/ecal-go/pkg/subscriber"
	"github.com/rmacdonaldsmith/ecal-go/pkg/transport"
)

var personType = registrationpkg.DataTypeInformation{Name: "pb.People.Person", Encoding: "proto"}

// testConfig returns a local-network configuration with only the given
// layers enabled on both sides
func testConfig(t *testing.T, layers config.LayerToggles) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.HostName = "test-host"
	cfg.Registration.Network = config.NetworkLocal
	cfg.Registration.RefreshInterval = 20 * time.Millisecond
	cfg.Registration.Timeout = 500 * time.Millisecond
	cfg.Transport.SHM.Dir = t.TempDir()
	cfg.Transport.TCP.ListenHost = "127.0.0.1"
	cfg.Publisher.Layers = layers
	cfg.Subscriber.Layers = layers
	cfg.Publisher.ReregisterDelay = 20 * time.Millisecond
	return cfg
}

func startNode(t *testing.T, cfg *config.Config) *Node {
	t.Helper()
	n, err := New(cfg, Options{Bus: registration.NewLocalBus(), Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))
	t.Cleanup(func() { n.Close() })
	return n
}

type inbox struct {
	mu   sync.Mutex
	msgs [][]byte
}

func (b *inbox) receive(_ registrationpkg.TopicID, data subscriberpkg.ReceivedData) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, append([]byte(nil), data.Payload...))
}

func (b *inbox) contains(payload string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range b.msgs {
		if string(m) == payload {
			return true
		}
	}
	return false
}

// deliver keeps writing until the subscriber has seen payload
func deliver(t *testing.T, pub *Publisher, box *inbox, payload string) {
	t.Helper()
	require.Eventually(t, func() bool {
		pub.WriteBytes([]byte(payload), time.Now(), 0)
		return box.contains(payload)
	}, 5*time.Second, 20*time.Millisecond)
}

func TestNode_PublishSubscribe(t *testing.T) {
	tests := []struct {
		name   string
		layers config.LayerToggles
		layer  transport.Layer
	}{
		{"tcp", config.LayerToggles{TCP: true}, transport.LayerTCP},
		{"shm", config.LayerToggles{SHM: true}, transport.LayerSHM},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := startNode(t, testConfig(t, tt.layers))

			sub, err := n.NewSubscriber("person", personType)
			require.NoError(t, err)
			box := &inbox{}
			sub.SetReceiveCallback(box.receive)

			pub, err := n.NewPublisher("person", personType)
			require.NoError(t, err)

			require.Eventually(t, pub.IsSubscribed, 2*time.Second, 10*time.Millisecond)
			deliver(t, pub, box, "hello "+tt.name)

			assert.True(t, pub.LayerStates()[tt.layer].WriteEnabled)
			assert.Equal(t, 1, pub.GetSubscriberCount())
			require.Eventually(t, sub.IsPublished, 2*time.Second, 10*time.Millisecond)
		})
	}
}

func TestNode_ShmSurvivesGrowth(t *testing.T) {
	cfg := testConfig(t, config.LayerToggles{SHM: true})
	cfg.Transport.SHM.MinSize = 256
	n := startNode(t, cfg)

	sub, err := n.NewSubscriber("blob", personType)
	require.NoError(t, err)
	box := &inbox{}
	sub.SetReceiveCallback(box.receive)
	pub, err := n.NewPublisher("blob", personType)
	require.NoError(t, err)
	require.Eventually(t, pub.IsSubscribed, 2*time.Second, 10*time.Millisecond)

	deliver(t, pub, box, "small")
	big := make([]byte, 4096)
	for i := range big {
		big[i] = 'x'
	}
	deliver(t, pub, box, string(big))
}

func TestNode_EventsAndCatalog(t *testing.T) {
	n := startNode(t, testConfig(t, config.LayerToggles{TCP: true}))

	sub, err := n.NewSubscriber("person", personType)
	require.NoError(t, err)

	events := make(chan subscriberpkg.Event, 8)
	sub.SetEventCallback(func(ev subscriberpkg.Event) { events <- ev })

	pub, err := n.NewPublisher("person", personType)
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, subscriberpkg.EventConnected, ev.Type)
		assert.Equal(t, pub.GetTopicID().Entity, ev.Publisher)
	case <-time.After(2 * time.Second):
		t.Fatal("no connected event")
	}

	require.Eventually(t, func() bool {
		p, s := n.Catalog().Size()
		return p == 1 && s == 1
	}, 2*time.Second, 10*time.Millisecond)
	topics := n.Catalog().Topics()
	require.Len(t, topics, 1)
	assert.Equal(t, "person", topics[0].Name)
	assert.Equal(t, personType, topics[0].DataType)

	require.NoError(t, pub.Close())
	select {
	case ev := <-events:
		assert.Equal(t, subscriberpkg.EventDisconnected, ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no disconnected event")
	}
	require.Eventually(t, func() bool {
		p, _ := n.Catalog().Size()
		return p == 0
	}, 2*time.Second, 10*time.Millisecond)

	h := n.Health()
	assert.Equal(t, 0, h.LocalPublishers)
	assert.Equal(t, 1, h.LocalSubscribers)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestNode_RefreshDuringExpiryKeepsCatalogAndEngineInStep(t *testing.T) {
	clock := &testClock{now: time.Unix(1000, 0)}
	cfg := testConfig(t, config.LayerToggles{TCP: true})
	// not started: the test drives the receiver and the expiry itself
	n, err := New(cfg, Options{Bus: registration.NewLocalBus(), Registerer: prometheus.NewRegistry(), Now: clock.Now})
	require.NoError(t, err)
	t.Cleanup(func() { n.Close() })

	pub, err := n.NewPublisher("person", personType)
	require.NoError(t, err)
	sub, err := n.NewSubscriber("person", personType)
	require.NoError(t, err)

	refresh := sub.GetRegistrationSample()
	n.receiver.Dispatch(refresh)
	n.receiver.Dispatch(refresh)
	require.Equal(t, 1, pub.GetSubscriberCount())

	clock.Advance(cfg.Registration.Timeout + time.Second)

	refreshed := make(chan struct{})
	n.receiver.DispatchBatch(func() []registrationpkg.Sample {
		expired := n.catalog.Expire(clock.Now())
		go func() {
			defer close(refreshed)
			n.receiver.Dispatch(refresh)
		}()
		time.Sleep(20 * time.Millisecond)
		return expired
	})
	<-refreshed

	// the refresh lands after the expiry: both sides know the subscriber
	// again and it reconnects on its next sample
	_, subs := n.Catalog().Size()
	assert.Equal(t, 1, subs)
	conns := pub.Connections()
	require.Len(t, conns, 1)
	assert.Equal(t, refresh.Topic.Entity, conns[0].Subscriber)
	assert.Equal(t, 0, pub.GetSubscriberCount())

	n.receiver.Dispatch(refresh)
	assert.Equal(t, 1, pub.GetSubscriberCount())
}

func TestNode_Lifecycle(t *testing.T) {
	n, err := New(testConfig(t, config.LayerToggles{TCP: true}), Options{Bus: registration.NewLocalBus()})
	require.NoError(t, err)

	h := n.Health()
	assert.False(t, h.Healthy)
	assert.Equal(t, "node not started", h.Message)

	require.NoError(t, n.Start(context.Background()))
	require.NoError(t, n.Start(context.Background()), "start is idempotent")
	h = n.Health()
	assert.True(t, h.Healthy)
	assert.Equal(t, "test-host", h.HostName)
	assert.Equal(t, config.NetworkLocal, h.Network)

	pub, err := n.NewPublisher("person", personType)
	require.NoError(t, err)

	require.NoError(t, n.Close())
	require.NoError(t, n.Close(), "close is idempotent")
	assert.False(t, n.Health().Healthy)
	assert.False(t, pub.WriteBytes([]byte("late"), time.Now(), 0))

	_, err = n.NewPublisher("person", personType)
	assert.ErrorIs(t, err, ErrNodeClosed)
	_, err = n.NewSubscriber("person", personType)
	assert.ErrorIs(t, err, ErrNodeClosed)
	assert.ErrorIs(t, n.Start(context.Background()), ErrNodeClosed)
}

func TestNew_Errors(t *testing.T) {
	_, err := New(nil, Options{})
	assert.Error(t, err)

	cfg := testConfig(t, config.LayerToggles{TCP: true})
	_, err = New(cfg, Options{})
	assert.Error(t, err, "local network without a bus")

	cfg = testConfig(t, config.LayerToggles{TCP: true})
	cfg.HostName = ""
	cfg.Registration.Group = "not-a-group"
	_, err = New(cfg, Options{Bus: registration.NewLocalBus()})
	assert.Error(t, err)
}
