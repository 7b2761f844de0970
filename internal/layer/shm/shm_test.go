package shm

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/ecal-go/internal/config"
	"github.com/rmacdonaldsmith/ecal-go/pkg/transport"
)

func testConfig(t *testing.T) config.SHMConfig {
	return config.SHMConfig{
		Dir:          t.TempDir(),
		MinSize:      256,
		ReservePct:   50,
		PollInterval: time.Millisecond,
	}
}

var topic = transport.TopicInfo{TopicName: "person", HostName: "h", ProcessID: 1, EntityID: 77}

func receive(t *testing.T, ch <-chan transport.Frame) transport.Frame {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return transport.Frame{}
	}
}

func TestWriter_FirstPrepareCreatesFile(t *testing.T) {
	cfg := testConfig(t)
	w, err := NewWriter(cfg, topic, nil)
	require.NoError(t, err)
	defer w.Close()

	assert.Empty(t, w.ConnectionParameter().MemoryFiles)
	assert.False(t, w.Write([]byte("x"), transport.WriterAttributes{}), "no file yet")

	assert.True(t, w.PrepareWrite(transport.WriterAttributes{Len: 10}))
	assert.False(t, w.PrepareWrite(transport.WriterAttributes{Len: 10}))

	p := w.ConnectionParameter()
	require.Len(t, p.MemoryFiles, 1)
	assert.Equal(t, transport.LayerSHM, p.Layer)
	_, err = os.Stat(filepath.Join(cfg.Dir, p.MemoryFiles[0]))
	assert.NoError(t, err)
}

func TestWriterReader_DeliversFrames(t *testing.T) {
	cfg := testConfig(t)
	w, err := NewWriter(cfg, topic, nil)
	require.NoError(t, err)
	defer w.Close()
	require.True(t, w.PrepareWrite(transport.WriterAttributes{Len: 5}))

	frames := make(chan transport.Frame, 16)
	r, err := NewReader(cfg, transport.ReaderTarget{
		TopicName: topic.TopicName,
		EntityID:  topic.EntityID,
		Parameter: w.ConnectionParameter(),
	}, func(f transport.Frame) { frames <- f }, nil)
	require.NoError(t, err)
	defer r.Close()

	require.True(t, w.Write([]byte("hello"), transport.WriterAttributes{Clock: 1, ID: 3, Hash: 99}))
	f := receive(t, frames)
	assert.Equal(t, []byte("hello"), f.Payload)
	assert.Equal(t, int64(1), f.Clock)
	assert.Equal(t, int64(3), f.ID)
	assert.Equal(t, uint64(99), f.Hash)
	assert.Equal(t, uint64(77), f.PublisherID)
	assert.Equal(t, transport.LayerSHM, f.Layer)

	require.True(t, w.WritePayload(transport.BytesPayload("world"), transport.WriterAttributes{Clock: 2, ZeroCopy: true}))
	f = receive(t, frames)
	assert.Equal(t, []byte("world"), f.Payload)
}

func TestWriter_GrowsIntoNewFile(t *testing.T) {
	cfg := testConfig(t)
	w, err := NewWriter(cfg, topic, nil)
	require.NoError(t, err)
	defer w.Close()

	require.True(t, w.PrepareWrite(transport.WriterAttributes{Len: 8}))
	first := w.ConnectionParameter().MemoryFiles[0]

	frames := make(chan transport.Frame, 1)
	r, err := NewReader(cfg, transport.ReaderTarget{TopicName: topic.TopicName, Parameter: w.ConnectionParameter()},
		func(f transport.Frame) { frames <- f }, nil)
	require.NoError(t, err)
	defer r.Close()

	big := make([]byte, 4096)
	assert.False(t, w.Write(big, transport.WriterAttributes{}), "does not fit before PrepareWrite")
	require.True(t, w.PrepareWrite(transport.WriterAttributes{Len: len(big)}))

	second := w.ConnectionParameter().MemoryFiles[0]
	assert.NotEqual(t, first, second)
	_, err = os.Stat(filepath.Join(cfg.Dir, first))
	assert.True(t, os.IsNotExist(err), "old file is removed")
	assert.True(t, w.Write(big, transport.WriterAttributes{}))

	// the old reader stops; nothing is delivered to it
	select {
	case <-frames:
		t.Fatal("superseded reader delivered a frame")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestWriter_SubscriptionsAndClose(t *testing.T) {
	cfg := testConfig(t)
	w, err := NewWriter(cfg, topic, nil)
	require.NoError(t, err)

	sub := transport.SubscriptionInfo{HostName: "h", ProcessID: 2, EntityID: 5}
	w.ApplySubscription(sub, transport.ReaderParameters{})
	w.ApplySubscription(sub, transport.ReaderParameters{})
	assert.Equal(t, 1, w.Subscribers())
	w.RemoveSubscription(sub)
	assert.Equal(t, 0, w.Subscribers())

	require.True(t, w.PrepareWrite(transport.WriterAttributes{Len: 1}))
	name := w.ConnectionParameter().MemoryFiles[0]
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, err = os.Stat(filepath.Join(cfg.Dir, name))
	assert.True(t, os.IsNotExist(err))
	assert.False(t, w.PrepareWrite(transport.WriterAttributes{Len: 1}))
}

func TestNewReader_Errors(t *testing.T) {
	cfg := testConfig(t)
	noop := func(transport.Frame) {}

	_, err := NewReader(cfg, transport.ReaderTarget{TopicName: "t"}, noop, nil)
	assert.Error(t, err)

	_, err = NewReader(cfg, transport.ReaderTarget{
		TopicName: "t",
		Parameter: transport.ConnectionParameter{MemoryFiles: []string{"missing"}},
	}, noop, nil)
	assert.Error(t, err)

	_, err = NewReader(cfg, transport.ReaderTarget{
		TopicName: "t",
		Parameter: transport.ConnectionParameter{MemoryFiles: []string{"../etc/passwd"}},
	}, noop, nil)
	assert.Error(t, err)
}
