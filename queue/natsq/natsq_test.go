package natsq

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	opts := &natsserver.Options{
		Host:           "127.0.0.1",
		Port:           -1, // Random port
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 2048,
		JetStream:      true,
		StoreDir:       t.TempDir(),
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func testConfig() Config {
	cfg := PagesConfig()
	cfg.AckWait = 2 * time.Second
	cfg.FetchWait = 200 * time.Millisecond
	cfg.MaxDeliver = 5
	return cfg
}

func connect(t *testing.T, server *natsserver.Server) *nats.Conn {
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

func TestQueue_PublishFetchAck(t *testing.T) {
	server := startTestNATSServer(t)
	q, err := New(connect(t, server), testConfig())
	require.NoError(t, err)
	defer q.Close()
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, "doc:1", []byte(`{"page_number":1}`)))

	batch, err := q.Fetch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, []byte(`{"page_number":1}`), batch[0].Data())
	assert.Equal(t, 1, batch[0].Attempt())
	require.NoError(t, batch[0].Ack())

	batch, err = q.Fetch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestQueue_DeduplicatesByID(t *testing.T) {
	server := startTestNATSServer(t)
	q, err := New(connect(t, server), testConfig())
	require.NoError(t, err)
	defer q.Close()
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, "doc:1", []byte("a")))
	require.NoError(t, q.Publish(ctx, "doc:1", []byte("a")))
	require.NoError(t, q.Publish(ctx, "doc:2", []byte("b")))

	batch, err := q.Fetch(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, batch, 2)
	for _, d := range batch {
		require.NoError(t, d.Ack())
	}
}

func TestQueue_NakRedeliversWithAttempt(t *testing.T) {
	server := startTestNATSServer(t)
	q, err := New(connect(t, server), testConfig())
	require.NoError(t, err)
	defer q.Close()
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, "doc:1", []byte("a")))

	batch, err := q.Fetch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.NoError(t, batch[0].Nak(10*time.Millisecond))

	require.Eventually(t, func() bool {
		again, err := q.Fetch(ctx, 1)
		if err != nil || len(again) == 0 {
			return false
		}
		assert.Equal(t, 2, again[0].Attempt())
		return again[0].Term() == nil
	}, 5*time.Second, 50*time.Millisecond)
}

func TestQueue_SharedDurable(t *testing.T) {
	server := startTestNATSServer(t)
	nc := connect(t, server)
	first, err := New(nc, testConfig())
	require.NoError(t, err)
	second, err := New(nc, testConfig())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, first.Publish(ctx, "x", []byte("x")))
	require.NoError(t, first.Close())

	// Closing one subscriber keeps the durable consumer for the other.
	batch, err := second.Fetch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.NoError(t, batch[0].Ack())
	require.NoError(t, second.Close())
}

func TestNew_RequiresNames(t *testing.T) {
	server := startTestNATSServer(t)
	_, err := New(connect(t, server), Config{Stream: "S"})
	assert.Error(t, err)
}
