package jetstream

import (
	"context"
	"testing"
	"time"

	"kaijutsu/domain"
	"kaijutsu/eventbus"

	"github.com/stretchr/testify/require"
)

func startTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := NewTestServer(ServerOptions{
		Port:       -1,
		StoreDir:   t.TempDir(),
		ServerName: "test_kaijutsu_nats",
	})
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Stop() })
	return srv
}

func TestBusPublishAndSubscribeRoundTrip(t *testing.T) {
	srv := startTestServer(t)

	nc, err := GetConnection(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	bus, err := NewBus(nc)
	require.NoError(t, err)

	contextId := domain.NewContextId()
	events, unsubscribe, err := bus.Subscribe(context.Background(), contextId)
	require.NoError(t, err)
	t.Cleanup(unsubscribe)

	// allow the subscription to be fully established before publishing,
	// since DeliverNew only sees messages published after subscribe returns
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, bus.Publish(context.Background(), eventbus.Event{
		ContextId: contextId,
		Kind:      eventbus.KindBlockCreated,
	}))

	select {
	case ev := <-events:
		require.Equal(t, contextId, ev.ContextId)
		require.Equal(t, eventbus.KindBlockCreated, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}
