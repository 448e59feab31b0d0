package event

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	nc "github.com/nats-io/nats.go"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startEmbeddedServer runs an in-process NATS server on a random port.
func startEmbeddedServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1}
	srv, err := natsserver.NewServer(opts)
	require.NoError(t, err)
	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS server did not become ready")
	}
	t.Cleanup(srv.Shutdown)
	return srv
}

func TestNatsSinkPublishesPerSessionSubject(t *testing.T) {
	srv := startEmbeddedServer(t)

	sink, err := NewNatsSink(srv.ClientURL(), "agents.events")
	require.NoError(t, err)
	defer sink.Close()

	sub, err := nc.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer sub.Close()

	sessionID := uuid.New()
	received := make(chan *nc.Msg, 1)
	_, err = sub.ChanSubscribe("agents.events."+sessionID.String(), received)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	emitted := sampleEvent(sessionID, Spawned, "a")
	require.NoError(t, sink.Emit(context.Background(), emitted))

	select {
	case msg := <-received:
		var got Event
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, Spawned, got.EventType)
		assert.Equal(t, emitted.Agent.ID, got.Agent.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("no event arrived on the session subject")
	}
}
