package event

import (
	"context"
	"encoding/json"
	"fmt"

	nc "github.com/nats-io/nats.go"

	"github.com/strataga/demiarch-sub000/internal/demerr"
)

// NatsSink publishes every event to a NATS subject derived from the
// session id, for live hierarchy-tree watchers outside this process (the
// TUI/CLI consumers are out of scope, but the publish side is a
// natural extension of the append-only log).
//
// Grounded on ODSapper-CLIAIMONITOR's internal/nats.Client: a thin
// connection wrapper around *nats.Conn with JSON publish helpers.
type NatsSink struct {
	conn          *nc.Conn
	subjectPrefix string
}

// NewNatsSink connects to url and returns a sink publishing under
// "<subjectPrefix>.<session_id>".
func NewNatsSink(url, subjectPrefix string) (*NatsSink, error) {
	conn, err := nc.Connect(url, nc.MaxReconnects(-1))
	if err != nil {
		return nil, demerr.Wrap(demerr.Network, "event.NewNatsSink", "connect to NATS", err)
	}
	return &NatsSink{conn: conn, subjectPrefix: subjectPrefix}, nil
}

// Emit implements Sink.
func (n *NatsSink) Emit(_ context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return demerr.Wrap(demerr.Other, "event.NatsSink.Emit", "marshal event", err)
	}
	subject := fmt.Sprintf("%s.%s", n.subjectPrefix, e.SessionID.String())
	if err := n.conn.Publish(subject, data); err != nil {
		return demerr.Wrap(demerr.Network, "event.NatsSink.Emit", "publish event", err)
	}
	return nil
}

// Close drains and closes the underlying connection.
func (n *NatsSink) Close() error {
	if n.conn == nil {
		return nil
	}
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return demerr.Wrap(demerr.Network, "event.NatsSink.Close", "drain connection", err)
	}
	return nil
}
