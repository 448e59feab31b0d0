package event

import (
	"context"
)

// Sink is the write side of the event log, consumed by the executor and
// session manager. Implementations must preserve per-session append order.
type Sink interface {
	Emit(ctx context.Context, e Event) error
}

// Reader is the read side: tail or full-scan a session's stream.
type Reader interface {
	Read(ctx context.Context, sessionID string) ([]Event, error)
}

// MultiSink fans an Emit out to every child sink, returning the first error
// encountered but still attempting every sink (mirrors the "every step's
// error is a warning" posture used elsewhere for cross-cutting concerns).
type MultiSink struct {
	Sinks []Sink
}

// Emit implements Sink.
func (m MultiSink) Emit(ctx context.Context, e Event) error {
	var firstErr error
	for _, s := range m.Sinks {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, e); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
