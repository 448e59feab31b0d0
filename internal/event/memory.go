package event

import (
	"context"
	"sync"
)

// MemorySink collects events in process memory, for tests and for embedders
// that reconstruct the tree without a filesystem.
type MemorySink struct {
	mu     sync.Mutex
	events map[string][]Event
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{events: make(map[string][]Event)}
}

// Emit implements Sink.
func (m *MemorySink) Emit(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := e.SessionID.String()
	m.events[key] = append(m.events[key], e)
	return nil
}

// Read implements Reader.
func (m *MemorySink) Read(_ context.Context, sessionID string) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events[sessionID]))
	copy(out, m.events[sessionID])
	return out, nil
}
