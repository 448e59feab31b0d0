// Package executor implements the agent hierarchy executor: spawn
// rules, depth cap, concurrent child execution, result aggregation,
// cancellation, and event emission.
//
// Grounded on goa-ai's runtime/agent/engine/inmem (mutex-guarded maps,
// channel-based completion signaling for a single-process, non-durable
// engine) rather than its Temporal-backed production engine: the runtime is
// a single-process cooperative scheduler with one global cancellation
// signal and has no use for durable-workflow machinery.
package executor

import "sync"

// CancellationToken is the single signal shared across a hierarchy. Every suspension point observes it via Done(), and
// cancel_all() is idempotent.
type CancellationToken struct {
	once sync.Once
	done chan struct{}
}

// NewCancellationToken returns an unfired token.
func NewCancellationToken() *CancellationToken {
	return &CancellationToken{done: make(chan struct{})}
}

// Done returns a channel closed once CancelAll has been called.
func (c *CancellationToken) Done() <-chan struct{} { return c.done }

// CancelAll flips the token. Safe to call more than once or concurrently.
func (c *CancellationToken) CancelAll() {
	c.once.Do(func() { close(c.done) })
}

// Cancelled reports whether the token has fired, without blocking.
func (c *CancellationToken) Cancelled() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
