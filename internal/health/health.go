// Package health aggregates component liveness probes and point-in-time
// runtime statistics: a Checker of named pingers and a Stats
// snapshot combining cost accounting, the agent hierarchy view, and the
// active lock set.
//
// Grounded on goa-ai's clue health.Pinger pattern (every backing client
// exposes Name/Ping; a checker fans out and aggregates), re-homed here
// without the HTTP handler, which is out of scope.
package health

import (
	"context"
	"time"

	"github.com/strataga/demiarch-sub000/internal/agent"
	"github.com/strataga/demiarch-sub000/internal/cost"
	"github.com/strataga/demiarch-sub000/internal/lock"
)

// Pinger is one probe-able dependency.
type Pinger interface {
	Name() string
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc struct {
	PingerName string
	Fn         func(ctx context.Context) error
}

// Name implements Pinger.
func (p PingFunc) Name() string { return p.PingerName }

// Ping implements Pinger.
func (p PingFunc) Ping(ctx context.Context) error { return p.Fn(ctx) }

// Status is the outcome of one checker pass.
type Status struct {
	Healthy bool
	// Failures maps pinger name to error text for every failed probe.
	Failures map[string]string
	At       time.Time
}

// Checker fans a health check out to every registered pinger.
type Checker struct {
	pingers []Pinger
	now     func() time.Time
}

// NewChecker constructs a Checker over pingers.
func NewChecker(pingers ...Pinger) *Checker {
	return &Checker{pingers: pingers, now: time.Now}
}

// Check probes every pinger, never short-circuiting: a full failure map
// is worth more than the first error.
func (c *Checker) Check(ctx context.Context) Status {
	s := Status{Healthy: true, Failures: make(map[string]string), At: c.now()}
	for _, p := range c.pingers {
		if err := p.Ping(ctx); err != nil {
			s.Healthy = false
			s.Failures[p.Name()] = err.Error()
		}
	}
	return s
}

// RuntimeStats is a point-in-time aggregation across the runtime's
// observable surfaces.
type RuntimeStats struct {
	Cost        cost.Stats
	Hierarchy   agent.HierarchyView
	AgentCounts map[agent.Status]int
	ActiveLocks int
	At          time.Time
}

// Collect assembles RuntimeStats from the given components; any of them
// may be nil and its section is zero-valued.
func Collect(tracker *cost.Tracker, registry *agent.Registry, locks *lock.Manager) RuntimeStats {
	stats := RuntimeStats{AgentCounts: make(map[agent.Status]int), At: time.Now()}
	if tracker != nil {
		stats.Cost = tracker.Snapshot()
	}
	if registry != nil {
		stats.Hierarchy = registry.Snapshot()
		for _, root := range stats.Hierarchy.Roots {
			countNodes(root, stats.AgentCounts)
		}
	}
	if locks != nil {
		if active, err := locks.ListActive(); err == nil {
			stats.ActiveLocks = len(active)
		}
	}
	return stats
}

func countNodes(n *agent.Node, counts map[agent.Status]int) {
	counts[n.Status]++
	for _, c := range n.Children {
		countNodes(c, counts)
	}
}
