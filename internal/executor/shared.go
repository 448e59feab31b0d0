package executor

import (
	"strconv"
	"sync/atomic"

	"github.com/strataga/demiarch-sub000/internal/agent"
	"github.com/strataga/demiarch-sub000/internal/completion"
	"github.com/strataga/demiarch-sub000/internal/contextengine"
	"github.com/strataga/demiarch-sub000/internal/cost"
	"github.com/strataga/demiarch-sub000/internal/event"
	"github.com/strataga/demiarch-sub000/internal/router"

	"github.com/google/uuid"
)

// SharedState is the single value conceptually shared by every agent in one
// hierarchy: the completion client, cost
// tracker, context budget, event sink, cancellation token, a unique-name
// counter, and the registry — the sole mutable directory. It is
// distributed to agents by handle (a pointer), not by value; the registry
// and counter are the only fields mutated after construction.
type SharedState struct {
	SessionID  uuid.UUID
	Completion completion.Client
	Tracker    *cost.Tracker
	Budget     *contextengine.Budget
	Router     *router.Router
	Events     event.Sink
	Cancel     *CancellationToken
	Registry   *agent.Registry

	nameCounter uint64
}

// NewSharedState constructs a SharedState for one root hierarchy.
func NewSharedState(sessionID uuid.UUID, comp completion.Client, tracker *cost.Tracker, budget *contextengine.Budget, r *router.Router, events event.Sink) *SharedState {
	return &SharedState{
		SessionID:  sessionID,
		Completion: comp,
		Tracker:    tracker,
		Budget:     budget,
		Router:     r,
		Events:     events,
		Cancel:     NewCancellationToken(),
		Registry:   agent.NewRegistry(),
	}
}

// NextName returns a monotonically increasing, hierarchy-unique name
// suffix from an in-memory counter. The counter starts again at 1 for each
// new SharedState and is not persisted across restarts.
func (s *SharedState) NextName(prefix string) string {
	n := atomic.AddUint64(&s.nameCounter, 1)
	return prefix + "-" + strconv.FormatUint(n, 10)
}
