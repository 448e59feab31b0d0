// Package event implements the append-only per-session event log:
// writers append newline-delimited JSON records describing agent
// transitions; readers reconstruct the agent tree from the stream.
//
// Grounded on goa-ai's runtime/agent/runlog (Store/Event/Page shape) and its
// hooks.EventType closed enumeration, adapted from run-scoped cursor paging
// to a simpler one-file-per-session, tail-or-full-scan contract.
package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/strataga/demiarch-sub000/internal/agent"
)

// Type is the closed set of event kinds emitted by the executor and session
// manager as agents transition.
type Type string

const (
	Spawned      Type = "spawned"
	Started      Type = "started"
	StatusUpdate Type = "status_update"
	TokenUpdate  Type = "token_update"
	Completed    Type = "completed"
	Failed       Type = "failed"
	Cancelled    Type = "cancelled"
)

// AgentSnapshot is the per-event agent facet: enough of the
// instance to reconstruct the hierarchy tree without replaying every field.
type AgentSnapshot struct {
	ID       uuid.UUID     `json:"id"`
	Kind     agent.Kind    `json:"kind"`
	Name     string        `json:"name"`
	ParentID *uuid.UUID    `json:"parent_id,omitempty"`
	Path     []string      `json:"path"`
	Status   agent.Status  `json:"status"`
	Tokens   uint64        `json:"tokens"`
	Task     string        `json:"task,omitempty"`
}

// Event is one immutable record in a session's append-only log.
type Event struct {
	Timestamp time.Time     `json:"timestamp"`
	SessionID uuid.UUID     `json:"session_id"`
	EventType Type          `json:"event_type"`
	Agent     AgentSnapshot `json:"agent"`
}

// New builds an event with the given type/session/agent facet and the
// supplied timestamp. Callers (not this package) own the time source so
// event construction stays deterministic for tests.
func New(sessionID uuid.UUID, eventType Type, a AgentSnapshot, now time.Time) Event {
	return Event{Timestamp: now, SessionID: sessionID, EventType: eventType, Agent: a}
}

// SnapshotOf builds an AgentSnapshot from a live agent.Instance.
func SnapshotOf(inst agent.Instance, task string) AgentSnapshot {
	name := ""
	if len(inst.Path) > 0 {
		name = inst.Path[len(inst.Path)-1]
	}
	return AgentSnapshot{
		ID:       inst.ID,
		Kind:     inst.Kind,
		Name:     name,
		ParentID: inst.ParentID,
		Path:     append([]string{}, inst.Path...),
		Status:   inst.Status,
		Tokens:   inst.TokensUsed,
		Task:     task,
	}
}
