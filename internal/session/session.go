// Package session implements session lifecycle management: creation,
// pause/resume, project/feature switching, phase tracking, and the
// SessionEvent stream that records every transition.
//
// Grounded on goa-ai's agent/session (Session/Store contract, explicit
// create/end lifecycle distinct from run lifecycle), generalized from its
// two-state Active/Ended model to a four-state
// Active/Paused/Completed/Abandoned lifecycle and its Discovery..Review
// phase tracking, and extended with RunRecord
// linking a session to the agent hierarchies it has run.
package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strataga/demiarch-sub000/internal/demerr"
)

// Status is the closed set of session lifecycle states.
type Status string

const (
	Active    Status = "active"
	Paused    Status = "paused"
	Completed Status = "completed"
	Abandoned Status = "abandoned"
)

// Terminal reports whether s never transitions again.
func (s Status) Terminal() bool { return s == Completed || s == Abandoned }

// Phase is the closed set of workflow phases a session tracks.
type Phase string

const (
	Discovery Phase = "discovery"
	Planning  Phase = "planning"
	Building  Phase = "building"
	Testing   Phase = "testing"
	Review    Phase = "review"
	Unknown   Phase = "unknown"
)

// Session is the durable lifecycle record.
type Session struct {
	ID                uuid.UUID
	CreatedAt         time.Time
	LastActivity      time.Time
	CurrentProjectID  *uuid.UUID
	CurrentFeatureID  *uuid.UUID
	Status            Status
	Phase             Phase
	Description       string
	LastCheckpointID  *uuid.UUID
	Metadata          json.RawMessage
}

// RunRecord links a session to one agent hierarchy execution, modeling the
// association a chat-history store would keep without adopting chat
// history itself, which stays outside this runtime.
type RunRecord struct {
	SessionID   uuid.UUID
	RootAgentID uuid.UUID
	StartedAt   time.Time
	UpdatedAt   time.Time
	Status      string
	Labels      map[string]string
}

// EventKind is the closed set of SessionEvent kinds.
type EventKind string

const (
	EventStarted         EventKind = "started"
	EventPaused          EventKind = "paused"
	EventResumed         EventKind = "resumed"
	EventCompleted       EventKind = "completed"
	EventAbandoned       EventKind = "abandoned"
	EventProjectSwitched EventKind = "project_switched"
	EventFeatureSwitched EventKind = "feature_switched"
	EventPhaseChanged    EventKind = "phase_changed"
	EventCheckpointMade  EventKind = "checkpoint_created"
	EventError           EventKind = "error"
	EventCustom          EventKind = "custom"
)

// SessionEvent is one transition record, with a free-form JSON payload.
type SessionEvent struct {
	SessionID uuid.UUID       `json:"session_id"`
	Kind      EventKind       `json:"kind"`
	At        time.Time       `json:"at"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Sink receives SessionEvents as they occur, distinct from the agent event
// log (internal/event) but sharing its append-only posture.
type Sink interface {
	EmitSession(e SessionEvent) error
}

// Manager owns the single active-or-paused-session-per-process invariant.
type Manager struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
	runs     map[uuid.UUID][]*RunRecord
	current  *uuid.UUID
	sink     Sink
	now      func() time.Time
}

// NewManager constructs a Manager. sink may be nil to discard SessionEvents.
func NewManager(sink Sink) *Manager {
	return &Manager{
		sessions: make(map[uuid.UUID]*Session),
		runs:     make(map[uuid.UUID][]*RunRecord),
		sink:     sink,
		now:      time.Now,
	}
}

func (m *Manager) emit(sessionID uuid.UUID, kind EventKind, payload any) {
	if m.sink == nil {
		return
	}
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	_ = m.sink.EmitSession(SessionEvent{SessionID: sessionID, Kind: kind, At: m.now(), Payload: raw})
}

// Start creates and activates a new session, refusing to start one while
// another is Active or Paused in this process.
func (m *Manager) Start(description string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		if existing, ok := m.sessions[*m.current]; ok && !existing.Status.Terminal() {
			return nil, demerr.New(demerr.Conflict, "session.Start", "a session is already active or paused in this process")
		}
	}

	now := m.now()
	s := &Session{
		ID:           uuid.New(),
		CreatedAt:    now,
		LastActivity: now,
		Status:       Active,
		Phase:        Discovery,
		Description:  description,
	}
	m.sessions[s.ID] = s
	m.current = &s.ID
	m.emit(s.ID, EventStarted, map[string]string{"description": description})
	return s, nil
}

// Current returns a copy of the process's current session, if one exists
// and is not terminal.
func (m *Manager) Current() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Session{}, false
	}
	s, ok := m.sessions[*m.current]
	if !ok || s.Status.Terminal() {
		return Session{}, false
	}
	return *s, true
}

// Get returns a copy of the session, or NotFound.
func (m *Manager) Get(id uuid.UUID) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, demerr.New(demerr.NotFound, "session.Get", "unknown session id")
	}
	return *s, nil
}

func (m *Manager) touch(s *Session) { s.LastActivity = m.now() }

// Pause transitions Active → Paused.
func (m *Manager) Pause(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return demerr.New(demerr.NotFound, "session.Pause", "unknown session id")
	}
	if s.Status != Active {
		return demerr.New(demerr.Conflict, "session.Pause", "session is not active")
	}
	s.Status = Paused
	m.touch(s)
	m.emit(id, EventPaused, nil)
	return nil
}

// Resume transitions Paused → Active.
func (m *Manager) Resume(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return demerr.New(demerr.NotFound, "session.Resume", "unknown session id")
	}
	if s.Status != Paused {
		return demerr.New(demerr.Conflict, "session.Resume", "session is not paused")
	}
	s.Status = Active
	m.touch(s)
	m.emit(id, EventResumed, nil)
	return nil
}

// End marks the session Completed (terminal).
func (m *Manager) End(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return demerr.New(demerr.NotFound, "session.End", "unknown session id")
	}
	if s.Status.Terminal() {
		return demerr.New(demerr.Conflict, "session.End", "session already terminal")
	}
	s.Status = Completed
	m.touch(s)
	m.emit(id, EventCompleted, nil)
	return nil
}

// Abandon marks the session Abandoned (terminal).
func (m *Manager) Abandon(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return demerr.New(demerr.NotFound, "session.Abandon", "unknown session id")
	}
	if s.Status.Terminal() {
		return demerr.New(demerr.Conflict, "session.Abandon", "session already terminal")
	}
	s.Status = Abandoned
	m.touch(s)
	m.emit(id, EventAbandoned, nil)
	return nil
}

// SwitchProject records a project switch for the session.
func (m *Manager) SwitchProject(id, projectID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return demerr.New(demerr.NotFound, "session.SwitchProject", "unknown session id")
	}
	s.CurrentProjectID = &projectID
	m.touch(s)
	m.emit(id, EventProjectSwitched, map[string]string{"project_id": projectID.String()})
	return nil
}

// SwitchFeature records a feature switch for the session.
func (m *Manager) SwitchFeature(id, featureID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return demerr.New(demerr.NotFound, "session.SwitchFeature", "unknown session id")
	}
	s.CurrentFeatureID = &featureID
	m.touch(s)
	m.emit(id, EventFeatureSwitched, map[string]string{"feature_id": featureID.String()})
	return nil
}

// SetPhase records a phase change for the session.
func (m *Manager) SetPhase(id uuid.UUID, phase Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return demerr.New(demerr.NotFound, "session.SetPhase", "unknown session id")
	}
	s.Phase = phase
	m.touch(s)
	m.emit(id, EventPhaseChanged, map[string]string{"phase": string(phase)})
	return nil
}

// RecordCheckpoint associates a checkpoint id with the session and emits
// EventCheckpointMade.
func (m *Manager) RecordCheckpoint(id, checkpointID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return demerr.New(demerr.NotFound, "session.RecordCheckpoint", "unknown session id")
	}
	s.LastCheckpointID = &checkpointID
	m.touch(s)
	m.emit(id, EventCheckpointMade, map[string]string{"checkpoint_id": checkpointID.String()})
	return nil
}

// RecordError emits EventError without changing session status (the
// executor already encodes failure in AgentResult; this is the session's
// observability trail).
func (m *Manager) RecordError(id uuid.UUID, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		m.touch(s)
	}
	m.emit(id, EventError, map[string]string{"message": message})
}

// StartRun records a new RunRecord linking sessionID to rootAgentID.
func (m *Manager) StartRun(sessionID, rootAgentID uuid.UUID) *RunRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	r := &RunRecord{SessionID: sessionID, RootAgentID: rootAgentID, StartedAt: now, UpdatedAt: now, Status: "running"}
	m.runs[sessionID] = append(m.runs[sessionID], r)
	return r
}

// UpdateRun mutates the status of the RunRecord for rootAgentID under
// sessionID, if present.
func (m *Manager) UpdateRun(sessionID, rootAgentID uuid.UUID, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs[sessionID] {
		if r.RootAgentID == rootAgentID {
			r.Status = status
			r.UpdatedAt = m.now()
			return
		}
	}
}

// RunsFor returns a copy of the RunRecords associated with sessionID.
func (m *Manager) RunsFor(sessionID uuid.UUID) []RunRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	runs := m.runs[sessionID]
	out := make([]RunRecord, len(runs))
	for i, r := range runs {
		out[i] = *r
	}
	return out
}

