package session

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strataga/demiarch-sub000/internal/demerr"
)

// recordingSink captures SessionEvents in order.
type recordingSink struct {
	mu     sync.Mutex
	events []SessionEvent
}

func (r *recordingSink) EmitSession(e SessionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingSink) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

func TestSingleActiveSessionPerProcess(t *testing.T) {
	m := NewManager(nil)
	s, err := m.Start("first")
	require.NoError(t, err)

	_, err = m.Start("second")
	assert.True(t, demerr.Of(err, demerr.Conflict))

	// Pausing does not free the slot; only a terminal state does.
	require.NoError(t, m.Pause(s.ID))
	_, err = m.Start("third")
	assert.True(t, demerr.Of(err, demerr.Conflict))

	require.NoError(t, m.Resume(s.ID))
	require.NoError(t, m.End(s.ID))
	_, err = m.Start("fourth")
	require.NoError(t, err)
}

func TestTerminalStatesNeverReopen(t *testing.T) {
	m := NewManager(nil)
	s, err := m.Start("ending")
	require.NoError(t, err)
	require.NoError(t, m.End(s.ID))

	assert.True(t, demerr.Of(m.End(s.ID), demerr.Conflict))
	assert.True(t, demerr.Of(m.Abandon(s.ID), demerr.Conflict))
	assert.True(t, demerr.Of(m.Pause(s.ID), demerr.Conflict))
	assert.True(t, demerr.Of(m.Resume(s.ID), demerr.Conflict))
}

func TestPauseResumeCycle(t *testing.T) {
	m := NewManager(nil)
	s, err := m.Start("cycling")
	require.NoError(t, err)

	// Resume on an Active session is a conflict, as is Pause on Paused.
	assert.True(t, demerr.Of(m.Resume(s.ID), demerr.Conflict))
	require.NoError(t, m.Pause(s.ID))
	assert.True(t, demerr.Of(m.Pause(s.ID), demerr.Conflict))
	require.NoError(t, m.Resume(s.ID))

	got, err := m.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, Active, got.Status)
}

func TestTransitionsEmitEvents(t *testing.T) {
	sink := &recordingSink{}
	m := NewManager(sink)
	s, err := m.Start("observed")
	require.NoError(t, err)

	project, feature, cp := uuid.New(), uuid.New(), uuid.New()
	require.NoError(t, m.SwitchProject(s.ID, project))
	require.NoError(t, m.SwitchFeature(s.ID, feature))
	require.NoError(t, m.SetPhase(s.ID, Building))
	require.NoError(t, m.RecordCheckpoint(s.ID, cp))
	m.RecordError(s.ID, "transient failure")
	require.NoError(t, m.Pause(s.ID))
	require.NoError(t, m.Resume(s.ID))
	require.NoError(t, m.End(s.ID))

	assert.Equal(t, []EventKind{
		EventStarted, EventProjectSwitched, EventFeatureSwitched,
		EventPhaseChanged, EventCheckpointMade, EventError,
		EventPaused, EventResumed, EventCompleted,
	}, sink.kinds())

	got, err := m.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, &project, got.CurrentProjectID)
	assert.Equal(t, &feature, got.CurrentFeatureID)
	assert.Equal(t, Building, got.Phase)
	assert.Equal(t, &cp, got.LastCheckpointID)
}

func TestCurrentTracksLifecycle(t *testing.T) {
	m := NewManager(nil)
	_, ok := m.Current()
	assert.False(t, ok)

	s, err := m.Start("tracked")
	require.NoError(t, err)
	cur, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, s.ID, cur.ID)

	require.NoError(t, m.Abandon(s.ID))
	_, ok = m.Current()
	assert.False(t, ok)
}

func TestRunRecords(t *testing.T) {
	m := NewManager(nil)
	s, err := m.Start("runs")
	require.NoError(t, err)

	root := uuid.New()
	m.StartRun(s.ID, root)
	m.UpdateRun(s.ID, root, "completed")

	runs := m.RunsFor(s.ID)
	require.Len(t, runs, 1)
	assert.Equal(t, root, runs[0].RootAgentID)
	assert.Equal(t, "completed", runs[0].Status)
}

func TestGetUnknownSession(t *testing.T) {
	m := NewManager(nil)
	_, err := m.Get(uuid.New())
	assert.True(t, demerr.Of(err, demerr.NotFound))
}
