package event

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strataga/demiarch-sub000/internal/agent"
)

func TestReconstructReplaysFinalState(t *testing.T) {
	sessionID := uuid.New()
	ts := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	root := agent.Instance{ID: uuid.New(), Kind: agent.Orchestrator, Path: []string{"root"}, Status: agent.Running}
	childID := uuid.New()
	child := agent.Instance{ID: childID, Kind: agent.Planner, Path: []string{"root", "planner"}, ParentID: &root.ID, Depth: 1, Status: agent.Running}

	events := []Event{
		New(sessionID, Spawned, SnapshotOf(root, "task"), ts),
		New(sessionID, Spawned, SnapshotOf(child, ""), ts),
	}
	child.Status = agent.Completed
	child.TokensUsed = 250
	root.Status = agent.Completed
	root.TokensUsed = 400
	events = append(events,
		New(sessionID, Completed, SnapshotOf(child, ""), ts),
		New(sessionID, Completed, SnapshotOf(root, ""), ts),
	)

	view := Reconstruct(events)
	require.Len(t, view.Roots, 1)
	got := view.Roots[0]
	assert.Equal(t, agent.Completed, got.Status)
	assert.Equal(t, uint64(400), got.TokensUsed)
	require.Len(t, got.Children, 1)
	assert.Equal(t, childID, got.Children[0].ID)
	assert.Equal(t, agent.Completed, got.Children[0].Status)
	assert.Equal(t, uint64(250), got.Children[0].TokensUsed)
}

func TestReconstructOrphanBecomesRoot(t *testing.T) {
	sessionID := uuid.New()
	ts := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	missingParent := uuid.New()
	orphan := agent.Instance{ID: uuid.New(), Kind: agent.Coder, Path: []string{"root", "planner", "coder"}, ParentID: &missingParent, Depth: 2, Status: agent.Running}

	view := Reconstruct([]Event{New(sessionID, Spawned, SnapshotOf(orphan, ""), ts)})
	require.Len(t, view.Roots, 1)
	assert.Equal(t, orphan.ID, view.Roots[0].ID)
}
