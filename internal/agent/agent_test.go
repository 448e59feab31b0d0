package agent

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strataga/demiarch-sub000/internal/demerr"
)

func TestCanSpawnMatrix(t *testing.T) {
	// Orchestrator spawns Planner only.
	assert.True(t, CanSpawn(Orchestrator, 0, Planner))
	assert.False(t, CanSpawn(Orchestrator, 0, Coder))

	// Planner spawns any worker, never another Planner or Orchestrator.
	for _, worker := range []Kind{Coder, Reviewer, Tester} {
		assert.True(t, CanSpawn(Planner, 1, worker))
	}
	assert.False(t, CanSpawn(Planner, 1, Planner))
	assert.False(t, CanSpawn(Planner, 1, Orchestrator))

	// Workers spawn nothing.
	for _, worker := range []Kind{Coder, Reviewer, Tester} {
		assert.False(t, CanSpawn(worker, 1, Tester))
	}
}

// TestDepthCapIsHard: at MaxDepth, no kind spawns anything.
func TestDepthCapIsHard(t *testing.T) {
	kinds := []Kind{Orchestrator, Planner, Coder, Reviewer, Tester}
	for _, parent := range kinds {
		for _, child := range kinds {
			assert.False(t, CanSpawn(parent, MaxDepth, child))
		}
	}
}

// TestDepthEqualsPathLengthMinusOne checks the depth/path invariant over chains built with
// the instance constructors.
func TestDepthEqualsPathLengthMinusOne(t *testing.T) {
	props := gopter.NewProperties(nil)
	props.Property("depth = len(path)-1 and parent set iff depth > 0", prop.ForAll(
		func(levels int) bool {
			inst := NewRootInstance(Orchestrator, "root")
			if inst.Depth != len(inst.Path)-1 || inst.ParentID != nil {
				return false
			}
			kinds := []Kind{Planner, Coder}
			for i := 0; i < levels; i++ {
				inst = NewChildInstance(inst, kinds[i], "child")
				if inst.Depth != len(inst.Path)-1 {
					return false
				}
				if inst.ParentID == nil {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 2),
	))
	props.TestingRun(t)
}

func TestNewChildInstancePanicsOnIllegalSpawn(t *testing.T) {
	root := NewRootInstance(Coder, "root")
	assert.Panics(t, func() { NewChildInstance(root, Tester, "child") })
}

// TestTerminalStatusNeverTransitions checks terminal-status monotonicity.
func TestTerminalStatusNeverTransitions(t *testing.T) {
	for _, terminal := range []Status{Completed, Failed, Cancelled} {
		r := NewRegistry()
		inst := NewRootInstance(Tester, "root")
		r.Register(inst)
		require.NoError(t, r.Transition(inst.ID, Running))
		require.NoError(t, r.Complete(inst.ID, terminal, &Result{Success: terminal == Completed}))

		for _, next := range []Status{Ready, Running, WaitingForChildren, Completed, Failed, Cancelled} {
			err := r.Transition(inst.ID, next)
			assert.True(t, demerr.Of(err, demerr.Conflict), "terminal %s must refuse transition to %s", terminal, next)
		}
		err := r.Complete(inst.ID, Failed, nil)
		assert.True(t, demerr.Of(err, demerr.Conflict))
	}
}

func TestCompleteRequiresTerminalStatus(t *testing.T) {
	r := NewRegistry()
	inst := NewRootInstance(Tester, "root")
	r.Register(inst)
	err := r.Complete(inst.ID, Running, nil)
	assert.True(t, demerr.Of(err, demerr.InvalidInput))
}

func TestSnapshotBuildsDeterministicTree(t *testing.T) {
	r := NewRegistry()
	root := NewRootInstance(Orchestrator, "root")
	r.Register(root)

	planner := NewChildInstance(root, Planner, "planner-1")
	r.Register(planner)
	coderB := NewChildInstance(planner, Coder, "coder-b")
	coderA := NewChildInstance(planner, Coder, "coder-a")
	r.Register(coderB)
	r.Register(coderA)

	view := r.Snapshot()
	require.Len(t, view.Roots, 1)
	require.Len(t, view.Roots[0].Children, 1)
	children := view.Roots[0].Children[0].Children
	require.Len(t, children, 2)
	// Path-ordered regardless of registration order.
	assert.Equal(t, "coder-a", children[0].Name)
	assert.Equal(t, "coder-b", children[1].Name)
}
