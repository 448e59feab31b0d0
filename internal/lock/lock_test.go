package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strataga/demiarch-sub000/internal/demerr"
)

func newTestManager(t *testing.T, now func() time.Time) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), WithClock(now), WithAliveProbe(func(int) bool { return true }))
	require.NoError(t, err)
	return m
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := newTestManager(t, func() time.Time { return clock })

	g, err := m.TryAcquire(Project, "proj-1", "tester", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, g)

	other, err := NewManager(m.dir, WithClock(func() time.Time { return clock }), WithAliveProbe(func(int) bool { return true }))
	require.NoError(t, err)
	_, err = other.TryAcquire(Project, "proj-1", "other", time.Minute)
	assert.True(t, demerr.Of(err, demerr.LockContention))

	require.NoError(t, g.Release())

	g2, err := m.TryAcquire(Project, "proj-1", "tester-2", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, g2)
}

func TestReentrantWithinSameProcess(t *testing.T) {
	m := newTestManager(t, time.Now)

	g1, err := m.TryAcquire(Session, "sess-1", "tester", time.Minute)
	require.NoError(t, err)

	g2, err := m.TryAcquire(Session, "sess-1", "tester", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, g1.ID(), g2.ID())
}

func TestStaleLockIsReaped(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }
	m := newTestManager(t, now)

	g, err := m.TryAcquire(File, "f1", "holder", time.Second)
	require.NoError(t, err)
	_ = g

	clock = clock.Add(2 * time.Second) // advance past TTL

	m2, err := NewManager(m.dir, WithClock(now), WithAliveProbe(func(int) bool { return true }))
	require.NoError(t, err)
	g2, err := m2.TryAcquire(File, "f1", "new-holder", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, g2)
}

func TestCleanupStaleCount(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }
	m := newTestManager(t, now)

	_, err := m.TryAcquire(Resource, "r1", "holder", time.Second)
	require.NoError(t, err)

	clock = clock.Add(2 * time.Second)
	count, err := m.CleanupStale()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAcquireMultiSortsByPriorityAndRollsBackOnFailure(t *testing.T) {
	m := newTestManager(t, time.Now)

	// Pre-hold Feature with a different "process" (different manager, same
	// dir) so the multi-acquire fails after Session (lower priority) is
	// already acquired.
	blocker, err := NewManager(m.dir, WithAliveProbe(func(int) bool { return true }))
	require.NoError(t, err)
	_, err = blocker.TryAcquire(Feature, "feat-1", "blocker", time.Minute)
	require.NoError(t, err)

	reqs := []Request{
		{Type: Feature, ResourceID: "feat-1", HolderDescription: "x", Timeout: 50 * time.Millisecond},
		{Type: Session, ResourceID: "s1", HolderDescription: "x", Timeout: 50 * time.Millisecond},
	}
	mg, err := m.AcquireMulti(context.Background(), reqs)
	assert.Error(t, err)
	assert.Nil(t, mg)

	// Session (priority 1, acquired before Feature's priority-2 failure)
	// must have been rolled back.
	_, held, err := m.Status(Session, "s1")
	require.NoError(t, err)
	assert.False(t, held)
}
