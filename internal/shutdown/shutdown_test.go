package shutdown

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strataga/demiarch-sub000/internal/lock"
	"github.com/strataga/demiarch-sub000/internal/session"
)

type fakeCleaner struct {
	calls   int
	removed int
	err     error
}

func (f *fakeCleaner) CleanupOlderThan(time.Time) (int, error) {
	f.calls++
	return f.removed, f.err
}

type fakeCloser struct{ closes int }

func (f *fakeCloser) Close() error {
	f.closes++
	return nil
}

func newLockManager(t *testing.T) *lock.Manager {
	t.Helper()
	m, err := lock.NewManager(t.TempDir(), lock.WithAliveProbe(func(int) bool { return true }))
	require.NoError(t, err)
	return m
}

func TestGracefulRunsEveryStep(t *testing.T) {
	sessions := session.NewManager(nil)
	s, err := sessions.Start("shutdown test")
	require.NoError(t, err)

	locks := newLockManager(t)
	_, err = locks.TryAcquire(lock.Project, "p1", "holder", time.Minute)
	require.NoError(t, err)
	_, err = locks.TryAcquire(lock.File, "f1", "holder", time.Minute)
	require.NoError(t, err)

	cleaner := &fakeCleaner{removed: 3}
	closer := &fakeCloser{}

	cfg := Config{PauseActiveSession: true, CleanupOldData: true, CleanupDays: 7}
	h := New(cfg, sessions, locks, cleaner, closer, zerolog.Nop())

	r := h.Graceful()
	assert.Empty(t, r.Warnings)
	assert.True(t, r.SessionPaused)
	assert.Equal(t, 2, r.LocksReleased)
	assert.Equal(t, 3, r.RecordsCleaned)
	assert.True(t, r.StorageClosed)

	got, err := sessions.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, session.Paused, got.Status)

	active, err := locks.ListActive()
	require.NoError(t, err)
	assert.Empty(t, active)
}

// TestGracefulIsIdempotent: a second graceful pass finds
// nothing to do and reports no errors.
func TestGracefulIsIdempotent(t *testing.T) {
	sessions := session.NewManager(nil)
	_, err := sessions.Start("idempotence")
	require.NoError(t, err)

	locks := newLockManager(t)
	_, err = locks.TryAcquire(lock.Session, "s1", "holder", time.Minute)
	require.NoError(t, err)

	h := New(DefaultConfig(), sessions, locks, nil, &fakeCloser{}, zerolog.Nop())

	first := h.Graceful()
	assert.Empty(t, first.Warnings)
	assert.True(t, first.SessionPaused)
	assert.Equal(t, 1, first.LocksReleased)

	second := h.Graceful()
	assert.Empty(t, second.Warnings)
	assert.False(t, second.SessionPaused)
	assert.Equal(t, 0, second.LocksReleased)
}

func TestStepFailureBecomesWarning(t *testing.T) {
	cleaner := &fakeCleaner{err: errors.New("disk gone")}
	cfg := Config{CleanupOldData: true, CleanupDays: 1}
	h := New(cfg, nil, nil, cleaner, nil, zerolog.Nop())

	r := h.Graceful()
	require.Len(t, r.Warnings, 1)
	assert.Contains(t, r.Warnings[0], "cleanup old data")
}

func TestQuickSkipsLocksAndCleanup(t *testing.T) {
	sessions := session.NewManager(nil)
	_, err := sessions.Start("quick")
	require.NoError(t, err)

	locks := newLockManager(t)
	_, err = locks.TryAcquire(lock.Project, "p1", "holder", time.Minute)
	require.NoError(t, err)

	cleaner := &fakeCleaner{}
	h := New(Config{PauseActiveSession: true, CleanupOldData: true}, sessions, locks, cleaner, &fakeCloser{}, zerolog.Nop())

	r := h.Quick()
	assert.True(t, r.SessionPaused)
	assert.Equal(t, 0, r.LocksReleased)
	assert.Equal(t, 0, cleaner.calls)

	active, err := locks.ListActive()
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestEndSessionMarksCompleted(t *testing.T) {
	sessions := session.NewManager(nil)
	s, err := sessions.Start("ending")
	require.NoError(t, err)

	h := New(DefaultConfig(), sessions, newLockManager(t), nil, &fakeCloser{}, zerolog.Nop())
	r := h.EndSession()
	assert.True(t, r.SessionEnded)

	got, err := sessions.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, session.Completed, got.Status)
}

func TestAbandonSessionMarksAbandoned(t *testing.T) {
	sessions := session.NewManager(nil)
	s, err := sessions.Start("abandoning")
	require.NoError(t, err)

	h := New(DefaultConfig(), sessions, newLockManager(t), nil, &fakeCloser{}, zerolog.Nop())
	r := h.AbandonSession()
	assert.True(t, r.SessionEnded)

	got, err := sessions.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, session.Abandoned, got.Status)
}
