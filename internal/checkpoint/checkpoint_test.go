package checkpoint

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strataga/demiarch-sub000/internal/demerr"
)

// memorySnapshotter captures and restores project state from an in-memory
// map, standing in for the embedder's real serializer.
type memorySnapshotter struct {
	mu    sync.Mutex
	state map[uuid.UUID][]byte
}

func newMemorySnapshotter() *memorySnapshotter {
	return &memorySnapshotter{state: make(map[uuid.UUID][]byte)}
}

func (m *memorySnapshotter) Capture(projectID uuid.UUID) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte{}, m.state[projectID]...), nil
}

func (m *memorySnapshotter) Restore(projectID uuid.UUID, snapshot []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state[projectID] = append([]byte{}, snapshot...)
	return nil
}

func newTestStore(t *testing.T) (*Store, *MemoryRepo, *memorySnapshotter) {
	t.Helper()
	repo := NewMemoryRepo()
	snap := newMemorySnapshotter()
	s, err := NewStore(repo, snap, zerolog.Nop())
	require.NoError(t, err)
	return s, repo, snap
}

// TestCreateVerifyRoundTrip covers the signing round trip: create → verify true;
// tamper → verify false; restore refuses a failed verify.
func TestCreateVerifyRoundTrip(t *testing.T) {
	s, repo, snap := newTestStore(t)
	project := uuid.New()
	snap.state[project] = []byte("project contents before generation")

	c, err := s.CreateBeforeGeneration(project, nil, "before feature X")
	require.NoError(t, err)
	assert.Equal(t, int64(len(snap.state[project])), c.SizeBytes)

	ok, err := s.Verify(c.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	// Tamper with the stored snapshot bytes.
	tampered, _, err := repo.ByID(c.ID)
	require.NoError(t, err)
	tampered.Snapshot = append([]byte{}, tampered.Snapshot...)
	tampered.Snapshot[0] ^= 0xff
	require.NoError(t, repo.Save(tampered))

	ok, err = s.Verify(c.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	err = s.Restore(c.ID)
	assert.True(t, demerr.Of(err, demerr.Corrupted))
}

func TestTamperedMetadataFailsVerify(t *testing.T) {
	s, repo, snap := newTestStore(t)
	project := uuid.New()
	snap.state[project] = []byte("contents")

	c, err := s.CreateBeforeGeneration(project, nil, "label")
	require.NoError(t, err)

	// Swapping the description without re-signing must break verification:
	// the signature covers blob+metadata, not the blob alone.
	stored, _, err := repo.ByID(c.ID)
	require.NoError(t, err)
	stored.Description = "forged label"
	require.NoError(t, repo.Save(stored))

	ok, err := s.Verify(c.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRestoreOverwritesProjectState(t *testing.T) {
	s, _, snap := newTestStore(t)
	project := uuid.New()
	snap.state[project] = []byte("original")

	c, err := s.CreateBeforeGeneration(project, nil, "pre-change")
	require.NoError(t, err)

	snap.state[project] = []byte("mutated by a failed generation")
	require.NoError(t, s.Restore(c.ID))
	assert.Equal(t, []byte("original"), snap.state[project])
}

func TestListIsTimeDescending(t *testing.T) {
	s, _, snap := newTestStore(t)
	project := uuid.New()
	snap.state[project] = []byte("v1")

	first, err := s.CreateBeforeGeneration(project, nil, "first")
	require.NoError(t, err)
	snap.state[project] = []byte("v2")
	second, err := s.CreateBeforeGeneration(project, nil, "second")
	require.NoError(t, err)

	// Force distinct timestamps even on coarse clocks.
	stored, _, err := s.repo.ByID(second.ID)
	require.NoError(t, err)
	stored.CreatedAt = first.CreatedAt.Add(1)
	require.NoError(t, s.repo.Save(stored))

	list, err := s.List(project)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
}

func TestSnapshotSizeBound(t *testing.T) {
	repo := NewMemoryRepo()
	snap := newMemorySnapshotter()
	s, err := NewStore(repo, snap, zerolog.Nop(), WithMaxSnapshotBytes(8))
	require.NoError(t, err)

	project := uuid.New()
	snap.state[project] = []byte("well over eight bytes")
	_, err = s.CreateBeforeGeneration(project, nil, "too big")
	assert.True(t, demerr.Of(err, demerr.InvalidInput))
}
