// Package checkpoint implements the signed project-snapshot store:
// create-before-generation, time-descending listing, signature
// verification, and verified restore.
//
// Grounded on ODSapper-CLIAIMONITOR's crypto-helper layering around
// stdlib primitives (golang.org/x/crypto for the digest, stdlib
// crypto/ed25519 for the scheme) and on goa-ai's Store-interface-per-
// feature repository split.
package checkpoint

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/blake2b"

	"github.com/strataga/demiarch-sub000/internal/demerr"
)

// Checkpoint is one signed project snapshot.
type Checkpoint struct {
	ID          uuid.UUID
	ProjectID   uuid.UUID
	FeatureID   *uuid.UUID
	Description string
	Snapshot    []byte
	SizeBytes   int64
	Signature   []byte
	CreatedAt   time.Time
}

// Snapshotter captures and restores project state; the serialization
// itself belongs to the embedder, the store only signs and persists the
// opaque blob.
type Snapshotter interface {
	Capture(projectID uuid.UUID) ([]byte, error)
	Restore(projectID uuid.UUID, snapshot []byte) error
}

// Repo is the checkpoint persistence contract.
type Repo interface {
	Save(c Checkpoint) error
	ByID(id uuid.UUID) (Checkpoint, bool, error)
	// ByProject returns checkpoints for projectID, created_at descending.
	ByProject(projectID uuid.UUID) ([]Checkpoint, error)
}

// MemoryRepo is the in-process Repo used by tests and embedders without a
// durable backend.
type MemoryRepo struct {
	mu          sync.RWMutex
	checkpoints map[uuid.UUID]Checkpoint
}

// NewMemoryRepo returns an empty MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{checkpoints: make(map[uuid.UUID]Checkpoint)}
}

// Save implements Repo.
func (m *MemoryRepo) Save(c Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[c.ID] = c
	return nil
}

// ByID implements Repo.
func (m *MemoryRepo) ByID(id uuid.UUID) (Checkpoint, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.checkpoints[id]
	return c, ok, nil
}

// ByProject implements Repo.
func (m *MemoryRepo) ByProject(projectID uuid.UUID) ([]Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Checkpoint
	for _, c := range m.checkpoints {
		if c.ProjectID == projectID {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// DefaultMaxSnapshotBytes bounds snapshot blobs").
const DefaultMaxSnapshotBytes = 64 << 20

// Option configures a Store at construction.
type Option func(*Store)

// WithSigningKey installs a stable key pair instead of the
// process-generated default.
func WithSigningKey(pub ed25519.PublicKey, priv ed25519.PrivateKey) Option {
	return func(s *Store) {
		s.pub = pub
		s.priv = priv
	}
}

// WithMaxSnapshotBytes overrides the snapshot size bound.
func WithMaxSnapshotBytes(n int64) Option {
	return func(s *Store) { s.maxSnapshotBytes = n }
}

// WithClock overrides the time source (tests only).
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store signs, persists, lists, verifies, and restores checkpoints.
type Store struct {
	repo        Repo
	snapshotter Snapshotter
	log         zerolog.Logger

	pub  ed25519.PublicKey
	priv ed25519.PrivateKey

	maxSnapshotBytes int64
	now              func() time.Time
}

// NewStore constructs a Store, generating a fresh ed25519 key pair unless
// WithSigningKey is supplied.
func NewStore(repo Repo, snapshotter Snapshotter, log zerolog.Logger, opts ...Option) (*Store, error) {
	s := &Store{
		repo:             repo,
		snapshotter:      snapshotter,
		log:              log,
		maxSnapshotBytes: DefaultMaxSnapshotBytes,
		now:              time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.priv == nil {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, demerr.Wrap(demerr.Other, "checkpoint.NewStore", "generate signing key", err)
		}
		s.pub, s.priv = pub, priv
	}
	return s, nil
}

// PublicKey returns the store's current verification key.
func (s *Store) PublicKey() ed25519.PublicKey { return s.pub }

// signingDigest binds the snapshot bytes and the checkpoint metadata into
// a single digest; the signature covers blob+metadata so neither can be
// swapped independently.
func signingDigest(c Checkpoint) []byte {
	h, _ := blake2b.New256(nil)
	h.Write(c.Snapshot)
	h.Write(c.ID[:])
	h.Write(c.ProjectID[:])
	if c.FeatureID != nil {
		h.Write(c.FeatureID[:])
	}
	h.Write([]byte(c.Description))
	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], uint64(c.CreatedAt.UnixNano()))
	h.Write(ts[:])
	return h.Sum(nil)
}

// CreateBeforeGeneration captures the project's current state, signs it,
// and persists the checkpoint.
func (s *Store) CreateBeforeGeneration(projectID uuid.UUID, featureID *uuid.UUID, label string) (Checkpoint, error) {
	snapshot, err := s.snapshotter.Capture(projectID)
	if err != nil {
		return Checkpoint{}, demerr.Wrap(demerr.Storage, "checkpoint.CreateBeforeGeneration", "capture project state", err)
	}
	if int64(len(snapshot)) > s.maxSnapshotBytes {
		return Checkpoint{}, demerr.New(demerr.InvalidInput, "checkpoint.CreateBeforeGeneration",
			fmt.Sprintf("snapshot exceeds %d byte bound", s.maxSnapshotBytes))
	}

	c := Checkpoint{
		ID:          uuid.New(),
		ProjectID:   projectID,
		FeatureID:   featureID,
		Description: label,
		Snapshot:    snapshot,
		SizeBytes:   int64(len(snapshot)),
		CreatedAt:   s.now(),
	}
	c.Signature = ed25519.Sign(s.priv, signingDigest(c))

	if err := s.repo.Save(c); err != nil {
		return Checkpoint{}, err
	}
	s.log.Info().Str("checkpoint_id", c.ID.String()).Str("project_id", projectID.String()).Int64("size_bytes", c.SizeBytes).Msg("checkpoint created")
	return c, nil
}

// List returns the project's checkpoints, newest first.
func (s *Store) List(projectID uuid.UUID) ([]Checkpoint, error) {
	return s.repo.ByProject(projectID)
}

// Verify recomputes the signature digest for id and checks it against the
// store's current public key.
func (s *Store) Verify(id uuid.UUID) (bool, error) {
	c, ok, err := s.repo.ByID(id)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, demerr.New(demerr.NotFound, "checkpoint.Verify", "unknown checkpoint id")
	}
	return ed25519.Verify(s.pub, signingDigest(c), c.Signature), nil
}

// Restore verifies then overwrites project state from the snapshot,
// refusing a checkpoint that fails verification.
func (s *Store) Restore(id uuid.UUID) error {
	c, ok, err := s.repo.ByID(id)
	if err != nil {
		return err
	}
	if !ok {
		return demerr.New(demerr.NotFound, "checkpoint.Restore", "unknown checkpoint id")
	}
	if !ed25519.Verify(s.pub, signingDigest(c), c.Signature) {
		return demerr.New(demerr.Corrupted, "checkpoint.Restore", "checkpoint signature does not verify")
	}
	if err := s.snapshotter.Restore(c.ProjectID, c.Snapshot); err != nil {
		return demerr.Wrap(demerr.Storage, "checkpoint.Restore", "restore project state", err)
	}
	s.log.Info().Str("checkpoint_id", id.String()).Msg("checkpoint restored")
	return nil
}
