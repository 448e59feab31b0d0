// Package lock implements the named-resource lock manager: file-backed
// locks with TTL, stale-lock reaping, in-process reentrancy, and
// priority-ordered multi-acquisition.
//
// Grounded on ODSapper-CLIAIMONITOR's internal/instance (PID-file-backed
// single-instance lock with a best-effort process-liveness probe and JSON
// lock contents), generalized from one fixed PID-file path to a named
// resource directory of one lock file per (resource_type, resource_id), and
// extended with the priority/multi-acquire/reentrancy semantics
// that ODSapper's single-lock design does not need.
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/strataga/demiarch-sub000/internal/demerr"
)

// ResourceType is the closed set of lockable resource kinds, ordered by
// acquisition priority to prevent deadlock during multi-acquisition.
type ResourceType int

const (
	Project ResourceType = iota
	Session
	Feature
	File
	Resource
)

func (r ResourceType) String() string {
	switch r {
	case Project:
		return "project"
	case Session:
		return "session"
	case Feature:
		return "feature"
	case File:
		return "file"
	case Resource:
		return "resource"
	default:
		return "unknown"
	}
}

// Info is the serialized content of one lock file.
type Info struct {
	ID                 uuid.UUID    `json:"id"`
	ResourceType       ResourceType `json:"resource_type"`
	ResourceID         string       `json:"resource_id"`
	HolderPID          int          `json:"holder_pid"`
	HolderDescription  string       `json:"holder_description"`
	AcquiredAt         time.Time    `json:"acquired_at"`
	ExpiresAt          time.Time    `json:"expires_at"`
	RenewalCount       int          `json:"renewal_count"`
}

func (i Info) stale(now time.Time, alive func(pid int) bool) bool {
	if now.After(i.ExpiresAt) {
		return true
	}
	return !alive(i.HolderPID)
}

// DefaultTTL is applied when a caller does not specify one.
const DefaultTTL = 5 * time.Minute

// DefaultRetryInterval is the backoff between contention retries.
const DefaultRetryInterval = 100 * time.Millisecond

// Guard is a handle whose Release returns the lock via the manager's
// release channel.
type Guard struct {
	mgr  *Manager
	info Info
}

// ID returns the guard's lock id.
func (g *Guard) ID() uuid.UUID { return g.info.ID }

// Release releases the held lock.
func (g *Guard) Release() error { return g.mgr.Release(g.info.ID) }

// MultiGuard holds several guards acquired together in priority order; its
// Release releases them all, most-recently-acquired first.
type MultiGuard struct {
	guards []*Guard
}

// Release releases every held guard, collecting (not stopping on) errors.
func (mg *MultiGuard) Release() error {
	var firstErr error
	for i := len(mg.guards) - 1; i >= 0; i-- {
		if err := mg.guards[i].Release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// aliveProbe is the best-effort, platform-specific liveness check; overridable for tests.
type aliveProbe func(pid int) bool

func defaultAliveProbe(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 performs no-op error checking only: a nil error (or a
	// permission error, meaning the process exists but we can't signal it)
	// means the process is live. A platform that doesn't support signal 0 at
	// all reports an unrelated error here; treated as "assume alive" per
	// the fail-safe rule for unknown platforms.
	err = proc.Signal(syscall.Signal(0))
	if err == nil || err == os.ErrPermission {
		return true
	}
	return !errors.Is(err, syscall.ESRCH)
}

// Manager is the file-backed lock manager. One Manager instance owns one
// lock directory and the in-process registry of locks it currently holds.
type Manager struct {
	dir   string
	alive aliveProbe
	now   func() time.Time
	pid   int

	mu       sync.Mutex
	held     map[uuid.UUID]*heldLock
	releases chan uuid.UUID
}

type heldLock struct {
	info Info
	key  string
}

// Option configures a Manager at construction.
type Option func(*Manager)

// WithAliveProbe overrides the liveness probe (tests only).
func WithAliveProbe(fn func(pid int) bool) Option {
	return func(m *Manager) { m.alive = fn }
}

// WithClock overrides the time source (tests only).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithPID overrides the process id recorded as holder (tests only).
func WithPID(pid int) Option {
	return func(m *Manager) { m.pid = pid }
}

// NewManager returns a Manager rooted at dir, creating it if necessary.
func NewManager(dir string, opts ...Option) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, demerr.Wrap(demerr.Storage, "lock.NewManager", "create lock directory", err)
	}
	m := &Manager{
		dir:      dir,
		alive:    defaultAliveProbe,
		now:      time.Now,
		pid:      os.Getpid(),
		held:     make(map[uuid.UUID]*heldLock),
		releases: make(chan uuid.UUID, 64),
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func (m *Manager) key(rt ResourceType, resourceID string) string {
	return fmt.Sprintf("%s_%s", rt, sanitize(resourceID))
}

func (m *Manager) path(rt ResourceType, resourceID string) string {
	return filepath.Join(m.dir, m.key(rt, resourceID)+".lock")
}

func (m *Manager) readInfo(path string) (Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Info{}, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return Info{}, demerr.Wrap(demerr.Corrupted, "lock.readInfo", "lock file is unreadable", err)
	}
	return info, nil
}

func (m *Manager) writeInfo(path string, info Info) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return demerr.Wrap(demerr.Other, "lock.writeInfo", "marshal lock info", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return demerr.Wrap(demerr.Storage, "lock.writeInfo", "write lock file", err)
	}
	return nil
}

// TryAcquire attempts to acquire the lock once, without retrying on
// contention.
func (m *Manager) TryAcquire(rt ResourceType, resourceID, holderDescription string, ttl time.Duration) (*Guard, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	key := m.key(rt, resourceID)
	path := m.path(rt, resourceID)

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, h := range m.held {
		if h.key == key {
			// Reentrant within the same process: return a new guard without
			// touching the file.
			h.info.RenewalCount++
			g := &Guard{mgr: m, info: h.info}
			return g, nil
		}
	}

	if existing, err := m.readInfo(path); err == nil {
		now := m.now()
		if !existing.stale(now, m.alive) {
			return nil, demerr.New(demerr.LockContention, "lock.TryAcquire", "resource is held by a live holder")
		}
		// stale: fall through and overwrite.
	}

	now := m.now()
	info := Info{
		ID:                uuid.New(),
		ResourceType:      rt,
		ResourceID:        resourceID,
		HolderPID:         m.pid,
		HolderDescription: holderDescription,
		AcquiredAt:        now,
		ExpiresAt:         now.Add(ttl),
	}
	if err := m.writeInfo(path, info); err != nil {
		return nil, err
	}
	m.held[info.ID] = &heldLock{info: info, key: key}
	return &Guard{mgr: m, info: info}, nil
}

// Acquire blocks, retrying every DefaultRetryInterval, until the lock is
// acquired, timeout elapses (returning LockContention), or ctx is
// cancelled.
func (m *Manager) Acquire(ctx context.Context, rt ResourceType, resourceID, holderDescription string, timeout time.Duration) (*Guard, error) {
	deadline := m.now().Add(timeout)
	for {
		g, err := m.TryAcquire(rt, resourceID, holderDescription, 0)
		if err == nil {
			return g, nil
		}
		if !demerr.Of(err, demerr.LockContention) {
			return nil, err
		}
		if timeout > 0 && !m.now().Before(deadline) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, demerr.Wrap(demerr.Cancelled, "lock.Acquire", "context cancelled while waiting for lock", ctx.Err())
		case <-time.After(DefaultRetryInterval):
		}
	}
}

// Request describes one resource to acquire as part of AcquireMulti.
type Request struct {
	Type              ResourceType
	ResourceID        string
	HolderDescription string
	Timeout           time.Duration
}

// AcquireMulti acquires every requested resource, sorted by
// ResourceType value ascending (Project < Session < Feature < File <
// Resource) to avoid deadlock. On any failure
// it releases whatever it already acquired and returns the error.
func (m *Manager) AcquireMulti(ctx context.Context, reqs []Request) (*MultiGuard, error) {
	sorted := append([]Request{}, reqs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Type < sorted[j].Type })

	mg := &MultiGuard{}
	for _, r := range sorted {
		g, err := m.Acquire(ctx, r.Type, r.ResourceID, r.HolderDescription, r.Timeout)
		if err != nil {
			_ = mg.Release()
			return nil, err
		}
		mg.guards = append(mg.guards, g)
	}
	return mg, nil
}

// Renew extends a held lock's TTL.
func (m *Manager) Renew(id uuid.UUID, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.held[id]
	if !ok {
		return demerr.New(demerr.NotFound, "lock.Renew", "lock is not held by this process")
	}
	h.info.ExpiresAt = m.now().Add(ttl)
	h.info.RenewalCount++
	path := m.path(h.info.ResourceType, h.info.ResourceID)
	return m.writeInfo(path, h.info)
}

// Release releases a held lock, removing its file and notifying the
// release channel.
func (m *Manager) Release(id uuid.UUID) error {
	m.mu.Lock()
	h, ok := m.held[id]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.held, id)
	m.mu.Unlock()

	path := m.path(h.info.ResourceType, h.info.ResourceID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return demerr.Wrap(demerr.Storage, "lock.Release", "remove lock file", err)
	}
	select {
	case m.releases <- id:
	default:
	}
	return nil
}

// ReleaseOwned releases every lock currently held by this process,
// returning the count released and the first error encountered (remaining
// locks are still attempted). With force set, lock files recorded under
// this process's pid but absent from the in-memory registry (e.g. left by
// a previous crashed incarnation sharing the pid) are removed as well.
func (m *Manager) ReleaseOwned(force bool) (int, error) {
	m.mu.Lock()
	ids := make([]uuid.UUID, 0, len(m.held))
	for id := range m.held {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	count := 0
	var firstErr error
	for _, id := range ids {
		if err := m.Release(id); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		count++
	}

	if force {
		entries, err := os.ReadDir(m.dir)
		if err != nil {
			if firstErr == nil {
				firstErr = demerr.Wrap(demerr.Storage, "lock.ReleaseOwned", "read lock directory", err)
			}
			return count, firstErr
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".lock") {
				continue
			}
			path := filepath.Join(m.dir, e.Name())
			info, err := m.readInfo(path)
			if err != nil || info.HolderPID != m.pid {
				continue
			}
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				if firstErr == nil {
					firstErr = demerr.Wrap(demerr.Storage, "lock.ReleaseOwned", "remove lock file", err)
				}
				continue
			}
			count++
		}
	}
	return count, firstErr
}

// DrainReleases consumes pending release notifications without blocking,
// returning the ids that had drained.
func (m *Manager) DrainReleases() []uuid.UUID {
	var out []uuid.UUID
	for {
		select {
		case id := <-m.releases:
			out = append(out, id)
		default:
			return out
		}
	}
}

// Status returns the current Info for (rt, resourceID), reading through to
// the file if this process does not hold it.
func (m *Manager) Status(rt ResourceType, resourceID string) (Info, bool, error) {
	path := m.path(rt, resourceID)
	info, err := m.readInfo(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Info{}, false, nil
		}
		return Info{}, false, err
	}
	return info, true, nil
}

// ListActive returns every non-stale lock file in the lock directory.
func (m *Manager) ListActive() ([]Info, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, demerr.Wrap(demerr.Storage, "lock.ListActive", "read lock directory", err)
	}
	now := m.now()
	var out []Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".lock") {
			continue
		}
		info, err := m.readInfo(filepath.Join(m.dir, e.Name()))
		if err != nil {
			continue
		}
		if !info.stale(now, m.alive) {
			out = append(out, info)
		}
	}
	return out, nil
}

// CleanupStale removes every stale lock file in the directory (whether or
// not this process holds it) and returns the count removed.
func (m *Manager) CleanupStale() (int, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, demerr.Wrap(demerr.Storage, "lock.CleanupStale", "read lock directory", err)
	}
	now := m.now()
	count := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".lock") {
			continue
		}
		path := filepath.Join(m.dir, e.Name())
		info, err := m.readInfo(path)
		if err != nil {
			// Corrupted lock file: treat as stale and remove.
			_ = os.Remove(path)
			count++
			continue
		}
		if info.stale(now, m.alive) {
			_ = os.Remove(path)
			m.mu.Lock()
			delete(m.held, info.ID)
			m.mu.Unlock()
			count++
		}
	}
	return count, nil
}
