// Package shutdown implements the graceful-shutdown handler: pause
// the active session, drain and release locks, optionally clean up old
// data, and close the storage pool — each sub-step's failure becoming a
// warning on the result rather than a hard failure, except a storage Close
// error, which is discarded.
//
// Grounded on ODSapper-CLIAIMONITOR's signal-driven teardown (ordered
// best-effort steps, per-step logging) and goa-ai's builder-style config
// structs.
package shutdown

import (
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/strataga/demiarch-sub000/internal/lock"
	"github.com/strataga/demiarch-sub000/internal/session"
)

// Cleaner deletes sessions and events older than a cutoff from durable
// storage, returning the number of rows removed.
type Cleaner interface {
	CleanupOlderThan(cutoff time.Time) (int, error)
}

// Config selects which shutdown steps run.
type Config struct {
	PauseActiveSession bool
	ForceReleaseLocks  bool
	CleanupOldData     bool
	CleanupDays        int
}

// DefaultConfig pauses the session and releases this process's locks
// without forcing or cleanup.
func DefaultConfig() Config {
	return Config{PauseActiveSession: true, CleanupDays: 30}
}

// Result reports what a shutdown pass did. Warnings collect per-step
// failures; an empty Warnings means every configured step succeeded.
type Result struct {
	SessionPaused  bool
	SessionEnded   bool
	LocksReleased  int
	RecordsCleaned int
	StorageClosed  bool
	Warnings       []string
}

// Handler runs shutdown sequences over the process's session manager,
// lock manager, and storage pool. Any dependency may be nil; its steps
// are skipped.
type Handler struct {
	cfg      Config
	sessions *session.Manager
	locks    *lock.Manager
	cleaner  Cleaner
	storage  io.Closer
	log      zerolog.Logger
	now      func() time.Time
}

// New constructs a Handler.
func New(cfg Config, sessions *session.Manager, locks *lock.Manager, cleaner Cleaner, storage io.Closer, log zerolog.Logger) *Handler {
	return &Handler{cfg: cfg, sessions: sessions, locks: locks, cleaner: cleaner, storage: storage, log: log, now: time.Now}
}

func (h *Handler) warn(r *Result, step string, err error) {
	msg := fmt.Sprintf("%s: %v", step, err)
	r.Warnings = append(r.Warnings, msg)
	h.log.Warn().Str("step", step).Err(err).Msg("shutdown step failed")
}

// Graceful runs the full sequence: pause the active session if
// configured, process pending lock releases then release this process's
// locks, clean up old data if enabled, and close the storage pool.
// Running it twice produces an equivalent final state on the second
// call: pausing is skipped when no session is active, releasing when
// no locks are held, and any Close error is discarded (see
// closeStorage).
func (h *Handler) Graceful() Result {
	var r Result
	h.pauseCurrent(&r)
	h.releaseLocks(&r)
	h.cleanup(&r)
	h.closeStorage(&r)
	return r
}

// Quick pauses the session and closes storage only.
func (h *Handler) Quick() Result {
	var r Result
	h.pauseCurrent(&r)
	h.closeStorage(&r)
	return r
}

// EndSession marks the current session Completed instead of Paused, then
// releases locks and closes storage.
func (h *Handler) EndSession() Result {
	var r Result
	h.finishCurrent(&r, false)
	h.releaseLocks(&r)
	h.closeStorage(&r)
	return r
}

// AbandonSession marks the current session Abandoned instead, then
// releases locks and closes storage.
func (h *Handler) AbandonSession() Result {
	var r Result
	h.finishCurrent(&r, true)
	h.releaseLocks(&r)
	h.closeStorage(&r)
	return r
}

func (h *Handler) pauseCurrent(r *Result) {
	if !h.cfg.PauseActiveSession || h.sessions == nil {
		return
	}
	s, ok := h.sessions.Current()
	if !ok || s.Status != session.Active {
		return
	}
	if err := h.sessions.Pause(s.ID); err != nil {
		h.warn(r, "pause session", err)
		return
	}
	r.SessionPaused = true
}

func (h *Handler) finishCurrent(r *Result, abandon bool) {
	if h.sessions == nil {
		return
	}
	s, ok := h.sessions.Current()
	if !ok {
		return
	}
	var err error
	if abandon {
		err = h.sessions.Abandon(s.ID)
	} else {
		err = h.sessions.End(s.ID)
	}
	if err != nil {
		h.warn(r, "end session", err)
		return
	}
	r.SessionEnded = true
}

func (h *Handler) releaseLocks(r *Result) {
	if h.locks == nil {
		return
	}
	h.locks.DrainReleases()
	count, err := h.locks.ReleaseOwned(h.cfg.ForceReleaseLocks)
	r.LocksReleased = count
	if err != nil {
		h.warn(r, "release locks", err)
	}
}

func (h *Handler) cleanup(r *Result) {
	if !h.cfg.CleanupOldData || h.cleaner == nil {
		return
	}
	days := h.cfg.CleanupDays
	if days <= 0 {
		days = DefaultConfig().CleanupDays
	}
	cutoff := h.now().AddDate(0, 0, -days)
	n, err := h.cleaner.CleanupOlderThan(cutoff)
	r.RecordsCleaned = n
	if err != nil {
		h.warn(r, "cleanup old data", err)
	}
}

// closeStorage closes the pool, swallowing the error: by this point the
// process is terminal and there is nothing actionable left.
func (h *Handler) closeStorage(r *Result) {
	if h.storage == nil {
		return
	}
	_ = h.storage.Close()
	r.StorageClosed = true
}
