package sqlite

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/strataga/demiarch-sub000/internal/session"
)

// SessionStore persists sessions and their event trail. It doubles as the
// shutdown handler's Cleaner: CleanupOlderThan deletes sessions (and,
// through the cascade, their events) whose last activity predates the
// cutoff.
type SessionStore struct {
	db *DB
}

// NewSessionStore constructs a SessionStore.
func NewSessionStore(db *DB) *SessionStore { return &SessionStore{db: db} }

// Save upserts the session row.
func (s *SessionStore) Save(sess session.Session) error {
	var projectID, featureID, checkpointID any
	if sess.CurrentProjectID != nil {
		projectID = sess.CurrentProjectID.String()
	}
	if sess.CurrentFeatureID != nil {
		featureID = sess.CurrentFeatureID.String()
	}
	if sess.LastCheckpointID != nil {
		checkpointID = sess.LastCheckpointID.String()
	}
	_, err := s.db.sql.Exec(`
		INSERT INTO sessions (id, created_at, last_activity, current_project_id,
			current_feature_id, status, phase, description, last_checkpoint_id, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			last_activity = excluded.last_activity,
			current_project_id = excluded.current_project_id,
			current_feature_id = excluded.current_feature_id,
			status = excluded.status, phase = excluded.phase,
			description = excluded.description,
			last_checkpoint_id = excluded.last_checkpoint_id,
			metadata = excluded.metadata`,
		sess.ID.String(), sess.CreatedAt, sess.LastActivity, projectID, featureID,
		string(sess.Status), string(sess.Phase), sess.Description, checkpointID, string(sess.Metadata))
	if err != nil {
		return storageErr("sqlite.SessionStore.Save", "upsert session", err)
	}
	return nil
}

// ByID fetches one session.
func (s *SessionStore) ByID(id uuid.UUID) (session.Session, bool, error) {
	row := s.db.sql.QueryRow(`
		SELECT id, created_at, last_activity, current_project_id, current_feature_id,
			status, phase, description, last_checkpoint_id, metadata
		FROM sessions WHERE id = ?`, id.String())
	var sess session.Session
	var sid, status, phase string
	var projectID, featureID, checkpointID, description, metadata sql.NullString
	err := row.Scan(&sid, &sess.CreatedAt, &sess.LastActivity, &projectID, &featureID,
		&status, &phase, &description, &checkpointID, &metadata)
	if err == sql.ErrNoRows {
		return session.Session{}, false, nil
	}
	if err != nil {
		return session.Session{}, false, storageErr("sqlite.SessionStore.ByID", "query session", err)
	}
	sess.ID, _ = uuid.Parse(sid)
	sess.Status = session.Status(status)
	sess.Phase = session.Phase(phase)
	sess.Description = description.String
	if metadata.Valid {
		sess.Metadata = []byte(metadata.String)
	}
	if projectID.Valid {
		if parsed, err := uuid.Parse(projectID.String); err == nil {
			sess.CurrentProjectID = &parsed
		}
	}
	if featureID.Valid {
		if parsed, err := uuid.Parse(featureID.String); err == nil {
			sess.CurrentFeatureID = &parsed
		}
	}
	if checkpointID.Valid {
		if parsed, err := uuid.Parse(checkpointID.String); err == nil {
			sess.LastCheckpointID = &parsed
		}
	}
	return sess, true, nil
}

// EmitSession implements session.Sink, appending one event row.
func (s *SessionStore) EmitSession(e session.SessionEvent) error {
	_, err := s.db.sql.Exec(`
		INSERT INTO session_events (session_id, kind, at, payload)
		VALUES (?, ?, ?, ?)`,
		e.SessionID.String(), string(e.Kind), e.At, string(e.Payload))
	if err != nil {
		return storageErr("sqlite.SessionStore.EmitSession", "insert session event", err)
	}
	return nil
}

// EventsFor returns the event trail for sessionID in append order.
func (s *SessionStore) EventsFor(sessionID uuid.UUID) ([]session.SessionEvent, error) {
	rows, err := s.db.sql.Query(`
		SELECT session_id, kind, at, payload FROM session_events
		WHERE session_id = ? ORDER BY id`, sessionID.String())
	if err != nil {
		return nil, storageErr("sqlite.SessionStore.EventsFor", "query events", err)
	}
	defer rows.Close()
	var out []session.SessionEvent
	for rows.Next() {
		var e session.SessionEvent
		var sid, kind string
		var payload sql.NullString
		if err := rows.Scan(&sid, &kind, &e.At, &payload); err != nil {
			return nil, storageErr("sqlite.SessionStore.EventsFor", "scan event", err)
		}
		e.SessionID, _ = uuid.Parse(sid)
		e.Kind = session.EventKind(kind)
		if payload.Valid {
			e.Payload = []byte(payload.String)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CleanupOlderThan deletes sessions whose last activity predates cutoff;
// their events follow via ON DELETE CASCADE.
func (s *SessionStore) CleanupOlderThan(cutoff time.Time) (int, error) {
	res, err := s.db.sql.Exec(`DELETE FROM sessions WHERE last_activity < ?`, cutoff)
	if err != nil {
		return 0, storageErr("sqlite.SessionStore.CleanupOlderThan", "delete old sessions", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
