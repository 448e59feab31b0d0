package sqlite

import (
	"database/sql"

	"github.com/google/uuid"

	"github.com/strataga/demiarch-sub000/internal/checkpoint"
)

// CheckpointRepo implements checkpoint.Repo over the checkpoints table,
// with the snapshot and signature held in BLOB columns.
type CheckpointRepo struct {
	db *DB
}

// NewCheckpointRepo constructs a CheckpointRepo.
func NewCheckpointRepo(db *DB) *CheckpointRepo { return &CheckpointRepo{db: db} }

// Save implements checkpoint.Repo.
func (r *CheckpointRepo) Save(c checkpoint.Checkpoint) error {
	var featureID any
	if c.FeatureID != nil {
		featureID = c.FeatureID.String()
	}
	_, err := r.db.sql.Exec(`
		INSERT INTO checkpoints (id, project_id, feature_id, description, snapshot, size_bytes, signature, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID.String(), c.ProjectID.String(), featureID, c.Description, c.Snapshot, c.SizeBytes, c.Signature, c.CreatedAt)
	if err != nil {
		return storageErr("sqlite.CheckpointRepo.Save", "insert checkpoint", err)
	}
	return nil
}

const checkpointColumns = `id, project_id, feature_id, description, snapshot, size_bytes, signature, created_at`

func scanCheckpoint(row interface{ Scan(...any) error }) (checkpoint.Checkpoint, error) {
	var c checkpoint.Checkpoint
	var id, projectID string
	var featureID sql.NullString
	if err := row.Scan(&id, &projectID, &featureID, &c.Description, &c.Snapshot, &c.SizeBytes, &c.Signature, &c.CreatedAt); err != nil {
		return checkpoint.Checkpoint{}, err
	}
	c.ID, _ = uuid.Parse(id)
	c.ProjectID, _ = uuid.Parse(projectID)
	if featureID.Valid {
		if parsed, err := uuid.Parse(featureID.String); err == nil {
			c.FeatureID = &parsed
		}
	}
	return c, nil
}

// ByID implements checkpoint.Repo.
func (r *CheckpointRepo) ByID(id uuid.UUID) (checkpoint.Checkpoint, bool, error) {
	row := r.db.sql.QueryRow(`SELECT `+checkpointColumns+` FROM checkpoints WHERE id = ?`, id.String())
	c, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		return checkpoint.Checkpoint{}, false, nil
	}
	if err != nil {
		return checkpoint.Checkpoint{}, false, storageErr("sqlite.CheckpointRepo.ByID", "query checkpoint", err)
	}
	return c, true, nil
}

// ByProject implements checkpoint.Repo, newest first.
func (r *CheckpointRepo) ByProject(projectID uuid.UUID) ([]checkpoint.Checkpoint, error) {
	rows, err := r.db.sql.Query(`
		SELECT `+checkpointColumns+` FROM checkpoints
		WHERE project_id = ? ORDER BY created_at DESC`, projectID.String())
	if err != nil {
		return nil, storageErr("sqlite.CheckpointRepo.ByProject", "query checkpoints", err)
	}
	defer rows.Close()
	var out []checkpoint.Checkpoint
	for rows.Next() {
		c, err := scanCheckpoint(rows)
		if err != nil {
			return nil, storageErr("sqlite.CheckpointRepo.ByProject", "scan checkpoint", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
