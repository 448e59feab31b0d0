package sqlite

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/strataga/demiarch-sub000/internal/skill"
)

// SkillStore implements skill.Store over the skills, skills_fts, and
// skill_entity_links tables.
type SkillStore struct {
	db *DB
}

// NewSkillStore constructs a SkillStore.
func NewSkillStore(db *DB) *SkillStore { return &SkillStore{db: db} }

// Save implements skill.Store.
func (s *SkillStore) Save(sk skill.Skill) error {
	_, err := s.db.sql.Exec(`
		INSERT INTO skills (id, name, description, category, tags, content,
			times_used, success_count, failure_count, confidence_tier, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, description = excluded.description,
			category = excluded.category, tags = excluded.tags, content = excluded.content,
			times_used = excluded.times_used, success_count = excluded.success_count,
			failure_count = excluded.failure_count, confidence_tier = excluded.confidence_tier,
			updated_at = excluded.updated_at`,
		sk.ID.String(), sk.Name, sk.Description, sk.Category, encodeStrings(sk.Tags), sk.Content,
		sk.TimesUsed, sk.SuccessCount, sk.FailureCount, sk.ConfidenceTier, sk.CreatedAt, sk.UpdatedAt)
	if err != nil {
		return storageErr("sqlite.SkillStore.Save", "upsert skill", err)
	}
	return nil
}

const skillColumns = `id, name, description, category, tags, content,
	times_used, success_count, failure_count, confidence_tier, created_at, updated_at`

func scanSkill(row interface{ Scan(...any) error }) (skill.Skill, error) {
	var sk skill.Skill
	var id, tags string
	if err := row.Scan(&id, &sk.Name, &sk.Description, &sk.Category, &tags, &sk.Content,
		&sk.TimesUsed, &sk.SuccessCount, &sk.FailureCount, &sk.ConfidenceTier, &sk.CreatedAt, &sk.UpdatedAt); err != nil {
		return skill.Skill{}, err
	}
	sk.ID, _ = uuid.Parse(id)
	sk.Tags = decodeStrings(tags)
	return sk, nil
}

// ByID implements skill.Store.
func (s *SkillStore) ByID(id uuid.UUID) (skill.Skill, bool, error) {
	row := s.db.sql.QueryRow(`SELECT `+skillColumns+` FROM skills WHERE id = ?`, id.String())
	sk, err := scanSkill(row)
	if err == sql.ErrNoRows {
		return skill.Skill{}, false, nil
	}
	if err != nil {
		return skill.Skill{}, false, storageErr("sqlite.SkillStore.ByID", "query skill", err)
	}
	return sk, true, nil
}

// All implements skill.Store.
func (s *SkillStore) All() ([]skill.Skill, error) {
	rows, err := s.db.sql.Query(`SELECT ` + skillColumns + ` FROM skills ORDER BY created_at`)
	if err != nil {
		return nil, storageErr("sqlite.SkillStore.All", "query skills", err)
	}
	defer rows.Close()
	return collectSkills(rows)
}

// SearchText implements skill.Store via the skills_fts FTS5 index over
// (name, description, tags, content).
func (s *SkillStore) SearchText(query string) ([]skill.Skill, error) {
	if query == "" {
		return nil, nil
	}
	rows, err := s.db.sql.Query(`
		SELECT `+skillColumns+` FROM skills
		WHERE rowid IN (SELECT rowid FROM skills_fts WHERE skills_fts MATCH ?)
		ORDER BY created_at`, ftsQuote(query))
	if err != nil {
		return nil, storageErr("sqlite.SkillStore.SearchText", "fts query", err)
	}
	defer rows.Close()
	return collectSkills(rows)
}

func collectSkills(rows *sql.Rows) ([]skill.Skill, error) {
	var out []skill.Skill
	for rows.Next() {
		sk, err := scanSkill(rows)
		if err != nil {
			return nil, storageErr("sqlite.SkillStore", "scan skill", err)
		}
		out = append(out, sk)
	}
	return out, rows.Err()
}

// RecordUse implements skill.Store.
func (s *SkillStore) RecordUse(id uuid.UUID, success bool) error {
	successDelta, failureDelta := 0, 1
	if success {
		successDelta, failureDelta = 1, 0
	}
	_, err := s.db.sql.Exec(`
		UPDATE skills SET times_used = times_used + 1,
			success_count = success_count + ?, failure_count = failure_count + ?,
			updated_at = ?
		WHERE id = ?`, successDelta, failureDelta, time.Now(), id.String())
	if err != nil {
		return storageErr("sqlite.SkillStore.RecordUse", "update usage counters", err)
	}
	return nil
}

// LinkEntity implements skill.Store.
func (s *SkillStore) LinkEntity(link skill.EntityLink) error {
	_, err := s.db.sql.Exec(`
		INSERT INTO skill_entity_links (skill_id, entity_id, relevance, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (skill_id, entity_id) DO UPDATE SET relevance = excluded.relevance`,
		link.SkillID.String(), link.EntityID.String(), link.Relevance, link.CreatedAt)
	if err != nil {
		return storageErr("sqlite.SkillStore.LinkEntity", "upsert link", err)
	}
	return nil
}

// EntityLinksOf implements skill.Store.
func (s *SkillStore) EntityLinksOf(skillID uuid.UUID) ([]skill.EntityLink, error) {
	rows, err := s.db.sql.Query(`
		SELECT skill_id, entity_id, relevance, created_at
		FROM skill_entity_links WHERE skill_id = ?`, skillID.String())
	if err != nil {
		return nil, storageErr("sqlite.SkillStore.EntityLinksOf", "query links", err)
	}
	defer rows.Close()
	var out []skill.EntityLink
	for rows.Next() {
		var l skill.EntityLink
		var sid, eid string
		if err := rows.Scan(&sid, &eid, &l.Relevance, &l.CreatedAt); err != nil {
			return nil, storageErr("sqlite.SkillStore.EntityLinksOf", "scan link", err)
		}
		l.SkillID, _ = uuid.Parse(sid)
		l.EntityID, _ = uuid.Parse(eid)
		out = append(out, l)
	}
	return out, rows.Err()
}

// SkillsLinkedTo implements skill.Store.
func (s *SkillStore) SkillsLinkedTo(entityID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.sql.Query(`
		SELECT skill_id FROM skill_entity_links WHERE entity_id = ?`, entityID.String())
	if err != nil {
		return nil, storageErr("sqlite.SkillStore.SkillsLinkedTo", "query links", err)
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var sid string
		if err := rows.Scan(&sid); err != nil {
			return nil, storageErr("sqlite.SkillStore.SkillsLinkedTo", "scan link", err)
		}
		id, err := uuid.Parse(sid)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
