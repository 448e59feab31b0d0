package sqlite

import (
	"database/sql"

	"github.com/google/uuid"

	"github.com/strataga/demiarch-sub000/internal/knowledge"
)

// KnowledgeStore implements knowledge.Store over the entities,
// entities_fts, relationships, and embeddings tables.
type KnowledgeStore struct {
	db *DB
}

// NewKnowledgeStore constructs a KnowledgeStore.
func NewKnowledgeStore(db *DB) *KnowledgeStore { return &KnowledgeStore{db: db} }

// SaveEntity implements knowledge.Store.
func (s *KnowledgeStore) SaveEntity(e knowledge.Entity) error {
	skillIDs := make([]string, len(e.SourceSkillIDs))
	for i, id := range e.SourceSkillIDs {
		skillIDs[i] = id.String()
	}
	_, err := s.db.sql.Exec(`
		INSERT INTO entities (id, kind, name, canonical_name, description, aliases,
			source_skill_ids, confidence, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			kind = excluded.kind, name = excluded.name, canonical_name = excluded.canonical_name,
			description = excluded.description, aliases = excluded.aliases,
			source_skill_ids = excluded.source_skill_ids, confidence = excluded.confidence,
			updated_at = excluded.updated_at`,
		e.ID.String(), string(e.Kind), e.Name, e.CanonicalName, e.Description,
		encodeStrings(e.Aliases), encodeStrings(skillIDs), e.Confidence, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return storageErr("sqlite.KnowledgeStore.SaveEntity", "upsert entity", err)
	}
	return nil
}

const entityColumns = `id, kind, name, canonical_name, description, aliases,
	source_skill_ids, confidence, created_at, updated_at`

func scanEntity(row interface{ Scan(...any) error }) (knowledge.Entity, error) {
	var e knowledge.Entity
	var id, kind, aliases, skillIDs string
	if err := row.Scan(&id, &kind, &e.Name, &e.CanonicalName, &e.Description,
		&aliases, &skillIDs, &e.Confidence, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return knowledge.Entity{}, err
	}
	e.ID, _ = uuid.Parse(id)
	e.Kind = knowledge.EntityKind(kind)
	e.Aliases = decodeStrings(aliases)
	for _, s := range decodeStrings(skillIDs) {
		if parsed, err := uuid.Parse(s); err == nil {
			e.SourceSkillIDs = append(e.SourceSkillIDs, parsed)
		}
	}
	return e, nil
}

// EntityByID implements knowledge.Store.
func (s *KnowledgeStore) EntityByID(id uuid.UUID) (knowledge.Entity, bool, error) {
	row := s.db.sql.QueryRow(`SELECT `+entityColumns+` FROM entities WHERE id = ?`, id.String())
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return knowledge.Entity{}, false, nil
	}
	if err != nil {
		return knowledge.Entity{}, false, storageErr("sqlite.KnowledgeStore.EntityByID", "query entity", err)
	}
	return e, true, nil
}

// EntityByCanonical implements knowledge.Store.
func (s *KnowledgeStore) EntityByCanonical(canonical string) (knowledge.Entity, bool, error) {
	row := s.db.sql.QueryRow(`SELECT `+entityColumns+` FROM entities WHERE canonical_name = ?`, canonical)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return knowledge.Entity{}, false, nil
	}
	if err != nil {
		return knowledge.Entity{}, false, storageErr("sqlite.KnowledgeStore.EntityByCanonical", "query entity", err)
	}
	return e, true, nil
}

// Entities implements knowledge.Store.
func (s *KnowledgeStore) Entities() ([]knowledge.Entity, error) {
	rows, err := s.db.sql.Query(`SELECT ` + entityColumns + ` FROM entities ORDER BY created_at`)
	if err != nil {
		return nil, storageErr("sqlite.KnowledgeStore.Entities", "query entities", err)
	}
	defer rows.Close()
	return collectEntities(rows)
}

// SearchEntities implements knowledge.Store via the entities_fts FTS5
// index over (name, aliases, description).
func (s *KnowledgeStore) SearchEntities(query string) ([]knowledge.Entity, error) {
	if query == "" {
		return nil, nil
	}
	rows, err := s.db.sql.Query(`
		SELECT `+entityColumns+` FROM entities
		WHERE rowid IN (SELECT rowid FROM entities_fts WHERE entities_fts MATCH ?)
		ORDER BY created_at`, ftsQuote(query))
	if err != nil {
		return nil, storageErr("sqlite.KnowledgeStore.SearchEntities", "fts query", err)
	}
	defer rows.Close()
	return collectEntities(rows)
}

func collectEntities(rows *sql.Rows) ([]knowledge.Entity, error) {
	var out []knowledge.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, storageErr("sqlite.KnowledgeStore", "scan entity", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveRelationship implements knowledge.Store.
func (s *KnowledgeStore) SaveRelationship(r knowledge.Relationship) error {
	_, err := s.db.sql.Exec(`
		INSERT INTO relationships (id, source_entity_id, target_entity_id, kind,
			weight, evidence, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_entity_id, target_entity_id, kind) DO UPDATE SET
			weight = excluded.weight, evidence = excluded.evidence, updated_at = excluded.updated_at`,
		r.ID.String(), r.SourceEntityID.String(), r.TargetEntityID.String(), string(r.Kind),
		r.Weight, encodeStrings(r.Evidence), r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return storageErr("sqlite.KnowledgeStore.SaveRelationship", "upsert relationship", err)
	}
	return nil
}

const relationshipColumns = `id, source_entity_id, target_entity_id, kind, weight, evidence, created_at, updated_at`

func scanRelationship(row interface{ Scan(...any) error }) (knowledge.Relationship, error) {
	var r knowledge.Relationship
	var id, src, dst, kind, evidence string
	if err := row.Scan(&id, &src, &dst, &kind, &r.Weight, &evidence, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return knowledge.Relationship{}, err
	}
	r.ID, _ = uuid.Parse(id)
	r.SourceEntityID, _ = uuid.Parse(src)
	r.TargetEntityID, _ = uuid.Parse(dst)
	r.Kind = knowledge.RelationshipKind(kind)
	r.Evidence = decodeStrings(evidence)
	return r, nil
}

// RelationshipByEndpoints implements knowledge.Store.
func (s *KnowledgeStore) RelationshipByEndpoints(source, target uuid.UUID, kind knowledge.RelationshipKind) (knowledge.Relationship, bool, error) {
	row := s.db.sql.QueryRow(`
		SELECT `+relationshipColumns+` FROM relationships
		WHERE source_entity_id = ? AND target_entity_id = ? AND kind = ?`,
		source.String(), target.String(), string(kind))
	r, err := scanRelationship(row)
	if err == sql.ErrNoRows {
		return knowledge.Relationship{}, false, nil
	}
	if err != nil {
		return knowledge.Relationship{}, false, storageErr("sqlite.KnowledgeStore.RelationshipByEndpoints", "query relationship", err)
	}
	return r, true, nil
}

// RelationshipsOf implements knowledge.Store, ordered by insertion
// (created_at, then rowid for same-instant inserts).
func (s *KnowledgeStore) RelationshipsOf(entityID uuid.UUID) ([]knowledge.Relationship, error) {
	rows, err := s.db.sql.Query(`
		SELECT `+relationshipColumns+` FROM relationships
		WHERE source_entity_id = ? OR target_entity_id = ?
		ORDER BY created_at, rowid`, entityID.String(), entityID.String())
	if err != nil {
		return nil, storageErr("sqlite.KnowledgeStore.RelationshipsOf", "query relationships", err)
	}
	defer rows.Close()
	var out []knowledge.Relationship
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, storageErr("sqlite.KnowledgeStore.RelationshipsOf", "scan relationship", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveEmbedding implements knowledge.Store.
func (s *KnowledgeStore) SaveEmbedding(e knowledge.Embedding) error {
	_, err := s.db.sql.Exec(`
		INSERT INTO embeddings (owner_id, model, vector, dimensions, content_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_id, model) DO UPDATE SET
			vector = excluded.vector, dimensions = excluded.dimensions,
			content_hash = excluded.content_hash, created_at = excluded.created_at`,
		e.OwnerID.String(), e.Model, encodeVector(e.Vector), e.Dimensions, e.ContentHash, e.CreatedAt)
	if err != nil {
		return storageErr("sqlite.KnowledgeStore.SaveEmbedding", "upsert embedding", err)
	}
	return nil
}

// EmbeddingFor implements knowledge.Store.
func (s *KnowledgeStore) EmbeddingFor(ownerID uuid.UUID, model string) (knowledge.Embedding, bool, error) {
	row := s.db.sql.QueryRow(`
		SELECT owner_id, model, vector, dimensions, content_hash, created_at
		FROM embeddings WHERE owner_id = ? AND model = ?`, ownerID.String(), model)
	var e knowledge.Embedding
	var owner string
	var vector []byte
	err := row.Scan(&owner, &e.Model, &vector, &e.Dimensions, &e.ContentHash, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return knowledge.Embedding{}, false, nil
	}
	if err != nil {
		return knowledge.Embedding{}, false, storageErr("sqlite.KnowledgeStore.EmbeddingFor", "query embedding", err)
	}
	e.OwnerID, _ = uuid.Parse(owner)
	e.Vector = decodeVector(vector)
	return e, true, nil
}
