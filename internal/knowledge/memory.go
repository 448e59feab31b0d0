package knowledge

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is the in-process Store used by tests and by embedders that
// do not configure a durable backend. Search is substring-based; the
// sqlite backend provides real full-text matching over the same contract.
type MemoryStore struct {
	mu            sync.RWMutex
	entities      map[uuid.UUID]Entity
	byCanonical   map[string]uuid.UUID
	relationships []Relationship
	embeddings    map[string]Embedding
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities:    make(map[uuid.UUID]Entity),
		byCanonical: make(map[string]uuid.UUID),
		embeddings:  make(map[string]Embedding),
	}
}

// SaveEntity implements Store.
func (m *MemoryStore) SaveEntity(e Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[e.ID] = e
	m.byCanonical[e.CanonicalName] = e.ID
	return nil
}

// EntityByID implements Store.
func (m *MemoryStore) EntityByID(id uuid.UUID) (Entity, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[id]
	return e, ok, nil
}

// EntityByCanonical implements Store.
func (m *MemoryStore) EntityByCanonical(canonical string) (Entity, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byCanonical[canonical]
	if !ok {
		return Entity{}, false, nil
	}
	e, ok := m.entities[id]
	return e, ok, nil
}

// Entities implements Store.
func (m *MemoryStore) Entities() ([]Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entity, 0, len(m.entities))
	for _, e := range m.entities {
		out = append(out, e)
	}
	return out, nil
}

// SearchEntities implements Store with case-insensitive substring matching
// over name, aliases, and description.
func (m *MemoryStore) SearchEntities(query string) ([]Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q := strings.ToLower(query)
	var out []Entity
	for _, e := range m.entities {
		if entityMatches(e, q) {
			out = append(out, e)
		}
	}
	return out, nil
}

func entityMatches(e Entity, q string) bool {
	if q == "" {
		return false
	}
	if strings.Contains(strings.ToLower(e.Name), q) || strings.Contains(strings.ToLower(e.Description), q) {
		return true
	}
	for _, a := range e.Aliases {
		if strings.Contains(strings.ToLower(a), q) {
			return true
		}
	}
	return false
}

// SaveRelationship implements Store, replacing in place when the edge id
// already exists so evidence merges persist.
func (m *MemoryStore) SaveRelationship(r Relationship) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.relationships {
		if m.relationships[i].ID == r.ID {
			m.relationships[i] = r
			return nil
		}
	}
	m.relationships = append(m.relationships, r)
	return nil
}

// RelationshipByEndpoints implements Store.
func (m *MemoryStore) RelationshipByEndpoints(source, target uuid.UUID, kind RelationshipKind) (Relationship, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.relationships {
		if r.SourceEntityID == source && r.TargetEntityID == target && r.Kind == kind {
			return r, true, nil
		}
	}
	return Relationship{}, false, nil
}

// RelationshipsOf implements Store, returning edges in insertion order.
func (m *MemoryStore) RelationshipsOf(entityID uuid.UUID) ([]Relationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Relationship
	for _, r := range m.relationships {
		if r.SourceEntityID == entityID || r.TargetEntityID == entityID {
			out = append(out, r)
		}
	}
	return out, nil
}

func embeddingKey(ownerID uuid.UUID, model string) string {
	return ownerID.String() + "\x00" + model
}

// SaveEmbedding implements Store.
func (m *MemoryStore) SaveEmbedding(e Embedding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embeddings[embeddingKey(e.OwnerID, e.Model)] = e
	return nil
}

// EmbeddingFor implements Store.
func (m *MemoryStore) EmbeddingFor(ownerID uuid.UUID, model string) (Embedding, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.embeddings[embeddingKey(ownerID, model)]
	return e, ok, nil
}
