// Package skill implements learned skills (reusable patterns mined from
// successful runs) and the post-success extraction pipeline that turns an
// agent outcome into knowledge-graph updates ("cognify").
//
// Grounded on goa-ai's features/memory (domain service over a Store
// interface, mongo-backed in production) for the repository split, and on
// its runtime/agent structured-output handling for the
// parse-model-JSON-leniently shape.
package skill

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Skill is one reusable pattern mined from a successful run, indexed
// textually and semantically.
type Skill struct {
	ID          uuid.UUID
	Name        string
	Description string
	Category    string
	Tags        []string
	Content     string

	TimesUsed      int64
	SuccessCount   int64
	FailureCount   int64
	ConfidenceTier int // 1..3

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SuccessRate is the observed fraction of successful uses, defaulting to
// 0.5 when the skill has never been used.
func (s Skill) SuccessRate() float64 {
	total := s.SuccessCount + s.FailureCount
	if total == 0 {
		return 0.5
	}
	return float64(s.SuccessCount) / float64(total)
}

// EntityLink associates a skill with a knowledge entity at a relevance in
// [0,1]; extraction links every created or merged entity at a default
// relevance.
type EntityLink struct {
	SkillID   uuid.UUID
	EntityID  uuid.UUID
	Relevance float64
	CreatedAt time.Time
}

// Store is the skill repository contract. Implementations:
// MemoryStore here, sqlite and mongo under internal/store.
type Store interface {
	Save(s Skill) error
	ByID(id uuid.UUID) (Skill, bool, error)
	All() ([]Skill, error)
	// SearchText returns skills whose name, description, tags, or content
	// match the query (full-text or substring, per backend).
	SearchText(query string) ([]Skill, error)
	// RecordUse bumps usage counters for id.
	RecordUse(id uuid.UUID, success bool) error

	LinkEntity(link EntityLink) error
	// EntityLinksOf returns the entity links for a skill.
	EntityLinksOf(skillID uuid.UUID) ([]EntityLink, error)
	// SkillsLinkedTo returns the skill ids linked to an entity.
	SkillsLinkedTo(entityID uuid.UUID) ([]uuid.UUID, error)
}

// MemoryStore is the in-process Store used by tests and embedders without
// a durable backend.
type MemoryStore struct {
	mu     sync.RWMutex
	skills map[uuid.UUID]Skill
	links  []EntityLink
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{skills: make(map[uuid.UUID]Skill)}
}

// Save implements Store.
func (m *MemoryStore) Save(s Skill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skills[s.ID] = s
	return nil
}

// ByID implements Store.
func (m *MemoryStore) ByID(id uuid.UUID) (Skill, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.skills[id]
	return s, ok, nil
}

// All implements Store.
func (m *MemoryStore) All() ([]Skill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Skill, 0, len(m.skills))
	for _, s := range m.skills {
		out = append(out, s)
	}
	return out, nil
}

// SearchText implements Store with case-insensitive substring matching.
func (m *MemoryStore) SearchText(query string) ([]Skill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q := strings.ToLower(query)
	if q == "" {
		return nil, nil
	}
	var out []Skill
	for _, s := range m.skills {
		if skillMatches(s, q) {
			out = append(out, s)
		}
	}
	return out, nil
}

func skillMatches(s Skill, q string) bool {
	if strings.Contains(strings.ToLower(s.Name), q) ||
		strings.Contains(strings.ToLower(s.Description), q) ||
		strings.Contains(strings.ToLower(s.Content), q) {
		return true
	}
	for _, t := range s.Tags {
		if strings.Contains(strings.ToLower(t), q) {
			return true
		}
	}
	return false
}

// RecordUse implements Store.
func (m *MemoryStore) RecordUse(id uuid.UUID, success bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.skills[id]
	if !ok {
		return nil
	}
	s.TimesUsed++
	if success {
		s.SuccessCount++
	} else {
		s.FailureCount++
	}
	s.UpdatedAt = time.Now()
	m.skills[id] = s
	return nil
}

// LinkEntity implements Store, replacing an existing link for the same
// (skill, entity) pair.
func (m *MemoryStore) LinkEntity(link EntityLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.links {
		if m.links[i].SkillID == link.SkillID && m.links[i].EntityID == link.EntityID {
			m.links[i] = link
			return nil
		}
	}
	m.links = append(m.links, link)
	return nil
}

// EntityLinksOf implements Store.
func (m *MemoryStore) EntityLinksOf(skillID uuid.UUID) ([]EntityLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []EntityLink
	for _, l := range m.links {
		if l.SkillID == skillID {
			out = append(out, l)
		}
	}
	return out, nil
}

// SkillsLinkedTo implements Store.
func (m *MemoryStore) SkillsLinkedTo(entityID uuid.UUID) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []uuid.UUID
	for _, l := range m.links {
		if l.EntityID == entityID {
			out = append(out, l.SkillID)
		}
	}
	return out, nil
}
