// Package knowledge implements the learned-skill knowledge graph:
// entity and relationship storage with canonical-name deduplication,
// neighborhood/path/connected queries over an undirected view of the
// relationship set, and per-entity embeddings with content-hash
// invalidation.
//
// Grounded on goa-ai's features/memory (Store contract split from the
// domain service, mongo implementation behind an interface) and its
// closed-enumeration style for kinds; the traversal queries are a
// plain BFS rather than goa-ai's vector-recall model, which has no graph
// component.
package knowledge

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// EntityKind is the closed set of entity kinds.
type EntityKind string

const (
	Concept       EntityKind = "concept"
	Technique     EntityKind = "technique"
	Library       EntityKind = "library"
	Framework     EntityKind = "framework"
	Pattern       EntityKind = "pattern"
	Language      EntityKind = "language"
	Tool          EntityKind = "tool"
	Domain        EntityKind = "domain"
	Api           EntityKind = "api"
	DataStructure EntityKind = "data_structure"
	Algorithm     EntityKind = "algorithm"
)

// ParseEntityKind maps a free-form kind string (as returned by the
// extraction model) onto the closed enumeration, defaulting to Concept.
func ParseEntityKind(s string) EntityKind {
	switch EntityKind(strings.ToLower(strings.TrimSpace(s))) {
	case Concept, Technique, Library, Framework, Pattern, Language, Tool, Domain, Api, DataStructure, Algorithm:
		return EntityKind(strings.ToLower(strings.TrimSpace(s)))
	default:
		return Concept
	}
}

// Entity is one node of the knowledge graph. CanonicalName is the global
// uniqueness key; duplicates are merged, never inserted twice.
type Entity struct {
	ID             uuid.UUID
	Kind           EntityKind
	Name           string
	CanonicalName  string
	Description    string
	Aliases        []string
	SourceSkillIDs []uuid.UUID
	Confidence     float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Canonicalize normalizes a display name into the canonical uniqueness
// key: lowercased, trimmed, interior whitespace runs collapsed to single
// spaces.
func Canonicalize(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// RelationshipKind is the closed set of edge kinds.
type RelationshipKind string

const (
	Uses            RelationshipKind = "uses"
	UsedBy          RelationshipKind = "used_by"
	DependsOn       RelationshipKind = "depends_on"
	DependencyOf    RelationshipKind = "dependency_of"
	SimilarTo       RelationshipKind = "similar_to"
	PrerequisiteFor RelationshipKind = "prerequisite_for"
	Requires        RelationshipKind = "requires"
	AppliesTo       RelationshipKind = "applies_to"
	PartOf          RelationshipKind = "part_of"
	Contains        RelationshipKind = "contains"
	Implements      RelationshipKind = "implements"
	ImplementedBy   RelationshipKind = "implemented_by"
	ConflictsWith   RelationshipKind = "conflicts_with"
	RelatedTo       RelationshipKind = "related_to"
)

// ParseRelationshipKind maps a free-form kind string onto the closed
// enumeration, defaulting to RelatedTo.
func ParseRelationshipKind(s string) RelationshipKind {
	k := RelationshipKind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case Uses, UsedBy, DependsOn, DependencyOf, SimilarTo, PrerequisiteFor,
		Requires, AppliesTo, PartOf, Contains, Implements, ImplementedBy,
		ConflictsWith, RelatedTo:
		return k
	default:
		return RelatedTo
	}
}

// Relationship is one directed edge. (SourceEntityID, TargetEntityID, Kind)
// is unique; re-insertion merges evidence.
type Relationship struct {
	ID             uuid.UUID
	SourceEntityID uuid.UUID
	TargetEntityID uuid.UUID
	Kind           RelationshipKind
	Weight         float64
	Evidence       []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Embedding stores one raw little-endian f32 vector per (owner, model),
// with a content hash so stale vectors can be invalidated when the text
// they were computed from changes.
type Embedding struct {
	OwnerID     uuid.UUID
	Model       string
	Vector      []float32
	Dimensions  int
	ContentHash []byte
	CreatedAt   time.Time
}

// HashContent computes the invalidation hash for embedding source text.
func HashContent(text string) []byte {
	sum := blake2b.Sum256([]byte(text))
	return sum[:]
}

// Direction selects which edges Connected follows relative to the query
// entity.
type Direction string

const (
	Outgoing Direction = "outgoing"
	Incoming Direction = "incoming"
	Both     Direction = "both"
)

// Store is the persistence contract the graph operates over.
// Implementations: MemoryStore here, sqlite and mongo under
// internal/store. Every method is safe for concurrent use.
type Store interface {
	SaveEntity(e Entity) error
	EntityByID(id uuid.UUID) (Entity, bool, error)
	EntityByCanonical(canonical string) (Entity, bool, error)
	Entities() ([]Entity, error)
	// SearchEntities returns entities whose name, aliases, or description
	// match the query text (full-text or substring, per backend).
	SearchEntities(query string) ([]Entity, error)

	SaveRelationship(r Relationship) error
	RelationshipByEndpoints(source, target uuid.UUID, kind RelationshipKind) (Relationship, bool, error)
	// RelationshipsOf returns every edge touching entityID, in either
	// direction, in insertion order.
	RelationshipsOf(entityID uuid.UUID) ([]Relationship, error)

	SaveEmbedding(e Embedding) error
	EmbeddingFor(ownerID uuid.UUID, model string) (Embedding, bool, error)
}
