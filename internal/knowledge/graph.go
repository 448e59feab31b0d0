package knowledge

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/strataga/demiarch-sub000/internal/demerr"
)

// confidenceBump is the merge nudge applied when an entity is deduplicated
// against an existing row.
const confidenceBump = 0.1

// Graph wraps a Store with the dedup-merge and traversal semantics
// of the knowledge layer. It holds no state of its own beyond the store handle; concurrency
// safety is delegated to the store.
type Graph struct {
	store Store
	log   zerolog.Logger
	now   func() time.Time
}

// NewGraph constructs a Graph over store.
func NewGraph(store Store, log zerolog.Logger) *Graph {
	return &Graph{store: store, log: log, now: time.Now}
}

// Store exposes the underlying store, mainly for the search engine which
// shares it.
func (g *Graph) Store() Store { return g.store }

// UpsertEntity inserts e or merges it into the existing entity with the
// same canonical name: aliases and source skill ids are unioned and
// confidence is bumped by 0.1, capped at 1.0. The post-merge
// entity is returned so callers can remap relationship endpoints.
func (g *Graph) UpsertEntity(e Entity) (Entity, error) {
	if e.Name == "" {
		return Entity{}, demerr.New(demerr.InvalidInput, "knowledge.UpsertEntity", "entity name is empty")
	}
	e.CanonicalName = Canonicalize(e.Name)

	existing, ok, err := g.store.EntityByCanonical(e.CanonicalName)
	if err != nil {
		return Entity{}, err
	}
	now := g.now()
	if !ok {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		e.Confidence = clamp01(e.Confidence)
		e.CreatedAt = now
		e.UpdatedAt = now
		if err := g.store.SaveEntity(e); err != nil {
			return Entity{}, err
		}
		return e, nil
	}

	existing.Aliases = unionStrings(existing.Aliases, append(e.Aliases, e.Name))
	existing.SourceSkillIDs = unionIDs(existing.SourceSkillIDs, e.SourceSkillIDs)
	if existing.Description == "" {
		existing.Description = e.Description
	}
	existing.Confidence = clamp01(existing.Confidence + confidenceBump)
	existing.UpdatedAt = now
	if err := g.store.SaveEntity(existing); err != nil {
		return Entity{}, err
	}
	g.log.Debug().Str("canonical_name", existing.CanonicalName).Float64("confidence", existing.Confidence).Msg("merged duplicate entity")
	return existing, nil
}

// UpsertRelationship inserts r or, when (source, target, kind) already
// exists, unions evidence onto the existing edge.
func (g *Graph) UpsertRelationship(r Relationship) (Relationship, error) {
	if r.SourceEntityID == uuid.Nil || r.TargetEntityID == uuid.Nil {
		return Relationship{}, demerr.New(demerr.InvalidInput, "knowledge.UpsertRelationship", "relationship endpoint is missing")
	}
	existing, ok, err := g.store.RelationshipByEndpoints(r.SourceEntityID, r.TargetEntityID, r.Kind)
	if err != nil {
		return Relationship{}, err
	}
	now := g.now()
	if !ok {
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		r.Weight = clamp01(r.Weight)
		r.CreatedAt = now
		r.UpdatedAt = now
		if err := g.store.SaveRelationship(r); err != nil {
			return Relationship{}, err
		}
		return r, nil
	}

	existing.Evidence = unionStrings(existing.Evidence, r.Evidence)
	existing.UpdatedAt = now
	if err := g.store.SaveRelationship(existing); err != nil {
		return Relationship{}, err
	}
	return existing, nil
}

// Reinforce nudges an entity's confidence by delta (positive or negative),
// clamped to [0,1] — the re-scoring pass the enricher applies when new
// evidence arrives, distinct from the dedup-merge bump.
func (g *Graph) Reinforce(entityID uuid.UUID, delta float64) (Entity, error) {
	e, ok, err := g.store.EntityByID(entityID)
	if err != nil {
		return Entity{}, err
	}
	if !ok {
		return Entity{}, demerr.New(demerr.NotFound, "knowledge.Reinforce", "unknown entity id")
	}
	e.Confidence = clamp01(e.Confidence + delta)
	e.UpdatedAt = g.now()
	if err := g.store.SaveEntity(e); err != nil {
		return Entity{}, err
	}
	return e, nil
}

// Neighbor is one BFS result: the entity, its min-hop distance from the
// start, and the id path that reached it (start first).
type Neighbor struct {
	Entity   Entity
	Distance int
	Path     []uuid.UUID
}

// Neighborhood runs BFS over the undirected view of the relationship set,
// returning every entity within maxDepth hops of startID (the start
// itself excluded), de-duplicated by entity id with min-hop distances.
// kinds, when non-empty, restricts which relationship
// kinds are traversed.
func (g *Graph) Neighborhood(startID uuid.UUID, maxDepth int, kinds []RelationshipKind) ([]Neighbor, error) {
	if _, ok, err := g.store.EntityByID(startID); err != nil {
		return nil, err
	} else if !ok {
		return nil, demerr.New(demerr.NotFound, "knowledge.Neighborhood", "unknown start entity id")
	}
	if maxDepth <= 0 {
		return nil, nil
	}

	allowed := map[RelationshipKind]bool{}
	for _, k := range kinds {
		allowed[k] = true
	}

	type queued struct {
		id   uuid.UUID
		dist int
		path []uuid.UUID
	}
	visited := map[uuid.UUID]bool{startID: true}
	queue := []queued{{id: startID, dist: 0, path: []uuid.UUID{startID}}}
	var out []Neighbor

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.dist == maxDepth {
			continue
		}
		edges, err := g.store.RelationshipsOf(cur.id)
		if err != nil {
			return nil, err
		}
		for _, r := range edges {
			if len(allowed) > 0 && !allowed[r.Kind] {
				continue
			}
			next := r.TargetEntityID
			if next == cur.id {
				next = r.SourceEntityID
			}
			if visited[next] {
				continue
			}
			visited[next] = true
			path := append(append([]uuid.UUID{}, cur.path...), next)
			e, ok, err := g.store.EntityByID(next)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			out = append(out, Neighbor{Entity: e, Distance: cur.dist + 1, Path: path})
			queue = append(queue, queued{id: next, dist: cur.dist + 1, path: path})
		}
	}
	return out, nil
}

// FindPath returns the shortest undirected path (by hop count) from src to
// dst as an ordered id sequence including both endpoints, or NotFound when
// no path exists within maxDepth hops. Ties are broken by insertion order
// of the edges, which BFS visits first.
func (g *Graph) FindPath(src, dst uuid.UUID, maxDepth int) ([]uuid.UUID, error) {
	if src == dst {
		return []uuid.UUID{src}, nil
	}
	neighbors, err := g.Neighborhood(src, maxDepth, nil)
	if err != nil {
		return nil, err
	}
	for _, n := range neighbors {
		if n.Entity.ID == dst {
			return n.Path, nil
		}
	}
	return nil, demerr.New(demerr.NotFound, "knowledge.FindPath", "no path within max depth")
}

// Connected returns the entities adjacent to entityID over edges of the
// given kind, filtered by direction.
func (g *Graph) Connected(entityID uuid.UUID, kind RelationshipKind, dir Direction) ([]Entity, error) {
	edges, err := g.store.RelationshipsOf(entityID)
	if err != nil {
		return nil, err
	}
	var out []Entity
	seen := map[uuid.UUID]bool{}
	for _, r := range edges {
		if r.Kind != kind {
			continue
		}
		var other uuid.UUID
		switch {
		case r.SourceEntityID == entityID && (dir == Outgoing || dir == Both):
			other = r.TargetEntityID
		case r.TargetEntityID == entityID && (dir == Incoming || dir == Both):
			other = r.SourceEntityID
		default:
			continue
		}
		if seen[other] {
			continue
		}
		seen[other] = true
		e, ok, err := g.store.EntityByID(other)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// SetEmbedding stores a vector for (ownerID, model), rejecting a vector
// whose length disagrees with its declared dimensions.
func (g *Graph) SetEmbedding(e Embedding) error {
	if e.Dimensions != len(e.Vector) {
		return demerr.New(demerr.InvalidInput, "knowledge.SetEmbedding", "dimensions does not match vector length")
	}
	e.CreatedAt = g.now()
	return g.store.SaveEmbedding(e)
}

// EmbeddingFor fetches the stored vector for (ownerID, model).
func (g *Graph) EmbeddingFor(ownerID uuid.UUID, model string) (Embedding, bool, error) {
	return g.store.EmbeddingFor(ownerID, model)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func unionStrings(a, b []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func unionIDs(a, b []uuid.UUID) []uuid.UUID {
	seen := map[uuid.UUID]bool{}
	var out []uuid.UUID
	for _, id := range append(append([]uuid.UUID{}, a...), b...) {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
