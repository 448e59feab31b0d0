package knowledge

import (
	"testing"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strataga/demiarch-sub000/internal/demerr"
)

func newTestGraph() *Graph {
	return NewGraph(NewMemoryStore(), zerolog.Nop())
}

func TestUpsertEntityDeduplicatesByCanonicalName(t *testing.T) {
	g := newTestGraph()
	skillA, skillB := uuid.New(), uuid.New()

	first, err := g.UpsertEntity(Entity{
		Kind: Library, Name: "Tokio", Aliases: []string{"tokio-rs"},
		SourceSkillIDs: []uuid.UUID{skillA}, Confidence: 0.5,
	})
	require.NoError(t, err)

	second, err := g.UpsertEntity(Entity{
		Kind: Library, Name: "  tokio ", Aliases: []string{"tokio runtime"},
		SourceSkillIDs: []uuid.UUID{skillB}, Confidence: 0.9,
	})
	require.NoError(t, err)

	// One row, merged aliases/sources, confidence bumped not replaced.
	assert.Equal(t, first.ID, second.ID)
	assert.ElementsMatch(t, []string{"tokio-rs", "tokio runtime", "  tokio "}, second.Aliases)
	assert.ElementsMatch(t, []uuid.UUID{skillA, skillB}, second.SourceSkillIDs)
	assert.InDelta(t, 0.6, second.Confidence, 1e-9)

	all, err := g.store.Entities()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

// TestConfidenceNeverExceedsOne shows that repeated merges increase
// confidence but cap it at 1.0.
func TestConfidenceNeverExceedsOne(t *testing.T) {
	props := gopter.NewProperties(nil)
	props.Property("confidence stays in [0,1] after any number of merges", prop.ForAll(
		func(initial float64, merges int) bool {
			g := newTestGraph()
			if _, err := g.UpsertEntity(Entity{Kind: Concept, Name: "x", Confidence: initial}); err != nil {
				return false
			}
			var last Entity
			for i := 0; i < merges; i++ {
				var err error
				last, err = g.UpsertEntity(Entity{Kind: Concept, Name: "x"})
				if err != nil {
					return false
				}
			}
			if merges == 0 {
				return true
			}
			return last.Confidence >= 0 && last.Confidence <= 1.0
		},
		gen.Float64Range(0, 1),
		gen.IntRange(0, 30),
	))
	props.TestingRun(t)
}

func TestUpsertRelationshipMergesEvidence(t *testing.T) {
	g := newTestGraph()
	a, err := g.UpsertEntity(Entity{Kind: Library, Name: "A"})
	require.NoError(t, err)
	b, err := g.UpsertEntity(Entity{Kind: Library, Name: "B"})
	require.NoError(t, err)

	r1, err := g.UpsertRelationship(Relationship{
		SourceEntityID: a.ID, TargetEntityID: b.ID, Kind: Uses,
		Weight: 0.7, Evidence: []string{"seen in build"},
	})
	require.NoError(t, err)

	r2, err := g.UpsertRelationship(Relationship{
		SourceEntityID: a.ID, TargetEntityID: b.ID, Kind: Uses,
		Weight: 0.2, Evidence: []string{"seen in tests", "seen in build"},
	})
	require.NoError(t, err)

	assert.Equal(t, r1.ID, r2.ID)
	assert.ElementsMatch(t, []string{"seen in build", "seen in tests"}, r2.Evidence)
	// Original weight is preserved on merge; only evidence unions.
	assert.Equal(t, 0.7, r2.Weight)

	// Different kind is a distinct edge.
	r3, err := g.UpsertRelationship(Relationship{SourceEntityID: a.ID, TargetEntityID: b.ID, Kind: DependsOn, Weight: 0.4})
	require.NoError(t, err)
	assert.NotEqual(t, r1.ID, r3.ID)
}

// chain builds the A→B→C three-entity chain fixture.
func chain(t *testing.T, g *Graph) (Entity, Entity, Entity) {
	t.Helper()
	a, err := g.UpsertEntity(Entity{Kind: Concept, Name: "A"})
	require.NoError(t, err)
	b, err := g.UpsertEntity(Entity{Kind: Concept, Name: "B"})
	require.NoError(t, err)
	c, err := g.UpsertEntity(Entity{Kind: Concept, Name: "C"})
	require.NoError(t, err)
	_, err = g.UpsertRelationship(Relationship{SourceEntityID: a.ID, TargetEntityID: b.ID, Kind: Uses, Weight: 1})
	require.NoError(t, err)
	_, err = g.UpsertRelationship(Relationship{SourceEntityID: b.ID, TargetEntityID: c.ID, Kind: Uses, Weight: 1})
	require.NoError(t, err)
	return a, b, c
}

func TestNeighborhoodDistances(t *testing.T) {
	g := newTestGraph()
	a, b, c := chain(t, g)

	one, err := g.Neighborhood(a.ID, 1, nil)
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, b.ID, one[0].Entity.ID)
	assert.Equal(t, 1, one[0].Distance)

	two, err := g.Neighborhood(a.ID, 2, nil)
	require.NoError(t, err)
	require.Len(t, two, 2)
	distances := map[uuid.UUID]int{}
	for _, n := range two {
		distances[n.Entity.ID] = n.Distance
	}
	assert.Equal(t, 1, distances[b.ID])
	assert.Equal(t, 2, distances[c.ID])
}

// TestNeighborhoodMinHop cross-checks BFS against an oracle on random graphs: every entity
// within maxDepth hops is returned with its min-hop distance, and nothing
// beyond maxDepth appears.
func TestNeighborhoodMinHop(t *testing.T) {
	props := gopter.NewProperties(nil)
	props.Property("BFS distance equals min-hop and respects the cap", prop.ForAll(
		func(n int, edgePairs []int, maxDepth int) bool {
			g := newTestGraph()
			ids := make([]uuid.UUID, n)
			for i := range ids {
				e, err := g.UpsertEntity(Entity{Kind: Concept, Name: entityName(i)})
				if err != nil {
					return false
				}
				ids[i] = e.ID
			}
			adj := make([][]int, n)
			for i := 0; i+1 < len(edgePairs); i += 2 {
				src, dst := edgePairs[i]%n, edgePairs[i+1]%n
				if src == dst {
					continue
				}
				if _, err := g.UpsertRelationship(Relationship{SourceEntityID: ids[src], TargetEntityID: ids[dst], Kind: RelatedTo, Weight: 1}); err != nil {
					return false
				}
				adj[src] = append(adj[src], dst)
				adj[dst] = append(adj[dst], src)
			}

			want := referenceBFS(adj, 0, maxDepth)
			got, err := g.Neighborhood(ids[0], maxDepth, nil)
			if err != nil {
				return false
			}
			if len(got) != len(want) {
				return false
			}
			byID := map[uuid.UUID]int{}
			for i, id := range ids {
				byID[id] = i
			}
			for _, nb := range got {
				if want[byID[nb.Entity.ID]] != nb.Distance {
					return false
				}
			}
			return true
		},
		gen.IntRange(2, 8),
		gen.SliceOfN(12, gen.IntRange(0, 63)),
		gen.IntRange(1, 4),
	))
	props.TestingRun(t)
}

func entityName(i int) string {
	return string(rune('a' + i))
}

// referenceBFS is an independent min-hop oracle over an adjacency list.
func referenceBFS(adj [][]int, start, maxDepth int) map[int]int {
	dist := map[int]int{start: 0}
	queue := []int{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if dist[cur] == maxDepth {
			continue
		}
		for _, next := range adj[cur] {
			if _, seen := dist[next]; seen {
				continue
			}
			dist[next] = dist[cur] + 1
			queue = append(queue, next)
		}
	}
	delete(dist, start)
	return dist
}

func TestFindPathReturnsHopPath(t *testing.T) {
	g := newTestGraph()
	a, b, c := chain(t, g)

	path, err := g.FindPath(a.ID, c.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a.ID, b.ID, c.ID}, path)

	_, err = g.FindPath(a.ID, c.ID, 1)
	assert.True(t, demerr.Of(err, demerr.NotFound))
}

func TestConnectedHonorsDirection(t *testing.T) {
	g := newTestGraph()
	a, b, _ := chain(t, g)

	out, err := g.Connected(a.ID, Uses, Outgoing)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, b.ID, out[0].ID)

	in, err := g.Connected(a.ID, Uses, Incoming)
	require.NoError(t, err)
	assert.Empty(t, in)

	both, err := g.Connected(b.ID, Uses, Both)
	require.NoError(t, err)
	assert.Len(t, both, 2)
}

func TestReinforceClampsConfidence(t *testing.T) {
	g := newTestGraph()
	e, err := g.UpsertEntity(Entity{Kind: Technique, Name: "retry with backoff", Confidence: 0.9})
	require.NoError(t, err)

	up, err := g.Reinforce(e.ID, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 1.0, up.Confidence)

	down, err := g.Reinforce(e.ID, -2)
	require.NoError(t, err)
	assert.Equal(t, 0.0, down.Confidence)
}

func TestSetEmbeddingRejectsDimensionMismatch(t *testing.T) {
	g := newTestGraph()
	id := uuid.New()
	err := g.SetEmbedding(Embedding{OwnerID: id, Model: "m", Vector: []float32{1, 2}, Dimensions: 3})
	assert.True(t, demerr.Of(err, demerr.InvalidInput))

	require.NoError(t, g.SetEmbedding(Embedding{OwnerID: id, Model: "m", Vector: []float32{1, 2, 3}, Dimensions: 3, ContentHash: HashContent("abc")}))
	got, ok, err := g.EmbeddingFor(id, "m")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2, 3}, got.Vector)
}
