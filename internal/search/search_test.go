package search

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strataga/demiarch-sub000/internal/knowledge"
	"github.com/strataga/demiarch-sub000/internal/skill"
)

// TestCosineAlgebra pins down the cosine algebra.
func TestCosineAlgebra(t *testing.T) {
	props := gopter.NewProperties(nil)
	nonZero := gen.SliceOfN(8, gen.Float32Range(-10, 10)).SuchThat(func(v []float32) bool {
		for _, x := range v {
			if x != 0 {
				return true
			}
		}
		return false
	})

	props.Property("cosine(x,x)=1 when |x|>0", prop.ForAll(
		func(v []float32) bool {
			return math.Abs(Cosine(v, v)-1) < 1e-5
		}, nonZero))

	props.Property("cosine(x,-x)=-1", prop.ForAll(
		func(v []float32) bool {
			neg := make([]float32, len(v))
			for i, x := range v {
				neg[i] = -x
			}
			return math.Abs(Cosine(v, neg)+1) < 1e-5
		}, nonZero))

	props.Property("cosine against a zero vector is 0", prop.ForAll(
		func(v []float32) bool {
			zero := make([]float32, len(v))
			return Cosine(v, zero) == 0
		}, nonZero))

	props.TestingRun(t)
}

func TestCosineUnequalLengthsIsZero(t *testing.T) {
	assert.Equal(t, 0.0, Cosine([]float32{1, 2}, []float32{1, 2, 3}))
	assert.Equal(t, 0.0, Cosine(nil, nil))
}

func TestUsageScoreDefaults(t *testing.T) {
	// Never used: flat 0.5.
	assert.Equal(t, 0.5, usageScore(skill.Skill{}))

	// Heavily used and always successful: approaches but never exceeds 1.
	heavy := skill.Skill{TimesUsed: 1000, SuccessCount: 1000}
	s := usageScore(heavy)
	assert.Greater(t, s, 0.5)
	assert.LessOrEqual(t, s, 1.0)
}

type fixture struct {
	skills *skill.MemoryStore
	graph  *knowledge.Graph
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	skills := skill.NewMemoryStore()
	graph := knowledge.NewGraph(knowledge.NewMemoryStore(), zerolog.Nop())
	return &fixture{
		skills: skills,
		graph:  graph,
		engine: NewEngine(skills, graph, DefaultConfig(), zerolog.Nop()),
	}
}

func (f *fixture) addSkill(t *testing.T, name, content string) skill.Skill {
	t.Helper()
	sk := skill.Skill{ID: uuid.New(), Name: name, Content: content, ConfidenceTier: 2, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, f.skills.Save(sk))
	return sk
}

func TestSearchTextChannel(t *testing.T) {
	f := newFixture(t)
	hit := f.addSkill(t, "connection pooling", "reuse database connections")
	f.addSkill(t, "retry policy", "exponential backoff")

	results, err := f.engine.Search(Query{Text: "pooling", Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, hit.ID, results[0].Skill.ID)
	assert.Equal(t, 0.8, results[0].Components.Text)
	assert.Equal(t, -1, results[0].GraphDistance)
}

func TestSearchEmbeddingChannel(t *testing.T) {
	f := newFixture(t)
	near := f.addSkill(t, "alpha", "")
	far := f.addSkill(t, "beta", "")

	require.NoError(t, f.graph.SetEmbedding(knowledge.Embedding{OwnerID: near.ID, Vector: []float32{1, 0, 0}, Dimensions: 3}))
	require.NoError(t, f.graph.SetEmbedding(knowledge.Embedding{OwnerID: far.ID, Vector: []float32{0, 1, 0}, Dimensions: 3}))

	results, err := f.engine.Search(Query{Embedding: []float32{1, 0, 0}, Limit: 10})
	require.NoError(t, err)
	// The orthogonal vector scores 0 < SemanticFloor and never becomes a
	// candidate.
	require.Len(t, results, 1)
	assert.Equal(t, near.ID, results[0].Skill.ID)
	assert.InDelta(t, 1.0, results[0].Components.Embedding, 1e-6)
}

func TestSearchGraphChannelDecaysWithHops(t *testing.T) {
	f := newFixture(t)

	// Entity chain: matched ← uses ← one-hop. Skill linked to the one-hop
	// entity only, so its graph signal arrives decayed.
	matched, err := f.graph.UpsertEntity(knowledge.Entity{Kind: knowledge.Library, Name: "postgres"})
	require.NoError(t, err)
	oneHop, err := f.graph.UpsertEntity(knowledge.Entity{Kind: knowledge.Technique, Name: "sharding"})
	require.NoError(t, err)
	_, err = f.graph.UpsertRelationship(knowledge.Relationship{SourceEntityID: matched.ID, TargetEntityID: oneHop.ID, Kind: knowledge.Uses, Weight: 1})
	require.NoError(t, err)

	direct := f.addSkill(t, "postgres tuning", "")
	indirect := f.addSkill(t, "postgres sharding plan", "")
	require.NoError(t, f.skills.LinkEntity(skill.EntityLink{SkillID: direct.ID, EntityID: matched.ID, Relevance: 0.8}))
	require.NoError(t, f.skills.LinkEntity(skill.EntityLink{SkillID: indirect.ID, EntityID: oneHop.ID, Relevance: 0.8}))

	results, err := f.engine.Search(Query{Text: "postgres", Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 2)

	byID := map[uuid.UUID]Result{}
	for _, r := range results {
		byID[r.Skill.ID] = r
	}
	assert.Greater(t, byID[direct.ID].Components.Graph, byID[indirect.ID].Components.Graph)
	assert.Equal(t, 0, byID[direct.ID].GraphDistance)
	assert.Equal(t, 1, byID[indirect.ID].GraphDistance)
	// The hop-decay penalty orders direct above indirect overall.
	assert.Greater(t, byID[direct.ID].Score, byID[indirect.ID].Score)
}

func TestSearchMinScoreAndLimit(t *testing.T) {
	f := newFixture(t)
	f.addSkill(t, "caching layer", "cache invalidation")
	f.addSkill(t, "cache warming", "preload cache entries")

	all, err := f.engine.Search(Query{Text: "cache", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	none, err := f.engine.Search(Query{Text: "cache", Limit: 10, MinScore: 0.99})
	require.NoError(t, err)
	assert.Empty(t, none)
}
