package skill

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strataga/demiarch-sub000/internal/agent"
	"github.com/strataga/demiarch-sub000/internal/completion"
	"github.com/strataga/demiarch-sub000/internal/demerr"
	"github.com/strataga/demiarch-sub000/internal/knowledge"
)

// stubClient returns a canned completion response.
type stubClient struct {
	text string
}

func (s *stubClient) Complete(context.Context, []completion.Message, string) (completion.Response, error) {
	return completion.Response{Text: s.text, Model: "stub"}, nil
}

func (s *stubClient) CompleteStreaming(context.Context, []completion.Message, string) (completion.Stream, error) {
	return nil, nil
}

func (s *stubClient) Embed(context.Context, string, string) (completion.Embedding, error) {
	return completion.Embedding{}, nil
}

func (s *stubClient) EmbedBatch(context.Context, []string, string) ([]completion.Embedding, error) {
	return nil, nil
}

func TestExtractJSONObject(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around", `Here you go: {"a":{"b":2}} hope that helps`, `{"a":{"b":2}}`},
		{"braces in strings", `{"a":"}{"}`, `{"a":"}{"}`},
		{"no object", "nothing here", ""},
		{"unbalanced", `{"a":1`, ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, ExtractJSONObject(c.in))
		})
	}
}

func newTestExtractor(text string) (*Extractor, *MemoryStore, *knowledge.Graph) {
	skills := NewMemoryStore()
	graph := knowledge.NewGraph(knowledge.NewMemoryStore(), zerolog.Nop())
	x := NewExtractor(&stubClient{text: text}, graph, skills, DefaultExtractorConfig(), zerolog.Nop())
	return x, skills, graph
}

func TestCognifyEndToEnd(t *testing.T) {
	response := "```json\n" + `{
		"entities": [
			{"name": "Redis", "kind": "library", "description": "in-memory store", "aliases": ["redis-server"]},
			{"name": "Caching", "kind": "technique"}
		],
		"relationships": [
			{"source_name": "Caching", "target_name": "Redis", "kind": "uses", "weight": 0.9, "evidence": ["cache layer built on redis"]}
		]
	}` + "\n```"

	x, skills, graph := newTestExtractor(response)
	result, err := x.Cognify(context.Background(), Outcome{
		Name:        "add-cache-layer",
		Description: "added a read-through cache",
		Artifacts:   []agent.Artifact{{Kind: agent.ArtifactCode, Name: "cache.go", Content: "..."}},
	})
	require.NoError(t, err)
	assert.Len(t, result.EntityIDs, 2)
	assert.Equal(t, 1, result.RelationshipCount)

	// Skill persisted and linked to both entities at the default relevance.
	sk, ok, err := skills.ByID(result.SkillID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "add-cache-layer", sk.Name)

	links, err := skills.EntityLinksOf(result.SkillID)
	require.NoError(t, err)
	require.Len(t, links, 2)
	for _, l := range links {
		assert.Equal(t, 0.8, l.Relevance)
	}

	// Entities landed in the graph with the skill as a source.
	redis, ok, err := graph.Store().EntityByCanonical("redis")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, knowledge.Library, redis.Kind)
	assert.Contains(t, redis.SourceSkillIDs, result.SkillID)

	// The relationship endpoint remap produced a real edge.
	caching, _, err := graph.Store().EntityByCanonical("caching")
	require.NoError(t, err)
	edge, ok, err := graph.Store().RelationshipByEndpoints(caching.ID, redis.ID, knowledge.Uses)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0.9, edge.Weight)
}

func TestCognifyMergesIntoExistingEntities(t *testing.T) {
	response := `{"entities": [{"name": "redis", "kind": "library"}], "relationships": []}`
	x, _, graph := newTestExtractor(response)

	existing, err := graph.UpsertEntity(knowledge.Entity{Kind: knowledge.Library, Name: "Redis", Confidence: 0.5})
	require.NoError(t, err)

	result, err := x.Cognify(context.Background(), Outcome{Name: "reuse-cache"})
	require.NoError(t, err)
	require.Len(t, result.EntityIDs, 1)
	assert.Equal(t, existing.ID, result.EntityIDs[0])

	merged, _, err := graph.Store().EntityByID(existing.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, merged.Confidence, 1e-9)
}

func TestCognifyRejectsMalformedShapes(t *testing.T) {
	cases := []struct {
		name string
		text string
	}{
		{"no json", "sorry, I cannot help with that"},
		{"missing required keys", `{"entities": []}`},
		{"wrong types", `{"entities": "none", "relationships": []}`},
		{"entity missing name", `{"entities": [{"kind": "library"}], "relationships": []}`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			x, _, _ := newTestExtractor(c.text)
			_, err := x.Cognify(context.Background(), Outcome{Name: "n"})
			assert.True(t, demerr.Of(err, demerr.InvalidInput))
		})
	}
}

func TestCognifySkipsDanglingRelationships(t *testing.T) {
	response := `{
		"entities": [{"name": "A", "kind": "concept"}],
		"relationships": [{"source_name": "A", "target_name": "Ghost", "kind": "uses"}]
	}`
	x, _, _ := newTestExtractor(response)
	result, err := x.Cognify(context.Background(), Outcome{Name: "n"})
	require.NoError(t, err)
	assert.Equal(t, 0, result.RelationshipCount)
}
