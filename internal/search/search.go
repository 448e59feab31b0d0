// Package search implements hybrid skill retrieval: candidate
// gathering across full-text, embedding, and graph-anchor channels, then
// rank combination of text, embedding, graph-proximity, usage, and
// confidence signals with hop-decayed graph distance.
//
// Grounded on goa-ai's features/memory recall path (query embedding +
// store-side match behind a service struct) extended with the graph and
// usage channels that goa-ai's flat memory store does not have.
package search

import (
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/strataga/demiarch-sub000/internal/knowledge"
	"github.com/strataga/demiarch-sub000/internal/skill"
)

// Weights are the rank-combination weights applied to the score components.
type Weights struct {
	Text       float64
	Embedding  float64
	Graph      float64
	Usage      float64
	Confidence float64
}

// Config is the ranking configuration consumed per query.
type Config struct {
	Weights  Weights
	HopDecay float64
	MaxHops  int
	// SemanticTopK bounds the embedding candidate channel.
	SemanticTopK int
	// SemanticFloor is the minimum cosine admitted by the embedding
	// candidate channel.
	SemanticFloor float64
	// EmbedModel selects which stored embeddings to compare against.
	EmbedModel string
}

// DefaultConfig returns the default ranking configuration: weights 0.25/0.30/0.25/0.10/0.10,
// two graph hops, 0.7 hop decay.
func DefaultConfig() Config {
	return Config{
		Weights:       Weights{Text: 0.25, Embedding: 0.30, Graph: 0.25, Usage: 0.10, Confidence: 0.10},
		HopDecay:      0.7,
		MaxHops:       2,
		SemanticTopK:  20,
		SemanticFloor: 0.3,
	}
}

// Query is one hybrid search request.
type Query struct {
	Text            string
	Embedding       []float32
	AnchorEntityIDs []uuid.UUID
	Limit           int
	MinScore        float64
}

// Components itemizes the per-signal scores behind one result.
type Components struct {
	Text       float64
	Embedding  float64
	Graph      float64
	Usage      float64
	Confidence float64
}

// Result is one ranked hit.
type Result struct {
	Skill         skill.Skill
	Score         float64
	Components    Components
	GraphDistance int // min hops from any matched entity; -1 when unreachable
}

// Engine runs hybrid searches over a skill store and a knowledge graph.
type Engine struct {
	skills skill.Store
	graph  *knowledge.Graph
	cfg    Config
	log    zerolog.Logger
}

// NewEngine constructs an Engine.
func NewEngine(skills skill.Store, graph *knowledge.Graph, cfg Config, log zerolog.Logger) *Engine {
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = DefaultConfig().MaxHops
	}
	if cfg.HopDecay <= 0 || cfg.HopDecay > 1 {
		cfg.HopDecay = DefaultConfig().HopDecay
	}
	if cfg.SemanticTopK <= 0 {
		cfg.SemanticTopK = DefaultConfig().SemanticTopK
	}
	if cfg.SemanticFloor <= 0 {
		cfg.SemanticFloor = DefaultConfig().SemanticFloor
	}
	return &Engine{skills: skills, graph: graph, cfg: cfg, log: log}
}

// entityMatch is one matched entity with its channel score and graph
// distance from the nearest directly-matched entity.
type entityMatch struct {
	score    float64
	distance int
}

// Search runs the staged pipeline
func (e *Engine) Search(q Query) ([]Result, error) {
	candidates, textHits, err := e.gatherSkillCandidates(q)
	if err != nil {
		return nil, err
	}
	entityScores, err := e.gatherEntityMatches(q)
	if err != nil {
		return nil, err
	}

	var results []Result
	for id := range candidates {
		sk, ok, err := e.skills.ByID(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		var c Components
		if textHits[id] {
			c.Text = 0.8
		}
		c.Embedding = e.embeddingScore(q, id)
		graphScore, minDist := e.graphScore(id, entityScores)
		c.Graph = graphScore
		c.Usage = usageScore(sk)
		c.Confidence = confidenceScore(sk)

		w := e.cfg.Weights
		score := w.Text*c.Text + w.Embedding*c.Embedding + w.Graph*c.Graph + w.Usage*c.Usage + w.Confidence*c.Confidence
		if minDist > 0 {
			score *= math.Pow(e.cfg.HopDecay, float64(minDist))
		}

		if score < q.MinScore {
			continue
		}
		results = append(results, Result{Skill: sk, Score: score, Components: c, GraphDistance: minDist})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if q.Limit > 0 && len(results) > q.Limit {
		results = results[:q.Limit]
	}
	e.log.Debug().Int("candidates", len(candidates)).Int("entity_matches", len(entityScores)).Int("results", len(results)).Msg("hybrid search complete")
	return results, nil
}

// gatherSkillCandidates implements stage one of the pipeline: the union of full-text
// matches, top-K semantic matches above the cosine floor, and skills
// linked to anchor entities. textHits records which candidates came in
// through the text channel.
func (e *Engine) gatherSkillCandidates(q Query) (map[uuid.UUID]bool, map[uuid.UUID]bool, error) {
	candidates := map[uuid.UUID]bool{}
	textHits := map[uuid.UUID]bool{}

	if q.Text != "" {
		hits, err := e.skills.SearchText(q.Text)
		if err != nil {
			return nil, nil, err
		}
		for _, s := range hits {
			candidates[s.ID] = true
			textHits[s.ID] = true
		}
	}

	if len(q.Embedding) > 0 {
		all, err := e.skills.All()
		if err != nil {
			return nil, nil, err
		}
		type scored struct {
			id  uuid.UUID
			sim float64
		}
		var sims []scored
		for _, s := range all {
			emb, ok, err := e.graph.EmbeddingFor(s.ID, e.cfg.EmbedModel)
			if err != nil {
				return nil, nil, err
			}
			if !ok {
				continue
			}
			sim := Cosine(q.Embedding, emb.Vector)
			if sim >= e.cfg.SemanticFloor {
				sims = append(sims, scored{id: s.ID, sim: sim})
			}
		}
		sort.SliceStable(sims, func(i, j int) bool { return sims[i].sim > sims[j].sim })
		if len(sims) > e.cfg.SemanticTopK {
			sims = sims[:e.cfg.SemanticTopK]
		}
		for _, s := range sims {
			candidates[s.id] = true
		}
	}

	for _, anchor := range q.AnchorEntityIDs {
		ids, err := e.skills.SkillsLinkedTo(anchor)
		if err != nil {
			return nil, nil, err
		}
		for _, id := range ids {
			candidates[id] = true
		}
	}
	return candidates, textHits, nil
}

// gatherEntityMatches implements stage two of the pipeline: text and semantic matches on
// entities, expanded through the graph up to MaxHops with scores decayed
// by hop_decay^distance.
func (e *Engine) gatherEntityMatches(q Query) (map[uuid.UUID]entityMatch, error) {
	direct := map[uuid.UUID]float64{}

	if q.Text != "" {
		hits, err := e.graph.Store().SearchEntities(q.Text)
		if err != nil {
			return nil, err
		}
		for _, ent := range hits {
			if direct[ent.ID] < 0.8 {
				direct[ent.ID] = 0.8
			}
		}
	}
	if len(q.Embedding) > 0 {
		all, err := e.graph.Store().Entities()
		if err != nil {
			return nil, err
		}
		for _, ent := range all {
			emb, ok, err := e.graph.EmbeddingFor(ent.ID, e.cfg.EmbedModel)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			sim := Cosine(q.Embedding, emb.Vector)
			if sim >= e.cfg.SemanticFloor && sim > direct[ent.ID] {
				direct[ent.ID] = sim
			}
		}
	}
	for _, anchor := range q.AnchorEntityIDs {
		if direct[anchor] < 1.0 {
			direct[anchor] = 1.0
		}
	}

	matches := map[uuid.UUID]entityMatch{}
	for id, score := range direct {
		merge(matches, id, score, 0)
		neighbors, err := e.graph.Neighborhood(id, e.cfg.MaxHops, nil)
		if err != nil {
			// A directly-matched entity may have been removed between the
			// match and the expansion; skip expansion rather than failing
			// the whole query.
			continue
		}
		for _, n := range neighbors {
			decayed := score * math.Pow(e.cfg.HopDecay, float64(n.Distance))
			merge(matches, n.Entity.ID, decayed, n.Distance)
		}
	}
	return matches, nil
}

func merge(matches map[uuid.UUID]entityMatch, id uuid.UUID, score float64, distance int) {
	m, ok := matches[id]
	if !ok {
		matches[id] = entityMatch{score: score, distance: distance}
		return
	}
	if score > m.score {
		m.score = score
	}
	if distance < m.distance {
		m.distance = distance
	}
	matches[id] = m
}

// graphScore computes the graph component: the mean of matched-entity
// scores reachable from the skill (through its entity links), capped at
// 1.0, plus the min graph distance used for the global hop-decay penalty.
func (e *Engine) graphScore(skillID uuid.UUID, matches map[uuid.UUID]entityMatch) (float64, int) {
	links, err := e.skills.EntityLinksOf(skillID)
	if err != nil || len(links) == 0 {
		return 0, -1
	}
	sum := 0.0
	count := 0
	minDist := -1
	for _, l := range links {
		m, ok := matches[l.EntityID]
		if !ok {
			continue
		}
		sum += m.score
		count++
		if minDist < 0 || m.distance < minDist {
			minDist = m.distance
		}
	}
	if count == 0 {
		return 0, -1
	}
	mean := sum / float64(count)
	if mean > 1 {
		mean = 1
	}
	return mean, minDist
}

func (e *Engine) embeddingScore(q Query, skillID uuid.UUID) float64 {
	if len(q.Embedding) == 0 {
		return 0
	}
	emb, ok, err := e.graph.EmbeddingFor(skillID, e.cfg.EmbedModel)
	if err != nil || !ok {
		return 0
	}
	return Cosine(q.Embedding, emb.Vector)
}

// usageScore computes clip(0.5*success_rate +
// 0.5*ln(1+times_used)/10, 0..1), defaulting to 0.5 when the skill has
// never been used.
func usageScore(s skill.Skill) float64 {
	if s.TimesUsed == 0 {
		return 0.5
	}
	v := 0.5*s.SuccessRate() + 0.5*math.Log(1+float64(s.TimesUsed))/10
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func confidenceScore(s skill.Skill) float64 {
	tier := s.ConfidenceTier
	if tier < 1 {
		tier = 1
	}
	if tier > 3 {
		tier = 3
	}
	return float64(tier) / 3
}

// Cosine returns the cosine similarity of a and b, defined as 0 when the
// vectors differ in length or either has zero magnitude.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
