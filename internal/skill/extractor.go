package skill

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/strataga/demiarch-sub000/internal/agent"
	"github.com/strataga/demiarch-sub000/internal/completion"
	"github.com/strataga/demiarch-sub000/internal/demerr"
	"github.com/strataga/demiarch-sub000/internal/knowledge"
)

// defaultLinkRelevance is the relevance assigned to every skill→entity
// link created during extraction.
const defaultLinkRelevance = 0.8

// extractionSchema validates the model's parsed extraction JSON before it
// reaches the graph, hardening the lenient-parse step: a payload that
// parses as JSON but is shaped wrongly is rejected here instead of
// producing half-written graph rows.
const extractionSchema = `{
  "type": "object",
  "required": ["entities", "relationships"],
  "properties": {
    "entities": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "kind"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "kind": {"type": "string"},
          "description": {"type": "string"},
          "aliases": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "relationships": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["source_name", "target_name", "kind"],
        "properties": {
          "source_name": {"type": "string", "minLength": 1},
          "target_name": {"type": "string", "minLength": 1},
          "kind": {"type": "string"},
          "weight": {"type": "number", "minimum": 0, "maximum": 1},
          "evidence": {"type": "array", "items": {"type": "string"}}
        }
      }
    }
  }
}`

// Extraction is the parsed, validated shape of one cognify response.
type Extraction struct {
	Entities []struct {
		Name        string   `json:"name"`
		Kind        string   `json:"kind"`
		Description string   `json:"description"`
		Aliases     []string `json:"aliases"`
	} `json:"entities"`
	Relationships []struct {
		SourceName string   `json:"source_name"`
		TargetName string   `json:"target_name"`
		Kind       string   `json:"kind"`
		Weight     float64  `json:"weight"`
		Evidence   []string `json:"evidence"`
	} `json:"relationships"`
}

// ExtractorConfig configures an Extractor at construction.
type ExtractorConfig struct {
	// Model overrides the completion client's default model for extraction
	// calls when non-empty.
	Model string
	// LinkRelevance overrides the default skill→entity link relevance.
	LinkRelevance float64
}

// DefaultExtractorConfig returns the default configuration.
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{LinkRelevance: defaultLinkRelevance}
}

// Extractor mines entities and relationships from a successful agent
// outcome and merges them into the knowledge graph.
type Extractor struct {
	client completion.Client
	graph  *knowledge.Graph
	skills Store
	cfg    ExtractorConfig
	schema *jsonschema.Schema
	log    zerolog.Logger
	now    func() time.Time
}

// NewExtractor constructs an Extractor. It panics only if the embedded
// extraction schema fails to compile, which is a build-time defect.
func NewExtractor(client completion.Client, graph *knowledge.Graph, skills Store, cfg ExtractorConfig, log zerolog.Logger) *Extractor {
	if cfg.LinkRelevance <= 0 {
		cfg.LinkRelevance = defaultLinkRelevance
	}
	compiler := jsonschema.NewCompiler()
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(extractionSchema))
	if err != nil {
		panic("skill: embedded extraction schema is not valid JSON: " + err.Error())
	}
	if err := compiler.AddResource("extraction.json", doc); err != nil {
		panic("skill: add extraction schema resource: " + err.Error())
	}
	sch, err := compiler.Compile("extraction.json")
	if err != nil {
		panic("skill: compile extraction schema: " + err.Error())
	}
	return &Extractor{client: client, graph: graph, skills: skills, cfg: cfg, schema: sch, log: log, now: time.Now}
}

// Outcome is the successful agent result extraction operates on.
type Outcome struct {
	Name        string
	Description string
	Artifacts   []agent.Artifact
}

// CognifyResult reports what one extraction produced.
type CognifyResult struct {
	SkillID           uuid.UUID
	EntityIDs         []uuid.UUID
	RelationshipCount int
}

// Cognify runs the extraction pipeline: prompt the completion
// client, parse the response leniently, validate the shape, deduplicate
// entities into the graph, remap and merge relationships, persist the
// skill, and link it to every touched entity.
func (x *Extractor) Cognify(ctx context.Context, outcome Outcome) (CognifyResult, error) {
	resp, err := x.client.Complete(ctx, x.prompt(outcome), x.cfg.Model)
	if err != nil {
		return CognifyResult{}, err
	}

	extraction, err := x.parse(resp.Text)
	if err != nil {
		return CognifyResult{}, err
	}

	now := x.now()
	sk := Skill{
		ID:             uuid.New(),
		Name:           outcome.Name,
		Description:    outcome.Description,
		Content:        joinArtifacts(outcome.Artifacts),
		ConfidenceTier: 1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := x.skills.Save(sk); err != nil {
		return CognifyResult{}, err
	}

	// Dedup entities into the graph, remembering post-merge ids by the
	// names the model used so relationship endpoints can be remapped.
	byName := make(map[string]uuid.UUID, len(extraction.Entities))
	var entityIDs []uuid.UUID
	for _, e := range extraction.Entities {
		merged, err := x.graph.UpsertEntity(knowledge.Entity{
			Kind:           knowledge.ParseEntityKind(e.Kind),
			Name:           e.Name,
			Description:    e.Description,
			Aliases:        e.Aliases,
			SourceSkillIDs: []uuid.UUID{sk.ID},
			Confidence:     0.5,
		})
		if err != nil {
			return CognifyResult{}, err
		}
		byName[knowledge.Canonicalize(e.Name)] = merged.ID
		entityIDs = append(entityIDs, merged.ID)
	}

	relCount := 0
	for _, r := range extraction.Relationships {
		src, okSrc := byName[knowledge.Canonicalize(r.SourceName)]
		dst, okDst := byName[knowledge.Canonicalize(r.TargetName)]
		if !okSrc || !okDst {
			x.log.Warn().Str("source", r.SourceName).Str("target", r.TargetName).Msg("relationship references unextracted entity, skipping")
			continue
		}
		weight := r.Weight
		if weight == 0 {
			weight = 0.5
		}
		if _, err := x.graph.UpsertRelationship(knowledge.Relationship{
			SourceEntityID: src,
			TargetEntityID: dst,
			Kind:           knowledge.ParseRelationshipKind(r.Kind),
			Weight:         weight,
			Evidence:       r.Evidence,
		}); err != nil {
			return CognifyResult{}, err
		}
		relCount++
	}

	for _, id := range entityIDs {
		if err := x.skills.LinkEntity(EntityLink{SkillID: sk.ID, EntityID: id, Relevance: x.cfg.LinkRelevance, CreatedAt: now}); err != nil {
			return CognifyResult{}, err
		}
	}

	x.log.Info().Str("skill", sk.Name).Int("entities", len(entityIDs)).Int("relationships", relCount).Msg("cognify complete")
	return CognifyResult{SkillID: sk.ID, EntityIDs: entityIDs, RelationshipCount: relCount}, nil
}

func (x *Extractor) prompt(outcome Outcome) []completion.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n%s\n\nArtifacts:\n", outcome.Name, outcome.Description)
	for _, a := range outcome.Artifacts {
		fmt.Fprintf(&b, "--- %s (%s) ---\n%s\n", a.Name, a.Kind, a.Content)
	}
	return []completion.Message{
		{Role: completion.RoleSystem, Content: "Extract the reusable knowledge from the completed task below. " +
			"Respond with a single JSON object: {\"entities\": [{\"name\", \"kind\", \"description\", \"aliases\"}], " +
			"\"relationships\": [{\"source_name\", \"target_name\", \"kind\", \"weight\", \"evidence\"}]}. " +
			"Entity kinds: concept, technique, library, framework, pattern, language, tool, domain, api, data_structure, algorithm. " +
			"Relationship kinds: uses, used_by, depends_on, dependency_of, similar_to, prerequisite_for, requires, applies_to, part_of, contains, implements, implemented_by, conflicts_with, related_to."},
		{Role: completion.RoleUser, Content: b.String()},
	}
}

// parse implements the lenient-parse step: strip markdown code
// fences, accept the outermost {...}, then validate against the extraction
// schema before decoding into the typed shape.
func (x *Extractor) parse(text string) (Extraction, error) {
	raw := ExtractJSONObject(text)
	if raw == "" {
		return Extraction{}, demerr.New(demerr.InvalidInput, "skill.Cognify", "response contains no JSON object")
	}

	instance, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return Extraction{}, demerr.Wrap(demerr.InvalidInput, "skill.Cognify", "response JSON is malformed", err)
	}
	if err := x.schema.Validate(instance); err != nil {
		return Extraction{}, demerr.Wrap(demerr.InvalidInput, "skill.Cognify", "extraction JSON failed schema validation", err)
	}

	var out Extraction
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return Extraction{}, demerr.Wrap(demerr.InvalidInput, "skill.Cognify", "decode extraction JSON", err)
	}
	return out, nil
}

// ExtractJSONObject strips markdown code fences and returns the outermost
// balanced {...} of text, or "" when none exists.
func ExtractJSONObject(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		if idx := strings.Index(text, "\n"); idx >= 0 {
			text = text[idx+1:]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	start := strings.Index(text, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return text[start : i+1]
				}
			}
		}
	}
	return ""
}

func joinArtifacts(artifacts []agent.Artifact) string {
	var parts []string
	for _, a := range artifacts {
		parts = append(parts, fmt.Sprintf("[%s] %s\n%s", a.Kind, a.Name, a.Content))
	}
	return strings.Join(parts, "\n\n")
}
