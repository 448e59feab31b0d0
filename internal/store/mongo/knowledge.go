package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/strataga/demiarch-sub000/internal/demerr"
	"github.com/strataga/demiarch-sub000/internal/knowledge"
)

const (
	defaultEntityCollection       = "entities"
	defaultRelationshipCollection = "relationships"
	defaultEmbeddingCollection    = "embeddings"
)

// KnowledgeStore implements knowledge.Store over the entities,
// relationships, and embeddings collections.
type KnowledgeStore struct {
	entities      *mongodriver.Collection
	relationships *mongodriver.Collection
	embeddings    *mongodriver.Collection
	timeout       time.Duration
}

// NewKnowledgeStore builds a KnowledgeStore from opts.
func NewKnowledgeStore(opts Options) (*KnowledgeStore, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	db := opts.Client.Database(opts.Database)
	return &KnowledgeStore{
		entities:      db.Collection(defaultEntityCollection),
		relationships: db.Collection(defaultRelationshipCollection),
		embeddings:    db.Collection(defaultEmbeddingCollection),
		timeout:       opts.timeout(),
	}, nil
}

// EnsureIndexes creates the canonical-name uniqueness index, the text
// index backing SearchEntities, and the edge/embedding lookup indexes.
// Safe to call repeatedly.
func (s *KnowledgeStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.entities.Indexes().CreateMany(ctx, []mongodriver.IndexModel{
		{Keys: bson.D{{Key: "canonical_name", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{
			{Key: "name", Value: "text"},
			{Key: "aliases", Value: "text"},
			{Key: "description", Value: "text"},
		}},
	})
	if err != nil {
		return demerr.Wrap(demerr.Storage, "mongo.KnowledgeStore.EnsureIndexes", "create entity indexes", err)
	}
	_, err = s.relationships.Indexes().CreateMany(ctx, []mongodriver.IndexModel{
		{Keys: bson.D{{Key: "source_entity_id", Value: 1}, {Key: "target_entity_id", Value: 1}, {Key: "kind", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "source_entity_id", Value: 1}}},
		{Keys: bson.D{{Key: "target_entity_id", Value: 1}}},
	})
	if err != nil {
		return demerr.Wrap(demerr.Storage, "mongo.KnowledgeStore.EnsureIndexes", "create relationship indexes", err)
	}
	_, err = s.embeddings.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "owner_id", Value: 1}, {Key: "model", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return demerr.Wrap(demerr.Storage, "mongo.KnowledgeStore.EnsureIndexes", "create embedding index", err)
	}
	return nil
}

func (s *KnowledgeStore) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

type entityDoc struct {
	ID             string    `bson:"_id"`
	Kind           string    `bson:"kind"`
	Name           string    `bson:"name"`
	CanonicalName  string    `bson:"canonical_name"`
	Description    string    `bson:"description"`
	Aliases        []string  `bson:"aliases"`
	SourceSkillIDs []string  `bson:"source_skill_ids"`
	Confidence     float64   `bson:"confidence"`
	CreatedAt      time.Time `bson:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at"`
}

func toEntityDoc(e knowledge.Entity) entityDoc {
	skillIDs := make([]string, len(e.SourceSkillIDs))
	for i, id := range e.SourceSkillIDs {
		skillIDs[i] = id.String()
	}
	return entityDoc{
		ID:             e.ID.String(),
		Kind:           string(e.Kind),
		Name:           e.Name,
		CanonicalName:  e.CanonicalName,
		Description:    e.Description,
		Aliases:        e.Aliases,
		SourceSkillIDs: skillIDs,
		Confidence:     e.Confidence,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

func (d entityDoc) toEntity() knowledge.Entity {
	id, _ := uuid.Parse(d.ID)
	e := knowledge.Entity{
		ID:            id,
		Kind:          knowledge.EntityKind(d.Kind),
		Name:          d.Name,
		CanonicalName: d.CanonicalName,
		Description:   d.Description,
		Aliases:       d.Aliases,
		Confidence:    d.Confidence,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
	for _, s := range d.SourceSkillIDs {
		if parsed, err := uuid.Parse(s); err == nil {
			e.SourceSkillIDs = append(e.SourceSkillIDs, parsed)
		}
	}
	return e
}

// SaveEntity implements knowledge.Store.
func (s *KnowledgeStore) SaveEntity(e knowledge.Entity) error {
	ctx, cancel := s.opCtx()
	defer cancel()
	doc := toEntityDoc(e)
	_, err := s.entities.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return demerr.Wrap(demerr.Storage, "mongo.KnowledgeStore.SaveEntity", "upsert entity", err)
	}
	return nil
}

// EntityByID implements knowledge.Store.
func (s *KnowledgeStore) EntityByID(id uuid.UUID) (knowledge.Entity, bool, error) {
	return s.findEntity(bson.M{"_id": id.String()})
}

// EntityByCanonical implements knowledge.Store.
func (s *KnowledgeStore) EntityByCanonical(canonical string) (knowledge.Entity, bool, error) {
	return s.findEntity(bson.M{"canonical_name": canonical})
}

func (s *KnowledgeStore) findEntity(filter bson.M) (knowledge.Entity, bool, error) {
	ctx, cancel := s.opCtx()
	defer cancel()
	var doc entityDoc
	err := s.entities.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return knowledge.Entity{}, false, nil
	}
	if err != nil {
		return knowledge.Entity{}, false, demerr.Wrap(demerr.Storage, "mongo.KnowledgeStore.findEntity", "find entity", err)
	}
	return doc.toEntity(), true, nil
}

// Entities implements knowledge.Store.
func (s *KnowledgeStore) Entities() ([]knowledge.Entity, error) {
	ctx, cancel := s.opCtx()
	defer cancel()
	cur, err := s.entities.Find(ctx, bson.M{})
	if err != nil {
		return nil, demerr.Wrap(demerr.Storage, "mongo.KnowledgeStore.Entities", "find entities", err)
	}
	return decodeEntities(ctx, cur)
}

// SearchEntities implements knowledge.Store via the collection's text
// index.
func (s *KnowledgeStore) SearchEntities(query string) ([]knowledge.Entity, error) {
	if query == "" {
		return nil, nil
	}
	ctx, cancel := s.opCtx()
	defer cancel()
	cur, err := s.entities.Find(ctx, bson.M{"$text": bson.M{"$search": query}})
	if err != nil {
		return nil, demerr.Wrap(demerr.Storage, "mongo.KnowledgeStore.SearchEntities", "text search", err)
	}
	return decodeEntities(ctx, cur)
}

func decodeEntities(ctx context.Context, cur *mongodriver.Cursor) ([]knowledge.Entity, error) {
	defer cur.Close(ctx)
	var out []knowledge.Entity
	for cur.Next(ctx) {
		var doc entityDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, demerr.Wrap(demerr.Storage, "mongo.KnowledgeStore", "decode entity", err)
		}
		out = append(out, doc.toEntity())
	}
	return out, cur.Err()
}

type relationshipDoc struct {
	ID             string    `bson:"_id"`
	SourceEntityID string    `bson:"source_entity_id"`
	TargetEntityID string    `bson:"target_entity_id"`
	Kind           string    `bson:"kind"`
	Weight         float64   `bson:"weight"`
	Evidence       []string  `bson:"evidence"`
	CreatedAt      time.Time `bson:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at"`
}

func (d relationshipDoc) toRelationship() knowledge.Relationship {
	id, _ := uuid.Parse(d.ID)
	src, _ := uuid.Parse(d.SourceEntityID)
	dst, _ := uuid.Parse(d.TargetEntityID)
	return knowledge.Relationship{
		ID:             id,
		SourceEntityID: src,
		TargetEntityID: dst,
		Kind:           knowledge.RelationshipKind(d.Kind),
		Weight:         d.Weight,
		Evidence:       d.Evidence,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

// SaveRelationship implements knowledge.Store.
func (s *KnowledgeStore) SaveRelationship(r knowledge.Relationship) error {
	ctx, cancel := s.opCtx()
	defer cancel()
	doc := relationshipDoc{
		ID:             r.ID.String(),
		SourceEntityID: r.SourceEntityID.String(),
		TargetEntityID: r.TargetEntityID.String(),
		Kind:           string(r.Kind),
		Weight:         r.Weight,
		Evidence:       r.Evidence,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	_, err := s.relationships.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return demerr.Wrap(demerr.Storage, "mongo.KnowledgeStore.SaveRelationship", "upsert relationship", err)
	}
	return nil
}

// RelationshipByEndpoints implements knowledge.Store.
func (s *KnowledgeStore) RelationshipByEndpoints(source, target uuid.UUID, kind knowledge.RelationshipKind) (knowledge.Relationship, bool, error) {
	ctx, cancel := s.opCtx()
	defer cancel()
	var doc relationshipDoc
	err := s.relationships.FindOne(ctx, bson.M{
		"source_entity_id": source.String(),
		"target_entity_id": target.String(),
		"kind":             string(kind),
	}).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return knowledge.Relationship{}, false, nil
	}
	if err != nil {
		return knowledge.Relationship{}, false, demerr.Wrap(demerr.Storage, "mongo.KnowledgeStore.RelationshipByEndpoints", "find relationship", err)
	}
	return doc.toRelationship(), true, nil
}

// RelationshipsOf implements knowledge.Store, in insertion order.
func (s *KnowledgeStore) RelationshipsOf(entityID uuid.UUID) ([]knowledge.Relationship, error) {
	ctx, cancel := s.opCtx()
	defer cancel()
	id := entityID.String()
	cur, err := s.relationships.Find(ctx,
		bson.M{"$or": bson.A{bson.M{"source_entity_id": id}, bson.M{"target_entity_id": id}}},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, demerr.Wrap(demerr.Storage, "mongo.KnowledgeStore.RelationshipsOf", "find relationships", err)
	}
	defer cur.Close(ctx)
	var out []knowledge.Relationship
	for cur.Next(ctx) {
		var doc relationshipDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, demerr.Wrap(demerr.Storage, "mongo.KnowledgeStore.RelationshipsOf", "decode relationship", err)
		}
		out = append(out, doc.toRelationship())
	}
	return out, cur.Err()
}

type embeddingDoc struct {
	OwnerID     string    `bson:"owner_id"`
	Model       string    `bson:"model"`
	Vector      []byte    `bson:"vector"`
	Dimensions  int       `bson:"dimensions"`
	ContentHash []byte    `bson:"content_hash"`
	CreatedAt   time.Time `bson:"created_at"`
}

// SaveEmbedding implements knowledge.Store.
func (s *KnowledgeStore) SaveEmbedding(e knowledge.Embedding) error {
	ctx, cancel := s.opCtx()
	defer cancel()
	doc := embeddingDoc{
		OwnerID:     e.OwnerID.String(),
		Model:       e.Model,
		Vector:      encodeVector(e.Vector),
		Dimensions:  e.Dimensions,
		ContentHash: e.ContentHash,
		CreatedAt:   e.CreatedAt,
	}
	_, err := s.embeddings.ReplaceOne(ctx,
		bson.M{"owner_id": doc.OwnerID, "model": doc.Model},
		doc, options.Replace().SetUpsert(true))
	if err != nil {
		return demerr.Wrap(demerr.Storage, "mongo.KnowledgeStore.SaveEmbedding", "upsert embedding", err)
	}
	return nil
}

// EmbeddingFor implements knowledge.Store.
func (s *KnowledgeStore) EmbeddingFor(ownerID uuid.UUID, model string) (knowledge.Embedding, bool, error) {
	ctx, cancel := s.opCtx()
	defer cancel()
	var doc embeddingDoc
	err := s.embeddings.FindOne(ctx, bson.M{"owner_id": ownerID.String(), "model": model}).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return knowledge.Embedding{}, false, nil
	}
	if err != nil {
		return knowledge.Embedding{}, false, demerr.Wrap(demerr.Storage, "mongo.KnowledgeStore.EmbeddingFor", "find embedding", err)
	}
	owner, _ := uuid.Parse(doc.OwnerID)
	return knowledge.Embedding{
		OwnerID:     owner,
		Model:       doc.Model,
		Vector:      decodeVector(doc.Vector),
		Dimensions:  doc.Dimensions,
		ContentHash: doc.ContentHash,
		CreatedAt:   doc.CreatedAt,
	}, true, nil
}
