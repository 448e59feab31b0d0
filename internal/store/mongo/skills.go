// Package mongo implements the durable skill and knowledge repositories
// over MongoDB, the production backend the in-memory stores stand in
// for in tests.
//
// Grounded on goa-ai's features/memory/mongo and features/session/mongo
// (Options struct around an injected *mongo.Client, default collection
// names, per-operation timeout).
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
	"github.com/strataga/demiarch-sub000/internal/skill"
)

const (
	defaultSkillCollection = "skills"
	defaultLinkCollection  = "skill_entity_links"
	defaultTimeout         = 5 * time.Second
)

// Options configures the Mongo-backed stores.
type Options struct {
	Client   *mongodriver.Client
	Database string
	Timeout  time.Duration
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return defaultTimeout
	}
	return o.Timeout
}

// SkillStore implements skill.Store over two collections: skills and
// skill_entity_links.
type SkillStore struct {
	skills  *mongodriver.Collection
	links   *mongodriver.Collection
	timeout time.Duration
}

// NewSkillStore builds a SkillStore from opts.
func NewSkillStore(opts Options) (*SkillStore, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	db := opts.Client.Database(opts.Database)
	return &SkillStore{
		skills:  db.Collection(defaultSkillCollection),
		links:   db.Collection(defaultLinkCollection),
		timeout: opts.timeout(),
	}, nil
}

// EnsureIndexes creates the text index backing SearchText and the link
// lookup indexes. Safe to call repeatedly.
func (s *SkillStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.skills.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{
			{Key: "name", Value: "text"},
			{Key: "description", Value: "text"},
			{Key: "tags", Value: "text"},
			{Key: "content", Value: "text"},
		},
	})
	if err != nil {
		return demerr.Wrap(demerr.Storage, "mongo.SkillStore.EnsureIndexes", "create text index", err)
	}
	_, err = s.links.Indexes().CreateMany(ctx, []mongodriver.IndexModel{
		{Keys: bson.D{{Key: "skill_id", Value: 1}, {Key: "entity_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "entity_id", Value: 1}}},
	})
	if err != nil {
		return demerr.Wrap(demerr.Storage, "mongo.SkillStore.EnsureIndexes", "create link indexes", err)
	}
	return nil
}

func (s *SkillStore) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

type skillDoc struct {
	ID             string    `bson:"_id"`
	Name           string    `bson:"name"`
	Description    string    `bson:"description"`
	Category       string    `bson:"category"`
	Tags           []string  `bson:"tags"`
	Content        string    `bson:"content"`
	TimesUsed      int64     `bson:"times_used"`
	SuccessCount   int64     `bson:"success_count"`
	FailureCount   int64     `bson:"failure_count"`
	ConfidenceTier int       `bson:"confidence_tier"`
	CreatedAt      time.Time `bson:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at"`
}

func toSkillDoc(sk skill.Skill) skillDoc {
	return skillDoc{
		ID:             sk.ID.String(),
		Name:           sk.Name,
		Description:    sk.Description,
		Category:       sk.Category,
		Tags:           sk.Tags,
		Content:        sk.Content,
		TimesUsed:      sk.TimesUsed,
		SuccessCount:   sk.SuccessCount,
		FailureCount:   sk.FailureCount,
		ConfidenceTier: sk.ConfidenceTier,
		CreatedAt:      sk.CreatedAt,
		UpdatedAt:      sk.UpdatedAt,
	}
}

func (d skillDoc) toSkill() skill.Skill {
	id, _ := uuid.Parse(d.ID)
	return skill.Skill{
		ID:             id,
		Name:           d.Name,
		Description:    d.Description,
		Category:       d.Category,
		Tags:           d.Tags,
		Content:        d.Content,
		TimesUsed:      d.TimesUsed,
		SuccessCount:   d.SuccessCount,
		FailureCount:   d.FailureCount,
		ConfidenceTier: d.ConfidenceTier,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

// Save implements skill.Store.
func (s *SkillStore) Save(sk skill.Skill) error {
	ctx, cancel := s.opCtx()
	defer cancel()
	doc := toSkillDoc(sk)
	_, err := s.skills.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return demerr.Wrap(demerr.Storage, "mongo.SkillStore.Save", "upsert skill", err)
	}
	return nil
}

// ByID implements skill.Store.
func (s *SkillStore) ByID(id uuid.UUID) (skill.Skill, bool, error) {
	ctx, cancel := s.opCtx()
	defer cancel()
	var doc skillDoc
	err := s.skills.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return skill.Skill{}, false, nil
	}
	if err != nil {
		return skill.Skill{}, false, demerr.Wrap(demerr.Storage, "mongo.SkillStore.ByID", "find skill", err)
	}
	return doc.toSkill(), true, nil
}

// All implements skill.Store.
func (s *SkillStore) All() ([]skill.Skill, error) {
	ctx, cancel := s.opCtx()
	defer cancel()
	cur, err := s.skills.Find(ctx, bson.M{})
	if err != nil {
		return nil, demerr.Wrap(demerr.Storage, "mongo.SkillStore.All", "find skills", err)
	}
	return decodeSkills(ctx, cur)
}

// SearchText implements skill.Store via the collection's text index.
func (s *SkillStore) SearchText(query string) ([]skill.Skill, error) {
	if query == "" {
		return nil, nil
	}
	ctx, cancel := s.opCtx()
	defer cancel()
	cur, err := s.skills.Find(ctx, bson.M{"$text": bson.M{"$search": query}})
	if err != nil {
		return nil, demerr.Wrap(demerr.Storage, "mongo.SkillStore.SearchText", "text search", err)
	}
	return decodeSkills(ctx, cur)
}

func decodeSkills(ctx context.Context, cur *mongodriver.Cursor) ([]skill.Skill, error) {
	defer cur.Close(ctx)
	var out []skill.Skill
	for cur.Next(ctx) {
		var doc skillDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, demerr.Wrap(demerr.Storage, "mongo.SkillStore", "decode skill", err)
		}
		out = append(out, doc.toSkill())
	}
	return out, cur.Err()
}

// RecordUse implements skill.Store.
func (s *SkillStore) RecordUse(id uuid.UUID, success bool) error {
	ctx, cancel := s.opCtx()
	defer cancel()
	inc := bson.M{"times_used": 1, "failure_count": 1}
	if success {
		inc = bson.M{"times_used": 1, "success_count": 1}
	}
	_, err := s.skills.UpdateOne(ctx, bson.M{"_id": id.String()},
		bson.M{"$inc": inc, "$set": bson.M{"updated_at": time.Now()}})
	if err != nil {
		return demerr.Wrap(demerr.Storage, "mongo.SkillStore.RecordUse", "update usage counters", err)
	}
	return nil
}

type linkDoc struct {
	SkillID   string    `bson:"skill_id"`
	EntityID  string    `bson:"entity_id"`
	Relevance float64   `bson:"relevance"`
	CreatedAt time.Time `bson:"created_at"`
}

// LinkEntity implements skill.Store.
func (s *SkillStore) LinkEntity(link skill.EntityLink) error {
	ctx, cancel := s.opCtx()
	defer cancel()
	doc := linkDoc{SkillID: link.SkillID.String(), EntityID: link.EntityID.String(), Relevance: link.Relevance, CreatedAt: link.CreatedAt}
	_, err := s.links.ReplaceOne(ctx,
		bson.M{"skill_id": doc.SkillID, "entity_id": doc.EntityID},
		doc, options.Replace().SetUpsert(true))
	if err != nil {
		return demerr.Wrap(demerr.Storage, "mongo.SkillStore.LinkEntity", "upsert link", err)
	}
	return nil
}

// EntityLinksOf implements skill.Store.
func (s *SkillStore) EntityLinksOf(skillID uuid.UUID) ([]skill.EntityLink, error) {
	ctx, cancel := s.opCtx()
	defer cancel()
	cur, err := s.links.Find(ctx, bson.M{"skill_id": skillID.String()})
	if err != nil {
		return nil, demerr.Wrap(demerr.Storage, "mongo.SkillStore.EntityLinksOf", "find links", err)
	}
	defer cur.Close(ctx)
	var out []skill.EntityLink
	for cur.Next(ctx) {
		var doc linkDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, demerr.Wrap(demerr.Storage, "mongo.SkillStore.EntityLinksOf", "decode link", err)
		}
		sid, _ := uuid.Parse(doc.SkillID)
		eid, _ := uuid.Parse(doc.EntityID)
		out = append(out, skill.EntityLink{SkillID: sid, EntityID: eid, Relevance: doc.Relevance, CreatedAt: doc.CreatedAt})
	}
	return out, cur.Err()
}

// SkillsLinkedTo implements skill.Store.
func (s *SkillStore) SkillsLinkedTo(entityID uuid.UUID) ([]uuid.UUID, error) {
	ctx, cancel := s.opCtx()
	defer cancel()
	cur, err := s.links.Find(ctx, bson.M{"entity_id": entityID.String()})
	if err != nil {
		return nil, demerr.Wrap(demerr.Storage, "mongo.SkillStore.SkillsLinkedTo", "find links", err)
	}
	defer cur.Close(ctx)
	var out []uuid.UUID
	for cur.Next(ctx) {
		var doc linkDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, demerr.Wrap(demerr.Storage, "mongo.SkillStore.SkillsLinkedTo", "decode link", err)
		}
		if id, err := uuid.Parse(doc.SkillID); err == nil {
			out = append(out, id)
		}
	}
	return out, cur.Err()
}
