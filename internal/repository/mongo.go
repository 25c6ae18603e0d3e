package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/saturnino-fabrica-de-software/facewatch/internal/domain"
)

type identityDocument struct {
	ID             string    `bson:"_id"`
	Embedding      []float64 `bson:"embedding,omitempty"`
	FirstSeen      time.Time `bson:"first_seen"`
	LastSeen       time.Time `bson:"last_seen"`
	DetectionCount int64     `bson:"detection_count"`
}

func (d identityDocument) toDomain() domain.Identity {
	return domain.Identity{
		ID:             d.ID,
		Embedding:      d.Embedding,
		FirstSeen:      d.FirstSeen.UTC(),
		LastSeen:       d.LastSeen.UTC(),
		DetectionCount: d.DetectionCount,
	}
}

// MongoIdentityRepository stores identities as documents keyed by id.
type MongoIdentityRepository struct {
	coll *mongo.Collection
}

var _ IdentityStore = (*MongoIdentityRepository)(nil)

func NewMongoIdentityRepository(coll *mongo.Collection) *MongoIdentityRepository {
	return &MongoIdentityRepository{coll: coll}
}

// EnsureIndexes creates the last_seen index used by Stats.
func (r *MongoIdentityRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "last_seen", Value: -1}},
		Options: options.Index().SetName("idx_identities_last_seen"),
	})
	if err != nil {
		return fmt.Errorf("create identity indexes: %w", err)
	}
	return nil
}

func (r *MongoIdentityRepository) Insert(ctx context.Context, identity *domain.Identity) error {
	doc := identityDocument{
		ID:             identity.ID,
		Embedding:      identity.Embedding,
		FirstSeen:      identity.FirstSeen,
		LastSeen:       identity.LastSeen,
		DetectionCount: identity.DetectionCount,
	}

	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrIdentityExists
		}
		return fmt.Errorf("insert identity: %w", domain.ErrStoreUnavailable.WithError(err))
	}

	return nil
}

func (r *MongoIdentityRepository) UpdateLastSeen(ctx context.Context, id string, lastSeen time.Time) error {
	update := bson.D{
		{Key: "$set", Value: bson.D{{Key: "last_seen", Value: lastSeen}}},
		{Key: "$inc", Value: bson.D{{Key: "detection_count", Value: 1}}},
	}

	result, err := r.coll.UpdateOne(ctx, bson.D{{Key: "_id", Value: id}}, update)
	if err != nil {
		return fmt.Errorf("update identity: %w", domain.ErrStoreUnavailable.WithError(err))
	}

	if result.MatchedCount == 0 {
		return domain.ErrIdentityNotFound
	}

	return nil
}

func (r *MongoIdentityRepository) GetByID(ctx context.Context, id string) (*domain.Identity, error) {
	var doc identityDocument

	err := r.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", domain.ErrStoreUnavailable.WithError(err))
	}

	identity := doc.toDomain()
	return &identity, nil
}

func (r *MongoIdentityRepository) List(ctx context.Context) ([]domain.Identity, error) {
	opts := options.Find().SetSort(bson.D{
		{Key: "first_seen", Value: 1},
		{Key: "_id", Value: 1},
	})

	docs, err := r.find(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}

	identities := make([]domain.Identity, 0, len(docs))
	for _, doc := range docs {
		identities = append(identities, doc.toDomain())
	}
	return identities, nil
}

func (r *MongoIdentityRepository) Delete(ctx context.Context, id string) error {
	result, err := r.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return fmt.Errorf("delete identity: %w", domain.ErrStoreUnavailable.WithError(err))
	}

	if result.DeletedCount == 0 {
		return domain.ErrIdentityNotFound
	}

	return nil
}

func (r *MongoIdentityRepository) Stats(ctx context.Context, recentLimit int) (*domain.IdentityStats, error) {
	cursor, err := r.coll.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "identities", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "detections", Value: bson.D{{Key: "$sum", Value: "$detection_count"}}},
		}}},
	})
	if err != nil {
		return nil, fmt.Errorf("count identities: %w", domain.ErrStoreUnavailable.WithError(err))
	}

	var totals []struct {
		Identities int64 `bson:"identities"`
		Detections int64 `bson:"detections"`
	}
	if err := cursor.All(ctx, &totals); err != nil {
		return nil, fmt.Errorf("count identities: %w", domain.ErrStoreUnavailable.WithError(err))
	}

	stats := &domain.IdentityStats{RecentIdentities: []domain.Identity{}}
	if len(totals) > 0 {
		stats.TotalIdentities = totals[0].Identities
		stats.TotalDetections = totals[0].Detections
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "last_seen", Value: -1}}).
		SetLimit(int64(recentLimit)).
		SetProjection(bson.D{{Key: "embedding", Value: 0}})

	docs, err := r.find(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("recent identities: %w", err)
	}
	for _, doc := range docs {
		stats.RecentIdentities = append(stats.RecentIdentities, doc.toDomain())
	}

	return stats, nil
}

func (r *MongoIdentityRepository) Ping(ctx context.Context) error {
	if err := r.coll.Database().Client().Ping(ctx, nil); err != nil {
		return domain.ErrStoreUnavailable.WithError(err)
	}
	return nil
}

func (r *MongoIdentityRepository) find(ctx context.Context, opts *options.FindOptions) ([]identityDocument, error) {
	cursor, err := r.coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, domain.ErrStoreUnavailable.WithError(err)
	}

	var docs []identityDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, domain.ErrStoreUnavailable.WithError(err)
	}
	return docs, nil
}
