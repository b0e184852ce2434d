// Package mongo provides the production MongoDB-backed implementation of
// the storage.Store interface. Groups live in the "groups" collection and
// rounds in "rounds", both keyed by _id.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/yicheng-lo/prayerbot/internal/models"
	"github.com/yicheng-lo/prayerbot/internal/storage"
)

// Ensure MongoStore implements storage.Store
var _ storage.Store = (*MongoStore)(nil)

// MongoStore implements storage.Store using MongoDB.
type MongoStore struct {
	client *mongo.Client
	groups *mongo.Collection
	rounds *mongo.Collection
}

// New connects to the given MongoDB URI and prepares the collections,
// including the index backing the carry-forward lookup.
func New(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	db := client.Database(database)
	store := &MongoStore{
		client: client,
		groups: db.Collection("groups"),
		rounds: db.Collection("rounds"),
	}

	_, err = store.rounds.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "group_id", Value: 1}, {Key: "created_time", Value: -1}},
	})
	if err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create round index: %w", err)
	}

	return store, nil
}

// Close disconnects from MongoDB.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Ping verifies the server is reachable.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// GetGroup retrieves a group document by ID.
func (s *MongoStore) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	group := &models.Group{}
	err := s.groups.FindOne(ctx, bson.M{"_id": groupID}).Decode(group)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return group, nil
}

// PutGroup writes the full group document, creating or replacing it.
func (s *MongoStore) PutGroup(ctx context.Context, group *models.Group) error {
	now := time.Now().UTC()
	if group.CreatedAt.IsZero() {
		group.CreatedAt = now
	}
	group.UpdatedAt = now

	_, err := s.groups.ReplaceOne(ctx, bson.M{"_id": group.ID}, group,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to put group: %w", err)
	}
	return nil
}

// UpdateGroupFields applies a dotted-path partial update to a group.
func (s *MongoStore) UpdateGroupFields(ctx context.Context, groupID string, fields map[string]any) error {
	return s.updateFields(ctx, s.groups, groupID, fields, "group")
}

// GetRound retrieves a round document by ID.
func (s *MongoStore) GetRound(ctx context.Context, roundID string) (*models.Round, error) {
	round := &models.Round{}
	err := s.rounds.FindOne(ctx, bson.M{"_id": roundID}).Decode(round)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get round: %w", err)
	}
	return round, nil
}

// PutRound writes the full round document, creating or replacing it.
func (s *MongoStore) PutRound(ctx context.Context, round *models.Round) error {
	if round.CreatedTime.IsZero() {
		round.CreatedTime = time.Now().UTC()
	}

	_, err := s.rounds.ReplaceOne(ctx, bson.M{"_id": round.ID}, round,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to put round: %w", err)
	}
	return nil
}

// UpdateRoundFields applies a dotted-path partial update to a round.
func (s *MongoStore) UpdateRoundFields(ctx context.Context, roundID string, fields map[string]any) error {
	return s.updateFields(ctx, s.rounds, roundID, fields, "round")
}

// LatestRoundBefore returns the most recent round of the group created
// strictly before the given instant.
func (s *MongoStore) LatestRoundBefore(ctx context.Context, groupID string, before time.Time) (*models.Round, error) {
	filter := bson.M{
		"group_id":     groupID,
		"created_time": bson.M{"$lt": before},
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "created_time", Value: -1}})

	round := &models.Round{}
	err := s.rounds.FindOne(ctx, filter, opts).Decode(round)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query prior round: %w", err)
	}
	return round, nil
}

// updateFields translates the storage sentinels into mongo update operators:
// plain values become $set, ServerTimestamp becomes $currentDate and
// DeleteField becomes $unset.
func (s *MongoStore) updateFields(ctx context.Context, coll *mongo.Collection, id string, fields map[string]any, kind string) error {
	set := bson.M{}
	unset := bson.M{}
	currentDate := bson.M{}

	for path, value := range fields {
		switch value {
		case any(storage.ServerTimestamp):
			currentDate[path] = true
		case any(storage.DeleteField):
			unset[path] = ""
		default:
			set[path] = value
		}
	}

	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = set
	}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	if len(currentDate) > 0 {
		update["$currentDate"] = currentDate
	}
	if len(update) == 0 {
		return nil
	}

	res, err := coll.UpdateByID(ctx, id, update)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", kind, err)
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}
