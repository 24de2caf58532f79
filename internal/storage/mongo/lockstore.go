package mongo

import (
	"context"

	"github.com/bobmcallan/corequeue/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// LockStore is the mongo-driver backed implementation of
// interfaces.LockStore. The collection carries a unique index on job_id,
// created by EnsureIndexes; a colliding insert is the coordination point a
// successful acquisition beats every other worker to.
type LockStore struct {
	coll *mongo.Collection
}

// NewLockStore wraps the named collection.
func NewLockStore(db *mongo.Database, collection string) *LockStore {
	return &LockStore{coll: db.Collection(collection)}
}

// EnsureIndexes creates the unique index on job_id. Call once at startup.
func (s *LockStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "job_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

// Lock implements interfaces.LockStore.
func (s *LockStore) Lock(ctx context.Context, owner string, jobID primitive.ObjectID) (bool, error) {
	_, err := s.coll.InsertOne(ctx, models.Lock{JobID: jobID, Owner: owner})
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Unlock implements interfaces.LockStore.
func (s *LockStore) Unlock(ctx context.Context, jobID primitive.ObjectID) error {
	_, err := s.coll.DeleteOne(ctx, bson.M{"job_id": jobID})
	return err
}

// AllLockedJobIDs implements interfaces.LockStore.
func (s *LockStore) AllLockedJobIDs(ctx context.Context) ([]primitive.ObjectID, error) {
	cur, err := s.coll.Find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"job_id": 1}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var ids []primitive.ObjectID
	for cur.Next(ctx) {
		var lock models.Lock
		if err := cur.Decode(&lock); err != nil {
			return nil, err
		}
		ids = append(ids, lock.JobID)
	}
	return ids, cur.Err()
}

// CleanupOwner implements interfaces.LockStore.
func (s *LockStore) CleanupOwner(ctx context.Context, owner string) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{"owner": owner})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// CleanupOrphaned implements interfaces.LockStore.
func (s *LockStore) CleanupOrphaned(ctx context.Context, existingIDs []primitive.ObjectID) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{"job_id": bson.M{"$nin": existingIDs}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
