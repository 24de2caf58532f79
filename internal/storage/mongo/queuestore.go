package mongo

import (
	"context"
	"time"

	"github.com/bobmcallan/corequeue/internal/common"
	"github.com/bobmcallan/corequeue/internal/interfaces"
	"github.com/bobmcallan/corequeue/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// QueueStore is the mongo-driver backed implementation of
// interfaces.QueueStore.
type QueueStore struct {
	coll   *mongo.Collection
	logger *common.Logger
}

// NewQueueStore wraps the named collection.
func NewQueueStore(db *mongo.Database, collection string, logger *common.Logger) *QueueStore {
	return &QueueStore{coll: db.Collection(collection), logger: logger}
}

var selectSort = bson.D{{Key: "force", Value: -1}, {Key: "priority", Value: -1}, {Key: "_id", Value: 1}}

func eligibilityFilter(at time.Time, identity string, lockedIDs, excluded []primitive.ObjectID) bson.M {
	excludeAll := append(append([]primitive.ObjectID{}, lockedIDs...), excluded...)

	return bson.M{
		"attempts_left": bson.M{"$gt": 0},
		"state":         bson.M{"$in": []models.JobState{models.JobStatePending, models.JobStateFailed, models.JobStateDeferred}},
		"removed_at":    nil,
		"killed_at":     nil,
		"$or": []bson.M{
			{"worker": identity},
			{"worker": nil},
		},
		"$and": []bson.M{
			{"$or": []bson.M{
				{"query_at": nil},
				{"query_at": bson.M{"$lte": at}},
			}},
		},
		"_id": bson.M{"$nin": excludeAll},
	}
}

// FindEligible implements interfaces.QueueStore.
func (s *QueueStore) FindEligible(ctx context.Context, side interfaces.CursorSide, offset *primitive.ObjectID, at time.Time, identity string, lockedIDs, excluded []primitive.ObjectID) (*models.Job, error) {
	filter := eligibilityFilter(at, identity, lockedIDs, excluded)

	idFilter, _ := filter["_id"].(bson.M)
	switch side {
	case interfaces.CursorBottom:
		if offset != nil {
			idFilter["$gt"] = *offset
		}
	case interfaces.CursorTop:
		if offset == nil {
			return nil, nil
		}
		idFilter["$lte"] = *offset
	}
	filter["_id"] = idFilter

	var job models.Job
	err := s.coll.FindOne(ctx, filter, options.FindOne().SetSort(selectSort)).Decode(&job)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// CountRunningByName implements interfaces.QueueStore.
func (s *QueueStore) CountRunningByName(ctx context.Context, name, identity string) (int64, error) {
	filter := bson.M{
		"name":          name,
		"state":         models.JobStateRunning,
		"locked.worker": identity,
	}
	return s.coll.CountDocuments(ctx, filter)
}

// InactivateJob implements interfaces.QueueStore.
func (s *QueueStore) InactivateJob(ctx context.Context, id primitive.ObjectID, at time.Time) (int64, error) {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"state": models.JobStateInactive}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// StartJob implements interfaces.QueueStore.
func (s *QueueStore) StartJob(ctx context.Context, id primitive.ObjectID, at time.Time, locked models.LockedInfo) (int64, error) {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$set": bson.M{
				"state":      models.JobStateRunning,
				"started_at": at,
				"query_at":   nil,
				"locked":     locked,
			},
			"$inc": bson.M{"trial": 1},
		},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// SetWallAt implements interfaces.QueueStore.
func (s *QueueStore) SetWallAt(ctx context.Context, id primitive.ObjectID, at time.Time) (int64, error) {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id, "wall_at": nil},
		bson.M{"$set": bson.M{"wall_at": at}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// SetZombieAt implements interfaces.QueueStore.
func (s *QueueStore) SetZombieAt(ctx context.Context, id primitive.ObjectID, at time.Time) (int64, error) {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id, "zombie_at": nil},
		bson.M{"$set": bson.M{"zombie_at": at}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// MarkKilled implements interfaces.QueueStore.
func (s *QueueStore) MarkKilled(ctx context.Context, id primitive.ObjectID, at time.Time) (int64, error) {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"state": models.JobStateKilled}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// FindRunningLockedBy implements interfaces.QueueStore.
func (s *QueueStore) FindRunningLockedBy(ctx context.Context, identity string) ([]*models.Job, error) {
	cur, err := s.coll.Find(ctx, bson.M{
		"state":         models.JobStateRunning,
		"locked.worker": identity,
	})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var jobs []*models.Job
	for cur.Next(ctx) {
		var job models.Job
		if err := cur.Decode(&job); err != nil {
			return nil, err
		}
		jobs = append(jobs, &job)
	}
	return jobs, cur.Err()
}

// FindKillableWaiting implements interfaces.QueueStore.
func (s *QueueStore) FindKillableWaiting(ctx context.Context) ([]*models.Job, error) {
	cur, err := s.coll.Find(ctx, bson.M{
		"state":     bson.M{"$in": []models.JobState{models.JobStatePending, models.JobStateFailed, models.JobStateDeferred}},
		"killed_at": bson.M{"$ne": nil},
	})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var jobs []*models.Job
	for cur.Next(ctx) {
		var job models.Job
		if err := cur.Decode(&job); err != nil {
			return nil, err
		}
		jobs = append(jobs, &job)
	}
	return jobs, cur.Err()
}

// FindRemovable implements interfaces.QueueStore.
func (s *QueueStore) FindRemovable(ctx context.Context) ([]*models.Job, error) {
	cur, err := s.coll.Find(ctx, bson.M{"removed_at": bson.M{"$ne": nil}})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var jobs []*models.Job
	for cur.Next(ctx) {
		var job models.Job
		if err := cur.Decode(&job); err != nil {
			return nil, err
		}
		jobs = append(jobs, &job)
	}
	return jobs, cur.Err()
}

// DeleteExactlyOne implements interfaces.QueueStore.
func (s *QueueStore) DeleteExactlyOne(ctx context.Context, id primitive.ObjectID) (int64, error) {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// AllIDs implements interfaces.QueueStore.
func (s *QueueStore) AllIDs(ctx context.Context) ([]primitive.ObjectID, error) {
	cur, err := s.coll.Find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var ids []primitive.ObjectID
	for cur.Next(ctx) {
		var doc struct {
			ID primitive.ObjectID `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		ids = append(ids, doc.ID)
	}
	return ids, cur.Err()
}

// Enqueue implements interfaces.QueueStore.
func (s *QueueStore) Enqueue(ctx context.Context, job *models.Job) error {
	if job.ID.IsZero() {
		job.ID = primitive.NewObjectID()
	}
	if job.State == "" {
		job.State = models.JobStatePending
	}
	_, err := s.coll.InsertOne(ctx, job)
	return err
}
