package mongo

import (
	"context"
	"time"

	"github.com/bobmcallan/corequeue/internal/models"
	"go.mongodb.org/mongo-driver/mongo"
)

// JournalStore is the mongo-driver backed implementation of
// interfaces.JournalStore.
type JournalStore struct {
	coll *mongo.Collection
}

// NewJournalStore wraps the named collection.
func NewJournalStore(db *mongo.Database, collection string) *JournalStore {
	return &JournalStore{coll: db.Collection(collection)}
}

// Insert implements interfaces.JournalStore.
func (s *JournalStore) Insert(ctx context.Context, job *models.Job, archivedAt time.Time) error {
	entry := models.Journal{Job: *job, ArchivedAt: archivedAt}
	_, err := s.coll.InsertOne(ctx, entry)
	if mongo.IsDuplicateKeyError(err) {
		return &models.DuplicateJournalError{JobID: job.ID.Hex()}
	}
	return err
}
