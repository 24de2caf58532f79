// Package interfaces defines the store contracts the worker depends on.
// Implementations live behind a MongoDB-style API: filtered find with
// projection and sort, atomic update-one, count, delete-one, insert-one.
package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/corequeue/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CursorSide selects which half of the fairness scan a FindEligible call
// walks: Bottom is restricted to id > offset, Top to id <= offset.
type CursorSide int

const (
	CursorBottom CursorSide = iota
	CursorTop
)

// QueueStore is a typed view over the shared queue collection.
type QueueStore interface {
	// FindEligible returns the first document on the given cursor side that
	// satisfies the eligibility filter (no lock, attempts_left > 0, state in
	// {pending, failed, deferred}, worker affinity, removed_at/killed_at
	// unset, query_at due), sorted force desc, priority desc, id asc, and
	// not present in excluded. Returns (nil, nil) when no candidate exists.
	// CursorTop requires offset != nil; callers must not invoke it otherwise.
	FindEligible(ctx context.Context, side CursorSide, offset *primitive.ObjectID, at time.Time, identity string, lockedIDs, excluded []primitive.ObjectID) (*models.Job, error)

	// CountRunningByName counts queue documents with the given name that are
	// locked.worker = identity, for the per-name parallelism gate.
	CountRunningByName(ctx context.Context, name, identity string) (int64, error)

	// InactivateJob transitions a deferred, expired job to inactive. Returns
	// the number of matched documents (must be exactly 1 on success).
	InactivateJob(ctx context.Context, id primitive.ObjectID, at time.Time) (int64, error)

	// StartJob atomically sets state=running, started_at=at, query_at=nil,
	// trial=trial+1, locked=locked. Returns the number of matched documents;
	// the caller must treat anything but 1 as an invariant breach.
	StartJob(ctx context.Context, id primitive.ObjectID, at time.Time, locked models.LockedInfo) (int64, error)

	// SetWallAt conditionally sets wall_at when currently unset. Returns the
	// number of matched documents (0 is a benign race with another setter
	// that already flagged it, not an error).
	SetWallAt(ctx context.Context, id primitive.ObjectID, at time.Time) (int64, error)

	// SetZombieAt conditionally sets zombie_at when currently unset.
	SetZombieAt(ctx context.Context, id primitive.ObjectID, at time.Time) (int64, error)

	// MarkKilled sets state=killed. Used both when a live process is
	// terminated and when a waiting job's killed_at flag is honored without
	// ever having had a process.
	MarkKilled(ctx context.Context, id primitive.ObjectID, at time.Time) (int64, error)

	// FindRunningLockedBy returns running jobs whose locked.worker matches
	// identity, for the supervision pass.
	FindRunningLockedBy(ctx context.Context, identity string) ([]*models.Job, error)

	// FindKillableWaiting returns jobs in {pending, deferred, failed} with
	// killed_at set, for the check_kill pass. Not restricted by worker
	// affinity: any worker's lock attempt may win the race.
	FindKillableWaiting(ctx context.Context) ([]*models.Job, error)

	// FindRemovable returns documents with removed_at set, in any state, for
	// the retirement phase.
	FindRemovable(ctx context.Context) ([]*models.Job, error)

	// DeleteExactlyOne removes a queue document by id. Returns the number of
	// deleted documents; the caller must treat anything but 1 as fatal.
	DeleteExactlyOne(ctx context.Context, id primitive.ObjectID) (int64, error)

	// AllIDs returns every id currently present in the queue collection, used
	// by lock cleanup to detect locks orphaned by a successful retirement.
	AllIDs(ctx context.Context) ([]primitive.ObjectID, error)

	// Enqueue inserts a new pending job document.
	Enqueue(ctx context.Context, job *models.Job) error
}

// LockStore manages the dedicated lock collection, the sole coordination
// primitive across workers.
type LockStore interface {
	// Lock attempts an atomic insert of {job_id, owner}. Uniqueness on
	// job_id makes a colliding insert fail; that failure is lock contention,
	// not an error — it returns (false, nil).
	Lock(ctx context.Context, owner string, jobID primitive.ObjectID) (bool, error)

	// Unlock deletes the lock document for jobID, if any.
	Unlock(ctx context.Context, jobID primitive.ObjectID) error

	// AllLockedJobIDs returns every job_id currently present in the lock
	// collection, regardless of owner — the eligibility filter excludes all
	// of them, not just this worker's own locks.
	AllLockedJobIDs(ctx context.Context) ([]primitive.ObjectID, error)

	// CleanupOwner deletes every lock owned by owner. Invoked at worker
	// startup and shutdown.
	CleanupOwner(ctx context.Context, owner string) (int64, error)

	// CleanupOrphaned deletes locks whose job_id is absent from
	// existingIDs — the optional extension for locks left behind by
	// retirement, which deliberately does not unlock.
	CleanupOrphaned(ctx context.Context, existingIDs []primitive.ObjectID) (int64, error)
}

// JournalStore manages the archive collection retired jobs are copied into.
type JournalStore interface {
	// Insert archives a full snapshot of job. A duplicate-key error (the job
	// was already journaled under this id) is returned as
	// *models.DuplicateJournalError so the caller can log and move on rather
	// than treat it as fatal.
	Insert(ctx context.Context, job *models.Job, archivedAt time.Time) error
}
