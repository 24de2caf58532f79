package worker

import (
	"context"
	"errors"
	"time"

	"github.com/bobmcallan/corequeue/internal/common"
	"github.com/bobmcallan/corequeue/internal/interfaces"
	"github.com/bobmcallan/corequeue/internal/models"
)

// Retirement implements the remove_jobs phase: it scans documents flagged
// with removed_at and archives them. Once a job is journaled, the lock taken
// here is deliberately never released — a subsequent worker must not race to
// re-lock a document that is about to disappear from the queue. The residual
// lock is removed by LockStore.CleanupOrphaned at worker startup, and by
// LockStore.CleanupOwner at startup and shutdown of the worker that holds it.
// A failed journal insert releases the lock so the job is retried next tick.
type Retirement struct {
	store   interfaces.QueueStore
	locks   interfaces.LockStore
	journal interfaces.JournalStore
	events  *EventHub
	logger  *common.Logger

	identity string
}

// NewRetirement builds a Retirement phase handler.
func NewRetirement(store interfaces.QueueStore, locks interfaces.LockStore, journal interfaces.JournalStore, events *EventHub, logger *common.Logger, identity string) *Retirement {
	return &Retirement{store: store, locks: locks, journal: journal, events: events, logger: logger, identity: identity}
}

// Run executes one remove_jobs tick.
func (r *Retirement) Run(now time.Time) error {
	ctx := context.Background()

	removable, err := r.store.FindRemovable(ctx)
	if err != nil {
		return err
	}

	for _, job := range removable {
		if err := r.retireOne(ctx, job, now); err != nil {
			return err
		}
	}

	return nil
}

func (r *Retirement) retireOne(ctx context.Context, job *models.Job, at time.Time) error {
	acquired, err := r.locks.Lock(ctx, r.identity, job.ID)
	if err != nil {
		r.logger.Warn().Err(err).Str("job_id", job.ID.Hex()).Msg("lock attempt failed during retirement")
		return nil
	}
	if !acquired {
		return nil
	}

	if err := r.journal.Insert(ctx, job, at); err != nil {
		var dup *models.DuplicateJournalError
		if errors.As(err, &dup) {
			r.logger.Warn().Str("job_id", job.ID.Hex()).Msg("job already present in journal, retrying delete")
		} else {
			r.logger.Warn().Err(err).Str("job_id", job.ID.Hex()).Msg("journal insert failed, will retry next tick")
			if err := r.locks.Unlock(ctx, job.ID); err != nil {
				r.logger.Warn().Err(err).Str("job_id", job.ID.Hex()).Msg("lock release after journal failure failed")
			}
			return nil
		}
	}

	deleted, err := r.store.DeleteExactlyOne(ctx, job.ID)
	if err != nil {
		return err
	}
	if deleted != 1 {
		return &InvariantError{Op: "DeleteExactlyOne", JobID: job.ID.Hex(), Matched: deleted}
	}

	if r.events != nil {
		r.events.Emit(models.StatRemoveJob, job.ID.Hex(), job.Name, at)
	}
	return nil
}
