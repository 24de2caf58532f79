package worker

import (
	"context"
	"time"

	"github.com/bobmcallan/corequeue/internal/common"
	"github.com/bobmcallan/corequeue/internal/interfaces"
	"github.com/bobmcallan/corequeue/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Selector implements the work_jobs phase: fairness-with-preemption job
// selection, admission gating, lock acquisition, and launcher handoff.
//
// offset is the id of the most recent successful reservation on this
// worker. It is in-memory only — a process restart starts the fair scan
// over from the oldest eligible job, which is harmless since offset only
// affects scan order, not eligibility.
type Selector struct {
	store       interfaces.QueueStore
	locks       interfaces.LockStore
	sampler     *ResourceSampler
	maintenance MaintenanceChecker
	launcher    Launcher
	events      *EventHub
	logger      *common.Logger

	identity string
	hostname string
	maxCPU   float64
	minRAM   float64

	offset *primitive.ObjectID
}

// NewSelector builds a Selector. launcher may be nil, in which case a
// reserved job is started but never dispatched — useful for tests that only
// exercise admission and reservation.
func NewSelector(store interfaces.QueueStore, locks interfaces.LockStore, sampler *ResourceSampler, maintenance MaintenanceChecker, launcher Launcher, events *EventHub, logger *common.Logger, identity, hostname string, maxCPU, minRAM float64) *Selector {
	if maintenance == nil {
		maintenance = NoMaintenance{}
	}
	return &Selector{
		store:       store,
		locks:       locks,
		sampler:     sampler,
		maintenance: maintenance,
		launcher:    launcher,
		events:      events,
		logger:      logger,
		identity:    identity,
		hostname:    hostname,
		maxCPU:      maxCPU,
		minRAM:      minRAM,
	}
}

// Offset returns the selector's current fairness offset, for diagnostics and
// tests.
func (s *Selector) Offset() *primitive.ObjectID {
	return s.offset
}

// admitOutcome is the result of evaluating one candidate against the
// inactivation check and the admission gates.
type admitOutcome int

const (
	outcomeRejected admitOutcome = iota
	outcomeAccepted
	outcomeInactivated
	outcomeAbortTick
)

// Run executes one work_jobs tick: at most one job is reserved and handed to
// the launcher, or the tick ends in no-job, inactivation, or resource
// backpressure.
func (s *Selector) Run(now time.Time) error {
	ctx := context.Background()
	return s.tick(ctx, now)
}

func (s *Selector) tick(ctx context.Context, at time.Time) error {
	lockedIDs, err := s.locks.AllLockedJobIDs(ctx)
	if err != nil {
		return err
	}

	var bottomExcluded, topExcluded []primitive.ObjectID

	bottomCand, err := s.store.FindEligible(ctx, interfaces.CursorBottom, s.offset, at, s.identity, lockedIDs, bottomExcluded)
	if err != nil {
		return err
	}

	var topCand *models.Job
	if s.offset != nil {
		topCand, err = s.store.FindEligible(ctx, interfaces.CursorTop, s.offset, at, s.identity, lockedIDs, topExcluded)
		if err != nil {
			return err
		}
	}

	for {
		if bottomCand == nil && topCand == nil {
			s.offset = nil
			return nil
		}

		var chosen *models.Job
		var side interfaces.CursorSide
		switch {
		case topCand != nil && bottomCand == nil:
			chosen, side = topCand, interfaces.CursorTop
		case bottomCand != nil && topCand == nil:
			chosen, side = bottomCand, interfaces.CursorBottom
		case topCand.Priority > bottomCand.Priority:
			chosen, side = topCand, interfaces.CursorTop
		default:
			chosen, side = bottomCand, interfaces.CursorBottom
		}

		outcome, err := s.evaluate(ctx, chosen, at)
		if err != nil {
			return err
		}

		switch outcome {
		case outcomeAccepted:
			s.offset = &chosen.ID
			if s.launcher != nil {
				if launchErr := s.launcher.Launch(ctx, chosen.Name, chosen.ID, true); launchErr != nil {
					s.logger.Warn().Err(launchErr).Str("job_id", chosen.ID.Hex()).Msg("launcher dispatch failed")
				}
			}
			return nil

		case outcomeInactivated, outcomeAbortTick:
			return nil

		case outcomeRejected:
			switch side {
			case interfaces.CursorBottom:
				bottomExcluded = append(bottomExcluded, chosen.ID)
				bottomCand, err = s.store.FindEligible(ctx, interfaces.CursorBottom, s.offset, at, s.identity, lockedIDs, bottomExcluded)
			case interfaces.CursorTop:
				topExcluded = append(topExcluded, chosen.ID)
				topCand, err = s.store.FindEligible(ctx, interfaces.CursorTop, s.offset, at, s.identity, lockedIDs, topExcluded)
			}
			if err != nil {
				return err
			}
		}
	}
}

// evaluate applies the inactivation check and, if the candidate survives it,
// the admission gates in order: maintenance, resource, per-name
// parallelism, lock acquisition.
func (s *Selector) evaluate(ctx context.Context, job *models.Job, at time.Time) (admitOutcome, error) {
	if job.State == models.JobStateDeferred && job.InactiveAt != nil && !job.InactiveAt.After(at) {
		matched, err := s.store.InactivateJob(ctx, job.ID, at)
		if err != nil {
			return outcomeRejected, err
		}
		if matched != 1 {
			return outcomeRejected, &InvariantError{Op: "InactivateJob", JobID: job.ID.Hex(), Matched: matched}
		}
		if err := s.locks.Unlock(ctx, job.ID); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID.Hex()).Msg("lock release after inactivation failed")
		}
		if s.events != nil {
			s.events.Emit(models.StatInactivateJob, job.ID.Hex(), job.Name, at)
		}
		return outcomeInactivated, nil
	}

	if s.maintenance.UnderMaintenance(job.Project()) {
		return outcomeRejected, nil
	}

	if !job.Force {
		cpuPct, freeRAM := s.sampler.Averages()
		if cpuPct > s.maxCPU || freeRAM < s.minRAM {
			return outcomeAbortTick, nil
		}
	}

	if job.MaxParallel > 0 {
		count, err := s.store.CountRunningByName(ctx, job.Name, s.identity)
		if err != nil {
			return outcomeRejected, err
		}
		if count >= int64(job.MaxParallel) {
			return outcomeRejected, nil
		}
	}

	acquired, err := s.locks.Lock(ctx, s.identity, job.ID)
	if err != nil {
		return outcomeRejected, err
	}
	if !acquired {
		s.logger.Debug().Str("job_id", job.ID.Hex()).Msg("lock contention, skipping candidate")
		return outcomeRejected, nil
	}

	locked := models.LockedInfo{At: at, Heartbeat: at, Hostname: s.hostname, Pid: nil, Worker: s.identity}
	matched, err := s.store.StartJob(ctx, job.ID, at, locked)
	if err != nil {
		return outcomeRejected, err
	}
	if matched != 1 {
		return outcomeRejected, &InvariantError{Op: "StartJob", JobID: job.ID.Hex(), Matched: matched}
	}

	if s.events != nil {
		s.events.Emit(models.StatRequestStartJob, job.ID.Hex(), job.Name, at)
	}
	return outcomeAccepted, nil
}
