package worker

import (
	"context"
	"errors"
	"time"

	"github.com/bobmcallan/corequeue/internal/common"
	"github.com/bobmcallan/corequeue/internal/interfaces"
	"github.com/bobmcallan/corequeue/internal/models"
	"github.com/shirou/gopsutil/v4/process"
	"golang.org/x/time/rate"
)

// ProcessSignaler sends a termination signal to a live pid. Abstracted so
// tests can substitute a fake rather than touch real OS processes.
type ProcessSignaler interface {
	Alive(pid int) (bool, error)
	Kill(pid int) error
}

// osSignaler implements ProcessSignaler via gopsutil's process package.
type osSignaler struct{}

func (osSignaler) Alive(pid int) (bool, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return false, nil
	}
	status, err := proc.Status()
	if err != nil {
		return false, nil
	}
	for _, st := range status {
		if st == process.Zombie {
			return false, nil
		}
	}
	return true, nil
}

func (osSignaler) Kill(pid int) error {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil
	}
	return proc.Kill()
}

// Supervisor implements the flag_jobs phase and the check_kill pass: wall-
// time flagging, zombie flagging, liveness checks, and kill execution on
// running jobs, plus honoring killed_at on jobs that never got a process.
type Supervisor struct {
	store    interfaces.QueueStore
	locks    interfaces.LockStore
	signaler ProcessSignaler
	events   *EventHub
	logger   *common.Logger

	identity   string
	wallTime   time.Duration
	zombieTime time.Duration

	// killLimiter paces outbound kill signals so a burst of simultaneously
	// expired jobs doesn't hammer the host's process table in one tick.
	killLimiter *rate.Limiter
}

// NewSupervisor builds a Supervisor. signaler may be nil to use the real OS
// process table via gopsutil.
func NewSupervisor(store interfaces.QueueStore, locks interfaces.LockStore, signaler ProcessSignaler, events *EventHub, logger *common.Logger, identity string, wallTime, zombieTime time.Duration) *Supervisor {
	if signaler == nil {
		signaler = osSignaler{}
	}
	return &Supervisor{
		store:       store,
		locks:       locks,
		signaler:    signaler,
		events:      events,
		logger:      logger,
		identity:    identity,
		wallTime:    wallTime,
		zombieTime:  zombieTime,
		killLimiter: rate.NewLimiter(rate.Limit(20), 20),
	}
}

// Run executes the flag_jobs phase: it iterates every running job locked by
// this worker and applies, in order, the non-stop flag, the zombie flag, the
// liveness check, and the kill request. A failed update on one job is
// logged and does not prevent the pass from reaching the rest — supervision
// flag mismatches are observational and warrant only a warning, unlike the
// selector's fatal invariant breaches.
func (s *Supervisor) Run(now time.Time) error {
	ctx := context.Background()

	running, err := s.store.FindRunningLockedBy(ctx, s.identity)
	if err != nil {
		return err
	}

	for _, job := range running {
		s.superviseOne(ctx, job, now)
	}

	return s.checkKillWaiting(ctx, now)
}

func (s *Supervisor) superviseOne(ctx context.Context, job *models.Job, at time.Time) {
	if job.WallTime != nil && job.WallAt == nil && job.StartedAt != nil {
		deadline := job.StartedAt.Add(time.Duration(*job.WallTime) * time.Second)
		if deadline.Before(at) {
			if _, err := s.store.SetWallAt(ctx, job.ID, at); err != nil {
				s.logger.Warn().Err(err).Str("job_id", job.ID.Hex()).Msg("failed to set wall_at")
			} else if s.events != nil {
				s.events.Emit(models.StatFlagNonstop, job.ID.Hex(), job.Name, at)
			}
		}
	}

	if job.ZombieAt == nil && job.Locked != nil {
		staleBefore := at.Add(-time.Duration(job.ZombieTime) * time.Second)
		if job.Locked.Heartbeat.Before(staleBefore) {
			if _, err := s.store.SetZombieAt(ctx, job.ID, at); err != nil {
				s.logger.Warn().Err(err).Str("job_id", job.ID.Hex()).Msg("failed to set zombie_at")
			} else if s.events != nil {
				s.events.Emit(models.StatFlagZombie, job.ID.Hex(), job.Name, at)
			}
		}
	}

	if job.Locked != nil && job.Locked.Pid != nil {
		alive, err := s.signaler.Alive(*job.Locked.Pid)
		if errors.Is(err, ErrProcessGone) {
			alive, err = false, nil
		}
		if err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID.Hex()).Msg("liveness check failed")
		} else if !alive {
			s.execKill(ctx, job, at)
			return
		}
	}

	if job.KilledAt != nil {
		if job.Locked != nil && job.Locked.Pid != nil {
			if err := s.killLimiter.Wait(ctx); err != nil {
				s.logger.Warn().Err(err).Str("job_id", job.ID.Hex()).Msg("kill signal rate limiter wait failed")
			} else if err := s.signaler.Kill(*job.Locked.Pid); err != nil {
				s.logger.Warn().Err(err).Str("job_id", job.ID.Hex()).Msg("kill signal failed")
			}
		}
		s.execKill(ctx, job, at)
	}
}

// execKill transitions a job to killed and releases its lock. Invoked both
// when a live process needs terminating and when supervision discovers the
// process is already gone.
func (s *Supervisor) execKill(ctx context.Context, job *models.Job, at time.Time) {
	if _, err := s.store.MarkKilled(ctx, job.ID, at); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID.Hex()).Msg("failed to mark job killed")
		return
	}
	if err := s.locks.Unlock(ctx, job.ID); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID.Hex()).Msg("lock release after kill failed")
	}
}

// checkKillWaiting scans jobs in {pending, deferred, failed} with killed_at
// set. Each is lock-acquired (racing any other worker) and then killed
// outright — there is no process to signal.
func (s *Supervisor) checkKillWaiting(ctx context.Context, at time.Time) error {
	waiting, err := s.store.FindKillableWaiting(ctx)
	if err != nil {
		return err
	}

	for _, job := range waiting {
		acquired, err := s.locks.Lock(ctx, s.identity, job.ID)
		if err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID.Hex()).Msg("lock attempt failed during check_kill")
			continue
		}
		if !acquired {
			continue
		}
		s.execKill(ctx, job, at)
	}

	return nil
}

// ErrProcessGone may be returned by a ProcessSignaler when the pid is not
// found, which the Supervisor treats identically to a reported-dead process.
// osSignaler reports a missing pid as not alive without an error.
var ErrProcessGone = errors.New("process not found")
