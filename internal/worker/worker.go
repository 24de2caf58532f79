package worker

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobmcallan/corequeue/internal/common"
	"github.com/bobmcallan/corequeue/internal/interfaces"
	"github.com/google/uuid"
)

// Worker is the top-level daemon: it owns the execution plan, wires the
// phase handlers, and runs the cooperative main loop until halted.
type Worker struct {
	plan       *Plan
	selector   *Selector
	supervisor *Supervisor
	retirement *Retirement
	sampler    *ResourceSampler
	events     *EventHub
	locks      interfaces.LockStore
	store      interfaces.QueueStore
	logger     *common.Logger

	identity string
	halt     chan struct{}
	done     chan struct{}
}

// New assembles a Worker from its already-constructed phase handlers and
// resource sampler, and builds the execution plan from the given config.
func New(cfg *common.WorkerConfig, store interfaces.QueueStore, locks interfaces.LockStore, journal interfaces.JournalStore, sampler *ResourceSampler, selector *Selector, supervisor *Supervisor, events *EventHub, logger *common.Logger, identity string) *Worker {
	retirement := NewRetirement(store, locks, journal, events, logger, identity)

	w := &Worker{
		plan:       NewPlan(),
		selector:   selector,
		supervisor: supervisor,
		retirement: retirement,
		sampler:    sampler,
		events:     events,
		locks:      locks,
		store:      store,
		logger:     logger,
		identity:   identity,
		halt:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	now := time.Now()
	w.plan.AddPhase("work_jobs", cfg.GetWorkJobsInterval(), now, selector.Run)
	w.plan.AddPhase("remove_jobs", cfg.GetRemoveJobsInterval(), now, retirement.Run)
	w.plan.AddPhase("flag_jobs", cfg.GetFlagJobsInterval(), now, supervisor.Run)
	w.plan.AddPhase("collect_stats", cfg.GetCollectStatsInterval(), now, func(_ time.Time) error {
		return sampler.Collect(context.Background())
	})

	return w
}

// Startup ignores child-exit signals (children are launched detached
// through the external launcher, so the parent never reaps them) and cleans
// any locks left behind by a prior crash of this same identity.
func (w *Worker) Startup(ctx context.Context) error {
	signal.Ignore(syscall.SIGCHLD)

	if _, err := w.locks.CleanupOwner(ctx, w.identity); err != nil {
		return err
	}
	if err := w.cleanupOrphanedLocks(ctx); err != nil {
		w.logger.Warn().Err(err).Msg("orphaned lock cleanup failed at startup")
	}

	w.logger.Info().Str("identity", w.identity).Dur("tick", w.plan.Tick()).Msg("worker started")
	return nil
}

// Run executes the main loop: it ticks at the plan's minimum interval and
// runs every due phase. A halt signal exits the loop between ticks, never
// mid-phase. A fatal (invariant breach) phase error also ends the loop,
// after Cleanup runs.
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.done)
	ticker := time.NewTicker(w.plan.Tick())
	defer ticker.Stop()

	for {
		select {
		case <-w.halt:
			return w.Cleanup(ctx)
		case <-ctx.Done():
			return w.Cleanup(ctx)
		case now := <-ticker.C:
			tickLogger := w.logger.WithCorrelationId(uuid.New().String()[:8])
			if phaseName, err := w.plan.Run(now); err != nil {
				var inv *InvariantError
				if errors.As(err, &inv) {
					tickLogger.Error().Err(err).Str("phase", phaseName).Msg("invariant breach, halting worker")
					_ = w.Cleanup(ctx)
					return err
				}
				tickLogger.Warn().Err(err).Str("phase", phaseName).Msg("transient phase error, will retry next tick")
			}
		}
	}
}

// Halt signals the main loop to exit at the next tick boundary.
func (w *Worker) Halt() {
	select {
	case <-w.halt:
	default:
		close(w.halt)
	}
}

// Done is closed once Run has returned.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Cleanup removes every lock owned by this worker. Called when Run exits;
// Startup performs the same owner cleanup directly, for crash recovery.
func (w *Worker) Cleanup(ctx context.Context) error {
	if _, err := w.locks.CleanupOwner(ctx, w.identity); err != nil {
		return err
	}
	return nil
}

// cleanupOrphanedLocks implements the optional extension noted for
// retirement's deliberately-unreleased lock: it removes locks whose job id
// is no longer present in the queue at all, regardless of owner.
func (w *Worker) cleanupOrphanedLocks(ctx context.Context) error {
	ids, err := w.store.AllIDs(ctx)
	if err != nil {
		return err
	}
	_, err = w.locks.CleanupOrphaned(ctx, ids)
	return err
}

// RunForeground runs the daemon until SIGINT/SIGTERM, suitable for
// cmd/queue-worker's main().
func (w *Worker) RunForeground(ctx context.Context) error {
	if err := w.Startup(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		w.logger.Info().Msg("shutdown signal received")
		w.Halt()
	}()

	return w.Run(ctx)
}
