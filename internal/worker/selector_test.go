package worker

import (
	"context"
	"testing"
	"time"

	"github.com/bobmcallan/corequeue/internal/common"
	"github.com/bobmcallan/corequeue/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func newTestSelector(store *mockQueueStore, locks *mockLockStore, sampler *ResourceSampler, launcher Launcher) *Selector {
	if sampler == nil {
		sampler = &ResourceSampler{depth: 1, samples: []sample{{cpuPct: 0, freeRAMMB: 100000}}}
	}
	return NewSelector(store, locks, sampler, nil, launcher, nil, common.NewSilentLogger(), "worker-1", "host-1", 90, 256)
}

func TestSelector_FIFOFairness_OldestFirstWhenEqualPriority(t *testing.T) {
	older := newJob("svc.a", 0)
	older.ID = idFromHex("000000000000000000000001")
	newer := newJob("svc.a", 0)
	newer.ID = idFromHex("000000000000000000000002")

	store := newMockQueueStore(newer, older)
	locks := newMockLockStore()
	sel := newTestSelector(store, locks, nil, nil)

	if err := sel.Run(time.Now()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if older.State != models.JobStateRunning {
		t.Errorf("expected oldest job selected first, got state=%s", older.State)
	}
	if newer.State != models.JobStatePending {
		t.Errorf("expected newer job untouched this tick, got state=%s", newer.State)
	}
}

func TestSelector_PriorityPreemptsOlderLowerPriorityJob(t *testing.T) {
	old := newJob("svc.a", 0)
	old.ID = idFromHex("000000000000000000000001")
	urgent := newJob("svc.b", 9)
	urgent.ID = idFromHex("000000000000000000000002")

	store := newMockQueueStore(old, urgent)
	locks := newMockLockStore()
	sel := newTestSelector(store, locks, nil, nil)

	if err := sel.Run(time.Now()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if urgent.State != models.JobStateRunning {
		t.Errorf("expected higher-priority job selected despite being newer, got state=%s", urgent.State)
	}
}

func TestSelector_ResourceGateAbortsTickWithoutForce(t *testing.T) {
	job := newJob("svc.a", 0)
	store := newMockQueueStore(job)
	locks := newMockLockStore()
	overloaded := &ResourceSampler{depth: 1, samples: []sample{{cpuPct: 99, freeRAMMB: 10}}}
	sel := newTestSelector(store, locks, overloaded, nil)

	if err := sel.Run(time.Now()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if job.State != models.JobStatePending {
		t.Errorf("expected job left untouched under resource pressure, got state=%s", job.State)
	}
}

func TestSelector_ForceBypassesResourceGate(t *testing.T) {
	job := newJob("svc.a", 0)
	job.Force = true
	store := newMockQueueStore(job)
	locks := newMockLockStore()
	overloaded := &ResourceSampler{depth: 1, samples: []sample{{cpuPct: 99, freeRAMMB: 10}}}
	sel := newTestSelector(store, locks, overloaded, nil)

	if err := sel.Run(time.Now()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if job.State != models.JobStateRunning {
		t.Errorf("expected forced job to bypass resource gate, got state=%s", job.State)
	}
}

func TestSelector_MaxParallelCapRejectsWhenAtLimit(t *testing.T) {
	running := newJob("svc.heavy", 0)
	running.MaxParallel = 1
	running.State = models.JobStateRunning
	running.Locked = &models.LockedInfo{Worker: "worker-1"}

	waiting := newJob("svc.heavy", 0)
	waiting.MaxParallel = 1

	store := newMockQueueStore(running, waiting)
	locks := newMockLockStore()
	sel := newTestSelector(store, locks, nil, nil)

	if err := sel.Run(time.Now()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if waiting.State != models.JobStatePending {
		t.Errorf("expected waiting job rejected by max_parallel cap, got state=%s", waiting.State)
	}
}

func TestSelector_LockContentionSkipsToNextCandidate(t *testing.T) {
	contested := newJob("svc.a", 5)
	fallback := newJob("svc.b", 0)

	store := newMockQueueStore(contested, fallback)
	locks := newMockLockStore()
	if _, err := locks.Lock(context.Background(), "worker-2", contested.ID); err != nil {
		t.Fatalf("seed lock failed: %v", err)
	}

	sel := newTestSelector(store, locks, nil, nil)
	if err := sel.Run(time.Now()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if fallback.State != models.JobStateRunning {
		t.Errorf("expected fallback candidate started after lock contention, got state=%s", fallback.State)
	}
	if contested.State != models.JobStatePending {
		t.Errorf("expected contested job left untouched, got state=%s", contested.State)
	}
}

func TestSelector_InactivationConsumesTickWithoutStartingJob(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	deferred := newJob("svc.a", 0)
	deferred.State = models.JobStateDeferred
	deferred.InactiveAt = &past

	store := newMockQueueStore(deferred)
	locks := newMockLockStore()
	sel := newTestSelector(store, locks, nil, nil)

	if err := sel.Run(time.Now()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if deferred.State != models.JobStateInactive {
		t.Errorf("expected deferred job inactivated, got state=%s", deferred.State)
	}
	if sel.Offset() != nil {
		t.Error("expected offset untouched by an inactivation, not a reservation")
	}
}

func idFromHex(hex string) primitive.ObjectID {
	id, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		panic(err)
	}
	return id
}
