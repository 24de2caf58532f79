package worker

import (
	"context"
	"sync"
	"time"

	"github.com/bobmcallan/corequeue/internal/interfaces"
	"github.com/bobmcallan/corequeue/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// newJob builds a pending job with sane defaults for tests that don't care
// about every field.
func newJob(name string, priority int) *models.Job {
	return &models.Job{
		ID:           primitive.NewObjectID(),
		Name:         name,
		State:        models.JobStatePending,
		Priority:     priority,
		AttemptsLeft: 3,
		MaxParallel:  1,
		ZombieTime:   300,
	}
}

// mockQueueStore is a hand-rolled in-memory interfaces.QueueStore for unit
// tests, avoiding a real MongoDB dependency for selector/supervisor/
// retirement logic tests.
type mockQueueStore struct {
	mu   sync.Mutex
	jobs map[primitive.ObjectID]*models.Job
}

func newMockQueueStore(jobs ...*models.Job) *mockQueueStore {
	m := &mockQueueStore{jobs: make(map[primitive.ObjectID]*models.Job)}
	for _, j := range jobs {
		if j.ID.IsZero() {
			j.ID = primitive.NewObjectID()
		}
		m.jobs[j.ID] = j
	}
	return m
}

func contains(ids []primitive.ObjectID, id primitive.ObjectID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func eligible(j *models.Job, at time.Time, identity string, lockedIDs, excluded []primitive.ObjectID) bool {
	if contains(lockedIDs, j.ID) || contains(excluded, j.ID) {
		return false
	}
	if j.AttemptsLeft <= 0 {
		return false
	}
	switch j.State {
	case models.JobStatePending, models.JobStateFailed, models.JobStateDeferred:
	default:
		return false
	}
	if !j.EligibleForWorker(identity) {
		return false
	}
	if j.RemovedAt != nil {
		return false
	}
	if j.KilledAt != nil {
		return false
	}
	if j.QueryAt != nil && j.QueryAt.After(at) {
		return false
	}
	return true
}

// pickFront applies the selector's sort (force desc, priority desc, id asc)
// over the supplied candidates and returns the front.
func pickFront(candidates []*models.Job) *models.Job {
	var front *models.Job
	for _, c := range candidates {
		if front == nil {
			front = c
			continue
		}
		if c.Force != front.Force {
			if c.Force {
				front = c
			}
			continue
		}
		if c.Priority != front.Priority {
			if c.Priority > front.Priority {
				front = c
			}
			continue
		}
		if c.ID.Hex() < front.ID.Hex() {
			front = c
		}
	}
	return front
}

func (m *mockQueueStore) FindEligible(_ context.Context, side interfaces.CursorSide, offset *primitive.ObjectID, at time.Time, identity string, lockedIDs, excluded []primitive.ObjectID) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var candidates []*models.Job
	for _, j := range m.jobs {
		if !eligible(j, at, identity, lockedIDs, excluded) {
			continue
		}
		switch side {
		case interfaces.CursorBottom:
			if offset != nil && !idGreater(j.ID, *offset) {
				continue
			}
		case interfaces.CursorTop:
			if offset == nil {
				return nil, nil
			}
			if idGreater(j.ID, *offset) {
				continue
			}
		}
		candidates = append(candidates, j)
	}
	return pickFront(candidates), nil
}

func idGreater(a, b primitive.ObjectID) bool { return a.Hex() > b.Hex() }

func (m *mockQueueStore) CountRunningByName(_ context.Context, name, identity string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, j := range m.jobs {
		if j.Name == name && j.State == models.JobStateRunning && j.Locked != nil && j.Locked.Worker == identity {
			n++
		}
	}
	return n, nil
}

func (m *mockQueueStore) InactivateJob(_ context.Context, id primitive.ObjectID, _ time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return 0, nil
	}
	j.State = models.JobStateInactive
	return 1, nil
}

func (m *mockQueueStore) StartJob(_ context.Context, id primitive.ObjectID, at time.Time, locked models.LockedInfo) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return 0, nil
	}
	j.State = models.JobStateRunning
	j.StartedAt = &at
	j.QueryAt = nil
	j.Trial++
	lockedCopy := locked
	j.Locked = &lockedCopy
	return 1, nil
}

func (m *mockQueueStore) SetWallAt(_ context.Context, id primitive.ObjectID, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.WallAt != nil {
		return 0, nil
	}
	j.WallAt = &at
	return 1, nil
}

func (m *mockQueueStore) SetZombieAt(_ context.Context, id primitive.ObjectID, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.ZombieAt != nil {
		return 0, nil
	}
	j.ZombieAt = &at
	return 1, nil
}

func (m *mockQueueStore) MarkKilled(_ context.Context, id primitive.ObjectID, _ time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return 0, nil
	}
	j.State = models.JobStateKilled
	return 1, nil
}

func (m *mockQueueStore) FindRunningLockedBy(_ context.Context, identity string) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Job
	for _, j := range m.jobs {
		if j.State == models.JobStateRunning && j.Locked != nil && j.Locked.Worker == identity {
			out = append(out, j)
		}
	}
	return out, nil
}

func (m *mockQueueStore) FindKillableWaiting(_ context.Context) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Job
	for _, j := range m.jobs {
		switch j.State {
		case models.JobStatePending, models.JobStateFailed, models.JobStateDeferred:
			if j.KilledAt != nil {
				out = append(out, j)
			}
		}
	}
	return out, nil
}

func (m *mockQueueStore) FindRemovable(_ context.Context) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Job
	for _, j := range m.jobs {
		if j.RemovedAt != nil {
			out = append(out, j)
		}
	}
	return out, nil
}

func (m *mockQueueStore) DeleteExactlyOne(_ context.Context, id primitive.ObjectID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return 0, nil
	}
	delete(m.jobs, id)
	return 1, nil
}

func (m *mockQueueStore) AllIDs(_ context.Context) ([]primitive.ObjectID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []primitive.ObjectID
	for id := range m.jobs {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *mockQueueStore) Enqueue(_ context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.ID.IsZero() {
		job.ID = primitive.NewObjectID()
	}
	m.jobs[job.ID] = job
	return nil
}

// mockLockStore is a hand-rolled in-memory interfaces.LockStore.
type mockLockStore struct {
	mu    sync.Mutex
	locks map[primitive.ObjectID]string // job id -> owner
}

func newMockLockStore() *mockLockStore {
	return &mockLockStore{locks: make(map[primitive.ObjectID]string)}
}

func (m *mockLockStore) Lock(_ context.Context, owner string, jobID primitive.ObjectID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.locks[jobID]; exists {
		return false, nil
	}
	m.locks[jobID] = owner
	return true, nil
}

func (m *mockLockStore) Unlock(_ context.Context, jobID primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, jobID)
	return nil
}

func (m *mockLockStore) AllLockedJobIDs(_ context.Context) ([]primitive.ObjectID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []primitive.ObjectID
	for id := range m.locks {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *mockLockStore) CleanupOwner(_ context.Context, owner string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, o := range m.locks {
		if o == owner {
			delete(m.locks, id)
			n++
		}
	}
	return n, nil
}

func (m *mockLockStore) CleanupOrphaned(_ context.Context, existingIDs []primitive.ObjectID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id := range m.locks {
		if !contains(existingIDs, id) {
			delete(m.locks, id)
			n++
		}
	}
	return n, nil
}

// mockJournalStore is a hand-rolled in-memory interfaces.JournalStore.
type mockJournalStore struct {
	mu      sync.Mutex
	entries map[string]bool
}

func newMockJournalStore() *mockJournalStore {
	return &mockJournalStore{entries: make(map[string]bool)}
}

func (m *mockJournalStore) Insert(_ context.Context, job *models.Job, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := job.ID.Hex()
	if m.entries[key] {
		return &models.DuplicateJournalError{JobID: key}
	}
	m.entries[key] = true
	return nil
}

// mockLauncher records launch calls without doing anything.
type mockLauncher struct {
	mu       sync.Mutex
	launched []primitive.ObjectID
}

func (m *mockLauncher) Launch(_ context.Context, _ string, jobID primitive.ObjectID, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.launched = append(m.launched, jobID)
	return nil
}

// mockSignaler is a fake ProcessSignaler for supervisor tests.
type mockSignaler struct {
	mu    sync.Mutex
	alive map[int]bool
}

func newMockSignaler() *mockSignaler {
	return &mockSignaler{alive: make(map[int]bool)}
}

func (m *mockSignaler) Alive(pid int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alive[pid], nil
}

func (m *mockSignaler) Kill(pid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alive[pid] = false
	return nil
}
