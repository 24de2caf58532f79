// Package models defines the document shapes shared between the worker and
// the store.
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// JobState is one of the lifecycle states a queue document may occupy.
type JobState string

const (
	JobStatePending  JobState = "pending"
	JobStateDeferred JobState = "deferred"
	JobStateFailed   JobState = "failed"
	JobStateRunning  JobState = "running"
	JobStateInactive JobState = "inactive"
	JobStateComplete JobState = "complete"
	JobStateKilled   JobState = "killed"
	JobStateError    JobState = "error"
)

// LockedInfo is the embedded record written onto a job document the moment
// it starts running. Only the lock-holding worker may mutate it thereafter.
type LockedInfo struct {
	At        time.Time `bson:"at"`
	Heartbeat time.Time `bson:"heartbeat"`
	Hostname  string    `bson:"hostname"`
	Pid       *int      `bson:"pid"`
	Worker    string    `bson:"worker"`
}

// Job is the central queue document. Its first name segment identifies the
// owning project for maintenance gating.
type Job struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	Name         string             `bson:"name"`
	State        JobState           `bson:"state"`
	Priority     int                `bson:"priority"`
	Force        bool               `bson:"force"`
	AttemptsLeft int                `bson:"attempts_left"`
	Trial        int                `bson:"trial"`
	Worker       *string            `bson:"worker"`
	MaxParallel  int                `bson:"max_parallel"`

	QueryAt    *time.Time `bson:"query_at"`
	InactiveAt *time.Time `bson:"inactive_at"`
	RemovedAt  *time.Time `bson:"removed_at"`
	KilledAt   *time.Time `bson:"killed_at"`

	WallTime *int       `bson:"wall_time"`
	WallAt   *time.Time `bson:"wall_at"`

	ZombieTime int        `bson:"zombie_time"`
	ZombieAt   *time.Time `bson:"zombie_at"`

	StartedAt *time.Time  `bson:"started_at"`
	Locked    *LockedInfo `bson:"locked"`
}

// Project returns the owning project name — the first dotted segment of Name.
func (j *Job) Project() string {
	for i := 0; i < len(j.Name); i++ {
		if j.Name[i] == '.' {
			return j.Name[:i]
		}
	}
	return j.Name
}

// EligibleForWorker reports whether the job's worker affinity, if any,
// matches the given identity.
func (j *Job) EligibleForWorker(identity string) bool {
	return j.Worker == nil || *j.Worker == identity
}
