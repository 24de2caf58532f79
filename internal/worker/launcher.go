package worker

import (
	"context"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Launcher spawns the subprocess that executes a job body. It is external to
// the core: it fills in locked.pid, periodically refreshes locked.heartbeat,
// and writes the terminal state. The core only decides when to call it.
type Launcher interface {
	// Launch starts jobID (named jobName). When async is false, Launch
	// blocks until the job body completes — used for manual/foreground runs.
	Launch(ctx context.Context, jobName string, jobID primitive.ObjectID, async bool) error
}
