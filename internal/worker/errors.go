package worker

import "fmt"

// InvariantError marks a store operation that should have matched exactly
// one document but did not. It is fatal: the caller tears the worker down
// after cleanup rather than continue on corrupted assumptions.
type InvariantError struct {
	Op      string
	JobID   string
	Matched int64
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant breach: %s matched %d documents for job %s, want 1", e.Op, e.Matched, e.JobID)
}

