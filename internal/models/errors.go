package models

import "fmt"

// DuplicateJournalError marks a journal insert that collided with an
// existing archive entry for the same job id. The caller logs and moves on —
// the job already made it to the archive under a prior attempt.
type DuplicateJournalError struct {
	JobID string
}

func (e *DuplicateJournalError) Error() string {
	return fmt.Sprintf("job %s already present in journal", e.JobID)
}
