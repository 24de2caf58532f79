package models

import "time"

// Journal is the archived snapshot of a retired job, keyed by its original
// queue id. Re-insertion under the same id is an error the caller logs and
// moves past — the original document already made it to the archive.
type Journal struct {
	Job        `bson:",inline"`
	ArchivedAt time.Time `bson:"archived_at"`
}
