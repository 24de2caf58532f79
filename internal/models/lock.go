package models

import "go.mongodb.org/mongo-driver/bson/primitive"

// Lock is the exclusive-reservation document in the lock collection. The
// store enforces uniqueness on JobID; a successful insert is itself the
// acquisition receipt.
type Lock struct {
	JobID primitive.ObjectID `bson:"job_id"`
	Owner string             `bson:"owner"`
}
