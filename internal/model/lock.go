package model

import "time"

// QueueLock is the document backing the distributed queue lock. The lock
// name is the document id so at most one holder can exist per name.
type QueueLock struct {
	Name      string    `json:"name" bson:"_id"`
	Token     string    `json:"token" bson:"token"`
	LockedBy  string    `json:"locked_by" bson:"locked_by"` // hostname
	LockedAt  time.Time `json:"locked_at" bson:"locked_at"`
	ExpiresAt time.Time `json:"expires_at" bson:"expires_at"`
}

// AuditDocument is an audit record mirrored to the database
type AuditDocument struct {
	Kind       string    `json:"kind" bson:"kind"`
	RecordedAt time.Time `json:"recorded_at" bson:"recorded_at"`
	Record     any       `json:"record" bson:"record"`
}
