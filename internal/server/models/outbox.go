package models

import "time"

// OutboxMessage is a queue publication recorded in the same transaction as
// the state change that caused it.
type OutboxMessage struct {
	ID           int64
	Topic        string
	Payload      string
	Attempts     int
	CreatedAt    time.Time
	DispatchedAt *time.Time
}
