package store

import "time"

type Document struct {
	ID        string
	Title     string
	Content   string
	UpdatedAt time.Time
}

// ChatMessage rows are append-only. CreatedAt is assigned by the coordinator
// when the message is received, not by the database.
type ChatMessage struct {
	ID         int64
	DocumentID string
	Username   string
	Message    string
	CreatedAt  time.Time
}
