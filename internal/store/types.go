package store

import "github.com/shieldsms/shield/internal/status"

// Message is one ingested SMS plus its classification state. Label and Score
// are set if and only if Status is SENT.
type Message struct {
	ID        int64          `json:"id"`
	Address   string         `json:"address"`
	Body      string         `json:"body"`
	Timestamp int64          `json:"timestamp"`
	Label     *string        `json:"label"`
	Score     *float64       `json:"score"`
	Status    status.Message `json:"status"`
	CreatedAt int64          `json:"created_at"`
	UpdatedAt int64          `json:"updated_at"`
}

// Task is one durable classification work item. Body is a snapshot taken at
// enqueue time, not re-read from the message row.
type Task struct {
	ID          int64
	MessageID   int64
	Body        string
	State       status.Task
	Attempts    int
	MaxAttempts int
	NextRunAt   int64
	LastError   string
	CreatedAt   int64
	UpdatedAt   int64
}
