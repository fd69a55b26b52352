package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kinds used by the daemon:
//   - message.inserted, message.updated: store mutations
//   - task.succeeded, task.failed, task.retry_scheduled: queue outcomes
//   - config.endpoint_changed: classifier endpoint swaps
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
