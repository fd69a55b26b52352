package status

import (
	"fmt"
	"slices"
)

// Message is the classification status of a stored message record.
type Message string

const (
	Pending Message = "PENDING"
	Sent    Message = "SENT"
	Failed  Message = "FAILED"
)

// messageTransitions defines allowed record status transitions. SENT is
// terminal; FAILED can only be left through an explicit manual retry.
var messageTransitions = map[Message][]Message{
	Pending: {Sent, Failed},
	Failed:  {Pending},
	Sent:    {},
}

// ValidMessage reports whether s is a known message status.
func ValidMessage(s Message) bool {
	_, ok := messageTransitions[s]
	return ok
}

// ValidateTransition returns an error if moving a record from one status to
// another is not allowed. Re-applying the current status is permitted so that
// terminal updates stay idempotent.
func ValidateTransition(from, to Message) error {
	if !ValidMessage(to) {
		return fmt.Errorf("unknown message status %q", to)
	}
	if from == to {
		return nil
	}
	if !slices.Contains(messageTransitions[from], to) {
		return fmt.Errorf("invalid message status transition from %s to %s", from, to)
	}
	return nil
}

// Task is the lifecycle state of a durable classification task.
type Task string

const (
	TaskEnqueued       Task = "ENQUEUED"
	TaskRunning        Task = "RUNNING"
	TaskRetryScheduled Task = "RETRY_SCHEDULED"
	TaskSucceeded      Task = "SUCCEEDED"
	TaskFailed         Task = "FAILED"
)

var taskTransitions = map[Task][]Task{
	TaskEnqueued:       {TaskRunning},
	TaskRunning:        {TaskSucceeded, TaskRetryScheduled, TaskFailed, TaskEnqueued},
	TaskRetryScheduled: {TaskRunning, TaskEnqueued},
	TaskSucceeded:      {},
	TaskFailed:         {},
}

// ValidateTaskTransition returns an error if a task state change is not
// allowed. RUNNING back to ENQUEUED is the crash-recovery path.
func ValidateTaskTransition(from, to Task) error {
	allowed, ok := taskTransitions[from]
	if !ok {
		return fmt.Errorf("unknown task state %q", from)
	}
	if from == to {
		return nil
	}
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid task state transition from %s to %s", from, to)
	}
	return nil
}
