package store

import (
	"fmt"
	"time"

	"github.com/shieldsms/shield/internal/status"
)

// DueTasks returns runnable tasks: ENQUEUED or RETRY_SCHEDULED rows whose
// next_run_at is not in the future, oldest due first.
func (db *DB) DueTasks(now int64, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, message_id, body, state, attempts, max_attempts, next_run_at, last_error, created_at, updated_at
		FROM tasks
		WHERE state IN (?, ?) AND next_run_at <= ?
		ORDER BY next_run_at ASC, id ASC
		LIMIT ?`,
		status.TaskEnqueued, status.TaskRetryScheduled, now, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var tasks []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.MessageID, &t.Body, &t.State, &t.Attempts, &t.MaxAttempts, &t.NextRunAt, &t.LastError, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ClaimTask atomically moves a runnable task to RUNNING and charges one
// attempt. Returns false if the task was already claimed or is gone.
func (db *DB) ClaimTask(id int64) (bool, error) {
	res, err := db.Exec(`
		UPDATE tasks SET state = ?, attempts = attempts + 1, updated_at = ?
		WHERE id = ? AND state IN (?, ?)`,
		status.TaskRunning, time.Now().UnixMilli(), id, status.TaskEnqueued, status.TaskRetryScheduled)
	if err != nil {
		return false, fmt.Errorf("claim task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ScheduleRetry moves a RUNNING task back to RETRY_SCHEDULED with the given
// wake-up time and failure reason.
func (db *DB) ScheduleRetry(id int64, nextRunAt int64, lastError string) error {
	_, err := db.Exec(`
		UPDATE tasks SET state = ?, next_run_at = ?, last_error = ?, updated_at = ?
		WHERE id = ? AND state = ?`,
		status.TaskRetryScheduled, nextRunAt, lastError, time.Now().UnixMilli(), id, status.TaskRunning)
	if err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}
	return nil
}

// DeleteTask removes a task row. Called on terminal completion, after the
// message record has been reconciled.
func (db *DB) DeleteTask(id int64) error {
	if _, err := db.Exec(`DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// ResetRunningTasks re-enqueues tasks left RUNNING by a previous process,
// so an interrupted attempt is re-executed after a restart. Returns the
// number of recovered tasks.
func (db *DB) ResetRunningTasks() (int64, error) {
	res, err := db.Exec(`
		UPDATE tasks SET state = ?, updated_at = ? WHERE state = ?`,
		status.TaskEnqueued, time.Now().UnixMilli(), status.TaskRunning)
	if err != nil {
		return 0, fmt.Errorf("reset running tasks: %w", err)
	}
	return res.RowsAffected()
}

// CountTasks returns the number of task rows per state.
func (db *DB) CountTasks() (map[status.Task]int, error) {
	rows, err := db.Query(`SELECT state, COUNT(*) FROM tasks GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[status.Task]int)
	for rows.Next() {
		var st status.Task
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		counts[st] = n
	}
	return counts, rows.Err()
}
