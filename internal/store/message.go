package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shieldsms/shield/internal/status"
)

// Insert creates a new PENDING record and returns its id. Ids are assigned by
// SQLite AUTOINCREMENT and are never reused.
func (db *DB) Insert(address, body string, timestamp int64) (int64, error) {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		INSERT INTO messages (address, body, timestamp, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		address, body, timestamp, status.Pending, now, now)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert message id: %w", err)
	}
	db.publish("message.inserted", id)
	return id, nil
}

// InsertWithTask creates a PENDING record and its classification task in one
// transaction, so a crash between the two cannot strand an unclassified
// record. The task carries a snapshot of the body.
func (db *DB) InsertWithTask(address, body string, timestamp int64, maxAttempts int) (int64, error) {
	now := time.Now().UnixMilli()

	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`
		INSERT INTO messages (address, body, timestamp, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		address, body, timestamp, status.Pending, now, now)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert message id: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO tasks (message_id, body, state, attempts, max_attempts, next_run_at, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?, ?, ?)`,
		id, body, status.TaskEnqueued, maxAttempts, now, now, now); err != nil {
		return 0, fmt.Errorf("insert task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	db.publish("message.inserted", id)
	return id, nil
}

// UpdateStatus applies a full overwrite of the mutable fields of a record.
// Applying the same terminal update twice leaves the record unchanged. Label
// and score are persisted only for SENT; any other status nulls them.
func (db *DB) UpdateStatus(id int64, st status.Message, label *string, score *float64) error {
	if st != status.Sent {
		label, score = nil, nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var cur status.Message
	if err := tx.QueryRow(`SELECT status FROM messages WHERE id = ?`, id).Scan(&cur); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("message %d not found", id)
		}
		return fmt.Errorf("read status: %w", err)
	}
	if err := status.ValidateTransition(cur, st); err != nil {
		return err
	}

	if _, err := tx.Exec(`
		UPDATE messages SET status = ?, label = ?, score = ?, updated_at = ? WHERE id = ?`,
		st, label, score, time.Now().UnixMilli(), id); err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	db.publish("message.updated", id)
	return nil
}

// Get returns the record with the given id, or nil if absent.
func (db *DB) Get(id int64) (*Message, error) {
	row := db.QueryRow(`
		SELECT id, address, body, timestamp, label, score, status, created_at, updated_at
		FROM messages WHERE id = ?`, id)
	return scanMessage(row)
}

// FindByEvent looks up a record by its originating event identity, used to
// detect platform redelivery. Returns nil when no record matches.
func (db *DB) FindByEvent(address, body string, timestamp int64) (*Message, error) {
	row := db.QueryRow(`
		SELECT id, address, body, timestamp, label, score, status, created_at, updated_at
		FROM messages WHERE address = ? AND body = ? AND timestamp = ?
		ORDER BY id DESC LIMIT 1`, address, body, timestamp)
	return scanMessage(row)
}

// List returns all records in display order: newest arrival first, ties
// broken by id descending.
func (db *DB) List() ([]Message, error) {
	rows, err := db.Query(`
		SELECT id, address, body, timestamp, label, score, status, created_at, updated_at
		FROM messages ORDER BY timestamp DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		var label sql.NullString
		var score sql.NullFloat64
		if err := rows.Scan(&m.ID, &m.Address, &m.Body, &m.Timestamp, &label, &score, &m.Status, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		if label.Valid {
			m.Label = &label.String
		}
		if score.Valid {
			m.Score = &score.Float64
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Requeue flips a FAILED record back to PENDING and enqueues a fresh task
// with a restarted attempt budget. Used by the operator retry command.
func (db *DB) Requeue(id int64, maxAttempts int) error {
	now := time.Now().UnixMilli()

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var cur status.Message
	var body string
	if err := tx.QueryRow(`SELECT status, body FROM messages WHERE id = ?`, id).Scan(&cur, &body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("message %d not found", id)
		}
		return fmt.Errorf("read status: %w", err)
	}
	if cur != status.Failed {
		return fmt.Errorf("message %d is %s, only FAILED records can be retried", id, cur)
	}

	if _, err := tx.Exec(`
		UPDATE messages SET status = ?, label = NULL, score = NULL, updated_at = ? WHERE id = ?`,
		status.Pending, now, id); err != nil {
		return fmt.Errorf("reset status: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO tasks (message_id, body, state, attempts, max_attempts, next_run_at, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?, ?, ?)`,
		id, body, status.TaskEnqueued, maxAttempts, now, now, now); err != nil {
		return fmt.Errorf("insert task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	db.publish("message.updated", id)
	return nil
}

func scanMessage(row *sql.Row) (*Message, error) {
	var m Message
	var label sql.NullString
	var score sql.NullFloat64
	err := row.Scan(&m.ID, &m.Address, &m.Body, &m.Timestamp, &label, &score, &m.Status, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if label.Valid {
		m.Label = &label.String
	}
	if score.Valid {
		m.Score = &score.Float64
	}
	return &m, nil
}
