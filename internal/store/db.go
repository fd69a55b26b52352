package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/shieldsms/shield/internal/bus"
)

// DB wraps the SQLite connection holding messages, tasks and settings.
// It is the single source of truth and the only writer of record state.
type DB struct {
	*sql.DB

	bus *bus.Bus
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{DB: db}, nil
}

// SetBus attaches an event bus. Committed mutations are announced on it;
// publishing never blocks the mutating caller.
func (db *DB) SetBus(b *bus.Bus) {
	db.bus = b
}

func (db *DB) publish(kind string, payload any) {
	if db.bus != nil {
		db.bus.Publish(bus.Event{Kind: kind, Payload: payload})
	}
}
