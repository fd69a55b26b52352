package store

import (
	"database/sql"
	"errors"
	"time"
)

// Setting keys persisted across daemon restarts.
const (
	SettingClassifierURL   = "classifier.base_url"
	SettingClassifierToken = "classifier.token"
)

// SetSetting upserts a key/value pair in the settings table.
func (db *DB) SetSetting(key, value string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// GetSetting retrieves a setting value. Returns "" when the key is absent.
func (db *DB) GetSetting(key string) (string, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}
