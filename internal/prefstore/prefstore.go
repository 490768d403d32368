// Package prefstore persists the preferred device per family in a local
// SQLite database, so a later session can reconnect without a picker.
package prefstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS preferred_device (
	family            TEXT PRIMARY KEY,
	device_id         TEXT NOT NULL,
	display_name      TEXT NOT NULL DEFAULT '',
	last_connected_at TIMESTAMP NOT NULL
);`

// Record is one remembered device
type Record struct {
	Family          string
	DeviceID        string
	DisplayName     string
	LastConnectedAt time.Time
}

// Store is a SQLite-backed preferred-device store. Safe for concurrent use.
type Store struct {
	logger *logrus.Logger
	db     *sql.DB
}

// Open creates or opens the store at path. ":memory:" works for tests.
func Open(logger *logrus.Logger, path string) (*Store, error) {
	if logger == nil {
		logger = logrus.New()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open preference store: %w", err)
	}
	// modernc sqlite serializes writes; one connection avoids lock churn
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize preference store: %w", err)
	}

	return &Store{logger: logger, db: db}, nil
}

// Put upserts the remembered device for a family
func (s *Store) Put(ctx context.Context, rec Record) error {
	if rec.Family == "" || rec.DeviceID == "" {
		return errors.New("prefstore: family and device id are required")
	}
	if rec.LastConnectedAt.IsZero() {
		rec.LastConnectedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preferred_device (family, device_id, display_name, last_connected_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(family) DO UPDATE SET
			device_id = excluded.device_id,
			display_name = excluded.display_name,
			last_connected_at = excluded.last_connected_at`,
		rec.Family, rec.DeviceID, rec.DisplayName, rec.LastConnectedAt)
	if err != nil {
		return fmt.Errorf("failed to store preferred device: %w", err)
	}
	return nil
}

// Get returns the remembered device for family, or nil when none exists
func (s *Store) Get(ctx context.Context, family string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT family, device_id, display_name, last_connected_at
		FROM preferred_device WHERE family = ?`, family)

	var rec Record
	err := row.Scan(&rec.Family, &rec.DeviceID, &rec.DisplayName, &rec.LastConnectedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read preferred device: %w", err)
	}
	return &rec, nil
}

// Forget removes the remembered device for family
func (s *Store) Forget(ctx context.Context, family string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM preferred_device WHERE family = ?`, family)
	if err != nil {
		return fmt.Errorf("failed to forget preferred device: %w", err)
	}
	return nil
}

// Remember satisfies the session preferred-device interface
func (s *Store) Remember(ctx context.Context, family, deviceID, displayName string) error {
	return s.Put(ctx, Record{
		Family:      family,
		DeviceID:    deviceID,
		DisplayName: displayName,
	})
}

// Preferred satisfies the scan preferred-device lookup interface
func (s *Store) Preferred(ctx context.Context, family string) (string, bool, error) {
	rec, err := s.Get(ctx, family)
	if err != nil || rec == nil {
		return "", false, err
	}
	return rec.DeviceID, true, nil
}

// Close releases the database handle
func (s *Store) Close() error {
	return s.db.Close()
}
