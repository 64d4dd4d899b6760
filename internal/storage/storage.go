// Package storage persists the values of settable objects so that writes made
// through SetRequests survive a restart.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/geekxflood/common/config"
	"github.com/geekxflood/common/logging"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/geekxflood/proteus/internal/registry"
)

// ErrNotFound is returned when no value is stored for an OID.
var ErrNotFound = errors.New("no stored value")

// StorageConfig holds configuration for value persistence
type StorageConfig struct {
	Enabled        bool   `json:"enabled"`
	Path           string `json:"path"`
	MaxConnections int    `json:"max_connections"`
}

// DefaultStorageConfig returns a default storage configuration
func DefaultStorageConfig() *StorageConfig {
	return &StorageConfig{
		Enabled:        false,
		Path:           "./proteus.db",
		MaxConnections: 4,
	}
}

// LoadStorageConfig reads the storage section from the configuration provider.
func LoadStorageConfig(cfg config.Provider) (*StorageConfig, error) {
	c := DefaultStorageConfig()
	if cfg == nil {
		return c, nil
	}

	var err error
	if c.Enabled, err = cfg.GetBool("storage.enabled", c.Enabled); err != nil {
		return nil, fmt.Errorf("failed to get storage enabled: %w", err)
	}
	if c.Path, err = cfg.GetString("storage.path", c.Path); err != nil {
		return nil, fmt.Errorf("failed to get storage path: %w", err)
	}
	if c.MaxConnections, err = cfg.GetInt("storage.max_connections", c.MaxConnections); err != nil {
		return nil, fmt.Errorf("failed to get storage max connections: %w", err)
	}
	return c, nil
}

// StoredValue is one persisted row.
type StoredValue struct {
	OID       string
	Value     []byte
	UpdatedAt time.Time
}

// Storage keeps settable values in SQLite, one CBOR record per OID.
type Storage struct {
	config *StorageConfig
	db     *sql.DB
	logger logging.Logger
	mu     sync.Mutex
}

// NewStorage opens the database and creates the schema.
func NewStorage(cfg *StorageConfig, logger logging.Logger) (*Storage, error) {
	if cfg == nil {
		cfg = DefaultStorageConfig()
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(max(cfg.MaxConnections/2, 1))
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Storage{
		config: cfg,
		db:     db,
		logger: logger.With("component", "storage"),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return s, nil
}

func (s *Storage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS object_values (
		oid TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at DATETIME NOT NULL
	);`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create object_values table: %w", err)
	}
	return nil
}

// Put stores an encoded record for oid, replacing any previous one.
func (s *Storage) Put(ctx context.Context, oid string, record []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO object_values (oid, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(oid) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, oid, record, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to store value for %s: %w", oid, err)
	}
	return nil
}

// Get returns the stored record for oid.
func (s *Storage) Get(ctx context.Context, oid string) (*StoredValue, error) {
	row := s.db.QueryRowContext(ctx, `SELECT oid, value, updated_at FROM object_values WHERE oid = ?`, oid)

	var v StoredValue
	if err := row.Scan(&v.OID, &v.Value, &v.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w for %s", ErrNotFound, oid)
		}
		return nil, fmt.Errorf("failed to read value for %s: %w", oid, err)
	}
	return &v, nil
}

// Delete removes the stored value for oid.
func (s *Storage) Delete(ctx context.Context, oid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM object_values WHERE oid = ?`, oid); err != nil {
		return fmt.Errorf("failed to delete value for %s: %w", oid, err)
	}
	return nil
}

// Count returns the number of stored values.
func (s *Storage) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM object_values`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count values: %w", err)
	}
	return n, nil
}

// SaveSettable writes the current value of every settable registration in
// regs in one transaction and returns how many were written.
func (s *Storage) SaveSettable(ctx context.Context, regs []*registry.Registration) (int, error) {
	type pending struct {
		oid    string
		record []byte
	}

	var rows []pending
	for _, r := range regs {
		if !r.Settable {
			continue
		}
		record, err := EncodeValue(r.Accessor.Load())
		if err != nil {
			return 0, fmt.Errorf("failed to encode %s: %w", r.Resolved(), err)
		}
		rows = append(rows, pending{oid: r.Resolved(), record: record})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO object_values (oid, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(oid) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row.oid, row.record, now); err != nil {
			return 0, fmt.Errorf("failed to store value for %s: %w", row.oid, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Debug("settable values saved", "count", len(rows))
	return len(rows), nil
}

// Restore writes stored values back through the accessors of the settable
// registrations in regs. Values are restored exactly as saved, without the
// truncation a fixed-point Set applies. Records that no longer fit their
// registration are skipped and logged. It returns how many values were
// restored.
func (s *Storage) Restore(ctx context.Context, regs []*registry.Registration) (int, error) {
	restored := 0
	for _, r := range regs {
		if !r.Settable {
			continue
		}

		stored, err := s.Get(ctx, r.Resolved())
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return restored, err
		}

		value, err := DecodeValue(stored.Value)
		if err != nil {
			s.logger.Warn("stored value unreadable", "oid", r.Resolved(), "error", err.Error())
			continue
		}
		if value.Tag() != r.Type() {
			s.logger.Warn("stored value type changed", "oid", r.Resolved(),
				"stored", value.Tag().String(), "registered", r.Type().String())
			continue
		}
		if err := registry.Restore(r.Accessor, value); err != nil {
			s.logger.Warn("stored value rejected", "oid", r.Resolved(), "error", err.Error())
			continue
		}
		restored++
	}

	s.logger.Debug("settable values restored", "count", restored)
	return restored, nil
}

// Close closes the database.
func (s *Storage) Close() error {
	return s.db.Close()
}
