// Package store persists satellite settings in an embedded SQLite database:
// the typed config record, the NVS record, per-device labels, and the opaque
// was/multinet blobs. Reads are tolerant (a broken store reads as empty);
// writes are serialized and transactional.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS config (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	config_type TEXT NOT NULL,
	config_name TEXT NOT NULL,
	config_namespace TEXT,
	config_value TEXT,
	UNIQUE (config_type, config_name)
);

CREATE TABLE IF NOT EXISTS clients (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	mac_addr TEXT NOT NULL UNIQUE,
	label TEXT NOT NULL
);
`

// Store wraps the settings database. Writers are serialized by mu; readers
// go straight to the pool.
type Store struct {
	db  *sql.DB
	mu  sync.Mutex
	log zerolog.Logger
}

// Open opens (creating if necessary) the settings database at path and
// bootstraps the schema.
func Open(path string, log zerolog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	// Single connection: modernc sqlite allows one writer at a time and the
	// settings workload is tiny, so this sidesteps SQLITE_BUSY entirely.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}

	log.Info().Str("path", path).Msg("settings store opened")

	return &Store{db: db, log: log}, nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	s.log.Info().Msg("closing settings store")
	return s.db.Close()
}

// readValues returns config_name -> config_value for one config_type,
// skipping NULL and empty values. Read errors are logged, never returned:
// callers always get a usable (possibly empty) map.
func (s *Store) readValues(configType string) map[string]string {
	values := make(map[string]string)

	rows, err := s.db.Query(
		`SELECT config_name, config_value FROM config WHERE config_type = ?`, configType)
	if err != nil {
		s.log.Error().Err(err).Str("config_type", configType).Msg("config read failed")
		return values
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var value sql.NullString
		if err := rows.Scan(&name, &value); err != nil {
			s.log.Error().Err(err).Str("config_type", configType).Msg("config row scan failed")
			continue
		}
		if value.Valid && value.String != "" {
			values[name] = value.String
		}
	}
	if err := rows.Err(); err != nil {
		s.log.Error().Err(err).Str("config_type", configType).Msg("config row iteration failed")
	}

	return values
}

// upsertValue writes one (type, name) row inside tx. Writing the current
// value is a no-op; an empty newValue deletes the row.
func upsertValue(tx *sql.Tx, configType, name, namespace, newValue string) error {
	if newValue == "" {
		_, err := tx.Exec(
			`DELETE FROM config WHERE config_type = ? AND config_name = ?`, configType, name)
		return err
	}

	var current sql.NullString
	err := tx.QueryRow(
		`SELECT config_value FROM config WHERE config_type = ? AND config_name = ?`,
		configType, name).Scan(&current)
	if err == nil && current.Valid && current.String == newValue {
		return nil
	}
	if err != nil && err != sql.ErrNoRows {
		return err
	}

	_, err = tx.Exec(
		`INSERT INTO config (config_type, config_name, config_namespace, config_value)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (config_type, config_name)
		 DO UPDATE SET config_value = excluded.config_value, config_namespace = excluded.config_namespace`,
		configType, name, nullable(namespace), newValue)
	return err
}

func (s *Store) inTx(fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Error().Err(rbErr).Msg("rollback failed")
		}
		return err
	}
	return tx.Commit()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
