package artifact

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// SQLiteStore keeps artifacts as blobs in a single SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// OpenSQLite opens or creates the database at path and applies the schema.
func OpenSQLite(path string, logger zerolog.Logger) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS artifacts (
		container  TEXT NOT NULL,
		name       TEXT NOT NULL,
		data       BLOB NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (container, name)
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	logger.Info().Str("path", path).Msg("artifact database opened")
	return &SQLiteStore{db: db, logger: logger}, nil
}

// Put upserts an artifact.
func (s *SQLiteStore) Put(ctx context.Context, container, name string, r io.Reader) error {
	if err := validate(container, name); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading %s/%s: %w", container, name, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO artifacts (container, name, data, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (container, name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		container, name, data)
	if err != nil {
		return fmt.Errorf("storing %s/%s: %w", container, name, err)
	}
	s.logger.Debug().Str("container", container).Str("name", name).Int("bytes", len(data)).Msg("artifact stored")
	return nil
}

// Get reads an artifact into memory.
func (s *SQLiteStore) Get(ctx context.Context, container, name string) (io.ReadCloser, error) {
	if err := validate(container, name); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM artifacts WHERE container = ? AND name = ?`, container, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, container, name)
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s/%s: %w", container, name, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// List returns the artifact names in container, sorted.
func (s *SQLiteStore) List(ctx context.Context, container string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM artifacts WHERE container = ? ORDER BY name`, container)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
