package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/petal-labs/orchestrate/tool"
)

const sqliteStoreSchema = `
CREATE TABLE IF NOT EXISTS workflow_definitions (
	name TEXT PRIMARY KEY,
	payload BLOB NOT NULL,
	updated_at TEXT NOT NULL
);`

// SQLiteStoreConfig configures the SQLite workflow store.
type SQLiteStoreConfig struct {
	DSN string
}

// SQLiteStore persists definitions in SQLite. It may share a database file
// with the tool store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite-backed workflow store.
func NewSQLiteStore(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("workflow: sqlite store dsn is required")
	}
	if err := tool.EnsureSQLiteDir(cfg.DSN); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("workflow: sqlite store open: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("workflow: sqlite store set WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteStoreSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("workflow: sqlite store create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, name string) (Definition, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT payload
FROM workflow_definitions
WHERE name = ?`, name)

	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Definition{}, false, nil
		}
		return Definition{}, false, fmt.Errorf("workflow: sqlite get definition: %w", err)
	}
	def, err := decodeDefinition(payload)
	if err != nil {
		return Definition{}, false, err
	}
	return def, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, def Definition) error {
	if strings.TrimSpace(def.Name) == "" {
		return errors.New("workflow: name is required")
	}
	payload, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("workflow: sqlite encode definition: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO workflow_definitions (name, payload, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
	payload = excluded.payload,
	updated_at = excluded.updated_at`,
		def.Name,
		payload,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("workflow: sqlite put definition: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM workflow_definitions WHERE name = ?`, name); err != nil {
		return fmt.Errorf("workflow: sqlite delete definition: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Definition, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT payload
FROM workflow_definitions
ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("workflow: sqlite list definitions: %w", err)
	}
	defer rows.Close()

	defs := []Definition{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("workflow: sqlite scan definition: %w", err)
		}
		def, err := decodeDefinition(payload)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("workflow: sqlite definition rows: %w", err)
	}
	return defs, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func decodeDefinition(payload []byte) (Definition, error) {
	var def Definition
	if err := json.Unmarshal(payload, &def); err != nil {
		return Definition{}, fmt.Errorf("workflow: decode definition: %w", err)
	}
	return def, nil
}

var _ Store = (*SQLiteStore)(nil)
