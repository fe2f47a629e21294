// ABOUTME: SQLite implementation of DispatchStore using modernc.org/sqlite
// ABOUTME: Creates its schema on open; deliveries are stored as a JSON column

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements DispatchStore using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	logger = logger.With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS dispatches (
			dispatch_id     TEXT PRIMARY KEY,
			event           TEXT NOT NULL,
			started_at      INTEGER NOT NULL,
			duration_ms     INTEGER NOT NULL,
			status          TEXT NOT NULL,
			stage           TEXT NOT NULL DEFAULT '',
			deliveries_json TEXT NOT NULL DEFAULT '[]',

			CHECK (status IN ('completed', 'failed'))
		);

		CREATE INDEX IF NOT EXISTS idx_dispatches_started ON dispatches(started_at);
		CREATE INDEX IF NOT EXISTS idx_dispatches_event ON dispatches(event);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordDispatch inserts a dispatch record.
// Generates ID and StartedAt if not set.
func (s *SQLiteStore) RecordDispatch(ctx context.Context, r *DispatchRecord) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	if r.Deliveries == nil {
		r.Deliveries = []Delivery{}
	}

	deliveries, err := json.Marshal(r.Deliveries)
	if err != nil {
		return fmt.Errorf("marshaling deliveries: %w", err)
	}

	query := `
		INSERT INTO dispatches (dispatch_id, event, started_at, duration_ms, status, stage, deliveries_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		r.ID,
		r.Event,
		r.StartedAt.UTC().UnixNano(),
		r.DurationMS,
		string(r.Status),
		r.Stage,
		string(deliveries),
	)
	if err != nil {
		return fmt.Errorf("inserting dispatch: %w", err)
	}

	s.logger.Debug("recorded dispatch",
		"id", r.ID,
		"event", r.Event,
		"status", r.Status,
		"deliveries", len(r.Deliveries),
	)
	return nil
}

const dispatchColumns = `dispatch_id, event, started_at, duration_ms, status, stage, deliveries_json`

// GetDispatch retrieves a dispatch by ID.
func (s *SQLiteStore) GetDispatch(ctx context.Context, id string) (*DispatchRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+dispatchColumns+` FROM dispatches WHERE dispatch_id = ?`, id)

	r, err := scanDispatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListDispatches returns the most recent dispatches first.
func (s *SQLiteStore) ListDispatches(ctx context.Context, limit int) ([]DispatchRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+dispatchColumns+` FROM dispatches ORDER BY started_at DESC, rowid DESC LIMIT ?`,
		NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying dispatches: %w", err)
	}
	defer rows.Close()

	records := []DispatchRecord{}
	for rows.Next() {
		r, err := scanDispatch(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating dispatches: %w", err)
	}
	return records, nil
}

// scanDispatch scans a row into a DispatchRecord.
func scanDispatch(scanner interface{ Scan(dest ...any) error }) (DispatchRecord, error) {
	var r DispatchRecord
	var startedAt int64
	var status, deliveries string

	if err := scanner.Scan(
		&r.ID,
		&r.Event,
		&startedAt,
		&r.DurationMS,
		&status,
		&r.Stage,
		&deliveries,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("scanning dispatch: %w", err)
	}

	r.StartedAt = time.Unix(0, startedAt).UTC()
	r.Status = DispatchStatus(status)
	if err := json.Unmarshal([]byte(deliveries), &r.Deliveries); err != nil {
		return r, fmt.Errorf("unmarshaling deliveries: %w", err)
	}
	return r, nil
}
