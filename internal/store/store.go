// Package store keeps an SQLite archive of AI suggestions so pending and
// recently resolved suggestions survive a restart.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"smartclimate/internal/models"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const driverName = "sqlite"

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// queryTimeout bounds every statement issued through the Archive interface,
// which carries no context of its own.
const queryTimeout = 5 * time.Second

const schemaSuggestions = `
CREATE TABLE IF NOT EXISTS suggestions (
    id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    room TEXT,
    action_type TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    payload TEXT NOT NULL
);
`

const schemaSuggestionsStatusIdx = `
CREATE INDEX IF NOT EXISTS idx_suggestions_status ON suggestions (status);
`

// Store is the suggestion archive.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// Open opens or creates the database at path and ensures the schema exists.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir %q: %w", dir, err)
		}
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", path, err)
	}

	// SQLite allows a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return New(db, logger), nil
}

// New wraps an already opened database. The schema is assumed to exist.
func New(db *sql.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:     db,
		logger: logger.Named("store"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func ensureSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i, stmt := range []string{schemaSuggestions, schemaSuggestionsStatusIdx} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema transaction: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save inserts or replaces the snapshot of a suggestion.
func (s *Store) Save(sg *models.Suggestion) error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	return s.SaveContext(ctx, sg)
}

// SaveContext is Save with a caller supplied context.
func (s *Store) SaveContext(ctx context.Context, sg *models.Suggestion) error {
	if sg == nil || sg.ID == "" {
		return fmt.Errorf("save suggestion: missing id")
	}
	payload, err := json.Marshal(sg)
	if err != nil {
		return fmt.Errorf("marshal suggestion %s: %w", sg.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO suggestions (id, status, room, action_type, created_at, updated_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			room = excluded.room,
			updated_at = excluded.updated_at,
			payload = excluded.payload
	`,
		sg.ID,
		string(sg.Status),
		nullString(sg.Room),
		string(sg.ActionType),
		sg.CreatedAt.UTC().Format(timeLayout),
		s.now().Format(timeLayout),
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("save suggestion %s: %w", sg.ID, err)
	}
	return nil
}

// LoadAll returns every archived suggestion, oldest first. Rows whose payload
// cannot be decoded are skipped with a warning.
func (s *Store) LoadAll(ctx context.Context) ([]*models.Suggestion, error) {
	return s.query(ctx, `SELECT id, payload FROM suggestions ORDER BY created_at ASC, id ASC`)
}

// LoadByStatus returns the archived suggestions in one status, oldest first.
func (s *Store) LoadByStatus(ctx context.Context, status models.SuggestionStatus) ([]*models.Suggestion, error) {
	return s.query(ctx,
		`SELECT id, payload FROM suggestions WHERE status = ? ORDER BY created_at ASC, id ASC`,
		string(status))
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]*models.Suggestion, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query suggestions: %w", err)
	}
	defer rows.Close()

	var out []*models.Suggestion
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("scan suggestion: %w", err)
		}
		var sg models.Suggestion
		if err := json.Unmarshal([]byte(payload), &sg); err != nil {
			s.logger.Warn("Skipping undecodable suggestion", zap.String("id", id), zap.Error(err))
			continue
		}
		out = append(out, &sg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate suggestions: %w", err)
	}
	return out, nil
}

// Prune deletes resolved suggestions created before cutoff. Pending rows are
// kept regardless of age. It returns the number of deleted rows.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM suggestions WHERE status <> ? AND created_at < ?`,
		string(models.StatusPending),
		cutoff.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("prune suggestions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune suggestions: %w", err)
	}
	return n, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
