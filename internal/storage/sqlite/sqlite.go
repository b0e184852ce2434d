// Package sqlite provides a SQLite-backed implementation of the
// storage.Store interface. Documents are persisted as JSON rows, which
// keeps the backend a drop-in stand-in for the document store in local
// runs and tests.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/yicheng-lo/prayerbot/internal/models"
	"github.com/yicheng-lo/prayerbot/internal/storage"
)

// Ensure SQLiteStore implements storage.Store
var _ storage.Store = (*SQLiteStore)(nil)

// SQLiteStore implements storage.Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLiteStore with the given database path.
// It creates the parent directories and runs migrations automatically.
func New(dbPath string) (*SQLiteStore, error) {
	// Create parent directory if it doesn't exist
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open database with pure Go driver
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}

	// Run migrations
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database file is still reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetGroup retrieves a group document by ID.
func (s *SQLiteStore) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, "SELECT doc FROM groups WHERE id = ?", groupID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}

	group := &models.Group{}
	if err := json.Unmarshal(raw, group); err != nil {
		return nil, fmt.Errorf("failed to decode group document: %w", err)
	}
	return group, nil
}

// PutGroup writes the full group document, creating or replacing it.
func (s *SQLiteStore) PutGroup(ctx context.Context, group *models.Group) error {
	now := time.Now().UTC()
	if group.CreatedAt.IsZero() {
		group.CreatedAt = now
	}
	group.UpdatedAt = now

	raw, err := json.Marshal(group)
	if err != nil {
		return fmt.Errorf("failed to encode group document: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO groups (id, doc) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET doc = excluded.doc",
		group.ID, raw,
	)
	if err != nil {
		return fmt.Errorf("failed to put group: %w", err)
	}
	return nil
}

// UpdateGroupFields applies a dotted-path partial update to a group document.
func (s *SQLiteStore) UpdateGroupFields(ctx context.Context, groupID string, fields map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var raw []byte
	err = tx.QueryRowContext(ctx, "SELECT doc FROM groups WHERE id = ?", groupID).Scan(&raw)
	if err == sql.ErrNoRows {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get group: %w", err)
	}

	updated, err := applyFields(raw, fields)
	if err != nil {
		return fmt.Errorf("failed to apply group update: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "UPDATE groups SET doc = ? WHERE id = ?", updated, groupID); err != nil {
		return fmt.Errorf("failed to update group: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetRound retrieves a round document by ID.
func (s *SQLiteStore) GetRound(ctx context.Context, roundID string) (*models.Round, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, "SELECT doc FROM rounds WHERE id = ?", roundID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get round: %w", err)
	}

	round := &models.Round{}
	if err := json.Unmarshal(raw, round); err != nil {
		return nil, fmt.Errorf("failed to decode round document: %w", err)
	}
	return round, nil
}

// PutRound writes the full round document, creating or replacing it.
func (s *SQLiteStore) PutRound(ctx context.Context, round *models.Round) error {
	if round.CreatedTime.IsZero() {
		round.CreatedTime = time.Now().UTC()
	}

	raw, err := json.Marshal(round)
	if err != nil {
		return fmt.Errorf("failed to encode round document: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO rounds (id, group_id, created_time, is_active, doc) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET group_id = excluded.group_id, created_time = excluded.created_time,
		 is_active = excluded.is_active, doc = excluded.doc`,
		round.ID, round.GroupID, round.CreatedTime.UnixNano(), boolToInt(round.IsActive), raw,
	)
	if err != nil {
		return fmt.Errorf("failed to put round: %w", err)
	}
	return nil
}

// UpdateRoundFields applies a dotted-path partial update to a round document
// and refreshes the extracted query columns.
func (s *SQLiteStore) UpdateRoundFields(ctx context.Context, roundID string, fields map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var raw []byte
	err = tx.QueryRowContext(ctx, "SELECT doc FROM rounds WHERE id = ?", roundID).Scan(&raw)
	if err == sql.ErrNoRows {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get round: %w", err)
	}

	updated, err := applyFields(raw, fields)
	if err != nil {
		return fmt.Errorf("failed to apply round update: %w", err)
	}

	// Re-extract the filter columns in case the update touched them.
	round := &models.Round{}
	if err := json.Unmarshal(updated, round); err != nil {
		return fmt.Errorf("failed to decode updated round: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE rounds SET doc = ?, is_active = ?, created_time = ? WHERE id = ?",
		updated, boolToInt(round.IsActive), round.CreatedTime.UnixNano(), roundID,
	)
	if err != nil {
		return fmt.Errorf("failed to update round: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LatestRoundBefore returns the most recent round of the group created
// strictly before the given instant.
func (s *SQLiteStore) LatestRoundBefore(ctx context.Context, groupID string, before time.Time) (*models.Round, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT doc FROM rounds WHERE group_id = ? AND created_time < ? ORDER BY created_time DESC LIMIT 1",
		groupID, before.UnixNano(),
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query prior round: %w", err)
	}

	round := &models.Round{}
	if err := json.Unmarshal(raw, round); err != nil {
		return nil, fmt.Errorf("failed to decode round document: %w", err)
	}
	return round, nil
}

// applyFields applies dotted-path updates to a JSON document, resolving the
// storage sentinels the same way the mongo backend maps them to operators.
func applyFields(raw []byte, fields map[string]any) ([]byte, error) {
	doc := map[string]any{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}

	now := time.Now().UTC()
	for path, value := range fields {
		segments := strings.Split(path, ".")
		node := doc
		for _, seg := range segments[:len(segments)-1] {
			child, ok := node[seg].(map[string]any)
			if !ok {
				child = map[string]any{}
				node[seg] = child
			}
			node = child
		}

		last := segments[len(segments)-1]
		switch value {
		case any(storage.ServerTimestamp):
			node[last] = now.Format(time.RFC3339Nano)
		case any(storage.DeleteField):
			delete(node, last)
		default:
			node[last] = value
		}
	}

	return json.Marshal(doc)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
