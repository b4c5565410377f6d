// ABOUTME: SQLite-backed delivery log using modernc.org/sqlite
// ABOUTME: Records every send outcome with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Entry is one delivery log row.
type Entry struct {
	ID        string
	Recipient string
	Status    string // sent | blocked | error
	ErrorText string
	Attempts  int
	CreatedAt time.Time
}

// StatusCount pairs a delivery status with its row count.
type StatusCount struct {
	Status string
	Count  int
}

// DeliveryLog persists send outcomes in SQLite.
type DeliveryLog struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates a delivery log at the given path. The schema is created if
// it doesn't exist, and parent directories are created if needed.
func Open(path string) (*DeliveryLog, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	l := &DeliveryLog{
		db:     db,
		logger: logger,
	}

	if err := l.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("delivery log initialized", "path", path)
	return l, nil
}

// createSchema creates the delivery_log table if it doesn't exist.
func (l *DeliveryLog) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS delivery_log (
			id TEXT PRIMARY KEY,
			recipient TEXT NOT NULL,
			status TEXT NOT NULL,
			error_text TEXT NOT NULL DEFAULT '',
			attempts INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_delivery_log_recipient
			ON delivery_log(recipient);

		CREATE INDEX IF NOT EXISTS idx_delivery_log_created_at
			ON delivery_log(created_at);
	`

	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Append records a send outcome. ID and CreatedAt are generated when unset.
func (l *DeliveryLog) Append(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Attempts <= 0 {
		e.Attempts = 1
	}

	query := `
		INSERT INTO delivery_log (id, recipient, status, error_text, attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := l.db.ExecContext(ctx, query,
		e.ID,
		e.Recipient,
		e.Status,
		e.ErrorText,
		e.Attempts,
		e.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting delivery entry: %w", err)
	}

	l.logger.Debug("appended delivery entry",
		"id", e.ID,
		"recipient", e.Recipient,
		"status", e.Status,
	)
	return nil
}

// Recent returns the newest entries, most recent first. Limit defaults to
// 100 and is capped at 1000.
func (l *DeliveryLog) Recent(ctx context.Context, limit int) ([]*Entry, error) {
	switch {
	case limit <= 0:
		limit = 100
	case limit > 1000:
		limit = 1000
	}

	query := `
		SELECT id, recipient, status, error_text, attempts, created_at
		FROM delivery_log
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	rows, err := l.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying delivery log: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Recipient, &e.Status, &e.ErrorText, &e.Attempts, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning delivery entry: %w", err)
		}
		e.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at %q: %w", createdAt, err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// CountsByStatus returns row counts grouped by delivery status.
func (l *DeliveryLog) CountsByStatus(ctx context.Context) ([]StatusCount, error) {
	query := `
		SELECT status, COUNT(*)
		FROM delivery_log
		GROUP BY status
		ORDER BY status
	`

	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("counting delivery entries: %w", err)
	}
	defer rows.Close()

	var counts []StatusCount
	for rows.Next() {
		var sc StatusCount
		if err := rows.Scan(&sc.Status, &sc.Count); err != nil {
			return nil, fmt.Errorf("scanning status count: %w", err)
		}
		counts = append(counts, sc)
	}
	return counts, rows.Err()
}

// PurgeOlderThan deletes entries older than the given age and returns how
// many rows were removed.
func (l *DeliveryLog) PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-age).Format(time.RFC3339)

	result, err := l.db.ExecContext(ctx, "DELETE FROM delivery_log WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging delivery log: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the underlying database.
func (l *DeliveryLog) Close() error {
	return l.db.Close()
}
