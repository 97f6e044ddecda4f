// Package archive persists finished audit events in a local SQLite
// database. It is a durable sink with a couple of inspection helpers,
// not a query layer.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/yairfalse/auditstream/pkg/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id           TEXT PRIMARY KEY,
	ts_unix_ms   INTEGER NOT NULL,
	serial       INTEGER NOT NULL,
	reason       TEXT NOT NULL,
	record_count INTEGER NOT NULL,
	body         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts_unix_ms, serial);
`

// Store is a SQLite archive of finished events. The body column holds
// the full JSON rendering; the remaining columns exist for ordering and
// counting without decoding bodies.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens or creates the archive database at path.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	// SQLite allows one writer at a time; a single connection avoids
	// lock contention entirely.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize archive schema: %w", err)
	}

	logger.Info("Event archive opened", zap.String("path", path))
	return &Store{db: db, logger: logger}, nil
}

// SaveEvent inserts one finished event. Event IDs are unique, so a
// second insert of the same event fails.
func (s *Store) SaveEvent(ctx context.Context, ev *domain.AuditEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (id, ts_unix_ms, serial, reason, record_count, body)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.Key.Time, int64(ev.Key.Serial), string(ev.Reason), len(ev.Records), string(body))
	if err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	return nil
}

// CountEvents returns the number of archived events.
func (s *Store) CountEvents(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// RecentEvents returns up to limit events, newest first by kernel
// timestamp then serial.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]*domain.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT body FROM events ORDER BY ts_unix_ms DESC, serial DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*domain.AuditEvent
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		var ev domain.AuditEvent
		if err := json.Unmarshal([]byte(body), &ev); err != nil {
			return nil, fmt.Errorf("failed to decode archived event: %w", err)
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
