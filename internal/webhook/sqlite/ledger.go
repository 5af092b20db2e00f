// Package sqlite provides the SQLite-backed webhook.Ledger.
//
// The table is append-only with a uniqueness constraint on
// (provider, event_id): a replayed delivery's insert affects zero rows,
// which is the entire dedup mechanism — no read-modify-write race.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS webhook_events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    provider    TEXT NOT NULL,
    event_id    TEXT NOT NULL,
    event_type  TEXT NOT NULL DEFAULT '',
    received_at TEXT NOT NULL,
    UNIQUE (provider, event_id)
);
`

// Ledger records processed webhook event ids.
type Ledger struct {
	db *sql.DB
}

// Open opens (or creates) the ledger database at path.
func Open(path string) (*Ledger, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open ledger %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply ledger schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error { return l.db.Close() }

// Record inserts the event id, returning false when it was already present.
func (l *Ledger) Record(ctx context.Context, provider, eventID, eventType string) (bool, error) {
	res, err := l.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO webhook_events (provider, event_id, event_type, received_at)
		 VALUES (?, ?, ?, ?)`,
		provider, eventID, eventType,
		time.Now().UTC().Format("2006-01-02T15:04:05.999999999Z"),
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: record webhook event %s/%s: %w", provider, eventID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: record webhook event %s/%s: %w", provider, eventID, err)
	}
	return n > 0, nil
}
