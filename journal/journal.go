// Package journal records session lifecycle events and watchdog trigger
// days in SQLite, so an operator can see why the bot stopped and a watchdog
// never fires twice on the same calendar day, even across restarts.
package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

// Event kinds written by the controller, watchdogs and control API.
const (
	KindStarted     = "started"
	KindStopped     = "stopped"
	KindModeChanged = "mode_changed"
	KindPanic       = "panic"
	KindMarginTrip  = "margin_trip"
	KindExpiryTrip  = "expiry_trip"
)

// Event is one recorded state transition.
type Event struct {
	ID     string    `json:"id"`
	At     time.Time `json:"at"`
	Kind   string    `json:"kind"`
	Detail string    `json:"detail"`
}

// Journal wraps the SQLite handle.
type Journal struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id     TEXT PRIMARY KEY,
	at     TEXT NOT NULL,
	kind   TEXT NOT NULL,
	detail TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_at ON events(at);
CREATE TABLE IF NOT EXISTS watchdog_triggers (
	kind     TEXT NOT NULL,
	fired_on TEXT NOT NULL,
	PRIMARY KEY (kind, fired_on)
);`

// Open opens (and creates if needed) the journal database at path.
// ":memory:" is supported for tests.
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite prefers single writer.

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close releases the underlying DB handle.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Record appends one event.
func (j *Journal) Record(kind, detail string) error {
	_, err := j.db.Exec(
		"INSERT INTO events (id, at, kind, detail) VALUES (?, ?, ?, ?)",
		uuid.NewString(), time.Now().UTC().Format(time.RFC3339Nano), kind, detail,
	)
	if err != nil {
		return fmt.Errorf("record journal event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (j *Journal) Recent(limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.Query(
		"SELECT id, at, kind, detail FROM events ORDER BY at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query journal events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var at string
		if err := rows.Scan(&e.ID, &at, &e.Kind, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan journal event: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, at); err == nil {
			e.At = ts
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// DayKey renders a time as the calendar-day key used for trigger records.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// MarkTriggered records that a watchdog kind fired on the given day.
// Re-marking the same day is a no-op.
func (j *Journal) MarkTriggered(kind, day string) error {
	_, err := j.db.Exec(
		"INSERT OR IGNORE INTO watchdog_triggers (kind, fired_on) VALUES (?, ?)", kind, day)
	if err != nil {
		return fmt.Errorf("mark watchdog trigger: %w", err)
	}
	return nil
}

// Triggered reports whether a watchdog kind already fired on the given day.
func (j *Journal) Triggered(kind, day string) (bool, error) {
	var n int
	err := j.db.QueryRow(
		"SELECT COUNT(1) FROM watchdog_triggers WHERE kind = ? AND fired_on = ?", kind, day).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query watchdog trigger: %w", err)
	}
	return n > 0, nil
}
