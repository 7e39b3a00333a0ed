// Package journal persists an audit trail of executed trades in SQLite.
// Sessions themselves are process-lifetime only; the journal is the one
// thing worth keeping across restarts.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Entry is one journal row.
type Entry struct {
	ID       string
	UserID   string
	Broker   string
	Action   string
	Symbol   string
	Quantity int
	Price    string
	OrderID  string
	Status   string
	Note     string
	At       time.Time
}

// Journal is a SQLite-backed trade journal.
type Journal struct {
	db *sql.DB
}

// Open creates or opens a journal database at the given path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		broker TEXT NOT NULL,
		action TEXT NOT NULL,
		symbol TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		price TEXT NOT NULL,
		order_id TEXT,
		status TEXT NOT NULL,
		note TEXT,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trades_user_id ON trades(user_id);
	CREATE INDEX IF NOT EXISTS idx_trades_created_at ON trades(created_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Record appends one trade outcome. A zero-ID entry gets a fresh UUID.
func (j *Journal) Record(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.At.IsZero() {
		entry.At = time.Now()
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO trades (id, user_id, broker, action, symbol, quantity, price, order_id, status, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.UserID, entry.Broker, entry.Action, entry.Symbol, entry.Quantity,
		entry.Price, entry.OrderID, entry.Status, entry.Note, entry.At)
	if err != nil {
		return fmt.Errorf("record trade: %w", err)
	}
	return nil
}

// Recent returns a user's most recent journal entries, newest first.
func (j *Journal) Recent(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, user_id, broker, action, symbol, quantity, price, order_id, status, note, created_at
		FROM trades
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Broker, &e.Action, &e.Symbol, &e.Quantity,
			&e.Price, &e.OrderID, &e.Status, &e.Note, &e.At); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}
