package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Timestamps are stored fixed-width in UTC so text order is time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// RecordAction stores a finished action. A missing ID is generated.
func (db *DB) RecordAction(e JournalEntry) error {
	_, err := db.InsertJournalEntry(e)
	return err
}

// InsertJournalEntry stores e and returns its ID.
func (db *DB) InsertJournalEntry(e JournalEntry) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Outcome != OutcomeSucceeded && e.Outcome != OutcomeFailed {
		return "", fmt.Errorf("invalid outcome %q", e.Outcome)
	}
	_, err := db.conn.Exec(
		`INSERT INTO action_journal (id, action, outcome, message, detail, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Action, e.Outcome, e.Message, e.Detail,
		e.StartedAt.UTC().Format(timeLayout), e.FinishedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return "", fmt.Errorf("inserting journal entry: %w", err)
	}
	return e.ID, nil
}

// GetRecentJournal returns up to limit entries, newest first.
func (db *DB) GetRecentJournal(limit int) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.Query(
		`SELECT id, action, outcome, message, detail, started_at, finished_at
		FROM action_journal ORDER BY finished_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// GetStats returns aggregate journal statistics.
func (db *DB) GetStats() (*Stats, error) {
	var s Stats
	err := db.conn.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN outcome = 'failed' THEN 1 ELSE 0 END), 0)
		FROM action_journal`,
	).Scan(&s.TotalActions, &s.FailedActions)
	if err != nil {
		return nil, err
	}

	row := db.conn.QueryRow(
		`SELECT id, action, outcome, message, detail, started_at, finished_at
		FROM action_journal WHERE outcome = 'failed'
		ORDER BY finished_at DESC, rowid DESC LIMIT 1`,
	)
	last, err := scanEntry(row)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	s.LastFailure = last
	return &s, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (*JournalEntry, error) {
	var e JournalEntry
	var started, finished string
	if err := sc.Scan(&e.ID, &e.Action, &e.Outcome, &e.Message, &e.Detail, &started, &finished); err != nil {
		return nil, err
	}
	var err error
	if e.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	if e.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
		return nil, fmt.Errorf("parsing finished_at: %w", err)
	}
	return &e, nil
}
