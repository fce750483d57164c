package database

import "time"

// Outcome values stored in the journal.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

// JournalEntry records one finished dashboard action.
type JournalEntry struct {
	ID         string
	Action     string // "query", "summarize-basic", "upload", "list-documents", ...
	Outcome    string
	Message    string // user-facing message, empty on success
	Detail     string // underlying error or a short success summary
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is the wall-clock time the action took.
func (e JournalEntry) Duration() time.Duration {
	return e.FinishedAt.Sub(e.StartedAt)
}

// Stats contains aggregate journal statistics.
type Stats struct {
	TotalActions  int
	FailedActions int
	LastFailure   *JournalEntry
}
