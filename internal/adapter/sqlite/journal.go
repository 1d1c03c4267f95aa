package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/cwygoda/streamrelay/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id      TEXT NOT NULL,
    kind        TEXT NOT NULL,
    idx         INTEGER NOT NULL DEFAULT 0,
    total       INTEGER NOT NULL DEFAULT 0,
    attempts    INTEGER NOT NULL DEFAULT 0,
    chat        TEXT,
    reason      TEXT,
    final_state TEXT,
    destination TEXT,
    source      TEXT,
    created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_events_job ON events(job_id, id);
`

// Journal records lifecycle notifications in SQLite. It implements
// domain.NotificationSink.
type Journal struct {
	db *sql.DB
}

// New opens the journal at dbPath, initializing the schema if needed.
func New(dbPath string) (*Journal, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// Job loops write concurrently; serialize on one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &Journal{db: db}, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Notify appends n to the journal.
func (j *Journal) Notify(ctx context.Context, n domain.Notification) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO events (job_id, kind, idx, total, attempts, chat, reason, final_state, destination, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.JobID, string(n.Kind), n.Index, n.Total, n.Attempts, n.Chat,
		n.Reason, string(n.FinalState), n.DestinationURL, n.SourcePath, time.Now(),
	)
	return err
}

// Events returns the notifications recorded for jobID in order. Unknown
// jobs yield domain.ErrJobNotFound.
func (j *Journal) Events(ctx context.Context, jobID string) ([]domain.RecordedEvent, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, job_id, kind, idx, total, attempts, COALESCE(chat, ''), COALESCE(reason, ''), COALESCE(final_state, ''),
		        COALESCE(destination, ''), COALESCE(source, ''), created_at
		 FROM events WHERE job_id = ? ORDER BY id ASC`, jobID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.RecordedEvent
	for rows.Next() {
		var ev domain.RecordedEvent
		var kind, state string
		if err := rows.Scan(&ev.ID, &ev.JobID, &kind, &ev.Index, &ev.Total, &ev.Attempts,
			&ev.Chat, &ev.Reason, &state, &ev.DestinationURL, &ev.SourcePath, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Kind = domain.EventKind(kind)
		ev.FinalState = domain.JobState(state)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, domain.ErrJobNotFound
	}
	return events, nil
}

// Unfinished returns ids of jobs that were accepted but never finished,
// typically because the process stopped while they ran.
func (j *Journal) Unfinished(ctx context.Context) ([]string, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT DISTINCT job_id FROM events
		 WHERE kind = ? AND job_id NOT IN (SELECT job_id FROM events WHERE kind = ?)
		 ORDER BY job_id`,
		string(domain.EventAccepted), string(domain.EventFinished),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
