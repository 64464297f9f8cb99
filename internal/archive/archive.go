// Package archive keeps a local SQLite index of prompt archives,
// checkpoints, and rollbacks so `ralph status` can answer "what happened"
// without re-scanning the archive directory. It is a query convenience
// over files the iteration driver already writes, not a dashboard
// history store.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// recentQueryInterval bounds how often Recent actually hits the database;
// a caller polling `ralph status` in a tight loop gets the last query's
// result instead of re-scanning the table on every call.
const recentQueryInterval = 200 * time.Millisecond

const schema = `
CREATE TABLE IF NOT EXISTS archive_entries (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	kind       TEXT NOT NULL,
	iteration  INTEGER NOT NULL,
	path       TEXT NOT NULL DEFAULT '',
	commit_sha TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
`

// Kinds of events the index records.
const (
	KindPromptArchive = "prompt_archive"
	KindCheckpoint    = "checkpoint"
	KindRollback      = "rollback"
)

// Entry is one recorded event.
type Entry struct {
	ID        int64
	Kind      string
	Iteration int
	Path      string
	CommitSHA string
	CreatedAt time.Time
}

// Index is a SQLite-backed log of archive events.
type Index struct {
	db  *sql.DB
	now func() time.Time

	queryLimiter *rate.Limiter
	lastEntries  []Entry
	lastErr      error
}

// Open creates (if needed) and opens the SQLite database at path.
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive index: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping archive index: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize archive schema: %w", err)
	}
	return &Index{
		db:           db,
		now:          time.Now,
		queryLimiter: rate.NewLimiter(rate.Every(recentQueryInterval), 1),
	}, nil
}

// Close closes the underlying database handle.
func (i *Index) Close() error {
	return i.db.Close()
}

// SetClock overrides the time source; used by tests.
func (i *Index) SetClock(now func() time.Time) {
	i.now = now
}

func (i *Index) record(ctx context.Context, kind string, iteration int, path, sha string) error {
	_, err := i.db.ExecContext(ctx,
		`INSERT INTO archive_entries (kind, iteration, path, commit_sha, created_at) VALUES (?, ?, ?, ?, ?)`,
		kind, iteration, path, sha, i.now(),
	)
	if err != nil {
		return fmt.Errorf("failed to record %s entry: %w", kind, err)
	}
	return nil
}

// RecordPromptArchive logs a written prompt archive file.
func (i *Index) RecordPromptArchive(ctx context.Context, iteration int, path string) error {
	return i.record(ctx, KindPromptArchive, iteration, path, "")
}

// RecordCheckpoint logs a successful git checkpoint commit.
func (i *Index) RecordCheckpoint(ctx context.Context, iteration int, commitSHA string) error {
	return i.record(ctx, KindCheckpoint, iteration, "", commitSHA)
}

// RecordRollback logs a rollback.
func (i *Index) RecordRollback(ctx context.Context, iteration int) error {
	return i.record(ctx, KindRollback, iteration, "", "")
}

// Recent returns the most recently recorded entries, newest first,
// capped at limit. Calls faster than recentQueryInterval apart reuse the
// previous query's result instead of re-hitting the database.
func (i *Index) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	if !i.queryLimiter.Allow() {
		return i.lastEntries, i.lastErr
	}

	entries, err := i.queryRecent(ctx, limit)
	i.lastEntries, i.lastErr = entries, err
	return entries, err
}

func (i *Index) queryRecent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := i.db.QueryContext(ctx,
		`SELECT id, kind, iteration, path, commit_sha, created_at FROM archive_entries ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query archive entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Kind, &e.Iteration, &e.Path, &e.CommitSHA, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan archive entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
