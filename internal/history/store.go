package history

import (
	"context"
	"database/sql"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	ferrors "git.home.luguber.info/inful/buildwatch/internal/foundation/errors"
)

// Store records build attempts in SQLite. One row per attempt: inserted on
// start, updated as the attempt finishes, is killed, or reports diagnostics.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Attempt is one recorded build attempt.
type Attempt struct {
	Builder     string        `json:"builder"`
	AttemptID   string        `json:"attempt"`
	Reason      string        `json:"reason"`
	ExitCode    int           `json:"exit_code"`
	Killed      bool          `json:"killed"`
	Finished    bool          `json:"finished"`
	Diagnostics int           `json:"diagnostics"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
	Duration    time.Duration `json:"duration"`
}

// NewStore opens (or creates) the history database.
// Use ":memory:" for an in-memory database.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, ferrors.HistoryError("cannot open history database").
			WithCause(err).
			WithContext("path", dbPath).
			Build()
	}

	store := &Store{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, ferrors.HistoryError("cannot initialize history schema").
			WithCause(err).
			WithContext("path", dbPath).
			Build()
	}
	return store, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		attempt_id TEXT NOT NULL UNIQUE,
		builder TEXT NOT NULL,
		reason TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		duration_ms INTEGER,
		exit_code INTEGER,
		killed INTEGER NOT NULL DEFAULT 0,
		diagnostics INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_attempts_builder ON attempts(builder);
	CREATE INDEX IF NOT EXISTS idx_attempts_started ON attempts(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordStart inserts a fresh attempt row.
func (s *Store) RecordStart(ctx context.Context, builder, attemptID, reason string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO attempts (attempt_id, builder, reason, started_at) VALUES (?, ?, ?, ?)",
		attemptID, builder, reason, startedAt.UnixMilli(),
	)
	if err != nil {
		return ferrors.HistoryError("cannot record attempt start").WithCause(err).Build()
	}
	return nil
}

// RecordFinish marks an attempt as completed with its exit code.
func (s *Store) RecordFinish(ctx context.Context, attemptID string, exitCode int, duration time.Duration, finishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"UPDATE attempts SET finished_at = ?, duration_ms = ?, exit_code = ? WHERE attempt_id = ?",
		finishedAt.UnixMilli(), duration.Milliseconds(), exitCode, attemptID,
	)
	if err != nil {
		return ferrors.HistoryError("cannot record attempt finish").WithCause(err).Build()
	}
	return nil
}

// RecordKilled marks an attempt as killed before completion.
func (s *Store) RecordKilled(ctx context.Context, attemptID string, killedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"UPDATE attempts SET finished_at = ?, killed = 1 WHERE attempt_id = ?",
		killedAt.UnixMilli(), attemptID,
	)
	if err != nil {
		return ferrors.HistoryError("cannot record attempt kill").WithCause(err).Build()
	}
	return nil
}

// RecordDiagnostics stores the diagnostic count reported by an attempt.
func (s *Store) RecordDiagnostics(ctx context.Context, attemptID string, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"UPDATE attempts SET diagnostics = ? WHERE attempt_id = ?",
		total, attemptID,
	)
	if err != nil {
		return ferrors.HistoryError("cannot record diagnostics count").WithCause(err).Build()
	}
	return nil
}

// Recent returns the newest attempts, optionally filtered by builder name.
func (s *Store) Recent(ctx context.Context, builder string, limit int) ([]Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}

	query := "SELECT attempt_id, builder, reason, started_at, finished_at, duration_ms, exit_code, killed, diagnostics FROM attempts"
	args := []any{}
	if builder != "" {
		query += " WHERE builder = ?"
		args = append(args, builder)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ferrors.HistoryError("cannot query attempts").WithCause(err).Build()
	}
	defer rows.Close()

	return scanAttempts(rows)
}

// Prune deletes attempts started before the cutoff, returning the row count.
func (s *Store) Prune(ctx context.Context, keep time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-keep).UnixMilli()
	res, err := s.db.ExecContext(ctx, "DELETE FROM attempts WHERE started_at < ?", cutoff)
	if err != nil {
		return 0, ferrors.HistoryError("cannot prune attempts").WithCause(err).Build()
	}
	return res.RowsAffected()
}

func scanAttempts(rows *sql.Rows) ([]Attempt, error) {
	var attempts []Attempt
	for rows.Next() {
		var (
			a          Attempt
			startedMS  int64
			finishedMS sql.NullInt64
			durationMS sql.NullInt64
			exitCode   sql.NullInt64
			killed     int
		)
		err := rows.Scan(&a.AttemptID, &a.Builder, &a.Reason, &startedMS, &finishedMS, &durationMS, &exitCode, &killed, &a.Diagnostics)
		if err != nil {
			return nil, ferrors.HistoryError("cannot scan attempt row").WithCause(err).Build()
		}

		a.StartedAt = time.UnixMilli(startedMS)
		a.Killed = killed != 0
		a.ExitCode = -1
		if finishedMS.Valid {
			a.Finished = true
			a.FinishedAt = time.UnixMilli(finishedMS.Int64)
		}
		if durationMS.Valid {
			a.Duration = time.Duration(durationMS.Int64) * time.Millisecond
		}
		if exitCode.Valid {
			a.ExitCode = int(exitCode.Int64)
		}
		attempts = append(attempts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, ferrors.HistoryError("cannot iterate attempt rows").WithCause(err).Build()
	}
	return attempts, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
