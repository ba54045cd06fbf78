package runs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store manages run provenance persistence backed by SQLite. Records are
// append-only: a run and its stage executions are only mutated by the
// coordinator that owns them, and never after they reach a terminal status.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Open initializes or connects to the run history database.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure run history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// CreateRun inserts a new pending run for the given pipeline.
func (s *Store) CreateRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		return errors.New("run id is required")
	}
	if run.Status == "" {
		run.Status = StatusPending
	}
	return s.execWithRetry(ctx,
		`INSERT INTO runs (id, pipeline, status, trigger_time, started_at, ended_at, failed_stage, error_message)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.Pipeline,
		string(run.Status),
		formatTime(run.TriggerTime),
		nullableTime(run.StartedAt),
		nullableTime(run.EndedAt),
		run.FailedStage,
		run.ErrorMessage,
	)
}

// UpdateRun persists the mutable fields of a run.
func (s *Store) UpdateRun(ctx context.Context, run *Run) error {
	return s.execWithRetry(ctx,
		`UPDATE runs SET status = ?, started_at = ?, ended_at = ?, failed_stage = ?, error_message = ?
         WHERE id = ?`,
		string(run.Status),
		nullableTime(run.StartedAt),
		nullableTime(run.EndedAt),
		run.FailedStage,
		run.ErrorMessage,
		run.ID,
	)
}

// InsertExecution appends a stage execution record to a run and assigns its ID.
func (s *Store) InsertExecution(ctx context.Context, exec *StageExecution) error {
	ctx = ensureContext(ctx)
	if exec.Status == "" {
		exec.Status = ExecPending
	}
	var res sql.Result
	err := retryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx,
			`INSERT INTO stage_executions (run_id, stage, position, status, attempt_count, started_at, ended_at,
                 input_payload, output_payload, skip_reason, error_kind, error_message)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			exec.RunID,
			exec.Stage,
			exec.Position,
			string(exec.Status),
			exec.AttemptCount,
			nullableTime(exec.StartedAt),
			nullableTime(exec.EndedAt),
			exec.InputPayload,
			exec.OutputPayload,
			exec.SkipReason,
			exec.ErrorKind,
			exec.ErrorMessage,
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("insert stage execution: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	exec.ID = id
	return nil
}

// UpdateExecution persists the resolution of a stage execution.
func (s *Store) UpdateExecution(ctx context.Context, exec *StageExecution) error {
	return s.execWithRetry(ctx,
		`UPDATE stage_executions SET status = ?, attempt_count = ?, started_at = ?, ended_at = ?,
             input_payload = ?, output_payload = ?, skip_reason = ?, error_kind = ?, error_message = ?
         WHERE id = ?`,
		string(exec.Status),
		exec.AttemptCount,
		nullableTime(exec.StartedAt),
		nullableTime(exec.EndedAt),
		exec.InputPayload,
		exec.OutputPayload,
		exec.SkipReason,
		exec.ErrorKind,
		exec.ErrorMessage,
		exec.ID,
	)
}

// GetRun fetches a run with its stage executions in position order. Returns
// nil when no run matches.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx,
		`SELECT id, pipeline, status, trigger_time, started_at, ended_at, failed_stage, error_message
         FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	if err := s.loadExecutions(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// Filter narrows run history queries.
type Filter struct {
	Pipeline string
	Since    time.Time
	Until    time.Time
	Limit    int
}

// ListRuns returns runs matching the filter, newest trigger first, with their
// stage executions attached.
func (s *Store) ListRuns(ctx context.Context, filter Filter) ([]*Run, error) {
	ctx = ensureContext(ctx)

	var (
		clauses []string
		args    []any
	)
	if filter.Pipeline != "" {
		clauses = append(clauses, "pipeline = ?")
		args = append(args, filter.Pipeline)
	}
	if !filter.Since.IsZero() {
		clauses = append(clauses, "trigger_time >= ?")
		args = append(args, formatTime(filter.Since))
	}
	if !filter.Until.IsZero() {
		clauses = append(clauses, "trigger_time <= ?")
		args = append(args, formatTime(filter.Until))
	}

	query := `SELECT id, pipeline, status, trigger_time, started_at, ended_at, failed_stage, error_message FROM runs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY trigger_time DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var result []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		result = append(result, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	for _, run := range result {
		if err := s.loadExecutions(ctx, run); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// CountRunning returns the number of runs currently in the running state for
// a pipeline. Used by health checks; the overlap guard itself is in-process.
func (s *Store) CountRunning(ctx context.Context, pipeline string) (int, error) {
	ctx = ensureContext(ctx)
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM runs WHERE pipeline = ? AND status = ?`,
		pipeline, string(StatusRunning),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count running: %w", err)
	}
	return count, nil
}

func (s *Store) loadExecutions(ctx context.Context, run *Run) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, stage, position, status, attempt_count, started_at, ended_at,
                input_payload, output_payload, skip_reason, error_kind, error_message
         FROM stage_executions WHERE run_id = ? ORDER BY position`, run.ID)
	if err != nil {
		return fmt.Errorf("load stage executions: %w", err)
	}
	defer rows.Close()

	run.Executions = run.Executions[:0]
	for rows.Next() {
		var (
			exec      StageExecution
			status    string
			startedAt sql.NullString
			endedAt   sql.NullString
		)
		if err := rows.Scan(
			&exec.ID, &exec.RunID, &exec.Stage, &exec.Position, &status, &exec.AttemptCount,
			&startedAt, &endedAt, &exec.InputPayload, &exec.OutputPayload,
			&exec.SkipReason, &exec.ErrorKind, &exec.ErrorMessage,
		); err != nil {
			return fmt.Errorf("scan stage execution: %w", err)
		}
		exec.Status = ExecStatus(status)
		exec.StartedAt = parseNullableTime(startedAt)
		exec.EndedAt = parseNullableTime(endedAt)
		run.Executions = append(run.Executions, exec)
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run         Run
		status      string
		triggerTime string
		startedAt   sql.NullString
		endedAt     sql.NullString
	)
	if err := row.Scan(&run.ID, &run.Pipeline, &status, &triggerTime, &startedAt, &endedAt, &run.FailedStage, &run.ErrorMessage); err != nil {
		return nil, err
	}
	run.Status = Status(status)
	if parsed, err := time.Parse(time.RFC3339Nano, triggerTime); err == nil {
		run.TriggerTime = parsed
	}
	run.StartedAt = parseNullableTime(startedAt)
	run.EndedAt = parseNullableTime(endedAt)
	return &run, nil
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid || strings.TrimSpace(value.String) == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, value.String)
	if err != nil {
		return nil
	}
	return &parsed
}
