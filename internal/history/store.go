// Package history is the durable block-history store: SQLite via
// modernc.org/sqlite (no cgo), WAL mode, 0600 file permissions, goose
// migrations. Grounded on original_source/twitter_blocker/database.py for
// schema and query shape, and on the teacher's
// internal/storage/sqlite/sqlite_storage.go for Go idiom (connection
// tuning, path validation, structured logging of schema init).
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/book000/twitter-bulk-blocker/internal/domain"
	"github.com/book000/twitter-bulk-blocker/internal/retrypolicy"
)

var forbiddenPrefixes = []string{"/etc", "/sys", "/proc", "/dev"}

// Store is the single-writer, concurrent-reader history store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	mu     sync.RWMutex // protects connection lifecycle, not row data
}

// Open validates path, creates its parent directory, opens a WAL-mode
// SQLite connection, and applies migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history db path cannot be empty")
	}
	if strings.Contains(path, "..") {
		return nil, fmt.Errorf("invalid path contains '..': %s", path)
	}
	for _, prefix := range forbiddenPrefixes {
		if strings.HasPrefix(path, prefix) {
			return nil, fmt.Errorf("forbidden path prefix %s: %s", prefix, path)
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create history db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite ping failed: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := os.Chmod(path, 0o600); err != nil && logger != nil {
		logger.Warn("failed to set history db permissions to 0600", "path", path, "error", err)
	}

	if logger != nil {
		logger.Info("history store initialized", "path", path, "wal_mode", true)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// IsBlocked reports whether a blocked row exists for the identifier under
// the given format.
func (s *Store) IsBlocked(ctx context.Context, target domain.Target) (bool, error) {
	column := formatColumn(target.Format)
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT 1 FROM block_history WHERE %s = ? AND status = 'blocked' LIMIT 1", column),
		target.Value)
	var one int
	err := row.Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("is_blocked query: %w", err)
	}
	return true, nil
}

// IsPermanentFailure reports whether the target has a failed row whose
// kind is not retryable under the retry policy.
func (s *Store) IsPermanentFailure(ctx context.Context, target domain.Target) (bool, error) {
	column := formatColumn(target.Format)
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT error_kind, retry_count, user_status FROM block_history WHERE %s = ? AND status = 'failed' LIMIT 1", column),
		target.Value)
	var kind string
	var retryCount int
	var userStatus sql.NullString
	err := row.Scan(&kind, &retryCount, &userStatus)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("is_permanent_failure query: %w", err)
	}
	return !retryableRow(domain.ErrorKind(kind), retryCount, domain.Availability(userStatus.String)), nil
}

// BatchPermanentFailures executes a single IN-query to identify which of
// the given targets are permanent failures, avoiding N+1 over large
// batches.
func (s *Store) BatchPermanentFailures(ctx context.Context, targets []domain.Target, format domain.TargetFormat) (map[string]bool, error) {
	result := make(map[string]bool, len(targets))
	if len(targets) == 0 {
		return result, nil
	}

	column := formatColumn(format)
	placeholders := make([]string, len(targets))
	args := make([]any, len(targets))
	for i, t := range targets {
		placeholders[i] = "?"
		args[i] = t.Value
	}

	query := fmt.Sprintf(
		"SELECT %s, error_kind, retry_count, user_status FROM block_history WHERE status = 'failed' AND %s IN (%s)",
		column, column, strings.Join(placeholders, ","))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("batch_permanent_failures query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var value, kind string
		var retryCount int
		var userStatus sql.NullString
		if err := rows.Scan(&value, &kind, &retryCount, &userStatus); err != nil {
			return nil, fmt.Errorf("scan batch_permanent_failures row: %w", err)
		}
		if !retryableRow(domain.ErrorKind(kind), retryCount, domain.Availability(userStatus.String)) {
			result[value] = true
		}
	}
	return result, rows.Err()
}

// retryableRow reports whether a persisted failure row would still be
// retried under the retry policy rule ladder.
func retryableRow(kind domain.ErrorKind, retryCount int, availability domain.Availability) bool {
	decision := retrypolicy.Evaluate(retrypolicy.Input{
		Availability: availability,
		Kind:         kind,
		RetryCount:   retryCount,
	}, nil, time.Now())
	return decision.Retry
}

func formatColumn(format domain.TargetFormat) string {
	if format == domain.FormatID {
		return "user_id"
	}
	return "screen_name"
}

// Record upserts a history row for the same real-world target, matched
// by either unique key independently (user_id when known, screen_name
// when known), writing the terminal status, error kind, retry count, and
// timestamp atomically.
//
// block_history carries two independent single-column UNIQUE
// constraints (user_id, screen_name). A target first recorded under
// screen_name alone (handle format, id not yet resolved) and later
// recorded again once resolution succeeds now has both user_id and the
// same screen_name populated: naming only one of the two columns as an
// ON CONFLICT target lets SQLite miss a collision on the other, untargeted
// unique index and raise a raw "UNIQUE constraint failed" error instead of
// updating the pre-existing row. findExistingID locates that row by
// whichever key is available before choosing UPDATE vs. INSERT, so the
// resolve-then-succeed sequence the decision ladder produces always
// merges onto one row.
func (s *Store) Record(ctx context.Context, e domain.HistoryEntry) error {
	lastRetry := any(nil)
	if !e.LastRetryAt.IsZero() {
		lastRetry = e.LastRetryAt
	}

	existingID, err := s.findExistingID(ctx, e)
	if err != nil {
		return fmt.Errorf("record history entry: %w", err)
	}

	if existingID != 0 {
		_, err := s.db.ExecContext(ctx, `
			UPDATE block_history SET
				screen_name = CASE WHEN ? != '' THEN ? ELSE screen_name END,
				user_id = COALESCE(?, user_id),
				display_name = ?,
				status = ?,
				response_code = ?,
				error_message = ?,
				error_kind = ?,
				retry_count = MAX(retry_count, ?),
				last_retry_at = ?,
				user_status = ?,
				blocked_at = CURRENT_TIMESTAMP
			WHERE id = ?
		`,
			e.ScreenName, e.ScreenName, nullable(e.UserID), nullable(e.DisplayName), string(e.Status), e.ResponseCode,
			nullable(e.ErrorMessage), string(e.ErrorKind), e.RetryCount, lastRetry, nullable(string(e.UserStatus)),
			existingID,
		)
		if err != nil {
			return fmt.Errorf("record history entry: %w", err)
		}
		return nil
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO block_history
			(screen_name, user_id, display_name, status, response_code,
			 error_message, error_kind, retry_count, last_retry_at, user_status, blocked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`,
		e.ScreenName, nullable(e.UserID), nullable(e.DisplayName), string(e.Status), e.ResponseCode,
		nullable(e.ErrorMessage), string(e.ErrorKind), e.RetryCount, lastRetry, nullable(string(e.UserStatus)),
	)
	if err != nil {
		return fmt.Errorf("record history entry: %w", err)
	}
	return nil
}

// findExistingID locates a pre-existing row matching e's user_id or
// screen_name, whichever is populated. Empty values are never used to
// match: screen_name is NOT NULL with a default of "" for id-only rows,
// so matching on an empty string would merge unrelated rows together.
func (s *Store) findExistingID(ctx context.Context, e domain.HistoryEntry) (int64, error) {
	var row *sql.Row
	switch {
	case e.UserID != "" && e.ScreenName != "":
		row = s.db.QueryRowContext(ctx,
			`SELECT id FROM block_history WHERE user_id = ? OR screen_name = ? LIMIT 1`,
			e.UserID, e.ScreenName)
	case e.UserID != "":
		row = s.db.QueryRowContext(ctx,
			`SELECT id FROM block_history WHERE user_id = ? LIMIT 1`, e.UserID)
	case e.ScreenName != "":
		row = s.db.QueryRowContext(ctx,
			`SELECT id FROM block_history WHERE screen_name = ? LIMIT 1`, e.ScreenName)
	default:
		return 0, nil
	}

	var id int64
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return id, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// RetryCandidate is one row eligible for a retry pass.
type RetryCandidate struct {
	Entry       domain.HistoryEntry
	LastRetryAt time.Time
}

// RetryCandidates returns failed rows with retry_count below the policy
// cap and a retryable error kind, each with its last-attempt time so the
// caller can honor the backoff delay.
func (s *Store) RetryCandidates(ctx context.Context) ([]RetryCandidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT screen_name, user_id, display_name, response_code, error_message,
		       error_kind, retry_count, last_retry_at, user_status
		FROM block_history
		WHERE status = 'failed' AND retry_count < ?
	`, retrypolicy.MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("retry_candidates query: %w", err)
	}
	defer rows.Close()

	var out []RetryCandidate
	for rows.Next() {
		var e domain.HistoryEntry
		var userID, displayName, errorMessage, userStatus sql.NullString
		var lastRetry sql.NullTime
		e.Status = domain.StatusFailed
		if err := rows.Scan(&e.ScreenName, &userID, &displayName, &e.ResponseCode, &errorMessage,
			&e.ErrorKind, &e.RetryCount, &lastRetry, &userStatus); err != nil {
			return nil, fmt.Errorf("scan retry_candidates row: %w", err)
		}
		e.UserID = userID.String
		e.DisplayName = displayName.String
		e.ErrorMessage = errorMessage.String
		e.UserStatus = domain.Availability(userStatus.String)
		if !retryableRow(e.ErrorKind, e.RetryCount, e.UserStatus) {
			continue
		}
		cand := RetryCandidate{Entry: e}
		if lastRetry.Valid {
			cand.LastRetryAt = lastRetry.Time
			e.LastRetryAt = lastRetry.Time
		}
		out = append(out, cand)
	}
	return out, rows.Err()
}

// StartSession inserts a new process_log row and returns its id.
func (s *Store) StartSession(ctx context.Context, total int) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO process_log (session_start, total_targets) VALUES (CURRENT_TIMESTAMP, ?)", total)
	if err != nil {
		return 0, fmt.Errorf("start_session: %w", err)
	}
	return res.LastInsertId()
}

// UpdateSession updates the running counters of an in-progress session.
func (s *Store) UpdateSession(ctx context.Context, id int64, processed, blocked, skipped, errored int) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE process_log SET processed = ?, blocked = ?, skipped = ?, errors = ? WHERE id = ?",
		processed, blocked, skipped, errored, id)
	if err != nil {
		return fmt.Errorf("update_session: %w", err)
	}
	return nil
}

// CompleteSession marks a session as completed.
func (s *Store) CompleteSession(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "UPDATE process_log SET completed = TRUE WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("complete_session: %w", err)
	}
	return nil
}

// FailureBreakdown is an aggregate count grouping, used by the statistics
// collaborator.
type FailureBreakdown struct {
	Key   string
	Count int
}

// FailuresByKind aggregates failed rows by error_kind.
func (s *Store) FailuresByKind(ctx context.Context) ([]FailureBreakdown, error) {
	return s.groupCount(ctx, "error_kind")
}

// FailuresByResponseCode aggregates failed rows by response_code.
func (s *Store) FailuresByResponseCode(ctx context.Context) ([]FailureBreakdown, error) {
	return s.groupCount(ctx, "response_code")
}

// FailuresByAvailability aggregates failed rows by user_status.
func (s *Store) FailuresByAvailability(ctx context.Context) ([]FailureBreakdown, error) {
	return s.groupCount(ctx, "user_status")
}

func (s *Store) groupCount(ctx context.Context, column string) ([]FailureBreakdown, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT COALESCE(CAST(%s AS TEXT), 'unknown'), COUNT(*) FROM block_history WHERE status = 'failed' GROUP BY %s", column, column))
	if err != nil {
		return nil, fmt.Errorf("group count by %s: %w", column, err)
	}
	defer rows.Close()

	var out []FailureBreakdown
	for rows.Next() {
		var b FailureBreakdown
		if err := rows.Scan(&b.Key, &b.Count); err != nil {
			return nil, fmt.Errorf("scan group count row: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Stats is the summary the --stats CLI action reports.
type Stats struct {
	TotalRows int
	Blocked   int
	Failed    int
	Permanent int
	ByKind    []FailureBreakdown
}

// Stats aggregates the counters reported by the --stats command.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var out Stats
	row := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM block_history")
	if err := row.Scan(&out.TotalRows); err != nil {
		return out, fmt.Errorf("count rows: %w", err)
	}
	row = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM block_history WHERE status = 'blocked'")
	if err := row.Scan(&out.Blocked); err != nil {
		return out, fmt.Errorf("count blocked: %w", err)
	}
	row = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM block_history WHERE status = 'failed'")
	if err := row.Scan(&out.Failed); err != nil {
		return out, fmt.Errorf("count failed: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT error_kind, retry_count, user_status FROM block_history WHERE status = 'failed'")
	if err != nil {
		return out, fmt.Errorf("scan permanent failures: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var retryCount int
		var userStatus sql.NullString
		if err := rows.Scan(&kind, &retryCount, &userStatus); err != nil {
			return out, fmt.Errorf("scan permanent failure row: %w", err)
		}
		if !retryableRow(domain.ErrorKind(kind), retryCount, domain.Availability(userStatus.String)) {
			out.Permanent++
		}
	}
	if err := rows.Err(); err != nil {
		return out, err
	}

	byKind, err := s.FailuresByKind(ctx)
	if err != nil {
		return out, err
	}
	out.ByKind = byKind
	return out, nil
}

// ResetRetryCounters zeroes retry_count and last_retry_at on every failed
// row, letting the next retry pass reconsider them from scratch.
func (s *Store) ResetRetryCounters(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE block_history SET retry_count = 0, last_retry_at = NULL WHERE status = 'failed'")
	if err != nil {
		return 0, fmt.Errorf("reset_retry_counters: %w", err)
	}
	return res.RowsAffected()
}

// ClearErrors deletes every failed row outright, used by the
// --clear-errors maintenance action to discard failure history entirely
// (as opposed to --reset-failed, which keeps the rows but re-queues them).
func (s *Store) ClearErrors(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM block_history WHERE status = 'failed'")
	if err != nil {
		return 0, fmt.Errorf("clear_errors: %w", err)
	}
	return res.RowsAffected()
}

// ResetFailedToRetryable resets retry_count to 0 for failed rows whose
// kind is currently treated as a permanent failure, so a severe or
// previously-capped classification gets one more chance.
func (s *Store) ResetFailedToRetryable(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE block_history SET retry_count = 0, last_retry_at = NULL, error_kind = 'none' WHERE status = 'failed'")
	if err != nil {
		return 0, fmt.Errorf("reset_failed_to_retryable: %w", err)
	}
	return res.RowsAffected()
}

// DebugRow is one failed row as reported by the --debug-errors action.
type DebugRow struct {
	ScreenName   string
	UserID       string
	ErrorKind    domain.ErrorKind
	ResponseCode int
	ErrorMessage string
	RetryCount   int
	LastRetryAt  time.Time
}

// DebugErrors returns up to limit failed rows, most recent attempt first.
func (s *Store) DebugErrors(ctx context.Context, limit int) ([]DebugRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT screen_name, user_id, error_kind, response_code, error_message, retry_count, last_retry_at
		FROM block_history
		WHERE status = 'failed'
		ORDER BY last_retry_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("debug_errors query: %w", err)
	}
	defer rows.Close()

	var out []DebugRow
	for rows.Next() {
		var d DebugRow
		var userID, errorMessage sql.NullString
		var lastRetry sql.NullTime
		if err := rows.Scan(&d.ScreenName, &userID, &d.ErrorKind, &d.ResponseCode, &errorMessage, &d.RetryCount, &lastRetry); err != nil {
			return nil, fmt.Errorf("scan debug_errors row: %w", err)
		}
		d.UserID = userID.String
		d.ErrorMessage = errorMessage.String
		if lastRetry.Valid {
			d.LastRetryAt = lastRetry.Time
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
