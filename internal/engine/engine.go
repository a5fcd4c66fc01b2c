// Package engine is the single-threaded processing engine: it loads
// targets, computes the remaining work against history, streams it in
// batches through the remote client and decision ladder, and drives a
// retry pass over previously failed targets. Grounded on
// original_source/twitter_blocker/manager.py's BulkBlockManager
// (process_bulk_block, _process_users_batch, _process_screen_names_batch,
// decision-ladder helpers) translated into explicit Go control flow.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/book000/twitter-bulk-blocker/internal/config"
	"github.com/book000/twitter-bulk-blocker/internal/domain"
	"github.com/book000/twitter-bulk-blocker/internal/history"
	"github.com/book000/twitter-bulk-blocker/internal/idcache"
	"github.com/book000/twitter-bulk-blocker/internal/obsmetrics"
	"github.com/book000/twitter-bulk-blocker/internal/recovery"
	"github.com/book000/twitter-bulk-blocker/internal/remote"
	"github.com/book000/twitter-bulk-blocker/internal/retrypolicy"
)

// Client is the subset of *remote.Client the engine depends on, so tests
// can substitute a fake.
type Client interface {
	LookupByID(ctx context.Context, id string) (remote.Result, error)
	LookupBatch(ctx context.Context, ids []string) (map[string]remote.Result, error)
	ResolveHandle(ctx context.Context, handle string) (remote.Result, error)
	BlockByID(ctx context.Context, id string) (remote.Result, error)
}

// Engine wires the history store, identifier cache, remote client, retry
// policy window, and recovery coordinator into one processing loop.
type Engine struct {
	client    Client
	history   *history.Store
	cache     *idcache.Cache
	window    *retrypolicy.Window
	recovery  *recovery.Coordinator
	metrics   *obsmetrics.Metrics
	logger    *slog.Logger
	batchSize int
	delay     time.Duration
}

// New returns an Engine ready to run.
func New(client Client, hist *history.Store, cache *idcache.Cache, rec *recovery.Coordinator, m *obsmetrics.Metrics, logger *slog.Logger, batchSize int, delay time.Duration) *Engine {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Engine{
		client:    client,
		history:   hist,
		cache:     cache,
		window:    retrypolicy.NewWindow(),
		recovery:  rec,
		metrics:   m,
		logger:    logger,
		batchSize: batchSize,
		delay:     delay,
	}
}

// LoadTargets reads and validates the targets file, returning the
// deduplicated target list and its format.
func LoadTargets(path string) ([]domain.Target, domain.TargetFormat, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read targets file: %w", err)
	}
	var raw config.TargetsFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, "", fmt.Errorf("parse targets file: %w", err)
	}
	if err := config.ValidateTargets(&raw); err != nil {
		return nil, "", err
	}

	format := domain.FormatHandle
	if raw.Format == string(domain.FormatID) {
		format = domain.FormatID
	}

	seen := make(map[string]bool, len(raw.Users))
	targets := make([]domain.Target, 0, len(raw.Users))
	for _, u := range raw.Users {
		if seen[u] {
			continue
		}
		seen[u] = true
		targets = append(targets, domain.Target{Value: u, Format: format})
	}
	return targets, format, nil
}

// testModeMaxUsers is the implicit cap applied when neither --all nor an
// explicit --max-users is given: "first 5 unprocessed", mirroring
// __main__.py's max_test_users = min(5, remaining_count) default-mode
// branch.
const testModeMaxUsers = 5

// Run executes one full processing pass: compute remaining work, stream
// in batches, apply the decision ladder, update session counters. When all
// is true, every target is processed regardless of cached blocked or
// permanent-failure state (the --all CLI flag). When all is false and
// maxUsers is 0 (no explicit --max-users), the run is capped to
// testModeMaxUsers targets — a deliberate "test mode" default, not
// "unlimited".
func (e *Engine) Run(ctx context.Context, targets []domain.Target, format domain.TargetFormat, maxUsers int, all bool) error {
	remaining := targets
	if !all {
		var err error
		remaining, err = e.computeRemaining(ctx, targets, format)
		if err != nil {
			return err
		}
		if maxUsers <= 0 {
			maxUsers = testModeMaxUsers
		}
	}
	if maxUsers > 0 && len(remaining) > maxUsers {
		remaining = remaining[:maxUsers]
	}

	sessionID, err := e.history.StartSession(ctx, len(remaining))
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	var processed, blocked, skipped, errored int
	for start := 0; start < len(remaining); start += e.batchSize {
		end := start + e.batchSize
		if end > len(remaining) {
			end = len(remaining)
		}
		slice := remaining[start:end]

		counts, err := e.processSlice(ctx, slice, format, 0)
		if err != nil {
			return err
		}
		processed += counts.processed
		blocked += counts.blocked
		skipped += counts.skipped
		errored += counts.errored

		if err := e.history.UpdateSession(ctx, sessionID, processed, blocked, skipped, errored); err != nil {
			return fmt.Errorf("update session: %w", err)
		}

		if e.recovery != nil {
			e.recovery.MaybeRecoverBurst(ctx)
		}

		if end < len(remaining) {
			select {
			case <-time.After(e.delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	if err := e.history.CompleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	return nil
}

// RunRetryPass reads RetryCandidates, honors each row's elapsed-vs-delay,
// and re-applies the decision ladder with retry_count incremented.
func (e *Engine) RunRetryPass(ctx context.Context, format domain.TargetFormat) error {
	candidates, err := e.history.RetryCandidates(ctx)
	if err != nil {
		return fmt.Errorf("load retry candidates: %w", err)
	}

	now := time.Now()
	var due []domain.Target
	retryCounts := make(map[string]int, len(candidates))
	for _, c := range candidates {
		delay := retrypolicy.Delay(retrypolicy.Input{
			Kind:       c.Entry.ErrorKind,
			RetryCount: c.Entry.RetryCount,
		}, e.window, now)
		if now.Sub(c.LastRetryAt) < delay {
			continue
		}
		due = append(due, domain.Target{Value: c.Entry.ConflictKey(), Format: format})
		retryCounts[c.Entry.ConflictKey()] = c.Entry.RetryCount + 1
	}
	if len(due) == 0 {
		e.logger.Info("retry pass: no candidates due")
		return nil
	}

	for start := 0; start < len(due); start += e.batchSize {
		end := start + e.batchSize
		if end > len(due) {
			end = len(due)
		}
		slice := due[start:end]
		baseRetry := 0
		if len(slice) > 0 {
			baseRetry = retryCounts[slice[0].Value]
		}
		if _, err := e.processSlice(ctx, slice, format, baseRetry); err != nil {
			return err
		}
		if end < len(due) {
			select {
			case <-time.After(e.delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

func (e *Engine) computeRemaining(ctx context.Context, targets []domain.Target, format domain.TargetFormat) ([]domain.Target, error) {
	var unblocked []domain.Target
	for _, t := range targets {
		blocked, err := e.history.IsBlocked(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("is_blocked check: %w", err)
		}
		if !blocked {
			unblocked = append(unblocked, t)
		}
	}

	permanent, err := e.history.BatchPermanentFailures(ctx, unblocked, format)
	if err != nil {
		return nil, fmt.Errorf("batch permanent failures: %w", err)
	}

	remaining := make([]domain.Target, 0, len(unblocked))
	for _, t := range unblocked {
		if !permanent[t.Value] {
			remaining = append(remaining, t)
		}
	}
	return remaining, nil
}
