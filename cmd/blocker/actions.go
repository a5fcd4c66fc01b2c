package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/book000/twitter-bulk-blocker/internal/history"
	"github.com/book000/twitter-bulk-blocker/internal/remote"
)

func printStats(ctx context.Context, hist *history.Store) error {
	stats, err := hist.Stats(ctx)
	if err != nil {
		return fmt.Errorf("collect stats: %w", err)
	}
	fmt.Printf("total rows:       %d\n", stats.TotalRows)
	fmt.Printf("blocked:          %d\n", stats.Blocked)
	fmt.Printf("failed:           %d\n", stats.Failed)
	fmt.Printf("permanent:        %d\n", stats.Permanent)
	fmt.Println("failures by kind:")
	for _, b := range stats.ByKind {
		fmt.Printf("  %-24s %d\n", b.Key, b.Count)
	}
	return nil
}

func resetRetry(ctx context.Context, hist *history.Store, logger *slog.Logger) error {
	n, err := hist.ResetRetryCounters(ctx)
	if err != nil {
		return fmt.Errorf("reset retry counters: %w", err)
	}
	logger.Info("reset retry counters", "rows_affected", n)
	return nil
}

func clearErrors(ctx context.Context, hist *history.Store, logger *slog.Logger) error {
	n, err := hist.ClearErrors(ctx)
	if err != nil {
		return fmt.Errorf("clear errors: %w", err)
	}
	logger.Info("cleared error rows", "rows_affected", n)
	return nil
}

func resetFailed(ctx context.Context, hist *history.Store, logger *slog.Logger) error {
	n, err := hist.ResetFailedToRetryable(ctx)
	if err != nil {
		return fmt.Errorf("reset failed rows: %w", err)
	}
	logger.Info("requalified failed rows for retry", "rows_affected", n)
	return nil
}

func printDebugErrors(ctx context.Context, hist *history.Store) error {
	rows, err := hist.DebugErrors(ctx, 50)
	if err != nil {
		return fmt.Errorf("load debug errors: %w", err)
	}
	for _, r := range rows {
		fmt.Printf("%-20s id=%-20s kind=%-20s code=%-4d retries=%-3d msg=%s\n",
			r.ScreenName, r.UserID, r.ErrorKind, r.ResponseCode, r.RetryCount, r.ErrorMessage)
	}
	return nil
}

// runTestUser resolves a single handle or numeric id against the remote
// platform and prints the classified result, without ever calling
// BlockByID. Used to validate credentials and header configuration before
// committing to a full run.
func runTestUser(ctx context.Context, client *remote.Client, value string, logger *slog.Logger) error {
	var result remote.Result
	var err error
	if isNumeric(value) {
		result, err = client.LookupByID(ctx, value)
	} else {
		result, err = client.ResolveHandle(ctx, value)
	}
	if err != nil {
		return fmt.Errorf("test-user lookup: %w", err)
	}

	if result.User == nil {
		fmt.Printf("no user resolved: code=%d kind=%s\n", result.Code, result.Kind)
		return nil
	}
	u := result.User
	fmt.Printf("id=%s screen_name=%s display_name=%s availability=%s following=%v followed_by=%v blocking=%v\n",
		u.ID, u.ScreenName, u.DisplayName, u.Availability, u.Following, u.FollowedBy, u.Blocking)
	return nil
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
