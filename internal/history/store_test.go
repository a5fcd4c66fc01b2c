package history

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book000/twitter-bulk-blocker/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(context.Background(), path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecord_BlockedThenIsBlocked(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Record(ctx, domain.HistoryEntry{
		ScreenName: "someuser",
		UserID:     "123",
		Status:     domain.StatusBlocked,
	}))

	blocked, err := s.IsBlocked(ctx, domain.Target{Value: "123", Format: domain.FormatID})
	require.NoError(t, err)
	assert.True(t, blocked)

	blocked, err = s.IsBlocked(ctx, domain.Target{Value: "456", Format: domain.FormatID})
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestRecord_UpsertByUserID(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Record(ctx, domain.HistoryEntry{
		ScreenName: "someuser", UserID: "123", Status: domain.StatusFailed,
		ErrorKind: domain.KindServerError, RetryCount: 1,
	}))
	require.NoError(t, s.Record(ctx, domain.HistoryEntry{
		ScreenName: "someuser", UserID: "123", Status: domain.StatusBlocked, RetryCount: 2,
	}))

	blocked, err := s.IsBlocked(ctx, domain.Target{Value: "123", Format: domain.FormatID})
	require.NoError(t, err)
	assert.True(t, blocked, "second Record call should update the existing row, not duplicate it")
}

// TestRecord_ScreenNameOnlyThenResolvedByUserID reproduces the
// resolve-then-succeed sequence the decision ladder produces: a target
// first recorded with only screen_name known (id not yet resolved) later
// succeeds once the id resolves, with both user_id and the same
// screen_name populated. This must update the original row, not collide
// with it under block_history's two independent UNIQUE(user_id) and
// UNIQUE(screen_name) constraints.
func TestRecord_ScreenNameOnlyThenResolvedByUserID(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Record(ctx, domain.HistoryEntry{
		ScreenName: "someuser", Status: domain.StatusFailed,
		ErrorKind: domain.KindNone, RetryCount: 0,
	}))

	require.NoError(t, s.Record(ctx, domain.HistoryEntry{
		ScreenName: "someuser", UserID: "123", Status: domain.StatusBlocked,
	}))

	blocked, err := s.IsBlocked(ctx, domain.Target{Value: "123", Format: domain.FormatID})
	require.NoError(t, err)
	assert.True(t, blocked, "resolving the id on a later pass must merge onto the screen_name-keyed row")

	var rowCount int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM block_history WHERE screen_name = 'someuser'`).Scan(&rowCount))
	assert.Equal(t, 1, rowCount, "must not have created a second row for the same target")
}

func TestIsPermanentFailure_NonRetryableKind(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Record(ctx, domain.HistoryEntry{
		ScreenName: "someuser", UserID: "123", Status: domain.StatusFailed,
		ErrorKind: domain.KindAlreadyBlocked, RetryCount: 1,
	}))

	permanent, err := s.IsPermanentFailure(ctx, domain.Target{Value: "123", Format: domain.FormatID})
	require.NoError(t, err)
	assert.True(t, permanent)
}

func TestIsPermanentFailure_RetryableKindIsNotPermanent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Record(ctx, domain.HistoryEntry{
		ScreenName: "someuser", UserID: "123", Status: domain.StatusFailed,
		ErrorKind: domain.KindRateLimit, RetryCount: 1,
	}))

	permanent, err := s.IsPermanentFailure(ctx, domain.Target{Value: "123", Format: domain.FormatID})
	require.NoError(t, err)
	assert.False(t, permanent)
}

func TestBatchPermanentFailures_SingleQuery(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Record(ctx, domain.HistoryEntry{
		ScreenName: "a", UserID: "1", Status: domain.StatusFailed, ErrorKind: domain.KindAlreadyBlocked,
	}))
	require.NoError(t, s.Record(ctx, domain.HistoryEntry{
		ScreenName: "b", UserID: "2", Status: domain.StatusFailed, ErrorKind: domain.KindRateLimit,
	}))

	targets := []domain.Target{
		{Value: "1", Format: domain.FormatID},
		{Value: "2", Format: domain.FormatID},
		{Value: "3", Format: domain.FormatID},
	}
	result, err := s.BatchPermanentFailures(ctx, targets, domain.FormatID)
	require.NoError(t, err)
	assert.True(t, result["1"])
	assert.False(t, result["2"])
	assert.False(t, result["3"])
}

func TestRetryCandidates_ExcludesCappedAndNonRetryable(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Record(ctx, domain.HistoryEntry{
		ScreenName: "retryable", UserID: "1", Status: domain.StatusFailed,
		ErrorKind: domain.KindServerError, RetryCount: 2,
	}))
	require.NoError(t, s.Record(ctx, domain.HistoryEntry{
		ScreenName: "capped", UserID: "2", Status: domain.StatusFailed,
		ErrorKind: domain.KindServerError, RetryCount: 10,
	}))
	require.NoError(t, s.Record(ctx, domain.HistoryEntry{
		ScreenName: "nonretryable", UserID: "3", Status: domain.StatusFailed,
		ErrorKind: domain.KindAlreadyBlocked, RetryCount: 0,
	}))

	candidates, err := s.RetryCandidates(ctx)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "retryable", candidates[0].Entry.ScreenName)
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	id, err := s.StartSession(ctx, 100)
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	require.NoError(t, s.UpdateSession(ctx, id, 50, 40, 5, 5))
	require.NoError(t, s.CompleteSession(ctx, id))
}

func TestFailuresByKind_Aggregates(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Record(ctx, domain.HistoryEntry{
		ScreenName: "a", UserID: "1", Status: domain.StatusFailed, ErrorKind: domain.KindRateLimit,
	}))
	require.NoError(t, s.Record(ctx, domain.HistoryEntry{
		ScreenName: "b", UserID: "2", Status: domain.StatusFailed, ErrorKind: domain.KindRateLimit,
	}))

	breakdown, err := s.FailuresByKind(ctx)
	require.NoError(t, err)
	require.Len(t, breakdown, 1)
	assert.Equal(t, "rate_limit", breakdown[0].Key)
	assert.Equal(t, 2, breakdown[0].Count)
}
