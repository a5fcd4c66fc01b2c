package recovery

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book000/twitter-bulk-blocker/internal/credstore"
	"github.com/book000/twitter-bulk-blocker/internal/domain"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *credstore.Store) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cookies.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"name":"ct0","value":"v1","domain":"x.com"}]`), 0o600))
	store := credstore.New(path, time.Hour)
	t.Cleanup(store.Close)
	return New(store, nil), store
}

func TestRecordOutcome_SuccessResetsCounters(t *testing.T) {
	c, _ := newTestCoordinator(t)
	for i := 0; i < 5; i++ {
		c.RecordOutcome(false, domain.KindServerError, http.StatusInternalServerError)
	}
	c.RecordOutcome(true, domain.KindNone, http.StatusOK)

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, 0, c.consecutiveErrors)
}

func TestRecordOutcome_BurstActivatesOnConsecutive(t *testing.T) {
	c, _ := newTestCoordinator(t)
	for i := 0; i < burstConsecutive; i++ {
		c.RecordOutcome(false, domain.KindServerError, http.StatusInternalServerError)
	}
	c.mu.Lock()
	active := c.burstActive
	c.mu.Unlock()
	assert.True(t, active)
}

func TestMaybeRecoverBurst_NoopWhenNotActive(t *testing.T) {
	c, _ := newTestCoordinator(t)
	start := time.Now()
	c.MaybeRecoverBurst(context.Background())
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestHandleAuthRequired_TerminatesAfterBudget(t *testing.T) {
	c, _ := newTestCoordinator(t)
	c.mu.Lock()
	c.authRecoveries = maxAuthRecoveries
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := c.HandleAuthRequired(ctx)
	assert.ErrorIs(t, err, ErrUnrecoverable)
	assert.True(t, c.Terminated())
}

func TestRecordOutcome_ThresholdRefreshResetsCount403(t *testing.T) {
	c, _ := newTestCoordinator(t)
	for i := 0; i < thresholdCount403; i++ {
		c.RecordOutcome(false, domain.KindUnknownForbidden, http.StatusForbidden)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, 0, c.count403)
}

// Non-403 failures (5xx, timeouts, 429, 401) must never drive the
// 403-threshold refresh, even when they happen to classify to a non-none
// ErrorKind. Only status == http.StatusForbidden counts toward count403.
func TestRecordOutcome_Non403StatusDoesNotIncrementCount403(t *testing.T) {
	c, _ := newTestCoordinator(t)
	statuses := []int{
		http.StatusInternalServerError,
		http.StatusNotFound,
		http.StatusTooManyRequests,
		http.StatusUnauthorized,
		0, // transport error / timeout
	}
	kinds := []domain.ErrorKind{
		domain.KindServerError,
		domain.KindNotFound,
		domain.KindRateLimit,
		domain.KindAuthRequired,
		domain.KindTimeout,
	}
	for i := 0; i < thresholdCount403*3; i++ {
		c.RecordOutcome(false, kinds[i%len(kinds)], statuses[i%len(statuses)])
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, 0, c.count403)
}
