// Package recovery implements the two credential-recovery triggers and the
// 403-threshold refresh described in spec §4.G: auth recovery (escalated
// by internal/remote on a 401), burst recovery (consecutive/windowed error
// counters), and threshold refresh (accumulated 403 count). Grounded on
// CookieManager.force_refresh_on_error_threshold
// (original_source/twitter_blocker/config.py) and the consecutive/windowed
// error tracking implicit in manager.py's batch loop.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/book000/twitter-bulk-blocker/internal/credstore"
	"github.com/book000/twitter-bulk-blocker/internal/domain"
)

// state is the coordinator's auth-recovery lifecycle. burst_recovering is
// tracked orthogonally via burstActive, not as a value of this type,
// matching §4.G's "independently steady <-> burst_recovering".
type state int

const (
	stateSteady state = iota
	stateAuthRecovering
	stateTerminated
)

const (
	maxAuthRecoveries = 10
	burstConsecutive  = 10
	burstWindowCount  = 50
	burstWindow       = 30 * time.Minute
	burstWaitTimeout  = 30 * time.Second
	burstSleep        = 10 * time.Second
	thresholdCount403 = 5
	thresholdSleep    = 2 * time.Second
)

// ErrUnrecoverable is returned once the auth-recovery budget is exhausted;
// the caller (cmd/blocker) must terminate the process on this error.
var ErrUnrecoverable = fmt.Errorf("credentials_unrecoverable")

// Coordinator is shared across the engine goroutine and the credential
// store's fsnotify watcher goroutine, so its state is guarded by a mutex
// (matching the teacher's "mutex protects connection/cache state, not
// business data" pattern).
type Coordinator struct {
	creds  *credstore.Store
	logger *slog.Logger

	mu                sync.Mutex
	authState         state
	authRecoveries    int
	consecutiveErrors int
	errorTimestamps   []time.Time
	count403          int
	burstActive       bool
}

// New returns a Coordinator wrapping the credential store it will
// invalidate on recovery.
func New(creds *credstore.Store, logger *slog.Logger) *Coordinator {
	return &Coordinator{creds: creds, logger: logger}
}

// HandleAuthRequired implements remote.AuthEscalator. It invalidates the
// credential cache and waits for a refresh: a long timeout (1 hour) on the
// first recovery of a lifetime, a short one (30s) on subsequent ones.
// After maxAuthRecoveries, the coordinator terminates and returns
// ErrUnrecoverable.
func (c *Coordinator) HandleAuthRequired(ctx context.Context) error {
	c.mu.Lock()
	if c.authState == stateTerminated {
		c.mu.Unlock()
		return ErrUnrecoverable
	}
	if c.authRecoveries >= maxAuthRecoveries {
		c.authState = stateTerminated
		c.mu.Unlock()
		return ErrUnrecoverable
	}
	c.authState = stateAuthRecovering
	c.authRecoveries++
	attempt := c.authRecoveries
	c.mu.Unlock()

	timeout := 30 * time.Second
	if attempt == 1 {
		timeout = time.Hour
	}

	if c.logger != nil {
		c.logger.Warn("auth recovery triggered", "attempt", attempt, "timeout", timeout)
	}

	c.creds.Invalidate()
	refreshed := c.waitWithContext(ctx, timeout)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.authState == stateTerminated {
		return ErrUnrecoverable
	}
	c.authState = stateSteady
	if !refreshed && c.logger != nil {
		c.logger.Warn("auth recovery wait timed out, retrying anyway", "attempt", attempt)
	}
	return nil
}

func (c *Coordinator) waitWithContext(ctx context.Context, timeout time.Duration) bool {
	done := make(chan bool, 1)
	go func() { done <- c.creds.WaitForRefresh(timeout) }()
	select {
	case ok := <-done:
		return ok
	case <-ctx.Done():
		return false
	}
}

// RecordOutcome implements remote.OutcomeRecorder: it feeds the
// consecutive/windowed error counters that drive burst recovery, and the
// 403 counter that drives threshold refresh. status is the raw HTTP
// status code observed by internal/remote; only a genuine 403 response
// increments count403 — unrelated failures (404, 5xx, timeouts, 429, 401)
// still count toward burst recovery but must never trigger the
// 403-specific threshold refresh. On any success, both error counters
// reset.
func (c *Coordinator) RecordOutcome(success bool, kind domain.ErrorKind, status int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if success {
		c.consecutiveErrors = 0
		c.errorTimestamps = nil
		return
	}

	now := time.Now()
	c.consecutiveErrors++
	c.errorTimestamps = append(c.errorTimestamps, now)
	c.pruneWindowLocked(now)

	if status == http.StatusForbidden {
		c.count403++
	}

	if c.consecutiveErrors >= burstConsecutive || len(c.errorTimestamps) >= burstWindowCount {
		c.burstActive = true
	}
	if c.count403 >= thresholdCount403 {
		c.runThresholdRefreshLocked()
	}
}

func (c *Coordinator) pruneWindowLocked(now time.Time) {
	cutoff := now.Add(-burstWindow)
	i := 0
	for ; i < len(c.errorTimestamps); i++ {
		if c.errorTimestamps[i].After(cutoff) {
			break
		}
	}
	c.errorTimestamps = c.errorTimestamps[i:]
}

// runThresholdRefreshLocked forces a credential invalidation once the
// accumulated 403 count crosses the threshold, bounding retry
// amplification. Caller must hold c.mu.
func (c *Coordinator) runThresholdRefreshLocked() {
	if c.logger != nil {
		c.logger.Warn("403 threshold crossed, forcing credential refresh", "count", c.count403)
	}
	c.creds.Invalidate()
	c.count403 = 0
	c.mu.Unlock()
	time.Sleep(thresholdSleep)
	c.mu.Lock()
}

// MaybeRecoverBurst runs the lighter burst-recovery procedure if the
// burst-active flag is set: invalidate credentials, wait up to 30s for
// refresh, sleep 10s, reset counters. The engine calls this between
// batches so recovery happens outside RecordOutcome's critical section.
func (c *Coordinator) MaybeRecoverBurst(ctx context.Context) {
	c.mu.Lock()
	if !c.burstActive {
		c.mu.Unlock()
		return
	}
	c.burstActive = false
	c.consecutiveErrors = 0
	c.errorTimestamps = nil
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Warn("burst recovery triggered")
	}
	c.creds.Invalidate()
	c.waitWithContext(ctx, burstWaitTimeout)
	time.Sleep(burstSleep)
}

// Terminated reports whether the coordinator has exhausted its
// auth-recovery budget.
func (c *Coordinator) Terminated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authState == stateTerminated
}
