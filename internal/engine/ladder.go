package engine

import (
	"context"
	"time"

	"github.com/book000/twitter-bulk-blocker/internal/domain"
	"github.com/book000/twitter-bulk-blocker/internal/remote"
)

type sliceCounts struct {
	processed, blocked, skipped, errored int
}

// processSlice resolves each target in slice and applies the decision
// ladder (spec §4.H), recording one structured log line per target (one
// log record per target, matching the "progress output is a strict
// serialization" contract) and one history write per outcome.
// baseRetryCount is added to the retry_count recorded on this pass, used
// by RunRetryPass.
func (e *Engine) processSlice(ctx context.Context, slice []domain.Target, format domain.TargetFormat, baseRetryCount int) (sliceCounts, error) {
	var counts sliceCounts

	prefetch := e.prefetchBatch(ctx, slice, format)

	for _, target := range slice {
		outcome, entry := e.resolveAndDecide(ctx, target, format, baseRetryCount, prefetch)
		counts.processed++
		switch outcome {
		case outcomeBlocked:
			counts.blocked++
		case outcomeSkip:
			counts.skipped++
		case outcomeError:
			counts.errored++
		}

		if err := e.history.Record(ctx, entry); err != nil {
			return counts, err
		}
		e.logOutcome(target, outcome, entry)
		if e.metrics != nil {
			e.metrics.RecordAttempt(string(outcome), string(entry.ErrorKind))
		}
	}
	return counts, nil
}

// prefetchBatchSize mirrors the platform's per-call cap on the id-batch
// GraphQL query (remote.maxLookupBatchIDs); kept as its own constant so
// ladder.go does not need to import remote's unexported internals.
const prefetchBatchSize = 50

// prefetchBatch resolves every not-yet-cached id-format target in slice
// with one or more real batched GraphQL calls (up to prefetchBatchSize
// ids per call), so resolve() can serve them from this map instead of
// issuing a remote call per target. Handle-format slices have no batch
// wire endpoint (spec §6's three endpoints: handle lookup, id-batch
// lookup, block) and return nil; resolve falls back to ResolveHandle per
// target as before.
func (e *Engine) prefetchBatch(ctx context.Context, slice []domain.Target, format domain.TargetFormat) map[string]remote.Result {
	if format != domain.FormatID {
		return nil
	}

	var ids []string
	for _, t := range slice {
		if e.cache.ReadProfile(t.Value) != nil {
			continue
		}
		ids = append(ids, t.Value)
	}
	if len(ids) == 0 {
		return nil
	}

	out := make(map[string]remote.Result, len(ids))
	for start := 0; start < len(ids); start += prefetchBatchSize {
		end := start + prefetchBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		results, err := e.client.LookupBatch(ctx, chunk)
		if err != nil {
			e.logger.Warn("batch lookup failed, falling back to per-target resolve", "error", err, "count", len(chunk))
			continue
		}
		for id, res := range results {
			out[id] = res
		}
	}
	return out
}

type outcome string

const (
	outcomeBlocked outcome = "blocked"
	outcomeSkip    outcome = "skip"
	outcomeError   outcome = "error"
)

func (e *Engine) logOutcome(target domain.Target, o outcome, entry domain.HistoryEntry) {
	e.logger.Info("processed target",
		"target", target.Value,
		"outcome", string(o),
		"kind", string(entry.ErrorKind),
	)
}

// resolveAndDecide fetches the target's current state (cache, then
// remote) and applies the decision ladder (first hit wins):
//
//	missing/null record              -> error, retryable
//	terminal availability            -> permanent skip
//	unavailable                      -> retryable skip
//	following || followed_by         -> terminal skip (follow_conflict)
//	blocking                         -> success (already_blocked)
//	otherwise                        -> call block
func (e *Engine) resolveAndDecide(ctx context.Context, target domain.Target, format domain.TargetFormat, baseRetryCount int, prefetch map[string]remote.Result) (outcome, domain.HistoryEntry) {
	user, result, err := e.resolve(ctx, target, prefetch)
	if err != nil || user == nil {
		kind := domain.KindNone
		if result != nil {
			kind = result.Kind
		}
		e.window.Record(kind, false, time.Now())
		return outcomeError, domain.HistoryEntry{
			ScreenName:   screenNameOf(target),
			UserID:       idOf(target, format),
			Status:       domain.StatusFailed,
			ErrorKind:    domain.KindNone,
			ErrorMessage: "record missing or profile null",
			RetryCount:   baseRetryCount,
			LastRetryAt:  time.Now(),
		}
	}

	base := domain.HistoryEntry{
		ScreenName: user.ScreenName,
		UserID:     user.ID,
		UserStatus: user.Availability,
	}

	switch {
	case user.Availability.Terminal():
		base.Status = domain.StatusFailed
		base.ErrorKind = domain.KindNotFound
		base.RetryCount = baseRetryCount
		return outcomeSkip, base

	case user.Availability == domain.AvailabilityUnavailable:
		// Retryable regardless of kind: retrypolicy's rule 3 (availability
		// == unavailable) takes priority over any kind-based rule.
		base.Status = domain.StatusFailed
		base.ErrorKind = domain.KindNone
		base.RetryCount = baseRetryCount
		base.LastRetryAt = time.Now()
		return outcomeSkip, base

	case user.Following || user.FollowedBy:
		base.Status = domain.StatusFailed
		base.ErrorKind = domain.KindFollowConflict
		base.RetryCount = baseRetryCount
		return outcomeSkip, base

	case user.Blocking:
		base.Status = domain.StatusBlocked
		base.ErrorKind = domain.KindAlreadyBlocked
		return outcomeBlocked, base
	}

	blockResult, err := e.client.BlockByID(ctx, user.ID)
	if err != nil {
		base.Status = domain.StatusFailed
		base.ErrorKind = domain.KindNone
		base.ErrorMessage = err.Error()
		base.RetryCount = baseRetryCount
		base.LastRetryAt = time.Now()
		e.window.Record(domain.KindNone, false, time.Now())
		return outcomeError, base
	}

	if blockResult.BlockSuccess {
		base.Status = domain.StatusBlocked
		base.ErrorKind = domain.KindNone
		e.window.Record(domain.KindNone, true, time.Now())
		return outcomeBlocked, base
	}

	base.Status = domain.StatusFailed
	base.ErrorKind = blockResult.Kind
	base.ResponseCode = blockResult.Code
	base.RetryCount = baseRetryCount
	base.LastRetryAt = time.Now()
	e.window.Record(blockResult.Kind, false, time.Now())
	return outcomeError, base
}

// resolve fetches the full user record for a target: the identifier
// cache first, then a prefetched batch-lookup result (populated by
// prefetchBatch for id-format slices), then the remote client on a miss,
// populating the cache on a successful remote fetch.
func (e *Engine) resolve(ctx context.Context, target domain.Target, prefetch map[string]remote.Result) (*domain.FullUser, *remote.Result, error) {
	id := target.Value
	if target.Format == domain.FormatHandle {
		if cachedID := e.cache.ResolveHandle(target.Value); cachedID != "" {
			id = cachedID
		} else {
			id = ""
		}
	}

	if id != "" {
		if user := e.cache.ReadProfile(id); user != nil {
			return user, nil, nil
		}
		if prefetch != nil {
			if result, ok := prefetch[id]; ok {
				if result.User == nil {
					return nil, &result, nil
				}
				_ = e.cache.StoreFullUser(*result.User)
				return result.User, &result, nil
			}
		}
	}

	var result remote.Result
	var err error
	if target.Format == domain.FormatHandle {
		result, err = e.client.ResolveHandle(ctx, target.Value)
	} else {
		result, err = e.client.LookupByID(ctx, target.Value)
	}
	if err != nil {
		return nil, nil, err
	}
	if result.User == nil {
		return nil, &result, nil
	}

	if target.Format == domain.FormatHandle {
		_ = e.cache.StoreHandle(target.Value, result.User.ID)
	}
	_ = e.cache.StoreFullUser(*result.User)
	return result.User, &result, nil
}

func screenNameOf(t domain.Target) string {
	if t.Format == domain.FormatHandle {
		return t.Value
	}
	return ""
}

func idOf(t domain.Target, format domain.TargetFormat) string {
	if t.Format == domain.FormatID {
		return t.Value
	}
	return ""
}
