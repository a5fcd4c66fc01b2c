// Package remote is the HTTP client for the remote platform: handle
// resolution, batch lookup by id, and block-by-id. Grounded on
// original_source/twitter_blocker/api.py's TwitterAPI (header assembly,
// GraphQL variables/features payloads, 429/401/403 branching) and on the
// xapi reference client
// (_examples/other_examples/...Davincible-xapi...client.go) for idiomatic
// Go HTTP-client shape: a bounded *http.Client, a rate.Limiter pacing
// outbound calls, and a per-process UUID for the session header.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/book000/twitter-bulk-blocker/internal/classifier"
	"github.com/book000/twitter-bulk-blocker/internal/credstore"
	"github.com/book000/twitter-bulk-blocker/internal/domain"
)

const bearerToken = "AAAAAAAAAAAAAAAAAAAAANRILgAAAAAAnNwIzUejRCOuH5E6I8xnZz4puTs%3D1Zv7ttfk8LF81IUq16cHjhLTvJu4FA33AGWWjCpTnA"

const (
	userByScreenNameEndpoint = "https://x.com/i/api/graphql/7mjxD3-C6BxitPMVQ6w0-Q/UserByScreenName"
	userByRestIDEndpoint     = "https://x.com/i/api/graphql/I5nvpI91ljifos1Y3Lltyg/UserByRestId"
	usersByRestIDsEndpoint   = "https://x.com/i/api/graphql/xf3jVBbbZTT3JFoODxg7uQ/UsersByRestIds"
	blocksCreateEndpoint     = "https://x.com/i/api/1.1/blocks/create.json"
	userAgent                = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:139.0) Gecko/20100101 Firefox/139.0"
)

// maxLookupBatchIDs is the platform's per-call cap on the id-batch GraphQL
// query, per spec §4.F step 2 ("up to 50 per call").
const maxLookupBatchIDs = 50

// AuthEscalator handles an observed auth_required response: invalidating
// credentials and waiting for a refresh. Implemented by
// internal/recovery.Coordinator; declared here to avoid remote importing
// recovery (recovery does not need to know about remote).
type AuthEscalator interface {
	HandleAuthRequired(ctx context.Context) error
}

// OutcomeRecorder feeds the recovery coordinator's burst/threshold
// counters. status is the raw HTTP status code (0 for a transport error),
// so the coordinator can distinguish genuine 403 responses from other
// failure kinds when driving its 403-count threshold refresh. Implemented
// by internal/recovery.Coordinator.
type OutcomeRecorder interface {
	RecordOutcome(success bool, kind domain.ErrorKind, status int)
}

// HeaderOptions toggles the enhanced-header behavior described in §4.F.
type HeaderOptions struct {
	EnableEnhancement bool
	EnableForwardedFor bool
}

// Client is the remote platform client.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	creds   *credstore.Store
	auth    AuthEscalator
	rec     OutcomeRecorder
	opts    HeaderOptions

	sessionID uuid.UUID
	txnSeq    atomic.Uint64

	telemetry *telemetry
}

// New returns a Client pacing requests through limiter (e.g.
// rate.NewLimiter(rate.Every(time.Second), 1)).
func New(creds *credstore.Store, limiter *rate.Limiter, auth AuthEscalator, rec OutcomeRecorder, opts HeaderOptions) *Client {
	return &Client{
		http:      &http.Client{Timeout: 30 * time.Second},
		limiter:   limiter,
		creds:     creds,
		auth:      auth,
		rec:       rec,
		opts:      opts,
		sessionID: uuid.New(),
		telemetry: newTelemetry(),
	}
}

// Result is the outcome of a remote call.
type Result struct {
	Code         int
	Kind         domain.ErrorKind
	Priority     domain.Priority
	User         *domain.FullUser
	BlockSuccess bool
}

// ResolveHandle looks up a single handle via GraphQL.
func (c *Client) ResolveHandle(ctx context.Context, handle string) (Result, error) {
	variables := map[string]any{
		"screen_name":                 handle,
		"withSafetyModeUserFields":    true,
		"withSuperFollowsUserFields":  true,
	}
	return c.doUserLookup(ctx, userByScreenNameEndpoint, variables, handle, "")
}

// LookupByID looks up a single id via GraphQL. Used for a lone id lookup
// (e.g. --test-user); the engine's batch processing path calls
// LookupBatch instead.
func (c *Client) LookupByID(ctx context.Context, id string) (Result, error) {
	variables := map[string]any{
		"userId":                     id,
		"withSafetyModeUserFields":   true,
		"withSuperFollowsUserFields": true,
	}
	return c.doUserLookup(ctx, userByRestIDEndpoint, variables, "", id)
}

// LookupBatch resolves up to 50 ids in a single GraphQL request, per spec
// §4.F step 2: "a GraphQL call returning a list of result objects keyed
// to input ids; each is parsed individually; missing ids map to null."
// A missing id is simply absent from the returned map.
func (c *Client) LookupBatch(ctx context.Context, ids []string) (map[string]Result, error) {
	if len(ids) == 0 {
		return map[string]Result{}, nil
	}
	if len(ids) > maxLookupBatchIDs {
		return nil, fmt.Errorf("lookup batch limited to %d ids, got %d", maxLookupBatchIDs, len(ids))
	}

	variables := map[string]any{
		"userIds":                    ids,
		"withSafetyModeUserFields":   true,
		"withSuperFollowsUserFields": true,
	}
	varJSON, err := json.Marshal(variables)
	if err != nil {
		return nil, fmt.Errorf("marshal graphql variables: %w", err)
	}
	featJSON, err := json.Marshal(graphqlFeatures())
	if err != nil {
		return nil, fmt.Errorf("marshal graphql features: %w", err)
	}

	q := url.Values{}
	q.Set("variables", string(varJSON))
	q.Set("features", string(featJSON))

	status, body, headers, err := c.do(ctx, http.MethodGet, usersByRestIDsEndpoint+"?"+q.Encode(), nil, true)
	if err != nil {
		return nil, err
	}

	if escalated, _ := c.handle401(ctx, status, body, headers); escalated {
		return nil, fmt.Errorf("lookup batch: auth required")
	}

	if status != http.StatusOK {
		result := classifier.Classify(status, body, headers)
		c.recordOutcome(false, result.Kind, status)
		return nil, fmt.Errorf("lookup batch: unexpected status %d (%s)", status, result.Kind)
	}

	users, err := parseBatchUserResponse(body)
	if err != nil {
		return nil, err
	}
	c.recordOutcome(true, domain.KindNone, status)

	out := make(map[string]Result, len(ids))
	for id, user := range users {
		out[id] = Result{Code: status, Kind: domain.KindNone, User: user}
	}
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			// The platform omits unresolved ids from the batch response
			// entirely; a requested id with no matching result is a
			// confirmed miss, not a transient gap worth retrying.
			out[id] = Result{Code: status, Kind: domain.KindNotFound}
		}
	}
	return out, nil
}

func graphqlFeatures() map[string]bool {
	return map[string]bool{
		"hidden_profile_likes_enabled":                                     true,
		"responsive_web_graphql_exclude_directive_enabled":                 true,
		"verified_phone_label_enabled":                                     false,
		"subscriptions_verification_info_is_identity_verified_enabled":     true,
		"subscriptions_verification_info_verified_since_enabled":           true,
		"highlights_tweets_tab_ui_enabled":                                 true,
		"creator_subscriptions_tweet_preview_api_enabled":                  true,
		"responsive_web_graphql_skip_user_profile_image_extensions_enabled": false,
		"responsive_web_graphql_timeline_navigation_enabled":               true,
	}
}

func (c *Client) doUserLookup(ctx context.Context, endpoint string, variables map[string]any, handle, id string) (Result, error) {
	varJSON, err := json.Marshal(variables)
	if err != nil {
		return Result{}, fmt.Errorf("marshal graphql variables: %w", err)
	}
	featJSON, err := json.Marshal(graphqlFeatures())
	if err != nil {
		return Result{}, fmt.Errorf("marshal graphql features: %w", err)
	}

	q := url.Values{}
	q.Set("variables", string(varJSON))
	q.Set("features", string(featJSON))

	status, body, headers, err := c.do(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil, true)
	if err != nil {
		return Result{}, err
	}

	if escalated, res := c.handle401(ctx, status, body, headers); escalated {
		return res, nil
	}

	if status != http.StatusOK {
		result := classifier.Classify(status, body, headers)
		c.recordOutcome(false, result.Kind, status)
		return Result{Code: status, Kind: result.Kind, Priority: result.Priority}, nil
	}

	user, err := parseUserResponse(body, handle, id)
	if err != nil {
		return Result{}, err
	}
	c.recordOutcome(true, domain.KindNone, status)
	return Result{Code: status, Kind: domain.KindNone, User: user}, nil
}

// BlockByID issues the block-create REST call.
func (c *Client) BlockByID(ctx context.Context, id string) (Result, error) {
	form := url.Values{"user_id": {id}}
	status, body, headers, err := c.do(ctx, http.MethodPost, blocksCreateEndpoint, strings.NewReader(form.Encode()), false)
	if err != nil {
		return Result{}, err
	}

	if escalated, res := c.handle401(ctx, status, body, headers); escalated {
		return res, nil
	}

	if status == http.StatusOK {
		c.recordOutcome(true, domain.KindNone, status)
		return Result{Code: status, BlockSuccess: true}, nil
	}

	result := classifier.Classify(status, body, headers)
	c.recordOutcome(false, result.Kind, status)
	return Result{Code: status, Kind: result.Kind, Priority: result.Priority}, nil
}

// do issues one HTTP request, applying rate limiting and the 429
// reset-aware retry-once (§4.F step c). graphql selects the GraphQL vs.
// REST header set.
func (c *Client) do(ctx context.Context, method, target string, body io.Reader, graphql bool) (int, string, classifier.Headers, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, "", nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	status, text, headers, err := c.request(ctx, method, target, body, graphql)
	if err != nil {
		return 0, "", nil, err
	}

	if status == http.StatusTooManyRequests {
		delay := rateLimitDelay(headers)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return 0, "", nil, ctx.Err()
		}
		return c.request(ctx, method, target, body, graphql)
	}

	return status, text, headers, nil
}

func (c *Client) request(ctx context.Context, method, target string, body io.Reader, graphql bool) (int, string, classifier.Headers, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return 0, "", nil, fmt.Errorf("build request: %w", err)
	}

	cookies, err := c.creds.Load()
	if err != nil {
		return 0, "", nil, fmt.Errorf("load credentials: %w", err)
	}
	c.applyHeaders(req, cookies, graphql)

	resp, err := c.http.Do(req)
	if err != nil {
		// Pure transport error, no HTTP response: surfaces as Code==0,
		// resolved per SPEC_FULL.md §4.D open question (1) as retryable.
		return 0, "", nil, nil
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, "", classifier.HeadersFromHTTP(resp.Header), nil
	}
	return resp.StatusCode, string(data), classifier.HeadersFromHTTP(resp.Header), nil
}

func (c *Client) handle401(ctx context.Context, status int, body string, headers classifier.Headers) (bool, Result) {
	if status != http.StatusUnauthorized {
		return false, Result{}
	}
	c.recordOutcome(false, domain.KindAuthRequired, status)
	if c.auth != nil {
		if err := c.auth.HandleAuthRequired(ctx); err != nil {
			return true, Result{Code: status, Kind: domain.KindAuthRequired, Priority: domain.PrioritySevere}
		}
	}
	return true, Result{Code: status, Kind: domain.KindAuthRequired, Priority: domain.PriorityPolicy}
}

func (c *Client) recordOutcome(success bool, kind domain.ErrorKind, status int) {
	if c.rec != nil {
		c.rec.RecordOutcome(success, kind, status)
	}
	c.telemetry.record(c.opts.EnableEnhancement, success)
}

// rateLimitDelay computes the reset-aware delay from the
// x-rate-limit-reset header per §4.D's rate_limit branch:
// max(60, min(reset-now+10, 900)).
func rateLimitDelay(headers classifier.Headers) time.Duration {
	resetHeader := headers.Get("x-rate-limit-reset")
	if resetHeader == "" {
		return 60 * time.Second
	}
	resetUnix, err := strconv.ParseInt(resetHeader, 10, 64)
	if err != nil {
		return 60 * time.Second
	}
	secs := float64(resetUnix-time.Now().Unix()) + 10
	if secs < 60 {
		secs = 60
	}
	if secs > 900 {
		secs = 900
	}
	return time.Duration(secs) * time.Second
}

func nextTxnID(c *Client) uint64 {
	return c.txnSeq.Add(1)
}
