package classifier

import (
	"testing"

	"github.com/book000/twitter-bulk-blocker/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestClassify_DirectMappings(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   domain.ErrorKind
	}{
		{"ok", 200, domain.KindNone},
		{"rate limit", 429, domain.KindRateLimit},
		{"auth required", 401, domain.KindAuthRequired},
		{"not found", 404, domain.KindNotFound},
		{"server error 500", 500, domain.KindServerError},
		{"server error 503", 503, domain.KindServerError},
		{"timeout (no status)", 0, domain.KindTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.status, "", nil)
			assert.Equal(t, tt.want, got.Kind)
		})
	}
}

func TestClassify_403_OrderedRules(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		headers  Headers
		wantKind domain.ErrorKind
		wantPrio domain.Priority
	}{
		{"rate limit body", "Rate limit exceeded, try later", nil, domain.KindRateLimit, domain.PriorityCorrectable},
		{"rate limit too many", "Too Many requests from this client", nil, domain.KindRateLimit, domain.PriorityCorrectable},
		{"rate limit header", "", Headers{"x-rate-limit-remaining": "0"}, domain.KindRateLimit, domain.PriorityCorrectable},
		{"auth required", "Invalid token supplied", nil, domain.KindAuthRequired, domain.PriorityPolicy},
		{"auth credential", "missing credential in request", nil, domain.KindAuthRequired, domain.PriorityPolicy},
		{"account restricted", "Your account has been suspended", nil, domain.KindAccountRestricted, domain.PrioritySevere},
		{"account locked", "account is locked pending review", nil, domain.KindAccountRestricted, domain.PrioritySevere},
		{"ip blocked", "Your ip address has been blocked", nil, domain.KindIPBlocked, domain.PrioritySevere},
		{"anti bot", "Suspicious activity detected, verification required", nil, domain.KindAntiBot, domain.PriorityPolicy},
		{"header issue", "missing required header X-Csrf-Token", nil, domain.KindHeaderIssue, domain.PriorityCorrectable},
		{"user-agent issue", "invalid user-agent string", nil, domain.KindHeaderIssue, domain.PriorityCorrectable},
		{"permission denied", "access denied for this resource", nil, domain.KindPermissionDenied, domain.PriorityPolicy},
		{"unknown error", "Unknown error occurred", nil, domain.KindUnknownForbidden, domain.PriorityPolicy},
		{"no match", "something unexpected happened", nil, domain.KindUnknownForbidden, domain.PriorityPolicy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(403, tt.body, tt.headers)
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, tt.wantPrio, got.Priority)
		})
	}
}

func TestClassify_403_PriorityOverAccountAndAuth(t *testing.T) {
	// "account" + "restricted" must win over a looser auth-ish match since
	// it is checked earlier in the ladder.
	got := Classify(403, "authorization failed: account restricted", nil)
	assert.Equal(t, domain.KindAuthRequired, got.Kind, "auth check precedes account-restricted check")
}

func TestHeadersFromHTTP_CaseInsensitive(t *testing.T) {
	h := Headers{"X-Rate-Limit-Remaining": "0"}
	assert.Equal(t, "0", h.Get("x-rate-limit-remaining"))
}
