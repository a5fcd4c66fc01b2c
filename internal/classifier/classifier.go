// Package classifier maps a remote response (status, body, headers) to a
// finite set of domain.ErrorKind values with a priority. It is a pure
// function with no side effects and no dependency on any other component.
//
// The body/header substring rules for 403 responses are deliberately
// shallow, mirroring the platform's own error text. Keep them as ordered
// rules — first match wins — and add new rules to the tail; do not
// reorder existing ones.
package classifier

import (
	"net/http"
	"strings"

	"github.com/book000/twitter-bulk-blocker/internal/domain"
)

// Headers is the minimal header view the classifier needs. Using a plain
// map keeps the classifier free of any net/http response type beyond this
// file, so it stays trivially unit-testable.
type Headers map[string]string

// Get performs a case-insensitive header lookup.
func (h Headers) Get(key string) string {
	if v, ok := h[key]; ok {
		return v
	}
	for k, v := range h {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// HeadersFromHTTP adapts a http.Header into the Headers the classifier
// expects.
func HeadersFromHTTP(h http.Header) Headers {
	out := make(Headers, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

// Result is the classifier's verdict.
type Result struct {
	Kind     domain.ErrorKind
	Priority domain.Priority
}

// Classify maps a status code, response body, and headers to an ErrorKind
// and priority, per spec §4.C.
func Classify(status int, body string, headers Headers) Result {
	switch {
	case status == http.StatusOK:
		return Result{domain.KindNone, 0}
	case status == http.StatusTooManyRequests:
		return Result{domain.KindRateLimit, domain.PriorityCorrectable}
	case status == http.StatusUnauthorized:
		return Result{domain.KindAuthRequired, domain.PriorityPolicy}
	case status == http.StatusNotFound:
		return Result{domain.KindNotFound, domain.PriorityCorrectable}
	case status >= 500 && status < 600:
		return Result{domain.KindServerError, domain.PrioritySevere}
	case status == 0:
		return Result{domain.KindTimeout, domain.PriorityCorrectable}
	case status == http.StatusForbidden:
		return classify403(body, headers)
	default:
		return Result{domain.KindNone, 0}
	}
}

// classify403 inspects body and headers in the order mandated by spec §4.C
// and returns the first match. This mirrors
// ErrorClassifier.classify_403_error from the original Python
// implementation rule for rule.
func classify403(body string, headers Headers) Result {
	lower := strings.ToLower(body)

	if strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "too many") ||
		headers.Get("x-rate-limit-remaining") == "0" {
		return Result{domain.KindRateLimit, domain.PriorityCorrectable}
	}

	if strings.Contains(lower, "authoriz") ||
		strings.Contains(lower, "invalid token") ||
		strings.Contains(lower, "credential") {
		return Result{domain.KindAuthRequired, domain.PriorityPolicy}
	}

	if strings.Contains(lower, "account") &&
		(strings.Contains(lower, "restricted") ||
			strings.Contains(lower, "suspended") ||
			strings.Contains(lower, "locked")) {
		return Result{domain.KindAccountRestricted, domain.PrioritySevere}
	}

	if strings.Contains(lower, "ip") &&
		(strings.Contains(lower, "blocked") || strings.Contains(lower, "restricted")) {
		return Result{domain.KindIPBlocked, domain.PrioritySevere}
	}

	if strings.Contains(lower, "bot") ||
		strings.Contains(lower, "automated") ||
		strings.Contains(lower, "suspicious") ||
		strings.Contains(lower, "verification") {
		return Result{domain.KindAntiBot, domain.PriorityPolicy}
	}

	if strings.Contains(lower, "header") ||
		strings.Contains(lower, "user-agent") ||
		(strings.Contains(lower, "missing") && strings.Contains(lower, "required")) {
		return Result{domain.KindHeaderIssue, domain.PriorityCorrectable}
	}

	if strings.Contains(lower, "permission") ||
		strings.Contains(lower, "access denied") ||
		strings.Contains(lower, "forbidden") {
		return Result{domain.KindPermissionDenied, domain.PriorityPolicy}
	}

	return Result{domain.KindUnknownForbidden, domain.PriorityPolicy}
}
