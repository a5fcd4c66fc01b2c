package remote

import (
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

// forwardedForRanges are plausible residential ISP /24 prefixes used to
// synthesize a session-stable X-Forwarded-For value when enabled. Not an
// attempt at real geolocation spoofing — a static per-session value that
// looks like an ordinary client IP.
var forwardedForRanges = []string{"24.5.", "71.198.", "98.210.", "173.66."}

// applyHeaders builds and sets the request headers, mirroring
// TwitterAPI._build_graphql_headers / _build_rest_headers, plus the
// optional enhanced headers from §4.F: a per-request monotonic
// transaction id, the client's per-session UUID, a timestamped request
// id, and (opt-in) a synthetic forwarded-for.
func (c *Client) applyHeaders(req *http.Request, cookies credstoreMapping, graphql bool) {
	cookieStr := joinCookies(cookies)

	req.Header.Set("authorization", "Bearer "+bearerToken)
	req.Header.Set("x-csrf-token", cookies["ct0"])
	req.Header.Set("x-twitter-auth-type", "OAuth2Session")
	req.Header.Set("x-twitter-active-user", "yes")
	req.Header.Set("user-agent", userAgent)
	req.Header.Set("accept", "*/*")
	req.Header.Set("accept-language", "ja,en-US;q=0.7,en;q=0.3")
	req.Header.Set("sec-fetch-dest", "empty")
	req.Header.Set("sec-fetch-mode", "cors")
	req.Header.Set("sec-fetch-site", "same-origin")
	req.Header.Set("dnt", "1")
	req.Header.Set("cookie", cookieStr)

	if graphql {
		req.Header.Set("content-type", "application/json")
	} else {
		req.Header.Set("content-type", "application/x-www-form-urlencoded")
		req.Header.Set("referer", "https://x.com/home")
		req.Header.Set("origin", "https://x.com")
		req.Header.Set("x-twitter-client-language", "ja")
	}

	if c.opts.EnableEnhancement {
		req.Header.Set("x-client-transaction-id", fmt.Sprintf("%d", nextTxnID(c)))
		req.Header.Set("x-client-session-id", c.sessionID.String())
		req.Header.Set("x-client-request-id", fmt.Sprintf("%d-%d", time.Now().UnixNano(), nextTxnID(c)))
		if c.opts.EnableForwardedFor {
			req.Header.Set("x-forwarded-for", syntheticForwardedFor(c.sessionID.String()))
		}
	}
}

// credstoreMapping avoids an import cycle name clash; it is the same
// shape as credstore.Mapping.
type credstoreMapping = map[string]string

func joinCookies(cookies map[string]string) string {
	parts := make([]string, 0, len(cookies))
	for name, value := range cookies {
		parts = append(parts, name+"="+value)
	}
	return strings.Join(parts, "; ")
}

// syntheticForwardedFor derives a session-stable synthetic client IP from
// a seed so the same client uses the same value for its whole run.
func syntheticForwardedFor(seed string) string {
	h := 0
	for _, r := range seed {
		h = h*31 + int(r)
	}
	rng := rand.New(rand.NewSource(int64(h)))
	prefix := forwardedForRanges[rng.Intn(len(forwardedForRanges))]
	return fmt.Sprintf("%s%d.%d", prefix, rng.Intn(256), rng.Intn(256))
}
