package remote

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/book000/twitter-bulk-blocker/internal/domain"
)

// graphqlResult mirrors the subset of the platform's per-user GraphQL
// "result" object that both the single-user and batch-user endpoints
// return.
type graphqlResult struct {
	Typename string `json:"__typename"`
	RestID   string `json:"rest_id"`
	Reason   string `json:"reason"`
	Legacy   struct {
		IDStr      string `json:"id_str"`
		ScreenName string `json:"screen_name"`
		Name       string `json:"name"`
		Following  bool   `json:"following"`
		FollowedBy bool   `json:"followed_by"`
		Blocking   bool   `json:"blocking"`
		BlockedBy  bool   `json:"blocked_by"`
		Protected  bool   `json:"protected"`
	} `json:"legacy"`
}

// graphqlUserResponse mirrors the subset of the platform's GraphQL
// response shape that _parse_user_response reads.
type graphqlUserResponse struct {
	Data struct {
		User struct {
			Result graphqlResult `json:"result"`
		} `json:"user"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// graphqlBatchUserResponse mirrors the batch id-lookup endpoint: a list of
// result objects, one per resolved id, keyed to the requested ids by
// rest_id/id_str rather than by array position (the platform omits
// unresolved ids from the list entirely rather than returning an explicit
// null placeholder).
type graphqlBatchUserResponse struct {
	Data struct {
		Users []struct {
			Result graphqlResult `json:"result"`
		} `json:"users"`
	} `json:"data"`
}

// userFromResult builds a domain.FullUser from one GraphQL result object,
// mirroring TwitterAPI._parse_user_response's unavailable/legacy branches.
// Returns nil if result carries neither an unavailable typename nor a
// legacy record (an empty/unrecognized result).
func userFromResult(result graphqlResult, handle, id string, now time.Time) *domain.FullUser {
	switch {
	case result.Typename == "UserUnavailable":
		availability := domain.AvailabilityUnavailable
		if result.Reason != "" {
			availability = domain.Availability(strings.ToLower(result.Reason))
		}
		resolvedID := result.RestID
		if resolvedID == "" {
			resolvedID = id
		}
		return &domain.FullUser{
			Profile: domain.Profile{
				ID:           resolvedID,
				ScreenName:   handle,
				Availability: availability,
				FetchedAt:    now,
			},
		}

	case result.Legacy.IDStr != "" || result.RestID != "":
		resolvedID := result.Legacy.IDStr
		if resolvedID == "" {
			resolvedID = result.RestID
		}
		if resolvedID == "" {
			resolvedID = id
		}
		screenName := result.Legacy.ScreenName
		if screenName == "" {
			screenName = handle
		}
		return &domain.FullUser{
			Profile: domain.Profile{
				ID:           resolvedID,
				ScreenName:   screenName,
				DisplayName:  result.Legacy.Name,
				Availability: domain.AvailabilityActive,
				FetchedAt:    now,
			},
			Relationship: domain.Relationship{
				Following:  result.Legacy.Following,
				FollowedBy: result.Legacy.FollowedBy,
				Blocking:   result.Legacy.Blocking,
				BlockedBy:  result.Legacy.BlockedBy,
				Protected:  result.Legacy.Protected,
				FetchedAt:  now,
			},
		}

	default:
		return nil
	}
}

// parseUserResponse decodes one GraphQL user-lookup response into a
// domain.FullUser, mirroring TwitterAPI._parse_user_response's three
// branches: unavailable typename, legacy record, or a "User not found"
// GraphQL error.
func parseUserResponse(body, handle, id string) (*domain.FullUser, error) {
	var parsed graphqlUserResponse
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return nil, nil //nolint:nilerr // malformed body is treated as "no user" by the engine, not a hard error
	}

	now := time.Now()
	if user := userFromResult(parsed.Data.User.Result, handle, id, now); user != nil {
		return user, nil
	}

	for _, e := range parsed.Errors {
		if strings.Contains(e.Message, "User not found") {
			return &domain.FullUser{
				Profile: domain.Profile{
					ID:           id,
					ScreenName:   handle,
					Availability: domain.AvailabilityNotFound,
					FetchedAt:    now,
				},
			}, nil
		}
	}
	return nil, nil
}

// parseBatchUserResponse decodes one batched id-lookup response into a
// map of resolved users keyed by id. Requested ids absent from the
// response (the platform's way of signaling "no such user") are simply
// absent from the returned map; the caller treats a missing key the same
// as a single-lookup miss.
func parseBatchUserResponse(body string) (map[string]*domain.FullUser, error) {
	var parsed graphqlBatchUserResponse
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return nil, nil //nolint:nilerr // malformed body is treated as "no users" by the engine, not a hard error
	}

	now := time.Now()
	out := make(map[string]*domain.FullUser, len(parsed.Data.Users))
	for _, entry := range parsed.Data.Users {
		user := userFromResult(entry.Result, "", "", now)
		if user == nil || user.ID == "" {
			continue
		}
		out[user.ID] = user
	}
	return out, nil
}
