// Package domain defines the closed set of types shared by every component
// of the blocking engine: targets read from the input file, profiles and
// relationships decoded from remote responses, and the history rows the
// engine persists. No component outside internal/remote may construct a
// Profile or Relationship from raw untyped data — decoding happens once, at
// the remote client boundary.
package domain

import "time"

// TargetFormat is the format a Target was supplied in.
type TargetFormat string

const (
	FormatID     TargetFormat = "id"
	FormatHandle TargetFormat = "handle"
)

// Target is an opaque identifier consumed from the input file. Immutable.
type Target struct {
	Value  string
	Format TargetFormat
}

// Availability is the remote account's availability state.
type Availability string

const (
	AvailabilityActive      Availability = "active"
	AvailabilityUnavailable Availability = "unavailable"
	AvailabilitySuspended   Availability = "suspended"
	AvailabilityDeactivated Availability = "deactivated"
	AvailabilityNotFound    Availability = "not_found"
)

// Terminal reports whether this availability state can never recover on its
// own, per retry policy rule 2 (§4.D).
func (a Availability) Terminal() bool {
	switch a {
	case AvailabilityNotFound, AvailabilityDeactivated, AvailabilitySuspended:
		return true
	default:
		return false
	}
}

// Profile holds stable attributes of a remote account, independent of who
// is looking. Cached indefinitely, refreshed on every fetch.
type Profile struct {
	ID           string
	ScreenName   string
	DisplayName  string
	Availability Availability
	FetchedAt    time.Time
}

// Relationship holds the pairwise state between the session owner and a
// profile. Not shareable across session owners.
type Relationship struct {
	Following  bool
	FollowedBy bool
	Blocking   bool
	BlockedBy  bool
	Protected  bool
	FetchedAt  time.Time
}

// FullUser is the merged view the decision ladder operates on.
type FullUser struct {
	Profile
	Relationship
}

// ErrorKind is the classifier's closed-set label for a failure.
type ErrorKind string

const (
	KindNone                 ErrorKind = "none"
	KindRateLimit            ErrorKind = "rate_limit"
	KindAuthRequired         ErrorKind = "auth_required"
	KindPermissionDenied     ErrorKind = "permission_denied"
	KindAccountRestricted    ErrorKind = "account_restricted"
	KindAntiBot              ErrorKind = "anti_bot"
	KindIPBlocked            ErrorKind = "ip_blocked"
	KindHeaderIssue          ErrorKind = "header_issue"
	KindUnknownForbidden     ErrorKind = "unknown_forbidden"
	KindServerError          ErrorKind = "server_error"
	KindTimeout              ErrorKind = "timeout"
	KindNotFound             ErrorKind = "not_found"
	KindRelationshipConflict ErrorKind = "relationship_conflict"
	KindFollowConflict       ErrorKind = "follow_conflict"
	KindAlreadyBlocked       ErrorKind = "already_blocked"
)

// Priority classifies how severe a classified error is.
// 1 = trivially correctable, 2 = requires policy change, 3 = severe.
type Priority int

const (
	PriorityCorrectable Priority = 1
	PriorityPolicy      Priority = 2
	PrioritySevere      Priority = 3
)

// HistoryStatus is the terminal status recorded for a target.
type HistoryStatus string

const (
	StatusBlocked HistoryStatus = "blocked"
	StatusFailed  HistoryStatus = "failed"
)

// HistoryEntry is one row per distinct target, keyed by id when known, else
// by handle.
type HistoryEntry struct {
	ScreenName   string
	UserID       string
	DisplayName  string
	Status       HistoryStatus
	ResponseCode int
	ErrorMessage string
	ErrorKind    ErrorKind
	RetryCount   int
	LastRetryAt  time.Time
	UserStatus   Availability
	BlockedAt    time.Time
}

// ConflictKey returns the identifier History.Record upserts on: the user id
// when known, else the screen name.
func (e HistoryEntry) ConflictKey() string {
	if e.UserID != "" {
		return e.UserID
	}
	return e.ScreenName
}

// Session is one row per engine invocation.
type Session struct {
	ID           int64
	StartedAt    time.Time
	TotalTargets int
	Processed    int
	Blocked      int
	Skipped      int
	Errored      int
	Completed    bool
}

// Attempt is an in-memory record of one remote call, consumed only by the
// retry policy's recent-success-rate calculation. Never persisted.
type Attempt struct {
	Target    Target
	StartedAt time.Time
	Success   bool
	Kind      ErrorKind
	Code      int
}
