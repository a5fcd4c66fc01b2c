package remote

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book000/twitter-bulk-blocker/internal/domain"
)

func TestParseUserResponse_ActiveUser(t *testing.T) {
	body := `{"data":{"user":{"result":{
		"__typename":"User",
		"rest_id":"12345",
		"legacy":{"id_str":"12345","screen_name":"someuser","name":"Some User","following":true,"blocking":false}
	}}}}`
	u, err := parseUserResponse(body, "someuser", "")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "12345", u.ID)
	assert.Equal(t, "someuser", u.ScreenName)
	assert.True(t, u.Following)
	assert.False(t, u.Blocking)
}

func TestParseUserResponse_Unavailable(t *testing.T) {
	body := `{"data":{"user":{"result":{
		"__typename":"UserUnavailable",
		"reason":"Suspended"
	}}}}`
	u, err := parseUserResponse(body, "gone", "99")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "suspended", string(u.Availability))
	assert.Equal(t, "99", u.ID)
}

func TestParseUserResponse_NotFoundError(t *testing.T) {
	body := `{"errors":[{"message":"User not found"}]}`
	u, err := parseUserResponse(body, "ghost", "1")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, domain.AvailabilityNotFound, u.Availability)
}

func TestParseBatchUserResponse_KeyedByResolvedID(t *testing.T) {
	body := `{"data":{"users":[
		{"result":{"__typename":"User","rest_id":"1","legacy":{"id_str":"1","screen_name":"alice"}}},
		{"result":{"__typename":"User","rest_id":"2","legacy":{"id_str":"2","screen_name":"bob"}}}
	]}}`
	users, err := parseBatchUserResponse(body)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users["1"].ScreenName)
	assert.Equal(t, "bob", users["2"].ScreenName)
}

func TestParseBatchUserResponse_MissingIDsAbsentFromMap(t *testing.T) {
	body := `{"data":{"users":[
		{"result":{"__typename":"User","rest_id":"1","legacy":{"id_str":"1","screen_name":"alice"}}}
	]}}`
	users, err := parseBatchUserResponse(body)
	require.NoError(t, err)
	require.Len(t, users, 1)
	_, ok := users["2"]
	assert.False(t, ok, "an id absent from the response's users list must be absent from the map, not present with a nil/zero value")
}

func TestRateLimitDelay_ClampsToRange(t *testing.T) {
	d := rateLimitDelay(map[string]string{})
	assert.Equal(t, 60*time.Second, d)
}

func TestTelemetry_RecommendsAfterEnoughSamples(t *testing.T) {
	tel := newTelemetry()
	for i := 0; i < 20; i++ {
		tel.record(true, true)
		tel.record(false, i%2 == 0)
	}
	report := tel.report()
	assert.Equal(t, 1.0, report.EnhancedSuccessRate)
	assert.InDelta(t, 0.5, report.UnenhancedSuccessRate, 0.01)
	assert.Equal(t, "enable_enhancement", report.Recommendation)
}

func TestTelemetry_InsufficientData(t *testing.T) {
	tel := newTelemetry()
	tel.record(true, true)
	report := tel.report()
	assert.Equal(t, "insufficient_data", report.Recommendation)
}
