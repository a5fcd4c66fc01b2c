package idcache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book000/twitter-bulk-blocker/internal/domain"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(t.TempDir(), "owner1", 0)
	require.NoError(t, err)
	return c
}

func TestResolveHandle_RoundTrip(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.StoreHandle("someuser", "12345"))
	assert.Equal(t, "12345", c.ResolveHandle("someuser"))
}

func TestResolveHandle_MissingReturnsEmpty(t *testing.T) {
	c := newTestCache(t)
	assert.Equal(t, "", c.ResolveHandle("nobody"))
}

func TestReadProfile_NilWhenAbsent(t *testing.T) {
	c := newTestCache(t)
	assert.Nil(t, c.ReadProfile("999"))
}

func TestStoreFullUser_CompositeRead(t *testing.T) {
	c := newTestCache(t)
	u := domain.FullUser{
		Profile: domain.Profile{
			ID:           "12345",
			ScreenName:   "someuser",
			DisplayName:  "Some User",
			Availability: domain.AvailabilityActive,
		},
		Relationship: domain.Relationship{
			Following: true,
			Blocking:  false,
		},
	}
	require.NoError(t, c.StoreFullUser(u))

	got := c.ReadProfile("12345")
	require.NotNil(t, got)
	assert.Equal(t, "someuser", got.ScreenName)
	assert.True(t, got.Following)
	assert.False(t, got.Blocking)
}

func TestReadProfile_ExpiredIsDeleted(t *testing.T) {
	c := newTestCache(t)
	u := domain.FullUser{Profile: domain.Profile{ID: "555", ScreenName: "old"}}
	require.NoError(t, c.StoreFullUser(u))

	path := c.profilePath("555")
	old := time.Now().Add(-TTL - time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	assert.Nil(t, c.ReadProfile("555"))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "expired profile file should be deleted on read")
}

func TestRelationship_PartitionedByOwner(t *testing.T) {
	dir := t.TempDir()
	owner1, err := New(dir, "owner1", 0)
	require.NoError(t, err)
	owner2, err := New(dir, "owner2", 0)
	require.NoError(t, err)

	u := domain.FullUser{
		Profile:      domain.Profile{ID: "42", ScreenName: "shared"},
		Relationship: domain.Relationship{Following: true},
	}
	require.NoError(t, owner1.StoreFullUser(u))

	got2 := owner2.ReadProfile("42")
	require.NotNil(t, got2, "profile layer is shared across owners")
	assert.False(t, got2.Following, "relationship layer must not leak across owner partitions")
}

func TestDeriveOwner_FromTwid(t *testing.T) {
	owner := DeriveOwner(map[string]string{"twid": "u%3D123456789"})
	assert.Equal(t, "123456789", owner)
}

func TestDeriveOwner_FallbackHashIsStable(t *testing.T) {
	cookies := map[string]string{"ct0": "abcdef"}
	o1 := DeriveOwner(cookies)
	o2 := DeriveOwner(cookies)
	assert.Equal(t, o1, o2)
	assert.NotEmpty(t, o1)
}

func TestSafeFilename_StripsPathTraversal(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.StoreHandle("../../etc/passwd", "1"))
	path := c.lookupPath("../../etc/passwd")
	assert.True(t, filepath.IsAbs(path))
	assert.NotContains(t, path, "..")
}
