package credstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCookies(t *testing.T, path string, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestLoad_FiltersToPlatformDomains(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cookies.json")
	writeCookies(t, path, `[
		{"name": "auth_token", "value": "abc", "domain": ".x.com"},
		{"name": "ct0", "value": "def", "domain": "twitter.com"},
		{"name": "unrelated", "value": "xyz", "domain": "example.com"}
	]`)

	s := New(path, time.Minute)
	defer s.Close()

	m, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "abc", m["auth_token"])
	assert.Equal(t, "def", m["ct0"])
	assert.NotContains(t, m, "unrelated")
}

func TestLoad_MissingFile(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "missing.json"), time.Minute)
	defer s.Close()

	_, err := s.Load()
	assert.ErrorIs(t, err, ErrCredentialsMissing)
}

func TestLoad_ReloadsOnFileMutation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cookies.json")
	writeCookies(t, path, `[{"name": "auth_token", "value": "v1", "domain": "x.com"}]`)

	s := New(path, time.Hour)
	defer s.Close()

	m1, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "v1", m1["auth_token"])

	// Ensure the new mtime is observably different even on coarse
	// filesystem clocks.
	time.Sleep(10 * time.Millisecond)
	writeCookies(t, path, `[{"name": "auth_token", "value": "v2", "domain": "x.com"}]`)
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	m2, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "v2", m2["auth_token"], "a file mutation must invalidate the cache regardless of age")
}

func TestInvalidate_ForcesReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cookies.json")
	writeCookies(t, path, `[{"name": "auth_token", "value": "v1", "domain": "x.com"}]`)

	s := New(path, time.Hour)
	defer s.Close()

	_, err := s.Load()
	require.NoError(t, err)

	s.Invalidate()

	writeCookies(t, path, `[{"name": "auth_token", "value": "v2", "domain": "x.com"}]`)
	m, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "v2", m["auth_token"])
}

func TestWaitForRefresh_TimesOutWithoutMutation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cookies.json")
	writeCookies(t, path, `[{"name": "auth_token", "value": "v1", "domain": "x.com"}]`)

	s := New(path, time.Hour)
	defer s.Close()

	_, err := s.Load()
	require.NoError(t, err)

	refreshed := s.WaitForRefresh(50 * time.Millisecond)
	assert.False(t, refreshed)
}

func TestWaitForRefresh_ReturnsTrueOnMutation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cookies.json")
	writeCookies(t, path, `[{"name": "auth_token", "value": "v1", "domain": "x.com"}]`)

	s := New(path, time.Hour)
	defer s.Close()

	_, err := s.Load()
	require.NoError(t, err)

	done := make(chan bool, 1)
	go func() {
		done <- s.WaitForRefresh(2 * time.Second)
	}()

	time.Sleep(50 * time.Millisecond)
	future := time.Now().Add(time.Minute)
	writeCookies(t, path, `[{"name": "auth_token", "value": "v2", "domain": "x.com"}]`)
	require.NoError(t, os.Chtimes(path, future, future))

	assert.True(t, <-done)
}
