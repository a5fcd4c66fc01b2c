// Package credstore loads session credentials (cookie-style records) from
// a file, caching the resulting name->value mapping in memory until either
// a configured age elapses or the file's modification time advances.
// Grounded on original_source/twitter_blocker/config.py's CookieManager.
package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrCredentialsMissing is returned when the credentials file does not
// exist on disk.
var ErrCredentialsMissing = errors.New("credentials_missing")

// Mapping is the cookie name -> value view the remote client consumes.
type Mapping map[string]string

// cookieRecord is one entry of the on-disk JSON array.
type cookieRecord struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
}

// platformDomains mirrors CookieManager.TWITTER_DOMAINS.
var platformDomains = map[string]bool{
	".x.com":       true,
	".twitter.com": true,
	"x.com":        true,
	"twitter.com":  true,
}

// Store caches a credentials mapping in memory, invalidating on age or file
// mutation. Never writes the file.
type Store struct {
	path        string
	cacheTTL    time.Duration
	mu          sync.Mutex
	cached      Mapping
	cachedAt    time.Time
	fileModTime time.Time

	watcher *fsnotify.Watcher
	woken   chan struct{}
}

// New returns a Store reading from path, caching for cacheTTL (clamped to
// [30s, 10min] per spec §4.A). It starts an fsnotify watcher on the file's
// directory as a latency optimization for WaitForRefresh; the watcher's
// absence (e.g. on an fs that doesn't support it) is not fatal since the
// mtime-compare poll remains the correctness source of truth.
func New(path string, cacheTTL time.Duration) *Store {
	if cacheTTL < 30*time.Second {
		cacheTTL = 30 * time.Second
	}
	if cacheTTL > 10*time.Minute {
		cacheTTL = 10 * time.Minute
	}
	s := &Store{
		path:     path,
		cacheTTL: cacheTTL,
		woken:    make(chan struct{}, 1),
	}
	s.startWatcher()
	return s
}

func (s *Store) startWatcher() {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return
	}
	dir := dirOf(s.path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return
	}
	s.watcher = w
	go s.watchLoop()
}

func (s *Store) watchLoop() {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Name == s.path && (ev.Op&(fsnotify.Write|fsnotify.Create)) != 0 {
				select {
				case s.woken <- struct{}{}:
				default:
				}
			}
		case _, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the background watcher goroutine. Safe to call more than
// once.
func (s *Store) Close() {
	if s.watcher != nil {
		_ = s.watcher.Close()
	}
}

// Load returns the cached mapping, reloading from disk when the cache has
// expired by age or the file's on-disk modification time has advanced.
func (s *Store) Load() (Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (Mapping, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrCredentialsMissing
		}
		return nil, fmt.Errorf("stat credentials file: %w", err)
	}

	mtime := info.ModTime()
	cacheValid := s.cached != nil &&
		time.Since(s.cachedAt) < s.cacheTTL &&
		mtime.Equal(s.fileModTime)
	if cacheValid {
		return s.cached, nil
	}

	mapping, err := readMapping(s.path)
	if err != nil {
		return nil, err
	}

	s.cached = mapping
	s.cachedAt = time.Now()
	s.fileModTime = mtime
	return mapping, nil
}

func readMapping(path string) (Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrCredentialsMissing
		}
		return nil, fmt.Errorf("read credentials file: %w", err)
	}

	var records []cookieRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse credentials file: %w", err)
	}

	mapping := make(Mapping, len(records))
	for _, r := range records {
		if platformDomains[r.Domain] {
			mapping[r.Name] = r.Value
		}
	}
	return mapping, nil
}

// Invalidate clears the in-memory cache so the next Load reads from disk
// regardless of age or mtime.
func (s *Store) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = nil
	s.cachedAt = time.Time{}
}

// WaitForRefresh blocks until the credentials file's modification time
// advances past the mtime recorded at the last successful Load, or until
// timeout elapses. Used by the recovery coordinator after invalidating
// credentials, to wait for an operator (or external process) to rewrite
// the file. Returns true if a refresh was observed.
func (s *Store) WaitForRefresh(timeout time.Duration) bool {
	s.mu.Lock()
	baseline := s.fileModTime
	s.mu.Unlock()

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		if s.checkAdvanced(baseline) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-s.woken:
		case <-ticker.C:
		}
	}
}

func (s *Store) checkAdvanced(baseline time.Time) bool {
	info, err := os.Stat(s.path)
	if err != nil {
		return false
	}
	return info.ModTime().After(baseline)
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
