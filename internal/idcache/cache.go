// Package idcache is the three-layer on-disk identifier cache: lookup
// (handle->id), profile (shared, by id), and relationship (partitioned per
// session owner, by id). Grounded structurally on the teacher's pluggable
// storage-backend pattern (internal/storage/sqlite alongside
// internal/storage/memory); an in-memory golang-lru/v2 layer accelerates
// repeated reads within a single process without becoming the source of
// truth.
package idcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/book000/twitter-bulk-blocker/internal/domain"
)

// TTL is the on-disk expiration window for every cache layer (spec §4.E).
const TTL = 30 * 24 * time.Hour

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// safeFilename strips characters outside [A-Za-z0-9._-] so a handle or id
// can never escape its cache directory.
func safeFilename(raw string) string {
	return unsafeFilenameChars.ReplaceAllString(raw, "_")
}

type lookupFile struct {
	Handle string `json:"handle"`
	ID     string `json:"id"`
}

type profileFile struct {
	ID           string `json:"id"`
	ScreenName   string `json:"screen_name"`
	DisplayName  string `json:"display_name"`
	Availability string `json:"availability"`
}

type relationshipFile struct {
	Following  bool `json:"following"`
	FollowedBy bool `json:"followed_by"`
	Blocking   bool `json:"blocking"`
	BlockedBy  bool `json:"blocked_by"`
	Protected  bool `json:"protected"`
}

// Cache is the composite identifier cache.
type Cache struct {
	root      string
	owner     string
	lookupLRU *lru.Cache[string, string]
	profLRU   *lru.Cache[string, domain.Profile]
}

// New returns a Cache rooted at dir, partitioning relationship state under
// the given owner id. lruSize defaults to 4096 when <= 0.
func New(dir, owner string, lruSize int) (*Cache, error) {
	if lruSize <= 0 {
		lruSize = 4096
	}
	for _, sub := range []string{"lookup", "profile", filepath.Join("relationship", safeFilename(owner))} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o700); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", sub, err)
		}
	}
	lookupLRU, err := lru.New[string, string](lruSize)
	if err != nil {
		return nil, err
	}
	profLRU, err := lru.New[string, domain.Profile](lruSize)
	if err != nil {
		return nil, err
	}
	return &Cache{root: dir, owner: owner, lookupLRU: lookupLRU, profLRU: profLRU}, nil
}

// DeriveOwner computes the session-owner partition key from credential
// data: a numeric user id extracted from the "twid" cookie
// (`u%3D<digits>` or `u=<digits>`) when present, else a stable hash of the
// "ct0" (CSRF) cookie as a fallback so relationship state is still
// partitioned per distinct credential set.
func DeriveOwner(cookies map[string]string) string {
	if twid, ok := cookies["twid"]; ok {
		if id := extractTwidID(twid); id != "" {
			return id
		}
	}
	fallback := cookies["ct0"]
	if fallback == "" {
		for _, v := range cookies {
			fallback = v
			break
		}
	}
	sum := sha256.Sum256([]byte(fallback))
	return hex.EncodeToString(sum[:])[:16]
}

func extractTwidID(twid string) string {
	unescaped := strings.ReplaceAll(twid, "%3D", "=")
	idx := strings.Index(unescaped, "u=")
	if idx < 0 {
		return ""
	}
	digits := unescaped[idx+2:]
	end := 0
	for end < len(digits) && digits[end] >= '0' && digits[end] <= '9' {
		end++
	}
	return digits[:end]
}

func (c *Cache) lookupPath(handle string) string {
	return filepath.Join(c.root, "lookup", safeFilename(handle)+".json")
}

func (c *Cache) profilePath(id string) string {
	return filepath.Join(c.root, "profile", safeFilename(id)+".json")
}

func (c *Cache) relationshipPath(id string) string {
	return filepath.Join(c.root, "relationship", safeFilename(c.owner), safeFilename(id)+".json")
}

// expired deletes path and returns true if info's mtime is older than TTL.
func expiredOrDelete(path string, info os.FileInfo) bool {
	if time.Since(info.ModTime()) > TTL {
		_ = os.Remove(path)
		return true
	}
	return false
}

// ResolveHandle returns the cached id for a handle, or "" if absent or
// expired.
func (c *Cache) ResolveHandle(handle string) string {
	if id, ok := c.lookupLRU.Get(handle); ok {
		return id
	}
	path := c.lookupPath(handle)
	info, err := os.Stat(path)
	if err != nil {
		return ""
	}
	if expiredOrDelete(path, info) {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	var rec lookupFile
	if json.Unmarshal(data, &rec) != nil {
		_ = os.Remove(path)
		return ""
	}
	c.lookupLRU.Add(handle, rec.ID)
	return rec.ID
}

// StoreHandle persists the handle->id mapping.
func (c *Cache) StoreHandle(handle, id string) error {
	c.lookupLRU.Add(handle, id)
	return writeJSON(c.lookupPath(handle), lookupFile{Handle: handle, ID: id})
}

// ReadProfile returns the cached profile for id, merged with the owner's
// relationship state, or nil if the profile is absent or expired.
func (c *Cache) ReadProfile(id string) *domain.FullUser {
	profile, ok := c.readProfileOnly(id)
	if !ok {
		return nil
	}
	rel := c.readRelationship(id)
	return &domain.FullUser{Profile: profile, Relationship: rel}
}

func (c *Cache) readProfileOnly(id string) (domain.Profile, bool) {
	if p, ok := c.profLRU.Get(id); ok {
		return p, true
	}
	path := c.profilePath(id)
	info, err := os.Stat(path)
	if err != nil {
		return domain.Profile{}, false
	}
	if expiredOrDelete(path, info) {
		return domain.Profile{}, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Profile{}, false
	}
	var rec profileFile
	if json.Unmarshal(data, &rec) != nil {
		_ = os.Remove(path)
		return domain.Profile{}, false
	}
	profile := domain.Profile{
		ID:           rec.ID,
		ScreenName:   rec.ScreenName,
		DisplayName:  rec.DisplayName,
		Availability: domain.Availability(rec.Availability),
		FetchedAt:    info.ModTime(),
	}
	c.profLRU.Add(id, profile)
	return profile, true
}

func (c *Cache) readRelationship(id string) domain.Relationship {
	path := c.relationshipPath(id)
	info, err := os.Stat(path)
	if err != nil {
		return domain.Relationship{}
	}
	if expiredOrDelete(path, info) {
		return domain.Relationship{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Relationship{}
	}
	var rec relationshipFile
	if json.Unmarshal(data, &rec) != nil {
		_ = os.Remove(path)
		return domain.Relationship{}
	}
	return domain.Relationship{
		Following:  rec.Following,
		FollowedBy: rec.FollowedBy,
		Blocking:   rec.Blocking,
		BlockedBy:  rec.BlockedBy,
		Protected:  rec.Protected,
		FetchedAt:  info.ModTime(),
	}
}

// StoreFullUser splits a remote response into profile and relationship
// layers and persists each, invalidating the LRU entry so the next read
// reflects the write.
func (c *Cache) StoreFullUser(u domain.FullUser) error {
	c.profLRU.Remove(u.ID)
	if err := writeJSON(c.profilePath(u.ID), profileFile{
		ID:           u.ID,
		ScreenName:   u.ScreenName,
		DisplayName:  u.DisplayName,
		Availability: string(u.Availability),
	}); err != nil {
		return err
	}
	return writeJSON(c.relationshipPath(u.ID), relationshipFile{
		Following:  u.Following,
		FollowedBy: u.FollowedBy,
		Blocking:   u.Blocking,
		BlockedBy:  u.BlockedBy,
		Protected:  u.Protected,
	})
}

func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
