// Package filecache is the disk-backed response cache. Every entry is a pair
// of files: <safeSlug>_<cacheKey>.json holding the metadata and the matching
// .bin holding the body bytes. Entries expire by TTL; when the directory
// grows past MaxBytes the oldest writes are evicted first.
package filecache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/google/renameio/v2"

	"github.com/docxology/mirrorgate/internal/metrics"
)

// Entry is one cached upstream response. CachedAt is epoch milliseconds.
type Entry struct {
	Status      int               `json:"status"`
	Headers     map[string]string `json:"headers"`
	ContentType string            `json:"contentType"`
	CachedAt    int64             `json:"cachedAt"`
	Size        int64             `json:"size"`

	Body []byte `json:"-"`
}

// Stats summarizes the live (non-expired) cache contents.
type Stats struct {
	Entries   int   `json:"entries"`
	UsedBytes int64 `json:"usedBytes"`
}

// Cache owns one directory. Distinct (slug, cacheKey) pairs never collide on
// file names, so concurrent writers of different keys are isolated; within a
// key every file write is whole-file via rename.
type Cache struct {
	dir      string
	ttl      time.Duration
	maxBytes int64
	logger   *slog.Logger

	// pruneMu keeps concurrent prunes from double-deleting.
	pruneMu sync.Mutex
}

// New creates the cache directory if needed.
func New(dir string, ttl time.Duration, maxBytes int64, logger *slog.Logger) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}
	return &Cache{dir: dir, ttl: ttl, maxBytes: maxBytes, logger: logger}, nil
}

// Get returns the live entry for (slug, cacheKey), or nil on a miss. Expired
// and orphaned entries are removed on the way.
func (c *Cache) Get(slug, cacheKey string) *Entry {
	base := c.basePath(slug, cacheKey)
	metaPath, bodyPath := base+".json", base+".bin"

	mb, err := os.ReadFile(metaPath)
	if err != nil {
		return nil
	}

	var e Entry
	if err := json.Unmarshal(mb, &e); err != nil {
		// Corrupt metadata; drop it rather than serve garbage.
		_ = os.Remove(metaPath)
		_ = os.Remove(bodyPath)
		return nil
	}

	if c.expired(e.CachedAt, time.Now()) {
		_ = os.Remove(metaPath)
		_ = os.Remove(bodyPath)
		return nil
	}

	body, err := os.ReadFile(bodyPath)
	if err != nil {
		// Body lost a race with eviction; treat as a plain miss.
		_ = os.Remove(metaPath)
		return nil
	}

	e.Body = body
	return &e
}

// Set stores an entry. Entries larger than half the cache budget are refused
// silently: they would immediately dominate eviction. The body is written
// before the metadata so a reader never sees metadata without a body that
// was not already handled as an orphan.
func (c *Cache) Set(slug, cacheKey string, e *Entry) {
	if e.Size > c.maxBytes/2 {
		return
	}
	if e.CachedAt == 0 {
		e.CachedAt = time.Now().UnixMilli()
	}

	base := c.basePath(slug, cacheKey)

	if err := renameio.WriteFile(base+".bin", e.Body, 0o600); err != nil {
		c.logger.Warn("cache body write failed", slogutil.KeyError, err)
		return
	}
	mb, err := json.Marshal(e)
	if err != nil {
		_ = os.Remove(base + ".bin")
		return
	}
	if err := renameio.WriteFile(base+".json", mb, 0o600); err != nil {
		c.logger.Warn("cache metadata write failed", slogutil.KeyError, err)
		_ = os.Remove(base + ".bin")
		return
	}

	metrics.CacheStoreInc()
	c.prune()
}

// PurgeAll removes every file in the cache directory.
func (c *Cache) PurgeAll() error {
	ents, err := os.ReadDir(c.dir)
	if err != nil {
		return err
	}
	var firstErr error
	for _, de := range ents {
		if de.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, de.Name())); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PurgeBySlug removes every entry belonging to one slug.
func (c *Cache) PurgeBySlug(slug string) error {
	prefix := safeSlug(slug) + "_"
	ents, err := os.ReadDir(c.dir)
	if err != nil {
		return err
	}
	var firstErr error
	for _, de := range ents {
		if de.IsDir() || !strings.HasPrefix(de.Name(), prefix) {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, de.Name())); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stats counts non-expired entries and their body bytes.
func (c *Cache) Stats() Stats {
	now := time.Now()
	var st Stats
	for _, m := range c.readMetas() {
		if c.expired(m.entry.CachedAt, now) {
			continue
		}
		st.Entries++
		st.UsedBytes += m.entry.Size
	}
	return st
}

type metaFile struct {
	path  string
	entry Entry
}

func (c *Cache) readMetas() []metaFile {
	ents, err := os.ReadDir(c.dir)
	if err != nil {
		return nil
	}
	out := make([]metaFile, 0, len(ents))
	for _, de := range ents {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		p := filepath.Join(c.dir, name)
		b, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		var e Entry
		if err := json.Unmarshal(b, &e); err != nil {
			_ = os.Remove(p)
			_ = os.Remove(bodyFor(p))
			continue
		}
		out = append(out, metaFile{path: p, entry: e})
	}
	return out
}

// prune drops expired entries and orphans, then evicts oldest-write-first
// until the live total fits the byte budget. Access time never updates
// CachedAt, so this is not true LRU.
func (c *Cache) prune() {
	c.pruneMu.Lock()
	defer c.pruneMu.Unlock()

	now := time.Now()
	metas := c.readMetas()

	live := metas[:0]
	var total int64
	for _, m := range metas {
		if c.expired(m.entry.CachedAt, now) {
			c.removePair(m.path)
			continue
		}
		if _, err := os.Stat(bodyFor(m.path)); errors.Is(err, os.ErrNotExist) {
			_ = os.Remove(m.path)
			continue
		}
		live = append(live, m)
		total += m.entry.Size
	}

	if total <= c.maxBytes {
		return
	}

	sort.Slice(live, func(i, j int) bool {
		return live[i].entry.CachedAt < live[j].entry.CachedAt
	})
	for _, m := range live {
		if total <= c.maxBytes {
			break
		}
		c.removePair(m.path)
		total -= m.entry.Size
		metrics.CacheEvictionInc()
	}
}

func (c *Cache) removePair(metaPath string) {
	_ = os.Remove(metaPath)
	_ = os.Remove(bodyFor(metaPath))
}

func (c *Cache) expired(cachedAtMS int64, now time.Time) bool {
	age := now.Sub(time.UnixMilli(cachedAtMS))
	return age > c.ttl
}

func (c *Cache) basePath(slug, cacheKey string) string {
	return filepath.Join(c.dir, safeSlug(slug)+"_"+cacheKey)
}

func bodyFor(metaPath string) string {
	return strings.TrimSuffix(metaPath, ".json") + ".bin"
}

// safeSlug folds everything outside [A-Za-z0-9_-] to '_' and truncates so
// file names stay portable.
func safeSlug(slug string) string {
	var b strings.Builder
	for _, r := range slug {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	s := b.String()
	if len(s) > 80 {
		s = s[:80]
	}
	return s
}
