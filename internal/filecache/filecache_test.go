package filecache

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCache(t *testing.T, ttl time.Duration, maxBytes int64) *Cache {
	t.Helper()
	c, err := New(t.TempDir(), ttl, maxBytes, slogutil.NewDiscardLogger())
	require.NoError(t, err)
	return c
}

func entry(body string, cachedAt int64) *Entry {
	return &Entry{
		Status:      200,
		Headers:     map[string]string{"Content-Type": "text/html"},
		ContentType: "text/html",
		CachedAt:    cachedAt,
		Size:        int64(len(body)),
		Body:        []byte(body),
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	c := newCache(t, time.Hour, 1<<20)

	c.Set("docs", "abc123", entry("<html>hi</html>", 0))

	got := c.Get("docs", "abc123")
	require.NotNil(t, got)
	assert.Equal(t, 200, got.Status)
	assert.Equal(t, "text/html", got.ContentType)
	assert.Equal(t, []byte("<html>hi</html>"), got.Body)

	assert.Nil(t, c.Get("docs", "other"))
	assert.Nil(t, c.Get("other", "abc123"))
}

func TestExpiredEntryRemoved(t *testing.T) {
	c := newCache(t, time.Minute, 1<<20)

	stale := time.Now().Add(-2 * time.Minute).UnixMilli()
	c.Set("docs", "k", entry("old", stale))

	assert.Nil(t, c.Get("docs", "k"))

	// Both files are gone, not just skipped.
	ents, err := os.ReadDir(c.dir)
	require.NoError(t, err)
	assert.Empty(t, ents)
}

func TestOrphanedMetadata(t *testing.T) {
	c := newCache(t, time.Hour, 1<<20)
	c.Set("docs", "k", entry("body", 0))

	require.NoError(t, os.Remove(c.basePath("docs", "k")+".bin"))
	assert.Nil(t, c.Get("docs", "k"))

	_, err := os.Stat(c.basePath("docs", "k") + ".json")
	assert.True(t, os.IsNotExist(err), "orphaned metadata should be removed")
}

func TestOversizeRefused(t *testing.T) {
	c := newCache(t, time.Hour, 100)

	c.Set("docs", "big", entry(strings.Repeat("x", 51), 0))
	assert.Nil(t, c.Get("docs", "big"))

	c.Set("docs", "fits", entry(strings.Repeat("x", 50), 0))
	assert.NotNil(t, c.Get("docs", "fits"))
}

func TestEvictionOldestFirst(t *testing.T) {
	c := newCache(t, time.Hour, 100)

	now := time.Now().UnixMilli()
	c.Set("a", "k1", entry(strings.Repeat("1", 40), now-3000))
	c.Set("b", "k2", entry(strings.Repeat("2", 40), now-2000))
	// Third write pushes the total to 120; the oldest entry goes.
	c.Set("c", "k3", entry(strings.Repeat("3", 40), now-1000))

	assert.Nil(t, c.Get("a", "k1"))
	assert.NotNil(t, c.Get("b", "k2"))
	assert.NotNil(t, c.Get("c", "k3"))
}

func TestPurge(t *testing.T) {
	c := newCache(t, time.Hour, 1<<20)
	c.Set("alpha", "k1", entry("one", 0))
	c.Set("alpha", "k2", entry("two", 0))
	c.Set("beta", "k3", entry("three", 0))

	require.NoError(t, c.PurgeBySlug("alpha"))
	assert.Nil(t, c.Get("alpha", "k1"))
	assert.Nil(t, c.Get("alpha", "k2"))
	assert.NotNil(t, c.Get("beta", "k3"))

	require.NoError(t, c.PurgeAll())
	assert.Nil(t, c.Get("beta", "k3"))
}

func TestStats(t *testing.T) {
	c := newCache(t, time.Minute, 1<<20)
	c.Set("a", "k1", entry("12345", 0))
	c.Set("b", "k2", entry("123", 0))
	c.Set("c", "old", entry("xxxxx", time.Now().Add(-2*time.Minute).UnixMilli()))

	st := c.Stats()
	assert.Equal(t, 2, st.Entries)
	assert.Equal(t, int64(8), st.UsedBytes)
}

func TestSafeSlug(t *testing.T) {
	assert.Equal(t, "docs-site", safeSlug("docs-site"))
	assert.Equal(t, "a_b_c", safeSlug("a/b:c"))
	assert.Len(t, safeSlug(strings.Repeat("z", 200)), 80)

	// Hostile slugs stay inside the cache directory.
	c := newCache(t, time.Hour, 1<<20)
	base := c.basePath("../../etc/passwd", "k")
	assert.Equal(t, c.dir, filepath.Dir(base))
}
