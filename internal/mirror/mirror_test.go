package mirror

import (
	"context"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/stretchr/testify/require"

	"github.com/docxology/mirrorgate/internal/allowlist"
	"github.com/docxology/mirrorgate/internal/audit"
	"github.com/docxology/mirrorgate/internal/filecache"
	"github.com/docxology/mirrorgate/internal/model"
	"github.com/docxology/mirrorgate/internal/registry"
)

// openGuard admits every URL so tests can point the pipeline at loopback
// httptest upstreams.
type openGuard struct{}

func (openGuard) Check(context.Context, *url.URL) error { return nil }

// testEnv bundles a Service with the stores behind it.
type testEnv struct {
	svc   *Service
	reg   *registry.Registry
	allow *allowlist.Store
	cache *filecache.Cache
}

func newTestEnv(t *testing.T, mutate func(*Options)) *testEnv {
	t.Helper()
	dir := t.TempDir()
	logger := slogutil.NewDiscardLogger()

	reg, err := registry.Open(filepath.Join(dir, "test.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	allow, err := allowlist.Open(filepath.Join(dir, "allowlist.json"))
	require.NoError(t, err)

	cache, err := filecache.New(filepath.Join(dir, "cache"), time.Hour, 1<<20, logger)
	require.NoError(t, err)

	events, err := audit.New(reg, "", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = events.Close() })

	opts := Options{
		Registry:        reg,
		Allowlist:       allow,
		Cache:           cache,
		Guard:           openGuard{},
		Events:          events,
		Logger:          logger,
		UpstreamTimeout: 5 * time.Second,
		MaxHTMLBytes:    1 << 20,
		MaxBinaryBytes:  1 << 20,
	}
	if mutate != nil {
		mutate(&opts)
	}

	return &testEnv{svc: New(opts), reg: reg, allow: allow, cache: cache}
}

// allowHost registers host for both schemes, subdomains included.
func (env *testEnv) allowHost(t *testing.T, host string) {
	t.Helper()
	_, err := env.allow.Upsert(model.AllowlistEntry{
		Host:            host,
		AllowSubdomains: true,
		Schemes:         []string{"http", "https"},
		Enabled:         true,
	})
	require.NoError(t, err)
}

// register creates a mirror record for origin and returns its slug.
func (env *testEnv) register(t *testing.T, origin, host string) string {
	t.Helper()
	rec, _, err := env.reg.Create(origin, host, "")
	require.NoError(t, err)
	return rec.Slug
}

func (env *testEnv) eventKinds(t *testing.T) []string {
	t.Helper()
	events, err := env.reg.Events(100, "")
	require.NoError(t, err)
	kinds := make([]string, 0, len(events))
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}
