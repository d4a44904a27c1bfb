package registry

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docxology/mirrorgate/internal/model"
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "test.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestCreateAndGet(t *testing.T) {
	r := newRegistry(t)

	rec, created, err := r.Create("https://docs.example.org", "docs.example.org", "/guide")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "docs-example-org", rec.Slug)
	assert.Equal(t, "https://docs.example.org", rec.TargetOrigin)
	assert.Equal(t, "/guide", rec.LastPath)
	assert.NotEmpty(t, rec.ID)
	assert.NotEmpty(t, rec.CreatedAt)

	got, err := r.GetBySlug(rec.Slug)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.ID, got.ID)

	got, err = r.GetByTargetOrigin("https://docs.example.org")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.ID, got.ID)

	got, err = r.GetBySlug("missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCreateIsIdempotentPerOrigin(t *testing.T) {
	r := newRegistry(t)

	first, created, err := r.Create("https://example.org", "example.org", "/a")
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := r.Create("https://example.org", "example.org", "/b")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Slug, second.Slug)

	list, err := r.List()
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSlugCollisionGetsSuffix(t *testing.T) {
	r := newRegistry(t)

	a, _, err := r.Create("https://example.org", "example.org", "")
	require.NoError(t, err)
	b, _, err := r.Create("http://example.org", "example.org", "")
	require.NoError(t, err)

	assert.Equal(t, "example-org", a.Slug)
	assert.Equal(t, "example-org-2", b.Slug)
}

func TestBaseSlug(t *testing.T) {
	cases := []struct{ in, want string }{
		{"docs.example.org", "docs-example-org"},
		{"EXAMPLE.org", "example-org"},
		{"xn--bcher-kva.example", "xn-bcher-kva-example"},
		{"...", "site"},
		{"", "site"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, BaseSlug(tc.in), tc.in)
	}
	assert.LessOrEqual(t, len(BaseSlug("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa.example")), 48)
}

func TestTouch(t *testing.T) {
	r := newRegistry(t)
	rec, _, err := r.Create("https://example.org", "example.org", "")
	require.NoError(t, err)

	require.NoError(t, r.Touch(rec.Slug, "/new/path?q=1"))
	got, err := r.GetBySlug(rec.Slug)
	require.NoError(t, err)
	assert.Equal(t, "/new/path?q=1", got.LastPath)

	// An empty path only bumps updated_at.
	require.NoError(t, r.Touch(rec.Slug, ""))
	got, err = r.GetBySlug(rec.Slug)
	require.NoError(t, err)
	assert.Equal(t, "/new/path?q=1", got.LastPath)
}

func TestSetDisabled(t *testing.T) {
	r := newRegistry(t)
	rec, _, err := r.Create("https://example.org", "example.org", "")
	require.NoError(t, err)

	require.NoError(t, r.SetDisabled(rec.Slug, true))
	got, err := r.GetBySlug(rec.Slug)
	require.NoError(t, err)
	assert.True(t, got.Disabled)

	// Disabled mirrors do not satisfy origin lookups.
	byOrigin, err := r.GetByTargetOrigin("https://example.org")
	require.NoError(t, err)
	assert.Nil(t, byOrigin)

	err = r.SetDisabled("missing", true)
	require.Error(t, err)
	assert.Equal(t, model.CodeMirrorNotFound, model.CodeOf(err))
}

func TestEvents(t *testing.T) {
	r := newRegistry(t)

	require.NoError(t, r.AppendEvent(model.Event{
		Level: model.LevelInfo, Kind: model.KindResolve, Slug: "docs",
		Message: "https://example.org", Meta: map[string]any{"created": true},
	}))
	require.NoError(t, r.AppendEvent(model.Event{
		Level: model.LevelWarn, Kind: model.KindSSRFBlocked, Message: "blocked",
	}))

	all, err := r.Events(0, "")
	require.NoError(t, err)
	require.Len(t, all, 2)

	// Defaults fill in id and timestamp.
	for _, e := range all {
		assert.NotEmpty(t, e.ID)
		assert.NotEmpty(t, e.At)
	}

	resolves, err := r.Events(10, model.KindResolve)
	require.NoError(t, err)
	require.Len(t, resolves, 1)
	assert.Equal(t, "docs", resolves[0].Slug)
	assert.Equal(t, true, resolves[0].Meta["created"])

	limited, err := r.Events(1, "")
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
