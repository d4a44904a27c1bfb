package rewrite

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRules(t *testing.T, base, origin, slug string) *Rules {
	t.Helper()
	b, err := url.Parse(base)
	require.NoError(t, err)
	o, err := url.Parse(origin)
	require.NoError(t, err)
	return &Rules{BaseURL: b, TargetOrigin: o, Slug: slug}
}

func TestRewriteRef(t *testing.T) {
	rules := testRules(t, "https://example.org/docs/index.html", "https://example.org", "docs")

	cases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"absolute same origin", "https://example.org/a/b.css", "/m/docs/a/b.css", true},
		{"root relative", "/styles/main.css", "/m/docs/styles/main.css", true},
		{"document relative", "page2.html", "/m/docs/docs/page2.html", true},
		{"dot dot", "../top.html", "/m/docs/top.html", true},
		{"query preserved", "/search?q=a+b", "/m/docs/search?q=a+b", true},
		{"fragment preserved", "/a#sec-2", "/m/docs/a#sec-2", true},
		{"root path folds away", "https://example.org/", "/m/docs", true},
		{"default port matches", "https://example.org:443/x", "/m/docs/x", true},
		{"cross origin", "https://other.example/x", "", false},
		{"subdomain is cross origin", "https://www.example.org/x", "", false},
		{"scheme mismatch", "http://example.org/x", "", false},
		{"fragment only", "#top", "", false},
		{"data uri", "data:image/png;base64,AAAA", "", false},
		{"mailto", "mailto:x@example.org", "", false},
		{"tel", "tel:+15551234", "", false},
		{"javascript", "javascript:void(0)", "", false},
		{"javascript mixed case", "JavaScript:void(0)", "", false},
		{"empty", "", "", false},
		{"whitespace", "   ", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := rules.RewriteRef(tc.in)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

func TestRewriteRefFixedPoint(t *testing.T) {
	rules := testRules(t, "https://example.org/", "https://example.org", "docs")

	out, ok := rules.RewriteRef("/page.html")
	require.True(t, ok)

	// The output never gets wrapped a second time.
	_, ok = rules.RewriteRef(out)
	assert.False(t, ok)

	// A different mirror's prefix is still an ordinary in-origin path.
	_, ok = rules.RewriteRef("/m/otherdocs/page.html")
	assert.True(t, ok)
}

func TestMirrorPathEscapesSlug(t *testing.T) {
	rules := testRules(t, "https://example.org/", "https://example.org", "a b")
	got, ok := rules.RewriteRef("/x")
	require.True(t, ok)
	assert.Equal(t, "/m/a%20b/x", got)
}
