package rewrite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rewriteHTML(t *testing.T, doc string) string {
	t.Helper()
	rules := testRules(t, "https://example.org/index.html", "https://example.org", "docs")
	out, err := HTML([]byte(doc), rules)
	require.NoError(t, err)
	return string(out)
}

func TestHTMLRewritesAttributes(t *testing.T) {
	doc := `<html><head><link rel="stylesheet" href="/main.css"></head><body>
<a href="/page">in</a>
<a href="https://other.example/">out</a>
<script src="/app.js"></script>
<img src="/logo.png">
<iframe src="/embed"></iframe>
<form action="/submit"></form>
<video src="/v.mp4" poster="/p.jpg"></video>
<audio src="/a.mp3"></audio>
</body></html>`

	out := rewriteHTML(t, doc)

	assert.Contains(t, out, `href="/m/docs/main.css"`)
	assert.Contains(t, out, `href="/m/docs/page"`)
	assert.Contains(t, out, `href="https://other.example/"`)
	assert.Contains(t, out, `src="/m/docs/app.js"`)
	assert.Contains(t, out, `src="/m/docs/logo.png"`)
	assert.Contains(t, out, `src="/m/docs/embed"`)
	assert.Contains(t, out, `action="/m/docs/submit"`)
	assert.Contains(t, out, `src="/m/docs/v.mp4"`)
	assert.Contains(t, out, `poster="/m/docs/p.jpg"`)
	assert.Contains(t, out, `src="/m/docs/a.mp3"`)
}

func TestHTMLRemovesBase(t *testing.T) {
	doc := `<html><head><base href="https://example.org/deep/"><title>t</title></head><body><a href="/x">x</a></body></html>`
	out := rewriteHTML(t, doc)
	assert.NotContains(t, out, "<base")
	assert.Contains(t, out, `href="/m/docs/x"`)
}

func TestHTMLInjectsRobotsMeta(t *testing.T) {
	out := rewriteHTML(t, `<html><head><title>t</title></head><body></body></html>`)
	assert.Contains(t, out, `<meta name="robots" content="noindex,nofollow"/>`)
}

func TestHTMLKeepsExistingRobotsMeta(t *testing.T) {
	doc := `<html><head><meta name="ROBOTS" content="all"></head><body></body></html>`
	out := rewriteHTML(t, doc)
	assert.Contains(t, out, `content="all"`)
	assert.NotContains(t, out, "noindex,nofollow")
}

func TestHTMLSrcset(t *testing.T) {
	doc := `<img srcset="/a.png 1x, /b.png 2x, https://other.example/c.png 3x">`
	out := rewriteHTML(t, doc)
	assert.Contains(t, out, "/m/docs/a.png 1x, /m/docs/b.png 2x, https://other.example/c.png 3x")
}

func TestHTMLSkipPrefixes(t *testing.T) {
	doc := `<a href="#frag">f</a><a href="mailto:x@example.org">m</a><a href="javascript:void(0)">j</a><img src="data:image/gif;base64,R0lGOD">`
	out := rewriteHTML(t, doc)
	assert.Contains(t, out, `href="#frag"`)
	assert.Contains(t, out, `href="mailto:x@example.org"`)
	assert.Contains(t, out, `href="javascript:void(0)"`)
	assert.Contains(t, out, `src="data:image/gif;base64,R0lGOD"`)
}

func TestHTMLFixedPoint(t *testing.T) {
	doc := `<html><head></head><body><a href="/page">x</a><img srcset="/a.png 1x, /b.png 2x"></body></html>`
	rules := testRules(t, "https://example.org/", "https://example.org", "docs")

	once, err := HTML([]byte(doc), rules)
	require.NoError(t, err)
	twice, err := HTML(once, rules)
	require.NoError(t, err)
	assert.Equal(t, string(once), string(twice))
}

func TestSplitSrcset(t *testing.T) {
	segs := splitSrcset("/a.png 1x, image-set(url(x), url(y)) 2x, /b.png")
	require.Len(t, segs, 3)
	assert.Equal(t, " image-set(url(x), url(y)) 2x", segs[1])
}
