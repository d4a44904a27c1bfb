package rewrite

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func rewriteCSS(t *testing.T, css string) string {
	t.Helper()
	rules := testRules(t, "https://example.org/css/main.css", "https://example.org", "docs")
	return CSS(css, rules)
}

func TestCSSURLFunctions(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			"bare url",
			`body { background: url(/bg.png); }`,
			`body { background: url(/m/docs/bg.png); }`,
		},
		{
			"double quoted",
			`body { background: url("/bg.png"); }`,
			`body { background: url("/m/docs/bg.png"); }`,
		},
		{
			"single quoted",
			`body { background: url('/bg.png'); }`,
			`body { background: url('/m/docs/bg.png'); }`,
		},
		{
			"relative to stylesheet",
			`div { background: url(img/x.png); }`,
			`div { background: url(/m/docs/css/img/x.png); }`,
		},
		{
			"cross origin untouched",
			`div { background: url(https://cdn.example/x.png); }`,
			`div { background: url(https://cdn.example/x.png); }`,
		},
		{
			"data uri untouched",
			`div { background: url(data:image/png;base64,AAAA); }`,
			`div { background: url(data:image/png;base64,AAAA); }`,
		},
		{
			"multiple urls",
			`div { background: url(/a.png), url(/b.png); }`,
			`div { background: url(/m/docs/a.png), url(/m/docs/b.png); }`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, rewriteCSS(t, tc.in))
		})
	}
}

func TestCSSImport(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			"string form",
			`@import "/other.css";`,
			`@import "/m/docs/other.css";`,
		},
		{
			"string form single quotes",
			`@import '/other.css';`,
			`@import '/m/docs/other.css';`,
		},
		{
			"url form",
			`@import url("/other.css");`,
			`@import url("/m/docs/other.css");`,
		},
		{
			"comment between",
			`@import /* note */ "/other.css";`,
			`@import /* note */ "/m/docs/other.css";`,
		},
		{
			"cross origin untouched",
			`@import "https://cdn.example/a.css";`,
			`@import "https://cdn.example/a.css";`,
		},
		{
			"later strings untouched",
			`@import "/a.css"; div { content: "/b.css"; }`,
			`@import "/m/docs/a.css"; div { content: "/b.css"; }`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, rewriteCSS(t, tc.in))
		})
	}
}

func TestCSSPassThrough(t *testing.T) {
	in := `/* header */
@media (max-width: 600px) {
  .a { color: #fff; margin: 0 auto; }
}
`
	assert.Equal(t, in, rewriteCSS(t, in))
}

func TestCSSFixedPoint(t *testing.T) {
	once := rewriteCSS(t, `div { background: url(/a.png); } @import "/b.css";`)
	assert.Equal(t, once, rewriteCSS(t, once))
}
