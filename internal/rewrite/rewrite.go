// Package rewrite transforms HTML and CSS payloads so that every in-origin
// reference points back under the mirror's /m/<slug>/ prefix. References to
// other origins are left verbatim.
package rewrite

import (
	"net/url"
	"strings"
)

// Rules carries the rewriting context for one response: the final upstream
// URL references resolve against, the registered target origin that bounds
// rewriting, and the mirror slug.
type Rules struct {
	BaseURL      *url.URL
	TargetOrigin *url.URL
	Slug         string
}

// skippedPrefixes are reference shapes that never get rewritten.
var skippedPrefixes = []string{"#", "data:", "mailto:", "tel:", "javascript:"}

// RewriteRef maps one raw reference to its mirror path. The second return is
// false when the value must stay untouched: empty, fragment-only, special
// scheme, unparseable, or out of origin.
func (ru *Rules) RewriteRef(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}
	lower := strings.ToLower(trimmed)
	for _, p := range skippedPrefixes {
		if strings.HasPrefix(lower, p) {
			return "", false
		}
	}
	if ru.underMirrorPrefix(trimmed) {
		return "", false
	}

	ref, err := url.Parse(trimmed)
	if err != nil {
		return "", false
	}
	resolved := ru.BaseURL.ResolveReference(ref)
	if !sameOrigin(resolved, ru.TargetOrigin) {
		return "", false
	}

	return ru.MirrorPath(resolved), true
}

// MirrorPath builds /m/<slug><path><query><fragment>, omitting a bare "/"
// path.
func (ru *Rules) MirrorPath(resolved *url.URL) string {
	var b strings.Builder
	b.WriteString("/m/")
	b.WriteString(url.PathEscape(ru.Slug))
	if p := resolved.EscapedPath(); p != "" && p != "/" {
		b.WriteString(p)
	}
	if resolved.RawQuery != "" {
		b.WriteString("?")
		b.WriteString(resolved.RawQuery)
	}
	if resolved.Fragment != "" {
		b.WriteString("#")
		b.WriteString(resolved.EscapedFragment())
	}
	return b.String()
}

// underMirrorPrefix reports whether ref already points under this mirror's
// /m/<slug> prefix. Leaving those alone makes the rewrite a fixed point: a
// root-relative mirror path would otherwise resolve back into the origin and
// get wrapped twice.
func (ru *Rules) underMirrorPrefix(ref string) bool {
	prefix := "/m/" + url.PathEscape(ru.Slug)
	if !strings.HasPrefix(ref, prefix) {
		return false
	}
	rest := ref[len(prefix):]
	return rest == "" || rest[0] == '/' || rest[0] == '?' || rest[0] == '#'
}

// sameOrigin compares scheme and authority, treating default ports as
// absent.
func sameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) &&
		strings.EqualFold(canonicalHost(a), canonicalHost(b))
}

func canonicalHost(u *url.URL) string {
	host := u.Host
	switch {
	case u.Scheme == "https" && strings.HasSuffix(host, ":443"):
		return strings.TrimSuffix(host, ":443")
	case u.Scheme == "http" && strings.HasSuffix(host, ":80"):
		return strings.TrimSuffix(host, ":80")
	}
	return host
}
