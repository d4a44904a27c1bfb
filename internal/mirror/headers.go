package mirror

import "net/http"

// hopByHopHeaders are connection-scoped and never forwarded.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

// alwaysDropHeaders are stripped from every upstream response. Upstream CSP
// would break rewritten in-origin links; cookies are not part of phase one.
var alwaysDropHeaders = []string{
	"Content-Security-Policy",
	"Set-Cookie",
}

// rewrittenDropHeaders no longer describe the body once it has been
// rewritten.
var rewrittenDropHeaders = []string{
	"Content-Length",
	"Content-Encoding",
	"Etag",
}

// forwardedRequestHeaders is the only inbound state passed upstream.
var forwardedRequestHeaders = []string{
	"User-Agent",
	"Accept",
	"Accept-Language",
}

// filterResponseHeaders copies src minus the drop lists.
func filterResponseHeaders(src http.Header, rewritten bool) http.Header {
	dst := make(http.Header, len(src))
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
	for _, k := range hopByHopHeaders {
		dst.Del(k)
	}
	for _, k := range alwaysDropHeaders {
		dst.Del(k)
	}
	if rewritten {
		for _, k := range rewrittenDropHeaders {
			dst.Del(k)
		}
	}
	return dst
}

// snapshotHeaders flattens single-valued headers for the cache, leaving out
// the synthetic cache marker so a later hit can set its own.
func snapshotHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		if len(vv) == 0 {
			continue
		}
		if http.CanonicalHeaderKey(k) == "X-Cache" {
			continue
		}
		out[k] = vv[0]
	}
	return out
}
