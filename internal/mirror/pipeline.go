package mirror

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"

	"github.com/docxology/mirrorgate/internal/filecache"
	"github.com/docxology/mirrorgate/internal/httpx"
	"github.com/docxology/mirrorgate/internal/metrics"
	"github.com/docxology/mirrorgate/internal/model"
	"github.com/docxology/mirrorgate/internal/rewrite"
)

// maxRedirects bounds how many Location hops one fetch may follow. The
// guard and the allowlist re-validate every hop.
const maxRedirects = 5

const robotsHeaderValue = "noindex, nofollow"

// ServeMirror services GET/HEAD /m/<slug>/<tail>.
func (s *Service) ServeMirror(w http.ResponseWriter, r *http.Request, slug, tail string) {
	start := time.Now()
	cacheState := "MISS"
	status := http.StatusOK

	defer func() {
		metrics.ObserveMirrorResponse(r.Method, status, cacheState, time.Since(start))
	}()

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		status = s.writeError(w, model.NewCodedError(model.CodeMethodNotAllowed, nil), slug)
		return
	}
	if s.Disabled() {
		status = s.writeError(w, model.NewCodedError(model.CodeServiceDisabled, nil), slug)
		return
	}

	rec, err := s.opts.Registry.GetBySlug(slug)
	if err != nil {
		status = s.writeError(w, err, slug)
		return
	}
	if rec == nil || rec.Disabled {
		status = s.writeError(w, model.NewCodedError(model.CodeMirrorNotFound, nil), slug)
		return
	}

	upstreamURL, err := buildUpstreamURL(rec.TargetOrigin, tail, r.URL.RawQuery)
	if err != nil {
		status = s.writeError(w, model.NewCodedError(model.CodeInvalidURL, err), slug)
		return
	}

	var cacheKey string
	if r.Method == http.MethodGet {
		cacheKey = CacheKey(http.MethodGet, upstreamURL.String())
		if e := s.opts.Cache.Get(slug, cacheKey); e != nil {
			cacheState = "HIT"
			status = e.Status
			s.opts.Events.Info(model.KindCacheHit, slug, upstreamURL.String(), nil)
			s.serveCached(w, e)
			return
		}
		s.opts.Events.Info(model.KindCacheMiss, slug, upstreamURL.String(), nil)
	}

	resp, finalURL, err := s.fetchUpstream(r.Context(), r, upstreamURL)
	if err != nil {
		status = s.writeError(w, err, slug)
		return
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	isHTML := strings.Contains(contentType, "text/html")
	isCSS := strings.Contains(contentType, "text/css")

	if r.Method == http.MethodHead {
		s.writeHead(w, resp)
		status = resp.StatusCode
		s.touch(rec.Slug, finalURL)
		return
	}

	body, err := s.readBounded(resp.Body, isHTML, contentType)
	if err != nil {
		status = s.writeError(w, err, slug)
		return
	}

	rewritten := false
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		rules := &rewrite.Rules{
			BaseURL:      finalURL,
			TargetOrigin: mustParseOrigin(rec.TargetOrigin),
			Slug:         rec.Slug,
		}
		switch {
		case isHTML:
			if out, rerr := rewrite.HTML(body, rules); rerr == nil {
				body = out
				rewritten = true
			} else {
				s.opts.Logger.Warn("html rewrite failed", slogutil.KeyError, rerr, "slug", slug)
			}
		case isCSS:
			body = []byte(rewrite.CSS(string(body), rules))
			rewritten = true
		}
	}

	outHeaders := filterResponseHeaders(resp.Header, rewritten)
	outHeaders.Set("X-Robots-Tag", robotsHeaderValue)
	outHeaders.Set("X-Cache", "MISS")
	if rewritten {
		outHeaders.Set("Content-Length", strconv.Itoa(len(body)))
	}

	for k, vv := range outHeaders {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(body)
	status = resp.StatusCode

	if r.Method == http.MethodGet && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		s.opts.Cache.Set(rec.Slug, cacheKey, &filecache.Entry{
			Status:      resp.StatusCode,
			Headers:     snapshotHeaders(outHeaders),
			ContentType: contentType,
			CachedAt:    time.Now().UnixMilli(),
			Size:        int64(len(body)),
			Body:        body,
		})
	}

	s.touch(rec.Slug, finalURL)
}

// fetchUpstream performs the guarded fetch, following at most maxRedirects
// validated Location hops under a single deadline.
func (s *Service) fetchUpstream(ctx context.Context, inbound *http.Request, u *url.URL) (resp *http.Response, finalURL *url.URL, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.UpstreamTimeout)
	fetchStart := time.Now()
	defer func() {
		metrics.ObserveUpstreamFetch(time.Since(fetchStart))
		if err != nil {
			cancel()
			return
		}
		// The body still streams after return; closing it releases the
		// deadline timer.
		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	}()

	current := u
	for redirects := 0; ; redirects++ {
		if gerr := s.opts.Guard.Check(ctx, current); gerr != nil {
			return nil, nil, gerr
		}
		if s.opts.Allowlist.Match(current) == nil {
			return nil, nil, model.NewCodedError(
				model.CodeDomainNotAllowed, fmt.Errorf("host %q", current.Hostname()))
		}

		req, rerr := http.NewRequestWithContext(ctx, inbound.Method, current.String(), nil)
		if rerr != nil {
			return nil, nil, model.NewCodedError(model.CodeInvalidURL, rerr)
		}
		for _, k := range forwardedRequestHeaders {
			if v := inbound.Header.Get(k); v != "" {
				req.Header.Set(k, v)
			}
		}
		req.Header.Set("Cache-Control", "no-cache")
		req.Header.Set("Pragma", "no-cache")

		resp, err = s.opts.Transport.RoundTrip(req)
		if err != nil {
			return nil, nil, classifyFetchError(err)
		}

		loc := resp.Header.Get("Location")
		if resp.StatusCode >= 300 && resp.StatusCode < 400 && loc != "" {
			drainAndClose(resp.Body)
			if redirects == maxRedirects {
				return nil, nil, model.NewCodedError(
					model.CodeTooManyRedirects, fmt.Errorf("more than %d hops from %q", maxRedirects, u))
			}
			next, perr := current.Parse(loc)
			if perr != nil {
				return nil, nil, model.NewCodedError(model.CodeInvalidURL, perr)
			}
			current = next
			continue
		}

		return resp, current, nil
	}
}

// readBounded buffers the body up to the applicable size guard. HTML gets
// MaxHTMLBytes; everything else MaxBinaryBytes.
func (s *Service) readBounded(body io.Reader, isHTML bool, contentType string) ([]byte, error) {
	limit := s.opts.MaxBinaryBytes
	code := model.CodeBinaryTooLarge
	if isHTML {
		limit = s.opts.MaxHTMLBytes
		code = model.CodeHTMLTooLarge
	}

	b, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, classifyFetchError(err)
	}
	if int64(len(b)) > limit {
		return nil, model.NewCodedError(code, fmt.Errorf("%s body over %d bytes", contentType, limit))
	}
	return b, nil
}

func (s *Service) serveCached(w http.ResponseWriter, e *filecache.Entry) {
	for k, v := range e.Headers {
		w.Header().Set(k, v)
	}
	w.Header().Set("X-Cache", "HIT")
	w.Header().Set("X-Robots-Tag", robotsHeaderValue)
	w.WriteHeader(e.Status)
	_, _ = w.Write(e.Body)
}

func (s *Service) writeHead(w http.ResponseWriter, resp *http.Response) {
	outHeaders := filterResponseHeaders(resp.Header, false)
	outHeaders.Set("X-Robots-Tag", robotsHeaderValue)
	outHeaders.Set("X-Cache", "MISS")
	for k, vv := range outHeaders {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
}

// writeError maps err to the taxonomy, records the matching event, and
// writes the JSON error payload. It returns the HTTP status for metrics.
func (s *Service) writeError(w http.ResponseWriter, err error, slug string) int {
	code := model.CodeOf(err)
	st := model.StatusFor(code)

	switch code {
	case model.CodeSSRFBlocked:
		metrics.BlockedInc("ssrf")
		s.opts.Events.Warn(model.KindSSRFBlocked, slug, err.Error(), nil)
	case model.CodeDomainNotAllowed:
		metrics.BlockedInc("allowlist")
		s.opts.Events.Warn(model.KindProxyError, slug, err.Error(), nil)
	case model.CodeUpstreamTimeout:
		s.opts.Events.Error(model.KindUpstreamTimeout, slug, err.Error(), nil)
	default:
		if st >= 500 {
			s.opts.Events.Error(model.KindProxyError, slug, err.Error(), nil)
		}
	}

	w.Header().Set("X-Robots-Tag", robotsHeaderValue)
	httpx.WriteErrorCode(w, code)
	return st
}

func (s *Service) touch(slug string, finalURL *url.URL) {
	lastPath := finalURL.Path
	if finalURL.RawQuery != "" {
		lastPath += "?" + finalURL.RawQuery
	}
	if lastPath == "" || lastPath == "/" {
		return
	}
	if err := s.opts.Registry.Touch(slug, lastPath); err != nil {
		s.opts.Logger.Warn("touching mirror", slogutil.KeyError, err, "slug", slug)
	}
}

// CacheKey is hex sha256 of "<method>:<url>".
func CacheKey(method, rawURL string) string {
	sum := sha256.Sum256([]byte(method + ":" + rawURL))
	return hex.EncodeToString(sum[:])
}

func buildUpstreamURL(targetOrigin, tail, rawQuery string) (*url.URL, error) {
	u, err := url.Parse(targetOrigin)
	if err != nil {
		return nil, err
	}
	u.Path = "/" + strings.TrimLeft(tail, "/")
	u.RawQuery = rawQuery
	u.Fragment = ""
	return u, nil
}

func mustParseOrigin(origin string) *url.URL {
	u, err := url.Parse(origin)
	if err != nil {
		return &url.URL{}
	}
	return u
}

// classifyFetchError distinguishes deadline and transport timeouts from
// other upstream failures.
func classifyFetchError(err error) error {
	var ce *model.CodedError
	if errors.As(err, &ce) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewCodedError(model.CodeUpstreamTimeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return model.NewCodedError(model.CodeUpstreamTimeout, err)
	}
	return model.NewCodedError(model.CodeUpstreamError, err)
}

func drainAndClose(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 64<<10))
	_ = rc.Close()
}

// cancelOnClose releases the fetch context when the body is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
