// Package mirror is the request-servicing pipeline: slug resolution, cache
// lookup, guarded upstream fetch with per-hop redirect validation, content
// rewriting, response assembly, and the cache write-back.
package mirror

import (
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/docxology/mirrorgate/internal/allowlist"
	"github.com/docxology/mirrorgate/internal/audit"
	"github.com/docxology/mirrorgate/internal/filecache"
	"github.com/docxology/mirrorgate/internal/guard"
	"github.com/docxology/mirrorgate/internal/registry"
)

// Options are the pipeline dependencies and limits.
type Options struct {
	Registry  *registry.Registry
	Allowlist *allowlist.Store
	Cache     *filecache.Cache
	Guard     guard.Checker
	Events    *audit.Recorder
	Logger    *slog.Logger

	// Transport defaults to a pooled HTTP transport when nil.
	Transport http.RoundTripper

	// UpstreamTimeout bounds one upstream fetch including every redirect
	// hop; each request gets a fresh budget, not each hop.
	UpstreamTimeout time.Duration

	MaxHTMLBytes   int64
	MaxBinaryBytes int64

	// StartDisabled brings the service up in the disabled state.
	StartDisabled bool
}

// Service owns the pipeline state shared by all requests.
type Service struct {
	opts Options

	disabled atomic.Bool
	started  time.Time
}

// New builds the Service.
func New(opts Options) *Service {
	if opts.Transport == nil {
		opts.Transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:   true,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		}
	}
	s := &Service{opts: opts, started: time.Now()}
	s.disabled.Store(opts.StartDisabled)
	return s
}

// Disabled reports the service-wide disable flag.
func (s *Service) Disabled() bool { return s.disabled.Load() }

// SetDisabled flips the service-wide disable flag.
func (s *Service) SetDisabled(v bool) { s.disabled.Store(v) }

// UptimeSec is the whole-second uptime for /health.
func (s *Service) UptimeSec() int64 { return int64(time.Since(s.started).Seconds()) }
