package mirror

import (
	"context"
	"fmt"
	"net/url"

	"github.com/docxology/mirrorgate/internal/metrics"
	"github.com/docxology/mirrorgate/internal/model"
	"github.com/docxology/mirrorgate/internal/registry"
)

// maxResolveURLLen bounds the raw URL accepted by resolve.
const maxResolveURLLen = 2000

// ResolveTargetURL validates rawURL against the guard and the allowlist,
// then registers (or re-uses) a mirror for its origin. Failures emit a
// resolve-fail event; successes a resolve event.
func (s *Service) ResolveTargetURL(ctx context.Context, rawURL string) (*model.ResolveResult, error) {
	res, err := s.resolve(ctx, rawURL, false)
	if err != nil {
		code := model.CodeOf(err)
		metrics.ResolveInc(code)
		if code == model.CodeSSRFBlocked {
			metrics.BlockedInc("ssrf")
		}
		s.opts.Events.Warn(model.KindResolveFail, "", err.Error(),
			map[string]any{"url": clip(rawURL, 200), "code": code})
		return nil, err
	}

	metrics.ResolveInc("ok")
	s.opts.Events.Info(model.KindResolve, res.Slug, res.TargetOrigin,
		map[string]any{"url": clip(rawURL, 200), "created": res.Created})
	return res, nil
}

// TestResolve is the dry-run variant: same validation, no record, no event.
func (s *Service) TestResolve(ctx context.Context, rawURL string) (*model.ResolveResult, error) {
	return s.resolve(ctx, rawURL, true)
}

func (s *Service) resolve(ctx context.Context, rawURL string, dryRun bool) (*model.ResolveResult, error) {
	if rawURL == "" {
		return nil, model.NewCodedError(model.CodeMissingURL, nil)
	}
	if len(rawURL) > maxResolveURLLen {
		return nil, model.NewCodedError(model.CodeInvalidURL, fmt.Errorf("url longer than %d", maxResolveURLLen))
	}

	u, err := url.Parse(rawURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return nil, model.NewCodedError(model.CodeInvalidURL, err)
	}

	if err := s.opts.Guard.Check(ctx, u); err != nil {
		return nil, err
	}
	if s.opts.Allowlist.Match(u) == nil {
		metrics.BlockedInc("allowlist")
		return nil, model.NewCodedError(model.CodeDomainNotAllowed, fmt.Errorf("host %q", u.Hostname()))
	}

	targetOrigin := u.Scheme + "://" + u.Host
	lastPath := ""
	if u.Path != "" && u.Path != "/" {
		lastPath = u.Path
		if u.RawQuery != "" {
			lastPath += "?" + u.RawQuery
		}
	}

	if dryRun {
		rec, err := s.opts.Registry.GetByTargetOrigin(targetOrigin)
		if err != nil {
			return nil, err
		}
		slug := registry.BaseSlug(u.Hostname())
		created := true
		if rec != nil {
			slug = rec.Slug
			created = false
		}
		return &model.ResolveResult{
			Slug:         slug,
			TargetOrigin: targetOrigin,
			LaunchURL:    LaunchURL(slug, u),
			Created:      created,
		}, nil
	}

	rec, created, err := s.opts.Registry.Create(targetOrigin, u.Hostname(), lastPath)
	if err != nil {
		return nil, err
	}
	if !created && lastPath != "" {
		if terr := s.opts.Registry.Touch(rec.Slug, lastPath); terr != nil {
			return nil, terr
		}
	}

	return &model.ResolveResult{
		Slug:         rec.Slug,
		TargetOrigin: rec.TargetOrigin,
		LaunchURL:    LaunchURL(rec.Slug, u),
		Created:      created,
	}, nil
}

// LaunchURL builds /m/<slug> plus the input URL's path (unless "/") and
// query.
func LaunchURL(slug string, u *url.URL) string {
	out := "/m/" + url.PathEscape(slug)
	if p := u.EscapedPath(); p != "" && p != "/" {
		out += p
	}
	if u.RawQuery != "" {
		out += "?" + u.RawQuery
	}
	return out
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
