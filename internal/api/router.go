// Package api wires the public and internal HTTP routes. Public routes serve
// the launcher, resolve, and mirrored content; internal routes are the
// token-gated admin surface.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/docxology/mirrorgate/internal/allowlist"
	"github.com/docxology/mirrorgate/internal/audit"
	"github.com/docxology/mirrorgate/internal/filecache"
	"github.com/docxology/mirrorgate/internal/httpx"
	"github.com/docxology/mirrorgate/internal/mirror"
	"github.com/docxology/mirrorgate/internal/model"
	"github.com/docxology/mirrorgate/internal/registry"
)

// Deps are the runtime dependencies of the router.
type Deps struct {
	Mirror    *mirror.Service
	Registry  *registry.Registry
	Allowlist *allowlist.Store
	Cache     *filecache.Cache
	Events    *audit.Recorder
	Logger    *slog.Logger

	// Token gates every /internal/ route.
	Token string

	// PublicBaseURL, when set, makes resolve responses return absolute
	// launch URLs.
	PublicBaseURL string
}

func (d Deps) launchURL(path string) string {
	if d.PublicBaseURL == "" {
		return path
	}
	return strings.TrimSuffix(d.PublicBaseURL, "/") + path
}

const robotsHeaderValue = "noindex, nofollow"

// Router builds the ServeMux for the single listener.
func Router(deps Deps) *http.ServeMux {
	mux := http.NewServeMux()

	authOK := func(w http.ResponseWriter, r *http.Request) bool {
		tok := r.Header.Get("X-Internal-Token")
		if tok == "" {
			authz := r.Header.Get("Authorization")
			if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				tok = strings.TrimSpace(authz[7:])
			}
		}
		if tok != "" && subtle.ConstantTimeCompare([]byte(tok), []byte(deps.Token)) == 1 {
			return true
		}
		httpx.WriteErrorCode(w, model.CodeUnauthorized)
		return false
	}

	adminAction := func(action string, meta map[string]any) {
		deps.Events.Info(model.KindAdminAction, "", action, meta)
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			w.Header().Set("X-Robots-Tag", robotsHeaderValue)
			httpx.WriteErrorCode(w, model.CodeNotFound)
			return
		}
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			httpx.WriteErrorCode(w, model.CodeMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("X-Robots-Tag", robotsHeaderValue)
		_, _ = w.Write([]byte(launcherPage))
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httpx.WriteErrorCode(w, model.CodeMethodNotAllowed)
			return
		}
		w.Header().Set("X-Robots-Tag", robotsHeaderValue)
		httpx.JSON(w, http.StatusOK, map[string]any{
			"ok":              true,
			"serviceDisabled": deps.Mirror.Disabled(),
			"uptimeSec":       deps.Mirror.UptimeSec(),
		})
	})

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/api/resolve", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Robots-Tag", robotsHeaderValue)
		if r.Method != http.MethodPost {
			httpx.WriteErrorCode(w, model.CodeMethodNotAllowed)
			return
		}
		var req struct {
			URL string `json:"url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpx.WriteErrorCode(w, model.CodeInvalidBody)
			return
		}
		res, err := deps.Mirror.ResolveTargetURL(r.Context(), strings.TrimSpace(req.URL))
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{
			"ok":           true,
			"slug":         res.Slug,
			"targetOrigin": res.TargetOrigin,
			"launchUrl":    deps.launchURL(res.LaunchURL),
			"created":      res.Created,
		})
	})

	mux.HandleFunc("/m/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/m/")
		slugEsc, tail, _ := strings.Cut(rest, "/")
		slug, err := url.PathUnescape(slugEsc)
		if err != nil || slug == "" {
			w.Header().Set("X-Robots-Tag", robotsHeaderValue)
			httpx.WriteErrorCode(w, model.CodeMirrorNotFound)
			return
		}
		deps.Mirror.ServeMirror(w, r, slug, tail)
	})

	mux.HandleFunc("/internal/allowlist", func(w http.ResponseWriter, r *http.Request) {
		if !authOK(w, r) {
			return
		}
		switch r.Method {
		case http.MethodGet:
			httpx.JSON(w, http.StatusOK, map[string]any{"ok": true, "entries": deps.Allowlist.List()})
		case http.MethodPost:
			var e model.AllowlistEntry
			if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
				httpx.WriteErrorCode(w, model.CodeInvalidBody)
				return
			}
			out, err := deps.Allowlist.Upsert(e)
			if err != nil {
				httpx.WriteError(w, err)
				return
			}
			adminAction("allowlist-upsert", map[string]any{"id": out.ID, "host": out.Host})
			httpx.JSON(w, http.StatusOK, map[string]any{"ok": true, "entry": out})
		default:
			httpx.WriteErrorCode(w, model.CodeMethodNotAllowed)
		}
	})

	mux.HandleFunc("/internal/allowlist/", func(w http.ResponseWriter, r *http.Request) {
		if !authOK(w, r) {
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/internal/allowlist/")
		if id == "" {
			httpx.WriteErrorCode(w, model.CodeNotFound)
			return
		}
		if id == "reload" {
			if r.Method != http.MethodPost {
				httpx.WriteErrorCode(w, model.CodeMethodNotAllowed)
				return
			}
			if err := deps.Allowlist.Reload(); err != nil {
				httpx.WriteError(w, err)
				return
			}
			adminAction("allowlist-reload", nil)
			httpx.JSON(w, http.StatusOK, map[string]any{"ok": true, "entries": deps.Allowlist.List()})
			return
		}
		switch r.Method {
		case http.MethodGet:
			e := deps.Allowlist.GetByID(id)
			if e == nil {
				httpx.WriteErrorCode(w, model.CodeNotFound)
				return
			}
			httpx.JSON(w, http.StatusOK, map[string]any{"ok": true, "entry": e})
		case http.MethodPatch:
			var p allowlist.Patch
			if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
				httpx.WriteErrorCode(w, model.CodeInvalidBody)
				return
			}
			e, err := deps.Allowlist.ApplyPatch(id, p)
			if err != nil {
				httpx.WriteError(w, err)
				return
			}
			adminAction("allowlist-patch", map[string]any{"id": id})
			httpx.JSON(w, http.StatusOK, map[string]any{"ok": true, "entry": e})
		case http.MethodDelete:
			if err := deps.Allowlist.Remove(id); err != nil {
				httpx.WriteError(w, err)
				return
			}
			adminAction("allowlist-delete", map[string]any{"id": id})
			httpx.JSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			httpx.WriteErrorCode(w, model.CodeMethodNotAllowed)
		}
	})

	mux.HandleFunc("/internal/purge", func(w http.ResponseWriter, r *http.Request) {
		if !authOK(w, r) {
			return
		}
		if r.Method != http.MethodPost {
			httpx.WriteErrorCode(w, model.CodeMethodNotAllowed)
			return
		}
		slug := strings.TrimSpace(r.URL.Query().Get("slug"))
		var err error
		if slug == "" {
			err = deps.Cache.PurgeAll()
		} else {
			err = deps.Cache.PurgeBySlug(slug)
		}
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		deps.Events.Info(model.KindCachePurge, slug, "cache purged", nil)
		adminAction("purge", map[string]any{"slug": slug})
		httpx.JSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	setDisabled := func(w http.ResponseWriter, r *http.Request, disabled bool) {
		if !authOK(w, r) {
			return
		}
		if r.Method != http.MethodPost {
			httpx.WriteErrorCode(w, model.CodeMethodNotAllowed)
			return
		}
		deps.Mirror.SetDisabled(disabled)
		action := "enable"
		if disabled {
			action = "disable"
		}
		adminAction(action, nil)
		httpx.JSON(w, http.StatusOK, map[string]any{"ok": true, "serviceDisabled": disabled})
	}
	mux.HandleFunc("/internal/disable", func(w http.ResponseWriter, r *http.Request) {
		setDisabled(w, r, true)
	})
	mux.HandleFunc("/internal/enable", func(w http.ResponseWriter, r *http.Request) {
		setDisabled(w, r, false)
	})

	mux.HandleFunc("/internal/summary", func(w http.ResponseWriter, r *http.Request) {
		if !authOK(w, r) {
			return
		}
		if r.Method != http.MethodGet {
			httpx.WriteErrorCode(w, model.CodeMethodNotAllowed)
			return
		}
		mirrors, err := deps.Registry.List()
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{
			"ok":              true,
			"mirrors":         len(mirrors),
			"cache":           deps.Cache.Stats(),
			"serviceDisabled": deps.Mirror.Disabled(),
			"uptimeSec":       deps.Mirror.UptimeSec(),
		})
	})

	mux.HandleFunc("/internal/logs", func(w http.ResponseWriter, r *http.Request) {
		if !authOK(w, r) {
			return
		}
		if r.Method != http.MethodGet {
			httpx.WriteErrorCode(w, model.CodeMethodNotAllowed)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		events, err := deps.Registry.Events(limit, strings.TrimSpace(r.URL.Query().Get("kind")))
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"ok": true, "events": events})
	})

	mux.HandleFunc("/internal/mirrors", func(w http.ResponseWriter, r *http.Request) {
		if !authOK(w, r) {
			return
		}
		if r.Method != http.MethodGet {
			httpx.WriteErrorCode(w, model.CodeMethodNotAllowed)
			return
		}
		mirrors, err := deps.Registry.List()
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"ok": true, "mirrors": mirrors})
	})

	mux.HandleFunc("/internal/test-resolve", func(w http.ResponseWriter, r *http.Request) {
		if !authOK(w, r) {
			return
		}
		if r.Method != http.MethodPost {
			httpx.WriteErrorCode(w, model.CodeMethodNotAllowed)
			return
		}
		var req struct {
			URL string `json:"url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpx.WriteErrorCode(w, model.CodeInvalidBody)
			return
		}
		res, err := deps.Mirror.TestResolve(r.Context(), strings.TrimSpace(req.URL))
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{
			"ok":           true,
			"slug":         res.Slug,
			"targetOrigin": res.TargetOrigin,
			"launchUrl":    deps.launchURL(res.LaunchURL),
			"created":      res.Created,
		})
	})

	return mux
}
