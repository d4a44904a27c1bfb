package model

import "time"

// MirrorRecord identifies one mirrored origin. TargetOrigin never changes
// after creation; the slug is the public handle under /m/.
type MirrorRecord struct {
	ID           string `json:"id"`
	Slug         string `json:"slug"`
	TargetOrigin string `json:"targetOrigin"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
	LastPath     string `json:"last_path,omitempty"`
	Disabled     bool   `json:"disabled"`
}

// AllowlistEntry is one positive policy rule. Host is stored lowercased with
// no surrounding dots; Schemes is never empty after normalization.
type AllowlistEntry struct {
	ID              string   `json:"id"`
	Host            string   `json:"host"`
	AllowSubdomains bool     `json:"allowSubdomains"`
	Schemes         []string `json:"schemes"`
	Enabled         bool     `json:"enabled"`
	Label           string   `json:"label,omitempty"`
}

// Event is one append-only audit record.
type Event struct {
	ID      string         `json:"id"`
	At      string         `json:"at"`
	Level   string         `json:"level"`
	Kind    string         `json:"kind"`
	Slug    string         `json:"slug,omitempty"`
	Message string         `json:"message,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// Event levels.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Event kinds.
const (
	KindResolve         = "resolve"
	KindResolveFail     = "resolve-fail"
	KindProxyError      = "proxy-error"
	KindSSRFBlocked     = "ssrf-blocked"
	KindCacheHit        = "cache-hit"
	KindCacheMiss       = "cache-miss"
	KindCachePurge      = "cache-purge"
	KindAdminAction     = "admin-action"
	KindUpstreamTimeout = "upstream-timeout"
)

// ResolveResult is the outcome of registering (or re-using) a mirror for a
// target URL.
type ResolveResult struct {
	Slug         string `json:"slug"`
	TargetOrigin string `json:"targetOrigin"`
	LaunchURL    string `json:"launchUrl"`
	Created      bool   `json:"created"`
}

func NowISO() string { return time.Now().UTC().Format(time.RFC3339) }
