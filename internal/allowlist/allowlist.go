// Package allowlist holds the positive policy list of hosts that may be
// mirrored. The list lives in one JSON document on disk; an in-memory
// snapshot serves reads and is swapped atomically on every mutation.
package allowlist

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/renameio/v2"

	"github.com/docxology/mirrorgate/internal/model"
)

// fileVersion tags the on-disk document shape.
const fileVersion = 1

type document struct {
	Version int                    `json:"version"`
	Entries []model.AllowlistEntry `json:"entries"`
}

// Store is the allowlist backed by a single JSON file. Reads hit the current
// snapshot without locking; mutations serialize on mu, persist to disk, then
// publish a new snapshot.
type Store struct {
	path string

	mu   sync.Mutex
	snap atomic.Pointer[[]model.AllowlistEntry]
}

// Open loads the allowlist from path, creating an empty document when the
// file does not exist yet.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.Reload(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		empty := []model.AllowlistEntry{}
		s.snap.Store(&empty)
		if err := s.persist(empty); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Reload re-reads the document from disk and replaces the snapshot.
func (s *Store) Reload() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("parsing allowlist %s: %w", s.path, err)
	}
	entries := doc.Entries
	if entries == nil {
		entries = []model.AllowlistEntry{}
	}
	for i := range entries {
		normalize(&entries[i])
	}
	s.snap.Store(&entries)
	return nil
}

// List returns a copy of all entries.
func (s *Store) List() []model.AllowlistEntry {
	cur := *s.snap.Load()
	out := make([]model.AllowlistEntry, len(cur))
	copy(out, cur)
	return out
}

// GetByID returns the entry with the given id, or nil.
func (s *Store) GetByID(id string) *model.AllowlistEntry {
	for _, e := range *s.snap.Load() {
		if e.ID == id {
			e := e
			return &e
		}
	}
	return nil
}

// Upsert inserts or replaces an entry keyed by id. A missing id is derived
// from the host; empty schemes default to https only.
func (s *Store) Upsert(e model.AllowlistEntry) (model.AllowlistEntry, error) {
	normalize(&e)
	if e.Host == "" {
		return e, model.NewCodedError(model.CodeInvalidBody, errors.New("host required"))
	}
	if e.ID == "" {
		e.ID = slugCase(e.Host)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := *s.snap.Load()
	next := make([]model.AllowlistEntry, 0, len(cur)+1)
	replaced := false
	for _, x := range cur {
		if x.ID == e.ID {
			next = append(next, e)
			replaced = true
			continue
		}
		next = append(next, x)
	}
	if !replaced {
		next = append(next, e)
	}

	if err := s.persist(next); err != nil {
		return e, err
	}
	s.snap.Store(&next)
	return e, nil
}

// Patch applies non-zero fields from p to the entry with the given id.
// Pointer fields distinguish "absent" from "set to zero value".
type Patch struct {
	Host            *string   `json:"host,omitempty"`
	AllowSubdomains *bool     `json:"allowSubdomains,omitempty"`
	Schemes         *[]string `json:"schemes,omitempty"`
	Enabled         *bool     `json:"enabled,omitempty"`
	Label           *string   `json:"label,omitempty"`
}

// ApplyPatch updates one entry in place and persists the result.
func (s *Store) ApplyPatch(id string, p Patch) (*model.AllowlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := *s.snap.Load()
	next := make([]model.AllowlistEntry, len(cur))
	copy(next, cur)

	var updated *model.AllowlistEntry
	for i := range next {
		if next[i].ID != id {
			continue
		}
		if p.Host != nil {
			next[i].Host = *p.Host
		}
		if p.AllowSubdomains != nil {
			next[i].AllowSubdomains = *p.AllowSubdomains
		}
		if p.Schemes != nil {
			next[i].Schemes = *p.Schemes
		}
		if p.Enabled != nil {
			next[i].Enabled = *p.Enabled
		}
		if p.Label != nil {
			next[i].Label = *p.Label
		}
		normalize(&next[i])
		if next[i].Host == "" {
			return nil, model.NewCodedError(model.CodeInvalidBody, errors.New("host required"))
		}
		updated = &next[i]
		break
	}
	if updated == nil {
		return nil, model.NewCodedError(model.CodeNotFound, fmt.Errorf("allowlist entry %q", id))
	}

	if err := s.persist(next); err != nil {
		return nil, err
	}
	s.snap.Store(&next)
	out := *updated
	return &out, nil
}

// Remove deletes the entry with the given id.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := *s.snap.Load()
	next := make([]model.AllowlistEntry, 0, len(cur))
	found := false
	for _, x := range cur {
		if x.ID == id {
			found = true
			continue
		}
		next = append(next, x)
	}
	if !found {
		return model.NewCodedError(model.CodeNotFound, fmt.Errorf("allowlist entry %q", id))
	}

	if err := s.persist(next); err != nil {
		return err
	}
	s.snap.Store(&next)
	return nil
}

// Match returns the first enabled entry permitting the URL's scheme and
// host, or nil. Hosts compare byte-for-byte after normalization; subdomain
// matches require a boundary dot.
func (s *Store) Match(u *url.URL) *model.AllowlistEntry {
	scheme := strings.ToLower(u.Scheme)
	host := normalizeHost(u.Hostname())
	if host == "" {
		return nil
	}

	for _, e := range *s.snap.Load() {
		if !e.Enabled || !schemeAllowed(e.Schemes, scheme) {
			continue
		}
		if host == e.Host {
			e := e
			return &e
		}
		if e.AllowSubdomains && strings.HasSuffix(host, "."+e.Host) {
			e := e
			return &e
		}
	}
	return nil
}

// IsAllowed reports whether any entry matches the URL.
func (s *Store) IsAllowed(u *url.URL) bool { return s.Match(u) != nil }

func (s *Store) persist(entries []model.AllowlistEntry) error {
	b, err := json.MarshalIndent(document{Version: fileVersion, Entries: entries}, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return renameio.WriteFile(s.path, b, 0o600)
}

func schemeAllowed(schemes []string, scheme string) bool {
	for _, s := range schemes {
		if s == scheme {
			return true
		}
	}
	return false
}

func normalize(e *model.AllowlistEntry) {
	e.Host = normalizeHost(e.Host)
	e.ID = strings.TrimSpace(e.ID)
	e.Label = strings.TrimSpace(e.Label)

	schemes := make([]string, 0, len(e.Schemes))
	for _, sc := range e.Schemes {
		sc = strings.ToLower(strings.TrimSpace(sc))
		if sc != "http" && sc != "https" {
			continue
		}
		if !schemeAllowed(schemes, sc) {
			schemes = append(schemes, sc)
		}
	}
	if len(schemes) == 0 {
		schemes = []string{"https"}
	}
	e.Schemes = schemes
}

func normalizeHost(host string) string {
	return strings.Trim(strings.ToLower(strings.TrimSpace(host)), ".")
}

// slugCase folds a host into an id: lowercase, non-alphanumerics to '-'.
func slugCase(host string) string {
	var b strings.Builder
	prevDash := false
	for _, r := range strings.ToLower(host) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			prevDash = false
			continue
		}
		if !prevDash && b.Len() > 0 {
			b.WriteByte('-')
			prevDash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
