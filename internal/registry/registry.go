// Package registry persists mirror records and the append-only event log in
// a local sqlite database. One process owns the file; writes serialize on a
// single mutex, reads go straight to the pool.
package registry

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/docxology/mirrorgate/internal/model"
)

// Registry wraps the sqlite handle.
type Registry struct {
	db *sql.DB

	// mu serializes mirror and event writes.
	mu sync.Mutex
}

// Open opens or creates the database file and bootstraps the schema.
func Open(path string) (*Registry, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		// non-fatal
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS mirrors (
			id TEXT PRIMARY KEY,
			slug TEXT NOT NULL UNIQUE,
			target_origin TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			last_path TEXT NOT NULL DEFAULT '',
			disabled INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS mirrors_target_origin ON mirrors(target_origin)`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			at TEXT NOT NULL,
			level TEXT NOT NULL,
			kind TEXT NOT NULL,
			slug TEXT,
			message TEXT,
			meta_json TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS events_kind_at ON events(kind, at)`,
	}
	for _, s := range schema {
		if _, err := db.Exec(s); err != nil {
			db.Close()
			return nil, fmt.Errorf("init sqlite schema: %w", err)
		}
	}

	return &Registry{db: db}, nil
}

func (r *Registry) Close() error { return r.db.Close() }

const mirrorCols = `id, slug, target_origin, created_at, updated_at, last_path, disabled`

// scanMirror is the single row-to-record translation.
func scanMirror(row interface{ Scan(...any) error }) (*model.MirrorRecord, error) {
	var m model.MirrorRecord
	var disabled int
	err := row.Scan(&m.ID, &m.Slug, &m.TargetOrigin, &m.CreatedAt, &m.UpdatedAt, &m.LastPath, &disabled)
	if err != nil {
		return nil, err
	}
	m.Disabled = disabled != 0
	return &m, nil
}

// GetBySlug returns the record for slug, or nil when absent.
func (r *Registry) GetBySlug(slug string) (*model.MirrorRecord, error) {
	row := r.db.QueryRow(`SELECT `+mirrorCols+` FROM mirrors WHERE slug = ?`, slug)
	m, err := scanMirror(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

// GetByTargetOrigin returns the enabled record for an origin, or nil.
func (r *Registry) GetByTargetOrigin(origin string) (*model.MirrorRecord, error) {
	row := r.db.QueryRow(
		`SELECT `+mirrorCols+` FROM mirrors WHERE target_origin = ? AND disabled = 0`, origin)
	m, err := scanMirror(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

// List returns all records, newest first.
func (r *Registry) List() ([]model.MirrorRecord, error) {
	rows, err := r.db.Query(`SELECT ` + mirrorCols + ` FROM mirrors ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.MirrorRecord{}
	for rows.Next() {
		m, err := scanMirror(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// Create registers a mirror for targetOrigin, allocating a fresh slug. When
// an enabled record for the origin already exists it is returned unchanged;
// at most one record per origin is ever created, even under concurrent
// resolves.
func (r *Registry) Create(targetOrigin, host, lastPath string) (rec *model.MirrorRecord, created bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.Begin()
	if err != nil {
		return nil, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	row := tx.QueryRow(
		`SELECT `+mirrorCols+` FROM mirrors WHERE target_origin = ? AND disabled = 0`, targetOrigin)
	existing, scanErr := scanMirror(row)
	if scanErr == nil {
		if err = tx.Commit(); err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	if !errors.Is(scanErr, sql.ErrNoRows) {
		err = scanErr
		return nil, false, err
	}

	slug, err := allocateSlug(tx, host)
	if err != nil {
		return nil, false, err
	}

	now := model.NowISO()
	m := &model.MirrorRecord{
		ID:           uuid.NewString(),
		Slug:         slug,
		TargetOrigin: targetOrigin,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastPath:     lastPath,
	}
	_, err = tx.Exec(
		`INSERT INTO mirrors(`+mirrorCols+`) VALUES(?,?,?,?,?,?,0)`,
		m.ID, m.Slug, m.TargetOrigin, m.CreatedAt, m.UpdatedAt, m.LastPath)
	if err != nil {
		return nil, false, err
	}
	if err = tx.Commit(); err != nil {
		return nil, false, err
	}
	return m, true, nil
}

// Touch records the most recent non-empty path seen for a mirror.
func (r *Registry) Touch(slug, lastPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if lastPath == "" {
		_, err := r.db.Exec(`UPDATE mirrors SET updated_at = ? WHERE slug = ?`, model.NowISO(), slug)
		return err
	}
	_, err := r.db.Exec(
		`UPDATE mirrors SET updated_at = ?, last_path = ? WHERE slug = ?`,
		model.NowISO(), lastPath, slug)
	return err
}

// SetDisabled flips the disabled flag on one mirror.
func (r *Registry) SetDisabled(slug string, disabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := 0
	if disabled {
		d = 1
	}
	res, err := r.db.Exec(
		`UPDATE mirrors SET disabled = ?, updated_at = ? WHERE slug = ?`, d, model.NowISO(), slug)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.NewCodedError(model.CodeMirrorNotFound, fmt.Errorf("slug %q", slug))
	}
	return nil
}

// AppendEvent inserts one audit event.
func (r *Registry) AppendEvent(e model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At == "" {
		e.At = model.NowISO()
	}
	var meta any
	if len(e.Meta) > 0 {
		b, err := json.Marshal(e.Meta)
		if err != nil {
			return err
		}
		meta = string(b)
	}
	_, err := r.db.Exec(
		`INSERT INTO events(id, at, level, kind, slug, message, meta_json) VALUES(?,?,?,?,?,?,?)`,
		e.ID, e.At, e.Level, e.Kind, nullable(e.Slug), nullable(e.Message), meta)
	return err
}

// Events returns up to limit events, newest first, optionally filtered by
// kind.
func (r *Registry) Events(limit int, kind string) ([]model.Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}

	var rows *sql.Rows
	var err error
	if kind != "" {
		rows, err = r.db.Query(
			`SELECT id, at, level, kind, slug, message, meta_json FROM events
			 WHERE kind = ? ORDER BY at DESC, id DESC LIMIT ?`, kind, limit)
	} else {
		rows, err = r.db.Query(
			`SELECT id, at, level, kind, slug, message, meta_json FROM events
			 ORDER BY at DESC, id DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Event{}
	for rows.Next() {
		var e model.Event
		var slug, msg, meta sql.NullString
		if err := rows.Scan(&e.ID, &e.At, &e.Level, &e.Kind, &slug, &msg, &meta); err != nil {
			return nil, err
		}
		e.Slug = slug.String
		e.Message = msg.String
		if meta.Valid && meta.String != "" {
			_ = json.Unmarshal([]byte(meta.String), &e.Meta)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
