// Package audit records service events for traceability. Events land in the
// registry's append-only log and, when configured, in a JSON-lines file.
// Do not include sensitive values; redact upstream if needed.
package audit

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/google/uuid"

	"github.com/docxology/mirrorgate/internal/model"
	"github.com/docxology/mirrorgate/internal/registry"
)

// Recorder fans one event out to the registry, the optional log file, and
// the structured logger. Recording never fails the caller: a mirror request
// must not break because the audit trail hiccuped.
type Recorder struct {
	reg    *registry.Registry
	logger *slog.Logger

	mu   sync.Mutex
	file *os.File
}

// New builds a Recorder. logFile may be empty.
func New(reg *registry.Registry, logFile string, logger *slog.Logger) (*Recorder, error) {
	rec := &Recorder{reg: reg, logger: logger}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, err
		}
		rec.file = f
	}
	return rec, nil
}

// Close releases the log file, if any.
func (r *Recorder) Close() error {
	if r.file == nil {
		return nil
	}
	return r.file.Close()
}

// Record appends one event.
func (r *Recorder) Record(level, kind, slug, message string, meta map[string]any) {
	e := model.Event{
		ID:      uuid.NewString(),
		At:      model.NowISO(),
		Level:   level,
		Kind:    kind,
		Slug:    slug,
		Message: message,
		Meta:    meta,
	}

	if err := r.reg.AppendEvent(e); err != nil {
		r.logger.Warn("appending event", slogutil.KeyError, err, "kind", kind)
	}

	if r.file != nil {
		if b, err := json.Marshal(e); err == nil {
			r.mu.Lock()
			_, _ = r.file.Write(append(b, '\n'))
			r.mu.Unlock()
		}
	}

	switch level {
	case model.LevelError:
		r.logger.Error(message, "kind", kind, "slug", slug)
	case model.LevelWarn:
		r.logger.Warn(message, "kind", kind, "slug", slug)
	default:
		r.logger.Debug(message, "kind", kind, "slug", slug)
	}
}

// Info records an info-level event.
func (r *Recorder) Info(kind, slug, message string, meta map[string]any) {
	r.Record(model.LevelInfo, kind, slug, message, meta)
}

// Warn records a warn-level event.
func (r *Recorder) Warn(kind, slug, message string, meta map[string]any) {
	r.Record(model.LevelWarn, kind, slug, message, meta)
}

// Error records an error-level event.
func (r *Recorder) Error(kind, slug, message string, meta map[string]any) {
	r.Record(model.LevelError, kind, slug, message, meta)
}
