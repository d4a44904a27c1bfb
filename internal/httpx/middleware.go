// Package httpx carries the small HTTP plumbing shared by every handler:
// JSON encoding, the canonical error payload, and request-id plus logging
// middleware.
package httpx

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/docxology/mirrorgate/internal/model"
)

// JSON writes a JSON response.
func JSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// ErrorPayload is the canonical error response shape.
type ErrorPayload struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// WriteErrorCode writes {ok:false, error:<code>} with the status mapped
// from the taxonomy.
func WriteErrorCode(w http.ResponseWriter, code string) {
	JSON(w, model.StatusFor(code), ErrorPayload{OK: false, Error: code})
}

// WriteError maps err to its machine code and writes the error payload.
func WriteError(w http.ResponseWriter, err error) {
	WriteErrorCode(w, model.CodeOf(err))
}

// RequestID middleware adds/propagates a request ID.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get("X-Request-Id")
		if rid == "" {
			rid = genID()
		}
		w.Header().Set("X-Request-Id", rid)
		ctx := context.WithValue(r.Context(), reqIDKey, rid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Logging middleware logs basic request info after completion.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &respWriter{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(rw, r)

			path := r.URL.Path
			if q := r.URL.RawQuery; q != "" {
				path += "?" + q
			}
			logger.Info("request",
				"req_id", ReqIDFromCtx(r.Context()),
				"method", r.Method,
				"path", path,
				"status", rw.code,
				"dur_ms", time.Since(start).Milliseconds(),
				"remote", r.RemoteAddr,
			)
		})
	}
}

type respWriter struct {
	http.ResponseWriter
	code int
}

func (w *respWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming handlers working through the wrapper.
func (w *respWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// request id context key
type ctxKey string

const reqIDKey ctxKey = "req_id"

// ReqIDFromCtx returns the request id set by RequestID, or "".
func ReqIDFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(reqIDKey).(string); ok {
		return v
	}
	return ""
}

func genID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return time.Now().Format("20060102150405.000000000")
	}
	return hex.EncodeToString(b[:])
}
