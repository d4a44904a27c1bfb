package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docxology/mirrorgate/internal/model"
)

func TestWriteErrorCode(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErrorCode(w, model.CodeDomainNotAllowed)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")

	var p ErrorPayload
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.False(t, p.OK)
	assert.Equal(t, model.CodeDomainNotAllowed, p.Error)
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, model.NewCodedError(model.CodeMirrorNotFound, errors.New("slug x")))
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Uncoded errors collapse to internal_error.
	w = httptest.NewRecorder()
	WriteError(w, errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var p ErrorPayload
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.Equal(t, model.CodeInternalError, p.Error)
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ReqIDFromCtx(r.Context())
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get("X-Request-Id"))

	// Inbound ids propagate.
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-Id", "fixed-id")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, "fixed-id", seen)
	assert.Equal(t, "fixed-id", w.Header().Get("X-Request-Id"))
}

func TestLoggingPreservesStatus(t *testing.T) {
	h := Logging(slogutil.NewDiscardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x?q=1", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
}
