package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transitpay/backoffice/internal/logger"
)

func TestRequestLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	base := logger.NewWithWriter(buf)

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())
		log.Info().Msg("[TEST] inside")
		w.WriteHeader(http.StatusTeapot)
	})
	h := chimw.RequestID(RequestLogger(base)(inner))

	r := httptest.NewRequest(http.MethodGet, "/api/v1/settlements/files", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var inside, done map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &inside))
	require.NoError(t, json.Unmarshal(lines[1], &done))
	assert.NotEmpty(t, inside["request_id"])
	assert.Equal(t, inside["request_id"], done["request_id"])
	assert.Equal(t, float64(http.StatusTeapot), done["status"])
	assert.Equal(t, "/api/v1/settlements/files", done["path"])
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}
