package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartmarshall/fedrecords/pkg/ctxutil"
)

func logLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m), buf.String())
	return m
}

func TestLogger_Levels(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusNoContent, "INFO"},
		{http.StatusNotFound, "WARN"},
		{http.StatusBadGateway, "ERROR"},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, nil))
			h := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))

			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/collections/docs", nil))

			line := logLine(t, &buf)
			assert.Equal(t, "http.request", line["msg"])
			assert.Equal(t, tt.level, line["level"])
			assert.Equal(t, float64(tt.status), line["status"])
			assert.Equal(t, "/api/collections/docs", line["path"])
			assert.Equal(t, "GET", line["method"])
			assert.Contains(t, line, "duration")
		})
	}
}

func TestLogger_BytesAndImplicitStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/live", nil))

	line := logLine(t, &buf)
	assert.Equal(t, float64(200), line["status"])
	assert.Equal(t, float64(len(`{"ok":true}`)), line["bytes"])
	assert.Equal(t, "192.0.2.1", line["remote"])
}

func TestLogger_ContextIdentifiers(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := Chain(Actor, Logger(logger))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/shares", nil)
	req = req.WithContext(ctxutil.WithRequestID(req.Context(), "req-123"))
	req.Header.Set(ActorHeader, "alice")
	h.ServeHTTP(httptest.NewRecorder(), req)

	line := logLine(t, &buf)
	assert.Equal(t, "req-123", line["request_id"])
	assert.Equal(t, "alice", line["actor"])
}

func TestLogger_NoActor(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/share/s1/sync/initial", nil))

	assert.NotContains(t, logLine(t, &buf), "actor")
}
