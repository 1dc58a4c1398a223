package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartmarshall/fedrecords/internal/domain"
)

func TestHandleError(t *testing.T) {
	t.Parallel()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"not found", fmt.Errorf("get: %w", domain.ErrNotFound), http.StatusNotFound, "not found"},
		{"unauthorized", domain.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{"forbidden", fmt.Errorf("%w: shares is read-only", domain.ErrForbidden), http.StatusForbidden, "read-only"},
		{"validation", domain.NewValidationError("page", "bad"), http.StatusBadRequest, "page"},
		{"filter", fmt.Errorf("%w: unexpected end", domain.ErrInvalidFilter), http.StatusBadRequest, "invalid filter expression"},
		{"expand", domain.ErrInvalidExpand, http.StatusBadRequest, "invalid expand path"},
		{"collection", domain.ErrUnknownCollection, http.StatusBadRequest, "unknown collection"},
		{"conflict", domain.ErrAlreadyExists, http.StatusConflict, "already exists"},
		{"peer", &domain.PeerError{URL: "http://peer.test/api/identity", Status: 503}, http.StatusBadGateway, "peer.test"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			handleError(log, rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)

			assert.Equal(t, tt.status, rec.Code)
			var body map[string]string
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Contains(t, body["error"], tt.message)
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	var v map[string]any
	require.NoError(t, decodeJSON(httptest.NewRequest(http.MethodPost, "/", strings.NewReader("")), &v))
	assert.Nil(t, v)

	err := decodeJSON(httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{")), &v)
	assert.ErrorIs(t, err, domain.ErrValidation)
}
