package rest_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/heartmarshall/fedrecords/internal/adapter/memory"
	"github.com/heartmarshall/fedrecords/internal/adapter/peer"
	"github.com/heartmarshall/fedrecords/internal/auth"
	"github.com/heartmarshall/fedrecords/internal/domain"
	"github.com/heartmarshall/fedrecords/internal/records"
	"github.com/heartmarshall/fedrecords/internal/schema"
	"github.com/heartmarshall/fedrecords/internal/service/federation"
	"github.com/heartmarshall/fedrecords/internal/sharing"
	"github.com/heartmarshall/fedrecords/internal/transport/middleware"
	"github.com/heartmarshall/fedrecords/internal/transport/rest"
)

func testSchemas() []*domain.Schema {
	str := domain.FieldDef{Kind: domain.KindString}
	return []*domain.Schema{
		{CollectionName: "folders", Fields: domain.Fields{
			{Name: "name", Def: str},
			{Name: "parent", Def: domain.FieldDef{Kind: domain.KindRelation, Collection: "folders"}},
			{Name: "children", Def: domain.FieldDef{Kind: domain.KindRelation, Collection: "folders", Via: "parent"}},
			{Name: "docs", Def: domain.FieldDef{Kind: domain.KindRelation, Collection: "docs", Via: "folder"}},
		}},
		{CollectionName: "docs", Fields: domain.Fields{
			{Name: "title", Def: str},
			{Name: "folder", Def: domain.FieldDef{Kind: domain.KindRelation, Collection: "folders"}},
		}},
	}
}

type testServer struct {
	*httptest.Server
	records *records.Engine
}

// newTestServer starts a full node on a real listener. The identity is
// derived from the listener URL, so the handler is installed after start.
func newTestServer(t *testing.T) *testServer {
	t.Helper()

	var handler http.Handler
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	self, err := federation.NewIdentity(srv.URL, "pk")
	require.NoError(t, err)

	schemas, err := schema.New(append(testSchemas(), sharing.SystemSchemas()...))
	require.NoError(t, err)

	recs := records.NewEngine(log, memory.NewStore(), schemas, self.Host)
	graph := sharing.NewGraph(log, recs)
	t.Cleanup(sharing.NewTracker(log, recs, graph).Attach())

	tokens := auth.NewTokenManager("test-secret-at-least-32-chars-long-for-security", self.Host, time.Hour)
	svc := federation.NewService(log, recs, graph, peer.NewClient(log, 5*time.Second), tokens,
		auth.NewSecrets(bcrypt.MinCost), self)

	handler = middleware.Actor(rest.NewRouter(rest.Handlers{
		Health:     rest.NewHealthHandler("test"),
		Records:    rest.NewRecordHandler(recs, schemas, log),
		Federation: rest.NewFederationHandler(svc, log),
	}, rest.RouterOptions{
		ShareToken: middleware.ShareToken(tokens),
	}))

	return &testServer{Server: srv, records: recs}
}

// call sends a JSON request and decodes a JSON response into out when out
// is non-nil. It returns the status code.
func (s *testServer) call(t *testing.T, method, path, actor string, body, out any) int {
	t.Helper()

	var payload io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		payload = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL+path, payload)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if actor != "" {
		req.Header.Set(middleware.ActorHeader, actor)
	}

	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (s *testServer) form(t *testing.T, method, path, body string) (int, recordResponse) {
	t.Helper()

	req, err := http.NewRequest(method, s.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out recordResponse
	if resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

type recordResponse struct {
	Collection string                     `json:"collection"`
	ID         string                     `json:"id"`
	Data       map[string]any             `json:"data"`
	Expand     map[string]json.RawMessage `json:"expand"`
}

type pageResponse struct {
	Page    int              `json:"page"`
	PerPage int              `json:"perPage"`
	Records []recordResponse `json:"records"`
}
