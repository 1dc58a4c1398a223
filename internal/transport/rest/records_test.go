package rest_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartmarshall/fedrecords/internal/domain"
)

func TestRecords_CRUD(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	var folder recordResponse
	status := srv.call(t, http.MethodPost, "/api/collections/folders/records", "", map[string]any{"name": "A"}, &folder)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "folders", folder.Collection)
	assert.NotEmpty(t, folder.ID)
	assert.Equal(t, "A", folder.Data["name"])

	path := "/api/collections/folders/records/" + url.PathEscape(folder.ID)

	var got recordResponse
	require.Equal(t, http.StatusOK, srv.call(t, http.MethodGet, path, "", nil, &got))
	assert.Equal(t, folder.ID, got.ID)

	var patched recordResponse
	require.Equal(t, http.StatusOK, srv.call(t, http.MethodPatch, path, "", map[string]any{"name": "A2"}, &patched))
	assert.Equal(t, "A2", patched.Data["name"])

	require.Equal(t, http.StatusNoContent, srv.call(t, http.MethodDelete, path, "", nil, nil))
	require.Equal(t, http.StatusOK, srv.call(t, http.MethodGet, path, "", nil, &got))
	assert.Equal(t, true, got.Data["is_deleted"])

	// Updating a tombstone is reported as missing.
	assert.Equal(t, http.StatusNotFound, srv.call(t, http.MethodPatch, path, "", map[string]any{"name": "x"}, nil))
	// Deleting again is a no-op.
	assert.Equal(t, http.StatusNoContent, srv.call(t, http.MethodDelete, path, "", nil, nil))
}

func TestRecords_PutCreatesUnderID(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	id := "urn:folders:custom@elsewhere.test"
	var rec recordResponse
	status := srv.call(t, http.MethodPut, "/api/collections/folders/records/"+url.PathEscape(id), "",
		map[string]any{"name": "imported"}, &rec)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, id, rec.ID)

	status = srv.call(t, http.MethodPut, "/api/collections/folders/records/"+url.PathEscape(id), "",
		map[string]any{"name": "again"}, &rec)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "again", rec.Data["name"])
}

func TestRecords_FormBody(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	status, rec := srv.form(t, http.MethodPost, "/api/collections/folders/records", "name=from+form")
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "from form", rec.Data["name"])

	status, rec = srv.form(t, http.MethodPatch, "/api/collections/folders/records/"+url.PathEscape(rec.ID), "name=renamed")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "renamed", rec.Data["name"])
}

func TestRecords_ListFilterSortExpand(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	var a, b recordResponse
	srv.call(t, http.MethodPost, "/api/collections/folders/records", "", map[string]any{"name": "a"}, &a)
	srv.call(t, http.MethodPost, "/api/collections/folders/records", "", map[string]any{"name": "b"}, &b)
	srv.call(t, http.MethodPost, "/api/collections/docs/records", "", map[string]any{"title": "1", "folder": a.ID}, nil)
	srv.call(t, http.MethodPost, "/api/collections/docs/records", "", map[string]any{"title": "2", "folder": a.ID}, nil)

	q := url.Values{}
	q.Set("sort", "-name")
	q.Set("expand", "docs")
	var page pageResponse
	require.Equal(t, http.StatusOK, srv.call(t, http.MethodGet, "/api/collections/folders/records?"+q.Encode(), "", nil, &page))
	require.Len(t, page.Records, 2)
	assert.Equal(t, b.ID, page.Records[0].ID)
	assert.Equal(t, a.ID, page.Records[1].ID)

	var docs []recordResponse
	require.NoError(t, json.Unmarshal(page.Records[1].Expand["docs"], &docs))
	assert.Len(t, docs, 2)

	q = url.Values{}
	q.Set("filter", `title = "2"`)
	q.Set("expand", "folder")
	require.Equal(t, http.StatusOK, srv.call(t, http.MethodGet, "/api/collections/docs/records?"+q.Encode(), "", nil, &page))
	require.Len(t, page.Records, 1)
	var parent recordResponse
	require.NoError(t, json.Unmarshal(page.Records[0].Expand["folder"], &parent))
	assert.Equal(t, a.ID, parent.ID)

	q = url.Values{}
	q.Set("perPage", "1")
	q.Set("page", "2")
	require.Equal(t, http.StatusOK, srv.call(t, http.MethodGet, "/api/collections/folders/records?"+q.Encode(), "", nil, &page))
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 1, page.PerPage)
	require.Len(t, page.Records, 1)
	assert.Equal(t, b.ID, page.Records[0].ID)
}

func TestRecords_Errors(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"unknown collection", http.MethodGet, "/api/collections/nope/records", http.StatusBadRequest},
		{"unknown collection schema", http.MethodGet, "/api/collections/nope", http.StatusBadRequest},
		{"missing record", http.MethodGet, "/api/collections/folders/records/urn:folders:404@x.test", http.StatusNotFound},
		{"invalid filter", http.MethodGet, "/api/collections/folders/records?filter=" + url.QueryEscape("name = "), http.StatusBadRequest},
		{"invalid expand", http.MethodGet, "/api/collections/folders/records?expand=name", http.StatusBadRequest},
		{"invalid page", http.MethodGet, "/api/collections/folders/records?page=zero", http.StatusBadRequest},
		{"method not allowed", http.MethodPost, "/api/collections/folders", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, srv.call(t, tt.method, tt.path, "", nil, nil))
		})
	}
}

func TestRecords_SystemCollectionsAreReadOnly(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	share, err := srv.records.Create(context.Background(), domain.CollectionShares, domain.Data{
		"collection": "folders", "record_id": "x", "access_token": "tok",
	})
	require.NoError(t, err)
	path := "/api/collections/shares/records/" + url.PathEscape(share.ID())

	writes := []struct {
		name   string
		method string
		path   string
	}{
		{"post update", http.MethodPost, "/api/collections/share_updates/records"},
		{"post dependency", http.MethodPost, "/api/collections/share_dependencies/records"},
		{"patch share", http.MethodPatch, path},
		{"put share", http.MethodPut, path},
		{"delete share", http.MethodDelete, path},
	}
	for _, tt := range writes {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, http.StatusForbidden, srv.call(t, tt.method, tt.path, "", map[string]any{"share": share.ID()}, nil))
		})
	}

	updates, err := srv.records.FindAll(context.Background(), domain.CollectionShareUpdates, "", "")
	require.NoError(t, err)
	assert.Empty(t, updates)

	var got recordResponse
	require.Equal(t, http.StatusOK, srv.call(t, http.MethodGet, path, "", nil, &got))
	assert.Equal(t, "folders", got.Data["collection"])
	assert.NotContains(t, got.Data, "access_token")

	var page pageResponse
	require.Equal(t, http.StatusOK, srv.call(t, http.MethodGet, "/api/collections/shares/records", "", nil, &page))
	require.Len(t, page.Records, 1)
	assert.NotContains(t, page.Records[0].Data, "access_token")

	assert.Equal(t, http.StatusForbidden, srv.call(t, http.MethodGet,
		"/api/collections/shares/records?filter="+url.QueryEscape(`access_token = "tok"`), "", nil, nil))
	assert.Equal(t, http.StatusForbidden, srv.call(t, http.MethodGet,
		"/api/collections/shares/records?sort=access_token", "", nil, nil))

	stored, err := srv.records.Get(context.Background(), domain.CollectionShares, share.ID())
	require.NoError(t, err)
	assert.Equal(t, "tok", stored.String("access_token"))
	assert.False(t, stored.IsDeleted())
}

func TestCollections(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	var all []map[string]any
	require.Equal(t, http.StatusOK, srv.call(t, http.MethodGet, "/api/collections", "", nil, &all))
	names := make([]any, len(all))
	for i, s := range all {
		names[i] = s["collectionName"]
	}
	assert.Contains(t, names, "folders")
	assert.Contains(t, names, "shares")

	var one map[string]json.RawMessage
	require.Equal(t, http.StatusOK, srv.call(t, http.MethodGet, "/api/collections/docs", "", nil, &one))
	assert.JSONEq(t, `"docs"`, string(one["collectionName"]))
	assert.JSONEq(t,
		`{"title":{"type":"string"},"folder":{"type":"relation","collection":"folders"}}`,
		string(one["fields"]))
}
