package rest

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/heartmarshall/fedrecords/internal/domain"
)

// recordService is the slice of the record engine exposed over HTTP.
type recordService interface {
	Get(ctx context.Context, collection, id string) (*domain.Record, error)
	Find(ctx context.Context, collection string, opts domain.FindOptions) (*domain.RecordPage, error)
	Create(ctx context.Context, collection string, data domain.Data) (*domain.Record, error)
	Update(ctx context.Context, collection, id string, patch domain.Data) (*domain.Record, error)
	Upsert(ctx context.Context, collection, id string, data domain.Data) (*domain.Record, error)
	Delete(ctx context.Context, collection, id string) (*domain.Record, error)
	Expand(ctx context.Context, node *domain.Expanded, paths []string) error
}

type schemaCatalog interface {
	All() []*domain.Schema
	Lookup(collection string) (*domain.Schema, error)
}

// RecordHandler serves collection schemas and record CRUD.
type RecordHandler struct {
	records recordService
	schemas schemaCatalog
	log     *slog.Logger
}

// NewRecordHandler creates a RecordHandler.
func NewRecordHandler(records recordService, schemas schemaCatalog, logger *slog.Logger) *RecordHandler {
	return &RecordHandler{records: records, schemas: schemas, log: logger.With("handler", "records")}
}

// ListCollections handles GET /collections.
func (h *RecordHandler) ListCollections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.schemas.All())
}

// GetCollection handles GET /collections/{name}.
func (h *RecordHandler) GetCollection(w http.ResponseWriter, r *http.Request) {
	s, err := h.schemas.Lookup(mux.Vars(r)["name"])
	if err != nil {
		handleError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// List handles GET /collections/{name}/records.
func (h *RecordHandler) List(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	opts, err := findOptions(r)
	if err == nil {
		err = checkSecretQuery(name, opts)
	}
	if err != nil {
		handleError(h.log, w, r, err)
		return
	}
	page, err := h.records.Find(r.Context(), name, opts)
	if err != nil {
		handleError(h.log, w, r, err)
		return
	}
	for _, node := range page.Records {
		redact(node)
	}
	writeJSON(w, http.StatusOK, page)
}

// View handles GET /collections/{name}/records/{id}.
func (h *RecordHandler) View(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	rec, err := h.records.Get(r.Context(), vars["name"], vars["id"])
	if err != nil {
		handleError(h.log, w, r, err)
		return
	}
	h.writeRecord(w, r, http.StatusOK, rec)
}

// Create handles POST /collections/{name}/records.
func (h *RecordHandler) Create(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := writable(name); err != nil {
		handleError(h.log, w, r, err)
		return
	}
	data, err := decodeData(r)
	if err != nil {
		handleError(h.log, w, r, err)
		return
	}
	rec, err := h.records.Create(r.Context(), name, data)
	if err != nil {
		handleError(h.log, w, r, err)
		return
	}
	h.writeRecord(w, r, http.StatusCreated, rec)
}

// Update handles PATCH /collections/{name}/records/{id}.
func (h *RecordHandler) Update(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := writable(vars["name"]); err != nil {
		handleError(h.log, w, r, err)
		return
	}
	data, err := decodeData(r)
	if err != nil {
		handleError(h.log, w, r, err)
		return
	}
	rec, err := h.records.Update(r.Context(), vars["name"], vars["id"], data)
	if err != nil {
		handleError(h.log, w, r, err)
		return
	}
	h.writeRecord(w, r, http.StatusOK, rec)
}

// Put handles PUT /collections/{name}/records/{id}, creating the record
// under that id when it does not exist.
func (h *RecordHandler) Put(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := writable(vars["name"]); err != nil {
		handleError(h.log, w, r, err)
		return
	}
	data, err := decodeData(r)
	if err != nil {
		handleError(h.log, w, r, err)
		return
	}
	rec, err := h.records.Upsert(r.Context(), vars["name"], vars["id"], data)
	if err != nil {
		handleError(h.log, w, r, err)
		return
	}
	h.writeRecord(w, r, http.StatusOK, rec)
}

// Delete handles DELETE /collections/{name}/records/{id}. Deleting a
// missing record succeeds.
func (h *RecordHandler) Delete(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := writable(vars["name"]); err != nil {
		handleError(h.log, w, r, err)
		return
	}
	if _, err := h.records.Delete(r.Context(), vars["name"], vars["id"]); err != nil {
		handleError(h.log, w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeRecord responds with rec, expanded by the expand query parameter.
func (h *RecordHandler) writeRecord(w http.ResponseWriter, r *http.Request, status int, rec *domain.Record) {
	node := domain.NewExpanded(rec)
	if paths := expandPaths(r); len(paths) > 0 {
		if err := h.records.Expand(r.Context(), node, paths); err != nil {
			handleError(h.log, w, r, err)
			return
		}
	}
	redact(node)
	writeJSON(w, status, node)
}

// writable rejects writes to the sharing collections, which only the
// sharing machinery maintains.
func writable(collection string) error {
	if domain.IsSystemCollection(collection) {
		return fmt.Errorf("%w: %s is read-only", domain.ErrForbidden, collection)
	}
	return nil
}

// checkSecretQuery refuses filters and sorts that mention a secret field.
func checkSecretQuery(collection string, opts domain.FindOptions) error {
	for _, f := range domain.SecretFields(collection) {
		if strings.Contains(opts.Filter, f) || strings.Contains(opts.Sort, f) {
			return fmt.Errorf("%w: %s cannot be queried", domain.ErrForbidden, f)
		}
	}
	return nil
}

// redact drops secret fields from node and everything expanded below it.
func redact(node *domain.Expanded) {
	if node == nil || node.Record == nil {
		return
	}
	if secrets := domain.SecretFields(node.Collection); len(secrets) > 0 {
		d := node.Data.Clone()
		for _, f := range secrets {
			delete(d, f)
		}
		node.Record = &domain.Record{Collection: node.Collection, Data: d, Schema: node.Schema}
	}
	for _, x := range node.Expand {
		for _, child := range x.Records {
			redact(child)
		}
	}
}

func findOptions(r *http.Request) (domain.FindOptions, error) {
	q := r.URL.Query()
	opts := domain.FindOptions{
		Filter: q.Get("filter"),
		Sort:   q.Get("sort"),
		Expand: expandPaths(r),
	}

	var errs []domain.FieldError
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			errs = append(errs, domain.FieldError{Field: "page", Message: "must be a positive integer"})
		}
		opts.Page = n
	}
	if v := q.Get("perPage"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			errs = append(errs, domain.FieldError{Field: "perPage", Message: "must be a positive integer"})
		}
		opts.PerPage = n
	}
	if len(errs) > 0 {
		return opts, domain.NewValidationErrors(errs)
	}
	return opts, nil
}

func expandPaths(r *http.Request) []string {
	var paths []string
	for _, p := range strings.Split(r.URL.Query().Get("expand"), ",") {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// decodeData reads a record body. JSON bodies keep their value types,
// form bodies yield one string per field.
func decodeData(r *http.Request) (domain.Data, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		data := domain.Data{}
		if err := decodeJSON(r, &data); err != nil {
			return nil, err
		}
		if data == nil {
			data = domain.Data{}
		}
		return data, nil
	case "multipart/form-data":
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			return nil, domain.NewValidationError("body", "invalid form")
		}
	default:
		if err := r.ParseForm(); err != nil {
			return nil, domain.NewValidationError("body", "invalid form")
		}
	}

	data := make(domain.Data, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			data[k] = v[0]
		}
	}
	return data, nil
}
