package rest

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/heartmarshall/fedrecords/internal/transport/middleware"
)

// Handlers groups everything the router mounts.
type Handlers struct {
	Health     *HealthHandler
	Records    *RecordHandler
	Federation *FederationHandler
}

// RouterOptions carries the per-route middleware.
type RouterOptions struct {
	// ShareToken validates bearer tokens on the sync routes.
	ShareToken middleware.Middleware
	// SyncLimit throttles sync and invite requests from peers.
	SyncLimit middleware.Middleware
}

// NewRouter builds the HTTP surface. Record and protocol endpoints live
// under /api, probes at the root. The operator endpoints expect
// middleware.Actor to run in front of the router.
func NewRouter(h Handlers, opts RouterOptions) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/live", h.Health.Live).Methods(http.MethodGet)
	r.HandleFunc("/ready", h.Health.Ready).Methods(http.MethodGet)
	r.HandleFunc("/health", h.Health.Health).Methods(http.MethodGet)
	r.HandleFunc("/version", h.Health.Version).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/identity", h.Federation.Identity).Methods(http.MethodGet)

	var invite http.Handler = http.HandlerFunc(h.Federation.Invite)
	if opts.SyncLimit != nil {
		invite = opts.SyncLimit(invite)
	}
	api.Handle("/invite/{id}", invite).Methods(http.MethodGet)

	sync := api.PathPrefix("/share/{id}/sync").Subrouter()
	if opts.SyncLimit != nil {
		sync.Use(mux.MiddlewareFunc(opts.SyncLimit))
	}
	if opts.ShareToken != nil {
		sync.Use(mux.MiddlewareFunc(opts.ShareToken))
	}
	sync.HandleFunc("/initial", h.Federation.InitialSync).Methods(http.MethodPost)
	sync.HandleFunc("/incremental", h.Federation.IncrementalSync).Methods(http.MethodPost)

	api.HandleFunc("/shares", h.Federation.CreateShare).Methods(http.MethodPost)
	api.HandleFunc("/shares/accept", h.Federation.AcceptShare).Methods(http.MethodPost)
	api.HandleFunc("/shares/{id}/sync", h.Federation.SyncShare).Methods(http.MethodPost)

	api.HandleFunc("/collections", h.Records.ListCollections).Methods(http.MethodGet)
	api.HandleFunc("/collections/{name}", h.Records.GetCollection).Methods(http.MethodGet)
	api.HandleFunc("/collections/{name}/records", h.Records.List).Methods(http.MethodGet)
	api.HandleFunc("/collections/{name}/records", h.Records.Create).Methods(http.MethodPost)
	api.HandleFunc("/collections/{name}/records/{id}", h.Records.View).Methods(http.MethodGet)
	api.HandleFunc("/collections/{name}/records/{id}", h.Records.Update).Methods(http.MethodPatch)
	api.HandleFunc("/collections/{name}/records/{id}", h.Records.Put).Methods(http.MethodPut)
	api.HandleFunc("/collections/{name}/records/{id}", h.Records.Delete).Methods(http.MethodDelete)

	return r
}
