package rest

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/heartmarshall/fedrecords/internal/domain"
	"github.com/heartmarshall/fedrecords/internal/service/federation"
	"github.com/heartmarshall/fedrecords/internal/transport/middleware"
	"github.com/heartmarshall/fedrecords/pkg/ctxutil"
)

// federationService covers both sides of the share protocol.
type federationService interface {
	Identity() domain.Identity
	GetInvite(ctx context.Context, inviteID, secret string) (*domain.InviteGrant, error)
	ServeInitialSync(ctx context.Context, shareID, token string, req domain.SyncRequest) (*domain.InitialSync, error)
	ServeIncrementalSync(ctx context.Context, shareID, token, since string, req domain.SyncRequest) (*domain.IncrementalSync, error)
	CreateInvite(ctx context.Context, input federation.CreateInviteInput) (*federation.InviteResult, error)
	AcceptInvite(ctx context.Context, input federation.AcceptInviteInput) (*domain.Record, error)
	Sync(ctx context.Context, shareID string) (*federation.SyncResult, error)
}

// FederationHandler serves the peer-facing protocol endpoints and the
// operator endpoints that drive them.
type FederationHandler struct {
	svc federationService
	log *slog.Logger
}

// NewFederationHandler creates a FederationHandler.
func NewFederationHandler(svc federationService, logger *slog.Logger) *FederationHandler {
	return &FederationHandler{svc: svc, log: logger.With("handler", "federation")}
}

type identityResponse struct {
	URL       string `json:"url"`
	PublicKey string `json:"public_key"`
	Host      string `json:"host"`
}

// Identity handles GET /identity.
func (h *FederationHandler) Identity(w http.ResponseWriter, r *http.Request) {
	id := h.svc.Identity()
	writeJSON(w, http.StatusOK, identityResponse{URL: id.URL, PublicKey: id.PublicKey, Host: id.Host})
}

// Invite handles GET /invite/{id}?sec=.
func (h *FederationHandler) Invite(w http.ResponseWriter, r *http.Request) {
	grant, err := h.svc.GetInvite(r.Context(), mux.Vars(r)["id"], r.URL.Query().Get("sec"))
	if err != nil {
		handleError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, grant)
}

// InitialSync handles POST /share/{id}/sync/initial.
func (h *FederationHandler) InitialSync(w http.ResponseWriter, r *http.Request) {
	var req domain.SyncRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(h.log, w, r, err)
		return
	}
	out, err := h.svc.ServeInitialSync(r.Context(), mux.Vars(r)["id"], ctxutil.AccessTokenFromCtx(r.Context()), req)
	if err != nil {
		handleError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// IncrementalSync handles POST /share/{id}/sync/incremental?since=.
func (h *FederationHandler) IncrementalSync(w http.ResponseWriter, r *http.Request) {
	var req domain.SyncRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(h.log, w, r, err)
		return
	}
	out, err := h.svc.ServeIncrementalSync(r.Context(), mux.Vars(r)["id"], ctxutil.AccessTokenFromCtx(r.Context()),
		r.URL.Query().Get("since"), req)
	if err != nil {
		handleError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type createShareRequest struct {
	Collection string `json:"collection"`
	RecordID   string `json:"record_id"`
}

type createShareResponse struct {
	Share     *domain.Record `json:"share"`
	Invite    *domain.Record `json:"invite"`
	InviteURL string         `json:"invite_url"`
}

// CreateShare handles POST /shares.
func (h *FederationHandler) CreateShare(w http.ResponseWriter, r *http.Request) {
	actor, err := middleware.RequireActor(r.Context())
	if err != nil {
		handleError(h.log, w, r, err)
		return
	}
	var req createShareRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(h.log, w, r, err)
		return
	}

	res, err := h.svc.CreateInvite(r.Context(), federation.CreateInviteInput{
		Actor:      actor,
		Collection: req.Collection,
		RecordID:   req.RecordID,
	})
	if err != nil {
		handleError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createShareResponse{Share: res.Share, Invite: res.Invite, InviteURL: res.URL})
}

type acceptShareRequest struct {
	InviteURL string `json:"invite_url"`
}

// AcceptShare handles POST /shares/accept.
func (h *FederationHandler) AcceptShare(w http.ResponseWriter, r *http.Request) {
	actor, err := middleware.RequireActor(r.Context())
	if err != nil {
		handleError(h.log, w, r, err)
		return
	}
	var req acceptShareRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(h.log, w, r, err)
		return
	}

	share, err := h.svc.AcceptInvite(r.Context(), federation.AcceptInviteInput{Actor: actor, InviteURL: req.InviteURL})
	if err != nil {
		handleError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]*domain.Record{"share": share})
}

// SyncShare handles POST /shares/{id}/sync.
func (h *FederationHandler) SyncShare(w http.ResponseWriter, r *http.Request) {
	if _, err := middleware.RequireActor(r.Context()); err != nil {
		handleError(h.log, w, r, err)
		return
	}
	res, err := h.svc.Sync(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		handleError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
