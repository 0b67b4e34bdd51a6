package api

import (
	"net/http"

	"github.com/alexlim7/madate-vault-sub000/models"
	"github.com/alexlim7/madate-vault-sub000/services"
	"github.com/gorilla/mux"
)

type AuthorizationHandler struct {
	authorizations *services.AuthorizationService
}

func CreateAuthorizationHandler(authorizations *services.AuthorizationService) *AuthorizationHandler {
	return &AuthorizationHandler{authorizations: authorizations}
}

func (h *AuthorizationHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req models.IngestAuthorizationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	auth, err := h.authorizations.Ingest(r.Context(), tenantID(r), actorID(r), &req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, auth)
}

func (h *AuthorizationHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	auth, err := h.authorizations.Get(r.Context(), tenantID(r), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, auth)
}

func (h *AuthorizationHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	status := models.AuthorizationStatus(r.URL.Query().Get("status"))

	auths, total, err := h.authorizations.List(r.Context(), tenantID(r), status, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ListResponse{Items: auths, Total: total, Limit: limit, Offset: offset})
}

func (h *AuthorizationHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	var req models.RevokeAuthorizationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	auth, err := h.authorizations.Revoke(r.Context(), tenantID(r), mux.Vars(r)["id"], actorID(r), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, auth)
}

func (h *AuthorizationHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.authorizations.SoftDelete(r.Context(), tenantID(r), mux.Vars(r)["id"], actorID(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
