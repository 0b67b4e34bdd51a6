package api

import (
	"net/http"

	"github.com/alexlim7/madate-vault-sub000/models"
	"github.com/alexlim7/madate-vault-sub000/services"
	"github.com/gorilla/mux"
)

// TenantHandler serves the admin-only tenant directory routes.
type TenantHandler struct {
	tenantService *services.TenantService
}

func CreateTenantHandler(tenantService *services.TenantService) *TenantHandler {
	return &TenantHandler{
		tenantService: tenantService,
	}
}

func (h *TenantHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req models.CreateTenantRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	resp, err := h.tenantService.Create(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

func (h *TenantHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	tenant, err := h.tenantService.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tenant)
}

func (h *TenantHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateTenantRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	tenant, err := h.tenantService.Update(r.Context(), mux.Vars(r)["id"], &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tenant)
}

func (h *TenantHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)
	activeOnly := r.URL.Query().Get("active_only") != "false"

	tenants, total, err := h.tenantService.List(r.Context(), activeOnly, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ListResponse{Items: tenants, Total: total, Limit: limit, Offset: offset})
}

func (h *TenantHandler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	if err := h.tenantService.Deactivate(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}
