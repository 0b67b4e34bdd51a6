package api

import (
	"net/http"
	"time"

	"github.com/alexlim7/madate-vault-sub000/models"
	"github.com/alexlim7/madate-vault-sub000/services"
	"github.com/alexlim7/madate-vault-sub000/utils"
	"github.com/gorilla/mux"
)

type AuditHandler struct {
	auditService *services.AuditService
}

func CreateAuditHandler(auditService *services.AuditService) *AuditHandler {
	return &AuditHandler{
		auditService: auditService,
	}
}

// HandleList is GET /api/v1/audit. Results are always scoped to the calling
// tenant.
func (h *AuditHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	filter := models.AuditLogFilter{
		TenantID:   tenantID(r),
		ResourceID: r.URL.Query().Get("resource_id"),
		EventType:  r.URL.Query().Get("event_type"),
		Limit:      queryInt(r, "limit", 100),
		Offset:     queryInt(r, "offset", 0),
	}

	if startDate := r.URL.Query().Get("start_date"); startDate != "" {
		parsed, err := time.Parse(time.RFC3339, startDate)
		if err != nil {
			writeError(w, utils.ErrInvalidPayload.WithDetails("start_date must be RFC3339"))
			return
		}
		filter.StartDate = &parsed
	}
	if endDate := r.URL.Query().Get("end_date"); endDate != "" {
		parsed, err := time.Parse(time.RFC3339, endDate)
		if err != nil {
			writeError(w, utils.ErrInvalidPayload.WithDetails("end_date must be RFC3339"))
			return
		}
		filter.EndDate = &parsed
	}

	h.write(w, r, filter)
}

// HandleAuthorizationHistory is GET /api/v1/authorizations/{id}/audit.
func (h *AuditHandler) HandleAuthorizationHistory(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, models.AuditLogFilter{
		TenantID:   tenantID(r),
		ResourceID: mux.Vars(r)["id"],
		Limit:      queryInt(r, "limit", 100),
		Offset:     queryInt(r, "offset", 0),
	})
}

func (h *AuditHandler) write(w http.ResponseWriter, r *http.Request, filter models.AuditLogFilter) {
	logs, total, err := h.auditService.History(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse{Items: logs, Total: total, Limit: filter.Limit, Offset: filter.Offset})
}
