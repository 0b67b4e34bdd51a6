package api

import (
	"net/http"

	"github.com/alexlim7/madate-vault-sub000/services"
	"github.com/alexlim7/madate-vault-sub000/utils"
	"github.com/gorilla/mux"
)

type WebhookConfig struct {
	SignatureHeader string
	TenantHeader    string
	MaxBodyBytes    int64
}

type WebhookHandler struct {
	processor *services.InboundProcessor
	config    WebhookConfig
}

func CreateWebhookHandler(processor *services.InboundProcessor, config WebhookConfig) *WebhookHandler {
	if config.SignatureHeader == "" {
		config.SignatureHeader = "X-Source-Signature"
	}
	if config.TenantHeader == "" {
		config.TenantHeader = "X-Tenant-ID"
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 1 << 20
	}
	return &WebhookHandler{processor: processor, config: config}
}

// HandleInbound is POST /webhook. The signature is checked over the raw body
// bytes, so the body is read once and never re-encoded before verification.
func (h *WebhookHandler) HandleInbound(w http.ResponseWriter, r *http.Request) {
	body, err := utils.ReadBody(r, h.config.MaxBodyBytes)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.processor.Process(
		r.Context(),
		r.Header.Get(h.config.TenantHeader),
		body,
		r.Header.Get(h.config.SignatureHeader),
	)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// HandleGetEvent is GET /events/{event_id}, scoped to the calling tenant.
func (h *WebhookHandler) HandleGetEvent(w http.ResponseWriter, r *http.Request) {
	record, err := h.processor.GetEvent(r.Context(), tenantID(r), mux.Vars(r)["event_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}
