package api

import (
	"net/http"

	"github.com/alexlim7/madate-vault-sub000/models"
	"github.com/alexlim7/madate-vault-sub000/services"
	"github.com/gorilla/mux"
)

type SubscriptionHandler struct {
	subscriptions *services.SubscriptionService
	deliveries    *services.DeliveryEngine
}

func CreateSubscriptionHandler(subscriptions *services.SubscriptionService, deliveries *services.DeliveryEngine) *SubscriptionHandler {
	return &SubscriptionHandler{
		subscriptions: subscriptions,
		deliveries:    deliveries,
	}
}

// HandleCreate returns the signing secret in plaintext. This is the only
// response that ever carries it.
func (h *SubscriptionHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req models.CreateSubscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	resp, err := h.subscriptions.Create(r.Context(), tenantID(r), actorID(r), &req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

func (h *SubscriptionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active_only") == "true"

	subs, err := h.subscriptions.List(r.Context(), tenantID(r), activeOnly)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ListResponse{Items: subs, Total: int64(len(subs)), Limit: len(subs)})
}

func (h *SubscriptionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	sub, err := h.subscriptions.Get(r.Context(), tenantID(r), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *SubscriptionHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.subscriptions.Deactivate(r.Context(), tenantID(r), mux.Vars(r)["id"], actorID(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SubscriptionHandler) HandleDeliveries(w http.ResponseWriter, r *http.Request) {
	filter := models.DeliveryFilter{
		TenantID:       tenantID(r),
		SubscriptionID: mux.Vars(r)["id"],
		Status:         deliveryStatus(r),
		Limit:          queryInt(r, "limit", 50),
		Offset:         queryInt(r, "offset", 0),
	}

	attempts, total, err := h.deliveries.History(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ListResponse{Items: attempts, Total: total, Limit: filter.Limit, Offset: filter.Offset})
}

// HandleRetryFailed starts a fresh attempt cycle for every exhausted delivery
// of the subscription.
func (h *SubscriptionHandler) HandleRetryFailed(w http.ResponseWriter, r *http.Request) {
	count, err := h.deliveries.RetryFailed(r.Context(), tenantID(r), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"retried": count})
}

func (h *SubscriptionHandler) HandleTest(w http.ResponseWriter, r *http.Request) {
	attempt, err := h.deliveries.SendTest(r.Context(), tenantID(r), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, attempt)
}
