package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/alexlim7/madate-vault-sub000/models"
	"github.com/alexlim7/madate-vault-sub000/utils"
)

const HeaderActorID = "X-Actor-ID"

type ListResponse struct {
	Items  interface{} `json:"items"`
	Total  int64       `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	utils.WriteJSON(w, status, v)
}

func writeError(w http.ResponseWriter, err error) {
	utils.WriteError(w, err)
}

// decodeJSON rejects unknown fields and maps every decode failure, including
// an oversized body, to InvalidPayload.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return utils.ErrInvalidPayload.WithDetails("request body too large")
		}
		return utils.ErrInvalidPayload.WithDetails(err.Error())
	}
	return nil
}

func queryInt(r *http.Request, name string, fallback int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func tenantID(r *http.Request) string {
	return utils.GetTenantID(r.Context())
}

// actorID names who performed an administrative action. Callers may pass
// their own user id; otherwise the action is attributed to the tenant's key.
func actorID(r *http.Request) string {
	if actor := r.Header.Get(HeaderActorID); actor != "" && len(actor) <= 255 {
		return actor
	}
	return "api_key:" + tenantID(r)
}

func deliveryStatus(r *http.Request) models.DeliveryStatus {
	return models.DeliveryStatus(r.URL.Query().Get("status"))
}
