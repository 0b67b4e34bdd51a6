package services

import (
	"context"
	"time"

	"github.com/alexlim7/madate-vault-sub000/models"
)

const (
	EventTokenUsed    = "token.used"
	EventTokenRevoked = "token.revoked"

	defaultRevokeReason = "Revoked by issuer"
)

// HandlerContext is what a handler sees. Authorization is already locked by
// the caller's transaction; the handler mutates it in memory and the processor
// persists the result.
type HandlerContext struct {
	TenantID      string
	Envelope      *models.InboundEnvelope
	Authorization *models.Authorization
	Now           time.Time
}

// HandlerOutcome describes the side effects the processor must apply after a
// handler returns. A zero AuditEvent means nothing changed.
type HandlerOutcome struct {
	Changed       bool
	AuditEvent    models.AuditEventType
	AuditDetails  map[string]interface{}
	OutboundEvent string
	OutboundData  map[string]interface{}
	Message       string
}

type EventHandler interface {
	Handle(ctx context.Context, hc *HandlerContext) (*HandlerOutcome, error)
}

type EventHandlerFunc func(ctx context.Context, hc *HandlerContext) (*HandlerOutcome, error)

func (f EventHandlerFunc) Handle(ctx context.Context, hc *HandlerContext) (*HandlerOutcome, error) {
	return f(ctx, hc)
}

type HandlerRegistry struct {
	handlers map[string]EventHandler
}

func CreateHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]EventHandler)}
}

// DefaultHandlers registers the event types the vault understands.
func DefaultHandlers() *HandlerRegistry {
	r := CreateHandlerRegistry()
	r.Register(EventTokenUsed, EventHandlerFunc(handleTokenUsed))
	r.Register(EventTokenRevoked, EventHandlerFunc(handleTokenRevoked))
	return r
}

func (r *HandlerRegistry) Register(eventType string, h EventHandler) {
	r.handlers[eventType] = h
}

func (r *HandlerRegistry) Lookup(eventType string) (EventHandler, bool) {
	h, ok := r.handlers[eventType]
	return h, ok
}

// handleTokenUsed records a use. Status never changes here, even for an
// authorization that is already revoked or expired.
func handleTokenUsed(ctx context.Context, hc *HandlerContext) (*HandlerOutcome, error) {
	auth := hc.Authorization
	env := hc.Envelope
	auth.RecordUsage(hc.Now)

	details := map[string]interface{}{
		"event_id":             env.EventID,
		"occurred_at":          env.OccurredAt().Format(time.RFC3339),
		"usage_count":          auth.UsageCount,
		"authorization_status": string(auth.EffectiveStatus(hc.Now)),
	}
	for _, key := range []string{"currency", "merchant_id", "transaction_id"} {
		if v := env.DataString(key); v != "" {
			details[key] = v
		}
	}
	if amount, ok := env.DataInt64("amount"); ok {
		details["amount"] = amount
	}

	outbound := map[string]interface{}{
		"authorization_id": auth.ID,
		"protocol":         string(auth.Protocol),
		"status":           string(auth.Status),
		"usage_count":      auth.UsageCount,
		"used_at":          hc.Now.Format(time.RFC3339),
	}
	for k, v := range details {
		if k == "amount" || k == "currency" || k == "merchant_id" || k == "transaction_id" {
			outbound[k] = v
		}
	}

	return &HandlerOutcome{
		Changed:       true,
		AuditEvent:    models.AuditEventUsed,
		AuditDetails:  details,
		OutboundEvent: models.EventAuthorizationUsed,
		OutboundData:  outbound,
		Message:       "Authorization usage recorded",
	}, nil
}

// handleTokenRevoked is idempotent: a second revocation is a successful no-op.
func handleTokenRevoked(ctx context.Context, hc *HandlerContext) (*HandlerOutcome, error) {
	auth := hc.Authorization
	env := hc.Envelope

	if auth.IsRevoked() {
		return &HandlerOutcome{Message: "Authorization already revoked"}, nil
	}

	reason := env.DataString("reason")
	if reason == "" {
		reason = defaultRevokeReason
	}
	if err := auth.Revoke(reason, hc.Now); err != nil {
		return nil, err
	}

	return &HandlerOutcome{
		Changed:    true,
		AuditEvent: models.AuditEventRevoked,
		AuditDetails: map[string]interface{}{
			"event_id":    env.EventID,
			"occurred_at": env.OccurredAt().Format(time.RFC3339),
			"reason":      reason,
		},
		OutboundEvent: models.EventAuthorizationRevoked,
		OutboundData: map[string]interface{}{
			"authorization_id": auth.ID,
			"protocol":         string(auth.Protocol),
			"status":           string(auth.Status),
			"reason":           reason,
			"revoked_at":       auth.RevokedAt.Format(time.RFC3339),
		},
		Message: "Authorization revoked",
	}, nil
}
