package services

import (
	"context"
	"time"

	"github.com/alexlim7/madate-vault-sub000/models"
	"github.com/alexlim7/madate-vault-sub000/webhooks"
)

// Transactor runs fn in one transaction. Repositories called with the context
// handed to fn join that transaction.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(context.Context) error) error
}

type AuthorizationRepository interface {
	Create(ctx context.Context, authorization *models.Authorization) error
	Save(ctx context.Context, authorization *models.Authorization) error
	GetByID(ctx context.Context, tenantID, id string) (*models.Authorization, error)
	FindByCorrelationKey(ctx context.Context, tenantID string, protocol models.Protocol, key string) (*models.Authorization, error)
	LockByID(ctx context.Context, tenantID, id string) (*models.Authorization, error)
	List(ctx context.Context, tenantID string, status models.AuthorizationStatus, limit, offset int) ([]*models.Authorization, int64, error)
	SoftDelete(ctx context.Context, tenantID, id string) error
}

type InboundEventRepository interface {
	Insert(ctx context.Context, record *models.InboundEventRecord) error
	FindByEventID(ctx context.Context, eventID string) (*models.InboundEventRecord, error)
}

type SubscriptionRepository interface {
	Create(ctx context.Context, subscription *models.WebhookSubscription) error
	GetByID(ctx context.Context, tenantID, id string) (*models.WebhookSubscription, error)
	List(ctx context.Context, tenantID string, activeOnly bool) ([]*models.WebhookSubscription, error)
	ListSubscribed(ctx context.Context, tenantID, eventType string) ([]*models.WebhookSubscription, error)
	Deactivate(ctx context.Context, tenantID, id string) error
}

type DeliveryRepository interface {
	CreateBatch(ctx context.Context, attempts []*models.DeliveryAttempt) error
	GetByID(ctx context.Context, id string) (*models.DeliveryAttempt, error)
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.DeliveryAttempt, error)
	MarkSuccess(ctx context.Context, id string, responseStatus int, at time.Time) error
	Reschedule(ctx context.Context, id string, nextAttempt int, scheduledAt time.Time, lastErr string, responseStatus int) error
	MarkExhausted(ctx context.Context, id string, lastErr string, responseStatus int) error
	Postpone(ctx context.Context, id string, scheduledAt time.Time, reason string) error
	ResetStuck(ctx context.Context, lockedBefore time.Time) (int64, error)
	ListRetryable(ctx context.Context, tenantID, subscriptionID string) ([]*models.DeliveryAttempt, error)
	List(ctx context.Context, filter models.DeliveryFilter) ([]*models.DeliveryAttempt, int64, error)
}

type AuditRepository interface {
	Create(ctx context.Context, log *models.AuditLog) error
	List(ctx context.Context, filter models.AuditLogFilter) ([]*models.AuditLog, int64, error)
}

type TenantRepository interface {
	Create(ctx context.Context, tenant *models.Tenant) error
	Update(ctx context.Context, tenant *models.Tenant) error
	GetByID(ctx context.Context, id string) (*models.Tenant, error)
	GetByAPIKeyHash(ctx context.Context, hash string) (*models.Tenant, error)
	IsActive(ctx context.Context, id string) (bool, error)
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]*models.Tenant, int64, error)
	Deactivate(ctx context.Context, id string) error
}

// TenantDirectory answers whether a tenant may still act.
type TenantDirectory interface {
	IsActive(ctx context.Context, tenantID string) (bool, error)
}

// VerdictCache fronts the ledger for repeat deliveries. A cache error is
// treated as a miss by every caller.
type VerdictCache interface {
	Get(ctx context.Context, eventID string) (*models.InboundEventRecord, bool, error)
	Put(ctx context.Context, record *models.InboundEventRecord) error
}

// EventPublisher fans an outbound event out to subscriptions.
type EventPublisher interface {
	Enqueue(ctx context.Context, tenantID, eventType string, data map[string]interface{}) (int, error)
}

type WebhookSender interface {
	Send(ctx context.Context, d webhooks.Delivery) (webhooks.Result, error)
}
