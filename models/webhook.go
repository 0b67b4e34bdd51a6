package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type DeliveryStatus string

const (
	DeliveryStatusPending    DeliveryStatus = "PENDING"
	DeliveryStatusDelivering DeliveryStatus = "DELIVERING"
	DeliveryStatusSuccess    DeliveryStatus = "SUCCESS"
	DeliveryStatusFailed     DeliveryStatus = "FAILED"
	DeliveryStatusExhausted  DeliveryStatus = "EXHAUSTED"
)

func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryStatusSuccess || s == DeliveryStatusExhausted
}

const (
	EventAuthorizationUsed    = "authorization.used"
	EventAuthorizationRevoked = "authorization.revoked"
	EventAuthorizationCreated = "authorization.created"
	EventWebhookTest          = "webhook.test"

	SubscribeAll = "*"
)

type WebhookSubscription struct {
	ID                   string                      `json:"id" gorm:"primaryKey;type:uuid"`
	TenantID             string                      `json:"tenant_id" gorm:"type:uuid;not null;index"`
	URL                  string                      `json:"url" gorm:"not null"`
	Secret               string                      `json:"-" gorm:"not null"`
	SubscribedEventTypes datatypes.JSONSlice[string] `json:"subscribed_event_types" gorm:"type:jsonb;not null"`
	IsActive             bool                        `json:"is_active" gorm:"not null"`
	MaxRetries           int                         `json:"max_retries" gorm:"not null"`
	RetryDelaySeconds    int                         `json:"retry_delay_seconds" gorm:"not null"`
	TimeoutSeconds       int                         `json:"timeout_seconds" gorm:"not null"`
	CreatedAt            time.Time                   `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt            time.Time                   `json:"updated_at" gorm:"autoUpdateTime"`
}

func (s *WebhookSubscription) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

func (s *WebhookSubscription) Subscribes(eventType string) bool {
	for _, t := range s.SubscribedEventTypes {
		if t == eventType || t == SubscribeAll {
			return true
		}
	}
	return false
}

func (s *WebhookSubscription) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

type DeliveryAttempt struct {
	ID              string         `json:"id" gorm:"primaryKey;type:uuid"`
	TenantID        string         `json:"tenant_id" gorm:"type:uuid;not null;index"`
	SubscriptionID  string         `json:"subscription_id" gorm:"type:uuid;not null;index"`
	EventID         string         `json:"event_id" gorm:"not null;index"`
	EventType       string         `json:"event_type" gorm:"not null"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	AttemptNumber   int            `json:"attempt_number" gorm:"not null"`
	Status          DeliveryStatus `json:"status" gorm:"not null;index:ix_delivery_due,priority:1"`
	ScheduledAt     time.Time      `json:"scheduled_at" gorm:"not null;index:ix_delivery_due,priority:2"`
	LastError       string         `json:"last_error,omitempty"`
	ResponseStatus  int            `json:"response_status,omitempty"`
	LockedAt        *time.Time     `json:"locked_at,omitempty"`
	DeliveredAt     *time.Time     `json:"delivered_at,omitempty"`
	ParentAttemptID *string        `json:"parent_attempt_id,omitempty" gorm:"type:uuid;index"`
	CreatedAt       time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt       time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
}

func (a *DeliveryAttempt) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// OutboundEvent is the body POSTed to subscribers.
type OutboundEvent struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	TenantID  string                 `json:"tenant_id"`
	CreatedAt time.Time              `json:"created_at"`
	Data      map[string]interface{} `json:"data"`
}

type CreateSubscriptionRequest struct {
	URL               string   `json:"url" validate:"required,url,startswith=http"`
	Secret            string   `json:"secret,omitempty" validate:"omitempty,min=16"`
	EventTypes        []string `json:"event_types" validate:"required,min=1,dive,required"`
	MaxRetries        *int     `json:"max_retries,omitempty" validate:"omitempty,gte=0,lte=20"`
	RetryDelaySeconds *int     `json:"retry_delay_seconds,omitempty" validate:"omitempty,gte=1,lte=86400"`
	TimeoutSeconds    *int     `json:"timeout_seconds,omitempty" validate:"omitempty,gte=1,lte=120"`
}

type CreateSubscriptionResponse struct {
	Subscription *WebhookSubscription `json:"subscription"`
	Secret       string               `json:"secret"`
}

type DeliveryFilter struct {
	TenantID       string
	SubscriptionID string
	Status         DeliveryStatus
	Limit          int
	Offset         int
}
