package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditLog is append-only. Nothing in the codebase updates or deletes rows.
type AuditLog struct {
	ID           string            `json:"id" gorm:"primaryKey;type:uuid"`
	EventType    AuditEventType    `json:"event_type" gorm:"not null;index"`
	ResourceType AuditResourceType `json:"resource_type" gorm:"not null"`
	ResourceID   string            `json:"resource_id" gorm:"not null;index"`
	TenantID     string            `json:"tenant_id" gorm:"index"`
	ActorID      string            `json:"actor_id"`
	Details      datatypes.JSONMap `json:"details" gorm:"type:jsonb"`
	Timestamp    time.Time         `json:"timestamp" gorm:"not null;index"`
}

func (l *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.Timestamp.IsZero() {
		l.Timestamp = time.Now().UTC()
	}
	return nil
}

type AuditEventType string

const (
	AuditEventCreated AuditEventType = "CREATED"
	AuditEventUsed    AuditEventType = "USED"
	AuditEventRevoked AuditEventType = "REVOKED"
	AuditEventDeleted AuditEventType = "DELETED"
)

type AuditResourceType string

const (
	AuditResourceAuthorization AuditResourceType = "authorization"
	AuditResourceSubscription  AuditResourceType = "webhook_subscription"
)

const (
	ActorSystem         = "system"
	ActorInboundWebhook = "inbound_webhook"
)

type AuditLogFilter struct {
	TenantID   string
	ResourceID string
	EventType  string
	StartDate  *time.Time
	EndDate    *time.Time
	Limit      int
	Offset     int
}
