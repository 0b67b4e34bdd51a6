package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ProcessingStatus string

const (
	ProcessingStatusSuccess ProcessingStatus = "SUCCESS"
	ProcessingStatusFailed  ProcessingStatus = "FAILED"
)

// InboundEventRecord is the idempotency ledger row for one inbound event_id.
// The unique index on event_id is what serializes concurrent duplicates.
type InboundEventRecord struct {
	ID                      string              `json:"id" gorm:"primaryKey;type:uuid"`
	EventID                 string              `json:"event_id" gorm:"not null;uniqueIndex"`
	EventType               string              `json:"event_type" gorm:"not null"`
	TenantID                string              `json:"tenant_id" gorm:"index"`
	Protocol                Protocol            `json:"protocol"`
	CorrelationKey          string              `json:"correlation_key" gorm:"index"`
	ResolvedAuthorizationID *string             `json:"resolved_authorization_id,omitempty" gorm:"type:uuid"`
	AuthorizationStatus     AuthorizationStatus `json:"authorization_status,omitempty"`
	PayloadSnapshot         datatypes.JSON      `json:"payload_snapshot" gorm:"type:jsonb"`
	ProcessingStatus        ProcessingStatus    `json:"processing_status" gorm:"not null"`
	ErrorKind               string              `json:"error_kind,omitempty"`
	ErrorMessage            string              `json:"error_message,omitempty"`
	ProcessedAt             time.Time           `json:"processed_at" gorm:"not null"`
}

func (r *InboundEventRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.ProcessedAt.IsZero() {
		r.ProcessedAt = time.Now().UTC()
	}
	return nil
}

func (r *InboundEventRecord) Succeeded() bool {
	return r.ProcessingStatus == ProcessingStatusSuccess
}

// InboundEnvelope is the body of POST /webhook.
type InboundEnvelope struct {
	EventID   string                 `json:"event_id" validate:"required,max=255"`
	EventType string                 `json:"event_type" validate:"required,max=100"`
	Timestamp *time.Time             `json:"timestamp"`
	Data      map[string]interface{} `json:"data" validate:"required"`
}

func (e *InboundEnvelope) OccurredAt() time.Time {
	if e.Timestamp != nil && !e.Timestamp.IsZero() {
		return e.Timestamp.UTC()
	}
	return time.Now().UTC()
}

func (e *InboundEnvelope) DataString(key string) string {
	if v, ok := e.Data[key].(string); ok {
		return v
	}
	return ""
}

// DataInt64 accepts JSON numbers and numeric strings.
func (e *InboundEnvelope) DataInt64(key string) (int64, bool) {
	switch v := e.Data[key].(type) {
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	}
	return 0, false
}

// InboundResult is what POST /webhook answers with a 200.
type InboundResult struct {
	Status              string              `json:"status"`
	EventID             string              `json:"event_id"`
	EventType           string              `json:"event_type"`
	AuthorizationID     string              `json:"authorization_id,omitempty"`
	AuthorizationStatus AuthorizationStatus `json:"authorization_status,omitempty"`
	ProcessingStatus    ProcessingStatus    `json:"processing_status"`
	Error               string              `json:"error,omitempty"`
	Message             string              `json:"message"`
}

const (
	InboundStatusProcessed        = "processed"
	InboundStatusAlreadyProcessed = "already_processed"
)
