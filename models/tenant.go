package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Tenant struct {
	ID         string            `json:"id" gorm:"primaryKey;type:uuid"`
	Name       string            `json:"name" gorm:"not null"`
	APIKeyHash string            `json:"-" gorm:"uniqueIndex;not null"`
	IsActive   bool              `json:"is_active" gorm:"not null"`
	Metadata   datatypes.JSONMap `json:"metadata" gorm:"type:jsonb"`
	CreatedAt  time.Time         `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt  time.Time         `json:"updated_at" gorm:"autoUpdateTime"`
}

func (t *Tenant) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

type CreateTenantRequest struct {
	Name     string                 `json:"name" validate:"required,max=200"`
	Metadata map[string]interface{} `json:"metadata"`
}

// CreateTenantResponse carries the raw API key. It is shown once and only its
// hash is stored.
type CreateTenantResponse struct {
	Tenant *Tenant `json:"tenant"`
	APIKey string  `json:"api_key"`
}

type UpdateTenantRequest struct {
	Name     string                 `json:"name" validate:"omitempty,max=200"`
	IsActive *bool                  `json:"is_active"`
	Metadata map[string]interface{} `json:"metadata"`
}
