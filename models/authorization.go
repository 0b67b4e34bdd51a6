package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Protocol string

const (
	ProtocolAP2 Protocol = "AP2"
	ProtocolACP Protocol = "ACP"
)

func (p Protocol) Valid() bool {
	return p == ProtocolAP2 || p == ProtocolACP
}

type AuthorizationStatus string

const (
	AuthorizationStatusActive  AuthorizationStatus = "ACTIVE"
	AuthorizationStatusValid   AuthorizationStatus = "VALID"
	AuthorizationStatusExpired AuthorizationStatus = "EXPIRED"
	AuthorizationStatusRevoked AuthorizationStatus = "REVOKED"
)

type VerificationStatus string

const (
	VerificationStatusUnverified VerificationStatus = "UNVERIFIED"
	VerificationStatusVerified   VerificationStatus = "VERIFIED"
	VerificationStatusFailed     VerificationStatus = "FAILED"
)

var ErrInvalidTransition = errors.New("invalid authorization status transition")

// allowedTransitions is the whole authorization state machine. REVOKED has no
// outgoing edges.
var allowedTransitions = map[AuthorizationStatus][]AuthorizationStatus{
	AuthorizationStatusActive:  {AuthorizationStatusValid, AuthorizationStatusExpired, AuthorizationStatusRevoked},
	AuthorizationStatusValid:   {AuthorizationStatusExpired, AuthorizationStatusRevoked},
	AuthorizationStatusExpired: {AuthorizationStatusRevoked},
	AuthorizationStatusRevoked: {},
}

type Authorization struct {
	ID                 string              `json:"id" gorm:"primaryKey;type:uuid"`
	TenantID           string              `json:"tenant_id" gorm:"type:uuid;not null;uniqueIndex:ux_authorization_correlation,priority:1"`
	Protocol           Protocol            `json:"protocol" gorm:"not null;uniqueIndex:ux_authorization_correlation,priority:2"`
	CorrelationKey     string              `json:"correlation_key" gorm:"not null;uniqueIndex:ux_authorization_correlation,priority:3"`
	Issuer             string              `json:"issuer" gorm:"not null;index"`
	Subject            string              `json:"subject"`
	Scope              string              `json:"scope"`
	AmountLimit        *int64              `json:"amount_limit,omitempty"` // minor units
	Currency           string              `json:"currency"`
	ExpiresAt          *time.Time          `json:"expires_at,omitempty"`
	Status             AuthorizationStatus `json:"status" gorm:"not null;index"`
	RawPayload         datatypes.JSON      `json:"raw_payload,omitempty" gorm:"type:jsonb"`
	VerificationStatus VerificationStatus  `json:"verification_status" gorm:"not null"`
	RevokedAt          *time.Time          `json:"revoked_at,omitempty"`
	RevokeReason       string              `json:"revoke_reason,omitempty"`
	UsageCount         int                 `json:"usage_count" gorm:"not null"`
	LastUsedAt         *time.Time          `json:"last_used_at,omitempty"`
	CreatedAt          time.Time           `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt          time.Time           `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt          gorm.DeletedAt      `json:"-" gorm:"index"`
}

func (a *Authorization) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = AuthorizationStatusActive
	}
	if a.VerificationStatus == "" {
		a.VerificationStatus = VerificationStatusUnverified
	}
	return nil
}

func (a *Authorization) IsRevoked() bool {
	return a.Status == AuthorizationStatusRevoked
}

func (a *Authorization) CanTransition(to AuthorizationStatus) bool {
	for _, next := range allowedTransitions[a.Status] {
		if next == to {
			return true
		}
	}
	return false
}

func (a *Authorization) TransitionTo(to AuthorizationStatus) error {
	if !a.CanTransition(to) {
		return ErrInvalidTransition
	}
	a.Status = to
	return nil
}

// Revoke moves the authorization to REVOKED. revoked_at never precedes created_at,
// even when the sender's clock is behind ours.
func (a *Authorization) Revoke(reason string, at time.Time) error {
	if err := a.TransitionTo(AuthorizationStatusRevoked); err != nil {
		return err
	}
	if at.Before(a.CreatedAt) {
		at = a.CreatedAt
	}
	a.RevokedAt = &at
	a.RevokeReason = reason
	return nil
}

func (a *Authorization) RecordUsage(at time.Time) {
	a.UsageCount++
	a.LastUsedAt = &at
}

// EffectiveStatus reports EXPIRED for a live authorization past its expiry
// without mutating the stored status.
func (a *Authorization) EffectiveStatus(now time.Time) AuthorizationStatus {
	if a.Status == AuthorizationStatusRevoked || a.Status == AuthorizationStatusExpired {
		return a.Status
	}
	if a.ExpiresAt != nil && now.After(*a.ExpiresAt) {
		return AuthorizationStatusExpired
	}
	return a.Status
}

type IngestAuthorizationRequest struct {
	Protocol    Protocol   `json:"protocol" validate:"required,oneof=AP2 ACP"`
	Mandate     string     `json:"mandate,omitempty" validate:"required_if=Protocol AP2"`
	TokenID     string     `json:"token_id,omitempty" validate:"required_if=Protocol ACP"`
	Issuer      string     `json:"issuer,omitempty" validate:"required_if=Protocol ACP"`
	Subject     string     `json:"subject,omitempty"`
	Scope       string     `json:"scope,omitempty"`
	AmountLimit *int64     `json:"amount_limit,omitempty" validate:"omitempty,gte=0"`
	Currency    string     `json:"currency,omitempty" validate:"omitempty,len=3"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

type RevokeAuthorizationRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}
