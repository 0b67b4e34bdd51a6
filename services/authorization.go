package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/alexlim7/madate-vault-sub000/models"
	"github.com/alexlim7/madate-vault-sub000/security"
	"github.com/alexlim7/madate-vault-sub000/stores"
	"github.com/alexlim7/madate-vault-sub000/utils"
	"gorm.io/datatypes"
)

const (
	defaultAuthorizationLimit = 50
	maxAuthorizationLimit     = 500
)

type AuthorizationService struct {
	tx             Transactor
	store          AuthorizationRepository
	audit          *AuditService
	publisher      EventPublisher
	allowedIssuers map[string]struct{}
	logger         *utils.Logger
	now            func() time.Time
}

func CreateAuthorizationService(tx Transactor, store AuthorizationRepository, audit *AuditService, publisher EventPublisher, allowedIssuers []string) *AuthorizationService {
	var allowed map[string]struct{}
	if len(allowedIssuers) > 0 {
		allowed = make(map[string]struct{}, len(allowedIssuers))
		for _, iss := range allowedIssuers {
			allowed[iss] = struct{}{}
		}
	}
	return &AuthorizationService{
		tx:             tx,
		store:          store,
		audit:          audit,
		publisher:      publisher,
		allowedIssuers: allowed,
		logger:         utils.NewLogger("authorizations"),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Ingest stores a new authorization. AP2 mandates are decoded from their
// JWT-VC without signature verification and are kept UNVERIFIED.
func (s *AuthorizationService) Ingest(ctx context.Context, tenantID, actorID string, req *models.IngestAuthorizationRequest) (*models.Authorization, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}

	auth, err := s.fromRequest(req)
	if err != nil {
		return nil, err
	}
	auth.TenantID = tenantID

	if s.allowedIssuers != nil {
		if _, ok := s.allowedIssuers[auth.Issuer]; !ok {
			return nil, utils.ErrIssuerNotAllowed
		}
	}
	if auth.ExpiresAt != nil && !auth.ExpiresAt.After(s.now()) {
		auth.Status = models.AuthorizationStatusExpired
	}

	err = s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.store.Create(txCtx, auth); err != nil {
			return err
		}
		if err := s.audit.LogAuthorizationEvent(txCtx, models.AuditEventCreated, auth, actorID, map[string]interface{}{
			"protocol":        string(auth.Protocol),
			"correlation_key": auth.CorrelationKey,
			"issuer":          auth.Issuer,
		}); err != nil {
			return err
		}
		return s.publish(txCtx, models.EventAuthorizationCreated, auth, nil)
	})
	if errors.Is(err, stores.ErrDuplicateAuthorization) {
		return nil, utils.ErrConflict.WithMessage("Authorization already exists for this correlation key")
	}
	if err != nil {
		return nil, utils.WrapError(err, "failed to ingest authorization")
	}

	s.logger.Info(ctx, "Authorization ingested", map[string]interface{}{
		"authorization_id": auth.ID,
		"protocol":         string(auth.Protocol),
	})
	return auth, nil
}

func (s *AuthorizationService) fromRequest(req *models.IngestAuthorizationRequest) (*models.Authorization, error) {
	if req.Protocol == models.ProtocolAP2 {
		mandate, err := security.ParseAP2Mandate(req.Mandate)
		if err != nil {
			return nil, utils.ErrInvalidPayload.WithDetails("mandate: " + err.Error())
		}
		raw, err := json.Marshal(map[string]interface{}{
			"mandate": req.Mandate,
			"claims":  mandate.Claims,
		})
		if err != nil {
			return nil, err
		}
		return &models.Authorization{
			Protocol:           models.ProtocolAP2,
			CorrelationKey:     mandate.ID,
			Issuer:             mandate.Issuer,
			Subject:            mandate.Subject,
			Scope:              mandate.Scope,
			AmountLimit:        mandate.AmountLimit,
			Currency:           mandate.Currency,
			ExpiresAt:          mandate.ExpiresAt,
			Status:             models.AuthorizationStatusActive,
			VerificationStatus: models.VerificationStatusUnverified,
			RawPayload:         datatypes.JSON(raw),
		}, nil
	}

	raw, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var expiresAt *time.Time
	if req.ExpiresAt != nil {
		t := req.ExpiresAt.UTC()
		expiresAt = &t
	}
	return &models.Authorization{
		Protocol:           models.ProtocolACP,
		CorrelationKey:     req.TokenID,
		Issuer:             req.Issuer,
		Subject:            req.Subject,
		Scope:              req.Scope,
		AmountLimit:        req.AmountLimit,
		Currency:           strings.ToUpper(req.Currency),
		ExpiresAt:          expiresAt,
		Status:             models.AuthorizationStatusActive,
		VerificationStatus: models.VerificationStatusUnverified,
		RawPayload:         datatypes.JSON(raw),
	}, nil
}

func (s *AuthorizationService) Get(ctx context.Context, tenantID, id string) (*models.Authorization, error) {
	auth, err := s.store.GetByID(ctx, tenantID, id)
	if errors.Is(err, stores.ErrNotFound) {
		return nil, utils.ErrAuthorizationNotFound
	}
	if err != nil {
		return nil, err
	}
	auth.Status = auth.EffectiveStatus(s.now())
	return auth, nil
}

func (s *AuthorizationService) List(ctx context.Context, tenantID string, status models.AuthorizationStatus, limit, offset int) ([]*models.Authorization, int64, error) {
	if limit <= 0 {
		limit = defaultAuthorizationLimit
	}
	if limit > maxAuthorizationLimit {
		limit = maxAuthorizationLimit
	}
	if offset < 0 {
		offset = 0
	}
	auths, total, err := s.store.List(ctx, tenantID, status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	now := s.now()
	for _, a := range auths {
		a.Status = a.EffectiveStatus(now)
	}
	return auths, total, nil
}

// Revoke is the administrative counterpart of an inbound token.revoked event.
// Revoking an already revoked authorization is a conflict.
func (s *AuthorizationService) Revoke(ctx context.Context, tenantID, id, actorID, reason string) (*models.Authorization, error) {
	if err := utils.ValidateStruct(&models.RevokeAuthorizationRequest{Reason: reason}); err != nil {
		return nil, err
	}

	var auth *models.Authorization
	err := s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		auth, err = s.store.LockByID(txCtx, tenantID, id)
		if errors.Is(err, stores.ErrNotFound) {
			return utils.ErrAuthorizationNotFound
		}
		if err != nil {
			return err
		}
		if auth.IsRevoked() {
			return utils.ErrConflict.WithMessage("Authorization already revoked")
		}
		if err := auth.Revoke(reason, s.now()); err != nil {
			return err
		}
		if err := s.store.Save(txCtx, auth); err != nil {
			return err
		}
		if err := s.audit.LogAuthorizationEvent(txCtx, models.AuditEventRevoked, auth, actorID, map[string]interface{}{
			"reason": reason,
		}); err != nil {
			return err
		}
		return s.publish(txCtx, models.EventAuthorizationRevoked, auth, map[string]interface{}{
			"reason":     reason,
			"revoked_at": auth.RevokedAt.Format(time.RFC3339),
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "Authorization revoked", map[string]interface{}{"authorization_id": auth.ID, "actor_id": actorID})
	return auth, nil
}

func (s *AuthorizationService) SoftDelete(ctx context.Context, tenantID, id, actorID string) error {
	return s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		auth, err := s.store.LockByID(txCtx, tenantID, id)
		if errors.Is(err, stores.ErrNotFound) {
			return utils.ErrAuthorizationNotFound
		}
		if err != nil {
			return err
		}
		if err := s.store.SoftDelete(txCtx, tenantID, id); err != nil {
			return err
		}
		return s.audit.LogAuthorizationEvent(txCtx, models.AuditEventDeleted, auth, actorID, nil)
	})
}

func (s *AuthorizationService) publish(ctx context.Context, eventType string, auth *models.Authorization, extra map[string]interface{}) error {
	if s.publisher == nil {
		return nil
	}
	data := map[string]interface{}{
		"authorization_id": auth.ID,
		"protocol":         string(auth.Protocol),
		"status":           string(auth.Status),
		"issuer":           auth.Issuer,
	}
	for k, v := range extra {
		data[k] = v
	}
	_, err := s.publisher.Enqueue(ctx, auth.TenantID, eventType, data)
	return err
}
