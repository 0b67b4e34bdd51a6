package services

import (
	"context"
	"errors"

	"github.com/alexlim7/madate-vault-sub000/models"
	"github.com/alexlim7/madate-vault-sub000/security"
	"github.com/alexlim7/madate-vault-sub000/stores"
	"github.com/alexlim7/madate-vault-sub000/utils"
	"gorm.io/datatypes"
)

type SubscriptionDefaults struct {
	MaxRetries        int
	RetryDelaySeconds int
	TimeoutSeconds    int
}

func DefaultSubscriptionDefaults() SubscriptionDefaults {
	return SubscriptionDefaults{MaxRetries: 3, RetryDelaySeconds: 60, TimeoutSeconds: 30}
}

type SubscriptionService struct {
	store    SubscriptionRepository
	audit    *AuditService
	secrets  security.SecretCipher
	defaults SubscriptionDefaults
	logger   *utils.Logger
}

func CreateSubscriptionService(store SubscriptionRepository, audit *AuditService, secrets security.SecretCipher, defaults SubscriptionDefaults) *SubscriptionService {
	if secrets == nil {
		secrets = security.PlaintextCipher{}
	}
	return &SubscriptionService{
		store:    store,
		audit:    audit,
		secrets:  secrets,
		defaults: defaults,
		logger:   utils.NewLogger("subscriptions"),
	}
}

// Create registers a subscription. The plaintext secret is returned once; the
// stored copy is encrypted.
func (s *SubscriptionService) Create(ctx context.Context, tenantID, actorID string, req *models.CreateSubscriptionRequest) (*models.CreateSubscriptionResponse, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}

	secret := req.Secret
	if secret == "" {
		generated, err := security.GenerateSecret()
		if err != nil {
			return nil, err
		}
		secret = generated
	}
	sealed, err := s.secrets.Encrypt(secret)
	if err != nil {
		return nil, utils.WrapError(err, "failed to encrypt subscription secret")
	}

	sub := &models.WebhookSubscription{
		TenantID:             tenantID,
		URL:                  req.URL,
		Secret:               sealed,
		SubscribedEventTypes: datatypes.JSONSlice[string](req.EventTypes),
		IsActive:             true,
		MaxRetries:           intOr(req.MaxRetries, s.defaults.MaxRetries),
		RetryDelaySeconds:    intOr(req.RetryDelaySeconds, s.defaults.RetryDelaySeconds),
		TimeoutSeconds:       intOr(req.TimeoutSeconds, s.defaults.TimeoutSeconds),
	}
	if err := s.store.Create(ctx, sub); err != nil {
		return nil, utils.WrapError(err, "failed to create subscription")
	}

	if err := s.audit.LogEvent(ctx, models.AuditEventCreated, models.AuditResourceSubscription, sub.ID, tenantID, actorID, map[string]interface{}{
		"url":         sub.URL,
		"event_types": req.EventTypes,
	}); err != nil {
		s.logger.Warn(ctx, "Subscription created without audit entry", map[string]interface{}{"subscription_id": sub.ID})
	}

	return &models.CreateSubscriptionResponse{Subscription: sub, Secret: secret}, nil
}

func (s *SubscriptionService) Get(ctx context.Context, tenantID, id string) (*models.WebhookSubscription, error) {
	sub, err := s.store.GetByID(ctx, tenantID, id)
	if errors.Is(err, stores.ErrNotFound) {
		return nil, utils.ErrSubscriptionNotFound
	}
	return sub, err
}

func (s *SubscriptionService) List(ctx context.Context, tenantID string, activeOnly bool) ([]*models.WebhookSubscription, error) {
	return s.store.List(ctx, tenantID, activeOnly)
}

// Deactivate stops future fan-out to the subscription. Attempts already
// queued are exhausted when the worker picks them up.
func (s *SubscriptionService) Deactivate(ctx context.Context, tenantID, id, actorID string) error {
	err := s.store.Deactivate(ctx, tenantID, id)
	if errors.Is(err, stores.ErrNotFound) {
		return utils.ErrSubscriptionNotFound
	}
	if err != nil {
		return err
	}
	if err := s.audit.LogEvent(ctx, models.AuditEventDeleted, models.AuditResourceSubscription, id, tenantID, actorID, nil); err != nil {
		s.logger.Warn(ctx, "Subscription deactivated without audit entry", map[string]interface{}{"subscription_id": id})
	}
	return nil
}

func intOr(v *int, fallback int) int {
	if v == nil {
		return fallback
	}
	return *v
}
