package services

import (
	"context"
	"time"

	"github.com/alexlim7/madate-vault-sub000/models"
	"github.com/alexlim7/madate-vault-sub000/utils"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// AuditService appends to the audit trail. Writes join the caller's
// transaction when there is one, so an entry commits with the change it
// describes.
type AuditService struct {
	store  AuditRepository
	logger *utils.Logger
}

func CreateAuditService(store AuditRepository) *AuditService {
	return &AuditService{store: store, logger: utils.NewLogger("audit")}
}

func (s *AuditService) LogEvent(ctx context.Context, eventType models.AuditEventType, resource models.AuditResourceType, resourceID, tenantID, actorID string, details map[string]interface{}) error {
	if actorID == "" {
		actorID = models.ActorSystem
	}
	entry := &models.AuditLog{
		EventType:    eventType,
		ResourceType: resource,
		ResourceID:   resourceID,
		TenantID:     tenantID,
		ActorID:      actorID,
		Details:      details,
		Timestamp:    time.Now().UTC(),
	}
	if err := s.store.Create(ctx, entry); err != nil {
		s.logger.Error(ctx, "Failed to write audit entry", map[string]interface{}{
			"event_type":  string(eventType),
			"resource_id": resourceID,
			"error":       err,
		})
		return err
	}
	return nil
}

func (s *AuditService) LogAuthorizationEvent(ctx context.Context, eventType models.AuditEventType, auth *models.Authorization, actorID string, details map[string]interface{}) error {
	return s.LogEvent(ctx, eventType, models.AuditResourceAuthorization, auth.ID, auth.TenantID, actorID, details)
}

// History returns entries newest first.
func (s *AuditService) History(ctx context.Context, filter models.AuditLogFilter) ([]*models.AuditLog, int64, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultAuditLimit
	}
	if filter.Limit > maxAuditLimit {
		filter.Limit = maxAuditLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.store.List(ctx, filter)
}
