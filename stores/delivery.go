package stores

import (
	"context"
	"time"

	"github.com/alexlim7/madate-vault-sub000/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/plugin/dbresolver"
)

type DeliveryStore struct {
	BaseStore
}

func CreateDeliveryStore(db *gorm.DB) *DeliveryStore {
	return &DeliveryStore{BaseStore: BaseStore{db: db}}
}

func (s *DeliveryStore) CreateBatch(ctx context.Context, attempts []*models.DeliveryAttempt) error {
	if len(attempts) == 0 {
		return nil
	}
	return s.GetDB(ctx).Create(&attempts).Error
}

func (s *DeliveryStore) GetByID(ctx context.Context, id string) (*models.DeliveryAttempt, error) {
	var attempt models.DeliveryAttempt
	if err := s.GetDB(ctx).First(&attempt, "id = ?", id).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &attempt, nil
}

// ClaimDue moves up to limit due PENDING attempts to DELIVERING and returns
// them. SKIP LOCKED lets several pollers claim disjoint batches.
func (s *DeliveryStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.DeliveryAttempt, error) {
	var claimed []*models.DeliveryAttempt

	err := s.WithTransaction(ctx, func(txCtx context.Context) error {
		db := s.GetDB(txCtx)

		if err := db.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND scheduled_at <= ?", models.DeliveryStatusPending, now).
			Order("scheduled_at ASC").
			Limit(limit).
			Find(&claimed).Error; err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}

		ids := make([]string, len(claimed))
		for i, a := range claimed {
			ids[i] = a.ID
		}

		if err := db.Model(&models.DeliveryAttempt{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"status":    models.DeliveryStatusDelivering,
				"locked_at": now,
			}).Error; err != nil {
			return err
		}

		for _, a := range claimed {
			a.Status = models.DeliveryStatusDelivering
			a.LockedAt = &now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// transition updates an attempt only while it is DELIVERING, so terminal rows
// can never be rewritten.
func (s *DeliveryStore) transition(ctx context.Context, id string, updates map[string]interface{}) error {
	result := s.GetDB(ctx).Model(&models.DeliveryAttempt{}).
		Where("id = ? AND status = ?", id, models.DeliveryStatusDelivering).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStaleState
	}
	return nil
}

func (s *DeliveryStore) MarkSuccess(ctx context.Context, id string, responseStatus int, at time.Time) error {
	return s.transition(ctx, id, map[string]interface{}{
		"status":          models.DeliveryStatusSuccess,
		"response_status": responseStatus,
		"delivered_at":    at,
		"last_error":      "",
		"locked_at":       nil,
	})
}

func (s *DeliveryStore) Reschedule(ctx context.Context, id string, nextAttempt int, scheduledAt time.Time, lastErr string, responseStatus int) error {
	return s.transition(ctx, id, map[string]interface{}{
		"status":          models.DeliveryStatusPending,
		"attempt_number":  nextAttempt,
		"scheduled_at":    scheduledAt,
		"last_error":      lastErr,
		"response_status": responseStatus,
		"locked_at":       nil,
	})
}

func (s *DeliveryStore) MarkExhausted(ctx context.Context, id string, lastErr string, responseStatus int) error {
	return s.transition(ctx, id, map[string]interface{}{
		"status":          models.DeliveryStatusExhausted,
		"last_error":      lastErr,
		"response_status": responseStatus,
		"locked_at":       nil,
	})
}

// Postpone puts a claimed attempt back to PENDING at scheduledAt without
// counting it as an attempt.
func (s *DeliveryStore) Postpone(ctx context.Context, id string, scheduledAt time.Time, reason string) error {
	return s.transition(ctx, id, map[string]interface{}{
		"status":       models.DeliveryStatusPending,
		"scheduled_at": scheduledAt,
		"last_error":   reason,
		"locked_at":    nil,
	})
}

// ResetStuck returns attempts left DELIVERING by a crashed worker to PENDING.
func (s *DeliveryStore) ResetStuck(ctx context.Context, lockedBefore time.Time) (int64, error) {
	result := s.GetDB(ctx).Model(&models.DeliveryAttempt{}).
		Where("status = ? AND locked_at < ?", models.DeliveryStatusDelivering, lockedBefore).
		Updates(map[string]interface{}{
			"status":    models.DeliveryStatusPending,
			"locked_at": nil,
		})
	return result.RowsAffected, result.Error
}

// ListRetryable returns EXHAUSTED attempts of a subscription that no manual
// retry has picked up yet.
func (s *DeliveryStore) ListRetryable(ctx context.Context, tenantID, subscriptionID string) ([]*models.DeliveryAttempt, error) {
	var attempts []*models.DeliveryAttempt
	err := s.GetDB(ctx).
		Where("tenant_id = ? AND subscription_id = ? AND status = ?", tenantID, subscriptionID, models.DeliveryStatusExhausted).
		Where("NOT EXISTS (SELECT 1 FROM delivery_attempts AS child WHERE child.parent_attempt_id = delivery_attempts.id)").
		Order("created_at ASC").
		Find(&attempts).Error
	if err != nil {
		return nil, err
	}
	return attempts, nil
}

func (s *DeliveryStore) List(ctx context.Context, filter models.DeliveryFilter) ([]*models.DeliveryAttempt, int64, error) {
	var attempts []*models.DeliveryAttempt
	var total int64

	query := s.GetDB(ctx).Clauses(dbresolver.Read).Model(&models.DeliveryAttempt{}).
		Where("tenant_id = ?", filter.TenantID)

	if filter.SubscriptionID != "" {
		query = query.Where("subscription_id = ?", filter.SubscriptionID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	if err := query.Order("created_at DESC").Find(&attempts).Error; err != nil {
		return nil, 0, err
	}
	return attempts, total, nil
}
