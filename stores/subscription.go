package stores

import (
	"context"

	"github.com/alexlim7/madate-vault-sub000/models"
	"gorm.io/gorm"
)

type SubscriptionStore struct {
	BaseStore
}

func CreateSubscriptionStore(db *gorm.DB) *SubscriptionStore {
	return &SubscriptionStore{BaseStore: BaseStore{db: db}}
}

func (s *SubscriptionStore) Create(ctx context.Context, subscription *models.WebhookSubscription) error {
	return s.GetDB(ctx).Create(subscription).Error
}

func (s *SubscriptionStore) GetByID(ctx context.Context, tenantID, id string) (*models.WebhookSubscription, error) {
	var subscription models.WebhookSubscription
	err := s.GetDB(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&subscription).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &subscription, nil
}

func (s *SubscriptionStore) List(ctx context.Context, tenantID string, activeOnly bool) ([]*models.WebhookSubscription, error) {
	var subscriptions []*models.WebhookSubscription
	query := s.GetDB(ctx).Where("tenant_id = ?", tenantID)
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	if err := query.Order("created_at ASC").Find(&subscriptions).Error; err != nil {
		return nil, err
	}
	return subscriptions, nil
}

// ListSubscribed returns the tenant's active subscriptions that accept eventType.
func (s *SubscriptionStore) ListSubscribed(ctx context.Context, tenantID, eventType string) ([]*models.WebhookSubscription, error) {
	all, err := s.List(ctx, tenantID, true)
	if err != nil {
		return nil, err
	}

	matched := make([]*models.WebhookSubscription, 0, len(all))
	for _, sub := range all {
		if sub.Subscribes(eventType) {
			matched = append(matched, sub)
		}
	}
	return matched, nil
}

func (s *SubscriptionStore) Deactivate(ctx context.Context, tenantID, id string) error {
	result := s.GetDB(ctx).Model(&models.WebhookSubscription{}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Update("is_active", false)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
