package stores

import (
	"context"

	"github.com/alexlim7/madate-vault-sub000/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AuthorizationStore struct {
	BaseStore
}

func CreateAuthorizationStore(db *gorm.DB) *AuthorizationStore {
	return &AuthorizationStore{BaseStore: BaseStore{db: db}}
}

func (s *AuthorizationStore) Create(ctx context.Context, authorization *models.Authorization) error {
	if err := s.GetDB(ctx).Create(authorization).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateAuthorization
		}
		return err
	}
	return nil
}

// Save writes every column of an existing authorization.
func (s *AuthorizationStore) Save(ctx context.Context, authorization *models.Authorization) error {
	return s.GetDB(ctx).Save(authorization).Error
}

func (s *AuthorizationStore) GetByID(ctx context.Context, tenantID, id string) (*models.Authorization, error) {
	var authorization models.Authorization
	err := s.GetDB(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&authorization).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &authorization, nil
}

// FindByCorrelationKey resolves an inbound event to its authorization. Inside a
// transaction the row is locked FOR UPDATE until commit, which serializes
// concurrent events against the same authorization.
func (s *AuthorizationStore) FindByCorrelationKey(ctx context.Context, tenantID string, protocol models.Protocol, key string) (*models.Authorization, error) {
	query := s.GetDB(ctx)
	if InTransaction(ctx) {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var authorization models.Authorization
	err := query.
		Where("tenant_id = ? AND protocol = ? AND correlation_key = ?", tenantID, protocol, key).
		First(&authorization).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &authorization, nil
}

func (s *AuthorizationStore) LockByID(ctx context.Context, tenantID, id string) (*models.Authorization, error) {
	var authorization models.Authorization
	err := s.GetDB(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&authorization).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &authorization, nil
}

func (s *AuthorizationStore) List(ctx context.Context, tenantID string, status models.AuthorizationStatus, limit, offset int) ([]*models.Authorization, int64, error) {
	var authorizations []*models.Authorization
	var total int64

	query := s.GetDB(ctx).Model(&models.Authorization{}).Where("tenant_id = ?", tenantID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	if err := query.Order("created_at DESC").Find(&authorizations).Error; err != nil {
		return nil, 0, err
	}
	return authorizations, total, nil
}

// SoftDelete stamps deleted_at. Rows are never removed.
func (s *AuthorizationStore) SoftDelete(ctx context.Context, tenantID, id string) error {
	result := s.GetDB(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Delete(&models.Authorization{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
