package services

import (
	"context"
	"errors"

	"github.com/alexlim7/madate-vault-sub000/models"
	"github.com/alexlim7/madate-vault-sub000/security"
	"github.com/alexlim7/madate-vault-sub000/stores"
	"github.com/alexlim7/madate-vault-sub000/utils"
	"github.com/google/uuid"
)

var (
	ErrTenantNotFound = utils.ErrNotFound.WithMessage("Tenant not found")
	ErrInvalidAPIKey  = utils.ErrUnauthorized.WithMessage("Invalid API key")
)

// TenantService is the tenant directory. API keys are stored as SHA-256
// hashes; the raw key is only ever returned by Create.
type TenantService struct {
	store TenantRepository
}

func CreateTenantService(store TenantRepository) *TenantService {
	return &TenantService{store: store}
}

func (s *TenantService) Create(ctx context.Context, req *models.CreateTenantRequest) (*models.CreateTenantResponse, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}

	apiKey, err := security.GenerateAPIKey()
	if err != nil {
		return nil, err
	}

	tenant := &models.Tenant{
		Name:       req.Name,
		APIKeyHash: security.HashAPIKey(apiKey),
		IsActive:   true,
		Metadata:   req.Metadata,
	}
	if err := s.store.Create(ctx, tenant); err != nil {
		return nil, err
	}

	return &models.CreateTenantResponse{Tenant: tenant, APIKey: apiKey}, nil
}

func (s *TenantService) Update(ctx context.Context, id string, req *models.UpdateTenantRequest) (*models.Tenant, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}

	tenant, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != "" {
		tenant.Name = req.Name
	}
	if req.IsActive != nil {
		tenant.IsActive = *req.IsActive
	}
	if req.Metadata != nil {
		tenant.Metadata = req.Metadata
	}

	if err := s.store.Update(ctx, tenant); err != nil {
		return nil, err
	}
	return tenant, nil
}

func (s *TenantService) GetByID(ctx context.Context, id string) (*models.Tenant, error) {
	tenant, err := s.store.GetByID(ctx, id)
	if errors.Is(err, stores.ErrNotFound) {
		return nil, ErrTenantNotFound
	}
	return tenant, err
}

// Authenticate resolves an API key to an active tenant.
func (s *TenantService) Authenticate(ctx context.Context, apiKey string) (*models.Tenant, error) {
	if apiKey == "" {
		return nil, ErrInvalidAPIKey
	}
	tenant, err := s.store.GetByAPIKeyHash(ctx, security.HashAPIKey(apiKey))
	if errors.Is(err, stores.ErrNotFound) {
		return nil, ErrInvalidAPIKey
	}
	if err != nil {
		return nil, err
	}
	if !tenant.IsActive {
		return nil, utils.ErrTenantInactive
	}
	return tenant, nil
}

// IsActive makes TenantService a TenantDirectory. Unknown tenants and ids
// that are not UUIDs are reported inactive.
func (s *TenantService) IsActive(ctx context.Context, id string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}
	return s.store.IsActive(ctx, id)
}

func (s *TenantService) List(ctx context.Context, activeOnly bool, limit, offset int) ([]*models.Tenant, int64, error) {
	return s.store.List(ctx, activeOnly, limit, offset)
}

func (s *TenantService) Deactivate(ctx context.Context, id string) error {
	err := s.store.Deactivate(ctx, id)
	if errors.Is(err, stores.ErrNotFound) {
		return ErrTenantNotFound
	}
	return err
}
