package services

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/alexlim7/madate-vault-sub000/models"
	"github.com/alexlim7/madate-vault-sub000/security"
	"github.com/alexlim7/madate-vault-sub000/testutil"
	"github.com/alexlim7/madate-vault-sub000/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSubscriptionService(t *testing.T, db *testutil.MemoryDB) (*SubscriptionService, security.SecretCipher) {
	t.Helper()
	cipher, err := security.CreateSecretCipher(base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef")))
	require.NoError(t, err)
	return CreateSubscriptionService(db.Subscriptions, CreateAuditService(db.Audit), cipher, DefaultSubscriptionDefaults()), cipher
}

func TestSubscriptionCreate(t *testing.T) {
	db := testutil.NewMemoryDB()
	service, cipher := newSubscriptionService(t, db)
	tenantID := testutil.NewID()

	t.Run("generates and encrypts a secret", func(t *testing.T) {
		resp, err := service.Create(context.Background(), tenantID, "admin", &models.CreateSubscriptionRequest{
			URL:        "https://merchant.example.com/hooks",
			EventTypes: []string{models.EventAuthorizationUsed},
		})
		require.NoError(t, err)
		require.NotEmpty(t, resp.Secret)
		assert.NotEqual(t, resp.Secret, resp.Subscription.Secret)

		plain, err := cipher.Decrypt(resp.Subscription.Secret)
		require.NoError(t, err)
		assert.Equal(t, resp.Secret, plain)

		assert.True(t, resp.Subscription.IsActive)
		assert.Equal(t, 3, resp.Subscription.MaxRetries)
		assert.Equal(t, 60, resp.Subscription.RetryDelaySeconds)
		assert.Equal(t, 30, resp.Subscription.TimeoutSeconds)

		logs, _, err := db.Audit.List(context.Background(), models.AuditLogFilter{ResourceID: resp.Subscription.ID})
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Equal(t, models.AuditResourceSubscription, logs[0].ResourceType)
	})

	t.Run("keeps caller secret and overrides", func(t *testing.T) {
		zero := 0
		resp, err := service.Create(context.Background(), tenantID, "admin", &models.CreateSubscriptionRequest{
			URL:        "https://merchant.example.com/other",
			Secret:     "caller-chosen-secret-value",
			EventTypes: []string{models.SubscribeAll},
			MaxRetries: &zero,
		})
		require.NoError(t, err)
		assert.Equal(t, "caller-chosen-secret-value", resp.Secret)
		assert.Equal(t, 0, resp.Subscription.MaxRetries)
	})

	t.Run("rejects invalid requests", func(t *testing.T) {
		cases := map[string]*models.CreateSubscriptionRequest{
			"missing url":         {EventTypes: []string{models.EventAuthorizationUsed}},
			"non http url":        {URL: "ftp://merchant.example.com", EventTypes: []string{models.EventAuthorizationUsed}},
			"no event types":      {URL: "https://merchant.example.com/hooks"},
			"short caller secret": {URL: "https://merchant.example.com/hooks", Secret: "short", EventTypes: []string{"*"}},
		}
		for name, req := range cases {
			t.Run(name, func(t *testing.T) {
				_, err := service.Create(context.Background(), tenantID, "admin", req)
				assert.Equal(t, utils.KindInvalidPayload, utils.KindFromError(err))
			})
		}
	})
}

func TestSubscriptionDeactivate(t *testing.T) {
	db := testutil.NewMemoryDB()
	service, _ := newSubscriptionService(t, db)
	tenantID := testutil.NewID()

	resp, err := service.Create(context.Background(), tenantID, "admin", &models.CreateSubscriptionRequest{
		URL:        "https://merchant.example.com/hooks",
		EventTypes: []string{models.SubscribeAll},
	})
	require.NoError(t, err)

	assert.ErrorIs(t, service.Deactivate(context.Background(), testutil.NewID(), resp.Subscription.ID, "admin"), utils.ErrNotFound)
	require.NoError(t, service.Deactivate(context.Background(), tenantID, resp.Subscription.ID, "admin"))

	active, err := service.List(context.Background(), tenantID, true)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := service.List(context.Background(), tenantID, false)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.False(t, all[0].IsActive)

	_, err = service.Get(context.Background(), tenantID, testutil.NewID())
	assert.ErrorIs(t, err, utils.ErrNotFound)
}

func TestTenantService(t *testing.T) {
	db := testutil.NewMemoryDB()
	service := CreateTenantService(db.Tenants)
	ctx := context.Background()

	created, err := service.Create(ctx, &models.CreateTenantRequest{Name: "Acme"})
	require.NoError(t, err)
	require.NotEmpty(t, created.APIKey)
	assert.Equal(t, security.HashAPIKey(created.APIKey), created.Tenant.APIKeyHash)

	t.Run("authenticates by api key", func(t *testing.T) {
		tenant, err := service.Authenticate(ctx, created.APIKey)
		require.NoError(t, err)
		assert.Equal(t, created.Tenant.ID, tenant.ID)

		_, err = service.Authenticate(ctx, "mvk_unknown")
		assert.ErrorIs(t, err, utils.ErrUnauthorized)
		_, err = service.Authenticate(ctx, "")
		assert.ErrorIs(t, err, utils.ErrUnauthorized)
	})

	t.Run("directory lookups", func(t *testing.T) {
		active, err := service.IsActive(ctx, created.Tenant.ID)
		require.NoError(t, err)
		assert.True(t, active)

		active, err = service.IsActive(ctx, "not-a-uuid")
		require.NoError(t, err)
		assert.False(t, active)

		active, err = service.IsActive(ctx, testutil.NewID())
		require.NoError(t, err)
		assert.False(t, active)
	})

	t.Run("update", func(t *testing.T) {
		updated, err := service.Update(ctx, created.Tenant.ID, &models.UpdateTenantRequest{
			Name:     "Acme Payments",
			Metadata: map[string]interface{}{"tier": "gold"},
		})
		require.NoError(t, err)
		assert.Equal(t, "Acme Payments", updated.Name)
		assert.Equal(t, "gold", updated.Metadata["tier"])

		_, err = service.Update(ctx, testutil.NewID(), &models.UpdateTenantRequest{Name: "Ghost"})
		assert.ErrorIs(t, err, utils.ErrNotFound)
	})

	t.Run("deactivated tenants are refused", func(t *testing.T) {
		require.NoError(t, service.Deactivate(ctx, created.Tenant.ID))

		active, err := service.IsActive(ctx, created.Tenant.ID)
		require.NoError(t, err)
		assert.False(t, active)

		_, err = service.Authenticate(ctx, created.APIKey)
		assert.ErrorIs(t, err, utils.ErrTenantInactive)

		assert.ErrorIs(t, service.Deactivate(ctx, testutil.NewID()), ErrTenantNotFound)
	})

	t.Run("rejects blank names", func(t *testing.T) {
		_, err := service.Create(ctx, &models.CreateTenantRequest{})
		assert.Equal(t, utils.KindInvalidPayload, utils.KindFromError(err))
	})
}
