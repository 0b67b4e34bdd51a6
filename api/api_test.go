package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alexlim7/madate-vault-sub000/models"
	"github.com/alexlim7/madate-vault-sub000/monitoring"
	"github.com/alexlim7/madate-vault-sub000/security"
	"github.com/alexlim7/madate-vault-sub000/services"
	"github.com/alexlim7/madate-vault-sub000/testutil"
	"github.com/alexlim7/madate-vault-sub000/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAPIKey   = "mvk_test"
	testAdminKey = "admin-secret"
)

type apiFixture struct {
	db     *testutil.MemoryDB
	sender *testutil.StubSender
	tenant *models.Tenant
	auth   *models.Authorization
	router http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	ctx := context.Background()
	db := testutil.NewMemoryDB()

	tenant := testutil.MockTenant()
	require.NoError(t, db.Tenants.Create(ctx, tenant))
	auth := testutil.MockAuthorization(tenant.ID, "tok_123")
	require.NoError(t, db.Authorizations.Create(ctx, auth))

	sender := &testutil.StubSender{}
	audit := services.CreateAuditService(db.Audit)
	tenants := services.CreateTenantService(db.Tenants)
	engine := services.CreateDeliveryEngine(db, db.Subscriptions, db.Deliveries, sender, nil)
	processor := services.CreateInboundProcessor(db, db.Authorizations, db.Ledger, tenants, audit, engine,
		services.DefaultHandlers(), services.InboundConfig{Secret: testutil.TestInboundSecret})

	health := monitoring.CreateHealthService("test")
	health.AddCheck("database", func(context.Context) error { return nil })

	router := NewRouter(RouterDeps{
		Inbound:        processor,
		Authorizations: services.CreateAuthorizationService(db, db.Authorizations, audit, engine, []string{testutil.TestIssuer}),
		Audit:          audit,
		Subscriptions:  services.CreateSubscriptionService(db.Subscriptions, audit, nil, services.DefaultSubscriptionDefaults()),
		Deliveries:     engine,
		Tenants:        tenants,
		Health:         health,
		Webhook:        WebhookConfig{MaxBodyBytes: 1 << 16},
		AdminAPIKey:    testAdminKey,
		MetricsEnabled: true,
		Logger:         utils.NewNopLogger(),
	})

	return &apiFixture{db: db, sender: sender, tenant: tenant, auth: auth, router: router}
}

func (f *apiFixture) do(t *testing.T, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *apiFixture) postEvent(t *testing.T, envelope map[string]interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, sig := testutil.SignedBody(testutil.TestInboundSecret, envelope)
	return f.do(t, http.MethodPost, "/webhook", body, map[string]string{
		"X-Source-Signature": sig,
		"X-Tenant-ID":        f.tenant.ID,
	})
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestWebhook_ProcessesAndDeduplicates(t *testing.T) {
	f := newAPIFixture(t)
	envelope := testutil.MockEnvelope("evt_1", "token.used", "tok_123", map[string]interface{}{"amount": 1200})

	w := f.postEvent(t, envelope)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	first := decodeBody[models.InboundResult](t, w)
	assert.Equal(t, models.InboundStatusProcessed, first.Status)
	assert.Equal(t, f.auth.ID, first.AuthorizationID)
	assert.Equal(t, models.ProcessingStatusSuccess, first.ProcessingStatus)

	w = f.postEvent(t, envelope)
	require.Equal(t, http.StatusOK, w.Code)
	second := decodeBody[models.InboundResult](t, w)
	assert.Equal(t, models.InboundStatusAlreadyProcessed, second.Status)
	assert.Equal(t, first.AuthorizationID, second.AuthorizationID)
	assert.Equal(t, 1, f.db.Ledger.Count())
}

func TestWebhook_Rejections(t *testing.T) {
	f := newAPIFixture(t)
	body, sig := testutil.SignedBody(testutil.TestInboundSecret, testutil.MockEnvelope("evt_2", "token.used", "tok_123", nil))

	tests := []struct {
		name    string
		body    []byte
		headers map[string]string
		status  int
		kind    utils.ErrorKind
	}{
		{
			name:    "missing signature",
			body:    body,
			headers: map[string]string{"X-Tenant-ID": f.tenant.ID},
			status:  http.StatusUnauthorized,
			kind:    utils.KindUnauthorized,
		},
		{
			name:    "signature over different bytes",
			body:    append(append([]byte{}, body...), ' '),
			headers: map[string]string{"X-Tenant-ID": f.tenant.ID, "X-Source-Signature": sig},
			status:  http.StatusUnauthorized,
			kind:    utils.KindUnauthorized,
		},
		{
			name:    "malformed json",
			body:    []byte(`{"event_id":`),
			headers: map[string]string{"X-Tenant-ID": f.tenant.ID, "X-Source-Signature": signOf([]byte(`{"event_id":`))},
			status:  http.StatusUnprocessableEntity,
			kind:    utils.KindInvalidPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/webhook", tt.body, tt.headers)
			assert.Equal(t, tt.status, w.Code)
			resp := decodeBody[utils.ErrorResponse](t, w)
			assert.Equal(t, tt.kind, resp.Error)
		})
	}
	assert.Zero(t, f.db.Ledger.Count())
}

func signOf(body []byte) string {
	return security.Sign(testutil.TestInboundSecret, body)
}

func TestWebhook_UnknownTokenIsNotFound(t *testing.T) {
	f := newAPIFixture(t)

	w := f.postEvent(t, testutil.MockEnvelope("evt_3", "token.used", "tok_missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, utils.KindNotFound, decodeBody[utils.ErrorResponse](t, w).Error)

	w = f.postEvent(t, testutil.MockEnvelope("evt_3", "token.used", "tok_missing", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	replay := decodeBody[models.InboundResult](t, w)
	assert.Equal(t, models.InboundStatusAlreadyProcessed, replay.Status)
	assert.Equal(t, models.ProcessingStatusFailed, replay.ProcessingStatus)
}

func TestGetEvent(t *testing.T) {
	f := newAPIFixture(t)
	require.Equal(t, http.StatusOK, f.postEvent(t, testutil.MockEnvelope("evt_4", "token.revoked", "tok_123", nil)).Code)

	w := f.do(t, http.MethodGet, "/events/evt_4", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodGet, "/events/evt_4", nil, map[string]string{"X-API-Key": testAPIKey})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	record := decodeBody[models.InboundEventRecord](t, w)
	assert.Equal(t, "token.revoked", record.EventType)
	assert.Equal(t, models.ProcessingStatusSuccess, record.ProcessingStatus)

	w = f.do(t, http.MethodGet, "/events/evt_unknown", nil, map[string]string{"X-API-Key": testAPIKey})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuthorizationRoutes(t *testing.T) {
	f := newAPIFixture(t)
	auth := map[string]string{"X-API-Key": testAPIKey}

	w := f.do(t, http.MethodGet, "/api/v1/authorizations/"+f.auth.ID, nil, auth)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, f.auth.ID, decodeBody[models.Authorization](t, w).ID)

	w = f.do(t, http.MethodPost, "/api/v1/authorizations/"+f.auth.ID+"/revoke", []byte(`{"reason":"customer request"}`), auth)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.AuthorizationStatusRevoked, decodeBody[models.Authorization](t, w).Status)

	w = f.do(t, http.MethodPost, "/api/v1/authorizations/"+f.auth.ID+"/revoke", []byte(`{"reason":"again"}`), auth)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/authorizations/"+f.auth.ID+"/revoke", []byte(`{"reason":"x","extra":1}`), auth)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/authorizations/"+f.auth.ID+"/audit", nil, auth)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Greater(t, decodeBody[ListResponse](t, w).Total, int64(0))

	w = f.do(t, http.MethodGet, "/api/v1/audit?start_date=yesterday", nil, auth)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestSubscriptionRoutes(t *testing.T) {
	f := newAPIFixture(t)
	auth := map[string]string{"X-API-Key": testAPIKey}

	w := f.do(t, http.MethodPost, "/api/v1/subscriptions",
		[]byte(`{"url":"https://merchant.example.com/hook","event_types":["authorization.used"]}`), auth)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decodeBody[models.CreateSubscriptionResponse](t, w)
	assert.NotEmpty(t, created.Secret)

	subPath := "/api/v1/subscriptions/" + created.Subscription.ID
	w = f.do(t, http.MethodPost, subPath+"/test", nil, auth)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	queued := decodeBody[models.DeliveryAttempt](t, w)
	assert.Equal(t, models.EventWebhookTest, queued.EventType)
	assert.Equal(t, models.DeliveryStatusPending, queued.Status)

	w = f.do(t, http.MethodGet, subPath+"/deliveries", nil, auth)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), decodeBody[ListResponse](t, w).Total)

	w = f.do(t, http.MethodDelete, subPath, nil, auth)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestAdminTenantRoutes(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/admin/tenants", []byte(`{"name":"Acme"}`), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	admin := map[string]string{"X-Admin-Key": testAdminKey}
	w = f.do(t, http.MethodPost, "/admin/tenants", []byte(`{"name":"Acme"}`), admin)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decodeBody[models.CreateTenantResponse](t, w)
	require.NotEmpty(t, created.APIKey)

	w = f.do(t, http.MethodGet, "/api/v1/authorizations", nil, map[string]string{"X-API-Key": created.APIKey})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(0), decodeBody[ListResponse](t, w).Total)

	w = f.do(t, http.MethodDelete, "/admin/tenants/"+created.Tenant.ID, nil, admin)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/authorizations", nil, map[string]string{"X-API-Key": created.APIKey})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	w = f.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/nowhere", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
