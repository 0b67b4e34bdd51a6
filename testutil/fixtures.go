package testutil

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/alexlim7/madate-vault-sub000/models"
	"github.com/alexlim7/madate-vault-sub000/security"
	"github.com/alexlim7/madate-vault-sub000/webhooks"
	"gorm.io/datatypes"
)

const (
	TestInboundSecret = "inbound-test-secret"
	TestIssuer        = "https://issuer.example.com"
)

func MockContext() context.Context {
	return context.Background()
}

func MockContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

func MockTenant() *models.Tenant {
	return &models.Tenant{
		ID:         NewID(),
		Name:       "Test Merchant",
		APIKeyHash: security.HashAPIKey("mvk_test"),
		IsActive:   true,
	}
}

func MockAuthorization(tenantID, tokenID string) *models.Authorization {
	limit := int64(50000)
	expires := time.Now().UTC().Add(24 * time.Hour)
	return &models.Authorization{
		TenantID:       tenantID,
		Protocol:       models.ProtocolACP,
		CorrelationKey: tokenID,
		Issuer:         TestIssuer,
		Subject:        "customer-123",
		Scope:          "payments",
		AmountLimit:    &limit,
		Currency:       "USD",
		ExpiresAt:      &expires,
		Status:         models.AuthorizationStatusActive,
		RawPayload:     datatypes.JSON(`{"token_id":"` + tokenID + `"}`),
	}
}

func MockSubscription(tenantID, url string, eventTypes ...string) *models.WebhookSubscription {
	if len(eventTypes) == 0 {
		eventTypes = []string{models.SubscribeAll}
	}
	return &models.WebhookSubscription{
		TenantID:             tenantID,
		URL:                  url,
		Secret:               "whsec_test",
		SubscribedEventTypes: datatypes.JSONSlice[string](eventTypes),
		IsActive:             true,
		MaxRetries:           3,
		RetryDelaySeconds:    60,
		TimeoutSeconds:       5,
	}
}

// MockEnvelope builds an inbound envelope for an ACP token event.
func MockEnvelope(eventID, eventType, tokenID string, extra map[string]interface{}) map[string]interface{} {
	data := map[string]interface{}{"token_id": tokenID}
	for k, v := range extra {
		data[k] = v
	}
	return map[string]interface{}{
		"event_id":   eventID,
		"event_type": eventType,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"data":       data,
	}
}

// SignedBody encodes v and signs it with secret.
func SignedBody(secret string, v interface{}) ([]byte, string) {
	body, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return body, security.Sign(secret, body)
}

// MemoryCache is a VerdictCache backed by a map.
type MemoryCache struct {
	mu      sync.Mutex
	records map[string]models.InboundEventRecord
	Err     error
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{records: make(map[string]models.InboundEventRecord)}
}

func (c *MemoryCache) Get(ctx context.Context, eventID string) (*models.InboundEventRecord, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, false, c.Err
	}
	r, ok := c.records[eventID]
	if !ok {
		return nil, false, nil
	}
	return &r, true, nil
}

func (c *MemoryCache) Put(ctx context.Context, record *models.InboundEventRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.records[record.EventID] = *record
	return nil
}

// StubSender records deliveries and answers with Respond, or 200 when Respond
// is nil.
type StubSender struct {
	mu         sync.Mutex
	Deliveries []webhooks.Delivery
	Respond    func(d webhooks.Delivery) (webhooks.Result, error)
}

func (s *StubSender) Send(ctx context.Context, d webhooks.Delivery) (webhooks.Result, error) {
	s.mu.Lock()
	s.Deliveries = append(s.Deliveries, d)
	respond := s.Respond
	s.mu.Unlock()

	if respond == nil {
		return webhooks.Result{StatusCode: 200, Duration: time.Millisecond}, nil
	}
	return respond(d)
}

func (s *StubSender) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Deliveries)
}

// FailWith makes every send answer with the given HTTP status.
func FailWith(status int) func(webhooks.Delivery) (webhooks.Result, error) {
	return func(webhooks.Delivery) (webhooks.Result, error) {
		return webhooks.Result{StatusCode: status, Duration: time.Millisecond},
			&webhooks.StatusError{StatusCode: status, Body: "upstream error"}
	}
}
