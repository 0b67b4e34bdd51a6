package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alexlim7/madate-vault-sub000/models"
	"github.com/alexlim7/madate-vault-sub000/monitoring"
	"github.com/alexlim7/madate-vault-sub000/resilience"
	"github.com/alexlim7/madate-vault-sub000/security"
	"github.com/alexlim7/madate-vault-sub000/stores"
	"github.com/alexlim7/madate-vault-sub000/utils"
	"github.com/alexlim7/madate-vault-sub000/webhooks"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	maxLastErrorLength = 1000

	defaultDeliveryLimit = 50
	maxDeliveryLimit     = 500
)

// DeliveryEngine owns outbound webhook attempts. Enqueue writes attempts in
// the caller's transaction; Execute performs one HTTP call and moves the
// attempt to its next state.
type DeliveryEngine struct {
	tx            Transactor
	subscriptions SubscriptionRepository
	attempts      DeliveryRepository
	sender        WebhookSender
	secrets       security.SecretCipher
	breakers      *resilience.CircuitBreakers
	logger        *utils.Logger
	now           func() time.Time
}

func CreateDeliveryEngine(
	tx Transactor,
	subscriptions SubscriptionRepository,
	attempts DeliveryRepository,
	sender WebhookSender,
	secrets security.SecretCipher,
) *DeliveryEngine {
	if secrets == nil {
		secrets = security.PlaintextCipher{}
	}
	return &DeliveryEngine{
		tx:            tx,
		subscriptions: subscriptions,
		attempts:      attempts,
		sender:        sender,
		secrets:       secrets,
		logger:        utils.NewLogger("delivery"),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithCircuitBreakers stops sending to a subscription whose endpoint keeps
// failing. While its circuit is open, claimed attempts are postponed by the
// cooldown and keep their attempt number.
func (e *DeliveryEngine) WithCircuitBreakers(breakers *resilience.CircuitBreakers) *DeliveryEngine {
	e.breakers = breakers
	return e
}

// Enqueue creates one PENDING attempt per active subscription of the tenant
// that listens to eventType. It returns how many attempts were created.
func (e *DeliveryEngine) Enqueue(ctx context.Context, tenantID, eventType string, data map[string]interface{}) (int, error) {
	subs, err := e.subscriptions.ListSubscribed(ctx, tenantID, eventType)
	if err != nil {
		return 0, utils.WrapError(err, "failed to list subscriptions")
	}
	if len(subs) == 0 {
		return 0, nil
	}

	event, payload, err := e.buildEvent(tenantID, eventType, data)
	if err != nil {
		return 0, err
	}

	attempts := make([]*models.DeliveryAttempt, 0, len(subs))
	for _, sub := range subs {
		attempts = append(attempts, e.newAttempt(tenantID, sub.ID, event.ID, eventType, payload, nil))
	}
	if err := e.attempts.CreateBatch(ctx, attempts); err != nil {
		return 0, utils.WrapError(err, "failed to create delivery attempts")
	}

	e.logger.Info(ctx, "Outbound event enqueued", map[string]interface{}{
		"event_id":      event.ID,
		"event_type":    eventType,
		"subscriptions": len(attempts),
	})
	return len(attempts), nil
}

func (e *DeliveryEngine) buildEvent(tenantID, eventType string, data map[string]interface{}) (*models.OutboundEvent, datatypes.JSON, error) {
	if data == nil {
		data = map[string]interface{}{}
	}
	event := &models.OutboundEvent{
		ID:        "evt_" + uuid.NewString(),
		Type:      eventType,
		TenantID:  tenantID,
		CreatedAt: e.now(),
		Data:      data,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode outbound event: %w", err)
	}
	return event, datatypes.JSON(payload), nil
}

func (e *DeliveryEngine) newAttempt(tenantID, subscriptionID, eventID, eventType string, payload datatypes.JSON, parentID *string) *models.DeliveryAttempt {
	return &models.DeliveryAttempt{
		TenantID:        tenantID,
		SubscriptionID:  subscriptionID,
		EventID:         eventID,
		EventType:       eventType,
		Payload:         payload,
		AttemptNumber:   1,
		Status:          models.DeliveryStatusPending,
		ScheduledAt:     e.now(),
		ParentAttemptID: parentID,
	}
}

// lookupRetryDelay postpones an attempt whose subscription could not be read.
const lookupRetryDelay = 30 * time.Second

// Execute sends a claimed (DELIVERING) attempt once. After failed attempt k
// the attempt is rescheduled with attempt_number k+1 while k <= max_retries,
// and EXHAUSTED otherwise. A lost race on the attempt row is not an error.
func (e *DeliveryEngine) Execute(ctx context.Context, attempt *models.DeliveryAttempt) error {
	fields := map[string]interface{}{
		"attempt_id":      attempt.ID,
		"subscription_id": attempt.SubscriptionID,
		"event_id":        attempt.EventID,
		"attempt_number":  attempt.AttemptNumber,
	}

	sub, err := e.subscriptions.GetByID(ctx, attempt.TenantID, attempt.SubscriptionID)
	if errors.Is(err, stores.ErrNotFound) || (err == nil && !sub.IsActive) {
		return e.settle(ctx, attempt, "exhausted", e.attempts.MarkExhausted(ctx, attempt.ID, "subscription inactive or deleted", 0))
	}
	if err != nil {
		fields["error"] = err
		e.logger.Warn(ctx, "Subscription lookup failed, postponing delivery", fields)
		reason := truncate("subscription lookup failed: " + err.Error())
		if settleErr := e.settle(ctx, attempt, "postponed", e.attempts.Postpone(ctx, attempt.ID, e.now().Add(lookupRetryDelay), reason)); settleErr != nil {
			return settleErr
		}
		return utils.WrapError(err, "failed to load subscription")
	}

	secret, err := e.secrets.Decrypt(sub.Secret)
	if err != nil {
		return e.settle(ctx, attempt, "exhausted", e.attempts.MarkExhausted(ctx, attempt.ID, "subscription secret unreadable", 0))
	}
	body, err := webhooks.Canonicalize(attempt.Payload)
	if err != nil {
		return e.settle(ctx, attempt, "exhausted", e.attempts.MarkExhausted(ctx, attempt.ID, truncate(err.Error()), 0))
	}

	if e.breakers != nil && !e.breakers.Allow(sub.ID) {
		e.logger.Debug(ctx, "Subscription circuit open, postponing delivery", fields)
		return e.settle(ctx, attempt, "postponed", e.attempts.Postpone(ctx, attempt.ID, e.now().Add(e.breakers.Cooldown()), "circuit open"))
	}

	res, sendErr := e.sender.Send(ctx, webhooks.Delivery{
		URL:     sub.URL,
		Secret:  secret,
		EventID: attempt.EventID,
		Payload: body,
		Timeout: sub.Timeout(),
	})
	monitoring.DeliveryDuration.Observe(res.Duration.Seconds())
	if e.breakers != nil {
		e.breakers.Record(sub.ID, sendErr)
	}
	fields["response_status"] = res.StatusCode

	if sendErr == nil {
		e.logger.Info(ctx, "Webhook delivered", fields)
		return e.settle(ctx, attempt, "success", e.attempts.MarkSuccess(ctx, attempt.ID, res.StatusCode, e.now()))
	}

	fields["error"] = sendErr
	k := attempt.AttemptNumber
	if k <= sub.MaxRetries {
		delay := utils.BackoffDelay(time.Duration(sub.RetryDelaySeconds)*time.Second, k)
		fields["retry_in"] = delay.String()
		e.logger.Warn(ctx, "Webhook delivery failed, rescheduling", fields)
		return e.settle(ctx, attempt, "retry", e.attempts.Reschedule(ctx, attempt.ID, k+1, e.now().Add(delay), truncate(sendErr.Error()), res.StatusCode))
	}

	e.logger.Error(ctx, "Webhook delivery exhausted", fields)
	return e.settle(ctx, attempt, "exhausted", e.attempts.MarkExhausted(ctx, attempt.ID, truncate(sendErr.Error()), res.StatusCode))
}

func (e *DeliveryEngine) settle(ctx context.Context, attempt *models.DeliveryAttempt, result string, err error) error {
	if errors.Is(err, stores.ErrStaleState) {
		e.logger.Warn(ctx, "Delivery attempt changed state concurrently", map[string]interface{}{"attempt_id": attempt.ID})
		return nil
	}
	if err != nil {
		return utils.WrapError(err, "failed to update delivery attempt")
	}
	monitoring.DeliveryAttemptsTotal.WithLabelValues(attempt.EventType, result).Inc()
	return nil
}

// RetryFailed starts a fresh attempt cycle for every EXHAUSTED attempt of the
// subscription that has not been retried yet. The exhausted rows are kept.
func (e *DeliveryEngine) RetryFailed(ctx context.Context, tenantID, subscriptionID string) (int, error) {
	sub, err := e.subscription(ctx, tenantID, subscriptionID)
	if err != nil {
		return 0, err
	}
	if !sub.IsActive {
		return 0, utils.ErrConflict.WithMessage("Subscription is not active")
	}

	if e.breakers != nil {
		e.breakers.Reset(subscriptionID)
	}

	created := 0
	err = e.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		exhausted, err := e.attempts.ListRetryable(txCtx, tenantID, subscriptionID)
		if err != nil {
			return err
		}
		if len(exhausted) == 0 {
			return nil
		}
		fresh := make([]*models.DeliveryAttempt, 0, len(exhausted))
		for _, old := range exhausted {
			parentID := old.ID
			fresh = append(fresh, e.newAttempt(tenantID, subscriptionID, old.EventID, old.EventType, old.Payload, &parentID))
		}
		created = len(fresh)
		return e.attempts.CreateBatch(txCtx, fresh)
	})
	if err != nil {
		return 0, utils.WrapError(err, "failed to retry deliveries")
	}

	e.logger.Info(ctx, "Manual delivery retry scheduled", map[string]interface{}{
		"subscription_id": subscriptionID,
		"attempts":        created,
	})
	return created, nil
}

// SendTest queues a webhook.test event for one subscription regardless of its
// event type filter.
func (e *DeliveryEngine) SendTest(ctx context.Context, tenantID, subscriptionID string) (*models.DeliveryAttempt, error) {
	sub, err := e.subscription(ctx, tenantID, subscriptionID)
	if err != nil {
		return nil, err
	}
	if !sub.IsActive {
		return nil, utils.ErrConflict.WithMessage("Subscription is not active")
	}

	event, payload, err := e.buildEvent(tenantID, models.EventWebhookTest, map[string]interface{}{
		"subscription_id": sub.ID,
		"message":         "This is a test event",
	})
	if err != nil {
		return nil, err
	}
	attempt := e.newAttempt(tenantID, sub.ID, event.ID, event.Type, payload, nil)
	if err := e.attempts.CreateBatch(ctx, []*models.DeliveryAttempt{attempt}); err != nil {
		return nil, utils.WrapError(err, "failed to create test delivery")
	}
	return attempt, nil
}

func (e *DeliveryEngine) History(ctx context.Context, filter models.DeliveryFilter) ([]*models.DeliveryAttempt, int64, error) {
	if filter.SubscriptionID != "" {
		if _, err := e.subscription(ctx, filter.TenantID, filter.SubscriptionID); err != nil {
			return nil, 0, err
		}
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultDeliveryLimit
	}
	if filter.Limit > maxDeliveryLimit {
		filter.Limit = maxDeliveryLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return e.attempts.List(ctx, filter)
}

func (e *DeliveryEngine) subscription(ctx context.Context, tenantID, id string) (*models.WebhookSubscription, error) {
	sub, err := e.subscriptions.GetByID(ctx, tenantID, id)
	if errors.Is(err, stores.ErrNotFound) {
		return nil, utils.ErrSubscriptionNotFound
	}
	return sub, err
}

func truncate(s string) string {
	if len(s) <= maxLastErrorLength {
		return s
	}
	return s[:maxLastErrorLength]
}
