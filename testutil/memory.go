// Package testutil holds in-memory repositories and fixtures for service and
// handler tests. The repositories honor the same sentinel errors and
// uniqueness rules as the gorm stores.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alexlim7/madate-vault-sub000/models"
	"github.com/alexlim7/madate-vault-sub000/stores"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type txKey struct{}

// MemoryDB is shared state behind the in-memory repositories. Transactions
// are serialized and roll back to a snapshot when fn returns an error.
type MemoryDB struct {
	txMu sync.Mutex
	mu   sync.Mutex

	authorizations map[string]models.Authorization
	ledger         map[string]models.InboundEventRecord
	subscriptions  map[string]models.WebhookSubscription
	attempts       map[string]models.DeliveryAttempt
	audit          []models.AuditLog
	tenants        map[string]models.Tenant

	Authorizations *MemoryAuthorizations
	Ledger         *MemoryLedger
	Subscriptions  *MemorySubscriptions
	Deliveries     *MemoryDeliveries
	Audit          *MemoryAudit
	Tenants        *MemoryTenants
}

func NewMemoryDB() *MemoryDB {
	db := &MemoryDB{
		authorizations: make(map[string]models.Authorization),
		ledger:         make(map[string]models.InboundEventRecord),
		subscriptions:  make(map[string]models.WebhookSubscription),
		attempts:       make(map[string]models.DeliveryAttempt),
		tenants:        make(map[string]models.Tenant),
	}
	db.Authorizations = &MemoryAuthorizations{db: db}
	db.Ledger = &MemoryLedger{db: db}
	db.Subscriptions = &MemorySubscriptions{db: db}
	db.Deliveries = &MemoryDeliveries{db: db}
	db.Audit = &MemoryAudit{db: db}
	db.Tenants = &MemoryTenants{db: db}
	return db
}

type snapshot struct {
	authorizations map[string]models.Authorization
	ledger         map[string]models.InboundEventRecord
	subscriptions  map[string]models.WebhookSubscription
	attempts       map[string]models.DeliveryAttempt
	audit          []models.AuditLog
	tenants        map[string]models.Tenant
}

func copyMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (db *MemoryDB) snapshot() snapshot {
	db.mu.Lock()
	defer db.mu.Unlock()
	return snapshot{
		authorizations: copyMap(db.authorizations),
		ledger:         copyMap(db.ledger),
		subscriptions:  copyMap(db.subscriptions),
		attempts:       copyMap(db.attempts),
		audit:          append([]models.AuditLog(nil), db.audit...),
		tenants:        copyMap(db.tenants),
	}
}

func (db *MemoryDB) restore(s snapshot) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.authorizations = s.authorizations
	db.ledger = s.ledger
	db.subscriptions = s.subscriptions
	db.attempts = s.attempts
	db.audit = s.audit
	db.tenants = s.tenants
}

func (db *MemoryDB) WithTransaction(ctx context.Context, fn func(context.Context) error) error {
	if InTransaction(ctx) {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	db.txMu.Lock()
	defer db.txMu.Unlock()

	snap := db.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		db.restore(snap)
		return err
	}
	// A cancelled context rolls the transaction back at commit, as database/sql does.
	if err := ctx.Err(); err != nil {
		db.restore(snap)
		return err
	}
	return nil
}

func InTransaction(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{}).(bool)
	return v
}

func now() time.Time {
	return time.Now().UTC()
}

// MemoryAuthorizations mirrors stores.AuthorizationStore.
type MemoryAuthorizations struct {
	db *MemoryDB
}

func (r *MemoryAuthorizations) Create(ctx context.Context, a *models.Authorization) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	for _, existing := range r.db.authorizations {
		if existing.DeletedAt.Valid {
			continue
		}
		if existing.TenantID == a.TenantID && existing.Protocol == a.Protocol && existing.CorrelationKey == a.CorrelationKey {
			return stores.ErrDuplicateAuthorization
		}
	}
	if err := a.BeforeCreate(nil); err != nil {
		return err
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now()
	}
	a.UpdatedAt = a.CreatedAt
	r.db.authorizations[a.ID] = *a
	return nil
}

func (r *MemoryAuthorizations) Save(ctx context.Context, a *models.Authorization) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	a.UpdatedAt = now()
	r.db.authorizations[a.ID] = *a
	return nil
}

func (r *MemoryAuthorizations) GetByID(ctx context.Context, tenantID, id string) (*models.Authorization, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	a, ok := r.db.authorizations[id]
	if !ok || a.TenantID != tenantID || a.DeletedAt.Valid {
		return nil, stores.ErrNotFound
	}
	return &a, nil
}

func (r *MemoryAuthorizations) FindByCorrelationKey(ctx context.Context, tenantID string, protocol models.Protocol, key string) (*models.Authorization, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, a := range r.db.authorizations {
		if a.DeletedAt.Valid {
			continue
		}
		if a.TenantID == tenantID && a.Protocol == protocol && a.CorrelationKey == key {
			found := a
			return &found, nil
		}
	}
	return nil, stores.ErrNotFound
}

func (r *MemoryAuthorizations) LockByID(ctx context.Context, tenantID, id string) (*models.Authorization, error) {
	return r.GetByID(ctx, tenantID, id)
}

func (r *MemoryAuthorizations) List(ctx context.Context, tenantID string, status models.AuthorizationStatus, limit, offset int) ([]*models.Authorization, int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var out []*models.Authorization
	for _, a := range r.db.authorizations {
		if a.DeletedAt.Valid || a.TenantID != tenantID {
			continue
		}
		if status != "" && a.Status != status {
			continue
		}
		item := a
		out = append(out, &item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), int64(len(out)), nil
}

func (r *MemoryAuthorizations) SoftDelete(ctx context.Context, tenantID, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	a, ok := r.db.authorizations[id]
	if !ok || a.TenantID != tenantID || a.DeletedAt.Valid {
		return stores.ErrNotFound
	}
	a.DeletedAt = gorm.DeletedAt{Time: now(), Valid: true}
	r.db.authorizations[id] = a
	return nil
}

// MemoryLedger mirrors stores.InboundEventStore, including the unique
// event_id constraint.
type MemoryLedger struct {
	db *MemoryDB
}

func (r *MemoryLedger) Insert(ctx context.Context, record *models.InboundEventRecord) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, exists := r.db.ledger[record.EventID]; exists {
		return stores.ErrDuplicateEvent
	}
	if err := record.BeforeCreate(nil); err != nil {
		return err
	}
	r.db.ledger[record.EventID] = *record
	return nil
}

func (r *MemoryLedger) FindByEventID(ctx context.Context, eventID string) (*models.InboundEventRecord, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	record, ok := r.db.ledger[eventID]
	if !ok {
		return nil, stores.ErrNotFound
	}
	return &record, nil
}

func (r *MemoryLedger) Count() int {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return len(r.db.ledger)
}

// MemorySubscriptions mirrors stores.SubscriptionStore.
type MemorySubscriptions struct {
	db *MemoryDB
}

func (r *MemorySubscriptions) Create(ctx context.Context, s *models.WebhookSubscription) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := s.BeforeCreate(nil); err != nil {
		return err
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now()
	}
	s.UpdatedAt = s.CreatedAt
	r.db.subscriptions[s.ID] = *s
	return nil
}

func (r *MemorySubscriptions) GetByID(ctx context.Context, tenantID, id string) (*models.WebhookSubscription, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.subscriptions[id]
	if !ok || s.TenantID != tenantID {
		return nil, stores.ErrNotFound
	}
	return &s, nil
}

func (r *MemorySubscriptions) List(ctx context.Context, tenantID string, activeOnly bool) ([]*models.WebhookSubscription, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*models.WebhookSubscription
	for _, s := range r.db.subscriptions {
		if s.TenantID != tenantID || (activeOnly && !s.IsActive) {
			continue
		}
		item := s
		out = append(out, &item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemorySubscriptions) ListSubscribed(ctx context.Context, tenantID, eventType string) ([]*models.WebhookSubscription, error) {
	all, err := r.List(ctx, tenantID, true)
	if err != nil {
		return nil, err
	}
	var out []*models.WebhookSubscription
	for _, s := range all {
		if s.Subscribes(eventType) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *MemorySubscriptions) Deactivate(ctx context.Context, tenantID, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.subscriptions[id]
	if !ok || s.TenantID != tenantID {
		return stores.ErrNotFound
	}
	s.IsActive = false
	r.db.subscriptions[id] = s
	return nil
}

// MemoryDeliveries mirrors stores.DeliveryStore. State changes after a claim
// only apply to rows still DELIVERING.
type MemoryDeliveries struct {
	db *MemoryDB
}

func (r *MemoryDeliveries) CreateBatch(ctx context.Context, attempts []*models.DeliveryAttempt) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, a := range attempts {
		if err := a.BeforeCreate(nil); err != nil {
			return err
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now()
		}
		a.UpdatedAt = a.CreatedAt
		r.db.attempts[a.ID] = *a
	}
	return nil
}

func (r *MemoryDeliveries) GetByID(ctx context.Context, id string) (*models.DeliveryAttempt, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	a, ok := r.db.attempts[id]
	if !ok {
		return nil, stores.ErrNotFound
	}
	return &a, nil
}

func (r *MemoryDeliveries) ClaimDue(ctx context.Context, at time.Time, limit int) ([]*models.DeliveryAttempt, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var due []models.DeliveryAttempt
	for _, a := range r.db.attempts {
		if a.Status == models.DeliveryStatusPending && !a.ScheduledAt.After(at) {
			due = append(due, a)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledAt.Before(due[j].ScheduledAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]*models.DeliveryAttempt, 0, len(due))
	for _, a := range due {
		lockedAt := at
		a.Status = models.DeliveryStatusDelivering
		a.LockedAt = &lockedAt
		r.db.attempts[a.ID] = a
		item := a
		out = append(out, &item)
	}
	return out, nil
}

func (r *MemoryDeliveries) transition(id string, apply func(a *models.DeliveryAttempt)) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	a, ok := r.db.attempts[id]
	if !ok || a.Status != models.DeliveryStatusDelivering {
		return stores.ErrStaleState
	}
	apply(&a)
	a.LockedAt = nil
	a.UpdatedAt = now()
	r.db.attempts[id] = a
	return nil
}

func (r *MemoryDeliveries) MarkSuccess(ctx context.Context, id string, responseStatus int, at time.Time) error {
	return r.transition(id, func(a *models.DeliveryAttempt) {
		a.Status = models.DeliveryStatusSuccess
		a.ResponseStatus = responseStatus
		a.DeliveredAt = &at
		a.LastError = ""
	})
}

func (r *MemoryDeliveries) Reschedule(ctx context.Context, id string, nextAttempt int, scheduledAt time.Time, lastErr string, responseStatus int) error {
	return r.transition(id, func(a *models.DeliveryAttempt) {
		a.Status = models.DeliveryStatusPending
		a.AttemptNumber = nextAttempt
		a.ScheduledAt = scheduledAt
		a.LastError = lastErr
		a.ResponseStatus = responseStatus
	})
}

func (r *MemoryDeliveries) MarkExhausted(ctx context.Context, id string, lastErr string, responseStatus int) error {
	return r.transition(id, func(a *models.DeliveryAttempt) {
		a.Status = models.DeliveryStatusExhausted
		a.LastError = lastErr
		a.ResponseStatus = responseStatus
	})
}

func (r *MemoryDeliveries) Postpone(ctx context.Context, id string, scheduledAt time.Time, reason string) error {
	return r.transition(id, func(a *models.DeliveryAttempt) {
		a.Status = models.DeliveryStatusPending
		a.ScheduledAt = scheduledAt
		a.LastError = reason
	})
}

func (r *MemoryDeliveries) ResetStuck(ctx context.Context, lockedBefore time.Time) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var n int64
	for id, a := range r.db.attempts {
		if a.Status == models.DeliveryStatusDelivering && a.LockedAt != nil && a.LockedAt.Before(lockedBefore) {
			a.Status = models.DeliveryStatusPending
			a.LockedAt = nil
			r.db.attempts[id] = a
			n++
		}
	}
	return n, nil
}

func (r *MemoryDeliveries) ListRetryable(ctx context.Context, tenantID, subscriptionID string) ([]*models.DeliveryAttempt, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	retried := make(map[string]bool)
	for _, a := range r.db.attempts {
		if a.ParentAttemptID != nil {
			retried[*a.ParentAttemptID] = true
		}
	}
	var out []*models.DeliveryAttempt
	for _, a := range r.db.attempts {
		if a.TenantID == tenantID && a.SubscriptionID == subscriptionID &&
			a.Status == models.DeliveryStatusExhausted && !retried[a.ID] {
			item := a
			out = append(out, &item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryDeliveries) List(ctx context.Context, filter models.DeliveryFilter) ([]*models.DeliveryAttempt, int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*models.DeliveryAttempt
	for _, a := range r.db.attempts {
		if filter.TenantID != "" && a.TenantID != filter.TenantID {
			continue
		}
		if filter.SubscriptionID != "" && a.SubscriptionID != filter.SubscriptionID {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		item := a
		out = append(out, &item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, filter.Limit, filter.Offset), int64(len(out)), nil
}

// All returns every attempt regardless of tenant, oldest first.
func (r *MemoryDeliveries) All() []models.DeliveryAttempt {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := make([]models.DeliveryAttempt, 0, len(r.db.attempts))
	for _, a := range r.db.attempts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// MemoryAudit mirrors stores.AuditStore.
type MemoryAudit struct {
	db *MemoryDB
}

func (r *MemoryAudit) Create(ctx context.Context, log *models.AuditLog) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := log.BeforeCreate(nil); err != nil {
		return err
	}
	r.db.audit = append(r.db.audit, *log)
	return nil
}

func (r *MemoryAudit) List(ctx context.Context, filter models.AuditLogFilter) ([]*models.AuditLog, int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*models.AuditLog
	for i := len(r.db.audit) - 1; i >= 0; i-- {
		l := r.db.audit[i]
		if filter.TenantID != "" && l.TenantID != filter.TenantID {
			continue
		}
		if filter.ResourceID != "" && l.ResourceID != filter.ResourceID {
			continue
		}
		if filter.EventType != "" && string(l.EventType) != filter.EventType {
			continue
		}
		if filter.StartDate != nil && l.Timestamp.Before(*filter.StartDate) {
			continue
		}
		if filter.EndDate != nil && l.Timestamp.After(*filter.EndDate) {
			continue
		}
		out = append(out, &l)
	}
	return page(out, filter.Limit, filter.Offset), int64(len(out)), nil
}

// MemoryTenants mirrors stores.TenantStore.
type MemoryTenants struct {
	db *MemoryDB
}

func (r *MemoryTenants) Create(ctx context.Context, t *models.Tenant) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := t.BeforeCreate(nil); err != nil {
		return err
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now()
	}
	t.UpdatedAt = t.CreatedAt
	r.db.tenants[t.ID] = *t
	return nil
}

func (r *MemoryTenants) Update(ctx context.Context, t *models.Tenant) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.tenants[t.ID]; !ok {
		return stores.ErrNotFound
	}
	t.UpdatedAt = now()
	r.db.tenants[t.ID] = *t
	return nil
}

func (r *MemoryTenants) GetByID(ctx context.Context, id string) (*models.Tenant, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.tenants[id]
	if !ok {
		return nil, stores.ErrNotFound
	}
	return &t, nil
}

func (r *MemoryTenants) GetByAPIKeyHash(ctx context.Context, hash string) (*models.Tenant, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, t := range r.db.tenants {
		if t.APIKeyHash == hash {
			found := t
			return &found, nil
		}
	}
	return nil, stores.ErrNotFound
}

func (r *MemoryTenants) IsActive(ctx context.Context, id string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.tenants[id]
	return ok && t.IsActive, nil
}

func (r *MemoryTenants) List(ctx context.Context, activeOnly bool, limit, offset int) ([]*models.Tenant, int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*models.Tenant
	for _, t := range r.db.tenants {
		if activeOnly && !t.IsActive {
			continue
		}
		item := t
		out = append(out, &item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), int64(len(out)), nil
}

func (r *MemoryTenants) Deactivate(ctx context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.tenants[id]
	if !ok {
		return stores.ErrNotFound
	}
	t.IsActive = false
	r.db.tenants[id] = t
	return nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// NewID returns a fresh UUID string for fixtures.
func NewID() string {
	return uuid.NewString()
}
