package stores

import (
	"context"

	"github.com/alexlim7/madate-vault-sub000/models"
	"gorm.io/gorm"
)

// InboundEventStore is the idempotency ledger.
type InboundEventStore struct {
	BaseStore
}

func CreateInboundEventStore(db *gorm.DB) *InboundEventStore {
	return &InboundEventStore{BaseStore: BaseStore{db: db}}
}

// Insert returns ErrDuplicateEvent when event_id is already recorded. Inside a
// transaction that error leaves the transaction aborted; the caller must roll
// back before reading the stored record.
func (s *InboundEventStore) Insert(ctx context.Context, record *models.InboundEventRecord) error {
	if err := s.GetDB(ctx).Create(record).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEvent
		}
		return err
	}
	return nil
}

func (s *InboundEventStore) FindByEventID(ctx context.Context, eventID string) (*models.InboundEventRecord, error) {
	var record models.InboundEventRecord
	if err := s.GetDB(ctx).Where("event_id = ?", eventID).First(&record).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &record, nil
}

