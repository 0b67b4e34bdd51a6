package cache

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/alexlim7/madate-vault-sub000/models"
	"github.com/redis/go-redis/v9"
)

const eventKeyPrefix = "inbound:event:"

// EventCache keeps recorded inbound verdicts in Redis so repeat deliveries of
// an event_id skip the ledger query. The ledger stays authoritative: a miss or
// a Redis error only means "ask the database".
type EventCache struct {
	redis *RedisCache
}

func CreateEventCache(r *RedisCache) *EventCache {
	return &EventCache{redis: r}
}

func eventKey(eventID string) string {
	return eventKeyPrefix + eventID
}

func (c *EventCache) Get(ctx context.Context, eventID string) (*models.InboundEventRecord, bool, error) {
	raw, err := c.redis.Get(ctx, eventKey(eventID))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var record models.InboundEventRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, false, err
	}
	return &record, true, nil
}

func (c *EventCache) Put(ctx context.Context, record *models.InboundEventRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return c.redis.Set(ctx, eventKey(record.EventID), raw)
}
