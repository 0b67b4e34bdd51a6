package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alexlim7/madate-vault-sub000/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventKey(t *testing.T) {
	assert.Equal(t, "inbound:event:evt_1", eventKey("evt_1"))
}

func TestEventCache_UnreachableRedisIsAnError(t *testing.T) {
	r := createRedisCache(RedisConfig{Host: "127.0.0.1", Port: 1, TTL: time.Minute})
	defer r.Close()
	c := CreateEventCache(r)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	record, hit, err := c.Get(ctx, "evt_1")
	assert.Error(t, err)
	assert.False(t, hit)
	assert.Nil(t, record)

	err = c.Put(ctx, &models.InboundEventRecord{EventID: "evt_1", ProcessingStatus: models.ProcessingStatusSuccess})
	assert.Error(t, err)
}

func TestCreateRedisCache_DefaultsTTL(t *testing.T) {
	r := createRedisCache(RedisConfig{Host: "localhost"})
	defer r.Close()

	assert.Equal(t, 24*time.Hour, r.ttl)
	require.NotNil(t, r.Client())
	assert.Equal(t, "localhost:6379", r.Client().Options().Addr)
}
