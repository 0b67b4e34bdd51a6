package monitoring

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHealthService_GetHealth(t *testing.T) {
	hs := CreateHealthService("test")
	hs.AddCheck("database", func(context.Context) error { return nil })

	health := hs.GetHealth(context.Background())
	assert.Equal(t, Healthy, health.Status)
	assert.Equal(t, "test", health.Version)
	assert.Equal(t, Healthy, health.Checks["database"].Status)

	hs.AddOptionalCheck("redis", func(context.Context) error { return errors.New("dial tcp: refused") })
	health = hs.GetHealth(context.Background())
	assert.Equal(t, Degraded, health.Status)
	assert.Equal(t, "dial tcp: refused", health.Checks["redis"].Error)

	hs.AddCheck("worker", func(context.Context) error { return errors.New("stopped") })
	health = hs.GetHealth(context.Background())
	assert.Equal(t, Unhealthy, health.Status)
}
