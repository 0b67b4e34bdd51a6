package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alexlim7/madate-vault-sub000/models"
	"github.com/alexlim7/madate-vault-sub000/webhooks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorker(f *deliveryFixture, concurrency int) *DeliveryWorker {
	f.engine.now = func() time.Time { return time.Now().UTC() }
	return CreateDeliveryWorker(f.db.Deliveries, f.engine, WorkerConfig{
		PollInterval: 10 * time.Millisecond,
		BatchSize:    10,
		Concurrency:  concurrency,
		StuckAfter:   time.Minute,
	})
}

func countStatus(f *deliveryFixture, status models.DeliveryStatus) int {
	n := 0
	for _, a := range f.db.Deliveries.All() {
		if a.Status == status {
			n++
		}
	}
	return n
}

func TestWorker_DeliversDueAttempts(t *testing.T) {
	f := newDeliveryFixture(t)
	f.subscribe(t, nil)
	for i := 0; i < 5; i++ {
		_, err := f.engine.Enqueue(context.Background(), f.tenantID, models.EventAuthorizationUsed, nil)
		require.NoError(t, err)
	}

	worker := newTestWorker(f, 2)
	require.NoError(t, worker.Start())
	assert.True(t, worker.Running())

	require.Eventually(t, func() bool {
		return countStatus(f, models.DeliveryStatusSuccess) == 5
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, worker.Stop(time.Second))
	assert.False(t, worker.Running())
	assert.Equal(t, 5, f.sender.Count())
}

func TestWorker_LifecycleErrors(t *testing.T) {
	f := newDeliveryFixture(t)
	worker := newTestWorker(f, 1)

	assert.ErrorIs(t, worker.Stop(time.Second), ErrWorkerNotRunning)
	require.NoError(t, worker.Start())
	assert.ErrorIs(t, worker.Start(), ErrWorkerRunning)
	require.NoError(t, worker.Stop(time.Second))
	assert.ErrorIs(t, worker.Stop(time.Second), ErrWorkerNotRunning)
}

func TestWorker_BoundsConcurrency(t *testing.T) {
	f := newDeliveryFixture(t)
	f.subscribe(t, nil)
	for i := 0; i < 8; i++ {
		_, err := f.engine.Enqueue(context.Background(), f.tenantID, models.EventAuthorizationUsed, nil)
		require.NoError(t, err)
	}

	var current, peak int32
	f.sender.Respond = func(webhooks.Delivery) (webhooks.Result, error) {
		n := atomic.AddInt32(&current, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&current, -1)
		return webhooks.Result{StatusCode: 200}, nil
	}

	worker := newTestWorker(f, 3)
	require.NoError(t, worker.Start())
	require.Eventually(t, func() bool {
		return countStatus(f, models.DeliveryStatusSuccess) == 8
	}, 3*time.Second, 10*time.Millisecond)
	require.NoError(t, worker.Stop(time.Second))

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestWorker_ResetsStuckAttemptsOnStart(t *testing.T) {
	f := newDeliveryFixture(t)
	sub := f.subscribe(t, nil)
	lockedAt := time.Now().UTC().Add(-time.Hour)
	stuck := &models.DeliveryAttempt{
		TenantID:       f.tenantID,
		SubscriptionID: sub.ID,
		EventID:        "evt_stuck",
		EventType:      models.EventAuthorizationUsed,
		Payload:        []byte(`{"id":"evt_stuck"}`),
		AttemptNumber:  2,
		Status:         models.DeliveryStatusDelivering,
		ScheduledAt:    lockedAt,
		LockedAt:       &lockedAt,
	}
	require.NoError(t, f.db.Deliveries.CreateBatch(context.Background(), []*models.DeliveryAttempt{stuck}))

	worker := newTestWorker(f, 1)
	require.NoError(t, worker.Start())
	require.Eventually(t, func() bool {
		a, err := f.db.Deliveries.GetByID(context.Background(), stuck.ID)
		return err == nil && a.Status == models.DeliveryStatusSuccess
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, worker.Stop(time.Second))
}

func TestWorker_StopDrainsOrTimesOut(t *testing.T) {
	f := newDeliveryFixture(t)
	f.subscribe(t, nil)
	_, err := f.engine.Enqueue(context.Background(), f.tenantID, models.EventAuthorizationUsed, nil)
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.sender.Respond = func(webhooks.Delivery) (webhooks.Result, error) {
		once.Do(func() { close(started) })
		<-release
		return webhooks.Result{StatusCode: 200}, nil
	}

	worker := newTestWorker(f, 1)
	require.NoError(t, worker.Start())
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery never started")
	}

	assert.Error(t, worker.Stop(50*time.Millisecond))

	close(release)
	require.Eventually(t, func() bool {
		return countStatus(f, models.DeliveryStatusSuccess) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorker_DrainCompletesInFlightDelivery(t *testing.T) {
	f := newDeliveryFixture(t)
	f.subscribe(t, nil)
	_, err := f.engine.Enqueue(context.Background(), f.tenantID, models.EventAuthorizationUsed, nil)
	require.NoError(t, err)

	started := make(chan struct{})
	f.sender.Respond = func(webhooks.Delivery) (webhooks.Result, error) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		return webhooks.Result{StatusCode: 200}, nil
	}

	worker := newTestWorker(f, 1)
	require.NoError(t, worker.Start())
	<-started

	require.NoError(t, worker.Stop(2*time.Second))
	assert.Equal(t, 1, countStatus(f, models.DeliveryStatusSuccess))
}

// unsettledOnce fails the first Execute without touching the attempt row,
// leaving it DELIVERING the way a failed settle write does.
type unsettledOnce struct {
	next  attemptExecutor
	calls int32
}

func (u *unsettledOnce) Execute(ctx context.Context, attempt *models.DeliveryAttempt) error {
	if atomic.AddInt32(&u.calls, 1) == 1 {
		return errors.New("failed to update delivery attempt: connection reset by peer")
	}
	return u.next.Execute(ctx, attempt)
}

func TestWorker_ReleasesAttemptStrandedWhileRunning(t *testing.T) {
	f := newDeliveryFixture(t)
	f.engine.now = func() time.Time { return time.Now().UTC() }
	f.subscribe(t, nil)
	_, err := f.engine.Enqueue(context.Background(), f.tenantID, models.EventAuthorizationUsed, nil)
	require.NoError(t, err)

	executor := &unsettledOnce{next: f.engine}
	worker := CreateDeliveryWorker(f.db.Deliveries, executor, WorkerConfig{
		PollInterval: 10 * time.Millisecond,
		BatchSize:    10,
		Concurrency:  1,
		StuckAfter:   40 * time.Millisecond,
	})
	require.NoError(t, worker.Start())
	defer worker.Stop(time.Second)

	require.Eventually(t, func() bool {
		return countStatus(f, models.DeliveryStatusSuccess) == 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&executor.calls), int32(2))
	assert.Equal(t, 1, f.sender.Count())
}
