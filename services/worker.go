package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alexlim7/madate-vault-sub000/models"
	"github.com/alexlim7/madate-vault-sub000/monitoring"
	"github.com/alexlim7/madate-vault-sub000/security"
	"github.com/alexlim7/madate-vault-sub000/utils"
	"golang.org/x/sync/semaphore"
)

var (
	ErrWorkerRunning    = errors.New("delivery worker already running")
	ErrWorkerNotRunning = errors.New("delivery worker not running")
)

type WorkerConfig struct {
	PollInterval  time.Duration
	BatchSize     int
	Concurrency   int
	RatePerSecond float64
	Burst         int
	StuckAfter    time.Duration
}

func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval:  time.Second,
		BatchSize:     50,
		Concurrency:   10,
		RatePerSecond: 10,
		Burst:         5,
		StuckAfter:    5 * time.Minute,
	}
}

type attemptExecutor interface {
	Execute(ctx context.Context, attempt *models.DeliveryAttempt) error
}

// DeliveryWorker polls for due attempts and runs them with bounded
// concurrency. Start and Stop are the only lifecycle controls; all delivery
// state lives in the store, so a crashed worker loses nothing but time.
type DeliveryWorker struct {
	attempts DeliveryRepository
	engine   attemptExecutor
	config   WorkerConfig
	sem      *semaphore.Weighted
	limiter  *security.RateLimiter
	logger   *utils.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	loopDone chan struct{}
	inflight sync.WaitGroup
}

func CreateDeliveryWorker(attempts DeliveryRepository, engine attemptExecutor, config WorkerConfig) *DeliveryWorker {
	defaults := DefaultWorkerConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	if config.StuckAfter <= 0 {
		config.StuckAfter = defaults.StuckAfter
	}

	return &DeliveryWorker{
		attempts: attempts,
		engine:   engine,
		config:   config,
		sem:      semaphore.NewWeighted(int64(config.Concurrency)),
		limiter: security.CreateRateLimiter(security.RateLimitConfig{
			RequestsPerSecond: config.RatePerSecond,
			Burst:             config.Burst,
		}),
		logger: utils.NewLogger("delivery-worker"),
	}
}

func (w *DeliveryWorker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancel != nil
}

// Start recovers attempts left DELIVERING by a previous process and launches
// the polling loop. The loop repeats that sweep every StuckAfter/2, so an
// attempt that failed to settle is picked up again without a restart.
func (w *DeliveryWorker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return ErrWorkerRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.releaseStuck(ctx)

	w.cancel = cancel
	w.loopDone = make(chan struct{})
	go w.loop(ctx, w.loopDone)

	w.logger.Info(ctx, "Delivery worker started", map[string]interface{}{
		"poll_interval": w.config.PollInterval.String(),
		"concurrency":   w.config.Concurrency,
		"batch_size":    w.config.BatchSize,
	})
	return nil
}

// Stop halts polling and waits up to timeout for in-flight deliveries.
// Attempts still running at the deadline finish in the background.
func (w *DeliveryWorker) Stop(timeout time.Duration) error {
	w.mu.Lock()
	cancel, loopDone := w.cancel, w.loopDone
	w.cancel = nil
	w.mu.Unlock()

	if cancel == nil {
		return ErrWorkerNotRunning
	}
	cancel()
	<-loopDone

	drained := make(chan struct{})
	go func() {
		w.inflight.Wait()
		close(drained)
	}()

	ctx := context.Background()
	select {
	case <-drained:
		w.limiter.Close()
		w.logger.Info(ctx, "Delivery worker stopped")
		return nil
	case <-time.After(timeout):
		w.logger.Warn(ctx, "Delivery worker stop timed out with deliveries in flight")
		return fmt.Errorf("delivery worker did not drain within %s", timeout)
	}
}

func (w *DeliveryWorker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()
	sweepEvery := w.config.StuckAfter / 2
	if sweepEvery <= 0 {
		sweepEvery = w.config.PollInterval
	}
	sweep := time.NewTicker(sweepEvery)
	defer sweep.Stop()

	for {
		w.poll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			w.releaseStuck(ctx)
		case <-ticker.C:
		}
	}
}

func (w *DeliveryWorker) releaseStuck(ctx context.Context) {
	reset, err := w.attempts.ResetStuck(ctx, time.Now().UTC().Add(-w.config.StuckAfter))
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			w.logger.Warn(ctx, "Failed to reset stuck deliveries", map[string]interface{}{"error": err})
		}
		return
	}
	if reset > 0 {
		monitoring.DeliveriesReleasedTotal.Add(float64(reset))
		w.logger.Info(ctx, "Reset stuck deliveries", map[string]interface{}{"count": reset})
	}
}

// poll claims only as many attempts as there are free slots, so a claimed
// attempt never waits in DELIVERING for a slot.
func (w *DeliveryWorker) poll(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	slots := 0
	for slots < w.config.BatchSize && w.sem.TryAcquire(1) {
		slots++
	}
	if slots == 0 {
		return
	}

	claimed, err := w.attempts.ClaimDue(ctx, time.Now().UTC(), slots)
	if err != nil {
		w.sem.Release(int64(slots))
		if !errors.Is(err, context.Canceled) {
			w.logger.Error(ctx, "Failed to claim due deliveries", map[string]interface{}{"error": err})
		}
		return
	}
	if unused := slots - len(claimed); unused > 0 {
		w.sem.Release(int64(unused))
	}
	if len(claimed) == 0 {
		return
	}
	monitoring.DeliveriesClaimedTotal.Add(float64(len(claimed)))

	// Deliveries outlive the poll loop so Stop can drain them.
	execCtx := context.WithoutCancel(ctx)
	for _, attempt := range claimed {
		w.inflight.Add(1)
		go w.deliver(execCtx, attempt)
	}
}

func (w *DeliveryWorker) deliver(ctx context.Context, attempt *models.DeliveryAttempt) {
	defer w.inflight.Done()
	defer w.sem.Release(1)

	monitoring.DeliveriesInFlight.Inc()
	defer monitoring.DeliveriesInFlight.Dec()

	if err := w.limiter.Wait(ctx, attempt.SubscriptionID); err != nil {
		w.logger.Warn(ctx, "Rate limiter wait failed", map[string]interface{}{"attempt_id": attempt.ID, "error": err})
	}
	if err := w.engine.Execute(ctx, attempt); err != nil {
		w.logger.Error(ctx, "Delivery attempt failed to settle", map[string]interface{}{
			"attempt_id": attempt.ID,
			"error":      err,
		})
	}
}
