package resilience

import (
	"sync"
	"time"
)

type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens a circuit.
	MaxFailures int
	// Cooldown is how long a circuit stays open before it admits probes.
	Cooldown time.Duration
	// HalfOpenMax is the number of successful probes that close it again.
	HalfOpenMax   int
	OnStateChange func(key string, from, to CircuitState)
}

type breaker struct {
	state       CircuitState
	failures    int
	successes   int
	probes      int
	lastFailure time.Time
}

// CircuitBreakers keeps one breaker per key. The delivery engine keys them by
// subscription so a dead endpoint stops receiving traffic without affecting
// other subscribers.
type CircuitBreakers struct {
	config   CircuitBreakerConfig
	breakers map[string]*breaker
	mu       sync.Mutex
	now      func() time.Time
}

func CreateCircuitBreakers(cfg CircuitBreakerConfig) *CircuitBreakers {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	return &CircuitBreakers{
		config:   cfg,
		breakers: make(map[string]*breaker),
		now:      time.Now,
	}
}

func (cb *CircuitBreakers) Cooldown() time.Duration {
	return cb.config.Cooldown
}

// Allow reports whether a call for key may go out. An open circuit past its
// cooldown moves to half-open and admits up to HalfOpenMax probes.
func (cb *CircuitBreakers) Allow(key string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	b := cb.get(key)
	switch b.state {
	case CircuitOpen:
		if cb.now().Sub(b.lastFailure) < cb.config.Cooldown {
			return false
		}
		cb.transition(key, b, CircuitHalfOpen)
		b.probes++
		return true
	case CircuitHalfOpen:
		if b.probes >= cb.config.HalfOpenMax {
			return false
		}
		b.probes++
		return true
	}
	return true
}

// Record feeds the outcome of an admitted call back into key's breaker.
func (cb *CircuitBreakers) Record(key string, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	b := cb.get(key)
	if err != nil {
		b.failures++
		b.lastFailure = cb.now()
		switch b.state {
		case CircuitClosed:
			if b.failures >= cb.config.MaxFailures {
				cb.transition(key, b, CircuitOpen)
			}
		case CircuitHalfOpen:
			cb.transition(key, b, CircuitOpen)
		}
		return
	}

	switch b.state {
	case CircuitClosed:
		b.failures = 0
	case CircuitHalfOpen:
		b.successes++
		if b.probes > 0 {
			b.probes--
		}
		if b.successes >= cb.config.HalfOpenMax {
			cb.transition(key, b, CircuitClosed)
		}
	}
}

func (cb *CircuitBreakers) State(key string) CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if b, ok := cb.breakers[key]; ok {
		return b.state
	}
	return CircuitClosed
}

func (cb *CircuitBreakers) Reset(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	delete(cb.breakers, key)
}

func (cb *CircuitBreakers) get(key string) *breaker {
	b, ok := cb.breakers[key]
	if !ok {
		b = &breaker{state: CircuitClosed}
		cb.breakers[key] = b
	}
	return b
}

func (cb *CircuitBreakers) transition(key string, b *breaker, to CircuitState) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.failures = 0
	b.successes = 0
	b.probes = 0

	if cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(key, from, to)
	}
}
