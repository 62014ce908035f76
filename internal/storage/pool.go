package storage

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sevakavakians/kato/internal/kerrors"
)

// Pool wraps a single storage-tier connection with throttled health checks,
// automatic reconnection, and a circuit breaker, in the style of
// connection_pool.py's MongoConnectionPool/QdrantConnectionPool: a health
// check runs at most once per healthCheckInterval, reconnection is
// attempted once consecutive failures exceed reconnectThreshold, and the
// breaker opens (failing fast with CircuitBreakerOpen) once failures reach
// breakerThreshold until cooldown elapses.
type Pool struct {
	name                string
	healthCheckInterval time.Duration
	reconnectThreshold  int
	breakerThreshold    int
	cooldown            time.Duration

	ping      func(ctx context.Context) error
	reconnect func(ctx context.Context) error

	reconnectLimiter *rate.Limiter

	mu                  sync.Mutex
	lastHealthCheck     time.Time
	consecutiveFailures int
	breakerOpenedAt     time.Time
	breakerOpen         bool
}

// PoolOption adjusts defaults set by NewPool.
type PoolOption func(*Pool)

// WithReconnectRate overrides the default reconnect-attempt token bucket
// (one attempt every 2 seconds, burst of 1).
func WithReconnectRate(r rate.Limit, burst int) PoolOption {
	return func(p *Pool) { p.reconnectLimiter = rate.NewLimiter(r, burst) }
}

// NewPool builds a Pool around ping (a lightweight liveness probe, e.g. a
// PING or tiny read) and reconnect (rebuild the underlying client).
func NewPool(name string, healthCheckInterval time.Duration, reconnectThreshold, breakerThreshold int, cooldown time.Duration, ping, reconnect func(context.Context) error, opts ...PoolOption) *Pool {
	p := &Pool{
		name:                name,
		healthCheckInterval: healthCheckInterval,
		reconnectThreshold:  reconnectThreshold,
		breakerThreshold:    breakerThreshold,
		cooldown:            cooldown,
		ping:                ping,
		reconnect:           reconnect,
		reconnectLimiter:    rate.NewLimiter(rate.Every(2*time.Second), 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// EnsureHealthy throttles repeated health checks to healthCheckInterval,
// reconnects after reconnectThreshold consecutive failures, and fails fast
// with kerrors.CircuitBreakerOpen once the breaker has tripped and cooldown
// has not yet elapsed.
func (p *Pool) EnsureHealthy(ctx context.Context) error {
	p.mu.Lock()
	if p.breakerOpen {
		if time.Since(p.breakerOpenedAt) < p.cooldown {
			p.mu.Unlock()
			return kerrors.NewCircuitBreakerOpen(p.name, p.consecutiveFailures, p.breakerThreshold)
		}
		// cooldown elapsed: half-open, allow one probe through below
	}
	if time.Since(p.lastHealthCheck) < p.healthCheckInterval {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	err := p.ping(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastHealthCheck = time.Now()

	if err == nil {
		p.consecutiveFailures = 0
		p.breakerOpen = false
		return nil
	}

	p.consecutiveFailures++
	if p.consecutiveFailures > p.reconnectThreshold && p.reconnectLimiter.Allow() {
		if rerr := p.reconnect(ctx); rerr == nil {
			p.consecutiveFailures = 0
			p.breakerOpen = false
			return nil
		}
	}

	if p.consecutiveFailures >= p.breakerThreshold {
		p.breakerOpen = true
		p.breakerOpenedAt = time.Now()
		return kerrors.NewCircuitBreakerOpen(p.name, p.consecutiveFailures, p.breakerThreshold)
	}
	return kerrors.NewStorageUnavailable(p.name, "health_check", err)
}

// Failures reports the current consecutive-failure count, for diagnostics.
func (p *Pool) Failures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.consecutiveFailures
}

// BreakerOpen reports whether the breaker is currently tripped.
func (p *Pool) BreakerOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.breakerOpen
}
