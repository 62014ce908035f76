package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevakavakians/kato/internal/kerrors"
)

func TestEnsureHealthyThrottlesRepeatedChecks(t *testing.T) {
	calls := 0
	p := NewPool("test", time.Hour, 3, 5, time.Minute,
		func(ctx context.Context) error { calls++; return nil },
		func(ctx context.Context) error { return nil },
	)

	for i := 0; i < 5; i++ {
		require.NoError(t, p.EnsureHealthy(context.Background()))
	}
	assert.Equal(t, 1, calls, "only the first check should run the ping within the interval")
}

func TestEnsureHealthyReconnectsAfterThreshold(t *testing.T) {
	reconnected := false
	fail := true
	p := NewPool("test", 0, 2, 10, time.Minute,
		func(ctx context.Context) error {
			if fail {
				return errors.New("down")
			}
			return nil
		},
		func(ctx context.Context) error { reconnected = true; fail = false; return nil },
	)

	for i := 0; i < 3; i++ {
		_ = p.EnsureHealthy(context.Background())
	}
	assert.True(t, reconnected)
	assert.Equal(t, 0, p.Failures())
}

func TestEnsureHealthyOpensBreakerAfterThreshold(t *testing.T) {
	p := NewPool("test", 0, 100, 2, time.Hour,
		func(ctx context.Context) error { return errors.New("down") },
		func(ctx context.Context) error { return errors.New("still down") },
	)

	var lastErr error
	for i := 0; i < 3; i++ {
		lastErr = p.EnsureHealthy(context.Background())
	}

	require.Error(t, lastErr)
	var breakerErr *kerrors.CircuitBreakerOpen
	require.ErrorAs(t, lastErr, &breakerErr)
	assert.True(t, p.BreakerOpen())
}

func TestEnsureHealthyFailsFastWhileBreakerOpen(t *testing.T) {
	p := NewPool("test", 0, 100, 1, time.Hour,
		func(ctx context.Context) error { return errors.New("down") },
		func(ctx context.Context) error { return errors.New("still down") },
	)

	_ = p.EnsureHealthy(context.Background())
	require.True(t, p.BreakerOpen())

	err := p.EnsureHealthy(context.Background())
	var breakerErr *kerrors.CircuitBreakerOpen
	require.ErrorAs(t, err, &breakerErr)
}

func TestEnsureHealthyRecoversAfterCooldown(t *testing.T) {
	healthy := false
	p := NewPool("test", 0, 100, 1, 0,
		func(ctx context.Context) error {
			if healthy {
				return nil
			}
			return errors.New("down")
		},
		func(ctx context.Context) error { return errors.New("still down") },
	)

	_ = p.EnsureHealthy(context.Background())
	require.True(t, p.BreakerOpen())

	healthy = true
	require.NoError(t, p.EnsureHealthy(context.Background()))
	assert.False(t, p.BreakerOpen())
}
