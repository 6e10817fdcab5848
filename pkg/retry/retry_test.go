package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func fastConfig() Config {
	return Config{
		Enabled:      true,
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDoSucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		return errBoom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	// first attempt plus MaxAttempts retries
	assert.Equal(t, 3, calls)
}

func TestDoDisabledRunsOnce(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Config{Enabled: false}, func() error {
		calls++
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, calls)
}

func TestDoStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Config{
		Enabled:      true,
		MaxAttempts:  10,
		InitialDelay: time.Hour,
		MaxDelay:     time.Hour,
		Multiplier:   1,
	}, func() error {
		calls++
		cancel()
		return errBoom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDoWithResultReturnsValue(t *testing.T) {
	calls := 0
	got, err := DoWithResult(context.Background(), fastConfig(), func() (string, error) {
		calls++
		if calls == 1 {
			return "", errBoom
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}

func TestDelayForCapsAtMax(t *testing.T) {
	cfg := Config{InitialDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 10}
	assert.Equal(t, time.Second, delayFor(cfg, 0))
	assert.Equal(t, 3*time.Second, delayFor(cfg, 1))
	assert.Equal(t, 3*time.Second, delayFor(cfg, 5))
}
