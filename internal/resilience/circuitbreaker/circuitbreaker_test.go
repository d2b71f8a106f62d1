package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend down")

func tripConfig(name string) Config {
	return Config{
		Name:           name,
		HalfOpenProbes: 1,
		Cooldown:       50 * time.Millisecond,
		TripRatio:      0.5,
		MinSamples:     2,
	}
}

func TestNew_StartsClosed(t *testing.T) {
	b := New(tripConfig("starts-closed"))

	assert.Equal(t, "starts-closed", b.Name())
	assert.Equal(t, gobreaker.StateClosed, b.State())
	assert.Equal(t, 0.0, testutil.ToFloat64(breakerState.WithLabelValues("starts-closed")))
}

func TestBreaker_ExecuteReturnsResult(t *testing.T) {
	b := New(tripConfig("execute-result"))

	got, err := b.Execute(func() (interface{}, error) { return "ok", nil })

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, uint32(1), b.Counts().TotalSuccesses)
}

func TestBreaker_TripsAtRatioAfterMinSamples(t *testing.T) {
	var transitions []gobreaker.State
	cfg := tripConfig("trip-ratio")
	cfg.OnStateChange = func(_ string, to gobreaker.State) { transitions = append(transitions, to) }
	b := New(cfg)

	assert.ErrorIs(t, b.Do(func() error { return errBackend }), errBackend)
	assert.Equal(t, gobreaker.StateClosed, b.State(), "below MinSamples")

	assert.ErrorIs(t, b.Do(func() error { return errBackend }), errBackend)
	assert.Equal(t, gobreaker.StateOpen, b.State())
	assert.Equal(t, 2.0, testutil.ToFloat64(breakerState.WithLabelValues("trip-ratio")))

	called := false
	err := b.Do(func() error { called = true; return nil })
	assert.False(t, called)
	assert.True(t, IsRejection(err))
	assert.Equal(t, []gobreaker.State{gobreaker.StateOpen}, transitions)
}

func TestBreaker_RecoversAfterCooldown(t *testing.T) {
	b := New(tripConfig("recover"))
	for i := 0; i < 2; i++ {
		_ = b.Do(func() error { return errBackend })
	}
	require.Equal(t, gobreaker.StateOpen, b.State())

	time.Sleep(70 * time.Millisecond)
	assert.Equal(t, gobreaker.StateHalfOpen, b.State())

	require.NoError(t, b.Do(func() error { return nil }))
	assert.Equal(t, gobreaker.StateClosed, b.State())
	assert.Equal(t, 0.0, testutil.ToFloat64(breakerState.WithLabelValues("recover")))
}

func TestIsRejection(t *testing.T) {
	assert.True(t, IsRejection(gobreaker.ErrOpenState))
	assert.True(t, IsRejection(gobreaker.ErrTooManyRequests))
	assert.False(t, IsRejection(errBackend))
	assert.False(t, IsRejection(nil))
}

func TestPresets(t *testing.T) {
	for _, cfg := range []Config{RedisConfig(), PushGatewayConfig(), QueueDBConfig()} {
		t.Run(cfg.Name, func(t *testing.T) {
			assert.NotEmpty(t, cfg.Name)
			assert.Positive(t, cfg.Cooldown)
			assert.Positive(t, cfg.MinSamples)
			assert.InDelta(t, 0.75, cfg.TripRatio, 0.25)
		})
	}
	assert.Less(t, RedisConfig().Cooldown, QueueDBConfig().Cooldown, "request-path tier probes sooner")
}
