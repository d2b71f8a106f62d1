// Package circuitbreaker wraps github.com/sony/gobreaker with the presets used
// for the state layer's remote dependencies and exports breaker state as a
// Prometheus gauge.
package circuitbreaker

import (
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
)

// breakerState is 0 closed, 1 half-open, 2 open.
var breakerState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
	},
	[]string{"name"},
)

// Config describes when a breaker trips and how it recovers.
type Config struct {
	Name string

	// HalfOpenProbes is the number of calls let through while half-open.
	HalfOpenProbes uint32

	// Window resets the closed-state counts. Zero keeps counts until a trip.
	Window time.Duration

	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration

	// TripRatio is the failure ratio that opens the breaker once MinSamples
	// calls have been seen in the current window.
	TripRatio  float64
	MinSamples uint32

	// OnStateChange is called after every transition.
	OnStateChange func(name string, to gobreaker.State)

	Logger *slog.Logger
}

// RedisConfig guards the networked state tier. It sits on the request path,
// so it trips early and probes again soon; callers fail open meanwhile.
func RedisConfig() Config {
	return Config{
		Name:           "state-redis",
		HalfOpenProbes: 1,
		Window:         10 * time.Second,
		Cooldown:       5 * time.Second,
		TripRatio:      0.5,
		MinSamples:     10,
	}
}

// PushGatewayConfig guards outbound push deliveries.
func PushGatewayConfig() Config {
	return Config{
		Name:           "push-gateway",
		HalfOpenProbes: 3,
		Window:         time.Minute,
		Cooldown:       30 * time.Second,
		TripRatio:      0.7,
		MinSamples:     10,
	}
}

// QueueDBConfig guards the Postgres notification queue. It only opens when
// every call in the window has failed.
func QueueDBConfig() Config {
	return Config{
		Name:           "queue-db",
		HalfOpenProbes: 3,
		Window:         time.Minute,
		Cooldown:       30 * time.Second,
		TripRatio:      1.0,
		MinSamples:     5,
	}
}

// Breaker is a named gobreaker.CircuitBreaker.
type Breaker struct {
	cb   *gobreaker.CircuitBreaker
	name string
}

// New builds a Breaker and publishes its initial closed state.
func New(cfg Config) *Breaker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	minSamples := cfg.MinSamples
	if minSamples == 0 {
		minSamples = 1
	}
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenProbes,
		Interval:    cfg.Window,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if c.Requests < minSamples {
				return false
			}
			return float64(c.TotalFailures)/float64(c.Requests) >= cfg.TripRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			breakerState.WithLabelValues(name).Set(stateValue(to))
			logger.Warn("circuit breaker state changed",
				slog.String("circuit", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, to)
			}
		},
	}
	breakerState.WithLabelValues(cfg.Name).Set(stateValue(gobreaker.StateClosed))
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings), name: cfg.Name}
}

// Execute runs fn unless the breaker is open, in which case it returns
// gobreaker.ErrOpenState without calling fn.
func (b *Breaker) Execute(fn func() (interface{}, error)) (interface{}, error) {
	return b.cb.Execute(fn)
}

// Do is Execute for calls without a result.
func (b *Breaker) Do(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) { return nil, fn() })
	return err
}

func (b *Breaker) State() gobreaker.State { return b.cb.State() }

func (b *Breaker) Name() string { return b.name }

func (b *Breaker) Counts() gobreaker.Counts { return b.cb.Counts() }

// IsRejection reports whether err came from the breaker refusing the call
// rather than from the guarded operation.
func IsRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
