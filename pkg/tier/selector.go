package tier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// DriverAuto lets the selector probe tiers in preference order.
const DriverAuto = "auto"

// SelectorConfig configures tier selection.
type SelectorConfig struct {
	// Driver is "auto" (default) or one of "memory", "redis", "file" to force a tier.
	Driver string

	// MemoryEnabled makes the process-local tier a candidate.
	MemoryEnabled bool
	Memory        MemoryConfig

	// Redis is nil when no networked cache is configured.
	Redis   *redis.Options
	Breaker Breaker

	File FileConfig

	// ProbeTimeout bounds each liveness probe.
	// Default: 1s
	ProbeTimeout time.Duration

	// OnSelect is called once with the chosen tier.
	OnSelect func(Kind)

	Logger *slog.Logger
}

// ParseDriver normalizes a driver name, returning an error for unknown values.
func ParseDriver(s string) (string, error) {
	d := strings.ToLower(strings.TrimSpace(s))
	switch d {
	case "", DriverAuto:
		return DriverAuto, nil
	case string(KindMemory), string(KindRedis), string(KindFile):
		return d, nil
	default:
		return "", fmt.Errorf("unknown state driver %q (want auto, memory, redis or file)", s)
	}
}

// candidate opens one tier; a non-nil error means the tier is unavailable.
type candidate struct {
	kind Kind
	open func(ctx context.Context) (Tier, error)
}

// Selector picks the best available tier on first use and returns the same
// tier for the rest of the process lifetime.
type Selector struct {
	cfg        SelectorConfig
	logger     *slog.Logger
	candidates []candidate

	once     sync.Once
	selected Tier
	kind     atomic.Value
}

// NewSelector creates a selector. No probing happens until Select is called.
func NewSelector(cfg SelectorConfig) *Selector {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.File.Logger == nil {
		cfg.File.Logger = cfg.Logger
	}
	s := &Selector{cfg: cfg, logger: cfg.Logger}
	s.candidates = s.buildCandidates()
	return s
}

// Select returns the chosen tier, probing candidates on the first call.
// It never fails: when every preferred tier is unavailable the file tier is
// used, and if even that cannot be created a process-local tier is returned.
func (s *Selector) Select(ctx context.Context) Tier {
	s.once.Do(func() {
		s.selected = s.probe(ctx)
		s.kind.Store(s.selected.Kind())
		s.logger.Info("state tier selected",
			slog.String("driver", s.selected.Kind().String()))
		if s.cfg.OnSelect != nil {
			s.cfg.OnSelect(s.selected.Kind())
		}
	})
	return s.selected
}

// Selected returns the chosen driver, or "" before the first Select.
func (s *Selector) Selected() Kind {
	k, _ := s.kind.Load().(Kind)
	return k
}

// Close closes the selected tier, if any.
func (s *Selector) Close() error {
	if s.Selected() == "" {
		return nil
	}
	return s.selected.Close()
}

func (s *Selector) probe(ctx context.Context) Tier {
	for _, c := range s.candidates {
		t, err := s.try(ctx, c)
		if err == nil {
			return t
		}
		s.logger.Warn("state tier unavailable",
			slog.String("driver", c.kind.String()),
			slog.Any("error", err))
	}
	s.logger.Error("no state tier available, using process-local memory")
	return NewMemory(s.cfg.Memory)
}

// try runs one probe under the configured timeout. A panicking probe is
// reported as unavailable.
func (s *Selector) try(ctx context.Context, c candidate) (t Tier, err error) {
	defer func() {
		if r := recover(); r != nil {
			t, err = nil, fmt.Errorf("%w: probe panicked: %v", ErrUnavailable, r)
		}
	}()
	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()
	return c.open(probeCtx)
}

func (s *Selector) buildCandidates() []candidate {
	memory := candidate{kind: KindMemory, open: s.openMemory}
	networked := candidate{kind: KindRedis, open: s.openRedis}
	file := candidate{kind: KindFile, open: s.openFile}

	driver, err := ParseDriver(s.cfg.Driver)
	if err != nil {
		s.logger.Warn("invalid state driver, probing all tiers", slog.Any("error", err))
		driver = DriverAuto
	}

	switch Kind(driver) {
	case KindMemory:
		return []candidate{{kind: KindMemory, open: func(context.Context) (Tier, error) {
			return NewMemory(s.cfg.Memory), nil
		}}, file}
	case KindRedis:
		return []candidate{networked, file}
	case KindFile:
		return []candidate{file}
	default:
		return []candidate{memory, networked, file}
	}
}

func (s *Selector) openMemory(context.Context) (Tier, error) {
	if !s.cfg.MemoryEnabled {
		return nil, fmt.Errorf("%w: process-local cache disabled", ErrUnavailable)
	}
	return NewMemory(s.cfg.Memory), nil
}

func (s *Selector) openRedis(ctx context.Context) (Tier, error) {
	if s.cfg.Redis == nil || s.cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("%w: redis not configured", ErrUnavailable)
	}
	client := redis.NewClient(s.cfg.Redis)
	r, err := NewRedis(RedisConfig{Client: client, Breaker: s.cfg.Breaker})
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := r.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return r, nil
}

func (s *Selector) openFile(context.Context) (Tier, error) {
	return NewFile(s.cfg.File)
}
