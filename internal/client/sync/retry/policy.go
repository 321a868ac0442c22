// Package retry содержит политику повторов, общую для очереди исходящих
// мутаций и перезапуска конвейера синхронизации.
package retry

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/iudanet/offlinesync/internal/client/sync/syncerr"
)

// Config параметры экспоненциальной задержки
type Config struct {
	InitialInterval     time.Duration `mapstructure:"initial_interval"`
	MaxInterval         time.Duration `mapstructure:"max_interval"`
	Multiplier          float64       `mapstructure:"multiplier"`
	RandomizationFactor float64       `mapstructure:"randomization_factor"`
	// MaxAttempts ограничивает число попыток; 0 означает без ограничения
	MaxAttempts int `mapstructure:"max_attempts"`
}

// DefaultConfig returns the library defaults of backoff.ExponentialBackOff
// with unlimited attempts.
func DefaultConfig() Config {
	return Config{
		InitialInterval:     backoff.DefaultInitialInterval,
		MaxInterval:         backoff.DefaultMaxInterval,
		Multiplier:          backoff.DefaultMultiplier,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
	}
}

// Policy is a stateful backoff calculator. The attempt counter starts at 1
// and grows by one on every Next call. Safe for concurrent use.
type Policy struct {
	backOff     *backoff.ExponentialBackOff
	attempt     int
	maxAttempts int
	mu          sync.Mutex
}

// New creates a Policy from cfg. Zero fields fall back to DefaultConfig.
func New(cfg Config) *Policy {
	def := DefaultConfig()
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = def.InitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = def.MaxInterval
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.RandomizationFactor < 0 || cfg.RandomizationFactor > 1 {
		cfg.RandomizationFactor = def.RandomizationFactor
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.InitialInterval,
		RandomizationFactor: cfg.RandomizationFactor,
		Multiplier:          cfg.Multiplier,
		MaxInterval:         cfg.MaxInterval,
	}
	b.Reset()

	return &Policy{
		backOff:     b,
		attempt:     1,
		maxAttempts: cfg.MaxAttempts,
	}
}

// Attempt returns the current attempt number.
func (p *Policy) Attempt() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempt
}

// Next returns the delay before the next attempt and advances the counter.
// A retry-after hint carried by err takes precedence over the computed
// delay. ok is false once the attempt limit is reached.
func (p *Policy) Next(err error) (delay time.Duration, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.maxAttempts > 0 && p.attempt >= p.maxAttempts {
		return 0, false
	}

	delay = p.backOff.NextBackOff()
	if hint, found := syncerr.RetryAfter(err); found {
		delay = hint
	}
	p.attempt++
	return delay, true
}

// Reset returns the counter to 1 and the delay to the initial interval.
func (p *Policy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempt = 1
	p.backOff.Reset()
}
