// Package reachability watches whether the backend can be reached.
package reachability

import (
	"context"
	"log/slog"
	"time"

	"github.com/iudanet/offlinesync/internal/client/sync/events"
)

// Defaults
const (
	DefaultInterval = 15 * time.Second
	DefaultTimeout  = 5 * time.Second
)

// Prober checks the backend once.
type Prober interface {
	Health(ctx context.Context) error
}

// Monitor опрашивает бэкенд и сообщает о смене доступности
type Monitor struct {
	prober   Prober
	hub      *events.Hub
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
}

// Option настраивает Monitor
type Option func(*Monitor)

// WithInterval задаёт период опроса
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

// WithTimeout задаёт таймаут одной проверки
func WithTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.timeout = d }
}

// WithHub задаёт шину событий
func WithHub(h *events.Hub) Option {
	return func(m *Monitor) { m.hub = h }
}

// WithLogger задаёт логгер
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// New creates a monitor for prober.
func New(prober Prober, opts ...Option) *Monitor {
	m := &Monitor{
		prober:   prober,
		interval: DefaultInterval,
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.interval <= 0 {
		m.interval = DefaultInterval
	}
	if m.timeout <= 0 {
		m.timeout = DefaultTimeout
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// Watch probes immediately and then on every interval until ctx is done.
// The first result and every later change are sent on the returned channel,
// which is closed when watching stops.
func (m *Monitor) Watch(ctx context.Context) <-chan bool {
	out := make(chan bool, 1)

	go func() {
		defer close(out)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		var last, known bool
		for {
			online := m.probe(ctx)
			if ctx.Err() != nil {
				return
			}

			if !known || online != last {
				known, last = true, online
				m.logger.Info("Backend reachability changed", "online", online)
				m.hub.Emit(events.NetworkStatus, events.NetworkStatusData{Online: online})

				select {
				case out <- online:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

func (m *Monitor) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.prober.Health(ctx); err != nil {
		m.logger.Debug("Health probe failed", "error", err)
		return false
	}
	return true
}
