// Package initial runs the one-time full fetch of every synced model type.
// Pages are fed through the incoming queue so that the initial sync and live
// notifications share one reconciliation path.
package initial

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/iudanet/offlinesync/internal/client/sync/events"
	"github.com/iudanet/offlinesync/internal/client/sync/incoming"
	"github.com/iudanet/offlinesync/internal/client/sync/syncerr"
	"github.com/iudanet/offlinesync/internal/client/telemetry"
	"github.com/iudanet/offlinesync/internal/models"
)

// Defaults
const (
	DefaultPageSize     = 100
	DefaultConcurrency  = 4
	DefaultPageAttempts = 3
)

// ErrPageLoop is returned when the backend hands out the same page token twice.
var ErrPageLoop = errors.New("pagination did not advance")

// Fetcher loads one page of a model type.
type Fetcher interface {
	FetchAll(ctx context.Context, modelName, pageToken string, limit int) (*models.RemotePage, error)
}

// Reconciler applies a batch of remote models to the local store.
type Reconciler interface {
	Reconcile(ctx context.Context, remote []models.RemoteModel) (incoming.Result, error)
}

// SyncedAtRecorder remembers when a model type was last fully synced.
type SyncedAtRecorder interface {
	SaveModelSyncedAt(ctx context.Context, modelName string, timestamp int64) error
}

// Config параметры начальной синхронизации
type Config struct {
	// PageSize размер страницы FetchAll
	PageSize int `mapstructure:"page_size"`
	// Concurrency сколько типов моделей синхронизируются одновременно
	Concurrency int `mapstructure:"concurrency"`
	// PageAttempts число попыток загрузки одной страницы
	PageAttempts uint `mapstructure:"page_attempts"`
	// PageBackoff начальная задержка между попытками
	PageBackoff time.Duration `mapstructure:"page_backoff"`
}

// DefaultConfig returns the default orchestrator settings.
func DefaultConfig() Config {
	return Config{
		PageSize:     DefaultPageSize,
		Concurrency:  DefaultConcurrency,
		PageAttempts: DefaultPageAttempts,
		PageBackoff:  backoff.DefaultInitialInterval,
	}
}

// Orchestrator выполняет полную постраничную выборку
type Orchestrator struct {
	reconciler Reconciler
	recorder   SyncedAtRecorder
	hub        *events.Hub
	metrics    *telemetry.SyncMetrics
	logger     *slog.Logger
	now        func() time.Time
	cfg        Config
}

// Option настраивает Orchestrator
type Option func(*Orchestrator)

// WithConfig задаёт параметры
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) { o.cfg = cfg }
}

// WithHub задаёт шину событий
func WithHub(h *events.Hub) Option {
	return func(o *Orchestrator) { o.hub = h }
}

// WithMetrics задаёт метрики
func WithMetrics(m *telemetry.SyncMetrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger задаёт логгер
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an orchestrator. Invalid config fields fall back to defaults.
func New(reconciler Reconciler, recorder SyncedAtRecorder, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		reconciler: reconciler,
		recorder:   recorder,
		cfg:        DefaultConfig(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	def := DefaultConfig()
	if o.cfg.PageSize <= 0 {
		o.cfg.PageSize = def.PageSize
	}
	if o.cfg.Concurrency <= 0 {
		o.cfg.Concurrency = def.Concurrency
	}
	if o.cfg.PageAttempts == 0 {
		o.cfg.PageAttempts = def.PageAttempts
	}
	if o.cfg.PageBackoff <= 0 {
		o.cfg.PageBackoff = def.PageBackoff
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// Run pages every model type through the reconciler. The first failing model
// cancels the others and its error is returned. Blocks until all fetches
// have stopped.
func (o *Orchestrator) Run(ctx context.Context, fetcher Fetcher, modelNames []string) (map[string]incoming.Result, error) {
	started := o.now()
	o.hub.Emit(events.SyncQueriesStarted, modelNames)
	o.logger.Info("Initial sync started", "models", modelNames)

	var mu sync.Mutex
	results := make(map[string]incoming.Result, len(modelNames))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)

	for _, name := range modelNames {
		g.Go(func() error {
			res, err := o.syncModel(gctx, fetcher, name)
			if err != nil {
				return fmt.Errorf("initial sync of %s: %w", name, err)
			}

			mu.Lock()
			results[name] = res
			mu.Unlock()

			o.hub.Emit(events.ModelSynced, events.ModelSyncedData{
				Model:   name,
				Created: res.Created,
				Updated: res.Updated,
				Deleted: res.Deleted,
			})
			return nil
		})
	}

	err := g.Wait()
	elapsed := o.now().Sub(started)
	o.metrics.RecordInitialSyncDuration(ctx, elapsed, err == nil)
	if err != nil {
		o.logger.Error("Initial sync failed", "error", err, "duration", elapsed)
		return results, err
	}

	o.logger.Info("Initial sync completed", "duration", elapsed)
	o.hub.Emit(events.SyncQueriesReady, modelNames)
	return results, nil
}

func (o *Orchestrator) syncModel(ctx context.Context, fetcher Fetcher, modelName string) (incoming.Result, error) {
	var total incoming.Result
	token := ""
	pages := 0

	for {
		page, err := o.fetchPage(ctx, fetcher, modelName, token)
		if err != nil {
			return total, err
		}
		pages++
		if page == nil {
			page = &models.RemotePage{}
		}

		res, err := o.reconciler.Reconcile(ctx, page.Items)
		if err != nil {
			return total, fmt.Errorf("failed to reconcile page %d: %w", pages, err)
		}
		total.Add(res)

		if page.NextToken == "" {
			break
		}
		if page.NextToken == token {
			return total, fmt.Errorf("%w: token %q", ErrPageLoop, token)
		}
		token = page.NextToken
	}

	if err := o.recorder.SaveModelSyncedAt(ctx, modelName, o.now().UnixMilli()); err != nil {
		return total, fmt.Errorf("failed to save sync time: %w", err)
	}

	o.logger.Debug("Model synced",
		"model", modelName,
		"pages", pages,
		"created", total.Created,
		"updated", total.Updated,
		"deleted", total.Deleted)
	return total, nil
}

// fetchPage загружает страницу, повторяя временные ошибки
func (o *Orchestrator) fetchPage(ctx context.Context, fetcher Fetcher, modelName, token string) (*models.RemotePage, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.cfg.PageBackoff

	op := func() (*models.RemotePage, error) {
		page, err := fetcher.FetchAll(ctx, modelName, token, o.cfg.PageSize)
		if err != nil {
			if !syncerr.IsRetryable(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return page, nil
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(o.cfg.PageAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			o.logger.Warn("Page fetch failed, retrying",
				"model", modelName,
				"error", err,
				"retry_in", next)
		}),
	)
}
