// Package cli содержит команды клиента offlinesync.
package cli

import (
	"context"
	"log/slog"

	"github.com/iudanet/offlinesync/internal/client/iocli"
	"github.com/iudanet/offlinesync/internal/client/storage"
	"github.com/iudanet/offlinesync/internal/client/sync"
	"github.com/iudanet/offlinesync/internal/client/sync/events"
	"github.com/iudanet/offlinesync/internal/models"
)

//go:generate moq -out cli_mock.go . AuthService Store Engine

// AuthService управление сессией пользователя
type AuthService interface {
	Register(ctx context.Context, username, password string) (string, error)
	Login(ctx context.Context, username, password string) error
	Logout(ctx context.Context) error
	Session(ctx context.Context) (*storage.AuthData, error)
	IsAuthenticated(ctx context.Context) bool
}

// Store локальные данные, которые команды читают напрямую
type Store interface {
	GetRecord(ctx context.Context, modelName, id string) (*models.Record, error)
	ListRecords(ctx context.Context, modelName string) ([]models.Record, error)
	GetModelSyncedAt(ctx context.Context, modelName string) (int64, error)
	Clear(ctx context.Context) error
}

// Engine движок синхронизации
type Engine interface {
	Start(ctx context.Context) error
	StopAndWait(ctx context.Context) error
	Reset(onComplete func(error))
	Submit(ctx context.Context, ev *models.MutationEvent) (sync.SubmitOutcome, error)
	Pending(ctx context.Context) (int, error)
	State() sync.State
}

// Cli выполняет команды поверх собранных зависимостей
type Cli struct {
	io     iocli.IO
	auth   AuthService
	store  Store
	engine Engine
	hub    *events.Hub
	logger *slog.Logger
	models []string
}

// New creates a Cli. modelNames are the record types the engine synchronizes.
func New(
	stdio iocli.IO,
	authService AuthService,
	store Store,
	engine Engine,
	hub *events.Hub,
	modelNames []string,
	logger *slog.Logger,
) *Cli {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cli{
		io:     stdio,
		auth:   authService,
		store:  store,
		engine: engine,
		hub:    hub,
		models: modelNames,
		logger: logger,
	}
}
