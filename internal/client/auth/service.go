// Package auth управляет сессией пользователя на клиенте: регистрация,
// вход, хранение токенов и их обновление.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iudanet/offlinesync/internal/client/storage"
	"github.com/iudanet/offlinesync/internal/client/sync/syncerr"
	"github.com/iudanet/offlinesync/internal/validation"
	pkgapi "github.com/iudanet/offlinesync/pkg/api"
)

// refreshSkew обновляем токен заранее, чтобы он не истёк в полёте
const refreshSkew = 30 * time.Second

// ErrNotLoggedIn возвращается, когда локальной сессии нет
var ErrNotLoggedIn = errors.New("not logged in")

// Backend is the part of the API client the auth service needs.
type Backend interface {
	Register(ctx context.Context, req pkgapi.RegisterRequest) (*pkgapi.RegisterResponse, error)
	Login(ctx context.Context, req pkgapi.LoginRequest) (*pkgapi.TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*pkgapi.TokenResponse, error)
}

// Service предоставляет функции авторизации и является источником токенов
// для API клиента.
type Service struct {
	backend Backend
	storage storage.AuthStorage
	logger  *slog.Logger
	now     func() time.Time
	mu      sync.Mutex
}

// NewService создает новый сервис авторизации
func NewService(backend Backend, authStorage storage.AuthStorage, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		backend: backend,
		storage: authStorage,
		logger:  logger,
		now:     time.Now,
	}
}

// Register регистрирует нового пользователя и возвращает его ID
func (s *Service) Register(ctx context.Context, username, password string) (string, error) {
	if err := validation.ValidateUsername(username); err != nil {
		return "", err
	}
	if err := validation.ValidatePassword(password); err != nil {
		return "", err
	}

	resp, err := s.backend.Register(ctx, pkgapi.RegisterRequest{Username: username, Password: password})
	if err != nil {
		return "", fmt.Errorf("registration failed: %w", err)
	}

	s.logger.Info("User registered", "username", username, "user_id", resp.UserID)
	return resp.UserID, nil
}

// Login выполняет аутентификацию и сохраняет токены
func (s *Service) Login(ctx context.Context, username, password string) error {
	if err := validation.ValidateUsername(username); err != nil {
		return err
	}
	if password == "" {
		return fmt.Errorf("password cannot be empty")
	}

	resp, err := s.backend.Login(ctx, pkgapi.LoginRequest{Username: username, Password: password})
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.saveTokens(ctx, username, resp); err != nil {
		return err
	}

	s.logger.Info("User logged in", "username", username)
	return nil
}

// Logout удаляет локальную сессию
func (s *Service) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.storage.DeleteAuth(ctx); err != nil {
		if errors.Is(err, storage.ErrAuthNotFound) {
			return ErrNotLoggedIn
		}
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Session возвращает сохранённую сессию
func (s *Service) Session(ctx context.Context) (*storage.AuthData, error) {
	data, err := s.storage.GetAuth(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrAuthNotFound) {
			return nil, ErrNotLoggedIn
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return data, nil
}

// IsAuthenticated reports whether requests can be authorized: the access
// token is still valid or a refresh token is available to renew it.
func (s *Service) IsAuthenticated(ctx context.Context) bool {
	data, err := s.storage.GetAuth(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrAuthNotFound) {
			s.logger.Warn("Failed to load session", "error", err)
		}
		return false
	}

	if data.AccessToken != "" && !s.expired(data) {
		return true
	}
	return data.RefreshToken != ""
}

// AccessToken возвращает действующий access token, при необходимости
// обновляя его через refresh token.
func (s *Service) AccessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.storage.GetAuth(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrAuthNotFound) {
			return "", fmt.Errorf("%w: %w", syncerr.ErrUnauthorized, ErrNotLoggedIn)
		}
		return "", fmt.Errorf("failed to load session: %w", err)
	}

	if !s.expired(data) {
		return data.AccessToken, nil
	}

	if data.RefreshToken == "" {
		return "", fmt.Errorf("%w: access token expired", syncerr.ErrUnauthorized)
	}

	s.logger.Debug("Refreshing access token", "username", data.Username)

	resp, err := s.backend.Refresh(ctx, data.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}

	if err := s.saveTokens(ctx, data.Username, resp); err != nil {
		return "", err
	}

	return resp.AccessToken, nil
}

func (s *Service) saveTokens(ctx context.Context, username string, resp *pkgapi.TokenResponse) error {
	data := &storage.AuthData{
		Username:     username,
		UserID:       resp.UserID,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    s.now().Add(time.Duration(resp.ExpiresIn) * time.Second).Unix(),
	}

	// exp из самого токена точнее, чем expires_in
	if exp, ok := tokenExpiry(resp.AccessToken); ok {
		data.ExpiresAt = exp.Unix()
	}
	if sub, ok := tokenSubject(resp.AccessToken); ok && data.UserID == "" {
		data.UserID = sub
	}

	if err := s.storage.SaveAuth(ctx, data); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *Service) expired(data *storage.AuthData) bool {
	if data.AccessToken == "" {
		return true
	}
	expiresAt := time.Unix(data.ExpiresAt, 0)
	return !s.now().Add(refreshSkew).Before(expiresAt)
}

// tokenExpiry читает exp из JWT без проверки подписи: ключ есть только у сервера
func tokenExpiry(token string) (time.Time, bool) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

func tokenSubject(token string) (string, bool) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return "", false
	}
	return claims.Subject, claims.Subject != ""
}
