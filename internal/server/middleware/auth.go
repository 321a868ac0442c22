package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/iudanet/offlinesync/internal/server/handlers"
	"github.com/iudanet/offlinesync/internal/server/jwt"
)

// TokenValidator проверяет access token
type TokenValidator interface {
	ValidateAccessToken(token string) (*jwt.Claims, error)
}

// AuthMiddleware создает middleware для проверки JWT токена.
// Запрос без заголовка Authorization при allowAnonymous получает общего
// анонимного пользователя, иначе 401. Неверный токен всегда даёт 401.
func AuthMiddleware(logger *slog.Logger, validator TokenValidator, allowAnonymous bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				if allowAnonymous {
					ctx := handlers.WithUser(r.Context(), handlers.AnonymousUserID, "")
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
				logger.Warn("Missing Authorization header", "path", r.URL.Path)
				handlers.SendError(w, logger, "missing token", http.StatusUnauthorized)
				return
			}

			// Ожидаем формат: "Bearer <token>"
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
				logger.Warn("Invalid Authorization header format")
				handlers.SendError(w, logger, "invalid token format", http.StatusUnauthorized)
				return
			}

			claims, err := validator.ValidateAccessToken(parts[1])
			if err != nil {
				logger.Warn("Invalid access token", "error", err)
				handlers.SendError(w, logger, "invalid token", http.StatusUnauthorized)
				return
			}

			ctx := handlers.WithUser(r.Context(), claims.UserID(), claims.Username)
			logger.Debug("User authenticated", "user_id", claims.UserID(), "username", claims.Username)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
