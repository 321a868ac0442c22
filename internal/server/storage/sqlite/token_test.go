package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/offlinesync/internal/models"
	"github.com/iudanet/offlinesync/internal/server/storage"
)

func newToken(userID, hash string, expiresAt time.Time) *models.RefreshToken {
	return &models.RefreshToken{
		ID:        uuid.New().String(),
		UserID:    userID,
		TokenHash: hash,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}
}

func TestTokenStorage_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	s := setupTestStorage(t)
	userID := createTestUser(t, ctx, s)

	expires := time.Now().Add(24 * time.Hour).Truncate(time.Millisecond)
	token := newToken(userID, "hash123", expires)
	require.NoError(t, s.SaveRefreshToken(ctx, token))

	got, err := s.GetRefreshToken(ctx, "hash123")
	require.NoError(t, err)
	assert.Equal(t, token.ID, got.ID)
	assert.Equal(t, userID, got.UserID)
	assert.True(t, expires.Equal(got.ExpiresAt))

	_, err = s.GetRefreshToken(ctx, "other")
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
}

func TestTokenStorage_SaveUnknownUser(t *testing.T) {
	ctx := context.Background()
	s := setupTestStorage(t)

	err := s.SaveRefreshToken(ctx, newToken("nobody", "hash", time.Now().Add(time.Hour)))
	assert.Error(t, err, "foreign key must reject tokens of unknown users")
}

func TestTokenStorage_DeleteRefreshToken(t *testing.T) {
	ctx := context.Background()
	s := setupTestStorage(t)
	userID := createTestUser(t, ctx, s)

	require.NoError(t, s.SaveRefreshToken(ctx, newToken(userID, "hash", time.Now().Add(time.Hour))))
	require.NoError(t, s.DeleteRefreshToken(ctx, "hash"))

	_, err := s.GetRefreshToken(ctx, "hash")
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)

	err = s.DeleteRefreshToken(ctx, "hash")
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
}

func TestTokenStorage_DeleteUserTokens(t *testing.T) {
	ctx := context.Background()
	s := setupTestStorage(t)
	user1 := createTestUser(t, ctx, s)
	user2 := createTestUser(t, ctx, s)

	for _, hash := range []string{"a", "b", "c"} {
		require.NoError(t, s.SaveRefreshToken(ctx, newToken(user1, hash, time.Now().Add(time.Hour))))
	}
	require.NoError(t, s.SaveRefreshToken(ctx, newToken(user2, "d", time.Now().Add(time.Hour))))

	deleted, err := s.DeleteUserTokens(ctx, user1)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	_, err = s.GetRefreshToken(ctx, "d")
	assert.NoError(t, err, "other users keep their tokens")
}

func TestTokenStorage_DeleteExpiredTokens(t *testing.T) {
	ctx := context.Background()
	s := setupTestStorage(t)
	userID := createTestUser(t, ctx, s)
	now := time.Now()

	require.NoError(t, s.SaveRefreshToken(ctx, newToken(userID, "old", now.Add(-time.Hour))))
	require.NoError(t, s.SaveRefreshToken(ctx, newToken(userID, "fresh", now.Add(time.Hour))))

	deleted, err := s.DeleteExpiredTokens(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = s.GetRefreshToken(ctx, "fresh")
	assert.NoError(t, err)

	deleted, err = s.DeleteExpiredTokens(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}
