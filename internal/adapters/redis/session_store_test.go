package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	domainauth "github.com/mindguard/mindguard-api/internal/domain/auth"
	"github.com/mindguard/mindguard-api/internal/ports"
	"github.com/mindguard/mindguard-api/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a Redis client for testing.
// Tests will be skipped if Redis is not available.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	return testutil.SetupTestRedis(t)
}

func testSession() *domainauth.Session {
	return &domainauth.Session{
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenType:    "bearer",
		ExpiresAt:    time.Now().Add(time.Hour).Truncate(time.Second),
		Identity: domainauth.Identity{
			ID:       "user-123",
			Email:    "user@example.com",
			Metadata: map[string]any{"full_name": "Test User"},
		},
	}
}

func TestSessionStore_SaveAndLoad(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	store := NewSessionStore(client, Options{Prefix: "test:session:"})
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "browser-1", testSession()))

	got, err := store.Load(ctx, "browser-1")
	require.NoError(t, err)
	assert.Equal(t, "access", got.AccessToken)
	assert.Equal(t, "user-123", got.Identity.ID)
	assert.Equal(t, "Test User", got.Identity.DisplayName())

	ttl, err := client.TTL(ctx, "test:session:browser-1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 24*time.Hour)
}

func TestSessionStore_LoadMissing(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	store := NewSessionStore(client, Options{})
	_, err := store.Load(context.Background(), "non-existent")
	require.ErrorIs(t, err, ports.ErrSessionNotFound)

	_, err = store.Load(context.Background(), "")
	require.ErrorIs(t, err, ports.ErrSessionNotFound)
}

func TestSessionStore_Delete(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	store := NewSessionStore(client, Options{})
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "browser-del", testSession()))
	require.NoError(t, store.Delete(ctx, "browser-del"))
	require.NoError(t, store.Delete(ctx, "browser-del"), "deleting twice is fine")

	_, err := store.Load(ctx, "browser-del")
	require.ErrorIs(t, err, ports.ErrSessionNotFound)
}

func TestSessionStore_SaveNilDeletes(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	store := NewSessionStore(client, Options{})
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "browser-nil", testSession()))
	require.NoError(t, store.Save(ctx, "browser-nil", nil))
	_, err := store.Load(ctx, "browser-nil")
	require.ErrorIs(t, err, ports.ErrSessionNotFound)

	require.Error(t, store.Save(ctx, "", testSession()))
}

func TestSessionStore_CorruptEntryIsDropped(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	store := NewSessionStore(client, Options{Prefix: "test:corrupt:"})
	ctx := context.Background()
	require.NoError(t, client.Set(ctx, "test:corrupt:b", "{not json", time.Minute).Err())

	_, err := store.Load(ctx, "b")
	require.Error(t, err)

	exists, err := client.Exists(ctx, "test:corrupt:b").Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}

func TestSessionStore_ListAndPurge(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	store := NewSessionStore(client, Options{Prefix: "test:list:"})
	ctx := context.Background()
	_, err := store.Purge(ctx)
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, "a", testSession()))
	require.NoError(t, store.Save(ctx, "b", testSession()))

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	for _, entry := range list {
		assert.Contains(t, []string{"a", "b"}, entry.Key)
		assert.Equal(t, "user-123", entry.UserID)
		assert.Positive(t, entry.TTL)
	}

	n, err := store.Purge(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	list, err = store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}
