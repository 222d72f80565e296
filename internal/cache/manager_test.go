package cache

import (
	"context"
	"testing"
	"time"

	"github.com/BaSui01/crewplanner/config"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 Manager 测试
// =============================================================================

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Manager) {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := DefaultConfig()
	cfg.Addr = mr.Addr()
	cfg.DefaultTTL = time.Minute
	cfg.HealthCheckInterval = 0

	manager, err := NewManager(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	return mr, manager
}

func TestNewManager_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := DefaultConfig()
	cfg.Addr = addr
	cfg.DialTimeout = 200 * time.Millisecond
	cfg.MaxRetries = -1

	_, err := NewManager(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), addr)
}

func TestManager_SetAndGet(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "k", "v", 0))
	val, err := manager.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)
	assert.Equal(t, time.Minute, mr.TTL("k"))

	require.NoError(t, manager.Set(ctx, "forever", "v", -1))
	assert.Equal(t, time.Duration(0), mr.TTL("forever"))
}

func TestManager_GetMissing(t *testing.T) {
	_, manager := setupTestRedis(t)
	val, err := manager.Get(context.Background(), "missing")
	assert.True(t, IsCacheMiss(err))
	assert.Empty(t, val)
}

func TestManager_JSON(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	type blob struct {
		State string `json:"state"`
		N     int    `json:"n"`
	}
	require.NoError(t, manager.SetJSON(ctx, "session:a", blob{State: "PLANNING", N: 2}, time.Hour))
	var got blob
	require.NoError(t, manager.GetJSON(ctx, "session:a", &got))
	assert.Equal(t, blob{State: "PLANNING", N: 2}, got)

	require.NoError(t, manager.Set(ctx, "bad", "{", 0))
	assert.Error(t, manager.GetJSON(ctx, "bad", &got))
}

func TestManager_DeleteAndKeys(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	for _, k := range []string{"chat_history:a", "chat_history:b", "session:a"} {
		require.NoError(t, manager.Set(ctx, k, "x", 0))
	}
	keys, err := manager.Keys(ctx, "chat_history:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"chat_history:a", "chat_history:b"}, keys)

	n, err := manager.Delete(ctx, "chat_history:a", "nope")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = manager.Delete(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	size, err := manager.DBSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), size)
}

func TestManager_TTLAndExpire(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "k", "v", 30*time.Second))
	ttl, err := manager.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, ttl)

	require.NoError(t, manager.Expire(ctx, "k", 2*time.Hour))
	ttl, err = manager.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, ttl)

	mr.FastForward(3 * time.Hour)
	_, err = manager.Get(ctx, "k")
	assert.True(t, IsCacheMiss(err))

	_, err = manager.TTL(ctx, "k")
	assert.True(t, IsCacheMiss(err))
	assert.True(t, IsCacheMiss(manager.Expire(ctx, "k", time.Minute)))

	require.NoError(t, manager.Set(ctx, "persistent", "v", -1))
	ttl, err = manager.TTL(ctx, "persistent")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-1), ttl)
}

func TestManager_FlushDB(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()
	require.NoError(t, manager.Set(ctx, "a", "1", 0))
	require.NoError(t, manager.FlushDB(ctx))
	assert.False(t, mr.Exists("a"))
}

func TestManager_Closed(t *testing.T) {
	_, manager := setupTestRedis(t)
	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close())

	ctx := context.Background()
	_, err := manager.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, manager.Set(ctx, "k", "v", 0), ErrClosed)
	assert.ErrorIs(t, manager.Ping(ctx), ErrClosed)
}

func TestFromRedisConfig(t *testing.T) {
	rc := config.DefaultRedisConfig()
	rc.Host = "redis.internal"
	rc.Port = 6380
	rc.DB = 3
	rc.TTL = 10 * time.Minute

	cfg := FromRedisConfig(rc)
	assert.Equal(t, "redis.internal:6380", cfg.Addr)
	assert.Equal(t, 3, cfg.DB)
	assert.Equal(t, 10*time.Minute, cfg.DefaultTTL)
	assert.Equal(t, rc.PoolSize, cfg.PoolSize)
}
