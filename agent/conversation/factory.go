package conversation

import (
	"context"
	"errors"

	"github.com/BaSui01/crewplanner/config"
	"github.com/BaSui01/crewplanner/internal/cache"
	"github.com/BaSui01/crewplanner/internal/metrics"
	"go.uber.org/zap"
)

// New 按配置创建会话存储。Redis 不可达且允许回退时使用内存存储，
// 否则返回 *ConnectionError。
func New(ctx context.Context, cfg config.RedisConfig, collector *metrics.Collector, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rs, err := NewRedisStore(ctx, cache.FromRedisConfig(cfg), cfg.KeyPrefix, logger)
	if err == nil {
		logger.Info("conversation store ready", zap.String("backend", backendRedis), zap.String("addr", cfg.Addr()))
		return rs.WithMetrics(collector), nil
	}

	var connErr *ConnectionError
	if !errors.As(err, &connErr) || !cfg.FallbackToMemory {
		return nil, err
	}
	logger.Warn("redis unavailable, falling back to in-memory conversation store",
		zap.String("addr", cfg.Addr()), zap.Error(err))
	return NewMemoryStore(cfg.TTL, logger).WithMetrics(collector), nil
}
