package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/crewplanner/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// =============================================================================
// 💾 Redis KV 管理器
// =============================================================================

// Manager 封装会话存储所需的 Redis 命令：GET、SET EX、DEL、KEYS、TTL、EXPIRE、FLUSHDB
type Manager struct {
	redis  *redis.Client
	config Config
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// Config 缓存配置
type Config struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`

	// 默认过期时间，Set 传入 0 时使用
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl"`

	MaxRetries   int `yaml:"max_retries" json:"max_retries"`
	PoolSize     int `yaml:"pool_size" json:"pool_size"`
	MinIdleConns int `yaml:"min_idle_conns" json:"min_idle_conns"`

	// 建连探测超时
	DialTimeout time.Duration `yaml:"dial_timeout" json:"dial_timeout"`

	// 健康检查间隔，0 表示不检查
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// DefaultConfig 返回默认缓存配置
func DefaultConfig() Config {
	return Config{
		Addr:                "localhost:6379",
		DefaultTTL:          86400 * time.Second,
		MaxRetries:          3,
		PoolSize:            10,
		MinIdleConns:        2,
		DialTimeout:         5 * time.Second,
		HealthCheckInterval: 30 * time.Second,
	}
}

// FromRedisConfig 由应用配置的 redis 段构造
func FromRedisConfig(rc config.RedisConfig) Config {
	c := DefaultConfig()
	c.Addr = rc.Addr()
	c.Password = rc.Password
	c.DB = rc.DB
	if rc.TTL > 0 {
		c.DefaultTTL = rc.TTL
	}
	if rc.PoolSize > 0 {
		c.PoolSize = rc.PoolSize
	}
	return c
}

var (
	// ErrCacheMiss 键不存在
	ErrCacheMiss = errors.New("cache miss")
	// ErrClosed 管理器已关闭
	ErrClosed = errors.New("cache manager is closed")
)

// IsCacheMiss 判断是否为缓存未命中错误
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// NewManager 创建管理器并探测连接；探测失败时返回错误，由调用方决定降级
func NewManager(ctx context.Context, cfg Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	m := &Manager{
		redis:  client,
		config: cfg,
		logger: logger.With(zap.String("component", "cache")),
		done:   make(chan struct{}),
	}
	if cfg.HealthCheckInterval > 0 {
		go m.healthCheckLoop()
	}

	m.logger.Info("cache manager initialized",
		zap.String("addr", cfg.Addr),
		zap.Int("db", cfg.DB),
		zap.Int("pool_size", cfg.PoolSize),
	)
	return m, nil
}

// DefaultTTL 默认过期时间
func (m *Manager) DefaultTTL() time.Duration { return m.config.DefaultTTL }

func (m *Manager) client() (*redis.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.redis, nil
}

// Get GET key
func (m *Manager) Get(ctx context.Context, key string) (string, error) {
	c, err := m.client()
	if err != nil {
		return "", err
	}
	val, err := c.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	if err != nil {
		m.logger.Error("cache get failed", zap.String("key", key), zap.Error(err))
		return "", fmt.Errorf("cache get failed: %w", err)
	}
	return val, nil
}

// Set SET key value EX ttl；ttl 为 0 时使用默认值，负数表示不过期
func (m *Manager) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c, err := m.client()
	if err != nil {
		return err
	}
	switch {
	case ttl == 0:
		ttl = m.config.DefaultTTL
	case ttl < 0:
		ttl = 0
	}
	if err := c.Set(ctx, key, value, ttl).Err(); err != nil {
		m.logger.Error("cache set failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("cache set failed: %w", err)
	}
	return nil
}

// GetJSON 获取并解码 JSON 值
func (m *Manager) GetJSON(ctx context.Context, key string, dest any) error {
	val, err := m.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return nil
}

// SetJSON 编码为 JSON 后写入
func (m *Manager) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	return m.Set(ctx, key, string(data), ttl)
}

// Delete DEL keys...，返回删除数量
func (m *Manager) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	c, err := m.client()
	if err != nil {
		return 0, err
	}
	n, err := c.Del(ctx, keys...).Result()
	if err != nil {
		m.logger.Error("cache delete failed", zap.Strings("keys", keys), zap.Error(err))
		return 0, fmt.Errorf("cache delete failed: %w", err)
	}
	return n, nil
}

// Keys KEYS pattern
func (m *Manager) Keys(ctx context.Context, pattern string) ([]string, error) {
	c, err := m.client()
	if err != nil {
		return nil, err
	}
	keys, err := c.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, fmt.Errorf("cache keys failed: %w", err)
	}
	return keys, nil
}

// TTL 返回剩余过期时间。键不存在返回 ErrCacheMiss；没有过期时间返回 -1。
func (m *Manager) TTL(ctx context.Context, key string) (time.Duration, error) {
	c, err := m.client()
	if err != nil {
		return 0, err
	}
	d, err := c.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("cache ttl failed: %w", err)
	}
	// go-redis 对 -2 / -1 原样返回为纳秒值
	switch d {
	case -2:
		return 0, ErrCacheMiss
	case -1:
		return -1, nil
	}
	return d, nil
}

// Expire EXPIRE key ttl；键不存在返回 ErrCacheMiss
func (m *Manager) Expire(ctx context.Context, key string, ttl time.Duration) error {
	c, err := m.client()
	if err != nil {
		return err
	}
	ok, err := c.Expire(ctx, key, ttl).Result()
	if err != nil {
		return fmt.Errorf("cache expire failed: %w", err)
	}
	if !ok {
		return ErrCacheMiss
	}
	return nil
}

// FlushDB 清空当前库
func (m *Manager) FlushDB(ctx context.Context) error {
	c, err := m.client()
	if err != nil {
		return err
	}
	if err := c.FlushDB(ctx).Err(); err != nil {
		return fmt.Errorf("cache flushdb failed: %w", err)
	}
	m.logger.Warn("cache database flushed", zap.Int("db", m.config.DB))
	return nil
}

// DBSize 当前库的键数量
func (m *Manager) DBSize(ctx context.Context) (int64, error) {
	c, err := m.client()
	if err != nil {
		return 0, err
	}
	return c.DBSize(ctx).Result()
}

// Ping 检查 Redis 连接
func (m *Manager) Ping(ctx context.Context) error {
	c, err := m.client()
	if err != nil {
		return err
	}
	return c.Ping(ctx).Err()
}

// Close 关闭管理器，可重复调用
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.done)
	m.logger.Info("closing cache manager")
	return m.redis.Close()
}

// healthCheckLoop 健康检查循环
func (m *Manager) healthCheckLoop() {
	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := m.Ping(ctx); err != nil && !errors.Is(err, ErrClosed) {
				m.logger.Error("cache health check failed", zap.Error(err))
			} else {
				m.logger.Debug("cache health check passed")
			}
			cancel()
		}
	}
}
