package conversation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BaSui01/crewplanner/internal/cache"
	"github.com/BaSui01/crewplanner/internal/metrics"
	"github.com/BaSui01/crewplanner/types"
	"go.uber.org/zap"
)

const backendRedis = "redis"

// RedisStore 基于 Redis 的会话存储。
// 键：<prefix>chat_history:<id> 为消息 JSON 数组，<prefix>session:<id> 为会话 JSON。
type RedisStore struct {
	kv      *cache.Manager
	prefix  string
	ttl     time.Duration
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewRedisStore 连接 Redis；不可达时返回 *ConnectionError
func NewRedisStore(ctx context.Context, cfg cache.Config, prefix string, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	kv, err := cache.NewManager(ctx, cfg, logger)
	if err != nil {
		return nil, &ConnectionError{Backend: backendRedis, Addr: cfg.Addr, Err: err}
	}
	return NewRedisStoreWithManager(kv, prefix, logger), nil
}

// NewRedisStoreWithManager 使用已有的连接
func NewRedisStoreWithManager(kv *cache.Manager, prefix string, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := kv.DefaultTTL()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		kv:     kv,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "conversation_store"), zap.String("backend", backendRedis)),
	}
}

// WithMetrics 记录存储操作指标
func (s *RedisStore) WithMetrics(c *metrics.Collector) *RedisStore {
	s.metrics = c
	return s
}

func (s *RedisStore) Backend() string { return backendRedis }

func (s *RedisStore) historyKey(id string) string { return s.prefix + HistoryKeyPrefix + id }
func (s *RedisStore) sessionKey(id string) string { return s.prefix + SessionKeyPrefix + id }

func (s *RedisStore) record(op string, err error) {
	s.metrics.RecordStoreOperation(backendRedis, op, metrics.Status(err))
}

// History 返回会话历史句柄
func (s *RedisStore) History(_ context.Context, sessionID string, ttl time.Duration) History {
	if ttl <= 0 {
		ttl = s.ttl
	}
	return &redisHistory{store: s, id: sessionID, ttl: ttl}
}

// SaveSession 写入会话数据块并刷新 TTL
func (s *RedisStore) SaveSession(ctx context.Context, sessionID string, blob map[string]any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.ttl
	}
	err := s.kv.SetJSON(ctx, s.sessionKey(sessionID), blob, ttl)
	s.record("save_session", err)
	if err != nil {
		s.logger.Warn("save session failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// LoadSession 读取会话数据块；不存在或损坏时返回 false
func (s *RedisStore) LoadSession(ctx context.Context, sessionID string) (map[string]any, bool) {
	var blob map[string]any
	err := s.kv.GetJSON(ctx, s.sessionKey(sessionID), &blob)
	if cache.IsCacheMiss(err) {
		s.record("load_session", nil)
		s.metrics.RecordStoreMiss(backendRedis)
		return nil, false
	}
	s.record("load_session", err)
	if err != nil {
		s.logger.Warn("load session failed", zap.String("session_id", sessionID), zap.Error(err))
		return nil, false
	}
	return blob, blob != nil
}

// Clear 删除会话历史与数据块
func (s *RedisStore) Clear(ctx context.Context, sessionID string) error {
	_, err := s.kv.Delete(ctx, s.historyKey(sessionID), s.sessionKey(sessionID))
	s.record("clear", err)
	if err != nil {
		return types.WrapError(err, types.ErrStorage, "clear session "+sessionID)
	}
	return nil
}

// DeleteSession 同 Clear
func (s *RedisStore) DeleteSession(ctx context.Context, sessionID string) error {
	return s.Clear(ctx, sessionID)
}

// ListSessions 列出拥有历史或数据块的会话 id（排序）
func (s *RedisStore) ListSessions(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	for _, kind := range []string{HistoryKeyPrefix, SessionKeyPrefix} {
		pattern := s.prefix + kind + "*"
		keys, err := s.kv.Keys(ctx, pattern)
		s.record("list_sessions", err)
		if err != nil {
			return nil, types.WrapError(err, types.ErrStorage, "list sessions")
		}
		for _, k := range keys {
			seen[strings.TrimPrefix(k, s.prefix+kind)] = struct{}{}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// ClearAll 无前缀时 FLUSHDB；有前缀时只删除本前缀下的会话键
func (s *RedisStore) ClearAll(ctx context.Context) error {
	if s.prefix == "" {
		err := s.kv.FlushDB(ctx)
		s.record("clear_all", err)
		if err != nil {
			return types.WrapError(err, types.ErrStorage, "clear all sessions")
		}
		return nil
	}
	ids, err := s.ListSessions(ctx)
	if err != nil {
		return err
	}
	keys := make([]string, 0, 2*len(ids))
	for _, id := range ids {
		keys = append(keys, s.historyKey(id), s.sessionKey(id))
	}
	_, err = s.kv.Delete(ctx, keys...)
	s.record("clear_all", err)
	if err != nil {
		return types.WrapError(err, types.ErrStorage, "clear all sessions")
	}
	return nil
}

// TTL 会话历史键的剩余过期时间
func (s *RedisStore) TTL(ctx context.Context, sessionID string) (time.Duration, error) {
	return s.kv.TTL(ctx, s.historyKey(sessionID))
}

// Close 关闭连接
func (s *RedisStore) Close() error { return s.kv.Close() }

type redisHistory struct {
	store *RedisStore
	id    string
	ttl   time.Duration
}

func (h *redisHistory) SessionID() string { return h.id }

// Messages 读取全部消息；读失败或数据损坏时返回空历史
func (h *redisHistory) Messages(ctx context.Context) []types.Message {
	msgs, err := h.load(ctx)
	if err != nil {
		h.store.logger.Warn("read history failed, returning empty history",
			zap.String("session_id", h.id), zap.Error(err))
		return nil
	}
	return msgs
}

func (h *redisHistory) load(ctx context.Context) ([]types.Message, error) {
	raw, err := h.store.kv.Get(ctx, h.store.historyKey(h.id))
	if cache.IsCacheMiss(err) {
		h.store.record("get_history", nil)
		h.store.metrics.RecordStoreMiss(backendRedis)
		return nil, nil
	}
	h.store.record("get_history", err)
	if err != nil {
		return nil, err
	}
	return DecodeHistory([]byte(raw))
}

// AddMessage 读出、追加、以 SET EX 写回。写失败只记录日志。
// 已有数据损坏时不覆盖，保留原值供排查。
func (h *redisHistory) AddMessage(ctx context.Context, msg types.Message) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	err := h.append(ctx, msg)
	h.store.record("add_message", err)
	if err != nil {
		h.store.logger.Warn("append history failed",
			zap.String("session_id", h.id), zap.String("role", string(msg.Role)), zap.Error(err))
	}
}

func (h *redisHistory) append(ctx context.Context, msg types.Message) error {
	key := h.store.historyKey(h.id)
	raw, err := h.store.kv.Get(ctx, key)
	var msgs []types.Message
	switch {
	case cache.IsCacheMiss(err):
	case err != nil:
		return err
	default:
		if msgs, err = DecodeHistory([]byte(raw)); err != nil {
			return fmt.Errorf("existing history is corrupt: %w", err)
		}
	}

	data, err := EncodeHistory(append(msgs, msg))
	if err != nil {
		return err
	}
	if err := h.store.kv.Set(ctx, key, string(data), h.ttl); err != nil {
		return err
	}
	// 会话数据块与历史同步续期
	if err := h.store.kv.Expire(ctx, h.store.sessionKey(h.id), h.ttl); err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		h.store.logger.Debug("refresh session ttl failed", zap.String("session_id", h.id), zap.Error(err))
	}
	return nil
}
