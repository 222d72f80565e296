package conversation

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/crewplanner/internal/metrics"
	"github.com/BaSui01/crewplanner/types"
	"go.uber.org/zap"
)

const backendMemory = "memory"

type memEntry struct {
	data      []byte
	expiresAt time.Time
}

func (e memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore 进程内会话存储，与 RedisStore 语义一致（包括 TTL）。
// 值以编码后的字节保存，读出的数据与调用方互不影响。
type MemoryStore struct {
	mu       sync.RWMutex
	history  map[string]memEntry
	sessions map[string]memEntry
	ttl      time.Duration
	now      func() time.Time
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// NewMemoryStore 创建内存存储；ttl <= 0 时使用 DefaultTTL
func NewMemoryStore(ttl time.Duration, logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		history:  make(map[string]memEntry),
		sessions: make(map[string]memEntry),
		ttl:      ttl,
		now:      time.Now,
		logger:   logger.With(zap.String("component", "conversation_store"), zap.String("backend", backendMemory)),
	}
}

// WithMetrics 记录存储操作指标
func (s *MemoryStore) WithMetrics(c *metrics.Collector) *MemoryStore {
	s.metrics = c
	return s
}

// WithClock 替换时钟（测试用）
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Backend() string { return backendMemory }

func (s *MemoryStore) History(_ context.Context, sessionID string, ttl time.Duration) History {
	if ttl <= 0 {
		ttl = s.ttl
	}
	return &memoryHistory{store: s, id: sessionID, ttl: ttl}
}

func (s *MemoryStore) SaveSession(_ context.Context, sessionID string, blob map[string]any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.ttl
	}
	data, err := json.Marshal(blob)
	s.metrics.RecordStoreOperation(backendMemory, "save_session", metrics.Status(err))
	if err != nil {
		s.logger.Warn("save session failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	s.mu.Lock()
	s.sessions[sessionID] = memEntry{data: data, expiresAt: s.now().Add(ttl)}
	s.mu.Unlock()
}

func (s *MemoryStore) LoadSession(_ context.Context, sessionID string) (map[string]any, bool) {
	s.mu.RLock()
	e, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok || e.expired(s.now()) {
		s.metrics.RecordStoreOperation(backendMemory, "load_session", "ok")
		s.metrics.RecordStoreMiss(backendMemory)
		return nil, false
	}
	var blob map[string]any
	err := json.Unmarshal(e.data, &blob)
	s.metrics.RecordStoreOperation(backendMemory, "load_session", metrics.Status(err))
	if err != nil {
		s.logger.Warn("load session failed", zap.String("session_id", sessionID), zap.Error(err))
		return nil, false
	}
	return blob, blob != nil
}

func (s *MemoryStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.history, sessionID)
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	s.metrics.RecordStoreOperation(backendMemory, "clear", "ok")
	return nil
}

func (s *MemoryStore) DeleteSession(ctx context.Context, sessionID string) error {
	return s.Clear(ctx, sessionID)
}

// ListSessions 列出未过期的会话 id（排序）
func (s *MemoryStore) ListSessions(_ context.Context) ([]string, error) {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{}, len(s.history)+len(s.sessions))
	for _, m := range []map[string]memEntry{s.history, s.sessions} {
		for id, e := range m {
			if !e.expired(now) {
				seen[id] = struct{}{}
			}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) ClearAll(_ context.Context) error {
	s.mu.Lock()
	s.history = make(map[string]memEntry)
	s.sessions = make(map[string]memEntry)
	s.mu.Unlock()
	s.metrics.RecordStoreOperation(backendMemory, "clear_all", "ok")
	return nil
}

func (s *MemoryStore) Close() error { return nil }

type memoryHistory struct {
	store *MemoryStore
	id    string
	ttl   time.Duration
}

func (h *memoryHistory) SessionID() string { return h.id }

func (h *memoryHistory) Messages(_ context.Context) []types.Message {
	s := h.store
	s.mu.RLock()
	e, ok := s.history[h.id]
	s.mu.RUnlock()
	if !ok || e.expired(s.now()) {
		s.metrics.RecordStoreOperation(backendMemory, "get_history", "ok")
		s.metrics.RecordStoreMiss(backendMemory)
		return nil
	}
	msgs, err := DecodeHistory(e.data)
	s.metrics.RecordStoreOperation(backendMemory, "get_history", metrics.Status(err))
	if err != nil {
		s.logger.Warn("read history failed, returning empty history", zap.String("session_id", h.id), zap.Error(err))
		return nil
	}
	return msgs
}

func (h *memoryHistory) AddMessage(_ context.Context, msg types.Message) {
	s := h.store
	now := s.now()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var msgs []types.Message
	if e, ok := s.history[h.id]; ok && !e.expired(now) {
		var err error
		if msgs, err = DecodeHistory(e.data); err != nil {
			s.metrics.RecordStoreOperation(backendMemory, "add_message", "error")
			s.logger.Warn("append history failed", zap.String("session_id", h.id), zap.Error(err))
			return
		}
	}
	data, err := EncodeHistory(append(msgs, msg))
	s.metrics.RecordStoreOperation(backendMemory, "add_message", metrics.Status(err))
	if err != nil {
		s.logger.Warn("append history failed", zap.String("session_id", h.id), zap.Error(err))
		return
	}
	expires := now.Add(h.ttl)
	s.history[h.id] = memEntry{data: data, expiresAt: expires}
	if e, ok := s.sessions[h.id]; ok && !e.expired(now) {
		e.expiresAt = expires
		s.sessions[h.id] = e
	}
}
