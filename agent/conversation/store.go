package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/crewplanner/types"
)

// DefaultTTL 会话键默认过期时间
const DefaultTTL = 86400 * time.Second

// 键布局
const (
	HistoryKeyPrefix = "chat_history:"
	SessionKeyPrefix = "session:"
)

// Store 会话存储：每个会话一份有序消息历史和一个不透明的会话数据块。
// 写失败只记录日志不返回错误；读失败按空历史 / 无数据处理。
type Store interface {
	// History 返回会话历史句柄；ttl <= 0 时使用存储的默认值
	History(ctx context.Context, sessionID string, ttl time.Duration) History
	// SaveSession 写入会话数据块；ttl <= 0 时使用存储的默认值
	SaveSession(ctx context.Context, sessionID string, blob map[string]any, ttl time.Duration)
	LoadSession(ctx context.Context, sessionID string) (map[string]any, bool)
	// Clear 删除会话历史与数据块
	Clear(ctx context.Context, sessionID string) error
	ListSessions(ctx context.Context) ([]string, error)
	DeleteSession(ctx context.Context, sessionID string) error
	ClearAll(ctx context.Context) error
	// Backend 后端名称：redis 或 memory
	Backend() string
	Close() error
}

// History 单个会话的消息历史。AddMessage 返回时写入已生效并刷新 TTL。
type History interface {
	SessionID() string
	Messages(ctx context.Context) []types.Message
	AddMessage(ctx context.Context, msg types.Message)
}

// ErrConnection 后端在构造时不可达
var ErrConnection = errors.New("conversation store connection failed")

// ConnectionError 构造时连接失败，调用方可据此退回内存存储
type ConnectionError struct {
	Backend string
	Addr    string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s store at %s unreachable: %v", e.Backend, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Is 使 errors.Is(err, ErrConnection) 成立
func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

// AsStorageError 转为带 STORAGE_UNAVAILABLE 代码的结构化错误
func (e *ConnectionError) AsStorageError() *types.Error {
	return types.WrapError(e, types.ErrStorageUnavailable, "conversation store unavailable").WithRetryable(true)
}
