package execution

import (
	"errors"
	"time"
)

// Status crew 执行状态
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal 终态不允许任何后续转换
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

var (
	// ErrNotFound 执行记录不存在
	ErrNotFound = errors.New("execution not found")
	// ErrInvalidTransition 当前状态不允许该操作
	ErrInvalidTransition = errors.New("invalid execution transition")
)

// 日志级别
const (
	LevelDebug   = "debug"
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// LogEntry 执行日志
type LogEntry struct {
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Record 执行记录快照。Tracker 返回的 Record 是副本，修改它不影响跟踪器。
type Record struct {
	ID           string         `json:"execution_id"`
	CrewConfig   map[string]any `json:"crew_config"`
	Inputs       map[string]any `json:"inputs"`
	Status       Status         `json:"status"`
	Progress     int            `json:"progress"`
	CurrentAgent string         `json:"current_agent,omitempty"`
	CurrentTask  string         `json:"current_task,omitempty"`
	Logs         []LogEntry     `json:"logs"`
	StartedAt    time.Time      `json:"started_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	Result       any            `json:"result,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// CrewName 从 crew_config 中读取 crew 名称
func (r Record) CrewName() string {
	if inner, ok := r.CrewConfig["crewai_config"].(map[string]any); ok {
		if name, ok := inner["name"].(string); ok {
			return name
		}
	}
	name, _ := r.CrewConfig["name"].(string)
	return name
}

// Duration 从开始到完成（未完成时到最近更新）的耗时
func (r Record) Duration() time.Duration {
	end := r.UpdatedAt
	if r.CompletedAt != nil {
		end = *r.CompletedAt
	}
	return end.Sub(r.StartedAt)
}

func (r Record) clone() Record {
	out := r
	out.Logs = append([]LogEntry(nil), r.Logs...)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// ProgressUpdate 进度更新，nil 字段保持不变
type ProgressUpdate struct {
	CurrentAgent *string
	CurrentTask  *string
	Progress     *int
}

// Str 构造 ProgressUpdate 的字符串字段
func Str(s string) *string { return &s }

// Int 构造 ProgressUpdate 的进度字段
func Int(n int) *int { return &n }
