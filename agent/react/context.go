package react

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// DefaultContextCapacity 上下文跟踪器默认容量
const DefaultContextCapacity = 10

// summaryLimit 结果摘要最多保留的字符数
const summaryLimit = 200

// DeicticTerms 指代性词语：用户消息包含任一词语时附加上下文提示
var DeicticTerms = []string{
	"它", "他", "她", "这个", "那个", "刚才", "上一步", "之前", "刚刚",
	"运行", "执行", "启动", "继续", "接着",
}

// ToolHints 按工具名给出的针对性建议
var ToolHints = map[string]string{
	"crewai_generator": "上一步刚生成了 CrewAI 团队配置，如需执行请使用 crewai_runtime 工具（action=run），摘要中有 execution_id 时一并传入以启动已登记的执行。",
	"crewai_runtime":   "上一步已经启动或控制了团队执行，如需查看进度请使用 execution_status 工具并传入 execution_id。",
	"execution_status": "上一步查询了执行状态，如需暂停、恢复或取消请使用 crewai_runtime 工具。",
}

// ToolCall 一次工具调用的记录
type ToolCall struct {
	Tool    string    `json:"tool"`
	Summary string    `json:"summary"`
	At      time.Time `json:"at"`
}

// ContextSnapshot 可序列化的跟踪器内容，按时间从旧到新
type ContextSnapshot struct {
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Queries   []string   `json:"queries,omitempty"`
}

// ContextTracker 记录会话内最近的工具调用与用户问题（环形缓冲），
// 在用户使用指代性表达时生成上下文提示。并发安全。
type ContextTracker struct {
	mu       sync.Mutex
	capacity int
	calls    ring[ToolCall]
	queries  ring[string]
	terms    []string
	hints    map[string]string
}

// NewContextTracker 创建跟踪器；capacity <= 0 时使用默认容量
func NewContextTracker(capacity int) *ContextTracker {
	if capacity <= 0 {
		capacity = DefaultContextCapacity
	}
	return &ContextTracker{
		capacity: capacity,
		calls:    newRing[ToolCall](capacity),
		queries:  newRing[string](capacity),
		terms:    DeicticTerms,
		hints:    ToolHints,
	}
}

// WithHints 替换指代词和工具提示表
func (t *ContextTracker) WithHints(terms []string, hints map[string]string) *ContextTracker {
	t.mu.Lock()
	defer t.mu.Unlock()
	if terms != nil {
		t.terms = terms
	}
	if hints != nil {
		t.hints = hints
	}
	return t
}

// RecordToolCall 记录一次工具调用及结果摘要
func (t *ContextTracker) RecordToolCall(tool, result string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls.push(ToolCall{Tool: tool, Summary: summarize(result), At: time.Now()})
}

// RecordQuery 记录用户问题
func (t *ContextTracker) RecordQuery(q string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queries.push(q)
}

// LastToolCall 最近一次工具调用
func (t *ContextTracker) LastToolCall() (ToolCall, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls.last()
}

// Snapshot 导出内容
func (t *ContextTracker) Snapshot() ContextSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return ContextSnapshot{ToolCalls: t.calls.items(), Queries: t.queries.items()}
}

// Restore 用快照替换内容，超出容量的旧条目被丢弃
func (t *ContextTracker) Restore(s ContextSnapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = newRing[ToolCall](t.capacity)
	for _, c := range s.ToolCalls {
		t.calls.push(c)
	}
	t.queries = newRing[string](t.capacity)
	for _, q := range s.Queries {
		t.queries.push(q)
	}
}

// IsDeictic 消息是否包含指代性词语
func (t *ContextTracker) IsDeictic(message string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return containsAny(strings.ToLower(message), t.terms)
}

// Hint 返回应附加到用户消息后的提示；不需要时返回空串
func (t *ContextTracker) Hint(message string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !containsAny(strings.ToLower(message), t.terms) {
		return ""
	}
	last, ok := t.calls.last()
	if !ok {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[上下文提示] 最近一次调用的工具是 %s", last.Tool)
	if last.Summary != "" {
		fmt.Fprintf(&b, "，结果摘要：%s", last.Summary)
	}
	b.WriteString("。")
	if h, ok := t.hints[last.Tool]; ok {
		b.WriteString(h)
	}
	return b.String()
}

// Augment 返回附加了上下文提示的用户消息
func (t *ContextTracker) Augment(message string) string {
	if hint := t.Hint(message); hint != "" {
		return message + "\n\n" + hint
	}
	return message
}

func containsAny(s string, terms []string) bool {
	for _, term := range terms {
		if term != "" && strings.Contains(s, term) {
			return true
		}
	}
	return false
}

func summarize(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= summaryLimit {
		return s
	}
	r := []rune(s)
	return string(r[:summaryLimit]) + "..."
}

// ring 固定容量环形缓冲，满时覆盖最旧条目
type ring[T any] struct {
	buf   []T
	start int
	n     int
}

func newRing[T any](capacity int) ring[T] {
	return ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) push(v T) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = v
		r.n++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring[T]) last() (T, bool) {
	var zero T
	if r.n == 0 {
		return zero, false
	}
	return r.buf[(r.start+r.n-1)%len(r.buf)], true
}

func (r *ring[T]) items() []T {
	out := make([]T, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}
