package execution

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/crewplanner/internal/metrics"
	"github.com/BaSui01/crewplanner/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultMaxLogs 每条记录保留的日志条数上限
const DefaultMaxLogs = 1000

// Tracker 跟踪 crew 执行记录。每条记录的修改在该记录的互斥锁下串行化，
// 不同记录之间互不阻塞。Tracker 作为显式依赖在启动时创建。
type Tracker struct {
	mu      sync.RWMutex
	records map[string]*entry

	maxLogs int
	archive Archive
	metrics *metrics.Collector
	now     func() time.Time
	newID   func() string
	logger  *zap.Logger
}

type entry struct {
	mu  sync.Mutex
	rec Record
	// changed 在每次状态变化时关闭并替换，用于等待暂停结束
	changed chan struct{}
}

// NewTracker 创建跟踪器，maxLogs <= 0 时使用 DefaultMaxLogs
func NewTracker(maxLogs int, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxLogs <= 0 {
		maxLogs = DefaultMaxLogs
	}
	return &Tracker{
		records: make(map[string]*entry),
		maxLogs: maxLogs,
		now:     time.Now,
		newID:   uuid.NewString,
		logger:  logger.With(zap.String("component", "execution_tracker")),
	}
}

// WithArchive 清理前把终态记录写入归档
func (t *Tracker) WithArchive(a Archive) *Tracker {
	t.archive = a
	return t
}

// WithMetrics 记录状态变化指标
func (t *Tracker) WithMetrics(c *metrics.Collector) *Tracker {
	t.metrics = c
	return t
}

// WithClock 替换时钟（测试用）
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	if now != nil {
		t.now = now
	}
	return t
}

// Create 登记一次执行，初始状态为 pending
func (t *Tracker) Create(crewConfig, inputs map[string]any) string {
	now := t.now()
	id := t.newID()
	e := &entry{
		rec: Record{
			ID:         id,
			CrewConfig: crewConfig,
			Inputs:     inputs,
			Status:     StatusPending,
			Logs:       []LogEntry{},
			StartedAt:  now,
			UpdatedAt:  now,
		},
		changed: make(chan struct{}),
	}

	t.mu.Lock()
	t.records[id] = e
	n := len(t.records)
	t.mu.Unlock()

	t.metrics.RecordExecutionStatus(string(StatusPending))
	t.metrics.SetExecutionsTracked(n)
	t.logger.Info("execution created", zap.String("execution_id", id), zap.String("crew", e.rec.CrewName()))
	return id
}

func (t *Tracker) get(id string) (*entry, error) {
	t.mu.RLock()
	e, ok := t.records[id]
	t.mu.RUnlock()
	if !ok {
		return nil, types.WrapError(ErrNotFound, types.ErrExecutionNotFound, "execution "+id)
	}
	return e, nil
}

// transition 在记录锁下校验并执行状态转换
func (t *Tracker) transition(id, action string, allowed func(Status) bool, apply func(r *Record, now time.Time)) error {
	e, err := t.get(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	from := e.rec.Status
	if !allowed(from) {
		e.mu.Unlock()
		code := types.ErrInvalidTransition
		if from.Terminal() {
			code = types.ErrExecutionTerminal
		}
		t.logger.Warn("execution transition rejected",
			zap.String("execution_id", id),
			zap.String("action", action),
			zap.String("status", string(from)),
		)
		return types.WrapError(ErrInvalidTransition, code,
			fmt.Sprintf("cannot %s execution %s in status %s", action, id, from))
	}
	now := t.now()
	apply(&e.rec, now)
	e.rec.UpdatedAt = now
	to := e.rec.Status
	if to != from {
		close(e.changed)
		e.changed = make(chan struct{})
	}
	e.mu.Unlock()

	if to != from {
		t.metrics.RecordExecutionStatus(string(to))
		t.logger.Info("execution status changed",
			zap.String("execution_id", id),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
		)
	}
	return nil
}

func is(statuses ...Status) func(Status) bool {
	return func(s Status) bool {
		for _, x := range statuses {
			if s == x {
				return true
			}
		}
		return false
	}
}

func nonTerminal(s Status) bool { return !s.Terminal() }

func finish(r *Record, status Status, now time.Time) {
	r.Status = status
	at := now
	r.CompletedAt = &at
}

// Start pending → running
func (t *Tracker) Start(id string) error {
	return t.transition(id, "start", is(StatusPending), func(r *Record, _ time.Time) {
		r.Status = StatusRunning
	})
}

// Pause running → paused
func (t *Tracker) Pause(id string) error {
	return t.transition(id, "pause", is(StatusRunning), func(r *Record, _ time.Time) {
		r.Status = StatusPaused
	})
}

// Resume paused → running
func (t *Tracker) Resume(id string) error {
	return t.transition(id, "resume", is(StatusPaused), func(r *Record, _ time.Time) {
		r.Status = StatusRunning
	})
}

// Cancel 任意非终态 → cancelled
func (t *Tracker) Cancel(id string) error {
	return t.transition(id, "cancel", nonTerminal, func(r *Record, now time.Time) {
		finish(r, StatusCancelled, now)
	})
}

// Complete running|paused → completed（success）或 failed。
// 失败时 result 作为错误详情记录。
func (t *Tracker) Complete(id string, result any, success bool) error {
	return t.transition(id, "complete", is(StatusRunning, StatusPaused), func(r *Record, now time.Time) {
		if success {
			finish(r, StatusCompleted, now)
			r.Progress = 100
			r.Result = result
			return
		}
		finish(r, StatusFailed, now)
		r.Error = fmt.Sprint(result)
	})
}

// Fail 任意非终态 → failed
func (t *Tracker) Fail(id string, errMsg string) error {
	return t.transition(id, "fail", nonTerminal, func(r *Record, now time.Time) {
		finish(r, StatusFailed, now)
		r.Error = errMsg
	})
}

// UpdateProgress 更新当前 agent / task / 进度。进度被限制在 [0, 100]，
// 未完成的记录最多为 99，100 只在 completed 时出现。
func (t *Tracker) UpdateProgress(id string, u ProgressUpdate) error {
	return t.transition(id, "update progress", nonTerminal, func(r *Record, _ time.Time) {
		if u.CurrentAgent != nil {
			r.CurrentAgent = *u.CurrentAgent
		}
		if u.CurrentTask != nil {
			r.CurrentTask = *u.CurrentTask
		}
		if u.Progress != nil {
			r.Progress = ClampProgress(*u.Progress, false)
		}
	})
}

// ClampProgress 把进度限制在 [0, 100]；completed 为 false 时上限为 99
func ClampProgress(p int, completed bool) int {
	upper := 99
	if completed {
		upper = 100
	}
	switch {
	case p < 0:
		return 0
	case p > upper:
		return upper
	default:
		return p
	}
}

// AddLog 追加日志，超过上限时丢弃最旧的条目。终态记录也允许追加日志。
func (t *Tracker) AddLog(id, level, message string, metadata map[string]any) error {
	e, err := t.get(id)
	if err != nil {
		return err
	}
	if level == "" {
		level = LevelInfo
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rec.Logs = append(e.rec.Logs, LogEntry{
		Level:     level,
		Message:   message,
		Timestamp: t.now(),
		Metadata:  metadata,
	})
	if over := len(e.rec.Logs) - t.maxLogs; over > 0 {
		e.rec.Logs = append([]LogEntry(nil), e.rec.Logs[over:]...)
	}
	return nil
}

// Status 返回记录的一致快照
func (t *Tracker) Status(id string) (Record, error) {
	e, err := t.get(id)
	if err != nil {
		return Record{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.clone(), nil
}

// RecentLogs 最近 limit 条日志（limit <= 0 时为 50）
func (t *Tracker) RecentLogs(id string, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	e, err := t.get(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	logs := e.rec.Logs
	if len(logs) > limit {
		logs = logs[len(logs)-limit:]
	}
	return append([]LogEntry(nil), logs...), nil
}

// List 按开始时间倒序返回快照；statuses 为空时返回全部
func (t *Tracker) List(statuses ...Status) []Record {
	t.mu.RLock()
	entries := make([]*entry, 0, len(t.records))
	for _, e := range t.records {
		entries = append(entries, e)
	}
	t.mu.RUnlock()

	match := is(statuses...)
	out := make([]Record, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		rec := e.rec.clone()
		e.mu.Unlock()
		if len(statuses) == 0 || match(rec.Status) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// WaitWhilePaused 阻塞到记录离开 paused 状态或 ctx 结束，返回当时的状态
func (t *Tracker) WaitWhilePaused(ctx context.Context, id string) (Status, error) {
	e, err := t.get(id)
	if err != nil {
		return "", err
	}
	for {
		e.mu.Lock()
		status, changed := e.rec.Status, e.changed
		e.mu.Unlock()
		if status != StatusPaused {
			return status, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return status, ctx.Err()
		}
	}
}

// CleanupOld 删除开始时间早于 maxAge 的记录（无论是否终态），返回删除数量。
// 配置了归档时先归档其中的终态记录；归档失败则本轮不删除。
func (t *Tracker) CleanupOld(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := t.now().Add(-maxAge)

	t.mu.RLock()
	var stale []string
	for id, e := range t.records {
		e.mu.Lock()
		old := e.rec.StartedAt.Before(cutoff)
		e.mu.Unlock()
		if old {
			stale = append(stale, id)
		}
	}
	t.mu.RUnlock()
	if len(stale) == 0 {
		return 0, nil
	}

	if t.archive != nil {
		var terminal []Record
		for _, id := range stale {
			if rec, err := t.Status(id); err == nil && rec.Status.Terminal() {
				terminal = append(terminal, rec)
			}
		}
		if len(terminal) > 0 {
			if err := t.archive.Save(ctx, terminal); err != nil {
				t.logger.Error("archive before cleanup failed", zap.Int("records", len(terminal)), zap.Error(err))
				return 0, fmt.Errorf("archive executions: %w", err)
			}
		}
	}

	t.mu.Lock()
	for _, id := range stale {
		delete(t.records, id)
	}
	n := len(t.records)
	t.mu.Unlock()

	t.metrics.SetExecutionsTracked(n)
	t.logger.Info("old executions removed", zap.Int("removed", len(stale)), zap.Duration("max_age", maxAge))
	return len(stale), nil
}
