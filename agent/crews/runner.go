package crews

import (
	"context"
	"errors"
	"fmt"

	"github.com/BaSui01/crewplanner/agent/execution"
	"github.com/BaSui01/crewplanner/internal/metrics"
	"github.com/BaSui01/crewplanner/llm"
	"go.uber.org/zap"
)

// errStopped 执行记录已被外部置为终态
var errStopped = errors.New("execution stopped")

// Runner 逐个任务执行生成的 crew，并把进度、当前 agent / task 与日志写入 Tracker
type Runner struct {
	provider llm.Provider
	model    string
	tracker  *execution.Tracker
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// NewRunner 创建 Runner，provider 为 nil 时以演练模式执行
func NewRunner(provider llm.Provider, model string, tracker *execution.Tracker, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		provider: provider,
		model:    model,
		tracker:  tracker,
		logger:   logger.With(zap.String("component", "crew_runner")),
	}
}

// WithMetrics 记录 LLM 调用指标
func (r *Runner) WithMetrics(c *metrics.Collector) *Runner {
	r.metrics = c
	return r
}

// Tracker 返回执行跟踪器
func (r *Runner) Tracker() *execution.Tracker { return r.tracker }

// Launch 登记执行并在后台运行，立即返回 execution_id。
// 后台执行不随 ctx 取消，通过 Tracker.Cancel 停止。
func (r *Runner) Launch(ctx context.Context, doc Document, inputs map[string]any) (string, error) {
	if err := doc.Validate(); err != nil {
		return "", fmt.Errorf("launch crew: %w", err)
	}
	cfg, err := doc.ToMap()
	if err != nil {
		return "", err
	}
	id := r.tracker.Create(cfg, inputs)
	r.background(ctx, id, doc, inputs)
	return id, nil
}

// LaunchRegistered 在后台运行一条已登记、仍为 pending 的执行记录
func (r *Runner) LaunchRegistered(ctx context.Context, id string) error {
	rec, err := r.tracker.Status(id)
	if err != nil {
		return err
	}
	if rec.Status != execution.StatusPending {
		return fmt.Errorf("%w: %s is %s, want pending", execution.ErrInvalidTransition, id, rec.Status)
	}
	doc, err := DocumentFromMap(rec.CrewConfig)
	if err == nil {
		err = doc.Validate()
	}
	if err != nil {
		_ = r.tracker.Fail(id, err.Error())
		return fmt.Errorf("launch %s: %w", id, err)
	}
	r.background(ctx, id, doc, rec.Inputs)
	return nil
}

func (r *Runner) background(ctx context.Context, id string, doc Document, inputs map[string]any) {
	bg := context.WithoutCancel(ctx)
	go func() {
		if err := r.Run(bg, id, doc, inputs); err != nil {
			r.logger.Warn("crew run ended with error", zap.String("execution_id", id), zap.Error(err))
		}
	}()
}

// Run 同步执行已登记的记录 id。暂停时在任务之间等待；取消后在当前任务结束时停止。
func (r *Runner) Run(ctx context.Context, id string, doc Document, inputs map[string]any) error {
	log := r.logger.With(zap.String("execution_id", id))

	crew, err := BuildCrew(doc, inputs, r.provider, r.model, r.metrics, r.logger)
	if err != nil {
		_ = r.tracker.Fail(id, err.Error())
		return err
	}
	if err := r.tracker.Start(id); err != nil {
		return err
	}
	_ = r.tracker.AddLog(id, execution.LevelInfo, "crew started", map[string]any{
		"crew":    crew.Name,
		"process": string(crew.Process),
		"tasks":   len(crew.Tasks()),
	})

	hooks := Hooks{
		BeforeTask: func(ctx context.Context, index, total int, task CrewTask, member *CrewMember) error {
			status, err := r.tracker.WaitWhilePaused(ctx, id)
			if err != nil {
				return err
			}
			if status.Terminal() {
				return errStopped
			}
			_ = r.tracker.UpdateProgress(id, execution.ProgressUpdate{
				CurrentAgent: execution.Str(member.ID),
				CurrentTask:  execution.Str(task.ID),
				Progress:     execution.Int(index * 100 / total),
			})
			_ = r.tracker.AddLog(id, execution.LevelInfo, "task started", map[string]any{
				"task": task.ID, "agent": member.ID,
			})
			return nil
		},
		AfterTask: func(index, total int, res *TaskResult) {
			if res.Error != "" {
				_ = r.tracker.AddLog(id, execution.LevelError, "task failed", map[string]any{
					"task": res.TaskID, "error": res.Error,
				})
				return
			}
			_ = r.tracker.AddLog(id, execution.LevelInfo, "task completed", map[string]any{
				"task": res.TaskID, "agent": res.MemberID, "duration_ms": res.Duration,
			})
			_ = r.tracker.UpdateProgress(id, execution.ProgressUpdate{
				Progress: execution.Int((index + 1) * 100 / total),
			})
		},
	}

	result, err := crew.Execute(ctx, hooks)
	switch {
	case errors.Is(err, errStopped):
		log.Info("crew stopped by tracker", zap.Int("tasks_done", len(result.Order)))
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		_ = r.tracker.Cancel(id)
		return err
	case err != nil:
		_ = r.tracker.Fail(id, err.Error())
		return err
	}

	if err := r.tracker.Complete(id, result.Summary(), true); err != nil {
		// 最后一个任务执行期间被取消
		log.Info("crew finished after external stop", zap.Error(err))
		return nil
	}
	log.Info("crew completed", zap.Duration("duration", result.Duration))
	return nil
}
