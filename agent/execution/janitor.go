package execution

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Janitor 周期性调用 CleanupOld，直到 ctx 结束
type Janitor struct {
	tracker  *Tracker
	interval time.Duration
	maxAge   time.Duration
	logger   *zap.Logger
}

// NewJanitor 创建保留期清理任务
func NewJanitor(tracker *Tracker, interval, maxAge time.Duration, logger *zap.Logger) *Janitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Janitor{
		tracker:  tracker,
		interval: interval,
		maxAge:   maxAge,
		logger:   logger.With(zap.String("component", "execution_janitor")),
	}
}

// Run 阻塞运行；单轮失败只记录日志
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("janitor started", zap.Duration("interval", j.interval), zap.Duration("max_age", j.maxAge))
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("janitor stopped")
			return
		case <-ticker.C:
			if _, err := j.tracker.CleanupOld(ctx, j.maxAge); err != nil {
				j.logger.Warn("cleanup round failed", zap.Error(err))
			}
		}
	}
}
