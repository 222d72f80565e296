package main

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BaSui01/crewplanner/agent/conversation"
	"github.com/BaSui01/crewplanner/agent/crews"
	"github.com/BaSui01/crewplanner/agent/execution"
	"github.com/BaSui01/crewplanner/agent/planner"
	"github.com/BaSui01/crewplanner/agent/react"
	"github.com/BaSui01/crewplanner/config"
	"github.com/BaSui01/crewplanner/internal/database"
	"github.com/BaSui01/crewplanner/internal/metrics"
	"github.com/BaSui01/crewplanner/internal/server"
	"github.com/BaSui01/crewplanner/internal/telemetry"
	"github.com/BaSui01/crewplanner/internal/tlsutil"
	"github.com/BaSui01/crewplanner/llm/factory"
	"github.com/BaSui01/crewplanner/tools"
	"github.com/BaSui01/crewplanner/tools/builtin"
)

// app 装配好的运行时组件
type app struct {
	logger    *zap.Logger
	telemetry *telemetry.Providers
	metrics   *metrics.Collector
	store     conversation.Store
	tracker   *execution.Tracker
	archive   *database.PoolManager
	registry  *tools.Registry
	machine   *planner.Machine
	http      *server.Manager

	stopJanitor context.CancelFunc
}

// newApp 按配置装配各组件。配置类错误立即返回，归档库与遥测不可用时降级运行。
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{logger: logger}

	providers, err := telemetry.Init(ctx, cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	a.telemetry = providers

	if cfg.Metrics.Enabled {
		a.metrics = metrics.NewCollector(cfg.Metrics.Namespace, prometheus.DefaultRegisterer, logger)
	}

	provider, err := factory.NewProvider(cfg.LLM.ClientConfig(), logger)
	if err != nil {
		return nil, err
	}

	a.store, err = conversation.New(ctx, cfg.Redis, a.metrics, logger)
	if err != nil {
		return nil, err
	}

	a.tracker = execution.NewTracker(cfg.Tracker.MaxLogs, logger).WithMetrics(a.metrics)
	if cfg.Tracker.ArchiveDriver != "" {
		if err := a.openArchive(ctx, cfg.Tracker); err != nil {
			logger.Warn("execution archive unavailable, records will not be archived", zap.Error(err))
		}
	}
	janitorCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.stopJanitor = cancel
	retention := time.Duration(cfg.Tracker.RetentionHours) * time.Hour
	go execution.NewJanitor(a.tracker, cfg.Tracker.CleanupInterval, retention, logger).Run(janitorCtx)

	generator := crews.NewGenerator(provider, cfg.LLM.Model, logger).WithMetrics(a.metrics)
	runner := crews.NewRunner(provider, cfg.LLM.Model, a.tracker, logger).WithMetrics(a.metrics)
	latest := &builtin.LatestCrew{}
	classes := builtin.Classes(builtin.Deps{
		Tracker:   a.tracker,
		Generator: generator,
		Runner:    runner,
		Latest:    latest,
		Logger:    logger,
	})
	a.registry = tools.NewRegistry(tools.NewFactory(classes, tlsutil.HTTPClient(cfg.LLM.Timeout), logger), logger)
	if err := a.registry.LoadFiles(ctx, cfg.Tools.Paths...); err != nil {
		a.Close()
		return nil, err
	}

	execCfg := react.DefaultConfig()
	execCfg.Model = cfg.LLM.Model
	execCfg.Temperature = cfg.LLM.Temperature
	execCfg.MaxTokens = cfg.LLM.MaxTokens
	execCfg.MaxIterations = cfg.Agent.MaxIterations
	execCfg.MaxExecutionTime = cfg.Agent.MaxExecutionTime
	execCfg.Verbose = cfg.Agent.Verbose
	execCfg.SystemPrompt = planner.SystemPrompt
	executor := react.NewExecutor(provider, a.registry.ToolsForAgent(cfg.Agent.Name), execCfg, logger).
		WithMetrics(a.metrics)

	a.machine = planner.NewMachine(a.store, executor, generator, planner.Config{
		HistoryWindow:   cfg.Agent.HistoryWindow,
		ContextCapacity: cfg.Agent.ContextCapacity,
		HistoryTTL:      cfg.Redis.TTL,
	}, logger).
		WithTracker(a.tracker).
		WithCrewSink(latest).
		WithMetrics(a.metrics)

	if cfg.Metrics.Enabled && cfg.Metrics.Addr != "" {
		srvCfg := server.DefaultConfig()
		srvCfg.Addr = cfg.Metrics.Addr
		a.http = server.NewManager(server.Handler(prometheus.DefaultGatherer, a.healthy), srvCfg, logger)
		if err := a.http.Start(); err != nil {
			logger.Warn("metrics endpoint not started", zap.Error(err))
			a.http = nil
		}
	}

	return a, nil
}

// healthy 会话存储可读即视为健康
func (a *app) healthy(ctx context.Context) error {
	_, err := a.store.ListSessions(ctx)
	return err
}

func (a *app) openArchive(ctx context.Context, cfg config.TrackerConfig) error {
	pool, err := database.Open(database.Config{Driver: cfg.ArchiveDriver, DSN: cfg.ArchiveDSN}, a.logger)
	if err != nil {
		return err
	}
	archive, err := execution.NewGormArchive(ctx, pool, a.metrics, a.logger)
	if err != nil {
		pool.Close()
		return err
	}
	a.archive = pool
	a.tracker.WithArchive(archive)
	return nil
}

// Close 释放所有组件，返回遇到的全部错误
func (a *app) Close() error {
	var errs []error
	if a.stopJanitor != nil {
		a.stopJanitor()
	}
	if a.http != nil {
		errs = append(errs, a.http.Shutdown(context.Background()))
	}
	if a.registry != nil {
		errs = append(errs, a.registry.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.archive != nil {
		errs = append(errs, a.archive.Close())
	}
	if a.telemetry != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, a.telemetry.Shutdown(shutdownCtx))
	}
	return errors.Join(errs...)
}
