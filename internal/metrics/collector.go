// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。nil *Collector 的所有 Record 方法都是空操作，
// 组件可以在未启用指标时直接持有 nil。
type Collector struct {
	// 规划会话
	plannerTurns      *prometheus.CounterVec
	stateTransitions  *prometheus.CounterVec
	transitionsDenied *prometheus.CounterVec

	// 工具
	toolCallsTotal   *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec

	// ReAct 执行器
	executorRuns       *prometheus.CounterVec
	executorIterations prometheus.Histogram

	// LLM
	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec
	llmTokensUsed      *prometheus.CounterVec

	// Crew 执行
	executionsTotal *prometheus.CounterVec
	executionsLive  prometheus.Gauge

	// 会话存储
	storeOps    *prometheus.CounterVec
	storeMisses *prometheus.CounterVec

	// 归档数据库
	dbQueryDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 在 reg 上注册全部指标；reg 为 nil 时使用默认注册表
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.plannerTurns = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "planner_turns_total",
			Help:      "Total number of planner turns by pre-turn state",
		},
		[]string{"state"},
	)

	c.stateTransitions = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "planner_state_transitions_total",
			Help:      "Total number of planning state transitions",
		},
		[]string{"from_state", "to_state"},
	)

	c.transitionsDenied = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "planner_transitions_denied_total",
			Help:      "Total number of rejected state transitions",
		},
		[]string{"from_state", "to_state"},
	)

	c.toolCallsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of tool invocations",
		},
		[]string{"tool", "outcome"}, // outcome: ok 或错误类型
	)

	c.toolCallDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Tool invocation duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"tool"},
	)

	c.executorRuns = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executor_runs_total",
			Help:      "Total number of ReAct runs by outcome",
		},
		[]string{"outcome"},
	)

	c.executorIterations = f.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "executor_iterations",
			Help:      "LLM iterations used per ReAct run",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 25, 50},
		},
	)

	c.llmRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM requests",
		},
		[]string{"provider", "model", "status"},
	)

	c.llmRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "LLM request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "model"},
	)

	c.llmTokensUsed = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total number of tokens used",
		},
		[]string{"provider", "model", "type"}, // type: prompt, completion
	)

	c.executionsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crew_executions_total",
			Help:      "Crew execution status changes",
		},
		[]string{"status"},
	)

	c.executionsLive = f.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "crew_executions_tracked",
			Help:      "Number of execution records currently tracked",
		},
	)

	c.storeOps = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_store_operations_total",
			Help:      "Conversation store operations",
		},
		[]string{"backend", "operation", "status"},
	)

	c.storeMisses = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_store_misses_total",
			Help:      "Session loads that found no stored blob",
		},
		[]string{"backend"},
	)

	c.dbQueryDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Archive database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🧭 规划会话
// =============================================================================

// RecordPlannerTurn 记录一次用户回合
func (c *Collector) RecordPlannerTurn(state string) {
	if c == nil {
		return
	}
	c.plannerTurns.WithLabelValues(state).Inc()
}

// RecordStateTransition 记录状态转换
func (c *Collector) RecordStateTransition(from, to string) {
	if c == nil {
		return
	}
	c.stateTransitions.WithLabelValues(from, to).Inc()
}

// RecordTransitionDenied 记录被拒绝的转换
func (c *Collector) RecordTransitionDenied(from, to string) {
	if c == nil {
		return
	}
	c.transitionsDenied.WithLabelValues(from, to).Inc()
}

// =============================================================================
// 🔧 工具与执行器
// =============================================================================

// RecordToolCall 记录工具调用
func (c *Collector) RecordToolCall(tool, outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.toolCallsTotal.WithLabelValues(tool, outcome).Inc()
	c.toolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordExecutorRun 记录一次 ReAct 运行
func (c *Collector) RecordExecutorRun(outcome string, iterations int) {
	if c == nil {
		return
	}
	c.executorRuns.WithLabelValues(outcome).Inc()
	c.executorIterations.Observe(float64(iterations))
}

// =============================================================================
// 🤖 LLM 指标记录
// =============================================================================

// RecordLLMRequest 记录 LLM 请求
func (c *Collector) RecordLLMRequest(provider, model, status string, duration time.Duration, promptTokens, completionTokens int) {
	if c == nil {
		return
	}
	c.llmRequestsTotal.WithLabelValues(provider, model, status).Inc()
	c.llmRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	c.llmTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	c.llmTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
}

// =============================================================================
// 🚀 Crew 执行
// =============================================================================

// RecordExecutionStatus 记录执行记录进入某状态
func (c *Collector) RecordExecutionStatus(status string) {
	if c == nil {
		return
	}
	c.executionsTotal.WithLabelValues(status).Inc()
}

// SetExecutionsTracked 当前跟踪的执行记录数
func (c *Collector) SetExecutionsTracked(n int) {
	if c == nil {
		return
	}
	c.executionsLive.Set(float64(n))
}

// =============================================================================
// 💾 存储
// =============================================================================

// RecordStoreOperation 记录会话存储操作，status 为 ok 或 error
func (c *Collector) RecordStoreOperation(backend, operation, status string) {
	if c == nil {
		return
	}
	c.storeOps.WithLabelValues(backend, operation, status).Inc()
}

// RecordStoreMiss 记录会话未命中
func (c *Collector) RecordStoreMiss(backend string) {
	if c == nil {
		return
	}
	c.storeMisses.WithLabelValues(backend).Inc()
}

// RecordDBQuery 记录归档查询
func (c *Collector) RecordDBQuery(operation string, duration time.Duration) {
	if c == nil {
		return
	}
	c.dbQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// Status 把 error 归类为 ok / error 标签值
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
