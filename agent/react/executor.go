package react

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BaSui01/crewplanner/internal/metrics"
	"github.com/BaSui01/crewplanner/internal/telemetry"
	"github.com/BaSui01/crewplanner/llm"
	"github.com/BaSui01/crewplanner/llm/tokenizer"
	"github.com/BaSui01/crewplanner/tools"
	"github.com/BaSui01/crewplanner/types"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// 默认限制
const (
	DefaultMaxIterations    = 25
	DefaultMaxExecutionTime = 300 * time.Second
	// MaxConsecutiveParseErrors 连续解析失败次数上限
	MaxConsecutiveParseErrors = 3
	// DefaultToolTimeout 单次工具调用的兜底超时，工具自身的超时通常更短
	DefaultToolTimeout = 120 * time.Second
)

// 强制停止时的回答
const stoppedAnswer = "Agent stopped due to iteration limit or time limit."

// Outcome 一次运行的结束方式
type Outcome string

const (
	OutcomeFinished      Outcome = "finished"
	OutcomeMaxIterations Outcome = "max_iterations"
	OutcomeTimeout       Outcome = "timeout"
	OutcomeParseFailure  Outcome = "parse_failure"
	OutcomeCancelled     Outcome = "cancelled"
)

// parseErrorAction scratchpad 中解析失败的合成动作名
const parseErrorAction = "_Exception"

// Config 执行器配置
type Config struct {
	MaxIterations    int
	MaxExecutionTime time.Duration
	ToolTimeout      time.Duration
	// SystemPrompt 角色说明，为空时使用 DefaultSystemPrompt
	SystemPrompt string
	Model        string
	Temperature  float64
	MaxTokens    int
	Verbose      bool
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MaxIterations:    DefaultMaxIterations,
		MaxExecutionTime: DefaultMaxExecutionTime,
		ToolTimeout:      DefaultToolTimeout,
		SystemPrompt:     DefaultSystemPrompt,
	}
}

// Input 一次运行的输入
type Input struct {
	// Message 用户原始消息，用于上下文提示判断
	Message string
	// Instructions 附加在用户消息之后的任务说明，可以为空
	Instructions string
	// History 最近的会话消息，按时间顺序
	History []types.Message
	// Context 会话级上下文跟踪器，可以为 nil
	Context *ContextTracker
}

// Step 一轮 Thought → Action → Observation
type Step struct {
	Iteration   int           `json:"iteration"`
	Thought     string        `json:"thought,omitempty"`
	Action      string        `json:"action"`
	ActionInput string        `json:"action_input,omitempty"`
	Observation string        `json:"observation"`
	Failed      bool          `json:"failed,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// Result 一次运行的结果
type Result struct {
	Answer     string
	Outcome    Outcome
	Steps      []Step
	Iterations int
	ToolsUsed  []string
	Usage      llm.ChatUsage
	Model      string
	Duration   time.Duration
}

// Message 转为带元数据的 assistant 消息
func (r *Result) Message() types.Message {
	msg := types.NewAssistantMessage(r.Answer).
		WithMetadata(types.MetaModel, r.Model).
		WithMetadata(types.MetaPromptTokens, r.Usage.PromptTokens).
		WithMetadata(types.MetaCompletionTokens, r.Usage.CompletionTokens).
		WithMetadata(types.MetaLatencyMs, r.Duration.Milliseconds())
	if len(r.ToolsUsed) > 0 {
		msg = msg.WithMetadata(types.MetaToolsUsed, append([]string(nil), r.ToolsUsed...))
	}
	return msg
}

// Executor 文本格式的 ReAct 循环：LLM → 工具 → LLM，直到给出 Final Answer。
// 执行器本身无状态，可被多个会话共享；会话状态通过 Input 传入。
type Executor struct {
	provider llm.Provider
	tools    map[string]tools.Tool
	toolList []tools.Tool
	config   Config
	counter  tokenizer.Counter
	metrics  *metrics.Collector
	logger   *zap.Logger
	now      func() time.Time
}

// NewExecutor 创建执行器
func NewExecutor(provider llm.Provider, toolset []tools.Tool, cfg Config, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.MaxExecutionTime <= 0 {
		cfg.MaxExecutionTime = DefaultMaxExecutionTime
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = DefaultToolTimeout
	}
	byName := make(map[string]tools.Tool, len(toolset))
	for _, t := range toolset {
		byName[t.Name()] = t
	}
	return &Executor{
		provider: provider,
		tools:    byName,
		toolList: toolset,
		config:   cfg,
		counter:  tokenizer.ForModel(cfg.Model),
		logger:   logger.With(zap.String("component", "react_executor")),
		now:      time.Now,
	}
}

// WithMetrics 记录执行器与工具调用指标
func (e *Executor) WithMetrics(c *metrics.Collector) *Executor {
	e.metrics = c
	return e
}

// WithCounter 替换 token 计数器
func (e *Executor) WithCounter(c tokenizer.Counter) *Executor {
	e.counter = c
	return e
}

// Tools 可用工具名（排序）
func (e *Executor) Tools() []string {
	names := make([]string, 0, len(e.tools))
	for n := range e.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Run 执行一次 ReAct 循环。
// 调用方取消时，正在进行的工具调用会先执行完，再以 OutcomeCancelled 返回。
// 只有 LLM 调用失败时返回 error。
func (e *Executor) Run(ctx context.Context, in Input) (*Result, error) {
	start := e.now()
	ctx, span := telemetry.Start(ctx, "react.run",
		attribute.Int("react.tools", len(e.tools)),
		attribute.Int("react.history", len(in.History)))

	res, err := e.run(ctx, in, start)
	res.Duration = e.now().Sub(start)
	span.SetAttributes(
		attribute.String("react.outcome", string(res.Outcome)),
		attribute.Int("react.iterations", res.Iterations))
	telemetry.End(span, err)

	if err != nil {
		e.metrics.RecordExecutorRun("error", res.Iterations)
		return res, err
	}
	e.metrics.RecordExecutorRun(string(res.Outcome), res.Iterations)
	e.logger.Info("react run finished",
		zap.String("outcome", string(res.Outcome)),
		zap.Int("iterations", res.Iterations),
		zap.Strings("tools_used", res.ToolsUsed),
		zap.Duration("duration", res.Duration))
	return res, nil
}

func (e *Executor) run(ctx context.Context, in Input, start time.Time) (*Result, error) {
	res := &Result{Model: e.config.Model}

	message := in.Message
	if in.Context != nil {
		message = in.Context.Augment(in.Message)
		in.Context.RecordQuery(in.Message)
	}

	deadline := start.Add(e.config.MaxExecutionTime)
	system := systemPrompt(e.config.SystemPrompt, e.toolList)

	var (
		steps       []step
		parseErrors int
		used        = map[string]bool{}
	)
	for res.Iterations < e.config.MaxIterations {
		if ctx.Err() != nil {
			res.Outcome = OutcomeCancelled
			res.Answer = cancelledAnswer(res)
			return res, nil
		}
		if !e.now().Before(deadline) {
			res.Outcome = OutcomeTimeout
			res.Answer = stoppedAnswer
			return res, nil
		}
		res.Iterations++

		turn := userTurn(message, in.Instructions, steps)
		resp, err := e.complete(ctx, system, in.History, turn, deadline)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				res.Outcome = OutcomeCancelled
				res.Answer = cancelledAnswer(res)
				return res, nil
			case errors.Is(err, context.DeadlineExceeded) && !e.now().Before(deadline):
				res.Outcome = OutcomeTimeout
				res.Answer = stoppedAnswer
				return res, nil
			}
			return res, types.WrapError(err, types.ErrUpstreamLLM, fmt.Sprintf("llm call failed at iteration %d", res.Iterations))
		}
		e.addUsage(res, resp, system, in.History, turn)

		decision, perr := Parse(resp.Content)
		if perr != nil {
			var pe *ParseError
			errors.As(perr, &pe)
			parseErrors++
			e.logger.Warn("unparseable llm output",
				zap.Int("iteration", res.Iterations),
				zap.Int("consecutive", parseErrors))
			if parseErrors >= MaxConsecutiveParseErrors {
				res.Outcome = OutcomeParseFailure
				res.Answer = strings.TrimSpace(resp.Content)
				return res, nil
			}
			obs := pe.Observation
			steps = append(steps, step{Raw: resp.Content, Action: parseErrorAction, Observation: obs})
			res.Steps = append(res.Steps, Step{
				Iteration: res.Iterations, Action: parseErrorAction, Observation: obs, Failed: true,
			})
			continue
		}
		parseErrors = 0

		if decision.Final {
			res.Outcome = OutcomeFinished
			res.Answer = decision.Answer
			return res, nil
		}

		st := e.invoke(ctx, res.Iterations, decision)
		st.Thought = decision.Thought
		res.Steps = append(res.Steps, st)
		steps = append(steps, step{
			Raw:         trimAfterInput(resp.Content),
			Action:      decision.Action,
			ActionInput: decision.ActionInput,
			Observation: st.Observation,
		})
		if _, known := e.tools[decision.Action]; known {
			if !used[decision.Action] {
				used[decision.Action] = true
				res.ToolsUsed = append(res.ToolsUsed, decision.Action)
			}
			if in.Context != nil {
				in.Context.RecordToolCall(decision.Action, st.Observation)
			}
		}
	}

	res.Outcome = OutcomeMaxIterations
	res.Answer = stoppedAnswer
	return res, nil
}

// complete 组装消息并调用 LLM，单次调用不超过剩余执行时间
func (e *Executor) complete(ctx context.Context, system string, history []types.Message, turn string, deadline time.Time) (*llm.ChatResponse, error) {
	msgs := make([]types.Message, 0, len(history)+2)
	msgs = append(msgs, types.NewSystemMessage(system))
	for _, m := range history {
		// 历史中的工具消息不直接发给模型
		if m.Role == types.RoleTool {
			continue
		}
		msgs = append(msgs, m)
	}
	msgs = append(msgs, types.NewUserMessage(turn))

	callCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	started := e.now()
	resp, err := e.provider.Completion(callCtx, &llm.ChatRequest{
		Model:       e.config.Model,
		Messages:    msgs,
		Temperature: e.config.Temperature,
		MaxTokens:   e.config.MaxTokens,
		Stop:        stopSequences,
	})
	status := metrics.Status(err)
	var usage llm.ChatUsage
	if resp != nil {
		usage = resp.Usage
	}
	e.metrics.RecordLLMRequest(e.provider.Name(), e.config.Model, status, e.now().Sub(started), usage.PromptTokens, usage.CompletionTokens)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, errors.New("llm returned no response")
	}
	return resp, nil
}

// addUsage 累计 token；provider 未返回 usage 时用本地计数器估算
func (e *Executor) addUsage(res *Result, resp *llm.ChatResponse, system string, history []types.Message, turn string) {
	if resp.Model != "" {
		res.Model = resp.Model
	}
	if resp.Usage.PromptTokens > 0 || resp.Usage.CompletionTokens > 0 {
		res.Usage.PromptTokens += resp.Usage.PromptTokens
		res.Usage.CompletionTokens += resp.Usage.CompletionTokens
	} else if e.counter != nil {
		res.Usage.PromptTokens += e.counter.CountTokens(system) +
			e.counter.CountMessages(history) +
			e.counter.CountTokens(turn)
		res.Usage.CompletionTokens += e.counter.CountTokens(resp.Content)
	}
	res.Usage.TotalTokens = res.Usage.PromptTokens + res.Usage.CompletionTokens
}

// invoke 调用工具。工具调用不受调用方取消影响，只受 ToolTimeout 约束。
func (e *Executor) invoke(ctx context.Context, iteration int, d Decision) Step {
	st := Step{Iteration: iteration, Action: d.Action, ActionInput: d.ActionInput}

	tool, ok := e.tools[d.Action]
	if !ok {
		st.Failed = true
		st.Observation = fmt.Sprintf("%s is not a valid tool, try one of [%s].", d.Action, strings.Join(e.Tools(), ", "))
		e.metrics.RecordToolCall(d.Action, "unknown", 0)
		return st
	}

	toolCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.ToolTimeout)
	defer cancel()
	toolCtx, span := telemetry.Start(toolCtx, "react.tool",
		attribute.String("tool.name", d.Action),
		attribute.Int("react.iteration", iteration))

	args := ToolArgs(tool, d.ActionInput)
	started := e.now()
	result := tools.Await(toolCtx, tool.RunAsync(toolCtx, args))
	st.Duration = e.now().Sub(started)
	st.Observation = result.String()
	st.Failed = result.IsError()

	outcome := "ok"
	var spanErr error
	if result.IsError() {
		outcome = result.Err.Type
		spanErr = errors.New(result.Err.Message)
		e.logger.Warn("tool call failed",
			zap.String("tool", d.Action),
			zap.String("type", result.Err.Type),
			zap.String("message", result.Err.Message))
	} else {
		e.logger.Debug("tool call finished", zap.String("tool", d.Action), zap.Duration("duration", st.Duration))
	}
	telemetry.End(span, spanErr)
	e.metrics.RecordToolCall(d.Action, outcome, st.Duration)
	return st
}

// trimAfterInput 去掉模型在 Action Input 之后续写的内容
func trimAfterInput(raw string) string {
	if i := strings.Index(raw, "\nObservation"); i >= 0 {
		return raw[:i]
	}
	return raw
}

func cancelledAnswer(res *Result) string {
	if n := len(res.Steps); n > 0 {
		return "已取消。最近一次观察结果：" + res.Steps[n-1].Observation
	}
	return "已取消。"
}
