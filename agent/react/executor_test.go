package react

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/crewplanner/internal/metrics"
	"github.com/BaSui01/crewplanner/testutil"
	"github.com/BaSui01/crewplanner/testutil/fixtures"
	"github.com/BaSui01/crewplanner/testutil/mocks"
	"github.com/BaSui01/crewplanner/tools"
	"github.com/BaSui01/crewplanner/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func echoTool(calls *atomic.Int32) *tools.FuncTool {
	return &tools.FuncTool{
		ToolName:        "echo",
		ToolDescription: "Echo the text back",
		ToolParams:      tools.Params{"text": {Type: "string", Required: true}},
		Fn: func(_ context.Context, args map[string]any) tools.Result {
			if calls != nil {
				calls.Add(1)
			}
			return tools.Success(map[string]any{"echo": args["text"]})
		},
	}
}

func newExecutor(p *mocks.MockProvider, ts []tools.Tool, mutate func(*Config)) *Executor {
	cfg := DefaultConfig()
	cfg.Model = "test-model"
	if mutate != nil {
		mutate(&cfg)
	}
	return NewExecutor(p, ts, cfg, zap.NewNop()).
		WithMetrics(metrics.NewCollector("test", prometheus.NewRegistry(), nil))
}

func TestExecutor_DirectFinalAnswer(t *testing.T) {
	p := mocks.NewScriptedProvider("Thought: 不需要工具\nFinal Answer: 你好！")
	e := newExecutor(p, nil, nil)

	res, err := e.Run(context.Background(), Input{Message: "你好"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFinished, res.Outcome)
	assert.Equal(t, "你好！", res.Answer)
	assert.Equal(t, 1, res.Iterations)
	assert.Empty(t, res.ToolsUsed)

	req := p.GetLastCall().Request
	assert.Equal(t, types.RoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "Final Answer")
	assert.Equal(t, []string{"\nObservation:"}, req.Stop)
}

func TestExecutor_ToolThenAnswer(t *testing.T) {
	var calls atomic.Int32
	p := mocks.NewScriptedProvider(
		"Thought: 用 echo\nAction: echo\nAction Input: {\"text\": \"ping\"}",
		"Thought: 我知道了\nFinal Answer: pong",
	).WithTokenUsage(100, 20)
	e := newExecutor(p, []tools.Tool{echoTool(&calls)}, nil)

	history := []types.Message{
		types.NewUserMessage("之前的问题"),
		types.NewAssistantMessage("之前的回答"),
		types.NewToolMessage("echo", "ignored"),
	}
	res, err := e.Run(context.Background(), Input{Message: "say ping", History: history})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFinished, res.Outcome)
	assert.Equal(t, "pong", res.Answer)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, []string{"echo"}, res.ToolsUsed)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, "用 echo", res.Steps[0].Thought)
	assert.JSONEq(t, `{"echo":"ping"}`, res.Steps[0].Observation)

	second := p.GetCalls()[1].Request
	require.Len(t, second.Messages, 4, "system + 2 history + user turn")
	turn := second.Messages[3].Content
	assert.True(t, strings.HasPrefix(turn, "Question: say ping"))
	assert.Contains(t, turn, "Action: echo")
	assert.Contains(t, turn, `Observation: {"echo":"ping"}`)

	assert.Equal(t, 200, res.Usage.PromptTokens)
	assert.Equal(t, 40, res.Usage.CompletionTokens)
	msg := res.Message()
	assert.Equal(t, types.RoleAssistant, msg.Role)
	assert.Equal(t, "test-model", msg.Metadata[types.MetaModel])
	assert.Equal(t, []string{"echo"}, msg.Metadata[types.MetaToolsUsed])
	assert.Equal(t, 200, msg.Metadata[types.MetaPromptTokens])
}

func TestExecutor_PositionalInputCoerced(t *testing.T) {
	var got atomic.Value
	tool := &tools.FuncTool{
		ToolName:   "lookup",
		ToolParams: tools.Params{"query": {Type: "string"}},
		Fn: func(_ context.Context, args map[string]any) tools.Result {
			got.Store(args["query"])
			return tools.Success("found")
		},
	}
	p := mocks.NewScriptedProvider("Action: lookup\nAction Input: 供应商评估", "Final Answer: ok")
	_, err := newExecutor(p, []tools.Tool{tool}, nil).Run(context.Background(), Input{Message: "q"})
	require.NoError(t, err)
	assert.Equal(t, "供应商评估", got.Load())
}

func TestExecutor_UnknownToolIsObserved(t *testing.T) {
	p := mocks.NewScriptedProvider("Action: nope\nAction Input: {}", "Final Answer: sorry")
	e := newExecutor(p, []tools.Tool{echoTool(nil)}, nil)

	res, err := e.Run(context.Background(), Input{Message: "x"})
	require.NoError(t, err)
	assert.Equal(t, "sorry", res.Answer)
	require.Len(t, res.Steps, 1)
	assert.True(t, res.Steps[0].Failed)
	assert.Contains(t, res.Steps[0].Observation, "nope is not a valid tool, try one of [echo]")
	assert.Empty(t, res.ToolsUsed)
}

func TestExecutor_ToolErrorIsObserved(t *testing.T) {
	failing := &tools.FuncTool{
		ToolName: "flaky",
		Fn: func(context.Context, map[string]any) tools.Result {
			return tools.Failure(tools.ErrTypeHTTP, "upstream returned 503")
		},
	}
	p := mocks.NewScriptedProvider("Action: flaky\nAction Input: {}", "Final Answer: 服务暂时不可用")
	res, err := newExecutor(p, []tools.Tool{failing}, nil).Run(context.Background(), Input{Message: "x"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFinished, res.Outcome)
	require.Len(t, res.Steps, 1)
	assert.True(t, res.Steps[0].Failed)
	assert.Contains(t, res.Steps[0].Observation, `"error":true`)
	assert.Contains(t, p.LastPrompt(), "upstream returned 503")
}

func TestExecutor_ParseErrors(t *testing.T) {
	t.Run("recovers after one", func(t *testing.T) {
		p := mocks.NewScriptedProvider("随便说点什么", "Final Answer: 好的")
		res, err := newExecutor(p, nil, nil).Run(context.Background(), Input{Message: "x"})
		require.NoError(t, err)
		assert.Equal(t, OutcomeFinished, res.Outcome)
		assert.Equal(t, 2, res.Iterations)
		assert.Contains(t, p.LastPrompt(), missingActionMsg)
	})

	t.Run("three in a row returns raw text", func(t *testing.T) {
		p := mocks.NewScriptedProvider("one", "two", "  最后的原始输出  ")
		res, err := newExecutor(p, nil, nil).Run(context.Background(), Input{Message: "x"})
		require.NoError(t, err)
		assert.Equal(t, OutcomeParseFailure, res.Outcome)
		assert.Equal(t, "最后的原始输出", res.Answer)
		assert.Equal(t, 3, p.GetCallCount())
	})
}

func TestExecutor_MaxIterations(t *testing.T) {
	var calls atomic.Int32
	p := mocks.NewSuccessProvider("Action: echo\nAction Input: {\"text\":\"again\"}")
	e := newExecutor(p, []tools.Tool{echoTool(&calls)}, func(c *Config) { c.MaxIterations = 3 })

	res, err := e.Run(context.Background(), Input{Message: "loop"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeMaxIterations, res.Outcome)
	assert.Equal(t, stoppedAnswer, res.Answer)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []string{"echo"}, res.ToolsUsed)
}

func TestExecutor_Timeout(t *testing.T) {
	p := mocks.NewSuccessProvider("Final Answer: late").WithDelay(500 * time.Millisecond)
	e := newExecutor(p, nil, func(c *Config) { c.MaxExecutionTime = 50 * time.Millisecond })

	res, err := e.Run(context.Background(), Input{Message: "x"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeTimeout, res.Outcome)
}

func TestExecutor_LLMErrorSurfaces(t *testing.T) {
	p := mocks.NewErrorProvider(errors.New("boom"))
	res, err := newExecutor(p, nil, nil).Run(context.Background(), Input{Message: "x"})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrUpstreamLLM))
	assert.Equal(t, 1, res.Iterations)
}

func TestExecutor_CancelWaitsForInFlightTool(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	var toolCtxErr atomic.Value

	slow := &tools.FuncTool{
		ToolName: "slow",
		Fn: func(ctx context.Context, _ map[string]any) tools.Result {
			close(started)
			<-release
			if ctx.Err() != nil {
				toolCtxErr.Store(ctx.Err())
			}
			finished.Store(true)
			return tools.Success("done")
		},
	}
	p := mocks.NewSuccessProvider("Action: slow\nAction Input: {}")
	e := newExecutor(p, []tools.Tool{slow}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	type outcome struct {
		res *Result
		err error
	}
	out := make(chan outcome, 1)
	go func() {
		res, err := e.Run(ctx, Input{Message: "x"})
		out <- outcome{res, err}
	}()

	<-started
	cancel()
	close(release)

	select {
	case o := <-out:
		require.NoError(t, o.err)
		assert.Equal(t, OutcomeCancelled, o.res.Outcome)
		assert.True(t, finished.Load())
		assert.Nil(t, toolCtxErr.Load(), "tool context must not be cancelled mid-call")
		require.Len(t, o.res.Steps, 1)
		assert.Equal(t, "done", o.res.Steps[0].Observation)
		assert.Contains(t, o.res.Answer, "done")
	case <-time.After(5 * time.Second):
		t.Fatal("executor did not return after cancellation")
	}
	assert.Equal(t, 1, p.GetCallCount())
}

func TestExecutor_ContextHintAfterCrewGenerator(t *testing.T) {
	generator := &tools.FuncTool{
		ToolName: "crewai_generator",
		Fn: func(context.Context, map[string]any) tools.Result {
			return tools.Success(map[string]any{"crew_name": "采购优化 Crew"})
		},
	}
	runtime := &tools.FuncTool{
		ToolName: "crewai_runtime",
		Fn: func(context.Context, map[string]any) tools.Result {
			return tools.Success(map[string]any{"execution_id": "e1"})
		},
	}
	p := mocks.NewScriptedProvider(
		"Action: crewai_generator\nAction Input: {}",
		"Final Answer: 已生成团队配置",
		"Final Answer: 好的",
	)
	e := newExecutor(p, []tools.Tool{generator, runtime}, nil)
	tracker := NewContextTracker(0)

	_, err := e.Run(context.Background(), Input{Message: "请生成团队", Context: tracker})
	require.NoError(t, err)

	_, err = e.Run(context.Background(), Input{Message: "帮我运行它", Context: tracker})
	require.NoError(t, err)

	req := p.GetLastCall().Request
	turn := req.Messages[len(req.Messages)-1].Content
	assert.Contains(t, turn, "帮我运行它")
	assert.Contains(t, turn, "[上下文提示]")
	assert.Contains(t, turn, "crewai_runtime")
	assert.Equal(t, []string{"请生成团队", "帮我运行它"}, tracker.Snapshot().Queries)
}

func TestExecutor_RecordsToolArgsAndObservation(t *testing.T) {
	weather := mocks.NewMockTool("weather").
		WithParams(tools.Params{"city": {Type: "string", Required: true}}).
		WithResult(map[string]any{"temp": 20})
	p := mocks.NewScriptedProvider(
		fixtures.ToolStep("需要查天气", "weather", map[string]any{"city": "上海"}),
		fixtures.FinalAnswer("已知温度", "上海 20 度"),
	)
	e := newExecutor(p, []tools.Tool{weather}, nil)

	res, err := e.Run(testutil.TestContext(t), Input{Message: "上海天气"})
	require.NoError(t, err)
	assert.Equal(t, "上海 20 度", res.Answer)
	assert.Equal(t, []string{"weather"}, res.ToolsUsed)

	require.Equal(t, 1, weather.GetCallCount())
	assert.Equal(t, "上海", weather.GetLastCall().Args["city"])
	assert.Contains(t, p.LastPrompt(), `Observation: {"temp":20}`)
}

func TestExecutor_CancelledBeforeStart(t *testing.T) {
	p := mocks.NewScriptedProvider(fixtures.FinalAnswer("", "不会执行"))
	e := newExecutor(p, nil, nil)

	res, err := e.Run(testutil.CancelledContext(), Input{Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.Zero(t, p.GetCallCount())
}
