package crews

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BaSui01/crewplanner/internal/metrics"
	"github.com/BaSui01/crewplanner/llm"
	"github.com/BaSui01/crewplanner/types"
	"go.uber.org/zap"
)

// LLMAgent 用一次 LLM 调用完成一个任务的成员实现。
// provider 为 nil 时进入演练模式，输出确定性的占位结果。
type LLMAgent struct {
	spec     AgentSpec
	provider llm.Provider
	model    string
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// NewLLMAgent 创建 LLMAgent
func NewLLMAgent(spec AgentSpec, provider llm.Provider, model string, collector *metrics.Collector, logger *zap.Logger) *LLMAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMAgent{
		spec:     spec,
		provider: provider,
		model:    model,
		metrics:  collector,
		logger:   logger.With(zap.String("agent", spec.Name)),
	}
}

func (a *LLMAgent) ID() string { return a.spec.Name }

// Execute 以角色设定为 system 消息、任务描述为 user 消息调用 LLM
func (a *LLMAgent) Execute(ctx context.Context, task CrewTask) (*TaskResult, error) {
	if a.provider == nil {
		return &TaskResult{
			TaskID: task.ID,
			Output: fmt.Sprintf("[dry-run] %s completed %s", a.spec.Name, task.ID),
		}, nil
	}

	req := &llm.ChatRequest{
		Model: a.model,
		Messages: []types.Message{
			types.NewSystemMessage(a.systemPrompt()),
			types.NewUserMessage(taskPrompt(task)),
		},
	}
	start := time.Now()
	resp, err := a.provider.Completion(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		a.metrics.RecordLLMRequest(a.provider.Name(), a.model, "error", elapsed, 0, 0)
		return nil, fmt.Errorf("agent %s: %w", a.spec.Name, err)
	}
	a.metrics.RecordLLMRequest(a.provider.Name(), resp.Model, "ok", elapsed, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	a.logger.Debug("task answered", zap.String("task", task.ID), zap.Duration("latency", elapsed))
	return &TaskResult{
		TaskID:   task.ID,
		Output:   strings.TrimSpace(resp.Content),
		Duration: elapsed.Milliseconds(),
	}, nil
}

// Negotiate 接受分配给自己的任务；其他任务仅在允许委派时接受
func (a *LLMAgent) Negotiate(_ context.Context, p Proposal) (*NegotiationResult, error) {
	if p.Task != nil && (p.Task.AssignedTo == a.spec.Name || a.spec.AllowDelegation) {
		return &NegotiationResult{Accepted: true, Response: a.spec.Name}, nil
	}
	return &NegotiationResult{Accepted: false, Response: "task not assigned to " + a.spec.Name}, nil
}

func (a *LLMAgent) systemPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.\n", a.spec.Role)
	if a.spec.Goal != "" {
		fmt.Fprintf(&b, "Your goal: %s\n", a.spec.Goal)
	}
	if a.spec.Backstory != "" {
		fmt.Fprintf(&b, "Background: %s\n", a.spec.Backstory)
	}
	if len(a.spec.Tools) > 0 {
		fmt.Fprintf(&b, "Tools you are known for: %s\n", strings.Join(a.spec.Tools, ", "))
	}
	b.WriteString("Answer with the finished deliverable only.")
	return b.String()
}

func taskPrompt(task CrewTask) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", task.Description)
	if task.Expected != "" {
		fmt.Fprintf(&b, "Expected output: %s\n", task.Expected)
	}
	if len(task.Inputs) > 0 {
		b.WriteString("\nInputs:\n")
		for _, k := range sortedKeys(task.Inputs) {
			fmt.Fprintf(&b, "- %s: %v\n", k, task.Inputs[k])
		}
	}
	if len(task.Prior) > 0 {
		b.WriteString("\nResults from earlier tasks:\n")
		for _, k := range sortedKeys(task.Prior) {
			fmt.Fprintf(&b, "[%s]\n%s\n", k, task.Prior[k])
		}
	}
	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BuildCrew 把配置文档转成可执行的 Crew
func BuildCrew(doc Document, inputs map[string]any, provider llm.Provider, model string, collector *metrics.Collector, logger *zap.Logger) (*Crew, error) {
	if err := doc.Validate(); err != nil {
		return nil, types.WrapError(err, types.ErrConfiguration, "invalid crew config")
	}
	spec := doc.CrewAI
	crew := NewCrew(CrewConfig{
		Name:        spec.Name,
		Description: spec.Description,
		Process:     spec.Process,
		StopOnError: true,
	}, logger)
	for _, a := range spec.Agents {
		crew.AddMember(NewLLMAgent(a, provider, model, collector, logger), Role{
			Name:            a.Role,
			Goal:            a.Goal,
			Backstory:       a.Backstory,
			Tools:           a.Tools,
			AllowDelegation: a.AllowDelegation,
		})
	}
	for _, t := range spec.Tasks {
		crew.AddTask(CrewTask{
			ID:           t.Name,
			Description:  t.Description,
			Expected:     t.ExpectedOutput,
			AssignedTo:   t.Agent,
			Dependencies: t.Context,
			Inputs:       inputs,
		})
	}
	return crew, nil
}
