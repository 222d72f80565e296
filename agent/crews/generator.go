package crews

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/BaSui01/crewplanner/internal/metrics"
	"github.com/BaSui01/crewplanner/llm"
	"github.com/BaSui01/crewplanner/types"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

var crewTagPattern = regexp.MustCompile(`(?s)<crew_config>(.*?)</crew_config>`)

const generatorSystemPrompt = `You design CrewAI teams. Given a business plan, produce a crew configuration
as JSON wrapped in <crew_config></crew_config> tags with this shape:
{"name": "...", "description": "...", "process": "sequential" | "hierarchical",
 "agents": [{"name", "role", "goal", "backstory", "tools": [], "allow_delegation": false}],
 "tasks": [{"name", "description", "agent", "expected_output", "context": []}]}
Every task.agent must name a declared agent; task.context may only name earlier tasks.`

// Generator 根据业务计划生成 crew 配置。LLM 不可用或输出无效时退回确定性生成。
type Generator struct {
	provider llm.Provider
	model    string
	metrics  *metrics.Collector
	now      func() time.Time
	logger   *zap.Logger
}

// NewGenerator 创建生成器，provider 可为 nil
func NewGenerator(provider llm.Provider, model string, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		provider: provider,
		model:    model,
		now:      time.Now,
		logger:   logger.With(zap.String("component", "crew_generator")),
	}
}

// WithMetrics 记录 LLM 调用指标
func (g *Generator) WithMetrics(c *metrics.Collector) *Generator {
	g.metrics = c
	return g
}

// Generate 生成配置文档
func (g *Generator) Generate(ctx context.Context, plan map[string]any, requirements string) (Document, error) {
	if len(plan) == 0 {
		return Document{}, types.NewError(types.ErrConfiguration, "business plan is empty")
	}
	parsed, err := PlanFromMap(plan)
	if err != nil {
		return Document{}, err
	}

	if g.provider != nil {
		spec, err := g.fromLLM(ctx, plan, requirements)
		if err == nil {
			return g.wrap(spec, plan), nil
		}
		if ctx.Err() != nil {
			return Document{}, ctx.Err()
		}
		g.logger.Warn("llm crew generation failed, using fallback", zap.Error(err))
	}
	return g.wrap(FallbackSpec(parsed), plan), nil
}

func (g *Generator) wrap(spec CrewSpec, plan map[string]any) Document {
	return Document{
		CrewAI:          spec,
		BusinessProcess: plan,
		GeneratedAt:     g.now().UTC(),
		Version:         DocumentVersion,
	}
}

func (g *Generator) fromLLM(ctx context.Context, plan map[string]any, requirements string) (CrewSpec, error) {
	planJSON, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return CrewSpec{}, err
	}
	user := "Business plan:\n" + string(planJSON)
	if requirements != "" {
		user += "\n\nAdditional requirements: " + requirements
	}

	start := time.Now()
	resp, err := g.provider.Completion(ctx, &llm.ChatRequest{
		Model: g.model,
		Messages: []types.Message{
			types.NewSystemMessage(generatorSystemPrompt),
			types.NewUserMessage(user),
		},
	})
	if err != nil {
		g.metrics.RecordLLMRequest(g.provider.Name(), g.model, "error", time.Since(start), 0, 0)
		return CrewSpec{}, err
	}
	g.metrics.RecordLLMRequest(g.provider.Name(), resp.Model, "ok", time.Since(start), resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	raw, ok := extractJSON(resp.Content)
	if !ok {
		return CrewSpec{}, fmt.Errorf("no crew config JSON in model output")
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return CrewSpec{}, fmt.Errorf("decode crew config: %w", err)
	}
	doc, err := DocumentFromMap(m)
	if err != nil {
		return CrewSpec{}, err
	}
	doc.BusinessProcess = plan
	if err := doc.Validate(); err != nil {
		return CrewSpec{}, err
	}
	return doc.CrewAI, nil
}

// extractJSON 优先取 <crew_config> 标签内容，否则取第一个 { 到最后一个 } 之间的文本
func extractJSON(text string) (string, bool) {
	if m := crewTagPattern.FindStringSubmatch(text); m != nil {
		raw := strings.TrimSpace(m[1])
		return raw, gjson.Valid(raw)
	}
	start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	raw := text[start : end+1]
	return raw, gjson.Valid(raw)
}

// FallbackSpec 确定性生成：每个计划步骤一个专员和一个任务，外加一名协调人
func FallbackSpec(plan BusinessPlan) CrewSpec {
	name := plan.Name
	if name == "" {
		name = "Business Process"
	}
	objective := plan.Objective
	if objective == "" {
		objective = name
	}

	spec := CrewSpec{
		Name:        name + " Crew",
		Description: "Crew executing the plan: " + objective,
		Process:     ProcessSequential,
		Agents: []AgentSpec{{
			Name:            "coordinator",
			Role:            "Process Coordinator",
			Goal:            "Deliver the objective: " + objective,
			Backstory:       "An operations lead who keeps every step of " + name + " on track.",
			AllowDelegation: true,
		}},
	}

	steps := plan.Steps
	if len(steps) == 0 {
		steps = []PlanStep{{Name: "execute", Description: objective}}
	}
	var previous string
	for i, s := range steps {
		agentName := fmt.Sprintf("step_%d_specialist", i+1)
		taskName := fmt.Sprintf("step_%d", i+1)
		title := s.Name
		if title == "" {
			title = taskName
		}
		desc := s.Description
		if desc == "" {
			desc = title
		}
		spec.Agents = append(spec.Agents, AgentSpec{
			Name:      agentName,
			Role:      title + " Specialist",
			Goal:      desc,
			Backstory: "Experienced in " + title + ".",
		})
		task := TaskSpec{
			Name:           taskName,
			Description:    desc,
			Agent:          agentName,
			ExpectedOutput: "A concise report on: " + title,
		}
		if previous != "" {
			task.Context = []string{previous}
		}
		spec.Tasks = append(spec.Tasks, task)
		previous = taskName
	}

	spec.Tasks = append(spec.Tasks, TaskSpec{
		Name:           "summary",
		Description:    "Summarise the results of every step against the objective: " + objective,
		Agent:          "coordinator",
		ExpectedOutput: "An executive summary with next actions",
		Context:        []string{previous},
	})
	return spec
}
