package crews

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// DocumentVersion 生成文档的版本号
const DocumentVersion = "1.0"

// ProcessType 任务处理方式
type ProcessType string

const (
	ProcessSequential   ProcessType = "sequential"
	ProcessHierarchical ProcessType = "hierarchical"
)

// AgentSpec crew 中一个 agent 的声明
type AgentSpec struct {
	Name            string   `json:"name"`
	Role            string   `json:"role"`
	Goal            string   `json:"goal"`
	Backstory       string   `json:"backstory"`
	Tools           []string `json:"tools,omitempty"`
	Verbose         bool     `json:"verbose,omitempty"`
	AllowDelegation bool     `json:"allow_delegation,omitempty"`
	MaxIter         int      `json:"max_iter,omitempty"`
	MaxRPM          int      `json:"max_rpm,omitempty"`
}

// TaskSpec crew 中一个任务的声明，Agent 引用 AgentSpec.Name
type TaskSpec struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Agent          string   `json:"agent"`
	ExpectedOutput string   `json:"expected_output"`
	Context        []string `json:"context,omitempty"`
	Tools          []string `json:"tools,omitempty"`
}

// CrewSpec crewai_config 部分
type CrewSpec struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Agents      []AgentSpec `json:"agents"`
	Tasks       []TaskSpec  `json:"tasks"`
	Process     ProcessType `json:"process"`
}

// Document CREW_GENERATION 阶段产出的配置文档
type Document struct {
	CrewAI          CrewSpec       `json:"crewai_config"`
	BusinessProcess map[string]any `json:"business_process,omitempty"`
	GeneratedAt     time.Time      `json:"generated_at"`
	Version         string         `json:"version"`
}

// Validate 检查文档结构，返回全部问题
func (d Document) Validate() error {
	var errs []error
	spec := d.CrewAI
	if spec.Name == "" {
		errs = append(errs, errors.New("crewai_config.name is required"))
	}
	if len(spec.Agents) == 0 {
		errs = append(errs, errors.New("crewai_config.agents must not be empty"))
	}
	if len(spec.Tasks) == 0 {
		errs = append(errs, errors.New("crewai_config.tasks must not be empty"))
	}
	switch spec.Process {
	case ProcessSequential, ProcessHierarchical:
	default:
		errs = append(errs, fmt.Errorf("crewai_config.process %q must be sequential or hierarchical", spec.Process))
	}

	agents := make(map[string]bool, len(spec.Agents))
	for i, a := range spec.Agents {
		if a.Name == "" {
			errs = append(errs, fmt.Errorf("crewai_config.agents[%d].name is required", i))
			continue
		}
		if agents[a.Name] {
			errs = append(errs, fmt.Errorf("crewai_config.agents[%d]: duplicate agent %q", i, a.Name))
		}
		agents[a.Name] = true
	}
	tasks := make(map[string]bool, len(spec.Tasks))
	for i, t := range spec.Tasks {
		if t.Name == "" {
			errs = append(errs, fmt.Errorf("crewai_config.tasks[%d].name is required", i))
		}
		if t.Description == "" {
			errs = append(errs, fmt.Errorf("crewai_config.tasks[%d].description is required", i))
		}
		if !agents[t.Agent] {
			errs = append(errs, fmt.Errorf("crewai_config.tasks[%d].agent %q is not declared", i, t.Agent))
		}
		for _, dep := range t.Context {
			if !tasks[dep] {
				errs = append(errs, fmt.Errorf("crewai_config.tasks[%d].context %q must name an earlier task", i, dep))
			}
		}
		tasks[t.Name] = true
	}
	return errors.Join(errs...)
}

// AgentNames agent 名称列表
func (d Document) AgentNames() []string {
	out := make([]string, len(d.CrewAI.Agents))
	for i, a := range d.CrewAI.Agents {
		out[i] = a.Name
	}
	return out
}

// TaskNames 任务名称列表
func (d Document) TaskNames() []string {
	out := make([]string, len(d.CrewAI.Tasks))
	for i, t := range d.CrewAI.Tasks {
		out[i] = t.Name
	}
	return out
}

// ToMap 转为会话中保存的通用映射
func (d Document) ToMap() (map[string]any, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode crew config: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("encode crew config: %w", err)
	}
	return out, nil
}

// DocumentFromMap 从通用映射还原文档。只有 crewai_config 的映射也被接受。
func DocumentFromMap(m map[string]any) (Document, error) {
	if m == nil {
		return Document{}, errors.New("crew config is empty")
	}
	if _, ok := m["crewai_config"]; !ok {
		if _, hasAgents := m["agents"]; hasAgents {
			m = map[string]any{"crewai_config": m}
		}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return Document{}, fmt.Errorf("decode crew config: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("decode crew config: %w", err)
	}
	if doc.CrewAI.Process == "" {
		doc.CrewAI.Process = ProcessSequential
	}
	return doc, nil
}

// PlanStep 业务计划中的一步
type PlanStep struct {
	Step        int    `json:"step"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Duration    string `json:"duration,omitempty"`
	Resources   any    `json:"resources,omitempty"`
}

// BusinessPlan PLANNING 阶段产出的业务计划，至少包含 name、objective、steps
type BusinessPlan struct {
	Name      string     `json:"name"`
	Objective string     `json:"objective"`
	Steps     []PlanStep `json:"steps"`
}

// PlanFromMap 宽松解析计划映射：数字字段接受字符串，未知字段忽略
func PlanFromMap(m map[string]any) (BusinessPlan, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return BusinessPlan{}, fmt.Errorf("decode business plan: %w", err)
	}
	doc := gjson.ParseBytes(data)
	plan := BusinessPlan{
		Name:      doc.Get("name").String(),
		Objective: doc.Get("objective").String(),
	}
	doc.Get("steps").ForEach(func(_, step gjson.Result) bool {
		s := PlanStep{
			Step:        int(step.Get("step").Int()),
			Name:        step.Get("name").String(),
			Description: step.Get("description").String(),
			Duration:    step.Get("duration").String(),
			Resources:   step.Get("resources").Value(),
		}
		if s.Step == 0 {
			s.Step = len(plan.Steps) + 1
		}
		plan.Steps = append(plan.Steps, s)
		return true
	})
	return plan, nil
}
