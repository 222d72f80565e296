package crews

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Role 成员在 crew 中的角色
type Role struct {
	Name            string   `json:"name"`
	Goal            string   `json:"goal"`
	Backstory       string   `json:"backstory,omitempty"`
	Tools           []string `json:"tools,omitempty"`
	AllowDelegation bool     `json:"allow_delegation"`
}

// CrewMember crew 成员
type CrewMember struct {
	ID     string       `json:"id"`
	Role   Role         `json:"role"`
	Agent  CrewAgent    `json:"-"`
	Status MemberStatus `json:"status"`
}

// MemberStatus 成员状态
type MemberStatus string

const (
	MemberStatusIdle    MemberStatus = "idle"
	MemberStatusWorking MemberStatus = "working"
)

// CrewAgent 成员背后的执行者
type CrewAgent interface {
	ID() string
	Execute(ctx context.Context, task CrewTask) (*TaskResult, error)
	Negotiate(ctx context.Context, proposal Proposal) (*NegotiationResult, error)
}

// CrewTask 一个待执行的任务
type CrewTask struct {
	ID           string            `json:"id"`
	Description  string            `json:"description"`
	Expected     string            `json:"expected_output"`
	AssignedTo   string            `json:"assigned_to,omitempty"`
	Dependencies []string          `json:"dependencies,omitempty"`
	Inputs       map[string]any    `json:"inputs,omitempty"`
	Prior        map[string]string `json:"prior,omitempty"` // 依赖任务的输出
}

// TaskResult 单个任务的结果
type TaskResult struct {
	TaskID   string `json:"task_id"`
	MemberID string `json:"member_id"`
	Output   string `json:"output"`
	Error    string `json:"error,omitempty"`
	Duration int64  `json:"duration_ms"`
}

// Proposal 层级模式下 manager 发给成员的委派提议
type Proposal struct {
	FromMember string    `json:"from_member"`
	ToMember   string    `json:"to_member"`
	Task       *CrewTask `json:"task"`
	Message    string    `json:"message"`
}

// NegotiationResult 委派应答
type NegotiationResult struct {
	Accepted bool   `json:"accepted"`
	Response string `json:"response"`
}

// Hooks 任务前后的回调。BeforeTask 返回错误时停止执行并原样返回该错误。
type Hooks struct {
	BeforeTask func(ctx context.Context, index, total int, task CrewTask, member *CrewMember) error
	AfterTask  func(index, total int, result *TaskResult)
}

// Crew 一组协作完成任务的成员
type Crew struct {
	ID          string
	Name        string
	Description string
	Process     ProcessType
	StopOnError bool

	mu      sync.RWMutex
	members map[string]*CrewMember
	order   []string
	tasks   []CrewTask
	logger  *zap.Logger
}

// CrewConfig crew 构造参数
type CrewConfig struct {
	Name        string
	Description string
	Process     ProcessType
	// StopOnError 任务失败后不再执行后续任务
	StopOnError bool
}

// NewCrew 创建 crew
func NewCrew(config CrewConfig, logger *zap.Logger) *Crew {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Process == "" {
		config.Process = ProcessSequential
	}
	return &Crew{
		ID:          fmt.Sprintf("crew_%d", time.Now().UnixNano()),
		Name:        config.Name,
		Description: config.Description,
		Process:     config.Process,
		StopOnError: config.StopOnError,
		members:     make(map[string]*CrewMember),
		logger:      logger.With(zap.String("component", "crew"), zap.String("crew", config.Name)),
	}
}

// AddMember 添加成员，按添加顺序参与选择
func (c *Crew) AddMember(agent CrewAgent, role Role) *CrewMember {
	c.mu.Lock()
	defer c.mu.Unlock()

	member := &CrewMember{ID: agent.ID(), Role: role, Agent: agent, Status: MemberStatusIdle}
	if _, exists := c.members[member.ID]; !exists {
		c.order = append(c.order, member.ID)
	}
	c.members[member.ID] = member
	c.logger.Debug("added crew member", zap.String("id", member.ID), zap.String("role", role.Name))
	return member
}

// AddTask 追加任务
func (c *Crew) AddTask(task CrewTask) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if task.ID == "" {
		task.ID = fmt.Sprintf("task_%d", len(c.tasks)+1)
	}
	c.tasks = append(c.tasks, task)
}

// Members 按添加顺序返回成员
func (c *Crew) Members() []*CrewMember {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*CrewMember, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.members[id])
	}
	return out
}

// Tasks 任务副本
func (c *Crew) Tasks() []CrewTask {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]CrewTask(nil), c.tasks...)
}

// CrewResult 一次执行的结果
type CrewResult struct {
	CrewID      string                 `json:"crew_id"`
	TaskResults map[string]*TaskResult `json:"task_results"`
	Order       []string               `json:"order"`
	StartTime   time.Time              `json:"start_time"`
	EndTime     time.Time              `json:"end_time"`
	Duration    time.Duration          `json:"duration"`
}

// Failed 第一个失败的任务结果
func (r *CrewResult) Failed() *TaskResult {
	for _, id := range r.Order {
		if res := r.TaskResults[id]; res != nil && res.Error != "" {
			return res
		}
	}
	return nil
}

// Final 最后一个任务的输出
func (r *CrewResult) Final() string {
	if len(r.Order) == 0 {
		return ""
	}
	if res := r.TaskResults[r.Order[len(r.Order)-1]]; res != nil {
		return res.Output
	}
	return ""
}

// Summary 写入执行记录的结果映射
func (r *CrewResult) Summary() map[string]any {
	outputs := make(map[string]any, len(r.TaskResults))
	for id, res := range r.TaskResults {
		outputs[id] = res.Output
	}
	return map[string]any{
		"crew_id":     r.CrewID,
		"tasks":       outputs,
		"order":       append([]string(nil), r.Order...),
		"final":       r.Final(),
		"duration_ms": r.Duration.Milliseconds(),
	}
}

// ErrNoMember 没有可执行任务的成员
var ErrNoMember = errors.New("no member available for task")

// Execute 按 Process 执行全部任务。ctx 在任务之间检查，进行中的任务不会被中断。
func (c *Crew) Execute(ctx context.Context, hooks Hooks) (*CrewResult, error) {
	tasks := c.Tasks()
	c.logger.Info("starting crew execution", zap.Int("tasks", len(tasks)), zap.String("process", string(c.Process)))
	start := time.Now()

	result := &CrewResult{
		CrewID:      c.ID,
		TaskResults: make(map[string]*TaskResult, len(tasks)),
		StartTime:   start,
	}

	var manager *CrewMember
	if c.Process == ProcessHierarchical {
		manager = c.manager()
		if manager == nil {
			return result, fmt.Errorf("hierarchical crew %q: %w", c.Name, ErrNoMember)
		}
	}

	var err error
	for i, task := range tasks {
		if err = ctx.Err(); err != nil {
			break
		}
		task.Prior = c.priorOutputs(task, result)

		member := c.findBestMember(task)
		if manager != nil {
			member = c.delegate(ctx, manager, member, task)
		}
		if member == nil {
			err = fmt.Errorf("task %s: %w", task.ID, ErrNoMember)
			break
		}

		if hooks.BeforeTask != nil {
			if err = hooks.BeforeTask(ctx, i, len(tasks), task, member); err != nil {
				break
			}
		}

		res := c.run(ctx, member, task)
		result.TaskResults[task.ID] = res
		result.Order = append(result.Order, task.ID)
		if hooks.AfterTask != nil {
			hooks.AfterTask(i, len(tasks), res)
		}
		if res.Error != "" && c.StopOnError {
			err = fmt.Errorf("task %s failed: %s", task.ID, res.Error)
			break
		}
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(start)
	if err != nil {
		c.logger.Warn("crew execution stopped", zap.Int("done", len(result.Order)), zap.Error(err))
		return result, err
	}
	c.logger.Info("crew execution completed", zap.Duration("duration", result.Duration))
	return result, nil
}

func (c *Crew) run(ctx context.Context, member *CrewMember, task CrewTask) *TaskResult {
	c.mu.Lock()
	member.Status = MemberStatusWorking
	c.mu.Unlock()

	start := time.Now()
	res, err := member.Agent.Execute(ctx, task)

	c.mu.Lock()
	member.Status = MemberStatusIdle
	c.mu.Unlock()

	if err != nil {
		res = &TaskResult{TaskID: task.ID, Error: err.Error()}
	}
	if res == nil {
		res = &TaskResult{TaskID: task.ID}
	}
	res.MemberID = member.ID
	if res.Duration == 0 {
		res.Duration = time.Since(start).Milliseconds()
	}
	return res
}

// manager 第一个允许委派的成员，否则第一个成员
func (c *Crew) manager() *CrewMember {
	members := c.Members()
	for _, m := range members {
		if m.Role.AllowDelegation {
			return m
		}
	}
	if len(members) > 0 {
		return members[0]
	}
	return nil
}

// delegate manager 与目标成员协商；协商失败或被拒绝时由 manager 执行
func (c *Crew) delegate(ctx context.Context, manager, delegatee *CrewMember, task CrewTask) *CrewMember {
	if delegatee == nil || delegatee.ID == manager.ID {
		return manager
	}
	proposal := Proposal{
		FromMember: manager.ID,
		ToMember:   delegatee.ID,
		Task:       &task,
		Message:    fmt.Sprintf("Please handle task: %s", task.Description),
	}
	res, err := delegatee.Agent.Negotiate(ctx, proposal)
	if err != nil {
		c.logger.Warn("negotiation failed, falling back to manager",
			zap.String("delegatee", delegatee.ID),
			zap.String("task", task.ID),
			zap.Error(err))
		return manager
	}
	if res == nil || !res.Accepted {
		return manager
	}
	return delegatee
}

func (c *Crew) findBestMember(task CrewTask) *CrewMember {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if task.AssignedTo != "" {
		if member, ok := c.members[task.AssignedTo]; ok {
			return member
		}
	}
	for _, id := range c.order {
		if m := c.members[id]; m.Status == MemberStatusIdle {
			return m
		}
	}
	return nil
}

// priorOutputs 依赖任务的输出；没有声明依赖时取上一个任务的输出
func (c *Crew) priorOutputs(task CrewTask, result *CrewResult) map[string]string {
	out := make(map[string]string)
	if len(task.Dependencies) > 0 {
		for _, dep := range task.Dependencies {
			if res, ok := result.TaskResults[dep]; ok && res.Error == "" {
				out[dep] = res.Output
			}
		}
		return out
	}
	if n := len(result.Order); n > 0 {
		last := result.TaskResults[result.Order[n-1]]
		if last != nil && last.Error == "" {
			out[last.TaskID] = last.Output
		}
	}
	return out
}
