package planner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/crewplanner/agent/conversation"
	"github.com/BaSui01/crewplanner/agent/crews"
	"github.com/BaSui01/crewplanner/agent/execution"
	"github.com/BaSui01/crewplanner/agent/react"
	"github.com/BaSui01/crewplanner/internal/metrics"
	"github.com/BaSui01/crewplanner/internal/telemetry"
	"github.com/BaSui01/crewplanner/types"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ErrEmptySessionID 会话 id 为空
var ErrEmptySessionID = errors.New("session id is required")

// Executor 执行自由对话回合（planning / guidance）
type Executor interface {
	Run(ctx context.Context, in react.Input) (*react.Result, error)
}

// CrewGenerator 由业务计划生成团队配置
type CrewGenerator interface {
	Generate(ctx context.Context, plan map[string]any, requirements string) (crews.Document, error)
}

// CrewSink 接收每个会话最近生成的团队配置及其登记的执行 ID；
// 会话重置或删除时 Forget
type CrewSink interface {
	Set(sessionID string, doc crews.Document, executionID string)
	Forget(sessionID string)
}

// Config 状态机配置
type Config struct {
	// HistoryWindow 发给模型的最近消息条数
	HistoryWindow int
	// ContextCapacity 每个会话的上下文跟踪器容量
	ContextCapacity int
	// HistoryTTL 会话键过期时间，0 表示使用存储默认值
	HistoryTTL time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{HistoryWindow: 5, ContextCapacity: react.DefaultContextCapacity}
}

// Reply 一个用户回合的结果
type Reply struct {
	SessionID string
	Content   string
	// Message 写入历史的 assistant 消息
	Message     types.Message
	From        State
	State       State
	Transitions []Transition
	Intent      Intent
	Outcome     react.Outcome
}

type sessionEntry struct {
	// busy 容量为 1，保证同一会话的回合串行
	busy    chan struct{}
	mu      sync.Mutex
	session Session
	context *react.ContextTracker
}

func (e *sessionEntry) acquire(ctx context.Context) error {
	select {
	case e.busy <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *sessionEntry) release() { <-e.busy }

func (e *sessionEntry) snapshot() Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.clone()
}

func (e *sessionEntry) commit(s Session) {
	e.mu.Lock()
	e.session = s
	e.mu.Unlock()
}

// Machine 规划状态机：按会话状态分派用户消息，维护 business_plan 与 crew_config。
// 一次 HandleMessage 恰好向历史追加一条用户消息和一条助手消息。
type Machine struct {
	store      conversation.Store
	executor   Executor
	generator  CrewGenerator
	tracker    *execution.Tracker
	crewSink   CrewSink
	classifier *Classifier
	config     Config
	metrics    *metrics.Collector
	logger     *zap.Logger
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

// NewMachine 创建状态机
func NewMachine(store conversation.Store, executor Executor, generator CrewGenerator, cfg Config, logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = DefaultConfig().HistoryWindow
	}
	if cfg.ContextCapacity <= 0 {
		cfg.ContextCapacity = react.DefaultContextCapacity
	}
	return &Machine{
		store:      store,
		executor:   executor,
		generator:  generator,
		classifier: NewClassifier(nil, nil),
		config:     cfg,
		logger:     logger.With(zap.String("component", "planner")),
		now:        time.Now,
		sessions:   make(map[string]*sessionEntry),
	}
}

// WithTracker 生成团队配置后在跟踪器中登记一条 pending 执行记录
func (m *Machine) WithTracker(t *execution.Tracker) *Machine {
	m.tracker = t
	return m
}

// WithCrewSink 每次生成团队配置后写入 sink
func (m *Machine) WithCrewSink(sink CrewSink) *Machine {
	m.crewSink = sink
	return m
}

// WithClassifier 替换意图分类器
func (m *Machine) WithClassifier(c *Classifier) *Machine {
	m.classifier = c
	return m
}

// WithMetrics 记录回合与转换指标
func (m *Machine) WithMetrics(c *metrics.Collector) *Machine {
	m.metrics = c
	return m
}

// WithClock 替换时钟（测试用）
func (m *Machine) WithClock(now func() time.Time) *Machine {
	m.now = now
	return m
}

// entry 返回会话条目，首次访问时从存储加载
func (m *Machine) entry(ctx context.Context, id string) *sessionEntry {
	m.mu.Lock()
	e, ok := m.sessions[id]
	m.mu.Unlock()
	if ok {
		return e
	}

	loaded := m.load(ctx, id)

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[id]; ok {
		return e
	}
	m.sessions[id] = loaded
	return loaded
}

func (m *Machine) load(ctx context.Context, id string) *sessionEntry {
	now := m.now()
	e := &sessionEntry{
		busy:    make(chan struct{}, 1),
		session: Session{ID: id, State: StateInitial, CreatedAt: now, UpdatedAt: now},
		context: react.NewContextTracker(m.config.ContextCapacity),
	}
	raw, ok := m.store.LoadSession(ctx, id)
	if !ok {
		return e
	}
	blob, err := decodeBlob(raw)
	if err != nil {
		m.logger.Warn("ignoring unreadable session blob", zap.String("session_id", id), zap.Error(err))
		return e
	}
	blob.Session.ID = id
	e.session = blob.Session
	if blob.Context != nil {
		e.context.Restore(*blob.Context)
	}
	m.logger.Debug("session restored", zap.String("session_id", id), zap.String("state", string(e.session.State)))
	return e
}

// turn 单个回合的可变状态，提交前不影响会话
type turn struct {
	session     Session
	input       string
	history     []types.Message
	context     *react.ContextTracker
	transitions []Transition
	intent      Intent
	result      *react.Result
}

func (m *Machine) moveTo(t *turn, to State) error {
	from := t.session.State
	if !CanTransition(from, to) {
		m.metrics.RecordTransitionDenied(string(from), string(to))
		return &StateTransitionError{From: from, To: to}
	}
	t.session.State = to
	t.transitions = append(t.transitions, Transition{From: from, To: to})
	return nil
}

// HandleMessage 处理一条用户消息并返回助手回复。
// 除会话 id 为空外不返回错误：LLM、存储等故障都转为面向用户的回复，会话保持一致。
func (m *Machine) HandleMessage(ctx context.Context, sessionID, input string) (*Reply, error) {
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}
	started := m.now()
	e := m.entry(ctx, sessionID)
	if err := e.acquire(ctx); err != nil {
		s := e.snapshot()
		return &Reply{SessionID: sessionID, Content: cancelledReply, From: s.State, State: s.State, Outcome: react.OutcomeCancelled}, nil
	}
	defer e.release()

	t := &turn{session: e.snapshot(), input: input, context: e.context}
	from := t.session.State
	ctx, span := telemetry.Start(ctx, "planner.turn",
		attribute.String("session.id", sessionID),
		attribute.String("planner.from", string(from)))

	history := m.store.History(ctx, sessionID, m.config.HistoryTTL)
	t.history = history.Messages(ctx)

	content := m.dispatch(ctx, t)
	t.session.UpdatedAt = m.now()

	msg := types.NewAssistantMessage(content)
	if t.result != nil {
		msg = t.result.Message()
		msg.Content = content
	}
	msg = msg.WithMetadata(types.MetaState, string(t.session.State))
	if _, ok := msg.Metadata[types.MetaLatencyMs]; !ok {
		msg = msg.WithMetadata(types.MetaLatencyMs, m.now().Sub(started).Milliseconds())
	}

	e.commit(t.session)
	history.AddMessage(ctx, types.NewUserMessage(input))
	history.AddMessage(ctx, msg)
	m.persist(ctx, e)

	m.metrics.RecordPlannerTurn(string(from))
	for _, tr := range t.transitions {
		m.metrics.RecordStateTransition(string(tr.From), string(tr.To))
	}
	span.SetAttributes(attribute.String("planner.to", string(t.session.State)))
	telemetry.End(span, nil)

	m.logger.Info("turn handled",
		zap.String("session_id", sessionID),
		zap.String("from", string(from)),
		zap.String("to", string(t.session.State)),
		zap.String("intent", string(t.intent)))

	reply := &Reply{
		SessionID:   sessionID,
		Content:     content,
		Message:     msg,
		From:        from,
		State:       t.session.State,
		Transitions: t.transitions,
		Intent:      t.intent,
	}
	if t.result != nil {
		reply.Outcome = t.result.Outcome
	}
	return reply, nil
}

func (m *Machine) dispatch(ctx context.Context, t *turn) string {
	switch t.session.State {
	case StateInitial:
		return m.handleInitial(t)
	case StatePlanning:
		return m.handlePlanning(ctx, t)
	case StateConfirmation:
		return m.handleConfirmation(t)
	case StateCrewGeneration:
		return m.handleCrewGeneration(ctx, t)
	case StateGuidance:
		return m.handleGuidance(ctx, t)
	case StateCompleted:
		m.must(t, StateInitial)
		t.session.reset()
		t.context.Restore(react.ContextSnapshot{})
		m.forgetCrew(t.session.ID)
		return m.handleInitial(t)
	}
	m.logger.Error("session in unknown state, resetting", zap.String("state", string(t.session.State)))
	t.session.reset()
	return m.handleInitial(t)
}

// must 表内转换不应失败，失败说明处理逻辑有误
func (m *Machine) must(t *turn, to State) {
	if err := m.moveTo(t, to); err != nil {
		m.logger.Error("handler attempted illegal transition", zap.Error(err))
	}
}

func (m *Machine) handleInitial(t *turn) string {
	m.must(t, StatePlanning)
	return greeting
}

func (m *Machine) handlePlanning(ctx context.Context, t *turn) string {
	res, ok := m.runExecutor(ctx, t, planningInstructions)
	if !ok {
		m.must(t, StatePlanning)
		return res
	}
	plan, err := ExtractPlan(t.result.Answer)
	if err != nil {
		// 保留上一次解析成功的计划
		m.logger.Debug("no plan in answer", zap.Error(err))
		m.must(t, StatePlanning)
		return t.result.Answer
	}
	t.session.BusinessPlan = plan
	m.must(t, StateConfirmation)
	return confirmationReply(t.result.Answer, plan)
}

func (m *Machine) handleConfirmation(t *turn) string {
	t.intent = m.classifier.Classify(t.input)
	switch t.intent {
	case IntentConfirm, IntentGenerateCrew:
		m.must(t, StateCrewGeneration)
		return confirmedReply
	case IntentModify:
		m.must(t, StatePlanning)
		return modifyReply
	}
	m.must(t, StateConfirmation)
	return unclearReply + "\n\n" + renderPlan(t.session.BusinessPlan)
}

func (m *Machine) handleCrewGeneration(ctx context.Context, t *turn) string {
	doc, err := m.generator.Generate(ctx, t.session.BusinessPlan, t.input)
	if err == nil {
		err = doc.Validate()
	}
	var cfg map[string]any
	if err == nil {
		cfg, err = doc.ToMap()
	}
	if err != nil {
		m.must(t, StateCrewGeneration)
		if ctx.Err() != nil {
			return cancelledReply
		}
		m.logger.Warn("crew generation failed", zap.String("session_id", t.session.ID), zap.Error(err))
		return fmt.Sprintf(generationFailure, err)
	}

	t.session.CrewConfig = cfg
	if m.tracker != nil {
		t.session.ExecutionID = m.tracker.Create(cfg, nil)
	}
	if m.crewSink != nil {
		m.crewSink.Set(t.session.ID, doc, t.session.ExecutionID)
	}
	t.context.RecordToolCall("crewai_generator", generatedToolSummary(doc, t.session.ExecutionID))
	m.must(t, StateGuidance)
	return crewGeneratedReply(doc, t.session.ExecutionID)
}

func (m *Machine) handleGuidance(ctx context.Context, t *turn) string {
	if m.classifier.IsCompletion(t.input) {
		t.intent = IntentComplete
		m.must(t, StateCompleted)
		return completedReply
	}
	t.intent = m.classifier.Classify(t.input)
	res, ok := m.runExecutor(ctx, t, guidanceInstructions(t.session.BusinessPlan, t.session.CrewConfig, t.session.ExecutionID))
	m.must(t, StateGuidance)
	if !ok {
		return res
	}
	if g, found := ExtractTag(t.result.Answer, TagGuidance); found && g != "" {
		return g
	}
	return t.result.Answer
}

// runExecutor 运行执行器；失败或取消时返回面向用户的文本与 false
func (m *Machine) runExecutor(ctx context.Context, t *turn, instructions string) (string, bool) {
	res, err := m.executor.Run(types.WithSessionID(ctx, t.session.ID), react.Input{
		Message:      t.input,
		Instructions: instructions,
		History:      lastN(t.history, m.config.HistoryWindow),
		Context:      t.context,
	})
	if err != nil {
		m.logger.Warn("executor failed", zap.String("session_id", t.session.ID), zap.Error(err))
		if ctx.Err() != nil {
			return cancelledReply, false
		}
		return llmFailureReply, false
	}
	t.result = res
	if res.Outcome == react.OutcomeCancelled {
		return cancelledReply, false
	}
	return res.Answer, true
}

func (m *Machine) persist(ctx context.Context, e *sessionEntry) {
	s := e.snapshot()
	blob, err := encodeBlob(s, e.context.Snapshot())
	if err != nil {
		m.logger.Warn("session not persisted", zap.String("session_id", s.ID), zap.Error(err))
		return
	}
	m.store.SaveSession(ctx, s.ID, blob, m.config.HistoryTTL)
}

// Reset 回到 initial 并清除产物，历史保留
func (m *Machine) Reset(ctx context.Context, sessionID string) error {
	return m.ForceTransition(ctx, sessionID, StateInitial)
}

// ForceTransition 直接把会话转换到 to。不在转换表中时返回 *StateTransitionError 且不修改会话。
// 转换到 initial 时同时清除产物。
func (m *Machine) ForceTransition(ctx context.Context, sessionID string, to State) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}
	e := m.entry(ctx, sessionID)
	if err := e.acquire(ctx); err != nil {
		return types.WrapError(err, types.ErrCancelled, "force transition")
	}
	defer e.release()

	t := &turn{session: e.snapshot()}
	if err := m.moveTo(t, to); err != nil {
		m.logger.Warn("transition rejected", zap.String("session_id", sessionID), zap.Error(err))
		return err
	}
	if to == StateInitial {
		t.session.reset()
		e.context.Restore(react.ContextSnapshot{})
		m.forgetCrew(sessionID)
	}
	t.session.UpdatedAt = m.now()
	e.commit(t.session)
	m.persist(ctx, e)
	for _, tr := range t.transitions {
		m.metrics.RecordStateTransition(string(tr.From), string(tr.To))
	}
	m.logger.Info("session transitioned",
		zap.String("session_id", sessionID),
		zap.String("to", string(to)))
	return nil
}

// Snapshot 返回会话当前快照；未知会话为新的 initial 会话
func (m *Machine) Snapshot(ctx context.Context, sessionID string) Session {
	return m.entry(ctx, sessionID).snapshot()
}

// History 会话的完整历史
func (m *Machine) History(ctx context.Context, sessionID string) []types.Message {
	return m.store.History(ctx, sessionID, m.config.HistoryTTL).Messages(ctx)
}

// Sessions 存储中已知的会话 id
func (m *Machine) Sessions(ctx context.Context) ([]string, error) {
	return m.store.ListSessions(ctx)
}

// DeleteSession 删除会话历史、数据块与内存状态。等待进行中的回合结束后再删除。
func (m *Machine) DeleteSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}
	e := m.entry(ctx, sessionID)
	if err := e.acquire(ctx); err != nil {
		return types.WrapError(err, types.ErrCancelled, "delete session")
	}
	defer e.release()

	m.mu.Lock()
	if m.sessions[sessionID] == e {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	m.forgetCrew(sessionID)
	return m.store.DeleteSession(ctx, sessionID)
}

func (m *Machine) forgetCrew(sessionID string) {
	if m.crewSink != nil {
		m.crewSink.Forget(sessionID)
	}
}
