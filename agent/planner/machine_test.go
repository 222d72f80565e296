package planner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/crewplanner/agent/conversation"
	"github.com/BaSui01/crewplanner/agent/crews"
	"github.com/BaSui01/crewplanner/agent/execution"
	"github.com/BaSui01/crewplanner/agent/react"
	"github.com/BaSui01/crewplanner/internal/metrics"
	"github.com/BaSui01/crewplanner/llm"
	"github.com/BaSui01/crewplanner/testutil"
	"github.com/BaSui01/crewplanner/testutil/fixtures"
	"github.com/BaSui01/crewplanner/testutil/mocks"
	"github.com/BaSui01/crewplanner/tools"
	"github.com/BaSui01/crewplanner/tools/builtin"
	"github.com/BaSui01/crewplanner/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	planAnswer     = fixtures.PlanAnswer("这是为您制定的采购优化计划。", fixtures.SamplePlan())
	guidanceAnswer = fixtures.GuidanceAnswer("第一步：列出所有采购环节并记录耗时。")
)

type failingGenerator struct{ err error }

func (g failingGenerator) Generate(context.Context, map[string]any, string) (crews.Document, error) {
	return crews.Document{}, g.err
}

type sinkEntry struct {
	crew        string
	executionID string
}

// recordingSink 记录每个会话最近的团队配置
type recordingSink struct {
	mu      sync.Mutex
	entries map[string]sinkEntry
}

func (r *recordingSink) Set(sessionID string, doc crews.Document, executionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries == nil {
		r.entries = make(map[string]sinkEntry)
	}
	r.entries[sessionID] = sinkEntry{crew: doc.CrewAI.Name, executionID: executionID}
}

func (r *recordingSink) Forget(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, sessionID)
}

func (r *recordingSink) get(sessionID string) (sinkEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[sessionID]
	return e, ok
}

type fixture struct {
	machine  *Machine
	store    *conversation.MemoryStore
	provider *mocks.MockProvider
	tracker  *execution.Tracker
}

func newFixture(t *testing.T, responses ...string) *fixture {
	t.Helper()
	p := mocks.NewScriptedProvider(responses...)
	store := conversation.NewMemoryStore(time.Hour, zap.NewNop())
	cfg := react.DefaultConfig()
	cfg.Model = "test-model"
	exec := react.NewExecutor(p, nil, cfg, zap.NewNop())
	tracker := execution.NewTracker(100, zap.NewNop())
	m := NewMachine(store, exec, crews.NewGenerator(nil, "", zap.NewNop()), DefaultConfig(), zap.NewNop()).
		WithTracker(tracker).
		WithMetrics(metrics.NewCollector("test", prometheus.NewRegistry(), nil))
	return &fixture{machine: m, store: store, provider: p, tracker: tracker}
}

func (f *fixture) send(t *testing.T, session, input string) *Reply {
	t.Helper()
	r, err := f.machine.HandleMessage(testutil.TestContext(t), session, input)
	require.NoError(t, err)
	return r
}

func TestMachine_FullPlanningJourney(t *testing.T) {
	f := newFixture(t, planAnswer, guidanceAnswer)
	sink := &recordingSink{}
	f.machine.WithCrewSink(sink)

	inputs := []string{"你好", "我需要优化采购流程", "确认", "请生成 CrewAI 团队配置", "如何执行供应商评估？"}
	want := []State{StatePlanning, StateConfirmation, StateCrewGeneration, StateGuidance, StateGuidance}

	var replies []*Reply
	for i, in := range inputs {
		r := f.send(t, "S1", in)
		assert.Equal(t, want[i], r.State, "turn %d", i+1)
		replies = append(replies, r)
	}

	assert.Contains(t, replies[1].Content, "采购流程优化")
	assert.NotContains(t, replies[1].Content, "<plan>")
	assert.Equal(t, IntentConfirm, replies[2].Intent)
	assert.Equal(t, "第一步：列出所有采购环节并记录耗时。", replies[4].Content)

	history := f.machine.History(context.Background(), "S1")
	require.Len(t, history, 10)
	for i, msg := range history {
		if i%2 == 0 {
			assert.Equal(t, types.RoleUser, msg.Role)
			assert.Equal(t, inputs[i/2], msg.Content)
		} else {
			assert.Equal(t, types.RoleAssistant, msg.Role)
			assert.Equal(t, string(want[i/2]), msg.Metadata[types.MetaState])
		}
	}

	s := f.machine.Snapshot(context.Background(), "S1")
	assert.Equal(t, "采购流程优化", s.BusinessPlan["name"])
	require.NotNil(t, s.CrewConfig)
	assert.Contains(t, s.CrewConfig, "crewai_config")
	require.NotEmpty(t, s.ExecutionID)

	entry, ok := sink.get("S1")
	require.True(t, ok)
	assert.Equal(t, s.ExecutionID, entry.executionID)

	rec, err := f.tracker.Status(s.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusPending, rec.Status)

	// "执行" 触发上下文提示，提示和指导说明都带上登记的执行 ID
	prompt := f.provider.LastPrompt()
	assert.Contains(t, prompt, "crewai_generator")
	assert.Contains(t, prompt, "crewai_runtime")
	assert.Contains(t, prompt, "execution_id="+s.ExecutionID)
}

func TestMachine_ModifyBeforePlanExists(t *testing.T) {
	f := newFixture(t,
		fixtures.FinalAnswer("需要澄清", "请问您希望如何修改库存管理的目标？"),
		planAnswer)

	var states []State
	for _, in := range []string{"优化库存", "修改", "再试一次"} {
		states = append(states, f.send(t, "S2", in).State)
	}
	assert.Equal(t, []State{StatePlanning, StatePlanning, StateConfirmation}, states)
	assert.NotNil(t, f.machine.Snapshot(context.Background(), "S2").BusinessPlan)
}

func TestMachine_PlanningLoopsUntilPlanAppears(t *testing.T) {
	f := newFixture(t,
		"Thought: 需要更多信息\nFinal Answer: 请问您希望优化哪个业务流程？",
		planAnswer)

	r := f.send(t, "s2", "你好")
	assert.Equal(t, []Transition{{From: StateInitial, To: StatePlanning}}, r.Transitions)

	r = f.send(t, "s2", "我想改进一下公司")
	assert.Equal(t, StatePlanning, r.State)
	assert.Equal(t, "请问您希望优化哪个业务流程？", r.Content)
	assert.Equal(t, []Transition{{From: StatePlanning, To: StatePlanning}}, r.Transitions)
	assert.Nil(t, f.machine.Snapshot(context.Background(), "s2").BusinessPlan)

	r = f.send(t, "s2", "采购流程")
	assert.Equal(t, StateConfirmation, r.State)
	assert.Equal(t, react.OutcomeFinished, r.Outcome)
}

func TestMachine_ForceTransitionRejectsIllegalMove(t *testing.T) {
	f := newFixture(t, planAnswer)
	f.send(t, "s3", "你好")
	f.send(t, "s3", "采购")
	before := f.machine.Snapshot(context.Background(), "s3")
	require.Equal(t, StateConfirmation, before.State)

	err := f.machine.ForceTransition(context.Background(), "s3", StateCompleted)
	require.Error(t, err)
	var te *StateTransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, StateConfirmation, te.From)
	assert.Equal(t, StateCompleted, te.To)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidTransition))

	after := f.machine.Snapshot(context.Background(), "s3")
	assert.Equal(t, before.State, after.State)
	assert.Equal(t, before.BusinessPlan, after.BusinessPlan)

	require.NoError(t, f.machine.ForceTransition(context.Background(), "s3", StatePlanning))
	assert.Equal(t, StatePlanning, f.machine.Snapshot(context.Background(), "s3").State)
}

func TestMachine_ConfirmationHandlesIntents(t *testing.T) {
	f := newFixture(t, planAnswer)
	f.send(t, "s4", "你好")
	f.send(t, "s4", "采购")

	r := f.send(t, "s4", "嗯……")
	assert.Equal(t, StateConfirmation, r.State)
	assert.Equal(t, IntentPlanning, r.Intent)
	assert.Contains(t, r.Content, "采购流程优化")

	r = f.send(t, "s4", "我想修改第二步")
	assert.Equal(t, StatePlanning, r.State)
	assert.Equal(t, IntentModify, r.Intent)
	// 计划保留到下一次解析成功
	assert.NotNil(t, f.machine.Snapshot(context.Background(), "s4").BusinessPlan)
}

func TestMachine_EmptyInputInInitialGreets(t *testing.T) {
	f := newFixture(t, planAnswer)
	r := f.send(t, "s5", "")
	assert.Equal(t, StatePlanning, r.State)
	assert.Equal(t, greeting, r.Content)
	assert.Zero(t, f.provider.GetCallCount())
}

func TestMachine_EmptySessionID(t *testing.T) {
	f := newFixture(t)
	_, err := f.machine.HandleMessage(context.Background(), "", "hi")
	assert.ErrorIs(t, err, ErrEmptySessionID)
}

func TestMachine_CompletionAndRestart(t *testing.T) {
	f := newFixture(t, planAnswer, guidanceAnswer)
	for _, in := range []string{"你好", "采购", "确认", "生成"} {
		f.send(t, "s6", in)
	}
	r := f.send(t, "s6", "好了，结束吧")
	assert.Equal(t, StateCompleted, r.State)
	assert.Equal(t, IntentComplete, r.Intent)

	r = f.send(t, "s6", "新的需求")
	assert.Equal(t, StatePlanning, r.State)
	assert.Equal(t, []Transition{
		{From: StateCompleted, To: StateInitial},
		{From: StateInitial, To: StatePlanning},
	}, r.Transitions)
	s := f.machine.Snapshot(context.Background(), "s6")
	assert.Nil(t, s.BusinessPlan)
	assert.Nil(t, s.CrewConfig)
	assert.Empty(t, s.ExecutionID)
}

func TestMachine_GenerationFailureStaysForRetry(t *testing.T) {
	f := newFixture(t, planAnswer)
	f.machine.generator = failingGenerator{err: errors.New("boom")}
	for _, in := range []string{"你好", "采购", "确认"} {
		f.send(t, "s7", in)
	}
	r := f.send(t, "s7", "生成")
	assert.Equal(t, StateCrewGeneration, r.State)
	assert.Contains(t, r.Content, "boom")
	assert.Nil(t, f.machine.Snapshot(context.Background(), "s7").CrewConfig)
}

func TestMachine_LLMFailureKeepsState(t *testing.T) {
	p := mocks.NewErrorProvider(errors.New("upstream down"))
	store := conversation.NewMemoryStore(time.Hour, nil)
	exec := react.NewExecutor(p, nil, react.DefaultConfig(), nil)
	m := NewMachine(store, exec, crews.NewGenerator(nil, "", nil), DefaultConfig(), nil)

	_, err := m.HandleMessage(context.Background(), "s8", "你好")
	require.NoError(t, err)
	r, err := m.HandleMessage(context.Background(), "s8", "采购")
	require.NoError(t, err)
	assert.Equal(t, StatePlanning, r.State)
	assert.Equal(t, llmFailureReply, r.Content)
	assert.Len(t, m.History(context.Background(), "s8"), 4)
}

func TestMachine_SessionSurvivesRestart(t *testing.T) {
	f := newFixture(t, planAnswer)
	f.send(t, "s9", "你好")
	f.send(t, "s9", "采购")

	exec := react.NewExecutor(mocks.NewScriptedProvider(planAnswer), nil, react.DefaultConfig(), nil)
	restarted := NewMachine(f.store, exec, crews.NewGenerator(nil, "", nil), DefaultConfig(), nil)

	s := restarted.Snapshot(context.Background(), "s9")
	assert.Equal(t, StateConfirmation, s.State)
	assert.Equal(t, "采购流程优化", s.BusinessPlan["name"])

	r, err := restarted.HandleMessage(context.Background(), "s9", "确认")
	require.NoError(t, err)
	assert.Equal(t, StateCrewGeneration, r.State)

	ids, err := restarted.Sessions(context.Background())
	require.NoError(t, err)
	assert.Contains(t, ids, "s9")

	require.NoError(t, restarted.DeleteSession(context.Background(), "s9"))
	assert.Empty(t, restarted.History(context.Background(), "s9"))
	assert.Equal(t, StateInitial, restarted.Snapshot(context.Background(), "s9").State)
}

func TestMachine_ResetClearsArtifacts(t *testing.T) {
	f := newFixture(t, planAnswer)
	f.send(t, "s10", "你好")
	f.send(t, "s10", "采购")
	require.NoError(t, f.machine.Reset(context.Background(), "s10"))

	s := f.machine.Snapshot(context.Background(), "s10")
	assert.Equal(t, StateInitial, s.State)
	assert.Nil(t, s.BusinessPlan)
	assert.Len(t, f.machine.History(context.Background(), "s10"), 4)
}

func TestMachine_ResetForgetsSessionCrew(t *testing.T) {
	f := newFixture(t, planAnswer)
	sink := &recordingSink{}
	f.machine.WithCrewSink(sink)
	for _, in := range []string{"你好", "采购", "确认", "生成"} {
		f.send(t, "s11", in)
	}
	_, ok := sink.get("s11")
	require.True(t, ok)

	require.NoError(t, f.machine.Reset(context.Background(), "s11"))
	_, ok = sink.get("s11")
	assert.False(t, ok)
}

func TestMachine_RunItStartsOwnRegisteredExecution(t *testing.T) {
	otherPlan := fixtures.SamplePlan()
	otherPlan["name"] = "库存周转优化"
	p := mocks.NewScriptedProvider(
		planAnswer,
		fixtures.PlanAnswer("库存计划", otherPlan),
		fixtures.ToolStep("用户要运行刚生成的团队", "crewai_runtime", map[string]any{"action": "run"}),
		fixtures.GuidanceAnswer("团队已经启动。"),
	)
	tracker := execution.NewTracker(100, nil)
	latest := &builtin.LatestCrew{}
	runtime, err := builtin.Classes(builtin.Deps{Tracker: tracker, Latest: latest})[builtin.ClassCrewRuntime](nil)
	require.NoError(t, err)

	exec := react.NewExecutor(p, []tools.Tool{runtime}, react.DefaultConfig(), nil)
	m := NewMachine(conversation.NewMemoryStore(time.Hour, nil), exec, crews.NewGenerator(nil, "", nil), DefaultConfig(), nil).
		WithTracker(tracker).
		WithCrewSink(latest)
	ctx := testutil.TestContext(t)
	send := func(session, in string) *Reply {
		r, err := m.HandleMessage(ctx, session, in)
		require.NoError(t, err)
		return r
	}

	for _, in := range []string{"你好", "采购", "确认", "生成"} {
		send("A", in)
	}
	for _, in := range []string{"你好", "库存", "确认", "生成"} {
		send("B", in)
	}
	idA := m.Snapshot(ctx, "A").ExecutionID
	idB := m.Snapshot(ctx, "B").ExecutionID
	require.NotEmpty(t, idA)
	require.NotEmpty(t, idB)

	r := send("A", "帮我运行它")
	assert.Equal(t, StateGuidance, r.State)
	prompt := mocks.JoinMessages(p.GetCalls()[2].Request.Messages)
	assert.Contains(t, prompt, "execution_id="+idA)
	assert.NotContains(t, prompt, idB)

	require.Eventually(t, func() bool {
		rec, err := tracker.Status(idA)
		return err == nil && rec.Status == execution.StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)
	recB, err := tracker.Status(idB)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusPending, recB.Status)
	assert.Len(t, tracker.List(), 2, "no extra execution is created")
}

func TestMachine_DeleteWaitsForInFlightTurn(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	p := mocks.NewMockProvider().WithCompletionFunc(func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
		started <- struct{}{}
		<-release
		return &llm.ChatResponse{Content: planAnswer}, nil
	})
	store := conversation.NewMemoryStore(time.Hour, nil)
	m := NewMachine(store, react.NewExecutor(p, nil, react.DefaultConfig(), nil),
		crews.NewGenerator(nil, "", nil), DefaultConfig(), nil)
	ctx := testutil.TestContext(t)

	_, err := m.HandleMessage(ctx, "s12", "你好")
	require.NoError(t, err)

	turnDone := make(chan *Reply, 1)
	go func() {
		r, _ := m.HandleMessage(ctx, "s12", "采购")
		turnDone <- r
	}()
	_, ok := testutil.WaitForChannel(started, 2*time.Second)
	require.True(t, ok, "turn reached the model")

	deleted := make(chan error, 1)
	go func() { deleted <- m.DeleteSession(ctx, "s12") }()
	_, ok = testutil.WaitForChannel(deleted, 50*time.Millisecond)
	assert.False(t, ok, "delete waits for the running turn")

	close(release)
	r, ok := testutil.WaitForChannel(turnDone, 2*time.Second)
	require.True(t, ok)
	assert.Equal(t, StateConfirmation, r.State)
	err, ok = testutil.WaitForChannel(deleted, 2*time.Second)
	require.True(t, ok)
	require.NoError(t, err)

	_, found := store.LoadSession(ctx, "s12")
	assert.False(t, found, "finished turn does not resurrect the blob")
	assert.Empty(t, store.History(ctx, "s12", 0).Messages(ctx))
	assert.Equal(t, StateInitial, m.Snapshot(ctx, "s12").State)
}
