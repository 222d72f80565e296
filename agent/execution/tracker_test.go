package execution

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/crewplanner/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func crewConfig(name string) map[string]any {
	return map[string]any{"crewai_config": map[string]any{"name": name}}
}

func TestTracker_Lifecycle(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(0, nil).WithClock(clock.Now)

	id := tr.Create(crewConfig("Coffee Crew"), map[string]any{"city": "Lyon"})
	rec, err := tr.Status(id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, 0, rec.Progress)
	assert.Equal(t, "Coffee Crew", rec.CrewName())
	assert.Nil(t, rec.CompletedAt)

	require.NoError(t, tr.Start(id))
	require.NoError(t, tr.UpdateProgress(id, ProgressUpdate{CurrentAgent: Str("researcher"), Progress: Int(40)}))
	require.NoError(t, tr.Pause(id))
	require.NoError(t, tr.Resume(id))

	clock.Advance(5 * time.Minute)
	require.NoError(t, tr.Complete(id, map[string]any{"report": "done"}, true))

	rec, err = tr.Status(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, 100, rec.Progress)
	assert.Equal(t, "researcher", rec.CurrentAgent)
	assert.Equal(t, map[string]any{"report": "done"}, rec.Result)
	require.NotNil(t, rec.CompletedAt)
	assert.Equal(t, 5*time.Minute, rec.Duration())

	err = tr.Cancel(id)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.True(t, types.IsErrorCode(err, types.ErrExecutionTerminal))

	after, err := tr.Status(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, after.Status)
	assert.Equal(t, rec.CompletedAt, after.CompletedAt)
}

func TestTracker_CompleteFailure(t *testing.T) {
	tr := NewTracker(0, nil)
	id := tr.Create(crewConfig("x"), nil)
	require.NoError(t, tr.Start(id))
	require.NoError(t, tr.UpdateProgress(id, ProgressUpdate{Progress: Int(60)}))
	require.NoError(t, tr.Complete(id, "agent crashed", false))

	rec, err := tr.Status(id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, "agent crashed", rec.Error)
	assert.Equal(t, 60, rec.Progress)
	assert.Nil(t, rec.Result)
}

func TestTracker_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name  string
		setup func(tr *Tracker, id string)
		act   func(tr *Tracker, id string) error
		code  types.ErrorCode
	}{
		{"pause pending", func(*Tracker, string) {}, (*Tracker).Pause, types.ErrInvalidTransition},
		{"resume running", func(tr *Tracker, id string) { _ = tr.Start(id) }, (*Tracker).Resume, types.ErrInvalidTransition},
		{"start twice", func(tr *Tracker, id string) { _ = tr.Start(id) }, (*Tracker).Start, types.ErrInvalidTransition},
		{"complete pending", func(*Tracker, string) {},
			func(tr *Tracker, id string) error { return tr.Complete(id, nil, true) }, types.ErrInvalidTransition},
		{"progress after cancel", func(tr *Tracker, id string) { _ = tr.Cancel(id) },
			func(tr *Tracker, id string) error { return tr.UpdateProgress(id, ProgressUpdate{Progress: Int(10)}) }, types.ErrExecutionTerminal},
		{"fail after fail", func(tr *Tracker, id string) { _ = tr.Fail(id, "boom") },
			func(tr *Tracker, id string) error { return tr.Fail(id, "again") }, types.ErrExecutionTerminal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker(0, nil)
			id := tr.Create(nil, nil)
			tt.setup(tr, id)
			err := tt.act(tr, id)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidTransition)
			assert.True(t, types.IsErrorCode(err, tt.code), "got %v", err)
		})
	}
}

func TestTracker_UnknownID(t *testing.T) {
	tr := NewTracker(0, nil)
	_, err := tr.Status("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, types.IsErrorCode(err, types.ErrExecutionNotFound))
	assert.ErrorIs(t, tr.Start("missing"), ErrNotFound)
	assert.ErrorIs(t, tr.AddLog("missing", "", "x", nil), ErrNotFound)
}

func TestTracker_ProgressClamp(t *testing.T) {
	tr := NewTracker(0, nil)
	id := tr.Create(nil, nil)
	require.NoError(t, tr.Start(id))

	require.NoError(t, tr.UpdateProgress(id, ProgressUpdate{Progress: Int(250)}))
	rec, _ := tr.Status(id)
	assert.Equal(t, 99, rec.Progress)

	require.NoError(t, tr.UpdateProgress(id, ProgressUpdate{Progress: Int(-3)}))
	rec, _ = tr.Status(id)
	assert.Equal(t, 0, rec.Progress)

	require.NoError(t, tr.UpdateProgress(id, ProgressUpdate{CurrentTask: Str("write report")}))
	rec, _ = tr.Status(id)
	assert.Equal(t, 0, rec.Progress)
	assert.Equal(t, "write report", rec.CurrentTask)
}

func TestTracker_LogsBounded(t *testing.T) {
	tr := NewTracker(3, nil)
	id := tr.Create(nil, nil)
	for _, msg := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, tr.AddLog(id, "", msg, nil))
	}
	rec, err := tr.Status(id)
	require.NoError(t, err)
	require.Len(t, rec.Logs, 3)
	assert.Equal(t, "c", rec.Logs[0].Message)
	assert.Equal(t, LevelInfo, rec.Logs[0].Level)

	recent, err := tr.RecentLogs(id, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "e"}, []string{recent[0].Message, recent[1].Message})

	require.NoError(t, tr.Cancel(id))
	assert.NoError(t, tr.AddLog(id, LevelWarning, "after cancel", nil))
}

func TestTracker_SnapshotIsolation(t *testing.T) {
	tr := NewTracker(0, nil)
	id := tr.Create(nil, nil)
	require.NoError(t, tr.AddLog(id, LevelDebug, "first", nil))

	rec, _ := tr.Status(id)
	rec.Logs[0].Message = "mutated"
	rec.Status = StatusCompleted

	again, _ := tr.Status(id)
	assert.Equal(t, "first", again.Logs[0].Message)
	assert.Equal(t, StatusPending, again.Status)
}

func TestTracker_List(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(0, nil).WithClock(clock.Now)

	first := tr.Create(nil, nil)
	clock.Advance(time.Second)
	second := tr.Create(nil, nil)
	require.NoError(t, tr.Start(second))

	all := tr.List()
	require.Len(t, all, 2)
	assert.Equal(t, second, all[0].ID)
	assert.Equal(t, first, all[1].ID)

	running := tr.List(StatusRunning)
	require.Len(t, running, 1)
	assert.Equal(t, second, running[0].ID)
	assert.Empty(t, tr.List(StatusCompleted))
}

func TestTracker_WaitWhilePaused(t *testing.T) {
	tr := NewTracker(0, nil)
	id := tr.Create(nil, nil)
	require.NoError(t, tr.Start(id))

	status, err := tr.WaitWhilePaused(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, status)

	require.NoError(t, tr.Pause(id))
	done := make(chan Status, 1)
	go func() {
		s, _ := tr.WaitWhilePaused(context.Background(), id)
		done <- s
	}()

	select {
	case <-done:
		t.Fatal("returned while still paused")
	case <-time.After(20 * time.Millisecond):
	}
	require.NoError(t, tr.Cancel(id))

	select {
	case s := <-done:
		assert.Equal(t, StatusCancelled, s)
	case <-time.After(time.Second):
		t.Fatal("waiter not released")
	}
}

func TestTracker_WaitWhilePaused_ContextDone(t *testing.T) {
	tr := NewTracker(0, nil)
	id := tr.Create(nil, nil)
	require.NoError(t, tr.Start(id))
	require.NoError(t, tr.Pause(id))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	status, err := tr.WaitWhilePaused(ctx, id)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StatusPaused, status)
}

type recordingArchive struct {
	mu    sync.Mutex
	saved []Record
	err   error
}

func (a *recordingArchive) Save(_ context.Context, records []Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.saved = append(a.saved, records...)
	return nil
}

func TestTracker_CleanupOld(t *testing.T) {
	clock := newFakeClock()
	archive := &recordingArchive{}
	tr := NewTracker(0, nil).WithClock(clock.Now).WithArchive(archive)

	oldDone := tr.Create(nil, nil)
	require.NoError(t, tr.Start(oldDone))
	require.NoError(t, tr.Complete(oldDone, "ok", true))
	oldRunning := tr.Create(nil, nil)
	require.NoError(t, tr.Start(oldRunning))

	clock.Advance(25 * time.Hour)
	fresh := tr.Create(nil, nil)

	removed, err := tr.CleanupOld(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, err = tr.Status(oldDone)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = tr.Status(oldRunning)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = tr.Status(fresh)
	assert.NoError(t, err)

	require.Len(t, archive.saved, 1)
	assert.Equal(t, oldDone, archive.saved[0].ID)
}

func TestTracker_CleanupOld_ArchiveFailureKeepsRecords(t *testing.T) {
	clock := newFakeClock()
	archive := &recordingArchive{err: errors.New("db down")}
	tr := NewTracker(0, nil).WithClock(clock.Now).WithArchive(archive)

	id := tr.Create(nil, nil)
	require.NoError(t, tr.Cancel(id))
	clock.Advance(48 * time.Hour)

	removed, err := tr.CleanupOld(context.Background(), time.Hour)
	require.Error(t, err)
	assert.Equal(t, 0, removed)
	_, err = tr.Status(id)
	assert.NoError(t, err)
}

func TestTracker_ConcurrentUpdates(t *testing.T) {
	tr := NewTracker(10000, nil)
	id := tr.Create(nil, nil)
	require.NoError(t, tr.Start(id))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = tr.UpdateProgress(id, ProgressUpdate{Progress: Int(i)})
			_ = tr.AddLog(id, LevelInfo, "tick", nil)
			_, _ = tr.Status(id)
		}(i)
	}
	wg.Wait()

	rec, err := tr.Status(id)
	require.NoError(t, err)
	assert.Len(t, rec.Logs, 50)
	assert.Less(t, rec.Progress, 100)
}

func TestProperty_ProgressHundredOnlyWhenCompleted(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tr := NewTracker(0, nil)
		id := tr.Create(nil, nil)

		ops := rapid.SliceOfN(rapid.IntRange(0, 7), 1, 30).Draw(t, "ops")
		for _, op := range ops {
			switch op {
			case 0:
				_ = tr.Start(id)
			case 1:
				_ = tr.Pause(id)
			case 2:
				_ = tr.Resume(id)
			case 3:
				_ = tr.Cancel(id)
			case 4:
				_ = tr.Complete(id, "r", rapid.Bool().Draw(t, "success"))
			case 5:
				_ = tr.Fail(id, "boom")
			default:
				p := rapid.IntRange(-50, 200).Draw(t, "progress")
				_ = tr.UpdateProgress(id, ProgressUpdate{Progress: Int(p)})
			}

			rec, err := tr.Status(id)
			if err != nil {
				t.Fatalf("status: %v", err)
			}
			if rec.Progress < 0 || rec.Progress > 100 {
				t.Fatalf("progress out of range: %d", rec.Progress)
			}
			if (rec.Progress == 100) != (rec.Status == StatusCompleted) {
				t.Fatalf("progress %d with status %s", rec.Progress, rec.Status)
			}
			if rec.Status.Terminal() != (rec.CompletedAt != nil) {
				t.Fatalf("completed_at mismatch for %s", rec.Status)
			}
		}
	})
}

func TestProperty_TerminalIsFinal(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tr := NewTracker(0, nil)
		id := tr.Create(nil, nil)
		_ = tr.Start(id)
		switch rapid.IntRange(0, 2).Draw(t, "terminal") {
		case 0:
			_ = tr.Complete(id, "r", true)
		case 1:
			_ = tr.Fail(id, "x")
		default:
			_ = tr.Cancel(id)
		}
		before, _ := tr.Status(id)

		ops := rapid.SliceOfN(rapid.IntRange(0, 5), 1, 10).Draw(t, "ops")
		for _, op := range ops {
			var err error
			switch op {
			case 0:
				err = tr.Start(id)
			case 1:
				err = tr.Pause(id)
			case 2:
				err = tr.Resume(id)
			case 3:
				err = tr.Cancel(id)
			case 4:
				err = tr.Complete(id, "other", true)
			default:
				err = tr.Fail(id, "other")
			}
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("op %d on terminal record: %v", op, err)
			}
		}
		after, _ := tr.Status(id)
		if after.Status != before.Status || after.Error != before.Error || after.Result != before.Result {
			t.Fatalf("terminal record changed: %+v -> %+v", before, after)
		}
	})
}

func TestClampProgress(t *testing.T) {
	tests := []struct {
		in        int
		completed bool
		want      int
	}{
		{-1, false, 0},
		{50, false, 50},
		{100, false, 99},
		{100, true, 100},
		{140, true, 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClampProgress(tt.in, tt.completed))
	}
}
