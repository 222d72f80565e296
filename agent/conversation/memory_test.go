package conversation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/crewplanner/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newMemoryStore(ttl time.Duration) (*MemoryStore, *manualClock) {
	clock := &manualClock{now: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)}
	return NewMemoryStore(ttl, nil).WithClock(clock.Now), clock
}

func TestMemoryStore_HistoryAndSession(t *testing.T) {
	store, _ := newMemoryStore(0)
	ctx := context.Background()
	assert.Equal(t, "memory", store.Backend())

	h := store.History(ctx, "s1", 0)
	assert.Equal(t, "s1", h.SessionID())
	h.AddMessage(ctx, types.NewUserMessage("hi"))
	h.AddMessage(ctx, types.NewToolMessage("current_time", `{"date":"2026-10-15"}`))

	msgs := store.History(ctx, "s1", 0).Messages(ctx)
	require.Len(t, msgs, 2)
	assert.Equal(t, types.RoleTool, msgs[1].Role)
	assert.Equal(t, "current_time", msgs[1].Name)

	blob := map[string]any{"state": "planning"}
	store.SaveSession(ctx, "s1", blob, 0)
	blob["state"] = "mutated"
	got, ok := store.LoadSession(ctx, "s1")
	require.True(t, ok)
	assert.Equal(t, "planning", got["state"])
}

func TestMemoryStore_Expiry(t *testing.T) {
	store, clock := newMemoryStore(time.Hour)
	ctx := context.Background()
	h := store.History(ctx, "s1", 0)

	h.AddMessage(ctx, types.NewUserMessage("one"))
	store.SaveSession(ctx, "s1", map[string]any{"state": "initial"}, 0)
	clock.Advance(50 * time.Minute)
	h.AddMessage(ctx, types.NewUserMessage("two"))

	clock.Advance(30 * time.Minute)
	assert.Len(t, h.Messages(ctx), 2)
	_, ok := store.LoadSession(ctx, "s1")
	assert.True(t, ok, "session blob shares the history's refreshed ttl")

	clock.Advance(31 * time.Minute)
	assert.Empty(t, h.Messages(ctx))
	ids, err := store.ListSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	// 过期后重新写入从空历史开始
	h.AddMessage(ctx, types.NewUserMessage("three"))
	assert.Len(t, h.Messages(ctx), 1)
}

func TestMemoryStore_SessionUsesGivenTTL(t *testing.T) {
	store, clock := newMemoryStore(24 * time.Hour)
	ctx := context.Background()

	store.SaveSession(ctx, "s1", map[string]any{"state": "planning"}, time.Hour)
	clock.Advance(59 * time.Minute)
	_, ok := store.LoadSession(ctx, "s1")
	assert.True(t, ok)

	clock.Advance(2 * time.Minute)
	_, ok = store.LoadSession(ctx, "s1")
	assert.False(t, ok)
}

func TestMemoryStore_AdminOperations(t *testing.T) {
	store, _ := newMemoryStore(0)
	ctx := context.Background()
	for _, id := range []string{"c", "a", "b"} {
		store.History(ctx, id, 0).AddMessage(ctx, types.NewUserMessage("hi"))
	}

	ids, err := store.ListSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	require.NoError(t, store.DeleteSession(ctx, "b"))
	ids, _ = store.ListSessions(ctx)
	assert.Equal(t, []string{"a", "c"}, ids)

	require.NoError(t, store.ClearAll(ctx))
	ids, _ = store.ListSessions(ctx)
	assert.Empty(t, ids)
	require.NoError(t, store.Close())
}

func TestMemoryStore_ConcurrentAppends(t *testing.T) {
	store, _ := newMemoryStore(0)
	ctx := context.Background()
	h := store.History(ctx, "s1", 0)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h.AddMessage(ctx, types.NewUserMessage(fmt.Sprintf("m%d", i)))
		}(i)
	}
	wg.Wait()
	assert.Len(t, h.Messages(ctx), 20)
}

func TestProperty_MemoryHistoryPreservesOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		store, _ := newMemoryStore(0)
		ctx := context.Background()
		h := store.History(ctx, "p", 0)

		roles := []types.Role{types.RoleUser, types.RoleAssistant, types.RoleSystem, types.RoleTool}
		n := rapid.IntRange(0, 15).Draw(t, "n")
		want := make([]types.Message, 0, n)
		for i := 0; i < n; i++ {
			m := types.NewMessage(
				rapid.SampledFrom(roles).Draw(t, "role"),
				rapid.String().Draw(t, "content"),
			)
			h.AddMessage(ctx, m)
			want = append(want, m)
		}

		got := h.Messages(ctx)
		if len(got) != len(want) {
			t.Fatalf("got %d messages, want %d", len(got), len(want))
		}
		for i := range want {
			if got[i].Role != want[i].Role || got[i].Content != want[i].Content {
				t.Fatalf("message %d: got %s/%q want %s/%q", i, got[i].Role, got[i].Content, want[i].Role, want[i].Content)
			}
		}
	})
}
