package execution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJanitor_RemovesStaleRecords(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(0, nil).WithClock(clock.Now)
	id := tr.Create(nil, nil)
	clock.Advance(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewJanitor(tr, 5*time.Millisecond, time.Minute, nil).Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, err := tr.Status(id)
		return err != nil
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}

func TestNewJanitor_DefaultInterval(t *testing.T) {
	j := NewJanitor(NewTracker(0, nil), 0, time.Hour, nil)
	assert.Equal(t, time.Hour, j.interval)
}
