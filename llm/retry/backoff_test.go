package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/BaSui01/crewplanner/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastPolicy(maxRetries int) *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetryer_Success(t *testing.T) {
	r := NewRetryer(fastPolicy(3), zap.NewNop())

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls, "应该只调用一次")
}

func TestRetryer_RetryAndSuccess(t *testing.T) {
	r := NewRetryer(fastPolicy(3), zap.NewNop())

	calls := 0
	v, err := Do(context.Background(), r, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("temporary")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, calls)
}

func TestRetryer_Exhausted(t *testing.T) {
	r := NewRetryer(fastPolicy(2), nil)
	sentinel := errors.New("always")

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return sentinel
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, calls)
}

func TestRetryer_NonRetryableStopsImmediately(t *testing.T) {
	p := fastPolicy(5)
	p.ShouldRetry = func(error) bool { return false }
	r := NewRetryer(p, nil)

	calls := 0
	_ = r.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("fatal")
	})
	assert.Equal(t, 1, calls)
}

func TestRetryer_ContextCancelled(t *testing.T) {
	p := fastPolicy(5)
	p.InitialDelay = time.Second
	p.MaxDelay = time.Second
	r := NewRetryer(p, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := r.Do(ctx, func(context.Context) error { return errors.New("x") })
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRetryer_DelayBounds(t *testing.T) {
	r := NewRetryer(&RetryPolicy{MaxRetries: 5, InitialDelay: 10 * time.Millisecond, MaxDelay: 40 * time.Millisecond, Multiplier: 2}, nil)
	assert.Equal(t, 10*time.Millisecond, r.delay(1))
	assert.Equal(t, 20*time.Millisecond, r.delay(2))
	assert.Equal(t, 40*time.Millisecond, r.delay(3))
	assert.Equal(t, 40*time.Millisecond, r.delay(6))
}

type flakyProvider struct {
	calls  int
	status int
}

func (f *flakyProvider) Name() string { return "flaky" }

func (f *flakyProvider) Completion(context.Context, *llm.ChatRequest) (*llm.ChatResponse, error) {
	f.calls++
	if f.calls == 1 {
		return nil, llm.MapHTTPError(f.status, "fail", "flaky")
	}
	return &llm.ChatResponse{Content: "ok"}, nil
}

func (f *flakyProvider) Stream(context.Context, *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	return nil, errors.New("unsupported")
}

func TestWrapProvider(t *testing.T) {
	retryable := &flakyProvider{status: http.StatusServiceUnavailable}
	p := WrapProvider(retryable, NewRetryer(fastPolicy(2), nil))
	resp, err := p.Completion(context.Background(), &llm.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 2, retryable.calls)

	fatal := &flakyProvider{status: http.StatusUnauthorized}
	p = WrapProvider(fatal, NewRetryer(fastPolicy(2), nil))
	_, err = p.Completion(context.Background(), &llm.ChatRequest{})
	require.Error(t, err)
	assert.Equal(t, 1, fatal.calls)
}
