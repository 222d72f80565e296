package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResult_JSON(t *testing.T) {
	data, err := json.Marshal(Failure(ErrTypeHTTP, "HTTP %d", 503))
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":true,"message":"HTTP 503","type":"http_error"}`, string(data))

	data, err = json.Marshal(Success(map[string]any{"a": 1}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(data))
}

func TestResult_String(t *testing.T) {
	assert.Equal(t, "plain", Success("plain").String())
	assert.JSONEq(t, `{"n":2}`, Success(map[string]int{"n": 2}).String())
	assert.Contains(t, Failure(ErrTypeTimeout, "slow").String(), `"type":"timeout"`)
}

func TestRunAsync_RecoversPanic(t *testing.T) {
	ch := RunAsync(context.Background(), func(context.Context, map[string]any) Result {
		panic("boom")
	}, nil)
	res := Await(context.Background(), ch)
	require.True(t, res.IsError())
	assert.Equal(t, ErrTypeInternal, res.Err.Type)
	assert.Contains(t, res.Err.Message, "boom")
}

func TestAwait_ContextDone(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	ch := RunAsync(context.Background(), func(context.Context, map[string]any) Result {
		<-block
		return Success("late")
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res := Await(ctx, ch)
	require.True(t, res.IsError())
	assert.Equal(t, ErrTypeCancelled, res.Err.Type)
}

func TestPrimaryParam(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		want   string
	}{
		{"none", nil, "input"},
		{"single", Params{"query": {}}, "query"},
		{"first required", Params{"b": {Required: true}, "a": {Required: true}, "c": {}}, "a"},
		{"no required", Params{"x": {}, "y": {}}, "input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PrimaryParam(tt.params))
		})
	}
}

func TestFuncTool_ValidatesBeforeRun(t *testing.T) {
	called := false
	tool := &FuncTool{
		ToolName:   "greet",
		ToolParams: Params{"name": {Type: "string", Required: true}},
		Fn: func(_ context.Context, args map[string]any) Result {
			called = true
			return Success("hi " + args["name"].(string))
		},
	}

	res := tool.Run(context.Background(), map[string]any{})
	require.True(t, res.IsError())
	assert.Equal(t, ErrTypeValidation, res.Err.Type)
	assert.False(t, called)

	res = Await(context.Background(), tool.RunAsync(context.Background(), map[string]any{"name": "li"}))
	require.False(t, res.IsError())
	assert.Equal(t, "hi li", res.Data)
}
