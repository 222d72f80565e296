package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BaSui01/crewplanner/llm"
	"github.com/BaSui01/crewplanner/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToRequest_MergesRoles(t *testing.T) {
	p := New(Config{DefaultModel: "claude"}, nil)
	req := p.toRequest(&llm.ChatRequest{Messages: []types.Message{
		types.NewSystemMessage("a"),
		types.NewSystemMessage("b"),
		types.NewUserMessage("q1"),
		types.NewToolMessage("t", "obs"),
		types.NewAssistantMessage("r"),
	}}, false)

	assert.Equal(t, "claude", req.Model)
	assert.Equal(t, 4096, req.MaxTokens)
	assert.Equal(t, "a\n\nb", req.System)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "q1\n\nobs", req.Messages[0].Content)
	assert.Equal(t, "assistant", req.Messages[1].Role)
}

func TestCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		assert.Equal(t, apiVersion, r.Header.Get("anthropic-version"))
		var body request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "sys", body.System)
		fmt.Fprint(w, `{"id":"m1","model":"claude","content":[{"type":"text","text":"hi"}],
			"stop_reason":"end_turn","usage":{"input_tokens":4,"output_tokens":1}}`)
	}))
	defer srv.Close()

	p := New(Config{APIKey: "key", BaseURL: srv.URL}, nil)
	resp, err := p.Completion(context.Background(), &llm.ChatRequest{
		Model:    "claude",
		Messages: []types.Message{types.NewSystemMessage("sys"), types.NewUserMessage("hello")},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Content)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
	assert.Equal(t, "anthropic", resp.Provider)
}

func TestStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "event: content_block_delta\n")
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Hel\"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"lo\"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"},\"usage\":{\"output_tokens\":2}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"message_stop\"}\n\n")
	}))
	defer srv.Close()

	p := New(Config{BaseURL: srv.URL}, nil)
	ch, err := p.Stream(context.Background(), &llm.ChatRequest{})
	require.NoError(t, err)
	text, err := llm.Collect(context.Background(), ch)
	require.NoError(t, err)
	assert.Equal(t, "Hello", text)
}

func TestCompletion_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	}))
	defer srv.Close()

	_, err := New(Config{BaseURL: srv.URL}, nil).Completion(context.Background(), &llm.ChatRequest{})
	var le *llm.Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, llm.ErrUnauthorized, le.Code)
	assert.False(t, le.Retryable)
}
