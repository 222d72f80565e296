package conversation

import (
	"testing"
	"time"

	"github.com/BaSui01/crewplanner/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestEncodeHistory_Layout(t *testing.T) {
	ts := time.Date(2026, 10, 15, 6, 30, 0, 0, time.UTC)
	msgs := []types.Message{
		{Role: types.RoleUser, Content: "hi", CreatedAt: ts},
		{Role: types.RoleAssistant, Content: "hello", Metadata: map[string]any{"model": "m"}},
		{Role: types.RoleTool, Content: "{}", Name: "current_time"},
	}
	data, err := EncodeHistory(msgs)
	require.NoError(t, err)

	doc := gjson.ParseBytes(data)
	assert.Equal(t, int64(3), doc.Get("#").Int())
	assert.Equal(t, "human", doc.Get("0.type").String())
	assert.Equal(t, "2026-10-15T06:30:00Z", doc.Get("0.additional_kwargs.created_at").String())
	assert.Equal(t, "ai", doc.Get("1.type").String())
	assert.Equal(t, "m", doc.Get("1.additional_kwargs.metadata.model").String())
	assert.Equal(t, "tool", doc.Get("2.type").String())
	assert.Equal(t, "current_time", doc.Get("2.additional_kwargs.name").String())

	_, err = EncodeHistory([]types.Message{{Role: "narrator"}})
	assert.Error(t, err)
}

func TestDecodeHistory(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []types.Role
		wantErr bool
	}{
		{name: "empty input", input: "", want: nil},
		{name: "empty array", input: "[]", want: nil},
		{name: "flat entries", input: `[{"type":"human","content":"a"},{"type":"ai","content":"b"}]`,
			want: []types.Role{types.RoleUser, types.RoleAssistant}},
		{name: "nested data entries", input: `[{"type":"system","data":{"content":"s"}},{"type":"function","data":{"content":"f"}}]`,
			want: []types.Role{types.RoleSystem, types.RoleTool}},
		{name: "class names", input: `[{"type":"HumanMessage","content":"a"},{"type":"AIMessage","content":"b"}]`,
			want: []types.Role{types.RoleUser, types.RoleAssistant}},
		{name: "not json", input: "{oops", wantErr: true},
		{name: "object instead of array", input: `{"type":"human"}`, wantErr: true},
		{name: "unknown type", input: `[{"type":"human","content":"a"},{"type":"robot","content":"b"}]`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeHistory([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			var roles []types.Role
			for _, m := range got {
				roles = append(roles, m.Role)
			}
			assert.Equal(t, tt.want, roles)
		})
	}
}

func TestHistoryCodec_RoundTrip(t *testing.T) {
	ts := time.Date(2026, 10, 15, 6, 30, 0, 123, time.UTC)
	in := []types.Message{
		{Role: types.RoleSystem, Content: "你是业务规划助手", CreatedAt: ts},
		{Role: types.RoleUser, Content: "帮我运行它", CreatedAt: ts},
		{Role: types.RoleTool, Content: `{"ok":true}`, Name: "crewai_runtime", CreatedAt: ts},
	}
	data, err := EncodeHistory(in)
	require.NoError(t, err)
	out, err := DecodeHistory(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
