package tools

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGJSONPath(t *testing.T) {
	assert.Equal(t, "a.b.0.c", gjsonPath("$.a.b[0].c"))
	assert.Equal(t, "items.12", gjsonPath("$.items[12]"))
	assert.Equal(t, "@this", gjsonPath("$"))
	assert.Equal(t, "plain", gjsonPath("plain"))
}

func TestApplyMapping(t *testing.T) {
	raw := []byte(`{"data":{"items":[{"title":"first"},{"title":"second"}]},"count":2}`)
	var decoded any
	require.NoError(t, json.Unmarshal(raw, &decoded))

	out := applyMapping(raw, decoded, map[string]string{
		"first":   "$.data.items[0].title",
		"missing": "$.data.nope",
		"items":   "$.data.items",
	}).(map[string]any)

	assert.Equal(t, "first", out["first"])
	assert.Nil(t, out["missing"])
	assert.Contains(t, out, "missing")
	assert.Len(t, out["items"], 2)
	// 原始字段保留
	assert.Equal(t, float64(2), out["count"])
}

func TestApplyMapping_NonObject(t *testing.T) {
	raw := []byte(`[1,2,3]`)
	var decoded any
	require.NoError(t, json.Unmarshal(raw, &decoded))

	out := applyMapping(raw, decoded, map[string]string{"second": "$[1]"}).(map[string]any)
	assert.Equal(t, float64(2), out["second"])
	assert.Equal(t, decoded, out["data"])

	assert.Equal(t, decoded, applyMapping(raw, decoded, nil))
}
