package conversation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/crewplanner/types"
	"github.com/tidwall/gjson"
)

// 历史条目的 type 标签
const (
	entryHuman  = "human"
	entryAI     = "ai"
	entrySystem = "system"
	entryTool   = "tool"
)

// entry 持久化的历史条目 {type, content, additional_kwargs}
type entry struct {
	Type             string         `json:"type"`
	Content          string         `json:"content"`
	AdditionalKwargs map[string]any `json:"additional_kwargs,omitempty"`
}

var roleToType = map[types.Role]string{
	types.RoleUser:      entryHuman,
	types.RoleAssistant: entryAI,
	types.RoleSystem:    entrySystem,
	types.RoleTool:      entryTool,
}

// typeToRole 同时接受消息类名
var typeToRole = map[string]types.Role{
	entryHuman:        types.RoleUser,
	"HumanMessage":    types.RoleUser,
	entryAI:           types.RoleAssistant,
	"AIMessage":       types.RoleAssistant,
	entrySystem:       types.RoleSystem,
	"SystemMessage":   types.RoleSystem,
	entryTool:         types.RoleTool,
	"ToolMessage":     types.RoleTool,
	"function":        types.RoleTool,
	"FunctionMessage": types.RoleTool,
}

// additional_kwargs 中保留的键
const (
	kwargMetadata  = "metadata"
	kwargCreatedAt = "created_at"
	kwargName      = "name"
)

// EncodeHistory 把消息编码为 JSON 数组
func EncodeHistory(msgs []types.Message) ([]byte, error) {
	entries := make([]entry, 0, len(msgs))
	for _, m := range msgs {
		typ, ok := roleToType[m.Role]
		if !ok {
			return nil, fmt.Errorf("unknown message role %q", m.Role)
		}
		kw := map[string]any{}
		if len(m.Metadata) > 0 {
			kw[kwargMetadata] = m.Metadata
		}
		if !m.CreatedAt.IsZero() {
			kw[kwargCreatedAt] = m.CreatedAt.UTC().Format(time.RFC3339Nano)
		}
		if m.Name != "" {
			kw[kwargName] = m.Name
		}
		e := entry{Type: typ, Content: m.Content}
		if len(kw) > 0 {
			e.AdditionalKwargs = kw
		}
		entries = append(entries, e)
	}
	return json.Marshal(entries)
}

// DecodeHistory 解码 JSON 数组。也接受 {type, data: {content, additional_kwargs}} 形式的条目。
// 整体不是 JSON 数组或任一条目无法识别时返回错误，不返回部分结果。
func DecodeHistory(data []byte) ([]types.Message, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("history is not valid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return nil, fmt.Errorf("history must be a JSON array")
	}

	var (
		out    []types.Message
		decErr error
	)
	root.ForEach(func(idx, item gjson.Result) bool {
		body := item
		if d := item.Get("data"); d.IsObject() {
			body = d
		}
		role, ok := typeToRole[item.Get("type").String()]
		if !ok {
			decErr = fmt.Errorf("history entry %d: unknown type %q", idx.Int(), item.Get("type").String())
			return false
		}
		msg := types.Message{Role: role, Content: body.Get("content").String()}

		kw := body.Get("additional_kwargs")
		if md, ok := kw.Get(kwargMetadata).Value().(map[string]any); ok {
			msg.Metadata = md
		}
		if ts := kw.Get(kwargCreatedAt).String(); ts != "" {
			if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
				msg.CreatedAt = t
			}
		}
		msg.Name = kw.Get(kwargName).String()
		out = append(out, msg)
		return true
	})
	if decErr != nil {
		return nil, decErr
	}
	return out, nil
}
