package tokenizer

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/BaSui01/crewplanner/types"
	"github.com/pkoukk/tiktoken-go"
)

// Counter 统一的 token 计数接口
type Counter interface {
	CountTokens(text string) int
	CountMessages(messages []types.Message) int
	Name() string
}

// 模型前缀 → tiktoken 编码
var modelEncodings = []struct {
	prefix   string
	encoding string
}{
	{"gpt-4o", "o200k_base"},
	{"o1", "o200k_base"},
	{"o3", "o200k_base"},
	{"gpt-4", "cl100k_base"},
	{"gpt-3.5", "cl100k_base"},
}

// ForModel 返回适合该模型的计数器。OpenAI 系列使用 tiktoken，
// 其它模型以及编码数据加载失败时退回到估算器。
func ForModel(model string) Counter {
	for _, m := range modelEncodings {
		if strings.HasPrefix(model, m.prefix) {
			return &tiktokenCounter{encoding: m.encoding}
		}
	}
	return Estimator{}
}

type tiktokenCounter struct {
	encoding string
	once     sync.Once
	enc      *tiktoken.Tiktoken
}

// init lazily 初始化编码（首次使用时可能需要下载数据）
func (t *tiktokenCounter) init() *tiktoken.Tiktoken {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err == nil {
			t.enc = enc
		}
	})
	return t.enc
}

func (t *tiktokenCounter) CountTokens(text string) int {
	enc := t.init()
	if enc == nil {
		return Estimator{}.CountTokens(text)
	}
	return len(enc.Encode(text, nil, nil))
}

func (t *tiktokenCounter) CountMessages(messages []types.Message) int {
	return countMessages(t, messages)
}

func (t *tiktokenCounter) Name() string { return fmt.Sprintf("tiktoken[%s]", t.encoding) }

// Estimator 基于字符数的估算：CJK 约 1.5 字符/token，其它约 4 字符/token
type Estimator struct{}

func (Estimator) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	total := utf8.RuneCountInString(text)
	cjk := 0
	for _, r := range text {
		if isCJK(r) {
			cjk++
		}
	}
	n := int(float64(cjk)/1.5 + float64(total-cjk)/4.0)
	if n == 0 {
		n = 1
	}
	return n
}

func (e Estimator) CountMessages(messages []types.Message) int {
	return countMessages(e, messages)
}

func (Estimator) Name() string { return "estimator" }

// 每条消息额外 4 个 token 的角色/分隔符开销，会话结束 3 个
func countMessages(c Counter, messages []types.Message) int {
	total := 0
	for _, m := range messages {
		total += 4 + c.CountTokens(m.Content) + c.CountTokens(string(m.Role))
	}
	return total + 3
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x3000 && r <= 0x303F) ||
		(r >= 0xFF00 && r <= 0xFFEF) ||
		(r >= 0xAC00 && r <= 0xD7AF) ||
		(r >= 0x3040 && r <= 0x30FF)
}

// TrimToBudget 从最旧的消息开始丢弃，直到总 token 数不超过 budget。
// system 消息始终保留。
func TrimToBudget(c Counter, messages []types.Message, budget int) []types.Message {
	if budget <= 0 || c.CountMessages(messages) <= budget {
		return messages
	}
	out := append([]types.Message(nil), messages...)
	for len(out) > 0 && c.CountMessages(out) > budget {
		idx := -1
		for i, m := range out {
			if m.Role != types.RoleSystem {
				idx = i
				break
			}
		}
		if idx < 0 {
			break
		}
		out = append(out[:idx], out[idx+1:]...)
	}
	return out
}
