package llm

import (
	"strings"
	"time"

	"github.com/BaSui01/crewplanner/types"
)

// Provider 名称
const (
	ProviderOpenAI      = "openai"
	ProviderAnthropic   = "anthropic"
	ProviderSiliconFlow = "siliconflow"
	ProviderOllama      = "ollama"
	ProviderHuggingFace = "huggingface"
)

var defaultBaseURLs = map[string]string{
	ProviderOpenAI:      "https://api.openai.com",
	ProviderAnthropic:   "https://api.anthropic.com",
	ProviderSiliconFlow: "https://api.siliconflow.cn",
	ProviderOllama:      "http://localhost:11434",
	ProviderHuggingFace: "https://router.huggingface.co",
}

// KnownProviders 返回受支持的 provider 名称
func KnownProviders() []string {
	return []string{ProviderOpenAI, ProviderAnthropic, ProviderSiliconFlow, ProviderOllama, ProviderHuggingFace}
}

// IsKnownProvider 忽略大小写判断
func IsKnownProvider(name string) bool {
	_, ok := defaultBaseURLs[strings.ToLower(name)]
	return ok
}

// DefaultBaseURL 返回 provider 的默认接入地址
func DefaultBaseURL(name string) string {
	return defaultBaseURLs[strings.ToLower(name)]
}

// Config 构造 Provider 所需的全部参数
type Config struct {
	Provider         string
	Model            string
	APIKey           string
	BaseURL          string
	Temperature      float64
	MaxTokens        int
	TopP             float64
	FrequencyPenalty float64
	PresencePenalty  float64
	Timeout          time.Duration
	MaxRetries       int
}

// NewRequest 用配置中的采样参数构造请求
func (c Config) NewRequest(messages []types.Message) *ChatRequest {
	return &ChatRequest{
		Model:            c.Model,
		Messages:         messages,
		MaxTokens:        c.MaxTokens,
		Temperature:      c.Temperature,
		TopP:             c.TopP,
		FrequencyPenalty: c.FrequencyPenalty,
		PresencePenalty:  c.PresencePenalty,
	}
}
