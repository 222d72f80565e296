// Package anthropic 通过 Anthropic Messages API 实现 llm.Provider。
package anthropic
