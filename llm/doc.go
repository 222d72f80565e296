// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package llm 定义 crewplanner 访问大语言模型的统一接口。

# 概述

Provider 抽象同步 Completion 与流式 Stream 两种调用方式，规划状态机、
ReAct 执行器与团队生成器都只依赖该接口。具体实现位于 providers 子包，
由 factory 按配置中的 provider 名称构造。

# 支持的 Provider

  - openai / siliconflow / ollama / huggingface: OpenAI 兼容协议
  - anthropic: Messages API

# 错误

上游错误统一映射为 *Error，携带 HTTP 状态与是否可重试，retry 子包据此决定是否退避重试。
*/
package llm
