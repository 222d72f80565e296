// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 crewplanner 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 agent、tools、llm
等上层模块提供统一的消息与错误契约，以避免循环依赖。

# 核心类型

  - Message / Role: 对话消息（user / assistant / system / tool），带 metadata
  - Error / ErrorCode: 结构化错误，配置、存储、状态转换、工具调用、解析、取消

# 主要能力

  - 错误工具链：WrapError / AsError / IsErrorCode / IsRetryable
  - 配置错误携带出错路径（WithPath），便于启动时定位
*/
package types
