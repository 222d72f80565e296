// =============================================================================
// 📦 crewplanner 默认配置
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Redis:       DefaultRedisConfig(),
		LLM:         DefaultLLMConfig(),
		Agent:       DefaultAgentConfig(),
		Tools:       ToolsConfig{Paths: []string{"config/tools.yaml"}},
		Tracker:     DefaultTrackerConfig(),
		Log:         DefaultLogConfig(),
		Telemetry:   DefaultTelemetryConfig(),
		Metrics:     MetricsConfig{Enabled: true, Namespace: "crewplanner"},
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Host:             "localhost",
		Port:             6379,
		DB:               0,
		TTL:              86400 * time.Second,
		PoolSize:         10,
		FallbackToMemory: true,
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:    "openai",
		Model:       "gpt-4o-mini",
		Temperature: 0.7,
		MaxTokens:   4096,
		TopP:        1,
		Timeout:     60 * time.Second,
		MaxRetries:  2,
	}
}

// DefaultAgentConfig 返回默认 Agent 配置
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		Name:             "business_planner",
		MaxIterations:    25,
		MaxExecutionTime: 300 * time.Second,
		HistoryWindow:    5,
		ContextCapacity:  10,
	}
}

// DefaultTrackerConfig 返回默认执行跟踪配置
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		MaxLogs:         1000,
		RetentionHours:  24,
		CleanupInterval: time.Hour,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{"stdout"},
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "crewplanner",
		SampleRate:   0.1,
	}
}
