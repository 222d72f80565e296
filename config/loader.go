// =============================================================================
// 📦 crewplanner 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + .env + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithDotEnv(".env").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量（.env 只补充未设置的变量）
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/crewplanner/llm"
	"github.com/BaSui01/crewplanner/types"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 crewplanner 的完整配置结构
type Config struct {
	// Environment 运行环境: development, staging, production
	Environment string `yaml:"environment" env:"ENVIRONMENT"`

	// Debug 强制 debug 日志
	Debug bool `yaml:"debug" env:"DEBUG"`

	// Redis 会话存储配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// LLM 大语言模型配置
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Agent 规划 / ReAct 执行配置
	Agent AgentConfig `yaml:"agent" env:"AGENT"`

	// Tools 工具定义文档
	Tools ToolsConfig `yaml:"tools" env:"TOOLS"`

	// Tracker 子团队执行跟踪配置
	Tracker TrackerConfig `yaml:"tracker" env:"TRACKER"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Metrics Prometheus 指标配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	DB       int    `yaml:"db" env:"DB"`
	Password string `yaml:"password" env:"PASSWORD"`
	// TTL 会话键过期时间（环境变量可写秒数）
	TTL       time.Duration `yaml:"ttl" env:"TTL"`
	KeyPrefix string        `yaml:"key_prefix" env:"KEY_PREFIX"`
	PoolSize  int           `yaml:"pool_size" env:"POOL_SIZE"`
	// FallbackToMemory Redis 不可用时退回内存存储
	FallbackToMemory bool `yaml:"fallback_to_memory" env:"FALLBACK_TO_MEMORY"`
}

// Addr 返回 host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// LLMConfig LLM 配置，字段与 llm.Config 一一对应
type LLMConfig struct {
	Provider         string        `yaml:"provider" env:"PROVIDER"`
	Model            string        `yaml:"model" env:"MODEL"`
	APIKey           string        `yaml:"api_key" env:"API_KEY"`
	BaseURL          string        `yaml:"base_url" env:"BASE_URL"`
	Temperature      float64       `yaml:"temperature" env:"TEMPERATURE"`
	MaxTokens        int           `yaml:"max_tokens" env:"MAX_TOKENS"`
	TopP             float64       `yaml:"top_p" env:"TOP_P"`
	FrequencyPenalty float64       `yaml:"frequency_penalty" env:"FREQUENCY_PENALTY"`
	PresencePenalty  float64       `yaml:"presence_penalty" env:"PRESENCE_PENALTY"`
	Timeout          time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxRetries       int           `yaml:"max_retries" env:"MAX_RETRIES"`
}

// ClientConfig 转换为 llm.Config
func (c LLMConfig) ClientConfig() llm.Config {
	return llm.Config{
		Provider:         c.Provider,
		Model:            c.Model,
		APIKey:           c.APIKey,
		BaseURL:          c.BaseURL,
		Temperature:      c.Temperature,
		MaxTokens:        c.MaxTokens,
		TopP:             c.TopP,
		FrequencyPenalty: c.FrequencyPenalty,
		PresencePenalty:  c.PresencePenalty,
		Timeout:          c.Timeout,
		MaxRetries:       c.MaxRetries,
	}
}

// AgentConfig 规划状态机与 ReAct 执行器配置
type AgentConfig struct {
	Name string `yaml:"name" env:"NAME"`
	// MaxIterations ReAct 最大迭代次数
	MaxIterations int `yaml:"max_iterations" env:"MAX_ITERATIONS"`
	// MaxExecutionTime ReAct 单次运行最长时间
	MaxExecutionTime time.Duration `yaml:"max_execution_time" env:"MAX_EXECUTION_TIME"`
	// HistoryWindow 规划提示词中带入的最近消息数
	HistoryWindow int `yaml:"history_window" env:"HISTORY_WINDOW"`
	// ContextCapacity 上下文跟踪环形缓冲容量
	ContextCapacity int  `yaml:"context_capacity" env:"CONTEXT_CAPACITY"`
	Verbose         bool `yaml:"verbose" env:"VERBOSE"`
}

// ToolsConfig 工具定义文档路径
type ToolsConfig struct {
	Paths []string `yaml:"paths" env:"PATHS"`
}

// TrackerConfig 执行跟踪配置
type TrackerConfig struct {
	MaxLogs         int           `yaml:"max_logs" env:"MAX_LOGS"`
	RetentionHours  int           `yaml:"retention_hours" env:"RETENTION_HOURS"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"CLEANUP_INTERVAL"`
	// ArchiveDriver 归档数据库驱动: postgres, mysql, sqlite（空表示不归档）
	ArchiveDriver string `yaml:"archive_driver" env:"ARCHIVE_DRIVER"`
	ArchiveDSN    string `yaml:"archive_dsn" env:"ARCHIVE_DSN"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
	// Addr /metrics 与 /healthz 的监听地址，空表示不启动
	Addr string `yaml:"addr" env:"ADDR"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	dotEnv     []string
	lookupEnv  func(string) (string, bool)
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器。默认不带前缀，直接识别 REDIS_HOST 等变量。
func NewLoader() *Loader {
	return &Loader{
		lookupEnv:  os.LookupEnv,
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithDotEnv 在读取环境变量之前加载 .env 文件
func (l *Loader) WithDotEnv(paths ...string) *Loader {
	l.dotEnv = append(l.dotEnv, paths...)
	return l
}

// WithLookupEnv 替换环境变量来源（测试用）
func (l *Loader) WithLookupEnv(fn func(string) (string, bool)) *Loader {
	if fn != nil {
		l.lookupEnv = fn
	}
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
func (l *Loader) Load() (*Config, error) {
	if len(l.dotEnv) > 0 {
		if err := LoadDotEnv(l.dotEnv...); err != nil {
			return nil, err
		}
	}

	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}
	l.applyWellKnownEnv(cfg)

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置，先做 ${NAME} 插值
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := InterpolateStringWith(string(data), l.lookupEnv)
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return types.WrapError(err, types.ErrConfiguration, "failed to parse config file").WithPath(l.configPath)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := envTag
		if prefix != "" {
			envKey = prefix + "_" + envTag
		}

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue, ok := l.lookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return types.WrapError(err, types.ErrConfiguration, "invalid environment value").WithPath(envKey)
		}
	}

	return nil
}

// applyWellKnownEnv 处理历史遗留的无分组变量名（MAX_ITERATIONS、TIMEOUT 等）
// 以及按 provider 命名的 <PROVIDER>_API_KEY / <PROVIDER>_BASE_URL。
func (l *Loader) applyWellKnownEnv(cfg *Config) {
	get := func(key string) (string, bool) {
		if l.envPrefix != "" {
			key = l.envPrefix + "_" + key
		}
		v, ok := l.lookupEnv(key)
		return v, ok && v != ""
	}

	if v, ok := get("MAX_ITERATIONS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Agent.MaxIterations = n
		}
	}
	if v, ok := get("MAX_EXECUTION_TIME"); ok {
		if d, err := parseDuration(v); err == nil {
			cfg.Agent.MaxExecutionTime = d
		}
	}
	if v, ok := get("MAX_TOKENS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LLM.MaxTokens = n
		}
	}
	if v, ok := get("TIMEOUT"); ok {
		if d, err := parseDuration(v); err == nil {
			cfg.LLM.Timeout = d
		}
	}
	if cfg.Debug {
		cfg.Log.Level = "debug"
	}

	if cfg.LLM.Provider != "" {
		p := strings.ToUpper(cfg.LLM.Provider)
		if cfg.LLM.APIKey == "" {
			if v, ok := get(p + "_API_KEY"); ok {
				cfg.LLM.APIKey = v
			}
		}
		if cfg.LLM.BaseURL == "" {
			if v, ok := get(p + "_BASE_URL"); ok {
				cfg.LLM.BaseURL = v
			}
		}
	}
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := parseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// parseDuration 接受 Go duration 字符串，纯数字按秒处理（REDIS_TTL=86400）
func parseDuration(value string) (time.Duration, error) {
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(value)
}

// =============================================================================
// 🔍 校验
// =============================================================================

// Validate 验证配置，所有问题合并返回
func (c *Config) Validate() error {
	var errs []error
	bad := func(path, msg string) {
		errs = append(errs, types.NewError(types.ErrConfiguration, msg).WithPath(path))
	}

	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		bad("redis.port", "invalid port")
	}
	if c.Redis.TTL <= 0 {
		bad("redis.ttl", "ttl must be positive")
	}
	if c.LLM.Provider != "" && !llm.IsKnownProvider(c.LLM.Provider) {
		errs = append(errs, types.NewError(types.ErrUnknownProvider,
			fmt.Sprintf("unknown provider %q", c.LLM.Provider)).WithPath("llm.provider"))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		bad("llm.temperature", "temperature must be within [0, 2]")
	}
	if c.Agent.MaxIterations <= 0 {
		bad("agent.max_iterations", "max_iterations must be positive")
	}
	if c.Agent.MaxExecutionTime <= 0 {
		bad("agent.max_execution_time", "max_execution_time must be positive")
	}
	if c.Agent.HistoryWindow < 0 {
		bad("agent.history_window", "history_window must not be negative")
	}
	if c.Agent.ContextCapacity <= 0 {
		bad("agent.context_capacity", "context_capacity must be positive")
	}
	if c.Tracker.MaxLogs <= 0 {
		bad("tracker.max_logs", "max_logs must be positive")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		bad("log.format", "format must be json or console")
	}

	return errors.Join(errs...)
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}
