// =============================================================================
// crewplanner 主入口
// =============================================================================
// 交互式业务规划助手：终端对话、工具检查
//
// 使用方法:
//
//	crewplanner chat                       # 启动对话
//	crewplanner chat --config config.yaml  # 指定配置文件
//	crewplanner chat --session <id>        # 继续已有会话
//	crewplanner tools                      # 列出已配置的工具
//	crewplanner version                    # 显示版本信息
// =============================================================================

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/crewplanner/config"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "chat":
		runChat(os.Args[2:])
	case "tools":
		runTools(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 💬 chat 命令
// =============================================================================

func runChat(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	sessionID := fs.String("session", "", "Session id to resume (default: new session)")
	fs.Parse(args)

	cfg := mustLoadConfig(*configPath)
	logger := initLogger(cfg.Log, cfg.Debug)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to start", zap.Error(err))
	}
	defer a.Close()

	id := *sessionID
	if id == "" {
		id = uuid.NewString()
	}
	logger.Info("Starting crewplanner chat",
		zap.String("version", Version),
		zap.String("session_id", id),
		zap.String("store", a.store.Backend()))

	if err := chatLoop(ctx, a.machine, id, os.Stdin, os.Stdout); err != nil {
		logger.Error("chat ended with error", zap.Error(err))
	}
}

// =============================================================================
// 🔧 tools 命令
// =============================================================================

func runTools(args []string) {
	fs := flag.NewFlagSet("tools", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	discover := fs.Bool("discover", false, "Query mcp_stdio servers for the tools they expose")
	fs.Parse(args)

	cfg := mustLoadConfig(*configPath)
	logger := initLogger(cfg.Log, cfg.Debug)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to start", zap.Error(err))
	}
	defer a.Close()

	if err := listTools(ctx, a.registry, *discover, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "tools: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("crewplanner %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`crewplanner - business planning assistant

Usage:
  crewplanner <command> [options]

Commands:
  chat      Start an interactive planning session
  tools     List configured tools
  version   Show version information
  help      Show this help message

Options for 'chat':
  --config <path>   Path to configuration file (YAML)
  --session <id>    Resume an existing session

Options for 'tools':
  --config <path>   Path to configuration file (YAML)
  --discover        Ask mcp_stdio servers for their tool lists

Chat commands:
  /state     Show the current planning state
  /history   Print the session history
  /reset     Start over (history is kept)
  /quit      Leave the chat`)
}

func mustLoadConfig(path string) *config.Config {
	loader := config.NewLoader().WithDotEnv(".env")
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig, debug bool) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}
	if debug {
		level = zapcore.DebugLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      encoding == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
