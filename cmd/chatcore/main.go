// =============================================================================
// chatcore 主入口
// =============================================================================
// 聊天服务入口：HTTP/SSE/WebSocket API、健康检查、Prometheus 指标
//
// 使用方法:
//
//	chatcore serve                       # 启动服务
//	chatcore serve --config config.yaml  # 指定配置文件（支持热重载）
//	chatcore models --config config.yaml # 查看模型绑定与降级链
//	chatcore migrate up                  # 创建 / 更新模型绑定表
//	chatcore version                     # 显示版本信息
//	chatcore health                      # 健康检查
// =============================================================================

// @title chatcore API
// @version 1.0.0
// @description Resilient multi-provider chat routing: retry, circuit breaking and model fallback.

// @BasePath /
// @schemes http https

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/SkastVnT/AI-Assistant-sub002/config"
	"github.com/SkastVnT/AI-Assistant-sub002/internal/telemetry"
	llmfactory "github.com/SkastVnT/AI-Assistant-sub002/llm/factory"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
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
	case "serve":
		runServe(os.Args[2:])
	case "models":
		runModels(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	case "cache":
		runCache(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	_ = fs.Parse(args)

	cfg := mustLoadConfig(*configPath)

	logger, level := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting chatcore",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	providers, err := telemetry.Init(cfg.Telemetry, logger, telemetry.WithServiceVersion(Version))
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	ctx := context.Background()
	srv := NewServer(cfg, *configPath, logger, level, providers)
	if err := srv.Init(ctx); err != nil {
		srv.Shutdown()
		logger.Fatal("failed to initialize", zap.Error(err))
	}
	if err := srv.Start(ctx); err != nil {
		srv.Shutdown()
		logger.Fatal("failed to start server", zap.Error(err))
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("chatcore stopped")
}

// =============================================================================
// 🧩 models 命令
// =============================================================================

func runModels(args []string) {
	fs := flag.NewFlagSet("models", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	_ = fs.Parse(args)

	cfg := mustLoadConfig(*configPath)
	table := cfg.LLM.FallbackTable()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tFAMILY\tMODEL\tSTREAMING\tUSABLE\tFALLBACKS")
	for _, m := range cfg.LLM.Models {
		name := m.Name
		if name == cfg.LLM.DefaultModel {
			name += " *"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\t%s\n",
			name, m.Family, m.Model, m.SupportsStreaming, llmfactory.Usable(m),
			strings.Join(table[m.Name], " -> "))
	}
	_ = w.Flush()
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	path := fs.String("path", "/health", "Endpoint to probe (/health or /ready)")
	_ = fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + *path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("OK")
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("chatcore %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`chatcore - resilient multi-provider chat service

Usage:
  chatcore <command> [options]

Commands:
  serve     Start the API and metrics servers
  models    List configured model bindings and fallback chains
  migrate   Manage the model binding table
  cache     Manage the response cache
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve', 'models', 'migrate', 'cache':
  --config <path>   Path to configuration file (YAML)

Examples:
  chatcore serve --config /etc/chatcore/config.yaml
  chatcore models --config config.yaml
  chatcore migrate up --config config.yaml
  chatcore migrate import --config config.yaml
  chatcore cache flush --config config.yaml
  chatcore health --addr http://localhost:8080 --path /ready`)
}

// =============================================================================
// 🔧 配置与日志
// =============================================================================

func mustLoadConfig(path string) *config.Config {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// initLogger 构建 zap logger；返回的 AtomicLevel 供热重载调整级别
func initLogger(cfg config.LogConfig) (*zap.Logger, zap.AtomicLevel) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	atom := zap.NewAtomicLevelAt(level)

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
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             atom,
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger.With(zap.String("service", "chatcore")), atom
}
