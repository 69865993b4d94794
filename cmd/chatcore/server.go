package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/SkastVnT/AI-Assistant-sub002/api/handlers"
	"github.com/SkastVnT/AI-Assistant-sub002/config"
	rediscache "github.com/SkastVnT/AI-Assistant-sub002/internal/cache"
	"github.com/SkastVnT/AI-Assistant-sub002/internal/database"
	"github.com/SkastVnT/AI-Assistant-sub002/internal/metrics"
	"github.com/SkastVnT/AI-Assistant-sub002/internal/server"
	"github.com/SkastVnT/AI-Assistant-sub002/internal/telemetry"
	"github.com/SkastVnT/AI-Assistant-sub002/llm"
	"github.com/SkastVnT/AI-Assistant-sub002/llm/cache"
	"github.com/SkastVnT/AI-Assistant-sub002/llm/circuitbreaker"
	llmctx "github.com/SkastVnT/AI-Assistant-sub002/llm/context"
	llmfactory "github.com/SkastVnT/AI-Assistant-sub002/llm/factory"
	"github.com/SkastVnT/AI-Assistant-sub002/llm/fallback"
	"github.com/SkastVnT/AI-Assistant-sub002/llm/observability"
	"github.com/SkastVnT/AI-Assistant-sub002/llm/orchestrator"
	"github.com/SkastVnT/AI-Assistant-sub002/llm/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

// publicPaths 不需要认证的端点
var publicPaths = []string{"/health", "/healthz", "/ready", "/readyz", "/version"}

// =============================================================================
// 🖥️ Server
// =============================================================================

// Server 装配 chatcore 的全部组件并管理 api / metrics 两个 HTTP 服务
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	level      zap.AtomicLevel
	telemetry  *telemetry.Providers
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer

	collector    *metrics.Collector
	pool         *database.PoolManager
	redis        *rediscache.Manager
	registry     *llm.ModelRegistry
	breakers     *circuitbreaker.Registry
	fallback     *fallback.Manager
	prompts      *orchestrator.TemplatePrompts
	orchestrator *orchestrator.Orchestrator
	hotReload    *config.HotReloadManager

	httpManager    *server.Manager
	metricsManager *server.Manager

	cancel context.CancelFunc
}

// ServerOption 配置 Server
type ServerOption func(*Server)

// WithRegistry 使用独立的 Prometheus registry（测试中避免重复注册）
func WithRegistry(reg *prometheus.Registry) ServerOption {
	return func(s *Server) {
		s.registerer = reg
		s.gatherer = reg
	}
}

// NewServer 创建服务器；组件在 Init 中装配
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, level zap.AtomicLevel, providers *telemetry.Providers, opts ...ServerOption) *Server {
	s := &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		level:      level,
		telemetry:  providers,
		registerer: prometheus.DefaultRegisterer,
		gatherer:   prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =============================================================================
// 🔧 装配
// =============================================================================

// Init 按依赖顺序装配存储、缓存、注册表与编排器
func (s *Server) Init(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	s.collector = metrics.NewCollectorWith("chatcore", s.registerer, s.logger)

	models, err := s.loadBindings(ctx)
	if err != nil {
		return err
	}

	loader, err := s.initCache()
	if err != nil {
		return err
	}

	if err := s.initOrchestrator(models, loader); err != nil {
		return err
	}

	return s.initHotReload(ctx)
}

// loadBindings 合并配置文件与数据库中的模型绑定；数据库不可用时只用文件绑定
func (s *Server) loadBindings(ctx context.Context) ([]llm.ModelConfig, error) {
	models := s.cfg.LLM.Models
	if !s.cfg.Database.Enabled {
		return models, nil
	}

	pool, err := database.Open(s.cfg.Database, s.logger,
		database.WithName(s.cfg.Database.Driver),
		database.WithStatsFunc(s.collector.RecordDBConnections))
	if err != nil {
		s.logger.Warn("database not available, using file bindings only", zap.Error(err))
		return models, nil
	}
	s.pool = pool

	st := store.New(pool, s.logger)
	if err := st.AutoMigrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate model store: %w", err)
	}
	stored, err := st.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load stored bindings: %w", err)
	}

	merged := store.Merge(models, stored)
	s.logger.Info("model bindings loaded",
		zap.Int("file", len(models)),
		zap.Int("stored", len(stored)),
		zap.Int("merged", len(merged)))
	return merged, nil
}

// initCache 创建响应缓存；Redis 层可选
func (s *Server) initCache() (*cache.Loader, error) {
	if !s.cfg.Cache.Enabled {
		return nil, nil
	}

	tiers := s.cfg.Cache.Config
	if s.cfg.Redis.Enabled {
		rc := rediscache.DefaultConfig()
		rc.Addr = s.cfg.Redis.Addr
		rc.Password = s.cfg.Redis.Password
		rc.DB = s.cfg.Redis.DB
		rc.PoolSize = s.cfg.Redis.PoolSize
		rc.MinIdleConns = s.cfg.Redis.MinIdleConns
		rc.TLS = s.cfg.Redis.TLS

		mgr, err := rediscache.NewManager(rc, s.logger)
		if err != nil {
			s.logger.Warn("redis not available, response cache is local only", zap.Error(err))
			tiers.EnableRedis = false
		} else {
			s.redis = mgr
		}
	} else {
		tiers.EnableRedis = false
	}

	mlc := cache.NewMultiLevelCache(s.redisClient(), &tiers, s.logger)
	return cache.NewLoader(mlc, s.logger), nil
}

// redisClient 未连接 Redis 时返回 nil 接口
func (s *Server) redisClient() redis.UniversalClient {
	if s.redis == nil {
		return nil
	}
	return s.redis.Client()
}

// initOrchestrator 构建注册表、熔断器、降级表与编排器
func (s *Server) initOrchestrator(models []llm.ModelConfig, loader *cache.Loader) error {
	s.registry = llmfactory.NewRegistry(models, s.cfg.LLM.DefaultModel, s.logger)
	if s.registry.Len() == 0 {
		s.logger.Warn("no usable model bindings; chat requests will fail until one is configured")
	}

	breakerCfg := s.cfg.Resilience.Breaker.Runtime()
	breakerCfg.OnStateChange = s.collector.BreakerStateChanged
	s.breakers = circuitbreaker.NewRegistry(breakerCfg, s.logger)

	table := fallback.BuildTable(models, s.cfg.LLM.Fallbacks)
	if err := fallback.ValidateTable(table); err != nil {
		return fmt.Errorf("fallback table: %w", err)
	}
	s.fallback = fallback.NewManager(table, s.logger)

	tok, err := s.cfg.LLM.NewTokenizer()
	if err != nil {
		return fmt.Errorf("tokenizer: %w", err)
	}
	window := llmctx.NewWindowManager(s.cfg.Context, tok, s.logger)

	observers := orchestrator.Observers{s.collector}
	if otelMetrics, err := observability.NewMetricsWith(s.telemetry.MeterProvider()); err != nil {
		s.logger.Warn("otel metrics unavailable", zap.Error(err))
	} else {
		observers = append(observers, otelMetrics)
	}

	s.prompts = orchestrator.NewTemplatePrompts(s.cfg.Prompts.Templates)
	s.orchestrator = orchestrator.New(s.registry, orchestrator.Options{
		Retry:    s.cfg.Resilience.Retry.Policy(),
		Sleeper:  s.cfg.Resilience.Retry.SleeperImpl(),
		Breakers: s.breakers,
		Fallback: s.fallback,
		Window:   window,
		Cache:    loader,
		Prompts:  s.prompts,
		Observer: observers,
		Tracer:   s.telemetry.Tracer("chatcore/orchestrator"),
		Logger:   s.logger,
	})

	s.logger.Info("orchestrator ready",
		zap.Strings("models", s.registry.List()),
		zap.String("default", s.registry.Default()),
		zap.Bool("cache", loader != nil))
	return nil
}

// initHotReload 日志级别与提示词模板即时生效，其余字段记录为需重启
func (s *Server) initHotReload(ctx context.Context) error {
	opts := []config.HotReloadOption{config.WithHotReloadLogger(s.logger)}
	if s.configPath != "" {
		opts = append(opts, config.WithConfigPath(s.configPath))
	}
	s.hotReload = config.NewHotReloadManager(s.cfg, opts...)

	s.hotReload.OnChange(func(change config.ConfigChange) {
		if change.RequiresRestart {
			s.logger.Warn("configuration change requires restart",
				zap.String("path", change.Path),
				zap.String("source", change.Source))
		}
	})
	s.hotReload.OnReload(s.applyReload)

	if err := s.hotReload.Start(ctx); err != nil {
		return fmt.Errorf("start hot reload: %w", err)
	}
	return nil
}

// applyReload 返回错误时 HotReloadManager 会回滚
func (s *Server) applyReload(_, newConfig *config.Config) error {
	level, err := zapcore.ParseLevel(newConfig.Log.Level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	s.level.SetLevel(level)
	s.prompts.SetPrompts(newConfig.Prompts.Templates)
	s.logger.Info("runtime configuration applied", zap.String("log_level", level.String()))
	return nil
}

// =============================================================================
// 🌐 路由
// =============================================================================

// routes 构建 API 路由与中间件链
func (s *Server) routes(ctx context.Context) http.Handler {
	health := handlers.NewHealthHandler(s.logger)
	if s.pool != nil {
		health.RegisterCheck(handlers.NewPingCheck("database", s.pool.Ping))
	}
	if s.redis != nil {
		health.RegisterCheck(handlers.NewPingCheck("redis", s.redis.Ping))
	}
	health.RegisterCheck(handlers.NewBreakerCheck(s.breakers.Snapshots))

	chat := handlers.NewChatHandler(s.orchestrator, s.registry, s.logger,
		handlers.WithOriginPatterns(originPatterns(s.cfg.Server.CORSAllowedOrigins)))
	models := handlers.NewModelsHandler(s.registry, s.breakers, s.fallback, s.logger)
	cfgHandler := handlers.NewConfigHandler(s.hotReload, s.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", health.HandleHealth)
	mux.HandleFunc("GET /healthz", health.HandleHealthz)
	mux.HandleFunc("GET /ready", health.HandleReady)
	mux.HandleFunc("GET /readyz", health.HandleReady)
	mux.HandleFunc("GET /version", health.HandleVersion(Version, BuildTime, GitCommit))

	mux.HandleFunc("POST /api/v1/chat", chat.HandleChat)
	mux.HandleFunc("POST /api/v1/chat/stream", chat.HandleStream)
	mux.HandleFunc("GET /api/v1/chat/ws", chat.HandleWebSocket)

	mux.HandleFunc("GET /api/v1/models", models.HandleList)
	mux.HandleFunc("GET /api/v1/models/{name}", models.HandleGet)
	mux.HandleFunc("POST /api/v1/models/{name}/reset", models.HandleResetBreaker)
	mux.HandleFunc("GET /api/v1/models/{name}/health", models.HandleProbe)

	mux.HandleFunc("GET /api/v1/config", cfgHandler.HandleGet)
	mux.HandleFunc("POST /api/v1/config/reload", cfgHandler.HandleReload)
	mux.HandleFunc("POST /api/v1/config/rollback", cfgHandler.HandleRollback)
	mux.HandleFunc("GET /api/v1/config/changes", cfgHandler.HandleChanges)

	auth := AuthConfig{
		APIKeys:          s.cfg.Server.APIKeys,
		AllowQueryAPIKey: s.cfg.Server.AllowQueryAPIKey,
		JWTSecret:        s.cfg.Server.JWTSecret,
		JWTIssuer:        s.cfg.Server.JWTIssuer,
		SkipPaths:        publicPaths,
	}
	if !auth.Enabled() {
		s.logger.Warn("no API keys or JWT secret configured; API is unauthenticated")
	}

	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		OTelTracing(s.telemetry.Tracer("chatcore/http")),
		MetricsMiddleware(s.collector),
		SecurityHeaders(),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		Authenticate(auth, s.logger),
		RateLimiter(ctx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
	)
}

// originPatterns 把 CORS 来源（含协议）转换为 WebSocket 的 host 模式
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimPrefix(o, "https://")
		o = strings.TrimPrefix(o, "http://")
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}

// =============================================================================
// 🚀 运行与关闭
// =============================================================================

// Start 启动 api 与 metrics 服务器（非阻塞）
func (s *Server) Start(ctx context.Context) error {
	s.httpManager = server.NewManager(s.routes(ctx), server.Config{
		Name:            "api",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return fmt.Errorf("start api server: %w", err)
	}

	if s.cfg.Server.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
		s.metricsManager = server.NewManager(mux, server.Config{
			Name:            "metrics",
			Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
			ReadTimeout:     s.cfg.Server.ReadTimeout,
			WriteTimeout:    s.cfg.Server.ReadTimeout,
			ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
		}, s.logger)
		if err := s.metricsManager.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
	}

	s.logger.Info("servers started",
		zap.String("api", s.httpManager.ListenAddr()),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("hot_reload", s.configPath != ""))
	return nil
}

// Run 阻塞直到收到信号、ctx 结束或任一服务器异常退出，然后关闭全部组件
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.httpManager.WaitForShutdown(gctx) })
	if s.metricsManager != nil {
		g.Go(func() error { return s.metricsManager.WaitForShutdown(gctx) })
	}
	err := g.Wait()
	s.Shutdown()
	return err
}

// Shutdown 按装配的逆序释放资源
func (s *Server) Shutdown() {
	s.logger.Info("starting graceful shutdown")
	ctx := context.Background()

	if s.cancel != nil {
		s.cancel()
	}
	if s.hotReload != nil {
		_ = s.hotReload.Stop()
	}

	var errs []error
	for _, m := range []*server.Manager{s.httpManager, s.metricsManager} {
		if m != nil {
			errs = append(errs, m.Shutdown(ctx))
		}
	}
	if s.registry != nil {
		errs = append(errs, s.registry.Close())
	}
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	if s.pool != nil {
		errs = append(errs, s.pool.Close())
	}
	if s.telemetry != nil {
		errs = append(errs, s.telemetry.Shutdown(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.Error("shutdown completed with errors", zap.Error(err))
		return
	}
	s.logger.Info("graceful shutdown completed")
}
