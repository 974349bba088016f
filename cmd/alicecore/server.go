package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"time"

	"github.com/alicevoice/agentcore/api/handlers"
	"github.com/alicevoice/agentcore/config"
	"github.com/alicevoice/agentcore/internal/metrics"
	"github.com/alicevoice/agentcore/internal/server"
	"github.com/alicevoice/agentcore/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// skipAuthPaths 不需要鉴权的端点
var skipAuthPaths = []string{"/health", "/ready", "/version", "/metrics"}

// Server 是 Alice Agent Core 的 HTTP 宿主
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	level      zap.AtomicLevel

	telemetry *telemetry.Providers
	collector *metrics.Collector
	core      *core

	httpManager    *server.Manager
	metricsManager *server.Manager
	watcher        *config.Watcher
	health         *handlers.HealthHandler

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc
}

// NewServer 创建服务器。metricsNamespace 为空时使用 "alicecore"。
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, level zap.AtomicLevel, metricsNamespace string) *Server {
	if metricsNamespace == "" {
		metricsNamespace = "alicecore"
	}
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		level:      level,
		collector:  metrics.NewCollector(metricsNamespace, logger),
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 初始化组件并启动所有监听，不阻塞
func (s *Server) Start(ctx context.Context) error {
	otelProviders, err := telemetry.Init(s.cfg.Telemetry, s.logger, telemetry.WithVersion(Version))
	if err != nil {
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	s.telemetry = otelProviders

	s.core, err = buildCore(s.cfg, s.logger, s.collector, s.telemetry)
	if err != nil {
		return err
	}

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	if err := s.startConfigWatcher(ctx); err != nil {
		// 热更新失败不影响服务
		s.logger.Warn("config watcher disabled", zap.Error(err))
	}

	s.logger.Info("All servers started",
		zap.String("http_addr", s.httpManager.Addr()),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("auth_enabled", s.cfg.Auth.Enabled),
		zap.Bool("hot_reload_enabled", s.watcher != nil),
	)
	return nil
}

// Addr 返回 HTTP 服务实际监听地址
func (s *Server) Addr() string {
	if s.httpManager == nil {
		return ""
	}
	return s.httpManager.Addr()
}

// Handler 构建 API 路由与中间件链
func (s *Server) Handler() http.Handler {
	orch, exec := s.core.orchestrator, s.core.executor

	health := handlers.NewHealthHandler(s.logger)
	if s.core.redisBus != nil {
		health.RegisterCheck(handlers.NewPingCheck("redis", s.core.pingRedis))
	}
	health.SetStatsProvider(s.core.stats)
	s.health = health
	workflows := handlers.NewWorkflowHandler(orch, s.logger)
	executions := handlers.NewExecutionHandler(exec, s.logger)

	streamOpts := handlers.DefaultStreamOptions()
	streamOpts.OriginPatterns = s.cfg.Server.CORSAllowedOrigins
	stream := handlers.NewStreamHandler(orch, streamOpts, s.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", health.HandleHealth)
	mux.HandleFunc("GET /ready", health.HandleReady)
	mux.HandleFunc("GET /version", health.HandleVersion(handlers.VersionInfo{
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
	}))

	mux.HandleFunc("POST /api/v1/workflows", workflows.HandleRun)
	mux.HandleFunc("GET /api/v1/workflows", workflows.HandleList)
	mux.Handle("GET /api/v1/workflows/stream", stream)
	mux.HandleFunc("GET /api/v1/workflows/{id}", workflows.HandleGet)
	mux.HandleFunc("DELETE /api/v1/workflows/{id}", workflows.HandleCancel)

	mux.HandleFunc("GET /api/v1/executions", executions.HandleList)
	mux.HandleFunc("GET /api/v1/executions/{plan_id}", executions.HandleGet)
	mux.HandleFunc("DELETE /api/v1/executions/{plan_id}", executions.HandleCancel)
	mux.HandleFunc("POST /api/v1/executions/{plan_id}/actions/{action_id}/retry", executions.HandleRetry)

	mux.HandleFunc("GET /api/v1/tools", handlers.HandleListTools(s.core.registry))

	if s.cfg.Server.MetricsPort == 0 {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	// ========================================
	// 构建中间件链
	// ========================================
	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(s.telemetry.Tracer("alicecore/http")),
		MetricsMiddleware(s.collector),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
	}
	if s.cfg.Server.RateLimitRPS > 0 {
		rlCtx, cancel := context.WithCancel(context.Background())
		s.rateLimiterCancel = cancel
		middlewares = append(middlewares, RateLimiter(rlCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.collector, s.logger))
	}
	if s.cfg.Auth.Enabled {
		middlewares = append(middlewares, JWTAuth(s.cfg.Auth, skipAuthPaths, s.logger))
	}
	return Chain(mux, middlewares...)
}

// =============================================================================
// 🌐 HTTP / Metrics 服务器
// =============================================================================

func (s *Server) startHTTPServer() error {
	s.httpManager = server.NewManager(s.Handler(), server.Config{
		Name:            "api",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)
	// 先取消工作流，同步请求与 WebSocket 流才能在关闭超时内返回
	s.httpManager.OnDrain(func(context.Context) {
		if s.health != nil {
			s.health.SetDraining(true)
		}
		if n := s.core.orchestrator.CancelAll(); n > 0 {
			s.logger.Info("cancelled running workflows", zap.Int("count", n))
		}
	})
	return s.httpManager.Start()
}

func (s *Server) startMetricsServer() error {
	if s.cfg.Server.MetricsPort == 0 {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s.metricsManager = server.NewManager(mux, server.Config{
		Name:            "metrics",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.ReadTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)
	return s.metricsManager.Start()
}

// startConfigWatcher 监听配置文件，热更新日志级别。其他字段需重启生效。
func (s *Server) startConfigWatcher(ctx context.Context) error {
	if s.configPath == "" {
		return nil
	}
	loader := config.NewLoader().WithConfigPath(s.configPath).WithValidator((*config.Config).Validate)
	w, err := config.NewWatcher(s.configPath, loader, s.cfg, config.WithWatcherLogger(s.logger))
	if err != nil {
		return err
	}
	w.OnReload(config.LogLevelReloader(s.level, s.logger))
	w.OnReload(func(old, updated *config.Config) {
		if !reflect.DeepEqual(old.Server, updated.Server) || old.Executor != updated.Executor || old.EventBus != updated.EventBus {
			s.logger.Warn("configuration changed on disk, restart required to apply server, executor and event bus settings")
		}
	})
	if err := w.Start(ctx); err != nil {
		return err
	}
	s.watcher = w
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 阻塞到 ctx 结束（信号）或服务异常，然后优雅关闭
func (s *Server) WaitForShutdown(ctx context.Context) error {
	err := s.httpManager.WaitForShutdown(ctx)
	s.Shutdown()
	return err
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout+5*time.Second)
	defer cancel()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	if s.watcher != nil {
		if err := s.watcher.Stop(); err != nil {
			s.logger.Error("config watcher shutdown error", zap.Error(err))
		}
	}
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.core != nil {
		if err := s.core.close(); err != nil {
			s.logger.Error("agent core shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}
	if err := s.telemetry.Shutdown(ctx); err != nil {
		s.logger.Error("telemetry shutdown error", zap.Error(err))
	}

	s.logger.Info("Graceful shutdown completed")
}
