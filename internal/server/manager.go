package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// HTTP 服务器管理器
// =============================================================================

// DrainFunc 在 http.Server.Shutdown 之前按注册顺序调用，
// 用于让长时间运行的请求（同步工作流、WebSocket 流）尽快结束。
type DrainFunc func(ctx context.Context)

// Manager 托管一个 http.Server 的生命周期
type Manager struct {
	name     string
	server   *http.Server
	listener net.Listener
	errCh    chan error
	config   Config
	logger   *zap.Logger

	mu     sync.RWMutex
	drains []DrainFunc
	closed bool
}

// Config 服务器配置
type Config struct {
	// Name 出现在日志中，用于区分 api 与 metrics 端口
	Name string `yaml:"name" json:"name"`

	Addr string `yaml:"addr" json:"addr"`

	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	MaxHeaderBytes int `yaml:"max_header_bytes" json:"max_header_bytes"`

	// ShutdownTimeout 包含 drain 与 http.Server.Shutdown 的总时长
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// DefaultConfig 返回 API 端口的默认配置。
// WriteTimeout 需覆盖同步执行的工作流（多轮迭代 + 工具超时）。
func DefaultConfig() Config {
	return Config{
		Name:            "api",
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    5 * time.Minute,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 15 * time.Second,
	}
}

// NewManager 创建服务器管理器，零值字段回退到 DefaultConfig
func NewManager(handler http.Handler, config Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if config.Name == "" {
		config.Name = def.Name
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = def.ShutdownTimeout
	}
	if config.MaxHeaderBytes <= 0 {
		config.MaxHeaderBytes = def.MaxHeaderBytes
	}

	return &Manager{
		name: config.Name,
		server: &http.Server{
			Addr:              config.Addr,
			Handler:           handler,
			ReadTimeout:       config.ReadTimeout,
			ReadHeaderTimeout: config.ReadTimeout,
			WriteTimeout:      config.WriteTimeout,
			IdleTimeout:       config.IdleTimeout,
			MaxHeaderBytes:    config.MaxHeaderBytes,
		},
		errCh:  make(chan error, 1),
		config: config,
		logger: logger.With(zap.String("component", "http_server"), zap.String("server", config.Name)),
	}
}

// OnDrain 注册关闭前回调。Shutdown 之后注册的回调不会被执行。
func (m *Manager) OnDrain(fn DrainFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.drains = append(m.drains, fn)
	}
}

// =============================================================================
// 生命周期
// =============================================================================

// Start 监听并在后台 goroutine 中处理请求
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.closed:
		return fmt.Errorf("%s server is closed", m.name)
	case m.listener != nil:
		return fmt.Errorf("%s server already started", m.name)
	}

	ln, err := net.Listen("tcp", m.config.Addr)
	if err != nil {
		return fmt.Errorf("listen %s server on %s: %w", m.name, m.config.Addr, err)
	}
	m.listener = ln
	m.logger.Info("listening", zap.String("addr", ln.Addr().String()))

	go func() {
		if err := m.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("serve failed", zap.Error(err))
			select {
			case m.errCh <- err:
			default:
			}
		}
	}()
	return nil
}

// Shutdown 先执行 drain 回调，再优雅关闭 http.Server。重复调用返回 nil。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	drains := m.drains
	m.drains = nil
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.config.ShutdownTimeout)
	defer cancel()

	start := time.Now()
	for _, fn := range drains {
		fn(ctx)
	}
	if err := m.server.Shutdown(ctx); err != nil {
		m.logger.Error("shutdown failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return fmt.Errorf("shutdown %s server: %w", m.name, err)
	}
	m.logger.Info("stopped", zap.Duration("elapsed", time.Since(start)))
	return nil
}

// WaitForShutdown 阻塞到 ctx 结束或服务异常退出，然后执行 Shutdown。
// 信号处理由调用方负责（cmd/alicecore 使用 signal.NotifyContext）。
func (m *Manager) WaitForShutdown(ctx context.Context) error {
	var cause error
	select {
	case <-ctx.Done():
		m.logger.Info("shutdown requested", zap.NamedError("reason", context.Cause(ctx)))
	case err := <-m.errCh:
		m.logger.Error("server exited unexpectedly", zap.Error(err))
		cause = err
	}

	if err := m.Shutdown(context.WithoutCancel(ctx)); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// Errors 返回异步服务错误
func (m *Manager) Errors() <-chan error {
	return m.errCh
}

// Addr 返回实际监听地址，未启动时返回配置的地址
func (m *Manager) Addr() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.listener != nil {
		return m.listener.Addr().String()
	}
	return m.config.Addr
}

// IsRunning 已启动且未关闭
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listener != nil && !m.closed
}
