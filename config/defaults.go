// =============================================================================
// 📦 Alice 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"time"

	"github.com/alicevoice/agentcore/agent/critic"
	"github.com/alicevoice/agentcore/agent/executor"
	"github.com/alicevoice/agentcore/agent/orchestrator"
	"github.com/alicevoice/agentcore/internal/eventbus"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:       DefaultServerConfig(),
		Executor:     executor.DefaultConfig(),
		Orchestrator: orchestrator.DefaultConfig(),
		Critic:       critic.DefaultConfig(),
		Tools:        DefaultToolsConfig(),
		EventBus:     DefaultEventBusConfig(),
		Auth:         AuthConfig{},
		Log:          DefaultLogConfig(),
		Telemetry:    DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    5 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    50,
		RateLimitBurst:  100,
	}
}

// DefaultToolsConfig 返回默认工具配置
func DefaultToolsConfig() ToolsConfig {
	return ToolsConfig{
		SimulatedLatency: 20 * time.Millisecond,
	}
}

// DefaultEventBusConfig 返回默认事件总线配置
func DefaultEventBusConfig() EventBusConfig {
	return EventBusConfig{
		Backend:    EventBusLocal,
		BufferSize: 256,
		Redis:      eventbus.DefaultRedisConfig(),
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "alicecore",
		SampleRate:   0.1,
	}
}
