// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicevoice/agentcore/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)

	assert.Equal(t, 4, cfg.Executor.MaxParallelActions)
	assert.Equal(t, 30*time.Second, cfg.Executor.DefaultActionTimeout)
	assert.Equal(t, 0, cfg.Executor.Retry.MaxRetries)

	assert.Equal(t, 16, cfg.Orchestrator.MaxConcurrentWorkflows)
	assert.Equal(t, types.DefaultWorkflowConfig(), cfg.Orchestrator.Workflow)
	assert.Equal(t, 0.5, cfg.Critic.WarningSuccessRate)

	assert.Equal(t, EventBusLocal, cfg.EventBus.Backend)
	assert.Equal(t, "localhost:6379", cfg.EventBus.Redis.Addr)
	assert.False(t, cfg.Auth.Enabled)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "alicecore", cfg.Telemetry.ServiceName)

	require.NoError(t, cfg.Validate())
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, types.StrategyAdaptive, cfg.Orchestrator.Workflow.ImprovementStrategy)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "alice.yaml")

	yamlContent := `
server:
  http_port: 8888
  read_timeout: 60s
  cors_allowed_origins: ["https://alice.local"]

executor:
  max_parallel_actions: 8
  default_action_timeout: 5s
  retry:
    max_retries: 2
    initial_delay: 50ms

orchestrator:
  max_concurrent_workflows: 4
  workflow:
    max_iterations: 5
    min_success_score: 0.9
    auto_improve: true
    improvement_strategy: retry_failed

tools:
  simulated_latency: 0s
  disabled: [email.send]

event_bus:
  backend: redis
  redis:
    addr: redis:6379
    channel: alice:test

log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, []string{"https://alice.local"}, cfg.Server.CORSAllowedOrigins)

	assert.Equal(t, 8, cfg.Executor.MaxParallelActions)
	assert.Equal(t, 5*time.Second, cfg.Executor.DefaultActionTimeout)
	assert.Equal(t, 2, cfg.Executor.Retry.MaxRetries)
	assert.Equal(t, 50*time.Millisecond, cfg.Executor.Retry.InitialDelay)

	assert.Equal(t, 4, cfg.Orchestrator.MaxConcurrentWorkflows)
	assert.Equal(t, 5, cfg.Orchestrator.Workflow.MaxIterations)
	assert.Equal(t, types.StrategyRetryFailed, cfg.Orchestrator.Workflow.ImprovementStrategy)

	assert.Zero(t, cfg.Tools.SimulatedLatency)
	assert.Equal(t, []string{"email.send"}, cfg.Tools.Disabled)

	assert.Equal(t, EventBusRedis, cfg.EventBus.Backend)
	assert.Equal(t, "redis:6379", cfg.EventBus.Redis.Addr)
	assert.Equal(t, "alice:test", cfg.EventBus.Redis.Channel)
	// 未在文件中出现的字段保留默认值
	assert.Equal(t, 10, cfg.EventBus.Redis.PoolSize)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("ALICE_SERVER_HTTP_PORT", "7777")
	t.Setenv("ALICE_EXECUTOR_RETRY_MAX_RETRIES", "3")
	t.Setenv("ALICE_EXECUTOR_DEFAULT_ACTION_TIMEOUT", "2s")
	t.Setenv("ALICE_ORCHESTRATOR_WORKFLOW_IMPROVEMENT_STRATEGY", "optimize_plan")
	t.Setenv("ALICE_ORCHESTRATOR_WORKFLOW_AUTO_IMPROVE", "false")
	t.Setenv("ALICE_CRITIC_WARNING_SUCCESS_RATE", "0.7")
	t.Setenv("ALICE_TOOLS_DISABLED", "email.send, files.write")
	t.Setenv("ALICE_EVENT_BUS_REDIS_ADDR", "cache:6380")
	t.Setenv("ALICE_AUTH_ENABLED", "true")
	t.Setenv("ALICE_AUTH_JWT_SECRET", "s3cret")
	t.Setenv("ALICE_LOG_LEVEL", "warn")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.Equal(t, 3, cfg.Executor.Retry.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Executor.DefaultActionTimeout)
	assert.Equal(t, types.StrategyOptimizePlan, cfg.Orchestrator.Workflow.ImprovementStrategy)
	assert.False(t, cfg.Orchestrator.Workflow.AutoImprove)
	assert.Equal(t, 0.7, cfg.Critic.WarningSuccessRate)
	assert.Equal(t, []string{"email.send", "files.write"}, cfg.Tools.Disabled)
	assert.Equal(t, "cache:6380", cfg.EventBus.Redis.Addr)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "alice.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  http_port: 8888\n"), 0644))

	t.Setenv("ALICE_SERVER_HTTP_PORT", "9999")

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.HTTPPort)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("VOICE_LOG_FORMAT", "console")

	cfg, err := NewLoader().WithEnvPrefix("VOICE").Load()
	require.NoError(t, err)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("ALICE_SERVER_HTTP_PORT", "not-a-number")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ALICE_SERVER_HTTP_PORT")
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "missing.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server: [unterminated"), 0644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoader_WithValidator(t *testing.T) {
	t.Setenv("ALICE_ORCHESTRATOR_WORKFLOW_MAX_ITERATIONS", "0")

	_, err := NewLoader().WithValidator((*Config).Validate).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_iterations")
}

func TestMustLoad_Panics(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("log:\n  level: loud\n"), 0644))

	assert.Panics(t, func() { MustLoad(configPath) })
}

// --- Validate 测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad http port", func(c *Config) { c.Server.HTTPPort = 0 }, "invalid HTTP port"},
		{"metrics port clash", func(c *Config) { c.Server.MetricsPort = c.Server.HTTPPort }, "metrics port must differ"},
		{"metrics disabled", func(c *Config) { c.Server.MetricsPort = 0 }, ""},
		{"no workers", func(c *Config) { c.Executor.MaxParallelActions = 0 }, "max_parallel_actions"},
		{"no timeout", func(c *Config) { c.Executor.DefaultActionTimeout = 0 }, "default_action_timeout"},
		{"bad score", func(c *Config) { c.Orchestrator.Workflow.MinSuccessScore = 1.5 }, "min_success_score"},
		{"bad strategy", func(c *Config) { c.Orchestrator.Workflow.ImprovementStrategy = "guess" }, "orchestrator.workflow"},
		{"bad critic", func(c *Config) { c.Critic.WarningSuccessRate = 2 }, "warning_success_rate"},
		{"unknown bus", func(c *Config) { c.EventBus.Backend = "kafka" }, "unknown event_bus.backend"},
		{"redis without addr", func(c *Config) {
			c.EventBus.Backend = EventBusRedis
			c.EventBus.Redis.Addr = ""
		}, "event_bus.redis.addr"},
		{"auth without key", func(c *Config) { c.Auth.Enabled = true }, "auth requires"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "invalid log level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "invalid log format"},
		{"bad sample rate", func(c *Config) { c.Telemetry.SampleRate = -1 }, "sample_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
