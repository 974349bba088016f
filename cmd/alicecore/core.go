package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/alicevoice/agentcore/agent/critic"
	"github.com/alicevoice/agentcore/agent/executor"
	"github.com/alicevoice/agentcore/agent/orchestrator"
	"github.com/alicevoice/agentcore/agent/planner"
	"github.com/alicevoice/agentcore/api/handlers"
	"github.com/alicevoice/agentcore/config"
	"github.com/alicevoice/agentcore/internal/eventbus"
	"github.com/alicevoice/agentcore/internal/metrics"
	"github.com/alicevoice/agentcore/internal/telemetry"
	"github.com/alicevoice/agentcore/tools"
	"go.uber.org/zap"
)

// =============================================================================
// 🧩 核心组件装配
// =============================================================================

// core 持有一次进程生命周期内的 Agent Core 组件
type core struct {
	registry     *tools.Registry
	executor     *executor.Executor
	orchestrator *orchestrator.Orchestrator

	localBus *eventbus.LocalBus
	redisBus *eventbus.RedisBus

	logger *zap.Logger
}

// buildCore 按配置装配工具注册表、规划器、执行器、评估器与编排器。
// collector 与 otel 均可为 nil。
func buildCore(cfg *config.Config, logger *zap.Logger, collector *metrics.Collector, otel *telemetry.Providers) (*core, error) {
	c := &core{logger: logger}

	catalog := tools.Filter(tools.DefaultCatalog(), cfg.Tools.Disabled)
	c.registry = tools.NewRegistry(logger)
	if err := c.registry.RegisterCatalog(catalog, tools.SimulatedHandlers(catalog, cfg.Tools.SimulatedLatency)); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}

	var execOpts []executor.Option
	var orchOpts []orchestrator.Option
	if collector != nil {
		c.registry.SetMetrics(collector)
		execOpts = append(execOpts, executor.WithMetrics(collector))
		orchOpts = append(orchOpts, orchestrator.WithMetrics(collector))
	}
	if otel.Enabled() {
		execOpts = append(execOpts, executor.WithTracer(otel.Tracer("alicecore/executor")))
		orchOpts = append(orchOpts, orchestrator.WithTracer(otel.Tracer("alicecore/orchestrator")))
	}

	publisher, err := c.buildEventBus(cfg.EventBus)
	if err != nil {
		return nil, err
	}
	if publisher != nil {
		orchOpts = append(orchOpts, orchestrator.WithEvents(publisher))
	}

	c.executor = executor.New(c.registry, cfg.Executor, logger, execOpts...)
	c.orchestrator = orchestrator.New(
		planner.New(catalog, tools.CategoryKeywords(), logger),
		c.executor,
		critic.New(cfg.Critic),
		cfg.Orchestrator,
		logger,
		orchOpts...,
	)

	logger.Info("agent core assembled",
		zap.Int("tools", len(c.registry.Catalog())),
		zap.Strings("disabled_tools", cfg.Tools.Disabled),
		zap.String("event_bus", cfg.EventBus.Backend),
		zap.Int("max_parallel_actions", cfg.Executor.MaxParallelActions),
	)
	return c, nil
}

// buildEventBus 创建工作流事件发布器。本地总线始终记录 debug 日志，
// redis 后端额外把事件广播到 Redis 频道。
func (c *core) buildEventBus(cfg config.EventBusConfig) (eventbus.Publisher, error) {
	if cfg.Backend == config.EventBusNone {
		return nil, nil
	}

	c.localBus = eventbus.NewLocalBus(cfg.BufferSize, c.logger)
	c.localBus.Subscribe(func(ev eventbus.Event) {
		c.logger.Debug("workflow event",
			zap.String("type", string(ev.Type)),
			zap.String("workflow_id", ev.WorkflowID),
			zap.Int("iteration", ev.Iteration),
			zap.String("message", ev.Message),
		)
	})
	if cfg.Backend != config.EventBusRedis {
		return c.localBus, nil
	}

	bus, err := eventbus.NewRedisBus(cfg.Redis, c.logger)
	if err != nil {
		c.localBus.Close()
		return nil, fmt.Errorf("connect event bus: %w", err)
	}
	c.redisBus = bus
	return eventbus.Multi{c.localBus, c.redisBus}, nil
}

// pingRedis 检查 Redis 事件总线连接，未启用时直接返回 nil
func (c *core) pingRedis(ctx context.Context) error {
	if c.redisBus == nil {
		return nil
	}
	return c.redisBus.Ping(ctx)
}

// stats 供 /ready 展示的运行概况
func (c *core) stats() handlers.CoreStats {
	return handlers.CoreStats{
		ActiveWorkflows:  len(c.orchestrator.GetActiveWorkflows()),
		ActiveExecutions: len(c.executor.GetActiveExecutions()),
		Tools:            len(c.registry.Catalog()),
	}
}

// close 取消所有运行中的工作流并关闭事件总线
func (c *core) close() error {
	if n := c.orchestrator.CancelAll(); n > 0 {
		c.logger.Info("cancelled running workflows", zap.Int("count", n))
	}
	var errs []error
	if c.localBus != nil {
		errs = append(errs, c.localBus.Close())
	}
	if c.redisBus != nil {
		errs = append(errs, c.redisBus.Close())
	}
	return errors.Join(errs...)
}
