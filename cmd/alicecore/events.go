package main

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/alicevoice/agentcore/internal/eventbus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// =============================================================================
// 📡 events 命令：订阅 Redis 事件频道，逐行输出 JSON
// =============================================================================

type eventsOptions struct {
	redisAddr  string
	workflowID string
	types      []string
}

func newEventsCmd(root *rootOptions) *cobra.Command {
	opts := &eventsOptions{}
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail workflow events published on the Redis event bus",
		Long: `Subscribes to event_bus.redis.channel and prints every workflow event as
one JSON object per line until interrupted. Works against any server running
with event_bus.backend=redis.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(root.configPath)
			if err != nil {
				return err
			}
			redisCfg := cfg.EventBus.Redis
			if opts.redisAddr != "" {
				redisCfg.Addr = opts.redisAddr
			}

			bus, err := eventbus.NewRedisBus(redisCfg, zap.NewNop())
			if err != nil {
				return fmt.Errorf("connect event bus: %w", err)
			}
			defer bus.Close()

			wanted := make(map[eventbus.Type]bool, len(opts.types))
			for _, t := range opts.types {
				wanted[eventbus.Type(t)] = true
			}

			var mu sync.Mutex
			enc := json.NewEncoder(cmd.OutOrStdout())
			stop, err := bus.Subscribe(cmd.Context(), func(ev eventbus.Event) {
				if opts.workflowID != "" && ev.WorkflowID != opts.workflowID {
					return
				}
				if len(wanted) > 0 && !wanted[ev.Type] {
					return
				}
				mu.Lock()
				defer mu.Unlock()
				_ = enc.Encode(ev)
			})
			if err != nil {
				return err
			}
			defer func() { _ = stop() }()

			fmt.Fprintf(cmd.ErrOrStderr(), "listening on %s (%s)\n", bus.Channel(), redisCfg.Addr)
			<-cmd.Context().Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.redisAddr, "redis-addr", "", "Redis address (overrides event_bus.redis.addr)")
	cmd.Flags().StringVar(&opts.workflowID, "workflow", "", "only print events of this workflow id")
	cmd.Flags().StringSliceVar(&opts.types, "type", nil, "only print these event types, e.g. workflow_finished")
	return cmd
}
