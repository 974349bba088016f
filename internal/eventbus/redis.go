package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// =============================================================================
// Redis Pub/Sub 总线
// =============================================================================

// RedisConfig Redis 总线配置
type RedisConfig struct {
	Addr       string `json:"addr" yaml:"addr" env:"ADDR"`
	Password   string `json:"password" yaml:"password" env:"PASSWORD"`
	DB         int    `json:"db" yaml:"db" env:"DB"`
	Channel    string `json:"channel" yaml:"channel" env:"CHANNEL"`
	PoolSize   int    `json:"pool_size" yaml:"pool_size" env:"POOL_SIZE"`
	MaxRetries int    `json:"max_retries" yaml:"max_retries" env:"MAX_RETRIES"`
}

// DefaultRedisConfig 返回默认配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:       "localhost:6379",
		Channel:    "alice:workflow:events",
		PoolSize:   10,
		MaxRetries: 3,
	}
}

// RedisBus 通过 Redis PUBLISH 广播事件
type RedisBus struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger

	mu     sync.Mutex
	subs   []*redis.PubSub
	closed bool
}

// NewRedisBus 连接 Redis 并返回总线。连接失败返回错误。
func NewRedisBus(cfg RedisConfig, logger *zap.Logger) (*RedisBus, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultRedisConfig().Channel
	}
	client := redis.NewClient(&redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger = logger.With(zap.String("component", "eventbus.redis"))
	logger.Info("redis event bus connected", zap.String("addr", cfg.Addr), zap.String("channel", cfg.Channel))
	return &RedisBus{client: client, channel: cfg.Channel, logger: logger}, nil
}

// Channel 返回发布使用的频道名
func (b *RedisBus) Channel() string {
	return b.channel
}

// Publish 将事件编码为 JSON 并 PUBLISH 到频道
func (b *RedisBus) Publish(ctx context.Context, event Event) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		b.logger.Error("event publish failed", zap.String("type", string(event.Type)), zap.Error(err))
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe 订阅频道，在后台 goroutine 中对每个事件调用 h。
// 返回的函数用于取消订阅；ctx 结束时同样会停止。
func (b *RedisBus) Subscribe(ctx context.Context, h Handler) (func() error, error) {
	ps := b.client.Subscribe(ctx, b.channel)
	// 等待订阅确认，确保之后的 Publish 不会丢失
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = ps.Close()
		return nil, ErrClosed
	}
	b.subs = append(b.subs, ps)
	b.mu.Unlock()

	go func() {
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = ps.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.logger.Warn("discarding malformed event", zap.Error(err))
					continue
				}
				h(ev)
			}
		}
	}()

	var once sync.Once
	return func() error {
		var err error
		once.Do(func() { err = ps.Close() })
		return err
	}, nil
}

// Ping 检查 Redis 连接
func (b *RedisBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close 关闭所有订阅与客户端
func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, ps := range b.subs {
		_ = ps.Close()
	}
	b.subs = nil
	return b.client.Close()
}
