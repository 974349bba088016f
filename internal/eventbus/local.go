package eventbus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const defaultBuffer = 256

// LocalBus 进程内事件总线。
// 事件经缓冲通道由单个 goroutine 按发布顺序分发；订阅者同步执行，panic 会被恢复。
type LocalBus struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	order    []string
	nextID   atomic.Uint64

	events   chan Event
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
	dropped  atomic.Uint64
	logger   *zap.Logger
}

// NewLocalBus 创建进程内总线。buffer <= 0 时使用默认容量。
func NewLocalBus(buffer int, logger *zap.Logger) *LocalBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	b := &LocalBus{
		handlers: make(map[string]Handler),
		events:   make(chan Event, buffer),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		logger:   logger.With(zap.String("component", "eventbus")),
	}
	go b.loop()
	return b
}

// Publish 发布事件。通道满时丢弃并计数，不阻塞调用方。
func (b *LocalBus) Publish(_ context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case <-b.done:
		return ErrClosed
	default:
	}
	select {
	case b.events <- event:
	case <-b.done:
		return ErrClosed
	default:
		b.dropped.Add(1)
		b.logger.Warn("event dropped, buffer full", zap.String("type", string(event.Type)))
	}
	return nil
}

// Subscribe 注册处理器，返回订阅 ID
func (b *LocalBus) Subscribe(h Handler) string {
	id := fmt.Sprintf("sub-%d", b.nextID.Add(1))
	b.mu.Lock()
	b.handlers[id] = h
	b.order = append(b.order, id)
	b.mu.Unlock()
	return id
}

// Unsubscribe 取消订阅
func (b *LocalBus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.handlers[id]; !ok {
		return false
	}
	delete(b.handlers, id)
	for i, v := range b.order {
		if v == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	return true
}

// Dropped 返回因缓冲区满而丢弃的事件数
func (b *LocalBus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close 停止分发。已入队的事件会先分发完毕。
func (b *LocalBus) Close() error {
	b.stopOnce.Do(func() {
		close(b.done)
	})
	<-b.stopped
	return nil
}

func (b *LocalBus) loop() {
	defer close(b.stopped)
	for {
		select {
		case ev := <-b.events:
			b.dispatch(ev)
		case <-b.done:
			for {
				select {
				case ev := <-b.events:
					b.dispatch(ev)
				default:
					return
				}
			}
		}
	}
}

func (b *LocalBus) dispatch(ev Event) {
	b.mu.RLock()
	hs := make([]Handler, 0, len(b.order))
	for _, id := range b.order {
		hs = append(hs, b.handlers[id])
	}
	b.mu.RUnlock()

	for _, h := range hs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked", zap.Any("recover", r), zap.String("type", string(ev.Type)))
				}
			}()
			h(ev)
		}()
	}
}
