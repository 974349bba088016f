package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) handle(ev Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *collector) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

// =============================================================================
// LocalBus
// =============================================================================

func TestLocalBus_DeliversInOrder(t *testing.T) {
	t.Parallel()
	bus := NewLocalBus(16, zap.NewNop())
	c := &collector{}
	bus.Subscribe(c.handle)

	for i := 1; i <= 5; i++ {
		require.NoError(t, bus.Publish(context.Background(), Event{Type: TypePlanningCompleted, Iteration: i}))
	}
	require.NoError(t, bus.Close())

	got := c.snapshot()
	require.Len(t, got, 5)
	for i, ev := range got {
		assert.Equal(t, i+1, ev.Iteration)
		assert.False(t, ev.Timestamp.IsZero())
	}
}

func TestLocalBus_Unsubscribe(t *testing.T) {
	t.Parallel()
	bus := NewLocalBus(4, nil)
	a, b := &collector{}, &collector{}
	idA := bus.Subscribe(a.handle)
	bus.Subscribe(b.handle)

	assert.True(t, bus.Unsubscribe(idA))
	assert.False(t, bus.Unsubscribe(idA))

	require.NoError(t, bus.Publish(context.Background(), Event{Type: TypeWorkflowStarted}))
	require.NoError(t, bus.Close())

	assert.Empty(t, a.snapshot())
	assert.Len(t, b.snapshot(), 1)
}

func TestLocalBus_HandlerPanicIsRecovered(t *testing.T) {
	t.Parallel()
	bus := NewLocalBus(4, nil)
	c := &collector{}
	bus.Subscribe(func(Event) { panic("boom") })
	bus.Subscribe(c.handle)

	require.NoError(t, bus.Publish(context.Background(), Event{Type: TypeWorkflowFinished}))
	require.NoError(t, bus.Close())
	assert.Len(t, c.snapshot(), 1)
}

func TestLocalBus_DropsWhenFull(t *testing.T) {
	t.Parallel()
	bus := NewLocalBus(1, nil)
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	bus.Subscribe(func(Event) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
	})

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, Event{Type: TypeWorkflowStarted}))
	<-entered // 第一个事件已被取出并阻塞在处理器中
	require.NoError(t, bus.Publish(ctx, Event{Type: TypeWorkflowStarted}))
	require.NoError(t, bus.Publish(ctx, Event{Type: TypeWorkflowStarted}))

	assert.Equal(t, uint64(1), bus.Dropped())
	close(release)
	require.NoError(t, bus.Close())
}

func TestLocalBus_PublishAfterClose(t *testing.T) {
	t.Parallel()
	bus := NewLocalBus(1, nil)
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Publish(context.Background(), Event{}), ErrClosed)
}

// =============================================================================
// Multi
// =============================================================================

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(context.Context, Event) error { return f.err }

func TestMulti_JoinsErrors(t *testing.T) {
	t.Parallel()
	bus := NewLocalBus(4, nil)
	c := &collector{}
	bus.Subscribe(c.handle)

	errA := errors.New("a down")
	m := Multi{failingPublisher{errA}, nil, bus}
	err := m.Publish(context.Background(), Event{Type: TypeImprovement})
	assert.ErrorIs(t, err, errA)

	require.NoError(t, bus.Close())
	assert.Len(t, c.snapshot(), 1)
	assert.NoError(t, Multi{}.Publish(context.Background(), Event{}))
}

// =============================================================================
// RedisBus
// =============================================================================

func setupRedisBus(t *testing.T) (*miniredis.Miniredis, *RedisBus) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := DefaultRedisConfig()
	cfg.Addr = mr.Addr()
	bus, err := NewRedisBus(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })
	return mr, bus
}

func TestRedisBus_PublishSubscribe(t *testing.T) {
	_, bus := setupRedisBus(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan Event, 1)
	stop, err := bus.Subscribe(ctx, func(ev Event) { received <- ev })
	require.NoError(t, err)
	defer func() { _ = stop() }()

	require.NoError(t, bus.Publish(ctx, Event{
		Type:       TypeEvaluationDone,
		WorkflowID: "wf-1",
		Iteration:  2,
		Score:      0.5,
		Data:       map[string]any{"level": "warning"},
	}))

	select {
	case ev := <-received:
		assert.Equal(t, TypeEvaluationDone, ev.Type)
		assert.Equal(t, "wf-1", ev.WorkflowID)
		assert.Equal(t, 2, ev.Iteration)
		assert.InDelta(t, 0.5, ev.Score, 1e-9)
		assert.Equal(t, "warning", ev.Data["level"])
	case <-ctx.Done():
		t.Fatal("event not received")
	}
}

func TestRedisBus_PublishWithoutSubscribers(t *testing.T) {
	mr, bus := setupRedisBus(t)
	ctx := context.Background()

	require.NoError(t, bus.Publish(ctx, Event{Type: TypeWorkflowStarted}))
	assert.Equal(t, "alice:workflow:events", bus.Channel())
	assert.Empty(t, mr.PubSubChannels(""))
	assert.NoError(t, bus.Ping(ctx))
}

func TestRedisBus_ClosedAndUnreachable(t *testing.T) {
	_, bus := setupRedisBus(t)
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Publish(context.Background(), Event{}), ErrClosed)

	cfg := DefaultRedisConfig()
	cfg.Addr = "127.0.0.1:1"
	cfg.MaxRetries = -1
	_, err := NewRedisBus(cfg, nil)
	assert.Error(t, err)
}
