// 配置文件变更监听器实现。
//
// 监听配置文件所在目录（兼容编辑器的 rename 写入），防抖后重新加载配置，
// 加载或校验失败时保留旧配置。
package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadFunc 在配置成功重新加载后调用
type ReloadFunc func(old, updated *Config)

// WatcherOption configures the Watcher
type WatcherOption func(*Watcher)

// WithDebounceDelay sets the debounce delay for file events
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounceDelay = d
		}
	}
}

// WithWatcherLogger sets the logger for the watcher
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// Watcher reloads a config file when it changes.
type Watcher struct {
	mu sync.RWMutex

	path          string
	loader        *Loader
	debounceDelay time.Duration
	logger        *zap.Logger

	current   *Config
	callbacks []ReloadFunc
	reloads   int
	failures  int

	fw      *fsnotify.Watcher
	running bool
	done    chan struct{}
}

// NewWatcher 创建监听器。loader 需与 current 使用同一配置文件路径。
func NewWatcher(path string, loader *Loader, current *Config, opts ...WatcherOption) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	if loader == nil {
		loader = NewLoader().WithConfigPath(abs).WithValidator((*Config).Validate)
	}
	if current == nil {
		current = DefaultConfig()
	}

	w := &Watcher{
		path:          abs,
		loader:        loader,
		debounceDelay: 100 * time.Millisecond,
		logger:        zap.NewNop(),
		current:       current,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "config_watcher"))
	return w, nil
}

// OnReload registers a callback for successful reloads
func (w *Watcher) OnReload(fn ReloadFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Current 返回最近一次成功加载的配置
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Stats 返回成功与失败的重载次数
func (w *Watcher) Stats() (reloads, failures int) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.reloads, w.failures
}

// Start begins watching until ctx is done or Stop is called
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("watcher already running")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}

	w.fw = fw
	w.running = true
	w.done = make(chan struct{})
	go w.loop(ctx, fw, w.done)

	w.logger.Info("config watcher started",
		zap.String("path", w.path),
		zap.Duration("debounce_delay", w.debounceDelay))
	return nil
}

// Stop stops the watcher and waits for its loop to exit
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	fw, done := w.fw, w.done
	w.mu.Unlock()

	err := fw.Close()
	<-done
	w.logger.Info("config watcher stopped")
	return err
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			fw.Close()
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounceDelay, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		case <-fire:
			w.Reload()
		}
	}
}

// Reload 立即重新加载配置文件
func (w *Watcher) Reload() error {
	updated, err := w.loader.Load()
	if err != nil {
		w.mu.Lock()
		w.failures++
		w.mu.Unlock()
		w.logger.Warn("config reload failed, keeping previous config", zap.Error(err))
		return err
	}

	w.mu.Lock()
	old := w.current
	w.current = updated
	w.reloads++
	callbacks := append([]ReloadFunc(nil), w.callbacks...)
	w.mu.Unlock()

	w.logger.Info("config reloaded", zap.String("path", w.path))
	for _, cb := range callbacks {
		cb(old, updated)
	}
	return nil
}

// LogLevelReloader 返回一个 ReloadFunc，将新配置的日志级别应用到 level
func LogLevelReloader(level zap.AtomicLevel, logger *zap.Logger) ReloadFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(old, updated *Config) {
		if old != nil && old.Log.Level == updated.Log.Level {
			return
		}
		if err := level.UnmarshalText([]byte(updated.Log.Level)); err != nil {
			logger.Warn("ignoring invalid log level", zap.String("level", updated.Log.Level), zap.Error(err))
			return
		}
		logger.Info("log level changed", zap.String("level", updated.Log.Level))
	}
}
