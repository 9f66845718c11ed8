package loader

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"qmtrader/internal/config"
	"qmtrader/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

var log = logger.With("config")

// Snapshot 是热更新后对外暴露的只读快照，只包含允许在线调整的部分。
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Trading  config.TradingConfig
	Fees     config.FeeConfig
}

// ChangeListener 在配置变更时被调用。
type ChangeListener func(Snapshot)

// Watcher 监听主配置文件，交易限额与费率变更后推送给订阅者。
// 其余段落（API 地址、存储路径等）需要重启生效。
type Watcher struct {
	path   string
	v      *viper.Viper
	loadFn func(string) (*config.Config, error)

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// NewWatcher 以已加载的配置为初始快照，并开始监听 FS 事件。
func NewWatcher(path string, initial *config.Config) (*Watcher, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config watcher requires path")
	}
	if initial == nil {
		return nil, fmt.Errorf("config watcher requires initial config")
	}
	w := &Watcher{path: path, loadFn: config.Load}
	w.store(initial)

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config failed: %w", err)
	}
	w.v = v
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := w.reload(); err != nil {
			log.Errorf("config reload failed (%s): %v", evt.Name, err)
			return
		}
		w.notify()
	})
	v.WatchConfig()
	return w, nil
}

// Snapshot 返回当前快照（值拷贝，切片重新分配）。
func (w *Watcher) Snapshot() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return cloneSnapshot(w.snapshot)
}

// Subscribe 注册监听器，并立即收到一次完整快照。
func (w *Watcher) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	snap := cloneSnapshot(w.snapshot)
	w.mu.Unlock()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("config listener panic: %v", r)
			}
		}()
		fn(snap)
	}()
}

func (w *Watcher) notify() {
	w.mu.RLock()
	snap := cloneSnapshot(w.snapshot)
	listeners := append([]ChangeListener(nil), w.listeners...)
	w.mu.RUnlock()
	for _, fn := range listeners {
		if fn == nil {
			continue
		}
		go func(cb ChangeListener) {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("config listener panic: %v", r)
				}
			}()
			cb(snap)
		}(fn)
	}
}

func (w *Watcher) reload() error {
	cfg, err := w.loadFn(w.path)
	if err != nil {
		return err
	}
	w.store(cfg)
	log.Infof("config reloaded from %s (version=%d)", filepath.Base(w.path), w.Snapshot().Version)
	return nil
}

func (w *Watcher) store(cfg *config.Config) {
	w.mu.Lock()
	w.snapshot = Snapshot{
		Version:  w.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Trading:  cfg.Trading,
		Fees:     cfg.Fees,
	}
	w.mu.Unlock()
}

func cloneSnapshot(src Snapshot) Snapshot {
	dst := src
	dst.Trading.TradingDays = append([]int(nil), src.Trading.TradingDays...)
	dst.Trading.Sessions = append([]string(nil), src.Trading.Sessions...)
	return dst
}
