package config

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"reflect"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// 🔄 配置热重载
// =============================================================================

// hotReloadable 运行期可以直接生效的字段，其余字段变更只记录并提示重启
var hotReloadable = map[string]string{
	"Log.Level":             "log level (debug, info, warn, error)",
	"Server.RateLimitRPS":   "per-client request rate",
	"Server.RateLimitBurst": "per-client burst size",
}

// sensitiveKeys 按字段名片段匹配，日志和 API 中一律脱敏
var sensitiveKeys = []string{"password", "api_key", "apikey", "secret", "dsn"}

// IsHotReloadable 字段是否无需重启即可生效
func IsHotReloadable(path string) bool {
	_, ok := hotReloadable[path]
	return ok
}

// Change 单个字段的变更记录
type Change struct {
	Path            string    `json:"path"`
	OldValue        any       `json:"old_value"`
	NewValue        any       `json:"new_value"`
	RequiresRestart bool      `json:"requires_restart"`
	Source          string    `json:"source"`
	Timestamp       time.Time `json:"timestamp"`
}

// Snapshot 历史版本
type Snapshot struct {
	Version   int       `json:"version"`
	Checksum  string    `json:"checksum"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	config    *Config
}

// ReloadFunc 在新配置生效后调用；返回错误会回滚到旧配置
type ReloadFunc func(old, next *Config) error

// Reloader 持有当前配置，监听文件变化并通知订阅者
type Reloader struct {
	path   string
	logger *zap.Logger
	now    func() time.Time

	mu         sync.RWMutex
	current    *Config
	version    int
	history    []Snapshot
	changes    []Change
	callbacks  []ReloadFunc
	maxHistory int

	watcher *FileWatcher
}

// ReloaderOption 选项
type ReloaderOption func(*Reloader)

// WithReloaderLogger 设置日志
func WithReloaderLogger(logger *zap.Logger) ReloaderOption {
	return func(r *Reloader) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMaxHistory 保留的历史版本数
func WithMaxHistory(n int) ReloaderOption {
	return func(r *Reloader) {
		if n > 0 {
			r.maxHistory = n
		}
	}
}

// NewReloader 以已加载的配置为版本 1
func NewReloader(initial *Config, path string, opts ...ReloaderOption) *Reloader {
	r := &Reloader{
		path:       path,
		logger:     zap.NewNop(),
		now:        time.Now,
		maxHistory: 10,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "config_reloader"))
	r.current = initial
	r.pushHistory(initial, "startup")
	return r
}

// Current 当前配置，调用方不得修改
func (r *Reloader) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Version 当前版本号
func (r *Reloader) Version() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// OnReload 注册订阅者
func (r *Reloader) OnReload(fn ReloadFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, fn)
}

// Start 监听配置文件，未设置路径时不做任何事
func (r *Reloader) Start(ctx context.Context, opts ...WatcherOption) error {
	if r.path == "" {
		return nil
	}
	opts = append([]WatcherOption{WithWatcherLogger(r.logger)}, opts...)
	w, err := NewFileWatcher(r.path, opts...)
	if err != nil {
		return err
	}
	w.OnChange(func(ev FileEvent) {
		if ev.Op == FileOpRemove {
			r.logger.Warn("config file removed, keeping current config")
			return
		}
		if err := r.Reload(); err != nil {
			r.logger.Error("config reload failed", zap.Error(err))
		}
	})
	r.watcher = w
	return w.Start(ctx)
}

// Stop 停止监听
func (r *Reloader) Stop() {
	if r.watcher != nil {
		r.watcher.Stop()
	}
}

// Reload 从文件重新加载；加载或校验失败时保留当前配置
func (r *Reloader) Reload() error {
	if r.path == "" {
		return fmt.Errorf("no config path set")
	}
	next, err := NewLoader().WithConfigPath(r.path).Load()
	if err != nil {
		return fmt.Errorf("reload %s: %w", r.path, err)
	}
	return r.Apply(next, "file")
}

// Apply 应用新配置。订阅者返回错误时回滚并返回该错误。
func (r *Reloader) Apply(next *Config, source string) error {
	if err := next.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	old := r.current
	changes := diff(old, next, source, r.now())
	if len(changes) == 0 {
		r.mu.Unlock()
		return nil
	}
	r.current = next
	callbacks := append([]ReloadFunc(nil), r.callbacks...)
	r.mu.Unlock()

	if err := notify(callbacks, old, next); err != nil {
		r.mu.Lock()
		if r.current == next {
			r.current = old
		}
		r.mu.Unlock()
		// 让订阅者回到旧配置
		_ = notify(callbacks, next, old)
		r.logger.Error("config subscriber failed, rolled back", zap.Error(err))
		return fmt.Errorf("config applied but subscriber failed: %w", err)
	}

	r.mu.Lock()
	r.pushHistory(next, source)
	r.changes = append(r.changes, changes...)
	if len(r.changes) > 1000 {
		r.changes = r.changes[len(r.changes)-1000:]
	}
	r.mu.Unlock()

	restart := false
	for _, c := range changes {
		restart = restart || c.RequiresRestart
		r.logger.Info("config changed",
			zap.String("path", c.Path),
			zap.Any("old_value", c.OldValue),
			zap.Any("new_value", c.NewValue),
			zap.Bool("requires_restart", c.RequiresRestart))
	}
	if restart {
		r.logger.Warn("some config changes take effect only after restart")
	}
	return nil
}

// Rollback 回到上一个版本
func (r *Reloader) Rollback() error {
	r.mu.RLock()
	if len(r.history) < 2 {
		r.mu.RUnlock()
		return fmt.Errorf("no previous config version")
	}
	prev := r.history[len(r.history)-2].config
	r.mu.RUnlock()
	return r.Apply(prev, "rollback")
}

// History 历史版本，旧的在前
func (r *Reloader) History() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Snapshot(nil), r.history...)
}

// Changes 最近 limit 条变更，limit<=0 返回全部
func (r *Reloader) Changes(limit int) []Change {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := r.changes
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return append([]Change(nil), out...)
}

// Sanitized 返回脱敏后的当前配置
func (r *Reloader) Sanitized() map[string]any {
	return Sanitize(r.Current())
}

func (r *Reloader) pushHistory(cfg *Config, source string) {
	r.version++
	r.history = append(r.history, Snapshot{
		Version:   r.version,
		Checksum:  checksum(cfg),
		Source:    source,
		Timestamp: r.now(),
		config:    cfg,
	})
	if len(r.history) > r.maxHistory {
		r.history = r.history[len(r.history)-r.maxHistory:]
	}
}

func notify(callbacks []ReloadFunc, old, next *Config) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("config subscriber panicked: %v", rec)
		}
	}()
	for _, cb := range callbacks {
		if err := cb(old, next); err != nil {
			return err
		}
	}
	return nil
}

// diff 逐字段比较，敏感字段的值被替换为 [REDACTED]
func diff(old, next *Config, source string, at time.Time) []Change {
	var out []Change
	var walk func(prefix string, a, b reflect.Value)
	walk = func(prefix string, a, b reflect.Value) {
		t := a.Type()
		for i := 0; i < a.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			path := f.Name
			if prefix != "" {
				path = prefix + "." + f.Name
			}
			av, bv := a.Field(i), b.Field(i)
			if av.Kind() == reflect.Struct {
				walk(path, av, bv)
				continue
			}
			if reflect.DeepEqual(av.Interface(), bv.Interface()) {
				continue
			}
			c := Change{
				Path:            path,
				OldValue:        av.Interface(),
				NewValue:        bv.Interface(),
				RequiresRestart: !IsHotReloadable(path),
				Source:          source,
				Timestamp:       at,
			}
			if isSensitive(f.Name) {
				c.OldValue, c.NewValue = "[REDACTED]", "[REDACTED]"
			}
			out = append(out, c)
		}
	}
	walk("", reflect.ValueOf(old).Elem(), reflect.ValueOf(next).Elem())
	return out
}

func isSensitive(name string) bool {
	name = strings.ToLower(name)
	for _, k := range sensitiveKeys {
		if strings.Contains(name, strings.ReplaceAll(k, "_", "")) || strings.Contains(name, k) {
			return true
		}
	}
	return false
}

func checksum(cfg *Config) string {
	data, err := json.Marshal(cfg)
	if err != nil {
		return ""
	}
	h := fnv.New64a()
	_, _ = h.Write(data)
	return fmt.Sprintf("%016x", h.Sum64())
}

// Sanitize 转为 map 并脱敏
func Sanitize(cfg *Config) map[string]any {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	redact(out)
	return out
}

func redact(m map[string]any) {
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			redact(nested)
			continue
		}
		if s, ok := v.(string); ok && s != "" && isSensitive(k) {
			m[k] = "[REDACTED]"
		}
	}
}
