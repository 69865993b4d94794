// 配置热重载管理器实现。
//
// 监听配置文件，校验后原子替换当前配置并通知订阅方；
// 订阅方返回错误或 panic 时自动回滚到上一版本。
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"maps"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// --- 热重载类型定义 ---

// HotReloadManager 管理配置热重载
type HotReloadManager struct {
	mu sync.RWMutex

	config     *Config
	configPath string
	envPrefix  string

	previousConfig *Config
	configHistory  []ConfigSnapshot
	maxHistorySize int
	validateFunc   ValidateFunc

	watcher *FileWatcher

	changeCallbacks []ChangeCallback
	reloadCallbacks []ReloadCallback

	changeLog []ConfigChange

	logger *zap.Logger

	running bool
	cancel  context.CancelFunc
}

// ChangeCallback 每个字段变更调用一次
type ChangeCallback func(change ConfigChange)

// ReloadCallback 新配置生效后调用；返回错误触发回滚
type ReloadCallback func(oldConfig, newConfig *Config) error

// ConfigChange 代表一次字段变更
type ConfigChange struct {
	Timestamp       time.Time `json:"timestamp"`
	Source          string    `json:"source"` // file, api, rollback
	Path            string    `json:"path"`   // 例如 "Log.Level"
	OldValue        any       `json:"old_value,omitempty"`
	NewValue        any       `json:"new_value,omitempty"`
	RequiresRestart bool      `json:"requires_restart"`
	Applied         bool      `json:"applied"`
	Error           string    `json:"error,omitempty"`
}

// ConfigSnapshot 配置快照
type ConfigSnapshot struct {
	Config    *Config   `json:"-"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Version   int       `json:"version"`
	Checksum  string    `json:"checksum"`
}

// ValidateFunc 额外的配置校验钩子
type ValidateFunc func(newConfig *Config) error

// HotReloadableField 描述一个配置字段的重载行为
type HotReloadableField struct {
	Path            string
	Description     string
	RequiresRestart bool
	Sensitive       bool
}

// --- 可热重载字段注册表 ---

// hotReloadableFields 未登记的字段变更一律视为需要重启
var hotReloadableFields = map[string]HotReloadableField{
	"Log.Level": {
		Path:        "Log.Level",
		Description: "Log level (debug, info, warn, error)",
	},
	"Prompts.Templates": {
		Path:        "Prompts.Templates",
		Description: "System prompt templates keyed by context tag",
	},
	"Server.RateLimitRPS": {
		Path:            "Server.RateLimitRPS",
		Description:     "Per-client request rate",
		RequiresRestart: true,
	},
	"Server.JWTSecret": {
		Path:            "Server.JWTSecret",
		Description:     "JWT HMAC secret",
		RequiresRestart: true,
		Sensitive:       true,
	},
	"Server.APIKeys": {
		Path:            "Server.APIKeys",
		Description:     "Accepted API keys",
		RequiresRestart: true,
		Sensitive:       true,
	},
	"Redis.Password": {
		Path:            "Redis.Password",
		Description:     "Redis password",
		RequiresRestart: true,
		Sensitive:       true,
	},
	"Database.Password": {
		Path:            "Database.Password",
		Description:     "Database password",
		RequiresRestart: true,
		Sensitive:       true,
	},
	"LLM.Models": {
		Path:            "LLM.Models",
		Description:     "Provider bindings; credentials are never reported",
		RequiresRestart: true,
		Sensitive:       true,
	},
	"LLM.Fallbacks": {
		Path:            "LLM.Fallbacks",
		Description:     "Explicit fallback table",
		RequiresRestart: true,
	},
}

// --- 热重载管理器选项 ---

// HotReloadOption 配置 HotReloadManager
type HotReloadOption func(*HotReloadManager)

// WithHotReloadLogger 设置记录器
func WithHotReloadLogger(logger *zap.Logger) HotReloadOption {
	return func(m *HotReloadManager) {
		m.logger = logger
	}
}

// WithConfigPath 设置配置文件路径
func WithConfigPath(path string) HotReloadOption {
	return func(m *HotReloadManager) {
		m.configPath = path
	}
}

// WithValidateFunc 设置配置验证钩子
func WithValidateFunc(fn ValidateFunc) HotReloadOption {
	return func(m *HotReloadManager) {
		m.validateFunc = fn
	}
}

// --- 热重载管理器实现 ---

// NewHotReloadManager 创建一个新的热重载管理器
func NewHotReloadManager(config *Config, opts ...HotReloadOption) *HotReloadManager {
	m := &HotReloadManager{
		config:         config,
		envPrefix:      "CHATCORE",
		maxHistorySize: 10,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("component", "config_reload"))

	m.pushHistory(config, "init")
	return m
}

// pushHistory 推入历史快照（调用方持锁）
func (m *HotReloadManager) pushHistory(config *Config, source string) {
	version := 1
	if len(m.configHistory) > 0 {
		version = m.configHistory[len(m.configHistory)-1].Version + 1
	}
	m.configHistory = append(m.configHistory, ConfigSnapshot{
		Config:    config.Clone(),
		Timestamp: time.Now(),
		Source:    source,
		Version:   version,
		Checksum:  computeConfigChecksum(config),
	})
	if len(m.configHistory) > m.maxHistorySize {
		m.configHistory = m.configHistory[len(m.configHistory)-m.maxHistorySize:]
	}
}

// Clone 深拷贝配置。凭证字段不参与 JSON 序列化，所以逐字段复制切片与映射。
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	out.Server.APIKeys = slices.Clone(c.Server.APIKeys)
	out.Server.CORSAllowedOrigins = slices.Clone(c.Server.CORSAllowedOrigins)
	out.Log.OutputPaths = slices.Clone(c.Log.OutputPaths)
	out.LLM.Models = slices.Clone(c.LLM.Models)
	if c.LLM.Fallbacks != nil {
		out.LLM.Fallbacks = make(map[string][]string, len(c.LLM.Fallbacks))
		for k, v := range c.LLM.Fallbacks {
			out.LLM.Fallbacks[k] = slices.Clone(v)
		}
	}
	out.Prompts.Templates = maps.Clone(c.Prompts.Templates)
	return &out
}

// computeConfigChecksum FNV-1a over the JSON form plus credentials
func computeConfigChecksum(config *Config) string {
	data, err := json.Marshal(config)
	if err != nil {
		return ""
	}
	h := fnv.New64a()
	_, _ = h.Write(data)
	for _, mc := range config.LLM.Models {
		_, _ = h.Write([]byte(mc.Name + "\x00" + mc.APIKey))
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// Start 启动文件监听；未设置配置路径时只支持手动 ApplyConfig
func (m *HotReloadManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("hot reload manager already running")
	}

	ctx, m.cancel = context.WithCancel(ctx)

	if m.configPath != "" {
		watcher, err := NewFileWatcher(
			[]string{m.configPath},
			WithWatcherLogger(m.logger),
			WithDebounceDelay(500*time.Millisecond),
		)
		if err != nil {
			m.cancel()
			return fmt.Errorf("failed to create file watcher: %w", err)
		}
		watcher.OnChange(m.handleFileChange)
		if err := watcher.Start(ctx); err != nil {
			m.cancel()
			return fmt.Errorf("failed to start file watcher: %w", err)
		}
		m.watcher = watcher
	}

	m.running = true
	m.logger.Info("hot reload manager started", zap.String("config_path", m.configPath))
	return nil
}

// Stop 停止热重载管理器
func (m *HotReloadManager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	cancel, watcher := m.cancel, m.watcher
	m.watcher = nil
	m.mu.Unlock()

	cancel()
	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			m.logger.Error("failed to stop file watcher", zap.Error(err))
		}
	}
	m.logger.Info("hot reload manager stopped")
	return nil
}

// handleFileChange 处理文件更改事件
func (m *HotReloadManager) handleFileChange(event FileEvent) {
	m.logger.Info("configuration file changed",
		zap.String("path", event.Path),
		zap.String("op", event.Op.String()))

	if event.Op == FileOpWrite || event.Op == FileOpCreate {
		if err := m.ReloadFromFile(); err != nil {
			m.logger.Error("failed to reload configuration", zap.Error(err))
		}
	}
}

// ReloadFromFile 从文件重新加载配置；加载或校验失败时保留当前配置
func (m *HotReloadManager) ReloadFromFile() error {
	_, err := m.Reload("file")
	return err
}

// Reload 重新读取配置文件并应用，返回本次生效的变更
func (m *HotReloadManager) Reload(source string) ([]ConfigChange, error) {
	if m.configPath == "" {
		return nil, fmt.Errorf("no config path set")
	}

	newConfig, err := NewLoader().WithConfigPath(m.configPath).WithEnvPrefix(m.envPrefix).Load()
	if err != nil {
		m.logger.Error("invalid config file, keeping current config",
			zap.Error(err), zap.String("path", m.configPath))
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return m.applyConfig(newConfig, source)
}

// ApplyConfig 校验并应用新配置。
// 校验、替换与历史记录在同一把锁内完成；回调在锁外执行，失败则回滚。
func (m *HotReloadManager) ApplyConfig(newConfig *Config, source string) error {
	_, err := m.applyConfig(newConfig, source)
	return err
}

func (m *HotReloadManager) applyConfig(newConfig *Config, source string) ([]ConfigChange, error) {
	m.mu.Lock()

	oldConfig := m.config

	if m.validateFunc != nil {
		if err := m.validateFunc(newConfig); err != nil {
			m.changeLog = append(m.changeLog, ConfigChange{
				Timestamp: time.Now(),
				Source:    source,
				Path:      "(validation_hook)",
				Error:     fmt.Sprintf("validation hook failed: %v", err),
			})
			m.mu.Unlock()
			m.logger.Warn("config validation hook failed", zap.Error(err), zap.String("source", source))
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	changes := detectChanges(oldConfig, newConfig)
	if len(changes) == 0 {
		m.mu.Unlock()
		m.logger.Debug("configuration unchanged", zap.String("source", source))
		return nil, nil
	}

	requiresRestart := false
	now := time.Now()
	for i := range changes {
		c := &changes[i]
		c.Source = source
		c.Timestamp = now
		c.Applied = true
		field, known := hotReloadableFields[c.Path]
		c.RequiresRestart = !known || field.RequiresRestart
		if known && field.Sensitive {
			c.OldValue = "[REDACTED]"
			c.NewValue = "[REDACTED]"
		}
		requiresRestart = requiresRestart || c.RequiresRestart
		m.logChange(*c)
	}

	m.previousConfig = oldConfig
	m.config = newConfig
	m.pushHistory(newConfig, source)
	m.changeLog = append(m.changeLog, changes...)
	if len(m.changeLog) > 1000 {
		m.changeLog = m.changeLog[len(m.changeLog)-1000:]
	}

	changeCallbacks := slices.Clone(m.changeCallbacks)
	reloadCallbacks := slices.Clone(m.reloadCallbacks)
	m.mu.Unlock()

	if err := notifyCallbacksSafe(changeCallbacks, reloadCallbacks, oldConfig, newConfig, changes); err != nil {
		m.mu.Lock()
		if m.config == newConfig {
			m.rollbackLocked(oldConfig, fmt.Sprintf("callback error: %v", err))
		} else {
			m.logger.Warn("callback failed but config changed concurrently, skip rollback", zap.Error(err))
		}
		m.mu.Unlock()
		return nil, fmt.Errorf("config applied but callback failed: %w", err)
	}

	if requiresRestart {
		m.logger.Warn("some configuration changes require restart to take effect")
	}
	m.logger.Info("configuration reloaded",
		zap.Int("changes", len(changes)),
		zap.Bool("requires_restart", requiresRestart))
	return changes, nil
}

// notifyCallbacksSafe 调用回调并把 panic 转为错误
func notifyCallbacksSafe(changeCallbacks []ChangeCallback, reloadCallbacks []ReloadCallback, oldConfig, newConfig *Config, changes []ConfigChange) (retErr error) {
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("callback panicked: %v", r)
		}
	}()
	for _, cb := range changeCallbacks {
		for _, change := range changes {
			cb(change)
		}
	}
	for _, cb := range reloadCallbacks {
		if err := cb(oldConfig, newConfig); err != nil {
			return err
		}
	}
	return nil
}

// detectChanges 检测新旧配置之间的变化
func detectChanges(oldConfig, newConfig *Config) []ConfigChange {
	var changes []ConfigChange
	compareStructs("", reflect.ValueOf(oldConfig).Elem(), reflect.ValueOf(newConfig).Elem(), &changes)
	return changes
}

// compareStructs 递归比较结构体字段；嵌入结构体展开到外层路径
func compareStructs(prefix string, oldVal, newVal reflect.Value, changes *[]ConfigChange) {
	t := oldVal.Type()
	for i := 0; i < oldVal.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		fieldPath := field.Name
		if field.Anonymous {
			fieldPath = prefix
		} else if prefix != "" {
			fieldPath = prefix + "." + field.Name
		}

		oldField, newField := oldVal.Field(i), newVal.Field(i)
		if oldField.Kind() == reflect.Struct {
			compareStructs(fieldPath, oldField, newField, changes)
			continue
		}
		if !reflect.DeepEqual(oldField.Interface(), newField.Interface()) {
			*changes = append(*changes, ConfigChange{
				Path:     fieldPath,
				OldValue: oldField.Interface(),
				NewValue: newField.Interface(),
			})
		}
	}
}

// logChange 记录配置更改，敏感字段不输出值
func (m *HotReloadManager) logChange(change ConfigChange) {
	fields := []zap.Field{
		zap.String("path", change.Path),
		zap.String("source", change.Source),
		zap.Bool("requires_restart", change.RequiresRestart),
	}
	if field, known := hotReloadableFields[change.Path]; !known || !field.Sensitive {
		fields = append(fields,
			zap.Any("old_value", change.OldValue),
			zap.Any("new_value", change.NewValue))
	}
	m.logger.Info("configuration changed", fields...)
}

// OnChange 注册字段变更回调
func (m *HotReloadManager) OnChange(callback ChangeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changeCallbacks = append(m.changeCallbacks, callback)
}

// OnReload 注册重新加载回调
func (m *HotReloadManager) OnReload(callback ReloadCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloadCallbacks = append(m.reloadCallbacks, callback)
}

// Rollback 回滚到上一个有效配置，并用回滚后的配置重新通知 reload 回调，
// 使日志级别与提示词模板一并恢复。字段变更回调不触发。
func (m *HotReloadManager) Rollback() error {
	m.mu.Lock()
	if m.previousConfig == nil {
		m.mu.Unlock()
		return fmt.Errorf("no previous config available for rollback")
	}
	current := m.config
	m.rollbackLocked(m.previousConfig, "manual rollback")
	target := m.config
	reloadCallbacks := slices.Clone(m.reloadCallbacks)
	m.mu.Unlock()

	if err := notifyCallbacksSafe(nil, reloadCallbacks, current, target, nil); err != nil {
		return fmt.Errorf("rolled back but callback failed: %w", err)
	}
	return nil
}

// rollbackLocked 调用方必须持有写锁
func (m *HotReloadManager) rollbackLocked(target *Config, reason string) {
	m.config = target.Clone()
	m.previousConfig = nil
	m.changeLog = append(m.changeLog, ConfigChange{
		Timestamp: time.Now(),
		Source:    "rollback",
		Path:      "(rollback)",
		Applied:   true,
		Error:     reason,
	})
	m.logger.Warn("configuration rolled back", zap.String("reason", reason))
}

// GetConfigHistory 获取配置变更历史
func (m *HotReloadManager) GetConfigHistory() []ConfigSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.configHistory)
}

// GetCurrentVersion 获取当前配置版本号
func (m *HotReloadManager) GetCurrentVersion() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.configHistory) == 0 {
		return 0
	}
	return m.configHistory[len(m.configHistory)-1].Version
}

// GetConfig 返回当前配置的副本
func (m *HotReloadManager) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.Clone()
}

// GetChangeLog 返回最近 limit 条变更，limit <= 0 返回全部
func (m *HotReloadManager) GetChangeLog(limit int) []ConfigChange {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.changeLog) {
		limit = len(m.changeLog)
	}
	return slices.Clone(m.changeLog[len(m.changeLog)-limit:])
}

// GetHotReloadableFields 返回字段注册表副本
func GetHotReloadableFields() map[string]HotReloadableField {
	return maps.Clone(hotReloadableFields)
}

// IsHotReloadable 检查字段是否无需重启即可生效
func IsHotReloadable(path string) bool {
	field, known := hotReloadableFields[path]
	return known && !field.RequiresRestart
}

// --- 脱敏配置视图 ---

// SanitizedConfig 返回脱敏后的配置，供运维接口展示
func (m *HotReloadManager) SanitizedConfig() map[string]any {
	m.mu.RLock()
	data, err := json.Marshal(m.config)
	m.mu.RUnlock()
	if err != nil {
		return nil
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	redactSensitiveFields(result)
	return result
}

// 按后缀匹配，tokenizer 与 max_tokens 不受影响
var sensitiveKeys = []string{"password", "api_key", "api_keys", "apikey", "secret", "token", "credential"}

// redactSensitiveFields 递归脱敏，包括数组中的对象
func redactSensitiveFields(data map[string]any) {
	for key, value := range data {
		lowerKey := strings.ToLower(key)
		sensitive := slices.ContainsFunc(sensitiveKeys, func(s string) bool {
			return strings.HasSuffix(lowerKey, s)
		})
		if sensitive {
			switch v := value.(type) {
			case string:
				if v != "" {
					data[key] = "[REDACTED]"
				}
				continue
			case []any:
				if len(v) > 0 {
					data[key] = "[REDACTED]"
				}
				continue
			}
		}
		switch v := value.(type) {
		case map[string]any:
			redactSensitiveFields(v)
		case []any:
			for _, item := range v {
				if nested, ok := item.(map[string]any); ok {
					redactSensitiveFields(nested)
				}
			}
		}
	}
}
