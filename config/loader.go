// =============================================================================
// 📦 chatcore 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("CHATCORE").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/SkastVnT/AI-Assistant-sub002/llm"
	"github.com/SkastVnT/AI-Assistant-sub002/llm/cache"
	"github.com/SkastVnT/AI-Assistant-sub002/llm/circuitbreaker"
	llmctx "github.com/SkastVnT/AI-Assistant-sub002/llm/context"
	"github.com/SkastVnT/AI-Assistant-sub002/llm/fallback"
	"github.com/SkastVnT/AI-Assistant-sub002/llm/retry"
	"github.com/SkastVnT/AI-Assistant-sub002/llm/tokenizer"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 chatcore 的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" json:"server" env:"SERVER"`

	// Log 日志配置
	Log LogConfig `yaml:"log" json:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry" env:"TELEMETRY"`

	// Redis 缓存配置
	Redis RedisConfig `yaml:"redis" json:"redis" env:"REDIS"`

	// Cache 响应缓存配置
	Cache CacheConfig `yaml:"cache" json:"cache" env:"CACHE"`

	// Database 数据库配置（模型绑定存储）
	Database DatabaseConfig `yaml:"database" json:"database" env:"DATABASE"`

	// Resilience 重试与熔断
	Resilience ResilienceConfig `yaml:"resilience" json:"resilience" env:"RESILIENCE"`

	// Context 上下文窗口
	Context llmctx.Config `yaml:"context" json:"context" env:"CONTEXT"`

	// LLM 模型绑定与降级表
	LLM LLMConfig `yaml:"llm" json:"llm" env:"LLM"`

	// Prompts 系统提示词模板
	Prompts PromptsConfig `yaml:"prompts" json:"prompts" env:"PROMPTS"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" json:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" json:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时，流式接口不受此限制
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// API Key 列表，为空时不启用 API Key 认证
	APIKeys []string `yaml:"api_keys" json:"api_keys" env:"API_KEYS"`
	// 是否允许通过 query 参数传递 API Key（websocket 客户端无法设置 header）
	AllowQueryAPIKey bool `yaml:"allow_query_api_key" json:"allow_query_api_key" env:"ALLOW_QUERY_API_KEY"`
	// JWT HMAC 密钥，为空时不启用 JWT 认证
	JWTSecret string `yaml:"jwt_secret" json:"jwt_secret" env:"JWT_SECRET"`
	// JWT 签发者校验，可选
	JWTIssuer string `yaml:"jwt_issuer" json:"jwt_issuer" env:"JWT_ISSUER"`
	// 每客户端每秒请求数
	RateLimitRPS int `yaml:"rate_limit_rps" json:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 令牌桶容量
	RateLimitBurst int `yaml:"rate_limit_burst" json:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// CORS 允许的来源
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" json:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" json:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" json:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" json:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" json:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" json:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" json:"enabled" env:"ENABLED"`
	// OTLP gRPC 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" json:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 是否使用明文连接
	Insecure bool `yaml:"insecure" json:"insecure" env:"INSECURE"`
	// 服务名称
	ServiceName string `yaml:"service_name" json:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" json:"sample_rate" env:"SAMPLE_RATE"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 是否启用，关闭时缓存只使用本地 LRU
	Enabled bool `yaml:"enabled" json:"enabled" env:"ENABLED"`
	// 地址
	Addr string `yaml:"addr" json:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" json:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" json:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" json:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" json:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// 是否启用 TLS
	TLS bool `yaml:"tls" json:"tls" env:"TLS"`
}

// CacheConfig 响应缓存配置
type CacheConfig struct {
	// 是否启用响应缓存
	Enabled bool `yaml:"enabled" json:"enabled" env:"ENABLED"`

	cache.Config `yaml:",inline" json:"tiers"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 是否启用 DB 模型绑定
	Enabled bool `yaml:"enabled" json:"enabled" env:"ENABLED"`
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" json:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" json:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" json:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" json:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" json:"password" env:"PASSWORD"`
	// 数据库名，sqlite 时为文件路径
	Name string `yaml:"name" json:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" json:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" json:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" json:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// ResilienceConfig 重试与熔断配置
type ResilienceConfig struct {
	Retry   RetryConfig   `yaml:"retry" json:"retry" env:"RETRY"`
	Breaker BreakerConfig `yaml:"breaker" json:"breaker" env:"BREAKER"`
}

// RetryConfig 重试配置
type RetryConfig struct {
	// 总尝试次数（含首次）
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts" env:"MAX_ATTEMPTS"`
	// 首次重试前的延迟
	BaseDelay time.Duration `yaml:"base_delay" json:"base_delay" env:"BASE_DELAY"`
	// 延迟上限
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay" env:"MAX_DELAY"`
	// 指数退避倍数
	Multiplier float64 `yaml:"multiplier" json:"multiplier" env:"MULTIPLIER"`
	// 调度模型: cooperative, blocking
	Sleeper string `yaml:"sleeper" json:"sleeper" env:"SLEEPER"`
}

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	// 连续失败次数阈值
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold" env:"FAILURE_THRESHOLD"`
	// Open -> HalfOpen 等待时间
	RecoveryTimeout time.Duration `yaml:"recovery_timeout" json:"recovery_timeout" env:"RECOVERY_TIMEOUT"`
}

// LLMConfig 模型绑定配置
type LLMConfig struct {
	// 默认模型
	DefaultModel string `yaml:"default_model" json:"default_model" env:"DEFAULT_MODEL"`
	// 模型绑定；api_key 支持 ${ENV} 引用
	Models []llm.ModelConfig `yaml:"models" json:"models" env:"-"`
	// 显式降级表：主模型 -> 有序备用模型
	Fallbacks map[string][]string `yaml:"fallbacks" json:"fallbacks" env:"-"`
	// Token 估算器: chars, mixed, tiktoken
	Tokenizer string `yaml:"tokenizer" json:"tokenizer" env:"TOKENIZER"`
	// chars 估算器的字符/token 比例
	CharsPerToken float64 `yaml:"chars_per_token" json:"chars_per_token" env:"CHARS_PER_TOKEN"`
}

// PromptsConfig 系统提示词模板
type PromptsConfig struct {
	// 按上下文标签选择模板，"default" 为兜底
	Templates map[string]string `yaml:"templates" json:"templates" env:"-"`
}

// =============================================================================
// 🔁 转换为运行时配置
// =============================================================================

// Policy 转换为 retry.RetryPolicy
func (r RetryConfig) Policy() *retry.RetryPolicy {
	return &retry.RetryPolicy{
		MaxAttempts: r.MaxAttempts,
		BaseDelay:   r.BaseDelay,
		MaxDelay:    r.MaxDelay,
		Multiplier:  r.Multiplier,
	}
}

// SleeperImpl 返回配置的调度模型
func (r RetryConfig) SleeperImpl() retry.Sleeper {
	return retry.ByName(r.Sleeper)
}

// Runtime 转换为 circuitbreaker.Config；回调由调用方填充
func (b BreakerConfig) Runtime() *circuitbreaker.Config {
	return &circuitbreaker.Config{
		Threshold:       b.FailureThreshold,
		RecoveryTimeout: b.RecoveryTimeout,
	}
}

// FallbackTable 合并显式降级表与各绑定声明的 fallback
func (l LLMConfig) FallbackTable() fallback.Table {
	return fallback.BuildTable(l.Models, l.Fallbacks)
}

// NewTokenizer 按配置构建 token 估算器
func (l LLMConfig) NewTokenizer() (tokenizer.Tokenizer, error) {
	return tokenizer.New(l.Tokenizer, l.CharsPerToken, "")
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "CHATCORE",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量，之后执行 Validate 与自定义验证器
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	expandCredentials(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// 嵌入结构体沿用外层前缀
		if fieldType.Anonymous && field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, prefix); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue, ok := os.LookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			out := parts[:0]
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			field.Set(reflect.ValueOf(out))
		}
	}

	return nil
}

// expandCredentials 展开模型 api_key 中的 ${ENV} 引用。
// 变量未设置时展开为空串，对应绑定随后会因缺少凭证被跳过。
func expandCredentials(cfg *Config) {
	for i := range cfg.LLM.Models {
		if key := cfg.LLM.Models[i].APIKey; strings.Contains(key, "$") {
			cfg.LLM.Models[i].APIKey = os.ExpandEnv(key)
		}
	}
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	// 服务器
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}
	if c.Server.RateLimitRPS < 0 || c.Server.RateLimitBurst < 0 {
		errs = append(errs, "rate limit values must not be negative")
	}

	// 上下文窗口
	if c.Context.TargetUsage <= 0 || c.Context.TargetUsage > 1 {
		errs = append(errs, "context.target_usage must be in (0, 1]")
	}
	if c.Context.Reserve < 0 {
		errs = append(errs, "context.reserve_tokens must not be negative")
	}

	// 重试与熔断
	r := c.Resilience.Retry
	if r.MaxAttempts < 1 {
		errs = append(errs, "resilience.retry.max_attempts must be at least 1")
	}
	if r.BaseDelay < 0 || r.MaxDelay < r.BaseDelay {
		errs = append(errs, "resilience.retry delays must satisfy 0 <= base_delay <= max_delay")
	}
	if r.Multiplier < 1 {
		errs = append(errs, "resilience.retry.multiplier must be at least 1")
	}
	if r.Sleeper != "" && r.Sleeper != "cooperative" && r.Sleeper != "blocking" {
		errs = append(errs, fmt.Sprintf("unknown retry sleeper %q", r.Sleeper))
	}
	if c.Resilience.Breaker.FailureThreshold < 1 {
		errs = append(errs, "resilience.breaker.failure_threshold must be at least 1")
	}
	if c.Resilience.Breaker.RecoveryTimeout <= 0 {
		errs = append(errs, "resilience.breaker.recovery_timeout must be positive")
	}

	// 模型绑定
	if c.LLM.CharsPerToken < 0 {
		errs = append(errs, "llm.chars_per_token must not be negative")
	}
	names := make(map[string]bool, len(c.LLM.Models))
	for _, m := range c.LLM.Models {
		if err := m.Validate(); err != nil {
			errs = append(errs, err.Error())
			continue
		}
		if names[m.Name] {
			errs = append(errs, fmt.Sprintf("duplicate model name %q", m.Name))
		}
		names[m.Name] = true
	}
	if c.LLM.DefaultModel != "" && len(c.LLM.Models) > 0 && !names[c.LLM.DefaultModel] {
		errs = append(errs, fmt.Sprintf("default model %q is not configured", c.LLM.DefaultModel))
	}

	table := c.LLM.FallbackTable()
	for primary, alternates := range table {
		if !names[primary] {
			errs = append(errs, fmt.Sprintf("fallback source %q is not configured", primary))
		}
		for _, alt := range alternates {
			if !names[alt] {
				errs = append(errs, fmt.Sprintf("fallback target %q of %q is not configured", alt, primary))
			}
		}
	}
	if err := fallback.ValidateTable(table); err != nil {
		errs = append(errs, err.Error())
	}

	// 数据库
	if c.Database.Enabled {
		switch c.Database.Driver {
		case "postgres", "mysql", "sqlite":
		default:
			errs = append(errs, fmt.Sprintf("unsupported database driver %q", c.Database.Driver))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
