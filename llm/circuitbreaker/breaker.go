package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/SkastVnT/AI-Assistant-sub002/types"

	"go.uber.org/zap"
)

// State 熔断器状态
type State int

const (
	// StateClosed 关闭状态（正常工作）
	StateClosed State = iota
	// StateOpen 打开状态（熔断中）
	StateOpen
	// StateHalfOpen 半开状态（允许一次试探调用）
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config 熔断器配置
type Config struct {
	// Threshold 连续失败次数阈值（达到即熔断）
	Threshold int `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`

	// RecoveryTimeout 熔断后等待多久允许试探调用（Open -> HalfOpen）
	RecoveryTimeout time.Duration `yaml:"recovery_timeout" env:"RECOVERY_TIMEOUT"`

	// OnStateChange 状态变更回调，在锁外同步调用
	OnStateChange func(name string, from, to State) `yaml:"-"`

	// Now 时钟，测试时注入
	Now func() time.Time `yaml:"-"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Threshold:       5,
		RecoveryTimeout: 60 * time.Second,
	}
}

// ErrCircuitOpen matches, via errors.Is, every rejection produced by a breaker.
var ErrCircuitOpen = types.NewError(types.ErrCircuitOpen, "circuit breaker is open")

// CircuitBreaker 熔断器接口
type CircuitBreaker interface {
	// Call 执行调用，熔断打开时直接返回 circuit-open 错误且不调用 fn
	Call(ctx context.Context, fn func(ctx context.Context) error) error

	// State 获取当前状态（不触发惰性迁移）
	State() State

	// Snapshot 返回当前计数与状态
	Snapshot() Snapshot

	// Reset 重置熔断器（手动恢复）
	Reset()

	// Begin 占用一次调用名额（半开时即试探名额），结果由 done 上报。
	// 用于结果晚于函数返回的调用，例如流式响应；done 多次调用只有首次生效。
	Begin() (done func(err error), err error)
}

// Snapshot is a point-in-time view of one breaker.
type Snapshot struct {
	Name         string    `json:"name"`
	State        string    `json:"state"`
	FailureCount int       `json:"failure_count"`
	LastFailure  time.Time `json:"last_failure,omitempty"`
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	outcomeIgnored
)

type transition struct {
	from, to State
}

// breaker 熔断器实现
type breaker struct {
	name   string
	config Config
	logger *zap.Logger

	mu            sync.Mutex
	state         State
	failureCount  int       // 连续失败次数
	lastFailure   time.Time // 最后失败时间
	trialInFlight bool      // 半开状态下是否已有试探调用
}

// NewCircuitBreaker 创建熔断器
func NewCircuitBreaker(name string, config *Config, logger *zap.Logger) CircuitBreaker {
	return newBreaker(name, config, logger)
}

func newBreaker(name string, config *Config, logger *zap.Logger) *breaker {
	cfg := normalize(config)
	if logger == nil {
		logger = zap.NewNop()
	}
	return &breaker{
		name:   name,
		config: cfg,
		logger: logger.With(zap.String("component", "circuit_breaker"), zap.String("provider", name)),
		state:  StateClosed,
	}
}

func normalize(config *Config) Config {
	var cfg Config
	if config != nil {
		cfg = *config
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 60 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return cfg
}

// Call 实现 CircuitBreaker.Call
func (b *breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	done, err := b.Begin()
	if err != nil {
		return err
	}

	// fn 发生 panic 时计为失败并释放半开试探名额，再继续向上抛出
	returned := false
	defer func() {
		if !returned {
			if r := recover(); r != nil {
				b.logger.Error("call panicked, counted as failure", zap.Any("panic", r))
				done(fmt.Errorf("panic: %v", r))
				panic(r)
			}
		}
	}()

	err = fn(ctx)
	returned = true
	done(err)
	return err
}

// Begin 实现 CircuitBreaker.Begin
func (b *breaker) Begin() (func(err error), error) {
	if err := b.beforeCall(); err != nil {
		return nil, err
	}
	var once sync.Once
	return func(err error) {
		once.Do(func() { b.afterCall(classify(err)) })
	}, nil
}

// classify decides whether an error counts against the provider. Terminal
// errors count too: a rejected credential is still an unhealthy path.
// Only cancellation by the caller is ignored.
func classify(err error) outcome {
	if err == nil {
		return outcomeSuccess
	}
	if errors.Is(err, context.Canceled) || types.GetErrorCode(err) == types.ErrCanceled {
		return outcomeIgnored
	}
	return outcomeFailure
}

// beforeCall 调用前检查，Open -> HalfOpen 的迁移在这里惰性完成
func (b *breaker) beforeCall() error {
	b.mu.Lock()
	var changed *transition
	defer func() {
		b.mu.Unlock()
		b.notify(changed)
	}()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if b.config.Now().Sub(b.lastFailure) >= b.config.RecoveryTimeout {
			changed = b.setState(StateHalfOpen)
			b.trialInFlight = true
			b.logger.Info("circuit half-open, allowing trial call")
			return nil
		}
		return b.rejection()

	case StateHalfOpen:
		if b.trialInFlight {
			return b.rejection()
		}
		b.trialInFlight = true
		return nil
	}
	return b.rejection()
}

func (b *breaker) rejection() error {
	return types.NewError(types.ErrCircuitOpen, "circuit breaker is open").WithProvider(b.name)
}

// afterCall 调用后处理
func (b *breaker) afterCall(o outcome) {
	b.mu.Lock()
	var changed *transition
	switch o {
	case outcomeSuccess:
		changed = b.onSuccess()
	case outcomeFailure:
		changed = b.onFailure()
	case outcomeIgnored:
		if b.state == StateHalfOpen {
			b.trialInFlight = false
		}
	}
	b.mu.Unlock()
	b.notify(changed)
}

// onSuccess 处理成功调用
func (b *breaker) onSuccess() *transition {
	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		b.logger.Info("circuit closed after successful trial")
		b.failureCount = 0
		b.trialInFlight = false
		return b.setState(StateClosed)
	}
	return nil
}

// onFailure 处理失败调用
func (b *breaker) onFailure() *transition {
	b.failureCount++
	b.lastFailure = b.config.Now()

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.config.Threshold {
			b.logger.Warn("circuit opened",
				zap.Int("failure_count", b.failureCount),
				zap.Int("threshold", b.config.Threshold),
			)
			return b.setState(StateOpen)
		}
	case StateHalfOpen:
		b.logger.Warn("trial call failed, circuit reopened")
		b.trialInFlight = false
		return b.setState(StateOpen)
	}
	return nil
}

// setState must be called with mu held.
func (b *breaker) setState(newState State) *transition {
	old := b.state
	b.state = newState
	if old == newState {
		return nil
	}
	return &transition{from: old, to: newState}
}

func (b *breaker) notify(t *transition) {
	if t != nil && b.config.OnStateChange != nil {
		b.config.OnStateChange(b.name, t.from, t.to)
	}
}

// State 实现 CircuitBreaker.State
func (b *breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot 实现 CircuitBreaker.Snapshot
func (b *breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:         b.name,
		State:        b.state.String(),
		FailureCount: b.failureCount,
		LastFailure:  b.lastFailure,
	}
}

// Reset 实现 CircuitBreaker.Reset
func (b *breaker) Reset() {
	b.mu.Lock()
	changed := b.setState(StateClosed)
	b.failureCount = 0
	b.trialInFlight = false
	b.mu.Unlock()

	b.logger.Info("circuit breaker reset")
	b.notify(changed)
}
