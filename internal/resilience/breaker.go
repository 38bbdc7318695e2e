package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/counselflow/types"
)

// State 熔断器状态
type State int

const (
	StateClosed State = iota
	StateOpen
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

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	// Threshold 连续失败次数阈值
	Threshold int `yaml:"threshold" json:"threshold"`
	// ResetTimeout Open -> HalfOpen 的等待时间
	ResetTimeout time.Duration `yaml:"reset_timeout" json:"reset_timeout"`
	// HalfOpenMaxCalls 半开状态允许的试探请求数
	HalfOpenMaxCalls int `yaml:"half_open_max_calls" json:"half_open_max_calls"`
}

// DefaultBreakerConfig 返回默认配置
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Threshold:        5,
		ResetTimeout:     30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// ErrCircuitOpen 熔断器打开时直接拒绝调用
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Breaker 按名称区分的熔断器，保护单个下游（向量库、图谱、LLM）
type Breaker struct {
	name   string
	cfg    BreakerConfig
	now    func() time.Time
	logger *zap.Logger

	mu            sync.Mutex
	state         State
	failures      int
	openedAt      time.Time
	halfOpenCalls int

	onStateChange func(name string, from, to State)
}

// NewBreaker 创建熔断器
func NewBreaker(name string, cfg BreakerConfig, logger *zap.Logger) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		name:   name,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With(zap.String("component", "breaker"), zap.String("breaker", name)),
		state:  StateClosed,
	}
}

// OnStateChange 注册状态变更回调（同步调用，勿阻塞）
func (b *Breaker) OnStateChange(fn func(name string, from, to State)) {
	b.mu.Lock()
	b.onStateChange = fn
	b.mu.Unlock()
}

// Name returns the protected dependency name.
func (b *Breaker) Name() string { return b.name }

// State 当前状态
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute 在熔断器保护下执行 fn。
// 调用方 context 取消和客户端错误不计入失败。
func Execute[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.before(); err != nil {
		return zero, err
	}
	result, err := fn(ctx)
	b.after(ctx, err)
	return result, err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return types.NewSourceUnavailableError(b.name, ErrCircuitOpen)
		}
		b.transition(StateHalfOpen)
		b.halfOpenCalls = 1
		return nil
	case StateHalfOpen:
		if b.halfOpenCalls >= b.cfg.HalfOpenMaxCalls {
			return types.NewSourceUnavailableError(b.name, ErrCircuitOpen)
		}
		b.halfOpenCalls++
		return nil
	default:
		return nil
	}
}

func (b *Breaker) after(ctx context.Context, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil || isClientError(err) || ctx.Err() != nil {
		if err == nil && b.state == StateHalfOpen {
			b.logger.Info("breaker recovered")
			b.transition(StateClosed)
		}
		if err == nil {
			b.failures = 0
		}
		return
	}

	b.failures++
	switch b.state {
	case StateClosed:
		if b.failures >= b.cfg.Threshold {
			b.logger.Warn("breaker opened", zap.Int("failures", b.failures))
			b.openedAt = b.now()
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.logger.Warn("breaker probe failed, reopening")
		b.openedAt = b.now()
		b.transition(StateOpen)
	}
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if to == StateClosed {
		b.failures = 0
		b.halfOpenCalls = 0
	}
	if b.onStateChange != nil && from != to {
		b.onStateChange(b.name, from, to)
	}
}

// Reset 手动恢复
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed)
}

func isClientError(err error) bool {
	switch types.GetErrorCode(err) {
	case types.ErrInvalidRequest, types.ErrUnauthorized:
		return true
	}
	return false
}
