package tokenizer

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// Counter 统一的 token 计数接口
type Counter interface {
	CountTokens(text string) (int, error)
	Name() string
}

// Fallback 优先使用精确计数器，出错时退回估算并记录告警
type Fallback struct {
	primary  Counter
	estimate *Estimator
	degraded atomic.Bool
	logger   *zap.Logger
}

// NewFallback wraps primary; a nil primary counts by estimation only.
func NewFallback(primary Counter, logger *zap.Logger) *Fallback {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fallback{
		primary:  primary,
		estimate: NewEstimator(),
		logger:   logger.With(zap.String("component", "tokenizer")),
	}
}

// ForModel returns a tiktoken counter for model with estimator fallback.
func ForModel(model string, logger *zap.Logger) *Fallback {
	return NewFallback(NewTiktoken(model), logger)
}

// Count never fails.
func (f *Fallback) Count(text string) int {
	if f.primary != nil && !f.degraded.Load() {
		n, err := f.primary.CountTokens(text)
		if err == nil {
			return n
		}
		if f.degraded.CompareAndSwap(false, true) {
			f.logger.Warn("token count failed, falling back to estimate",
				zap.String("counter", f.primary.Name()),
				zap.Error(err))
		}
	}
	n, _ := f.estimate.CountTokens(text)
	return n
}
