package llm

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/counselflow/internal/resilience"
	"github.com/BaSui01/counselflow/types"
)

// Generator 文本生成能力：子问题拆分、查询改写与答案合成都只依赖它
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc 函数适配器
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Provider 带名称与健康检查的生成器
type Provider interface {
	Generator
	Name() string
	HealthCheck(ctx context.Context) error
}

// Resilient 为生成器叠加熔断与重试，空响应视为错误
type Resilient struct {
	inner   Generator
	policy  resilience.RetryPolicy
	breaker *resilience.Breaker
	logger  *zap.Logger
}

// NewResilient 包装生成器
func NewResilient(inner Generator, policy resilience.RetryPolicy, breaker *resilience.Breaker, logger *zap.Logger) *Resilient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if breaker == nil {
		breaker = resilience.NewBreaker("llm", resilience.DefaultBreakerConfig(), logger)
	}
	return &Resilient{
		inner:   inner,
		policy:  policy,
		breaker: breaker,
		logger:  logger.With(zap.String("component", "llm")),
	}
}

// Generate implements Generator.
func (r *Resilient) Generate(ctx context.Context, prompt string) (string, error) {
	return resilience.Execute(ctx, r.breaker, func(ctx context.Context) (string, error) {
		return resilience.Retry(ctx, r.policy, r.logger, func(ctx context.Context) (string, error) {
			out, err := r.inner.Generate(ctx, prompt)
			if err != nil {
				return "", err
			}
			if strings.TrimSpace(out) == "" {
				return "", ErrEmptyCompletion
			}
			return out, nil
		})
	})
}

// ErrEmptyCompletion 模型返回空内容
var ErrEmptyCompletion = types.NewError(types.ErrUpstreamError, "empty completion")
