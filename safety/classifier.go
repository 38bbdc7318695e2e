package safety

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/counselflow/types"
)

// DefaultLatencyBudget 安全分类默认时延预算
const DefaultLatencyBudget = 2 * time.Second

// Result 分类结果
type Result struct {
	Level   types.SafetyLevel
	Reasons []string
	Elapsed time.Duration
	// BudgetExceeded 为 true 时 Level 是尽力而为的结果
	BudgetExceeded bool
}

// Classifier 本地确定性安全分类器。
// 只做关键词/正则匹配，不发起任何网络调用。
type Classifier struct {
	tables *KeywordTables
	budget time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// ClassifierOption 分类器选项
type ClassifierOption func(*Classifier)

// WithBudget 设置时延预算
func WithBudget(d time.Duration) ClassifierOption {
	return func(c *Classifier) {
		if d > 0 {
			c.budget = d
		}
	}
}

// WithClock 替换时钟，测试使用
func WithClock(now func() time.Time) ClassifierOption {
	return func(c *Classifier) { c.now = now }
}

// NewClassifier 创建分类器
func NewClassifier(tables *KeywordTables, logger *zap.Logger, opts ...ClassifierOption) *Classifier {
	if tables == nil {
		tables = DefaultKeywordTables()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Classifier{
		tables: tables,
		budget: DefaultLatencyBudget,
		now:    time.Now,
		logger: logger.With(zap.String("component", "safety_classifier")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Budget returns the configured latency budget.
func (c *Classifier) Budget() time.Duration { return c.budget }

// Classify 返回安全等级和原因
func (c *Classifier) Classify(ctx context.Context, question, questionContext string) (types.SafetyLevel, []string) {
	r := c.Evaluate(ctx, question, questionContext)
	return r.Level, r.Reasons
}

// Evaluate 按 ESCALATE -> CAUTION -> CLEAR 的严格优先级评估。
// 预算耗尽时返回已得出的结果，未得出结论时默认 caution。
func (c *Classifier) Evaluate(ctx context.Context, question, questionContext string) Result {
	start := c.now()
	text := strings.ToLower(strings.TrimSpace(question + " " + questionContext))

	res := Result{Level: types.SafetyCaution}
	finish := func() Result {
		res.Elapsed = c.now().Sub(start)
		if res.BudgetExceeded {
			c.logger.Warn("safety classification exceeded latency budget",
				zap.Duration("elapsed", res.Elapsed),
				zap.Duration("budget", c.budget),
				zap.String("level", res.Level.String()))
		}
		return res
	}

	// escalate 表始终评估，超预算也不能跳过
	if kw, ok := c.tables.matchEscalate(text); ok {
		res.Level = types.SafetyEscalate
		res.Reasons = append(res.Reasons, fmt.Sprintf("Escalate keyword hit: %s", kw))
		return finish()
	}

	if c.exhausted(ctx, start) {
		res.BudgetExceeded = true
		res.Reasons = append(res.Reasons, "Latency budget exceeded after escalate check; defaulted to caution")
		return finish()
	}

	if kw, ok := c.tables.matchCaution(text); ok {
		res.Reasons = append(res.Reasons, fmt.Sprintf("Caution keyword hit: %s", kw))
		return finish()
	}

	if c.exhausted(ctx, start) {
		res.BudgetExceeded = true
		res.Reasons = append(res.Reasons, "Latency budget exceeded after caution check; defaulted to caution")
		return finish()
	}

	res.Level = types.SafetyClear
	res.Reasons = append(res.Reasons, "No safety flags detected")
	return finish()
}

func (c *Classifier) exhausted(ctx context.Context, start time.Time) bool {
	if ctx.Err() != nil {
		return true
	}
	return c.now().Sub(start) > c.budget
}
