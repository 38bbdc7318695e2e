package analysis

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/counselflow/safety"
	"github.com/BaSui01/counselflow/types"
)

// SafetyClassifier 分析器依赖的安全分类能力
type SafetyClassifier interface {
	Evaluate(ctx context.Context, question, questionContext string) safety.Result
}

// DomainRule 领域关键词规则，按顺序匹配
type DomainRule struct {
	Domain   types.Domain `yaml:"domain" json:"domain"`
	Keywords []string     `yaml:"keywords" json:"keywords"`
}

// Vocabulary 分析器使用的只读词表
type Vocabulary struct {
	Domains      []DomainRule `yaml:"domains" json:"domains"`
	Connectors   []string     `yaml:"connectors" json:"connectors"`
	Relationship []string     `yaml:"relationship" json:"relationship"`
	// LongQuestionWords 超过该词数视为复合问题
	LongQuestionWords int `yaml:"long_question_words" json:"long_question_words"`
}

// DefaultVocabulary 返回默认词表
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Domains: []DomainRule{
			{Domain: types.DomainMedical, Keywords: []string{"약", "처방", "복용", "약물", "증상", "통증", "진단", "질환", "혈압"}},
			{Domain: types.DomainNutrition, Keywords: []string{"식단", "음식", "칼로리", "식사", "영양", "탄수화물", "단백질", "당류"}},
			{Domain: types.DomainLifestyle, Keywords: []string{"운동", "활동", "걷기", "조깅", "근력", "유산소", "음주", "흡연", "스트레스", "수면", "생활"}},
		},
		Connectors:        []string{"그리고", "또한", "또", "동시에", "뿐만", "그러면", "만약", "및", "하지만"},
		Relationship:      []string{"관계", "영향", "연관", "비교", "차이", "상관", "함께", "동시에", "같이"},
		LongQuestionWords: 30,
	}
}

// Config 分析器配置
type Config struct {
	// Budget 分析总预算，包含安全分类
	Budget     time.Duration
	Vocabulary Vocabulary
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Budget:     safety.DefaultLatencyBudget,
		Vocabulary: DefaultVocabulary(),
	}
}

// Analyzer 问题分析器：领域、复杂度、安全等级
type Analyzer struct {
	budget       time.Duration
	domains      []DomainRule
	connectors   []string // 按长度降序，长词优先消费
	relationship []string
	longWords    int
	classifier   SafetyClassifier
	logger       *zap.Logger
}

// NewAnalyzer 创建分析器
func NewAnalyzer(cfg Config, classifier SafetyClassifier, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Budget <= 0 {
		cfg.Budget = safety.DefaultLatencyBudget
	}
	if classifier == nil {
		classifier = safety.NewClassifier(nil, logger, safety.WithBudget(cfg.Budget))
	}
	vocab := cfg.Vocabulary
	if len(vocab.Domains) == 0 && len(vocab.Connectors) == 0 {
		vocab = DefaultVocabulary()
	}
	if vocab.LongQuestionWords <= 0 {
		vocab.LongQuestionWords = 30
	}

	connectors := append([]string(nil), vocab.Connectors...)
	sort.SliceStable(connectors, func(i, j int) bool {
		return len(connectors[i]) > len(connectors[j])
	})

	return &Analyzer{
		budget:       cfg.Budget,
		domains:      vocab.Domains,
		connectors:   connectors,
		relationship: vocab.Relationship,
		longWords:    vocab.LongQuestionWords,
		classifier:   classifier,
		logger:       logger.With(zap.String("component", "question_analyzer")),
	}
}

// Budget returns the shared analysis budget.
func (a *Analyzer) Budget() time.Duration { return a.budget }

// Analyze 分析问题。启发式出错时复杂度降级为 complex。
func (a *Analyzer) Analyze(ctx context.Context, q types.Question, mode types.Mode) types.Analysis {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, a.budget)
	defer cancel()

	text := strings.TrimSpace(q.Text)
	var reasons []string

	domain, domainReason := a.detectDomain(text)
	reasons = append(reasons, domainReason)

	complexity, relational, complexityReasons, err := a.safeComplexity(ctx, text)
	if err != nil {
		a.logger.Warn("complexity heuristic failed, assuming complex",
			zap.Error(err), zap.String("mode", string(mode.OrDefault())))
		complexity = types.ComplexityComplex
		reasons = append(reasons, "Complexity heuristic failed; assumed complex")
	} else {
		reasons = append(reasons, complexityReasons...)
	}

	sr := a.classifier.Evaluate(ctx, q.Text, q.Context)
	reasons = append(reasons, sr.Reasons...)

	return types.Analysis{
		Domain:     domain,
		Complexity: complexity,
		Safety:     sr.Level,
		Reasons:    reasons,
		LatencyMS:  float64(time.Since(start).Microseconds()) / 1000,
		Relational: relational,
	}
}

func (a *Analyzer) detectDomain(text string) (types.Domain, string) {
	for _, rule := range a.domains {
		for _, kw := range rule.Keywords {
			if kw != "" && strings.Contains(text, kw) {
				return rule.Domain, fmt.Sprintf("Domain keyword match: %s (%s)", rule.Domain, kw)
			}
		}
	}
	return types.DomainOther, "No domain keyword; defaulted to other"
}

// safeComplexity 将启发式中的 panic 或预算耗尽转换为错误
func (a *Analyzer) safeComplexity(ctx context.Context, text string) (c types.Complexity, relational bool, reasons []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("complexity heuristic panic: %v", r)
		}
	}()
	if ctx.Err() != nil {
		return "", false, nil, fmt.Errorf("analysis budget exhausted: %w", ctx.Err())
	}
	c, relational, reasons = a.estimateComplexity(text)
	return c, relational, reasons, nil
}

// estimateComplexity 基于结构信号判定复杂度
func (a *Analyzer) estimateComplexity(text string) (types.Complexity, bool, []string) {
	var reasons []string

	relational := false
	for _, kw := range a.relationship {
		if kw != "" && strings.Contains(text, kw) {
			relational = true
			reasons = append(reasons, fmt.Sprintf("Relationship keyword: %s", kw))
			break
		}
	}

	hits, rest := a.consumeConnectors(text)
	clauses := countClauses(rest)
	questionMarks := strings.Count(text, "?") + strings.Count(text, "？")
	words := len(strings.Fields(text))

	switch {
	case questionMarks >= 2:
		reasons = append(reasons, "Multiple questions detected")
		return types.ComplexityComplex, relational, reasons
	case len(hits) >= 2 && clauses >= 2:
		reasons = append(reasons, fmt.Sprintf("Multiple connectors across %d clauses: %s", clauses, strings.Join(hits, ", ")))
		return types.ComplexityComplex, relational, reasons
	case words > a.longWords:
		reasons = append(reasons, "Long question assumes compound context")
		return types.ComplexityComplex, relational, reasons
	case len(hits) > 0 || relational:
		if len(hits) > 0 {
			reasons = append(reasons, fmt.Sprintf("Detected multi-hop connector: %s", strings.Join(hits, ", ")))
		}
		return types.ComplexityMultiHop, relational, reasons
	default:
		reasons = append(reasons, "Classified as simple question")
		return types.ComplexitySimple, relational, reasons
	}
}

// consumeConnectors returns the distinct connectors found and the text with
// each occurrence replaced by a clause break. Longer connectors are consumed
// first so "또한" is not also counted as "또".
func (a *Analyzer) consumeConnectors(text string) ([]string, string) {
	var hits []string
	for _, c := range a.connectors {
		if c == "" || !strings.Contains(text, c) {
			continue
		}
		hits = append(hits, c)
		text = strings.ReplaceAll(text, c, "|")
	}
	return hits, text
}

func countClauses(text string) int {
	n := 0
	for _, part := range strings.FieldsFunc(text, func(r rune) bool {
		switch r {
		case '|', '?', '？', '.', '!', ',', ';':
			return true
		}
		return false
	}) {
		if strings.TrimSpace(part) != "" {
			n++
		}
	}
	return n
}
