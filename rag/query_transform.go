package rag

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/counselflow/llm"
	"github.com/BaSui01/counselflow/types"
)

// 子问题数量上下限
const (
	MinSubQuestions = 2
	MaxSubQuestions = 4
)

// QueryTransformConfig 查询变换配置
type QueryTransformConfig struct {
	// MaxSubQuestions is clamped to [MinSubQuestions, MaxSubQuestions].
	MaxSubQuestions int  `yaml:"max_sub_questions" json:"max_sub_questions"`
	EnableRewrite   bool `yaml:"enable_rewrite" json:"enable_rewrite"`
	// SplitTokens are tried in order by the heuristic splitter.
	SplitTokens []string `yaml:"split_tokens" json:"split_tokens"`
	// RelationshipKeywords and Connectors route a sub-question to graph retrieval.
	RelationshipKeywords []string `yaml:"relationship_keywords" json:"relationship_keywords"`
	Connectors           []string `yaml:"connectors" json:"connectors"`
}

// DefaultQueryTransformConfig returns defaults.
func DefaultQueryTransformConfig() QueryTransformConfig {
	return QueryTransformConfig{
		MaxSubQuestions: 3,
		EnableRewrite:   true,
		SplitTokens:     []string{"?", "？", "그리고", "및", "또"},
		RelationshipKeywords: []string{
			"관계", "영향", "연관", "비교", "차이", "상관", "같이", "함께", "동시에", "네트워크", "연결",
		},
		Connectors: []string{"그리고", "및", "또", "동시에", "하지만"},
	}
}

// QueryTransformer 子问题分解与检索查询改写
type QueryTransformer struct {
	config    QueryTransformConfig
	generator llm.Generator
	logger    *zap.Logger
}

// NewQueryTransformer creates a transformer; generator may be nil (heuristics only).
func NewQueryTransformer(config QueryTransformConfig, generator llm.Generator, logger *zap.Logger) *QueryTransformer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxSubQuestions < MinSubQuestions {
		config.MaxSubQuestions = MinSubQuestions
	}
	if config.MaxSubQuestions > MaxSubQuestions {
		config.MaxSubQuestions = MaxSubQuestions
	}
	if len(config.SplitTokens) == 0 {
		config.SplitTokens = DefaultQueryTransformConfig().SplitTokens
	}
	return &QueryTransformer{
		config:    config,
		generator: generator,
		logger:    logger.With(zap.String("component", "query_transformer")),
	}
}

var listPrefix = regexp.MustCompile(`^(?:\d+[\.\)]|[-•*])\s*`)

// Decompose 将复杂问题拆成 2~MaxSubQuestions 个可独立检索的子问题。
// LLM 优先，失败或输出不足时退回启发式切分，结果至少两个。
func (t *QueryTransformer) Decompose(ctx context.Context, q types.Question) []types.SubQuestion {
	text := strings.TrimSpace(q.Text)

	var candidates []string
	if t.generator != nil {
		prompt := fmt.Sprintf("복잡한 상담 질문을 %d~%d개의 하위 질문으로 분해하세요.\n"+
			"- 각 하위 질문은 독립적으로 검색 가능해야 합니다.\n"+
			"- 운동/식단/생활습관과 관련된 핵심 키워드를 유지하세요.\n"+
			"질문: %s\n하위 질문 목록 (번호 없이 한 줄에 하나 씩):", MinSubQuestions, t.config.MaxSubQuestions, text)
		resp, err := t.generator.Generate(ctx, prompt)
		if err != nil {
			t.logger.Warn("llm decomposition failed, using heuristic split", zap.Error(err))
		} else {
			candidates = parseLines(resp)
		}
	}
	if len(candidates) < MinSubQuestions {
		candidates = t.splitHeuristic(text)
	}
	candidates = ensureMinimum(text, candidates)
	if len(candidates) > t.config.MaxSubQuestions {
		candidates = candidates[:t.config.MaxSubQuestions]
	}

	out := make([]types.SubQuestion, len(candidates))
	for i, c := range candidates {
		out[i] = types.SubQuestion{Text: c, Index: i, Parent: q, Target: t.Route(c)}
	}
	return out
}

// Route 子问题含关系词或连接词时走图检索，否则走向量检索
func (t *QueryTransformer) Route(text string) types.StrategyName {
	lower := strings.ToLower(text)
	for _, kw := range t.config.RelationshipKeywords {
		if strings.Contains(lower, kw) {
			return types.StrategyGraph
		}
	}
	for _, c := range t.config.Connectors {
		if strings.Contains(lower, c) {
			return types.StrategyGraph
		}
	}
	return types.StrategyVector
}

func parseLines(resp string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(listPrefix.ReplaceAllString(strings.TrimSpace(line), ""))
		if line == "" || seen[line] {
			continue
		}
		seen[line] = true
		out = append(out, line)
	}
	return out
}

// splitHeuristic 按第一个能切出多段的分隔符切分
func (t *QueryTransformer) splitHeuristic(text string) []string {
	for _, tok := range t.config.SplitTokens {
		if !strings.Contains(text, tok) {
			continue
		}
		var parts []string
		for _, p := range strings.Split(text, tok) {
			p = strings.Trim(strings.TrimSpace(p), ",，")
			if p != "" {
				parts = append(parts, p)
			}
		}
		if len(parts) > 1 {
			return parts
		}
	}
	return nil
}

// ensureMinimum pads with comma clauses, then a caution-focused variant of the question.
func ensureMinimum(text string, candidates []string) []string {
	if len(candidates) >= MinSubQuestions {
		return candidates
	}
	var clauses []string
	for _, c := range strings.FieldsFunc(text, func(r rune) bool { return r == ',' || r == '，' }) {
		if c = strings.TrimSpace(c); c != "" {
			clauses = append(clauses, c)
		}
	}
	if len(clauses) >= MinSubQuestions {
		return clauses
	}
	out := append([]string(nil), candidates...)
	if len(out) == 0 {
		out = append(out, text)
	}
	return append(out, out[0]+" 주의사항")
}

// Rewrite 改写为利于检索的形式；输出为空或出错时保留原问题
func (t *QueryTransformer) Rewrite(ctx context.Context, query string) string {
	if t.generator == nil || !t.config.EnableRewrite {
		return query
	}
	prompt := fmt.Sprintf("다음 상담 질문을 검색에 적합한 형태로 다시 작성하세요.\n"+
		"- 대화체 표현을 제거하고 핵심 개념과 질환/영양소/생활습관 용어를 유지하세요.\n"+
		"- 한 줄로만 답하세요.\n"+
		"질문: %s\n검색 질의:", query)
	resp, err := t.generator.Generate(ctx, prompt)
	if err != nil {
		t.logger.Debug("rewrite failed, keeping original query", zap.Error(err))
		return query
	}
	lines := parseLines(resp)
	if len(lines) == 0 {
		return query
	}
	return lines[0]
}
