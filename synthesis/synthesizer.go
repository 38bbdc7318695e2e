package synthesis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/counselflow/llm"
	"github.com/BaSui01/counselflow/llm/tokenizer"
	"github.com/BaSui01/counselflow/safety"
	"github.com/BaSui01/counselflow/types"
)

// NoEvidenceMessage 无可用证据时的固定答复
const NoEvidenceMessage = "현재 확보된 자료에서 직접적인 근거를 찾지 못했습니다. " +
	"일반적인 생활습관 가이드라인을 참고하시고, 필요 시 담당 의사와 상담해 주세요."

// Config 合成配置
type Config struct {
	// EvidenceTokenBudget caps the evidence block rendered into the prompt.
	EvidenceTokenBudget int `yaml:"evidence_token_budget" json:"evidence_token_budget"`
	// TokenizerModel selects the tiktoken encoding.
	TokenizerModel string `yaml:"tokenizer_model" json:"tokenizer_model"`
	// LocalizeEscalation lets the LLM pick which approved escalation template to return.
	LocalizeEscalation bool `yaml:"localize_escalation" json:"localize_escalation"`
}

// DefaultConfig returns defaults.
func DefaultConfig() Config {
	return Config{EvidenceTokenBudget: 1500, TokenizerModel: "gpt-4o"}
}

// Synthesizer 根据证据与安全等级生成最终答案
type Synthesizer struct {
	generator llm.Generator
	counter   *tokenizer.Fallback
	config    Config
	logger    *zap.Logger
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithCounter overrides the token counter.
func WithCounter(c *tokenizer.Fallback) Option {
	return func(s *Synthesizer) { s.counter = c }
}

// New creates a Synthesizer.
func New(generator llm.Generator, config Config, logger *zap.Logger, opts ...Option) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.EvidenceTokenBudget <= 0 {
		config.EvidenceTokenBudget = DefaultConfig().EvidenceTokenBudget
	}
	s := &Synthesizer{
		generator: generator,
		config:    config,
		logger:    logger.With(zap.String("component", "synthesizer")),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.counter == nil {
		s.counter = tokenizer.ForModel(config.TokenizerModel, logger)
	}
	return s
}

// Synthesize 生成答案。escalate 等级不调用 LLM 生成实质内容；
// 空响应按证据不足处理；LLM 不可达返回 SYNTHESIS_FAILURE。
func (s *Synthesizer) Synthesize(
	ctx context.Context,
	q types.Question,
	evidence []types.Evidence,
	level types.SafetyLevel,
	patient types.PatientContext,
) (types.Answer, error) {
	env := safety.BuildEnvelope(level)

	if level == types.SafetyEscalate {
		return types.Answer{
			Text:         s.escalationText(ctx, q, env),
			Citations:    []string{},
			SafetyBanner: env.Annotation(),
		}, nil
	}

	if len(evidence) == 0 {
		return s.noEvidence(env), nil
	}

	block, used := s.renderEvidence(evidence)
	prompt := buildPrompt(q, block, level, patient)

	if s.generator == nil {
		return types.Answer{}, types.NewSynthesisError(errors.New("no generator configured"))
	}
	text, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return types.Answer{}, ctxErr
		}
		if errors.Is(err, llm.ErrEmptyCompletion) {
			s.logger.Warn("empty completion, answering without evidence")
			return s.noEvidence(env), nil
		}
		return types.Answer{}, types.NewSynthesisError(err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		s.logger.Warn("empty completion, answering without evidence")
		return s.noEvidence(env), nil
	}

	if level == types.SafetyCaution {
		text = env.AppendGuidance(text)
	}
	return types.Answer{
		Text:         text,
		Citations:    citations(text, used),
		SafetyBanner: env.Annotation(),
	}, nil
}

func (s *Synthesizer) noEvidence(env safety.Envelope) types.Answer {
	text := NoEvidenceMessage
	if env.Level == types.SafetyCaution {
		text = env.AppendGuidance(text)
	}
	return types.Answer{Text: text, Citations: []string{}, SafetyBanner: env.Annotation()}
}

// escalationText 返回上报文案。启用本地化时模型只负责选择语言代码，
// 正文始终取自 safety.EscalationTemplates；无法识别的输出回退为固定文案。
func (s *Synthesizer) escalationText(ctx context.Context, q types.Question, env safety.Envelope) string {
	fixed := env.AnswerOverride
	if !s.config.LocalizeEscalation || s.generator == nil {
		return fixed
	}
	prompt := "다음 질문이 작성된 언어의 ISO 639-1 코드만 출력하세요. " +
		"허용 값: " + strings.Join(templateLanguages(), ", ") + ". 다른 문장은 쓰지 마세요.\n" +
		"질문: " + q.Text + "\n코드:"
	out, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		s.logger.Debug("escalation localization failed, using fixed text", zap.Error(err))
		return fixed
	}
	text, ok := safety.EscalationTemplate(out)
	if !ok {
		s.logger.Warn("unrecognised escalation language, using fixed text", zap.Int("output_len", len(out)))
		return fixed
	}
	return text
}

func templateLanguages() []string {
	langs := make([]string, 0, len(safety.EscalationTemplates))
	for lang := range safety.EscalationTemplates {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

// renderEvidence 按 token 预算渲染证据块，至少保留第一条
func (s *Synthesizer) renderEvidence(evidence []types.Evidence) (string, []types.Evidence) {
	var b strings.Builder
	used := make([]types.Evidence, 0, len(evidence))
	spent := 0
	for i, ev := range evidence {
		line := fmt.Sprintf("[%d] (%s) %s\n", i+1, describeSource(ev), strings.TrimSpace(ev.Text))
		n := s.counter.Count(line)
		if i > 0 && spent+n > s.config.EvidenceTokenBudget {
			s.logger.Debug("evidence truncated by token budget",
				zap.Int("kept", i),
				zap.Int("total", len(evidence)),
				zap.Int("tokens", spent))
			break
		}
		spent += n
		b.WriteString(line)
		used = append(used, ev)
	}
	return b.String(), used
}

func describeSource(ev types.Evidence) string {
	if len(ev.SectionPath) == 0 {
		return ev.Source
	}
	return ev.Source + " > " + strings.Join(ev.SectionPath, " > ")
}

var levelInstructions = map[types.SafetyLevel]string{
	types.SafetyClear: "- 근거에 기반한 구체적인 생활습관 권장(예: 주 5회 30분 등)을 직접 제시하세요.\n",
	types.SafetyCaution: "- 근거의 한계를 분명히 밝히세요.\n" +
		"- 의학적 판단이나 약물 조언은 하지 말고 담당 의사의 확인을 권하세요.\n",
}

func buildPrompt(q types.Question, block string, level types.SafetyLevel, patient types.PatientContext) string {
	var b strings.Builder
	b.WriteString("당신은 대사증후군 상담사를 돕는 시스템입니다.\n")
	b.WriteString("다음 근거를 정리하여 2-3문장 답변을 작성하세요.\n")
	b.WriteString(levelInstructions[level])
	b.WriteString("- 사용한 근거는 [번호] 형태로 문장 안에 표시하세요.\n")
	b.WriteString("질문: " + strings.TrimSpace(q.Text) + "\n")
	if c := strings.TrimSpace(q.Context); c != "" {
		b.WriteString("상담 맥락: " + c + "\n")
	}
	if len(patient) > 0 && json.Valid(patient) {
		b.WriteString("환자 정보(JSON): " + string(patient) + "\n")
	}
	b.WriteString("근거:\n" + block + "답변:")
	return b.String()
}

var citationRef = regexp.MustCompile(`\[(\d+)\]`)

// citations 按答案中首次引用顺序返回来源；答案未标注编号时按渲染顺序引用全部证据
func citations(text string, used []types.Evidence) []string {
	out := make([]string, 0, len(used))
	seen := make(map[string]bool)
	add := func(src string) {
		if src != "" && !seen[src] {
			seen[src] = true
			out = append(out, src)
		}
	}
	for _, m := range citationRef.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(used) {
			continue
		}
		add(used[n-1].Source)
	}
	if len(out) > 0 {
		return out
	}
	for _, ev := range used {
		add(ev.Source)
	}
	return out
}
