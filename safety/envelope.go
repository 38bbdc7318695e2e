package safety

import (
	"strings"

	"github.com/BaSui01/counselflow/types"
)

// 上报文案
const (
	EscalationSentence   = "This topic requires medical supervision. Consult the attending physician for any treatment decisions."
	EscalationSentenceKO = "의학적 판단이 필요한 주제입니다. 치료 결정은 반드시 담당 의사와 상의해 주세요."

	// EscalationOverride 是 escalate 等级下唯一允许返回的答案正文
	EscalationOverride = "현재 질문은 의학적 판단이 필요한 주제입니다. 일반적인 생활 정보를 제외한 구체적인 답변은 제공할 수 없으며, " +
		"필수 안내: 담당 의사와 즉시 상담해 주세요. (Consult the attending physician.)"

	// MandatoryPhrase 每份上报文案都包含的句子
	MandatoryPhrase = "Consult the attending physician"
)

// EscalationTemplates 预先审定的各语言上报文案，按语言代码索引。
// 本地化只能在其中选择，不接受模型生成的正文。
var EscalationTemplates = map[string]string{
	"ko": EscalationOverride,
	"en": "This question requires medical judgement. Beyond general lifestyle information, no specific answer can be provided. " +
		"Required: Consult the attending physician immediately.",
	"ja": "このご質問は医学的判断が必要な内容です。一般的な生活情報以外の具体的な回答はできません。" +
		"必須案内: 担当医にすぐご相談ください。(Consult the attending physician.)",
	"zh": "该问题需要医学判断，除一般生活信息外无法提供具体答复。" +
		"必读提示：请立即咨询主治医生。(Consult the attending physician.)",
}

// EscalationTemplate 返回语言代码对应的审定文案；未知代码返回 false
func EscalationTemplate(lang string) (string, bool) {
	t, ok := EscalationTemplates[strings.ToLower(strings.TrimSpace(lang))]
	return t, ok
}

// Envelope 与答案一同返回的安全元数据
type Envelope struct {
	Level          types.SafetyLevel `json:"level"`
	BannerTitle    string            `json:"banner_title"`
	BannerBody     string            `json:"banner_body"`
	EscalationCopy string            `json:"escalation_copy"`
	AnswerOverride string            `json:"answer_override,omitempty"`
}

// BuildEnvelope 将安全等级映射为面向咨询师的提示
func BuildEnvelope(level types.SafetyLevel) Envelope {
	copyText := EscalationSentenceKO + " " + EscalationSentence
	switch level {
	case types.SafetyEscalate:
		return Envelope{
			Level:          level,
			BannerTitle:    "의료 에스컬레이션 필요",
			BannerBody:     "이 질문은 의료 전문가의 직접적인 판단이 필요한 주제입니다.",
			EscalationCopy: copyText,
			AnswerOverride: EscalationOverride,
		}
	case types.SafetyCaution:
		return Envelope{
			Level:          level,
			BannerTitle:    "의학적 주의가 필요한 내용",
			BannerBody:     "상담 시 근거 자료를 강조하며 의료진 확인이 필요함을 함께 안내하세요.",
			EscalationCopy: copyText,
		}
	default:
		return Envelope{Level: types.SafetyClear}
	}
}

// Annotation 返回答案横幅；clear 等级返回 nil
func (e Envelope) Annotation() *types.SafetyAnnotation {
	if e.Level == types.SafetyClear {
		return nil
	}
	return &types.SafetyAnnotation{
		Level:          e.Level,
		Title:          e.BannerTitle,
		Body:           e.BannerBody,
		EscalationCopy: e.EscalationCopy,
	}
}

// AppendGuidance 在 caution 答案末尾追加就医确认提示，已包含时不重复
func (e Envelope) AppendGuidance(answer string) string {
	guidance := strings.TrimSpace(e.EscalationCopy)
	if guidance == "" || strings.Contains(answer, guidance) {
		return answer
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return guidance
	}
	if strings.HasSuffix(answer, ".") {
		return answer + " " + guidance
	}
	return answer + ". " + guidance
}
