package safety

import (
	"regexp"

	"github.com/BaSui01/counselflow/types"
)

// PIIType PII 类型
type PIIType string

const (
	PIITypeEmail   PIIType = "email"
	PIITypePhone   PIIType = "phone"
	PIITypeRRN     PIIType = "rrn" // 주민등록번호
	PIITypeAccount PIIType = "account"
	PIITypeNameTag PIIType = "name_tag"
)

// Redacted 脱敏占位符
const Redacted = "[REDACTED]"

// PIIMatch PII 匹配结果
type PIIMatch struct {
	Type     PIIType `json:"type"`
	Position int     `json:"position"`
	Length   int     `json:"length"`
}

type piiPattern struct {
	kind PIIType
	re   *regexp.Regexp
}

// 顺序有意义：先邮箱，再电话，避免数字串被错误切分
var defaultPIIPatterns = []piiPattern{
	{PIITypeEmail, regexp.MustCompile(`(?i)[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}`)},
	{PIITypePhone, regexp.MustCompile(`\b0\d{1,2}-?\d{3,4}-?\d{4}\b`)},
	{PIITypeRRN, regexp.MustCompile(`\b\d{6}-?\d{7}\b`)},
	{PIITypeAccount, regexp.MustCompile(`\b\d{3,4}-\d{3,4}-\d{3,4}\b`)},
	{PIITypeNameTag, regexp.MustCompile(`(?:이름|성명)\s*[:：]\s*[가-힣]{2,4}`)},
}

// Scrubber 对输出文本和观察事件做 PII 脱敏
type Scrubber struct {
	patterns []piiPattern
}

// NewScrubber 创建默认脱敏器
func NewScrubber() *Scrubber {
	return &Scrubber{patterns: defaultPIIPatterns}
}

// Detect 检测内容中的所有 PII
func (s *Scrubber) Detect(content string) []PIIMatch {
	var matches []PIIMatch
	for _, p := range s.patterns {
		for _, loc := range p.re.FindAllStringIndex(content, -1) {
			matches = append(matches, PIIMatch{
				Type:     p.kind,
				Position: loc[0],
				Length:   loc[1] - loc[0],
			})
		}
	}
	return matches
}

// Scrub 将 PII 替换为 [REDACTED]
func (s *Scrubber) Scrub(content string) string {
	out := content
	for _, p := range s.patterns {
		out = p.re.ReplaceAllString(out, Redacted)
	}
	return out
}

// ScrubObservations 返回脱敏后的副本，不修改入参
func (s *Scrubber) ScrubObservations(in []types.Observation) []types.Observation {
	out := make([]types.Observation, len(in))
	for i, o := range in {
		out[i] = types.Observation{
			Role:    o.Role,
			Title:   s.Scrub(o.Title),
			Content: s.Scrub(o.Content),
		}
	}
	return out
}
