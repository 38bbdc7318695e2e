package safety

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// KeywordConfig 安全分类关键词配置（可由 YAML 加载）
type KeywordConfig struct {
	EscalateKeywords []string `yaml:"escalate_keywords" json:"escalate_keywords"`
	EscalatePatterns []string `yaml:"escalate_patterns" json:"escalate_patterns"`
	CautionKeywords  []string `yaml:"caution_keywords" json:"caution_keywords"`
	CautionPatterns  []string `yaml:"caution_patterns" json:"caution_patterns"`
}

// DefaultKeywordConfig 返回默认关键词表
func DefaultKeywordConfig() KeywordConfig {
	return KeywordConfig{
		// 药物/剂量、急症/心脏相关
		EscalateKeywords: []string{"약", "처방", "복용", "복용량", "응급", "심장", "약물", "부작용", "흉통"},
		EscalatePatterns: []string{`혈압이\s*높`, `혈당이\s*위험`, `통증`, `쓰러`, `의식\s*(?:을|이)?\s*잃`},
		// 诊断/疾病/风险/检查
		CautionKeywords: []string{"질환", "진단", "위험", "검사", "수치", "저혈당", "고혈당"},
		CautionPatterns: []string{`합병증`, `증상`},
	}
}

// LoadKeywordConfig 从 YAML 文件读取词表，缺失的分组沿用默认值
func LoadKeywordConfig(path string) (KeywordConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return KeywordConfig{}, fmt.Errorf("read keyword file: %w", err)
	}
	var file KeywordConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return KeywordConfig{}, fmt.Errorf("parse keyword file: %w", err)
	}
	return file.withDefaults(), nil
}

func (c KeywordConfig) withDefaults() KeywordConfig {
	def := DefaultKeywordConfig()
	if len(c.EscalateKeywords) == 0 {
		c.EscalateKeywords = def.EscalateKeywords
	}
	if len(c.EscalatePatterns) == 0 {
		c.EscalatePatterns = def.EscalatePatterns
	}
	if len(c.CautionKeywords) == 0 {
		c.CautionKeywords = def.CautionKeywords
	}
	if len(c.CautionPatterns) == 0 {
		c.CautionPatterns = def.CautionPatterns
	}
	return c
}

// KeywordTables 编译后的只读关键词表。
// 进程启动时构造一次，之后在所有并发运行间只读共享，无需加锁。
type KeywordTables struct {
	escalateKeywords []string
	escalatePatterns []*regexp.Regexp
	cautionKeywords  []string
	cautionPatterns  []*regexp.Regexp
}

// NewKeywordTables 编译关键词配置
func NewKeywordTables(cfg KeywordConfig) (*KeywordTables, error) {
	t := &KeywordTables{
		escalateKeywords: normalizeKeywords(cfg.EscalateKeywords),
		cautionKeywords:  normalizeKeywords(cfg.CautionKeywords),
	}
	var err error
	if t.escalatePatterns, err = compileAll(cfg.EscalatePatterns); err != nil {
		return nil, fmt.Errorf("escalate patterns: %w", err)
	}
	if t.cautionPatterns, err = compileAll(cfg.CautionPatterns); err != nil {
		return nil, fmt.Errorf("caution patterns: %w", err)
	}
	if len(t.escalateKeywords)+len(t.escalatePatterns) == 0 {
		return nil, fmt.Errorf("escalate table must not be empty")
	}
	return t, nil
}

// MustKeywordTables 编译失败时 panic，仅用于默认表和测试
func MustKeywordTables(cfg KeywordConfig) *KeywordTables {
	t, err := NewKeywordTables(cfg)
	if err != nil {
		panic(err)
	}
	return t
}

// DefaultKeywordTables 返回默认编译表
func DefaultKeywordTables() *KeywordTables {
	return MustKeywordTables(DefaultKeywordConfig())
}

// matchEscalate returns the first escalate keyword or pattern found in text.
func (t *KeywordTables) matchEscalate(text string) (string, bool) {
	return firstMatch(text, t.escalateKeywords, t.escalatePatterns)
}

func (t *KeywordTables) matchCaution(text string) (string, bool) {
	return firstMatch(text, t.cautionKeywords, t.cautionPatterns)
}

func firstMatch(text string, keywords []string, patterns []*regexp.Regexp) (string, bool) {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return kw, true
		}
	}
	for _, p := range patterns {
		if p.MatchString(text) {
			return strings.TrimPrefix(p.String(), "(?i)"), true
		}
	}
	return "", false
}

func normalizeKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, kw := range in {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	return out
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}
