package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Mode 运行模式：live 为实时咨询，preparation 为咨询前准备。
type Mode string

const (
	ModeLive        Mode = "live"
	ModePreparation Mode = "preparation"
)

// ParseMode 解析模式字符串，空值默认为 live。
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeLive:
		return ModeLive, nil
	case ModePreparation:
		return ModePreparation, nil
	default:
		return "", NewError(ErrInvalidRequest, fmt.Sprintf("unknown mode %q", s))
	}
}

// OrDefault returns live for the zero value.
func (m Mode) OrDefault() Mode {
	if m == "" {
		return ModeLive
	}
	return m
}

// SafetyLevel 安全等级，按严重程度全序：clear < caution < escalate。
type SafetyLevel int

const (
	SafetyClear SafetyLevel = iota
	SafetyCaution
	SafetyEscalate
)

var safetyNames = [...]string{"clear", "caution", "escalate"}

func (l SafetyLevel) String() string {
	if l < SafetyClear || l > SafetyEscalate {
		return fmt.Sprintf("SafetyLevel(%d)", int(l))
	}
	return safetyNames[l]
}

// MarshalText implements encoding.TextMarshaler.
func (l SafetyLevel) MarshalText() ([]byte, error) {
	if l < SafetyClear || l > SafetyEscalate {
		return nil, fmt.Errorf("invalid safety level %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *SafetyLevel) UnmarshalText(b []byte) error {
	for i, name := range safetyNames {
		if strings.EqualFold(string(b), name) {
			*l = SafetyLevel(i)
			return nil
		}
	}
	return fmt.Errorf("invalid safety level %q", string(b))
}

// Max returns the more severe of the two levels.
func (l SafetyLevel) Max(other SafetyLevel) SafetyLevel {
	if other > l {
		return other
	}
	return l
}

// Domain 问题领域
type Domain string

const (
	DomainLifestyle Domain = "lifestyle"
	DomainNutrition Domain = "nutrition"
	DomainMedical   Domain = "medical"
	DomainOther     Domain = "other"
)

// Complexity 问题复杂度
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityMultiHop Complexity = "multi-hop"
	ComplexityComplex  Complexity = "complex"
)

// StrategyName 检索策略名称
type StrategyName string

const (
	StrategyVector    StrategyName = "vector"
	StrategyGraph     StrategyName = "graph"
	StrategyDecompose StrategyName = "decompose"
)

// Question 用户问题，运行开始后不可变。
type Question struct {
	Text    string `json:"text"`
	Context string `json:"context,omitempty"`
}

// Analysis 问题分析结果，每次运行只生成一次。
type Analysis struct {
	Domain     Domain      `json:"domain"`
	Complexity Complexity  `json:"complexity"`
	Safety     SafetyLevel `json:"safety"`
	Reasons    []string    `json:"reasons"`
	LatencyMS  float64     `json:"latency_ms"`
	// Relational is true when relationship vocabulary was found.
	Relational bool `json:"relational"`
}

// Strategy 检索策略，由 (Analysis, Mode) 确定性推导。
type Strategy struct {
	Name     StrategyName `json:"name"`
	VectorK  int          `json:"vector_k,omitempty"`
	GraphK   int          `json:"graph_k,omitempty"`
	SubLimit int          `json:"sub_limit,omitempty"`
}

// ProvenanceKind identifies which retrieval call produced an evidence item.
type ProvenanceKind string

const (
	ProvenanceVector      ProvenanceKind = "vector"
	ProvenanceGraph       ProvenanceKind = "graph"
	ProvenanceSubQuestion ProvenanceKind = "subquestion"
)

// Provenance 证据来源追踪
type Provenance struct {
	Kind ProvenanceKind `json:"kind"`
	// SubQuestion is the index of the originating sub-question, -1 otherwise.
	SubQuestion int    `json:"sub_question"`
	Retriever   string `json:"retriever,omitempty"`
	Fallback    bool   `json:"fallback,omitempty"`
}

// Evidence 检索到的带出处文本片段。
type Evidence struct {
	ID          string     `json:"id"`
	Text        string     `json:"text"`
	Source      string     `json:"source"`
	SectionPath []string   `json:"section_path"`
	Score       float64    `json:"score"`
	Provenance  Provenance `json:"provenance"`
}

// Key returns the (source, section_path) identity used for deduplication.
func (e Evidence) Key() string {
	return e.Source + "\x00" + strings.Join(e.SectionPath, "\x1f")
}

// SubQuestion 分解策略下生成的子问题。
type SubQuestion struct {
	Text   string   `json:"text"`
	Index  int      `json:"index"`
	Parent Question `json:"-"`
	// Target is the retriever the sub-question is routed to.
	Target StrategyName `json:"target"`
}

// SafetyAnnotation 安全横幅
type SafetyAnnotation struct {
	Level          SafetyLevel `json:"level"`
	Title          string      `json:"title"`
	Body           string      `json:"body"`
	EscalationCopy string      `json:"escalation_copy,omitempty"`
}

// Answer 最终答案
type Answer struct {
	Text         string            `json:"text"`
	Citations    []string          `json:"citations"`
	SafetyBanner *SafetyAnnotation `json:"safety_banner,omitempty"`
}

// PatientContext 不透明的患者上下文，原样透传到合成提示词。
type PatientContext = json.RawMessage

// Stage 流水线状态
type Stage string

const (
	StageCreated      Stage = "Created"
	StageAnalyzing    Stage = "Analyzing"
	StageSelecting    Stage = "Selecting"
	StageRetrieving   Stage = "Retrieving"
	StageMerging      Stage = "Merging"
	StageSynthesizing Stage = "Synthesizing"
	StageComplete     Stage = "Complete"
	StageFailed       Stage = "Failed"
)

// EventKind 事件类型
type EventKind string

const (
	EventNodeUpdate EventKind = "node_update"
	EventComplete   EventKind = "complete"
	EventError      EventKind = "error"
)

// Event 流式事件，一旦发出即不可变。
type Event struct {
	Seq       int            `json:"seq"`
	Kind      EventKind      `json:"kind"`
	Stage     Stage          `json:"stage"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

// ObservationRole AG-UI message role.
type ObservationRole string

const (
	RoleReasoning   ObservationRole = "reasoning"
	RoleAction      ObservationRole = "action"
	RoleObservation ObservationRole = "observation"
)

// Observation is one reasoning/action/observation message shown to the counselor.
type Observation struct {
	Role    ObservationRole `json:"role"`
	Title   string          `json:"title"`
	Content string          `json:"content"`
}

// RunStatus 运行终态
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// RunSummary is the audit view of a finished run. It carries the raw
// question only so the store can hash it; stores must not persist Question.
type RunSummary struct {
	RunID     string
	Question  string
	Mode      Mode
	Strategy  StrategyName
	Safety    SafetyLevel
	Status    RunStatus
	ErrorCode ErrorCode
	Cached    bool
	Evidence  int
	StartedAt time.Time
	Elapsed   time.Duration
}
