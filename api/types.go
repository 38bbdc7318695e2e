package api

import (
	"encoding/json"
	"time"

	"github.com/BaSui01/counselflow/types"
)

// =============================================================================
// 通用响应
// =============================================================================

// Response 统一响应信封
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo 错误信息；不包含底层 Cause
type ErrorInfo struct {
	Code      string `json:"code" example:"INVALID_REQUEST"`
	Message   string `json:"message" example:"question is required"`
	Retryable bool   `json:"retryable,omitempty"`
}

// =============================================================================
// 检索咨询
// =============================================================================

// RetrieveRequest 咨询请求
// @Description 咨询请求结构
type RetrieveRequest struct {
	// 咨询师输入的问题
	Question string `json:"question" example:"혈당이 높은데 어떤 운동을 권장하면 좋을까요?"`
	// 可选的补充上下文
	Context string `json:"context,omitempty"`
	// live 或 preparation，默认 live
	Mode string `json:"mode,omitempty" example:"live"`
	// 不透明的患者上下文，原样传给合成
	PatientContext json.RawMessage `json:"patient_context,omitempty" swaggertype:"object"`
}

// RetrieveResponse 同步咨询结果；ExpectedQuestions 仅 preparation 模式返回
// @Description 咨询结果结构
type RetrieveResponse struct {
	RunID             string                  `json:"run_id"`
	Mode              types.Mode              `json:"mode"`
	Analysis          types.Analysis          `json:"analysis"`
	Strategy          types.Strategy          `json:"strategy"`
	SubQuestions      []types.SubQuestion     `json:"sub_questions,omitempty"`
	Answer            string                  `json:"answer"`
	Citations         []string                `json:"citations"`
	SafetyBanner      *types.SafetyAnnotation `json:"safety_banner,omitempty"`
	Safety            types.SafetyLevel       `json:"safety"`
	Observations      []types.Observation     `json:"observations"`
	Timings           map[string]float64      `json:"timings"`
	Evidence          []types.Evidence        `json:"evidence"`
	Warnings          []ErrorInfo             `json:"warnings,omitempty"`
	Cached            bool                    `json:"cached"`
	ElapsedMS         float64                 `json:"elapsed_ms"`
	ExpectedQuestions []string                `json:"expected_questions,omitempty"`
}

// =============================================================================
// 健康检查
// =============================================================================

// HealthResponse 健康检查结果
type HealthResponse struct {
	Status    string                 `json:"status" example:"healthy"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单项检查
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}
