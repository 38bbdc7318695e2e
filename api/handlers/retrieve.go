package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/BaSui01/counselflow/api"
	"github.com/BaSui01/counselflow/internal/ctxkeys"
	"github.com/BaSui01/counselflow/pipeline"
	"github.com/BaSui01/counselflow/types"
)

// Runner 执行一次咨询运行，*pipeline.Controller 实现该接口
type Runner interface {
	Run(ctx context.Context, req pipeline.Request, sink pipeline.Sink) (*pipeline.Result, error)
}

// RetrieveConfig 流式端点参数
type RetrieveConfig struct {
	// SSE 心跳间隔，0 关闭
	Heartbeat time.Duration
	// 事件缓冲
	EventBuffer int
	// WebSocket 允许的 Origin 模式，空表示仅同源
	OriginPatterns []string
	// 等待首条 WebSocket 消息的时间
	HandshakeTimeout time.Duration
}

// DefaultRetrieveConfig 默认参数
func DefaultRetrieveConfig() RetrieveConfig {
	return RetrieveConfig{
		Heartbeat:        15 * time.Second,
		EventBuffer:      16,
		HandshakeTimeout: 10 * time.Second,
	}
}

// =============================================================================
// 🔎 检索咨询 Handler
// =============================================================================

// RetrieveHandler 处理同步、SSE 与 WebSocket 三种咨询入口
type RetrieveHandler struct {
	runner Runner
	config RetrieveConfig
	logger *zap.Logger
}

// NewRetrieveHandler 创建处理器
func NewRetrieveHandler(runner Runner, config RetrieveConfig, logger *zap.Logger) *RetrieveHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = DefaultRetrieveConfig().EventBuffer
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultRetrieveConfig().HandshakeTimeout
	}
	return &RetrieveHandler{
		runner: runner,
		config: config,
		logger: logger.With(zap.String("component", "retrieve_handler")),
	}
}

// HandleRetrieve 同步咨询
// @Summary 咨询检索
// @Tags 检索
// @Accept json
// @Produce json
// @Param request body api.RetrieveRequest true "咨询请求"
// @Success 200 {object} api.Response{data=api.RetrieveResponse}
// @Failure 400 {object} api.Response
// @Failure 502 {object} api.Response
// @Router /v1/retrieve [post]
func (h *RetrieveHandler) HandleRetrieve(w http.ResponseWriter, r *http.Request) {
	var body api.RetrieveRequest
	if err := DecodeJSONBody(w, r, &body); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	req, err := toPipelineRequest(body)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	res, err := h.runner.Run(r.Context(), req, nil)
	if err != nil {
		if r.Context().Err() != nil {
			h.logger.Debug("client went away", zap.String("request_id", requestID(r)))
			return
		}
		WriteError(w, r, err, h.logger)
		return
	}
	h.logRun(r, res)
	WriteSuccess(w, r, ToRetrieveResponse(res))
}

// HandleStream SSE 流式咨询：每个事件写作 event/data 两行，结束时写 data: [DONE]
// @Summary 流式咨询检索
// @Tags 检索
// @Accept json
// @Produce text/event-stream
// @Param request body api.RetrieveRequest true "咨询请求"
// @Router /v1/retrieve/stream [post]
func (h *RetrieveHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, r, types.NewError(types.ErrInternalError, "streaming not supported"), h.logger)
		return
	}
	var body api.RetrieveRequest
	if err := DecodeJSONBody(w, r, &body); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	req, err := toPipelineRequest(body)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, done := h.start(ctx, req)

	var heartbeat <-chan time.Time
	if h.config.Heartbeat > 0 {
		t := time.NewTicker(h.config.Heartbeat)
		defer t.Stop()
		heartbeat = t.C
	}

	broken := false
	for events != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if broken {
				continue
			}
			if err := writeSSE(w, ev); err != nil {
				h.logger.Debug("sse write failed", zap.Error(err))
				broken = true
				cancel()
				continue
			}
			flusher.Flush()
		case <-heartbeat:
			if broken {
				continue
			}
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				broken = true
				cancel()
				continue
			}
			flusher.Flush()
		}
	}

	out := <-done
	if ctx.Err() != nil || broken {
		return
	}
	if out.err == nil {
		h.logRun(r, out.res)
	}
	_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// HandleWebSocket 首条消息为 RetrieveRequest，随后按顺序推送事件，结束后正常关闭
// @Summary WebSocket 咨询检索
// @Tags 检索
// @Router /v1/retrieve/ws [get]
func (h *RetrieveHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.config.OriginPatterns,
	})
	if err != nil {
		h.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	readCtx, cancelRead := context.WithTimeout(r.Context(), h.config.HandshakeTimeout)
	var body api.RetrieveRequest
	err = wsjson.Read(readCtx, conn, &body)
	cancelRead()
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, "expected a retrieve request")
		return
	}
	req, err := toPipelineRequest(body)
	if err != nil {
		e, _ := types.AsError(err)
		_ = wsjson.Write(r.Context(), conn, errorEvent(e))
		conn.Close(websocket.StatusPolicyViolation, e.Message)
		return
	}

	// CloseRead 在客户端断开时取消 ctx
	ctx, cancel := context.WithCancel(conn.CloseRead(r.Context()))
	defer cancel()
	events, done := h.start(ctx, req)
	for ev := range events {
		if ctx.Err() != nil {
			continue
		}
		if err := wsjson.Write(ctx, conn, ev); err != nil {
			h.logger.Debug("websocket write failed", zap.Error(err))
			cancel()
		}
	}
	out := <-done
	if ctx.Err() != nil {
		return
	}
	if out.err == nil {
		h.logRun(r, out.res)
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

type runOutcome struct {
	res *pipeline.Result
	err error
}

// start 在独立 goroutine 中运行，事件通道在运行结束后关闭
func (h *RetrieveHandler) start(ctx context.Context, req pipeline.Request) (<-chan types.Event, <-chan runOutcome) {
	events := make(chan types.Event, h.config.EventBuffer)
	done := make(chan runOutcome, 1)
	go func() {
		defer close(events)
		res, err := h.runner.Run(ctx, req, pipeline.ChannelSink(ctx, events))
		done <- runOutcome{res: res, err: err}
	}()
	return events, done
}

func (h *RetrieveHandler) logRun(r *http.Request, res *pipeline.Result) {
	fields := []zap.Field{
		zap.String("run_id", res.RunID),
		zap.String("mode", string(res.Mode)),
		zap.String("strategy", string(res.Strategy.Name)),
		zap.String("safety", res.Safety.String()),
		zap.Int("evidence", len(res.Evidence)),
		zap.Bool("cached", res.Cached),
		zap.Duration("elapsed", res.Elapsed),
		zap.String("request_id", requestID(r)),
	}
	if id, ok := ctxkeys.CounselorID(r.Context()); ok {
		fields = append(fields, zap.String("counselor_id", id))
	}
	h.logger.Info("retrieve completed", fields...)
}

func writeSSE(w http.ResponseWriter, ev types.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
	return err
}

func errorEvent(e *types.Error) types.Event {
	return types.Event{
		Kind:      types.EventError,
		Stage:     types.StageCreated,
		Payload:   map[string]any{"code": string(e.Code), "message": e.Message},
		Timestamp: time.Now(),
	}
}

// toPipelineRequest 校验请求。在写出流式响应头之前调用，保证参数错误仍以 JSON 返回。
func toPipelineRequest(body api.RetrieveRequest) (pipeline.Request, error) {
	if strings.TrimSpace(body.Question) == "" {
		return pipeline.Request{}, types.NewError(types.ErrInvalidRequest, "question is required")
	}
	mode, err := types.ParseMode(body.Mode)
	if err != nil {
		return pipeline.Request{}, err
	}
	return pipeline.Request{
		Question:       body.Question,
		Context:        body.Context,
		Mode:           mode,
		PatientContext: types.PatientContext(body.PatientContext),
	}, nil
}

// ToRetrieveResponse 把运行结果转换为 API 结构
func ToRetrieveResponse(res *pipeline.Result) api.RetrieveResponse {
	out := api.RetrieveResponse{
		RunID:             res.RunID,
		Mode:              res.Mode,
		Analysis:          res.Analysis,
		Strategy:          res.Strategy,
		SubQuestions:      res.SubQuestions,
		Answer:            res.Answer.Text,
		Citations:         res.Answer.Citations,
		SafetyBanner:      res.Answer.SafetyBanner,
		Safety:            res.Safety,
		Observations:      res.Observations,
		Timings:           res.Timings,
		Evidence:          res.Evidence,
		Cached:            res.Cached,
		ElapsedMS:         float64(res.Elapsed) / float64(time.Millisecond),
		ExpectedQuestions: res.FollowUps,
	}
	if out.Citations == nil {
		out.Citations = []string{}
	}
	if out.Evidence == nil {
		out.Evidence = []types.Evidence{}
	}
	for _, w := range res.Warnings {
		out.Warnings = append(out.Warnings, api.ErrorInfo{
			Code:      string(w.Code),
			Message:   w.Message,
			Retryable: w.Retryable,
		})
	}
	return out
}
