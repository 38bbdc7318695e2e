package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/counselflow/internal/ctxkeys"
	"github.com/BaSui01/counselflow/rag"
	"github.com/BaSui01/counselflow/safety"
	"github.com/BaSui01/counselflow/types"
)

// =============================================================================
// 🔌 协作者接口
// =============================================================================

// Analyzer 问题分析
type Analyzer interface {
	Analyze(ctx context.Context, q types.Question, mode types.Mode) types.Analysis
}

// Selector 策略选择，strategy.Table 满足该接口
type Selector interface {
	Select(a types.Analysis, m types.Mode) types.Strategy
}

// Retrieval 检索编排，rag.Orchestrator 满足该接口
type Retrieval interface {
	Execute(ctx context.Context, s types.Strategy, q types.Question) (*rag.Result, error)
}

// Synthesizer 答案合成
type Synthesizer interface {
	Synthesize(ctx context.Context, q types.Question, evidence []types.Evidence,
		level types.SafetyLevel, patient types.PatientContext) (types.Answer, error)
}

// AnswerCache FAQ 答案缓存
type AnswerCache interface {
	Lookup(ctx context.Context, q types.Question) (types.Answer, bool, error)
	Store(ctx context.Context, q types.Question, a types.Answer) error
}

// RunRecorder 运行审计
type RunRecorder interface {
	Record(ctx context.Context, s types.RunSummary) error
}

// Observer 指标上报，metrics.Collector 满足该接口
type Observer interface {
	ObserveStage(stage, mode string, d time.Duration)
	RecordRun(mode, status string, d time.Duration)
	RecordStrategy(strategy, mode string)
	RecordSafety(level string)
	RecordSLABreach(kind, mode string)
	RecordSourceFailure(source string)
	RecordEvidence(merged, subQuestions int)
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

type nopObserver struct{}

func (nopObserver) ObserveStage(string, string, time.Duration) {}
func (nopObserver) RecordRun(string, string, time.Duration)    {}
func (nopObserver) RecordStrategy(string, string)              {}
func (nopObserver) RecordSafety(string)                        {}
func (nopObserver) RecordSLABreach(string, string)             {}
func (nopObserver) RecordSourceFailure(string)                 {}
func (nopObserver) RecordEvidence(int, int)                    {}
func (nopObserver) RecordCacheHit(string)                      {}
func (nopObserver) RecordCacheMiss(string)                     {}

// =============================================================================
// ⚙️ 配置
// =============================================================================

// Config 流水线配置
type Config struct {
	AnalysisBudget    time.Duration `yaml:"analysis_budget" json:"analysis_budget" env:"ANALYSIS_BUDGET"`
	LiveBudget        time.Duration `yaml:"live_budget" json:"live_budget" env:"LIVE_BUDGET"`
	PreparationBudget time.Duration `yaml:"preparation_budget" json:"preparation_budget" env:"PREPARATION_BUDGET"`
	EvidenceBudget    int           `yaml:"evidence_budget" json:"evidence_budget" env:"EVIDENCE_BUDGET"`
	// Production turns a safety downgrade into a silent escalation instead of a panic.
	Production bool `yaml:"production" json:"production" env:"PRODUCTION"`
	// AuditTimeout bounds the best-effort audit write after a run ends.
	AuditTimeout time.Duration `yaml:"audit_timeout" json:"audit_timeout" env:"AUDIT_TIMEOUT"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		AnalysisBudget:    2 * time.Second,
		LiveBudget:        5 * time.Second,
		PreparationBudget: 30 * time.Second,
		EvidenceBudget:    rag.DefaultEvidenceBudget,
		AuditTimeout:      2 * time.Second,
	}
}

func (c Config) totalBudget(m types.Mode) time.Duration {
	if m == types.ModePreparation {
		return c.PreparationBudget
	}
	return c.LiveBudget
}

// GenericFailureMessage 致命错误时返回给调用方的唯一文案
const GenericFailureMessage = "답변을 생성하지 못했습니다. 잠시 후 다시 시도해 주세요."

// =============================================================================
// 🧭 控制器
// =============================================================================

// Controller 驱动 Analyzing → Selecting → Retrieving → Merging → Synthesizing → Complete
type Controller struct {
	analyzer    Analyzer
	selector    Selector
	retrieval   Retrieval
	merger      rag.Merger
	synthesizer Synthesizer

	cache    AnswerCache
	recorder RunRecorder
	observer Observer
	scrubber *safety.Scrubber
	tracer   trace.Tracer

	config Config
	logger *zap.Logger
	now    func() time.Time
}

// Option 控制器选项
type Option func(*Controller)

// WithCache 启用 FAQ 缓存
func WithCache(c AnswerCache) Option { return func(ctl *Controller) { ctl.cache = c } }

// WithRecorder 启用运行审计
func WithRecorder(r RunRecorder) Option { return func(ctl *Controller) { ctl.recorder = r } }

// WithObserver 启用指标上报
func WithObserver(o Observer) Option {
	return func(ctl *Controller) {
		if o != nil {
			ctl.observer = o
		}
	}
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option { return func(ctl *Controller) { ctl.tracer = t } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(ctl *Controller) { ctl.now = now } }

// NewController 创建控制器
func NewController(
	analyzer Analyzer,
	selector Selector,
	retrieval Retrieval,
	synthesizer Synthesizer,
	config Config,
	logger *zap.Logger,
	opts ...Option,
) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if config.AnalysisBudget <= 0 {
		config.AnalysisBudget = def.AnalysisBudget
	}
	if config.LiveBudget <= 0 {
		config.LiveBudget = def.LiveBudget
	}
	if config.PreparationBudget <= 0 {
		config.PreparationBudget = def.PreparationBudget
	}
	if config.EvidenceBudget <= 0 {
		config.EvidenceBudget = def.EvidenceBudget
	}
	if config.AuditTimeout <= 0 {
		config.AuditTimeout = def.AuditTimeout
	}

	c := &Controller{
		analyzer:    analyzer,
		selector:    selector,
		retrieval:   retrieval,
		merger:      rag.NewMerger(config.EvidenceBudget),
		synthesizer: synthesizer,
		observer:    nopObserver{},
		scrubber:    safety.NewScrubber(),
		tracer:      otel.Tracer("github.com/BaSui01/counselflow/pipeline"),
		config:      config,
		logger:      logger.With(zap.String("component", "pipeline")),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request 一次咨询请求
type Request struct {
	Question       string               `json:"question"`
	Context        string               `json:"context,omitempty"`
	Mode           types.Mode           `json:"mode,omitempty"`
	PatientContext types.PatientContext `json:"patient_context,omitempty"`
}

// Result 完成运行的对外视图
type Result struct {
	RunID        string               `json:"run_id"`
	Mode         types.Mode           `json:"mode"`
	Analysis     types.Analysis       `json:"analysis"`
	Strategy     types.Strategy       `json:"strategy"`
	SubQuestions []types.SubQuestion  `json:"sub_questions,omitempty"`
	Evidence     []types.Evidence     `json:"evidence"`
	Answer       types.Answer         `json:"answer"`
	Safety       types.SafetyLevel    `json:"safety"`
	Observations []types.Observation  `json:"observations"`
	Timings      map[string]float64   `json:"timings"`
	Warnings     []*types.Error       `json:"warnings,omitempty"`
	Cached       bool                 `json:"cached"`
	Elapsed      time.Duration        `json:"-"`
	FollowUps    []string             `json:"expected_questions,omitempty"`
	Events       []types.Event        `json:"-"`
}

// RunSync 只返回最终答案
func (c *Controller) RunSync(ctx context.Context, req Request) (types.Answer, error) {
	res, err := c.Run(ctx, req, nil)
	if err != nil {
		return types.Answer{}, err
	}
	return res.Answer, nil
}

// Run 执行一次完整运行。调用方要么得到完整答案，要么收到唯一的 error 事件；
// ctx 取消后不再发出任何事件并返回 ctx.Err()。
func (c *Controller) Run(ctx context.Context, req Request, sink Sink) (*Result, error) {
	text := strings.TrimSpace(req.Question)
	if text == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "question is required").WithHTTPStatus(400)
	}
	mode := req.Mode.OrDefault()
	if mode != types.ModeLive && mode != types.ModePreparation {
		return nil, types.NewError(types.ErrInvalidRequest, fmt.Sprintf("unknown mode %q", req.Mode)).WithHTTPStatus(400)
	}

	run := newRun(uuid.NewString(), types.Question{Text: text, Context: strings.TrimSpace(req.Context)},
		mode, req.PatientContext, c.now())
	fields := []zap.Field{zap.String("run_id", run.ID), zap.String("mode", string(mode))}
	if id, ok := ctxkeys.RequestID(ctx); ok {
		fields = append(fields, zap.String("request_id", id))
	}
	ex := &execution{c: c, run: run, sink: sink, logger: c.logger.With(fields...)}
	ctx = ctxkeys.WithRunID(ctx, run.ID)

	ctx, span := c.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run.id", run.ID),
		attribute.String("run.mode", string(mode)),
	))
	defer span.End()

	res, err := ex.execute(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

// =============================================================================
// 🏃 单次执行
// =============================================================================

type execution struct {
	c      *Controller
	run    *Run
	sink   Sink
	logger *zap.Logger
	seq    int

	retrieval  *rag.Result
	cached     types.Answer
	evidenceIn int
}

func (ex *execution) execute(ctx context.Context) (*Result, error) {
	steps := []struct {
		stage types.Stage
		fn    func(context.Context) (map[string]any, error)
	}{
		{types.StageAnalyzing, ex.analyze},
		{types.StageSelecting, ex.selectStrategy},
		{types.StageRetrieving, ex.retrieve},
		{types.StageMerging, ex.merge},
		{types.StageSynthesizing, ex.synthesize},
	}

	for _, step := range steps {
		if err := ex.run.transition(step.stage); err != nil {
			return nil, err
		}
		payload, err := ex.stage(ctx, step.stage, step.fn)
		if err != nil {
			return nil, ex.abort(ctx, err)
		}
		if err := ctx.Err(); err != nil {
			return nil, ex.abort(ctx, err)
		}
		ex.emit(ctx, types.EventNodeUpdate, step.stage, payload)
	}
	return ex.complete(ctx)
}

// stage 执行单个阶段并记录耗时、span 与指标
func (ex *execution) stage(ctx context.Context, stage types.Stage, fn func(context.Context) (map[string]any, error)) (map[string]any, error) {
	ctx, span := ex.c.tracer.Start(ctx, "pipeline."+strings.ToLower(string(stage)))
	defer span.End()

	start := ex.c.now()
	payload, err := fn(ctx)
	d := ex.c.now().Sub(start)
	ex.run.timing(stage, d)
	ex.c.observer.ObserveStage(strings.ToLower(string(stage)), string(ex.run.Mode), d)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return payload, err
}

func (ex *execution) emit(ctx context.Context, kind types.EventKind, stage types.Stage, payload map[string]any) {
	if ctx.Err() != nil {
		return
	}
	if payload == nil {
		payload = map[string]any{}
	}
	payload["run_id"] = ex.run.ID
	if kind != types.EventError {
		payload["observations"] = ex.c.scrubber.ScrubObservations(ex.run.Observations)
		payload["timings"] = copyTimings(ex.run.Timings)
		payload["safety"] = ex.run.Safety()
		payload["cached"] = ex.run.Cached
	}
	ex.seq++
	ev := types.Event{
		Seq:       ex.seq,
		Kind:      kind,
		Stage:     stage,
		Payload:   payload,
		Timestamp: ex.c.now(),
	}
	ex.run.Events = append(ex.run.Events, ev)
	if ex.sink != nil {
		ex.sink(ev)
	}
}

func (ex *execution) analyze(ctx context.Context) (map[string]any, error) {
	run := ex.run
	start := ex.c.now()
	run.Analysis = ex.c.analyzer.Analyze(ctx, run.Question, run.Mode)
	elapsed := ex.c.now().Sub(start)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	run.ratchet = safety.NewRatchet(run.Analysis.Safety, ex.c.config.Production, ex.logger)

	run.observe(types.RoleReasoning, "질문 분석",
		fmt.Sprintf("도메인: %s, 복잡도: %s, 안전도: %s",
			run.Analysis.Domain, run.Analysis.Complexity, run.Analysis.Safety))

	payload := map[string]any{"analysis": run.Analysis}
	if elapsed > ex.c.config.AnalysisBudget {
		warn := types.NewError(types.ErrAnalysisTimeoutWarning,
			fmt.Sprintf("analysis took %s, budget %s", elapsed.Round(time.Millisecond), ex.c.config.AnalysisBudget))
		run.Warnings = append(run.Warnings, warn)
		ex.c.observer.RecordSLABreach("analysis", string(run.Mode))
		ex.logger.Warn("analysis exceeded budget",
			zap.String("code", string(warn.Code)),
			zap.Duration("elapsed", elapsed),
			zap.Duration("budget", ex.c.config.AnalysisBudget))
		payload["warning"] = warn
	}

	ex.lookupCache(ctx)
	return payload, nil
}

// lookupCache 仅在 live 模式且安全等级为 clear 时查询 FAQ 缓存
func (ex *execution) lookupCache(ctx context.Context) {
	run := ex.run
	if ex.c.cache == nil || run.Mode != types.ModeLive || run.Analysis.Safety != types.SafetyClear {
		return
	}
	answer, ok, err := ex.c.cache.Lookup(ctx, run.Question)
	if err != nil {
		ex.logger.Debug("faq cache lookup failed", zap.Error(err))
		ok = false
	}
	if !ok {
		ex.c.observer.RecordCacheMiss("faq")
		return
	}
	ex.c.observer.RecordCacheHit("faq")
	run.Cached = true
	ex.cached = answer
	run.observe(types.RoleObservation, "FAQ 캐시", "캐시된 답변을 사용합니다")
}

func (ex *execution) selectStrategy(ctx context.Context) (map[string]any, error) {
	run := ex.run
	run.Strategy = ex.c.selector.Select(run.Analysis, run.Mode)
	ex.c.observer.RecordStrategy(string(run.Strategy.Name), string(run.Mode))
	run.observe(types.RoleAction, "검색 전략 선택",
		fmt.Sprintf("선택된 전략: %s (모드: %s)", run.Strategy.Name, run.Mode))
	return map[string]any{"strategy": run.Strategy}, nil
}

func (ex *execution) retrieve(ctx context.Context) (map[string]any, error) {
	run := ex.run
	if run.Cached {
		ex.retrieval = &rag.Result{Strategy: run.Strategy.Name}
		run.observe(types.RoleAction, "근거 검색", "캐시 적중으로 검색을 생략했습니다")
		return map[string]any{"skipped": true}, nil
	}

	res, err := ex.c.retrieval.Execute(ctx, run.Strategy, run.Question)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		// 检索层只在配置缺陷时返回错误；按零证据处理
		ex.logger.Error("retrieval failed, continuing without evidence", zap.Error(err))
		res = &rag.Result{
			Strategy:  run.Strategy.Name,
			AllFailed: true,
			SourceErrors: []*types.Error{
				types.NewError(types.ErrAllRetrievalFailed, "retrieval failed").WithCause(err),
			},
		}
	}
	ex.retrieval = res
	run.SubQuestions = res.SubQuestions
	for _, se := range res.SourceErrors {
		run.Warnings = append(run.Warnings, se)
		if se.Code == types.ErrRetrievalSourceUnavailable {
			ex.c.observer.RecordSourceFailure(se.Source)
		}
	}
	ex.evidenceIn = res.Total()

	var summary string
	switch run.Strategy.Name {
	case types.StrategyDecompose:
		summary = fmt.Sprintf("하위 질문 %d개, 근거 %d건", len(res.SubQuestions), ex.evidenceIn)
	default:
		summary = fmt.Sprintf("%s 검색 근거 %d건", run.Strategy.Name, ex.evidenceIn)
	}
	if res.AllFailed {
		summary += " (모든 검색 실패)"
	}
	run.observe(types.RoleAction, "근거 검색", summary)

	payload := map[string]any{
		"retrieved":  ex.evidenceIn,
		"all_failed": res.AllFailed,
	}
	if len(res.SubQuestions) > 0 {
		payload["sub_questions"] = res.SubQuestions
	}
	if len(res.SourceErrors) > 0 {
		payload["source_errors"] = sourceErrorCodes(res.SourceErrors)
	}
	return payload, nil
}

func (ex *execution) merge(ctx context.Context) (map[string]any, error) {
	run := ex.run
	run.Evidence = ex.c.merger.Merge(ex.retrieval.Lists()...)
	ex.c.observer.RecordEvidence(len(run.Evidence), len(run.SubQuestions))
	run.observe(types.RoleObservation, "근거 통합",
		fmt.Sprintf("%d건 중 %d건의 근거를 선택했습니다", ex.evidenceIn, len(run.Evidence)))
	return map[string]any{
		"evidence_count": len(run.Evidence),
		"sources":        topSources(run.Evidence, 5),
	}, nil
}

func (ex *execution) synthesize(ctx context.Context) (map[string]any, error) {
	run := ex.run
	var answer types.Answer
	if run.Cached {
		answer = ex.cached
	} else {
		var err error
		answer, err = ex.c.synthesizer.Synthesize(ctx, run.Question, run.Evidence, run.ratchet.Level(), run.Patient)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if !types.IsErrorCode(err, types.ErrSynthesisFailure) {
				err = types.NewSynthesisError(err)
			}
			return nil, err
		}
	}

	answer = ex.enforceSafety(answer)
	answer.Text = ex.c.scrubber.Scrub(answer.Text)
	if answer.Citations == nil {
		answer.Citations = []string{}
	}
	run.Answer = &answer
	run.observe(types.RoleAction, "답변 생성", fmt.Sprintf("인용 %d건", len(answer.Citations)))
	return map[string]any{"answer": answer}, nil
}

// enforceSafety 校验合成结果的安全等级不低于棘轮等级，必要时按棘轮等级重建横幅与正文
func (ex *execution) enforceSafety(answer types.Answer) types.Answer {
	reported := types.SafetyClear
	if answer.SafetyBanner != nil {
		reported = answer.SafetyBanner.Level
	}
	final := ex.run.ratchet.Observe(types.StageSynthesizing, reported)
	if final == reported && (final == types.SafetyClear || answer.SafetyBanner != nil) {
		return answer
	}

	env := safety.BuildEnvelope(final)
	answer.SafetyBanner = env.Annotation()
	switch final {
	case types.SafetyEscalate:
		answer.Text = env.AnswerOverride
		answer.Citations = []string{}
	case types.SafetyCaution:
		answer.Text = env.AppendGuidance(answer.Text)
	}
	return answer
}

func (ex *execution) complete(ctx context.Context) (*Result, error) {
	run := ex.run
	if err := run.transition(types.StageComplete); err != nil {
		return nil, err
	}
	elapsed := ex.c.now().Sub(run.StartedAt)
	level := run.Safety()

	if budget := ex.c.config.totalBudget(run.Mode); elapsed > budget {
		ex.c.observer.RecordSLABreach("total", string(run.Mode))
		ex.logger.Warn("run exceeded latency budget",
			zap.Duration("elapsed", elapsed),
			zap.Duration("budget", budget))
	}

	var followUps []string
	payload := map[string]any{
		"answer":     run.Answer,
		"citations":  run.Answer.Citations,
		"elapsed_ms": float64(elapsed.Microseconds()) / 1000,
	}
	if run.Mode == types.ModePreparation {
		followUps = FollowUpQuestions(run.Analysis.Domain)
		payload["expected_questions"] = followUps
	}
	ex.emit(ctx, types.EventComplete, types.StageComplete, payload)

	ex.c.observer.RecordRun(string(run.Mode), string(types.RunCompleted), elapsed)
	ex.c.observer.RecordSafety(level.String())
	ex.storeCache(ctx, level)
	ex.record(ctx, types.RunCompleted, "", elapsed)

	ex.logger.Info("run completed",
		zap.String("strategy", string(run.Strategy.Name)),
		zap.String("safety", level.String()),
		zap.Int("evidence", len(run.Evidence)),
		zap.Bool("cached", run.Cached),
		zap.Duration("elapsed", elapsed))

	return &Result{
		RunID:        run.ID,
		Mode:         run.Mode,
		Analysis:     run.Analysis,
		Strategy:     run.Strategy,
		SubQuestions: run.SubQuestions,
		Evidence:     run.Evidence,
		Answer:       *run.Answer,
		Safety:       level,
		Observations: ex.c.scrubber.ScrubObservations(run.Observations),
		Timings:      copyTimings(run.Timings),
		Warnings:     run.Warnings,
		Cached:       run.Cached,
		Elapsed:      elapsed,
		FollowUps:    followUps,
		Events:       run.Events,
	}, nil
}

func (ex *execution) storeCache(ctx context.Context, level types.SafetyLevel) {
	run := ex.run
	if ex.c.cache == nil || run.Cached || run.Mode != types.ModeLive || level != types.SafetyClear {
		return
	}
	if ex.retrieval == nil || ex.retrieval.AllFailed || len(run.Evidence) == 0 {
		return
	}
	if err := ex.c.cache.Store(ctx, run.Question, *run.Answer); err != nil {
		ex.logger.Debug("faq cache store failed", zap.Error(err))
	}
}

// abort 处理取消与致命错误：取消时静默退出，致命错误发出唯一的 error 事件
func (ex *execution) abort(ctx context.Context, err error) error {
	run := ex.run
	elapsed := ex.c.now().Sub(run.StartedAt)

	if ctxErr := ctx.Err(); ctxErr != nil {
		ex.logger.Info("run cancelled", zap.String("stage", string(run.Stage())), zap.Error(err))
		ex.c.observer.RecordRun(string(run.Mode), string(types.RunCancelled), elapsed)
		ex.record(ctx, types.RunCancelled, "", elapsed)
		if !errors.Is(err, ctxErr) {
			err = ctxErr
		}
		return err
	}

	_ = run.transition(types.StageFailed)
	code := types.GetErrorCode(err)
	ex.logger.Error("run failed", zap.String("code", string(code)), zap.Error(err))
	ex.emit(ctx, types.EventError, types.StageFailed, map[string]any{
		"code":    code,
		"message": GenericFailureMessage,
	})
	ex.c.observer.RecordRun(string(run.Mode), string(types.RunFailed), elapsed)
	ex.record(ctx, types.RunFailed, code, elapsed)
	return err
}

// record 审计写入失败只记录日志，不影响运行结果
func (ex *execution) record(ctx context.Context, status types.RunStatus, code types.ErrorCode, elapsed time.Duration) {
	if ex.c.recorder == nil {
		return
	}
	run := ex.run
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ex.c.config.AuditTimeout)
	defer cancel()

	err := ex.c.recorder.Record(ctx, types.RunSummary{
		RunID:     run.ID,
		Question:  run.Question.Text,
		Mode:      run.Mode,
		Strategy:  run.Strategy.Name,
		Safety:    run.Safety(),
		Status:    status,
		ErrorCode: code,
		Cached:    run.Cached,
		Evidence:  len(run.Evidence),
		StartedAt: run.StartedAt,
		Elapsed:   elapsed,
	})
	if err != nil {
		ex.logger.Warn("audit record failed", zap.Error(err))
	}
}

func copyTimings(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func sourceErrorCodes(errs []*types.Error) []map[string]string {
	out := make([]map[string]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, map[string]string{"code": string(e.Code), "source": e.Source})
	}
	return out
}

func topSources(evidence []types.Evidence, n int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, ev := range evidence {
		if len(out) == n {
			break
		}
		if ev.Source != "" && !seen[ev.Source] {
			seen[ev.Source] = true
			out = append(out, ev.Source)
		}
	}
	return out
}
