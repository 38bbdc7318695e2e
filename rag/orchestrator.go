package rag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/counselflow/types"
)

// OrchestratorConfig 检索编排配置
type OrchestratorConfig struct {
	// CallTimeout is the deadline of each individual retrieval call.
	CallTimeout time.Duration `yaml:"call_timeout" json:"call_timeout"`
	// MaxConcurrency bounds concurrent sub-question retrievals.
	MaxConcurrency int `yaml:"max_concurrency" json:"max_concurrency"`
}

// DefaultOrchestratorConfig returns defaults.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{CallTimeout: 3 * time.Second, MaxConcurrency: MaxSubQuestions}
}

// Result 一次检索执行的结果
type Result struct {
	Strategy types.StrategyName `json:"strategy"`
	// Query is the text actually sent to the retriever (after rewrite).
	Query        string              `json:"query"`
	Vector       []types.Evidence    `json:"vector,omitempty"`
	Graph        []types.Evidence    `json:"graph,omitempty"`
	SubQuestions []types.SubQuestion `json:"sub_questions,omitempty"`
	// SubEvidence[i] holds the evidence of SubQuestions[i]; nil when that call failed.
	SubEvidence  [][]types.Evidence `json:"-"`
	SourceErrors []*types.Error     `json:"-"`
	AllFailed    bool               `json:"all_failed"`
	Elapsed      time.Duration      `json:"elapsed"`
}

// Lists returns every evidence list in retrieval order, ready for Merge.
func (r *Result) Lists() [][]types.Evidence {
	lists := make([][]types.Evidence, 0, 2+len(r.SubEvidence))
	if r.Vector != nil {
		lists = append(lists, r.Vector)
	}
	if r.Graph != nil {
		lists = append(lists, r.Graph)
	}
	for _, sub := range r.SubEvidence {
		if sub != nil {
			lists = append(lists, sub)
		}
	}
	return lists
}

// Total returns the number of retrieved items before merging.
func (r *Result) Total() int {
	n := 0
	for _, l := range r.Lists() {
		n += len(l)
	}
	return n
}

// Orchestrator 按策略调度检索器
type Orchestrator struct {
	vector      Retriever
	graph       Retriever
	transformer *QueryTransformer
	config      OrchestratorConfig
	logger      *zap.Logger

	// graph first, vector on failure (and the reverse)
	graphFirst  Retriever
	vectorFirst Retriever
}

// NewOrchestrator creates an orchestrator over the two retrievers.
func NewOrchestrator(vector, graph Retriever, transformer *QueryTransformer, config OrchestratorConfig, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = DefaultOrchestratorConfig().CallTimeout
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = MaxSubQuestions
	}
	if transformer == nil {
		transformer = NewQueryTransformer(DefaultQueryTransformConfig(), nil, logger)
	}
	return &Orchestrator{
		vector:      vector,
		graph:       graph,
		transformer: transformer,
		config:      config,
		logger:      logger.With(zap.String("component", "retrieval_orchestrator")),
		graphFirst:  NewFallbackRetriever("graph", graph, vector, logger),
		vectorFirst: NewFallbackRetriever("vector", vector, graph, logger),
	}
}

// Execute runs the retrieval plan of the strategy. The only error returned is
// ctx cancellation; source failures are reported in Result.SourceErrors.
func (o *Orchestrator) Execute(ctx context.Context, strategy types.Strategy, q types.Question) (*Result, error) {
	start := time.Now()
	res := &Result{Strategy: strategy.Name, Query: q.Text}

	switch strategy.Name {
	case types.StrategyVector:
		res.Vector = o.call(ctx, res, "vector", o.vector, q.Text, strategy.VectorK)
	case types.StrategyGraph:
		res.Query = o.transformer.Rewrite(ctx, q.Text)
		res.Graph = o.call(ctx, res, "graph", o.graphFirst, res.Query, strategy.GraphK)
	case types.StrategyDecompose:
		o.decompose(ctx, res, strategy, q)
	default:
		return nil, types.NewError(types.ErrInvalidRequest, fmt.Sprintf("unknown strategy %q", strategy.Name))
	}

	res.Elapsed = time.Since(start)
	if err := ctx.Err(); err != nil {
		return res, err
	}
	o.logger.Debug("retrieval done",
		zap.String("strategy", string(strategy.Name)),
		zap.Int("items", res.Total()),
		zap.Int("source_errors", len(res.SourceErrors)),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

// call 单次检索，带独立截止时间；失败记为零证据
func (o *Orchestrator) call(ctx context.Context, res *Result, name string, r Retriever, query string, k int) []types.Evidence {
	ev, err := o.retrieve(ctx, name, r, query, k)
	if err != nil {
		res.SourceErrors = append(res.SourceErrors, err)
		return nil
	}
	return ev
}

func (o *Orchestrator) retrieve(ctx context.Context, name string, r Retriever, query string, k int) ([]types.Evidence, *types.Error) {
	if r == nil {
		return nil, types.NewSourceUnavailableError(name, errors.New("retriever not configured"))
	}
	callCtx, cancel := context.WithTimeout(ctx, o.config.CallTimeout)
	defer cancel()

	// 检索器不响应 ctx 时放弃等待，迟到的结果写入缓冲通道后被丢弃
	type outcome struct {
		ev  []types.Evidence
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		ev, err := r.Retrieve(callCtx, query, k)
		done <- outcome{ev: ev, err: err}
	}()

	var ev []types.Evidence
	var err error
	select {
	case out := <-done:
		ev, err = out.ev, out.err
	case <-callCtx.Done():
		err = fmt.Errorf("%s retrieval abandoned: %w", name, callCtx.Err())
	}
	if err != nil {
		o.logger.Warn("retrieval source unavailable",
			zap.String("source", name),
			zap.Error(err),
		)
		return nil, types.NewSourceUnavailableError(name, err)
	}
	if ev == nil {
		ev = []types.Evidence{}
	}
	return ev, nil
}

// decompose 子问题并发检索：各自截止时间，兄弟失败互不影响，结果写入各自槽位
func (o *Orchestrator) decompose(ctx context.Context, res *Result, strategy types.Strategy, q types.Question) {
	subs := o.transformer.Decompose(ctx, q)
	res.SubQuestions = subs
	res.SubEvidence = make([][]types.Evidence, len(subs))
	errs := make([]*types.Error, len(subs))

	limit := strategy.SubLimit
	if limit <= 0 {
		limit = strategy.VectorK
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.config.MaxConcurrency)
	for i, sub := range subs {
		g.Go(func() error {
			r, name := o.vectorFirst, "vector"
			if sub.Target == types.StrategyGraph {
				r, name = o.graphFirst, "graph"
			}
			ev, err := o.retrieve(gctx, name, r, sub.Text, limit)
			if err != nil {
				errs[i] = err
				return nil
			}
			for j := range ev {
				ev[j].Provenance.Kind = types.ProvenanceSubQuestion
				ev[j].Provenance.SubQuestion = sub.Index
			}
			res.SubEvidence[i] = ev
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
			res.SourceErrors = append(res.SourceErrors, err)
		}
	}
	if failed == len(subs) && ctx.Err() == nil {
		res.AllFailed = true
		res.SourceErrors = append(res.SourceErrors,
			types.NewError(types.ErrAllRetrievalFailed, "all sub-question retrievals failed"))
		o.logger.Warn("all sub-question retrievals failed", zap.Int("sub_questions", len(subs)))
	}
}
