package rag

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/counselflow/types"
)

// stubRetriever returns one evidence item per call, tagged with its name and query.
type stubRetriever struct {
	name  string
	err   error
	delay time.Duration
	calls atomic.Int64

	mu      sync.Mutex
	queries []string
	ks      []int
}

func (s *stubRetriever) Retrieve(ctx context.Context, query string, k int) ([]types.Evidence, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.queries = append(s.queries, query)
	s.ks = append(s.ks, k)
	s.mu.Unlock()
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return []types.Evidence{{
		ID:         s.name + ":" + query,
		Text:       query,
		Source:     s.name,
		Score:      0.5,
		Provenance: types.Provenance{Kind: types.ProvenanceKind(s.name), SubQuestion: -1},
	}}, nil
}

func TestOrchestrator_Vector(t *testing.T) {
	vec, graph := &stubRetriever{name: "vector"}, &stubRetriever{name: "graph"}
	o := NewOrchestrator(vec, graph, nil, DefaultOrchestratorConfig(), nil)

	res, err := o.Execute(context.Background(), types.Strategy{Name: types.StrategyVector, VectorK: 3}, types.Question{Text: "혈당 관리"})
	require.NoError(t, err)
	require.Len(t, res.Vector, 1)
	assert.Nil(t, res.Graph)
	assert.Equal(t, []int{3}, vec.ks)
	assert.Zero(t, graph.calls.Load())
	assert.Len(t, res.Lists(), 1)
}

func TestOrchestrator_VectorFailureIsZeroEvidence(t *testing.T) {
	vec := &stubRetriever{name: "vector", err: errors.New("qdrant down")}
	o := NewOrchestrator(vec, &stubRetriever{name: "graph"}, nil, DefaultOrchestratorConfig(), nil)

	res, err := o.Execute(context.Background(), types.Strategy{Name: types.StrategyVector, VectorK: 3}, types.Question{Text: "q"})
	require.NoError(t, err)
	assert.Empty(t, res.Lists())
	require.Len(t, res.SourceErrors, 1)
	assert.Equal(t, types.ErrRetrievalSourceUnavailable, res.SourceErrors[0].Code)
	assert.Equal(t, "vector", res.SourceErrors[0].Source)
}

func TestOrchestrator_GraphFallsBackToVector(t *testing.T) {
	vec := &stubRetriever{name: "vector"}
	graph := &stubRetriever{name: "graph", err: errors.New("graph offline")}
	o := NewOrchestrator(vec, graph, nil, DefaultOrchestratorConfig(), nil)

	res, err := o.Execute(context.Background(), types.Strategy{Name: types.StrategyGraph, GraphK: 5}, types.Question{Text: "운동과 수면의 관계"})
	require.NoError(t, err)
	require.Len(t, res.Graph, 1)
	assert.True(t, res.Graph[0].Provenance.Fallback)
	assert.Empty(t, res.SourceErrors)
	assert.Equal(t, []int{5}, vec.ks)
}

func TestOrchestrator_Decompose(t *testing.T) {
	vec, graph := &stubRetriever{name: "vector"}, &stubRetriever{name: "graph"}
	o := NewOrchestrator(vec, graph, nil, DefaultOrchestratorConfig(), nil)

	q := types.Question{Text: "아침 운동 시간은? 수면과 혈당의 관계는?"}
	res, err := o.Execute(context.Background(), types.Strategy{Name: types.StrategyDecompose, VectorK: 5, GraphK: 5, SubLimit: 5}, q)
	require.NoError(t, err)
	require.Len(t, res.SubQuestions, 2)
	require.Len(t, res.SubEvidence, 2)
	assert.False(t, res.AllFailed)

	// slot i belongs to sub-question i regardless of completion order
	for i, sub := range res.SubQuestions {
		require.Len(t, res.SubEvidence[i], 1)
		ev := res.SubEvidence[i][0]
		assert.Equal(t, sub.Text, ev.Text)
		assert.Equal(t, types.ProvenanceSubQuestion, ev.Provenance.Kind)
		assert.Equal(t, i, ev.Provenance.SubQuestion)
	}
	assert.Equal(t, "vector", res.SubEvidence[0][0].Source)
	assert.Equal(t, "graph", res.SubEvidence[1][0].Source)
}

func TestOrchestrator_DecomposePartialFailure(t *testing.T) {
	vec := &stubRetriever{name: "vector"}
	graph := &stubRetriever{name: "graph", delay: time.Second}
	cfg := DefaultOrchestratorConfig()
	cfg.CallTimeout = 50 * time.Millisecond
	// the graph sub-question would fall back to vector; remove the fallback
	o := NewOrchestrator(vec, graph, nil, cfg, nil)
	o.graphFirst = NewFallbackRetriever("graph", graph, nil, nil)

	q := types.Question{Text: "아침 운동 시간은? 수면과 혈당의 관계는?"}
	res, err := o.Execute(context.Background(), types.Strategy{Name: types.StrategyDecompose, SubLimit: 5}, q)
	require.NoError(t, err)
	assert.False(t, res.AllFailed)
	assert.NotNil(t, res.SubEvidence[0])
	assert.Nil(t, res.SubEvidence[1])
	require.Len(t, res.SourceErrors, 1)
	assert.Less(t, res.Elapsed, time.Second, "per-call deadline bounds the slow sibling")
}

func TestOrchestrator_DecomposeAllFailed(t *testing.T) {
	boom := errors.New("boom")
	o := NewOrchestrator(&stubRetriever{name: "vector", err: boom}, &stubRetriever{name: "graph", err: boom}, nil, DefaultOrchestratorConfig(), nil)

	res, err := o.Execute(context.Background(), types.Strategy{Name: types.StrategyDecompose, SubLimit: 5}, types.Question{Text: "a? b? c?"})
	require.NoError(t, err)
	assert.True(t, res.AllFailed)
	assert.Empty(t, res.Lists())
	last := res.SourceErrors[len(res.SourceErrors)-1]
	assert.Equal(t, types.ErrAllRetrievalFailed, last.Code)
}

func TestOrchestrator_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := NewOrchestrator(&stubRetriever{name: "vector", delay: time.Second}, nil, nil, DefaultOrchestratorConfig(), nil)

	_, err := o.Execute(ctx, types.Strategy{Name: types.StrategyVector, VectorK: 3}, types.Question{Text: "q"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOrchestrator_UnknownStrategy(t *testing.T) {
	o := NewOrchestrator(nil, nil, nil, DefaultOrchestratorConfig(), nil)
	_, err := o.Execute(context.Background(), types.Strategy{Name: "bm25"}, types.Question{Text: "q"})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestOrchestrator_DecomposeRespectsConcurrencyLimit(t *testing.T) {
	var inFlight, peak atomic.Int64
	r := RetrieverFunc(func(ctx context.Context, query string, k int) ([]types.Evidence, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return []types.Evidence{{Source: query}}, nil
	})
	cfg := DefaultOrchestratorConfig()
	cfg.MaxConcurrency = 1
	tcfg := DefaultQueryTransformConfig()
	tcfg.MaxSubQuestions = 4
	o := NewOrchestrator(r, r, NewQueryTransformer(tcfg, nil, nil), cfg, nil)

	res, err := o.Execute(context.Background(), types.Strategy{Name: types.StrategyDecompose, SubLimit: 2}, types.Question{Text: "a? b? c? d?"})
	require.NoError(t, err)
	assert.Len(t, res.SubQuestions, 4)
	assert.Equal(t, int64(1), peak.Load())
}

// stuckRetriever never looks at ctx; queries with the ok prefix answer at once.
func stuckRetriever(block time.Duration, ok string) RetrieverFunc {
	return func(_ context.Context, query string, k int) ([]types.Evidence, error) {
		if ok != "" && strings.HasPrefix(query, ok) {
			return []types.Evidence{{ID: query, Text: query, Source: "vector", Score: 0.8}}, nil
		}
		time.Sleep(block)
		return []types.Evidence{{ID: "late", Text: "late", Source: "late", Score: 1}}, nil
	}
}

func TestOrchestrator_DeadlineAbandonsUnresponsiveRetriever(t *testing.T) {
	cfg := DefaultOrchestratorConfig()
	cfg.CallTimeout = 50 * time.Millisecond
	o := NewOrchestrator(stuckRetriever(2*time.Second, ""), nil, nil, cfg, nil)

	start := time.Now()
	res, err := o.Execute(context.Background(), types.Strategy{Name: types.StrategyVector, VectorK: 3}, types.Question{Text: "q"})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Empty(t, res.Lists(), "late results are discarded")
	require.Len(t, res.SourceErrors, 1)
	assert.Equal(t, types.ErrRetrievalSourceUnavailable, res.SourceErrors[0].Code)
	assert.ErrorIs(t, res.SourceErrors[0], context.DeadlineExceeded)
}

func TestOrchestrator_DecomposeCallerCancelReleasesUnresponsiveRetrievers(t *testing.T) {
	cfg := DefaultOrchestratorConfig()
	cfg.CallTimeout = 10 * time.Second
	o := NewOrchestrator(stuckRetriever(2*time.Second, ""), nil, nil, cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := o.Execute(ctx, types.Strategy{Name: types.StrategyDecompose, SubLimit: 5}, types.Question{Text: "a? b? c?"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestOrchestrator_DecomposeThreeOfFourTimeOut(t *testing.T) {
	cfg := DefaultOrchestratorConfig()
	cfg.CallTimeout = 50 * time.Millisecond
	o := NewOrchestrator(stuckRetriever(2*time.Second, "a"), nil, nil, cfg, nil)

	start := time.Now()
	res, err := o.Execute(context.Background(), types.Strategy{Name: types.StrategyDecompose, SubLimit: 5}, types.Question{Text: "a? b? c? d?"})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	require.Len(t, res.SubQuestions, 4)
	assert.False(t, res.AllFailed)
	assert.Len(t, res.SourceErrors, 3)
	require.NotNil(t, res.SubEvidence[0])
	assert.Equal(t, 0, res.SubEvidence[0][0].Provenance.SubQuestion)
	for _, sub := range res.SubEvidence[1:] {
		assert.Nil(t, sub)
	}
}

func TestOrchestrator_VectorOutageCallsEachSourceOncePerSubQuestion(t *testing.T) {
	vec := &stubRetriever{name: "vector", err: errors.New("qdrant down")}
	o := NewOrchestrator(vec, nil, nil, DefaultOrchestratorConfig(), nil)

	res, err := o.Execute(context.Background(), types.Strategy{Name: types.StrategyDecompose, SubLimit: 5}, types.Question{Text: "a? b? c?"})
	require.NoError(t, err)
	require.Len(t, res.SubQuestions, 3)
	assert.True(t, res.AllFailed)
	assert.Equal(t, int64(3), vec.calls.Load())
}
