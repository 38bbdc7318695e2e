package rag

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/BaSui01/counselflow/types"
)

// FallbackRetriever 主检索失败时切换到备用检索（图检索降级为向量检索）
type FallbackRetriever struct {
	name     string
	primary  Retriever
	fallback Retriever
	logger   *zap.Logger
}

// NewFallbackRetriever wraps primary with fallback.
func NewFallbackRetriever(name string, primary, fallback Retriever, logger *zap.Logger) *FallbackRetriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackRetriever{
		name:     name,
		primary:  primary,
		fallback: fallback,
		logger:   logger.With(zap.String("component", "fallback_retriever"), zap.String("retriever", name)),
	}
}

// Retrieve implements Retriever.
func (f *FallbackRetriever) Retrieve(ctx context.Context, query string, k int) ([]types.Evidence, error) {
	var (
		out []types.Evidence
		err error
	)
	if f.primary != nil {
		out, err = f.primary.Retrieve(ctx, query, k)
		if err == nil {
			return out, nil
		}
	} else {
		err = types.NewSourceUnavailableError(f.name, errors.New("retriever not configured"))
	}
	if ctx.Err() != nil || f.fallback == nil {
		return nil, err
	}

	f.logger.Warn("primary retriever unavailable, using fallback",
		zap.String("code", string(types.ErrRetrievalSourceUnavailable)),
		zap.Error(err),
	)
	out, ferr := f.fallback.Retrieve(ctx, query, k)
	if ferr != nil {
		return nil, types.NewSourceUnavailableError(f.name, ferr)
	}
	for i := range out {
		out[i].Provenance.Fallback = true
	}
	return out, nil
}
