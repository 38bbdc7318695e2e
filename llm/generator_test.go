package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/counselflow/internal/resilience"
	"github.com/BaSui01/counselflow/types"
)

func TestResilient_RetriesRetryableErrors(t *testing.T) {
	calls := 0
	inner := GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		calls++
		if calls == 1 {
			return "", types.NewError(types.ErrUpstreamError, "503").WithRetryable(true)
		}
		return "ok:" + prompt, nil
	})
	policy := resilience.RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}

	r := NewResilient(inner, policy, nil, nil)
	got, err := r.Generate(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "ok:p", got)
	assert.Equal(t, 2, calls)
}

func TestResilient_EmptyCompletionIsError(t *testing.T) {
	inner := GeneratorFunc(func(context.Context, string) (string, error) { return "   ", nil })
	r := NewResilient(inner, resilience.RetryPolicy{}, nil, nil)

	_, err := r.Generate(context.Background(), "p")
	assert.True(t, errors.Is(err, ErrEmptyCompletion))
}

func TestResilient_OpenBreakerShortCircuits(t *testing.T) {
	calls := 0
	inner := GeneratorFunc(func(context.Context, string) (string, error) {
		calls++
		return "", errors.New("connection refused")
	})
	b := resilience.NewBreaker("llm", resilience.BreakerConfig{Threshold: 1, ResetTimeout: time.Hour}, nil)
	r := NewResilient(inner, resilience.RetryPolicy{}, b, nil)

	_, err := r.Generate(context.Background(), "p")
	require.Error(t, err)
	_, err = r.Generate(context.Background(), "p")
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 1, calls)
}
