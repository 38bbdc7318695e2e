package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/counselflow/types"
)

func TestFallbackRetriever(t *testing.T) {
	t.Run("primary succeeds", func(t *testing.T) {
		primary, fallback := &stubRetriever{name: "graph"}, &stubRetriever{name: "vector"}
		got, err := NewFallbackRetriever("graph", primary, fallback, nil).Retrieve(context.Background(), "q", 2)
		require.NoError(t, err)
		assert.False(t, got[0].Provenance.Fallback)
		assert.Zero(t, fallback.calls.Load())
	})

	t.Run("fallback marks provenance", func(t *testing.T) {
		primary := &stubRetriever{name: "graph", err: errors.New("down")}
		got, err := NewFallbackRetriever("graph", primary, &stubRetriever{name: "vector"}, nil).Retrieve(context.Background(), "q", 2)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.True(t, got[0].Provenance.Fallback)
		assert.Equal(t, "vector", got[0].Source)
	})

	t.Run("nil primary goes straight to fallback", func(t *testing.T) {
		got, err := NewFallbackRetriever("graph", nil, &stubRetriever{name: "vector"}, nil).Retrieve(context.Background(), "q", 2)
		require.NoError(t, err)
		assert.True(t, got[0].Provenance.Fallback)
	})

	t.Run("both fail", func(t *testing.T) {
		boom := errors.New("down")
		_, err := NewFallbackRetriever("graph", &stubRetriever{err: boom}, &stubRetriever{err: boom}, nil).Retrieve(context.Background(), "q", 2)
		require.Error(t, err)
		assert.True(t, types.IsErrorCode(err, types.ErrRetrievalSourceUnavailable))
	})

	t.Run("cancelled context skips fallback", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		fallback := &stubRetriever{name: "vector"}
		_, err := NewFallbackRetriever("graph", &stubRetriever{err: context.Canceled}, fallback, nil).Retrieve(ctx, "q", 2)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, fallback.calls.Load())
	})
}
