package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/counselflow/types"
)

func newTestFAQ(t *testing.T) (*FAQCache, func(time.Duration)) {
	t.Helper()
	mr, manager := setupTestRedis(t)
	return NewFAQCache(manager, FAQConfig{Prefix: "test:faq"}, nil), mr.FastForward
}

func clearAnswer(text string) types.Answer {
	return types.Answer{Text: text, Citations: []string{"kdca.pdf"}}
}

func TestFAQCache_ExactHit(t *testing.T) {
	faq, _ := newTestFAQ(t)
	ctx := context.Background()

	require.NoError(t, faq.Store(ctx, types.Question{Text: "아침 운동은  언제가 좋나요?"}, clearAnswer("식후 30분")))

	// 大小写与空白规范化后命中
	got, ok, err := faq.Lookup(ctx, types.Question{Text: "아침 운동은 언제가 좋나요?"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "식후 30분", got.Text)
	assert.Equal(t, []string{"kdca.pdf"}, got.Citations)
}

func TestFAQCache_SimilarityHit(t *testing.T) {
	faq, _ := newTestFAQ(t)
	ctx := context.Background()

	stored := "혈당 관리를 위한 아침 공복 운동 시간은 언제가 좋을까요"
	require.NoError(t, faq.Store(ctx, types.Question{Text: stored}, clearAnswer("식후 가벼운 걷기")))

	// 9 of 10 tokens shared: 0.9
	got, ok, err := faq.Lookup(ctx, types.Question{Text: stored + " 보통"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "식후 가벼운 걷기", got.Text)

	_, ok, err = faq.Lookup(ctx, types.Question{Text: "수면 시간과 체중의 관계는?"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFAQCache_Expiry(t *testing.T) {
	faq, fastForward := newTestFAQ(t)
	ctx := context.Background()
	q := types.Question{Text: "하루 물 섭취량은?"}

	require.NoError(t, faq.Store(ctx, q, clearAnswer("1.5~2L")))
	fastForward(DefaultFAQTTL + time.Hour)

	_, ok, err := faq.Lookup(ctx, q)
	require.NoError(t, err)
	assert.False(t, ok)

	c, err := faq.manager.client()
	require.NoError(t, err)
	n, err := c.SCard(ctx, faq.indexKey()).Result()
	require.NoError(t, err)
	assert.Zero(t, n, "stale index members are pruned during the scan")
}

func TestFAQCache_RejectsNonClear(t *testing.T) {
	faq, _ := newTestFAQ(t)
	ctx := context.Background()
	q := types.Question{Text: "당뇨 진단 기준은?"}

	answer := clearAnswer("담당 의사와 상담하세요")
	answer.SafetyBanner = &types.SafetyAnnotation{Level: types.SafetyCaution}
	assert.Error(t, faq.Store(ctx, q, answer))

	_, ok, err := faq.Lookup(ctx, q)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFAQCache_Invalidate(t *testing.T) {
	faq, _ := newTestFAQ(t)
	ctx := context.Background()
	q := types.Question{Text: "간식으로 견과류 괜찮나요"}

	require.NoError(t, faq.Store(ctx, q, clearAnswer("한 줌 정도")))
	require.NoError(t, faq.Invalidate(ctx, q))

	_, ok, err := faq.Lookup(ctx, q)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFAQCache_EmptyQuestion(t *testing.T) {
	faq, _ := newTestFAQ(t)
	_, ok, err := faq.Lookup(context.Background(), types.Question{Text: "   "})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestJaccard(t *testing.T) {
	a := tokenSet("a b c d")
	assert.InDelta(t, 1.0, jaccard(a, []string{"a", "b", "c", "d"}), 1e-9)
	assert.InDelta(t, 0.6, jaccard(a, []string{"a", "b", "c", "e"}), 1e-9)
	assert.Zero(t, jaccard(a, nil))
	assert.InDelta(t, 0.25, jaccard(a, []string{"a", "a"}), 1e-9)
}
